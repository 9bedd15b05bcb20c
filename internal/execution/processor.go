package execution

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/clock"
	"github.com/tathienbao/fillsim/internal/marketdata"
	"github.com/tathienbao/fillsim/internal/types"
)

// Processor simulates one working order. It listens to its instrument,
// decides when and at what price the order fills, and emits reports.
//
// The order is held as a private copy. Fill accounting advances here under
// mu and is published only through reports.
type Processor struct {
	sim      *Simulator
	inst     *marketdata.Instrument
	order    types.Order
	fillMode types.FillMode
	logger   *slog.Logger

	mu        sync.Mutex
	executed  bool // Terminal; no further reports
	trig      triggerState
	lastQuote types.Quote
	subID     marketdata.SubscriptionID
	timerID   clock.TimerID

	cumQty    decimal.Decimal
	leavesQty decimal.Decimal
	avgPx     decimal.Decimal
}

func newProcessor(sim *Simulator, order types.Order) *Processor {
	mode := order.FillMode
	if mode == types.FillModeDefault {
		mode = sim.cfg.BarFillMode
	}

	return &Processor{
		sim:       sim,
		inst:      sim.instruments.Instrument(order.Symbol),
		order:     order,
		fillMode:  mode,
		logger:    sim.logger.With("cl_ord_id", order.ClOrdID, "symbol", order.Symbol),
		trig:      triggerState{armed: order.StopLimitArmed},
		cumQty:    order.CumQty,
		leavesQty: order.Qty.Sub(order.CumQty),
		avgPx:     order.AvgPx,
	}
}

// start registers the processor, tries to fill against the market state
// already known and, if still working, subscribes to market data.
func (p *Processor) start() error {
	if p.order.Type == types.OrdTypeTrailingStop {
		if _, err := p.order.Side.Direction(); err != nil {
			return fmt.Errorf("trailing stop: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sim.register(p)

	if err := p.initialAttemptLocked(); err != nil {
		p.closeLocked()
		return err
	}
	if p.executed {
		return nil
	}

	p.subID = p.inst.Subscribe(p, p.feeds())
	if p.order.TimeInForce.RequiresExpiry() {
		p.timerID = p.sim.clock.Schedule(p.order.ExpireTime, p.onExpire)
	}
	return nil
}

func (p *Processor) initialAttemptLocked() error {
	cfg := p.sim.cfg

	if p.order.Type == types.OrdTypeMarket {
		if cfg.FillOnQuote && cfg.QuoteFillMode == QuoteFillLast {
			if q, ok := p.inst.Quote(); ok {
				p.lastQuote = q
				if err := p.processLocked(tick{quote: &q}); err != nil {
					return err
				}
			}
		}
		if cfg.FillOnTrade && cfg.TradeFillMode == TradeFillLast {
			if t, ok := p.inst.Trade(); ok {
				if err := p.processLocked(tick{trade: &t}); err != nil {
					return err
				}
			}
		}
		if cfg.FillOnBar && (p.fillMode == types.FillModeLastBarClose || p.order.ForceMarket) {
			if b, ok := p.inst.Bar(); ok && cfg.BarFilter.Contains(b.Type, b.Size) {
				if err := p.processLocked(tick{bar: &b}); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if cfg.FillOnQuote {
		if q, ok := p.inst.Quote(); ok {
			p.lastQuote = q
			if err := p.processLocked(tick{quote: &q}); err != nil {
				return err
			}
		}
	}
	if cfg.FillOnTrade {
		if t, ok := p.inst.Trade(); ok {
			if err := p.processLocked(tick{trade: &t}); err != nil {
				return err
			}
		}
	}
	if cfg.FillOnBar {
		if b, ok := p.inst.Bar(); ok && cfg.BarFilter.Contains(b.Type, b.Size) && !b.Close.IsZero() {
			return p.evaluatePriceLocked(b.Close, p.leavesQty)
		}
	}
	return nil
}

// feeds returns the market data streams this order reacts to.
func (p *Processor) feeds() marketdata.Feed {
	cfg := p.sim.cfg

	var feeds marketdata.Feed
	if cfg.FillOnQuote {
		feeds |= marketdata.FeedQuote
	}
	if cfg.FillOnTrade {
		feeds |= marketdata.FeedTrade
	}
	if cfg.FillOnBar {
		switch {
		case p.order.ForceMarket:
			feeds |= marketdata.FeedBar | marketdata.FeedBarOpen
		case p.order.Type == types.OrdTypeMarket:
			switch p.fillMode {
			case types.FillModeLastBarClose, types.FillModeNextBarClose:
				feeds |= marketdata.FeedBar
			case types.FillModeNextBarOpen:
				feeds |= marketdata.FeedBarOpen
			}
		default:
			feeds |= marketdata.FeedBar | marketdata.FeedBarOpen
		}
	}
	return feeds
}

// OnQuote implements marketdata.Listener. Quotes that leave the side of the
// book this order trades against unchanged are ignored.
func (p *Processor) OnQuote(q types.Quote) error {
	p.mu.Lock()
	err := p.onQuoteLocked(q)
	p.mu.Unlock()

	p.afterEvent(err)
	return err
}

func (p *Processor) onQuoteLocked(q types.Quote) error {
	if p.executed {
		return nil
	}
	dir, err := p.order.Side.Direction()
	if err != nil {
		return err
	}

	prev := p.lastQuote
	p.lastQuote = q

	var changed bool
	if dir == types.DirectionBuy {
		changed = !q.Ask.Equal(prev.Ask) || !q.AskSize.Equal(prev.AskSize)
	} else {
		changed = !q.Bid.Equal(prev.Bid) || !q.BidSize.Equal(prev.BidSize)
	}
	if !changed {
		return nil
	}
	return p.processLocked(tick{quote: &q})
}

// OnTrade implements marketdata.Listener.
func (p *Processor) OnTrade(t types.Trade) error {
	p.mu.Lock()
	err := p.processLocked(tick{trade: &t})
	p.mu.Unlock()

	p.afterEvent(err)
	return err
}

// OnBar implements marketdata.Listener. Market orders take a price from the
// bar; other orders are checked against the bar's full range.
func (p *Processor) OnBar(b types.Bar) error {
	if !p.sim.cfg.BarFilter.Contains(b.Type, b.Size) {
		return nil
	}

	p.mu.Lock()
	var err error
	switch {
	case p.order.Type == types.OrdTypeMarket:
		err = p.processLocked(tick{bar: &b})
	case p.sim.cfg.FillOnBar:
		err = p.evaluateBarLocked(b)
	}
	p.mu.Unlock()

	p.afterEvent(err)
	return err
}

// OnBarOpen implements marketdata.Listener. Non-market orders are checked
// against the opening price.
func (p *Processor) OnBarOpen(b types.Bar) error {
	if !p.sim.cfg.BarFilter.Contains(b.Type, b.Size) {
		return nil
	}

	p.mu.Lock()
	var err error
	switch {
	case p.order.Type == types.OrdTypeMarket:
		err = p.processLocked(tick{bar: &b})
	case p.sim.cfg.FillOnBar && !b.Open.IsZero():
		err = p.evaluatePriceLocked(b.Open, p.leavesQty)
	}
	p.mu.Unlock()

	p.afterEvent(err)
	return err
}

func (p *Processor) afterEvent(err error) {
	if err != nil {
		p.sim.onEvaluationError(p.order.ClOrdID, err)
	}
	p.sim.flush()
}

// working reports whether the order may still be evaluated. The order's
// status is checked once at Send; p.order is never updated afterwards.
func (p *Processor) workingLocked() bool {
	return !p.executed
}

// processLocked resolves a price and quantity from a tick and applies the
// trigger rules at that price.
func (p *Processor) processLocked(t tick) error {
	if !p.workingLocked() {
		return nil
	}
	dir, err := p.order.Side.Direction()
	if err != nil {
		return err
	}

	price := resolvePrice(p.sim.cfg, &p.order, p.fillMode, dir, t)
	if price.IsZero() {
		return nil
	}
	qty := resolveQty(p.sim.cfg, dir, p.leavesQty, t)

	if p.order.Type == types.OrdTypeMarket {
		p.executeLocked(price, qty)
		return nil
	}
	return p.evaluatePriceLocked(price, qty)
}

func (p *Processor) terms() (orderTerms, error) {
	dir, err := p.order.Side.Direction()
	if err != nil {
		return orderTerms{}, err
	}
	return orderTerms{
		ordType: p.order.Type,
		dir:     dir,
		price:   p.order.Price,
		stopPx:  p.order.StopPx,
	}, nil
}

// evaluatePriceLocked applies the trigger rules to a single price.
func (p *Processor) evaluatePriceLocked(price, qty decimal.Decimal) error {
	if !p.workingLocked() {
		return nil
	}
	terms, err := p.terms()
	if err != nil {
		return err
	}

	next, fill, err := evaluatePoint(terms, p.trig, price)
	if err != nil {
		return err
	}
	p.setTrigLocked(next)

	if fill {
		p.executeLocked(price, qty)
	}
	return nil
}

// evaluateBarLocked applies the trigger rules to a bar's range. A bar fill
// takes the whole remaining quantity.
func (p *Processor) evaluateBarLocked(b types.Bar) error {
	if !p.workingLocked() {
		return nil
	}
	terms, err := p.terms()
	if err != nil {
		return err
	}

	next, price, fill, err := evaluateBar(terms, p.trig, b)
	if err != nil {
		return err
	}
	p.setTrigLocked(next)

	if fill {
		p.executeLocked(price, p.leavesQty)
	}
	return nil
}

func (p *Processor) setTrigLocked(next triggerState) {
	if next.armed && !p.trig.armed {
		p.logger.Debug("stop limit armed", "stop_px", p.order.StopPx.String())
	}
	p.trig = next
}

// executeLocked emits a fill of qty at price. Quantities below leaves give a
// partial fill; anything else fills the remainder and ends the order.
func (p *Processor) executeLocked(price, qty decimal.Decimal) {
	if p.executed || !qty.IsPositive() {
		return
	}

	r := p.reportLocked()
	r.LastPx = price

	if qty.LessThan(p.leavesQty) {
		r.ExecType = types.ExecTypePartialFill
		r.OrdStatus = types.OrdStatusPartiallyFilled
	} else {
		qty = p.leavesQty
		r.ExecType = types.ExecTypeFill
		r.OrdStatus = types.OrdStatusFilled
		p.closeLocked()
	}

	cum := p.cumQty.Add(qty)
	r.LastQty = qty
	r.CumQty = cum
	r.LeavesQty = p.leavesQty.Sub(qty)
	r.AvgPx = p.avgPx.Mul(p.cumQty).Add(price.Mul(qty)).Div(cum)

	commission, slippage := p.sim.providers()
	comm := commission.CommissionData(r)
	r.CommType = comm.Type
	r.Commission = comm.Amount
	r.AvgPx = slippage.ExecutionPrice(r)

	p.cumQty, p.leavesQty, p.avgPx = r.CumQty, r.LeavesQty, r.AvgPx
	p.sim.enqueue(r)

	p.logger.Debug("order fill",
		"exec_type", r.ExecType.String(),
		"last_px", price.String(),
		"last_qty", qty.String(),
		"leaves", r.LeavesQty.String(),
	)
}

// cancel ends the order with a Cancelled report. No-op once terminal.
func (p *Processor) cancel(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.executed {
		return
	}
	p.closeLocked()

	r := p.reportLocked()
	r.ExecType = types.ExecTypeCancelled
	r.OrdStatus = types.OrdStatusCancelled
	r.OrigClOrdID = p.order.ClOrdID
	p.sim.enqueue(r)

	p.logger.Debug("order cancelled", "reason", reason)
}

func (p *Processor) onExpire(now time.Time) {
	p.mu.Lock()
	p.timerID = 0 // Fired; nothing to cancel
	p.mu.Unlock()

	p.logger.Debug("order expired", "at", now)
	p.cancel("expired")
	p.sim.flush()
}

// replace ends the order with a Replace report and returns the order to start
// in its place. check vets the replacement first; if it fails the original
// keeps working. A nil order means the original was already terminal.
func (p *Processor) replace(req types.ReplaceRequest, check func(types.Order) error) (*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.executed {
		return nil, nil
	}

	current := p.order
	current.CumQty = p.cumQty
	current.AvgPx = p.avgPx
	current.StopLimitArmed = p.trig.armed
	next := current.Replacement(req)
	if err := check(*next); err != nil {
		return nil, err
	}
	p.closeLocked()

	r := p.reportLocked()
	r.ExecType = types.ExecTypeReplace
	r.OrdStatus = types.OrdStatusReplaced
	r.ClOrdID = req.ClOrdID
	r.OrigClOrdID = req.OrigClOrdID
	r.OrdType = req.Type
	r.OrderQty = req.Qty
	r.LeavesQty = req.Qty.Sub(p.cumQty)
	r.Price = req.Price
	r.StopPx = req.StopPx
	r.TimeInForce = req.TimeInForce
	p.sim.enqueue(r)

	p.logger.Debug("order replaced", "new_cl_ord_id", req.ClOrdID)
	return next, nil
}

// abandon ends a replacement order that failed to start. The Replace report
// already named it, so it gets a Cancelled report unless it filled.
func (p *Processor) abandon(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeLocked()
	if !p.leavesQty.IsPositive() {
		return
	}

	r := p.reportLocked()
	r.ExecType = types.ExecTypeCancelled
	r.OrdStatus = types.OrdStatusCancelled
	r.OrigClOrdID = p.order.ClOrdID
	r.Text = reason
	p.sim.enqueue(r)

	p.logger.Warn("replacement abandoned", "reason", reason)
}

// closeLocked disconnects from market data and the clock and leaves the
// active table. Idempotent.
func (p *Processor) closeLocked() {
	p.executed = true
	if p.subID != 0 {
		p.inst.Unsubscribe(p.subID)
		p.subID = 0
	}
	if p.timerID != 0 {
		p.sim.clock.Cancel(p.timerID)
		p.timerID = 0
	}
	p.sim.deregister(p.order.ClOrdID, p)
}

// reportLocked returns a report carrying the order's terms and current
// accounting.
func (p *Processor) reportLocked() types.ExecutionReport {
	return types.ExecutionReport{
		ExecID:       uuid.NewString(),
		TransactTime: p.sim.clock.Now(),
		ClOrdID:      p.order.ClOrdID,
		Symbol:       p.order.Symbol,
		Side:         p.order.Side,
		OrdType:      p.order.Type,
		AvgPx:        p.avgPx,
		OrderQty:     p.order.Qty,
		CumQty:       p.cumQty,
		LeavesQty:    p.leavesQty,
		Price:        p.order.Price,
		StopPx:       p.order.StopPx,
		Currency:     p.order.Currency,
		Text:         p.order.Text,
		TimeInForce:  p.order.TimeInForce,
	}
}
