package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/alerting"
	"github.com/tathienbao/fillsim/internal/clock"
	"github.com/tathienbao/fillsim/internal/execution"
	"github.com/tathienbao/fillsim/internal/marketdata"
	"github.com/tathienbao/fillsim/internal/metrics"
	"github.com/tathienbao/fillsim/internal/stop"
	"github.com/tathienbao/fillsim/internal/types"
)

// RuntimeConfig sizes strategy orders and describes the stops attached to
// every new position.
type RuntimeConfig struct {
	Quantity  decimal.Decimal
	FillMode  types.FillMode // Bar fill mode for runtime orders
	Stop      *stop.Config   // Price stop per position; nil for none
	TimeLimit time.Duration  // Time stop after entry; zero for none
}

// Stats summarises a runtime's trading.
type Stats struct {
	RealizedPL    decimal.Decimal // Net of commission
	Commission    decimal.Decimal
	ClosedTrades  int
	StopsExecuted int
	StopsCanceled int
	Rejected      int
}

// Trade is a closed position.
type Trade struct {
	PositionID string
	Symbol     string
	Side       types.PositionSide
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal // Price of the fill that flattened the position
	EntryTime  time.Time
	ExitTime   time.Time
	GrossPL    decimal.Decimal
	Commission decimal.Decimal
	NetPL      decimal.Decimal
}

// Runtime owns the orders, positions and stops of one strategy. It consumes
// the simulator's execution reports and implements stop.Strategy.
type Runtime struct {
	cfg         RuntimeConfig
	strategy    Strategy
	exec        execution.Executor
	instruments *marketdata.Registry
	clock       clock.Scheduler
	logger      *slog.Logger
	alerter     alerting.Alerter
	recorder    *metrics.Recorder

	mu        sync.Mutex
	orders    map[string]*types.Order
	positions map[string]*types.Position
	closing   map[string]string // Symbol to id of the working close order
	stops     map[string]*stop.Stop
	trades    []Trade
	stats     Stats
}

// NewRuntime creates a runtime that sends orders to exec. The caller wires
// OnExecutionReport as the simulator's report handler.
func NewRuntime(cfg RuntimeConfig, s Strategy, exec execution.Executor, instruments *marketdata.Registry, clk clock.Scheduler, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Quantity.IsZero() {
		cfg.Quantity = decimal.NewFromInt(1)
	}
	return &Runtime{
		cfg:         cfg,
		strategy:    s,
		exec:        exec,
		instruments: instruments,
		clock:       clk,
		logger:      logger.With("strategy", s.Name()),
		orders:      make(map[string]*types.Order),
		positions:   make(map[string]*types.Position),
		closing:     make(map[string]string),
		stops:       make(map[string]*stop.Stop),
	}
}

// SetAlerter sets the alerter for stop and position notifications.
func (r *Runtime) SetAlerter(a alerting.Alerter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerter = a
}

// SetRecorder sets the metrics recorder.
func (r *Runtime) SetRecorder(rec *metrics.Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// OnBar runs the strategy on a completed bar and acts on its signals.
// Order rejections are logged and alerted; only context errors are returned.
func (r *Runtime) OnBar(ctx context.Context, symbol string, bar types.Bar) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := metrics.NewTimer()
	signals := r.strategy.OnBar(ctx, symbol, bar)
	r.getRecorder().RecordStrategyLatency(r.strategy.Name(), timer.Elapsed())

	for _, sig := range signals {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.act(ctx, sig)
	}
	return nil
}

func (r *Runtime) act(ctx context.Context, sig Signal) {
	pos, open := r.Position(sig.Symbol)

	var err error
	switch {
	case sig.Direction == types.PositionFlat:
		if open {
			err = r.ClosePosition(sig.Symbol, decimal.Zero, r.strategy.Name(), sig.Reason)
		}
	case open && pos.Side == sig.Direction:
		r.logger.Debug("signal ignored, already positioned", "symbol", sig.Symbol, "side", pos.Side.String())
	default:
		qty := r.cfg.Quantity
		if open {
			qty = qty.Add(pos.Qty) // Reverse through flat
		}
		_, err = r.Submit(sig.Symbol, sig.Direction.OpenSide(), qty, sig.Reason)
	}

	if err != nil {
		r.logger.Warn("signal not executed", "signal_id", sig.ID, "reason", sig.Reason, "error", err)
		_ = alerting.Send(ctx, r.getAlerter(), alerting.EventOrderRejected, "order rejected",
			"symbol", sig.Symbol, "error", err.Error())
	}
}

// Submit sends a market order for the runtime.
func (r *Runtime) Submit(symbol string, side types.Side, qty decimal.Decimal, text string) (*types.Order, error) {
	o := types.NewOrder(uuid.NewString(), symbol, side, types.OrdTypeMarket, qty)
	o.FillMode = r.cfg.FillMode
	o.StrategyComponent = r.strategy.Name()
	o.Text = text
	return o, r.send(o, "")
}

// send tracks o and hands it to the executor. A non-empty closeFor marks o as
// the close order of that symbol.
func (r *Runtime) send(o *types.Order, closeFor string) error {
	r.mu.Lock()
	r.orders[o.ClOrdID] = o
	if closeFor != "" {
		r.closing[closeFor] = o.ClOrdID
	}
	r.mu.Unlock()

	// Reports may arrive before Send returns.
	if err := r.exec.Send(o); err != nil {
		r.mu.Lock()
		delete(r.orders, o.ClOrdID)
		if closeFor != "" && r.closing[closeFor] == o.ClOrdID {
			delete(r.closing, closeFor)
		}
		r.stats.Rejected++
		r.mu.Unlock()
		return fmt.Errorf("send %s: %w", o.ClOrdID, err)
	}
	return nil
}

// ClosePosition implements stop.Strategy. It sends a market order for the
// whole position tagged with component and text; price is the fill price
// pinned for stop-originated bar fills. A second call while a close order is
// working is a no-op.
func (r *Runtime) ClosePosition(symbol string, price decimal.Decimal, component, text string) error {
	r.mu.Lock()
	pos, ok := r.positions[symbol]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrPositionNotFound, symbol)
	}
	if id, working := r.closing[symbol]; working {
		r.mu.Unlock()
		r.logger.Debug("close already working", "symbol", symbol, "cl_ord_id", id)
		return nil
	}
	o := types.NewOrder(uuid.NewString(), symbol, pos.Side.CloseSide(), types.OrdTypeMarket, pos.Qty)
	r.mu.Unlock()

	o.FillMode = r.cfg.FillMode
	o.StrategyComponent = component
	o.StrategyPrice = price
	o.Text = text

	r.logger.Debug("closing position", "symbol", symbol, "component", component, "price", price.String())
	return r.send(o, symbol)
}

// OnExecutionReport consumes a simulator report. It is the simulator's
// report handler.
func (r *Runtime) OnExecutionReport(rep types.ExecutionReport) {
	r.mu.Lock()
	key := rep.ClOrdID
	if rep.ExecType == types.ExecTypeReplace {
		key = rep.OrigClOrdID
	}
	o, ok := r.orders[key]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("report for unknown order", "cl_ord_id", rep.ClOrdID)
		return
	}
	if key != rep.ClOrdID {
		delete(r.orders, key)
		r.orders[rep.ClOrdID] = o
		for sym, id := range r.closing {
			if id == key {
				r.closing[sym] = rep.ClOrdID
			}
		}
	}

	var opened, closed *types.Position
	if rep.LastQty.IsPositive() {
		// Slippage lands in AvgPx; recover this fill's share of it.
		px := rep.AvgPx.Mul(rep.CumQty).Sub(o.AvgPx.Mul(o.CumQty)).Div(rep.LastQty)
		opened, closed = r.applyFillLocked(rep, px)
	}

	o.Apply(rep)
	if o.Status.IsFinal() {
		delete(r.orders, rep.ClOrdID)
		if r.closing[rep.Symbol] == rep.ClOrdID {
			delete(r.closing, rep.Symbol)
		}
	}
	r.mu.Unlock()

	if closed != nil {
		r.onPositionClosed(closed)
	}
	if opened != nil {
		r.onPositionOpened(opened)
	}
}

// applyFillLocked books a fill against the symbol's position and returns
// copies of any position it opened or closed. A fill larger than an
// opposite position closes it and opens the remainder the other way.
func (r *Runtime) applyFillLocked(rep types.ExecutionReport, px decimal.Decimal) (opened, closed *types.Position) {
	dir, err := rep.Side.Direction()
	if err != nil {
		r.logger.Error("fill with unknown side", "cl_ord_id", rep.ClOrdID, "error", err)
		return nil, nil
	}
	side := types.PositionLong
	if dir == types.DirectionSell {
		side = types.PositionShort
	}

	pointValue := decimal.NewFromInt(1)
	if spec, ok := types.GetInstrumentSpec(rep.Symbol); ok {
		pointValue = spec.PointValue
	}

	r.stats.Commission = r.stats.Commission.Add(rep.Commission)
	r.stats.RealizedPL = r.stats.RealizedPL.Sub(rep.Commission)

	qty := rep.LastQty
	commission := rep.Commission
	pos, ok := r.positions[rep.Symbol]

	switch {
	case !ok:
	case pos.Side == side:
		total := pos.Qty.Add(qty)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Qty).Add(px.Mul(qty)).Div(total)
		pos.Qty = total
		pos.Commission = pos.Commission.Add(commission)
		return nil, nil
	default:
		// A reversing fill charges its whole commission to the closed side.
		pos.Commission = pos.Commission.Add(commission)
		commission = decimal.Zero
		reduce := decimal.Min(qty, pos.Qty)
		pnl := px.Sub(pos.EntryPrice).Mul(reduce).Mul(pointValue)
		if pos.Side == types.PositionShort {
			pnl = pnl.Neg()
		}
		pos.RealizedPL = pos.RealizedPL.Add(pnl)
		pos.Qty = pos.Qty.Sub(reduce)
		r.stats.RealizedPL = r.stats.RealizedPL.Add(pnl)
		qty = qty.Sub(reduce)

		if pos.Qty.IsZero() {
			delete(r.positions, rep.Symbol)
			r.stats.ClosedTrades++
			r.trades = append(r.trades, Trade{
				PositionID: pos.ID,
				Symbol:     pos.Symbol,
				Side:       pos.Side,
				EntryPrice: pos.EntryPrice,
				ExitPrice:  px,
				EntryTime:  pos.EntryTime,
				ExitTime:   rep.TransactTime,
				GrossPL:    pos.RealizedPL,
				Commission: pos.Commission,
				NetPL:      pos.RealizedPL.Sub(pos.Commission),
			})
			c := *pos
			closed = &c
		}
		if !qty.IsPositive() {
			return nil, closed
		}
	}

	pos = &types.Position{
		ID:         uuid.NewString(),
		Symbol:     rep.Symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: px,
		EntryTime:  rep.TransactTime,
		Commission: commission,
	}
	r.positions[rep.Symbol] = pos
	o := *pos
	return &o, closed
}

// onPositionOpened attaches the configured stops. Called without mu.
func (r *Runtime) onPositionOpened(pos *types.Position) {
	r.logger.Info("position opened",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"side", pos.Side.String(),
		"qty", pos.Qty.String(),
		"price", pos.EntryPrice.String(),
	)
	_ = alerting.Send(context.Background(), r.getAlerter(), alerting.EventPositionOpened, "position opened",
		"symbol", pos.Symbol, "side", pos.Side.String(), "qty", pos.Qty.String(), "price", pos.EntryPrice.String())

	inst := r.instruments.Instrument(pos.Symbol)
	if r.cfg.Stop != nil {
		if _, err := stop.New(r, inst, pos, *r.cfg.Stop, r.clock, r.logger); err != nil {
			r.logger.Error("attach stop failed", "position_id", pos.ID, "error", err)
		}
	}
	if r.cfg.TimeLimit > 0 {
		at := r.clock.Now().Add(r.cfg.TimeLimit)
		if _, err := stop.NewTimeStop(r, inst, pos, at, r.clock, r.logger); err != nil {
			r.logger.Error("attach time stop failed", "position_id", pos.ID, "error", err)
		}
	}
}

// onPositionClosed tells the position's stops. Called without mu.
func (r *Runtime) onPositionClosed(pos *types.Position) {
	r.logger.Info("position closed",
		"position_id", pos.ID,
		"symbol", pos.Symbol,
		"realized_pl", pos.RealizedPL.String(),
	)
	_ = alerting.Send(context.Background(), r.getAlerter(), alerting.EventPositionClosed, "position closed",
		"symbol", pos.Symbol, "realized_pl", pos.RealizedPL.String())

	r.mu.Lock()
	var bound []*stop.Stop
	for _, s := range r.stops {
		if s.PositionID() == pos.ID {
			bound = append(bound, s)
		}
	}
	r.mu.Unlock()

	for _, s := range bound {
		s.OnPositionClosed(pos)
	}
}

// AddStop implements stop.Strategy.
func (r *Runtime) AddStop(s *stop.Stop) {
	r.mu.Lock()
	r.stops[s.ID()] = s
	rec := r.recorder
	r.mu.Unlock()

	rec.RecordStopArmed()
}

// EmitStopStatusChanged implements stop.Strategy.
func (r *Runtime) EmitStopStatusChanged(s *stop.Stop) {
	status := s.Status()

	r.mu.Lock()
	delete(r.stops, s.ID())
	event := alerting.EventStopCanceled
	if status == stop.StatusExecuted {
		r.stats.StopsExecuted++
		event = alerting.EventStopExecuted
	} else {
		r.stats.StopsCanceled++
	}
	rec, a := r.recorder, r.alerter
	r.mu.Unlock()

	rec.RecordStopCompleted(s.Type().String(), status.String())
	_ = alerting.Send(context.Background(), a, event, "stop "+status.String(),
		"stop_id", s.ID(),
		"symbol", s.Symbol(),
		"type", s.Type().String(),
		"stop_price", s.StopPrice().String(),
	)
}

// Position returns a copy of the open position on symbol.
func (r *Runtime) Position(symbol string) (types.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos, ok := r.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Stops returns the active stops ordered by id.
func (r *Runtime) Stops() []*stop.Stop {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stop.Stop, 0, len(r.stops))
	for _, s := range r.stops {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// OpenOrders returns the number of tracked working orders.
func (r *Runtime) OpenOrders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// Stats returns a snapshot of the runtime's results.
func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Trades returns the closed positions in close order.
func (r *Runtime) Trades() []Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trade(nil), r.trades...)
}

// Name returns the strategy name.
func (r *Runtime) Name() string {
	return r.strategy.Name()
}

func (r *Runtime) getAlerter() alerting.Alerter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alerter
}

func (r *Runtime) getRecorder() *metrics.Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorder
}
