package execution

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tathienbao/fillsim/internal/clock"
	"github.com/tathienbao/fillsim/internal/marketdata"
	"github.com/tathienbao/fillsim/internal/metrics"
	"github.com/tathienbao/fillsim/internal/types"
)

// QuoteFillMode selects whether a new market order may fill against the
// quote already on the book.
type QuoteFillMode int

const (
	QuoteFillLast QuoteFillMode = iota // Try the last quote on submission
	QuoteFillNext                      // Wait for the next quote
)

// TradeFillMode selects whether a new market order may fill against the
// last trade print.
type TradeFillMode int

const (
	TradeFillLast TradeFillMode = iota
	TradeFillNext
)

// ParseQuoteFillMode parses "last" or "next".
func ParseQuoteFillMode(s string) (QuoteFillMode, error) {
	switch strings.ToLower(s) {
	case "last", "":
		return QuoteFillLast, nil
	case "next":
		return QuoteFillNext, nil
	default:
		return QuoteFillLast, fmt.Errorf("unknown quote fill mode: %q", s)
	}
}

// ParseTradeFillMode parses "last" or "next".
func ParseTradeFillMode(s string) (TradeFillMode, error) {
	switch strings.ToLower(s) {
	case "last", "":
		return TradeFillLast, nil
	case "next":
		return TradeFillNext, nil
	default:
		return TradeFillLast, fmt.Errorf("unknown trade fill mode: %q", s)
	}
}

// SimulatedConfig holds configuration for the fill simulator.
type SimulatedConfig struct {
	FillOnQuote   bool
	FillOnTrade   bool
	FillOnBar     bool
	QuoteFillMode QuoteFillMode
	TradeFillMode TradeFillMode
	BarFillMode   types.FillMode // Used when the order does not set one
	PartialFills  bool           // Quote fills are capped at the opposite book size
	BarFilter     types.BarFilter
}

// DefaultSimulatedConfig returns sensible defaults.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		FillOnQuote:   true,
		FillOnTrade:   true,
		FillOnBar:     true,
		QuoteFillMode: QuoteFillLast,
		TradeFillMode: TradeFillLast,
		BarFillMode:   types.FillModeLastBarClose,
	}
}

// Simulator matches working orders against market data published on an
// instrument registry. One Processor runs per working order.
//
// Reports are queued while processor locks are held and delivered to the
// ReportHandler afterwards, one at a time and in emission order. Reports
// emitted by a handler that calls back into the Simulator are appended to
// the same queue.
type Simulator struct {
	cfg         SimulatedConfig
	clock       clock.Scheduler
	instruments *marketdata.Registry
	logger      *slog.Logger

	mu           sync.RWMutex
	processors   map[string]*Processor // clOrdID -> working order
	usedOrderIDs map[string]bool       // Every id ever accepted, for idempotency
	commission   CommissionProvider
	slippage     SlippageProvider
	handler      ReportHandler
	recorder     *metrics.Recorder

	dispatchMu  sync.Mutex
	queue       []types.ExecutionReport
	history     []types.ExecutionReport
	dispatching bool
}

// NewSimulator creates a simulator bound to a clock and instrument registry.
func NewSimulator(cfg SimulatedConfig, clk clock.Scheduler, instruments *marketdata.Registry, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BarFillMode == types.FillModeDefault {
		cfg.BarFillMode = types.FillModeLastBarClose
	}

	return &Simulator{
		cfg:          cfg,
		clock:        clk,
		instruments:  instruments,
		logger:       logger,
		processors:   make(map[string]*Processor),
		usedOrderIDs: make(map[string]bool),
		commission:   NoCommission{},
		slippage:     NoSlippage{},
	}
}

// SetReportHandler sets the callback for execution reports.
func (s *Simulator) SetReportHandler(handler ReportHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// SetCommissionProvider replaces the commission model. Nil restores NoCommission.
func (s *Simulator) SetCommissionProvider(p CommissionProvider) {
	if p == nil {
		p = NoCommission{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commission = p
}

// SetSlippageProvider replaces the slippage model. Nil restores NoSlippage.
func (s *Simulator) SetSlippageProvider(p SlippageProvider) {
	if p == nil {
		p = NoSlippage{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slippage = p
}

// SetRecorder attaches a metrics recorder.
func (s *Simulator) SetRecorder(r *metrics.Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

// Config returns the simulator configuration.
func (s *Simulator) Config() SimulatedConfig {
	return s.cfg
}

// Send starts simulating an order. The order is copied; later changes to it
// have no effect on the simulation. The caller keeps it current by applying
// the reports it receives.
func (s *Simulator) Send(order *types.Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", types.ErrInvalidData)
	}

	_, err := s.start(*order)
	s.flush()
	return err
}

// start validates and reserves an order, then runs it.
func (s *Simulator) start(order types.Order) (*Processor, error) {
	if err := s.validate(order); err != nil {
		s.getRecorder().RecordOrderRejected(rejectReason(err))
		return nil, err
	}
	if err := s.reserve(order.ClOrdID); err != nil {
		s.getRecorder().RecordOrderRejected(rejectReason(err))
		return nil, err
	}

	p, err := s.run(order)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// reserve claims an order id. Ids are never reused, even after the order
// ends.
func (s *Simulator) reserve(clOrdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usedOrderIDs[clOrdID] {
		return fmt.Errorf("%w: %s", types.ErrDuplicateOrder, clOrdID)
	}
	s.usedOrderIDs[clOrdID] = true
	return nil
}

// release returns an id reserved for an order that never emitted a report.
func (s *Simulator) release(clOrdID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.usedOrderIDs, clOrdID)
}

// run registers a validated, reserved order and makes its initial fill
// attempt. On error the processor is returned already closed.
func (s *Simulator) run(order types.Order) (*Processor, error) {
	p := newProcessor(s, order)
	if err := p.start(); err != nil {
		s.getRecorder().RecordOrderRejected(rejectReason(err))
		return p, fmt.Errorf("start order %s: %w", order.ClOrdID, err)
	}

	s.getRecorder().RecordOrderSubmitted(order.Symbol, order.Type.String())
	s.logger.Debug("order working",
		"cl_ord_id", order.ClOrdID,
		"symbol", order.Symbol,
		"side", order.Side.String(),
		"type", order.Type.String(),
		"qty", order.Qty.String(),
	)
	return p, nil
}

func (s *Simulator) validate(order types.Order) error {
	if order.ClOrdID == "" {
		return fmt.Errorf("%w: empty ClOrdID", types.ErrInvalidData)
	}
	if order.Symbol == "" {
		return fmt.Errorf("%w: order %s", types.ErrInvalidSymbol, order.ClOrdID)
	}
	if !order.Type.IsValid() {
		return fmt.Errorf("%w: order %s is %s", types.ErrUnsupportedOrderType, order.ClOrdID, order.Type)
	}
	if !order.Qty.IsPositive() || !order.Qty.GreaterThan(order.CumQty) {
		return fmt.Errorf("%w: order %s qty %s cum %s",
			types.ErrInvalidOrderSize, order.ClOrdID, order.Qty, order.CumQty)
	}
	if order.TimeInForce.RequiresExpiry() && order.ExpireTime.IsZero() {
		return fmt.Errorf("%w: order %s is GTD without expire time", types.ErrInvalidData, order.ClOrdID)
	}
	if !order.Status.IsWorking() {
		return fmt.Errorf("%w: order %s has status %s", types.ErrInvalidData, order.ClOrdID, order.Status)
	}
	return nil
}

// Cancel withdraws a working order and emits a Cancelled report.
// Unknown or already terminal orders are ignored.
func (s *Simulator) Cancel(clOrdID string) error {
	p := s.lookup(clOrdID)
	if p == nil {
		s.logger.Debug("cancel ignored, order not working", "cl_ord_id", clOrdID)
		return nil
	}

	p.cancel("canceled")
	s.flush()
	return nil
}

// Replace tears down the working order OrigClOrdID, emits a Replace report
// and starts a new order under ClOrdID with the request's terms.
// Unknown or already terminal originals are ignored.
func (s *Simulator) Replace(req types.ReplaceRequest) error {
	p := s.lookup(req.OrigClOrdID)
	if p == nil {
		s.logger.Debug("replace ignored, order not working", "orig_cl_ord_id", req.OrigClOrdID)
		return nil
	}

	if req.ClOrdID == "" {
		return fmt.Errorf("%w: empty ClOrdID in replace of %s", types.ErrInvalidData, req.OrigClOrdID)
	}
	if err := s.reserve(req.ClOrdID); err != nil {
		s.getRecorder().RecordOrderRejected(rejectReason(err))
		return err
	}

	// The replacement's terms are checked before the original is torn
	// down, so a rejected replace leaves the original working.
	replacement, err := p.replace(req, s.validateReplacement)
	if err != nil || replacement == nil {
		s.release(req.ClOrdID)
		if err != nil {
			s.getRecorder().RecordOrderRejected(rejectReason(err))
		}
		s.flush()
		return err
	}

	// The Replace report is out; the new id must end with a report of its
	// own if it cannot start.
	if np, err := s.run(*replacement); err != nil {
		np.abandon(err.Error())
		s.flush()
		return err
	}
	s.flush()
	return nil
}

// validateReplacement checks a replacement order as Send would, and also
// checks its side, since the replacement is evaluated at once.
func (s *Simulator) validateReplacement(order types.Order) error {
	if err := s.validate(order); err != nil {
		return err
	}
	if _, err := order.Side.Direction(); err != nil {
		return fmt.Errorf("replace %s: %w", order.ClOrdID, err)
	}
	return nil
}

// IsActive reports whether an order is working.
func (s *Simulator) IsActive(clOrdID string) bool {
	return s.lookup(clOrdID) != nil
}

// ActiveOrders returns the ids of working orders, sorted.
func (s *Simulator) ActiveOrders() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.processors))
	for id := range s.processors {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Reports returns every execution report emitted so far.
func (s *Simulator) Reports() []types.ExecutionReport {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	reports := make([]types.ExecutionReport, len(s.history))
	copy(reports, s.history)
	return reports
}

func (s *Simulator) lookup(clOrdID string) *Processor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processors[clOrdID]
}

func (s *Simulator) register(p *Processor) {
	s.mu.Lock()
	s.processors[p.order.ClOrdID] = p
	n := len(s.processors)
	rec := s.recorder
	s.mu.Unlock()

	rec.SetActiveOrders(n)
}

// deregister removes the entry for clOrdID if it still belongs to p.
func (s *Simulator) deregister(clOrdID string, p *Processor) {
	s.mu.Lock()
	if s.processors[clOrdID] == p {
		delete(s.processors, clOrdID)
	}
	n := len(s.processors)
	rec := s.recorder
	s.mu.Unlock()

	rec.SetActiveOrders(n)
}

func (s *Simulator) providers() (CommissionProvider, SlippageProvider) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commission, s.slippage
}

func (s *Simulator) getRecorder() *metrics.Recorder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

// enqueue records a report for delivery. Safe to call with a processor lock held.
func (s *Simulator) enqueue(r types.ExecutionReport) {
	s.dispatchMu.Lock()
	s.queue = append(s.queue, r)
	s.history = append(s.history, r)
	s.dispatchMu.Unlock()
}

// flush delivers queued reports. Only one goroutine drains at a time; a
// nested or concurrent call returns and leaves its reports to the drainer.
func (s *Simulator) flush() {
	s.dispatchMu.Lock()
	if s.dispatching {
		s.dispatchMu.Unlock()
		return
	}
	s.dispatching = true

	for len(s.queue) > 0 {
		r := s.queue[0]
		s.queue = s.queue[1:]
		s.dispatchMu.Unlock()

		s.deliver(r)

		s.dispatchMu.Lock()
	}
	s.queue = nil
	s.dispatching = false
	s.dispatchMu.Unlock()
}

func (s *Simulator) deliver(r types.ExecutionReport) {
	s.mu.RLock()
	handler := s.handler
	rec := s.recorder
	s.mu.RUnlock()

	rec.RecordReport(r.Symbol, r.ExecType.String())
	if r.ExecType == types.ExecTypeFill || r.ExecType == types.ExecTypePartialFill {
		rec.RecordFill(r.Symbol, r.Side.String(), r.LastQty)
	}

	if handler != nil {
		handler(r)
	}
}

// onEvaluationError logs and counts a failed market data evaluation.
func (s *Simulator) onEvaluationError(clOrdID string, err error) {
	s.logger.Error("order evaluation failed", "cl_ord_id", clOrdID, "err", err)
	s.getRecorder().RecordEvaluationError("processor")
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrDuplicateOrder):
		return "duplicate"
	case errors.Is(err, types.ErrInvalidOrderSize):
		return "invalid_size"
	case errors.Is(err, types.ErrInvalidSymbol):
		return "invalid_symbol"
	case errors.Is(err, types.ErrUnsupportedSide):
		return "unsupported_side"
	case errors.Is(err, types.ErrUnsupportedOrderType):
		return "unsupported_type"
	default:
		return "invalid"
	}
}
