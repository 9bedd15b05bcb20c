// Package stop implements risk stops bound to a position: fixed and trailing
// price thresholds, and deadline-based time stops.
package stop

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

// StopType selects how the threshold behaves.
type StopType int

const (
	TypeFixed    StopType = iota // Threshold set once at attach
	TypeTrailing                 // Threshold follows favourable price moves
	TypeTime                     // Fires at a deadline regardless of price
)

func (t StopType) String() string {
	switch t {
	case TypeFixed:
		return "Fixed"
	case TypeTrailing:
		return "Trailing"
	case TypeTime:
		return "Time"
	default:
		return fmt.Sprintf("StopType(%d)", int(t))
	}
}

// ParseStopType parses "fixed", "trailing" or "time".
func ParseStopType(s string) (StopType, error) {
	switch s {
	case "fixed", "Fixed":
		return TypeFixed, nil
	case "trailing", "Trailing":
		return TypeTrailing, nil
	case "time", "Time":
		return TypeTime, nil
	default:
		return TypeFixed, fmt.Errorf("%w: %q", types.ErrUnsupportedStopType, s)
	}
}

// StopMode selects how Level is applied to the reference price.
type StopMode int

const (
	ModeAbsolute StopMode = iota // Level is a price distance
	ModePercent                  // Level is a fraction of the reference price
)

func (m StopMode) String() string {
	switch m {
	case ModeAbsolute:
		return "Absolute"
	case ModePercent:
		return "Percent"
	default:
		return fmt.Sprintf("StopMode(%d)", int(m))
	}
}

// ParseStopMode parses "absolute" or "percent".
func ParseStopMode(s string) (StopMode, error) {
	switch s {
	case "absolute", "Absolute":
		return ModeAbsolute, nil
	case "percent", "Percent":
		return ModePercent, nil
	default:
		return ModeAbsolute, fmt.Errorf("%w: %q", types.ErrUnsupportedStopMode, s)
	}
}

// Status is the lifecycle state of a stop. Only Active is non-terminal.
type Status int

const (
	StatusActive Status = iota
	StatusExecuted
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusExecuted:
		return "Executed"
	case StatusCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// FillMode selects the price a triggered stop closes the position at.
type FillMode int

const (
	FillMarket FillMode = iota // The price that triggered the stop
	FillClose                  // The close of the triggering bar
	FillStop                   // The stop threshold itself
)

// ParseFillMode parses "market", "close" or "stop".
func ParseFillMode(s string) (FillMode, error) {
	switch s {
	case "market", "":
		return FillMarket, nil
	case "close":
		return FillClose, nil
	case "stop":
		return FillStop, nil
	default:
		return FillMarket, fmt.Errorf("unknown stop fill mode: %q", s)
	}
}

// Options control which feeds a stop watches and how it reads them.
type Options struct {
	TraceOnBar     bool
	TraceOnBarOpen bool // Requires TraceOnBar
	TraceOnTrade   bool
	TraceOnQuote   bool
	TrailOnOpen    bool // Bar open also moves the trailing reference
	TrailOnHighLow bool // Trail on bar high (long) or low (short) instead of close
	FilterBarSize  int64
	FilterBarType  types.BarType // Checked only when FilterBarSize >= 0
	FillMode       FillMode
}

// DefaultOptions watches every feed, accepts every bar and fills at the
// triggering price.
func DefaultOptions() Options {
	return Options{
		TraceOnBar:     true,
		TraceOnBarOpen: true,
		TraceOnTrade:   true,
		TraceOnQuote:   true,
		FilterBarSize:  -1,
		FilterBarType:  types.BarTypeTime,
		FillMode:       FillMarket,
	}
}

func (o Options) acceptsBar(b types.Bar) bool {
	return o.FilterBarSize < 0 || (b.Size == o.FilterBarSize && b.Type == o.FilterBarType)
}

func (o Options) feeds() marketdata.Feed {
	var f marketdata.Feed
	if o.TraceOnBar {
		f |= marketdata.FeedBar
		if o.TraceOnBarOpen {
			f |= marketdata.FeedBarOpen
		}
	}
	if o.TraceOnTrade {
		f |= marketdata.FeedTrade
	}
	if o.TraceOnQuote {
		f |= marketdata.FeedQuote
	}
	return f
}

// Config describes a price stop.
type Config struct {
	Level decimal.Decimal
	Type  StopType
	Mode  StopMode
	Options
}

// Strategy owns stops and acts on them.
type Strategy interface {
	// AddStop registers a newly active stop.
	AddStop(s *Stop)

	// ClosePosition flattens the position on symbol at price.
	ClosePosition(symbol string, price decimal.Decimal, component, text string) error

	// EmitStopStatusChanged is called once when a stop leaves Active.
	EmitStopStatusChanged(s *Stop)
}

// closeText tags orders sent by a triggered stop.
const closeText = "PositionStop"

// Stop watches one position and closes it when its threshold is crossed or
// its deadline passes.
//
// The trigger check and the transition out of Active run under mu. The
// strategy is called after mu is released.
type Stop struct {
	id         string
	strategy   Strategy
	inst       *marketdata.Instrument
	clock      clock.Scheduler
	logger     *slog.Logger
	positionID string
	symbol     string
	side       types.PositionSide
	qty        decimal.Decimal
	stopType   StopType
	mode       StopMode
	level      decimal.Decimal
	opts       Options

	mu             sync.Mutex
	status         Status
	currPrice      decimal.Decimal
	fillPrice      decimal.Decimal
	trailPrice     decimal.Decimal
	initPrice      decimal.Decimal
	stopPrice      decimal.Decimal
	thresholdSet   bool // False until a reference price is known
	creationTime   time.Time
	completionTime time.Time
	subID          marketdata.SubscriptionID
	timerID        clock.TimerID
}

// New attaches a fixed or trailing stop to a position. The threshold is taken
// from the instrument's current price; if none is known yet it is taken from
// the first price the stop observes.
func New(strategy Strategy, inst *marketdata.Instrument, pos *types.Position, cfg Config, clk clock.Scheduler, logger *slog.Logger) (*Stop, error) {
	if cfg.Type == TypeTime {
		return nil, fmt.Errorf("%w: use NewTimeStop for time stops", types.ErrUnsupportedStopType)
	}
	if cfg.Type != TypeFixed && cfg.Type != TypeTrailing {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedStopType, cfg.Type)
	}

	s, err := newStop(strategy, inst, pos, cfg.Type, clk, logger)
	if err != nil {
		return nil, err
	}
	s.mode = cfg.Mode
	s.level = cfg.Level
	s.opts = cfg.Options

	s.currPrice = inst.Price()
	s.trailPrice = s.currPrice
	if !s.trailPrice.IsZero() {
		if s.stopPrice, err = s.threshold(); err != nil {
			return nil, err
		}
		s.thresholdSet = true
	} else if _, err := s.threshold(); err != nil {
		return nil, err
	}

	strategy.AddStop(s)

	s.mu.Lock()
	s.subID = inst.Subscribe(s, s.opts.feeds())
	s.mu.Unlock()

	s.logger.Debug("stop attached",
		"type", s.stopType.String(),
		"mode", s.mode.String(),
		"level", s.level.String(),
		"stop_price", s.stopPrice.String(),
	)
	return s, nil
}

// NewTimeStop attaches a stop that closes the position at the given time.
// Returns ErrStopTimeElapsed if the time is not after the clock's now.
func NewTimeStop(strategy Strategy, inst *marketdata.Instrument, pos *types.Position, at time.Time, clk clock.Scheduler, logger *slog.Logger) (*Stop, error) {
	s, err := newStop(strategy, inst, pos, TypeTime, clk, logger)
	if err != nil {
		return nil, err
	}
	s.completionTime = at
	s.stopPrice = inst.Price()

	if !at.After(s.creationTime) {
		return nil, fmt.Errorf("%w: %s not after %s", types.ErrStopTimeElapsed, at, s.creationTime)
	}

	strategy.AddStop(s)

	s.mu.Lock()
	s.timerID = clk.Schedule(at, s.onTimer)
	s.mu.Unlock()

	s.logger.Debug("time stop attached", "at", at)
	return s, nil
}

func newStop(strategy Strategy, inst *marketdata.Instrument, pos *types.Position, stopType StopType, clk clock.Scheduler, logger *slog.Logger) (*Stop, error) {
	if pos == nil {
		return nil, fmt.Errorf("%w: nil position", types.ErrUnknownPositionSide)
	}
	if pos.Side != types.PositionLong && pos.Side != types.PositionShort {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownPositionSide, pos.Side)
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	return &Stop{
		id:           id,
		strategy:     strategy,
		inst:         inst,
		clock:        clk,
		logger:       logger.With("stop_id", id, "symbol", pos.Symbol),
		positionID:   pos.ID,
		symbol:       pos.Symbol,
		side:         pos.Side,
		qty:          pos.Qty,
		stopType:     stopType,
		status:       StatusActive,
		creationTime: clk.Now(),
	}, nil
}

// threshold computes the stop price from the trailing reference and records
// that reference as the new initial price.
func (s *Stop) threshold() (decimal.Decimal, error) {
	var distance decimal.Decimal
	switch s.mode {
	case ModeAbsolute:
		distance = s.level.Abs()
	case ModePercent:
		distance = s.trailPrice.Mul(s.level).Abs()
	default:
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrUnsupportedStopMode, s.mode)
	}

	s.initPrice = s.trailPrice
	switch s.side {
	case types.PositionLong:
		return s.trailPrice.Sub(distance), nil
	case types.PositionShort:
		return s.trailPrice.Add(distance), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrUnknownPositionSide, s.side)
	}
}

// checkLocked runs the trigger check. It returns true when the stop has
// just moved to Executed and the position must be closed at fillPrice.
func (s *Stop) checkLocked() (bool, error) {
	if s.status != StatusActive || s.currPrice.IsZero() {
		return false, nil
	}

	if !s.thresholdSet {
		price, err := s.threshold()
		if err != nil {
			return false, err
		}
		s.stopPrice, s.thresholdSet = price, true
		if s.opts.FillMode == FillStop {
			s.fillPrice = price
		}
	}

	var triggered, favourable bool
	switch s.side {
	case types.PositionLong:
		triggered = s.currPrice.LessThanOrEqual(s.stopPrice)
		favourable = s.trailPrice.GreaterThan(s.initPrice)
	case types.PositionShort:
		triggered = s.currPrice.GreaterThanOrEqual(s.stopPrice)
		favourable = s.trailPrice.LessThan(s.initPrice)
	default:
		return false, fmt.Errorf("%w: %s", types.ErrUnknownPositionSide, s.side)
	}

	if triggered {
		s.completeLocked(StatusExecuted)
		return true, nil
	}

	if s.stopType == TypeTrailing && favourable {
		price, err := s.threshold()
		if err != nil {
			return false, err
		}
		s.stopPrice = price
		s.logger.Debug("stop trailed", "trail_price", s.trailPrice.String(), "stop_price", price.String())
	}
	return false, nil
}

// completeLocked disconnects and leaves Active.
func (s *Stop) completeLocked(status Status) {
	if s.subID != 0 {
		s.inst.Unsubscribe(s.subID)
		s.subID = 0
	}
	if s.timerID != 0 {
		s.clock.Cancel(s.timerID)
		s.timerID = 0
	}
	s.status = status
	s.completionTime = s.clock.Now()
}

// execute closes the position and notifies the strategy. Called without mu.
func (s *Stop) execute(price decimal.Decimal) error {
	s.logger.Info("stop executed", "type", s.stopType.String(), "price", price.String())

	err := s.strategy.ClosePosition(s.symbol, price, types.ComponentStop, closeText)
	s.strategy.EmitStopStatusChanged(s)
	if err != nil {
		return fmt.Errorf("stop %s close position: %w", s.id, err)
	}
	return nil
}

// update applies a feed's prices under the lock and runs the check.
func (s *Stop) update(apply func()) error {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return nil
	}
	apply()
	fired, err := s.checkLocked()
	price := s.fillPrice
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if fired {
		return s.execute(price)
	}
	return nil
}

// OnBar implements marketdata.Listener. A long stop checks the bar low and a
// short stop the bar high.
func (s *Stop) OnBar(b types.Bar) error {
	if !s.opts.TraceOnBar || !s.opts.acceptsBar(b) {
		return nil
	}

	return s.update(func() {
		s.trailPrice = b.Close
		switch s.side {
		case types.PositionLong:
			s.currPrice, s.fillPrice = b.Low, b.Low
			if s.opts.TrailOnHighLow {
				s.trailPrice = b.High
			}
		case types.PositionShort:
			s.currPrice, s.fillPrice = b.High, b.High
			if s.opts.TrailOnHighLow {
				s.trailPrice = b.Low
			}
		}

		switch s.opts.FillMode {
		case FillClose:
			s.fillPrice = b.Close
		case FillStop:
			s.fillPrice = s.stopPrice
		}
	})
}

// OnBarOpen implements marketdata.Listener.
func (s *Stop) OnBarOpen(b types.Bar) error {
	if !s.opts.TraceOnBar || !s.opts.TraceOnBarOpen || !s.opts.acceptsBar(b) {
		return nil
	}

	return s.update(func() {
		s.currPrice, s.fillPrice = b.Open, b.Open
		if s.opts.TrailOnOpen {
			s.trailPrice = b.Open
		}
	})
}

// OnTrade implements marketdata.Listener.
func (s *Stop) OnTrade(t types.Trade) error {
	if !s.opts.TraceOnTrade {
		return nil
	}

	return s.update(func() {
		s.currPrice, s.fillPrice, s.trailPrice = t.Price, t.Price, t.Price
	})
}

// OnQuote implements marketdata.Listener. Long stops read the ask and short
// stops the bid.
func (s *Stop) OnQuote(q types.Quote) error {
	if !s.opts.TraceOnQuote {
		return nil
	}

	return s.update(func() {
		price := q.Ask
		if s.side == types.PositionShort {
			price = q.Bid
		}
		s.currPrice, s.fillPrice, s.trailPrice = price, price, price
	})
}

func (s *Stop) onTimer(now time.Time) {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.timerID = 0 // Fired
	s.stopPrice = s.inst.Price()
	s.fillPrice = s.stopPrice
	s.completeLocked(StatusExecuted)
	price := s.stopPrice
	s.mu.Unlock()

	if price.IsZero() {
		s.logger.Warn("time stop fired with no price known, closing at the next fill", "at", now)
	} else {
		s.logger.Debug("time stop fired", "at", now)
	}
	if err := s.execute(price); err != nil {
		s.logger.Error("time stop close failed", "err", err)
	}
}

// Cancel withdraws an active stop. Returns ErrStopNotActive otherwise.
func (s *Stop) Cancel() error {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", types.ErrStopNotActive, s.id, s.status)
	}
	s.completeLocked(StatusCanceled)
	s.mu.Unlock()

	s.logger.Debug("stop canceled")
	s.strategy.EmitStopStatusChanged(s)
	return nil
}

// OnPositionClosed cancels the stop when its position was closed by other
// means. Notifications for other positions are ignored.
func (s *Stop) OnPositionClosed(pos *types.Position) {
	if pos == nil || pos.ID != s.positionID {
		return
	}

	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.completeLocked(StatusCanceled)
	s.mu.Unlock()

	s.logger.Debug("stop canceled, position closed", "position_id", pos.ID)
	s.strategy.EmitStopStatusChanged(s)
}

// ID returns the stop identifier.
func (s *Stop) ID() string { return s.id }

// PositionID returns the id of the bound position.
func (s *Stop) PositionID() string { return s.positionID }

// Symbol returns the instrument symbol.
func (s *Stop) Symbol() string { return s.symbol }

// Side returns the side of the bound position.
func (s *Stop) Side() types.PositionSide { return s.side }

// Qty returns the position quantity at attach time.
func (s *Stop) Qty() decimal.Decimal { return s.qty }

// Type returns the stop type.
func (s *Stop) Type() StopType { return s.stopType }

// Mode returns the stop mode.
func (s *Stop) Mode() StopMode { return s.mode }

// Level returns the configured level.
func (s *Stop) Level() decimal.Decimal { return s.level }

// Status returns the current status.
func (s *Stop) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StopPrice returns the current threshold. For time stops it is the price
// captured when the stop fired.
func (s *Stop) StopPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopPrice
}

// FillPrice returns the price the stop would close at.
func (s *Stop) FillPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillPrice
}

// TrailPrice returns the current trailing reference.
func (s *Stop) TrailPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailPrice
}

// CreationTime returns when the stop was attached.
func (s *Stop) CreationTime() time.Time { return s.creationTime }

// CompletionTime returns when the stop left Active, or the deadline for an
// active time stop.
func (s *Stop) CompletionTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completionTime
}
