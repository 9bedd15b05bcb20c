// Package strategy hosts trading strategies and the runtime that turns their
// signals into simulated orders, tracks positions and owns position stops.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tathienbao/fillsim/internal/types"
)

// Strategy defines the interface for trading strategies.
// Strategies read completed bars and emit signals. They do not size orders
// or manage stops; the Runtime does that.
type Strategy interface {
	// OnBar processes a completed bar and returns any signals.
	// Returns nil or an empty slice if no signal is generated.
	OnBar(ctx context.Context, symbol string, bar types.Bar) []Signal

	// Name returns the strategy identifier.
	Name() string

	// Reset clears all strategy state.
	Reset()
}

// Signal asks the runtime to hold a position. Direction PositionFlat means
// exit.
type Signal struct {
	ID           string
	Time         time.Time
	Symbol       string
	Direction    types.PositionSide
	Reason       string
	StrategyName string
}

// SignalBuilder helps construct signals with consistent defaults.
type SignalBuilder struct {
	signal Signal
}

// NewSignalBuilder creates a new signal builder for a bar.
func NewSignalBuilder(strategyName, symbol string, bar types.Bar) *SignalBuilder {
	return &SignalBuilder{
		signal: Signal{
			ID:           uuid.New().String(),
			Time:         bar.Time,
			Symbol:       symbol,
			StrategyName: strategyName,
		},
	}
}

// Long sets the signal direction to long.
func (b *SignalBuilder) Long() *SignalBuilder {
	b.signal.Direction = types.PositionLong
	return b
}

// Short sets the signal direction to short.
func (b *SignalBuilder) Short() *SignalBuilder {
	b.signal.Direction = types.PositionShort
	return b
}

// Flat sets the signal direction to flat (exit).
func (b *SignalBuilder) Flat() *SignalBuilder {
	b.signal.Direction = types.PositionFlat
	return b
}

// WithReason sets the signal reason.
func (b *SignalBuilder) WithReason(reason string) *SignalBuilder {
	b.signal.Reason = reason
	return b
}

// Build returns the constructed signal.
func (b *SignalBuilder) Build() Signal {
	return b.signal
}

// MultiStrategy combines multiple strategies.
type MultiStrategy struct {
	strategies []Strategy
	name       string
}

// NewMultiStrategy creates a strategy that runs multiple sub-strategies.
func NewMultiStrategy(name string, strategies ...Strategy) *MultiStrategy {
	return &MultiStrategy{
		strategies: strategies,
		name:       name,
	}
}

// OnBar passes the bar to every sub-strategy in order.
func (m *MultiStrategy) OnBar(ctx context.Context, symbol string, bar types.Bar) []Signal {
	var all []Signal

	for _, s := range m.strategies {
		if ctx.Err() != nil {
			return all
		}
		all = append(all, s.OnBar(ctx, symbol, bar)...)
	}

	return all
}

// Name returns the multi-strategy name.
func (m *MultiStrategy) Name() string {
	return m.name
}

// Reset resets all sub-strategies.
func (m *MultiStrategy) Reset() {
	for _, s := range m.strategies {
		s.Reset()
	}
}

// New returns the named strategy.
func New(name string, lookback int) (Strategy, error) {
	switch name {
	case "breakout", "":
		cfg := DefaultBreakoutConfig()
		if lookback > 0 {
			cfg.LookbackBars = lookback
		}
		return NewBreakout(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", types.ErrInvalidConfig, name)
	}
}
