package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

// BreakoutConfig holds configuration for the breakout strategy.
type BreakoutConfig struct {
	LookbackBars   int             // Number of bars to look back for high/low
	MinRange       decimal.Decimal // Minimum range width to generate a signal
	BreakoutBuffer decimal.Decimal // Buffer above/below range as a ratio of its width
}

// DefaultBreakoutConfig returns sensible defaults.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{
		LookbackBars:   20,
		MinRange:       decimal.Zero,
		BreakoutBuffer: decimal.RequireFromString("0.0005"),
	}
}

// Breakout implements a simple range breakout strategy.
// Generates LONG when the close breaks above the highest high of the prior
// N-1 bars and SHORT when it breaks below the lowest low.
type Breakout struct {
	cfg BreakoutConfig

	highs          []decimal.Decimal
	lows           []decimal.Decimal
	signalledLong  bool // Already signalled long for current range
	signalledShort bool // Already signalled short for current range
	lastRangeHigh  decimal.Decimal
	lastRangeLow   decimal.Decimal
}

// NewBreakout creates a new breakout strategy.
func NewBreakout(cfg BreakoutConfig) *Breakout {
	if cfg.LookbackBars < 2 {
		cfg.LookbackBars = 2
	}
	return &Breakout{
		cfg:   cfg,
		highs: make([]decimal.Decimal, 0, cfg.LookbackBars),
		lows:  make([]decimal.Decimal, 0, cfg.LookbackBars),
	}
}

// OnBar processes a completed bar and generates signals.
func (b *Breakout) OnBar(_ context.Context, symbol string, bar types.Bar) []Signal {
	b.highs = append(b.highs, bar.High)
	b.lows = append(b.lows, bar.Low)

	if len(b.highs) > b.cfg.LookbackBars {
		b.highs = b.highs[1:]
		b.lows = b.lows[1:]
	}
	if len(b.highs) < b.cfg.LookbackBars {
		return nil
	}

	// Range excludes the current bar
	rangeHigh := highest(b.highs[:len(b.highs)-1])
	rangeLow := lowest(b.lows[:len(b.lows)-1])

	if !rangeHigh.Equal(b.lastRangeHigh) || !rangeLow.Equal(b.lastRangeLow) {
		b.signalledLong = false
		b.signalledShort = false
		b.lastRangeHigh = rangeHigh
		b.lastRangeLow = rangeLow
	}

	width := rangeHigh.Sub(rangeLow)
	if width.LessThan(b.cfg.MinRange) {
		return nil
	}

	buffer := width.Mul(b.cfg.BreakoutBuffer)
	breakoutHigh := rangeHigh.Add(buffer)
	breakoutLow := rangeLow.Sub(buffer)

	var signals []Signal

	if bar.Close.GreaterThan(breakoutHigh) && !b.signalledLong {
		signals = append(signals, NewSignalBuilder(b.Name(), symbol, bar).
			Long().
			WithReason(fmt.Sprintf("breakout above %s", breakoutHigh.StringFixed(2))).
			Build())
		b.signalledLong = true
	}

	if bar.Close.LessThan(breakoutLow) && !b.signalledShort {
		signals = append(signals, NewSignalBuilder(b.Name(), symbol, bar).
			Short().
			WithReason(fmt.Sprintf("breakout below %s", breakoutLow.StringFixed(2))).
			Build())
		b.signalledShort = true
	}

	return signals
}

// Name returns the strategy name.
func (b *Breakout) Name() string {
	return "breakout"
}

// Reset clears all state.
func (b *Breakout) Reset() {
	b.highs = b.highs[:0]
	b.lows = b.lows[:0]
	b.signalledLong = false
	b.signalledShort = false
	b.lastRangeHigh = decimal.Zero
	b.lastRangeLow = decimal.Zero
}

func highest(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	high := values[0]
	for _, v := range values[1:] {
		if v.GreaterThan(high) {
			high = v
		}
	}
	return high
}

func lowest(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	low := values[0]
	for _, v := range values[1:] {
		if v.LessThan(low) {
			low = v
		}
	}
	return low
}
