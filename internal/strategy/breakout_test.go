package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

func TestBreakout_NotReadyUntilEnoughBars(t *testing.T) {
	cfg := DefaultBreakoutConfig()
	cfg.LookbackBars = 5
	strategy := NewBreakout(cfg)

	// Feed only 3 bars, the last one far above the others
	for i, close := range []int64{100, 101, 150} {
		signals := strategy.OnBar(context.Background(), "MES", createBar(close, close+1, close-1, close))
		if len(signals) > 0 {
			t.Errorf("bar %d: signalled before enough bars", i)
		}
	}
}

func TestBreakout_LongSignalOnBreakoutAbove(t *testing.T) {
	cfg := DefaultBreakoutConfig()
	cfg.LookbackBars = 4
	cfg.BreakoutBuffer = decimal.Zero // No buffer for simpler test
	strategy := NewBreakout(cfg)

	// Build range: high = 105, low = 95
	strategy.OnBar(context.Background(), "MES", createBar(100, 105, 95, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 103, 97, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 104, 96, 100))

	signals := strategy.OnBar(context.Background(), "MES", createBar(106, 108, 105, 107))

	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Direction != types.PositionLong {
		t.Errorf("Direction = %v, want LONG", sig.Direction)
	}
	if sig.StrategyName != "breakout" || sig.Symbol != "MES" {
		t.Errorf("signal = %s/%s, want breakout/MES", sig.StrategyName, sig.Symbol)
	}
	if sig.Reason != "breakout above 105.00" {
		t.Errorf("Reason = %q", sig.Reason)
	}
	if sig.ID == "" {
		t.Error("signal has no id")
	}
}

func TestBreakout_ShortSignalOnBreakoutBelow(t *testing.T) {
	cfg := DefaultBreakoutConfig()
	cfg.LookbackBars = 4
	cfg.BreakoutBuffer = decimal.Zero
	strategy := NewBreakout(cfg)

	strategy.OnBar(context.Background(), "MES", createBar(100, 105, 95, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 103, 97, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 104, 96, 100))

	signals := strategy.OnBar(context.Background(), "MES", createBar(94, 96, 92, 93))

	if len(signals) != 1 {
		t.Fatalf("Expected 1 signal, got %d", len(signals))
	}
	if signals[0].Direction != types.PositionShort {
		t.Errorf("Direction = %v, want SHORT", signals[0].Direction)
	}
}

func TestBreakout_NoRepeatWhileRangeUnchanged(t *testing.T) {
	cfg := DefaultBreakoutConfig()
	cfg.LookbackBars = 4
	cfg.BreakoutBuffer = decimal.Zero
	strategy := NewBreakout(cfg)

	strategy.OnBar(context.Background(), "MES", createBar(100, 110, 90, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 102, 98, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 102, 98, 100))

	// Close breaks the 110 high.
	if got := strategy.OnBar(context.Background(), "MES", createBar(100, 109, 99, 111)); len(got) != 1 {
		t.Fatalf("first breakout: %d signals, want 1", len(got))
	}
	// Bar with high 110 rolls off: the range becomes 109/98 and a new
	// breakout is allowed.
	if got := strategy.OnBar(context.Background(), "MES", createBar(100, 109, 99, 111)); len(got) != 1 {
		t.Fatalf("after range change: %d signals, want 1", len(got))
	}
	// Range stays 109/98.
	if got := strategy.OnBar(context.Background(), "MES", createBar(100, 108, 99, 111)); len(got) != 0 {
		t.Errorf("repeat breakout: %d signals, want 0", len(got))
	}
}

func TestBreakout_MinRange(t *testing.T) {
	cfg := DefaultBreakoutConfig()
	cfg.LookbackBars = 3
	cfg.BreakoutBuffer = decimal.Zero
	cfg.MinRange = decimal.NewFromInt(20)
	strategy := NewBreakout(cfg)

	strategy.OnBar(context.Background(), "MES", createBar(100, 105, 95, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 103, 97, 100))

	if got := strategy.OnBar(context.Background(), "MES", createBar(106, 108, 105, 107)); len(got) != 0 {
		t.Errorf("narrow range signalled %d times", len(got))
	}
}

func TestBreakout_Reset(t *testing.T) {
	cfg := DefaultBreakoutConfig()
	cfg.LookbackBars = 3
	strategy := NewBreakout(cfg)

	strategy.OnBar(context.Background(), "MES", createBar(100, 105, 95, 100))
	strategy.OnBar(context.Background(), "MES", createBar(100, 103, 97, 100))

	strategy.Reset()

	// After reset, should not be ready
	if signals := strategy.OnBar(context.Background(), "MES", createBar(120, 125, 119, 124)); len(signals) != 0 {
		t.Error("Should not signal after reset with only 1 bar")
	}
}

func TestMultiStrategy(t *testing.T) {
	a := &scripted{name: "a", script: [][]Signal{{{Symbol: "MES", Direction: types.PositionLong}}}}
	b := &scripted{name: "b", script: [][]Signal{{{Symbol: "MES", Direction: types.PositionFlat}}}}
	multi := NewMultiStrategy("both", a, b)

	got := multi.OnBar(context.Background(), "MES", createBar(1, 1, 1, 1))
	if len(got) != 2 || got[0].Direction != types.PositionLong || got[1].Direction != types.PositionFlat {
		t.Errorf("OnBar() = %+v", got)
	}
	if multi.Name() != "both" {
		t.Errorf("Name() = %s", multi.Name())
	}

	multi.Reset()
	if a.calls != 0 || b.calls != 0 {
		t.Error("Reset not propagated")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := multi.OnBar(ctx, "MES", createBar(1, 1, 1, 1)); len(got) != 0 {
		t.Errorf("canceled OnBar returned %d signals", len(got))
	}
}

func TestNew(t *testing.T) {
	s, err := New("breakout", 7)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if b, ok := s.(*Breakout); !ok || b.cfg.LookbackBars != 7 {
		t.Errorf("New(breakout, 7) = %#v", s)
	}
	if _, err := New("martingale", 0); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

var barTime = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func createBar(open, high, low, close int64) types.Bar {
	barTime = barTime.Add(time.Minute)
	return types.Bar{
		Time:  barTime,
		Type:  types.BarTypeTime,
		Size:  60,
		Open:  decimal.NewFromInt(open),
		High:  decimal.NewFromInt(high),
		Low:   decimal.NewFromInt(low),
		Close: decimal.NewFromInt(close),
	}
}
