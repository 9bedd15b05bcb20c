package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/fillsim/internal/alerting"
	"github.com/tathienbao/fillsim/internal/clock"
	"github.com/tathienbao/fillsim/internal/execution"
	"github.com/tathienbao/fillsim/internal/marketdata"
	"github.com/tathienbao/fillsim/internal/metrics"
	"github.com/tathienbao/fillsim/internal/observer"
	"github.com/tathienbao/fillsim/internal/stop"
	"github.com/tathienbao/fillsim/internal/strategy"
	"github.com/tathienbao/fillsim/internal/types"
)

var baseTime = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

type testRig struct {
	runner  *Runner
	runtime *strategy.Runtime
	sim     *execution.Simulator
	alerts  *alerting.MockAlerter
}

func newRig(t *testing.T, cfg Config, feed observer.BarFeed, rtCfg strategy.RuntimeConfig, strat strategy.Strategy) *testRig {
	t.Helper()

	simCfg := execution.DefaultSimulatedConfig()
	simCfg.FillOnQuote = false
	simCfg.FillOnTrade = false

	clk := clock.New(baseTime.Add(-time.Minute))
	reg := marketdata.NewRegistry()
	sim := execution.NewSimulator(simCfg, clk, reg, nil)
	rt := strategy.NewRuntime(rtCfg, strat, sim, reg, clk, nil)
	sim.SetReportHandler(rt.OnExecutionReport)

	alerts := alerting.NewMockAlerter()
	rt.SetAlerter(alerts)

	runner := NewRunner(cfg, feed, clk, reg, sim, rt, nil)
	runner.SetAlerter(alerts)
	return &testRig{runner: runner, runtime: rt, sim: sim, alerts: alerts}
}

func ohlc(minute int, open, high, low, close int64) types.Bar {
	return types.Bar{
		Time:  baseTime.Add(time.Duration(minute) * time.Minute),
		Type:  types.BarTypeTime,
		Size:  60,
		Open:  decimal.NewFromInt(open),
		High:  decimal.NewFromInt(high),
		Low:   decimal.NewFromInt(low),
		Close: decimal.NewFromInt(close),
	}
}

func flatBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		bars[i] = ohlc(i, 100, 101, 99, 100)
	}
	return bars
}

func breakoutStrategy() strategy.Strategy {
	return strategy.NewBreakout(strategy.BreakoutConfig{LookbackBars: 4, BreakoutBuffer: decimal.Zero})
}

func TestRunner_BreakoutStoppedOut(t *testing.T) {
	feed := observer.NewMemoryFeed([]types.Bar{
		ohlc(0, 100, 102, 98, 100),
		ohlc(1, 100, 102, 98, 101),
		ohlc(2, 101, 102, 99, 100),
		ohlc(3, 100, 105, 100, 104), // Close breaks the 102 high: long at 104
		ohlc(4, 104, 106, 103, 105),
		ohlc(5, 105, 105, 97, 100), // Low crosses the stop at 99
		ohlc(6, 100, 101, 99, 100),
	})
	rtCfg := strategy.RuntimeConfig{
		Quantity: decimal.NewFromInt(1),
		Stop: &stop.Config{
			Level:   decimal.NewFromInt(5),
			Type:    stop.TypeFixed,
			Mode:    stop.ModeAbsolute,
			Options: stop.DefaultOptions(),
		},
	}
	rig := newRig(t, Config{Symbol: "MES", InitialEquity: decimal.NewFromInt(10000)}, feed, rtCfg, breakoutStrategy())

	before := testutil.ToFloat64(metrics.BarsReplayed)
	rig.runner.SetRecorder(metrics.NewRecorder())

	var updates int
	rig.runner.SetProgressCallback(func(ProgressUpdate) { updates++ })

	result, err := rig.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Bars != 7 || updates != 7 {
		t.Errorf("Bars = %d, updates = %d, want 7", result.Bars, updates)
	}
	if got := testutil.ToFloat64(metrics.BarsReplayed) - before; got != 7 {
		t.Errorf("bars_replayed_total delta = %v, want 7", got)
	}
	if result.Fills != 2 || result.Reports[types.ExecTypeFill] != 2 || result.Cancels != 0 {
		t.Errorf("reports = %v, fills %d", result.Reports, result.Fills)
	}
	if result.StopsExecuted != 1 {
		t.Errorf("StopsExecuted = %d, want 1", result.StopsExecuted)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("Trades = %d, want 1", len(result.Trades))
	}

	trade := result.Trades[0]
	if !trade.EntryPrice.Equal(decimal.NewFromInt(104)) || !trade.ExitPrice.Equal(decimal.NewFromInt(97)) {
		t.Errorf("trade = %s -> %s, want 104 -> 97", trade.EntryPrice, trade.ExitPrice)
	}
	// (97 - 104) * 5
	if !result.RealizedPL.Equal(decimal.NewFromInt(-35)) {
		t.Errorf("RealizedPL = %s, want -35", result.RealizedPL)
	}
	if !result.EndEquity.Equal(decimal.NewFromInt(9965)) {
		t.Errorf("EndEquity = %s, want 9965", result.EndEquity)
	}
	if result.OpenPosition != nil {
		t.Errorf("OpenPosition = %+v, want none", result.OpenPosition)
	}
	if !result.Performance.MaxDrawdown.IsPositive() || result.Performance.LosingTrades != 1 {
		t.Errorf("Performance = %+v", result.Performance)
	}
	if !result.StartTime.Equal(baseTime) || !result.EndTime.Equal(baseTime.Add(6*time.Minute)) {
		t.Errorf("range = %v..%v", result.StartTime, result.EndTime)
	}

	// Entry fills at the close of bar 3, the stop at the close of bar 5.
	var fillTimes []time.Time
	for _, r := range rig.sim.Reports() {
		if r.ExecType == types.ExecTypeFill {
			fillTimes = append(fillTimes, r.TransactTime)
		}
	}
	wantTimes := []time.Time{baseTime.Add(4 * time.Minute), baseTime.Add(6 * time.Minute)}
	if len(fillTimes) != len(wantTimes) {
		t.Fatalf("fill times = %v, want %v", fillTimes, wantTimes)
	}
	for i := range wantTimes {
		if !fillTimes[i].Equal(wantTimes[i]) {
			t.Errorf("fill %d at %v, want %v", i, fillTimes[i], wantTimes[i])
		}
	}

	want := []alerting.Event{
		alerting.EventBacktestStarted,
		alerting.EventPositionOpened,
		alerting.EventPositionClosed,
		alerting.EventStopExecuted,
		alerting.EventBacktestFinished,
	}
	got := rig.alerts.Events()
	if len(got) != len(want) {
		t.Fatalf("Events() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRunner_OpenPositionMarkedToMarket(t *testing.T) {
	feed := observer.NewMemoryFeed([]types.Bar{
		ohlc(0, 100, 102, 98, 100),
		ohlc(1, 100, 102, 98, 101),
		ohlc(2, 101, 102, 99, 100),
		ohlc(3, 100, 105, 100, 104),
		ohlc(4, 104, 108, 103, 107),
	})
	rig := newRig(t, Config{Symbol: "MES", InitialEquity: decimal.NewFromInt(10000)}, feed,
		strategy.RuntimeConfig{Quantity: decimal.NewFromInt(2)}, breakoutStrategy())

	result, err := rig.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.OpenPosition == nil || result.OpenPosition.Side != types.PositionLong {
		t.Fatalf("OpenPosition = %+v, want long", result.OpenPosition)
	}
	// (107 - 104) * 2 * 5
	if !result.EndEquity.Equal(decimal.NewFromInt(10030)) {
		t.Errorf("EndEquity = %s, want 10030", result.EndEquity)
	}
	if !result.RealizedPL.IsZero() || len(result.Trades) != 0 {
		t.Errorf("realized = %s over %d trades, want none", result.RealizedPL, len(result.Trades))
	}
}

func TestRunner_NoTrades(t *testing.T) {
	feed := observer.NewMemoryFeed(flatBars(30))
	rig := newRig(t, Config{Symbol: "MES", InitialEquity: decimal.NewFromInt(10000)}, feed,
		strategy.RuntimeConfig{}, strategy.NewBreakout(strategy.DefaultBreakoutConfig()))

	result, err := rig.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(result.Trades) != 0 || result.Fills != 0 {
		t.Errorf("trades = %d, fills = %d, want 0", len(result.Trades), result.Fills)
	}
	if !result.EndEquity.Equal(result.StartEquity) {
		t.Errorf("EndEquity = %s, want %s (no trades)", result.EndEquity, result.StartEquity)
	}
	if len(result.EquityCurve) != 30 {
		t.Errorf("equity points = %d, want 30", len(result.EquityCurve))
	}
}

func TestRunner_TimeFilters(t *testing.T) {
	feed := observer.NewMemoryFeed(flatBars(30))
	startTime := baseTime.Add(10 * time.Minute)
	endTime := baseTime.Add(20 * time.Minute)

	rig := newRig(t, Config{
		Symbol:        "MES",
		InitialEquity: decimal.NewFromInt(10000),
		StartTime:     startTime,
		EndTime:       endTime,
	}, feed, strategy.RuntimeConfig{}, breakoutStrategy())

	result, err := rig.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Bars != 11 {
		t.Errorf("Bars = %d, want 11", result.Bars)
	}
	for _, point := range result.EquityCurve {
		if point.Timestamp.Before(startTime) || point.Timestamp.After(endTime) {
			t.Errorf("equity point %v outside [%v, %v]", point.Timestamp, startTime, endTime)
		}
	}
}

func TestRunner_Paced(t *testing.T) {
	feed := observer.NewMemoryFeed(flatBars(5))
	rig := newRig(t, Config{Symbol: "MES", InitialEquity: decimal.NewFromInt(10000), EventsPerSecond: 1000},
		feed, strategy.RuntimeConfig{}, breakoutStrategy())

	result, err := rig.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Bars != 5 {
		t.Errorf("Bars = %d, want 5", result.Bars)
	}
}

// stalledFeed never delivers a bar.
type stalledFeed struct{}

func (stalledFeed) Subscribe(context.Context, string) (<-chan types.Bar, error) {
	return make(chan types.Bar), nil
}
func (stalledFeed) Close() error { return nil }
func (stalledFeed) Name() string { return "stalled" }

func TestRunner_ContextCancelled(t *testing.T) {
	rig := newRig(t, Config{Symbol: "MES"}, stalledFeed{}, strategy.RuntimeConfig{}, breakoutStrategy())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := rig.runner.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestRunner_Errors(t *testing.T) {
	rig := newRig(t, Config{}, observer.NewMemoryFeed(nil), strategy.RuntimeConfig{}, breakoutStrategy())
	if _, err := rig.runner.Run(context.Background()); !errors.Is(err, types.ErrInvalidSymbol) {
		t.Errorf("empty symbol err = %v, want ErrInvalidSymbol", err)
	}

	failing := &failingFeed{err: types.ErrDataUnavailable}
	rig = newRig(t, Config{Symbol: "MES"}, failing, strategy.RuntimeConfig{}, breakoutStrategy())
	if _, err := rig.runner.Run(context.Background()); !errors.Is(err, types.ErrDataUnavailable) {
		t.Errorf("feed err = %v, want ErrDataUnavailable", err)
	}
}

type failingFeed struct{ err error }

func (f *failingFeed) Subscribe(context.Context, string) (<-chan types.Bar, error) {
	return nil, f.err
}
func (f *failingFeed) Close() error { return nil }
func (f *failingFeed) Name() string { return "failing" }
