// Package backtest replays historical bars through the fill simulator.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/tathienbao/fillsim/internal/alerting"
	"github.com/tathienbao/fillsim/internal/clock"
	"github.com/tathienbao/fillsim/internal/execution"
	"github.com/tathienbao/fillsim/internal/marketdata"
	"github.com/tathienbao/fillsim/internal/metrics"
	"github.com/tathienbao/fillsim/internal/observer"
	"github.com/tathienbao/fillsim/internal/strategy"
	"github.com/tathienbao/fillsim/internal/types"
)

// ProgressUpdate contains info for progress reporting.
type ProgressUpdate struct {
	Bar        int
	Time       time.Time
	Close      decimal.Decimal
	Equity     decimal.Decimal
	Trades     int
	OpenOrders int
}

// ProgressCallback is called after each bar.
type ProgressCallback func(update ProgressUpdate)

// Config holds backtest configuration.
type Config struct {
	Symbol          string
	InitialEquity   decimal.Decimal
	StartTime       time.Time // Bars before are skipped
	EndTime         time.Time // Replay stops after
	EventsPerSecond float64   // Replay pacing; zero runs unpaced
}

// Result holds backtest results.
type Result struct {
	Symbol        string
	Bars          int
	StartTime     time.Time
	EndTime       time.Time
	Reports       map[types.ExecType]int
	Fills         int // Fills and partial fills
	Cancels       int
	Rejects       int // Orders refused at submission
	StopsExecuted int
	StopsCanceled int
	StartEquity   decimal.Decimal
	EndEquity     decimal.Decimal
	RealizedPL    decimal.Decimal // Net of commission
	Commission    decimal.Decimal
	Trades        []strategy.Trade
	EquityCurve   []EquityPoint
	OpenPosition  *types.Position
	Performance   Performance
}

// EquityPoint represents equity at a bar close.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// Runner drives one symbol's bars through the clock, the instrument and the
// strategy runtime. The simulator's report handler must already point at
// the runtime.
type Runner struct {
	cfg         Config
	feed        observer.BarFeed
	clock       *clock.Clock
	instruments *marketdata.Registry
	sim         *execution.Simulator
	runtime     *strategy.Runtime
	limiter     *rate.Limiter
	logger      *slog.Logger
	alerter     alerting.Alerter
	recorder    *metrics.Recorder
	progressCb  ProgressCallback

	equityCurve []EquityPoint
	highWater   decimal.Decimal
	barCount    int
	first, last time.Time
}

// NewRunner creates a new backtest runner.
func NewRunner(
	cfg Config,
	feed observer.BarFeed,
	clk *clock.Clock,
	instruments *marketdata.Registry,
	sim *execution.Simulator,
	rt *strategy.Runtime,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), 1)
	}

	return &Runner{
		cfg:         cfg,
		feed:        feed,
		clock:       clk,
		instruments: instruments,
		sim:         sim,
		runtime:     rt,
		limiter:     limiter,
		logger:      logger.With("component", "backtest", "symbol", cfg.Symbol),
		highWater:   cfg.InitialEquity,
	}
}

// SetAlerter sets the alerter for start and finish notifications.
func (r *Runner) SetAlerter(a alerting.Alerter) {
	r.alerter = a
}

// SetRecorder sets the metrics recorder.
func (r *Runner) SetRecorder(rec *metrics.Recorder) {
	r.recorder = rec
}

// SetProgressCallback sets a callback for progress updates.
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.progressCb = cb
}

// Run replays the feed to completion or until ctx is cancelled. Each bar
// advances the clock, is published as a bar open and then as a completed
// bar, and is then handed to the strategy.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.cfg.Symbol == "" {
		return nil, fmt.Errorf("run backtest: %w", types.ErrInvalidSymbol)
	}

	bars, err := r.feed.Subscribe(ctx, r.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("subscribe to feed: %w", err)
	}

	timer := metrics.NewTimer()
	inst := r.instruments.Instrument(r.cfg.Symbol)

	r.logger.Info("backtest started", "feed", r.feed.Name(), "equity", r.cfg.InitialEquity.String())
	_ = alerting.Send(ctx, r.alerter, alerting.EventBacktestStarted, "backtest started",
		"symbol", r.cfg.Symbol, "feed", r.feed.Name())

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case bar, ok := <-bars:
			if !ok {
				return r.finish(ctx, timer), nil
			}

			if !r.cfg.StartTime.IsZero() && bar.Time.Before(r.cfg.StartTime) {
				continue
			}
			if !r.cfg.EndTime.IsZero() && bar.Time.After(r.cfg.EndTime) {
				return r.finish(ctx, timer), nil
			}

			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return nil, fmt.Errorf("pace replay: %w", err)
				}
			}

			if err := r.step(ctx, inst, bar); err != nil {
				return nil, err
			}
		}
	}
}

func (r *Runner) step(ctx context.Context, inst *marketdata.Instrument, bar types.Bar) error {
	r.clock.Advance(bar.Time)

	open := types.Bar{Time: bar.Time, Type: bar.Type, Size: bar.Size, Open: bar.Open}
	if err := inst.PublishBarOpen(open); err != nil {
		r.listenerError("bar_open", bar, err)
	}

	// Fills against the completed bar happen at its close.
	r.clock.Advance(closeTime(bar))
	if err := inst.PublishBar(bar); err != nil {
		r.listenerError("bar", bar, err)
	}

	if err := r.runtime.OnBar(ctx, r.cfg.Symbol, bar); err != nil {
		return fmt.Errorf("strategy on bar %s: %w", bar.Time.Format(time.RFC3339), err)
	}

	if r.barCount == 0 {
		r.first = bar.Time
	}
	r.last = bar.Time
	r.barCount++
	r.recorder.RecordBar()

	equity := r.equity(bar)
	r.recordEquity(bar.Time, equity)

	if r.progressCb != nil {
		r.progressCb(ProgressUpdate{
			Bar:        r.barCount,
			Time:       bar.Time,
			Close:      bar.Close,
			Equity:     equity,
			Trades:     r.runtime.Stats().ClosedTrades,
			OpenOrders: r.runtime.OpenOrders(),
		})
	}
	return nil
}

// closeTime returns when a bar completes. Only time bars have a known
// duration; other bars are stamped with their own time.
func closeTime(bar types.Bar) time.Time {
	if bar.Type == types.BarTypeTime && bar.Size > 0 {
		return bar.Time.Add(time.Duration(bar.Size) * time.Second)
	}
	return bar.Time
}

// listenerError logs a failed market data delivery. Listeners have already
// seen the bar, so the replay continues.
func (r *Runner) listenerError(feed string, bar types.Bar, err error) {
	r.logger.Warn("listener error", "feed", feed, "time", bar.Time, "error", err)
	r.recorder.RecordError("listener")
}

// equity marks the open position to the bar close.
func (r *Runner) equity(bar types.Bar) decimal.Decimal {
	equity := r.cfg.InitialEquity.Add(r.runtime.Stats().RealizedPL)

	pos, ok := r.runtime.Position(r.cfg.Symbol)
	if !ok {
		return equity
	}
	pointValue := decimal.NewFromInt(1)
	if spec, ok := types.GetInstrumentSpec(r.cfg.Symbol); ok {
		pointValue = spec.PointValue
	}
	open := bar.Close.Sub(pos.EntryPrice).Mul(pos.Qty).Mul(pointValue)
	if pos.Side == types.PositionShort {
		open = open.Neg()
	}
	return equity.Add(open)
}

func (r *Runner) recordEquity(timestamp time.Time, equity decimal.Decimal) {
	if equity.GreaterThan(r.highWater) {
		r.highWater = equity
	}

	var drawdown decimal.Decimal
	if r.highWater.IsPositive() {
		drawdown = r.highWater.Sub(equity).Div(r.highWater)
	}

	r.equityCurve = append(r.equityCurve, EquityPoint{
		Timestamp: timestamp,
		Equity:    equity,
		Drawdown:  drawdown,
	})
}

func (r *Runner) finish(ctx context.Context, timer *metrics.Timer) *Result {
	result := r.calculateResults()
	r.recorder.RecordReplayDuration(timer.Elapsed())

	r.logger.Info("backtest finished",
		"bars", result.Bars,
		"fills", result.Fills,
		"trades", len(result.Trades),
		"realized_pl", result.RealizedPL.String(),
		"duration", timer.Elapsed(),
	)
	if err := alerting.Send(ctx, r.alerter, alerting.EventBacktestFinished, "backtest finished",
		"symbol", r.cfg.Symbol, "bars", result.Bars, "realized_pl", result.RealizedPL.String()); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("finish alert failed", "error", err)
	}
	return result
}

func (r *Runner) calculateResults() *Result {
	stats := r.runtime.Stats()

	result := &Result{
		Symbol:        r.cfg.Symbol,
		Bars:          r.barCount,
		StartTime:     r.first,
		EndTime:       r.last,
		Reports:       make(map[types.ExecType]int),
		Rejects:       stats.Rejected,
		StopsExecuted: stats.StopsExecuted,
		StopsCanceled: stats.StopsCanceled,
		StartEquity:   r.cfg.InitialEquity,
		EndEquity:     r.cfg.InitialEquity,
		RealizedPL:    stats.RealizedPL,
		Commission:    stats.Commission,
		Trades:        r.runtime.Trades(),
		EquityCurve:   r.equityCurve,
	}

	for _, rep := range r.sim.Reports() {
		result.Reports[rep.ExecType]++
		switch rep.ExecType {
		case types.ExecTypeFill, types.ExecTypePartialFill:
			result.Fills++
		case types.ExecTypeCancelled:
			result.Cancels++
		}
	}

	if n := len(r.equityCurve); n > 0 {
		result.EndEquity = r.equityCurve[n-1].Equity
	}
	if pos, ok := r.runtime.Position(r.cfg.Symbol); ok {
		result.OpenPosition = &pos
	}
	result.Performance = ComputePerformance(result.Trades, result.EquityCurve, decimal.Zero)

	return result
}
