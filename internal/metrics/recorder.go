package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
// A nil *Recorder is valid and records nothing.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrderSubmitted records an order accepted by the simulator.
func (r *Recorder) RecordOrderSubmitted(symbol, ordType string) {
	if r == nil {
		return
	}
	OrdersSubmitted.WithLabelValues(symbol, ordType).Inc()
}

// RecordOrderRejected records a refused order or replace request.
func (r *Recorder) RecordOrderRejected(reason string) {
	if r == nil {
		return
	}
	OrdersRejected.WithLabelValues(reason).Inc()
}

// SetActiveOrders records the number of working orders.
func (r *Recorder) SetActiveOrders(n int) {
	if r == nil {
		return
	}
	OrdersActive.Set(float64(n))
}

// RecordReport records an emitted execution report.
func (r *Recorder) RecordReport(symbol, execType string) {
	if r == nil {
		return
	}
	ExecutionReportsTotal.WithLabelValues(symbol, execType).Inc()
}

// RecordFill records filled quantity.
func (r *Recorder) RecordFill(symbol, side string, qty decimal.Decimal) {
	if r == nil {
		return
	}
	FilledQuantity.WithLabelValues(symbol, side).Add(qty.InexactFloat64())
}

// RecordEvaluationError records an error raised while evaluating market data.
func (r *Recorder) RecordEvaluationError(component string) {
	if r == nil {
		return
	}
	EvaluationErrors.WithLabelValues(component).Inc()
}

// RecordStopArmed records a stop becoming active.
func (r *Recorder) RecordStopArmed() {
	if r == nil {
		return
	}
	StopsActive.Inc()
}

// RecordStopCompleted records a stop leaving the active state.
func (r *Recorder) RecordStopCompleted(stopType, status string) {
	if r == nil {
		return
	}
	StopsActive.Dec()
	StopTransitions.WithLabelValues(stopType, status).Inc()
}

// RecordBar records a replayed bar.
func (r *Recorder) RecordBar() {
	if r == nil {
		return
	}
	BarsReplayed.Inc()
}

// RecordReplayDuration records the wall time of a replay.
func (r *Recorder) RecordReplayDuration(duration time.Duration) {
	if r == nil {
		return
	}
	ReplayDuration.Observe(duration.Seconds())
}

// RecordStrategyLatency records strategy computation latency.
func (r *Recorder) RecordStrategyLatency(strategy string, duration time.Duration) {
	if r == nil {
		return
	}
	StrategyLatency.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	if r == nil {
		return
	}
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveStrategy observes the elapsed time as strategy latency.
func (t *Timer) ObserveStrategy(strategy string) {
	StrategyLatency.WithLabelValues(strategy).Observe(t.Elapsed().Seconds())
}

// ObserveReplay observes the elapsed time as replay duration.
func (t *Timer) ObserveReplay() {
	ReplayDuration.Observe(t.Elapsed().Seconds())
}
