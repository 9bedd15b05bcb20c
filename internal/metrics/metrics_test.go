package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestRecorder_RecordReport(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(ExecutionReportsTotal.WithLabelValues("MES", "Fill"))
	r.RecordReport("MES", "Fill")
	r.RecordReport("MES", "Fill")
	r.RecordReport("MES", "Cancelled")

	got := testutil.ToFloat64(ExecutionReportsTotal.WithLabelValues("MES", "Fill")) - before
	if got != 2 {
		t.Errorf("fill reports = %v, want 2", got)
	}
}

func TestRecorder_RecordFill(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(FilledQuantity.WithLabelValues("MGC", "Buy"))
	r.RecordFill("MGC", "Buy", decimal.NewFromInt(3))
	r.RecordFill("MGC", "Buy", decimal.RequireFromString("1.5"))

	got := testutil.ToFloat64(FilledQuantity.WithLabelValues("MGC", "Buy")) - before
	if got != 4.5 {
		t.Errorf("filled = %v, want 4.5", got)
	}
}

func TestRecorder_ActiveOrders(t *testing.T) {
	r := NewRecorder()

	r.SetActiveOrders(7)
	if got := testutil.ToFloat64(OrdersActive); got != 7 {
		t.Errorf("OrdersActive = %v, want 7", got)
	}
	r.SetActiveOrders(0)
	if got := testutil.ToFloat64(OrdersActive); got != 0 {
		t.Errorf("OrdersActive = %v, want 0", got)
	}
}

func TestRecorder_StopLifecycle(t *testing.T) {
	r := NewRecorder()

	active := testutil.ToFloat64(StopsActive)
	r.RecordStopArmed()
	r.RecordStopArmed()
	r.RecordStopCompleted("Trailing", "Executed")

	if got := testutil.ToFloat64(StopsActive) - active; got != 1 {
		t.Errorf("StopsActive delta = %v, want 1", got)
	}
	r.RecordStopCompleted("Stop", "Canceled")
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder

	// Must not panic.
	r.RecordOrderSubmitted("MES", "Market")
	r.RecordOrderRejected("duplicate")
	r.SetActiveOrders(1)
	r.RecordReport("MES", "Fill")
	r.RecordFill("MES", "Buy", decimal.NewFromInt(1))
	r.RecordEvaluationError("processor")
	r.RecordStopArmed()
	r.RecordStopCompleted("Stop", "Executed")
	r.RecordBar()
	r.RecordReplayDuration(time.Second)
	r.RecordStrategyLatency("breakout", time.Millisecond)
	r.RecordError("feed")
}

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.RecordOrderSubmitted("MES", "Limit")
	r.RecordOrderRejected("invalid_size")
	r.RecordEvaluationError("stop")
	r.RecordBar()
	r.RecordReplayDuration(250 * time.Millisecond)
	r.RecordStrategyLatency("breakout", 500*time.Microsecond)
	r.RecordError("feed")
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	elapsed := timer.Elapsed()
	if elapsed < 10*time.Millisecond {
		t.Errorf("elapsed = %v, expected >= 10ms", elapsed)
	}
	timer.ObserveStrategy("breakout")
	timer.ObserveReplay()
}

func TestSetBuildInfo(t *testing.T) {
	SetBuildInfo("1.0.0", "abc123", "2026-01-01")
	if got := testutil.ToFloat64(BuildInfo.WithLabelValues("1.0.0", "abc123", "2026-01-01")); got != 1 {
		t.Errorf("build_info = %v, want 1", got)
	}
}

func TestMetricsRegistered(t *testing.T) {
	// promauto registers on the default registry; a collector that was not
	// registered would be accepted again here.
	metrics := []prometheus.Collector{
		OrdersSubmitted,
		OrdersRejected,
		OrdersActive,
		ExecutionReportsTotal,
		FilledQuantity,
		EvaluationErrors,
		StopsActive,
		StopTransitions,
		BarsReplayed,
		ReplayDuration,
		StrategyLatency,
		ErrorsTotal,
		BuildInfo,
	}

	for _, m := range metrics {
		if m == nil {
			t.Fatal("metric is nil")
		}
		err := prometheus.Register(m)
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			t.Errorf("Register() err = %v, want AlreadyRegisteredError", err)
		}
	}
}
