// Package metrics defines the Prometheus collectors of the fill simulator
// and a Recorder that updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fillsim"

// Order execution metrics
var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_submitted_total",
		Help:      "Orders accepted by the simulator",
	}, []string{"symbol", "ord_type"})

	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_rejected_total",
		Help:      "Orders or replace requests refused by the simulator",
	}, []string{"reason"})

	OrdersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "orders_active",
		Help:      "Orders currently working in the simulator",
	})

	ExecutionReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "execution_reports_total",
		Help:      "Execution reports emitted",
	}, []string{"symbol", "exec_type"})

	FilledQuantity = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "filled_quantity_total",
		Help:      "Quantity filled",
	}, []string{"symbol", "side"})

	EvaluationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluation_errors_total",
		Help:      "Errors raised while evaluating market data",
	}, []string{"component"})
)

// Stop metrics
var (
	StopsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stops_active",
		Help:      "Position stops currently armed",
	})

	StopTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stop_transitions_total",
		Help:      "Position stop terminal transitions",
	}, []string{"stop_type", "status"})
)

// Backtest metrics
var (
	BarsReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bars_replayed_total",
		Help:      "Bars replayed by the backtest runner",
	})

	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "replay_duration_seconds",
		Help:      "Wall time of a backtest replay",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	StrategyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "strategy_latency_seconds",
		Help:      "Strategy bar handling latency",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
	}, []string{"strategy"})
)

// System metrics
var (
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Errors by type",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information",
	}, []string{"version", "commit", "build_date"})
)

// SetBuildInfo publishes the build information gauge.
func SetBuildInfo(version, commit, buildDate string) {
	BuildInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
