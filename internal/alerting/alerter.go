// Package alerting delivers simulation notifications: stop transitions,
// position lifecycle and backtest start/finish.
package alerting

import "context"

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for conditions worth a look, such as a rejected order.
	SeverityWarning
	// SeverityHigh is for events that change exposure, such as an executed stop.
	SeverityHigh
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message. Fields are
	// alternating key/value pairs as in log/slog.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Event is a pre-defined alert kind.
type Event string

const (
	EventStopExecuted     Event = "stop_executed"
	EventStopCanceled     Event = "stop_canceled"
	EventOrderRejected    Event = "order_rejected"
	EventPositionOpened   Event = "position_opened"
	EventPositionClosed   Event = "position_closed"
	EventBacktestStarted  Event = "backtest_started"
	EventBacktestFinished Event = "backtest_finished"
)

// Severity returns the default severity for an event.
func (e Event) Severity() Severity {
	switch e {
	case EventStopExecuted:
		return SeverityHigh
	case EventOrderRejected:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Send raises an event on a with the event's default severity. The event
// name is added to the fields.
func Send(ctx context.Context, a Alerter, event Event, message string, fields ...any) error {
	if a == nil {
		return nil
	}
	fields = append([]any{"event", string(event)}, fields...)
	return a.Alert(ctx, event.Severity(), message, fields...)
}
