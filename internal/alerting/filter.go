package alerting

import (
	"context"
	"fmt"
)

// FilterAlerter forwards only the listed events. Alerts without an event
// field always pass.
type FilterAlerter struct {
	next   Alerter
	events map[Event]bool
}

// NewFilterAlerter wraps next. An empty event list forwards everything.
func NewFilterAlerter(next Alerter, events ...Event) *FilterAlerter {
	set := make(map[Event]bool, len(events))
	for _, e := range events {
		set[e] = true
	}
	return &FilterAlerter{next: next, events: set}
}

// ParseEvent validates an event name.
func ParseEvent(s string) (Event, error) {
	switch e := Event(s); e {
	case EventStopExecuted, EventStopCanceled, EventOrderRejected,
		EventPositionOpened, EventPositionClosed,
		EventBacktestStarted, EventBacktestFinished:
		return e, nil
	default:
		return "", fmt.Errorf("unknown alert event %q", s)
	}
}

// Name returns the name of the wrapped alerter.
func (f *FilterAlerter) Name() string {
	return f.next.Name()
}

// Alert forwards the alert when its event is enabled.
func (f *FilterAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if len(f.events) > 0 {
		if e, ok := eventField(fields); ok && !f.events[e] {
			return nil
		}
	}
	return f.next.Alert(ctx, severity, message, fields...)
}

func eventField(fields []any) (Event, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == "event" {
			v, ok := fields[i+1].(string)
			return Event(v), ok
		}
	}
	return "", false
}
