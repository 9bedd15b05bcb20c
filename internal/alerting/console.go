package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to a slog logger.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a console alerter. A nil logger uses slog.Default.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("component", "alert")}
}

// Name returns the name of the alerter.
func (c *ConsoleAlerter) Name() string {
	return "console"
}

// Alert logs the alert at the slog level matching its severity.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	level := slog.LevelInfo
	if severity >= SeverityWarning {
		level = slog.LevelWarn
	}

	attrs := append([]any{"severity", severity.String()}, fields...)
	c.logger.Log(ctx, level, message, attrs...)
	return nil
}
