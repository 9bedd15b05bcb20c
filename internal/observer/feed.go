// Package observer provides bar feeds for replay.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tathienbao/fillsim/internal/types"
)

// BarFeed defines the interface for historical bar sources.
type BarFeed interface {
	// Subscribe starts streaming bars for a symbol in time order.
	// The channel is closed when the context is cancelled or the feed ends.
	Subscribe(ctx context.Context, symbol string) (<-chan types.Bar, error)

	// Close shuts down the feed and releases resources.
	Close() error

	// Name returns the feed identifier (e.g., "csv", "sqlite").
	Name() string
}

// ValidateBar checks the OHLC relationships of a bar.
func ValidateBar(b types.Bar) error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: bar has no timestamp", types.ErrInvalidData)
	}
	if !b.Low.IsPositive() {
		return fmt.Errorf("%w: low %s", types.ErrInvalidPrice, b.Low)
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("%w: high %s below low %s", types.ErrInvalidData, b.High, b.Low)
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return fmt.Errorf("%w: open %s outside [%s, %s]", types.ErrInvalidData, b.Open, b.Low, b.High)
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("%w: close %s outside [%s, %s]", types.ErrInvalidData, b.Close, b.Low, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: volume %d", types.ErrInvalidData, b.Volume)
	}
	return nil
}

// Observer wraps a feed and drops bars that would corrupt a replay:
// malformed OHLC and timestamps that do not move forward.
type Observer struct {
	feed    BarFeed
	spec    types.BarSpec
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewObserver creates a new observer over feed. Bars without a type or size
// are stamped with spec.
func NewObserver(feed BarFeed, spec types.BarSpec, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		feed:   feed,
		spec:   spec,
		logger: logger.With("feed", feed.Name()),
	}
}

// Subscribe starts observing bars for a symbol.
func (o *Observer) Subscribe(ctx context.Context, symbol string) (<-chan types.Bar, error) {
	raw, err := o.feed.Subscribe(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	out := make(chan types.Bar, 100)

	go func() {
		defer close(out)
		var last types.Bar
		for {
			select {
			case <-ctx.Done():
				return
			case bar, ok := <-raw:
				if !ok {
					return
				}
				if bar.Type == 0 {
					bar.Type = o.spec.Type
				}
				if bar.Size == 0 {
					bar.Size = o.spec.Size
				}
				if err := ValidateBar(bar); err != nil {
					o.drop(symbol, bar, err)
					continue
				}
				if !last.Time.IsZero() && !bar.Time.After(last.Time) {
					o.drop(symbol, bar, fmt.Errorf("%w: time %s not after %s", types.ErrInvalidData, bar.Time, last.Time))
					continue
				}
				last = bar
				select {
				case out <- bar:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (o *Observer) drop(symbol string, bar types.Bar, err error) {
	o.dropped.Add(1)
	o.logger.Warn("dropping bar", "symbol", symbol, "time", bar.Time, "error", err)
}

// Dropped returns the number of bars rejected so far.
func (o *Observer) Dropped() int64 {
	return o.dropped.Load()
}

// Name returns the underlying feed identifier.
func (o *Observer) Name() string {
	return o.feed.Name()
}

// Close shuts down the observer.
func (o *Observer) Close() error {
	return o.feed.Close()
}
