// Package persistence stores historical market data for replay.
package persistence

import (
	"context"
	"time"

	"github.com/tathienbao/fillsim/internal/types"
)

// Repository defines the interface for bar storage.
type Repository interface {
	// SaveBars upserts bars for a symbol. Bars are keyed by symbol, bar
	// type, bar size and time.
	SaveBars(ctx context.Context, symbol string, bars []types.Bar) error

	// LoadBars returns the symbol's bars in time order. A zero from or to
	// leaves that side of the range open.
	LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error)

	// Symbols returns the stored symbols, sorted.
	Symbols(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
