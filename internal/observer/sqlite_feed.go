package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/tathienbao/fillsim/internal/persistence"
	"github.com/tathienbao/fillsim/internal/types"
)

// SQLiteFeed streams bars stored in a persistence.Repository.
type SQLiteFeed struct {
	repo     persistence.Repository
	from, to time.Time
}

// NewSQLiteFeed creates a feed over repo limited to [from, to]. Zero times
// leave the range open.
func NewSQLiteFeed(repo persistence.Repository, from, to time.Time) *SQLiteFeed {
	return &SQLiteFeed{repo: repo, from: from, to: to}
}

// Subscribe loads the symbol's bars and streams them.
func (f *SQLiteFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.Bar, error) {
	bars, err := f.repo.LoadBars(ctx, symbol, f.from, f.to)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", types.ErrDataUnavailable, symbol)
	}
	return stream(ctx, bars), nil
}

// Close closes the underlying repository.
func (f *SQLiteFeed) Close() error {
	return f.repo.Close()
}

// Name returns the feed identifier.
func (f *SQLiteFeed) Name() string {
	return "sqlite"
}
