package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens or creates a bar database at path.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	if err := repo.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			bar_type INTEGER NOT NULL,
			bar_size INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			open TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			close TEXT NOT NULL,
			volume INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, bar_type, bar_size, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bars_symbol_ts ON bars(symbol, ts)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveBars upserts bars in a single transaction.
func (r *SQLiteRepository) SaveBars(ctx context.Context, symbol string, bars []types.Bar) error {
	if symbol == "" {
		return fmt.Errorf("save bars: %w", types.ErrInvalidSymbol)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO bars
		(symbol, bar_type, bar_size, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx,
			symbol,
			int(b.Type),
			b.Size,
			b.Time.UnixNano(),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume,
		)
		if err != nil {
			return fmt.Errorf("insert bar %s: %w", b.Time.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadBars returns the symbol's bars ordered by time.
func (r *SQLiteRepository) LoadBars(ctx context.Context, symbol string, from, to time.Time) ([]types.Bar, error) {
	query := `SELECT bar_type, bar_size, ts, open, high, low, close, volume
		FROM bars WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts, bar_type, bar_size`

	lo, hi := int64(0), int64(1<<63-1)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	if !to.IsZero() {
		hi = to.UnixNano()
	}

	rows, err := r.db.QueryContext(ctx, query, symbol, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bars []types.Bar
	for rows.Next() {
		var b types.Bar
		var barType int
		var ts int64
		var open, high, low, close string

		if err := rows.Scan(&barType, &b.Size, &ts, &open, &high, &low, &close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		b.Type = types.BarType(barType)
		b.Time = time.Unix(0, ts).UTC()
		if b.Open, err = decimal.NewFromString(open); err != nil {
			return nil, fmt.Errorf("%w: open %q at %d", types.ErrInvalidPrice, open, ts)
		}
		if b.High, err = decimal.NewFromString(high); err != nil {
			return nil, fmt.Errorf("%w: high %q at %d", types.ErrInvalidPrice, high, ts)
		}
		if b.Low, err = decimal.NewFromString(low); err != nil {
			return nil, fmt.Errorf("%w: low %q at %d", types.ErrInvalidPrice, low, ts)
		}
		if b.Close, err = decimal.NewFromString(close); err != nil {
			return nil, fmt.Errorf("%w: close %q at %d", types.ErrInvalidPrice, close, ts)
		}

		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// Symbols returns the distinct stored symbols.
func (r *SQLiteRepository) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
