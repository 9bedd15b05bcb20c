package observer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

// CSVFeed provides bars from a CSV file.
type CSVFeed struct {
	filePath string
	spec     types.BarSpec
	bars     []types.Bar
	loaded   bool
}

// NewCSVFeed creates a new feed from a CSV file.
// CSV format: timestamp,open,high,low,close[,volume]
// Timestamp format: 2006-01-02 15:04:05 or Unix timestamp
func NewCSVFeed(filePath string, spec types.BarSpec) *CSVFeed {
	return &CSVFeed{
		filePath: filePath,
		spec:     spec,
	}
}

// Subscribe starts sending bars. A CSV file holds a single series, so every
// symbol receives the same bars.
func (f *CSVFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.Bar, error) {
	if !f.loaded {
		if err := f.load(); err != nil {
			return nil, err
		}
	}
	return stream(ctx, f.bars), nil
}

// Close releases resources.
func (f *CSVFeed) Close() error {
	f.bars = nil
	f.loaded = false
	return nil
}

// Name returns the feed identifier.
func (f *CSVFeed) Name() string {
	return "csv"
}

// BarCount returns the number of loaded bars.
func (f *CSVFeed) BarCount() int {
	return len(f.bars)
}

func (f *CSVFeed) load() error {
	file, err := os.Open(f.filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	bars, err := ParseCSV(file, f.spec)
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}

	f.bars = bars
	f.loaded = true
	return nil
}

// ParseCSV parses bars from a CSV reader. A header row is skipped and rows
// that do not parse are ignored.
func ParseCSV(r io.Reader, spec types.BarSpec) ([]types.Bar, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var bars []types.Bar
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			continue
		}

		if len(record) < 5 {
			continue
		}

		bar, err := parseRecord(record)
		if err != nil {
			continue
		}
		bar.Type = spec.Type
		bar.Size = spec.Size

		bars = append(bars, bar)
	}

	return bars, nil
}

func parseRecord(record []string) (types.Bar, error) {
	var bar types.Bar

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return bar, fmt.Errorf("parse timestamp: %w", err)
	}
	bar.Time = ts

	fields := []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close}
	for i, dst := range fields {
		v, err := decimal.NewFromString(record[i+1])
		if err != nil {
			return bar, fmt.Errorf("column %d: %w", i+1, types.ErrInvalidPrice)
		}
		*dst = v
	}

	if len(record) > 5 {
		if vol, err := strconv.ParseInt(record[5], 10, 64); err == nil {
			bar.Volume = vol
		}
	}

	return bar, nil
}

// parseTimestamp tries multiple timestamp formats. Zoneless formats are
// read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	headers := []string{"timestamp", "time", "date", "datetime", "open", "high", "low", "close"}
	first := record[0]
	for _, h := range headers {
		if first == h {
			return true
		}
	}
	return false
}

// MemoryFeed provides bars from an in-memory slice.
// Useful for testing.
type MemoryFeed struct {
	bars []types.Bar
}

// NewMemoryFeed creates a feed from pre-loaded bars.
func NewMemoryFeed(bars []types.Bar) *MemoryFeed {
	return &MemoryFeed{bars: bars}
}

// Subscribe starts sending bars from memory.
func (f *MemoryFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.Bar, error) {
	return stream(ctx, f.bars), nil
}

// Close is a no-op for memory feed.
func (f *MemoryFeed) Close() error {
	return nil
}

// Name returns the feed identifier.
func (f *MemoryFeed) Name() string {
	return "memory"
}

// AddBar adds a bar to the feed.
func (f *MemoryFeed) AddBar(bar types.Bar) {
	f.bars = append(f.bars, bar)
}

func stream(ctx context.Context, bars []types.Bar) <-chan types.Bar {
	ch := make(chan types.Bar, 100)
	go func() {
		defer close(ch)
		for _, bar := range bars {
			select {
			case <-ctx.Done():
				return
			case ch <- bar:
			}
		}
	}()
	return ch
}
