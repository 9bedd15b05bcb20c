package observer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

var feedStart = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

// mockFeed implements BarFeed for testing.
type mockFeed struct {
	bars   []types.Bar
	err    error
	closed bool
}

func (m *mockFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.Bar, error) {
	if m.err != nil {
		return nil, m.err
	}
	return stream(ctx, m.bars), nil
}

func (m *mockFeed) Close() error {
	m.closed = true
	return nil
}

func (m *mockFeed) Name() string {
	return "mock"
}

func testBar(minute int, open, high, low, close int64) types.Bar {
	return types.Bar{
		Time:  feedStart.Add(time.Duration(minute) * time.Minute),
		Open:  decimal.NewFromInt(open),
		High:  decimal.NewFromInt(high),
		Low:   decimal.NewFromInt(low),
		Close: decimal.NewFromInt(close),
	}
}

func collect(t *testing.T, ch <-chan types.Bar) []types.Bar {
	t.Helper()
	var bars []types.Bar
	for bar := range ch {
		bars = append(bars, bar)
	}
	return bars
}

func TestValidateBar(t *testing.T) {
	tests := []struct {
		name    string
		bar     types.Bar
		wantErr error
	}{
		{"valid", testBar(0, 100, 105, 95, 102), nil},
		{"flat", testBar(0, 100, 100, 100, 100), nil},
		{"no time", types.Bar{Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1)}, types.ErrInvalidData},
		{"zero low", testBar(0, 1, 2, 0, 1), types.ErrInvalidPrice},
		{"high below low", testBar(0, 100, 90, 95, 92), types.ErrInvalidData},
		{"open above high", testBar(0, 106, 105, 95, 100), types.ErrInvalidData},
		{"close below low", testBar(0, 100, 105, 95, 94), types.ErrInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBar(tt.bar)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestObserver_StampsSpec(t *testing.T) {
	feed := &mockFeed{bars: []types.Bar{testBar(0, 100, 101, 99, 100)}}
	obs := NewObserver(feed, minuteBars, nil)

	ch, err := obs.Subscribe(context.Background(), "MES")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bars := collect(t, ch)
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	if bars[0].Type != types.BarTypeTime || bars[0].Size != 60 {
		t.Errorf("bar spec = %v/%d, want time/60", bars[0].Type, bars[0].Size)
	}
}

func TestObserver_DropsInvalidBars(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	feed := &mockFeed{bars: []types.Bar{
		testBar(0, 100, 101, 99, 100),
		testBar(1, 100, 90, 99, 100), // high below low
		testBar(1, 100, 102, 99, 101),
		testBar(1, 101, 103, 100, 102), // same timestamp
		testBar(0, 101, 103, 100, 102), // goes back in time
		testBar(2, 102, 104, 101, 103),
	}}
	obs := NewObserver(feed, minuteBars, logger)

	ch, err := obs.Subscribe(context.Background(), "MES")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	bars := collect(t, ch)

	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			t.Errorf("bar %d not after bar %d", i, i-1)
		}
	}
	if obs.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", obs.Dropped())
	}
	if !strings.Contains(buf.String(), "dropping bar") || !strings.Contains(buf.String(), "feed=mock") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestObserver_SubscribeError(t *testing.T) {
	feed := &mockFeed{err: types.ErrDataUnavailable}
	obs := NewObserver(feed, minuteBars, nil)

	if _, err := obs.Subscribe(context.Background(), "MES"); !errors.Is(err, types.ErrDataUnavailable) {
		t.Errorf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestObserver_Close(t *testing.T) {
	feed := &mockFeed{}
	obs := NewObserver(feed, minuteBars, nil)

	if obs.Name() != "mock" {
		t.Errorf("Name() = %s", obs.Name())
	}
	if err := obs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !feed.closed {
		t.Error("feed not closed")
	}
}

func TestObserver_ContextCancelled(t *testing.T) {
	bars := make([]types.Bar, 1000)
	for i := range bars {
		bars[i] = testBar(i, 100, 101, 99, 100)
	}
	obs := NewObserver(&mockFeed{bars: bars}, minuteBars, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := obs.Subscribe(ctx, "MES")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	<-ch
	cancel()

	received := 1
	for range ch {
		received++
	}
	if received >= len(bars) {
		t.Errorf("received all %d bars after cancel", received)
	}
}
