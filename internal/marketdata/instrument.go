// Package marketdata provides per-instrument listener registries that fan out
// quotes, trades and bars to subscribed order processors and stops.
package marketdata

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/fillsim/internal/types"
)

// Feed is a bit set of market data streams.
type Feed uint8

const (
	FeedQuote Feed = 1 << iota
	FeedTrade
	FeedBar
	FeedBarOpen

	FeedNone Feed = 0
	FeedAll       = FeedQuote | FeedTrade | FeedBar | FeedBarOpen
)

// Has reports whether f includes every stream in other.
func (f Feed) Has(other Feed) bool {
	return f&other == other
}

// Listener receives market data for one instrument.
// An error aborts that listener's evaluation; it never stops the fan-out.
type Listener interface {
	OnQuote(q types.Quote) error
	OnTrade(t types.Trade) error
	OnBar(b types.Bar) error
	OnBarOpen(b types.Bar) error
}

// SubscriptionID identifies one listener registration. The zero value is never issued.
type SubscriptionID uint64

type subscription struct {
	id       SubscriptionID
	feeds    Feed
	listener Listener
}

// Instrument holds the last known market state of a symbol and its listeners.
// Delivery is synchronous and follows subscription order.
// Thread-safe for concurrent access.
type Instrument struct {
	symbol string

	mu        sync.RWMutex
	quote     types.Quote
	trade     types.Trade
	bar       types.Bar
	hasQuote  bool
	hasTrade  bool
	hasBar    bool
	nextID    SubscriptionID
	listeners []subscription
}

// NewInstrument creates an instrument with no market state.
func NewInstrument(symbol string) *Instrument {
	return &Instrument{symbol: symbol}
}

// Symbol returns the instrument symbol.
func (i *Instrument) Symbol() string {
	return i.symbol
}

// Subscribe registers a listener for the given feeds.
// Subscribing to FeedNone registers nothing and returns the zero ID.
func (i *Instrument) Subscribe(l Listener, feeds Feed) SubscriptionID {
	if feeds == FeedNone {
		return 0
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.nextID++
	i.listeners = append(i.listeners, subscription{id: i.nextID, feeds: feeds, listener: l})
	return i.nextID
}

// Unsubscribe removes a registration. Returns false if it was not registered,
// which makes repeated calls harmless.
func (i *Instrument) Unsubscribe(id SubscriptionID) bool {
	if id == 0 {
		return false
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for idx, sub := range i.listeners {
		if sub.id == id {
			i.listeners = append(i.listeners[:idx:idx], i.listeners[idx+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of registered listeners.
func (i *Instrument) ListenerCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.listeners)
}

// Quote returns the last quote.
func (i *Instrument) Quote() (types.Quote, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.quote, i.hasQuote
}

// Trade returns the last trade.
func (i *Instrument) Trade() (types.Trade, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.trade, i.hasTrade
}

// Bar returns the last completed bar.
func (i *Instrument) Bar() (types.Bar, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bar, i.hasBar
}

// Price returns the best current price: last trade, else last bar close,
// else the quote midpoint. Zero when nothing is known.
func (i *Instrument) Price() decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()

	switch {
	case i.hasTrade && !i.trade.Price.IsZero():
		return i.trade.Price
	case i.hasBar && !i.bar.Close.IsZero():
		return i.bar.Close
	case i.hasQuote:
		return i.quote.Mid()
	default:
		return decimal.Zero
	}
}

// PublishQuote records the quote and delivers it to quote listeners.
func (i *Instrument) PublishQuote(q types.Quote) error {
	i.mu.Lock()
	i.quote, i.hasQuote = q, true
	subs := i.snapshotLocked(FeedQuote)
	i.mu.Unlock()

	return i.deliver(subs, func(l Listener) error { return l.OnQuote(q) })
}

// PublishTrade records the trade and delivers it to trade listeners.
func (i *Instrument) PublishTrade(t types.Trade) error {
	i.mu.Lock()
	i.trade, i.hasTrade = t, true
	subs := i.snapshotLocked(FeedTrade)
	i.mu.Unlock()

	return i.deliver(subs, func(l Listener) error { return l.OnTrade(t) })
}

// PublishBar records the completed bar and delivers it to bar listeners.
func (i *Instrument) PublishBar(b types.Bar) error {
	i.mu.Lock()
	i.bar, i.hasBar = b, true
	subs := i.snapshotLocked(FeedBar)
	i.mu.Unlock()

	return i.deliver(subs, func(l Listener) error { return l.OnBar(b) })
}

// PublishBarOpen delivers the opening of a new bar. Only Open, Time, Type and
// Size are meaningful; the last completed bar is left unchanged.
func (i *Instrument) PublishBarOpen(b types.Bar) error {
	i.mu.RLock()
	subs := i.snapshotLocked(FeedBarOpen)
	i.mu.RUnlock()

	return i.deliver(subs, func(l Listener) error { return l.OnBarOpen(b) })
}

func (i *Instrument) snapshotLocked(feed Feed) []subscription {
	subs := make([]subscription, 0, len(i.listeners))
	for _, sub := range i.listeners {
		if sub.feeds.Has(feed) {
			subs = append(subs, sub)
		}
	}
	return subs
}

func (i *Instrument) subscribed(id SubscriptionID) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, sub := range i.listeners {
		if sub.id == id {
			return true
		}
	}
	return false
}

// deliver fans out to the snapshot, skipping listeners removed by an earlier
// listener in the same fan-out.
func (i *Instrument) deliver(subs []subscription, fn func(Listener) error) error {
	var errs []error
	for _, sub := range subs {
		if !i.subscribed(sub.id) {
			continue
		}
		if err := fn(sub.listener); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry owns the instruments of one simulation.
type Registry struct {
	mu          sync.Mutex
	instruments map[string]*Instrument
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{instruments: make(map[string]*Instrument)}
}

// Instrument returns the instrument for symbol, creating it on first use.
func (r *Registry) Instrument(symbol string) *Instrument {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instruments[symbol]
	if !ok {
		inst = NewInstrument(symbol)
		r.instruments[symbol] = inst
	}
	return inst
}

// Symbols returns the registered symbols.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols := make([]string, 0, len(r.instruments))
	for s := range r.instruments {
		symbols = append(symbols, s)
	}
	return symbols
}
