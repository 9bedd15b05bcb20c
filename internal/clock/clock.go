// Package clock provides the deterministic simulation clock and its one-shot
// reminder service.
package clock

import (
	"container/heap"
	"sync"
	"time"
)

// TimerID identifies a scheduled reminder. The zero value is never issued.
type TimerID uint64

// Scheduler schedules and cancels one-shot callbacks on simulation time.
type Scheduler interface {
	Now() time.Time
	Schedule(at time.Time, fn func(now time.Time)) TimerID
	Cancel(id TimerID) bool
}

type reminder struct {
	id    TimerID
	at    time.Time
	seq   uint64
	fn    func(now time.Time)
	index int
}

type reminderHeap []*reminder

func (h reminderHeap) Len() int { return len(h) }

func (h reminderHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h reminderHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *reminderHeap) Push(x any) {
	r := x.(*reminder)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *reminderHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// Clock is a simulation clock advanced explicitly by the replay driver.
// Reminders fire at most once, in time order, during Advance.
// Thread-safe for concurrent access.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	nextID  TimerID
	seq     uint64
	pending reminderHeap
	byID    map[TimerID]*reminder
}

// New creates a clock starting at the given time.
func New(start time.Time) *Clock {
	return &Clock{
		now:  start,
		byID: make(map[TimerID]*reminder),
	}
}

// Now returns the current simulation time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule registers fn to run once when the clock reaches at.
// A time at or before Now fires on the next Advance.
func (c *Clock) Schedule(at time.Time, fn func(now time.Time)) TimerID {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.seq++
	r := &reminder{id: c.nextID, at: at, seq: c.seq, fn: fn}
	heap.Push(&c.pending, r)
	c.byID[r.id] = r
	return r.id
}

// Cancel removes a pending reminder. Returns false if it already fired or was
// cancelled before.
func (c *Clock) Cancel(id TimerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&c.pending, r.index)
	delete(c.byID, id)
	return true
}

// Pending returns the number of reminders not yet fired.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// Advance moves the clock to t, firing every due reminder in time order.
// The clock never moves backwards. Callbacks run without the clock lock held,
// so they may schedule or cancel other reminders.
func (c *Clock) Advance(t time.Time) int {
	fired := 0
	for {
		c.mu.Lock()
		if len(c.pending) == 0 || c.pending[0].at.After(t) {
			if t.After(c.now) {
				c.now = t
			}
			c.mu.Unlock()
			return fired
		}
		r := heap.Pop(&c.pending).(*reminder)
		delete(c.byID, r.id)
		if r.at.After(c.now) {
			c.now = r.at
		}
		now := c.now
		c.mu.Unlock()

		r.fn(now)
		fired++
	}
}
