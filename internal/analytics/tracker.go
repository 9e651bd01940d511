// Package analytics keeps running counts of published domain events.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/hearth/internal/events"
)

// Count is the number of events of one kind, split by origin.
type Count struct {
	Kind   events.Kind `json:"kind"`
	Local  int         `json:"local"`
	Remote int         `json:"remote"`
}

// Total returns Local + Remote.
func (c Count) Total() int { return c.Local + c.Remote }

// Snapshot is a point-in-time copy of the tracker.
type Snapshot struct {
	Counts      []Count   `json:"counts"`
	Total       int       `json:"total"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
}

// Tracker counts every event on a bus. It never mutates domain state.
type Tracker struct {
	mu     sync.Mutex
	counts map[events.Kind]*Count
	total  int
	last   time.Time

	unsubscribe func()
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[events.Kind]*Count)}
}

// Attach subscribes the tracker to every kind on bus. Attaching again moves
// the subscription.
func (t *Tracker) Attach(bus *events.Bus) {
	t.Detach()
	unsubscribe := bus.SubscribeAll(t)
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
}

// Detach removes the tracker's subscription.
func (t *Tracker) Detach() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// HandleEvent implements events.Handler.
func (t *Tracker) HandleEvent(_ context.Context, ev events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counts[ev.Kind]
	if !ok {
		c = &Count{Kind: ev.Kind}
		t.counts[ev.Kind] = c
	}
	if ev.Origin == events.OriginRemote {
		c.Remote++
	} else {
		c.Local++
	}
	t.total++
	if ev.OccurredAt.After(t.last) {
		t.last = ev.OccurredAt
	}
	return nil
}

// Snapshot returns the current counts ordered by kind.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Counts:      make([]Count, 0, len(t.counts)),
		Total:       t.total,
		LastEventAt: t.last,
	}
	for _, c := range t.counts {
		s.Counts = append(s.Counts, *c)
	}
	sort.Slice(s.Counts, func(i, j int) bool { return s.Counts[i].Kind < s.Counts[j].Kind })
	return s
}

// Reset clears all counts.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = make(map[events.Kind]*Count)
	t.total = 0
	t.last = time.Time{}
}
