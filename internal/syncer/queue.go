package syncer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/hearth/internal/cache"
	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/redact"
)

// CacheKey is where the queue persists its contents.
const CacheKey = "sync/queue"

// Outcome describes what Enqueue did with an operation.
type Outcome int

// Enqueue outcomes.
const (
	// Queued means the operation was added as the entity's queued op.
	Queued Outcome = iota
	// Coalesced means the operation was merged into an already queued op.
	Coalesced
	// Dropped means the operation cancelled out the queued op and nothing
	// remains to be written for the entity.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Queued:
		return "queued"
	case Coalesced:
		return "coalesced"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}

type entry struct {
	seq      uint64
	queued   *Operation
	inFlight *Operation
	voided   bool
}

// Report summarizes the queue for status displays.
type Report struct {
	Pending     int               `json:"pending"`
	InFlight    int               `json:"in_flight"`
	Failed      int               `json:"failed"`
	LastErrors  map[string]string `json:"last_errors,omitempty"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
}

// Queue holds pending operations keyed by entity.
// All methods are safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	seq       uint64
	lastErr   map[Key]string
	failed    int
	closed    bool
	ready     chan struct{}
	clock     clock.Clock
	cache     cache.Cache
	persistMu sync.Mutex
	logger    *slog.Logger
}

// NewQueue creates an empty queue. If c is nil the queue is not persisted.
func NewQueue(clk clock.Clock, c cache.Cache, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		entries: make(map[Key]*entry),
		lastErr: make(map[Key]string),
		ready:   make(chan struct{}, 1),
		clock:   clk,
		cache:   c,
		logger:  logger.With("component", "sync_queue"),
	}
}

// Enqueue adds op to the queue, coalescing it with any op already queued for
// the same entity. An op enqueued while another is in flight for the entity
// waits for it; a delete voids the in-flight op so it is not retried.
func (q *Queue) Enqueue(ctx context.Context, op Operation) (Outcome, error) {
	if err := op.validate(); err != nil {
		return Queued, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Queued, ErrQueueClosed
	}

	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.Status = StatusQueued
	op.LastError = ""
	op.NextAttemptAt = time.Time{}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.clock.Now()
	}

	key := op.Key()
	e := q.entries[key]
	if e == nil {
		q.seq++
		e = &entry{seq: q.seq}
		q.entries[key] = e
	}
	if op.Kind == OpDelete && e.inFlight != nil {
		e.voided = true
	}

	outcome := Queued
	if e.queued == nil {
		e.queued = &op
	} else if merged, keep := coalesce(*e.queued, op); keep {
		merged.Status = StatusQueued
		e.queued = &merged
		outcome = Coalesced
	} else {
		e.queued = nil
		outcome = Dropped
		if e.inFlight == nil {
			delete(q.entries, key)
		}
	}
	q.mu.Unlock()

	q.logger.Debug("enqueued sync operation",
		"entity", key.String(),
		"kind", op.Kind,
		"generation", op.Generation,
		"outcome", outcome.String())

	q.persist(ctx)
	q.notify()
	return outcome, nil
}

// Claim moves up to limit ready operations to in-flight and returns them in
// enqueue order. An operation is ready when no other op for its entity is in
// flight and its retry time has passed. The attempt counter is incremented.
func (q *Queue) Claim(limit int) []Operation {
	if limit <= 0 {
		return nil
	}
	now := q.clock.Now()

	q.mu.Lock()
	keys := q.orderedKeysLocked()
	var claimed []Operation
	for _, key := range keys {
		if len(claimed) == limit {
			break
		}
		e := q.entries[key]
		if e.queued == nil || e.inFlight != nil || e.queued.NextAttemptAt.After(now) {
			continue
		}
		op := *e.queued
		op.Status = StatusInFlight
		op.Attempt++
		e.inFlight = &op
		e.queued = nil
		e.voided = false
		claimed = append(claimed, op)
	}
	q.mu.Unlock()

	if len(claimed) > 0 {
		q.persist(context.Background())
	}
	return claimed
}

// Done records a successful write of op.
func (q *Queue) Done(op Operation) {
	q.mu.Lock()
	key := op.Key()
	if e := q.entries[key]; e != nil && e.inFlight != nil && e.inFlight.ID == op.ID {
		e.inFlight = nil
		e.voided = false
		if e.queued == nil {
			delete(q.entries, key)
		}
	}
	delete(q.lastErr, key)
	q.mu.Unlock()

	q.persist(context.Background())
	q.notify()
}

// Reschedule returns a transiently failed op to the queue, to be retried no
// earlier than at. It is merged with any op queued for the entity meanwhile.
// A voided op is dropped instead. It reports whether the op will be retried.
func (q *Queue) Reschedule(op Operation, cause error, at time.Time) bool {
	q.mu.Lock()
	key := op.Key()
	e := q.entries[key]
	if e == nil || e.inFlight == nil || e.inFlight.ID != op.ID {
		q.mu.Unlock()
		return false
	}
	e.inFlight = nil
	q.lastErr[key] = redact.Message(cause)

	voided := e.voided
	e.voided = false
	if voided {
		if e.queued == nil {
			delete(q.entries, key)
		}
		q.mu.Unlock()
		q.persist(context.Background())
		q.notify()
		return false
	}

	op.Status = StatusQueued
	op.LastError = q.lastErr[key]
	op.NextAttemptAt = at
	if e.queued == nil {
		e.queued = &op
	} else if merged, keep := coalesce(op, *e.queued); keep {
		merged.Status = StatusQueued
		if merged.NextAttemptAt.Before(at) {
			merged.NextAttemptAt = at
		}
		merged.LastError = op.LastError
		e.queued = &merged
	} else {
		e.queued = nil
		delete(q.entries, key)
	}
	q.mu.Unlock()

	q.persist(context.Background())
	q.notify()
	return true
}

// Release returns an in-flight op to the queue without a retry delay. Used
// when the pusher shuts down mid-write. The attempt still counts, since the
// write may have reached the store.
func (q *Queue) Release(op Operation) {
	q.mu.Lock()
	key := op.Key()
	e := q.entries[key]
	if e == nil || e.inFlight == nil || e.inFlight.ID != op.ID {
		q.mu.Unlock()
		return
	}
	e.inFlight = nil
	if e.voided {
		e.voided = false
		if e.queued == nil {
			delete(q.entries, key)
		}
	} else {
		op.Status = StatusQueued
		if e.queued == nil {
			e.queued = &op
		} else if merged, keep := coalesce(op, *e.queued); keep {
			merged.Status = StatusQueued
			e.queued = &merged
		} else {
			e.queued = nil
			delete(q.entries, key)
		}
	}
	q.mu.Unlock()

	q.persist(context.Background())
}

// Fail records the terminal failure of op.
func (q *Queue) Fail(op Operation, cause error) {
	q.mu.Lock()
	key := op.Key()
	if e := q.entries[key]; e != nil && e.inFlight != nil && e.inFlight.ID == op.ID {
		e.inFlight = nil
		e.voided = false
		if e.queued == nil {
			delete(q.entries, key)
		}
	}
	q.lastErr[key] = redact.Message(cause)
	q.failed++
	q.mu.Unlock()

	q.logger.Error("sync operation failed permanently",
		"entity", key.String(),
		"kind", op.Kind,
		"attempt", op.Attempt,
		"error", redact.Error(cause))

	q.persist(context.Background())
	q.notify()
}

// Void discards the queued op for key and marks any in-flight op so it is
// not retried. It reports whether anything was voided.
func (q *Queue) Void(key Key) bool {
	q.mu.Lock()
	voided := q.voidLocked(key, func(Operation) bool { return true })
	q.mu.Unlock()

	if voided {
		q.logger.Debug("voided sync operations", "entity", key.String())
		q.persist(context.Background())
	}
	return voided
}

// VoidActor voids every op produced by actor's commands and returns how many
// entities were affected.
func (q *Queue) VoidActor(actor string) int {
	q.mu.Lock()
	count := 0
	for key := range q.entries {
		if q.voidLocked(key, func(op Operation) bool { return op.Actor == actor }) {
			count++
		}
	}
	q.mu.Unlock()

	if count > 0 {
		q.logger.Info("voided sync operations for actor", "actor", actor, "count", count)
		q.persist(context.Background())
	}
	return count
}

func (q *Queue) voidLocked(key Key, match func(Operation) bool) bool {
	e := q.entries[key]
	if e == nil {
		return false
	}
	voided := false
	if e.queued != nil && match(*e.queued) {
		e.queued = nil
		voided = true
	}
	if e.inFlight != nil && match(*e.inFlight) {
		e.voided = true
		voided = true
	}
	if e.queued == nil && e.inFlight == nil {
		delete(q.entries, key)
	}
	return voided
}

// Ready returns a channel that receives a value whenever the queue changes
// in a way that may make an op claimable.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// NextAttempt returns the earliest future retry time among ops that are only
// waiting on their backoff.
func (q *Queue) NextAttempt() (time.Time, bool) {
	now := q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	var next time.Time
	for _, e := range q.entries {
		if e.queued == nil || e.inFlight != nil || !e.queued.NextAttemptAt.After(now) {
			continue
		}
		if next.IsZero() || e.queued.NextAttemptAt.Before(next) {
			next = e.queued.NextAttemptAt
		}
	}
	return next, !next.IsZero()
}

// Pending returns the queued and in-flight operations in enqueue order.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Status summarizes the queue.
func (q *Queue) Status() Report {
	q.mu.Lock()
	defer q.mu.Unlock()

	r := Report{Failed: q.failed}
	for _, e := range q.entries {
		if e.queued != nil {
			r.Pending++
			if at := e.queued.NextAttemptAt; !at.IsZero() && (r.NextRetryAt == nil || at.Before(*r.NextRetryAt)) {
				r.NextRetryAt = &at
			}
		}
		if e.inFlight != nil {
			r.InFlight++
		}
	}
	if len(q.lastErr) > 0 {
		r.LastErrors = make(map[string]string, len(q.lastErr))
		for k, v := range q.lastErr {
			r.LastErrors[k.String()] = v
		}
	}
	return r
}

// Len returns the number of entities with a queued or in-flight op.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Restore loads operations persisted by a previous run. Ops that were in
// flight when the process stopped are queued again with their attempt count.
func (q *Queue) Restore(ctx context.Context) error {
	if q.cache == nil {
		return nil
	}
	var ops []Operation
	found, err := cache.LoadJSON(ctx, q.cache, CacheKey, &ops)
	if err != nil || !found {
		return err
	}

	q.mu.Lock()
	for _, op := range ops {
		if op.validate() != nil {
			q.logger.Warn("skipping invalid persisted operation", "op_id", op.ID)
			continue
		}
		op.Status = StatusQueued
		key := op.Key()
		e := q.entries[key]
		if e == nil {
			q.seq++
			e = &entry{seq: q.seq}
			q.entries[key] = e
		}
		if e.queued == nil {
			o := op
			e.queued = &o
		} else if merged, keep := coalesce(*e.queued, op); keep {
			e.queued = &merged
		} else {
			delete(q.entries, key)
		}
	}
	count := len(q.entries)
	q.mu.Unlock()

	q.logger.Info("restored sync queue", "entity_count", count)
	q.notify()
	return nil
}

// Close rejects further Enqueue calls. Operations already queued are kept
// and persisted.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.persist(context.Background())
}

// LoadPersisted reads the operations persisted under CacheKey without
// building a queue.
func LoadPersisted(ctx context.Context, c cache.Cache) ([]Operation, error) {
	var ops []Operation
	if _, err := cache.LoadJSON(ctx, c, CacheKey, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

func (q *Queue) orderedKeysLocked() []Key {
	keys := make([]Key, 0, len(q.entries))
	for k := range q.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return q.entries[keys[i]].seq < q.entries[keys[j]].seq })
	return keys
}

func (q *Queue) snapshotLocked() []Operation {
	var ops []Operation
	for _, key := range q.orderedKeysLocked() {
		e := q.entries[key]
		if e.inFlight != nil && !e.voided {
			ops = append(ops, *e.inFlight)
		}
		if e.queued != nil {
			ops = append(ops, *e.queued)
		}
	}
	return ops
}

func (q *Queue) persist(ctx context.Context) {
	if q.cache == nil {
		return
	}
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	ops := q.snapshotLocked()
	q.mu.Unlock()

	if ops == nil {
		ops = []Operation{}
	}
	if err := cache.StoreJSON(ctx, q.cache, CacheKey, ops); err != nil {
		q.logger.Error("failed to persist sync queue", "error", err)
	}
}
