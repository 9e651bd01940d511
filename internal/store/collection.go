package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/hearth/internal/cache"
	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
	"github.com/phrazzld/hearth/internal/remote"
	"github.com/phrazzld/hearth/internal/syncer"
)

// SyncQueue receives the operations produced by commands.
type SyncQueue interface {
	Enqueue(ctx context.Context, op syncer.Operation) (syncer.Outcome, error)
	Void(key syncer.Key) bool
}

// schema describes how the generic collection handles one entity type.
type schema[E any] struct {
	entity   domain.EntityType
	kinds    events.EntityKinds
	notFound error
	meta     func(*E) *domain.Meta
	payload  func(cur E, prev *E) events.Payload

	// retain keeps every id that ever held an entity, surviving deletes,
	// and refuses to insert one of them again.
	retain bool
}

type record[E any] struct {
	Entity     E      `json:"entity"`
	Pending    bool   `json:"pending"`
	Generation uint64 `json:"generation"`
}

// tombstone marks a locally deleted entity whose delete is not yet acknowledged.
type tombstone struct {
	Generation uint64    `json:"generation"`
	DeletedAt  time.Time `json:"deleted_at"`
}

type snapshot[E any] struct {
	Records    []record[E]          `json:"records"`
	Tombstones map[string]tombstone `json:"tombstones,omitempty"`
	Retained   []string             `json:"retained,omitempty"`
}

type mutatingKey struct {
	entity domain.EntityType
}

// collection is the state of one domain.
//
// mu serializes mutations, including event publication and enqueueing.
// stateMu guards the maps and is only held briefly, so handlers can read
// the collection while a mutation is dispatching.
type collection[E any] struct {
	schema schema[E]
	bus    *events.Bus
	queue  SyncQueue
	cache  cache.Cache
	clock  clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	stateMu    sync.RWMutex
	items      map[string]*record[E]
	order      []string
	tombstones map[string]tombstone
	retained   map[string]struct{}
}

func newCollection[E any](s schema[E], d Deps) *collection[E] {
	return &collection[E]{
		schema:     s,
		bus:        d.Bus,
		queue:      d.Queue,
		cache:      d.Cache,
		clock:      d.Clock,
		logger:     d.Logger.With("component", "store", "entity", string(s.entity)),
		items:      make(map[string]*record[E]),
		tombstones: make(map[string]tombstone),
		retained:   make(map[string]struct{}),
	}
}

// lock acquires the mutation lock unless ctx shows this goroutine already
// holds it, and returns ctx marked accordingly.
func (c *collection[E]) lock(ctx context.Context) (context.Context, func(), error) {
	key := mutatingKey{entity: c.schema.entity}
	if ctx.Value(key) != nil {
		return ctx, nil, fmt.Errorf("%w: %s", ErrReentrantMutation, c.schema.entity)
	}
	c.mu.Lock()
	return context.WithValue(ctx, key, true), c.mu.Unlock, nil
}

// stamp returns the current time, forced past prev so every version of an
// entity has a distinct timestamp. Microsecond precision matches the remote
// store, so echoes of our own writes compare equal.
func (c *collection[E]) stamp(prev time.Time) time.Time {
	now := c.clock.Now().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (c *collection[E]) insert(ctx context.Context, e E) (E, error) {
	ctx, unlock, err := c.lock(ctx)
	if err != nil {
		return e, err
	}
	defer unlock()

	m := c.schema.meta(&e)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	id := m.ID

	c.stateMu.Lock()
	if _, exists := c.items[id]; exists || c.wasRetainedLocked(id) {
		c.stateMu.Unlock()
		return e, fmt.Errorf("%w: %s %s", ErrDuplicate, c.schema.entity, id)
	}
	prevTomb, hadTomb := c.tombstones[id]
	m.UpdatedAt = c.stamp(prevTomb.DeletedAt)
	m.PendingSync = true
	gen := prevTomb.Generation + 1
	delete(c.tombstones, id)
	c.items[id] = &record[E]{Entity: e, Pending: true, Generation: gen}
	c.order = append(c.order, id)
	c.stateMu.Unlock()

	if err := c.bus.Publish(ctx, c.schema.kinds.Created, c.schema.payload(e, nil)); err != nil {
		c.stateMu.Lock()
		delete(c.items, id)
		c.dropOrder(id)
		if hadTomb {
			c.tombstones[id] = prevTomb
		}
		c.stateMu.Unlock()
		return e, fmt.Errorf("failed to publish %s: %w", c.schema.kinds.Created, err)
	}

	c.stateMu.Lock()
	c.retainLocked(id)
	c.stateMu.Unlock()

	c.enqueue(ctx, syncer.OpCreate, e, gen, m.UpdatedAt)
	c.persist(ctx)
	return e, nil
}

func (c *collection[E]) update(ctx context.Context, id string, mutate func(e *E, now time.Time)) (E, error) {
	var zero E
	ctx, unlock, err := c.lock(ctx)
	if err != nil {
		return zero, err
	}
	defer unlock()

	c.stateMu.Lock()
	rec, ok := c.items[id]
	if !ok {
		c.stateMu.Unlock()
		return zero, fmt.Errorf("%w: %s", c.schema.notFound, id)
	}
	saved := *rec
	prev := rec.Entity

	next := rec.Entity
	now := c.stamp(c.schema.meta(&prev).UpdatedAt)
	mutate(&next, now)
	m := c.schema.meta(&next)
	m.UpdatedAt = now
	m.PendingSync = true

	rec.Entity = next
	rec.Pending = true
	rec.Generation++
	gen := rec.Generation
	c.stateMu.Unlock()

	if err := c.bus.Publish(ctx, c.schema.kinds.Updated, c.schema.payload(next, &prev)); err != nil {
		c.stateMu.Lock()
		*rec = saved
		c.stateMu.Unlock()
		return zero, fmt.Errorf("failed to publish %s: %w", c.schema.kinds.Updated, err)
	}

	c.enqueue(ctx, syncer.OpUpdate, next, gen, now)
	c.persist(ctx)
	return next, nil
}

func (c *collection[E]) remove(ctx context.Context, id string) (E, error) {
	var zero E
	ctx, unlock, err := c.lock(ctx)
	if err != nil {
		return zero, err
	}
	defer unlock()

	c.stateMu.Lock()
	rec, ok := c.items[id]
	if !ok {
		c.stateMu.Unlock()
		return zero, fmt.Errorf("%w: %s", c.schema.notFound, id)
	}
	saved := *rec
	deletedAt := c.stamp(c.schema.meta(&rec.Entity).UpdatedAt)
	gen := rec.Generation + 1
	delete(c.items, id)
	idx := c.dropOrder(id)
	c.tombstones[id] = tombstone{Generation: gen, DeletedAt: deletedAt}
	c.stateMu.Unlock()

	if err := c.bus.Publish(ctx, c.schema.kinds.Deleted, c.schema.payload(saved.Entity, nil)); err != nil {
		c.stateMu.Lock()
		delete(c.tombstones, id)
		c.items[id] = &saved
		c.insertOrder(idx, id)
		c.stateMu.Unlock()
		return zero, fmt.Errorf("failed to publish %s: %w", c.schema.kinds.Deleted, err)
	}

	if c.enqueue(ctx, syncer.OpDelete, saved.Entity, gen, deletedAt) == syncer.Dropped {
		// The remote never saw the entity.
		c.stateMu.Lock()
		delete(c.tombstones, id)
		c.stateMu.Unlock()
	}
	c.persist(ctx)
	return saved.Entity, nil
}

func (c *collection[E]) enqueue(ctx context.Context, kind syncer.OpKind, e E, gen uint64, at time.Time) syncer.Outcome {
	op := syncer.Operation{
		Entity:     c.schema.entity,
		EntityID:   c.schema.meta(&e).ID,
		Kind:       kind,
		UpdatedAt:  at,
		Generation: gen,
		Actor:      domain.ActorFromContext(ctx),
	}
	if kind != syncer.OpDelete {
		state, err := json.Marshal(e)
		if err != nil {
			c.logger.Error("failed to encode entity for sync", "id", op.EntityID, "error", err)
			return syncer.Queued
		}
		op.State = state
	}

	outcome, err := c.queue.Enqueue(ctx, op)
	if err != nil {
		c.logger.Warn("sync operation not queued",
			"id", op.EntityID,
			"kind", kind,
			"error", err)
	}
	return outcome
}

// acknowledge clears pendingSync or the tombstone when op is the latest
// operation produced for the entity.
func (c *collection[E]) acknowledge(ctx context.Context, op syncer.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	c.stateMu.Lock()
	if rec, ok := c.items[op.EntityID]; ok && rec.Pending && rec.Generation == op.Generation {
		rec.Pending = false
		c.schema.meta(&rec.Entity).PendingSync = false
		changed = true
	}
	if ts, ok := c.tombstones[op.EntityID]; ok && ts.Generation == op.Generation {
		delete(c.tombstones, op.EntityID)
		changed = true
	}
	c.stateMu.Unlock()

	if changed {
		c.persist(ctx)
	} else {
		c.logger.Debug("ignoring acknowledgement of superseded operation",
			"id", op.EntityID,
			"generation", op.Generation)
	}
}

func (c *collection[E]) applyRemote(ctx context.Context, change remote.Change) (Result, error) {
	ctx, unlock, err := c.lock(ctx)
	if err != nil {
		return Result{}, err
	}
	defer unlock()
	ctx = events.WithOrigin(ctx, events.OriginRemote)

	id := change.ID
	key := syncer.Key{Entity: c.schema.entity, ID: id}

	var incoming E
	if change.Type == remote.ChangeUpsert {
		if err := json.Unmarshal(change.Data, &incoming); err != nil {
			return Result{}, &StoreError{Entity: c.schema.entity, Op: OpApplyRemote, ID: id, Err: fmt.Errorf("decode document: %w", err)}
		}
		m := c.schema.meta(&incoming)
		m.ID = id
		m.UpdatedAt = change.UpdatedAt
		m.PendingSync = false
	}

	c.stateMu.Lock()
	rec, exists := c.items[id]
	ts, tombstoned := c.tombstones[id]

	switch {
	case tombstoned:
		if change.Type == remote.ChangeDelete || !change.UpdatedAt.After(ts.DeletedAt) {
			c.stateMu.Unlock()
			return Result{Outcome: Stale, LocalUpdatedAt: ts.DeletedAt}, nil
		}
		delete(c.tombstones, id)
		c.items[id] = &record[E]{Entity: incoming, Generation: ts.Generation + 1}
		c.order = append(c.order, id)
		c.retainLocked(id)
		c.stateMu.Unlock()

		c.queue.Void(key)
		if err := c.bus.Publish(ctx, c.schema.kinds.Created, c.schema.payload(incoming, nil)); err != nil {
			c.logger.Error("failed to publish remote change", "id", id, "error", err)
		}
		c.persist(ctx)
		return Result{Outcome: Resurrected, LocalUpdatedAt: ts.DeletedAt}, nil

	case exists:
		local := c.schema.meta(&rec.Entity).UpdatedAt
		if rec.Pending && change.UpdatedAt.Before(local) {
			c.stateMu.Unlock()
			return Result{Outcome: Conflict, LocalUpdatedAt: local}, nil
		}
		if !change.UpdatedAt.After(local) {
			c.stateMu.Unlock()
			return Result{Outcome: Stale, LocalUpdatedAt: local}, nil
		}

		prev := rec.Entity
		superseded := rec.Pending
		var kind events.Kind
		var payload events.Payload
		if change.Type == remote.ChangeDelete {
			delete(c.items, id)
			c.dropOrder(id)
			kind, payload = c.schema.kinds.Deleted, c.schema.payload(prev, nil)
		} else {
			rec.Entity = incoming
			rec.Pending = false
			rec.Generation++
			kind, payload = c.schema.kinds.Updated, c.schema.payload(incoming, &prev)
		}
		c.stateMu.Unlock()

		if superseded {
			c.queue.Void(key)
		}
		if err := c.bus.Publish(ctx, kind, payload); err != nil {
			c.logger.Error("failed to publish remote change", "id", id, "error", err)
		}
		c.persist(ctx)
		return Result{Outcome: Applied, LocalUpdatedAt: local}, nil

	default:
		if change.Type == remote.ChangeDelete {
			c.stateMu.Unlock()
			return Result{Outcome: Ignored}, nil
		}
		c.items[id] = &record[E]{Entity: incoming}
		c.order = append(c.order, id)
		c.retainLocked(id)
		c.stateMu.Unlock()

		if err := c.bus.Publish(ctx, c.schema.kinds.Created, c.schema.payload(incoming, nil)); err != nil {
			c.logger.Error("failed to publish remote change", "id", id, "error", err)
		}
		c.persist(ctx)
		return Result{Outcome: Applied}, nil
	}
}

func (c *collection[E]) get(id string) (E, error) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	rec, ok := c.items[id]
	if !ok {
		var zero E
		return zero, fmt.Errorf("%w: %s", c.schema.notFound, id)
	}
	return rec.Entity, nil
}

func (c *collection[E]) list() []E {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make([]E, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id].Entity)
	}
	return out
}

func (c *collection[E]) has(id string) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	_, ok := c.items[id]
	return ok
}

// hadEver reports whether id holds an entity or held one before. Without
// retain it is the same as has.
func (c *collection[E]) hadEver(id string) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	_, ok := c.items[id]
	return ok || c.wasRetainedLocked(id)
}

func (c *collection[E]) retainLocked(id string) {
	if c.schema.retain {
		c.retained[id] = struct{}{}
	}
}

func (c *collection[E]) wasRetainedLocked(id string) bool {
	_, ok := c.retained[id]
	return ok
}

// pendingCount counts entities with unacknowledged local changes,
// unacknowledged deletes included.
func (c *collection[E]) pendingCount() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	n := len(c.tombstones)
	for _, rec := range c.items {
		if rec.Pending {
			n++
		}
	}
	return n
}

func (c *collection[E]) dropOrder(id string) int {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return i
		}
	}
	return len(c.order)
}

func (c *collection[E]) insertOrder(idx int, id string) {
	if idx >= len(c.order) {
		c.order = append(c.order, id)
		return
	}
	c.order = append(c.order[:idx+1], c.order[idx:]...)
	c.order[idx] = id
}

func (c *collection[E]) cacheKey() string {
	return "store/" + c.schema.entity.Collection()
}

// persist snapshots the collection to the cache. Callers hold mu.
func (c *collection[E]) persist(ctx context.Context) {
	if c.cache == nil {
		return
	}
	c.stateMu.RLock()
	snap := snapshot[E]{Records: make([]record[E], 0, len(c.order))}
	for _, id := range c.order {
		snap.Records = append(snap.Records, *c.items[id])
	}
	if len(c.tombstones) > 0 {
		snap.Tombstones = make(map[string]tombstone, len(c.tombstones))
		for id, ts := range c.tombstones {
			snap.Tombstones[id] = ts
		}
	}
	if len(c.retained) > 0 {
		snap.Retained = slices.Sorted(maps.Keys(c.retained))
	}
	c.stateMu.RUnlock()

	if err := cache.StoreJSON(ctx, c.cache, c.cacheKey(), snap); err != nil {
		c.logger.Error("failed to persist domain state", "error", err)
	}
}

func (c *collection[E]) restore(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	var snap snapshot[E]
	found, err := cache.LoadJSON(ctx, c.cache, c.cacheKey(), &snap)
	if err != nil {
		return &StoreError{Entity: c.schema.entity, Op: OpRestore, Err: fmt.Errorf("load snapshot: %w", err)}
	}
	if !found {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.items = make(map[string]*record[E], len(snap.Records))
	c.order = c.order[:0]
	for _, r := range snap.Records {
		rec := r
		c.schema.meta(&rec.Entity).PendingSync = rec.Pending
		id := c.schema.meta(&rec.Entity).ID
		if _, dup := c.items[id]; dup {
			continue
		}
		c.items[id] = &rec
		c.order = append(c.order, id)
	}
	c.tombstones = make(map[string]tombstone, len(snap.Tombstones))
	for id, ts := range snap.Tombstones {
		c.tombstones[id] = ts
	}
	c.retained = make(map[string]struct{}, len(snap.Retained))
	for _, id := range snap.Retained {
		c.retainLocked(id)
	}
	for _, id := range c.order {
		c.retainLocked(id)
	}

	c.logger.Info("restored domain state",
		"count", len(c.items),
		"tombstones", len(c.tombstones))
	return nil
}
