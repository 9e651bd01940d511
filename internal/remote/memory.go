package remote

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// WriteOp names the kind of write recorded by MemoryStore.
type WriteOp string

// Write operations.
const (
	WriteCreate WriteOp = "create"
	WriteUpdate WriteOp = "update"
	WriteDelete WriteOp = "delete"
)

// Write is one call made against MemoryStore, recorded whether or not it succeeded.
type Write struct {
	Op         WriteOp
	Collection string
	ID         string
	UpdatedAt  time.Time
	Err        error
}

// Interceptor runs before every write. A non-nil error fails the write
// without touching stored state.
type Interceptor func(ctx context.Context, w Write) error

type memorySub struct {
	id uint64
	fn ChangeFunc
}

// MemoryStore is an in-process Store.
//
// Changes are delivered synchronously to subscribers on the writer's
// goroutine, after the store's lock is released, in write order.
type MemoryStore struct {
	mu          sync.Mutex
	docs        map[string]map[string]Document
	writes      []Write
	subs        map[string][]memorySub
	nextSub     uint64
	interceptor Interceptor
	inFlight    map[string]int
	maxInFlight map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]map[string]Document),
		subs:        make(map[string][]memorySub),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
	}
}

// SetInterceptor installs fn to run before every write. Pass nil to remove it.
func (s *MemoryStore) SetInterceptor(fn Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interceptor = fn
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error {
	return s.write(ctx, Write{Op: WriteCreate, Collection: collection, ID: id, UpdatedAt: updatedAt}, data)
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error {
	return s.write(ctx, Write{Op: WriteUpdate, Collection: collection, ID: id, UpdatedAt: updatedAt}, data)
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string, deletedAt time.Time) error {
	return s.write(ctx, Write{Op: WriteDelete, Collection: collection, ID: id, UpdatedAt: deletedAt}, nil)
}

func (s *MemoryStore) write(ctx context.Context, w Write, data json.RawMessage) error {
	key := w.Collection + "/" + w.ID

	s.mu.Lock()
	interceptor := s.interceptor
	s.inFlight[key]++
	if s.inFlight[key] > s.maxInFlight[key] {
		s.maxInFlight[key] = s.inFlight[key]
	}
	s.mu.Unlock()

	var err error
	if interceptor != nil {
		err = interceptor(ctx, w)
	}
	if err == nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	s.inFlight[key]--
	var change *Change
	if err == nil {
		change, err = s.applyLocked(w, data)
	}
	w.Err = err
	s.writes = append(s.writes, w)
	var subs []memorySub
	if change != nil {
		subs = append(subs, s.subs[w.Collection]...)
	}
	s.mu.Unlock()

	if change != nil {
		for _, sub := range subs {
			sub.fn(context.WithoutCancel(ctx), *change)
		}
	}
	return err
}

func (s *MemoryStore) applyLocked(w Write, data json.RawMessage) (*Change, error) {
	coll := s.docs[w.Collection]
	if coll == nil {
		coll = make(map[string]Document)
		s.docs[w.Collection] = coll
	}
	existing, ok := coll[w.ID]
	live := ok && !existing.Deleted

	if (w.Op == WriteUpdate || w.Op == WriteDelete) && !live {
		return nil, ErrNotFound
	}
	if ok && w.UpdatedAt.Before(existing.UpdatedAt) {
		return nil, nil
	}

	doc := Document{Collection: w.Collection, ID: w.ID, UpdatedAt: w.UpdatedAt}
	change := &Change{Collection: w.Collection, ID: w.ID, UpdatedAt: w.UpdatedAt}
	if w.Op == WriteDelete {
		doc.Deleted = true
		change.Type = ChangeDelete
	} else {
		doc.Data = append(json.RawMessage(nil), data...)
		change.Type = ChangeUpsert
		change.Data = doc.Data
	}
	coll[w.ID] = doc
	return change, nil
}

// Put stores doc as if written by another device and notifies subscribers.
// The timestamp rule applies.
func (s *MemoryStore) Put(ctx context.Context, doc Document) {
	op := WriteUpdate
	if doc.Deleted {
		op = WriteDelete
	}
	s.mu.Lock()
	change, _ := s.applyPutLocked(op, doc)
	subs := append([]memorySub(nil), s.subs[doc.Collection]...)
	s.mu.Unlock()

	if change != nil {
		for _, sub := range subs {
			sub.fn(ctx, *change)
		}
	}
}

func (s *MemoryStore) applyPutLocked(op WriteOp, doc Document) (*Change, error) {
	if op == WriteDelete {
		return s.applyLocked(Write{Op: op, Collection: doc.Collection, ID: doc.ID, UpdatedAt: doc.UpdatedAt}, nil)
	}
	return s.applyLocked(Write{Op: WriteCreate, Collection: doc.Collection, ID: doc.ID, UpdatedAt: doc.UpdatedAt}, doc.Data)
}

// SubscribeToChanges implements Store.
func (s *MemoryStore) SubscribeToChanges(_ context.Context, collection string, fn ChangeFunc) (func(), error) {
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[collection] = append(s.subs[collection], memorySub{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			kept := s.subs[collection][:0:0]
			for _, sub := range s.subs[collection] {
				if sub.id != id {
					kept = append(kept, sub)
				}
			}
			s.subs[collection] = kept
		})
	}, nil
}

// Get returns the stored document, including deleted markers.
func (s *MemoryStore) Get(collection, id string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[collection][id]
	return doc, ok
}

// Documents returns the live documents of collection ordered by id.
func (s *MemoryStore) Documents(collection string) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, 0, len(s.docs[collection]))
	for _, doc := range s.docs[collection] {
		if !doc.Deleted {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Writes returns every write attempted so far, in order.
func (s *MemoryStore) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// MaxConcurrentWrites returns the highest number of simultaneous writes
// observed for one document.
func (s *MemoryStore) MaxConcurrentWrites(collection, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight[collection+"/"+id]
}
