package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/hearth/internal/cache"
	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
	"github.com/phrazzld/hearth/internal/remote"
	"github.com/phrazzld/hearth/internal/store"
	"github.com/phrazzld/hearth/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type harness struct {
	store    *store.Store
	queue    *syncer.Queue
	pusher   *syncer.Pusher
	remote   *remote.MemoryStore
	listener *Listener
	events   []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(start)
	c := cache.NewMemory()
	bus := events.NewBus(clk, events.DefaultBusConfig(), logger)

	h := &harness{remote: remote.NewMemoryStore()}
	h.queue = syncer.NewQueue(clk, c, logger)
	h.store = store.New(store.Deps{Bus: bus, Queue: h.queue, Cache: c, Clock: clk, Logger: logger})
	h.pusher = syncer.NewPusher(h.queue, h.remote, h.store, clk, syncer.DefaultPusherConfig(), logger)
	h.listener = NewListener(h.remote, h.store, nil, logger)
	bus.SubscribeAll(events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
		h.events = append(h.events, ev)
		return nil
	}))
	return h
}

func taskDoc(t *testing.T, id, title string, at time.Time) remote.Document {
	t.Helper()
	data, err := json.Marshal(domain.Task{Title: title})
	require.NoError(t, err)
	return remote.Document{Collection: "tasks", ID: id, Data: data, UpdatedAt: at}
}

func TestListenerAppliesRemoteChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.listener.Start(ctx))
	defer h.listener.Stop()

	h.remote.Put(ctx, taskDoc(t, "phone-1", "Walk the dog", start))

	got, err := h.store.Tasks.Get("phone-1")
	require.NoError(t, err)
	assert.Equal(t, "Walk the dog", got.Title)
	require.Len(t, h.events, 1)
	assert.Equal(t, events.TaskCreated, h.events[0].Kind)
	assert.Equal(t, events.OriginRemote, h.events[0].Origin)
	assert.Equal(t, 0, h.queue.Len(), "mirrored changes are never pushed back")
	assert.Equal(t, 1, h.listener.Stats().Applied)
}

func TestListenerIgnoresEchoes(t *testing.T) {
	ctx := domain.WithActor(context.Background(), "parent")
	h := newHarness(t)
	require.NoError(t, h.listener.Start(ctx))
	defer h.listener.Stop()

	id, err := h.store.Tasks.Add(ctx, domain.TaskFields{Title: "Buy milk"})
	require.NoError(t, err)
	require.NoError(t, h.pusher.Drain(ctx))

	assert.Len(t, h.events, 1, "the echo of our own create publishes nothing")
	assert.Equal(t, 1, h.listener.Stats().Stale)
	task, _ := h.store.Tasks.Get(id)
	assert.False(t, task.PendingSync)
}

func TestListenerConflicts(t *testing.T) {
	ctx := domain.WithActor(context.Background(), "parent")
	h := newHarness(t)

	var conflicts []*ConflictError
	h.listener.SetConflictHandler(func(c *ConflictError) { conflicts = append(conflicts, c) })
	require.NoError(t, h.listener.Start(ctx))
	defer h.listener.Stop()

	id, err := h.store.Tasks.Add(ctx, domain.TaskFields{Title: "Local edit"})
	require.NoError(t, err)
	local, _ := h.store.Tasks.Get(id)

	err = h.listener.OnRemoteChange(ctx, remote.Change{
		Collection: "tasks",
		ID:         id,
		Type:       remote.ChangeUpsert,
		Data:       json.RawMessage(`{"title":"Older remote"}`),
		UpdatedAt:  local.UpdatedAt.Add(-time.Minute),
	})
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, id, conflict.ID)
	assert.Equal(t, local.UpdatedAt, conflict.LocalUpdatedAt)
	require.Len(t, conflicts, 1)

	got, _ := h.store.Tasks.Get(id)
	assert.Equal(t, "Local edit", got.Title)
	assert.Equal(t, 1, h.listener.Stats().Conflicts)

	h.remote.Put(ctx, remote.Document{
		Collection: "tasks",
		ID:         id,
		Data:       json.RawMessage(`{"title":"Newer remote"}`),
		UpdatedAt:  local.UpdatedAt.Add(time.Minute),
	})
	got, _ = h.store.Tasks.Get(id)
	assert.Equal(t, "Newer remote", got.Title)
	assert.Equal(t, 0, h.queue.Len())
}

func TestListenerStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.listener.Start(ctx))
	require.NoError(t, h.listener.Start(ctx), "starting twice is a no-op")

	h.listener.Stop()
	h.listener.Stop()

	h.remote.Put(ctx, taskDoc(t, "late", "After stop", start))
	_, err := h.store.Tasks.Get("late")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestListenerRejectsUnknownCollections(t *testing.T) {
	h := newHarness(t)
	l := NewListener(h.remote, h.store, []string{"tasks", "chores"}, nil)
	err := l.Start(context.Background())
	assert.True(t, errors.Is(err, domain.ErrUnknownEntityType))
}

func TestListenerReportsApplyErrors(t *testing.T) {
	h := newHarness(t)
	err := h.listener.OnRemoteChange(context.Background(), remote.Change{
		Collection: "goals",
		ID:         "g",
		Type:       remote.ChangeUpsert,
		Data:       json.RawMessage(`not json`),
		UpdatedAt:  start,
	})
	assert.Error(t, err)
	assert.Equal(t, 1, h.listener.Stats().Errors)
}
