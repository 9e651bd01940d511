package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEventHandler implements the Handler interface for testing
type MockEventHandler struct {
	// The events received by this handler, in order
	Events []Event
	// Error to return from HandleEvent
	HandlerError error
}

// HandleEvent implements the Handler interface
func (h *MockEventHandler) HandleEvent(ctx context.Context, event Event) error {
	h.Events = append(h.Events, event)
	return h.HandlerError
}

func newTestBus(t *testing.T, cfg BusConfig) *Bus {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBus(clock.NewFake(time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC)), cfg, logger)
}

func taskPayload(id string) TaskPayload {
	return TaskPayload{Task: domain.Task{Meta: domain.Meta{ID: id}, Title: "Buy milk"}}
}

func TestBusPublish(t *testing.T) {
	t.Run("publish with no handlers", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		assert.NoError(t, bus.Publish(context.Background(), TaskCreated, taskPayload("t1")))
	})

	t.Run("dispatches in registration order", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		var order []string
		record := func(name string) Handler {
			return HandlerFunc(func(ctx context.Context, ev Event) error {
				order = append(order, name)
				return nil
			})
		}
		bus.Subscribe(TaskCreated, record("first"))
		bus.SubscribeAll(record("all"))
		bus.Subscribe(TaskCreated, record("third"))
		bus.Subscribe(TaskDeleted, record("other-kind"))

		require.NoError(t, bus.Publish(context.Background(), TaskCreated, taskPayload("t1")))
		assert.Equal(t, []string{"first", "all", "third"}, order)
	})

	t.Run("stamps event fields", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		h := &MockEventHandler{}
		bus.Subscribe(TaskCreated, h)

		ctx := WithOrigin(context.Background(), OriginRemote)
		require.NoError(t, bus.Publish(ctx, TaskCreated, taskPayload("t1")))

		require.Len(t, h.Events, 1)
		ev := h.Events[0]
		assert.NotEqual(t, [16]byte{}, [16]byte(ev.ID))
		assert.Equal(t, TaskCreated, ev.Kind)
		assert.Equal(t, OriginRemote, ev.Origin)
		assert.Equal(t, "t1", ev.EntityID())
		assert.Equal(t, time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC), ev.OccurredAt)
	})

	t.Run("rejects unknown kinds and mismatched payloads", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		h := &MockEventHandler{}
		bus.SubscribeAll(h)

		err := bus.Publish(context.Background(), Kind("task.exploded"), taskPayload("t1"))
		assert.True(t, errors.Is(err, ErrUnknownKind))

		err = bus.Publish(context.Background(), GoalCreated, taskPayload("t1"))
		assert.True(t, errors.Is(err, ErrPayloadMismatch))

		err = bus.Publish(context.Background(), GoalCreated, nil)
		assert.True(t, errors.Is(err, ErrPayloadMismatch))

		assert.Empty(t, h.Events)
	})
}

func TestBusSubscriberFailures(t *testing.T) {
	bus := newTestBus(t, DefaultBusConfig())

	var failures []*SubscriberError
	bus.SetFailureHandler(func(err *SubscriberError) { failures = append(failures, err) })

	failing := &MockEventHandler{HandlerError: errors.New("handler error")}
	panicking := HandlerFunc(func(ctx context.Context, ev Event) error { panic("boom") })
	success := &MockEventHandler{}

	bus.Subscribe(TaskCreated, failing)
	bus.Subscribe(TaskCreated, panicking)
	bus.Subscribe(TaskCreated, success)

	err := bus.Publish(context.Background(), TaskCreated, taskPayload("t1"))
	require.NoError(t, err, "subscriber failures must not reach the publisher")

	assert.Len(t, failing.Events, 1)
	assert.Len(t, success.Events, 1, "later subscribers still run")

	require.Len(t, failures, 2)
	assert.Equal(t, "handler error", failures[0].Unwrap().Error())
	assert.True(t, errors.Is(failures[1], ErrSubscriberPanic))
	assert.Equal(t, TaskCreated, failures[1].Kind)
}

func TestBusUnsubscribe(t *testing.T) {
	t.Run("returned function is idempotent", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		h := &MockEventHandler{}
		unsubscribe := bus.Subscribe(TaskCreated, h)
		other := bus.Subscribe(TaskCreated, &MockEventHandler{})

		unsubscribe()
		unsubscribe()
		assert.Equal(t, 1, bus.Len())

		require.NoError(t, bus.Publish(context.Background(), TaskCreated, taskPayload("t1")))
		assert.Empty(t, h.Events)

		other()
		assert.Equal(t, 0, bus.Len())
	})

	t.Run("unsubscribe by handler is idempotent", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		h := &MockEventHandler{}
		bus.Subscribe(TaskCreated, h)
		bus.Subscribe(TaskUpdated, h)

		bus.Unsubscribe(TaskCreated, h)
		bus.Unsubscribe(TaskCreated, h)
		bus.Unsubscribe(GoalCreated, &MockEventHandler{})
		assert.Equal(t, 1, bus.Len())

		require.NoError(t, bus.Publish(context.Background(), TaskCreated, taskPayload("t1")))
		require.NoError(t, bus.Publish(context.Background(), TaskUpdated, taskPayload("t1")))
		require.Len(t, h.Events, 1)
		assert.Equal(t, TaskUpdated, h.Events[0].Kind)
	})

	t.Run("unsubscribe with function handler is a no-op", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		fn := HandlerFunc(func(ctx context.Context, ev Event) error { return nil })
		bus.Subscribe(TaskCreated, fn)
		assert.NotPanics(t, func() { bus.Unsubscribe(TaskCreated, fn) })
		assert.Equal(t, 1, bus.Len())
	})

	t.Run("clear all", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		h := &MockEventHandler{}
		unsubscribe := bus.Subscribe(TaskCreated, h)
		bus.SubscribeAll(h)

		bus.ClearAll()
		assert.Equal(t, 0, bus.Len())
		assert.NotPanics(t, unsubscribe)

		require.NoError(t, bus.Publish(context.Background(), TaskCreated, taskPayload("t1")))
		assert.Empty(t, h.Events)
	})
}

func TestBusReentrantPublish(t *testing.T) {
	t.Run("nested events are delivered after the current event", func(t *testing.T) {
		bus := newTestBus(t, DefaultBusConfig())
		var trace []string

		bus.Subscribe(TaskCreated, HandlerFunc(func(ctx context.Context, ev Event) error {
			trace = append(trace, "A:"+string(ev.Kind))
			return bus.Publish(ctx, GoalCreated, GoalPayload{Goal: domain.Goal{Meta: domain.Meta{ID: "g1"}}})
		}))
		bus.Subscribe(TaskCreated, HandlerFunc(func(ctx context.Context, ev Event) error {
			trace = append(trace, "B:"+string(ev.Kind))
			return nil
		}))
		bus.Subscribe(GoalCreated, HandlerFunc(func(ctx context.Context, ev Event) error {
			trace = append(trace, "C:"+string(ev.Kind))
			return nil
		}))

		require.NoError(t, bus.Publish(context.Background(), TaskCreated, taskPayload("t1")))
		assert.Equal(t, []string{"A:task.created", "B:task.created", "C:goal.created"}, trace)
	})

	t.Run("nested queue is bounded", func(t *testing.T) {
		bus := newTestBus(t, BusConfig{MaxPending: 2})
		var nestedErrs []error
		delivered := 0

		bus.Subscribe(TaskCreated, HandlerFunc(func(ctx context.Context, ev Event) error {
			for i := 0; i < 3; i++ {
				nestedErrs = append(nestedErrs, bus.Publish(ctx, GoalCreated, GoalPayload{}))
			}
			return nil
		}))
		bus.Subscribe(GoalCreated, HandlerFunc(func(ctx context.Context, ev Event) error {
			delivered++
			return nil
		}))

		require.NoError(t, bus.Publish(context.Background(), TaskCreated, taskPayload("t1")))
		require.Len(t, nestedErrs, 3)
		assert.NoError(t, nestedErrs[0])
		assert.NoError(t, nestedErrs[1])
		assert.True(t, errors.Is(nestedErrs[2], ErrDispatchOverflow))
		assert.Equal(t, 2, delivered)
	})

	t.Run("self-publishing handler terminates", func(t *testing.T) {
		bus := newTestBus(t, BusConfig{MaxPending: 8})
		calls := 0
		bus.Subscribe(TaskUpdated, HandlerFunc(func(ctx context.Context, ev Event) error {
			calls++
			return bus.Publish(ctx, TaskUpdated, ev.Payload)
		}))

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = bus.Publish(context.Background(), TaskUpdated, taskPayload("t1"))
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("self-publishing handler did not terminate")
		}
		assert.Equal(t, 9, calls)
	})

	t.Run("handler publishing with a fresh context is bounded", func(t *testing.T) {
		bus := newTestBus(t, BusConfig{MaxActive: 4})
		calls := 0
		var failures []*SubscriberError
		bus.SetFailureHandler(func(err *SubscriberError) { failures = append(failures, err) })
		bus.Subscribe(TaskUpdated, HandlerFunc(func(ctx context.Context, ev Event) error {
			calls++
			return bus.Publish(context.Background(), TaskUpdated, ev.Payload)
		}))

		done := make(chan error, 1)
		go func() {
			done <- bus.Publish(context.Background(), TaskUpdated, taskPayload("t1"))
		}()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("handler publishing with a fresh context did not terminate")
		}
		assert.Equal(t, 4, calls)
		require.Len(t, failures, 1)
		assert.True(t, errors.Is(failures[0], ErrDispatchOverflow))

		// the in-flight count unwinds with the dispatches
		require.NoError(t, bus.Publish(context.Background(), TaskUpdated, taskPayload("t1")))
		assert.Equal(t, 8, calls)
	})
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := newTestBus(t, DefaultBusConfig())
	var delivered atomic.Int64
	bus.SubscribeAll(HandlerFunc(func(ctx context.Context, ev Event) error {
		delivered.Add(1)
		return nil
	}))

	const publishers, perPublisher = 16, 50
	errs := make(chan error, publishers*perPublisher)
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				errs <- bus.Publish(context.Background(), TaskCreated, taskPayload("t1"))
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(publishers*perPublisher), delivered.Load())
}

func TestKinds(t *testing.T) {
	assert.Len(t, AllKinds(), 12)
	for _, k := range AllKinds() {
		assert.True(t, k.Valid(), k)
	}
	assert.Equal(t, domain.EntityPenalty, PenaltyDeleted.Entity())
	assert.False(t, Kind("task").Valid())

	kinds, ok := KindsFor(domain.EntityAchievement)
	require.True(t, ok)
	assert.Equal(t, AchievementGranted, kinds.Created)
}
