package achievement

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

// Monday of ISO week 10.
var monday = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

type harness struct {
	store  *store.Store
	queue  *syncer.Queue
	bus    *events.Bus
	clock  *clock.Fake
	cache  *cache.Memory
	eval   *Evaluator
	events []events.Event
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, rules []Rule) *harness {
	t.Helper()
	logger := testLogger()
	h := &harness{clock: clock.NewFake(monday), cache: cache.NewMemory()}
	h.bus = events.NewBus(h.clock, events.DefaultBusConfig(), logger)
	h.queue = syncer.NewQueue(h.clock, h.cache, logger)
	h.store = store.New(store.Deps{Bus: h.bus, Queue: h.queue, Cache: h.cache, Clock: h.clock, Logger: logger})

	eval, err := NewEvaluator(h.bus, h.store.Achievements, rules, h.cache, h.clock, logger)
	require.NoError(t, err)
	h.eval = eval
	h.eval.Start()

	h.bus.SubscribeAll(events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
		h.events = append(h.events, ev)
		return nil
	}))
	return h
}

func (h *harness) count(kind events.Kind) int {
	n := 0
	for _, ev := range h.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) addTask(t *testing.T, assignee string) string {
	t.Helper()
	ctx := domain.WithActor(context.Background(), "parent")
	id, err := h.store.Tasks.Add(ctx, domain.TaskFields{Title: "Feed the cat", AssigneeID: assignee, Points: 2})
	require.NoError(t, err)
	return id
}

func toggle(t *testing.T, h *harness, id string) {
	t.Helper()
	require.NoError(t, h.store.Tasks.Toggle(domain.WithActor(context.Background(), "parent"), id))
}

func TestEvaluatorGrantsOnce(t *testing.T) {
	h := newHarness(t, []Rule{
		{ID: "first-task", TriggerKinds: []events.Kind{events.TaskUpdated}, Predicate: Threshold(CounterTasksCompleted, 1), RewardID: "first-steps"},
	})

	id := h.addTask(t, "kid")
	assert.Empty(t, h.store.Achievements.List())

	toggle(t, h, id)
	awards := h.store.Achievements.List()
	require.Len(t, awards, 1)
	assert.Equal(t, domain.AwardID("first-task", "kid"), awards[0].ID)
	assert.Equal(t, "first-steps", awards[0].RewardID)
	assert.Equal(t, "kid", awards[0].UserID)
	assert.Equal(t, 1, h.count(events.AchievementGranted))

	// un-complete and complete again
	toggle(t, h, id)
	toggle(t, h, id)
	assert.Len(t, h.store.Achievements.List(), 1)
	assert.Equal(t, 1, h.count(events.AchievementGranted))
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterTasksCompleted])
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterTasksCreated])
}

func TestEvaluatorDoesNotRegrantRevokedAward(t *testing.T) {
	h := newHarness(t, []Rule{
		{ID: "first-task", TriggerKinds: []events.Kind{events.TaskUpdated}, Predicate: Threshold(CounterTasksCompleted, 1), RewardID: "first-steps"},
	})

	id := h.addTask(t, "kid")
	toggle(t, h, id)
	require.Equal(t, 1, h.count(events.AchievementGranted))

	ctx := domain.WithActor(context.Background(), "parent")
	require.NoError(t, h.store.Achievements.Revoke(ctx, domain.AwardID("first-task", "kid")))
	assert.Equal(t, 1, h.count(events.AchievementRevoked))

	// qualify again
	toggle(t, h, id)
	toggle(t, h, id)
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterTasksCompleted])
	assert.Equal(t, 1, h.count(events.AchievementGranted))
	assert.Empty(t, h.store.Achievements.List())
}

func TestEvaluatorAwardsFromRemoteChanges(t *testing.T) {
	h := newHarness(t, []Rule{
		{ID: "first-task", TriggerKinds: []events.Kind{events.TaskUpdated}, Predicate: Threshold(CounterTasksCompleted, 1), RewardID: "first-steps"},
	})
	ctx := context.Background()

	created, _ := json.Marshal(domain.Task{Title: "Feed the cat", AssigneeID: "kid"})
	completed, _ := json.Marshal(domain.Task{Title: "Feed the cat", AssigneeID: "kid", Completed: true})
	_, err := h.store.ApplyRemote(ctx, remote.Change{Collection: "tasks", ID: "t1", Type: remote.ChangeUpsert, Data: created, UpdatedAt: monday})
	require.NoError(t, err)
	_, err = h.store.ApplyRemote(ctx, remote.Change{Collection: "tasks", ID: "t1", Type: remote.ChangeUpsert, Data: completed, UpdatedAt: monday.Add(time.Minute)})
	require.NoError(t, err)

	require.Equal(t, 1, h.count(events.AchievementGranted))
	for _, ev := range h.events {
		if ev.Kind == events.AchievementGranted {
			assert.Equal(t, events.OriginLocal, ev.Origin)
			assert.Equal(t, domain.AwardID("first-task", "kid"), ev.EntityID())
		} else {
			assert.Equal(t, events.OriginRemote, ev.Origin)
		}
	}

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EntityAchievement, pending[0].Entity)
	assert.Equal(t, "kid", pending[0].Actor)
}

type recordingAwarder struct {
	calls []string
}

func (a *recordingAwarder) Award(ctx context.Context, ruleID, userID, rewardID string) (domain.Award, bool, error) {
	a.calls = append(a.calls, domain.AwardID(ruleID, userID))
	return domain.Award{Meta: domain.Meta{ID: domain.AwardID(ruleID, userID)}}, true, nil
}

func (a *recordingAwarder) Has(ruleID, userID string) bool { return false }

func TestEvaluatorIgnoresRedeliveredEvents(t *testing.T) {
	awarder := &recordingAwarder{}
	fake := clock.NewFake(monday)
	eval, err := NewEvaluator(nil, awarder, []Rule{
		{ID: "planner", TriggerKinds: []events.Kind{events.TaskCreated}, Predicate: Threshold(CounterTasksCreated, 1), RewardID: "planner"},
	}, nil, fake, testLogger())
	require.NoError(t, err)

	ev := events.Event{
		ID:         [16]byte{1},
		Kind:       events.TaskCreated,
		Payload:    events.TaskPayload{Task: domain.Task{Meta: domain.Meta{ID: "t1"}, CreatedBy: "kid"}},
		Origin:     events.OriginLocal,
		OccurredAt: monday,
	}
	require.NoError(t, eval.Evaluate(context.Background(), ev))
	require.NoError(t, eval.Evaluate(context.Background(), ev))

	assert.Equal(t, []string{"planner:kid"}, awarder.calls)
	assert.Equal(t, 1, eval.Counts("kid")[CounterTasksCreated])
}

func TestEvaluatorSameEventPublishedTwice(t *testing.T) {
	h := newHarness(t, []Rule{
		{ID: "first-task", TriggerKinds: []events.Kind{events.TaskUpdated}, Predicate: Threshold(CounterTasksCompleted, 1), RewardID: "first-steps"},
	})
	id := h.addTask(t, "kid")
	toggle(t, h, id)

	var completed events.Event
	for _, ev := range h.events {
		if ev.Kind == events.TaskUpdated {
			completed = ev
		}
	}
	require.Equal(t, events.TaskUpdated, completed.Kind)

	require.NoError(t, h.bus.PublishEvent(context.Background(), completed))
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterTasksCompleted])
	assert.Equal(t, 1, h.count(events.AchievementGranted))
}

func TestEvaluatorWeeklyCounterResets(t *testing.T) {
	h := newHarness(t, []Rule{
		{ID: "busy-week", TriggerKinds: []events.Kind{events.TaskUpdated}, Predicate: Threshold(CounterTasksCompletedWeek, 2), RewardID: "busy-bee"},
	})

	first := h.addTask(t, "kid")
	toggle(t, h, first)
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterTasksCompletedWeek])

	h.clock.Advance(7 * 24 * time.Hour)
	second := h.addTask(t, "kid")
	toggle(t, h, second)
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterTasksCompletedWeek], "weekly count starts over")
	assert.Equal(t, 2, h.eval.Counts("kid")[CounterTasksCompleted])
	assert.Empty(t, h.store.Achievements.List())

	// undoing last week's completion does not touch this week's count
	toggle(t, h, first)
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterTasksCompletedWeek])

	third := h.addTask(t, "kid")
	toggle(t, h, third)
	require.Len(t, h.store.Achievements.List(), 1)
	assert.Equal(t, "busy-bee", h.store.Achievements.List()[0].RewardID)
}

func TestEvaluatorGoalsAndPenalties(t *testing.T) {
	h := newHarness(t, DefaultRules())
	ctx := domain.WithActor(context.Background(), "parent")

	goalID, err := h.store.Goals.Add(ctx, domain.GoalFields{Title: "Read 10 books", OwnerID: "kid", Target: 10})
	require.NoError(t, err)
	require.NoError(t, h.store.Goals.Toggle(ctx, goalID))
	assert.True(t, h.store.Achievements.Has("goal-getter", "kid"))

	for i := 0; i < 3; i++ {
		pid, err := h.store.Penalties.Add(ctx, domain.PenaltyFields{UserID: "kid", Reason: "Late for dinner", Points: 1})
		require.NoError(t, err)
		require.NoError(t, h.store.Penalties.Toggle(ctx, pid))
	}
	assert.Equal(t, 3, h.eval.Counts("kid")[CounterPenaltiesResolved])
	assert.True(t, h.store.Achievements.Has("clean-slate", "kid"))
	assert.Equal(t, 1, h.eval.Counts("kid")[CounterGoalsCreated])
}

func TestEvaluatorStop(t *testing.T) {
	h := newHarness(t, DefaultRules())
	h.eval.Stop()
	h.eval.Stop()

	id := h.addTask(t, "kid")
	toggle(t, h, id)
	assert.Empty(t, h.eval.Counts("kid"))
	assert.Empty(t, h.store.Achievements.List())
}

func TestEvaluatorRestore(t *testing.T) {
	h := newHarness(t, DefaultRules())
	id := h.addTask(t, "kid")
	toggle(t, h, id)

	restored, err := NewEvaluator(h.bus, h.store.Achievements, DefaultRules(), h.cache, h.clock, testLogger())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(context.Background()))
	assert.Equal(t, 1, restored.Counts("kid")[CounterTasksCompleted])
	assert.Equal(t, 1, restored.Counts("kid")[CounterTasksCreated])

	empty, err := NewEvaluator(h.bus, h.store.Achievements, nil, cache.NewMemory(), h.clock, testLogger())
	require.NoError(t, err)
	assert.NoError(t, empty.Restore(context.Background()))
}

func TestNewEvaluatorRejectsBadRules(t *testing.T) {
	_, err := NewEvaluator(nil, &recordingAwarder{}, []Rule{
		{ID: "echo", TriggerKinds: []events.Kind{events.AchievementGranted}, Predicate: Threshold(CounterTasksCreated, 1)},
	}, nil, clock.NewFake(monday), nil)
	assert.True(t, errors.Is(err, ErrSelfTrigger))

	rule := Rule{ID: "dup", TriggerKinds: []events.Kind{events.TaskCreated}, Predicate: Threshold(CounterTasksCreated, 1)}
	_, err = NewEvaluator(nil, &recordingAwarder{}, []Rule{rule, rule}, nil, clock.NewFake(monday), nil)
	assert.True(t, errors.Is(err, ErrInvalidRule))
}
