package achievement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/hearth/internal/cache"
	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
	"github.com/phrazzld/hearth/internal/redact"
)

// CacheKey is where the evaluator persists its counters.
const CacheKey = "achievements/counters"

// seenCapacity bounds how many event ids are remembered for deduplication.
const seenCapacity = 1024

// Awarder grants awards. It is satisfied by *store.Achievements.
type Awarder interface {
	Award(ctx context.Context, ruleID, userID, rewardID string) (domain.Award, bool, error)
	Has(ruleID, userID string) bool
}

// Evaluator keeps per-user counters up to date from domain events and
// grants awards when rules are satisfied.
type Evaluator struct {
	bus     *events.Bus
	awarder Awarder
	rules   []Rule
	cache   cache.Cache
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	counters map[string]*userCounters
	seen     map[uuid.UUID]struct{}
	ring     []uuid.UUID
	next     int
	kinds    []events.Kind
	started  bool
}

// NewEvaluator validates rules and returns an evaluator. Call Start to
// subscribe it to bus.
func NewEvaluator(
	bus *events.Bus,
	awarder Awarder,
	rules []Rule,
	c cache.Cache,
	clk clock.Clock,
	logger *slog.Logger,
) (*Evaluator, error) {
	ids := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if ids[r.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRule, r.ID)
		}
		ids[r.ID] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		bus:      bus,
		awarder:  awarder,
		rules:    append([]Rule(nil), rules...),
		cache:    c,
		clock:    clk,
		logger:   logger.With("component", "achievement_evaluator"),
		counters: make(map[string]*userCounters),
		seen:     make(map[uuid.UUID]struct{}, seenCapacity),
		ring:     make([]uuid.UUID, seenCapacity),
	}, nil
}

// Start subscribes the evaluator to every kind that moves a counter or
// triggers a rule. Calling Start twice is a no-op.
func (e *Evaluator) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true

	set := make(map[events.Kind]bool)
	for _, k := range counterKinds {
		set[k] = true
	}
	for _, r := range e.rules {
		for _, k := range r.TriggerKinds {
			set[k] = true
		}
	}
	e.kinds = e.kinds[:0]
	for k := range set {
		e.kinds = append(e.kinds, k)
	}
	sort.Slice(e.kinds, func(i, j int) bool { return e.kinds[i] < e.kinds[j] })

	for _, k := range e.kinds {
		e.bus.Subscribe(k, e)
	}
	e.logger.Info("achievement evaluator started", "rules", len(e.rules), "kinds", len(e.kinds))
}

// Stop unsubscribes the evaluator.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.started = false
	for _, k := range e.kinds {
		e.bus.Unsubscribe(k, e)
	}
}

// HandleEvent implements events.Handler.
func (e *Evaluator) HandleEvent(ctx context.Context, ev events.Event) error {
	return e.Evaluate(ctx, ev)
}

// Evaluate updates counters from ev and grants the awards of every rule
// triggered by ev whose predicate now holds. An event id seen before is
// ignored, so redelivery never double counts.
func (e *Evaluator) Evaluate(ctx context.Context, ev events.Event) error {
	if ev.Kind.Entity() == domain.EntityAchievement {
		return nil
	}

	type grant struct {
		rule Rule
		user string
	}

	e.mu.Lock()
	if !e.markSeen(ev.ID) {
		e.mu.Unlock()
		return nil
	}

	now := e.clock.Now()
	changed := deltas(ev)
	users := make([]string, 0, 1)
	for _, d := range changed {
		if d.user == "" {
			continue
		}
		uc := e.user(d.user)
		uc.apply(d, now)
		if len(users) == 0 || users[len(users)-1] != d.user {
			users = append(users, d.user)
		}
	}
	if len(users) == 0 {
		if user := subject(ev); user != "" {
			users = append(users, user)
		}
	}

	var grants []grant
	for _, user := range users {
		counts := e.user(user).Counts.clone()
		for _, r := range e.rules {
			if triggers(r, ev.Kind) && r.Predicate(counts) {
				grants = append(grants, grant{rule: r, user: user})
			}
		}
	}
	var snapshot map[string]*userCounters
	if len(changed) > 0 {
		snapshot = e.snapshot()
	}
	e.mu.Unlock()

	if snapshot != nil && e.cache != nil {
		if err := cache.StoreJSON(ctx, e.cache, CacheKey, snapshot); err != nil {
			e.logger.Warn("failed to persist achievement counters", "error", redact.Error(err))
		}
	}

	var firstErr error
	for _, g := range grants {
		if e.awarder.Has(g.rule.ID, g.user) {
			continue
		}
		award, granted, err := e.awarder.Award(ctx, g.rule.ID, g.user, g.rule.RewardID)
		if err != nil {
			e.logger.Error("failed to grant award",
				"rule_id", g.rule.ID,
				"user_id", g.user,
				"error", redact.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("grant %s to %s: %w", g.rule.ID, g.user, err)
			}
			continue
		}
		if granted {
			e.logger.Info("award granted",
				"award_id", award.ID,
				"rule_id", g.rule.ID,
				"user_id", g.user,
				"reward_id", g.rule.RewardID)
		}
	}
	return firstErr
}

// Counts returns a copy of a user's counters.
func (e *Evaluator) Counts(userID string) Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	uc, ok := e.counters[userID]
	if !ok {
		return Counts{}
	}
	return uc.Counts.clone()
}

// Restore loads persisted counters. Missing state is not an error.
func (e *Evaluator) Restore(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	var loaded map[string]*userCounters
	ok, err := cache.LoadJSON(ctx, e.cache, CacheKey, &loaded)
	if err != nil {
		return fmt.Errorf("failed to restore achievement counters: %w", err)
	}
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for user, uc := range loaded {
		if uc == nil {
			continue
		}
		if uc.Counts == nil {
			uc.Counts = make(Counts)
		}
		e.counters[user] = uc
	}
	return nil
}

func (e *Evaluator) user(id string) *userCounters {
	uc, ok := e.counters[id]
	if !ok {
		uc = &userCounters{Counts: make(Counts)}
		e.counters[id] = uc
	}
	return uc
}

func (e *Evaluator) snapshot() map[string]*userCounters {
	out := make(map[string]*userCounters, len(e.counters))
	for id, uc := range e.counters {
		out[id] = &userCounters{Counts: uc.Counts.clone(), Week: uc.Week}
	}
	return out
}

// markSeen records id and reports whether it was new.
func (e *Evaluator) markSeen(id uuid.UUID) bool {
	if _, dup := e.seen[id]; dup {
		return false
	}
	if old := e.ring[e.next]; old != uuid.Nil {
		delete(e.seen, old)
	}
	e.ring[e.next] = id
	e.next = (e.next + 1) % len(e.ring)
	e.seen[id] = struct{}{}
	return true
}

func triggers(r Rule, kind events.Kind) bool {
	for _, k := range r.TriggerKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// subject is the user an event is about when it moved no counter.
func subject(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case events.TaskPayload:
		return p.Task.Owner()
	case events.GoalPayload:
		return p.Goal.OwnerID
	case events.PenaltyPayload:
		return p.Penalty.UserID
	}
	return ""
}
