package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/hearth/internal/cache"
	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/events"
	"github.com/phrazzld/hearth/internal/remote"
	"github.com/phrazzld/hearth/internal/syncer"
)

// Outcome is what ApplyRemote did with a remote change.
type Outcome int

// ApplyRemote outcomes.
const (
	// Applied means local state now reflects the change and an event was published.
	Applied Outcome = iota
	// Stale means the change was not newer than local state (including echoes
	// of this device's own writes) and was ignored.
	Stale
	// Conflict means the change was older than a pending local edit and was discarded.
	Conflict
	// Resurrected means a remote edit newer than an unacknowledged local
	// delete restored the entity.
	Resurrected
	// Ignored means a delete arrived for an entity this device never had.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Stale:
		return "stale"
	case Conflict:
		return "conflict"
	case Resurrected:
		return "resurrected"
	case Ignored:
		return "ignored"
	}
	return "unknown"
}

// Result reports the outcome of ApplyRemote.
type Result struct {
	Outcome Outcome
	// LocalUpdatedAt is the local timestamp the change was compared against.
	LocalUpdatedAt time.Time
}

// Deps are the collaborators shared by every domain.
type Deps struct {
	Bus    *events.Bus
	Queue  SyncQueue
	Cache  cache.Cache
	Clock  clock.Clock
	Logger *slog.Logger
}

type domainState interface {
	acknowledge(ctx context.Context, op syncer.Operation)
	applyRemote(ctx context.Context, change remote.Change) (Result, error)
	restore(ctx context.Context) error
	pendingCount() int
}

// Store is the aggregate of every domain's state.
type Store struct {
	Tasks        *Tasks
	Goals        *Goals
	Penalties    *Penalties
	Achievements *Achievements

	domains map[domain.EntityType]domainState
}

// New creates an empty Store.
func New(d Deps) *Store {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Store{
		Tasks:        newTasks(d),
		Goals:        newGoals(d),
		Penalties:    newPenalties(d),
		Achievements: newAchievements(d),
	}
	s.domains = map[domain.EntityType]domainState{
		domain.EntityTask:        s.Tasks.c,
		domain.EntityGoal:        s.Goals.c,
		domain.EntityPenalty:     s.Penalties.c,
		domain.EntityAchievement: s.Achievements.c,
	}
	return s
}

// Acknowledge implements syncer.Acknowledger.
func (s *Store) Acknowledge(ctx context.Context, op syncer.Operation) {
	if d, ok := s.domains[op.Entity]; ok {
		d.acknowledge(ctx, op)
	}
}

// ApplyRemote merges a change from the remote store into local state.
func (s *Store) ApplyRemote(ctx context.Context, change remote.Change) (Result, error) {
	t, err := domain.EntityTypeForCollection(change.Collection)
	if err != nil {
		return Result{}, err
	}
	if change.Type != remote.ChangeUpsert && change.Type != remote.ChangeDelete {
		return Result{}, fmt.Errorf("unknown change type %q", change.Type)
	}
	return s.domains[t].applyRemote(ctx, change)
}

// Restore loads every domain's state from the cache.
func (s *Store) Restore(ctx context.Context) error {
	for _, t := range domain.EntityTypes() {
		if err := s.domains[t].restore(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PendingCount returns how many entities have local changes the remote has
// not acknowledged.
func (s *Store) PendingCount() int {
	n := 0
	for _, d := range s.domains {
		n += d.pendingCount()
	}
	return n
}
