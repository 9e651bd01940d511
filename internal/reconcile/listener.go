package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/hearth/internal/domain"
	"github.com/phrazzld/hearth/internal/remote"
	"github.com/phrazzld/hearth/internal/store"
)

// Applier merges one remote change into local state.
type Applier interface {
	ApplyRemote(ctx context.Context, change remote.Change) (store.Result, error)
}

// Stats counts what the listener did with the changes it received.
type Stats struct {
	Applied     int `json:"applied"`
	Resurrected int `json:"resurrected"`
	Stale       int `json:"stale"`
	Conflicts   int `json:"conflicts"`
	Errors      int `json:"errors"`
}

// Listener subscribes to the remote store's change streams and applies
// every change to the local store. It never enqueues sync operations.
type Listener struct {
	remote      remote.Store
	applier     Applier
	collections []string
	logger      *slog.Logger

	mu         sync.Mutex
	cancels    []func()
	stats      Stats
	onConflict func(*ConflictError)
}

// NewListener creates a Listener for the given collections. An empty list
// means every synchronized collection.
func NewListener(rs remote.Store, applier Applier, collections []string, logger *slog.Logger) *Listener {
	if len(collections) == 0 {
		for _, t := range domain.EntityTypes() {
			collections = append(collections, t.Collection())
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		remote:      rs,
		applier:     applier,
		collections: collections,
		logger:      logger.With("component", "remote_listener"),
	}
}

// SetConflictHandler registers fn to be called for every discarded change.
func (l *Listener) SetConflictHandler(fn func(*ConflictError)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConflict = fn
}

// Start subscribes to every collection. If one subscription fails, the
// ones already made are cancelled.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if len(l.cancels) > 0 {
		l.mu.Unlock()
		return nil
	}

	var made []func()
	for _, collection := range l.collections {
		err := l.subscribe(ctx, collection, &made)
		if err != nil {
			l.mu.Unlock()
			cancelAll(made)
			return err
		}
	}
	l.cancels = made
	l.mu.Unlock()

	l.logger.Info("listening for remote changes", "collections", l.collections)
	return nil
}

func (l *Listener) subscribe(ctx context.Context, collection string, made *[]func()) error {
	if _, err := domain.EntityTypeForCollection(collection); err != nil {
		return err
	}
	cancel, err := l.remote.SubscribeToChanges(ctx, collection, l.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s changes: %w", collection, err)
	}
	*made = append(*made, cancel)
	return nil
}

// Stop cancels every subscription. It is safe to call more than once.
// Cancelling may wait for a delivery in progress, so it runs unlocked.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancels := l.cancels
	l.cancels = nil
	l.mu.Unlock()
	cancelAll(cancels)
}

func cancelAll(cancels []func()) {
	for _, cancel := range cancels {
		cancel()
	}
}

func (l *Listener) handle(ctx context.Context, change remote.Change) {
	// Failures are logged and counted by OnRemoteChange.
	_ = l.OnRemoteChange(ctx, change)
}

// OnRemoteChange applies one change. A discarded change is reported as a
// *ConflictError; stale changes and echoes of this device's writes are not
// errors.
func (l *Listener) OnRemoteChange(ctx context.Context, change remote.Change) error {
	logger := l.logger.With(
		"collection", change.Collection,
		"id", change.ID,
		"type", change.Type,
		"remote_updated_at", change.UpdatedAt,
	)

	result, err := l.applier.ApplyRemote(ctx, change)
	if err != nil {
		l.count(func(s *Stats) { s.Errors++ })
		if errors.Is(err, store.ErrReentrantMutation) {
			logger.Error("remote change applied from inside a dispatch", "error", err)
		} else {
			logger.Error("failed to apply remote change", "error", err)
		}
		return err
	}

	switch result.Outcome {
	case store.Conflict:
		conflict := &ConflictError{
			Collection:      change.Collection,
			ID:              change.ID,
			RemoteUpdatedAt: change.UpdatedAt,
			LocalUpdatedAt:  result.LocalUpdatedAt,
		}
		l.mu.Lock()
		l.stats.Conflicts++
		handler := l.onConflict
		l.mu.Unlock()

		logger.Warn("discarded remote change older than pending local edit",
			"local_updated_at", result.LocalUpdatedAt)
		if handler != nil {
			handler(conflict)
		}
		return conflict

	case store.Stale, store.Ignored:
		l.count(func(s *Stats) { s.Stale++ })
		logger.Debug("ignored remote change", "outcome", result.Outcome.String())

	case store.Resurrected:
		l.count(func(s *Stats) { s.Resurrected++ })
		logger.Info("remote edit restored locally deleted entity")

	default:
		l.count(func(s *Stats) { s.Applied++ })
		logger.Debug("applied remote change")
	}
	return nil
}

// Stats returns a copy of the listener's counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Listener) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}
