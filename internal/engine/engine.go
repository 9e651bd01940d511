package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/hearth/internal/achievement"
	"github.com/phrazzld/hearth/internal/analytics"
	"github.com/phrazzld/hearth/internal/cache"
	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/config"
	"github.com/phrazzld/hearth/internal/events"
	"github.com/phrazzld/hearth/internal/reconcile"
	"github.com/phrazzld/hearth/internal/redact"
	"github.com/phrazzld/hearth/internal/remote"
	"github.com/phrazzld/hearth/internal/store"
	"github.com/phrazzld/hearth/internal/syncer"
)

// ErrAlreadyStarted is returned by Start on a running engine.
var ErrAlreadyStarted = errors.New("engine already started")

// Options are the collaborators and settings of an Engine. Remote is
// required; everything else has a default.
type Options struct {
	Remote remote.Store

	// Cache persists local state across restarts. Defaults to memory.
	Cache cache.Cache

	Clock  clock.Clock
	Logger *slog.Logger

	// Rules defaults to achievement.DefaultRules().
	Rules []achievement.Rule

	Pusher syncer.PusherConfig
	Bus    events.BusConfig

	// Collections the listener follows. Empty means all.
	Collections []string
}

// OptionsFromConfig maps loaded configuration onto Options. The remote
// store and cache are opened by the caller.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	rules, err := achievement.LoadRules(cfg.Achievements.RulesPath)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Rules: rules,
		Pusher: syncer.PusherConfig{
			Workers:      cfg.Sync.Workers,
			WriteTimeout: cfg.Sync.WriteTimeout,
			Retry: syncer.RetryPolicy{
				MaxAttempts: cfg.Sync.MaxAttempts,
				Base:        cfg.Sync.RetryBase,
				MaxDelay:    cfg.Sync.RetryMaxDelay,
			},
		},
		Bus:         events.BusConfig{MaxPending: cfg.Sync.DispatchQueue},
		Collections: cfg.Remote.Collections,
	}, nil
}

// Status is the sync status shown to the family.
type Status struct {
	// PendingEntities counts entities with unacknowledged local changes.
	PendingEntities int             `json:"pending_entities"`
	Queue           syncer.Report   `json:"queue"`
	Listener        reconcile.Stats `json:"listener"`
	Running         bool            `json:"running"`
}

// Engine owns every component of the sync and event-dispatch core.
type Engine struct {
	Bus          *events.Bus
	Store        *store.Store
	Queue        *syncer.Queue
	Pusher       *syncer.Pusher
	Listener     *reconcile.Listener
	Achievements *achievement.Evaluator
	Analytics    *analytics.Tracker

	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds an engine. Nothing runs until Start.
func New(opts Options) (*Engine, error) {
	if opts.Remote == nil {
		return nil, errors.New("engine: remote store is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rules == nil {
		opts.Rules = achievement.DefaultRules()
	}

	e := &Engine{
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "engine"),
		Analytics: analytics.NewTracker(),
	}
	e.Bus = events.NewBus(opts.Clock, opts.Bus, opts.Logger)
	e.Bus.SetFailureHandler(func(err *events.SubscriberError) {
		e.logger.Warn("event subscriber failed",
			"kind", err.Kind,
			"event_id", err.EventID,
			"error", redact.Error(err.Err))
	})
	e.Queue = syncer.NewQueue(opts.Clock, opts.Cache, opts.Logger)
	e.Store = store.New(store.Deps{
		Bus:    e.Bus,
		Queue:  e.Queue,
		Cache:  opts.Cache,
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})
	e.Pusher = syncer.NewPusher(e.Queue, opts.Remote, e.Store, opts.Clock, opts.Pusher, opts.Logger)
	e.Listener = reconcile.NewListener(opts.Remote, e.Store, opts.Collections, opts.Logger)

	evaluator, err := achievement.NewEvaluator(e.Bus, e.Store.Achievements, opts.Rules, opts.Cache, opts.Clock, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.Achievements = evaluator
	return e, nil
}

// Start restores persisted state, subscribes the observers, starts the
// remote listener and runs the pusher in the background until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyStarted
	}

	if err := e.Store.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore local state: %w", err)
	}
	if err := e.Queue.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore sync queue: %w", err)
	}
	if err := e.Achievements.Restore(ctx); err != nil {
		return err
	}

	e.Achievements.Start()
	e.Analytics.Attach(e.Bus)

	if err := e.Listener.Start(ctx); err != nil {
		e.Achievements.Stop()
		e.Analytics.Detach()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := e.Pusher.Run(runCtx); err != nil {
			e.logger.Error("sync pusher stopped", "error", err)
		}
	}()

	e.cancel = cancel
	e.done = done
	e.running = true
	e.logger.Info("engine started", "pending_entities", e.Store.PendingCount(), "queued_ops", e.Queue.Len())
	return nil
}

// Stop stops the listener and the pusher, waiting for in-flight writes to
// settle, and persists the queue. It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	e.Listener.Stop()
	cancel()
	<-done
	e.Achievements.Stop()
	e.Analytics.Detach()
	e.Queue.Close()
	e.logger.Info("engine stopped", "queued_ops", e.Queue.Len())
}

// Flush pushes every ready operation and waits for the writes, without
// waiting for retry delays.
func (e *Engine) Flush(ctx context.Context) error {
	return e.Pusher.Drain(ctx)
}

// FlushTimeout is Flush bounded by d.
func (e *Engine) FlushTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return e.Flush(ctx)
}

// SignOut voids every queued operation enqueued by userID so nothing
// further is written on their behalf. It returns how many were voided.
func (e *Engine) SignOut(_ context.Context, userID string) int {
	n := e.Queue.VoidActor(userID)
	e.logger.Info("signed out", "user_id", userID, "voided_ops", n)
	return n
}

// SyncStatus reports pending work and recent failures.
func (e *Engine) SyncStatus() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	return Status{
		PendingEntities: e.Store.PendingCount(),
		Queue:           e.Queue.Status(),
		Listener:        e.Listener.Stats(),
		Running:         running,
	}
}
