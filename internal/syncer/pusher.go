package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/redact"
	"github.com/phrazzld/hearth/internal/remote"
	"golang.org/x/sync/errgroup"
)

// Acknowledger is told about every operation the remote store accepted.
type Acknowledger interface {
	Acknowledge(ctx context.Context, op Operation)
}

// PusherConfig holds configuration for the pusher
type PusherConfig struct {
	// Workers bounds how many remote writes run at once.
	Workers int

	// WriteTimeout bounds each remote write. A write that times out counts
	// as one transient failure.
	WriteTimeout time.Duration

	// Retry controls transient failure handling.
	Retry RetryPolicy
}

// DefaultPusherConfig returns a PusherConfig with reasonable defaults
func DefaultPusherConfig() PusherConfig {
	return PusherConfig{
		Workers:      4,
		WriteTimeout: 10 * time.Second,
		Retry:        DefaultRetryPolicy(),
	}
}

// Pusher delivers queued operations to the remote store.
type Pusher struct {
	queue      *Queue
	remote     remote.Store
	acker      Acknowledger
	clock      clock.Clock
	config     PusherConfig
	logger     *slog.Logger
	mu         sync.RWMutex
	errHandler func(op Operation, err error)
}

// NewPusher creates a new Pusher
func NewPusher(
	queue *Queue,
	store remote.Store,
	acker Acknowledger,
	clk clock.Clock,
	config PusherConfig,
	logger *slog.Logger,
) *Pusher {
	defaults := DefaultPusherConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if config.Retry.MaxDelay <= 0 {
		config.Retry.MaxDelay = defaults.Retry.MaxDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sync_pusher")

	return &Pusher{
		queue:  queue,
		remote: store,
		acker:  acker,
		clock:  clk,
		config: config,
		logger: logger,
		errHandler: func(op Operation, err error) {
			// Default error handler just logs the error
			logger.Error("sync operation abandoned",
				"op_id", op.ID,
				"entity", op.Key().String(),
				"kind", op.Kind,
				"error", redact.Error(err))
		},
	}
}

// SetErrorHandler allows setting a custom handler for terminal failures
func (p *Pusher) SetErrorHandler(handler func(op Operation, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errHandler = handler
}

// Drain pushes every ready operation and waits for the writes to finish,
// repeating until no operation is ready. Operations waiting on a retry delay
// are left queued.
func (p *Pusher) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ops := p.queue.Claim(int(^uint(0) >> 1))
		if len(ops) == 0 {
			return nil
		}

		var g errgroup.Group
		g.SetLimit(p.config.Workers)
		for _, op := range ops {
			g.Go(func() error {
				p.push(ctx, op)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// Run pushes operations as they become ready until ctx is cancelled, then
// waits for in-flight writes to settle.
func (p *Pusher) Run(ctx context.Context) error {
	p.logger.Info("sync pusher started", "workers", p.config.Workers)

	var wg sync.WaitGroup
	defer wg.Wait()

	slots := make(chan struct{}, p.config.Workers)
	for {
		for _, op := range p.queue.Claim(cap(slots) - len(slots)) {
			slots <- struct{}{}
			wg.Add(1)
			go func(op Operation) {
				defer wg.Done()
				defer func() {
					<-slots
					p.queue.notify()
				}()
				p.push(ctx, op)
			}(op)
		}

		var retry <-chan time.Time
		if at, ok := p.queue.NextAttempt(); ok {
			retry = p.clock.After(at.Sub(p.clock.Now()))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("sync pusher stopping")
			return nil
		case <-p.queue.Ready():
		case <-retry:
		}
	}
}

// push performs one attempt of op and records the result in the queue.
func (p *Pusher) push(ctx context.Context, op Operation) {
	logger := p.logger.With(
		"op_id", op.ID,
		"entity", op.Key().String(),
		"kind", op.Kind,
		"attempt", op.Attempt,
	)

	writeCtx, cancel := context.WithTimeout(ctx, p.config.WriteTimeout)
	err := p.write(writeCtx, op)
	cancel()

	if err == nil {
		p.queue.Done(op)
		if p.acker != nil {
			p.acker.Acknowledge(context.WithoutCancel(ctx), op)
		}
		logger.Debug("sync operation acknowledged")
		return
	}

	if ctx.Err() != nil {
		p.queue.Release(op)
		logger.Debug("sync operation interrupted by shutdown")
		return
	}

	err = classify(err)
	switch {
	case IsPermanent(err):
		p.fail(op, err)
	case op.Attempt >= p.config.Retry.MaxAttempts:
		p.fail(op, &RetryExhaustedError{Key: op.Key(), Attempts: op.Attempt, Err: err})
	default:
		delay := p.config.Retry.Delay(op.Attempt)
		if p.queue.Reschedule(op, err, p.clock.Now().Add(delay)) {
			logger.Warn("sync operation failed, will retry",
				"error", redact.Error(err),
				"retry_in", delay)
		}
	}
}

func (p *Pusher) fail(op Operation, err error) {
	p.queue.Fail(op, err)

	p.mu.RLock()
	handler := p.errHandler
	p.mu.RUnlock()
	if handler != nil {
		handler(op, err)
	}
}

func (p *Pusher) write(ctx context.Context, op Operation) error {
	collection := op.Entity.Collection()
	switch op.Kind {
	case OpCreate:
		return p.remote.Create(ctx, collection, op.EntityID, op.State, op.UpdatedAt)
	case OpUpdate:
		return p.remote.Update(ctx, collection, op.EntityID, op.State, op.UpdatedAt)
	case OpDelete:
		err := p.remote.Delete(ctx, collection, op.EntityID, op.UpdatedAt)
		if errors.Is(err, remote.ErrNotFound) {
			return nil
		}
		return err
	}
	return Permanent(fmt.Errorf("%w: kind %q", ErrInvalidOperation, op.Kind))
}

// classify marks remote errors that retrying cannot fix as permanent.
// Explicitly marked errors keep their marking.
func classify(err error) error {
	var transient transientError
	if IsPermanent(err) || errors.As(err, &transient) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(err)
	case errors.Is(err, remote.ErrPermissionDenied),
		errors.Is(err, remote.ErrInvalidDocument),
		errors.Is(err, remote.ErrNotFound):
		return Permanent(err)
	}
	return err
}
