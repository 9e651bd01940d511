package events

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/hearth/internal/clock"
	"github.com/phrazzld/hearth/internal/redact"
)

// Handler defines an interface for components that react to events.
type Handler interface {
	// HandleEvent processes the given event. The context must be used for any
	// event the handler publishes in turn.
	HandleEvent(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
// Function handlers can only be removed through the unsubscribe function
// returned by Subscribe.
type HandlerFunc func(ctx context.Context, event Event) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// BusConfig holds configuration for the bus.
type BusConfig struct {
	// MaxPending bounds how many events handlers may publish during one
	// outermost Publish call. If zero or negative, defaults to 256.
	MaxPending int

	// MaxActive bounds how many outermost dispatches may be in flight at
	// once, across all goroutines. A handler that publishes with a context
	// other than the one it was given starts a new outermost dispatch inside
	// the current one; this limit stops it from recursing without end.
	// If zero or negative, defaults to 32.
	MaxActive int
}

// DefaultBusConfig returns a BusConfig with reasonable defaults
func DefaultBusConfig() BusConfig {
	return BusConfig{MaxPending: 256, MaxActive: 32}
}

type subscription struct {
	id      uint64
	kind    Kind // empty for subscribers to every kind
	handler Handler
}

// Bus dispatches events synchronously to registered handlers.
type Bus struct {
	mu         sync.RWMutex
	subs       []subscription
	nextID     uint64
	maxPending int
	maxActive  int
	clock      clock.Clock
	logger     *slog.Logger
	onFailure  func(*SubscriberError)

	dmu    sync.Mutex
	active int // outermost dispatches in flight
}

// NewBus creates a new Bus.
func NewBus(clk clock.Clock, config BusConfig, logger *slog.Logger) *Bus {
	if config.MaxPending <= 0 {
		config.MaxPending = DefaultBusConfig().MaxPending
	}
	if config.MaxActive <= 0 {
		config.MaxActive = DefaultBusConfig().MaxActive
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		maxPending: config.MaxPending,
		maxActive:  config.MaxActive,
		clock:      clk,
		logger:     logger.With("component", "event_bus"),
	}
}

// SetFailureHandler registers a callback invoked for every subscriber failure,
// in addition to logging.
func (b *Bus) SetFailureHandler(fn func(*SubscriberError)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFailure = fn
}

// Subscribe registers handler for kind. The returned function removes this
// subscription and is safe to call any number of times.
func (b *Bus) Subscribe(kind Kind, handler Handler) (unsubscribe func()) {
	return b.add(kind, handler)
}

// SubscribeAll registers handler for every kind.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	return b.add("", handler)
}

func (b *Bus) add(kind Kind, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: handler})
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("registered event handler", "kind", kind, "subscription_id", id, "handler_count", count)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(func(s subscription) bool { return s.id == id }) })
	}
}

// Unsubscribe removes every subscription of handler to kind. Handlers whose
// dynamic type is not comparable (such as HandlerFunc) are never matched.
// Removing a handler that is not subscribed is a no-op.
func (b *Bus) Unsubscribe(kind Kind, handler Handler) {
	b.remove(func(s subscription) bool {
		return s.kind == kind && sameHandler(s.handler, handler)
	})
}

// ClearAll removes every subscription. Only used at teardown and in tests.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(match func(subscription) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if !match(s) {
			kept = append(kept, s)
		}
	}
	b.subs = kept
}

func sameHandler(a, b Handler) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// Publish builds an event for kind and payload and dispatches it.
// The origin is taken from ctx (see WithOrigin).
//
// Errors are only returned for an invalid kind/payload pair, a full nested
// dispatch queue or too many dispatches in flight (ErrDispatchOverflow);
// subscriber failures are never returned.
func (b *Bus) Publish(ctx context.Context, kind Kind, payload Payload) error {
	return b.PublishEvent(ctx, Event{
		ID:         uuid.New(),
		Kind:       kind,
		Payload:    payload,
		Origin:     OriginFromContext(ctx),
		OccurredAt: b.clock.Now(),
	})
}

// PublishEvent dispatches an already built event.
func (b *Bus) PublishEvent(ctx context.Context, event Event) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, event.Kind)
	}
	if event.Payload == nil || event.Payload.Entity() != event.Kind.Entity() {
		return fmt.Errorf("%w: %s", ErrPayloadMismatch, event.Kind)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Origin == "" {
		event.Origin = OriginLocal
	}

	if d, ok := ctx.Value(dispatchKey{}).(*dispatch); ok && d.bus == b {
		queued, err := d.push(event)
		if err != nil {
			b.logger.Error("dropping nested event",
				"error", err,
				"event_id", event.ID,
				"kind", event.Kind,
				"max_pending", b.maxPending)
			return err
		}
		if queued {
			return nil
		}
	}

	if !b.begin() {
		b.logger.Error("dropping event published outside its dispatch",
			"error", ErrDispatchOverflow,
			"event_id", event.ID,
			"kind", event.Kind,
			"max_active", b.maxActive)
		return ErrDispatchOverflow
	}
	defer b.end()

	d := &dispatch{bus: b, limit: b.maxPending}
	dctx := context.WithValue(ctx, dispatchKey{}, d)
	for next, ok := event, true; ok; next, ok = d.pop() {
		b.deliver(dctx, next)
	}
	return nil
}

// begin registers an outermost dispatch, failing once maxActive are
// already in flight.
func (b *Bus) begin() bool {
	b.dmu.Lock()
	defer b.dmu.Unlock()
	if b.active >= b.maxActive {
		return false
	}
	b.active++
	return true
}

func (b *Bus) end() {
	b.dmu.Lock()
	b.active--
	b.dmu.Unlock()
}

type dispatchKey struct{}

// dispatch is the micro-queue of one outermost Publish call.
type dispatch struct {
	bus     *Bus
	limit   int
	mu      sync.Mutex
	pending []Event
	queued  int
	done    bool
}

// push queues a nested event. It reports false if the owning dispatch has
// already finished, in which case the caller starts a fresh dispatch.
func (d *dispatch) push(event Event) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return false, nil
	}
	if d.queued >= d.limit {
		return false, ErrDispatchOverflow
	}
	d.queued++
	d.pending = append(d.pending, event)
	return true, nil
}

func (d *dispatch) pop() (Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		d.done = true
		return Event{}, false
	}
	next := d.pending[0]
	d.pending[0] = Event{}
	d.pending = d.pending[1:]
	return next, true
}

func (b *Bus) deliver(ctx context.Context, event Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == "" || s.kind == event.Kind {
			targets = append(targets, s)
		}
	}
	onFailure := b.onFailure
	b.mu.RUnlock()

	b.logger.Debug("dispatching event",
		"event_id", event.ID,
		"kind", event.Kind,
		"origin", event.Origin,
		"handler_count", len(targets))

	for _, s := range targets {
		if err := invoke(ctx, s.handler, event); err != nil {
			subErr := &SubscriberError{
				Kind:           event.Kind,
				EventID:        event.ID,
				SubscriptionID: s.id,
				Err:            err,
			}
			b.logger.Error("handler failed to process event",
				"error", redact.Error(err),
				"subscription_id", s.id,
				"event_id", event.ID,
				"kind", event.Kind)
			if onFailure != nil {
				onFailure(subErr)
			}
		}
	}
}

func invoke(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSubscriberPanic, r)
		}
	}()
	return handler.HandleEvent(ctx, event)
}
