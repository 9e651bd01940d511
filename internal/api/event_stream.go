package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phrazzld/hearth/internal/events"
	"github.com/phrazzld/hearth/internal/platform/logger"
)

// Event stream tuning.
const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// EventStream fans published DomainEvents out to websocket clients. A
// client that falls streamBuffer events behind is disconnected rather than
// slowing the bus down.
type EventStream struct {
	bus      *events.Bus
	upgrader websocket.Upgrader

	mu          sync.Mutex
	clients     map[*streamClient]struct{}
	unsubscribe func()
}

type streamClient struct {
	kinds map[events.Kind]bool
	send  chan events.Event
	// closed once when the client is dropped
	gone     chan struct{}
	goneOnce sync.Once
}

func (c *streamClient) drop() {
	c.goneOnce.Do(func() { close(c.gone) })
}

func (c *streamClient) wants(kind events.Kind) bool {
	return len(c.kinds) == 0 || c.kinds[kind]
}

// NewEventStream creates an EventStream. It subscribes to bus when the
// first client connects.
func NewEventStream(bus *events.Bus) *EventStream {
	return &EventStream{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// HandleEvent implements events.Handler. It never blocks the publisher.
func (s *EventStream) HandleEvent(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if !c.wants(ev.Kind) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			c.drop()
		}
	}
	return nil
}

// Close disconnects every client. Hijacked connections are not closed by
// http.Server.Shutdown, so servers call this when stopping.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.drop()
	}
}

// Clients returns the number of connected clients.
func (s *EventStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *EventStream) add(c *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	if s.unsubscribe == nil {
		s.unsubscribe = s.bus.SubscribeAll(s)
	}
}

func (s *EventStream) remove(c *streamClient) {
	s.mu.Lock()
	delete(s.clients, c)
	var unsubscribe func()
	if len(s.clients) == 0 {
		unsubscribe, s.unsubscribe = s.unsubscribe, nil
	}
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// ServeHTTP handles GET /api/events. The optional kinds query parameter is
// a comma-separated list of event kinds to receive.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), slog.Default())

	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		HandleAPIError(w, r, err, "Invalid kinds")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &streamClient{kinds: kinds, send: make(chan events.Event, streamBuffer), gone: make(chan struct{})}
	s.add(c)
	defer s.remove(c)
	log.Info("event stream client connected", "kinds", len(kinds))

	go func() {
		defer c.drop()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("event stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.gone:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			log.Info("event stream client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}

func parseKinds(raw string) (map[events.Kind]bool, error) {
	if raw == "" {
		return nil, nil
	}
	kinds := make(map[events.Kind]bool)
	for _, part := range strings.Split(raw, ",") {
		k := events.Kind(strings.TrimSpace(part))
		if !k.Valid() {
			return nil, ErrInvalidRequest
		}
		kinds[k] = true
	}
	return kinds, nil
}
