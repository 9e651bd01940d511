package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phrazzld/hearth/internal/redact"
	"github.com/phrazzld/hearth/internal/remote"
)

// NotifyChannel is the LISTEN/NOTIFY channel the documents trigger publishes on.
const NotifyChannel = "hearth_documents"

// FeedConfig controls the change feed's reconnect behaviour.
type FeedConfig struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// DefaultFeedConfig returns a FeedConfig with reasonable defaults
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectBase: 500 * time.Millisecond,
		ReconnectMax:  30 * time.Second,
	}
}

type docSub struct {
	id uint64
	fn remote.ChangeFunc
}

// DocumentStore implements remote.Store on PostgreSQL.
type DocumentStore struct {
	pool   *pgxpool.Pool
	feed   FeedConfig
	logger *slog.Logger

	mu        sync.Mutex
	subs      map[string][]docSub
	nextSub   uint64
	watermark map[string]int64
	stop      context.CancelFunc
	done      chan struct{}
}

var _ remote.Store = (*DocumentStore)(nil)

// NewDocumentStore creates a DocumentStore on pool. The change feed starts
// with the first subscription.
func NewDocumentStore(pool *pgxpool.Pool, feed FeedConfig, logger *slog.Logger) *DocumentStore {
	defaults := DefaultFeedConfig()
	if feed.ReconnectBase <= 0 {
		feed.ReconnectBase = defaults.ReconnectBase
	}
	if feed.ReconnectMax <= 0 {
		feed.ReconnectMax = defaults.ReconnectMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentStore{
		pool:      pool,
		feed:      feed,
		logger:    logger.With("component", "postgres_documents"),
		subs:      make(map[string][]docSub),
		watermark: make(map[string]int64),
	}
}

const upsertSQL = `
	INSERT INTO documents (collection, id, data, updated_at, deleted)
	VALUES ($1, $2, $3, $4, FALSE)
	ON CONFLICT (collection, id) DO UPDATE
	SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at, deleted = FALSE
	WHERE documents.updated_at <= EXCLUDED.updated_at`

const updateSQL = `
	UPDATE documents SET data = $3, updated_at = $4
	WHERE collection = $1 AND id = $2 AND NOT deleted AND updated_at <= $4`

const deleteSQL = `
	UPDATE documents SET data = NULL, deleted = TRUE, updated_at = $3
	WHERE collection = $1 AND id = $2 AND NOT deleted AND updated_at <= $3`

const selectSQL = `
	SELECT collection, id, data, updated_at, deleted, revision
	FROM documents WHERE collection = $1 AND id = $2`

const replaySQL = `
	SELECT collection, id, data, updated_at, deleted, revision
	FROM documents WHERE collection = $1 AND revision > $2
	ORDER BY revision`

// Create implements remote.Store.
func (s *DocumentStore) Create(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error {
	if _, err := s.pool.Exec(ctx, upsertSQL, collection, id, []byte(data), updatedAt.UTC()); err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, MapError(err))
	}
	return nil
}

// Update implements remote.Store.
func (s *DocumentStore) Update(ctx context.Context, collection, id string, data json.RawMessage, updatedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, updateSQL, collection, id, []byte(data), updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return s.checkLive(ctx, collection, id)
	}
	return nil
}

// Delete implements remote.Store. Deleted documents stay as tombstones so
// other devices observe the deletion.
func (s *DocumentStore) Delete(ctx context.Context, collection, id string, deletedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, deleteSQL, collection, id, deletedAt.UTC())
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, MapError(err))
	}
	if tag.RowsAffected() == 0 {
		return s.checkLive(ctx, collection, id)
	}
	return nil
}

// checkLive explains a write that matched no row: the document is missing
// or deleted (ErrNotFound), or a newer version is stored and the write was
// superseded (nil).
func (s *DocumentStore) checkLive(ctx context.Context, collection, id string) error {
	doc, _, err := s.get(ctx, collection, id)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", collection, id, err)
	}
	if doc.Deleted {
		return fmt.Errorf("%s/%s: %w", collection, id, remote.ErrNotFound)
	}
	return nil
}

// Get returns a stored document, including tombstones.
func (s *DocumentStore) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	doc, _, err := s.get(ctx, collection, id)
	return doc, err
}

func (s *DocumentStore) get(ctx context.Context, collection, id string) (remote.Document, int64, error) {
	doc, rev, err := scanDocument(s.pool.QueryRow(ctx, selectSQL, collection, id))
	if err != nil {
		return remote.Document{}, 0, MapError(err)
	}
	return doc, rev, nil
}

func scanDocument(row pgx.Row) (remote.Document, int64, error) {
	var (
		doc  remote.Document
		data []byte
		rev  int64
	)
	if err := row.Scan(&doc.Collection, &doc.ID, &data, &doc.UpdatedAt, &doc.Deleted, &rev); err != nil {
		return remote.Document{}, 0, err
	}
	if len(data) > 0 {
		doc.Data = json.RawMessage(data)
	}
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, rev, nil
}

// SubscribeToChanges implements remote.Store. Subscribing to a collection
// first replays its stored documents, so a fresh device pulls existing
// state before live changes.
func (s *DocumentStore) SubscribeToChanges(ctx context.Context, collection string, fn remote.ChangeFunc) (func(), error) {
	if collection == "" || fn == nil {
		return nil, fmt.Errorf("subscribe: collection and callback are required")
	}

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	_, watched := s.subs[collection]
	s.subs[collection] = append(s.subs[collection], docSub{id: id, fn: fn})
	running := s.stop != nil
	if !running {
		feedCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		s.stop = stop
		s.done = make(chan struct{})
		go s.run(feedCtx, s.done)
	}
	feedDone := s.done
	s.mu.Unlock()

	if running && !watched {
		go func() {
			if err := s.replay(ctx, collection); err != nil {
				s.logger.Warn("failed to replay collection",
					"collection", collection,
					"error", redact.Error(err))
			}
		}()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			kept := s.subs[collection][:0:0]
			for _, sub := range s.subs[collection] {
				if sub.id != id {
					kept = append(kept, sub)
				}
			}
			if len(kept) == 0 {
				delete(s.subs, collection)
			} else {
				s.subs[collection] = kept
			}
			var stop context.CancelFunc
			if len(s.subs) == 0 && s.done == feedDone {
				stop = s.stop
				s.stop, s.done = nil, nil
			}
			s.mu.Unlock()

			if stop != nil {
				stop()
				<-feedDone
			}
		})
	}, nil
}

// Close stops the change feed. Subscriptions stay registered but receive
// nothing further.
func (s *DocumentStore) Close() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
}

// run keeps a LISTEN connection open until ctx is cancelled, reconnecting
// with exponential backoff.
func (s *DocumentStore) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.feed.ReconnectBase,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         s.feed.ReconnectMax,
	}
	b.Reset()

	for {
		err := s.listen(ctx, b.Reset)
		if ctx.Err() != nil {
			return
		}
		delay := b.NextBackOff()
		s.logger.Warn("change feed interrupted, reconnecting",
			"error", redact.Error(err),
			"retry_in", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *DocumentStore) listen(ctx context.Context, connected func()) error {
	conn, err := pgx.ConnectConfig(ctx, s.pool.Config().ConnConfig)
	if err != nil {
		return MapError(err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return MapError(err)
	}
	connected()
	s.logger.Info("change feed connected", "channel", NotifyChannel)

	// Catch up on anything written while we were not listening.
	for _, collection := range s.collections() {
		if err := s.replay(ctx, collection); err != nil {
			return err
		}
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return MapError(err)
		}
		s.handleNotification(ctx, n.Payload)
	}
}

type notification struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Revision   int64  `json:"revision"`
}

func parseNotification(payload string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, fmt.Errorf("malformed notification: %w", err)
	}
	if n.Collection == "" || n.ID == "" {
		return n, errors.New("malformed notification: missing collection or id")
	}
	return n, nil
}

func (s *DocumentStore) handleNotification(ctx context.Context, payload string) {
	n, err := parseNotification(payload)
	if err != nil {
		s.logger.Warn("ignoring notification", "error", err)
		return
	}
	if !s.watching(n.Collection) {
		return
	}

	doc, rev, err := s.get(ctx, n.Collection, n.ID)
	if err != nil {
		s.logger.Warn("failed to load changed document",
			"collection", n.Collection,
			"id", n.ID,
			"error", redact.Error(err))
		return
	}
	s.deliver(ctx, doc, rev)
}

// replay delivers every document of collection newer than its watermark.
func (s *DocumentStore) replay(ctx context.Context, collection string) error {
	s.mu.Lock()
	since := s.watermark[collection]
	s.mu.Unlock()

	rows, err := s.pool.Query(ctx, replaySQL, collection, since)
	if err != nil {
		return fmt.Errorf("replay %s: %w", collection, MapError(err))
	}
	var docs []remote.Document
	var revs []int64
	for rows.Next() {
		doc, rev, err := scanDocument(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("replay %s: %w", collection, MapError(err))
		}
		docs = append(docs, doc)
		revs = append(revs, rev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("replay %s: %w", collection, MapError(err))
	}

	for i, doc := range docs {
		s.deliver(ctx, doc, revs[i])
	}
	return nil
}

// deliver hands doc to the collection's subscribers. Duplicates are
// possible when a replay overlaps a notification; subscribers apply the
// timestamp rule and treat a repeat as stale.
func (s *DocumentStore) deliver(ctx context.Context, doc remote.Document, rev int64) {
	s.mu.Lock()
	if rev > s.watermark[doc.Collection] {
		s.watermark[doc.Collection] = rev
	}
	subs := append([]docSub(nil), s.subs[doc.Collection]...)
	s.mu.Unlock()

	change := changeFor(doc)
	for _, sub := range subs {
		sub.fn(ctx, change)
	}
}

func changeFor(doc remote.Document) remote.Change {
	change := remote.Change{
		Collection: doc.Collection,
		ID:         doc.ID,
		UpdatedAt:  doc.UpdatedAt,
	}
	if doc.Deleted {
		change.Type = remote.ChangeDelete
	} else {
		change.Type = remote.ChangeUpsert
		change.Data = doc.Data
	}
	return change
}

func (s *DocumentStore) collections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for c := range s.subs {
		out = append(out, c)
	}
	return out
}

func (s *DocumentStore) watching(collection string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[collection]
	return ok
}
