//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/hearth/internal/remote"
	"github.com/phrazzld/hearth/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: HEARTH_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/platform/postgres
func newIntegrationStore(t *testing.T) *DocumentStore {
	t.Helper()
	url := testdb.RequireURL(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, url, "up", nil))

	pool, err := Connect(ctx, url, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	testdb.Truncate(t, pool)

	s := NewDocumentStore(pool, FeedConfig{ReconnectBase: 50 * time.Millisecond}, nil)
	t.Cleanup(s.Close)
	return s
}

func TestDocumentStoreWrites(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, "tasks", "t1", json.RawMessage(`{"title":"Buy milk"}`), t0))
	require.NoError(t, s.Update(ctx, "tasks", "t1", json.RawMessage(`{"title":"Buy oat milk"}`), t0.Add(time.Second)))

	// older write is ignored
	require.NoError(t, s.Update(ctx, "tasks", "t1", json.RawMessage(`{"title":"stale"}`), t0))
	doc, err := s.Get(ctx, "tasks", "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Buy oat milk"}`, string(doc.Data))
	assert.Equal(t, t0.Add(time.Second), doc.UpdatedAt)

	err = s.Update(ctx, "tasks", "missing", json.RawMessage(`{}`), t0)
	assert.True(t, errors.Is(err, remote.ErrNotFound))

	require.NoError(t, s.Delete(ctx, "tasks", "t1", t0.Add(2*time.Second)))
	doc, err = s.Get(ctx, "tasks", "t1")
	require.NoError(t, err)
	assert.True(t, doc.Deleted)

	err = s.Delete(ctx, "tasks", "t1", t0.Add(3*time.Second))
	assert.True(t, errors.Is(err, remote.ErrNotFound))

	err = s.Create(ctx, "chores", "c1", json.RawMessage(`{}`), t0)
	assert.True(t, errors.Is(err, remote.ErrInvalidDocument))
}

func TestDocumentStoreChangeFeed(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, "goals", "existing", json.RawMessage(`{"title":"Read"}`), t0))

	var mu sync.Mutex
	var changes []remote.Change
	cancel, err := s.SubscribeToChanges(ctx, "goals", func(ctx context.Context, c remote.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})
	require.NoError(t, err)
	defer cancel()

	seen := func(id string, typ remote.ChangeType) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range changes {
			if c.ID == id && c.Type == typ {
				return true
			}
		}
		return false
	}

	require.Eventually(t, func() bool { return seen("existing", remote.ChangeUpsert) }, 5*time.Second, 20*time.Millisecond,
		"stored documents are replayed on subscribe")

	require.NoError(t, s.Create(ctx, "goals", "g2", json.RawMessage(`{"title":"Run"}`), t0))
	require.Eventually(t, func() bool { return seen("g2", remote.ChangeUpsert) }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Delete(ctx, "goals", "g2", t0.Add(time.Second)))
	require.Eventually(t, func() bool { return seen("g2", remote.ChangeDelete) }, 5*time.Second, 20*time.Millisecond)
}
