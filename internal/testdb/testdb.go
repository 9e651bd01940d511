//go:build integration

package testdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phrazzld/hearth/internal/redact"
	"github.com/stretchr/testify/require"
)

// Environment variables consulted for the test database, in order.
const (
	EnvTestDatabaseURL = "HEARTH_TEST_DATABASE_URL"
	EnvDatabaseURL     = "DATABASE_URL"
)

// TestTimeout bounds each helper's round trip to the database.
const TestTimeout = 10 * time.Second

// DatabaseURL returns the first configured database URL, or "".
func DatabaseURL() string {
	for _, key := range []string{EnvTestDatabaseURL, EnvDatabaseURL} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// RequireURL returns the database URL or skips the test when none is set.
func RequireURL(t *testing.T) string {
	t.Helper()
	url := DatabaseURL()
	if url == "" {
		t.Skipf("%s not set - skipping integration test", EnvTestDatabaseURL)
	}
	return url
}

// Truncate removes every document so a test starts from an empty remote.
func Truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	_, err := pool.Exec(ctx, "TRUNCATE documents")
	require.NoError(t, err, "truncate documents (%s)", redact.String(DatabaseURL()))
}
