package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestLogBuffer is a goroutine-safe io.Writer that collects JSON log lines.
// Components under test log from pusher and listener goroutines, so writes
// and reads are serialized.
type TestLogBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

// LogEntry is one decoded JSON log line.
type LogEntry map[string]any

// Message returns the entry's msg field.
func (e LogEntry) Message() string {
	s, _ := e[slog.MessageKey].(string)
	return s
}

// Level returns the entry's level field, e.g. "WARN".
func (e LogEntry) Level() string {
	s, _ := e[slog.LevelKey].(string)
	return s
}

// Write implements io.Writer.
func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Reset discards everything written so far.
func (b *TestLogBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

// GetLogEntries decodes every non-blank line as a JSON log entry.
func (b *TestLogBuffer) GetLogEntries() ([]LogEntry, error) {
	var entries []LogEntry
	for _, line := range strings.Split(b.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Find returns the last entry whose message is msg.
func (b *TestLogBuffer) Find(t *testing.T, msg string) (LogEntry, bool) {
	t.Helper()
	entries, err := b.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Message() == msg {
			return entries[i], true
		}
	}
	return nil, false
}

// SetupTestLogger installs a debug-level JSON logger writing to a fresh
// buffer as slog.Default until the test ends.
func SetupTestLogger(t *testing.T, opts *slog.HandlerOptions) (*TestLogBuffer, *slog.Logger) {
	t.Helper()

	logger, logBuf := newTestLogger(opts)
	original := slog.Default()
	slog.SetDefault(logger)
	t.Cleanup(func() { slog.SetDefault(original) })

	return logBuf, logger
}

// GetTestLogger returns a debug-level JSON logger writing to a fresh buffer,
// leaving slog.Default alone. Prefer it for components that take a logger.
func GetTestLogger(t *testing.T) (*slog.Logger, *TestLogBuffer) {
	t.Helper()
	return newTestLogger(nil)
}

func newTestLogger(opts *slog.HandlerOptions) (*slog.Logger, *TestLogBuffer) {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}
	logBuf := &TestLogBuffer{}
	return slog.New(slog.NewJSONHandler(logBuf, opts)), logBuf
}

// AssertLogContains fails the test unless the raw log output contains content.
func AssertLogContains(t *testing.T, logBuf *TestLogBuffer, content string) {
	t.Helper()
	if logs := logBuf.String(); !strings.Contains(logs, content) {
		t.Errorf("Expected log to contain %q, but it doesn't.\nLogs:\n%s", content, logs)
	}
}

// AssertLogNotContains fails the test if the raw log output contains
// content. Used to check that secrets were redacted.
func AssertLogNotContains(t *testing.T, logBuf *TestLogBuffer, content string) {
	t.Helper()
	if logs := logBuf.String(); strings.Contains(logs, content) {
		t.Errorf("Expected log not to contain %q.\nLogs:\n%s", content, logs)
	}
}

// AssertLogField fails the test unless some entry has field set to expected.
// JSON numbers decode as float64.
func AssertLogField(t *testing.T, logBuf *TestLogBuffer, field string, expected any) {
	t.Helper()

	entries, err := logBuf.GetLogEntries()
	if err != nil {
		t.Fatalf("Failed to parse log entries: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("No log entries found")
	}
	for _, entry := range entries {
		if value, ok := entry[field]; ok && value == expected {
			return
		}
	}
	t.Errorf("Expected log entries to contain field %q with value %v, but it wasn't found", field, expected)
}
