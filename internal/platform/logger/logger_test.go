// Package logger_test contains tests for the logger package
package logger_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/hearth/internal/config"
	"github.com/phrazzld/hearth/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keepDefault(t *testing.T) {
	t.Helper()
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
}

func TestSetupWriterLevels(t *testing.T) {
	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{level: "debug", debugShown: true, infoShown: true},
		{level: "info", infoShown: true},
		{level: "INFO", infoShown: true},
		{level: "warn"},
		{level: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			keepDefault(t)
			buf := &logger.TestLogBuffer{}

			log, err := logger.SetupWriter(config.ServerConfig{LogLevel: tt.level, Port: 8080}, buf)
			require.NoError(t, err)
			require.NotNil(t, log)
			assert.Same(t, log, slog.Default(), "Setup installs the default logger")

			log.Debug("debug message")
			log.Info("info message")
			assert.Equal(t, tt.debugShown, strings.Contains(buf.String(), "debug message"))
			assert.Equal(t, tt.infoShown, strings.Contains(buf.String(), "info message"))
		})
	}
}

func TestSetupWriterInvalidLevel(t *testing.T) {
	keepDefault(t)
	buf := &logger.TestLogBuffer{}

	log, err := logger.SetupWriter(config.ServerConfig{LogLevel: "invalid_level", Port: 8080}, buf)
	require.NoError(t, err, "an invalid level falls back to info")
	require.NotNil(t, log)

	logger.AssertLogContains(t, buf, "invalid log level configured")
	logger.AssertLogField(t, buf, "configured_level", "invalid_level")
	logger.AssertLogField(t, buf, "default_level", "info")

	buf.Reset()
	log.Debug("hidden")
	log.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetupWriterNilOutput(t *testing.T) {
	_, err := logger.SetupWriter(config.ServerConfig{LogLevel: "info"}, nil)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := logger.ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	level, err = logger.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = logger.ParseLevel("fatal")
	assert.Error(t, err)
}

func TestFromContextOrDefault(t *testing.T) {
	defaultLogger := slog.Default()
	customLogger, _ := logger.GetTestLogger(t)

	tests := []struct {
		name     string
		ctx      context.Context
		expected *slog.Logger
	}{
		{
			name:     "nil_context_returns_default",
			ctx:      nil,
			expected: defaultLogger,
		},
		{
			name:     "context_without_logger_returns_default",
			ctx:      context.Background(),
			expected: defaultLogger,
		},
		{
			name:     "context_with_logger_returns_context_logger",
			ctx:      logger.WithLogger(context.Background(), customLogger),
			expected: customLogger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := logger.FromContextOrDefault(tt.ctx, defaultLogger)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestWithLogger(t *testing.T) {
	t.Run("valid_logger", func(t *testing.T) {
		customLogger, _ := logger.GetTestLogger(t)
		ctx := logger.WithLogger(context.Background(), customLogger)
		assert.Equal(t, customLogger, logger.FromContext(ctx))
	})

	t.Run("nil_logger_panics", func(t *testing.T) {
		assert.Panics(t, func() {
			logger.WithLogger(context.Background(), nil)
		})
	})
}

func TestRequestID(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", logger.RequestIDFromContext(ctx))
	assert.Empty(t, logger.RequestIDFromContext(context.Background()))
	assert.Empty(t, logger.RequestIDFromContext(nil)) //nolint:staticcheck // nil context is handled
}
