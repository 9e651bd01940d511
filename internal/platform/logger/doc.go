// Package logger configures the process-wide slog JSON logger from
// config.ServerConfig and carries request-scoped loggers through a
// context. The test helpers capture JSON output for assertions.
package logger
