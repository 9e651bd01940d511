package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Sync         SyncConfig         `mapstructure:"sync" validate:"required"`
	Remote       RemoteConfig       `mapstructure:"remote" validate:"required"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Achievements AchievementsConfig `mapstructure:"achievements"`
	Session      SessionConfig      `mapstructure:"session"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// SyncConfig controls the sync pusher and the event bus.
type SyncConfig struct {
	Workers       int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"gte=1"`
	RetryBase     time.Duration `mapstructure:"retry_base" validate:"gt=0"`
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" validate:"gtefield=RetryBase"`
	// DispatchQueue bounds the events handlers may publish during one dispatch.
	DispatchQueue int `mapstructure:"dispatch_queue" validate:"gte=1"`
}

// RemoteConfig selects the remote document store.
type RemoteConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory postgres"`
	URL    string `mapstructure:"url" validate:"required_if=Driver postgres"`
	// Collections the listener subscribes to. Empty means all.
	Collections []string `mapstructure:"collections" validate:"dive,oneof=tasks goals penalties achievements"`
}

// CacheConfig locates the local durable cache. An empty path keeps state in
// memory only.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

// AchievementsConfig points at an optional YAML rules file.
type AchievementsConfig struct {
	RulesPath string `mapstructure:"rules_path"`
}

// SessionConfig identifies the signed-in family member.
type SessionConfig struct {
	UserID string `mapstructure:"user_id" validate:"max=64"`
}
