package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. HEARTH_SERVER_PORT.
const EnvPrefix = "HEARTH"

var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"sync.workers":            4,
	"sync.write_timeout":      "10s",
	"sync.max_attempts":       5,
	"sync.retry_base":         "500ms",
	"sync.retry_max_delay":    "30s",
	"sync.dispatch_queue":     256,
	"remote.driver":           "memory",
	"remote.url":              "",
	"remote.collections":      []string{},
	"cache.path":              "",
	"achievements.rules_path": "",
	"session.user_id":         "",
}

// Load configuration from environment variables and optionally a hearth.yaml
// in the working directory. Environment variables take precedence over
// values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path searches the
// working directory for hearth.yaml and tolerates its absence.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hearth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
