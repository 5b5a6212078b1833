// Package config loads agent configuration from file, environment and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the agent's runtime configuration.
type Config struct {
	// ServerURL is the hydra server's entrypoint URL.
	ServerURL string `mapstructure:"server_url"`

	// VocabFile is the path to the local copy of the API's vocabulary
	// document.
	VocabFile string `mapstructure:"vocab_file"`

	// DatabasePath is where the cache graph lives.
	DatabasePath string `mapstructure:"database_path"`

	// EventsURL is the WebSocket URL of the server's modification feed.
	// Empty disables the listener.
	EventsURL string `mapstructure:"events_url"`

	// LogFile enables rotated file logging when set; empty logs to stderr
	// only.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB is the rotation threshold per log file.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`

	// LogMaxBackups is how many rotated files to keep.
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// Load reads configuration from the given file (optional), the environment
// (HYDRAGENT_* variables) and built-in defaults, in increasing precedence of
// env over file over defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Every key needs a default so AutomaticEnv feeds Unmarshal.
	v.SetDefault("server_url", "")
	v.SetDefault("vocab_file", "")
	v.SetDefault("database_path", ".hydragent/cache.db")
	v.SetDefault("events_url", "")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)

	v.SetEnvPrefix("HYDRAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("hydragent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/hydragent")

		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields a running agent cannot do without.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.VocabFile == "" {
		return fmt.Errorf("vocab_file is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	return nil
}
