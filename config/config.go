// Package config loads daemon and CLI configuration from a TOML file
// and LEDGERSYNC_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Sync     SyncConfig
	Log      LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// ServerConfig holds sync server settings. AuthTokenEnv names an
// environment variable consulted before the literal AuthToken, so
// tokens can stay out of the config file.
type ServerConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	AuthToken    string `mapstructure:"auth_token"`
	AuthTokenEnv string `mapstructure:"auth_token_env"`
}

// SyncConfig holds cadence settings for the orchestrator.
type SyncConfig struct {
	Interval          time.Duration
	PushDebounce      time.Duration `mapstructure:"push_debounce"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	StaleThreshold    time.Duration `mapstructure:"stale_threshold"`
}

// LogConfig holds logging and rotation settings. When File is empty the
// daemon logs to stdout.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// Token resolves the bearer token for the sync server, preferring the
// environment variable named by AuthTokenEnv.
func (s ServerConfig) Token() string {
	if s.AuthTokenEnv != "" {
		if tok := os.Getenv(s.AuthTokenEnv); tok != "" {
			return tok
		}
	}
	return s.AuthToken
}

// Load reads configuration from file and env. Env var overrides use
// prefix LEDGERSYNC_, with dots replaced by underscores
// (e.g. LEDGERSYNC_SERVER_BASE_URL).
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "ledgersync", "ledger.db"))
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.auth_token_env", "LEDGERSYNC_AUTH_TOKEN")
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.push_debounce", 3*time.Second)
	v.SetDefault("sync.reconcile_interval", 12*time.Hour)
	v.SetDefault("sync.stale_threshold", 12*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("LEDGERSYNC_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "ledgersync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("LEDGERSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// config file is optional
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
