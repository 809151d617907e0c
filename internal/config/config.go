// Package config loads pawsync configuration from a YAML file and
// PAWSYNC_-prefixed environment variables, with sensible defaults for
// everything so a bare `pawsync sync` works out of the box.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full pawsync configuration.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path"`

	// APIBaseURL is the remote records service.
	APIBaseURL string `mapstructure:"api_base_url"`
	// APIToken is the bearer token for the records service.
	APIToken string `mapstructure:"api_token"`

	// SyncInterval is the periodic sync cadence in daemon mode.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	// MaxRetryAttempts caps per-item retries.
	MaxRetryAttempts int `mapstructure:"max_retry_attempts"`
	// BackoffBase is the first retry delay.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffMax caps the exponential backoff.
	BackoffMax time.Duration `mapstructure:"backoff_max"`

	// NetStateFile is the network state file the connectivity watcher
	// follows, e.g. /sys/class/net/wlan0/operstate. Empty means assume
	// always online.
	NetStateFile string `mapstructure:"net_state_file"`

	// DashboardPort is the daemon's dashboard port; 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile receives daemon logs (rotated); empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// SearchCacheTTL bounds how long drug search results are served
	// from cache.
	SearchCacheTTL time.Duration `mapstructure:"search_cache_ttl"`
}

// Load reads configuration from path (optional; "" searches the
// default locations) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("api_base_url", "https://api.pawsync.dev")
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("max_retry_attempts", 5)
	v.SetDefault("backoff_base", 2*time.Second)
	v.SetDefault("backoff_max", 5*time.Minute)
	v.SetDefault("dashboard_port", 8321)
	v.SetDefault("search_cache_ttl", time.Hour)
	// Keys without meaningful defaults still need registering so
	// environment-only values are seen by Unmarshal.
	v.SetDefault("api_token", "")
	v.SetDefault("net_state_file", "")
	v.SetDefault("log_file", "")

	v.SetEnvPrefix("PAWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pawsync")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pawsync"))
		}
		v.AddConfigPath(".")
		// A missing config file is fine; defaults and env cover it.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.MaxRetryAttempts < 1 {
		return nil, fmt.Errorf("max_retry_attempts must be at least 1, got %d", cfg.MaxRetryAttempts)
	}
	if cfg.BackoffBase <= 0 || cfg.BackoffMax < cfg.BackoffBase {
		return nil, fmt.Errorf("invalid backoff range %v..%v", cfg.BackoffBase, cfg.BackoffMax)
	}

	return &cfg, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pawsync.db"
	}
	return filepath.Join(home, ".local", "share", "pawsync", "pawsync.db")
}
