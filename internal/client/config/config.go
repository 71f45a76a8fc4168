package config

import (
	"fmt"
	"time"
)

// Config holds runtime settings for the sync client.
//
// Fields:
//   - ServerURL: base URL of the sync API, e.g. "https://api.example.com".
//   - DatabasePath: location of the local SQLite cache.
//   - StoreKeyFile: optional file holding the store passphrase.
//   - InitStore: create the cache when it does not exist yet.
//   - AccessToken: bearer credential; prompted for when empty.
//   - SyncInterval / RequestTimeout: scheduler period and per-request bound.
//   - LogLevel / LogBackend: "debug".."error" and "slog" or "zap".
//   - MetricsAddr: listen address for /metrics, disabled when empty.
//   - ShowStatus: print the local sync state instead of syncing.
type Config struct {
	ServerURL      string
	DatabasePath   string
	StoreKeyFile   string
	InitStore      bool
	AccessToken    string
	SyncInterval   time.Duration
	RequestTimeout time.Duration
	LogLevel       string
	LogBackend     string
	MetricsAddr    string
	ShowStatus     bool
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabasePath = "maintkeeper.db"
	c.SyncInterval = 5 * time.Minute
	c.RequestTimeout = 30 * time.Second
	c.LogLevel = "info"
	c.LogBackend = "slog"
}

// LoadConfig builds a Config from defaults, then the JSON file named by
// -c/-config in args, then flags in args. Later sources win.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return cfg, nil
}
