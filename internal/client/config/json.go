package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/maintkeeper/internal/flagx"
	"github.com/dmitrijs2005/maintkeeper/internal/timex"
)

// JsonConfig is a DTO used only for JSON unmarshalling. Durations use
// timex.Duration, so "30s" and integer nanoseconds are both accepted.
type JsonConfig struct {
	ServerURL      string         `json:"server_url"`
	DatabasePath   string         `json:"database_path"`
	StoreKeyFile   string         `json:"store_key_file"`
	InitStore      *bool          `json:"init_store"`
	AccessToken    string         `json:"access_token"`
	SyncInterval   timex.Duration `json:"sync_interval"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	LogLevel       string         `json:"log_level"`
	LogBackend     string         `json:"log_backend"`
	MetricsAddr    string         `json:"metrics_addr"`
}

// parseJson overlays cfg with the values present in the file named by
// -c/-config. Keys missing from the file keep their current value.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return err
	}

	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.StoreKeyFile, jc.StoreKeyFile)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogBackend, jc.LogBackend)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	if jc.InitStore != nil {
		cfg.InitStore = *jc.InitStore
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
