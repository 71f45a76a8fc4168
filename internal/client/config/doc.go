// Package config loads runtime configuration for the sync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Durations are timex.Duration values, so either "30s" or integer
// nanoseconds:
//
//	{
//	  "server_url": "https://api.example.com",
//	  "database_path": "/var/lib/maintkeeper/cache.db",
//	  "store_key_file": "/etc/maintkeeper/key",
//	  "init_store": true,
//	  "sync_interval": "5m",
//	  "request_timeout": "30s",
//	  "log_level": "debug",
//	  "log_backend": "zap",
//	  "metrics_addr": ":9102"
//	}
package config
