// Package config handles configuration for the reference sync server,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/flagx"
	"github.com/dmitrijs2005/maintkeeper/internal/timex"
)

// Config holds runtime settings for the reference server.
//
// Fields:
//   - Addr: HTTP listen address.
//   - SecretKey: HMAC secret for signing JWTs (HS256). Do not use the default outside development.
//   - TokenValidity: lifetime of the token printed at start-up.
//   - Seed: load a small demo data set.
type Config struct {
	Addr          string
	SecretKey     string
	TokenValidity time.Duration
	Seed          bool
	LogLevel      string
	LogBackend    string
}

type JsonConfig struct {
	Addr          string         `json:"addr"`
	SecretKey     string         `json:"secret_key"`
	TokenValidity timex.Duration `json:"token_validity"`
	Seed          *bool          `json:"seed"`
	LogLevel      string         `json:"log_level"`
	LogBackend    string         `json:"log_backend"`
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Addr = ":8080"
	c.SecretKey = "secretKey"
	c.TokenValidity = 24 * time.Hour
	c.LogLevel = "info"
	c.LogBackend = "slog"
}

// LoadConfig applies defaults, then the JSON file named by -c/-config, then
// flags.
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

// parseFlags reads:
//
//	-a string   listen address
//	-s string   JWT HMAC secret key
//	-t int      token validity (in minutes)
//	-l string   log level
//	-b string   log backend
//	-seed       load demo data
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-s", "-t", "-l", "-b"}, "-seed")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Addr, "a", cfg.Addr, "address and port to run server")
	fs.StringVar(&cfg.SecretKey, "s", cfg.SecretKey, "secret key")
	validity := fs.Int("t", int(cfg.TokenValidity.Minutes()), "token validity (in minutes)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogBackend, "b", cfg.LogBackend, "log backend (slog or zap)")
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "load demo data")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.TokenValidity = time.Duration(*validity) * time.Minute
	return nil
}

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

	if jc.Addr != "" {
		cfg.Addr = jc.Addr
	}
	if jc.SecretKey != "" {
		cfg.SecretKey = jc.SecretKey
	}
	if jc.TokenValidity.Duration > 0 {
		cfg.TokenValidity = jc.TokenValidity.Duration
	}
	if jc.Seed != nil {
		cfg.Seed = *jc.Seed
	}
	if jc.LogLevel != "" {
		cfg.LogLevel = jc.LogLevel
	}
	if jc.LogBackend != "" {
		cfg.LogBackend = jc.LogBackend
	}
	return nil
}
