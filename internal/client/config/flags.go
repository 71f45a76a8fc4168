package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-s string   server base URL
//	-d string   local cache path
//	-k string   file holding the store passphrase
//	-t string   access token
//	-i int      sync interval (in seconds)
//	-r int      request timeout (in seconds)
//	-l string   log level
//	-b string   log backend, slog or zap
//	-m string   metrics listen address
//	-init       create the local cache if it is missing
//	-status     print the local sync state and exit
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args,
		[]string{"-s", "-d", "-k", "-t", "-i", "-r", "-l", "-b", "-m"},
		"-init", "-status")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerURL, "s", cfg.ServerURL, "server base URL")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local cache path")
	fs.StringVar(&cfg.StoreKeyFile, "k", cfg.StoreKeyFile, "store passphrase file")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	syncInterval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	requestTimeout := fs.Int("r", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogBackend, "b", cfg.LogBackend, "log backend (slog or zap)")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.BoolVar(&cfg.InitStore, "init", cfg.InitStore, "create the local cache if missing")
	fs.BoolVar(&cfg.ShowStatus, "status", cfg.ShowStatus, "print the local sync state and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
	cfg.RequestTimeout = time.Duration(*requestTimeout) * time.Second
	return nil
}
