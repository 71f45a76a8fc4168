// Command client runs the offline-first sync client in the background, or
// with -status prints the state of the local cache and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dmitrijs2005/maintkeeper/internal/client/app"
	"github.com/dmitrijs2005/maintkeeper/internal/client/config"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogBackend, cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	if cfg.ShowStatus {
		return status(cfg, logger)
	}

	token, err := accessToken(cfg.AccessToken)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	var opts []app.Option
	if interactive() {
		opts = append(opts, app.WithTokenPrompt(func(context.Context) (string, error) {
			return promptToken()
		}))
	}

	a, err := app.NewApp(ctx, cfg, logger, token, opts...)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func status(cfg *config.Config, logger logging.Logger) error {
	ctx := context.Background()

	a, err := app.NewApp(ctx, cfg, logger, "")
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Status(ctx, os.Stdout)
}

// accessToken returns configured, or prompts for a token on an interactive
// terminal without echoing it.
func accessToken(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if !interactive() {
		return "", errors.New("no access token: pass -t or set access_token in the config file")
	}
	return promptToken()
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Access token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("empty access token")
	}
	return token, nil
}
