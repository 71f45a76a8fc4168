// Command fakeserver runs the in-memory reference sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/fakeserver"
	"github.com/dmitrijs2005/maintkeeper/internal/fakeserver/config"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
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

	log, err := logging.New(cfg.LogBackend, cfg.LogLevel, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	store := fakeserver.NewStore()
	if cfg.Seed {
		if err := fakeserver.Seed(store); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	srv := fakeserver.New(store, []byte(cfg.SecretKey), fakeserver.WithLogger(log))
	token, err := srv.IssueToken("dev", cfg.TokenValidity)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Printf("access token: %s\n", token)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", "addr", cfg.Addr, "seeded", cfg.Seed)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
