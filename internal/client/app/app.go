// Package app wires the sync client together: configuration, local store,
// HTTP transport, the sync services and the metrics endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/cli"
	"github.com/dmitrijs2005/maintkeeper/internal/client/client"
	"github.com/dmitrijs2005/maintkeeper/internal/client/config"
	"github.com/dmitrijs2005/maintkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/maintkeeper/internal/client/services"
	"github.com/dmitrijs2005/maintkeeper/internal/client/storage"
	"github.com/dmitrijs2005/maintkeeper/internal/common"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	store     *storage.Store
	api       *client.HTTPClient
	prompt    TokenPrompt
	repo      *entities.SQLiteRepository
	watermark *metadata.Watermark
	registry  *prometheus.Registry
	scheduler *services.Scheduler
}

// TokenPrompt asks the operator for a replacement access token.
type TokenPrompt func(ctx context.Context) (string, error)

type Option func(*App)

// WithTokenPrompt makes Run ask for a new token when the server rejects the
// current one, and resume syncing with it. Without a prompt Run stops.
func WithTokenPrompt(p TokenPrompt) Option {
	return func(a *App) {
		a.prompt = p
	}
}

// NewApp opens the local store and builds the sync pipeline. token is the
// bearer credential used for every request.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger, token string, opts ...Option) (*App, error) {
	key, err := readStoreKey(c.StoreKeyFile)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	store, err := storage.Open(ctx, storage.Options{
		Path:            c.DatabasePath,
		CreateIfMissing: c.InitStore,
		Key:             key,
	})
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	api, err := client.NewHTTPClient(c.ServerURL, token, client.WithTimeout(c.RequestTimeout))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewSyncMetrics(reg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	repo := entities.NewSQLiteRepository(store.DB)
	watermark := metadata.NewWatermark(metadata.NewSQLiteRepository(store.DB))

	orch := services.NewOrchestrator(store, watermark,
		services.NewPullReconciler(api, repo, logger.With("component", "pull"), m),
		services.NewChangeTracker(repo, logger.With("component", "outbox"), m),
		services.NewPushReconciler(api, repo, logger.With("component", "push"), m),
		services.WithLogger(logger.With("component", "sync")),
		services.WithMetrics(m),
	)

	sched := services.NewScheduler(orch, c.SyncInterval,
		services.WithSchedulerLogger(logger.With("component", "scheduler")),
		services.WithOnReauth(func(err error) {
			logger.Error(ctx, "access token rejected", "error", err)
		}),
	)

	a := &App{
		config:    c,
		logger:    logger,
		store:     store,
		api:       api,
		repo:      repo,
		watermark: watermark,
		registry:  reg,
		scheduler: sched,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// readStoreKey returns the passphrase kept in path, or nil when path is empty.
func readStoreKey(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store key: %w", err)
	}
	key := []byte(strings.TrimSpace(string(raw)))
	common.WipeByteArray(raw)
	if len(key) == 0 {
		return nil, fmt.Errorf("store key file %s is empty", path)
	}
	return key, nil
}

// MetricsHandler serves the client's Prometheus metrics.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

// Status writes the local sync state to w.
func (a *App) Status(ctx context.Context, w io.Writer) error {
	r, err := cli.Collect(ctx, a.repo, a.watermark)
	if err != nil {
		return err
	}
	return r.Write(w)
}

// Close releases the local store. Run closes it itself.
func (a *App) Close() error {
	return a.store.Close()
}

// SyncNow asks the scheduler for an immediate cycle.
func (a *App) SyncNow() {
	a.scheduler.Trigger()
}

func (a *App) initSignalHandler(ctx context.Context) {
	// SIGUSR1 requests an immediate sync
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				a.logger.Info(ctx, "sync requested")
				a.SyncNow()
			}
		}
	}()
}

func (a *App) serveMetrics(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           a.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "metrics listening", "addr", a.config.MetricsAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Run syncs until ctx is done or the scheduler stops on a fatal error, then
// closes the store.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			a.logger.Error(context.Background(), "close store", "error", err)
		}
	}()

	a.logger.Info(ctx, "starting sync client",
		"server", a.config.ServerURL, "store", a.store.Path(), "interval", a.config.SyncInterval)

	g, ctx := errgroup.WithContext(ctx)
	a.initSignalHandler(ctx)

	g.Go(func() error {
		return a.sync(ctx)
	})
	if a.config.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(ctx)
		})
	}

	return g.Wait()
}

// sync runs the scheduler, replacing the access token through the prompt
// each time the server rejects it.
func (a *App) sync(ctx context.Context) error {
	for {
		err := a.scheduler.Run(ctx)
		if a.prompt == nil || !errors.Is(err, services.ErrReauthRequired) {
			return err
		}

		token, perr := a.prompt(ctx)
		if perr != nil {
			return errors.Join(err, perr)
		}
		a.api.SetToken(token)
		a.logger.Info(ctx, "access token replaced, resuming sync")
	}
}
