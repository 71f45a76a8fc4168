package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmitrijs2005/maintkeeper/internal/client/client"
	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
)

const (
	DefaultSyncInterval = 5 * time.Minute

	// defaultRetryWindow bounds how long one scheduled cycle keeps retrying
	// an unreachable server before waiting for the next tick.
	defaultRetryWindow = 2 * time.Minute
)

// Cycler runs a single sync cycle. *Orchestrator implements it.
type Cycler interface {
	RunCycle(ctx context.Context) (CycleResult, error)
}

// Scheduler runs sync cycles in the background.
type Scheduler struct {
	cycler      Cycler
	interval    time.Duration
	retryWindow time.Duration
	newBackOff  func() backoff.BackOff
	onReauth    func(error)
	log         logging.Logger

	trigger chan struct{}
}

type SchedulerOption func(*Scheduler)

// WithBackOff sets the policy used between retries of unreachable-server
// failures. A fresh policy is created for every scheduled cycle.
func WithBackOff(newBackOff func() backoff.BackOff) SchedulerOption {
	return func(s *Scheduler) {
		s.newBackOff = newBackOff
	}
}

// WithRetryWindow bounds the total time spent retrying one cycle.
func WithRetryWindow(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.retryWindow = d
	}
}

// WithOnReauth registers a callback invoked when the server rejects the
// credential. The scheduler stops afterwards.
func WithOnReauth(fn func(error)) SchedulerOption {
	return func(s *Scheduler) {
		s.onReauth = fn
	}
}

func WithSchedulerLogger(log logging.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = log
	}
}

func NewScheduler(cycler Cycler, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	s := &Scheduler{
		cycler:      cycler,
		interval:    interval,
		retryWindow: defaultRetryWindow,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
		log:     logging.Nop{},
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger requests a cycle as soon as possible. Requests made while one is
// already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run starts with an immediate cycle and then syncs every interval or on
// Trigger until ctx is done. It returns nil on cancellation, the
// ErrReauthRequired error when the credential was rejected, and local
// storage errors, which are fatal.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info(ctx, "sync scheduler started", "interval", s.interval)
	defer s.log.Info(ctx, "sync scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runOnce(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	op := func() (CycleResult, error) {
		res, err := s.cycler.RunCycle(ctx)
		if err == nil || errors.Is(err, client.ErrUnavailable) {
			return res, err
		}
		return res, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		s.log.Warn(ctx, "server unavailable, retrying", "error", err, "retry_in", next)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxElapsedTime(s.retryWindow),
		backoff.WithNotify(notify),
	)

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, ErrReauthRequired):
		s.log.Error(ctx, "credential rejected, stopping sync", "error", err)
		if s.onReauth != nil {
			s.onReauth(err)
		}
		return err
	case errors.Is(err, dbx.ErrLocalStorage):
		s.log.Error(ctx, "local storage failure, stopping sync", "error", err)
		return err
	case errors.Is(err, ErrSyncInProgress):
		s.log.Debug(ctx, "cycle skipped, another one is running")
		return nil
	default:
		s.log.Warn(ctx, "sync cycle failed", "error", err)
		return nil
	}
}
