package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/client"
	"github.com/dmitrijs2005/maintkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/maintkeeper/internal/client/storage"
	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
)

// Locker grants exclusive use of the local store for one cycle.
// *storage.Store implements it.
type Locker interface {
	TryLock() (release func(), err error)
}

// WatermarkStore persists the pull watermark. *metadata.Watermark
// implements it.
type WatermarkStore interface {
	Load(ctx context.Context) (*time.Time, error)
	Advance(ctx context.Context, t time.Time) (bool, error)
}

type CycleResult struct {
	Pull              PullResult
	Push              PushResult
	WatermarkAdvanced bool
	Watermark         *time.Time
	OutboxSize        int
}

// Orchestrator runs one pull-then-push cycle at a time per store.
type Orchestrator struct {
	locker    Locker
	watermark WatermarkStore
	puller    *PullReconciler
	tracker   *ChangeTracker
	pusher    *PushReconciler
	log       logging.Logger
	metrics   *metrics.SyncMetrics
	now       func() time.Time
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(log logging.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.log = log
	}
}

func WithMetrics(m *metrics.SyncMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(
	locker Locker,
	watermark WatermarkStore,
	puller *PullReconciler,
	tracker *ChangeTracker,
	pusher *PushReconciler,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		locker:    locker,
		watermark: watermark,
		puller:    puller,
		tracker:   tracker,
		pusher:    pusher,
		log:       logging.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunCycle performs one sync cycle. The errors worth telling apart are:
//   - ErrSyncInProgress: another cycle holds the store;
//   - ErrReauthRequired: the credential was rejected;
//   - client.ErrUnavailable: the server could not be reached, retry later;
//   - dbx.ErrLocalStorage: the local store failed, stop syncing.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleResult, error) {
	start := o.now()

	release, err := o.locker.TryLock()
	if err != nil {
		if errors.Is(err, storage.ErrStoreBusy) {
			o.metrics.RecordCycle(metrics.ResultBusy, 0)
			return CycleResult{}, fmt.Errorf("%w: %w", ErrSyncInProgress, err)
		}
		o.metrics.RecordCycle(classify(err), 0)
		return CycleResult{}, err
	}
	defer release()

	res, err := o.cycle(ctx)
	if errors.Is(err, client.ErrUnauthorized) {
		err = fmt.Errorf("%w: %w", ErrReauthRequired, err)
	}

	elapsed := o.now().Sub(start)
	o.metrics.RecordCycle(classify(err), elapsed)
	if err != nil {
		o.log.Error(ctx, "sync cycle aborted", "error", err, "duration", elapsed)
	} else {
		o.log.Info(ctx, "sync cycle finished",
			"pulled", res.Pull.Applied, "pull_failed", res.Pull.Failed,
			"pushed", res.Push.Synced, "deleted", res.Push.Deleted,
			"rejected", res.Push.Rejected, "duration", elapsed)
	}
	return res, err
}

func (o *Orchestrator) cycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	since, err := o.watermark.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("load watermark: %w", err)
	}
	res.Watermark = since

	res.Pull, err = o.puller.Pull(ctx, since)
	if err != nil {
		return res, err
	}

	if res.Pull.Complete {
		// the pull is fully applied; keep its watermark even if ctx ends now
		advanced, err := o.watermark.Advance(context.WithoutCancel(ctx), res.Pull.ServerTimestamp)
		if err != nil {
			return res, fmt.Errorf("store watermark: %w", err)
		}
		res.WatermarkAdvanced = advanced
		if advanced {
			ts := res.Pull.ServerTimestamp
			res.Watermark = &ts
			o.metrics.SetWatermark(ts)
		}
	} else {
		o.log.Warn(ctx, "pull incomplete, watermark kept", "failed", res.Pull.Failed)
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	ob, err := o.tracker.Collect(ctx)
	if err != nil {
		return res, fmt.Errorf("collect outbox: %w", err)
	}
	res.OutboxSize = ob.Len()

	res.Push, err = o.pusher.Push(ctx, ob)
	if err != nil {
		return res, err
	}
	return res, nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, ErrSyncInProgress):
		return metrics.ResultBusy
	case errors.Is(err, client.ErrUnauthorized):
		return metrics.ResultUnauthorized
	case errors.Is(err, client.ErrUnavailable):
		return metrics.ResultUnavailable
	case errors.Is(err, dbx.ErrLocalStorage):
		return metrics.ResultStorage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ResultCanceled
	default:
		return metrics.ResultError
	}
}
