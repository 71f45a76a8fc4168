package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/client"
	"github.com/dmitrijs2005/maintkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
)

// RowFailure is a pulled record that could not be applied.
type RowFailure struct {
	Entity   models.EntityType
	ServerID int64
	Err      error
}

type PullResult struct {
	// Applied counts inserted, updated and removed rows.
	Applied   int
	Unchanged int
	Failed    int
	Failures  []RowFailure

	ServerTimestamp time.Time

	// Complete is true when every pulled record was applied. Only a
	// complete pull may advance the watermark.
	Complete bool
}

// PullReconciler applies server changes to the local cache.
type PullReconciler struct {
	client  client.Client
	repo    entities.Repository
	log     logging.Logger
	metrics *metrics.SyncMetrics
}

func NewPullReconciler(c client.Client, repo entities.Repository, log logging.Logger, m *metrics.SyncMetrics) *PullReconciler {
	if log == nil {
		log = logging.Nop{}
	}
	return &PullReconciler{client: c, repo: repo, log: log, metrics: m}
}

// Pull fetches changes since the watermark (all records when since is nil)
// and upserts them parents first. Server deletions are applied afterwards,
// children first, so a parent and its children removed in the same window
// go away together.
//
// A record that fails is skipped and makes the result incomplete. Local
// storage failures, cancellation and remote errors abort the pull.
func (p *PullReconciler) Pull(ctx context.Context, since *time.Time) (PullResult, error) {
	resp, err := p.client.Pull(ctx, since)
	if err != nil {
		return PullResult{}, fmt.Errorf("pull: %w", err)
	}

	res := PullResult{ServerTimestamp: resp.ServerTimestamp}
	deletions := make(map[models.EntityType][]models.Record)

	for _, t := range models.PullOrder {
		var upserts []models.Record
		for _, rec := range resp.Records(t) {
			if rec.Deleted() {
				deletions[t] = append(deletions[t], rec)
				continue
			}
			upserts = append(upserts, rec)
		}
		if err := p.apply(ctx, t, upserts, &res); err != nil {
			return res, err
		}
	}

	for i := len(models.PullOrder) - 1; i >= 0; i-- {
		t := models.PullOrder[i]
		if err := p.apply(ctx, t, deletions[t], &res); err != nil {
			return res, err
		}
	}

	res.Complete = res.Failed == 0
	p.log.Info(ctx, "pull applied",
		"applied", res.Applied, "unchanged", res.Unchanged, "failed", res.Failed,
		"server_timestamp", res.ServerTimestamp)
	return res, nil
}

func (p *PullReconciler) apply(ctx context.Context, t models.EntityType, recs []models.Record, res *PullResult) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	counts := make(map[entities.UpsertOutcome]int)
	failed := 0
	defer func() {
		for outcome, n := range counts {
			p.metrics.AddPulled(string(t), outcome.String(), n)
		}
		p.metrics.AddPulled(string(t), "failed", failed)
	}()

	for _, rec := range recs {
		outcome, err := p.repo.UpsertFromServer(ctx, t, rec)
		if err != nil {
			if errors.Is(err, dbx.ErrLocalStorage) {
				return fmt.Errorf("apply %s: %w", t, err)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			serverID, _, _ := rec.Int64(models.FieldID)
			p.log.Warn(ctx, "pulled record not applied",
				"entity", t, "server_id", serverID, "error", err)
			res.Failed++
			failed++
			res.Failures = append(res.Failures, RowFailure{Entity: t, ServerID: serverID, Err: err})
			continue
		}

		counts[outcome]++
		if outcome == entities.OutcomeUnchanged {
			res.Unchanged++
		} else {
			res.Applied++
		}
	}
	return nil
}
