package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/maintkeeper/internal/client/client"
	"github.com/dmitrijs2005/maintkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
)

type PushResult struct {
	Synced   int
	Deleted  int
	Rejected int
	// Skipped counts records the server did not acknowledge, or whose
	// acknowledgement could not be applied locally. They stay queued.
	Skipped    int
	Rejections []entities.Rejection
}

// PushReconciler submits the outbox and applies acknowledgements.
type PushReconciler struct {
	client  client.Client
	repo    entities.Repository
	log     logging.Logger
	metrics *metrics.SyncMetrics
}

func NewPushReconciler(c client.Client, repo entities.Repository, log logging.Logger, m *metrics.SyncMetrics) *PushReconciler {
	if log == nil {
		log = logging.Nop{}
	}
	return &PushReconciler{client: c, repo: repo, log: log, metrics: m}
}

// Push sends ob in a single request. An empty outbox sends nothing.
//
// Contract:
//   - success on a create/update: the row gets its server id and is marked
//     synced unless it was edited after collection;
//   - success on a deletion: the tombstone is removed;
//   - failure: the row is left as is and the error is kept in the
//     rejection log;
//   - no acknowledgement: the row is left as is.
func (p *PushReconciler) Push(ctx context.Context, ob *models.Outbox) (PushResult, error) {
	var res PushResult
	if ob == nil || ob.Len() == 0 {
		return res, nil
	}

	resp, err := p.client.Push(ctx, ob.Request())
	if err != nil {
		return res, fmt.Errorf("push: %w", err)
	}

	for _, t := range models.PushOrder {
		if err := p.applyRecords(ctx, t, ob.Records[t], resp.Statuses(t), &res); err != nil {
			return res, err
		}
		if err := p.applyDeletions(ctx, t, ob.Deletions[t], resp.DeletionStatuses(t), &res); err != nil {
			return res, err
		}
	}

	p.log.Info(ctx, "push applied",
		"synced", res.Synced, "deleted", res.Deleted, "rejected", res.Rejected, "skipped", res.Skipped)
	return res, nil
}

func indexStatuses(sts []models.RecordStatus) map[string]models.RecordStatus {
	idx := make(map[string]models.RecordStatus, len(sts))
	for _, st := range sts {
		idx[st.ClientID] = st
	}
	return idx
}

func (p *PushReconciler) applyRecords(ctx context.Context, t models.EntityType, recs []models.OutboxRecord, sts []models.RecordStatus, res *PushResult) error {
	idx := indexStatuses(sts)
	synced, rejected, skipped := 0, 0, 0

	for _, rec := range recs {
		st, ok := idx[rec.ClientID]
		if !ok {
			p.log.Warn(ctx, "no acknowledgement for pushed record", "entity", t, "client_id", rec.ClientID)
			skipped++
			continue
		}

		if !st.Success {
			if err := p.reject(ctx, t, rec.ClientID, st.Error, res); err != nil {
				return err
			}
			rejected++
			continue
		}

		serverID := rec.ServerID
		if st.ServerID != nil {
			serverID = st.ServerID
		}
		if serverID == nil {
			if err := p.reject(ctx, t, rec.ClientID, "acknowledged without server id", res); err != nil {
				return err
			}
			rejected++
			continue
		}

		ack := entities.Ack{ServerID: *serverID, Observed: rec.LastModified}
		if st.LastModified != "" {
			if v, err := models.StorageValue(models.KindTime, st.LastModified); err == nil {
				ack.ServerModified = v.(string)
			}
		}

		err := p.repo.UpdateSyncStatus(ctx, t, rec.ClientID, ack)
		switch {
		case err == nil:
			synced++
		case errors.Is(err, dbx.ErrLocalStorage):
			return fmt.Errorf("apply ack of %s %s: %w", t, rec.ClientID, err)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, entities.ErrIdentityConflict):
			if err := p.reject(ctx, t, rec.ClientID, err.Error(), res); err != nil {
				return err
			}
			rejected++
		default:
			p.log.Warn(ctx, "acknowledgement not applied", "entity", t, "client_id", rec.ClientID, "error", err)
			skipped++
		}
	}

	res.Synced += synced
	res.Rejected += rejected
	res.Skipped += skipped
	p.metrics.AddPushed(string(t), "synced", synced)
	p.metrics.AddPushed(string(t), "rejected", rejected)
	p.metrics.AddPushed(string(t), "skipped", skipped)
	return nil
}

func (p *PushReconciler) applyDeletions(ctx context.Context, t models.EntityType, refs []models.DeletionRef, sts []models.RecordStatus, res *PushResult) error {
	idx := indexStatuses(sts)
	deleted, rejected, skipped := 0, 0, 0

	for _, ref := range refs {
		st, ok := idx[ref.ClientID]
		if !ok {
			p.log.Warn(ctx, "no acknowledgement for pushed deletion", "entity", t, "client_id", ref.ClientID)
			skipped++
			continue
		}

		if !st.Success {
			if err := p.reject(ctx, t, ref.ClientID, st.Error, res); err != nil {
				return err
			}
			rejected++
			continue
		}

		err := p.repo.HardDelete(ctx, t, ref.ClientID)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, dbx.ErrLocalStorage):
			return fmt.Errorf("remove tombstone of %s %s: %w", t, ref.ClientID, err)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			p.log.Warn(ctx, "tombstone not removed", "entity", t, "client_id", ref.ClientID, "error", err)
			skipped++
		}
	}

	res.Deleted += deleted
	res.Rejected += rejected
	res.Skipped += skipped
	p.metrics.AddPushed(string(t), "deleted", deleted)
	p.metrics.AddPushed(string(t), "rejected", rejected)
	p.metrics.AddPushed(string(t), "skipped", skipped)
	return nil
}

func (p *PushReconciler) reject(ctx context.Context, t models.EntityType, clientID, msg string, res *PushResult) error {
	if msg == "" {
		msg = "rejected by server"
	}
	p.log.Warn(ctx, "pushed record rejected", "entity", t, "client_id", clientID, "error", msg)

	if err := p.repo.RecordRejection(ctx, t, clientID, msg); err != nil {
		if errors.Is(err, dbx.ErrLocalStorage) {
			return fmt.Errorf("record rejection of %s %s: %w", t, clientID, err)
		}
		return err
	}
	res.Rejections = append(res.Rejections, entities.Rejection{Entity: t, ClientID: clientID, Error: msg})
	return nil
}
