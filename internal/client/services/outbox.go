package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/maintkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/maintkeeper/internal/logging"
)

// ChangeTracker builds the outbox from the local cache.
type ChangeTracker struct {
	repo    entities.Repository
	log     logging.Logger
	metrics *metrics.SyncMetrics
}

func NewChangeTracker(repo entities.Repository, log logging.Logger, m *metrics.SyncMetrics) *ChangeTracker {
	if log == nil {
		log = logging.Nop{}
	}
	return &ChangeTracker{repo: repo, log: log, metrics: m}
}

// CollectUnsynced returns the unsynced live records of t as push payloads.
// Foreign keys are translated to server ids. A record referencing a row the
// server does not know yet is left out for this cycle.
func (c *ChangeTracker) CollectUnsynced(ctx context.Context, t models.EntityType) ([]models.OutboxRecord, error) {
	d, err := models.Describe(t)
	if err != nil {
		return nil, err
	}

	rows, err := c.repo.ListUnsynced(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list unsynced %s: %w", t, err)
	}

	out := make([]models.OutboxRecord, 0, len(rows))
	deferred := 0
	for _, row := range rows {
		payload, ready, err := c.payload(ctx, d, row)
		if err != nil {
			return nil, err
		}
		if !ready {
			deferred++
			continue
		}
		out = append(out, models.OutboxRecord{
			ClientID:     row.ClientID,
			ServerID:     row.ServerID,
			LastModified: row.LastModified,
			Payload:      payload,
		})
	}

	c.metrics.AddDeferred(string(t), deferred)
	return out, nil
}

func (c *ChangeTracker) payload(ctx context.Context, d *models.Descriptor, row entities.Row) (models.Record, bool, error) {
	payload := models.Record{
		models.FieldClientID:     row.ClientID,
		models.FieldLastModified: row.LastModified,
	}
	if row.ServerID != nil {
		payload[models.FieldID] = *row.ServerID
	}

	for _, col := range d.Columns {
		payload[col.Name] = row.Fields[col.Name]
	}

	for _, fk := range d.ForeignKeys {
		v := row.Fields[fk.Column]
		if v == nil {
			payload[fk.Column] = nil
			continue
		}
		localID, ok := v.(int64)
		if !ok {
			return nil, false, fmt.Errorf("%s %s: %s holds %T", d.Type, row.ClientID, fk.Column, v)
		}

		serverID, known, err := c.repo.GetServerID(ctx, fk.Target, localID)
		if err != nil {
			return nil, false, fmt.Errorf("translate %s.%s: %w", d.Type, fk.Column, err)
		}
		if !known {
			c.log.Debug(ctx, "record deferred, reference not synced yet",
				"entity", d.Type, "client_id", row.ClientID,
				"column", fk.Column, "target", fk.Target, "local_id", localID)
			return nil, false, nil
		}
		payload[fk.Column] = serverID
	}

	return payload, true, nil
}

// CollectDeletedPendingSync returns deletion refs for tombstoned records of t
// that the server knows about.
func (c *ChangeTracker) CollectDeletedPendingSync(ctx context.Context, t models.EntityType) ([]models.DeletionRef, error) {
	rows, err := c.repo.ListDeletedPending(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("list deleted %s: %w", t, err)
	}

	refs := make([]models.DeletionRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, models.DeletionRef{ClientID: row.ClientID, ServerID: *row.ServerID})
	}
	return refs, nil
}

// Collect builds the outbox for every pushable entity type.
func (c *ChangeTracker) Collect(ctx context.Context) (*models.Outbox, error) {
	ob := models.NewOutbox()
	for _, t := range models.PushOrder {
		recs, err := c.CollectUnsynced(ctx, t)
		if err != nil {
			return nil, err
		}
		refs, err := c.CollectDeletedPendingSync(ctx, t)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			ob.Records[t] = recs
		}
		if len(refs) > 0 {
			ob.Deletions[t] = refs
		}
	}
	return ob, nil
}
