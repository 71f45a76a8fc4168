package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/maintkeeper/internal/client/storage"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeClient records calls and delegates to the configured funcs. Without a
// pull func it returns an empty change set stamped t0; without a push func a
// push fails the test.
type fakeClient struct {
	mu     sync.Mutex
	pullFn func(ctx context.Context, since *time.Time) (*models.PullResponse, error)
	pushFn func(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error)

	sinces []*time.Time
	pushes []*models.PushRequest
}

func (c *fakeClient) Pull(ctx context.Context, since *time.Time) (*models.PullResponse, error) {
	c.mu.Lock()
	c.sinces = append(c.sinces, since)
	fn := c.pullFn
	c.mu.Unlock()

	if fn == nil {
		return &models.PullResponse{ServerTimestamp: t0}, nil
	}
	return fn(ctx, since)
}

func (c *fakeClient) Push(ctx context.Context, req *models.PushRequest) (*models.PushResponse, error) {
	c.mu.Lock()
	c.pushes = append(c.pushes, req)
	fn := c.pushFn
	c.mu.Unlock()

	if fn == nil {
		return nil, errors.New("unexpected push")
	}
	return fn(ctx, req)
}

func (c *fakeClient) pullCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sinces)
}

func (c *fakeClient) pushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pushes)
}

// ackAll acknowledges every pushed record and deletion. New records get
// server ids from next upwards.
func ackAll(next int64) func(context.Context, *models.PushRequest) (*models.PushResponse, error) {
	return func(_ context.Context, req *models.PushRequest) (*models.PushResponse, error) {
		resp := &models.PushResponse{}
		ack := func(recs []models.Record) []models.RecordStatus {
			var sts []models.RecordStatus
			for _, rec := range recs {
				clientID, _ := rec.String(models.FieldClientID)
				id, ok, _ := rec.Int64(models.FieldID)
				if !ok {
					next++
					id = next
				}
				sts = append(sts, models.RecordStatus{ClientID: clientID, ServerID: &id, Success: true})
			}
			return sts
		}
		ackDel := func(refs []models.DeletionRef) []models.RecordStatus {
			var sts []models.RecordStatus
			for _, ref := range refs {
				sts = append(sts, models.RecordStatus{ClientID: ref.ClientID, Success: true})
			}
			return sts
		}

		resp.MaintenanceRecordsStatus = ack(req.MaintenanceRecords)
		resp.AuditTaskCompletionsStatus = ack(req.AuditTaskCompletions)
		resp.DeletedMaintenanceRecordsStatus = ackDel(req.DeletedMaintenanceRecords)
		resp.DeletedAuditTaskCompletionsStatus = ackDel(req.DeletedAuditTaskCompletions)
		return resp, nil
	}
}

type testEnv struct {
	store     *storage.Store
	repo      *entities.SQLiteRepository
	watermark *metadata.Watermark
	client    *fakeClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := storage.Open(context.Background(), storage.Options{Path: storage.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return &testEnv{
		store:     s,
		repo:      entities.NewSQLiteRepository(s.DB),
		watermark: metadata.NewWatermark(metadata.NewSQLiteRepository(s.DB)),
		client:    &fakeClient{},
	}
}

func (e *testEnv) orchestrator(opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(e.store, e.watermark,
		NewPullReconciler(e.client, e.repo, nil, nil),
		NewChangeTracker(e.repo, nil, nil),
		NewPushReconciler(e.client, e.repo, nil, nil),
		opts...)
}

// seed applies role 3, user 7, site 1, machine 10, part 42 and audit task 5
// as pulled records.
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	rows := []struct {
		t   models.EntityType
		rec models.Record
	}{
		{models.EntityRole, models.Record{"id": int64(3), "name": "technician"}},
		{models.EntityUser, models.Record{"id": int64(7), "username": "ann", "is_active": true, "role_id": int64(3)}},
		{models.EntitySite, models.Record{"id": int64(1), "name": "north"}},
		{models.EntityMachine, models.Record{"id": int64(10), "name": "press", "site_id": int64(1)}},
		{models.EntityPart, models.Record{"id": int64(42), "name": "belt", "machine_id": int64(10)}},
		{models.EntityAuditTask, models.Record{"id": int64(5), "title": "guards", "site_id": int64(1)}},
	}
	for _, r := range rows {
		_, err := e.repo.UpsertFromServer(ctx, r.t, r.rec)
		require.NoError(t, err)
	}
}

func (e *testEnv) localID(t *testing.T, et models.EntityType, serverID int64) int64 {
	t.Helper()
	id, ok, err := e.repo.GetLocalID(context.Background(), et, serverID)
	require.NoError(t, err)
	require.True(t, ok, "%s %d not in local store", et, serverID)
	return id
}

// newRecord creates an unsynced maintenance record on part 42 by user 7.
func (e *testEnv) newRecord(t *testing.T, status string) string {
	t.Helper()
	clientID, err := e.repo.CreateLocal(context.Background(), models.EntityMaintenanceRecord, models.Record{
		"performed_at": "2024-05-01T10:00:00Z",
		"status":       status,
		"part_id":      e.localID(t, models.EntityPart, 42),
		"user_id":      e.localID(t, models.EntityUser, 7),
	})
	require.NoError(t, err)
	return clientID
}

func (e *testEnv) row(t *testing.T, et models.EntityType, clientID string) *entities.Row {
	t.Helper()
	row, err := e.repo.GetByClientID(context.Background(), et, clientID)
	require.NoError(t, err)
	return row
}
