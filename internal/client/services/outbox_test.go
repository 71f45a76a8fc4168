package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/maintkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_Empty(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	ob, err := NewChangeTracker(env.repo, nil, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, ob.Len())
	assert.True(t, ob.Request().IsEmpty())
}

func TestCollect_NewRecordPayload(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	clientID := env.newRecord(t, "open")

	ob, err := NewChangeTracker(env.repo, nil, nil).Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, ob.Records[models.EntityMaintenanceRecord], 1)

	rec := ob.Records[models.EntityMaintenanceRecord][0]
	assert.Equal(t, clientID, rec.ClientID)
	assert.Nil(t, rec.ServerID)
	assert.Equal(t, env.row(t, models.EntityMaintenanceRecord, clientID).LastModified, rec.LastModified)

	p := rec.Payload
	assert.NotContains(t, p, models.FieldID, "new records carry no server id")
	assert.Equal(t, clientID, p[models.FieldClientID])
	assert.Equal(t, rec.LastModified, p[models.FieldLastModified])
	assert.Equal(t, int64(42), p["part_id"])
	assert.Equal(t, int64(7), p["user_id"])
	assert.Nil(t, p["machine_id"])
	assert.Equal(t, "open", p["status"])
	assert.Equal(t, "2024-05-01T10:00:00.000000000Z", p["performed_at"])
}

func TestCollect_UpdateCarriesServerID(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	_, err := env.repo.UpsertFromServer(ctx, models.EntityMaintenanceRecord, models.Record{
		"id": int64(500), "client_id": "mr-1", "status": "open", "part_id": int64(42), "user_id": int64(7),
	})
	require.NoError(t, err)
	require.NoError(t, env.repo.UpdateLocal(ctx, models.EntityMaintenanceRecord, "mr-1", models.Record{"status": "done"}))

	ob, err := NewChangeTracker(env.repo, nil, nil).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, ob.Records[models.EntityMaintenanceRecord], 1)

	rec := ob.Records[models.EntityMaintenanceRecord][0]
	require.NotNil(t, rec.ServerID)
	assert.Equal(t, int64(500), *rec.ServerID)
	assert.Equal(t, int64(500), rec.Payload[models.FieldID])
	assert.Equal(t, "done", rec.Payload["status"])
}

func TestCollect_DefersRecordsWithUnsyncedReferences(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	// a part known only locally has no server id yet
	partID, err := env.repo.CreateLocal(ctx, models.EntityPart, models.Record{
		"name": "spare", "machine_id": env.localID(t, models.EntityMachine, 10),
	})
	require.NoError(t, err)
	part := env.row(t, models.EntityPart, partID)

	blocked, err := env.repo.CreateLocal(ctx, models.EntityMaintenanceRecord, models.Record{
		"part_id": part.LocalID, "user_id": env.localID(t, models.EntityUser, 7),
	})
	require.NoError(t, err)
	ready := env.newRecord(t, "open")

	reg := prometheus.NewRegistry()
	m, err := metrics.NewSyncMetrics(reg)
	require.NoError(t, err)

	ob, err := NewChangeTracker(env.repo, nil, m).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, ob.Records[models.EntityMaintenanceRecord], 1)
	assert.Equal(t, ready, ob.Records[models.EntityMaintenanceRecord][0].ClientID)

	unsynced, err := env.repo.ListUnsynced(ctx, models.EntityMaintenanceRecord)
	require.NoError(t, err)
	assert.Len(t, unsynced, 2, "the deferred record stays queued")
	assert.False(t, env.row(t, models.EntityMaintenanceRecord, blocked).IsSynced)

	n, err := testutil.GatherAndCount(reg, "maintkeeper_sync_deferred_records_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollect_DeletionRefs(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	_, err := env.repo.UpsertFromServer(ctx, models.EntityMaintenanceRecord, models.Record{
		"id": int64(500), "client_id": "mr-1", "part_id": int64(42), "user_id": int64(7),
	})
	require.NoError(t, err)
	hard, err := env.repo.SoftDelete(ctx, models.EntityMaintenanceRecord, "mr-1")
	require.NoError(t, err)
	require.False(t, hard)

	// never synced, so deleting it leaves nothing to push
	local := env.newRecord(t, "open")
	hard, err = env.repo.SoftDelete(ctx, models.EntityMaintenanceRecord, local)
	require.NoError(t, err)
	require.True(t, hard)

	ob, err := NewChangeTracker(env.repo, nil, nil).Collect(ctx)
	require.NoError(t, err)
	assert.Empty(t, ob.Records[models.EntityMaintenanceRecord])
	assert.Equal(t, []models.DeletionRef{{ClientID: "mr-1", ServerID: 500}}, ob.Deletions[models.EntityMaintenanceRecord])

	req := ob.Request()
	assert.Len(t, req.DeletedMaintenanceRecords, 1)
	assert.Empty(t, req.MaintenanceRecords)
}

func TestCollect_AuditTaskCompletions(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	clientID, err := env.repo.CreateLocal(ctx, models.EntityAuditTaskCompletion, models.Record{
		"completed_at":  "2024-05-02T08:30:00Z",
		"passed":        true,
		"audit_task_id": env.localID(t, models.EntityAuditTask, 5),
		"machine_id":    env.localID(t, models.EntityMachine, 10),
	})
	require.NoError(t, err)

	ob, err := NewChangeTracker(env.repo, nil, nil).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, ob.Records[models.EntityAuditTaskCompletion], 1)

	p := ob.Records[models.EntityAuditTaskCompletion][0].Payload
	assert.Equal(t, clientID, p[models.FieldClientID])
	assert.Equal(t, true, p["passed"])
	assert.Equal(t, int64(5), p["audit_task_id"])
	assert.Equal(t, int64(10), p["machine_id"])
	assert.Nil(t, p["user_id"])
}
