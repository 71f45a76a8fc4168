package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/maintkeeper/internal/client/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*entities.SQLiteRepository, *metadata.Watermark) {
	t.Helper()

	s, err := storage.Open(context.Background(), storage.Options{Path: storage.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return entities.NewSQLiteRepository(s.DB), metadata.NewWatermark(metadata.NewSQLiteRepository(s.DB))
}

func seed(t *testing.T, repo *entities.SQLiteRepository) {
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
		{models.EntityMaintenanceRecord, models.Record{
			"id": int64(100), "client_id": "0b6f8e8e-8a47-4f7b-9d0c-3f1a2b4c5d6e",
			"performed_at": "2024-04-01T08:00:00Z", "status": "done",
			"part_id": int64(42), "user_id": int64(7),
		}},
	}
	for _, r := range rows {
		_, err := repo.UpsertFromServer(ctx, r.t, r.rec)
		require.NoError(t, err)
	}
}

func statusOf(t *testing.T, r *Report, et models.EntityType) EntityStatus {
	t.Helper()
	for _, e := range r.Entities {
		if e.Entity == et {
			return e
		}
	}
	t.Fatalf("%s missing from report", et)
	return EntityStatus{}
}

type brokenWatermark struct{}

func (brokenWatermark) Load(context.Context) (*time.Time, error) {
	return nil, errors.New("disk gone")
}

/************* Collect *************/

func TestCollect_EmptyStore(t *testing.T) {
	repo, wm := newRepo(t)

	r, err := Collect(context.Background(), repo, wm)
	require.NoError(t, err)

	assert.Nil(t, r.Watermark)
	assert.Len(t, r.Entities, len(models.PullOrder))
	assert.Empty(t, r.Rejections)
	assert.Equal(t, 0, r.Pending())
}

func TestCollect_CountsPendingWork(t *testing.T) {
	ctx := context.Background()
	repo, wm := newRepo(t)
	seed(t, repo)

	partID, ok, err := repo.GetLocalID(ctx, models.EntityPart, 42)
	require.NoError(t, err)
	require.True(t, ok)
	userID, ok, err := repo.GetLocalID(ctx, models.EntityUser, 7)
	require.NoError(t, err)
	require.True(t, ok)

	clientID, err := repo.CreateLocal(ctx, models.EntityMaintenanceRecord, models.Record{
		"performed_at": "2024-05-01T10:00:00Z",
		"status":       "open",
		"part_id":      partID,
		"user_id":      userID,
	})
	require.NoError(t, err)
	require.NoError(t, repo.RecordRejection(ctx, models.EntityMaintenanceRecord, clientID, "status is invalid"))

	_, err = repo.SoftDelete(ctx, models.EntityMaintenanceRecord, "0b6f8e8e-8a47-4f7b-9d0c-3f1a2b4c5d6e")
	require.NoError(t, err)

	ts := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	_, err = wm.Advance(ctx, ts)
	require.NoError(t, err)

	r, err := Collect(ctx, repo, wm)
	require.NoError(t, err)

	require.NotNil(t, r.Watermark)
	assert.True(t, r.Watermark.Equal(ts))

	mr := statusOf(t, r, models.EntityMaintenanceRecord)
	assert.Equal(t, 2, mr.Total)
	assert.Equal(t, 1, mr.Unsynced)
	assert.Equal(t, 1, mr.PendingDeletion)

	part := statusOf(t, r, models.EntityPart)
	assert.Equal(t, EntityStatus{Entity: models.EntityPart, Total: 1}, part)

	assert.Equal(t, 2, r.Pending())
	require.Len(t, r.Rejections, 1)
	assert.Equal(t, clientID, r.Rejections[0].ClientID)
}

func TestCollect_WatermarkError(t *testing.T) {
	repo, _ := newRepo(t)

	_, err := Collect(context.Background(), repo, brokenWatermark{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

/************* Write *************/

func TestReport_Write(t *testing.T) {
	ts := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	r := &Report{
		Watermark: &ts,
		Entities: []EntityStatus{
			{Entity: models.EntityMachine, Total: 4},
			{Entity: models.EntityMaintenanceRecord, Total: 3, Unsynced: 2, PendingDeletion: 1},
		},
		Rejections: []entities.Rejection{{
			Entity:     models.EntityMaintenanceRecord,
			ClientID:   "c-1",
			Error:      "part does not exist",
			RejectedAt: ts,
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, r.Write(&buf))
	out := buf.String()

	assert.Contains(t, out, "2024-05-02T00:00:00Z")
	assert.Contains(t, out, "pending changes:  3")
	assert.Regexp(t, `maintenance_record\s+3\s+2\s+1`, out)
	assert.Regexp(t, `machine\s+4\s+0\s+0`, out)
	assert.Contains(t, out, "part does not exist")
}

func TestReport_WriteNeverPulled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&Report{}).Write(&buf))

	assert.Contains(t, buf.String(), "never")
	assert.NotContains(t, buf.String(), "REJECTED")
}
