package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	for _, et := range PullOrder {
		d, err := Describe(et)
		require.NoError(t, err)
		assert.Equal(t, et, d.Type)
		assert.NotEmpty(t, d.Table)
		assert.NotEmpty(t, d.Collection)
	}

	_, err := Describe("invoice")
	require.ErrorIs(t, err, ErrUnknownEntity)
	assert.Panics(t, func() { MustDescribe("invoice") })
}

func TestPullOrder_ParentsFirst(t *testing.T) {
	pos := make(map[EntityType]int, len(PullOrder))
	for i, et := range PullOrder {
		pos[et] = i
	}
	require.Len(t, pos, 8)

	for _, et := range PullOrder {
		for _, fk := range MustDescribe(et).ForeignKeys {
			assert.Less(t, pos[fk.Target], pos[et], "%s.%s must be pulled after %s", et, fk.Column, fk.Target)
		}
	}
}

func TestPushOrder_OnlyPushable(t *testing.T) {
	for _, et := range PullOrder {
		d := MustDescribe(et)
		assert.Equal(t, d.Pushable(), contains(PushOrder, et), "%s", et)
	}
}

func contains(list []EntityType, et EntityType) bool {
	for _, x := range list {
		if x == et {
			return true
		}
	}
	return false
}

func TestDescriptor_IsMutable(t *testing.T) {
	d := MustDescribe(EntityMaintenanceRecord)

	assert.True(t, d.IsMutable("status"))
	assert.True(t, d.IsMutable("machine_id"))
	assert.False(t, d.IsMutable("part_id"))
	assert.False(t, d.IsMutable("client_id"))
	assert.False(t, d.IsMutable("server_id"))
	assert.False(t, d.IsMutable("nope"))
}

func TestReferencing(t *testing.T) {
	refs := Referencing(EntityMachine)

	assert.Contains(t, refs, EntityPart)
	assert.Contains(t, refs, EntityMaintenanceRecord)
	assert.Contains(t, refs, EntityAuditTaskCompletion)
	assert.NotContains(t, refs, EntitySite)
	assert.Empty(t, Referencing(EntityAuditTaskCompletion))
}

/************* values *************/

func TestStorageValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 5, time.FixedZone("X", 3600))

	tests := []struct {
		name    string
		kind    ColumnKind
		in      any
		want    any
		wantErr bool
	}{
		{name: "nil", kind: KindText, in: nil, want: nil},
		{name: "text", kind: KindText, in: "pump", want: "pump"},
		{name: "text wrong type", kind: KindText, in: 5, wantErr: true},
		{name: "int from json number", kind: KindInteger, in: json.Number("42"), want: int64(42)},
		{name: "int from float", kind: KindInteger, in: float64(7), want: int64(7)},
		{name: "int fractional", kind: KindInteger, in: 7.5, wantErr: true},
		{name: "real", kind: KindReal, in: json.Number("1.25"), want: 1.25},
		{name: "bool true", kind: KindBool, in: true, want: int64(1)},
		{name: "bool from number", kind: KindBool, in: json.Number("0"), want: int64(0)},
		{name: "bool invalid", kind: KindBool, in: json.Number("3"), wantErr: true},
		{name: "time normalized to utc", kind: KindTime, in: "2024-03-01T10:00:00.000000005+01:00", want: "2024-03-01T09:00:00.000000005Z"},
		{name: "time from time.Time", kind: KindTime, in: ts, want: "2024-03-01T09:00:00.000000005Z"},
		{name: "time invalid", kind: KindTime, in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StorageValue(tt.kind, tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWireValue(t *testing.T) {
	assert.Nil(t, WireValue(KindText, nil))
	assert.Equal(t, true, WireValue(KindBool, int64(1)))
	assert.Equal(t, false, WireValue(KindBool, int64(0)))
	assert.Equal(t, 2.0, WireValue(KindReal, int64(2)))
	assert.Equal(t, "abc", WireValue(KindText, []byte("abc")))
	assert.Equal(t, int64(9), WireValue(KindInteger, int64(9)))
}

func TestFormatTime_FixedWidth(t *testing.T) {
	a := FormatTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := FormatTime(time.Date(2024, 1, 1, 0, 0, 0, 100, time.UTC))

	assert.Equal(t, "2024-01-01T00:00:00.000000000Z", a)
	assert.Len(t, b, len(a))
	assert.Less(t, a, b)
}

func TestRecord_Accessors(t *testing.T) {
	r := Record{"id": json.Number("12"), "client_id": "abc", "deleted": true}

	id, ok, err := r.Int64("id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	_, ok, err = r.Int64("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	cid, ok := r.String("client_id")
	assert.True(t, ok)
	assert.Equal(t, "abc", cid)

	assert.True(t, r.Deleted())
	assert.False(t, Record{}.Deleted())
	assert.True(t, Record{"deleted": json.Number("1")}.Deleted())
}

/************* wire DTOs *************/

func TestPullResponse_RecordsRoundTrip(t *testing.T) {
	var p PullResponse
	for i, et := range PullOrder {
		p.SetRecords(et, []Record{{"id": int64(i)}})
	}
	for i, et := range PullOrder {
		require.Len(t, p.Records(et), 1)
		assert.Equal(t, int64(i), p.Records(et)[0]["id"])
	}
	assert.Nil(t, p.Records("invoice"))
}

func TestOutbox_Request(t *testing.T) {
	o := NewOutbox()
	assert.Equal(t, 0, o.Len())
	assert.True(t, o.Request().IsEmpty())

	o.Records[EntityMaintenanceRecord] = []OutboxRecord{{ClientID: "a", Payload: Record{"client_id": "a"}}}
	o.Deletions[EntityAuditTaskCompletion] = []DeletionRef{{ClientID: "b", ServerID: 5}}

	req := o.Request()
	assert.Equal(t, 2, o.Len())
	assert.False(t, req.IsEmpty())
	assert.Equal(t, []Record{{"client_id": "a"}}, req.Records(EntityMaintenanceRecord))
	assert.Empty(t, req.Records(EntityAuditTaskCompletion))
	assert.Equal(t, []DeletionRef{{ClientID: "b", ServerID: 5}}, req.Deletions(EntityAuditTaskCompletion))
	assert.Nil(t, req.Records(EntitySite))

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"maintenance_records":[{"client_id":"a"}],
		"audit_task_completions":[],
		"deleted_maintenance_records":[],
		"deleted_audit_task_completions":[{"client_id":"b","server_id":5}]
	}`, string(b))
}

func TestPushResponse_Statuses(t *testing.T) {
	var resp PushResponse
	body := `{"maintenance_records_status":[{"client_id":"a","server_id":1001,"success":true}],
	          "deleted_audit_task_completions_status":[{"client_id":"b","success":false,"error":"gone"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	st := resp.Statuses(EntityMaintenanceRecord)
	require.Len(t, st, 1)
	require.NotNil(t, st[0].ServerID)
	assert.Equal(t, int64(1001), *st[0].ServerID)

	del := resp.DeletionStatuses(EntityAuditTaskCompletion)
	require.Len(t, del, 1)
	assert.False(t, del[0].Success)
	assert.Equal(t, "gone", del[0].Error)
	assert.Nil(t, resp.Statuses(EntityRole))
}
