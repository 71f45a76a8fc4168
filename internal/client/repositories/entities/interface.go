// Package entities is the local cache of syncable entities. Every entity
// table carries a local surrogate key, an immutable client_id, the server
// id once known, a sync flag, a last-modified timestamp and a tombstone
// flag. Foreign keys are stored as local ids; translation to server ids
// happens only through GetLocalID/GetServerID at the sync boundary.
package entities

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
)

var (
	// ErrUnresolvedReference means a foreign key points at a record the
	// local store does not know (yet).
	ErrUnresolvedReference = errors.New("unresolved foreign key")

	// ErrIdentityConflict means applying a change would give a record a
	// second server id, or give one server id to two records.
	ErrIdentityConflict = errors.New("server identity conflict")

	ErrFieldNotMutable = errors.New("field is not mutable")
	ErrInvalidRecord   = errors.New("invalid record")

	// ErrReferenced means the record cannot be removed while other records
	// still point at it.
	ErrReferenced = errors.New("record is still referenced")
)

// UpsertOutcome reports what UpsertFromServer did with a record.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota + 1
	OutcomeUpdated
	OutcomeUnchanged
	OutcomeRemoved
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRemoved:
		return "removed"
	}
	return "unknown"
}

// Row is a stored entity. Fields holds the data columns in their typed form
// and the foreign key columns as local ids (int64) or nil.
type Row struct {
	LocalID      int64
	ClientID     string
	ServerID     *int64
	IsSynced     bool
	LastModified string
	Deleted      bool
	Fields       models.Record

	// ServerModified is the server's last_modified of the last state the
	// server confirmed for this row, empty when unknown.
	ServerModified string
}

// Ack is a successful push acknowledgement of one record.
type Ack struct {
	ServerID int64

	// Observed is the row's last_modified captured in the outbox.
	Observed string

	// ServerModified is the server's modification time of the accepted
	// state, empty when the server did not report it.
	ServerModified string
}

// Rejection is the last error the server reported for a pushed record.
type Rejection struct {
	Entity     models.EntityType
	ClientID   string
	Error      string
	RejectedAt time.Time
}

type Repository interface {
	// UpsertFromServer applies a server record: matched by server id, then
	// by client id, inserted otherwise. A row with a pending local edit keeps
	// it unless the server copy is newer than the last state the server
	// confirmed; otherwise the row ends up synced. A server deletion also
	// removes the rows that depend on the deleted one.
	UpsertFromServer(ctx context.Context, t models.EntityType, rec models.Record) (UpsertOutcome, error)

	// CreateLocal inserts a new unsynced record and returns its client id.
	// Foreign keys in fields are local ids.
	CreateLocal(ctx context.Context, t models.EntityType, fields models.Record) (string, error)

	// UpdateLocal changes mutable fields of a live record and marks it unsynced.
	UpdateLocal(ctx context.Context, t models.EntityType, clientID string, fields models.Record) error

	// SoftDelete tombstones a record known to the server, or removes a
	// never-synced one outright (hardDeleted=true).
	SoftDelete(ctx context.Context, t models.EntityType, clientID string) (hardDeleted bool, err error)

	// HardDelete physically removes a record. Missing records are a no-op.
	HardDelete(ctx context.Context, t models.EntityType, clientID string) error

	// GetLocalID and GetServerID translate identifiers; ok=false means unknown.
	GetLocalID(ctx context.Context, t models.EntityType, serverID int64) (localID int64, ok bool, err error)
	GetServerID(ctx context.Context, t models.EntityType, localID int64) (serverID int64, ok bool, err error)

	// UpdateSyncStatus records a successful push acknowledgement. The row is
	// only marked synced if its last_modified still equals ack.Observed.
	UpdateSyncStatus(ctx context.Context, t models.EntityType, clientID string, ack Ack) error

	GetByClientID(ctx context.Context, t models.EntityType, clientID string) (*Row, error)
	ListUnsynced(ctx context.Context, t models.EntityType) ([]Row, error)
	ListDeletedPending(ctx context.Context, t models.EntityType) ([]Row, error)
	Count(ctx context.Context, t models.EntityType) (int, error)

	RecordRejection(ctx context.Context, t models.EntityType, clientID, msg string) error
	ListRejections(ctx context.Context) ([]Rejection, error)
}
