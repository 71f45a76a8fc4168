package models

import "time"

// PullResponse is the body of GET /sync/pull.
type PullResponse struct {
	ServerTimestamp      time.Time `json:"server_timestamp"`
	Roles                []Record  `json:"roles"`
	Users                []Record  `json:"users"`
	Sites                []Record  `json:"sites"`
	Machines             []Record  `json:"machines"`
	Parts                []Record  `json:"parts"`
	AuditTasks           []Record  `json:"audit_tasks"`
	MaintenanceRecords   []Record  `json:"maintenance_records"`
	AuditTaskCompletions []Record  `json:"audit_task_completions"`
}

// Records returns the collection pulled for t.
func (p *PullResponse) Records(t EntityType) []Record {
	if ptr := p.slot(t); ptr != nil {
		return *ptr
	}
	return nil
}

// SetRecords replaces the collection for t.
func (p *PullResponse) SetRecords(t EntityType, recs []Record) {
	if ptr := p.slot(t); ptr != nil {
		*ptr = recs
	}
}

func (p *PullResponse) slot(t EntityType) *[]Record {
	switch t {
	case EntityRole:
		return &p.Roles
	case EntityUser:
		return &p.Users
	case EntitySite:
		return &p.Sites
	case EntityMachine:
		return &p.Machines
	case EntityPart:
		return &p.Parts
	case EntityAuditTask:
		return &p.AuditTasks
	case EntityMaintenanceRecord:
		return &p.MaintenanceRecords
	case EntityAuditTaskCompletion:
		return &p.AuditTaskCompletions
	}
	return nil
}

// DeletionRef identifies a tombstoned record whose deletion is pushed.
type DeletionRef struct {
	ClientID string `json:"client_id"`
	ServerID int64  `json:"server_id"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	MaintenanceRecords          []Record      `json:"maintenance_records"`
	AuditTaskCompletions        []Record      `json:"audit_task_completions"`
	DeletedMaintenanceRecords   []DeletionRef `json:"deleted_maintenance_records"`
	DeletedAuditTaskCompletions []DeletionRef `json:"deleted_audit_task_completions"`
}

// Records returns the create/update payloads for t.
func (r *PushRequest) Records(t EntityType) []Record {
	switch t {
	case EntityMaintenanceRecord:
		return r.MaintenanceRecords
	case EntityAuditTaskCompletion:
		return r.AuditTaskCompletions
	}
	return nil
}

// Deletions returns the deletion refs for t.
func (r *PushRequest) Deletions(t EntityType) []DeletionRef {
	switch t {
	case EntityMaintenanceRecord:
		return r.DeletedMaintenanceRecords
	case EntityAuditTaskCompletion:
		return r.DeletedAuditTaskCompletions
	}
	return nil
}

// IsEmpty reports whether the request carries nothing to push.
func (r *PushRequest) IsEmpty() bool {
	return len(r.MaintenanceRecords) == 0 && len(r.AuditTaskCompletions) == 0 &&
		len(r.DeletedMaintenanceRecords) == 0 && len(r.DeletedAuditTaskCompletions) == 0
}

// RecordStatus is the server's acknowledgement of one pushed record. ServerID
// is absent for deletion acknowledgements and failed creates. LastModified is
// the server's modification time of the accepted record, when reported.
type RecordStatus struct {
	ClientID     string `json:"client_id"`
	ServerID     *int64 `json:"server_id,omitempty"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// PushResponse is the body returned by POST /sync/push.
type PushResponse struct {
	MaintenanceRecordsStatus          []RecordStatus `json:"maintenance_records_status"`
	AuditTaskCompletionsStatus        []RecordStatus `json:"audit_task_completions_status"`
	DeletedMaintenanceRecordsStatus   []RecordStatus `json:"deleted_maintenance_records_status"`
	DeletedAuditTaskCompletionsStatus []RecordStatus `json:"deleted_audit_task_completions_status"`
}

// Statuses returns the create/update acknowledgements for t.
func (r *PushResponse) Statuses(t EntityType) []RecordStatus {
	switch t {
	case EntityMaintenanceRecord:
		return r.MaintenanceRecordsStatus
	case EntityAuditTaskCompletion:
		return r.AuditTaskCompletionsStatus
	}
	return nil
}

// DeletionStatuses returns the deletion acknowledgements for t.
func (r *PushResponse) DeletionStatuses(t EntityType) []RecordStatus {
	switch t {
	case EntityMaintenanceRecord:
		return r.DeletedMaintenanceRecordsStatus
	case EntityAuditTaskCompletion:
		return r.DeletedAuditTaskCompletionsStatus
	}
	return nil
}

// OutboxRecord is an unsynced create/update ready to push. LastModified is
// the row's timestamp when collected; the acknowledgement only marks the row
// synced if it has not been edited since.
type OutboxRecord struct {
	ClientID     string
	ServerID     *int64
	LastModified string
	Payload      Record
}

// Outbox is everything a single push submits.
type Outbox struct {
	Records   map[EntityType][]OutboxRecord
	Deletions map[EntityType][]DeletionRef
}

func NewOutbox() *Outbox {
	return &Outbox{
		Records:   make(map[EntityType][]OutboxRecord),
		Deletions: make(map[EntityType][]DeletionRef),
	}
}

// Len is the number of records and deletion refs in the outbox.
func (o *Outbox) Len() int {
	n := 0
	for _, recs := range o.Records {
		n += len(recs)
	}
	for _, refs := range o.Deletions {
		n += len(refs)
	}
	return n
}

// Request builds the wire body for the outbox.
func (o *Outbox) Request() *PushRequest {
	payloads := func(t EntityType) []Record {
		out := make([]Record, 0, len(o.Records[t]))
		for _, r := range o.Records[t] {
			out = append(out, r.Payload)
		}
		return out
	}
	refs := func(t EntityType) []DeletionRef {
		return append([]DeletionRef{}, o.Deletions[t]...)
	}

	return &PushRequest{
		MaintenanceRecords:          payloads(EntityMaintenanceRecord),
		AuditTaskCompletions:        payloads(EntityAuditTaskCompletion),
		DeletedMaintenanceRecords:   refs(EntityMaintenanceRecord),
		DeletedAuditTaskCompletions: refs(EntityAuditTaskCompletion),
	}
}
