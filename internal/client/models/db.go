// Package models defines the syncable entity schema of the maintenance
// client, the loosely typed record exchanged with the server and the
// pull/push wire DTOs.
package models

import (
	"errors"
	"fmt"
)

// EntityType names a syncable entity kind.
type EntityType string

const (
	EntityRole                EntityType = "role"
	EntityUser                EntityType = "user"
	EntitySite                EntityType = "site"
	EntityMachine             EntityType = "machine"
	EntityPart                EntityType = "part"
	EntityAuditTask           EntityType = "audit_task"
	EntityMaintenanceRecord   EntityType = "maintenance_record"
	EntityAuditTaskCompletion EntityType = "audit_task_completion"
)

var ErrUnknownEntity = errors.New("unknown entity type")

// ColumnKind is the storage class of a data column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInteger
	KindReal
	KindBool
	KindTime
)

// Column is a data column of an entity table.
type Column struct {
	Name    string
	Kind    ColumnKind
	Mutable bool
}

// ForeignKey is a reference to another entity. Locally the column holds the
// target's local_id; on the wire it carries the target's server id.
type ForeignKey struct {
	Column   string
	Target   EntityType
	Required bool
	Mutable  bool
}

// Descriptor describes how one entity type is stored and exchanged.
type Descriptor struct {
	Type        EntityType
	Table       string
	Collection  string // key in pull/push bodies
	Deleted     string // key of deletion refs in push bodies, empty when not pushable
	Columns     []Column
	ForeignKeys []ForeignKey
}

// Pushable reports whether local changes of this entity are sent to the server.
func (d *Descriptor) Pushable() bool {
	return d.Deleted != ""
}

// Column returns the data column with the given name.
func (d *Descriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ForeignKey returns the foreign key stored in the given column.
func (d *Descriptor) ForeignKey(column string) (ForeignKey, bool) {
	for _, fk := range d.ForeignKeys {
		if fk.Column == column {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// IsMutable reports whether a local edit may change field.
func (d *Descriptor) IsMutable(field string) bool {
	if c, ok := d.Column(field); ok {
		return c.Mutable
	}
	if fk, ok := d.ForeignKey(field); ok {
		return fk.Mutable
	}
	return false
}

// PullOrder is the dependency order in which pulled collections are applied.
// Every entity appears after the entities it references.
var PullOrder = []EntityType{
	EntityRole,
	EntityUser,
	EntitySite,
	EntityMachine,
	EntityPart,
	EntityAuditTask,
	EntityMaintenanceRecord,
	EntityAuditTaskCompletion,
}

// PushOrder lists the entity types whose local changes are pushed.
var PushOrder = []EntityType{
	EntityMaintenanceRecord,
	EntityAuditTaskCompletion,
}

var descriptors = map[EntityType]*Descriptor{
	EntityRole: {
		Type:       EntityRole,
		Table:      "roles",
		Collection: "roles",
		Columns: []Column{
			{Name: "name", Kind: KindText, Mutable: true},
			{Name: "description", Kind: KindText, Mutable: true},
		},
	},
	EntityUser: {
		Type:       EntityUser,
		Table:      "users",
		Collection: "users",
		Columns: []Column{
			{Name: "username", Kind: KindText},
			{Name: "email", Kind: KindText, Mutable: true},
			{Name: "full_name", Kind: KindText, Mutable: true},
			{Name: "is_active", Kind: KindBool, Mutable: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "role_id", Target: EntityRole, Mutable: true},
		},
	},
	EntitySite: {
		Type:       EntitySite,
		Table:      "sites",
		Collection: "sites",
		Columns: []Column{
			{Name: "name", Kind: KindText, Mutable: true},
			{Name: "address", Kind: KindText, Mutable: true},
		},
	},
	EntityMachine: {
		Type:       EntityMachine,
		Table:      "machines",
		Collection: "machines",
		Columns: []Column{
			{Name: "name", Kind: KindText, Mutable: true},
			{Name: "serial_number", Kind: KindText},
			{Name: "model", Kind: KindText, Mutable: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "site_id", Target: EntitySite, Required: true, Mutable: true},
		},
	},
	EntityPart: {
		Type:       EntityPart,
		Table:      "parts",
		Collection: "parts",
		Columns: []Column{
			{Name: "name", Kind: KindText, Mutable: true},
			{Name: "part_number", Kind: KindText},
			{Name: "maintenance_interval_days", Kind: KindInteger, Mutable: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "machine_id", Target: EntityMachine, Required: true},
		},
	},
	EntityAuditTask: {
		Type:       EntityAuditTask,
		Table:      "audit_tasks",
		Collection: "audit_tasks",
		Columns: []Column{
			{Name: "title", Kind: KindText, Mutable: true},
			{Name: "description", Kind: KindText, Mutable: true},
			{Name: "frequency_days", Kind: KindInteger, Mutable: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "site_id", Target: EntitySite, Required: true},
		},
	},
	EntityMaintenanceRecord: {
		Type:       EntityMaintenanceRecord,
		Table:      "maintenance_records",
		Collection: "maintenance_records",
		Deleted:    "deleted_maintenance_records",
		Columns: []Column{
			{Name: "performed_at", Kind: KindTime, Mutable: true},
			{Name: "description", Kind: KindText, Mutable: true},
			{Name: "status", Kind: KindText, Mutable: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "part_id", Target: EntityPart, Required: true},
			{Column: "user_id", Target: EntityUser, Required: true},
			{Column: "machine_id", Target: EntityMachine, Mutable: true},
		},
	},
	EntityAuditTaskCompletion: {
		Type:       EntityAuditTaskCompletion,
		Table:      "audit_task_completions",
		Collection: "audit_task_completions",
		Deleted:    "deleted_audit_task_completions",
		Columns: []Column{
			{Name: "completed_at", Kind: KindTime, Mutable: true},
			{Name: "passed", Kind: KindBool, Mutable: true},
			{Name: "notes", Kind: KindText, Mutable: true},
		},
		ForeignKeys: []ForeignKey{
			{Column: "audit_task_id", Target: EntityAuditTask, Required: true},
			{Column: "machine_id", Target: EntityMachine, Required: true},
			{Column: "user_id", Target: EntityUser, Mutable: true},
		},
	},
}

// Describe returns the descriptor of t.
func Describe(t EntityType) (*Descriptor, error) {
	d, ok := descriptors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, t)
	}
	return d, nil
}

// MustDescribe is Describe for entity types known at compile time.
func MustDescribe(t EntityType) *Descriptor {
	d, err := Describe(t)
	if err != nil {
		panic(err)
	}
	return d
}

// Referencing lists the foreign keys of other entities that point at t,
// keyed by the referencing entity.
func Referencing(t EntityType) map[EntityType][]ForeignKey {
	out := make(map[EntityType][]ForeignKey)
	for _, et := range PullOrder {
		for _, fk := range descriptors[et].ForeignKeys {
			if fk.Target == t {
				out[et] = append(out[et], fk)
			}
		}
	}
	return out
}
