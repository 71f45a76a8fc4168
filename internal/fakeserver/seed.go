package fakeserver

import (
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
)

// Seed loads a small data set covering every reference entity type. The
// server ids are fixed so that tests can refer to them.
func Seed(s *Store) error {
	rows := []struct {
		t      models.EntityType
		fields models.Record
	}{
		{models.EntityRole, models.Record{"id": int64(1), "name": "technician", "description": "field technician"}},
		{models.EntityRole, models.Record{"id": int64(2), "name": "auditor"}},
		{models.EntityUser, models.Record{"id": int64(1), "username": "ann", "email": "ann@example.com", "full_name": "Ann Smith", "is_active": true, "role_id": int64(1)}},
		{models.EntityUser, models.Record{"id": int64(2), "username": "bob", "is_active": true, "role_id": int64(2)}},
		{models.EntitySite, models.Record{"id": int64(1), "name": "North plant", "address": "1 Mill Road"}},
		{models.EntityMachine, models.Record{"id": int64(1), "name": "Press 1", "serial_number": "PR-0001", "model": "HX-200", "site_id": int64(1)}},
		{models.EntityMachine, models.Record{"id": int64(2), "name": "Conveyor", "serial_number": "CV-0042", "site_id": int64(1)}},
		{models.EntityPart, models.Record{"id": int64(1), "name": "Hydraulic pump", "part_number": "HP-9", "maintenance_interval_days": int64(90), "machine_id": int64(1)}},
		{models.EntityPart, models.Record{"id": int64(2), "name": "Drive belt", "part_number": "DB-3", "maintenance_interval_days": int64(30), "machine_id": int64(2)}},
		{models.EntityAuditTask, models.Record{"id": int64(1), "title": "Guard inspection", "frequency_days": int64(7), "site_id": int64(1)}},
		{models.EntityMaintenanceRecord, models.Record{"id": int64(1), "performed_at": time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).Format(time.RFC3339), "description": "Pump seal replaced", "status": "done", "part_id": int64(1), "user_id": int64(1), "machine_id": int64(1)}},
	}

	for _, r := range rows {
		if _, err := s.Create(r.t, r.fields); err != nil {
			return err
		}
	}
	return nil
}
