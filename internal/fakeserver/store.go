package fakeserver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/common"
	"github.com/google/uuid"
)

var ErrRejected = errors.New("record rejected")

type record struct {
	id           int64
	clientID     string
	fields       models.Record
	lastModified time.Time
	deleted      bool
}

func (r *record) wire() models.Record {
	out := models.Record{
		models.FieldID:           r.id,
		models.FieldClientID:     r.clientID,
		models.FieldLastModified: r.lastModified.Format(time.RFC3339Nano),
	}
	if r.deleted {
		out[models.FieldDeleted] = true
		return out
	}
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// RejectFunc lets tests refuse pushed records with a business-rule error.
type RejectFunc func(t models.EntityType, rec models.Record) error

// Store is the authoritative in-memory data set. Every write gets a strictly
// increasing modification time, so a pull window (since, server_timestamp]
// never misses a change.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	last     time.Time
	nextID   int64
	tables   map[models.EntityType]map[int64]*record
	byClient map[models.EntityType]map[string]int64
	reject   RejectFunc
}

type StoreOption func(*Store)

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func WithRejectFunc(fn RejectFunc) StoreOption {
	return func(s *Store) {
		s.reject = fn
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:      time.Now,
		nextID:   1000,
		tables:   make(map[models.EntityType]map[int64]*record),
		byClient: make(map[models.EntityType]map[string]int64),
	}
	for _, t := range models.PullOrder {
		s.tables[t] = make(map[int64]*record)
		s.byClient[t] = make(map[string]int64)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRejectFunc replaces the reject hook.
func (s *Store) SetRejectFunc(fn RejectFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = fn
}

func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Create adds a record as a server-side change and returns its id. An id in
// fields is used as is; otherwise one is assigned.
func (s *Store) Create(t models.EntityType, fields models.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := models.Describe(t)
	if err != nil {
		return 0, err
	}
	clean, err := s.validate(d, fields)
	if err != nil {
		return 0, err
	}

	id, ok, err := fields.Int64(models.FieldID)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.nextID++
		id = s.nextID
	} else if _, exists := s.tables[t][id]; exists {
		return 0, fmt.Errorf("%s %d already exists", t, id)
	} else if id > s.nextID {
		s.nextID = id
	}

	clientID, _ := fields.String(models.FieldClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}
	s.insert(t, id, clientID, clean)
	return id, nil
}

func (s *Store) insert(t models.EntityType, id int64, clientID string, fields models.Record) {
	s.tables[t][id] = &record{id: id, clientID: clientID, fields: fields, lastModified: s.tick()}
	s.byClient[t][clientID] = id
}

// Update changes fields of a live record as a server-side change.
func (s *Store) Update(t models.EntityType, id int64, fields models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[t][id]
	if !ok || rec.deleted {
		return fmt.Errorf("%s %d: %w", t, id, common.ErrorNotFound)
	}

	merged := models.Record{}
	for k, v := range rec.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	clean, err := s.validate(models.MustDescribe(t), merged)
	if err != nil {
		return err
	}
	rec.fields = clean
	rec.lastModified = s.tick()
	return nil
}

// Delete marks a record deleted. Deleting a deleted record is a no-op.
func (s *Store) Delete(t models.EntityType, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(t, id)
}

func (s *Store) delete(t models.EntityType, id int64) error {
	rec, ok := s.tables[t][id]
	if !ok {
		return fmt.Errorf("%s %d: %w", t, id, common.ErrorNotFound)
	}
	if rec.deleted {
		return nil
	}
	rec.deleted = true
	rec.lastModified = s.tick()
	return nil
}

// Get returns the wire form of a record, including deleted ones.
func (s *Store) Get(t models.EntityType, id int64) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[t][id]
	if !ok {
		return nil, false
	}
	return rec.wire(), true
}

// GetByClientID returns the wire form of the record created from clientID.
func (s *Store) GetByClientID(t models.EntityType, clientID string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byClient[t][clientID]
	if !ok {
		return nil, false
	}
	return s.tables[t][id].wire(), true
}

// Count returns the number of live records of t.
func (s *Store) Count(t models.EntityType) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, rec := range s.tables[t] {
		if !rec.deleted {
			n++
		}
	}
	return n
}

// Changes returns the records modified after since. A nil since returns a
// snapshot of the live records.
func (s *Store) Changes(since *time.Time) *models.PullResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &models.PullResponse{ServerTimestamp: s.tick()}
	for _, t := range models.PullOrder {
		recs := make([]*record, 0, len(s.tables[t]))
		for _, rec := range s.tables[t] {
			if since == nil && rec.deleted {
				continue
			}
			if since != nil && !rec.lastModified.After(*since) {
				continue
			}
			recs = append(recs, rec)
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })

		out := make([]models.Record, 0, len(recs))
		for _, rec := range recs {
			out = append(out, rec.wire())
		}
		resp.SetRecords(t, out)
	}
	return resp
}

// Apply processes a push batch. Creates are deduplicated by client_id, so a
// batch resent after a lost response yields the same ids.
func (s *Store) Apply(req *models.PushRequest) *models.PushResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &models.PushResponse{}
	for _, t := range models.PushOrder {
		var sts []models.RecordStatus
		for _, rec := range req.Records(t) {
			sts = append(sts, s.applyRecord(t, rec))
		}
		var dels []models.RecordStatus
		for _, ref := range req.Deletions(t) {
			dels = append(dels, s.applyDeletion(t, ref))
		}

		switch t {
		case models.EntityMaintenanceRecord:
			resp.MaintenanceRecordsStatus = sts
			resp.DeletedMaintenanceRecordsStatus = dels
		case models.EntityAuditTaskCompletion:
			resp.AuditTaskCompletionsStatus = sts
			resp.DeletedAuditTaskCompletionsStatus = dels
		}
	}
	return resp
}

func failed(clientID string, err error) models.RecordStatus {
	return models.RecordStatus{ClientID: clientID, Success: false, Error: err.Error()}
}

func (s *Store) applyRecord(t models.EntityType, in models.Record) models.RecordStatus {
	clientID, _ := in.String(models.FieldClientID)
	if clientID == "" {
		return failed("", errors.New("client_id is required"))
	}

	d := models.MustDescribe(t)
	clean, err := s.validate(d, in)
	if err != nil {
		return failed(clientID, err)
	}
	if s.reject != nil {
		if err := s.reject(t, in); err != nil {
			return failed(clientID, fmt.Errorf("%w: %v", ErrRejected, err))
		}
	}

	id, hasID, err := in.Int64(models.FieldID)
	if err != nil {
		return failed(clientID, err)
	}
	if !hasID {
		if existing, ok := s.byClient[t][clientID]; ok {
			id, hasID = existing, true
		}
	}

	if !hasID {
		s.nextID++
		id = s.nextID
		s.insert(t, id, clientID, clean)
		return acked(s.tables[t][id])
	}

	rec, ok := s.tables[t][id]
	switch {
	case !ok:
		return failed(clientID, fmt.Errorf("%s %d: %w", t, id, common.ErrorNotFound))
	case rec.clientID != clientID:
		return failed(clientID, fmt.Errorf("%s %d belongs to client_id %s", t, id, rec.clientID))
	case rec.deleted:
		return failed(clientID, fmt.Errorf("%s %d was deleted", t, id))
	}

	rec.fields = clean
	rec.lastModified = s.tick()
	return acked(rec)
}

func acked(rec *record) models.RecordStatus {
	id := rec.id
	return models.RecordStatus{
		ClientID:     rec.clientID,
		ServerID:     &id,
		Success:      true,
		LastModified: rec.lastModified.Format(time.RFC3339Nano),
	}
}

func (s *Store) applyDeletion(t models.EntityType, ref models.DeletionRef) models.RecordStatus {
	rec, ok := s.tables[t][ref.ServerID]
	if !ok {
		// nothing to delete
		return models.RecordStatus{ClientID: ref.ClientID, Success: true}
	}
	if ref.ClientID != "" && rec.clientID != ref.ClientID {
		return failed(ref.ClientID, fmt.Errorf("%s %d belongs to client_id %s", t, ref.ServerID, rec.clientID))
	}
	if err := s.delete(t, ref.ServerID); err != nil {
		return failed(ref.ClientID, err)
	}
	return models.RecordStatus{ClientID: ref.ClientID, Success: true}
}

// validate keeps the known columns of d, checks their values, and checks
// that every foreign key points at a live record.
func (s *Store) validate(d *models.Descriptor, in models.Record) (models.Record, error) {
	clean := models.Record{}

	for _, c := range d.Columns {
		v := in[c.Name]
		if _, err := models.StorageValue(c.Kind, v); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		clean[c.Name] = v
	}

	for _, fk := range d.ForeignKeys {
		ref, ok, err := in.Int64(fk.Column)
		if err != nil {
			return nil, err
		}
		if !ok {
			if fk.Required {
				return nil, fmt.Errorf("%s is required", fk.Column)
			}
			clean[fk.Column] = nil
			continue
		}
		target, exists := s.tables[fk.Target][ref]
		if !exists || target.deleted {
			return nil, fmt.Errorf("%s: %s %d does not exist", fk.Column, fk.Target, ref)
		}
		clean[fk.Column] = ref
	}

	return clean, nil
}
