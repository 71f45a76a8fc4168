package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/maintkeeper/internal/client/models"
	"github.com/dmitrijs2005/maintkeeper/internal/common"
	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
	"github.com/google/uuid"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*SQLiteRepository)

// WithClock overrides the time source used for last_modified.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRepository) {
		r.now = now
	}
}

func NewSQLiteRepository(db *sql.DB, opts ...Option) *SQLiteRepository {
	r := &SQLiteRepository{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const systemColumns = "local_id, client_id, server_id, is_synced, last_modified, deleted, server_modified"

func selectList(d *models.Descriptor) string {
	var b strings.Builder
	b.WriteString(systemColumns)
	for _, c := range d.Columns {
		b.WriteString(", ")
		b.WriteString(c.Name)
	}
	for _, fk := range d.ForeignKeys {
		b.WriteString(", ")
		b.WriteString(fk.Column)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner, d *models.Descriptor) (*Row, error) {
	var (
		row            Row
		serverID       sql.NullInt64
		synced         int
		deleted        int
		serverModified sql.NullString
	)
	dynamic := make([]any, len(d.Columns)+len(d.ForeignKeys))
	dest := []any{&row.LocalID, &row.ClientID, &serverID, &synced, &row.LastModified, &deleted, &serverModified}
	for i := range dynamic {
		dest = append(dest, &dynamic[i])
	}

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	if serverID.Valid {
		v := serverID.Int64
		row.ServerID = &v
	}
	row.IsSynced = synced != 0
	row.Deleted = deleted != 0
	row.ServerModified = serverModified.String

	row.Fields = make(models.Record, len(dynamic))
	for i, c := range d.Columns {
		row.Fields[c.Name] = models.WireValue(c.Kind, dynamic[i])
	}
	for i, fk := range d.ForeignKeys {
		row.Fields[fk.Column] = models.WireValue(models.KindInteger, dynamic[len(d.Columns)+i])
	}

	return &row, nil
}

func (r *SQLiteRepository) findBy(ctx context.Context, q dbx.DBTX, d *models.Descriptor, column string, value any) (*Row, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, selectList(d), d.Table, column)
	row, err := scanRow(q.QueryRowContext(ctx, query, value), d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbx.Wrap(err, "failed to select %s by %s", d.Table, column)
	}
	return row, nil
}

func (r *SQLiteRepository) listWhere(ctx context.Context, q dbx.DBTX, d *models.Descriptor, where string, args ...any) ([]Row, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY local_id`, selectList(d), d.Table, where)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.Wrap(err, "failed to select %s", d.Table)
	}
	defer rows.Close()

	result := []Row{}
	for rows.Next() {
		row, err := scanRow(rows, d)
		if err != nil {
			return nil, dbx.Wrap(err, "failed to scan %s row", d.Table)
		}
		result = append(result, *row)
	}

	if err := rows.Err(); err != nil {
		return nil, dbx.Wrap(err, "failed to iterate %s rows", d.Table)
	}

	return result, nil
}

// stamp returns a last_modified value strictly later than previous, so every
// local edit is distinguishable from the state captured in an outbox.
func (r *SQLiteRepository) stamp(previous string) string {
	now := r.now().UTC()
	if prev, err := models.ParseTime(previous); err == nil && !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return models.FormatTime(now)
}

// after reports whether stored timestamp a is later than b. Any valid a is
// later than an empty b.
func after(a, b string) bool {
	ta, err := models.ParseTime(a)
	if err != nil {
		return false
	}
	tb, err := models.ParseTime(b)
	if err != nil {
		return true
	}
	return ta.After(tb)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

/************* server upserts *************/

func (r *SQLiteRepository) UpsertFromServer(ctx context.Context, t models.EntityType, rec models.Record) (UpsertOutcome, error) {
	d, err := models.Describe(t)
	if err != nil {
		return 0, err
	}

	serverID, ok, err := rec.Int64(models.FieldID)
	if err != nil || !ok {
		return 0, fmt.Errorf("%w: %s record without usable id", ErrInvalidRecord, t)
	}
	clientID, _ := rec.String(models.FieldClientID)

	var outcome UpsertOutcome
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := r.findBy(ctx, tx, d, "server_id", serverID)
		if err != nil {
			return err
		}
		if existing == nil && clientID != "" {
			existing, err = r.findBy(ctx, tx, d, "client_id", clientID)
			if err != nil {
				return err
			}
			if existing != nil && existing.ServerID != nil && *existing.ServerID != serverID {
				return fmt.Errorf("%w: %s %s has server id %d, server sent %d",
					ErrIdentityConflict, t, clientID, *existing.ServerID, serverID)
			}
		}

		if rec.Deleted() {
			outcome, err = r.removeFromServer(ctx, tx, d, existing, serverID)
			return err
		}

		values, err := r.serverValues(ctx, tx, d, rec)
		if err != nil {
			return err
		}

		lastModified, err := models.StorageValue(models.KindTime, rec[models.FieldLastModified])
		if err != nil {
			return fmt.Errorf("%w: %s.last_modified: %v", ErrInvalidRecord, t, err)
		}
		serverModified := ""
		if lastModified != nil {
			serverModified = lastModified.(string)
		} else {
			lastModified = models.FormatTime(r.now())
		}

		if existing == nil {
			if clientID == "" {
				clientID = uuid.NewString()
			}
			outcome = OutcomeInserted
			if err := r.insert(ctx, tx, d, clientID, &serverID, true, lastModified.(string), values); err != nil {
				return err
			}
			return r.setServerModified(ctx, tx, d, clientID, serverModified)
		}

		// A pending local edit survives copies the server already confirmed,
		// such as the echo of this client's own push.
		if !existing.IsSynced && serverModified != "" && !after(serverModified, existing.ServerModified) {
			outcome = OutcomeUnchanged
			return nil
		}

		if existing.IsSynced && existing.ServerID != nil && sameValues(d, existing, values) {
			outcome = OutcomeUnchanged
			if after(serverModified, existing.ServerModified) {
				return r.setServerModified(ctx, tx, d, existing.ClientID, serverModified)
			}
			return nil
		}

		outcome = OutcomeUpdated
		return r.applyServerUpdate(ctx, tx, d, existing.LocalID, serverID, lastModified.(string), serverModified, values)
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// serverValues converts a wire record into stored column values, translating
// foreign keys from server ids to local ids. The result is ordered as
// d.Columns followed by d.ForeignKeys.
func (r *SQLiteRepository) serverValues(ctx context.Context, q dbx.DBTX, d *models.Descriptor, rec models.Record) ([]any, error) {
	values := make([]any, 0, len(d.Columns)+len(d.ForeignKeys))

	for _, c := range d.Columns {
		v, err := models.StorageValue(c.Kind, rec[c.Name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidRecord, d.Type, c.Name, err)
		}
		values = append(values, v)
	}

	for _, fk := range d.ForeignKeys {
		ref, ok, err := rec.Int64(fk.Column)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidRecord, d.Type, fk.Column, err)
		}
		if !ok {
			values = append(values, nil)
			continue
		}
		localID, found, err := r.localID(ctx, q, fk.Target, ref)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s.%s -> %s server id %d", ErrUnresolvedReference, d.Type, fk.Column, fk.Target, ref)
		}
		values = append(values, localID)
	}

	return values, nil
}

func sameValues(d *models.Descriptor, row *Row, values []any) bool {
	for i, c := range d.Columns {
		stored, err := models.StorageValue(c.Kind, row.Fields[c.Name])
		if err != nil || stored != values[i] {
			return false
		}
	}
	for i, fk := range d.ForeignKeys {
		if row.Fields[fk.Column] != values[len(d.Columns)+i] {
			return false
		}
	}
	return true
}

func (r *SQLiteRepository) insert(ctx context.Context, q dbx.DBTX, d *models.Descriptor, clientID string, serverID *int64, synced bool, lastModified string, values []any) error {
	cols := []string{"client_id", "server_id", "is_synced", "last_modified"}
	args := []any{clientID, serverID, dbx.BoolToInt(synced), lastModified}
	for _, c := range d.Columns {
		cols = append(cols, c.Name)
	}
	for _, fk := range d.ForeignKeys {
		cols = append(cols, fk.Column)
	}
	args = append(args, values...)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		d.Table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return dbx.Wrap(err, "failed to insert into %s", d.Table)
	}
	return nil
}

func (r *SQLiteRepository) setServerModified(ctx context.Context, q dbx.DBTX, d *models.Descriptor, clientID, serverModified string) error {
	if serverModified == "" {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET server_modified = ? WHERE client_id = ?`, d.Table)
	if _, err := q.ExecContext(ctx, query, serverModified, clientID); err != nil {
		return dbx.Wrap(err, "failed to update %s", d.Table)
	}
	return nil
}

// applyServerUpdate overwrites the row with the server copy. A tombstone
// stays unsynced so its deletion is still pushed.
func (r *SQLiteRepository) applyServerUpdate(ctx context.Context, q dbx.DBTX, d *models.Descriptor, localID, serverID int64, lastModified, serverModified string, values []any) error {
	sets := []string{
		"server_id = ?",
		"is_synced = CASE WHEN deleted = 1 THEN 0 ELSE 1 END",
		"last_modified = ?",
		"server_modified = COALESCE(?, server_modified)",
	}
	args := []any{serverID, lastModified, nullable(serverModified)}
	for _, c := range d.Columns {
		sets = append(sets, c.Name+" = ?")
	}
	for _, fk := range d.ForeignKeys {
		sets = append(sets, fk.Column+" = ?")
	}
	args = append(args, values...)
	args = append(args, localID)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE local_id = ?`, d.Table, strings.Join(sets, ", "))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return dbx.Wrap(err, "failed to update %s", d.Table)
	}
	return nil
}

func (r *SQLiteRepository) removeFromServer(ctx context.Context, q dbx.DBTX, d *models.Descriptor, existing *Row, serverID int64) (UpsertOutcome, error) {
	if existing == nil {
		return OutcomeUnchanged, nil
	}
	cause := fmt.Sprintf("%s %d was deleted on the server", d.Type, serverID)
	if err := r.dropDependents(ctx, q, d, existing.LocalID, cause); err != nil {
		return 0, err
	}
	if err := r.deleteRow(ctx, q, d, existing); err != nil {
		return 0, err
	}
	return OutcomeRemoved, nil
}

// dropDependents removes, children first, every row that requires the row
// at localID and clears optional references to it. A dropped row carrying
// an unpushed edit leaves a rejection with cause so the loss is reported.
func (r *SQLiteRepository) dropDependents(ctx context.Context, q dbx.DBTX, d *models.Descriptor, localID int64, cause string) error {
	for et, fks := range models.Referencing(d.Type) {
		child := models.MustDescribe(et)
		for _, fk := range fks {
			if !fk.Required {
				query := fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE %s = ?`, child.Table, fk.Column, fk.Column)
				if _, err := q.ExecContext(ctx, query, localID); err != nil {
					return dbx.Wrap(err, "failed to clear %s.%s", child.Table, fk.Column)
				}
				continue
			}

			rows, err := r.listWhere(ctx, q, child, fk.Column+" = ?", localID)
			if err != nil {
				return err
			}
			for i := range rows {
				row := &rows[i]
				if err := r.dropDependents(ctx, q, child, row.LocalID, cause); err != nil {
					return err
				}
				if err := r.deleteRow(ctx, q, child, row); err != nil {
					return err
				}
				if !row.IsSynced && !row.Deleted {
					if err := r.recordRejection(ctx, q, et, row.ClientID, cause); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

/************* local mutations *************/

func (r *SQLiteRepository) CreateLocal(ctx context.Context, t models.EntityType, fields models.Record) (string, error) {
	d, err := models.Describe(t)
	if err != nil {
		return "", err
	}

	for name := range fields {
		_, isCol := d.Column(name)
		_, isFK := d.ForeignKey(name)
		if !isCol && !isFK {
			return "", fmt.Errorf("%w: unknown field %s.%s", ErrInvalidRecord, t, name)
		}
	}
	for _, fk := range d.ForeignKeys {
		if fk.Required && fields[fk.Column] == nil {
			return "", fmt.Errorf("%w: %s.%s is required", ErrInvalidRecord, t, fk.Column)
		}
	}

	clientID := uuid.NewString()
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		values, err := r.localValues(ctx, tx, d, fields, true)
		if err != nil {
			return err
		}
		return r.insert(ctx, tx, d, clientID, nil, false, models.FormatTime(r.now()), values)
	})
	if err != nil {
		return "", err
	}
	return clientID, nil
}

// localValues converts caller-supplied fields into stored values. Foreign
// keys are local ids and must point at live rows. With all set, every
// column is returned in descriptor order; otherwise only the given fields.
func (r *SQLiteRepository) localValues(ctx context.Context, q dbx.DBTX, d *models.Descriptor, fields models.Record, all bool) ([]any, error) {
	var values []any

	for _, c := range d.Columns {
		v, present := fields[c.Name]
		if !present && !all {
			continue
		}
		stored, err := models.StorageValue(c.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidRecord, d.Type, c.Name, err)
		}
		values = append(values, stored)
	}

	for _, fk := range d.ForeignKeys {
		v, present := fields[fk.Column]
		if !present && !all {
			continue
		}
		if v == nil {
			if fk.Required {
				return nil, fmt.Errorf("%w: %s.%s is required", ErrInvalidRecord, d.Type, fk.Column)
			}
			values = append(values, nil)
			continue
		}
		stored, err := models.StorageValue(models.KindInteger, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidRecord, d.Type, fk.Column, err)
		}
		localID := stored.(int64)
		if err := r.checkLive(ctx, q, fk.Target, localID); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Type, fk.Column, err)
		}
		values = append(values, localID)
	}

	return values, nil
}

func (r *SQLiteRepository) checkLive(ctx context.Context, q dbx.DBTX, t models.EntityType, localID int64) error {
	d := models.MustDescribe(t)

	var one int
	err := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE local_id = ? AND deleted = 0`, d.Table), localID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: no live %s with local id %d", ErrUnresolvedReference, t, localID)
	}
	if err != nil {
		return dbx.Wrap(err, "failed to look up %s", d.Table)
	}
	return nil
}

func (r *SQLiteRepository) UpdateLocal(ctx context.Context, t models.EntityType, clientID string, fields models.Record) error {
	d, err := models.Describe(t)
	if err != nil {
		return err
	}

	var names []string
	for _, c := range d.Columns {
		if _, ok := fields[c.Name]; ok {
			names = append(names, c.Name)
		}
	}
	for _, fk := range d.ForeignKeys {
		if _, ok := fields[fk.Column]; ok {
			names = append(names, fk.Column)
		}
	}
	for name := range fields {
		if !d.IsMutable(name) {
			return fmt.Errorf("%w: %s.%s", ErrFieldNotMutable, t, name)
		}
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := r.findBy(ctx, tx, d, "client_id", clientID)
		if err != nil {
			return err
		}
		if existing == nil || existing.Deleted {
			return fmt.Errorf("%s %s: %w", t, clientID, common.ErrorNotFound)
		}

		values, err := r.localValues(ctx, tx, d, fields, false)
		if err != nil {
			return err
		}

		sets := []string{"is_synced = 0", "last_modified = ?"}
		args := []any{r.stamp(existing.LastModified)}
		for _, name := range names {
			sets = append(sets, name+" = ?")
		}
		args = append(args, values...)
		args = append(args, existing.LocalID)

		query := fmt.Sprintf(`UPDATE %s SET %s WHERE local_id = ?`, d.Table, strings.Join(sets, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return dbx.Wrap(err, "failed to update %s", d.Table)
		}
		return nil
	})
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, t models.EntityType, clientID string) (bool, error) {
	d, err := models.Describe(t)
	if err != nil {
		return false, err
	}

	hard := false
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := r.findBy(ctx, tx, d, "client_id", clientID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%s %s: %w", t, clientID, common.ErrorNotFound)
		}
		if existing.Deleted {
			return nil
		}

		if existing.ServerID == nil {
			if err := r.checkNotReferenced(ctx, tx, d, existing.LocalID, false); err != nil {
				return err
			}
			hard = true
			return r.deleteRow(ctx, tx, d, existing)
		}

		if err := r.checkNotReferenced(ctx, tx, d, existing.LocalID, true); err != nil {
			return err
		}
		query := fmt.Sprintf(`UPDATE %s SET deleted = 1, is_synced = 0, last_modified = ? WHERE local_id = ?`, d.Table)
		if _, err := tx.ExecContext(ctx, query, r.stamp(existing.LastModified), existing.LocalID); err != nil {
			return dbx.Wrap(err, "failed to tombstone %s", d.Table)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return hard, nil
}

func (r *SQLiteRepository) HardDelete(ctx context.Context, t models.EntityType, clientID string) error {
	d, err := models.Describe(t)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := r.findBy(ctx, tx, d, "client_id", clientID)
		if err != nil || existing == nil {
			return err
		}
		if err := r.checkNotReferenced(ctx, tx, d, existing.LocalID, false); err != nil {
			return err
		}
		return r.deleteRow(ctx, tx, d, existing)
	})
}

func (r *SQLiteRepository) deleteRow(ctx context.Context, q dbx.DBTX, d *models.Descriptor, row *Row) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, d.Table), row.LocalID); err != nil {
		return dbx.Wrap(err, "failed to delete from %s", d.Table)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM sync_rejections WHERE entity = ? AND client_id = ?`, string(d.Type), row.ClientID); err != nil {
		return dbx.Wrap(err, "failed to delete rejection")
	}
	return nil
}

// checkNotReferenced fails with ErrReferenced when another row points at
// localID. With liveOnly, tombstoned referrers are ignored.
func (r *SQLiteRepository) checkNotReferenced(ctx context.Context, q dbx.DBTX, d *models.Descriptor, localID int64, liveOnly bool) error {
	for et, fks := range models.Referencing(d.Type) {
		child := models.MustDescribe(et)
		for _, fk := range fks {
			query := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s = ?`, child.Table, fk.Column)
			if liveOnly {
				query += ` AND deleted = 0`
			}
			query += ` LIMIT 1`

			var one int
			err := q.QueryRowContext(ctx, query, localID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return dbx.Wrap(err, "failed to check references from %s", child.Table)
			}
			return fmt.Errorf("%w: %s %d by %s.%s", ErrReferenced, d.Type, localID, et, fk.Column)
		}
	}
	return nil
}

/************* identifiers *************/

func (r *SQLiteRepository) GetLocalID(ctx context.Context, t models.EntityType, serverID int64) (int64, bool, error) {
	return r.localID(ctx, r.db, t, serverID)
}

func (r *SQLiteRepository) localID(ctx context.Context, q dbx.DBTX, t models.EntityType, serverID int64) (int64, bool, error) {
	d, err := models.Describe(t)
	if err != nil {
		return 0, false, err
	}

	var localID int64
	err = q.QueryRowContext(ctx, fmt.Sprintf(`SELECT local_id FROM %s WHERE server_id = ?`, d.Table), serverID).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, dbx.Wrap(err, "failed to get local id from %s", d.Table)
	}
	return localID, true, nil
}

func (r *SQLiteRepository) GetServerID(ctx context.Context, t models.EntityType, localID int64) (int64, bool, error) {
	d, err := models.Describe(t)
	if err != nil {
		return 0, false, err
	}

	var serverID sql.NullInt64
	err = r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT server_id FROM %s WHERE local_id = ?`, d.Table), localID).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, dbx.Wrap(err, "failed to get server id from %s", d.Table)
	}
	return serverID.Int64, serverID.Valid, nil
}

func (r *SQLiteRepository) UpdateSyncStatus(ctx context.Context, t models.EntityType, clientID string, ack Ack) error {
	d, err := models.Describe(t)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := r.findBy(ctx, tx, d, "client_id", clientID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("%s %s: %w", t, clientID, common.ErrorNotFound)
		}
		if existing.ServerID != nil && *existing.ServerID != ack.ServerID {
			return fmt.Errorf("%w: %s %s has server id %d, ack carries %d",
				ErrIdentityConflict, t, clientID, *existing.ServerID, ack.ServerID)
		}

		other, err := r.findBy(ctx, tx, d, "server_id", ack.ServerID)
		if err != nil {
			return err
		}
		if other != nil && other.LocalID != existing.LocalID {
			return fmt.Errorf("%w: server id %d already belongs to %s %s",
				ErrIdentityConflict, ack.ServerID, t, other.ClientID)
		}

		query := fmt.Sprintf(`UPDATE %s
			SET server_id = ?,
			    is_synced = CASE WHEN last_modified = ? THEN 1 ELSE is_synced END,
			    server_modified = COALESCE(?, server_modified)
			WHERE local_id = ?`, d.Table)
		args := []any{ack.ServerID, ack.Observed, nullable(ack.ServerModified), existing.LocalID}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return dbx.Wrap(err, "failed to update sync status of %s", d.Table)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_rejections WHERE entity = ? AND client_id = ?`, string(t), clientID); err != nil {
			return dbx.Wrap(err, "failed to clear rejection")
		}
		return nil
	})
}

/************* queries *************/

func (r *SQLiteRepository) GetByClientID(ctx context.Context, t models.EntityType, clientID string) (*Row, error) {
	d, err := models.Describe(t)
	if err != nil {
		return nil, err
	}

	row, err := r.findBy(ctx, r.db, d, "client_id", clientID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%s %s: %w", t, clientID, common.ErrorNotFound)
	}
	return row, nil
}

func (r *SQLiteRepository) ListUnsynced(ctx context.Context, t models.EntityType) ([]Row, error) {
	d, err := models.Describe(t)
	if err != nil {
		return nil, err
	}
	return r.listWhere(ctx, r.db, d, "is_synced = 0 AND deleted = 0")
}

func (r *SQLiteRepository) ListDeletedPending(ctx context.Context, t models.EntityType) ([]Row, error) {
	d, err := models.Describe(t)
	if err != nil {
		return nil, err
	}
	return r.listWhere(ctx, r.db, d, "deleted = 1 AND server_id IS NOT NULL")
}

func (r *SQLiteRepository) Count(ctx context.Context, t models.EntityType) (int, error) {
	d, err := models.Describe(t)
	if err != nil {
		return 0, err
	}

	var n int
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, d.Table)).Scan(&n); err != nil {
		return 0, dbx.Wrap(err, "failed to count %s", d.Table)
	}
	return n, nil
}

/************* rejections *************/

func (r *SQLiteRepository) RecordRejection(ctx context.Context, t models.EntityType, clientID, msg string) error {
	return r.recordRejection(ctx, r.db, t, clientID, msg)
}

func (r *SQLiteRepository) recordRejection(ctx context.Context, q dbx.DBTX, t models.EntityType, clientID, msg string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_rejections (entity, client_id, error, rejected_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity, client_id) DO UPDATE SET error = excluded.error, rejected_at = excluded.rejected_at
	`, string(t), clientID, msg, models.FormatTime(r.now()))
	if err != nil {
		return dbx.Wrap(err, "failed to record rejection of %s %s", t, clientID)
	}
	return nil
}

func (r *SQLiteRepository) ListRejections(ctx context.Context) ([]Rejection, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity, client_id, error, rejected_at FROM sync_rejections ORDER BY rejected_at, client_id`)
	if err != nil {
		return nil, dbx.Wrap(err, "failed to list rejections")
	}
	defer rows.Close()

	result := []Rejection{}
	for rows.Next() {
		var (
			rej    Rejection
			entity string
			at     string
		)
		if err := rows.Scan(&entity, &rej.ClientID, &rej.Error, &at); err != nil {
			return nil, dbx.Wrap(err, "failed to scan rejection")
		}
		rej.Entity = models.EntityType(entity)
		if rej.RejectedAt, err = models.ParseTime(at); err != nil {
			return nil, dbx.Wrap(err, "corrupt rejection timestamp")
		}
		result = append(result, rej)
	}

	if err := rows.Err(); err != nil {
		return nil, dbx.Wrap(err, "failed to iterate rejections")
	}
	return result, nil
}
