package metadata

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"

	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
)

const upsertSuffix = ` ON CONFLICT(key) DO UPDATE SET value = excluded.value`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, dbx.Wrap(err, "read metadata %q", key)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	return r.SetMany(ctx, map[string][]byte{key: value})
}

// SetMany upserts every pair in a single statement, in key order.
func (r *SQLiteRepository) SetMany(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var q strings.Builder
	q.WriteString(`INSERT INTO metadata (key, value) VALUES `)
	args := make([]any, 0, 2*len(keys))
	for i, k := range keys {
		if i > 0 {
			q.WriteString(", ")
		}
		q.WriteString("(?, ?)")
		args = append(args, k, values[k])
	}
	q.WriteString(upsertSuffix)

	if _, err := r.db.ExecContext(ctx, q.String(), args...); err != nil {
		return dbx.Wrap(err, "write metadata %s", strings.Join(keys, ","))
	}
	return nil
}
