// Package dbx holds the small database/sql helpers shared by the local
// store repositories: a handle interface satisfied by both *sql.DB and
// *sql.Tx, and a transaction runner.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DBTX is the subset of database/sql used by repositories.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner opens transactions. *sql.DB implements it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// TxFunc is a unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx DBTX) error

// WithTx begins a transaction, runs fn with the transactional handle and
// commits when fn succeeds. Any error or panic from fn rolls the
// transaction back; panics are rethrown after the rollback.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE machines SET is_synced = 0 WHERE client_id = ?", id)
//	    return err
//	})
func WithTx(ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return Wrap(err, "begin tx")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = Wrap(cerr, "commit tx")
		}
	}()

	err = fn(ctx, tx)
	return err
}

// BoolToInt maps a Go bool onto SQLite's integer boolean storage.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ErrLocalStorage marks failures of the durable local store itself (driver
// errors, corruption, failed migrations), as opposed to logical per-row
// outcomes. Callers treat it as fatal.
var ErrLocalStorage = errors.New("local storage error")

// Wrap annotates err with a message and ErrLocalStorage. Nil stays nil and
// context cancellation is passed through unmarked.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), ErrLocalStorage, err)
}
