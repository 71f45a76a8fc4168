// Package storage opens the local SQLite cache: it refuses to fabricate a
// missing store unless asked to, applies the embedded migrations, checks the
// store key and provides the per-store cycle lock.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/maintkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/maintkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/maintkeeper/internal/common"
	"github.com/dmitrijs2005/maintkeeper/internal/cryptox"
	"github.com/dmitrijs2005/maintkeeper/internal/dbx"
	"github.com/dmitrijs2005/maintkeeper/internal/filex"
	"github.com/gofrs/flock"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory store without a file lock.
const MemoryPath = ":memory:"

const (
	saltKey     = "store_key_salt"
	verifierKey = "store_key_verifier"
)

var (
	// ErrLocalStorage is dbx.ErrLocalStorage, re-exported for callers that
	// only deal with the store as a whole.
	ErrLocalStorage = dbx.ErrLocalStorage

	ErrStoreNotFound     = fmt.Errorf("store does not exist: %w", dbx.ErrLocalStorage)
	ErrStoreKeyMismatch  = fmt.Errorf("store key mismatch: %w", dbx.ErrLocalStorage)
	ErrStoreKeyRequired  = fmt.Errorf("store key required: %w", dbx.ErrLocalStorage)
	ErrStoreBusy         = errors.New("store is locked by another sync cycle")
	errIntegrityNotValid = errors.New("integrity check failed")
)

// Options control how a store is opened.
type Options struct {
	Path string

	// CreateIfMissing allows creating a new, empty store. Without it a
	// missing file is an error.
	CreateIfMissing bool

	// Key is the passphrase the store is bound to. A store created with a
	// key can only be reopened with the same key; nil opens keyless stores.
	Key []byte
}

// Store is an open local cache.
type Store struct {
	DB   *sql.DB
	path string

	mu   sync.Mutex
	lock *flock.Flock
}

// Open opens (and if allowed, creates) the store at opts.Path.
func Open(ctx context.Context, opts Options) (*Store, error) {
	created := false

	if opts.Path != MemoryPath {
		exists, err := filex.Exists(opts.Path)
		if err != nil {
			return nil, dbx.Wrap(err, "open store")
		}
		if !exists {
			if !opts.CreateIfMissing {
				return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, opts.Path)
			}
			if _, err := filex.EnsureParentDir(opts.Path); err != nil {
				return nil, dbx.Wrap(err, "create store dir")
			}
			created = true
		}
	} else {
		created = true
	}

	db, err := sql.Open("sqlite", dsn(opts.Path))
	if err != nil {
		return nil, dbx.Wrap(err, "open store")
	}
	// One connection per store handle: callers serialize on it and an
	// in-memory database stays the same database.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db, path: opts.Path}
	if opts.Path != MemoryPath {
		s.lock = flock.New(opts.Path + ".lock")
	}

	if err := s.init(ctx, created, opts.Key); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func dsn(path string) string {
	if path == MemoryPath {
		return MemoryPath + "?_pragma=foreign_keys(1)"
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) init(ctx context.Context, created bool, key []byte) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return dbx.Wrap(err, "ping store")
	}

	if !created {
		var result string
		if err := s.DB.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
			return dbx.Wrap(err, "check store %s", s.path)
		}
		if result != "ok" {
			return dbx.Wrap(errIntegrityNotValid, "check store %s: %s", s.path, result)
		}
	}

	if err := Migrate(ctx, s.DB); err != nil {
		return err
	}

	return s.checkKey(ctx, created, key)
}

// Migrate applies the embedded schema migrations. Safe to call on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.FS)
	if err != nil {
		return dbx.Wrap(err, "init migrations")
	}
	if _, err := p.Up(ctx); err != nil {
		return dbx.Wrap(err, "apply migrations")
	}
	return nil
}

func (s *Store) checkKey(ctx context.Context, created bool, key []byte) error {
	meta := metadata.NewSQLiteRepository(s.DB)

	verifier, err := meta.Get(ctx, verifierKey)
	if err != nil {
		return err
	}

	switch {
	case verifier == nil && key == nil:
		return nil
	case verifier == nil && created:
		return s.bindKey(ctx, meta, key)
	case verifier == nil:
		return ErrStoreKeyMismatch
	case key == nil:
		return ErrStoreKeyRequired
	}

	salt, err := meta.Get(ctx, saltKey)
	if err != nil {
		return err
	}
	if !cryptox.VerifyStoreKey(key, salt, verifier) {
		return ErrStoreKeyMismatch
	}
	return nil
}

func (s *Store) bindKey(ctx context.Context, meta metadata.Repository, key []byte) error {
	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	storeKey := cryptox.DeriveStoreKey(key, salt)
	defer common.WipeByteArray(storeKey)

	return meta.SetMany(ctx, map[string][]byte{
		saltKey:     salt,
		verifierKey: cryptox.MakeVerifier(storeKey),
	})
}

// TryLock takes the exclusive cycle lock for this store: an in-process mutex
// plus an advisory lock on "<path>.lock" that excludes other processes.
// It never blocks; ErrStoreBusy means another cycle holds the lock.
func (s *Store) TryLock() (release func(), err error) {
	if !s.mu.TryLock() {
		return nil, ErrStoreBusy
	}

	if s.lock != nil {
		ok, err := s.lock.TryLock()
		if err != nil {
			s.mu.Unlock()
			return nil, dbx.Wrap(err, "lock store %s", s.path)
		}
		if !ok {
			s.mu.Unlock()
			return nil, ErrStoreBusy
		}
	}

	return func() {
		if s.lock != nil {
			_ = s.lock.Unlock()
		}
		s.mu.Unlock()
	}, nil
}

// Path is the store file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.lock != nil {
		_ = s.lock.Close()
	}
	return s.DB.Close()
}
