// Package pg is the PostgreSQL backend. A single Store serves the ledger,
// actions, the fingerprint registry and the marketplace so that every
// cross-cutting mutation commits in one transaction.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/market"
	"ecocredit.org/internal/migrate"
	"ecocredit.org/internal/registry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Migrations returns the schema migrations with names at the root.
func Migrations() fs.FS {
	sub, _ := fs.Sub(migrationFiles, "migrations")
	return sub
}

// Seeds returns the seed files with names at the root.
func Seeds() fs.FS {
	sub, _ := fs.Sub(seedFiles, "seeds")
	return sub
}

const maxTxAttempts = 3

type Store struct {
	db  *sql.DB
	reg registry.Registry
}

var (
	_ ledger.Service    = (*Store)(nil)
	_ action.Store      = (*Store)(nil)
	_ registry.Registry = (*Store)(nil)
	_ market.Store      = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithRegistry makes Create claim fingerprints through reg instead of the
// evidence_fingerprints table.
func WithRegistry(reg registry.Registry) Option {
	return func(s *Store) { s.reg = reg }
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func Open(dsn string, pool PoolConfig, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrator returns a migration manager over the embedded schema and seeds.
func (s *Store) Migrator() *migrate.Manager {
	return migrate.NewManager(s.db, Migrations(), Seeds())
}

// withTx runs fn in a serializable transaction, retrying serialization
// failures and deadlocks.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.tryTx(ctx, fn)
		if !isRetryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) tryTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case "40001", "40P01":
		return true
	}
	return false
}

func isUniqueViolation(err error) bool { return pgCode(err) == "23505" }

type scanner interface {
	Scan(dest ...any) error
}
