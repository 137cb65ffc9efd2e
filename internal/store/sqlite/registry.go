// Package sqlite is an embedded, file-backed fingerprint registry.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"ecocredit.org/internal/registry"
)

type Registry struct {
	db  *sql.DB
	now func() time.Time
}

var _ registry.Registry = (*Registry)(nil)

// Open opens or creates the database at path. ":memory:" keeps it in process.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	r, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps db and creates the table if needed.
func New(db *sql.DB) (*Registry, error) {
	r := &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS fingerprints (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        fingerprint TEXT NOT NULL UNIQUE,
        claimed_at TEXT NOT NULL
    );`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) Claim(ctx context.Context, fingerprint string) (registry.Claim, error) {
	fp, err := registry.Normalize(fingerprint)
	if err != nil {
		return registry.Claim{}, err
	}
	at := r.now()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO fingerprints (fingerprint, claimed_at) VALUES (?, ?) ON CONFLICT(fingerprint) DO NOTHING`,
		fp, at.Format(time.RFC3339Nano))
	if err != nil {
		return registry.Claim{}, fmt.Errorf("claim fingerprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.Claim{}, err
	}
	if n == 0 {
		return registry.Claim{}, registry.ErrAlreadyClaimed
	}
	return registry.Claim{Fingerprint: fp, ClaimedAt: at}, nil
}

func (r *Registry) Export(ctx context.Context, fn func(registry.Claim) error) error {
	rows, err := r.db.QueryContext(ctx, `SELECT fingerprint, claimed_at FROM fingerprints ORDER BY seq ASC`)
	if err != nil {
		return err
	}
	// collect first so fn may call back into the registry on the single connection
	var claims []registry.Claim
	for rows.Next() {
		var c registry.Claim
		var ts string
		if err := rows.Scan(&c.Fingerprint, &ts); err != nil {
			_ = rows.Close()
			return err
		}
		c.ClaimedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("parse claimed_at for %s: %w", c.Fingerprint, err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()
	for _, c := range claims {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}
