package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ecocredit.org/internal/registry"
)

// claimTx inserts fp unless present. A conflict returns registry.ErrAlreadyClaimed.
func claimTx(ctx context.Context, tx *sql.Tx, fp string, at time.Time) (registry.Claim, error) {
	c := registry.Claim{Fingerprint: fp}
	err := tx.QueryRowContext(ctx, `
		insert into evidence_fingerprints(fingerprint, claimed_at)
		values ($1, $2)
		on conflict (fingerprint) do nothing
		returning claimed_at
	`, fp, at).Scan(&c.ClaimedAt)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return registry.Claim{}, registry.ErrAlreadyClaimed
	}
	if err != nil {
		return registry.Claim{}, err
	}
	c.ClaimedAt = c.ClaimedAt.UTC()
	return c, nil
}

func (s *Store) Claim(ctx context.Context, fingerprint string) (registry.Claim, error) {
	fp, err := registry.Normalize(fingerprint)
	if err != nil {
		return registry.Claim{}, err
	}
	var c registry.Claim
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		c, err = claimTx(ctx, tx, fp, time.Now().UTC())
		return err
	})
	return c, err
}

func (s *Store) Export(ctx context.Context, fn func(registry.Claim) error) error {
	rows, err := s.db.QueryContext(ctx, `select fingerprint, claimed_at from evidence_fingerprints order by seq asc`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c registry.Claim
		if err := rows.Scan(&c.Fingerprint, &c.ClaimedAt); err != nil {
			return err
		}
		c.ClaimedAt = c.ClaimedAt.UTC()
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}
