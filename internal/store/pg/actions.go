package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/registry"
)

const actionColumns = `id, account_id, category, description, evidence_ref, coalesce(fingerprint, ''),
	payload, co2_saved, status, reviewed_by, created_at, decided_at`

func scanAction(sc scanner) (action.Action, error) {
	var (
		a        action.Action
		category string
		status   string
		payload  []byte
		decided  sql.NullTime
	)
	err := sc.Scan(&a.ID, &a.AccountID, &category, &a.Description, &a.EvidenceRef, &a.Fingerprint,
		&payload, &a.CO2Saved, &status, &a.ReviewedBy, &a.CreatedAt, &decided)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Action{}, action.ErrNotFound
	}
	if err != nil {
		return action.Action{}, err
	}
	a.Category = action.Category(category)
	a.Status = action.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return action.Action{}, fmt.Errorf("decode payload of %s: %w", a.ID, err)
		}
	}
	if decided.Valid {
		t := decided.Time.UTC()
		a.DecidedAt = &t
	}
	return a, nil
}

// Create inserts a pending action. Without an external registry the
// fingerprint claim and the insert commit together, and the claim is audited
// once the transaction has committed.
func (s *Store) Create(ctx context.Context, a action.Action) (action.Action, error) {
	if !a.Category.Valid() {
		return action.Action{}, action.ErrUnknownCategory
	}
	if a.ID == "" || a.AccountID == "" {
		return action.Action{}, errors.New("action id and account id are required")
	}
	a.Status = action.StatusPending
	a.DecidedAt = nil
	a.ReviewedBy = ""
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return action.Action{}, err
	}

	if a.Fingerprint != "" && s.reg != nil {
		c, err := s.reg.Claim(ctx, a.Fingerprint)
		if err != nil {
			return action.Action{}, err
		}
		a.Fingerprint = c.Fingerprint
	}

	claimInTx := a.Fingerprint != "" && s.reg == nil
	var claimed registry.Claim
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if claimInTx {
			fp, err := registry.Normalize(a.Fingerprint)
			if err != nil {
				return err
			}
			if claimed, err = claimTx(ctx, tx, fp, a.CreatedAt); err != nil {
				return err
			}
			a.Fingerprint = fp
		}
		_, err := tx.ExecContext(ctx, `
			insert into actions(id, account_id, category, description, evidence_ref, fingerprint,
				payload, co2_saved, status, created_at)
			values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8,$9,$10)
		`, a.ID, a.AccountID, string(a.Category), a.Description, a.EvidenceRef, a.Fingerprint,
			payload, a.CO2Saved, string(a.Status), a.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("action %s: %w", a.ID, registry.ErrAlreadyClaimed)
		}
		return err
	})
	if claimInTx {
		registry.Observe(ctx, claimed, err)
	}
	if err != nil {
		return action.Action{}, err
	}
	return a, nil
}

func (s *Store) Get(ctx context.Context, id string) (action.Action, error) {
	return scanAction(s.db.QueryRowContext(ctx, `select `+actionColumns+` from actions where id=$1`, id))
}

// Decide locks the action row, grants credits on approval and records the
// verdict in one transaction.
func (s *Store) Decide(ctx context.Context, id string, d action.Decision) (action.Action, error) {
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	var decided action.Action
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		a, err := scanAction(tx.QueryRowContext(ctx,
			`select `+actionColumns+` from actions where id=$1 for update`, id))
		if err != nil {
			return err
		}
		if a.Status != action.StatusPending {
			return action.ErrInvalidTransition
		}
		if d.Approve {
			if _, err := postTx(ctx, tx, ledger.Posting{
				AccountID:   a.AccountID,
				Amount:      a.CO2Saved,
				Reason:      ledger.ReasonActionApproved,
				ReferenceID: a.ID,
			}, false); err != nil {
				return fmt.Errorf("grant credits for %s: %w", a.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			update actions set status=$2, reviewed_by=$3, decided_at=$4
			where id=$1
		`, a.ID, string(d.Status()), d.ReviewerID, d.At); err != nil {
			return err
		}
		at := d.At
		a.Status = d.Status()
		a.ReviewedBy = d.ReviewerID
		a.DecidedAt = &at
		decided = a
		return nil
	})
	if err != nil {
		return action.Action{}, err
	}
	return decided, nil
}

// Pending streams pending actions newest first from a fresh query.
func (s *Store) Pending(ctx context.Context) iter.Seq2[action.Action, error] {
	return func(yield func(action.Action, error) bool) {
		rows, err := s.db.QueryContext(ctx, `
			select `+actionColumns+`
			from actions
			where status='pending'
			order by created_at desc, id desc
		`)
		if err != nil {
			yield(action.Action{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAction(rows)
			if !yield(a, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(action.Action{}, err)
		}
	}
}

func (s *Store) ListByAccount(ctx context.Context, accountID string, limit int) ([]action.Action, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+actionColumns+`
		from actions
		where account_id=$1
		order by created_at desc, id desc
		limit $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
