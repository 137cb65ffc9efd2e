package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"ecocredit.org/internal/ledger"
)

const (
	accountColumns = `id, credit_balance, total_co2_saved, is_premium, created_at, updated_at`
	entryColumns   = `id, account_id, amount, reason, reference_id, balance_after, sequence, created_at`
)

func scanAccount(sc scanner) (ledger.Account, error) {
	var a ledger.Account
	err := sc.Scan(&a.ID, &a.CreditBalance, &a.TotalCO2Saved, &a.IsPremium, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return a, err
}

func scanEntry(sc scanner) (ledger.Entry, error) {
	var e ledger.Entry
	var reason string
	if err := sc.Scan(&e.ID, &e.AccountID, &e.Amount, &reason, &e.ReferenceID, &e.BalanceAfter, &e.Sequence, &e.CreatedAt); err != nil {
		return ledger.Entry{}, err
	}
	e.Reason = ledger.Reason(reason)
	return e, nil
}

func (s *Store) OpenAccount(ctx context.Context, id string) (ledger.Account, error) {
	if id == "" {
		return ledger.Account{}, ledger.ErrInvalidAccount
	}
	if _, err := s.db.ExecContext(ctx, `insert into accounts(id) values ($1) on conflict (id) do nothing`, id); err != nil {
		return ledger.Account{}, err
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id=$1`, id))
}

func (s *Store) SetPremium(ctx context.Context, id string, premium bool) (ledger.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set is_premium=$2, updated_at=now()
		where id=$1
		returning `+accountColumns, id, premium))
}

func (s *Store) Grant(ctx context.Context, p ledger.Posting) (ledger.Entry, error) {
	if err := p.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	var e ledger.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = postTx(ctx, tx, p, false)
		return err
	})
	return e, err
}

func (s *Store) Debit(ctx context.Context, p ledger.Posting) (ledger.Entry, error) {
	if err := p.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	var e ledger.Entry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = postTx(ctx, tx, p, true)
		return err
	})
	return e, err
}

// postTx appends one entry inside tx and updates the account projection.
// A (reason, reference) pair already present returns the stored entry.
func postTx(ctx context.Context, tx *sql.Tx, p ledger.Posting, debit bool) (ledger.Entry, error) {
	existing, err := scanEntry(tx.QueryRowContext(ctx,
		`select `+entryColumns+` from ledger_entries where reason=$1 and reference_id=$2`,
		string(p.Reason), p.ReferenceID))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, err
	}

	if !debit {
		if _, err := tx.ExecContext(ctx, `insert into accounts(id) values ($1) on conflict (id) do nothing`, p.AccountID); err != nil {
			return ledger.Entry{}, err
		}
	}
	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `select credit_balance from accounts where id=$1 for update`, p.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Entry{}, err
	}

	signed, co2 := p.Amount, decimal.Zero
	if debit {
		if balance.LessThan(p.Amount) {
			return ledger.Entry{}, ledger.ErrInsufficientBalance
		}
		signed = p.Amount.Neg()
	} else if p.Reason == ledger.ReasonActionApproved {
		co2 = p.Amount
	}
	after := balance.Add(signed)

	if _, err := tx.ExecContext(ctx, `
		update accounts
		set credit_balance=$2, total_co2_saved = total_co2_saved + $3, updated_at=now()
		where id=$1
	`, p.AccountID, after, co2); err != nil {
		return ledger.Entry{}, err
	}

	e := ledger.Entry{
		ID:           ledger.NewEntryID(),
		AccountID:    p.AccountID,
		Amount:       signed,
		Reason:       p.Reason,
		ReferenceID:  p.ReferenceID,
		BalanceAfter: after,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into ledger_entries(id, account_id, amount, reason, reference_id, balance_after)
		values ($1,$2,$3,$4,$5,$6)
		returning sequence, created_at
	`, e.ID, e.AccountID, e.Amount, string(e.Reason), e.ReferenceID, e.BalanceAfter).Scan(&e.Sequence, &e.CreatedAt); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *Store) Entries(ctx context.Context, accountID string, limit int, afterSeq uint64) ([]ledger.Entry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from accounts where id=$1`, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ledger.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select `+entryColumns+`
		from ledger_entries
		where account_id=$1 and sequence > $2
		order by sequence asc
		limit $3
	`, accountID, int64(afterSeq), limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Entry
	var last uint64
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, e)
		last = e.Sequence
	}
	return res, last, rows.Err()
}
