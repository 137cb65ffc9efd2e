package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/market"
)

const itemColumns = `id, name, description, credit_cost, stock, is_active, created_at`

func scanItem(sc scanner) (market.Item, error) {
	var it market.Item
	var stock sql.NullInt64
	err := sc.Scan(&it.ID, &it.Name, &it.Description, &it.CreditCost, &stock, &it.Active, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Item{}, market.ErrNotFound
	}
	if err != nil {
		return market.Item{}, err
	}
	if stock.Valid {
		n := int(stock.Int64)
		it.Stock = &n
	}
	return it, nil
}

func nullStock(stock *int) sql.NullInt64 {
	if stock == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*stock), Valid: true}
}

func (s *Store) CreateItem(ctx context.Context, it market.Item) (market.Item, error) {
	if err := it.Validate(); err != nil {
		return market.Item{}, err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into marketplace_items(id, name, description, credit_cost, stock, is_active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, it.ID, it.Name, it.Description, it.CreditCost, nullStock(it.Stock), it.Active, it.CreatedAt)
	if isUniqueViolation(err) {
		return market.Item{}, fmt.Errorf("item %s already exists", it.ID)
	}
	if err != nil {
		return market.Item{}, err
	}
	return it, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (market.Item, error) {
	return scanItem(s.db.QueryRowContext(ctx, `select `+itemColumns+` from marketplace_items where id=$1`, id))
}

func (s *Store) ListItems(ctx context.Context, activeOnly bool) ([]market.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+itemColumns+`
		from marketplace_items
		where ($1 = false or is_active)
		order by credit_cost asc, id asc
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []market.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Redeem locks the item, debits the account and takes one unit of stock in
// one transaction.
func (s *Store) Redeem(ctx context.Context, accountID, itemID string) (market.Redemption, error) {
	var red market.Redemption
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		it, err := scanItem(tx.QueryRowContext(ctx,
			`select `+itemColumns+` from marketplace_items where id=$1 for update`, itemID))
		if err != nil {
			return err
		}
		if !it.Active {
			return market.ErrInactive
		}
		if it.Stock != nil && *it.Stock <= 0 {
			return market.ErrOutOfStock
		}

		red = market.Redemption{
			ID:        market.NewRedemptionID(),
			AccountID: accountID,
			ItemID:    itemID,
			Cost:      it.CreditCost,
			CreatedAt: time.Now().UTC(),
		}
		entry, err := postTx(ctx, tx, ledger.Posting{
			AccountID:   accountID,
			Amount:      it.CreditCost,
			Reason:      ledger.ReasonMarketplaceRedeem,
			ReferenceID: red.ID,
		}, true)
		if err != nil {
			return err
		}
		red.EntryID = entry.ID

		if it.Stock != nil {
			if _, err := tx.ExecContext(ctx, `update marketplace_items set stock = stock - 1 where id=$1`, itemID); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			insert into redemptions(id, account_id, item_id, cost, entry_id, created_at)
			values ($1,$2,$3,$4,$5,$6)
		`, red.ID, red.AccountID, red.ItemID, red.Cost, red.EntryID, red.CreatedAt)
		return err
	})
	if err != nil {
		return market.Redemption{}, err
	}
	return red, nil
}
