// Package market sells catalog items for credits.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"ecocredit.org/internal/ids"
)

// Item is a redeemable catalog entry. A nil Stock means unlimited.
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CreditCost  decimal.Decimal `json:"creditCost"`
	Stock       *int            `json:"stock,omitempty"`
	Active      bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Redemption records one purchase and the ledger entry that paid for it.
type Redemption struct {
	ID        string          `json:"id"`
	AccountID string          `json:"accountId"`
	ItemID    string          `json:"itemId"`
	Cost      decimal.Decimal `json:"cost"`
	EntryID   string          `json:"entryId"`
	CreatedAt time.Time       `json:"createdAt"`
}

var (
	ErrNotFound    = errors.New("item not found")
	ErrOutOfStock  = errors.New("item out of stock")
	ErrInactive    = errors.New("item is not available")
	ErrInvalidItem = errors.New("item needs a name and a positive cost")
)

// Store manages the catalog and performs redemptions. Redeem debits the
// ledger and takes one unit of stock as a single unit: both happen or neither.
type Store interface {
	CreateItem(ctx context.Context, it Item) (Item, error)
	GetItem(ctx context.Context, id string) (Item, error)
	ListItems(ctx context.Context, activeOnly bool) ([]Item, error)
	Redeem(ctx context.Context, accountID, itemID string) (Redemption, error)
}

// Validate checks a new item and fills in its id.
func (it *Item) Validate() error {
	if it.Name == "" || !it.CreditCost.IsPositive() {
		return ErrInvalidItem
	}
	if it.Stock != nil && *it.Stock < 0 {
		return ErrInvalidItem
	}
	if it.ID == "" {
		it.ID = ids.WithPrefix("itm")
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	return nil
}

// NewRedemptionID returns an identifier for a redemption.
func NewRedemptionID() string { return ids.WithPrefix("red") }
