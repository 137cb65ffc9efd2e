package market

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ecocredit.org/internal/ledger"
)

// InMemory keeps the catalog in memory and pays through a ledger.Service.
type InMemory struct {
	mu          sync.Mutex
	items       map[string]*Item
	redemptions []Redemption
	ledger      ledger.Service
}

var _ Store = (*InMemory)(nil)

func NewInMemory(l ledger.Service) *InMemory {
	return &InMemory{items: make(map[string]*Item), ledger: l}
}

func (s *InMemory) CreateItem(ctx context.Context, it Item) (Item, error) {
	if err := it.Validate(); err != nil {
		return Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[it.ID]; ok {
		return Item{}, fmt.Errorf("item %s already exists", it.ID)
	}
	stored := copyItem(it)
	s.items[it.ID] = &stored
	return copyItem(stored), nil
}

func (s *InMemory) GetItem(ctx context.Context, id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return copyItem(*it), nil
}

func (s *InMemory) ListItems(ctx context.Context, activeOnly bool) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if activeOnly && !it.Active {
			continue
		}
		out = append(out, copyItem(*it))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreditCost.Equal(out[j].CreditCost) {
			return out[i].CreditCost.LessThan(out[j].CreditCost)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Redeem debits the ledger and takes one unit of stock. The store lock is held
// across the debit, so a failed redemption never makes the last unit look
// sold out to a concurrent caller.
func (s *InMemory) Redeem(ctx context.Context, accountID, itemID string) (Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return Redemption{}, ErrNotFound
	}
	if !it.Active {
		return Redemption{}, ErrInactive
	}
	if it.Stock != nil && *it.Stock <= 0 {
		return Redemption{}, ErrOutOfStock
	}

	red := Redemption{
		ID:        NewRedemptionID(),
		AccountID: accountID,
		ItemID:    itemID,
		Cost:      it.CreditCost,
		CreatedAt: time.Now().UTC(),
	}
	entry, err := s.ledger.Debit(ctx, ledger.Posting{
		AccountID:   accountID,
		Amount:      red.Cost,
		Reason:      ledger.ReasonMarketplaceRedeem,
		ReferenceID: red.ID,
	})
	if err != nil {
		return Redemption{}, err
	}
	red.EntryID = entry.ID
	if it.Stock != nil {
		*it.Stock--
	}
	s.redemptions = append(s.redemptions, red)
	return red, nil
}

func copyItem(it Item) Item {
	if it.Stock != nil {
		v := *it.Stock
		it.Stock = &v
	}
	return it
}
