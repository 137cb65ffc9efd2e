package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Granter credits an account. Action stores depend on this narrow view.
type Granter interface {
	Grant(ctx context.Context, p Posting) (Entry, error)
}

// Service defines ledger operations.
//
// Grant and Debit are idempotent on (Reason, ReferenceID): replaying a posting
// returns the entry already written and changes nothing.
type Service interface {
	Granter
	OpenAccount(ctx context.Context, id string) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	Debit(ctx context.Context, p Posting) (Entry, error)
	SetPremium(ctx context.Context, id string, premium bool) (Account, error)
	Entries(ctx context.Context, accountID string, limit int, afterSeq uint64) ([]Entry, uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.RWMutex
	accts   map[string]*Account
	seq     uint64
	entries map[string][]Entry // account id -> entries in sequence order
	idem    map[string]Entry   // reason/reference -> entry
	now     func() time.Time
}

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accts:   make(map[string]*Account),
		entries: make(map[string][]Entry),
		idem:    make(map[string]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func idemKey(r Reason, ref string) string { return string(r) + "/" + ref }

func (s *InMemory) OpenAccount(ctx context.Context, id string) (Account, error) {
	if id == "" {
		return Account{}, ErrInvalidAccount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.openLocked(id), nil
}

func (s *InMemory) openLocked(id string) *Account {
	if acc, ok := s.accts[id]; ok {
		return acc
	}
	now := s.now()
	acc := &Account{
		ID:            id,
		CreditBalance: decimal.Zero,
		TotalCO2Saved: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.accts[id] = acc
	return acc
}

func (s *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *acc, nil
}

func (s *InMemory) Grant(ctx context.Context, p Posting) (Entry, error) {
	if err := p.Validate(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.idem[idemKey(p.Reason, p.ReferenceID)]; ok {
		return e, nil
	}
	acc := s.openLocked(p.AccountID)
	acc.CreditBalance = acc.CreditBalance.Add(p.Amount)
	if p.Reason == ReasonActionApproved {
		// one credit per kilogram saved
		acc.TotalCO2Saved = acc.TotalCO2Saved.Add(p.Amount)
	}
	return s.appendLocked(acc, p, p.Amount), nil
}

func (s *InMemory) Debit(ctx context.Context, p Posting) (Entry, error) {
	if err := p.Validate(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.idem[idemKey(p.Reason, p.ReferenceID)]; ok {
		return e, nil
	}
	acc, ok := s.accts[p.AccountID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if acc.CreditBalance.LessThan(p.Amount) {
		return Entry{}, ErrInsufficientBalance
	}
	acc.CreditBalance = acc.CreditBalance.Sub(p.Amount)
	return s.appendLocked(acc, p, p.Amount.Neg()), nil
}

func (s *InMemory) appendLocked(acc *Account, p Posting, signed decimal.Decimal) Entry {
	now := s.now()
	acc.UpdatedAt = now
	s.seq++
	e := Entry{
		ID:           NewEntryID(),
		AccountID:    acc.ID,
		Amount:       signed,
		Reason:       p.Reason,
		ReferenceID:  p.ReferenceID,
		BalanceAfter: acc.CreditBalance,
		Sequence:     s.seq,
		CreatedAt:    now,
	}
	s.entries[acc.ID] = append(s.entries[acc.ID], e)
	s.idem[idemKey(p.Reason, p.ReferenceID)] = e
	return e
}

func (s *InMemory) SetPremium(ctx context.Context, id string, premium bool) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	acc.IsPremium = premium
	acc.UpdatedAt = s.now()
	return *acc, nil
}

func (s *InMemory) Entries(ctx context.Context, accountID string, limit int, afterSeq uint64) ([]Entry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accts[accountID]; !ok {
		return nil, 0, ErrNotFound
	}
	var res []Entry
	var last uint64
	for _, e := range s.entries[accountID] {
		if e.Sequence <= afterSeq {
			continue
		}
		res = append(res, e)
		last = e.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
