package action

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/registry"
)

// InMemory keeps actions in process memory. Fingerprints are claimed through
// reg and approvals credited through credits.
type InMemory struct {
	mu      sync.RWMutex
	actions map[string]*Action
	reg     registry.Registry
	credits ledger.Granter
}

var _ Store = (*InMemory)(nil)

// NewInMemory returns an empty store. reg may be nil when deduplication is handled elsewhere.
func NewInMemory(reg registry.Registry, credits ledger.Granter) *InMemory {
	return &InMemory{
		actions: make(map[string]*Action),
		reg:     reg,
		credits: credits,
	}
}

func (s *InMemory) Create(ctx context.Context, a Action) (Action, error) {
	if !a.Category.Valid() {
		return Action{}, ErrUnknownCategory
	}
	if a.ID == "" || a.AccountID == "" {
		return Action{}, fmt.Errorf("action id and account id are required")
	}
	a.Status = StatusPending
	a.DecidedAt = nil
	a.ReviewedBy = ""
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	s.mu.RLock()
	_, exists := s.actions[a.ID]
	s.mu.RUnlock()
	if exists {
		return Action{}, fmt.Errorf("action %s already exists", a.ID)
	}

	if a.Fingerprint != "" && s.reg != nil {
		c, err := s.reg.Claim(ctx, a.Fingerprint)
		if err != nil {
			return Action{}, err
		}
		a.Fingerprint = c.Fingerprint
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ID] = &a
	return a, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.actions[id]
	if !ok {
		return Action{}, ErrNotFound
	}
	return *rec, nil
}

// Decide records the verdict under the lock before granting, so the action
// leaves the pending set at once. A failed grant restores it to pending.
// Readers may briefly see an approved action whose credit has not landed yet.
func (s *InMemory) Decide(ctx context.Context, id string, d Decision) (Action, error) {
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}

	s.mu.Lock()
	rec, ok := s.actions[id]
	if !ok {
		s.mu.Unlock()
		return Action{}, ErrNotFound
	}
	if rec.Status != StatusPending {
		s.mu.Unlock()
		return Action{}, ErrInvalidTransition
	}
	prev := *rec
	at := d.At
	rec.Status = d.Status()
	rec.DecidedAt = &at
	rec.ReviewedBy = d.ReviewerID
	decided := *rec
	s.mu.Unlock()

	if d.Approve {
		_, err := s.credits.Grant(ctx, ledger.Posting{
			AccountID:   decided.AccountID,
			Amount:      decided.CO2Saved,
			Reason:      ledger.ReasonActionApproved,
			ReferenceID: decided.ID,
		})
		if err != nil {
			s.mu.Lock()
			*rec = prev
			s.mu.Unlock()
			return Action{}, fmt.Errorf("grant credits for %s: %w", decided.ID, err)
		}
	}
	return decided, nil
}

func (s *InMemory) Pending(ctx context.Context) iter.Seq2[Action, error] {
	return func(yield func(Action, error) bool) {
		s.mu.RLock()
		var pending []Action
		for _, rec := range s.actions {
			if rec.Status == StatusPending {
				pending = append(pending, *rec)
			}
		}
		s.mu.RUnlock()
		sortNewestFirst(pending)

		for _, a := range pending {
			if err := ctx.Err(); err != nil {
				yield(Action{}, err)
				return
			}
			if !yield(a, nil) {
				return
			}
		}
	}
}

func (s *InMemory) ListByAccount(ctx context.Context, accountID string, limit int) ([]Action, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	var out []Action
	for _, rec := range s.actions {
		if rec.AccountID == accountID {
			out = append(out, *rec)
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(as []Action) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.After(as[j].CreatedAt)
		}
		return as[i].ID > as[j].ID
	})
}
