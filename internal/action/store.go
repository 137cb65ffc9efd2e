package action

import (
	"context"
	"iter"
)

// Store persists actions.
type Store interface {
	// Create persists a pending action. When a.Fingerprint is set it is claimed
	// in the same unit, and a claim conflict leaves nothing behind.
	Create(ctx context.Context, a Action) (Action, error)
	Get(ctx context.Context, id string) (Action, error)
	// Decide moves a pending action to approved or rejected. Approval grants
	// CO2Saved credits to the owner in the same unit. Any non-pending action
	// yields ErrInvalidTransition.
	Decide(ctx context.Context, id string, d Decision) (Action, error)
	// Pending yields pending actions newest first. Each range re-reads the store.
	Pending(ctx context.Context) iter.Seq2[Action, error]
	ListByAccount(ctx context.Context, accountID string, limit int) ([]Action, error)
}
