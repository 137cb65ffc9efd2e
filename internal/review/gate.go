// Package review is the human authority over pending actions.
package review

import (
	"context"
	"iter"
	"time"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/stream"
)

// Gate lets designated administrators list and decide pending actions.
type Gate struct {
	actions action.Store
	admins  auth.AdminPolicy
	events  stream.Publisher
}

// NewGate builds a gate. events may be nil.
func NewGate(actions action.Store, admins auth.AdminPolicy, events stream.Publisher) *Gate {
	return &Gate{actions: actions, admins: admins, events: events}
}

// Authorize returns the caller if it is an administrator.
func (g *Gate) Authorize(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	if !g.admins.IsAdmin(p) {
		return auth.Principal{}, auth.ErrForbidden
	}
	return p, nil
}

// ListPending yields pending actions newest first. Ranging again re-reads the store.
func (g *Gate) ListPending(ctx context.Context) iter.Seq2[action.Action, error] {
	return func(yield func(action.Action, error) bool) {
		if _, err := g.Authorize(ctx); err != nil {
			yield(action.Action{}, err)
			return
		}
		for a, err := range g.actions.Pending(ctx) {
			if !yield(a, err) || err != nil {
				return
			}
		}
	}
}

// Review approves or rejects a pending action on behalf of the calling administrator.
func (g *Gate) Review(ctx context.Context, actionID string, approve bool) (action.Action, error) {
	p, err := g.Authorize(ctx)
	if err != nil {
		return action.Action{}, err
	}
	decided, err := g.actions.Decide(ctx, actionID, action.Decision{
		Approve:    approve,
		ReviewerID: p.Identity(),
		At:         time.Now().UTC(),
	})
	if err != nil {
		return action.Action{}, err
	}

	obs.ObserveReview(string(decided.Status))
	RecordDecision(ctx, g.events, decided)
	return decided, nil
}

// RecordDecision emits what follows a decided action whoever decided it: the
// audit line, action.decided and, on approval, credit.granted plus the posting
// metric. events may be nil.
func RecordDecision(ctx context.Context, events stream.Publisher, decided action.Action) {
	_ = audit.LogEvent(ctx, "action.decided", map[string]any{
		"action_id":  decided.ID,
		"account_id": decided.AccountID,
		"status":     decided.Status,
		"reviewer":   decided.ReviewedBy,
	})
	stream.Publish(events, stream.Event{
		Type:      stream.EventActionDecided,
		AccountID: decided.AccountID,
		ActionID:  decided.ID,
		Status:    string(decided.Status),
	})
	if decided.Status != action.StatusApproved {
		return
	}
	obs.ObservePosting("action_approved")
	amount := decided.CO2Saved
	stream.Publish(events, stream.Event{
		Type:      stream.EventCreditGranted,
		AccountID: decided.AccountID,
		ActionID:  decided.ID,
		Amount:    &amount,
	})
}
