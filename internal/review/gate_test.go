package review

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/registry"
	"ecocredit.org/internal/stream"
)

func setup(t *testing.T) (*Gate, *action.InMemory, *ledger.InMemory, *stream.Stream) {
	t.Helper()
	l := ledger.NewInMemory()
	store := action.NewInMemory(registry.NewInMemory(), l)
	events := stream.New()
	return NewGate(store, auth.NewAdminPolicy([]string{"admin@carbon.com"}), events), store, l, events
}

func adminCtx() context.Context {
	return auth.ContextWithPrincipal(context.Background(), auth.Principal{UserID: "a1", Email: "admin@carbon.com"})
}

func userCtx() context.Context {
	return auth.ContextWithPrincipal(context.Background(), auth.Principal{UserID: "u1", Email: "user@carbon.com", Roles: []string{"user"}})
}

func TestApprovalCreditsOnce(t *testing.T) {
	g, store, l, events := setup(t)
	a, _ := action.New("u1", action.CategoryTransport, "bus", action.Payload{})
	a, _ = store.Create(context.Background(), a)

	ctx, cancel := context.WithCancel(adminCtx())
	defer cancel()
	feed := events.Subscribe(ctx, "u1")

	decided, err := g.Review(adminCtx(), a.ID, true)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if decided.Status != action.StatusApproved || decided.ReviewedBy != "admin@carbon.com" {
		t.Fatalf("unexpected decision: %+v", decided)
	}

	acc, _ := l.GetAccount(context.Background(), "u1")
	if !acc.CreditBalance.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("expected balance 2.5, got %s", acc.CreditBalance)
	}
	entries, _, _ := l.Entries(context.Background(), "u1", 10, 0)
	if len(entries) != 1 || entries[0].Reason != ledger.ReasonActionApproved || entries[0].ReferenceID != a.ID {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}

	if _, err := g.Review(adminCtx(), a.ID, true); !errors.Is(err, action.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if evt := <-feed; evt.Type != stream.EventActionDecided {
		t.Fatalf("unexpected first event %+v", evt)
	}
	if evt := <-feed; evt.Type != stream.EventCreditGranted || !evt.Amount.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected second event %+v", evt)
	}
}

func TestNonAdminForbidden(t *testing.T) {
	g, store, l, _ := setup(t)
	a, _ := action.New("u1", action.CategoryEnergy, "", action.Payload{})
	a, _ = store.Create(context.Background(), a)

	if _, err := g.Review(userCtx(), a.ID, true); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := g.Review(context.Background(), a.ID, true); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	for _, err := range g.ListPending(userCtx()) {
		if !errors.Is(err, auth.ErrForbidden) {
			t.Fatalf("expected ErrForbidden from listing, got %v", err)
		}
	}
	got, _ := store.Get(context.Background(), a.ID)
	if got.Status != action.StatusPending {
		t.Fatalf("forbidden review must not change the action")
	}
	if _, err := l.GetAccount(context.Background(), "u1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("forbidden review must not credit")
	}
}

func TestAdminRoleIsEnough(t *testing.T) {
	g, store, _, _ := setup(t)
	a, _ := action.New("u1", action.CategoryRecycling, "", action.Payload{})
	a, _ = store.Create(context.Background(), a)

	ctx := auth.ContextWithUser(context.Background(), "ops-1", []string{"admin"})
	decided, err := g.Review(ctx, a.ID, false)
	if err != nil || decided.Status != action.StatusRejected || decided.ReviewedBy != "ops-1" {
		t.Fatalf("unexpected: %+v %v", decided, err)
	}
}

func TestListPendingIsLazyAndFresh(t *testing.T) {
	g, store, _, _ := setup(t)
	for i := 0; i < 3; i++ {
		a, _ := action.New("u1", action.CategoryGeoTracking, "", action.Payload{})
		_, _ = store.Create(context.Background(), a)
	}

	count := func() int {
		n := 0
		for _, err := range g.ListPending(adminCtx()) {
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			n++
		}
		return n
	}
	if n := count(); n != 3 {
		t.Fatalf("expected 3 pending, got %d", n)
	}

	var first action.Action
	for a := range g.ListPending(adminCtx()) {
		first = a
		break
	}
	if _, err := g.Review(adminCtx(), first.ID, true); err != nil {
		t.Fatal(err)
	}
	if n := count(); n != 2 {
		t.Fatalf("expected 2 pending after review, got %d", n)
	}
}
