package action

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ecocredit.org/internal/ledger"
	"ecocredit.org/internal/registry"
)

func newStore() (*InMemory, *ledger.InMemory) {
	l := ledger.NewInMemory()
	return NewInMemory(registry.NewInMemory(), l), l
}

func mustNew(t *testing.T, account string, c Category) Action {
	t.Helper()
	a, err := New(account, c, "test", Payload{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestCO2Table(t *testing.T) {
	want := map[Category]string{
		CategoryTransport:   "2.5",
		CategoryRecycling:   "1.8",
		CategoryEnergy:      "3",
		CategoryGeoTracking: "4",
	}
	for c, v := range want {
		got, err := c.CO2Saved()
		if err != nil || !got.Equal(decimal.RequireFromString(v)) {
			t.Fatalf("%s: got %s err=%v, want %s", c, got, err, v)
		}
	}
	if _, err := Category("flying").CO2Saved(); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
	if _, err := New("u1", "flying", "", Payload{}); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory from New, got %v", err)
	}
}

func TestCreateClaimsFingerprint(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	a := mustNew(t, "u1", CategoryTransport)
	a.Fingerprint = "12345"
	created, err := s.Create(ctx, a)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != StatusPending || created.DecidedAt != nil {
		t.Fatalf("new action must be pending: %+v", created)
	}

	dup := mustNew(t, "u2", CategoryTransport)
	dup.Fingerprint = "12345"
	if _, err := s.Create(ctx, dup); !errors.Is(err, registry.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := s.Get(ctx, dup.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("duplicate must not be persisted, got %v", err)
	}
}

func TestDecideApproveGrantsOnce(t *testing.T) {
	s, l := newStore()
	ctx := context.Background()
	a, _ := s.Create(ctx, mustNew(t, "u1", CategoryTransport))

	decided, err := s.Decide(ctx, a.ID, Decision{Approve: true, ReviewerID: "admin@carbon.com"})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != StatusApproved || decided.DecidedAt == nil || decided.ReviewedBy != "admin@carbon.com" {
		t.Fatalf("unexpected decided action: %+v", decided)
	}
	if _, err := s.Decide(ctx, a.ID, Decision{Approve: true}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.Decide(ctx, a.ID, Decision{Approve: false}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approved action must not be rejected later, got %v", err)
	}

	acc, err := l.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !acc.CreditBalance.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected balance %s", acc.CreditBalance)
	}
	entries, _, _ := l.Entries(ctx, "u1", 10, 0)
	if len(entries) != 1 || entries[0].Reason != ledger.ReasonActionApproved || entries[0].ReferenceID != a.ID {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestDecideRejectDoesNotGrant(t *testing.T) {
	s, l := newStore()
	ctx := context.Background()
	a, _ := s.Create(ctx, mustNew(t, "u1", CategoryRecycling))

	decided, err := s.Decide(ctx, a.ID, Decision{Approve: false})
	if err != nil || decided.Status != StatusRejected {
		t.Fatalf("reject: %+v %v", decided, err)
	}
	if !decided.CO2Saved.Equal(decimal.RequireFromString("1.8")) {
		t.Fatalf("co2 must not change on decision: %s", decided.CO2Saved)
	}
	if _, err := l.GetAccount(ctx, "u1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("reject must not touch the ledger, got %v", err)
	}
	if _, err := s.Decide(ctx, "missing", Decision{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentDecideSingleGrant(t *testing.T) {
	s, l := newStore()
	ctx := context.Background()
	a, _ := s.Create(ctx, mustNew(t, "u1", CategoryGeoTracking))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Decide(ctx, a.ID, Decision{Approve: true})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected one successful decision, got %d", wins)
	}
	entries, _, _ := l.Entries(ctx, "u1", 10, 0)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one grant, got %d", len(entries))
	}
}

type failingGranter struct{ calls int }

func (f *failingGranter) Grant(context.Context, ledger.Posting) (ledger.Entry, error) {
	f.calls++
	return ledger.Entry{}, errors.New("ledger down")
}

func TestDecideGrantFailureKeepsPending(t *testing.T) {
	g := &failingGranter{}
	s := NewInMemory(nil, g)
	ctx := context.Background()
	a, _ := s.Create(ctx, mustNew(t, "u1", CategoryEnergy))

	if _, err := s.Decide(ctx, a.ID, Decision{Approve: true}); err == nil {
		t.Fatalf("expected grant failure")
	}
	got, _ := s.Get(ctx, a.ID)
	if got.Status != StatusPending || got.DecidedAt != nil {
		t.Fatalf("failed approval must leave the action pending: %+v", got)
	}
	// the action is decidable again
	if _, err := s.Decide(ctx, a.ID, Decision{Approve: false}); err != nil {
		t.Fatalf("reject after failed approval: %v", err)
	}
}

type gatedGranter struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedGranter) Grant(context.Context, ledger.Posting) (ledger.Entry, error) {
	close(g.entered)
	<-g.release
	return ledger.Entry{ID: "ent_1"}, nil
}

func TestDecideLeavesPendingBeforeGrant(t *testing.T) {
	g := &gatedGranter{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewInMemory(nil, g)
	ctx := context.Background()
	a, _ := s.Create(ctx, mustNew(t, "u1", CategoryEnergy))

	done := make(chan error, 1)
	go func() {
		_, err := s.Decide(ctx, a.ID, Decision{Approve: true, ReviewerID: "admin@carbon.com"})
		done <- err
	}()
	<-g.entered

	got, _ := s.Get(ctx, a.ID)
	if got.Status != StatusApproved {
		t.Fatalf("expected approved while the grant is in flight, got %s", got.Status)
	}
	for p, err := range s.Pending(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		t.Fatalf("action still listed as pending: %+v", p)
	}
	if _, err := s.Decide(ctx, a.ID, Decision{Approve: false}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("decide: %v", err)
	}
}

func TestPendingNewestFirstAndRestartable(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		a := mustNew(t, "u1", CategoryEnergy)
		a.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		created, err := s.Create(ctx, a)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, created.ID)
	}

	collect := func() []string {
		var out []string
		for a, err := range s.Pending(ctx) {
			if err != nil {
				t.Fatalf("pending: %v", err)
			}
			out = append(out, a.ID)
		}
		return out
	}

	first := collect()
	if len(first) != 3 || first[0] != ids[2] || first[2] != ids[0] {
		t.Fatalf("unexpected order: %v (created %v)", first, ids)
	}

	if _, err := s.Decide(ctx, ids[2], Decision{Approve: false}); err != nil {
		t.Fatal(err)
	}
	second := collect()
	if len(second) != 2 || second[0] != ids[1] {
		t.Fatalf("restarted sequence must reflect fresh state: %v", second)
	}

	// early break
	n := 0
	for range s.Pending(ctx) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("expected early termination")
	}
}

func TestListByAccount(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		a := mustNew(t, "u1", CategoryRecycling)
		a.CreatedAt = time.Date(2024, 1, 1, i, 0, 0, 0, time.UTC)
		_, _ = s.Create(ctx, a)
	}
	_, _ = s.Create(ctx, mustNew(t, "u2", CategoryRecycling))

	recent, err := s.ListByAccount(ctx, "u1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 5 || recent[0].CreatedAt.Hour() != 6 {
		t.Fatalf("expected 5 newest actions, got %d (first at %v)", len(recent), recent[0].CreatedAt)
	}
}
