package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type memClaim struct {
	Claim
	seq uint64
}

// InMemory keeps claims in process memory.
type InMemory struct {
	claims sync.Map // fingerprint -> memClaim
	seq    atomic.Uint64
	now    func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{now: func() time.Time { return time.Now().UTC() }}
}

func (r *InMemory) Claim(ctx context.Context, fingerprint string) (Claim, error) {
	fp, err := Normalize(fingerprint)
	if err != nil {
		return Claim{}, err
	}
	c := memClaim{Claim: Claim{Fingerprint: fp, ClaimedAt: r.now()}, seq: r.seq.Add(1)}
	if _, loaded := r.claims.LoadOrStore(fp, c); loaded {
		return Claim{}, ErrAlreadyClaimed
	}
	return c.Claim, nil
}

func (r *InMemory) Export(ctx context.Context, fn func(Claim) error) error {
	var all []memClaim
	r.claims.Range(func(_, v any) bool {
		all = append(all, v.(memClaim))
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	for _, c := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(c.Claim); err != nil {
			return err
		}
	}
	return nil
}
