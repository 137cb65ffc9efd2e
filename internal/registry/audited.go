package registry

import (
	"context"
	"errors"
	"time"

	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/obs"
)

// Audited decorates a Registry so each claim attempt is counted and each
// successful claim leaves an audit record.
type Audited struct {
	Registry
}

func WithAudit(r Registry) Audited { return Audited{Registry: r} }

func (a Audited) Claim(ctx context.Context, fingerprint string) (Claim, error) {
	c, err := a.Registry.Claim(ctx, fingerprint)
	Observe(ctx, c, err)
	return c, err
}

// Observe counts one claim attempt and audits it when it succeeded. Stores
// that claim inside their own transaction call it after commit.
func Observe(ctx context.Context, c Claim, err error) {
	switch {
	case err == nil:
		obs.ObserveClaim("claimed")
		_ = audit.LogEvent(ctx, "registry.fingerprint.claimed", map[string]any{
			"fingerprint": c.Fingerprint,
			"claimed_at":  c.ClaimedAt.Format(time.RFC3339Nano),
		})
	case errors.Is(err, ErrAlreadyClaimed):
		obs.ObserveClaim("duplicate")
	case errors.Is(err, ErrInvalidFingerprint):
		obs.ObserveClaim("invalid")
	default:
		obs.ObserveClaim("error")
	}
}
