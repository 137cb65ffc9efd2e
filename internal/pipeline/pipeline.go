// Package pipeline turns a raw submission into a persisted action:
// validate, verify, store the evidence, claim its fingerprint and persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/evidence"
	"ecocredit.org/internal/obs"
	"ecocredit.org/internal/registry"
	"ecocredit.org/internal/review"
	"ecocredit.org/internal/stream"
	"ecocredit.org/internal/verify"
)

// SystemReviewer stamps actions approved without human review.
const SystemReviewer = "system:auto"

// ErrDuplicateEvidence means the evidence fingerprint already backs another action.
var ErrDuplicateEvidence = errors.New("duplicate evidence")

// Submission is one user claim of an eco-friendly action.
type Submission struct {
	AccountID   string           `json:"accountId" validate:"required,max=128"`
	Category    action.Category  `json:"category" validate:"required,oneof=transport recycling energy geo_tracking"`
	Description string           `json:"description" validate:"max=2000"`
	Evidence    []byte           `json:"-"`
	EvidenceRef string           `json:"evidenceRef" validate:"omitempty,url"`
	EnergySaved *float64         `json:"energySaved"`
	Location    *action.GeoPoint `json:"geoLocation"`
}

// Verifier is satisfied by *verify.Dispatcher.
type Verifier interface {
	Verify(ctx context.Context, c action.Category, ev verify.Evidence) (verify.Result, error)
}

// Outcome is the persisted action together with what verification found.
type Outcome struct {
	Action       action.Action `json:"action"`
	Verification verify.Result `json:"verification"`
}

// Config tunes a Pipeline.
type Config struct {
	// AdapterTimeout bounds verification including OCR and classification calls.
	AdapterTimeout time.Duration
	// AutoApprove lists categories whose strategy hint may skip human review.
	AutoApprove []action.Category
}

type Pipeline struct {
	verifier    Verifier
	actions     action.Store
	evidence    evidence.Store
	events      stream.Publisher
	timeout     time.Duration
	autoApprove map[action.Category]bool
}

// New builds a pipeline. store and events may be nil.
func New(v Verifier, actions action.Store, store evidence.Store, events stream.Publisher, cfg Config) *Pipeline {
	p := &Pipeline{
		verifier:    v,
		actions:     actions,
		evidence:    store,
		events:      events,
		timeout:     cfg.AdapterTimeout,
		autoApprove: make(map[action.Category]bool),
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}
	for _, c := range cfg.AutoApprove {
		p.autoApprove[c] = true
	}
	return p
}

// Submit runs a submission through the pipeline. Errors are *ValidationError,
// ErrDuplicateEvidence or *verify.Failure; none of them leave an action behind.
func (p *Pipeline) Submit(ctx context.Context, s Submission) (Outcome, error) {
	if err := Validate(s); err != nil {
		obs.ObserveSubmission(string(s.Category), "invalid")
		return Outcome{}, err
	}
	if err := requirePayload(s); err != nil {
		obs.ObserveSubmission(string(s.Category), "invalid")
		return Outcome{}, err
	}

	vctx, cancel := context.WithTimeout(ctx, p.timeout)
	res, err := p.verifier.Verify(vctx, s.Category, verify.Evidence{
		Data:        s.Evidence,
		EnergySaved: s.EnergySaved,
		Location:    s.Location,
	})
	cancel()
	if err != nil {
		obs.ObserveSubmission(string(s.Category), "rejected")
		_ = audit.LogEvent(ctx, "action.verification_failed", map[string]any{
			"account_id": s.AccountID,
			"category":   s.Category,
			"reason":     err.Error(),
		})
		return Outcome{Verification: res}, err
	}

	a, err := action.New(s.AccountID, s.Category, s.Description, action.Payload{
		EnergySaved: s.EnergySaved,
		Location:    s.Location,
	})
	if err != nil {
		return Outcome{}, err
	}
	a.Fingerprint = res.Signals.Fingerprint
	a.EvidenceRef = s.EvidenceRef

	if len(s.Evidence) > 0 && p.evidence != nil {
		ref, err := p.evidence.Put(ctx, s.Evidence)
		if err != nil {
			obs.ObserveSubmission(string(s.Category), "error")
			return Outcome{}, fmt.Errorf("store evidence: %w", err)
		}
		a.EvidenceRef = ref
	}

	created, err := p.actions.Create(ctx, a)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyClaimed) {
			obs.ObserveSubmission(string(s.Category), "duplicate")
			return Outcome{Verification: res}, fmt.Errorf("%w: %w", ErrDuplicateEvidence, err)
		}
		obs.ObserveSubmission(string(s.Category), "error")
		return Outcome{}, fmt.Errorf("persist action: %w", err)
	}

	obs.ObserveSubmission(string(s.Category), "accepted")
	_ = audit.LogEvent(ctx, "action.submitted", map[string]any{
		"action_id":   created.ID,
		"account_id":  created.AccountID,
		"category":    created.Category,
		"fingerprint": created.Fingerprint,
		"co2_saved":   created.CO2Saved.String(),
	})
	stream.Publish(p.events, stream.Event{
		Type:      stream.EventActionSubmitted,
		AccountID: created.AccountID,
		ActionID:  created.ID,
		Category:  string(created.Category),
		Status:    string(created.Status),
	})

	if res.AutoApprove && p.autoApprove[created.Category] {
		decided, err := p.actions.Decide(ctx, created.ID, action.Decision{Approve: true, ReviewerID: SystemReviewer})
		if err != nil {
			// the action stays pending for a human reviewer
			obs.Logger().WarnContext(ctx, "auto approval failed",
				slog.String("action_id", created.ID), slog.String("error", err.Error()))
		} else {
			created = decided
			obs.ObserveReview("auto_approved")
			review.RecordDecision(ctx, p.events, created)
		}
	}

	return Outcome{Action: created, Verification: res}, nil
}

// requirePayload checks the per-category evidence beyond struct tags.
func requirePayload(s Submission) error {
	switch s.Category {
	case action.CategoryTransport, action.CategoryRecycling:
		if len(s.Evidence) == 0 {
			return &ValidationError{Field: "evidence", Message: "is required for " + string(s.Category)}
		}
	case action.CategoryEnergy:
		if s.EnergySaved == nil {
			return &ValidationError{Field: "energySaved", Message: "is required for energy"}
		}
	case action.CategoryGeoTracking:
		if s.Location == nil {
			return &ValidationError{Field: "geoLocation", Message: "is required for geo_tracking"}
		}
	}
	return nil
}
