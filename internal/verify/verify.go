// Package verify decides whether submitted evidence supports an action.
// Each category has its own Strategy; the Dispatcher routes by category.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecocredit.org/internal/action"
	"ecocredit.org/internal/obs"
)

var (
	ErrVerificationFailed = errors.New("verification failed")
	ErrAdapterUnavailable = errors.New("extraction adapter unavailable")
	ErrUnknownCategory    = action.ErrUnknownCategory
)

// Evidence is everything a strategy may inspect.
type Evidence struct {
	Data        []byte
	EnergySaved *float64
	Location    *action.GeoPoint
}

// Prediction is one image classification label.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Signals are the facts extracted while verifying.
type Signals struct {
	Text          string       `json:"text,omitempty"`
	Amount        string       `json:"amount,omitempty"`
	Date          string       `json:"date,omitempty"`
	TransportType string       `json:"transportType,omitempty"`
	Fingerprint   string       `json:"fingerprint,omitempty"`
	Predictions   []Prediction `json:"predictions,omitempty"`
	MatchedLabel  string       `json:"matchedLabel,omitempty"`
	EnergySaved   float64      `json:"energySaved,omitempty"`
	Latitude      float64      `json:"latitude,omitempty"`
	Longitude     float64      `json:"longitude,omitempty"`
}

// Result is a strategy verdict. AutoApprove is a hint that the evidence is
// strong enough to skip human review when the deployment allows it.
type Result struct {
	OK          bool    `json:"ok"`
	Reason      string  `json:"reason,omitempty"`
	AutoApprove bool    `json:"autoApprove"`
	Signals     Signals `json:"signals"`
}

// Strategy verifies one category. A returned error means an adapter failed;
// a negative verdict is a Result with OK false.
type Strategy interface {
	Verify(ctx context.Context, ev Evidence) (Result, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, ev Evidence) (Result, error)

func (f StrategyFunc) Verify(ctx context.Context, ev Evidence) (Result, error) { return f(ctx, ev) }

// TextExtractor performs OCR.
type TextExtractor interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// ImageClassifier labels an image.
type ImageClassifier interface {
	Classify(ctx context.Context, image []byte) ([]Prediction, error)
}

// Failure is returned for every rejected submission. It matches
// ErrVerificationFailed, and ErrAdapterUnavailable when an adapter caused it.
type Failure struct {
	Category action.Category
	Reason   string
	cause    error
}

func (f *Failure) Error() string {
	return f.Reason
}

func (f *Failure) Unwrap() []error {
	if f.cause != nil {
		return []error{ErrVerificationFailed, f.cause}
	}
	return []error{ErrVerificationFailed}
}

// Dispatcher routes evidence to the strategy registered for its category.
type Dispatcher struct {
	strategies map[action.Category]Strategy
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{strategies: make(map[action.Category]Strategy)}
}

// NewDefaultDispatcher registers the four built-in strategies.
func NewDefaultDispatcher(ocr TextExtractor, classifier ImageClassifier) *Dispatcher {
	d := NewDispatcher()
	d.Register(action.CategoryTransport, Transport{OCR: ocr})
	d.Register(action.CategoryRecycling, Recycling{Classifier: classifier})
	d.Register(action.CategoryEnergy, Energy{})
	d.Register(action.CategoryGeoTracking, GeoTracking{})
	return d
}

func (d *Dispatcher) Register(c action.Category, s Strategy) {
	d.strategies[c] = s
}

// Verify runs the category's strategy. It returns the Result on success and a
// *Failure when the strategy rejects the evidence or an adapter fails.
func (d *Dispatcher) Verify(ctx context.Context, c action.Category, ev Evidence) (Result, error) {
	s, ok := d.strategies[c]
	if !ok {
		return Result{}, ErrUnknownCategory
	}
	start := time.Now()
	res, err := s.Verify(ctx, ev)
	obs.ObserveVerification(string(c), time.Since(start).Seconds())
	if err != nil {
		return res, &Failure{Category: c, Reason: err.Error(), cause: fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)}
	}
	if !res.OK {
		reason := res.Reason
		if reason == "" {
			reason = "verification failed"
		}
		return res, &Failure{Category: c, Reason: reason}
	}
	return res, nil
}
