package verify

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// Transport verifies transit receipts through OCR. It only fails when OCR
// itself fails: a receipt without amount or bill number still passes, it just
// cannot be deduplicated.
type Transport struct {
	OCR TextExtractor
}

func (t Transport) Verify(ctx context.Context, ev Evidence) (Result, error) {
	if len(ev.Data) == 0 {
		return Result{Reason: "receipt image required"}, nil
	}
	if t.OCR == nil {
		return Result{}, errors.New("no text extractor configured")
	}
	text, err := t.OCR.ExtractText(ctx, ev.Data)
	if err != nil {
		return Result{}, err
	}
	rc := ParseReceipt(text)
	return Result{
		OK: true,
		Signals: Signals{
			Text:          text,
			Amount:        rc.Amount,
			Date:          rc.Date,
			TransportType: rc.TransportType,
			Fingerprint:   rc.BillNumber,
		},
	}, nil
}

// recyclableTerms match case-insensitively as substrings of a predicted label.
var recyclableTerms = []string{
	"bottle", "can", "paper", "cardboard", "plastic",
	"glass", "newspaper", "magazine", "container",
}

// Recycling verifies photos of recyclable items through image classification.
type Recycling struct {
	Classifier ImageClassifier
}

func (r Recycling) Verify(ctx context.Context, ev Evidence) (Result, error) {
	if len(ev.Data) == 0 {
		return Result{Reason: "photo required"}, nil
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(ev.Data)); err != nil {
		return Result{Reason: "evidence is not a decodable image"}, nil
	}
	if r.Classifier == nil {
		return Result{}, errors.New("no image classifier configured")
	}
	preds, err := r.Classifier.Classify(ctx, ev.Data)
	if err != nil {
		return Result{}, err
	}
	sig := Signals{Predictions: preds}
	if label, ok := MatchRecyclable(preds); ok {
		sig.MatchedLabel = label
		return Result{OK: true, Signals: sig}, nil
	}
	return Result{Reason: "no recyclable item recognised", Signals: sig}, nil
}

// MatchRecyclable returns the first label containing a recyclable term.
func MatchRecyclable(preds []Prediction) (string, bool) {
	for _, p := range preds {
		label := strings.ToLower(p.Label)
		for _, term := range recyclableTerms {
			if strings.Contains(label, term) {
				return p.Label, true
			}
		}
	}
	return "", false
}

// Energy trusts a submitter-reported saving as long as it is strictly positive.
type Energy struct{}

func (Energy) Verify(ctx context.Context, ev Evidence) (Result, error) {
	if ev.EnergySaved == nil {
		return Result{Reason: "energy saving value required"}, nil
	}
	v := *ev.EnergySaved
	// written so NaN is rejected too
	if !(v > 0) {
		return Result{Reason: "energy saving must be greater than zero", Signals: Signals{EnergySaved: v}}, nil
	}
	return Result{OK: true, AutoApprove: true, Signals: Signals{EnergySaved: v}}, nil
}

// GeoTracking accepts any submission carrying a coordinate pair.
type GeoTracking struct{}

func (GeoTracking) Verify(ctx context.Context, ev Evidence) (Result, error) {
	if !ev.Location.Complete() {
		return Result{Reason: "latitude and longitude required"}, nil
	}
	return Result{
		OK:          true,
		AutoApprove: true,
		Signals:     Signals{Latitude: *ev.Location.Latitude, Longitude: *ev.Location.Longitude},
	}, nil
}
