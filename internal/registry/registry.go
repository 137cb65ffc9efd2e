// Package registry tracks evidence fingerprints (bill numbers and similar keys)
// so the same piece of evidence can back at most one action.
package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrAlreadyClaimed     = errors.New("fingerprint already claimed")
	ErrInvalidFingerprint = errors.New("valid fingerprint required")
	ErrUnavailable        = errors.New("registry unavailable")
)

// Claim is the first and only record of a fingerprint.
type Claim struct {
	Fingerprint string    `json:"fingerprint"`
	ClaimedAt   time.Time `json:"claimedAt"`
}

// Registry is an append-only set of claimed fingerprints.
// Claim must be an atomic check-and-insert: of N concurrent claims of the
// same fingerprint exactly one succeeds.
type Registry interface {
	Claim(ctx context.Context, fingerprint string) (Claim, error)
	// Export visits every claim oldest first. Returning an error from fn stops the walk.
	Export(ctx context.Context, fn func(Claim) error) error
}

// Normalize trims surrounding whitespace. Comparison stays case-sensitive.
func Normalize(fingerprint string) (string, error) {
	fp := strings.TrimSpace(fingerprint)
	if fp == "" {
		return "", ErrInvalidFingerprint
	}
	return fp, nil
}

// WriteCSV streams the registry as a two-column table.
func WriteCSV(ctx context.Context, w io.Writer, reg Registry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Fingerprint", "Timestamp"}); err != nil {
		return err
	}
	err := reg.Export(ctx, func(c Claim) error {
		return cw.Write([]string{c.Fingerprint, c.ClaimedAt.UTC().Format(time.RFC3339Nano)})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
