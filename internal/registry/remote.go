package registry

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Remote talks to a registry service exposing POST /bills and GET /bills/export.
type Remote struct {
	base   string
	token  string
	client *http.Client
}

// NewRemote returns a client for the registry at baseURL. token, when set, is sent as a bearer token.
func NewRemote(baseURL, token string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		base:   strings.TrimRight(baseURL, "/"),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: timeout},
	}
}

func (r *Remote) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	return req, nil
}

func (r *Remote) Claim(ctx context.Context, fingerprint string) (Claim, error) {
	fp, err := Normalize(fingerprint)
	if err != nil {
		return Claim{}, err
	}
	payload, _ := json.Marshal(map[string]string{"fingerprint": fp})
	req, err := r.newRequest(ctx, http.MethodPost, "/bills", bytes.NewReader(payload))
	if err != nil {
		return Claim{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Claim{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var body struct {
			ClaimedAt time.Time `json:"claimedAt"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.ClaimedAt.IsZero() {
			body.ClaimedAt = time.Now().UTC()
		}
		return Claim{Fingerprint: fp, ClaimedAt: body.ClaimedAt}, nil
	case http.StatusConflict:
		return Claim{}, ErrAlreadyClaimed
	case http.StatusBadRequest:
		return Claim{}, ErrInvalidFingerprint
	default:
		return Claim{}, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}
}

func (r *Remote) Export(ctx context.Context, fn func(Claim) error) error {
	req, err := r.newRequest(ctx, http.MethodGet, "/bills/export", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	cr := csv.NewReader(resp.Body)
	cr.FieldsPerRecord = 2
	header := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode export: %w", err)
		}
		if header {
			header = false
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, rec[1])
		if err != nil {
			return fmt.Errorf("decode export timestamp %q: %w", rec[1], err)
		}
		if err := fn(Claim{Fingerprint: rec[0], ClaimedAt: at}); err != nil {
			return err
		}
	}
}
