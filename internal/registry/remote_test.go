package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeBills serves the /bills contract backed by an InMemory registry.
func fakeBills(t *testing.T, token string) *httptest.Server {
	t.Helper()
	reg := NewInMemory()
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/bills", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Fingerprint string `json:"fingerprint"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		defer mu.Unlock()
		c, err := reg.Claim(r.Context(), body.Fingerprint)
		switch {
		case errors.Is(err, ErrInvalidFingerprint):
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, ErrAlreadyClaimed):
			w.WriteHeader(http.StatusConflict)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "claimedAt": c.ClaimedAt})
		}
	})
	mux.HandleFunc("/bills/export", func(w http.ResponseWriter, r *http.Request) {
		_ = WriteCSV(r.Context(), w, reg)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteClaimAndExport(t *testing.T) {
	srv := fakeBills(t, "tok")
	r := NewRemote(srv.URL+"/", "tok", time.Second)
	ctx := context.Background()

	c, err := r.Claim(ctx, "12345")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if c.Fingerprint != "12345" || c.ClaimedAt.IsZero() {
		t.Fatalf("unexpected claim: %+v", c)
	}
	if _, err := r.Claim(ctx, "12345"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if _, err := r.Claim(ctx, "67890"); err != nil {
		t.Fatalf("claim 2: %v", err)
	}

	var got []string
	if err := r.Export(ctx, func(c Claim) error {
		got = append(got, c.Fingerprint)
		return nil
	}); err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(got) != 2 || got[0] != "12345" || got[1] != "67890" {
		t.Fatalf("unexpected export: %v", got)
	}
}

func TestRemoteUnavailable(t *testing.T) {
	srv := fakeBills(t, "tok")
	r := NewRemote(srv.URL, "wrong", time.Second)
	if _, err := r.Claim(context.Background(), "1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for 401, got %v", err)
	}

	srv.Close()
	if _, err := NewRemote(srv.URL, "tok", time.Second).Claim(context.Background(), "1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable when server is gone, got %v", err)
	}
}
