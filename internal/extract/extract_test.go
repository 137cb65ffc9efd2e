package extract

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestOCRClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "Bill No: " + string(body)})
	}))
	defer srv.Close()

	text, err := NewOCRClient(srv.URL+"/", time.Second).ExtractText(context.Background(), []byte("12345"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "Bill No: 12345" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestOCRClientSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model warming up"}`))
	}))
	defer srv.Close()

	_, err := NewOCRClient(srv.URL, time.Second).ExtractText(context.Background(), []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "model warming up") {
		t.Fatalf("expected service message, got %v", err)
	}
}

func TestClientHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewClassifierClient(srv.URL, 5*time.Second).Classify(ctx, []byte("x")); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestClassifierClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classify" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"predictions":[{"label":"water bottle","confidence":0.82},{"label":"vase","confidence":0.1}]}`))
	}))
	defer srv.Close()

	preds, err := NewClassifierClient(srv.URL, time.Second).Classify(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(preds) != 2 || preds[0].Label != "water bottle" || preds[0].Confidence != 0.82 {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
}

func TestTesseractCommand(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	text, err := Tesseract{Command: []string{"cat"}}.ExtractText(context.Background(), []byte("Bill No: 42"))
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "Bill No: 42" {
		t.Fatalf("unexpected text %q", text)
	}

	if _, err := exec.LookPath("false"); err == nil {
		if _, err := (Tesseract{Command: []string{"false"}}).ExtractText(context.Background(), nil); err == nil {
			t.Fatalf("expected failure from non-zero exit")
		}
	}
}

func TestNewTesseractDefaults(t *testing.T) {
	tt := NewTesseract("")
	if strings.Join(tt.Command, " ") != "tesseract stdin stdout -l eng" {
		t.Fatalf("unexpected default command %v", tt.Command)
	}
	if NewTesseract("/opt/bin/tesseract").Command[0] != "/opt/bin/tesseract" {
		t.Fatalf("custom path not applied")
	}
}
