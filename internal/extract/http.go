// Package extract holds the clients for text extraction and image
// classification services used by the verification strategies.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ecocredit.org/internal/verify"
)

const maxResponseBytes = 4 << 20

type client struct {
	base string
	http *http.Client
}

func newClient(baseURL string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

// post sends the image and decodes a JSON reply into out.
func (c client) post(ctx context.Context, path string, image []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(image))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", path, e.Error)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

// OCRClient calls POST <base>/ocr and expects {"text": "..."}.
type OCRClient struct {
	c client
}

func NewOCRClient(baseURL string, timeout time.Duration) *OCRClient {
	return &OCRClient{c: newClient(baseURL, timeout)}
}

func (o *OCRClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := o.c.post(ctx, "/ocr", image, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// ClassifierClient calls POST <base>/classify and expects
// {"predictions": [{"label": "...", "confidence": 0.9}]}.
type ClassifierClient struct {
	c client
}

func NewClassifierClient(baseURL string, timeout time.Duration) *ClassifierClient {
	return &ClassifierClient{c: newClient(baseURL, timeout)}
}

func (cl *ClassifierClient) Classify(ctx context.Context, image []byte) ([]verify.Prediction, error) {
	var out struct {
		Predictions []verify.Prediction `json:"predictions"`
	}
	if err := cl.c.post(ctx, "/classify", image, &out); err != nil {
		return nil, err
	}
	return out.Predictions, nil
}

var (
	_ verify.TextExtractor   = (*OCRClient)(nil)
	_ verify.ImageClassifier = (*ClassifierClient)(nil)
)
