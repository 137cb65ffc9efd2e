package evidence

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSStore keeps evidence in a Google Cloud Storage bucket.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	prefix    string
	publicURL string
}

// GCSConfig holds configuration for GCSStore.
type GCSConfig struct {
	Bucket    string
	Prefix    string
	PublicURL string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, publicURL: publicURL}, nil
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	obj, err := Describe(data)
	if err != nil {
		return "", err
	}
	key := s.prefix + obj.Key
	handle := s.client.Bucket(s.bucket).Object(key)

	if _, err := handle.Attrs(ctx); err == nil {
		return joinURL(s.publicURL, key), nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("gcs attrs: %w", err)
	}

	w := handle.NewWriter(ctx)
	w.ContentType = obj.ContentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close: %w", err)
	}
	return joinURL(s.publicURL, key), nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
