package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

// FileStore writes evidence under a local directory, served by Handler at baseURL.
type FileStore struct {
	dir     string
	baseURL string
}

func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &FileStore{dir: dir, baseURL: baseURL}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	obj, err := Describe(data)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, obj.Key)
	if _, err := os.Stat(path); err == nil {
		return joinURL(s.baseURL, obj.Key), nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat evidence: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write evidence: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close evidence: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish evidence: %w", err)
	}
	return joinURL(s.baseURL, obj.Key), nil
}

// Handler serves stored files. Mount it with the base URL's path prefix stripped.
func (s *FileStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}
