// Package evidence stores uploaded evidence files and returns a URL for each.
// Objects are content addressed, so storing the same bytes twice is a no-op.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

var ErrEmpty = errors.New("evidence is empty")

// Store persists evidence and returns a retrievable reference (URL).
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Object describes where data lands: key is "<sha256>.<ext>".
type Object struct {
	Key         string
	ContentType string
}

// Describe computes the content-addressed key and sniffed content type.
func Describe(data []byte) (Object, error) {
	if len(data) == 0 {
		return Object{}, ErrEmpty
	}
	sum := sha256.Sum256(data)
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ext, ok := extensions[ct]
	if !ok {
		ext = ".bin"
	}
	return Object{Key: hex.EncodeToString(sum[:]) + ext, ContentType: ct}, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
