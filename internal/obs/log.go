package obs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	logMu    sync.RWMutex
	logLevel = new(slog.LevelVar)
	logger   = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.String("ts", a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			if len(groups) == 0 && a.Key == slog.LevelKey {
				return slog.String("level", strings.ToLower(a.Value.String()))
			}
			return a
		},
	})
	return slog.New(h)
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// SetOutput redirects the shared logger and returns a function restoring the previous one.
func SetOutput(w io.Writer) (restore func()) {
	logMu.Lock()
	prev := logger
	logger = newLogger(w)
	logMu.Unlock()
	return func() {
		logMu.Lock()
		logger = prev
		logMu.Unlock()
	}
}

// SetLevel accepts debug, info, warn or error. Unknown values fall back to info.
func SetLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		l = slog.LevelInfo
	}
	logLevel.Set(l)
}

// LogRequest emits the access log line for a completed HTTP request.
func LogRequest(ctx context.Context, requestID, method, path string, status int, dur time.Duration, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("request_id", requestID),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("duration_ms", float64(dur.Microseconds())/1000),
	}
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	Logger().LogAttrs(ctx, level, "request_complete", append(base, attrs...)...)
}
