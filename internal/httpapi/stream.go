package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ecocredit.org/internal/auth"
)

const keepAliveInterval = 15 * time.Second

// Stream serves Server-Sent Events. Administrators see every account,
// other callers only their own.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.deps.Stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	filter := principal.UserID
	if principal.HasRole(auth.RoleAdmin) {
		filter = r.URL.Query().Get("account")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.deps.Stream.Subscribe(r.Context(), filter)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}
