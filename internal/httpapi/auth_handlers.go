package httpapi

import (
	"net/http"
	"strings"
	"time"

	"ecocredit.org/internal/audit"
	"ecocredit.org/internal/auth"
)

type tokenRequest struct {
	User  string   `json:"user"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken issues development tokens. Production deployments leave it
// disabled and accept tokens from the identity provider.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.opts.AllowDevTokens {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		roles = []string{auth.RoleUser}
	}

	token, err := auth.GenerateToken(user, req.Email, roles, a.opts.TokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.opts.TokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       user,
		"roles":      roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}
