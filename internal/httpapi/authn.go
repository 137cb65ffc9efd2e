package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"ecocredit.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticate requires a valid bearer token and stores the caller in the
// request context. Designated admin identities gain the admin role here.
func Authenticate(admins auth.AdminPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil && r.Method == http.MethodGet && r.URL.Query().Get("access_token") != "" {
				// browsers cannot set headers on EventSource connections
				token, err = r.URL.Query().Get("access_token"), nil
			}
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			claims, err := auth.ParseAndValidate(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			principal := admins.Effective(claims.Principal())
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole rejects callers without role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !principal.HasRole(role) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission rejects callers whose roles do not grant perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !principal.HasPermission(perm) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// canActFor reports whether the caller may read or change accountID.
func canActFor(r *http.Request, accountID string) bool {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return false
	}
	return principal.HasRole(auth.RoleAdmin) || principal.UserID == accountID
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
