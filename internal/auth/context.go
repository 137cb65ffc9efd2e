package auth

import (
	"context"
	"strings"
)

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	principal.UserID = strings.TrimSpace(principal.UserID)
	principal.Email = strings.TrimSpace(strings.ToLower(principal.Email))
	principal.Roles = dedupeRoles(principal.Roles)
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// ContextWithUser is shorthand for a principal without an email.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	return ContextWithPrincipal(ctx, Principal{UserID: userID, Roles: roles})
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil || v.UserID == "" {
		return Principal{}, false
	}
	return *v, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.UserID, true
}

// RolesFromContext returns the roles stored in context (deduplicated and lower-cased).
func RolesFromContext(ctx context.Context) []string {
	p, ok := PrincipalFromContext(ctx)
	if !ok || len(p.Roles) == 0 {
		return nil
	}
	out := make([]string, len(p.Roles))
	copy(out, p.Roles)
	return out
}

// HasRole checks whether the context contains the specified role.
func HasRole(ctx context.Context, role string) bool {
	p, ok := PrincipalFromContext(ctx)
	return ok && p.HasRole(role)
}
