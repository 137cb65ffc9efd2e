package auth

import "strings"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether any of the principal's roles grants key.
func (p Principal) HasPermission(key string) bool {
	for _, r := range p.Roles {
		for _, perm := range RolePermissions[r] {
			if perm == key {
				return true
			}
		}
	}
	return false
}

// Identity is the string used for audit and reviewer stamps: email when known, else user id.
func (p Principal) Identity() string {
	if p.Email != "" {
		return p.Email
	}
	return p.UserID
}

// AdminPolicy decides who counts as an administrative identity.
type AdminPolicy struct {
	identities map[string]struct{}
}

// NewAdminPolicy builds a policy from configured identities (emails or user ids).
func NewAdminPolicy(identities []string) AdminPolicy {
	set := make(map[string]struct{}, len(identities))
	for _, id := range identities {
		id = strings.TrimSpace(strings.ToLower(id))
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return AdminPolicy{identities: set}
}

// IsAdmin is true for the admin role or a designated identity.
func (a AdminPolicy) IsAdmin(p Principal) bool {
	if p.HasRole(RoleAdmin) {
		return true
	}
	for _, id := range []string{p.Email, p.UserID} {
		if _, ok := a.identities[strings.ToLower(strings.TrimSpace(id))]; ok && id != "" {
			return true
		}
	}
	return false
}

// Effective returns p with the admin role added when the policy designates it.
func (a AdminPolicy) Effective(p Principal) Principal {
	if a.IsAdmin(p) && !p.HasRole(RoleAdmin) {
		p.Roles = append(append([]string(nil), p.Roles...), RoleAdmin)
	}
	return p
}
