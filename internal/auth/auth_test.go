package auth

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()
	defer ResetSecretForTests()

	token, err := GenerateToken("user-42", "Admin@Carbon.com", []string{"Admin", "user", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "admin@carbon.com" {
		t.Fatalf("email should be normalised, got %q", claims.Email)
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "user") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
}

func TestParseRejectsTampering(t *testing.T) {
	t.Setenv(secretEnvVariable, "secret-one")
	ResetSecretForTests()
	token, err := GenerateToken("u1", "", []string{"user"}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	SetSecret("secret-two")
	defer ResetSecretForTests()
	if _, err := ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate("   "); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestParseRejectsForeignTokens(t *testing.T) {
	t.Setenv(secretEnvVariable, "shared-secret")
	ResetSecretForTests()
	defer ResetSecretForTests()

	now := time.Now().UTC()
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}
	}
	sign := func(method jwt.SigningMethod, rc jwt.RegisteredClaims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, &Claims{Roles: []string{RoleUser}, RegisteredClaims: rc}).SignedString([]byte("shared-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}

	if _, err := ParseAndValidate(sign(jwt.SigningMethodHS256, valid())); err != nil {
		t.Fatalf("baseline token rejected: %v", err)
	}

	expired := valid()
	expired.IssuedAt = jwt.NewNumericDate(now.Add(-time.Hour))
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	otherIssuer := valid()
	otherIssuer.Issuer = "someone-else"
	noSubject := valid()
	noSubject.Subject = " "
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	future := valid()
	future.IssuedAt = jwt.NewNumericDate(now.Add(time.Hour))
	future.ExpiresAt = jwt.NewNumericDate(now.Add(2 * time.Hour))

	cases := map[string]string{
		"expired":          sign(jwt.SigningMethodHS256, expired),
		"other issuer":     sign(jwt.SigningMethodHS256, otherIssuer),
		"no subject":       sign(jwt.SigningMethodHS256, noSubject),
		"no expiry":        sign(jwt.SigningMethodHS256, noExpiry),
		"issued in future": sign(jwt.SigningMethodHS256, future),
		"hs512":            sign(jwt.SigningMethodHS512, valid()),
	}
	for name, token := range cases {
		if _, err := ParseAndValidate(token); err != ErrInvalidToken {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	defer ResetSecretForTests()
	if _, err := GenerateToken("u1", "", nil, time.Minute); err == nil {
		t.Fatalf("expected error without secret")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Admin", "Admin", "user"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "user") || !HasRole(ctx, "admin") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role found")
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatalf("expected no user on empty context")
	}
}
