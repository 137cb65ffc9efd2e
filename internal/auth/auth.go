package auth

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer = "ecocredit"
	clockSkew   = 5 * time.Second

	secretEnvVariable = "ECOCREDIT_AUTH_SECRET"
)

var errMissingSecret = errors.New("auth secret is not configured")

// configuredKey overrides ECOCREDIT_AUTH_SECRET once SetSecret has run.
var configuredKey atomic.Pointer[[]byte]

// Claims is the bearer token body. The subject is the account id that
// submissions and balances are keyed by; the email is what the admin policy
// matches against.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Validate runs after the registered-claim checks of the parser.
func (c *Claims) Validate() error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("token has no subject")
	}
	return nil
}

// Principal converts validated claims into the request principal.
func (c *Claims) Principal() Principal {
	return Principal{UserID: c.Subject, Email: c.Email, Roles: dedupeRoles(c.Roles)}
}

// GenerateToken signs an HS256 token for userID that expires after ttl.
func GenerateToken(userID, email string, roles []string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	switch {
	case userID == "":
		return "", errors.New("userID is required")
	case ttl <= 0:
		return "", errors.New("ttl must be greater than zero")
	}
	key, err := signingKey()
	if err != nil {
		return "", err
	}

	issued := time.Now().UTC().Truncate(time.Second)
	claims := &Claims{
		Email: strings.ToLower(strings.TrimSpace(email)),
		Roles: dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate checks signature, issuer and lifetime. Every rejection is
// reported as ErrInvalidToken; a missing secret is returned as is.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	return claims, nil
}

// dedupeRoles lower-cases roles and drops blanks and repeats, keeping order.
func dedupeRoles(roles []string) []string {
	var out []string
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// SetSecret installs the signing secret, taking precedence over
// ECOCREDIT_AUTH_SECRET. A blank value is ignored.
func SetSecret(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	key := []byte(value)
	configuredKey.Store(&key)
}

func signingKey() ([]byte, error) {
	if key := configuredKey.Load(); key != nil {
		return *key, nil
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		return nil, errMissingSecret
	}
	return []byte(raw), nil
}

// ResetSecretForTests drops a secret installed by SetSecret.
func ResetSecretForTests() {
	configuredKey.Store(nil)
}
