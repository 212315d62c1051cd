// Package auth verifies bearer tokens on the API surface and turns their
// claims into a validated tenant context. Claims are never trusted directly:
// the organization claim is resolved against the registry on every request.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Errors returned by token verification.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the token payload the API accepts. The subject is the principal
// id; org carries the organization the principal is acting within.
type Claims struct {
	jwt.RegisteredClaims

	Org   string   `json:"org"`
	Roles []string `json:"roles"`
}

// Verifier validates ES256-signed bearer tokens.
type Verifier struct {
	publicKey *ecdsa.PublicKey
}

// NewVerifierFromPEM creates a verifier from a PEM-encoded EC public key.
func NewVerifierFromPEM(publicKeyPEM string) (*Verifier, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("JWT public key not provided")
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}

	return &Verifier{publicKey: publicKey}, nil
}

// Verify parses and validates a bearer token, returning its claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodES256 {
			return nil, errors.New("invalid signing method")
		}
		return v.publicKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// BearerToken extracts the bearer token from a request's Authorization
// header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// PrincipalID returns the token subject as a UUID, or uuid.Nil when absent
// or malformed.
func (c *Claims) PrincipalID() uuid.UUID {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// OrgID returns the organization claim as a UUID, or uuid.Nil when absent
// or malformed. A nil org id fails tenant resolution downstream; the claim
// is never defaulted.
func (c *Claims) OrgID() uuid.UUID {
	id, err := uuid.Parse(c.Org)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// HasRole reports whether the token carries a role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
