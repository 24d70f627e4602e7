// SPDX-License-Identifier: MPL-2.0

// Package auth mints and checks the bearer tokens that guard the push channel
// and the file API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName is the cookie a browser presents its token in.
	CookieName = "token"
	// DefaultTTL is the lifetime of a generated token.
	DefaultTTL = 24 * time.Hour

	issuer = "hytale-panel"
)

var (
	// ErrNoSecret is returned when an Issuer has no signing secret.
	ErrNoSecret = errors.New("auth: jwt secret is not configured")
	// ErrEmptyUsername is returned by Generate for an empty username.
	ErrEmptyUsername = errors.New("auth: username is required")
)

type (
	// Claims are the token claims. Subject holds the username.
	Claims struct {
		jwt.RegisteredClaims
		Username string `json:"username"`
	}

	// Issuer signs and verifies HS256 tokens with a shared secret.
	Issuer struct {
		Secret []byte
		TTL    time.Duration
		// Now overrides the clock used for issuing and validating.
		Now func() time.Time
	}
)

// NewIssuer creates an Issuer. A non-positive ttl means DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{Secret: []byte(secret), TTL: ttl}
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Generate returns a signed token for username.
func (i *Issuer) Generate(username string) (string, error) {
	if len(i.Secret) == 0 {
		return "", ErrNoSecret
	}
	if username == "" {
		return "", ErrEmptyUsername
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := i.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the claims of a valid token, or nil when the token is empty,
// malformed, signed with another key or algorithm, or expired.
func (i *Issuer) Verify(token string) *Claims {
	if token == "" || len(i.Secret) == 0 {
		return nil
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid || claims.Username == "" {
		return nil
	}
	return claims
}

// TokenFromRequest extracts the token from the request, preferring the
// CookieName cookie over an "Authorization: Bearer" header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
