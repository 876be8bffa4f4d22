package credential

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformedToken = errors.New("credential: malformed token")
	ErrMissingExpiry  = errors.New("credential: token has no exp claim")
)

// Claims is the subset of a capability token the client interprets.
// Only exp and identity matter; the rest of the token is an opaque blob.
type Claims struct {
	jwt.RegisteredClaims

	Identity string `json:"identity,omitempty"`
	Grants   struct {
		Identity string `json:"identity,omitempty"`
	} `json:"grants"`
}

func (c Claims) identity() string {
	if c.Identity != "" {
		return c.Identity
	}
	return c.Grants.Identity
}

// Token is an immutable capability token. Refresh supersedes it with a new value.
type Token struct {
	Raw       string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Identity  string
}

// UsableAt reports whether the token may be handed to the endpoint at now.
func (t Token) UsableAt(now time.Time) bool {
	return t.Raw != "" && now.Before(t.ExpiresAt)
}

// Remaining is the lifetime left at now, never negative.
func (t Token) Remaining(now time.Time) time.Duration {
	d := t.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Parse reads the claims of raw without verifying its signature.
// The client never holds the signing key; the telephony provider verifies.
func Parse(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Token{}, ErrMalformedToken
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.ExpiresAt == nil {
		return Token{}, ErrMissingExpiry
	}

	t := Token{
		Raw:       raw,
		ExpiresAt: claims.ExpiresAt.Time,
		Identity:  claims.identity(),
	}
	if claims.IssuedAt != nil {
		t.IssuedAt = claims.IssuedAt.Time
	}
	return t, nil
}

// IsValid is false for malformed tokens and for tokens with exp <= now.
func IsValid(raw string, now time.Time) bool {
	t, err := Parse(raw)
	if err != nil {
		return false
	}
	return t.UsableAt(now)
}
