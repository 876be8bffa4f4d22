package credential

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func tokenFor(t *testing.T, identity string, iat, exp time.Time) string {
	return signToken(t, jwt.MapClaims{
		"iat":    iat.Unix(),
		"exp":    exp.Unix(),
		"grants": map[string]any{"identity": identity},
	})
}

func TestParse_ReadsGrantIdentityAndExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	raw := tokenFor(t, "agent_42", now, now.Add(time.Hour))

	tok, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tok.Identity != "agent_42" {
		t.Fatalf("expected identity agent_42, got %q", tok.Identity)
	}
	if !tok.ExpiresAt.Equal(now.Add(time.Hour)) || !tok.IssuedAt.Equal(now) {
		t.Fatalf("unexpected times: %+v", tok)
	}
}

func TestParse_TopLevelIdentityWins(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{
		"exp":      time.Now().Add(time.Hour).Unix(),
		"identity": "top",
		"grants":   map[string]any{"identity": "nested"},
	})
	tok, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tok.Identity != "top" {
		t.Fatalf("expected top-level identity, got %q", tok.Identity)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := Parse(raw); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("expected ErrMalformedToken for %q, got %v", raw, err)
		}
	}
}

func TestParse_RequiresExpiry(t *testing.T) {
	raw := signToken(t, jwt.MapClaims{"identity": "agent_42"})
	if _, err := Parse(raw); !errors.Is(err, ErrMissingExpiry) {
		t.Fatalf("expected ErrMissingExpiry, got %v", err)
	}
}

func TestIsValid_BoundaryIsExclusive(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	raw := tokenFor(t, "agent_42", now.Add(-time.Hour), now.Add(time.Minute))

	if !IsValid(raw, now) {
		t.Fatalf("expected valid before exp")
	}
	if IsValid(raw, now.Add(time.Minute)) {
		t.Fatalf("expected invalid at exp")
	}
	if IsValid(raw, now.Add(2*time.Minute)) {
		t.Fatalf("expected invalid after exp")
	}
	if IsValid("garbage", now) {
		t.Fatalf("malformed token must not be valid")
	}
}
