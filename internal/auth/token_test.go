package auth

import (
	"testing"
	"time"

	"github.com/orbis-track/borrow-service/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expiresAt, err := tm.GenerateToken("u-1", domain.UserRoleHOD)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expiry in the past: %v", expiresAt)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u-1" || claims.Role != domain.UserRoleHOD {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	issuer := NewTokenManager("secret", 5)
	token, _, err := issuer.GenerateToken("u-1", domain.UserRoleEmployee)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := NewTokenManager("other", 5).ParseToken(token); err == nil {
		t.Fatal("expected signature mismatch")
	}

	expired := NewTokenManager("secret", 1)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.GenerateToken("u-1", domain.UserRoleEmployee)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := issuer.ParseToken(old); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	if _, err := issuer.ParseToken("not-a-token"); err == nil {
		t.Fatal("expected garbage to be rejected")
	}
}
