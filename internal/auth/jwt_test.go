package auth_test

import (
	"testing"
	"time"

	"github.com/coreflow/backbone/internal/auth"
)

func TestAccessToken_RoundTrips(t *testing.T) {
	m := auth.NewManager("test-secret", time.Minute, time.Hour)

	token, err := m.GenerateAccessToken("user-1", "a@example.com", "admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@example.com" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyAccessToken_RejectsRefreshToken(t *testing.T) {
	m := auth.NewManager("test-secret", time.Minute, time.Hour)

	refresh, _, _, err := m.GenerateRefreshToken("user-1", "a@example.com", "admin")
	if err != nil {
		t.Fatalf("generate refresh: %v", err)
	}

	if _, err := m.VerifyAccessToken(refresh); err == nil {
		t.Fatalf("expected a refresh token to be rejected by VerifyAccessToken")
	}
}

func TestVerifyAccessToken_RejectsWrongSecret(t *testing.T) {
	m1 := auth.NewManager("secret-one", time.Minute, time.Hour)
	m2 := auth.NewManager("secret-two", time.Minute, time.Hour)

	token, err := m1.GenerateAccessToken("user-1", "a@example.com", "admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m2.VerifyAccessToken(token); err == nil {
		t.Fatalf("expected verification under a different secret to fail")
	}
}

func TestVerifyAccessToken_RejectsExpiredToken(t *testing.T) {
	m := auth.NewManager("test-secret", -time.Second, time.Hour)

	token, err := m.GenerateAccessToken("user-1", "a@example.com", "admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := m.VerifyAccessToken(token); err == nil {
		t.Fatalf("expected an already-expired token to fail verification")
	}
}

func TestHashRefreshToken_IsDeterministicAndSecretBound(t *testing.T) {
	m1 := auth.NewManager("secret-one", time.Minute, time.Hour)
	m2 := auth.NewManager("secret-two", time.Minute, time.Hour)

	h1a := m1.HashRefreshToken("raw-token")
	h1b := m1.HashRefreshToken("raw-token")
	h2 := m2.HashRefreshToken("raw-token")

	if h1a != h1b {
		t.Fatalf("expected the same manager to hash the same input deterministically")
	}
	if h1a == h2 {
		t.Fatalf("expected different secrets to produce different hashes")
	}
}
