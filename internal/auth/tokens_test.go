package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key-at-least-32-chars!"

func TestGenerateAccessToken_RoundTrip(t *testing.T) {
	user := &User{
		ID:       "usr-1",
		Username: "alice",
		Roles:    []string{RoleAdmin, RoleUser},
	}

	token, expiresAt, err := GenerateAccessToken(user, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiresAt %v not ~1h out", until)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	if claims.Subject != "usr-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "usr-1")
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want %q", claims.Username, "alice")
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != RoleAdmin {
		t.Errorf("Roles = %v, want [admin user]", claims.Roles)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	user := &User{ID: "usr-1", Username: "alice", Roles: []string{RoleUser}}
	token, _, err := GenerateAccessToken(user, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	_, err = ParseToken(token, "another-secret-that-is-long-enough!")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	user := &User{ID: "usr-1", Username: "alice", Roles: []string{RoleUser}}
	token, _, err := GenerateAccessToken(user, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	_, err = ParseToken(token, testSecret)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("ParseToken() error = %v, want ErrTokenExpired", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("not.a.jwt", testSecret)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestGenerateRefreshToken_Properties(t *testing.T) {
	raw, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	// 32 bytes hex-encoded
	if len(raw) != 64 {
		t.Errorf("len = %d, want 64", len(raw))
	}

	other, _ := GenerateRefreshToken()
	if raw == other {
		t.Error("consecutive refresh tokens should differ")
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("HashToken should be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("different inputs should hash differently")
	}
	if HashToken("abc") == "abc" {
		t.Error("hash should not equal the raw token")
	}
}
