package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestCredentialVerifier_BypassIdentity(t *testing.T) {
	v := NewCredentialVerifier(VerifierConfig{
		BypassUsername: "guest",
		BypassRoles:    []string{RoleUser},
	}, nil, slog.Default())

	// No password at all.
	user, err := v.Verify(context.Background(), "guest", "")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if user.Username != "guest" {
		t.Errorf("Username = %q, want %q", user.Username, "guest")
	}
	if !user.HasRole(RoleUser) {
		t.Errorf("Roles = %v, want to include %q", user.Roles, RoleUser)
	}

	// Any password is ignored for the bypass identity.
	if _, err := v.Verify(context.Background(), "GUEST", "whatever"); err != nil {
		t.Errorf("Verify() with password error = %v", err)
	}
}

func TestCredentialVerifier_AdminOverrideSecret(t *testing.T) {
	v := NewCredentialVerifier(VerifierConfig{
		AdminOverrideSecret: "super-secret",
	}, nil, slog.Default())

	user, err := v.Verify(context.Background(), "anyone", "super-secret")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !user.HasRole(RoleAdmin) {
		t.Errorf("Roles = %v, want to include %q", user.Roles, RoleAdmin)
	}
	if user.Username != "anyone" {
		t.Errorf("Username = %q, want the presented username", user.Username)
	}

	// Wrong secret falls through and rejects.
	_, err = v.Verify(context.Background(), "anyone", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestCredentialVerifier_ConfiguredAdmin(t *testing.T) {
	v := NewCredentialVerifier(VerifierConfig{
		AdminUsername: "Admin",
		AdminPassword: "hunter2hunter2",
	}, nil, slog.Default())

	user, err := v.Verify(context.Background(), "admin", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !user.HasRole(RoleAdmin) {
		t.Errorf("Roles = %v, want to include %q", user.Roles, RoleAdmin)
	}

	// Wrong password for the configured admin does not fall through to the
	// credential store — it rejects outright.
	_, err = v.Verify(context.Background(), "admin", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestCredentialVerifier_CredentialStore(t *testing.T) {
	db := testDB(t)
	users := NewUserRepository(db)
	seedTestUser(t, db, "alice", RoleUser)

	v := NewCredentialVerifier(VerifierConfig{}, users, slog.Default())

	user, err := v.Verify(context.Background(), "alice", "test-password")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want %q", user.Username, "alice")
	}

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"wrong password", "alice", "nope", ErrInvalidCredentials},
		{"unknown user", "mallory", "test-password", ErrInvalidCredentials},
		{"empty username", "", "test-password", ErrMissingCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.username, tt.password)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCredentialVerifier_InactiveAccount(t *testing.T) {
	db := testDB(t)
	users := NewUserRepository(db)
	user := seedTestUser(t, db, "dormant", RoleUser)

	user.IsActive = false
	if err := users.Update(context.Background(), user); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	v := NewCredentialVerifier(VerifierConfig{}, users, slog.Default())

	// Same error as a wrong password — callers cannot tell the difference.
	_, err := v.Verify(context.Background(), "dormant", "test-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestCredentialVerifier_NoStoreConfigured(t *testing.T) {
	v := NewCredentialVerifier(VerifierConfig{}, nil, slog.Default())

	_, err := v.Verify(context.Background(), "alice", "test-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
	}
}
