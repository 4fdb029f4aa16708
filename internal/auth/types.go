package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 1-64 characters, alphanumeric with dots, hyphens, underscores.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// NormalizeUsername lowercases and trims a username so lookups and
// comparisons are case-insensitive.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Role represents an authorisation tier in the system.
type Role = string

const (
	// RoleUser is a standard authenticated account.
	RoleUser Role = "user"

	// RoleAdmin can force logouts, push permission updates, and read the
	// audit trail.
	RoleAdmin Role = "admin"
)

// User represents an authenticated account.
//
// A trimmed copy of this struct (without the password hash, which is never
// serialised) is snapshotted into each refresh token record so a refresh can
// rebuild the session without a users-table join.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name,omitempty"`
	PasswordHash string    `json:"-"` // never serialised
	Roles        []string  `json:"roles"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

// HasRole returns true if the user holds the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the user suitable for embedding in a refresh
// token record: identity and roles only, no credential material.
func (u *User) Snapshot() *User {
	return &User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Roles:       append([]string(nil), u.Roles...),
		IsActive:    u.IsActive,
	}
}

// RefreshTokenRecord is a stored single-use refresh token.
//
// Only the SHA-256 hash of the opaque token is persisted. The record carries
// a snapshot of the user captured at issue time.
type RefreshTokenRecord struct {
	TokenHash string    `json:"-"` // never serialised
	UserID    string    `json:"user_id"`
	User      *User     `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is the result of a successful login or refresh: a signed JWT
// access token and an opaque single-use refresh token, with their expiries.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Sentinel errors for auth operations.
var (
	// ErrMissingCredential indicates a login attempt with an empty username.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredentials is the single rejection error for all credential
	// verification failures. The internal cause is logged, never returned,
	// so callers cannot distinguish unknown-user from wrong-password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUserNotFound   = errors.New("user not found")
	ErrUserInactive   = errors.New("user account is inactive")
	ErrUsernameExists = errors.New("username already exists")

	// ErrTokenExpired indicates a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid indicates a malformed, forged, or unknown token.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrStoreUnavailable indicates the token store could not be reached.
	ErrStoreUnavailable = errors.New("token store unavailable")
)
