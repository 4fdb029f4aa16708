package auth

import "context"

// TokenStore defines the interface for single-use refresh token persistence.
//
// Implementations must make Consume atomic: when N callers present the same
// raw token concurrently, exactly one receives the stored record and the
// rest receive ErrTokenInvalid.
type TokenStore interface {
	// Create persists a new refresh token record keyed by its token hash.
	Create(ctx context.Context, record *RefreshTokenRecord) error

	// Consume atomically removes the record for the raw token and returns
	// it. The record is removed even when it has already expired, in which
	// case ErrTokenExpired is returned. An unknown token returns
	// ErrTokenInvalid.
	Consume(ctx context.Context, raw string) (*RefreshTokenRecord, error)

	// Revoke deletes the record for the raw token if present. Revoking an
	// unknown token is not an error — logout is idempotent.
	Revoke(ctx context.Context, raw string) error

	// RevokeAllForUser deletes every record belonging to a user. Used by
	// forced logout.
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes records past their expiry, returning the count.
	DeleteExpired(ctx context.Context) (int64, error)

	// CountActive returns the number of unexpired records.
	CountActive(ctx context.Context) (int, error)
}
