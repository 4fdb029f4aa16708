package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteTokenStore implements TokenStore using SQLite.
type SQLiteTokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a new SQLite-backed refresh token store.
func NewTokenStore(db *sql.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db}
}

// Create persists a new refresh token record keyed by its token hash.
// The user snapshot is serialised as JSON alongside the hash.
func (s *SQLiteTokenStore) Create(ctx context.Context, record *RefreshTokenRecord) error {
	if record.TokenHash == "" {
		return fmt.Errorf("%w: missing token hash", ErrTokenInvalid)
	}

	snapshot, err := json.Marshal(record.User)
	if err != nil {
		return fmt.Errorf("marshalling user snapshot: %w", err)
	}

	now := time.Now().UTC()
	record.CreatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, user_snapshot, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.TokenHash, record.UserID, string(snapshot),
		record.ExpiresAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("%w: creating refresh token: %w", ErrStoreUnavailable, err)
	}

	return nil
}

// Consume atomically removes the record for the raw token and returns it.
//
// The find-and-delete is a single DELETE ... RETURNING statement, so when N
// callers race on the same token exactly one gets the row back and the rest
// see ErrTokenInvalid. The row is removed even when already expired — an
// expired token is spent the moment it is presented.
func (s *SQLiteTokenStore) Consume(ctx context.Context, raw string) (*RefreshTokenRecord, error) {
	var (
		record    RefreshTokenRecord
		snapshot  string
		expiresAt string
		createdAt string
	)

	err := s.db.QueryRowContext(ctx,
		`DELETE FROM refresh_tokens WHERE token_hash = ?
		 RETURNING token_hash, user_id, user_snapshot, expires_at, created_at`,
		HashToken(raw),
	).Scan(&record.TokenHash, &record.UserID, &snapshot, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: consuming refresh token: %w", ErrStoreUnavailable, err)
	}

	record.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	record.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	if err := json.Unmarshal([]byte(snapshot), &record.User); err != nil {
		return nil, fmt.Errorf("unmarshalling user snapshot: %w", err)
	}

	if !record.ExpiresAt.After(time.Now()) {
		return nil, ErrTokenExpired
	}

	return &record, nil
}

// Revoke deletes the record for the raw token if present.
// Deleting a missing row is a no-op, keeping logout idempotent.
func (s *SQLiteTokenStore) Revoke(ctx context.Context, raw string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE token_hash = ?", HashToken(raw))
	if err != nil {
		return fmt.Errorf("%w: revoking token: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAllForUser deletes every refresh token belonging to a user.
// Returns the number of deleted rows.
func (s *SQLiteTokenStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("%w: revoking tokens for user: %w", ErrStoreUnavailable, err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// DeleteExpired removes tokens past their expiry, freeing storage.
// Returns the number of deleted rows.
func (s *SQLiteTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting expired tokens: %w", ErrStoreUnavailable, err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// CountActive returns the number of unexpired refresh tokens.
func (s *SQLiteTokenStore) CountActive(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refresh_tokens WHERE expires_at > ?", now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting active tokens: %w", ErrStoreUnavailable, err)
	}
	return count, nil
}
