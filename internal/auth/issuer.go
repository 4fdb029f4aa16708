package auth

import (
	"context"
	"fmt"
	"time"
)

// TokenIssuer mints access/refresh token pairs.
//
// Access tokens are signed JWTs carrying the user identity and roles.
// Refresh tokens are opaque random strings whose hashes are persisted in the
// TokenStore together with a snapshot of the user.
type TokenIssuer struct {
	secret     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      TokenStore
}

// NewTokenIssuer creates a token issuer.
//
// The access TTL must not exceed the refresh TTL: an access token that
// outlives its refresh token would leave a session no way to renew itself.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration, store TokenStore) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("token issuer: secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token issuer: TTLs must be positive")
	}
	if accessTTL > refreshTTL {
		return nil, fmt.Errorf("token issuer: access TTL %v exceeds refresh TTL %v", accessTTL, refreshTTL)
	}

	return &TokenIssuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssuePair mints a fresh access/refresh pair for the user and persists the
// refresh token record. The raw refresh token appears only in the returned
// pair — the store keeps its hash.
func (i *TokenIssuer) IssuePair(ctx context.Context, user *User) (*TokenPair, error) {
	access, accessExpiry, err := GenerateAccessToken(user, i.secret, i.accessTTL)
	if err != nil {
		return nil, err
	}

	refresh, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	refreshExpiry := time.Now().Add(i.refreshTTL)
	record := &RefreshTokenRecord{
		TokenHash: HashToken(refresh),
		UserID:    user.ID,
		User:      user.Snapshot(),
		ExpiresAt: refreshExpiry,
	}

	if err := i.store.Create(ctx, record); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// Parse validates an access token against the issuer's secret.
func (i *TokenIssuer) Parse(tokenString string) (*CustomClaims, error) {
	return ParseToken(tokenString, i.secret)
}
