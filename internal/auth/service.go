package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/draycott/session-core/internal/audit"
)

// defaultSweepInterval is how often expired refresh tokens are purged when
// no interval is configured.
const defaultSweepInterval = time.Hour

// EventRecorder receives authentication events for telemetry.
// Implementations must not block; a nil recorder disables telemetry.
type EventRecorder interface {
	RecordAuthEvent(action, username string, success bool)
}

// Session is the result of a successful login or refresh.
type Session struct {
	User *User      `json:"user"`
	Pair *TokenPair `json:"-"`
}

// ServiceDeps contains the dependencies for the session service.
type ServiceDeps struct {
	Issuer   *TokenIssuer
	Store    TokenStore
	Verifier *CredentialVerifier
	Users    UserRepository   // optional: enables permission re-fetch
	Audit    audit.Repository // optional: enables the audit trail
	Recorder EventRecorder    // optional: enables telemetry
	Logger   *slog.Logger
}

// Service is the session facade: login, refresh with rotation, idempotent
// logout, and stateless user resolution from access tokens.
type Service struct {
	issuer   *TokenIssuer
	store    TokenStore
	verifier *CredentialVerifier
	users    UserRepository
	audit    audit.Repository
	recorder EventRecorder
	logger   *slog.Logger
}

// NewService creates the session service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Issuer == nil || deps.Store == nil || deps.Verifier == nil {
		return nil, fmt.Errorf("session service: issuer, store, and verifier are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		issuer:   deps.Issuer,
		store:    deps.Store,
		verifier: deps.Verifier,
		users:    deps.Users,
		audit:    deps.Audit,
		recorder: deps.Recorder,
		logger:   deps.Logger,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.issuer.AccessTTL() }

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.issuer.RefreshTTL() }

// Login verifies credentials and mints a fresh token pair.
//
// Verification failures return ErrMissingCredential or ErrInvalidCredentials;
// nothing else about the failure is revealed to the caller.
func (s *Service) Login(ctx context.Context, username, password, ipAddress string) (*Session, error) {
	start := time.Now()

	user, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		s.record(ctx, audit.ActionLogin, "", NormalizeUsername(username), ipAddress, false, "")
		return nil, err
	}

	pair, err := s.issuer.IssuePair(ctx, user)
	if err != nil {
		s.logger.Error("issuing token pair failed", "username", user.Username, "error", err)
		return nil, err
	}

	s.record(ctx, audit.ActionLogin, user.ID, user.Username, ipAddress, true, "")
	s.logger.Info("login",
		"username", user.Username,
		"user_id", user.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Session{User: user, Pair: pair}, nil
}

// Refresh consumes a refresh token and rotates it: the presented token is
// spent atomically and a brand new pair is issued from the stored snapshot.
//
// A token that is unknown (already spent, revoked, or forged) returns
// ErrTokenInvalid; a known-but-expired token returns ErrTokenExpired. In
// both cases the token is gone — replaying it can never succeed.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*Session, error) {
	if rawRefresh == "" {
		return nil, ErrTokenInvalid
	}

	record, err := s.store.Consume(ctx, rawRefresh)
	if err != nil {
		s.record(ctx, audit.ActionRefresh, "", "", "", false, "")
		return nil, err
	}

	user := record.User
	// Re-fetch live roles when the snapshot belongs to a stored account, so
	// permission changes land on the next rotation.
	if s.users != nil {
		if fresh, lookupErr := s.users.GetByID(ctx, user.ID); lookupErr == nil {
			if !fresh.IsActive {
				s.record(ctx, audit.ActionRefresh, user.ID, user.Username, "", false, "account inactive")
				return nil, ErrTokenInvalid
			}
			user = fresh
		}
	}

	pair, err := s.issuer.IssuePair(ctx, user)
	if err != nil {
		s.logger.Error("rotating token pair failed", "user_id", user.ID, "error", err)
		return nil, err
	}

	s.record(ctx, audit.ActionRefresh, user.ID, user.Username, "", true, "")
	return &Session{User: user, Pair: pair}, nil
}

// Logout revokes a refresh token. It is idempotent: revoking an unknown,
// expired, or already-spent token succeeds silently.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	if rawRefresh == "" {
		return nil
	}

	if err := s.store.Revoke(ctx, rawRefresh); err != nil {
		s.logger.Warn("logout revoke failed", "error", err)
		return err
	}

	s.record(ctx, audit.ActionLogout, "", "", "", true, "")
	return nil
}

// ResolveUser validates an access token by signature and expiry alone and
// rebuilds the user from its claims. No storage round-trip.
func (s *Service) ResolveUser(tokenString string) (*User, error) {
	claims, err := s.issuer.Parse(tokenString)
	if err != nil {
		return nil, err
	}

	return &User{
		ID:       claims.Subject,
		Username: claims.Username,
		Roles:    claims.Roles,
		IsActive: true,
	}, nil
}

// ForceLogout revokes every refresh token for a user. Active access tokens
// remain valid until expiry; the push channel tells connected clients to
// drop the session immediately.
func (s *Service) ForceLogout(ctx context.Context, userID, actor string) (int64, error) {
	count, err := s.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	s.record(ctx, audit.ActionForceLogout, userID, "", "", true, fmt.Sprintf("by %s, %d tokens revoked", actor, count))
	s.logger.Info("force logout", "user_id", userID, "actor", actor, "revoked", count)
	return count, nil
}

// GetUser fetches the live user record for a permission re-fetch.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	if s.users == nil {
		return nil, ErrUserNotFound
	}
	return s.users.GetByID(ctx, userID)
}

// ActiveSessions reports the number of unexpired refresh tokens in storage.
func (s *Service) ActiveSessions(ctx context.Context) (int, error) {
	return s.store.CountActive(ctx)
}

// RunSweep periodically deletes expired refresh tokens until the context is
// cancelled. Intended to run in its own goroutine.
func (s *Service) RunSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.store.DeleteExpired(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error("token sweep failed", "error", err)
				}
				continue
			}
			if count > 0 {
				s.logger.Debug("token sweep", "deleted", count)
			}
		}
	}
}

// record writes an audit entry and a telemetry event. Both sinks are
// optional and failures never affect the auth operation itself.
func (s *Service) record(ctx context.Context, action, userID, username, ipAddress string, success bool, detail string) {
	if s.audit != nil {
		entry := &audit.AuditLog{
			UserID:    userID,
			Username:  username,
			Action:    action,
			Detail:    detail,
			IPAddress: ipAddress,
			Success:   success,
		}
		if err := s.audit.Create(ctx, entry); err != nil {
			s.logger.Warn("audit write failed", "action", action, "error", err)
		}
	}

	if s.recorder != nil {
		s.recorder.RecordAuthEvent(action, username, success)
	}
}
