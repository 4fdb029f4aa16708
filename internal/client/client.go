package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/draycott/session-core/internal/auth"
)

// State identifies the session client's current position in its lifecycle.
type State string

// Session client states.
const (
	StateLoggedOut     State = "logged_out"
	StateLoggingIn     State = "logging_in"
	StateAuthenticated State = "authenticated"
	StateRefreshing    State = "refreshing"
	StateOffline       State = "offline"
)

// Client-side errors.
var (
	// ErrOffline indicates the server could not be reached. It is never
	// conflated with invalid credentials.
	ErrOffline = errors.New("server unreachable")

	// ErrNotAuthenticated indicates an operation that requires a session was
	// called without one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrRetryable indicates a transient server-side failure. Session state
	// is preserved; the caller may retry.
	ErrRetryable = errors.New("server error, retry later")
)

// Defaults for Config fields left zero.
const (
	defaultRefreshThreshold = 300 * time.Second
	defaultRetryDelay       = 30 * time.Second
	defaultHTTPTimeout      = 10 * time.Second

	// stateBufferSize is the per-subscriber state stream buffer.
	stateBufferSize = 8
)

// Config configures a SessionClient.
type Config struct {
	// BaseURL is the server root, e.g. "http://127.0.0.1:3000".
	BaseURL string

	// HTTPClient overrides the default HTTP client (10s timeout).
	HTTPClient *http.Client

	// RefreshThreshold is how long before access token expiry the proactive
	// refresh fires. Zero uses the default (300s).
	RefreshThreshold time.Duration

	// RetryDelay is how long to wait before retrying after a transient (5xx)
	// refresh failure. Zero uses the default (30s).
	RetryDelay time.Duration

	// Cache, when set, persists the token pair across process restarts.
	Cache *Cache

	Logger *slog.Logger
}

// SessionClient owns the client-side session lifecycle: login, proactive
// refresh, logout, and the offline fallback.
//
// A process runs exactly one SessionClient per session. All methods are safe
// for concurrent use; at most one refresh request is ever in flight, and
// concurrent triggers coalesce into the outcome of the running one.
type SessionClient struct {
	baseURL          string
	http             *http.Client
	refreshThreshold time.Duration
	retryDelay       time.Duration
	cache            *Cache
	logger           *slog.Logger

	mu           sync.Mutex
	state        State
	user         *auth.User
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	refreshTimer *time.Timer

	// Single-flight refresh guard. While non-nil, a refresh is in flight and
	// the channel closes when it completes.
	refreshDone chan struct{}
	refreshErr  error

	subscribers map[chan State]struct{}
}

// New creates a session client in the LoggedOut state.
//
// If a cache is configured and holds a previous session, the tokens are
// loaded but the client stays LoggedOut until Resume() or Login() is called.
func New(cfg Config) (*SessionClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = defaultRefreshThreshold
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &SessionClient{
		baseURL:          cfg.BaseURL,
		http:             cfg.HTTPClient,
		refreshThreshold: cfg.RefreshThreshold,
		retryDelay:       cfg.RetryDelay,
		cache:            cfg.Cache,
		logger:           cfg.Logger,
		state:            StateLoggedOut,
		subscribers:      make(map[chan State]struct{}),
	}

	if c.cache != nil {
		if cached, err := c.cache.Load(); err == nil && cached != nil {
			c.refreshToken = cached.RefreshToken
			c.accessToken = cached.AccessToken
			c.expiresAt = cached.ExpiresAt
			c.user = cached.User
		}
	}

	return c, nil
}

// State returns the current state.
func (c *SessionClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentUser returns the last known user, or nil when logged out.
func (c *SessionClient) CurrentUser() *auth.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// AccessToken returns the current access token, or "" when logged out.
func (c *SessionClient) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// Subscribe returns a stream of state transitions, seeded with the current
// state, and a cancel function. Slow subscribers miss intermediate
// transitions rather than blocking the client.
func (c *SessionClient) Subscribe() (<-chan State, func()) {
	ch := make(chan State, stateBufferSize)

	c.mu.Lock()
	ch <- c.state
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subscribers, ch)
		c.mu.Unlock()
	}
	return ch, cancel
}

// setState transitions to a new state and notifies subscribers.
// Caller must hold c.mu.
func (c *SessionClient) setState(next State) {
	if c.state == next {
		return
	}
	c.state = next
	for ch := range c.subscribers {
		select {
		case ch <- next:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// sessionPayload mirrors the server's login/refresh response body.
type sessionPayload struct {
	User             *auth.User `json:"user"`
	AccessToken      string     `json:"accessToken"`
	RefreshToken     string     `json:"refreshToken"`
	ExpiresIn        int        `json:"expiresIn"`
	RefreshExpiresIn int        `json:"refreshExpiresIn"`
}

// Login authenticates with the server and enters Authenticated on success.
//
// Invalid credentials return auth.ErrInvalidCredentials and leave the client
// LoggedOut. Connectivity failures return ErrOffline and enter Offline —
// they are never reported as bad credentials.
func (c *SessionClient) Login(ctx context.Context, username, password string) error {
	c.mu.Lock()
	c.setState(StateLoggingIn)
	c.mu.Unlock()

	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}

	payload, err := c.postSession(ctx, "/api/auth/login", body)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if errors.Is(err, ErrOffline) {
			c.setState(StateOffline)
			return err
		}
		c.setState(StateLoggedOut)
		if errors.Is(err, errUnauthorized) {
			return auth.ErrInvalidCredentials
		}
		return err
	}

	c.mu.Lock()
	c.adoptSession(payload)
	c.mu.Unlock()
	return nil
}

// Resume attempts to re-establish a session from a stored refresh token
// without fresh credentials. It is what a restarted process calls after
// loading the cache, and what connectivity restoration triggers.
func (c *SessionClient) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshToken == "" {
		c.setState(StateLoggedOut)
		c.mu.Unlock()
		return ErrNotAuthenticated
	}
	c.mu.Unlock()

	return c.Refresh(ctx)
}

// Refresh rotates the token pair. At most one refresh is ever in flight; a
// concurrent call waits for the running one and returns its outcome rather
// than spending the same refresh token twice.
//
// Outcome routing: 401/403 drops the session (LoggedOut); connectivity
// failure enters Offline keeping the stored tokens; 5xx returns ErrRetryable
// with session state intact and a retry scheduled.
func (c *SessionClient) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.refreshDone != nil {
		// Coalesce into the in-flight refresh.
		done := c.refreshDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.refreshErr
	}

	if c.refreshToken == "" {
		c.setState(StateLoggedOut)
		c.mu.Unlock()
		return ErrNotAuthenticated
	}

	done := make(chan struct{})
	c.refreshDone = done
	raw := c.refreshToken
	c.stopTimer()
	c.setState(StateRefreshing)
	c.mu.Unlock()

	body, marshalErr := json.Marshal(map[string]string{"refreshToken": raw})
	var payload *sessionPayload
	err := marshalErr
	if err == nil {
		payload, err = c.postSession(ctx, "/api/auth/refresh-token", body)
	}

	c.mu.Lock()
	defer func() {
		c.refreshErr = err
		c.refreshDone = nil
		close(done)
		c.mu.Unlock()
	}()

	switch {
	case err == nil:
		c.adoptSession(payload)
	case errors.Is(err, ErrOffline):
		// Keep the refresh token; connectivity restoration will retry.
		c.setState(StateOffline)
	case errors.Is(err, errUnauthorized):
		c.discardSession()
		err = auth.ErrTokenInvalid
	default:
		// Transient server failure: session survives, retry later.
		c.setState(StateAuthenticated)
		c.scheduleRefreshIn(c.retryDelay)
		err = fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}

// Logout ends the session: the refresh timer is cancelled, the server-side
// token is revoked best-effort, and local state is discarded regardless of
// the revoke outcome.
func (c *SessionClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	raw := c.refreshToken
	c.discardSession()
	c.mu.Unlock()

	if raw == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"refreshToken": raw})
	if err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/logout", bytes.NewReader(body))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("logout revoke unreachable", "error", err)
		return nil
	}
	resp.Body.Close()
	return nil
}

// RefreshUser re-fetches the user record without disturbing token state.
// Driven by the permissions_updated push event.
func (c *SessionClient) RefreshUser(ctx context.Context) error {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()
	if token == "" {
		return ErrNotAuthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/user", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return ErrOffline
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode)
	}

	var payload struct {
		User *auth.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StateAuthenticated && payload.User != nil {
		c.user = payload.User
	}
	c.mu.Unlock()
	return nil
}

// ConnectivityLost moves an active session to Offline. Called by the
// ConnectivityMonitor on its offline edge.
func (c *SessionClient) ConnectivityLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoggedOut {
		return
	}
	c.stopTimer()
	c.setState(StateOffline)
}

// ConnectivityRestored attempts to resume the session after the monitor's
// online edge. With no stored refresh token the client settles in LoggedOut.
func (c *SessionClient) ConnectivityRestored(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateOffline {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.Resume(ctx); err != nil {
		c.logger.Debug("session resume failed", "error", err)
	}
}

// SessionEnded drops the session locally without a server round-trip.
// Driven by the session_expired and force_logout push events.
func (c *SessionClient) SessionEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardSession()
}

// adoptSession installs a fresh token pair and schedules the proactive
// refresh. Caller must hold c.mu.
func (c *SessionClient) adoptSession(payload *sessionPayload) {
	c.user = payload.User
	c.accessToken = payload.AccessToken
	c.refreshToken = payload.RefreshToken
	c.expiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.setState(StateAuthenticated)
	c.scheduleRefreshIn(time.Until(c.expiresAt.Add(-c.refreshThreshold)))

	if c.cache != nil {
		if err := c.cache.Save(&CachedSession{
			RefreshToken: c.refreshToken,
			AccessToken:  c.accessToken,
			ExpiresAt:    c.expiresAt,
			User:         c.user,
		}); err != nil {
			c.logger.Warn("token cache write failed", "error", err)
		}
	}
}

// discardSession clears all session state and enters LoggedOut.
// Caller must hold c.mu.
func (c *SessionClient) discardSession() {
	c.stopTimer()
	c.user = nil
	c.accessToken = ""
	c.refreshToken = ""
	c.expiresAt = time.Time{}
	c.setState(StateLoggedOut)

	if c.cache != nil {
		if err := c.cache.Clear(); err != nil {
			c.logger.Warn("token cache clear failed", "error", err)
		}
	}
}

// scheduleRefreshIn arms the proactive refresh timer. A non-positive delay
// fires immediately. Caller must hold c.mu.
func (c *SessionClient) scheduleRefreshIn(d time.Duration) {
	c.stopTimer()
	if d < 0 {
		d = 0
	}
	c.refreshTimer = time.AfterFunc(d, func() {
		if err := c.Refresh(context.Background()); err != nil {
			c.logger.Debug("scheduled refresh failed", "error", err)
		}
	})
}

// stopTimer cancels any pending refresh timer. Caller must hold c.mu.
func (c *SessionClient) stopTimer() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

// errUnauthorized is the internal marker for 401/403 responses; public
// methods translate it into the appropriate auth error.
var errUnauthorized = errors.New("unauthorized")

// classifyStatus maps an HTTP status to the client error taxonomy.
// Connectivity-class statuses (gateway timeout) route to ErrOffline; they
// must never look like credential failures.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusGatewayTimeout:
		return ErrOffline
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errUnauthorized
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrRetryable, status)
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// postSession POSTs to a session endpoint and decodes the session payload.
// Transport-level failures (no response at all) map to ErrOffline.
func (c *SessionClient) postSession(ctx context.Context, path string, body []byte) (*sessionPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		//nolint:errcheck // Best-effort drain
		io.Copy(io.Discard, resp.Body)
		return nil, classifyStatus(resp.StatusCode)
	}

	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return nil, fmt.Errorf("malformed session response")
	}
	return &payload, nil
}
