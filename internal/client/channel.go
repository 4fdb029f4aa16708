package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Wire-level message and event types. These mirror the server's push
// channel protocol.
const (
	msgAuthenticate  = "authenticate"
	msgAuthenticated = "authenticated"

	eventSessionExpired     = "session_expired"
	eventPermissionsUpdated = "permissions_updated"
	eventForceLogout        = "force_logout"
)

// Channel defaults.
const (
	defaultReconnectDelay = 5 * time.Second
	channelDialTimeout    = 10 * time.Second
	channelAuthTimeout    = 10 * time.Second
)

// channelFrame is the channel wire envelope, both directions.
type channelFrame struct {
	Type    string          `json:"type"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChannelConfig configures a SessionChannel.
type ChannelConfig struct {
	// URL is the WebSocket endpoint, e.g. "ws://127.0.0.1:3000/api/auth/ws".
	URL string

	Dialer *websocket.Dialer

	// ReconnectDelay is the wait before the single automatic reconnect
	// attempt after an unexpected disconnect. Zero uses the default (5s).
	ReconnectDelay time.Duration

	Logger *slog.Logger
}

// SessionChannel consumes the server's push channel and feeds session
// events into a SessionClient: session_expired and force_logout end the
// session locally, permissions_updated re-fetches the user record.
//
// On an unexpected disconnect while the session is still authenticated, the
// channel schedules exactly one delayed reconnect. The allowance is restored
// by the next successful connect, so a flapping link gets one retry per
// established connection rather than an unbounded loop. No reconnect is
// attempted after Close or once the session ends.
type SessionChannel struct {
	url            string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	logger         *slog.Logger
	session        *SessionClient

	mu             sync.Mutex
	conn           *websocket.Conn
	closed         bool
	reconnectUsed  bool
	reconnectTimer *time.Timer
}

// NewChannel creates a push channel consumer bound to a session client.
func NewChannel(cfg ChannelConfig, session *SessionClient) (*SessionChannel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("channel URL is required")
	}
	if session == nil {
		return nil, fmt.Errorf("session client is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: channelDialTimeout}
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &SessionChannel{
		url:            cfg.URL,
		dialer:         cfg.Dialer,
		reconnectDelay: cfg.ReconnectDelay,
		logger:         cfg.Logger,
		session:        session,
	}, nil
}

// Connect dials the server, authenticates with the session's current access
// token, and starts the read loop in a background goroutine.
func (sc *SessionChannel) Connect(ctx context.Context) error {
	token := sc.session.AccessToken()
	if token == "" {
		return ErrNotAuthenticated
	}

	conn, _, err := sc.dialer.DialContext(ctx, sc.url, nil)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	if err := sc.authenticate(conn, token); err != nil {
		conn.Close()
		return err
	}

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		conn.Close()
		return fmt.Errorf("channel is closed")
	}
	sc.conn = conn
	// A fresh connection restores the single-reconnect allowance.
	sc.reconnectUsed = false
	sc.mu.Unlock()

	go sc.readLoop(conn)
	return nil
}

// authenticate performs the in-band handshake: send the token as the first
// frame, expect the ack before any events flow.
func (sc *SessionChannel) authenticate(conn *websocket.Conn, token string) error {
	deadline := time.Now().Add(channelAuthTimeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteJSON(channelFrame{Type: msgAuthenticate, Token: token}); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	var ack channelFrame
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read authenticate ack: %w", err)
	}
	if ack.Type != msgAuthenticated {
		return fmt.Errorf("channel authentication rejected: %s", ack.Type)
	}

	// Clear the handshake deadlines for the event stream.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	return conn.SetWriteDeadline(time.Time{})
}

// Close shuts the channel down and suppresses any pending or future
// reconnect. Safe to call more than once.
func (sc *SessionChannel) Close() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	sc.closed = true
	if sc.reconnectTimer != nil {
		sc.reconnectTimer.Stop()
		sc.reconnectTimer = nil
	}
	if sc.conn != nil {
		sc.conn.Close()
		sc.conn = nil
	}
}

// Connected reports whether the channel currently holds a live connection.
func (sc *SessionChannel) Connected() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn != nil
}

func (sc *SessionChannel) readLoop(conn *websocket.Conn) {
	defer sc.handleDisconnect(conn)

	for {
		var frame channelFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.logger.Debug("push channel read error", "error", err)
			}
			return
		}
		sc.dispatch(frame)
	}
}

// dispatch routes a server event into the session client.
func (sc *SessionChannel) dispatch(frame channelFrame) {
	switch frame.Type {
	case eventSessionExpired, eventForceLogout:
		sc.logger.Info("session ended by server", "event", frame.Type)
		sc.session.SessionEnded()
		// The session is gone; no reconnect should follow this disconnect.
		sc.Close()

	case eventPermissionsUpdated:
		ctx, cancel := context.WithTimeout(context.Background(), channelDialTimeout)
		defer cancel()
		if err := sc.session.RefreshUser(ctx); err != nil {
			sc.logger.Warn("user refresh after permission change failed", "error", err)
		}

	default:
		sc.logger.Debug("ignoring unknown channel event", "type", frame.Type)
	}
}

// handleDisconnect runs when the read loop exits. While the session is
// still authenticated and the channel has not been closed, it arms the
// single delayed reconnect.
func (sc *SessionChannel) handleDisconnect(conn *websocket.Conn) {
	conn.Close()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.conn == conn {
		sc.conn = nil
	}
	if sc.closed || sc.reconnectUsed {
		return
	}
	if sc.session.State() != StateAuthenticated {
		return
	}

	sc.reconnectUsed = true
	sc.reconnectTimer = time.AfterFunc(sc.reconnectDelay, func() {
		if sc.session.State() != StateAuthenticated {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), channelDialTimeout)
		defer cancel()
		if err := sc.Connect(ctx); err != nil {
			sc.logger.Warn("push channel reconnect failed", "error", err)
		}
	})
}
