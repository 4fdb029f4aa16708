package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/draycott/session-core/internal/auth"
	"github.com/draycott/session-core/internal/infrastructure/config"
	"github.com/draycott/session-core/internal/infrastructure/logging"
)

// Push channel message types.
const (
	// Client → server
	ChannelTypeAuthenticate = "authenticate"
	ChannelTypePing         = "ping"

	// Server → client
	ChannelTypeAuthenticated = "authenticated"
	ChannelTypePong          = "pong"
	ChannelTypeError         = "error"

	// Session events (server → client)
	EventSessionExpired     = "session_expired"
	EventPermissionsUpdated = "permissions_updated"
	EventForceLogout        = "force_logout"

	// channelSendBufferSize is the per-client outbound message buffer size.
	channelSendBufferSize = 256
)

// ChannelMessage represents a message sent to/from a push channel client.
type ChannelMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Token     string `json:"token,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Hub manages push channel connections, keyed by user, and delivers session
// events to them.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*ChannelClient]struct{}
	byUser  map[string]map[*ChannelClient]struct{}
	mu      sync.RWMutex
}

// ChannelClient represents one authenticated push channel connection.
type ChannelClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Identity resolved from the authenticate frame.
	userID   string
	username string
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new push channel hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*ChannelClient]struct{}),
		byUser:  make(map[string]map[*ChannelClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds an authenticated client to the hub.
func (h *Hub) Register(client *ChannelClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	if h.byUser[client.userID] == nil {
		h.byUser[client.userID] = make(map[*ChannelClient]struct{})
	}
	h.byUser[client.userID][client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("channel client connected", "user_id", client.userID, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *ChannelClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	if peers, ok := h.byUser[client.userID]; ok {
		delete(peers, client)
		if len(peers) == 0 {
			delete(h.byUser, client.userID)
		}
	}
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("channel client disconnected", "user_id", client.userID, "clients", h.ClientCount())
}

// SendToUser delivers a session event to every connection owned by the given
// user. Returns the number of connections the event was handed to.
//
// Lock ordering: the hub lock is released before any send, so a slow client
// never stalls the hub.
func (h *Hub) SendToUser(userID, eventType string, payload any) int {
	data, err := marshalEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal session event", "type", eventType, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*ChannelClient, 0, len(h.byUser[userID]))
	for client := range h.byUser[userID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.trySend(data)
	}
	if len(targets) > 0 {
		h.logger.Debug("session event sent", "type", eventType, "user_id", userID, "recipients", len(targets))
	}
	return len(targets)
}

// Broadcast delivers a session event to every connected client.
func (h *Hub) Broadcast(eventType string, payload any) int {
	data, err := marshalEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal session event", "type", eventType, "error", err)
		return 0
	}

	h.mu.RLock()
	targets := make([]*ChannelClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.trySend(data)
	}
	return len(targets)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserCount returns the number of distinct users with at least one connection.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.byUser = make(map[string]map[*ChannelClient]struct{})
}

// marshalEvent builds the wire form of a session event.
func marshalEvent(eventType string, payload any) ([]byte, error) {
	return json.Marshal(ChannelMessage{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleChannel upgrades the HTTP connection and authenticates it in-band.
//
// The first client frame must be an authenticate message carrying a valid
// access token. Connections that stay silent past the auth timeout, or that
// present anything else first, are closed before they ever join the hub.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("channel upgrade failed", "error", err)
		return
	}

	user, ok := s.authenticateChannel(conn)
	if !ok {
		conn.Close()
		return
	}

	client := &ChannelClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, channelSendBufferSize),
		userID:   user.ID,
		username: user.Username,
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// authenticateChannel reads and validates the authenticate frame. It sends
// the authenticated ack (or a terminal error frame) directly on the
// connection since the client has not joined the hub yet.
func (s *Server) authenticateChannel(conn *websocket.Conn) (*auth.User, bool) {
	authTimeout := time.Duration(s.wsCfg.AuthTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(authTimeout))

	var msg ChannelMessage
	if err := conn.ReadJSON(&msg); err != nil {
		s.logger.Debug("channel closed before authenticating", "error", err)
		return nil, false
	}

	if msg.Type != ChannelTypeAuthenticate || msg.Token == "" {
		writeChannelError(conn, "first message must authenticate")
		return nil, false
	}

	user, err := s.sessions.ResolveUser(msg.Token)
	if err != nil {
		writeChannelError(conn, "invalid or expired token")
		return nil, false
	}

	ack := ChannelMessage{
		Type:      ChannelTypeAuthenticated,
		ID:        msg.ID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   map[string]any{"user": user},
	}
	if err := conn.WriteJSON(ack); err != nil {
		return nil, false
	}

	return user, true
}

// writeChannelError sends a terminal error frame on a not-yet-registered connection.
func writeChannelError(conn *websocket.Conn, message string) {
	//nolint:errcheck // Best-effort notice before close
	conn.WriteJSON(ChannelMessage{
		Type:      ChannelTypeError,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   map[string]string{"message": message},
	})
}

// readPump reads messages from the WebSocket connection.
func (c *ChannelClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("channel read error", "error", err)
			} else {
				c.hub.logger.Debug("channel closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *ChannelClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message from an authenticated client.
func (c *ChannelClient) handleMessage(data []byte) {
	var msg ChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case ChannelTypePing:
		c.sendResponse(msg.ID, ChannelTypePong, nil)
	case ChannelTypeAuthenticate:
		// Already authenticated; re-auth on a live connection is a no-op.
		c.sendResponse(msg.ID, ChannelTypeAuthenticated, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during delivery)
// and full buffers (slow client).
func (c *ChannelClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *ChannelClient) sendResponse(id, msgType string, payload any) {
	msg := ChannelMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *ChannelClient) sendError(id, message string) {
	c.sendResponse(id, ChannelTypeError, map[string]string{"message": message})
}
