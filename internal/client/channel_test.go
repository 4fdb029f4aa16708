package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/draycott/session-core/internal/auth"
)

// fakeChannelServer is a push-channel endpoint that validates the in-band
// authenticate frame against the fake auth server's current access token and
// hands accepted connections to the test.
type fakeChannelServer struct {
	srv   *httptest.Server
	auth  *fakeAuthServer
	conns chan *websocket.Conn
}

func newFakeChannelServer(f *fakeAuthServer) *fakeChannelServer {
	cs := &fakeChannelServer{
		auth:  f,
		conns: make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var frame channelFrame
		if err := conn.ReadJSON(&frame); err != nil {
			conn.Close()
			return
		}

		f.mu.Lock()
		valid := f.validAccess
		f.mu.Unlock()
		if frame.Type != msgAuthenticate || frame.Token != valid {
			conn.WriteJSON(channelFrame{Type: "error"}) //nolint:errcheck // test helper
			conn.Close()
			return
		}

		if err := conn.WriteJSON(channelFrame{Type: msgAuthenticated}); err != nil {
			conn.Close()
			return
		}
		cs.conns <- conn
	}))
	return cs
}

func (cs *fakeChannelServer) Close() { cs.srv.Close() }

func (cs *fakeChannelServer) wsURL() string {
	return "ws" + strings.TrimPrefix(cs.srv.URL, "http")
}

// accept waits for the next authenticated connection.
func (cs *fakeChannelServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-cs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel connection")
		return nil
	}
}

// assertNoConnection verifies no further connection arrives within the wait.
func (cs *fakeChannelServer) assertNoConnection(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-cs.conns:
		t.Fatal("unexpected channel reconnect")
	case <-time.After(wait):
	}
}

func newConnectedChannel(t *testing.T, f *fakeAuthServer, cs *fakeChannelServer, c *SessionClient) (*SessionChannel, *websocket.Conn) {
	t.Helper()
	ch, err := NewChannel(ChannelConfig{
		URL:            cs.wsURL(),
		ReconnectDelay: 50 * time.Millisecond,
	}, c)
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return ch, cs.accept(t)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// =============================================================================
// Handshake Tests
// =============================================================================

func TestChannel_ConnectAuthenticates(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)

	ch, conn := newConnectedChannel(t, f, cs, c)
	defer ch.Close()
	defer conn.Close()

	if !ch.Connected() {
		t.Error("Connected() = false after successful Connect")
	}
}

func TestChannel_ConnectWithoutSession(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	ch, err := NewChannel(ChannelConfig{URL: cs.wsURL()}, c)
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}

	if err := ch.Connect(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Connect() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestChannel_RejectedToken(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)

	// Invalidate the client's token server-side before connecting.
	f.mu.Lock()
	f.validAccess = "rotated-away"
	f.mu.Unlock()

	ch, err := NewChannel(ChannelConfig{URL: cs.wsURL()}, c)
	if err != nil {
		t.Fatalf("NewChannel() error = %v", err)
	}
	if err := ch.Connect(context.Background()); err == nil {
		t.Error("Connect() succeeded with a stale token")
	}
	if ch.Connected() {
		t.Error("Connected() = true after rejected handshake")
	}
}

// =============================================================================
// Event Dispatch Tests
// =============================================================================

func TestChannel_ForceLogout_EndsSession(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)
	ch, conn := newConnectedChannel(t, f, cs, c)
	defer ch.Close()
	defer conn.Close()

	if err := conn.WriteJSON(channelFrame{Type: eventForceLogout}); err != nil {
		t.Fatalf("push force_logout: %v", err)
	}

	waitFor(t, func() bool { return c.State() == StateLoggedOut }, "forced logout")
	waitFor(t, func() bool { return !ch.Connected() }, "channel teardown")

	// The session is gone; the disconnect must not trigger a reconnect.
	cs.assertNoConnection(t, 300*time.Millisecond)
}

func TestChannel_SessionExpired_EndsSession(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)
	ch, conn := newConnectedChannel(t, f, cs, c)
	defer ch.Close()
	defer conn.Close()

	if err := conn.WriteJSON(channelFrame{Type: eventSessionExpired}); err != nil {
		t.Fatalf("push session_expired: %v", err)
	}

	waitFor(t, func() bool { return c.State() == StateLoggedOut }, "session expiry")
}

func TestChannel_PermissionsUpdated_RefetchesUser(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)
	ch, conn := newConnectedChannel(t, f, cs, c)
	defer ch.Close()
	defer conn.Close()

	f.mu.Lock()
	f.user.Roles = []string{auth.RoleUser, auth.RoleAdmin}
	f.mu.Unlock()

	if err := conn.WriteJSON(channelFrame{Type: eventPermissionsUpdated}); err != nil {
		t.Fatalf("push permissions_updated: %v", err)
	}

	waitFor(t, func() bool {
		u := c.CurrentUser()
		return u != nil && u.HasRole(auth.RoleAdmin)
	}, "role propagation")

	if got := c.State(); got != StateAuthenticated {
		t.Errorf("State() = %v, want %v (permission change keeps session)", got, StateAuthenticated)
	}
}

// =============================================================================
// Reconnect Tests
// =============================================================================

func TestChannel_ReconnectsOnceAfterDrop(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)
	ch, conn := newConnectedChannel(t, f, cs, c)
	defer ch.Close()

	// Server drops the connection; the client is still authenticated, so
	// exactly one delayed reconnect follows.
	conn.Close()
	reconn := cs.accept(t)
	defer reconn.Close()

	waitFor(t, func() bool { return ch.Connected() }, "reconnect")
}

func TestChannel_NoReconnectAfterClose(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)
	ch, conn := newConnectedChannel(t, f, cs, c)
	defer conn.Close()

	ch.Close()
	cs.assertNoConnection(t, 300*time.Millisecond)

	// Close is idempotent.
	ch.Close()
}

func TestChannel_NoReconnectWhenLoggedOut(t *testing.T) {
	f := newFakeAuthServer()
	defer f.Close()
	cs := newFakeChannelServer(f)
	defer cs.Close()

	c := newTestClient(t, f)
	loginOrFail(t, c)
	ch, conn := newConnectedChannel(t, f, cs, c)
	defer ch.Close()

	// Session ends locally before the connection drops.
	c.SessionEnded()
	conn.Close()

	cs.assertNoConnection(t, 300*time.Millisecond)
}
