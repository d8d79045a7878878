package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/votefest/wallet-service/internal/domain"
	"github.com/votefest/wallet-service/internal/session"
)

type tokenResolver map[string]domain.Identity

func (r tokenResolver) Resolve(_ context.Context, hs session.Handshake) domain.Identity {
	if identity, ok := r[hs.Token]; ok {
		return identity
	}
	return domain.Anonymous()
}

type gatewayFixture struct {
	server     *httptest.Server
	registry   *Registry
	dispatcher *Dispatcher
}

func newGatewayFixture(t *testing.T, resolver IdentityResolver, maxPerAccount int) *gatewayFixture {
	t.Helper()
	reg := NewRegistry(maxPerAccount, nil)
	d := NewDispatcher(reg, nil, nil)
	chat := NewChat(nil, d, nil)
	gw := NewGateway(resolver, reg, d, chat, GatewayOptions{CookieName: "connect.sid"}, nil)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		srv.Close()
		d.Close()
	})
	return &gatewayFixture{server: srv, registry: reg, dispatcher: d}
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestGateway_AnonymousConnect(t *testing.T) {
	f := newGatewayFixture(t, tokenResolver{}, 5)
	conn := f.dial(t, "")

	frame := readFrame(t, conn)
	require.Equal(t, domain.EventConnected, frame.Event)
	payload := decodeData[domain.ConnectedPayload](t, frame)
	assert.False(t, payload.Authenticated)
	assert.Equal(t, "Anonymous", payload.Username)
	assert.Equal(t, domain.AnonymousUserID, payload.UserID)
	assert.Equal(t, domain.RoleGuest, payload.Role)

	var keys map[string]any
	require.NoError(t, json.Unmarshal(frame.Data, &keys))
	for _, key := range []string{"userId", "role", "username", "authenticated"} {
		assert.Contains(t, keys, key)
	}
}

func TestGateway_NotifyAccountReachesBothConnections(t *testing.T) {
	alice := userIdentity("alice")
	f := newGatewayFixture(t, tokenResolver{"alice-token": alice}, 5)

	first := f.dial(t, "alice-token")
	require.Equal(t, domain.EventConnected, readFrame(t, first).Event)
	second := f.dial(t, "alice-token")
	require.Equal(t, domain.EventConnected, readFrame(t, second).Event)

	require.Eventually(t, func() bool { return f.registry.CountFor(alice.AccountID) == 2 }, time.Second, 5*time.Millisecond)

	n := f.dispatcher.NotifyAccount(alice.AccountID, domain.EventWalletUpdate, domain.WalletUpdatePayload{NewBalance: "40.00"})
	assert.Equal(t, 2, n)

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn)
		require.Equal(t, domain.EventWalletUpdate, frame.Event)
		assert.Equal(t, json.Number("40.00"), decodeData[domain.WalletUpdatePayload](t, frame).NewBalance)
		assert.Contains(t, string(frame.Data), `"newBalance":40.00`)
	}
}

func TestGateway_RejectsConnectionsBeyondCap(t *testing.T) {
	alice := userIdentity("alice")
	f := newGatewayFixture(t, tokenResolver{"alice-token": alice}, 2)

	for i := 0; i < 2; i++ {
		conn := f.dial(t, "alice-token")
		require.Equal(t, domain.EventConnected, readFrame(t, conn).Event)
	}

	extra := f.dial(t, "alice-token")
	frame := readFrame(t, extra)
	require.Equal(t, domain.EventError, frame.Event)
	assert.Equal(t, CodeCapacity, decodeData[domain.ErrorPayload](t, frame).Code)
	assert.Equal(t, 2, f.registry.CountFor(alice.AccountID))
}

func TestGateway_UserPresenceIsAnnouncedToAdmins(t *testing.T) {
	admin := adminIdentity("root")
	alice := userIdentity("alice")
	f := newGatewayFixture(t, tokenResolver{"admin-token": admin, "alice-token": alice}, 5)

	adminConn := f.dial(t, "admin-token")
	require.Equal(t, domain.EventConnected, readFrame(t, adminConn).Event)

	userConn := f.dial(t, "alice-token")
	require.Equal(t, domain.EventConnected, readFrame(t, userConn).Event)

	frame := readFrame(t, adminConn)
	require.Equal(t, domain.EventUserStatus, frame.Event)
	status := decodeData[domain.StatusPayload](t, frame)
	assert.Equal(t, domain.StatusOnline, status.Status)
	assert.Equal(t, alice.AccountID.String(), status.UserID)

	require.NoError(t, userConn.Close())
	frame = readFrame(t, adminConn)
	require.Equal(t, domain.EventUserStatus, frame.Event)
	assert.Equal(t, domain.StatusOffline, decodeData[domain.StatusPayload](t, frame).Status)
}

func TestGateway_InvalidFrameGetsError(t *testing.T) {
	f := newGatewayFixture(t, tokenResolver{}, 5)
	conn := f.dial(t, "")
	require.Equal(t, domain.EventConnected, readFrame(t, conn).Event)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	require.Equal(t, domain.EventError, frame.Event)
	assert.Equal(t, CodeBadRequest, decodeData[domain.ErrorPayload](t, frame).Code)
}
