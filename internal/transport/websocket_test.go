package transport_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rajeee/chatdf/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsServer upgrades every request on /ws and runs handle on the connection.
type wsServer struct {
	*httptest.Server

	mu     sync.Mutex
	tokens []string
}

func newWSServer(t *testing.T, handle func(conn *websocket.Conn, n int)) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s := &wsServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		n := len(s.tokens)
		s.mu.Unlock()
		handle(conn, n)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func TestWebsocketEndToEnd(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, n int) {
		defer conn.Close()
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_token","token":"Hel"}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_token","token":"lo"}`))
			// Drop without a close handshake to force a reconnect.
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"usage_update"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	page := "http://" + strings.TrimPrefix(srv.URL, "http://")
	env, err := transport.NewEnvironment("", page)
	require.NoError(t, err)

	tr := transport.New(transport.Options{
		Environment:  env,
		Logger:       quietLogger(),
		BackoffFloor: 10 * time.Millisecond,
	})
	t.Cleanup(tr.Disconnect)

	rec := &recorder{}
	rec.attach(tr)

	tr.Connect("abc123")

	require.Eventually(t, func() bool { return rec.count("message:usage_update") == 1 }, 5*time.Second, tick)
	assert.Equal(t, 2, rec.count("message:chat_token"))
	assert.Equal(t, 2, rec.count("open"))
	assert.GreaterOrEqual(t, rec.count("close"), 1)
	assert.Equal(t, []string{"abc123", "abc123"}, srv.connections())
	assert.Equal(t, transport.StatusConnected, tr.Status())

	tr.Disconnect()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, srv.connections(), 2, "no reconnect after Disconnect")
	assert.Equal(t, transport.StatusDisconnected, tr.Status())
}

func TestWebsocketDialerWithoutCredential(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ int) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	override := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	tr := transport.New(transport.Options{
		Environment: transport.StaticEnvironment{Override: override},
		Dialer:      transport.WebsocketDialer{HandshakeTimeout: time.Second},
		Logger:      quietLogger(),
	})
	t.Cleanup(tr.Disconnect)

	opened := make(chan struct{}, 1)
	tr.OnOpen(func() { opened <- struct{}{} })
	tr.Connect("")

	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}
	assert.Equal(t, []string{""}, srv.connections())
	require.NoError(t, tr.Send(map[string]string{"type": "ping"}))
}
