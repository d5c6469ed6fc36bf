package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/stationchat/internal/protocol"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, f *fixture) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// Connection goroutines can outlive the test, so nothing here logs
	// through t.
	f.hub = New(f.tokens, f.store, f.presence, zap.NewNop(), Options{})
	r.GET("/ws", NewServer(f.hub, ServerOptions{AllowedOrigins: []string{"*"}}, zap.NewNop()).ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, in protocol.Inbound) {
	t.Helper()
	raw, err := protocol.EncodeInbound(in)
	if err != nil {
		t.Fatalf("EncodeInbound: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.ServerEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.DecodeServer(data)
	if err != nil {
		t.Fatalf("DecodeServer: %v", err)
	}
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServeWSEndToEnd(t *testing.T) {
	f := newFixture(t, Options{})
	idA, tokA := f.user("alice", "r1")
	_, tokB := f.user("bob", "r1")
	srv := newTestServer(t, f)

	a := dial(t, srv)
	writeEnvelope(t, a, protocol.KeepalivePing{})
	if env := readEnvelope(t, a); env.Kind != protocol.KindKeepalivePong {
		t.Fatalf("expected keepalive_pong, got %s", env.Kind)
	}

	writeEnvelope(t, a, protocol.Auth{Token: tokA})
	if env := readEnvelope(t, a); env.Kind != protocol.KindAuthSuccess || *env.Identity != idA {
		t.Fatalf("expected auth_success, got %+v", env)
	}

	b := dial(t, srv)
	writeEnvelope(t, b, protocol.Auth{Token: tokB})
	readEnvelope(t, b)
	if env := readEnvelope(t, a); env.Kind != protocol.KindPeerOnline {
		t.Fatalf("expected peer_online, got %s", env.Kind)
	}

	writeEnvelope(t, b, protocol.RoomMessage{Content: "over the wire"})
	for name, conn := range map[string]*websocket.Conn{"A": a, "B": b} {
		env := readEnvelope(t, conn)
		if env.Kind != protocol.KindRoomMessage || env.Message.Content != "over the wire" {
			t.Errorf("%s: unexpected envelope %+v", name, env)
		}
	}

	a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.Close()

	env := readEnvelope(t, b)
	if env.Kind != protocol.KindPeerOffline || *env.Identity != idA {
		t.Fatalf("expected peer_offline for A, got %+v", env)
	}
	waitFor(t, "registry to drop A", func() bool { return f.hub.Registry().Count() == 1 })
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	if originChecker(nil) != nil {
		t.Error("empty list should defer to the same-host default")
	}

	wildcard := originChecker([]string{"*"})
	if !wildcard(req("https://anything.example")) {
		t.Error("wildcard rejected an origin")
	}

	check := originChecker([]string{"https://game.example/", "http://localhost:3000"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://game.example", true},
		{"HTTPS://GAME.EXAMPLE", true},
		{"http://localhost:3000", true},
		{"http://localhost:3001", false},
		{"https://evil.example", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := check(req(tt.origin)); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}
