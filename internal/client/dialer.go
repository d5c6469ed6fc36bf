package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Events are the callbacks a Transport reports on. OnClose fires once,
// after which OnMessage is never called again.
type Events struct {
	OnMessage func(data []byte)
	OnClose   func(err error)
}

type Transport interface {
	Send(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, ev Events) (Transport, error)
}

// WSDialer opens gorilla websocket connections.
type WSDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string, ev Events) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	t := &wsTransport{conn: conn}
	go t.readLoop(ev)
	return t, nil
}

type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex // serialises writers; gorilla allows one at a time
}

func (t *wsTransport) readLoop(ev Events) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			ev.OnClose(err)
			return
		}
		if msgType == websocket.TextMessage {
			ev.OnMessage(data)
		}
	}
}

func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.mu.Unlock()
	return t.conn.Close()
}
