package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/stationchat/internal/auth"
)

// Client is one live websocket connection.
//
// A Client starts unauthenticated. A successful handshake binds it to an
// Identity and puts it in the Registry. The read loop owns inbound
// processing; writePump is the only goroutine that writes to the socket, fed
// through the buffered send channel.
type Client struct {
	id   uuid.UUID
	conn *websocket.Conn

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	identity *auth.Identity
}

// newClient wraps a socket. conn may be nil when a test drives the hub
// directly and reads envelopes off Outbound().
func newClient(conn *websocket.Conn, sendBuffer int) *Client {
	return &Client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// ID is the connection id, distinct for every socket even for one user.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Identity returns the bound identity, if the handshake succeeded.
func (c *Client) Identity() (auth.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return auth.Identity{}, false
	}
	return *c.identity, true
}

func (c *Client) bind(id auth.Identity) {
	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()
}

// Outbound exposes the send queue for in-process consumers.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// enqueue hands data to the writer without blocking. It reports false if
// the connection is closed or its buffer is full; the envelope is dropped.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops further enqueues and lets writePump drain and exit.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
