package hub

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/stationchat/internal/observ"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 8 << 10
	disconnectWait = 5 * time.Second
)

type ServerOptions struct {
	// AllowedOrigins lists accepted Origin headers. Empty means same host
	// only; "*" accepts any origin.
	AllowedOrigins []string
	SendBuffer     int
}

// Server upgrades HTTP requests to websocket connections and pumps frames
// between the socket and the Hub.
type Server struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *zap.Logger
}

func NewServer(h *Hub, opts ServerOptions, logger *zap.Logger) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Server{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		sendBuffer: opts.SendBuffer,
		logger:     logger,
	}
}

// originChecker returns nil for the empty list so gorilla applies its
// same-host default.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeWS is the GET /ws handler. Authentication happens in-band with the
// first auth envelope, not on the upgrade request.
func (s *Server) ServeWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", c.ClientIP()),
			zap.Error(err),
		)
		return
	}

	client := newClient(conn, s.sendBuffer)
	observ.ConnectionsOpen.Inc()
	s.logger.Debug("connection opened",
		zap.String("conn_id", client.ID().String()),
		zap.String("remote_addr", c.ClientIP()),
	)

	go s.writePump(client)
	s.readPump(client)
}

// readPump runs on the request goroutine. It owns inbound processing for
// the connection, so envelopes from one socket are handled in order.
func (s *Server) readPump(c *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectWait)
		s.hub.Disconnect(dctx, c)
		dcancel()
		c.conn.Close()
		observ.ConnectionsOpen.Dec()
		s.logger.Debug("connection closed", zap.String("conn_id", c.ID().String()))
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("connection read error",
					zap.String("conn_id", c.ID().String()),
					zap.Error(err),
				)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.hub.Handle(ctx, c, data)
	}
}

// writePump is the only writer on the socket. It exits when the send
// channel is closed by Disconnect or when a write fails.
func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
