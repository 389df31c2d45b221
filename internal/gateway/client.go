package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/aeon/pkg/protocol"
)

const (
	clientSendBuffer = 32
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxReadBytes     = 1 << 20
)

// Client wraps one WebSocket connection: a read pump that dispatches RPC
// requests through the owning Server's Gateway.Command, and a write pump
// that serializes outbound frames (RPC responses and pushed events) onto the
// single connection gorilla/websocket requires a sole writer for.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send   chan []byte
	closed chan struct{}
}

// NewClient wraps conn for server s, assigning it a fresh connection id.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.New().String(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, clientSendBuffer),
		closed: make(chan struct{}),
	}
}

// SendEvent pushes a server event frame to the client. Never blocks: a full
// send buffer drops the event rather than stalling the broadcaster.
func (c *Client) SendEvent(event protocol.EventFrame) {
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	case <-c.closed:
	default:
		slog.Warn("gateway: client send buffer full, dropping event", "client", c.id, "event", event.Event)
	}
}

// Close stops the write pump and closes the underlying connection. Safe to
// call more than once.
func (c *Client) Close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.conn.Close()
}

// Run drives the read and write pumps until the connection closes or ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxReadBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.respond(protocol.Response{Error: "invalid request frame"})
			continue
		}

		if c.server.rateLimiter != nil && !c.server.rateLimiter.Allow(c.id) {
			c.respond(protocol.Response{ID: req.ID, Error: "rate limit exceeded"})
			continue
		}

		go c.handleRequest(ctx, req)
	}
}

// handleRequest answers connect/health/heartbeat directly and otherwise
// dispatches through the server's Gateway.Command RPC surface.
func (c *Client) handleRequest(ctx context.Context, req protocol.Request) {
	switch req.Method {
	case protocol.MethodConnect:
		c.respond(protocol.Response{ID: req.ID, Result: map[string]interface{}{
			"protocol_version": protocol.ProtocolVersion,
			"client_id":        c.id,
		}})
		return
	case protocol.MethodHealth:
		c.respond(protocol.Response{ID: req.ID, Result: map[string]interface{}{"status": "ok"}})
		return
	case protocol.MethodHeartbeat:
		c.respond(protocol.Response{ID: req.ID, Result: map[string]interface{}{"ts": time.Now().Unix()}})
		return
	}

	userID := stringArg(req.Args, "user_id")
	result, err := c.server.gw.Command(ctx, req.Method, req.Args, userID)
	if err != nil {
		c.respond(protocol.Response{ID: req.ID, Error: err.Error()})
		return
	}
	c.respond(protocol.Response{ID: req.ID, Result: result})
}

func (c *Client) respond(resp protocol.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	case <-c.closed:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
