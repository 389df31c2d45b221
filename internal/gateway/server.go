package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/aeon/internal/bus"
	"github.com/nextlevelbuilder/aeon/internal/orchestrator"
	"github.com/nextlevelbuilder/aeon/pkg/protocol"
)

// ServerOptions configures the WebSocket/HTTP front of the gateway.
type ServerOptions struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RateLimitRPM   int
}

// Server exposes the gateway's Command RPC surface and pushed event stream
// over WebSocket, plus a plain HTTP health endpoint. Adapters that live in
// other processes (desktop window, SSH shell, webhook bridges) connect here
// instead of linking the gateway in directly.
type Server struct {
	opts ServerOptions

	gw       *Gateway
	eventPub bus.EventPublisher

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
}

func NewServer(gw *Gateway, eventPub bus.EventPublisher, opts ServerOptions) *Server {
	s := &Server{
		opts:        opts,
		gw:          gw,
		eventPub:    eventPub,
		clients:     make(map[string]*Client),
		rateLimiter: NewRateLimiter(opts.RateLimitRPM, 5),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the WebSocket Origin header against the configured
// allowlist. No configured origins, or a missing Origin header (CLI/SDK
// clients), allows the connection.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.opts.AllowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: websocket origin rejected", "origin", origin)
	return false
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway server starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	defer func() {
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// BroadcastEvent pushes an event frame to every connected client.
func (s *Server) BroadcastEvent(event protocol.EventFrame) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, client := range s.clients {
		client.SendEvent(event)
	}
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	if s.eventPub != nil {
		s.eventPub.Subscribe(c.id, func(event bus.Event) {
			c.SendEvent(*protocol.NewEvent(event.Name, event.Payload))
		})
	}
	slog.Info("gateway: client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	if s.eventPub != nil {
		s.eventPub.Unsubscribe(c.id)
	}
	slog.Info("gateway: client disconnected", "id", c.id)
}

// WireEvent converts an orchestrator event into the JSON-tagged union pushed
// to adapters: text_chunk / tool_start / tool_result / complete / error.
func WireEvent(e orchestrator.Event) protocol.ChatStreamEvent {
	out := protocol.ChatStreamEvent{Type: string(e.Kind)}
	switch e.Kind {
	case orchestrator.EventTextChunk:
		out.Text = e.Text
	case orchestrator.EventToolStart:
		out.Name = e.ToolName
		out.Step = e.Step
	case orchestrator.EventToolResult:
		out.Name = e.ToolName
		out.Success = &e.Success
		out.Preview = e.Preview
	case orchestrator.EventComplete:
		out.FullText = e.Text
		out.ToolCount = &e.ToolCount
	case orchestrator.EventError:
		if e.Err != nil {
			out.Message = e.Err.Error()
		}
	}
	return out
}
