// Package mcp connects external Model Context Protocol servers (stdio, SSE,
// or streamable-http) and bridges their tools into the agent's tool
// registry, so MCP servers extend what the orchestrator can call the same
// way a builtin tool does.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/tools"
)

// Manager owns one mcp-go client per configured server and the bridge tools
// it registered on their behalf.
type Manager struct {
	registry *tools.Registry
	servers  map[string]*mcpclient.Client
}

// NewManager builds a Manager bound to the tool registry that bridged tools
// are added to.
func NewManager(registry *tools.Registry) *Manager {
	return &Manager{registry: registry, servers: make(map[string]*mcpclient.Client)}
}

// ConnectAll connects every enabled server in cfgs, logging and skipping
// individual failures rather than aborting startup — one bad MCP server
// shouldn't take down the whole gateway.
func (m *Manager) ConnectAll(ctx context.Context, cfgs map[string]*config.MCPServerConfig) {
	for name, cfg := range cfgs {
		if cfg == nil || !cfg.IsEnabled() {
			continue
		}
		if err := m.connect(ctx, name, cfg); err != nil {
			slog.Error("mcp: failed to connect server", "server", name, "error", err)
		}
	}
}

// ServerNames reports every server this Manager successfully connected.
func (m *Manager) ServerNames() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	return names
}

func (m *Manager) connect(ctx context.Context, name string, cfg *config.MCPServerConfig) error {
	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "aeon", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	timeoutSec := cfg.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 60
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	registered := 0
	for _, mcpTool := range listed.Tools {
		bt := newBridgeTool(name, mcpTool, client, cfg.ToolPrefix, timeoutSec)
		if _, exists := m.registry.Get(bt.Name()); exists {
			slog.Warn("mcp: tool name collision, skipping", "server", name, "tool", bt.Name())
			continue
		}
		m.registry.Register(bt)
		registered++
	}

	m.servers[name] = client
	slog.Info("mcp: server connected", "server", name, "transport", cfg.Transport, "tools", registered)
	return nil
}

func newClient(cfg *config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		return mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported mcp transport %q", cfg.Transport)
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	s := make([]string, 0, len(env))
	for k, v := range env {
		s = append(s, k+"="+v)
	}
	return s
}

// Close disconnects every connected server.
func (m *Manager) Close() {
	for name, client := range m.servers {
		if err := client.Close(); err != nil {
			slog.Warn("mcp: error closing server", "server", name, "error", err)
		}
	}
}
