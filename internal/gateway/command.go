package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aeon/internal/sessions"
	"github.com/nextlevelbuilder/aeon/pkg/protocol"
)

const defaultCommandLimit = 20

// Command runs one synchronous RPC against the gateway's planes, dispatched
// by method name (protocol.Method*). userID is the caller's canonical or
// prefixed identity; memory-scoped commands resolve it to its full linked
// set first.
func (g *Gateway) Command(ctx context.Context, method string, args map[string]interface{}, userID string) (interface{}, error) {
	switch method {
	case protocol.MethodMemorySearch:
		return g.commandMemorySearch(ctx, args, userID)
	case protocol.MethodMemoryKey:
		return g.commandMemoryKey(ctx, args, userID)
	case protocol.MethodMemoryGraph:
		return g.commandMemoryGraph(ctx, args, userID)
	case protocol.MethodStatus:
		return g.commandStatus(ctx), nil
	case protocol.MethodMCPStatus:
		return g.commandMCPStatus(), nil
	case protocol.MethodHistory:
		return g.commandHistory(ctx, args, userID)
	default:
		return nil, fmt.Errorf("gateway: unknown command %q", method)
	}
}

func (g *Gateway) resolveUserIDs(ctx context.Context, userID string) []string {
	if g.identity == nil {
		return []string{userID}
	}
	return g.identity.ResolveAll(ctx, userID)
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func (g *Gateway) commandMemorySearch(ctx context.Context, args map[string]interface{}, userID string) (interface{}, error) {
	if g.memorySvc == nil {
		return nil, fmt.Errorf("gateway: memory plane not configured")
	}
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("gateway: memory-search requires a query")
	}
	limit := intArg(args, "limit", defaultCommandLimit)

	userIDs := g.resolveUserIDs(ctx, userID)
	memCtx := g.memorySvc.FetchContext(ctx, query, userIDs)
	results := memCtx.Relevant
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (g *Gateway) commandMemoryKey(ctx context.Context, args map[string]interface{}, userID string) (interface{}, error) {
	if g.memorySvc == nil || g.memorySvc.Store == nil {
		return nil, fmt.Errorf("gateway: memory plane not configured")
	}
	limit := intArg(args, "limit", defaultCommandLimit)
	userIDs := g.resolveUserIDs(ctx, userID)
	return g.memorySvc.Store.GetKeyMemories(ctx, userIDs, limit), nil
}

func (g *Gateway) commandMemoryGraph(ctx context.Context, args map[string]interface{}, userID string) (interface{}, error) {
	if g.memorySvc == nil || g.memorySvc.Store == nil {
		return nil, fmt.Errorf("gateway: memory plane not configured")
	}
	limit := intArg(args, "limit", defaultCommandLimit)
	userIDs := g.resolveUserIDs(ctx, userID)

	if q := stringArg(args, "query"); q != "" {
		return g.memorySvc.Store.SearchEntities(ctx, q, userIDs, limit), nil
	}
	return g.memorySvc.Store.GetAllRelationships(ctx, userIDs, limit), nil
}

// StatusReport summarizes the gateway's runtime state for the "status" RPC.
type StatusReport struct {
	ActiveSessions int  `json:"active_sessions"`
	MemoryEnabled  bool `json:"memory_enabled"`
	HistoryEnabled bool `json:"history_enabled"`
}

func (g *Gateway) commandStatus(_ context.Context) StatusReport {
	sessionCount := 0
	if g.sessions != nil {
		sessionCount = g.sessions.Count()
	}
	return StatusReport{
		ActiveSessions: sessionCount,
		MemoryEnabled:  g.memorySvc != nil,
		HistoryEnabled: g.history != nil,
	}
}

// MCPStatus reports the configured MCP tool-registry extension points. Populated once MCP servers are wired; an
// empty list means none are configured.
type MCPStatus struct {
	Servers []string `json:"servers"`
}

func (g *Gateway) commandMCPStatus() MCPStatus {
	if g.mcp == nil {
		return MCPStatus{Servers: []string{}}
	}
	return MCPStatus{Servers: g.mcp.ServerNames()}
}

func (g *Gateway) commandHistory(ctx context.Context, args map[string]interface{}, userID string) (interface{}, error) {
	if g.history == nil {
		return nil, fmt.Errorf("gateway: chat history store not configured")
	}
	limit := intArg(args, "limit", defaultCommandLimit)

	channel := stringArg(args, "channel")
	chatID := stringArg(args, "chat_id")
	if channel == "" || chatID == "" {
		return nil, fmt.Errorf("gateway: history requires channel and chat_id")
	}

	key := sessions.BuildKey(channel, sessions.PeerKindFromGroup(stringArg(args, "peer_kind") == "group"), chatID)
	if g.sessions != nil {
		state := g.sessions.GetOrCreate(key)
		state.Lock()
		defer state.Unlock()
		if state.ConversationID != uuid.Nil {
			return g.history.LoadRecentMessages(ctx, state.ConversationID, limit)
		}
	}

	// No live conversation on this channel: fall back to the caller's most
	// recent messages across every linked platform, annotated for display.
	userUUIDs := resolveUserUUIDs(g.resolveUserIDs(ctx, userID))
	if convs, err := g.history.GetUserConversations(ctx, userUUIDs, 1); err == nil && len(convs) > 0 {
		entries, err := g.history.GetRecentCrossContext(ctx, userUUIDs, limit)
		if err == nil && len(entries) > 0 {
			out := make([]string, 0, len(entries))
			for _, e := range entries {
				out = append(out, e.Display)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("gateway: no conversation found for %s/%s", channel, chatID)
}

// resolveUserUUIDs maps prefixed platform ids onto the deterministic UUIDs
// the relational store keys conversations by (see ensureConversation).
func resolveUserUUIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
		}
		out = append(out, u)
	}
	return out
}
