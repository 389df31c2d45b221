package protocol

// RPC method name constants for the gateway's synchronous command surface.
const (
	MethodMemorySearch = "memory-search"
	MethodMemoryKey    = "memory-key"
	MethodMemoryGraph  = "memory-graph"
	MethodStatus       = "status"
	MethodMCPStatus    = "mcp-status"
	MethodHistory      = "history"

	MethodConnect   = "connect"
	MethodHealth    = "health"
	MethodHeartbeat = "heartbeat"
)
