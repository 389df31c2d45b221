package protocol

// ProtocolVersion is the wire protocol version reported by the health check
// and the connect handshake. Bump it on any breaking frame-shape change.
const ProtocolVersion = 1

// Request is one synchronous RPC call sent by a client over the WebSocket
// connection: {"id": "...", "method": "memory-search", "args": {...}}.
type Request struct {
	ID     string                 `json:"id"`
	Method string                 `json:"method"`
	Args   map[string]interface{} `json:"args,omitempty"`
}

// Response answers exactly one Request by ID. Error is set (and Result
// omitted) when the RPC failed.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// EventFrame is an asynchronous, unsolicited push from server to client:
// agent lifecycle, streamed chat content, health, or heartbeat.
type EventFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame for the given event name and payload.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{Event: event, Payload: payload}
}
