package observerproto

import "agentcraft.ai/internal/agent/status"

// Version is the observer protocol version (separate from the coordination bus).
const Version = "0.2"

// Client -> Server. First message on the observer WS connection, and can be re-sent to
// change the agent filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Agents limits STATUS frames to these ids; empty means every agent.
	Agents []string `json:"agents,omitempty"`
	// History keeps the recent action list in STATUS frames; it is stripped otherwise.
	History bool `json:"history,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string          `json:"protocol_version"`
	WorldID         string          `json:"world_id"`
	Tick            uint64          `json:"tick"`
	Agents          []AgentInfo     `json:"agents"`
	Statuses        []status.Status `json:"statuses"`
}

type AgentInfo struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Color string `json:"color,omitempty"`
}

// Server -> Client. Sent whenever an agent reports.
type StatusMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Status          status.Status `json:"status"`
}

// Server -> Client. Sent when the world advances.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	Tick            uint64 `json:"tick"`
	Dropped         uint64 `json:"dropped,omitempty"`
}
