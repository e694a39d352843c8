package protocol

import (
	"encoding/json"
	"time"
)

// MessageType discriminates wire envelopes. The agent-facing core set is
// RoleRegister, PacketForward, HopEvent, CorrelationReport, Heartbeat and
// Error; the remaining types are viewer-facing notifications and requests.
type MessageType string

const (
	MsgRoleRegister      MessageType = "role_register"
	MsgPacketForward     MessageType = "packet_forward"
	MsgHopEvent          MessageType = "hop_event"
	MsgCorrelationReport MessageType = "correlation_report"
	MsgHeartbeat         MessageType = "heartbeat"
	MsgError             MessageType = "error"

	// Viewer-facing notifications.
	MsgAgentStatus       MessageType = "agent_status"
	MsgAgentConnected    MessageType = "agent_connected"
	MsgAgentDisconnected MessageType = "agent_disconnected"
	MsgCircuitStart      MessageType = "circuit_start"
	MsgCircuitDone       MessageType = "circuit_done"
	MsgPacketDropped     MessageType = "packet_dropped"
	MsgNarration         MessageType = "narration"

	// Viewer requests.
	MsgInjectRequest  MessageType = "inject_request"
	MsgAnalyzeRequest MessageType = "analyze_request"
)

// Envelope is the wire message frame. Data holds the payload encoded by the
// connection's codec: raw JSON on viewer connections, a msgpack blob on agent
// connections. The envelope itself never interprets it.
type Envelope struct {
	Type      MessageType     `json:"type" msgpack:"type"`
	CircuitID string          `json:"circuit_id,omitempty" msgpack:"circuit_id,omitempty"`
	Role      Role            `json:"role,omitempty" msgpack:"role,omitempty"`
	Timestamp time.Time       `json:"timestamp" msgpack:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`
}

// RoleRegister is the first message an agent must send after connecting.
// Registering an occupied role evicts the previous holder.
type RoleRegister struct {
	Role Role   `json:"role" msgpack:"role"`
	Addr string `json:"addr" msgpack:"addr"`
}

// PacketForward carries a packet to the agent that should process it next.
type PacketForward struct {
	Packet Packet `json:"packet" msgpack:"packet"`
}

// ErrorNotice surfaces a non-fatal failure to the peer or to viewers.
type ErrorNotice struct {
	Code      string `json:"code" msgpack:"code"`
	Reason    string `json:"reason" msgpack:"reason"`
	CircuitID string `json:"circuit_id,omitempty" msgpack:"circuit_id,omitempty"`
	Role      Role   `json:"role,omitempty" msgpack:"role,omitempty"`
}

// AgentStatus reports the currently registered roles, sent to a viewer on
// connect.
type AgentStatus struct {
	Connected []Role `json:"connected" msgpack:"connected"`
}

// AgentConnection announces an agent joining or leaving a role.
type AgentConnection struct {
	Role Role   `json:"role" msgpack:"role"`
	Addr string `json:"addr,omitempty" msgpack:"addr,omitempty"`
}

// CircuitStart announces a new circuit to viewers. Viewers are trusted with
// the full origin/destination pair; they model the presenter's omniscient
// view, not a relay's.
type CircuitStart struct {
	CircuitID   string `json:"circuit_id" msgpack:"circuit_id"`
	Origin      string `json:"origin" msgpack:"origin"`
	Destination string `json:"destination" msgpack:"destination"`
}

// CircuitDone announces delivery of a circuit's packet.
type CircuitDone struct {
	CircuitID string `json:"circuit_id" msgpack:"circuit_id"`
}

// PacketDropped tells viewers a packet was discarded and why.
type PacketDropped struct {
	CircuitID string `json:"circuit_id" msgpack:"circuit_id"`
	Role      Role   `json:"role,omitempty" msgpack:"role,omitempty"`
	Reason    string `json:"reason" msgpack:"reason"`
}

// InjectRequest asks the coordinator to inject a packet. Empty fields are
// filled with generated simulation values.
type InjectRequest struct {
	Origin      string `json:"origin,omitempty" msgpack:"origin,omitempty"`
	Destination string `json:"destination,omitempty" msgpack:"destination,omitempty"`
	Content     string `json:"content,omitempty" msgpack:"content,omitempty"`
}

// AnalyzeRequest asks the coordinator to run a correlation pass immediately.
type AnalyzeRequest struct{}

// Narration carries the analysis narrator's free-form text. The coordinator
// treats it as opaque and never parses it for control decisions.
type Narration struct {
	Text string `json:"text" msgpack:"text"`
}

// Heartbeat is the keepalive payload exchanged on every connection.
type Heartbeat struct {
	Role Role `json:"role,omitempty" msgpack:"role,omitempty"`
}
