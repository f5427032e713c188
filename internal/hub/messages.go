package hub

import (
	"encoding/json"
	"fmt"

	"hivemind/internal/relay"
)

// Message types carried in Envelope.Type.
const (
	TypeRegister    = "register"     // client -> hub: join as agent or observer
	TypeRegistered  = "registered"   // hub -> client: registration accepted
	TypeError       = "error"        // hub -> client: request rejected
	TypeChat        = "chat"         // targeted chat between two named agents
	TypeStatus      = "status"       // worker status report
	TypeSoul        = "soul"         // emotion state broadcast
	TypeRelation    = "relationship" // relationship update broadcast
	TypeCommand     = "command"      // leader -> hub -> worker
	TypeGroupCmd    = "group_command"
	TypeCmdResult   = "command_result" // hub -> leader: routing outcome
	TypeBoardCheck  = "board_check"    // agent -> hub: who answered sender last?
	TypeBoardInfo   = "board_info"     // hub -> agent: board answer
	TypeBoardRecord = "board_record"   // agent -> hub: I just answered sender
	TypeStateReq    = "state_request"  // hub -> agent: contribute to snapshot
	TypeStateReport = "state_report"   // agent -> hub: snapshot contribution
	TypeFullStateReq = "full_state_request" // client -> hub
	TypeFullState    = "full_state"         // hub -> client
)

// Envelope is the wire frame multiplexing every hub conversation.
type Envelope struct {
	Type string          `json:"type"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
	ID   string          `json:"id,omitempty"` // correlation id for req/reply
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return env, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Data = data
	}
	return env, nil
}

// Role is an agent's place in the hierarchy.
type Role string

const (
	RoleLeader     Role = "leader"
	RoleWorker     Role = "worker"
	RoleStandalone Role = "standalone"
)

// Valid reports whether the role is one of the known three.
func (r Role) Valid() bool {
	return r == RoleLeader || r == RoleWorker || r == RoleStandalone
}

// RegisterPayload is sent by a connecting client.
type RegisterPayload struct {
	Name     string `json:"name"`
	Role     Role   `json:"role,omitempty"`
	LeaderID string `json:"leader_id,omitempty"`

	// Observer clients receive broadcasts but are not agents: no identity
	// conflict checks, no liveness tracking.
	Observer bool `json:"observer,omitempty"`
}

// ErrorPayload carries a rejected request back to the client.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ChatPayload is one chat line between two named agents.
type ChatPayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// SoulPayload broadcasts one agent's emotional state.
type SoulPayload struct {
	Agent       string  `json:"agent"`
	Emotion     string  `json:"emotion"`
	Intensity   float64 `json:"intensity"`
	Frustration float64 `json:"frustration"`
}

// RelationPayload broadcasts one relationship edge. The hub caches the last
// value per unordered pair for late-joining observers.
type RelationPayload struct {
	Owner    string  `json:"owner"`
	Peer     string  `json:"peer"`
	Trust    float64 `json:"trust"`
	Fondness float64 `json:"fondness"`
	Respect  float64 `json:"respect"`
	Type     string  `json:"type"`
}

// CommandPayload is a leader's routed command request.
type CommandPayload struct {
	Worker  string   `json:"worker,omitempty"` // empty for group commands
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// CmdResultPayload reports routing outcomes back to the issuing leader.
type CmdResultPayload struct {
	CommandID string `json:"command_id,omitempty"`
	Worker    string `json:"worker,omitempty"`
	Error     string `json:"error,omitempty"`
	Routed    int    `json:"routed,omitempty"`
	Rejected  int    `json:"rejected,omitempty"`
}

// BoardCheckPayload asks who last answered a sender.
type BoardCheckPayload struct {
	Sender string `json:"sender"`
}

// BoardInfoPayload answers a board check. UnixMilli zero means nobody has
// answered yet.
type BoardInfoPayload struct {
	Responder string `json:"responder,omitempty"`
	UnixMilli int64  `json:"unix_milli,omitempty"`
}

// BoardRecordPayload records a committed response.
type BoardRecordPayload struct {
	Sender    string `json:"sender"`
	Responder string `json:"responder"`
}

// AgentSnapshot is one agent's contribution to a full-state poll.
type AgentSnapshot struct {
	Name        string             `json:"name"`
	Role        Role               `json:"role"`
	LeaderID    string             `json:"leader_id,omitempty"`
	InGame      bool               `json:"in_game"`
	Emotion     string             `json:"emotion,omitempty"`
	Intensity   float64            `json:"intensity,omitempty"`
	Frustration float64            `json:"frustration,omitempty"`
	Status      relay.StatusReport `json:"status,omitempty"`
}

// FullStatePayload is the aggregate point-in-time snapshot.
type FullStatePayload struct {
	Agents        map[string]AgentSnapshot   `json:"agents"`
	Relationships []RelationPayload          `json:"relationships,omitempty"`
	Complete      bool                       `json:"complete"` // false if the poll timed out
}
