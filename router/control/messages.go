// Package control defines the JSON payload shapes exchanged between a
// node agent and its router over the control-plane-to-agent peer
// connection (spec 4.A/4.B: envelope.ClassControlPlane is always eagerly
// deserialized). These are the only messages the router itself ever
// looks inside; everything else it forwards as opaque bytes.
package control

import (
	"github.com/goccy/go-json"

	"github.com/dreamworksanimation/arras4-node/common/ids"
)

// MessageKind discriminates which payload a ClassControlPlane frame's
// body holds. SessionRoutingData, SessionSignal, and DisconnectClient
// all travel over the same wire class, and SessionRoutingData's
// "update" action would otherwise be indistinguishable from a
// SessionSignal's "update" kind.
type MessageKind string

const (
	MessageRouting    MessageKind = "routing"
	MessageSignal     MessageKind = "signal"
	MessageDisconnect MessageKind = "disconnect"
)

// Message wraps a control-plane payload with its Kind so the receiving
// side can decode it into the right concrete type before acting on it.
type Message struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Action names what a SessionRoutingData message asks the router to do
// with a session's routing record.
type Action string

const (
	ActionInitialize Action = "initialize"
	ActionUpdate     Action = "update"
	ActionRelease    Action = "release"
)

// NodeEndpoint is one entry of a session's node routing table (spec §6
// session definition, "routing.<session>.nodes").
type NodeEndpoint struct {
	Host  string `json:"host"`
	IP    string `json:"ip"`
	Port  int    `json:"tcp"`
	Entry bool   `json:"entry,omitempty"`
}

// ComputationEndpoint locates a named computation within the session
// ("routing.<session>.computations").
type ComputationEndpoint struct {
	NodeId        ids.NodeId        `json:"nodeId"`
	ComputationId ids.ComputationId `json:"compId"`
}

// AddresserRule is one client-addresser rule forwarded verbatim from
// the session definition's "messageFilter" block; the router applies
// these without interpreting their content (spec 4.D).
type AddresserRule struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SessionRoutingData registers, updates, or releases a session's
// routing record with the router (spec 4.G Create/Modify/Delete).
type SessionRoutingData struct {
	Action          Action                         `json:"action"`
	SessionId       ids.SessionId                  `json:"sessionId"`
	Nodes           map[string]NodeEndpoint         `json:"nodes,omitempty"`
	Computations    map[string]ComputationEndpoint  `json:"computations,omitempty"`
	ClientAddresser []AddresserRule                 `json:"clientAddresser,omitempty"`
}

// Acknowledge is the router's reply to a SessionRoutingData message,
// correlated by SessionId (spec 4.G: "block for an Acknowledge reply,
// bounded by 10 s").
type Acknowledge struct {
	SessionId ids.SessionId `json:"sessionId"`
	Error     string        `json:"error,omitempty"`
}

// DisconnectClient asks the router to drop a session's client
// connection with a human-readable reason (spec 4.G Delete).
type DisconnectClient struct {
	SessionId ids.SessionId `json:"sessionId"`
	Reason    string        `json:"reason"`
}

// SignalKind names the wire action a SessionSignal delivers: "go" on
// the first run signal, "update" on every repeat (carrying only
// monotonic additions to the client-addresser rules, spec R2), and
// "engineReady" routed to the session's client instead of its
// computations.
type SignalKind string

const (
	SignalGo          SignalKind = "go"
	SignalUpdate      SignalKind = "update"
	SignalEngineReady SignalKind = "engineReady"
)

// SessionSignal asks the router to deliver a signal to a session's
// computations (go/update) or its client (engineReady), optionally
// carrying new client-addresser rules (spec 4.G Signals: "a run signal
// may also carry new client-addresser rules").
type SessionSignal struct {
	SessionId       ids.SessionId   `json:"sessionId"`
	Kind            SignalKind      `json:"kind"`
	ClientAddresser []AddresserRule `json:"clientAddresser,omitempty"`
}
