package session

import (
	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
)

// EventKind names one of the event-fan-out queue's event types (spec
// 4.H "Event fan-out").
type EventKind string

const (
	EventComputationReady          EventKind = "computationReady"
	EventComputationTerminated     EventKind = "computationTerminated"
	EventSessionClientDisconnected EventKind = "sessionClientDisconnected"
	EventSessionExpired            EventKind = "sessionExpired"
	EventShutdownWithError         EventKind = "shutdownWithError"
	EventSessionOperationFailed    EventKind = "sessionOperationFailed"
)

// Event is produced by the Session Manager (and, by way of
// invoker.Observer callbacks, the Process Supervisor) and consumed by
// the agent's event fan-out worker, which turns each into an HTTP call
// to the orchestrator.
type Event struct {
	Kind            EventKind
	SessionId       ids.SessionId
	ComputationId   ids.ComputationId
	ComputationName string
	Reason          string
	ExitKind        invoker.ExitKind
	ExitStatus      int
	Expected        bool
}

// Sink receives events produced by sessions. Implemented by the agent
// package's event fan-out queue; kept as an interface here so this
// package never imports the agent's HTTP types.
type Sink interface {
	Publish(Event)
}

// discardSink drops every event; used when a Session is constructed
// without a Sink (e.g. in tests that don't care about fan-out).
type discardSink struct{}

func (discardSink) Publish(Event) {}
