// Package session implements the Session Manager (spec 4.G): per-session
// state-machine discipline (Free -> Busy -> {Free|Defunct}, one
// in-flight operation at a time), computation lifecycle, and the
// router registration handshake over the control-plane IPC connection.
// Grounded on the teacher's LocalScheduler single-in-flight request
// handling (one mutex per kernel, busy/available transitions around
// each RPC) but generalized from a Jupyter-kernel RPC dispatcher into
// a session/computation state machine with its own operation verbs.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
	"github.com/dreamworksanimation/arras4-node/router/control"
)

// State is a session's lifecycle state (spec 4.G "Operation discipline").
type State int

const (
	Free State = iota
	Busy
	Defunct
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Busy:
		return "Busy"
	case Defunct:
		return "Defunct"
	default:
		return "Unknown"
	}
}

// ErrBusy is returned immediately (never queued) when a state-changing
// call finds the session Busy or Defunct.
var ErrBusy = errors.New("session has an operation in progress or is defunct")

// RouterClient is the subset of *ipc.Client a Session needs to drive
// the router's routing table (spec 4.G Create/Modify/Delete). Declared
// here, rather than importing local_daemon/ipc directly, so this
// package never depends on the concrete transport.
type RouterClient interface {
	RegisterSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error
	UpdateSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error
	ReleaseSession(sessionId ids.SessionId) error
	DisconnectClient(sessionId ids.SessionId, reason string) error
	SendSignal(ctx context.Context, signal control.SessionSignal, timeout time.Duration) error
}

// SupervisorFactory constructs a fresh, unstarted Process Supervisor
// for one computation. Injected so tests can substitute a fake.
type SupervisorFactory func(sessionId ids.SessionId, computationId ids.ComputationId) invoker.Supervisor

// Session owns one orchestrator-issued session's state and the
// computations it spawns on this host.
type Session struct {
	mu    sync.Mutex
	state State

	id          ids.SessionId
	selfNode    ids.NodeId
	isEntryNode bool

	config Config

	computationsMu sync.Mutex
	computations   *orderedmap.OrderedMap[string, *Computation]

	router            RouterClient
	events            Sink
	supervisorFactory SupervisorFactory
	tracer            opentracing.Tracer
	registerTimeout   time.Duration

	clientExpiryMu        sync.Mutex
	clientExpiryArmed     bool
	clientExpiryDeadline  time.Time

	signalMu sync.Mutex
	ranOnce  bool
}

// New constructs a Free session. events and tracer may be nil.
func New(id ids.SessionId, selfNode ids.NodeId, router RouterClient, factory SupervisorFactory, events Sink, tracer opentracing.Tracer, registerTimeout time.Duration) *Session {
	if events == nil {
		events = discardSink{}
	}
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	s := &Session{
		id:                id,
		selfNode:          selfNode,
		computations:      orderedmap.NewOrderedMap[string, *Computation](),
		router:            router,
		events:            events,
		supervisorFactory: factory,
		tracer:            tracer,
		registerTimeout:   registerTimeout,
	}
	return s
}

func (s *Session) Id() ids.SessionId { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// tryBegin attempts the Free->Busy transition required before any
// state-changing operation. It never blocks: a Busy or Defunct session
// fails immediately (spec: "the caller is never queued").
func (s *Session) tryBegin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Free {
		return ErrBusy
	}
	s.state = Busy
	return nil
}

// end restores next (Free or Defunct).
func (s *Session) end(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
}

// Create implements spec 4.G "Create".
func (s *Session) Create(ctx context.Context, def Definition) (Response, error) {
	if err := s.tryBegin(); err != nil {
		return Response{}, err
	}

	span := s.tracer.StartSpan("session.create")
	defer span.Finish()

	resp := Response{SessionId: s.id, Computations: map[string]ComputationResult{}, Errors: map[string]string{}}

	cfg, ok := def.Config[s.selfNode.String()]
	if !ok {
		s.end(Free)
		return Response{}, errors.Errorf("definition has no config entry for node %s", s.selfNode)
	}
	s.config = cfg

	routing := def.Routing[s.id.String()]
	s.isEntryNode = routing.Nodes[s.selfNode.String()].Entry

	registerCtx, cancel := context.WithTimeout(ctx, s.registerTimeout)
	defer cancel()

	routingData := control.SessionRoutingData{
		SessionId: s.id,
		Nodes:     toControlNodes(routing.Nodes),
		Computations: toControlComputations(routing.Computations),
	}
	if err := s.router.RegisterSession(registerCtx, routingData, s.registerTimeout); err != nil {
		s.end(Free)
		return Response{}, errors.Wrap(err, "registering session with router")
	}

	if s.isEntryNode {
		s.armClientExpiry(30 * time.Second)
	}

	for name, compDef := range cfg.Computations {
		compId := ids.New()
		comp := &Computation{
			Name:         name,
			Id:           compId,
			Requirements: compDef.Requirements,
			Definition:   compDef,
			Supervisor:   s.supervisorFactory(s.id, compId),
		}

		s.computationsMu.Lock()
		s.computations.Set(name, comp)
		s.computationsMu.Unlock()

		if err := s.spawn(ctx, comp); err != nil {
			resp.Errors[name] = err.Error()
			s.events.Publish(Event{Kind: EventSessionOperationFailed, SessionId: s.id, ComputationName: name, Reason: err.Error()})
			continue
		}

		resp.Computations[name] = ComputationResult{CompId: comp.Id, NodeId: s.selfNode, HostId: comp.Id}
		s.events.Publish(Event{Kind: EventComputationReady, SessionId: s.id, ComputationId: comp.Id, ComputationName: name})
	}

	s.end(Free)
	return resp, nil
}

// Modify implements spec 4.G "Modify": diff the computation sets,
// terminate removed computations (waiting for exit), then spawn added
// ones. Client-addresser-only changes update the router without
// touching any computation.
func (s *Session) Modify(ctx context.Context, def Definition) (Response, error) {
	if err := s.tryBegin(); err != nil {
		return Response{}, err
	}

	span := s.tracer.StartSpan("session.modify")
	defer span.Finish()

	resp := Response{SessionId: s.id, Computations: map[string]ComputationResult{}, Errors: map[string]string{}}

	newCfg, ok := def.Config[s.selfNode.String()]
	if !ok {
		s.end(Free)
		return Response{}, errors.Errorf("definition has no config entry for node %s", s.selfNode)
	}

	s.computationsMu.Lock()
	var removed []*Computation
	for el := s.computations.Front(); el != nil; el = el.Next() {
		if _, stillPresent := newCfg.Computations[el.Key]; !stillPresent {
			removed = append(removed, el.Value)
		}
	}
	s.computationsMu.Unlock()

	for _, comp := range removed {
		comp.Supervisor.Terminate(true, true)
	}
	for _, comp := range removed {
		comp.Supervisor.WaitUntilExit(invoker.GracePeriod)
		comp.Supervisor.Terminate(false, true)
		s.computationsMu.Lock()
		s.computations.Delete(comp.Name)
		s.computationsMu.Unlock()
	}

	for name, compDef := range newCfg.Computations {
		s.computationsMu.Lock()
		_, exists := s.computations.Get(name)
		s.computationsMu.Unlock()
		if exists {
			continue
		}

		compId := ids.New()
		comp := &Computation{
			Name:         name,
			Id:           compId,
			Requirements: compDef.Requirements,
			Definition:   compDef,
			Supervisor:   s.supervisorFactory(s.id, compId),
		}
		s.computationsMu.Lock()
		s.computations.Set(name, comp)
		s.computationsMu.Unlock()

		if err := s.spawn(ctx, comp); err != nil {
			resp.Errors[name] = err.Error()
			continue
		}
		resp.Computations[name] = ComputationResult{CompId: comp.Id, NodeId: s.selfNode, HostId: comp.Id}
		s.events.Publish(Event{Kind: EventComputationReady, SessionId: s.id, ComputationId: comp.Id, ComputationName: name})
	}

	s.config = newCfg

	if routing, ok := def.Routing[s.id.String()]; ok {
		updateCtx, cancel := context.WithTimeout(ctx, s.registerTimeout)
		defer cancel()
		data := control.SessionRoutingData{
			SessionId:    s.id,
			Nodes:        toControlNodes(routing.Nodes),
			Computations: toControlComputations(routing.Computations),
		}
		if err := s.router.UpdateSession(updateCtx, data, s.registerTimeout); err != nil {
			resp.Errors["__routing__"] = err.Error()
		}
	}

	s.end(Free)
	return resp, nil
}

// Delete implements spec 4.G "Delete".
func (s *Session) Delete(reason string) error {
	if err := s.tryBegin(); err != nil {
		return err
	}

	span := s.tracer.StartSpan("session.delete")
	defer span.Finish()

	s.computationsMu.Lock()
	var all []*Computation
	for el := s.computations.Front(); el != nil; el = el.Next() {
		all = append(all, el.Value)
	}
	s.computationsMu.Unlock()

	for _, comp := range all {
		comp.Supervisor.Terminate(true, true)
	}
	for _, comp := range all {
		if !comp.Supervisor.WaitUntilExit(invoker.GracePeriod) {
			comp.Supervisor.Terminate(false, true)
			comp.Supervisor.WaitUntilExit(5 * time.Second)
		}
		s.events.Publish(Event{Kind: EventComputationTerminated, SessionId: s.id, ComputationId: comp.Id, ComputationName: comp.Name, Reason: reason, Expected: true})
	}

	if err := s.router.DisconnectClient(s.id, reason); err != nil {
		s.events.Publish(Event{Kind: EventSessionOperationFailed, SessionId: s.id, Reason: err.Error()})
	}
	if err := s.router.ReleaseSession(s.id); err != nil {
		s.events.Publish(Event{Kind: EventSessionOperationFailed, SessionId: s.id, Reason: err.Error()})
	}

	s.events.Publish(Event{Kind: EventSessionClientDisconnected, SessionId: s.id, Reason: reason})

	s.end(Defunct)
	return nil
}

// Signal implements spec 4.G "Signals". run is delivered to the
// session's computations as a "go" control message on first use and
// "update" on repeats (spec R2: repeats carry only monotonic additions
// to the client-addresser rules); engineReady is routed to the
// session's client instead.
func (s *Session) Signal(sig Signal) error {
	if err := s.tryBegin(); err != nil {
		return err
	}
	defer s.end(Free)

	ctx, cancel := context.WithTimeout(context.Background(), s.registerTimeout)
	defer cancel()

	switch sig.Name {
	case SignalRun:
		s.signalMu.Lock()
		kind := control.SignalGo
		if s.ranOnce {
			kind = control.SignalUpdate
		}
		s.ranOnce = true
		s.signalMu.Unlock()

		signal := control.SessionSignal{
			SessionId:       s.id,
			Kind:            kind,
			ClientAddresser: toControlAddresserRules(sig.ClientAddresser),
		}
		return s.router.SendSignal(ctx, signal, s.registerTimeout)
	case SignalEngineReady:
		signal := control.SessionSignal{SessionId: s.id, Kind: control.SignalEngineReady}
		return s.router.SendSignal(ctx, signal, s.registerTimeout)
	default:
		return errors.Errorf("unknown signal %q", sig.Name)
	}
}

// GetStatus implements spec §6's per-session status endpoint.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	s.computationsMu.Lock()
	defer s.computationsMu.Unlock()

	comps := make(map[string]string, s.computations.Len())
	for el := s.computations.Front(); el != nil; el = el.Next() {
		comps[el.Key] = el.Value.Supervisor.State().String()
	}

	return Status{SessionId: s.id, State: state.String(), Computations: comps}
}

// GetPerformance returns the rolling performance snapshot of every
// computation this host owns for the session.
func (s *Session) GetPerformance() map[string]invoker.Snapshot {
	s.computationsMu.Lock()
	defer s.computationsMu.Unlock()

	out := make(map[string]invoker.Snapshot, s.computations.Len())
	for el := s.computations.Front(); el != nil; el = el.Next() {
		out[el.Key] = el.Value.Supervisor.PerformanceCounters().Snapshot()
	}
	return out
}

// armClientExpiry starts the entry node's client-connect expiration
// deadline. Canceling (ClearClientExpiry) before it fires sets the
// armed flag to false; the waiting goroutine is not notified and
// re-checks the flag at least every 100ms.
func (s *Session) armClientExpiry(timeout time.Duration) {
	s.clientExpiryMu.Lock()
	s.clientExpiryArmed = true
	s.clientExpiryDeadline = time.Now().Add(timeout)
	deadline := s.clientExpiryDeadline
	s.clientExpiryMu.Unlock()

	go func() {
		s.clientExpiryMu.Lock()
		for s.clientExpiryArmed && time.Now().Before(deadline) {
			wait := time.Until(deadline)
			s.clientExpiryMu.Unlock()
			time.Sleep(minDuration(wait, 100*time.Millisecond))
			s.clientExpiryMu.Lock()
		}
		expired := s.clientExpiryArmed
		s.clientExpiryArmed = false
		s.clientExpiryMu.Unlock()

		if expired {
			s.events.Publish(Event{Kind: EventSessionExpired, SessionId: s.id, Reason: "client did not connect before deadline"})
		}
	}()
}

// ClearClientExpiry cancels an armed client-connect deadline. Manager
// calls it when an engineReady signal arrives for the session; nothing
// in this package observes the client's connection itself.
func (s *Session) ClearClientExpiry() {
	s.clientExpiryMu.Lock()
	s.clientExpiryArmed = false
	s.clientExpiryMu.Unlock()
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (s *Session) spawn(ctx context.Context, comp *Computation) error {
	spec := invoker.LaunchSpec{
		ComputationId:    comp.Id,
		SessionId:        s.id,
		Program:          comp.Definition.Program,
		Args:             comp.Definition.Args,
		WorkingDirectory: comp.Definition.WorkingDirectory,
		Env:              comp.Definition.Environment,
		Limits: invoker.ResourceLimits{
			MemoryMB: comp.Requirements.Resources.MemoryMB,
			Cores:    comp.Requirements.Resources.Cores,
		},
		Packaging: comp.Definition.Packaging,
	}
	return comp.Supervisor.Spawn(ctx, spec)
}

func toControlNodes(nodes map[string]NodeRouting) map[string]control.NodeEndpoint {
	out := make(map[string]control.NodeEndpoint, len(nodes))
	for k, v := range nodes {
		out[k] = control.NodeEndpoint{Host: v.Host, IP: v.IP, Port: v.Port, Entry: v.Entry}
	}
	return out
}

func toControlComputations(comps map[string]ComputationRouting) map[string]control.ComputationEndpoint {
	out := make(map[string]control.ComputationEndpoint, len(comps))
	for k, v := range comps {
		out[k] = control.ComputationEndpoint{NodeId: v.NodeId, ComputationId: v.ComputationId}
	}
	return out
}

func toControlAddresserRules(rules map[string]string) []control.AddresserRule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]control.AddresserRule, 0, len(rules))
	for k, v := range rules {
		out = append(out, control.AddresserRule{Key: k, Value: v})
	}
	return out
}
