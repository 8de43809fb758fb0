package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
)

// ErrShuttingDown is returned by every Manager operation once ShutdownAll
// has been called.
var ErrShuttingDown = errors.New("node agent is shutting down")

// ErrAlreadyExists is returned by Create when a session id is already
// tracked on this node (spec §6: the create endpoint answers 409 in
// this case).
var ErrAlreadyExists = errors.New("session already exists on this node")

// Manager owns every session active on this host (spec 4.G, "exposed
// to the HTTP layer"). One Manager per agent process.
type Manager struct {
	selfNode          ids.NodeId
	router            RouterClient
	events            Sink
	supervisorFactory SupervisorFactory
	tracer            opentracing.Tracer
	registerTimeout   time.Duration

	mu       sync.RWMutex
	sessions map[ids.SessionId]*Session

	shuttingDown atomic.Bool
}

// NewManager constructs an empty Manager. events and tracer may be nil.
func NewManager(selfNode ids.NodeId, router RouterClient, factory SupervisorFactory, events Sink, tracer opentracing.Tracer, registerTimeout time.Duration) *Manager {
	return &Manager{
		selfNode:          selfNode,
		router:            router,
		events:            events,
		supervisorFactory: factory,
		tracer:            tracer,
		registerTimeout:   registerTimeout,
		sessions:          make(map[ids.SessionId]*Session),
	}
}

// Create registers a brand-new session and spawns its computations.
func (m *Manager) Create(ctx context.Context, id ids.SessionId, def Definition) (Response, error) {
	if m.shuttingDown.Load() {
		return Response{}, ErrShuttingDown
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return Response{}, ErrAlreadyExists
	}
	s := New(id, m.selfNode, m.router, m.supervisorFactory, m.events, m.tracer, m.registerTimeout)
	m.sessions[id] = s
	m.mu.Unlock()

	return s.Create(ctx, def)
}

// Modify applies a new definition to an existing session.
func (m *Manager) Modify(ctx context.Context, id ids.SessionId, def Definition) (Response, error) {
	if m.shuttingDown.Load() {
		return Response{}, ErrShuttingDown
	}

	s, err := m.get(id)
	if err != nil {
		return Response{}, err
	}
	return s.Modify(ctx, def)
}

// Delete tears a session down. The record lingers in the manager as
// Defunct afterward, so a status query issued right after Delete still
// finds it instead of 404ing.
func (m *Manager) Delete(id ids.SessionId, reason string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}

	return s.Delete(reason)
}

// Signal forwards a signal to the named session.
func (m *Manager) Signal(id ids.SessionId, sig Signal) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if sig.Name == SignalEngineReady {
		s.ClearClientExpiry()
	}
	return s.Signal(sig)
}

// GetStatus returns one session's status.
func (m *Manager) GetStatus(id ids.SessionId) (Status, error) {
	s, err := m.get(id)
	if err != nil {
		return Status{}, err
	}
	return s.GetStatus(), nil
}

// GetPerformance returns one session's per-computation performance
// snapshot.
func (m *Manager) GetPerformance(id ids.SessionId) (map[string]invoker.Snapshot, error) {
	s, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return s.GetPerformance(), nil
}

// ListActive returns the ids of every non-Defunct session currently
// tracked; Defunct sessions linger in the manager for late status
// queries but no longer count as active.
func (m *Manager) ListActive() []ids.SessionId {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	sessionIds := make([]ids.SessionId, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		sessionIds = append(sessionIds, id)
	}
	m.mu.RUnlock()

	out := make([]ids.SessionId, 0, len(sessions))
	for i, s := range sessions {
		if s.State() != Defunct {
			out = append(out, sessionIds[i])
		}
	}
	return out
}

// ShutdownAll marks the manager as shutting down (rejecting new
// operations) and deletes every active session, bounding the whole
// sweep to deadline regardless of how many sessions are outstanding
// (spec 4.J: node shutdown must not hang indefinitely on a stuck
// computation).
func (m *Manager) ShutdownAll(reason string, deadline time.Duration) []error {
	m.shuttingDown.Store(true)

	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	sessionIds := make([]ids.SessionId, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		sessionIds = append(sessionIds, id)
	}
	m.mu.RUnlock()

	deadlineAt := time.Now().Add(deadline)

	var errsMu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for i, s := range all {
		wg.Add(1)
		go func(s *Session, id ids.SessionId) {
			defer wg.Done()
			if err := s.Delete(reason); err != nil {
				errsMu.Lock()
				errs = append(errs, errors.Wrapf(err, "shutting down session %s", id))
				errsMu.Unlock()
			}
		}(s, sessionIds[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Until(deadlineAt)):
		errsMu.Lock()
		errs = append(errs, errors.New("shutdown deadline elapsed with sessions still terminating"))
		errsMu.Unlock()
	}

	m.mu.Lock()
	m.sessions = make(map[ids.SessionId]*Session)
	m.mu.Unlock()

	return errs
}

func (m *Manager) get(id ids.SessionId) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Errorf("no session %s on this node", id)
	}
	return s, nil
}
