package session_test

import (
	"context"
	"sync"
	"time"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
	"github.com/dreamworksanimation/arras4-node/router/control"
)

// fakeSupervisor is a no-op invoker.Supervisor double: Spawn always
// succeeds instantly and never runs a real process.
type fakeSupervisor struct {
	mu        sync.Mutex
	state     invoker.State
	spawnErr  error
	terminated bool
	counters  invoker.Counters
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{state: invoker.NotSpawned}
}

func (f *fakeSupervisor) Spawn(ctx context.Context, spec invoker.LaunchSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.state = invoker.Spawned
	return nil
}

func (f *fakeSupervisor) State() invoker.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSupervisor) Terminate(soft bool, expected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	f.state = invoker.Exited
}

func (f *fakeSupervisor) WaitUntilExit(deadline time.Duration) bool {
	return true
}

func (f *fakeSupervisor) OnExit(invoker.Observer) {}

func (f *fakeSupervisor) PerformanceCounters() *invoker.Counters {
	return &f.counters
}

// fakeRouter is a session.RouterClient double recording every call it
// receives, with optional injected failures.
type fakeRouter struct {
	mu sync.Mutex

	registerErr   error
	updateErr     error
	releaseErr    error
	disconnectErr error

	registered []control.SessionRoutingData
	updated    []control.SessionRoutingData
	released   []ids.SessionId
	disconnected []ids.SessionId
	signals    []control.SessionSignal

	signalErr error
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{}
}

func (f *fakeRouter) RegisterSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, data)
	return f.registerErr
}

func (f *fakeRouter) UpdateSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, data)
	return f.updateErr
}

func (f *fakeRouter) ReleaseSession(sessionId ids.SessionId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionId)
	return f.releaseErr
}

func (f *fakeRouter) DisconnectClient(sessionId ids.SessionId, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, sessionId)
	return f.disconnectErr
}

func (f *fakeRouter) SendSignal(ctx context.Context, signal control.SessionSignal, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signal)
	return f.signalErr
}

func (f *fakeRouter) signalsSnapshot() []control.SessionSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]control.SessionSignal, len(f.signals))
	copy(out, f.signals)
	return out
}

// fakeSink records every event published to it.
type fakeSink struct {
	mu     sync.Mutex
	events []session.Event
}

func newFakeSink() *fakeSink {
	return &fakeSink{}
}

func (f *fakeSink) Publish(e session.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeSink) snapshot() []session.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.Event, len(f.events))
	copy(out, f.events)
	return out
}

// slowRouter's RegisterSession signals started then blocks until
// proceed is closed, letting a test observe the session mid-operation.
type slowRouter struct {
	started chan struct{}
	proceed chan struct{}
}

func newSlowRouter() *slowRouter {
	return &slowRouter{started: make(chan struct{}, 1), proceed: make(chan struct{})}
}

func (r *slowRouter) RegisterSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	r.started <- struct{}{}
	<-r.proceed
	return nil
}

func (r *slowRouter) UpdateSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	return nil
}

func (r *slowRouter) ReleaseSession(sessionId ids.SessionId) error { return nil }

func (r *slowRouter) DisconnectClient(sessionId ids.SessionId, reason string) error { return nil }

func (r *slowRouter) SendSignal(ctx context.Context, signal control.SessionSignal, timeout time.Duration) error {
	return nil
}

func supervisorFactory(sups map[ids.ComputationId]*fakeSupervisor, mu *sync.Mutex) session.SupervisorFactory {
	return func(sessionId ids.SessionId, computationId ids.ComputationId) invoker.Supervisor {
		sup := newFakeSupervisor()
		mu.Lock()
		sups[computationId] = sup
		mu.Unlock()
		return sup
	}
}
