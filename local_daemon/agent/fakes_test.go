package agent_test

import (
	"sync"
)

// fakeOrchestrator is an agent.OrchestratorClient double recording
// every call it receives.
type fakeOrchestrator struct {
	mu sync.Mutex

	ready      []hostReady
	compDeletes []compDelete
	sessionDeletes []sessionDelete
}

type hostReady struct {
	sessionId, computationId string
}

type compDelete struct {
	sessionId, computationId, reason string
}

type sessionDelete struct {
	sessionId, eventType, reason string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{}
}

func (f *fakeOrchestrator) PutSessionHostStatusReady(sessionId, computationId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = append(f.ready, hostReady{sessionId, computationId})
	return nil
}

func (f *fakeOrchestrator) DeleteSessionComputation(sessionId, computationId, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compDeletes = append(f.compDeletes, compDelete{sessionId, computationId, reason})
	return nil
}

func (f *fakeOrchestrator) DeleteSession(sessionId, eventType, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionDeletes = append(f.sessionDeletes, sessionDelete{sessionId, eventType, reason})
	return nil
}

func (f *fakeOrchestrator) snapshot() (ready []hostReady, comps []compDelete, sessions []sessionDelete) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hostReady(nil), f.ready...), append([]compDelete(nil), f.compDeletes...), append([]sessionDelete(nil), f.sessionDeletes...)
}
