package agent

import (
	"bytes"
	"net/http"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/goccy/go-json"

	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
)

// PreDeleteDelay is how long the event worker waits before issuing a
// session/computation delete, to avoid racing a just-completed create
// (spec 4.H).
const PreDeleteDelay = 50 * time.Millisecond

// OrchestratorClient is the contract the event fan-out worker drives.
// Its HTTP implementation is treated as an external collaborator (spec
// §1 Non-goals): only the calls it must support are captured here.
type OrchestratorClient interface {
	PutSessionHostStatusReady(sessionId, computationId string) error
	DeleteSessionComputation(sessionId, computationId, reason string) error
	DeleteSession(sessionId, eventType, reason string) error
}

// EventQueue is the agent's single send-events queue (spec 4.H):
// events produced by the router, the Process Supervisor, and the
// Session Manager are enqueued here and drained by one background
// worker into orchestrator HTTP calls. Implements session.Sink so a
// session.Manager can publish directly into it.
type EventQueue struct {
	pending      chan session.Event
	orchestrator OrchestratorClient
	onShutdown   func(reason string)

	log logger.Logger

	drained chan struct{}
}

// NewEventQueue constructs an EventQueue. onShutdown is invoked each
// time a shutdownWithError event is drained; it should trigger the
// agent's own orderly shutdown.
func NewEventQueue(orchestrator OrchestratorClient, onShutdown func(reason string), capacity int) *EventQueue {
	q := &EventQueue{
		pending:      make(chan session.Event, capacity),
		orchestrator: orchestrator,
		onShutdown:   onShutdown,
		drained:      make(chan struct{}, 1),
	}
	config.InitLogger(&q.log, q)
	return q
}

// Publish implements session.Sink: events.go never blocks the caller
// (Session/Manager operation threads) beyond the channel's buffer.
func (q *EventQueue) Publish(e session.Event) {
	select {
	case q.pending <- e:
	default:
		q.log.Warn("event queue full, dropping event %s for session %s", e.Kind, e.SessionId)
	}
}

// Run drains events until stop is closed. Intended to run in its own
// goroutine for the life of the agent process.
func (q *EventQueue) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case e := <-q.pending:
			q.handle(e)
			q.signalDrained()
		}
	}
}

func (q *EventQueue) signalDrained() {
	if len(q.pending) == 0 {
		select {
		case q.drained <- struct{}{}:
		default:
		}
	}
}

// DrainTimeout blocks until the queue is empty or timeout elapses,
// matching drain_events(timeout)'s shutdown-time contract.
func (q *EventQueue) DrainTimeout(timeout time.Duration) bool {
	if len(q.pending) == 0 {
		return true
	}
	select {
	case <-q.drained:
		return len(q.pending) == 0
	case <-time.After(timeout):
		return len(q.pending) == 0
	}
}

func (q *EventQueue) handle(e session.Event) {
	switch e.Kind {
	case session.EventComputationReady:
		if err := q.orchestrator.PutSessionHostStatusReady(e.SessionId.String(), e.ComputationId.String()); err != nil {
			q.log.Warn("failed to report session %s host status ready: %s", e.SessionId, err)
		}

	case session.EventComputationTerminated:
		time.Sleep(PreDeleteDelay)
		if err := q.orchestrator.DeleteSessionComputation(e.SessionId.String(), e.ComputationId.String(), e.Reason); err != nil {
			q.log.Warn("failed to report computation %s terminated: %s", e.ComputationId, err)
		}

	case session.EventSessionClientDisconnected, session.EventSessionExpired:
		time.Sleep(PreDeleteDelay)
		if err := q.orchestrator.DeleteSession(e.SessionId.String(), string(e.Kind), e.Reason); err != nil {
			q.log.Warn("failed to report session %s deleted: %s", e.SessionId, err)
		}

	case session.EventShutdownWithError:
		if q.onShutdown != nil {
			q.onShutdown(e.Reason)
		}

	case session.EventSessionOperationFailed:
		q.log.Warn("session %s operation failed: %s", e.SessionId, e.Reason)
	}
}

// httpOrchestratorClient is the default OrchestratorClient: a thin
// net/http adapter, reasonable here precisely because spec §1 names
// the orchestrator's HTTP client as an external collaborator whose
// internals are out of scope — there is no domain logic to ground on a
// third-party HTTP client library for calls this agent only ever fires
// and forgets.
type httpOrchestratorClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOrchestratorClient builds an OrchestratorClient that calls the
// orchestrator's REST surface directly.
func NewHTTPOrchestratorClient(baseURL string, timeout time.Duration) OrchestratorClient {
	return &httpOrchestratorClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *httpOrchestratorClient) PutSessionHostStatusReady(sessionId, computationId string) error {
	body, err := json.Marshal(map[string]string{"status": "ready"})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, c.baseURL+"/sessions/"+sessionId+"/hosts/"+computationId, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *httpOrchestratorClient) DeleteSessionComputation(sessionId, computationId, reason string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/sessions/"+sessionId+"/computations/"+computationId, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Host-Delete-Reason", reason)
	return c.do(req)
}

func (c *httpOrchestratorClient) DeleteSession(sessionId, eventType, reason string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/sessions/"+sessionId, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Arras-Event-Type", eventType)
	req.Header.Set("X-Session-Delete-Reason", reason)
	return c.do(req)
}

func (c *httpOrchestratorClient) do(req *http.Request) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
