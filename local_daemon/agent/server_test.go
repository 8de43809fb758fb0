package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/agent"
	"github.com/dreamworksanimation/arras4-node/local_daemon/domain"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
	"github.com/dreamworksanimation/arras4-node/router/control"
)

// noopRouter is a session.RouterClient double that always succeeds,
// used to exercise the HTTP surface without a real router process.
type noopRouter struct{}

func (noopRouter) RegisterSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	return nil
}
func (noopRouter) UpdateSession(ctx context.Context, data control.SessionRoutingData, timeout time.Duration) error {
	return nil
}
func (noopRouter) ReleaseSession(sessionId ids.SessionId) error          { return nil }
func (noopRouter) DisconnectClient(sessionId ids.SessionId, reason string) error { return nil }
func (noopRouter) SendSignal(ctx context.Context, signal control.SessionSignal, timeout time.Duration) error {
	return nil
}

// noopSupervisor is an invoker.Supervisor double that spawns instantly
// and never exits on its own.
type noopSupervisor struct {
	mu    sync.Mutex
	state invoker.State
}

func (s *noopSupervisor) Spawn(ctx context.Context, spec invoker.LaunchSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = invoker.Spawned
	return nil
}
func (s *noopSupervisor) State() invoker.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
func (s *noopSupervisor) Terminate(soft bool, expected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = invoker.Exited
}
func (s *noopSupervisor) WaitUntilExit(deadline time.Duration) bool { return true }
func (s *noopSupervisor) OnExit(invoker.Observer)                   {}
func (s *noopSupervisor) PerformanceCounters() *invoker.Counters    { return &invoker.Counters{} }

func newTestAgent() *agent.NodeAgent {
	a, _ := newTestAgentWithNode()
	return a
}

func newTestAgentWithNode() (*agent.NodeAgent, ids.NodeId) {
	opts := &domain.NodeAgentOptions{
		IPCDir:                   "/tmp/arras-agent-test",
		BanThreshold:             2,
		BanWindowSec:             1,
		RouterRegisterTimeoutSec: 5,
	}
	factory := func(ids.SessionId, ids.ComputationId) invoker.Supervisor { return &noopSupervisor{} }

	selfNode := ids.New()
	a, err := agent.New(selfNode, opts, noopRouter{}, factory)
	Expect(err).NotTo(HaveOccurred())
	return a, selfNode
}

var _ = Describe("Server", func() {
	var srv *httptest.Server

	BeforeEach(func() {
		srv = httptest.NewServer(agent.NewServer(newTestAgent()).Handler())
	})

	AfterEach(func() {
		srv.Close()
	})

	It("returns the banlist summary and node id on the status endpoint", func() {
		resp, err := http.Get(srv.URL + "/node/1/status")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body).To(HaveKey("nodeId"))
		Expect(body).To(HaveKey("banlistSummary"))
	})

	It("returns 404 for an unknown session's status", func() {
		resp, err := http.Get(srv.URL + "/sessions/" + ids.New().String() + "/status")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("returns an empty session list before any session is created", func() {
		resp, err := http.Get(srv.URL + "/node/1/sessions")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var sessions []string
		Expect(json.NewDecoder(resp.Body).Decode(&sessions)).To(Succeed())
		Expect(sessions).To(BeEmpty())
	})

	It("bans a source after repeated unmatched GETs, then un-bans it once the window rolls", func() {
		client := &http.Client{}
		get := func() int {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/does/not/exist", nil)
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			return resp.StatusCode
		}

		Expect(get()).To(Equal(http.StatusNotFound))
		Expect(get()).To(Equal(http.StatusNotFound))
		Expect(get()).To(Equal(http.StatusTooManyRequests))
	})

	It("rejects a PUT /status with an unrecognized shutdown mode", func() {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/status", strings.NewReader(`{"status":"bogus"}`))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("rejects a tag update that violates the cross-field rule", func() {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/node/tags", strings.NewReader(`{"exclusive_user":"true"}`))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("accepts a tag update that satisfies the cross-field rule", func() {
		req, _ := http.NewRequest(http.MethodPut, srv.URL+"/node/tags", strings.NewReader(`{"exclusive_user":"true","over_subscribe":"true"}`))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("returns 409 creating a session id that already exists", func() {
		a, selfNode := newTestAgentWithNode()
		dupSrv := httptest.NewServer(agent.NewServer(a).Handler())
		defer dupSrv.Close()

		sid := ids.New()
		body := `{"` + selfNode.String() + `":{"config":{"sessionId":"` + sid.String() + `","computations":{}}},"routing":{"` + sid.String() + `":{"nodes":{}}}}`

		post := func() int {
			resp, err := http.Post(dupSrv.URL+"/sessions", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			return resp.StatusCode
		}

		Expect(post()).To(Equal(http.StatusOK))
		Expect(post()).To(Equal(http.StatusConflict))
	})
})
