package agent_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/agent"
	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
)

var _ = Describe("EventQueue", func() {
	var (
		orch *fakeOrchestrator
		q    *agent.EventQueue
		stop chan struct{}
	)

	BeforeEach(func() {
		orch = newFakeOrchestrator()
		q = agent.NewEventQueue(orch, nil, 16)
		stop = make(chan struct{})
		go q.Run(stop)
	})

	AfterEach(func() {
		close(stop)
	})

	It("reports a computation-ready event as a host-status-ready call", func() {
		sid := ids.SessionId(ids.New())
		cid := ids.ComputationId(ids.New())
		q.Publish(session.Event{Kind: session.EventComputationReady, SessionId: sid, ComputationId: cid})

		Eventually(func() []hostReady {
			ready, _, _ := orch.snapshot()
			return ready
		}).Should(ContainElement(hostReady{sid.String(), cid.String()}))
	})

	It("reports a computation-terminated event as a computation delete, after the pre-delete delay", func() {
		sid := ids.SessionId(ids.New())
		cid := ids.ComputationId(ids.New())
		start := time.Now()
		q.Publish(session.Event{Kind: session.EventComputationTerminated, SessionId: sid, ComputationId: cid, Reason: "done"})

		Eventually(func() []compDelete {
			_, comps, _ := orch.snapshot()
			return comps
		}).Should(ContainElement(compDelete{sid.String(), cid.String(), "done"}))
		Expect(time.Since(start)).To(BeNumerically(">=", agent.PreDeleteDelay))
	})

	It("reports a session-client-disconnected event as a session delete", func() {
		sid := ids.SessionId(ids.New())
		q.Publish(session.Event{Kind: session.EventSessionClientDisconnected, SessionId: sid, Reason: "client gone"})

		Eventually(func() []sessionDelete {
			_, _, sessions := orch.snapshot()
			return sessions
		}).Should(ContainElement(sessionDelete{sid.String(), string(session.EventSessionClientDisconnected), "client gone"}))
	})

	It("invokes onShutdown exactly once for a shutdownWithError event", func() {
		calls := make(chan string, 4)
		q2 := agent.NewEventQueue(orch, func(reason string) { calls <- reason }, 16)
		stop2 := make(chan struct{})
		go q2.Run(stop2)
		defer close(stop2)

		q2.Publish(session.Event{Kind: session.EventShutdownWithError, Reason: "disk full"})

		var got string
		Eventually(calls).Should(Receive(&got))
		Expect(got).To(Equal("disk full"))
	})

	It("drops events once the buffer is full instead of blocking the publisher", func() {
		full := agent.NewEventQueue(orch, nil, 1)
		// No worker is running, so the channel fills after the first send.
		full.Publish(session.Event{Kind: session.EventComputationReady})

		done := make(chan struct{})
		go func() {
			full.Publish(session.Event{Kind: session.EventComputationReady})
			close(done)
		}()
		Eventually(done).Should(BeClosed())
	})

	It("DrainTimeout returns true once the queue empties", func() {
		Expect(q.DrainTimeout(time.Second)).To(BeTrue())
	})
})
