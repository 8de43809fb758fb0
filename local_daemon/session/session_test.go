package session_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
	"github.com/dreamworksanimation/arras4-node/router/control"
)

func basicDefinition(selfNode, sessionId ids.NodeId) session.Definition {
	return session.Definition{
		Config: map[string]session.Config{
			selfNode.String(): {
				SessionId: sessionId,
				Computations: map[string]session.ComputationDefinition{
					"comp-a": {Program: "/bin/true"},
					"comp-b": {Program: "/bin/true"},
				},
			},
		},
		Routing: map[string]session.Routing{
			sessionId.String(): {
				Nodes: map[string]session.NodeRouting{
					selfNode.String(): {Host: "host-a", IP: "10.0.0.1", Port: 9000, Entry: true},
				},
			},
		},
	}
}

var _ = Describe("Session", func() {
	var (
		selfNode  ids.NodeId
		sessionId ids.SessionId
		router    *fakeRouter
		sink      *fakeSink
		sups      map[ids.ComputationId]*fakeSupervisor
		supsMu    sync.Mutex
		s         *session.Session
	)

	BeforeEach(func() {
		selfNode = ids.New()
		sessionId = ids.New()
		router = newFakeRouter()
		sink = newFakeSink()
		sups = make(map[ids.ComputationId]*fakeSupervisor)
		s = session.New(sessionId, selfNode, router, supervisorFactory(sups, &supsMu), sink, nil, time.Second)
	})

	It("starts Free", func() {
		Expect(s.State()).To(Equal(session.Free))
	})

	Describe("Create", func() {
		It("registers the session with the router and spawns every computation", func() {
			resp, err := s.Create(context.Background(), basicDefinition(selfNode, sessionId))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Errors).To(BeEmpty())
			Expect(resp.Computations).To(HaveLen(2))
			Expect(resp.Computations["comp-a"].CompId).To(Equal(resp.Computations["comp-a"].HostId))

			Expect(router.registered).To(HaveLen(1))
			Expect(router.registered[0].SessionId).To(Equal(sessionId))

			Expect(s.GetStatus().Computations).To(HaveLen(2))
			Expect(s.State()).To(Equal(session.Free))

			events := sink.snapshot()
			var readyCount int
			for _, e := range events {
				if e.Kind == session.EventComputationReady {
					readyCount++
				}
			}
			Expect(readyCount).To(Equal(2))
		})

		It("fails fast without touching the router when no config matches this node", func() {
			def := basicDefinition(selfNode, sessionId)
			delete(def.Config, selfNode.String())

			_, err := s.Create(context.Background(), def)
			Expect(err).To(HaveOccurred())
			Expect(router.registered).To(BeEmpty())
			Expect(s.State()).To(Equal(session.Free))
		})

		It("rejects a second Create while the first is still running", func() {
			slow := newSlowRouter()
			id2 := ids.New()
			s2 := session.New(id2, selfNode, slow, supervisorFactory(sups, &supsMu), sink, nil, time.Second)

			done := make(chan error, 1)
			go func() {
				_, err := s2.Create(context.Background(), basicDefinition(selfNode, id2))
				done <- err
			}()

			Eventually(slow.started, time.Second).Should(Receive())

			_, err := s2.Create(context.Background(), basicDefinition(selfNode, id2))
			Expect(err).To(MatchError(session.ErrBusy))

			close(slow.proceed)
			Eventually(done, time.Second).Should(Receive(BeNil()))
		})
	})

	Describe("Modify", func() {
		BeforeEach(func() {
			_, err := s.Create(context.Background(), basicDefinition(selfNode, sessionId))
			Expect(err).NotTo(HaveOccurred())
		})

		It("spawns newly added computations and leaves existing ones alone", func() {
			def := basicDefinition(selfNode, sessionId)
			cfg := def.Config[selfNode.String()]
			cfg.Computations["comp-c"] = session.ComputationDefinition{Program: "/bin/true"}
			def.Config[selfNode.String()] = cfg

			resp, err := s.Modify(context.Background(), def)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Errors).To(BeEmpty())
			Expect(s.GetStatus().Computations).To(HaveLen(3))
		})

		It("terminates removed computations", func() {
			def := basicDefinition(selfNode, sessionId)
			cfg := def.Config[selfNode.String()]
			delete(cfg.Computations, "comp-b")
			def.Config[selfNode.String()] = cfg

			_, err := s.Modify(context.Background(), def)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.GetStatus().Computations).To(HaveLen(1))
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := s.Create(context.Background(), basicDefinition(selfNode, sessionId))
			Expect(err).NotTo(HaveOccurred())
		})

		It("terminates every computation, releases routing, and becomes Defunct", func() {
			Expect(s.Delete("shutting down")).To(Succeed())
			Expect(s.State()).To(Equal(session.Defunct))
			Expect(router.released).To(ConsistOf([]ids.SessionId{sessionId}))
			Expect(router.disconnected).To(ConsistOf([]ids.SessionId{sessionId}))

			for _, sup := range sups {
				Expect(sup.terminated).To(BeTrue())
			}
		})

		It("refuses any further operation once Defunct", func() {
			Expect(s.Delete("first")).To(Succeed())
			Expect(s.Delete("second")).To(MatchError(session.ErrBusy))
		})
	})

	Describe("Signal", func() {
		It("delivers the first run as go and repeats as update", func() {
			Expect(s.Signal(session.Signal{Name: session.SignalRun})).To(Succeed())
			Expect(s.Signal(session.Signal{Name: session.SignalRun})).To(Succeed())

			signals := router.signalsSnapshot()
			Expect(signals).To(HaveLen(2))
			Expect(signals[0].SessionId).To(Equal(sessionId))
			Expect(signals[0].Kind).To(Equal(control.SignalGo))
			Expect(signals[1].Kind).To(Equal(control.SignalUpdate))
		})

		It("carries client-addresser rules with a run signal", func() {
			Expect(s.Signal(session.Signal{
				Name:            session.SignalRun,
				ClientAddresser: map[string]string{"class-a": "comp-a"},
			})).To(Succeed())

			signals := router.signalsSnapshot()
			Expect(signals).To(HaveLen(1))
			Expect(signals[0].ClientAddresser).To(ConsistOf(control.AddresserRule{Key: "class-a", Value: "comp-a"}))
		})

		It("delivers engineReady as its own signal kind", func() {
			Expect(s.Signal(session.Signal{Name: session.SignalEngineReady})).To(Succeed())

			signals := router.signalsSnapshot()
			Expect(signals).To(HaveLen(1))
			Expect(signals[0].SessionId).To(Equal(sessionId))
			Expect(signals[0].Kind).To(Equal(control.SignalEngineReady))
		})

		It("rejects an unknown signal name", func() {
			Expect(s.Signal(session.Signal{Name: "bogus"})).To(HaveOccurred())
		})
	})

	Describe("GetPerformance", func() {
		It("returns a snapshot per computation", func() {
			_, err := s.Create(context.Background(), basicDefinition(selfNode, sessionId))
			Expect(err).NotTo(HaveOccurred())

			perf := s.GetPerformance()
			Expect(perf).To(HaveLen(2))
		})
	})
})

var _ = Describe("fakeSupervisor", func() {
	It("starts in the NotSpawned state", func() {
		sup := newFakeSupervisor()
		Expect(sup.State()).To(Equal(invoker.NotSpawned))
	})
})
