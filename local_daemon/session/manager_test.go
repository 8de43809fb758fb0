package session_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/session"
)

var _ = Describe("Manager", func() {
	var (
		selfNode ids.NodeId
		router   *fakeRouter
		sink     *fakeSink
		sups     map[ids.ComputationId]*fakeSupervisor
		supsMu   sync.Mutex
		m        *session.Manager
	)

	BeforeEach(func() {
		selfNode = ids.New()
		router = newFakeRouter()
		sink = newFakeSink()
		sups = make(map[ids.ComputationId]*fakeSupervisor)
		m = session.NewManager(selfNode, router, supervisorFactory(sups, &supsMu), sink, nil, time.Second)
	})

	It("creates, lists, and deletes a session", func() {
		id := ids.New()
		_, err := m.Create(context.Background(), id, basicDefinition(selfNode, id))
		Expect(err).NotTo(HaveOccurred())

		Expect(m.ListActive()).To(ConsistOf([]ids.SessionId{id}))

		status, err := m.GetStatus(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Computations).To(HaveLen(2))

		Expect(m.Delete(id, "done")).To(Succeed())
		Expect(m.ListActive()).To(BeEmpty())

		status, err = m.GetStatus(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.State).To(Equal(session.Defunct.String()))
	})

	It("refuses to create a session id that already exists", func() {
		id := ids.New()
		_, err := m.Create(context.Background(), id, basicDefinition(selfNode, id))
		Expect(err).NotTo(HaveOccurred())

		_, err = m.Create(context.Background(), id, basicDefinition(selfNode, id))
		Expect(err).To(MatchError(session.ErrAlreadyExists))
	})

	It("fails every lookup against an unknown session", func() {
		_, err := m.GetStatus(ids.New())
		Expect(err).To(HaveOccurred())
	})

	It("tears down every active session within the deadline and rejects new work afterward", func() {
		var idList []ids.SessionId
		for i := 0; i < 3; i++ {
			id := ids.New()
			_, err := m.Create(context.Background(), id, basicDefinition(selfNode, id))
			Expect(err).NotTo(HaveOccurred())
			idList = append(idList, id)
		}

		errs := m.ShutdownAll("node draining", 5*time.Second)
		Expect(errs).To(BeEmpty())
		Expect(m.ListActive()).To(BeEmpty())

		_, err := m.Create(context.Background(), ids.New(), basicDefinition(selfNode, ids.New()))
		Expect(err).To(MatchError(session.ErrShuttingDown))
	})
})
