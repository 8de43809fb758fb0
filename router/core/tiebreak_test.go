package core_test

import (
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/router/core"
	"github.com/dreamworksanimation/arras4-node/router/transport"
)

// idGreaterThan and idLessThan generate a fresh id on the requested side
// of ref, since the tie-break (spec 4.E, P3) only cares about relative
// ordering, never concrete values.
func idGreaterThan(ref ids.NodeId) ids.NodeId {
	for {
		if id := ids.New(); id.GreaterThan(ref) {
			return id
		}
	}
}

func idLessThan(ref ids.NodeId) ids.NodeId {
	for {
		if id := ids.New(); ref.GreaterThan(id) {
			return id
		}
	}
}

var _ = Describe("node-to-node tie-break", func() {
	var (
		r       *core.Router
		localId ids.NodeId
	)

	BeforeEach(func() {
		localId = ids.New()
		r = core.New(core.Config{NodeId: localId, ListenTCP: "127.0.0.1:0"})
		Expect(r.Start()).To(Succeed())
		DeferCleanup(r.Stop)
	})

	It("keeps an inbound NODE connection when the peer's id is greater", func() {
		peerId := idGreaterThan(localId)

		conn, err := net.Dial("tcp", r.TCPAddr().String())
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(transport.WriteRegistration(conn, transport.Registration{
			Type:   transport.TypeNode,
			NodeId: peerId,
		})).To(Succeed())

		Eventually(func() bool {
			_, ok := r.Registry.FindNode(peerId)
			return ok
		}, time.Second).Should(BeTrue())
	})

	It("refuses an inbound NODE connection when the peer's id is lesser", func() {
		peerId := idLessThan(localId)

		conn, err := net.Dial("tcp", r.TCPAddr().String())
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		Expect(transport.WriteRegistration(conn, transport.Registration{
			Type:   transport.TypeNode,
			NodeId: peerId,
		})).To(Succeed())

		conn.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 1)
		_, err = conn.Read(buf)
		Expect(err).To(Equal(io.EOF))

		_, ok := r.Registry.FindNode(peerId)
		Expect(ok).To(BeFalse())
	})
})
