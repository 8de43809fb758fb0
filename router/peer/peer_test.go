package peer_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/router/peer"
)

var _ = Describe("Registry", func() {
	var r *peer.Registry

	BeforeEach(func() {
		r = peer.NewRegistry()
	})

	It("finds a tracked client peer back by the same session id", func() {
		sid := ids.New()
		p := peer.New(peer.ClassClient, nil)
		p.SessionId = sid

		r.TrackClient(sid, p)

		found, ok := r.FindClient(sid)
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(p))
	})

	It("finds a tracked node peer back by the same node id", func() {
		nid := ids.New()
		p := peer.New(peer.ClassNode, nil)
		p.NodeId = nid

		r.TrackNode(nid, p)

		found, ok := r.FindNode(nid)
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(p))
	})

	It("finds a tracked computation peer back by the same computation id", func() {
		cid := ids.New()
		p := peer.New(peer.ClassComputation, nil)
		p.ComputationId = cid

		r.TrackComputation(cid, p)

		found, ok := r.FindComputation(cid)
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(p))
	})

	It("accepts a single control peer and refuses a second", func() {
		first := peer.New(peer.ClassControlPlane, nil)
		second := peer.New(peer.ClassControlPlane, nil)

		Expect(r.TrackControl(first)).To(BeTrue())
		Expect(r.TrackControl(second)).To(BeFalse())

		found, ok := r.FindControl()
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(first))
	})

	It("makes a peer unfindable once untracked, without disturbing other peers", func() {
		nid1, nid2 := ids.New(), ids.New()
		p1 := peer.New(peer.ClassNode, nil)
		p1.NodeId = nid1
		p2 := peer.New(peer.ClassNode, nil)
		p2.NodeId = nid2

		r.TrackNode(nid1, p1)
		r.TrackNode(nid2, p2)

		r.Untrack(p1)

		_, ok := r.FindNode(nid1)
		Expect(ok).To(BeFalse())

		found, ok := r.FindNode(nid2)
		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(p2))
	})

	It("releases the control slot once the control peer is untracked", func() {
		p := peer.New(peer.ClassControlPlane, nil)
		Expect(r.TrackControl(p)).To(BeTrue())

		r.Untrack(p)

		_, ok := r.FindControl()
		Expect(ok).To(BeFalse())

		replacement := peer.New(peer.ClassControlPlane, nil)
		Expect(r.TrackControl(replacement)).To(BeTrue())
	})

	It("drains stashed envelopes into a client peer's send queue once tracked", func() {
		sid := ids.New()
		r.Stash(sid, nil)
		r.Stash(sid, nil)

		p := peer.New(peer.ClassClient, nil)
		p.SessionId = sid
		r.TrackClient(sid, p)

		Expect(p.SendQueue().Len()).To(Equal(2))
	})
})
