package routing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/router/routing"
)

var _ = Describe("Table", func() {
	var (
		table *routing.Table
		sid   ids.SessionId
	)

	BeforeEach(func() {
		table = routing.NewTable()
		sid = ids.New()
	})

	It("promotes an initialized entry and reports it in Len", func() {
		data := routing.NewData(sid)
		table.Initialize(data)

		Expect(table.Len()).To(Equal(1))

		promoted, ok := table.Promote(sid)
		Expect(ok).To(BeTrue())
		Expect(promoted).To(BeIdenticalTo(data))
	})

	It("still promotes after Release but not after Delete", func() {
		data := routing.NewData(sid)
		table.Initialize(data)

		table.Release(sid)
		_, ok := table.Promote(sid)
		Expect(ok).To(BeTrue())
		Expect(table.Len()).To(Equal(1))

		table.Delete(sid)
		_, ok = table.Promote(sid)
		Expect(ok).To(BeFalse())
		Expect(table.Len()).To(Equal(0))
	})

	It("fails to promote an unknown session", func() {
		_, ok := table.Promote(ids.New())
		Expect(ok).To(BeFalse())
	})

	Describe("Data", func() {
		var data *routing.Data

		BeforeEach(func() {
			data = routing.NewData(sid)
		})

		It("never overwrites an existing node entry (replay-safe)", func() {
			nid := ids.New()
			data.AddNode(nid, routing.Endpoint{Hostname: "first", Port: 1})
			data.AddNode(nid, routing.Endpoint{Hostname: "second", Port: 2})

			ep, ok := data.Node(nid)
			Expect(ok).To(BeTrue())
			Expect(ep.Hostname).To(Equal("first"))
		})

		It("tracks the entry node from an Entry-flagged AddNode call", func() {
			nid := ids.New()
			data.AddNode(nid, routing.Endpoint{Hostname: "entry", Entry: true})
			Expect(data.EntryNode()).To(Equal(nid))
		})

		It("never overwrites an existing computation entry and enumerates all of them", func() {
			nid := ids.New()
			cid1, cid2 := ids.New(), ids.New()

			data.AddComputation("renderer", routing.ComputationRef{NodeId: nid, ComputationId: cid1})
			data.AddComputation("renderer", routing.ComputationRef{NodeId: nid, ComputationId: cid2})

			ref, ok := data.Computation("renderer")
			Expect(ok).To(BeTrue())
			Expect(ref.ComputationId).To(Equal(cid1))

			data.AddComputation("merger", routing.ComputationRef{NodeId: nid, ComputationId: cid2})
			Expect(data.Computations()).To(HaveLen(2))
		})

		It("has no addresser until one is set", func() {
			_, ok := data.Addresser()
			Expect(ok).To(BeFalse())
		})

		It("resolves a client-addresser rule once installed", func() {
			addresser := routing.NewClientAddresser()
			cid := ids.New()
			addresser.SetRule("rdl.message", []ids.ComputationId{cid})
			data.SetAddresser(addresser)

			got, ok := data.Addresser()
			Expect(ok).To(BeTrue())

			dests, ok := got.Resolve("rdl.message")
			Expect(ok).To(BeTrue())
			Expect(dests).To(ConsistOf([]ids.ComputationId{cid}))
		})
	})
})
