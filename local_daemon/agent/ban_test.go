package agent_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/local_daemon/agent"
)

var _ = Describe("BanList", func() {
	var list *agent.BanList

	BeforeEach(func() {
		list = agent.NewBanList(5, 300*time.Millisecond)
	})

	It("does not ban a source under the threshold", func() {
		for i := 0; i < 5; i++ {
			Expect(list.RecordUnknown("10.0.0.1")).To(BeFalse())
		}
		Expect(list.IsBanned("10.0.0.1")).To(BeFalse())
	})

	It("bans a source once it exceeds the threshold within the window", func() {
		for i := 0; i < 5; i++ {
			list.RecordUnknown("10.0.0.1")
		}
		Expect(list.RecordUnknown("10.0.0.1")).To(BeTrue())
		Expect(list.IsBanned("10.0.0.1")).To(BeTrue())
	})

	It("clears the ban once the window rolls over", func() {
		for i := 0; i < 6; i++ {
			list.RecordUnknown("10.0.0.1")
		}
		Expect(list.IsBanned("10.0.0.1")).To(BeTrue())

		Eventually(func() bool {
			return list.IsBanned("10.0.0.1")
		}, 2*time.Second, 10*time.Millisecond).Should(BeFalse())
	})

	It("tracks distinct sources independently", func() {
		for i := 0; i < 6; i++ {
			list.RecordUnknown("10.0.0.1")
		}
		Expect(list.IsBanned("10.0.0.1")).To(BeTrue())
		Expect(list.IsBanned("10.0.0.2")).To(BeFalse())
	})

	It("reports the number of banned sources in its summary", func() {
		for i := 0; i < 6; i++ {
			list.RecordUnknown("10.0.0.1")
		}
		Expect(list.Summary().BannedSources).To(Equal(1))
	})
})
