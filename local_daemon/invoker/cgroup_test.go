package invoker_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
)

var _ = Describe("Cgroup Pool", func() {
	It("Should admit reservations up to the total budget and block beyond it", func() {
		pool := invoker.NewCgroupPool(2)

		Expect(pool.Reserve(context.Background(), 2)).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		Expect(pool.Reserve(ctx, 1)).To(HaveOccurred())

		pool.Release(2)
		Expect(pool.Reserve(context.Background(), 1)).To(Succeed())
	})
})
