package invoker_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/ids"
	"github.com/dreamworksanimation/arras4-node/local_daemon/invoker"
)

type recordingObserver struct {
	reports chan invoker.ExitReport
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{reports: make(chan invoker.ExitReport, 1)}
}

func (r *recordingObserver) OnExit(report invoker.ExitReport) {
	r.reports <- report
}

var _ = Describe("Local Supervisor", func() {
	var sup *invoker.LocalSupervisor

	BeforeEach(func() {
		sup = invoker.NewLocalSupervisor(nil)
	})

	It("Should report a clean exit for a process that exits zero", func() {
		obs := newRecordingObserver()
		sup.OnExit(obs)

		spec := invoker.LaunchSpec{
			ComputationId: ids.New(),
			SessionId:     ids.New(),
			Program:       "/bin/true",
			Packaging:     invoker.PackagingNone,
		}

		Expect(sup.Spawn(context.Background(), spec)).To(Succeed())
		Expect(sup.State()).To(Equal(invoker.Spawned))

		Eventually(obs.reports, 5*time.Second).Should(Receive(Equal(invoker.ExitReport{
			ComputationId: spec.ComputationId,
			SessionId:     spec.SessionId,
			Kind:          invoker.ExitClean,
		})))
		Expect(sup.State()).To(Equal(invoker.Exited))
	})

	It("Should report a nonzero exit for a process that exits with an error code", func() {
		obs := newRecordingObserver()
		sup.OnExit(obs)

		spec := invoker.LaunchSpec{
			ComputationId: ids.New(),
			SessionId:     ids.New(),
			Program:       "/bin/sh",
			Args:          []string{"-c", "exit 7"},
			Packaging:     invoker.PackagingNone,
		}

		Expect(sup.Spawn(context.Background(), spec)).To(Succeed())

		var report invoker.ExitReport
		Eventually(obs.reports, 5*time.Second).Should(Receive(&report))
		Expect(report.Kind).To(Equal(invoker.ExitNonZero))
		Expect(report.Status).To(Equal(7))
	})

	It("Should end Exited with an expected exit report after a soft terminate", func() {
		obs := newRecordingObserver()
		sup.OnExit(obs)

		spec := invoker.LaunchSpec{
			ComputationId: ids.New(),
			SessionId:     ids.New(),
			Program:       "/bin/sleep",
			Args:          []string{"30"},
			Packaging:     invoker.PackagingNone,
		}

		Expect(sup.Spawn(context.Background(), spec)).To(Succeed())
		sup.Terminate(true, true)

		var report invoker.ExitReport
		Eventually(obs.reports, 5*time.Second).Should(Receive(&report))
		Expect(report.Expected).To(BeTrue())
		Expect(sup.State()).To(Equal(invoker.Exited))
	})

	It("Should refuse to spawn twice", func() {
		spec := invoker.LaunchSpec{
			ComputationId: ids.New(),
			SessionId:     ids.New(),
			Program:       "/bin/true",
		}
		Expect(sup.Spawn(context.Background(), spec)).To(Succeed())
		Expect(sup.Spawn(context.Background(), spec)).To(HaveOccurred())
	})

	It("Should wait for exit within the deadline", func() {
		spec := invoker.LaunchSpec{
			ComputationId: ids.New(),
			SessionId:     ids.New(),
			Program:       "/bin/true",
		}
		Expect(sup.Spawn(context.Background(), spec)).To(Succeed())
		Expect(sup.WaitUntilExit(5 * time.Second)).To(BeTrue())
	})

	It("Should log through the shared package logger without panicking", func() {
		Expect(globalLogger).NotTo(BeNil())
	})
})
