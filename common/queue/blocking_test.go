package queue_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dreamworksanimation/arras4-node/common/queue"
)

var _ = Describe("Blocking Queue Tests", func() {
	It("Will unblock a pending Pop as soon as an item is pushed", func() {
		q := queue.NewBlocking[int]()

		type result struct {
			val int
			ok  bool
		}
		done := make(chan result, 1)
		go func() {
			v, ok := q.Pop()
			done <- result{v, ok}
		}()

		time.Sleep(10 * time.Millisecond)
		Expect(q.Push(42)).To(BeNil())

		var r result
		Eventually(done).Should(Receive(&r))
		Expect(r.ok).To(BeTrue())
		Expect(r.val).To(Equal(42))
	})

	It("Will refuse pushes and unblock pending pops after Close", func() {
		q := queue.NewBlocking[string]()

		done := make(chan bool, 1)
		go func() {
			_, ok := q.Pop()
			done <- ok
		}()

		time.Sleep(10 * time.Millisecond)
		q.Close()

		Eventually(done).Should(Receive(BeFalse()))
		Expect(q.Push("late")).To(Equal(queue.ClosedError{}))
	})

	It("Will drain already-queued items after Close before reporting empty", func() {
		q := queue.NewBlocking[int]()
		Expect(q.Push(1)).To(BeNil())
		Expect(q.Push(2)).To(BeNil())
		q.Close()

		v, ok := q.Pop()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(1))

		v, ok = q.Pop()
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(2))

		_, ok = q.Pop()
		Expect(ok).To(BeFalse())
	})
})
