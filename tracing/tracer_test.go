package tracing

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmcore/datarecording"
)

func step(id, what string) Task {
	return Task{ID: id, Steps: []TaskStep{{What: what}}}
}

var _ = Describe("TotalTimeTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		tracer     *TotalTimeTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		tracer = NewTotalTimeTracer(timeTeller, KindFilter("fault"))
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should sum the time of matching tasks", func() {
		gomock.InOrder(
			timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(1)),
			timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(2)),
			timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(4)),
			timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(7)),
		)

		tracer.StartTask(Task{ID: "1", Kind: "fault"})
		tracer.StartTask(Task{ID: "2", Kind: "fault"})
		tracer.EndTask(Task{ID: "1"})
		tracer.EndTask(Task{ID: "2"})

		Expect(tracer.TotalTime()).To(Equal(VTimeInSec(8)))
		Expect(tracer.TaskCount()).To(Equal(uint64(2)))
		Expect(tracer.AverageTime()).To(Equal(VTimeInSec(4)))
	})

	It("should ignore filtered tasks", func() {
		timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(1)).Times(2)

		tracer.StartTask(Task{ID: "1", Kind: "evict"})
		tracer.EndTask(Task{ID: "1"})

		Expect(tracer.TotalTime()).To(Equal(VTimeInSec(0)))
		Expect(tracer.AverageTime()).To(Equal(VTimeInSec(0)))
	})
})

var _ = Describe("StepCountTracer", func() {
	It("should count steps and tasks with steps", func() {
		tracer := NewStepCountTracer(KindFilter("fault"))

		tracer.StartTask(Task{ID: "1", Kind: "fault"})
		tracer.StartTask(Task{ID: "2", Kind: "fault"})
		tracer.StartTask(Task{ID: "3", Kind: "evict"})

		tracer.StepTask(step("1", "evict"))
		tracer.StepTask(step("1", "evict"))
		tracer.StepTask(step("2", "evict"))
		tracer.StepTask(step("2", "swap_in"))
		tracer.StepTask(step("3", "evict"))

		tracer.EndTask(Task{ID: "1"})
		tracer.StepTask(step("1", "evict"))

		Expect(tracer.GetStepNames()).To(Equal([]string{"evict", "swap_in"}))
		Expect(tracer.GetStepCount("evict")).To(Equal(uint64(3)))
		Expect(tracer.GetTaskCount("evict")).To(Equal(uint64(2)))
		Expect(tracer.GetTaskCount("swap_in")).To(Equal(uint64(1)))
	})
})

var _ = Describe("DBTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		path       string
		recorder   datarecording.DataRecorder
		tracer     *DBTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		path = filepath.Join(GinkgoT().TempDir(), "trace")
		recorder = datarecording.New(path)
		tracer = NewDBTracer(timeTeller, recorder)
	})

	AfterEach(func() {
		recorder.Close()
		mockCtrl.Finish()
	})

	query := func(table string, sample any) []any {
		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable(table, sample)
		results, _, err := reader.Query(context.Background(), table,
			datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())

		return results
	}

	It("should record finished tasks with their steps", func() {
		gomock.InOrder(
			timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(1)),
			timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(2)),
			timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(3)),
		)

		tracer.StartTask(Task{
			ID: "1", Kind: "fault", What: "not_present", Where: "SPT[1]",
		})
		tracer.StepTask(step("1", "claim"))
		tracer.EndTask(Task{ID: "1"})
		tracer.Terminate()

		tasks := query("trace", taskTableEntry{})
		Expect(tasks).To(ConsistOf(&taskTableEntry{
			ID:        "1",
			Kind:      "fault",
			What:      "not_present",
			Location:  "SPT[1]",
			StartTime: 1,
			EndTime:   3,
		}))

		steps := query("trace_steps", stepTableEntry{})
		Expect(steps).To(ConsistOf(&stepTableEntry{
			TaskID: "1", Time: 2, What: "claim",
		}))
	})

	It("should drop tasks that end before the time range", func() {
		tracer.SetTimeRange(10, 0)
		timeTeller.EXPECT().CurrentTime().Return(VTimeInSec(1)).Times(2)

		tracer.StartTask(Task{ID: "1", Kind: "fault", What: "w", Where: "x"})
		tracer.EndTask(Task{ID: "1"})
		tracer.Terminate()

		Expect(query("trace", taskTableEntry{})).To(BeEmpty())
	})

	It("should ignore tasks after termination", func() {
		tracer.Terminate()

		Expect(func() {
			tracer.StartTask(Task{ID: "1", Kind: "fault"})
			tracer.EndTask(Task{ID: "1"})
		}).NotTo(Panic())
	})
})
