package workload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/mem/vm/frametable"
	"github.com/sarchlab/vmcore/monitoring"
	"github.com/sarchlab/vmcore/sim/hooking"
	"github.com/sarchlab/vmcore/tracing"
)

func smallConfig() Config {
	return Config{
		Seed:         7,
		Log2PageSize: 12,
		NumFrames:    8,
		NumSwapSlots: 64,
		StackLimit:   1 << 20,
		Processes:    2,
		AnonPages:    8,
		FilePages:    4,
		Accesses:     500,
		WriteRatio:   0.5,
		Pushes:       1024,
		Fork:         true,
	}
}

var _ = Describe("Runner", func() {
	It("should keep every process consistent under memory pressure", func() {
		runner := MakeBuilder().WithConfig(smallConfig()).Build("Workload")

		result, err := runner.Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Pushes).To(Equal(uint64(2048)))
		Expect(result.Forks).To(Equal(uint64(2)))
		Expect(result.Loads + result.Stores + result.Violations +
			result.SegFaults).To(Equal(uint64(1000)))
		Expect(result.Frames.Evictions).To(BeNumerically(">", 0))
		Expect(result.SwapStores).To(BeNumerically(">", 0))
		Expect(result.SwapLoads).To(BeNumerically(">", 0))
		Expect(result.Spaces).To(HaveLen(2))
	})

	It("should free every frame at the end", func() {
		runner := MakeBuilder().WithConfig(smallConfig()).Build("Workload")

		result, err := runner.Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Frames.Resident).To(Equal(0))
		Expect(result.Frames.Free).To(Equal(result.Frames.NumFrames))
	})

	It("should reject writes to read-only file pages", func() {
		c := smallConfig()
		c.AnonPages = 0
		c.FilePages = 8
		c.WriteRatio = 1
		c.Fork = false

		runner := MakeBuilder().WithConfig(c).Build("Workload")

		result, err := runner.Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(result.Violations).To(BeNumerically(">", 0))
		Expect(result.Loads).To(BeZero())
		for _, stats := range result.Spaces {
			Expect(stats.AccessViolations).To(BeNumerically(">", 0))
		}
	})

	It("should be repeatable with a single process", func() {
		c := smallConfig()
		c.Processes = 1

		first, err := MakeBuilder().WithConfig(c).Build("A").
			Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		second, err := MakeBuilder().WithConfig(c).Build("B").
			Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		Expect(cmp.Diff(first, second)).To(BeEmpty())
	})

	It("should stop when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := MakeBuilder().WithConfig(smallConfig()).Build("Workload").
			Run(ctx)

		Expect(err).To(MatchError(context.Canceled))
		Expect(result.Frames.Resident).To(Equal(0))
	})

	It("should invoke hooks from every component", func() {
		var frameEvents, spaceEvents atomic.Int64

		hook := hooking.HookFunc(func(ctx hooking.HookCtx) {
			if _, ok := ctx.Item.(frametable.Event); ok {
				frameEvents.Add(1)
			} else {
				spaceEvents.Add(1)
			}
		})

		_, err := MakeBuilder().
			WithConfig(smallConfig()).
			WithHook(hook).
			Build("Workload").
			Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(frameEvents.Load()).To(BeNumerically(">", 0))
		Expect(spaceEvents.Load()).To(BeNumerically(">", 0))
	})

	It("should trace faults", func() {
		tracer := tracing.NewStepCountTracer(tracing.KindFilter("fault"))

		_, err := MakeBuilder().
			WithConfig(smallConfig()).
			WithTracer(tracer).
			Build("Workload").
			Run(context.Background())

		Expect(err).NotTo(HaveOccurred())
		Expect(tracer.GetStepCount("claim")).To(BeNumerically(">", 0))
		Expect(tracer.GetStepCount("grow_stack")).To(BeNumerically(">", 0))
	})

	It("should unregister from the monitor when done", func() {
		m := monitoring.NewMonitor()

		_, err := MakeBuilder().
			WithConfig(smallConfig()).
			WithMonitor(m).
			Build("Workload").
			Run(context.Background())
		Expect(err).NotTo(HaveOccurred())

		rec := httptest.NewRecorder()
		m.Router().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/address_spaces", nil))

		var spaces []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &spaces)).To(Succeed())
		Expect(spaces).To(BeEmpty())

		rec = httptest.NewRecorder()
		m.Router().ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/frame_tables", nil))

		var frameTables []map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &frameTables)).To(Succeed())
		Expect(frameTables).To(HaveLen(1))
	})

	It("should serve the monitor while processes run", func() {
		m := monitoring.NewMonitor()
		router := m.Router()
		runner := MakeBuilder().
			WithConfig(smallConfig()).
			WithMonitor(m).
			Build("Workload")

		done := make(chan error)
		go func() {
			_, err := runner.Run(context.Background())
			done <- err
		}()

		paths := []string{
			"/api/address_space/Workload.Process1/pages",
			"/api/address_space/Workload.Process2/pages",
			"/api/component/Workload.Process1",
			"/api/component/Workload.FrameTable",
			"/api/frame_table/Workload.FrameTable/resident",
			"/api/address_spaces",
		}

		for {
			select {
			case err := <-done:
				Expect(err).NotTo(HaveOccurred())
				return
			default:
			}

			for _, path := range paths {
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec,
					httptest.NewRequest(http.MethodGet, path, nil))
				Expect(rec.Code).To(
					BeElementOf(http.StatusOK, http.StatusNotFound))
			}
		}
	})

	It("should panic on an invalid configuration", func() {
		c := smallConfig()
		c.NumFrames = 1

		Expect(func() { MakeBuilder().WithConfig(c).Build("Workload") }).
			To(Panic())
	})
})

var _ = Describe("Shadow", func() {
	It("should read and write across pages", func() {
		s := make(shadow)
		s[0x1000] = make([]byte, 16)
		s[0x1010] = make([]byte, 16)

		s.write(0x100e, []byte{1, 2, 3, 4}, 4)

		Expect(cmp.Diff([]byte{0, 1, 2, 3, 4, 0}, s.read(0x100d, 6, 4))).
			To(BeEmpty())
	})

	It("should create missing pages on write", func() {
		s := make(shadow)

		s.write(0x2008, []byte{9}, 4)

		Expect(s).To(HaveKey(uint64(0x2000)))
		Expect(s[0x2000][8]).To(Equal(byte(9)))
	})

	It("should clone deeply", func() {
		s := shadow{0x1000: {1, 2}}

		c := s.clone()
		c[0x1000][0] = 5

		Expect(s[0x1000][0]).To(Equal(byte(1)))
	})
})
