package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frametable"
	"github.com/sarchlab/vmcore/mem/vm/spt"
)

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		ft     *frametable.Comp
		as     *spt.SupplementalPageTable
		router http.Handler
	)

	get := func(path string, v any) int {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code == http.StatusOK && v != nil {
			Expect(json.Unmarshal(rec.Body.Bytes(), v)).To(Succeed())
		}

		return rec.Code
	}

	BeforeEach(func() {
		ft = frametable.MakeBuilder().WithNumFrames(4).Build("FrameTable")
		as = spt.MakeBuilder().
			WithPID(7).
			WithPageTable(vm.NewPageTable(12)).
			WithFrameTable(ft).
			Build("Process7")

		m = NewMonitor()
		m.RegisterFrameTable(ft)
		m.RegisterAddressSpace(as)
		router = m.Router()

		Expect(as.AllocatePage(vm.KindAnon, 0x1000, true, nil, nil)).To(Succeed())
		Expect(as.AllocatePage(vm.KindAnon, 0x2000, false, nil, nil)).To(Succeed())
		Expect(as.Store(0x1000, []byte{1})).To(Succeed())
	})

	It("should list frame tables", func() {
		var rsp []frameTableRsp

		Expect(get("/api/frame_tables", &rsp)).To(Equal(http.StatusOK))

		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].Name).To(Equal("FrameTable"))
		Expect(rsp[0].Stats.NumFrames).To(Equal(4))
		Expect(rsp[0].Stats.Resident).To(Equal(1))
	})

	It("should list resident frames", func() {
		var rsp []frametable.FrameInfo

		Expect(get("/api/frame_table/FrameTable/resident", &rsp)).
			To(Equal(http.StatusOK))

		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].PID).To(Equal(vm.PID(7)))
		Expect(rsp[0].VAddr).To(Equal(uint64(0x1000)))
	})

	It("should list address spaces", func() {
		var rsp []addressSpaceRsp

		Expect(get("/api/address_spaces", &rsp)).To(Equal(http.StatusOK))

		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].PID).To(Equal(vm.PID(7)))
		Expect(rsp[0].NumPages).To(Equal(2))
		Expect(rsp[0].Stats.Resolved).To(Equal(uint64(1)))
	})

	It("should list the pages of an address space", func() {
		var rsp []pageRsp

		Expect(get("/api/address_space/Process7/pages", &rsp)).
			To(Equal(http.StatusOK))

		Expect(rsp).To(HaveLen(2))
		Expect(rsp[0].Kind).To(Equal("anon"))
		Expect(rsp[0].Resident).To(BeTrue())
		Expect(rsp[1].Kind).To(Equal("uninit"))
		Expect(rsp[1].Target).To(Equal("anon"))
		Expect(rsp[1].Resident).To(BeFalse())
		Expect(rsp[1].Frame).To(Equal(int32(vm.NoFrame)))
	})

	It("should serialize components", func() {
		for _, name := range []string{"Process7", "FrameTable"} {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec,
				httptest.NewRequest(http.MethodGet, "/api/component/"+name, nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"Stats"`))

			var doc map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &doc)).To(Succeed())
			Expect(doc).To(HaveKey("dict"))
		}

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec,
			httptest.NewRequest(http.MethodGet, "/api/component/Process7", nil))
		Expect(rec.Body.String()).To(ContainSubstring(`"StackBottom"`))
	})

	It("should stop listing unregistered address spaces", func() {
		m.UnregisterAddressSpace(as)

		Expect(get("/api/address_space/Process7/pages", nil)).
			To(Equal(http.StatusNotFound))
	})

	It("should report unknown components", func() {
		Expect(get("/api/frame_table/Nothing/resident", nil)).
			To(Equal(http.StatusNotFound))
		Expect(get("/api/component/Nothing", nil)).
			To(Equal(http.StatusNotFound))
	})

	It("should report progress", func() {
		bar := m.CreateProgressBar("Workload", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)
		other := m.CreateProgressBar("Other", 1)
		m.CompleteProgressBar(other)

		var rsp []progressBarRsp
		Expect(get("/api/progress", &rsp)).To(Equal(http.StatusOK))

		Expect(rsp).To(HaveLen(1))
		Expect(rsp[0].Name).To(Equal("Workload"))
		Expect(rsp[0].Total).To(Equal(uint64(10)))
		Expect(rsp[0].InProgress).To(Equal(uint64(1)))
		Expect(rsp[0].Finished).To(Equal(uint64(2)))
	})

	It("should not accept reserved port numbers", func() {
		Expect(m.WithPortNumber(80).portNumber).To(Equal(0))
		Expect(m.WithPortNumber(8080).portNumber).To(Equal(8080))
	})
})
