package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type evictDetail struct {
	vAddr uint64
}

func (d evictDetail) LogFields() map[string]any {
	return map[string]any{"vaddr": d.vAddr}
}

type namedDomain struct {
	HookableBase
}

func (d *namedDomain) Name() string {
	return "FrameTable"
}

var _ = Describe("HookableBase", func() {
	var (
		domain *namedDomain
	)

	BeforeEach(func() {
		domain = &namedDomain{}
	})

	It("should invoke hooks in registration order", func() {
		var order []int
		domain.AcceptHook(HookFunc(func(HookCtx) { order = append(order, 1) }))
		domain.AcceptHook(HookFunc(func(HookCtx) { order = append(order, 2) }))

		domain.InvokeHook(HookCtx{Domain: domain})

		Expect(order).To(Equal([]int{1, 2}))
		Expect(domain.NumHooks()).To(Equal(2))
	})

	It("should panic on duplicated hook", func() {
		logger, _ := test.NewNullLogger()
		hook := NewLogHook(logger)
		domain.AcceptHook(hook)

		Expect(func() { domain.AcceptHook(hook) }).To(Panic())
	})

	It("should log structured fields", func() {
		logger, logs := test.NewNullLogger()
		logger.SetLevel(logrus.DebugLevel)
		domain.AcceptHook(NewLogHook(logger))

		domain.InvokeHook(HookCtx{
			Domain: domain,
			Pos:    &HookPos{Name: "Evict"},
			Item:   evictDetail{vAddr: 0x1000},
		})

		Expect(logs.Entries).To(HaveLen(1))
		entry := logs.LastEntry()
		Expect(entry.Level).To(Equal(logrus.DebugLevel))
		Expect(entry.Data).To(HaveKeyWithValue("pos", "Evict"))
		Expect(entry.Data).To(HaveKeyWithValue("domain", "FrameTable"))
		Expect(entry.Data).To(HaveKeyWithValue("vaddr", uint64(0x1000)))
	})

	It("should log at the configured level", func() {
		logger, logs := test.NewNullLogger()
		domain.AcceptHook(NewLogHook(logger).WithLevel(logrus.InfoLevel))

		domain.InvokeHook(HookCtx{Domain: domain, Item: "plain"})

		Expect(logs.LastEntry().Level).To(Equal(logrus.InfoLevel))
		Expect(logs.LastEntry().Data).To(HaveKeyWithValue("item", "plain"))
	})

	DescribeTable("should keep the level of every entry",
		func(level logrus.Level) {
			logger, logs := test.NewNullLogger()
			logger.SetLevel(logrus.TraceLevel)
			domain.AcceptHook(NewLogHook(logger).WithLevel(level))

			domain.InvokeHook(HookCtx{Domain: domain})

			Expect(logs.Entries).To(HaveLen(1))
			Expect(logs.LastEntry().Level).To(Equal(level))
		},
		Entry("trace", logrus.TraceLevel),
		Entry("debug", logrus.DebugLevel),
		Entry("info", logrus.InfoLevel),
		Entry("warn", logrus.WarnLevel),
		Entry("error", logrus.ErrorLevel),
	)

	It("should not log below the level of the logger", func() {
		logger, logs := test.NewNullLogger()
		logger.SetLevel(logrus.ErrorLevel)
		domain.AcceptHook(NewLogHook(logger))

		domain.InvokeHook(HookCtx{Domain: domain})

		Expect(logs.Entries).To(BeEmpty())
	})
})
