package workload

import (
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	writeFile := func(content string) string {
		path := filepath.Join(GinkgoT().TempDir(), "workload.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

		return path
	}

	It("should have a valid default", func() {
		Expect(DefaultConfig().Validate()).To(Succeed())
	})

	It("should load YAML on top of the default", func() {
		path := writeFile(`
seed: 42
num_frames: 64
processes: 2
fork: false
write_ratio: 0.25
`)

		c, err := LoadConfig(path)

		Expect(err).NotTo(HaveOccurred())

		want := DefaultConfig()
		want.Seed = 42
		want.NumFrames = 64
		want.Processes = 2
		want.Fork = false
		want.WriteRatio = 0.25
		Expect(cmp.Diff(want, c)).To(BeEmpty())
	})

	It("should reject unknown keys", func() {
		path := writeFile("num_pages: 3\n")

		_, err := LoadConfig(path)

		Expect(err).To(MatchError(ContainSubstring("num_pages")))
	})

	It("should report a missing file", func() {
		_, err := LoadConfig(filepath.Join(GinkgoT().TempDir(), "none.yaml"))

		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should need two frames per address space", func() {
		c := DefaultConfig()
		c.Processes = 4
		c.Fork = true
		c.NumFrames = 15

		Expect(c.Validate()).To(MatchError(ContainSubstring("num_frames 15")))

		c.Fork = false
		Expect(c.Validate()).To(Succeed())
	})

	It("should need swap for every anonymous page", func() {
		c := DefaultConfig()
		c.NumSwapSlots = 16

		Expect(c.Validate()).To(MatchError(ContainSubstring("num_swap_slots 16")))
	})

	It("should need a stack that fits the pushes", func() {
		c := DefaultConfig()
		c.StackLimit = 4096

		Expect(c.Validate()).To(MatchError(ContainSubstring("stack_limit")))
	})

	It("should need a page aligned stack limit", func() {
		c := DefaultConfig()
		c.StackLimit = 1<<20 + 8

		Expect(c.Validate()).To(MatchError(ContainSubstring("multiple of the page size")))
	})

	It("should join every problem", func() {
		c := DefaultConfig()
		c.Processes = 0
		c.WriteRatio = 2
		c.Log2PageSize = 3

		err := c.Validate()

		Expect(err).To(MatchError(ContainSubstring("processes")))
		Expect(err).To(MatchError(ContainSubstring("write_ratio")))
		Expect(err).To(MatchError(ContainSubstring("log2_page_size")))
	})
})
