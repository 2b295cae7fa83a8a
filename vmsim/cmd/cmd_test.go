package cmd

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sarchlab/vmcore/mem/trace"
	"github.com/sarchlab/vmcore/mem/vm/workload"
)

var _ = Describe("Flags", func() {
	var flags *pflag.FlagSet

	BeforeEach(func() {
		flags = pflag.NewFlagSet("test", pflag.ContinueOnError)
		addRootFlags(flags)
		addRunFlags(flags)
	})

	setenv := func(name, value string) {
		Expect(os.Setenv(name, value)).To(Succeed())
		DeferCleanup(os.Unsetenv, name)
	}

	It("should start from the default workload", func() {
		Expect(flags.Parse(nil)).To(Succeed())

		c, err := resolveConfig(flags)

		Expect(err).NotTo(HaveOccurred())
		Expect(cmp.Diff(workload.DefaultConfig(), c)).To(BeEmpty())
	})

	It("should let flags override the config file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "workload.yaml")
		Expect(os.WriteFile(path,
			[]byte("processes: 2\nnum_frames: 20\n"), 0o600)).To(Succeed())

		Expect(flags.Parse([]string{
			"--config", path, "--frames", "40", "--fork=false",
		})).To(Succeed())

		c, err := resolveConfig(flags)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.Processes).To(Equal(2))
		Expect(c.NumFrames).To(Equal(40))
		Expect(c.Fork).To(BeFalse())
	})

	It("should reject an invalid combination", func() {
		Expect(flags.Parse([]string{"--frames", "1"})).To(Succeed())

		_, err := resolveConfig(flags)

		Expect(err).To(MatchError(ContainSubstring("num_frames 1")))
	})

	It("should take defaults from the environment", func() {
		setenv("VMSIM_SEED", "99")
		setenv("VMSIM_WRITE_RATIO", "0.75")
		Expect(flags.Parse([]string{"--write-ratio", "0.1"})).To(Succeed())

		Expect(loadEnv(flags)).To(Succeed())
		c, err := resolveConfig(flags)

		Expect(err).NotTo(HaveOccurred())
		Expect(c.Seed).To(Equal(int64(99)))
		Expect(c.WriteRatio).To(Equal(0.1))
	})

	It("should read the env file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "vmsim.env")
		Expect(os.WriteFile(path,
			[]byte("VMSIM_PROCESSES=3\n"), 0o600)).To(Succeed())
		DeferCleanup(os.Unsetenv, "VMSIM_PROCESSES")

		Expect(flags.Parse([]string{"--env-file", path})).To(Succeed())

		Expect(loadEnv(flags)).To(Succeed())
		processes, _ := flags.GetInt("processes")
		Expect(processes).To(Equal(3))
	})

	It("should ignore a missing env file", func() {
		Expect(flags.Parse([]string{
			"--env-file", filepath.Join(GinkgoT().TempDir(), "none"),
		})).To(Succeed())

		Expect(loadEnv(flags)).To(Succeed())
	})

	It("should report a malformed environment value", func() {
		setenv("VMSIM_FRAMES", "many")
		Expect(flags.Parse(nil)).To(Succeed())

		Expect(loadEnv(flags)).NotTo(Succeed())
	})
})

var _ = Describe("Run", func() {
	It("should run a workload and record its trace", func() {
		dir := GinkgoT().TempDir()
		dbPath := filepath.Join(dir, "trace")
		out := new(bytes.Buffer)

		rootCmd.SetOut(out)
		rootCmd.SetArgs([]string{
			"run",
			"--env-file", filepath.Join(dir, "none"),
			"--processes", "2",
			"--frames", "8",
			"--swap-slots", "64",
			"--anon-pages", "8",
			"--file-pages", "4",
			"--accesses", "200",
			"--pushes", "600",
			"--trace-db", dbPath,
		})

		Expect(rootCmd.Execute()).To(Succeed())

		Expect(out.String()).To(ContainSubstring("forks"))
		Expect(out.String()).To(ContainSubstring("evictions"))
		Expect(out.String()).To(ContainSubstring("faults with claim"))
		Expect(out.String()).To(ContainSubstring("faults with grow_stack"))

		db, err := sql.Open("sqlite3", dbPath+".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer func() { Expect(db.Close()).To(Succeed()) }()

		for _, table := range []string{
			trace.FaultTable, trace.FrameTable, trace.LifecycleTable, "trace",
		} {
			var n int
			Expect(db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)).
				To(Succeed())
			Expect(n).To(BeNumerically(">", 0), table)
		}

		out.Reset()
		rootCmd.SetArgs([]string{"report", dbPath + ".sqlite3"})

		Expect(rootCmd.Execute()).To(Succeed())

		Expect(out.String()).To(ContainSubstring("fault loaded"))
		Expect(out.String()).To(ContainSubstring("frame evict"))
		Expect(out.String()).To(ContainSubstring("fork"))
		Expect(out.String()).To(ContainSubstring("teardown"))
	})

	It("should not summarize a file without a trace", func() {
		path := filepath.Join(GinkgoT().TempDir(), "empty.sqlite3")
		rootCmd.SetOut(new(bytes.Buffer))
		rootCmd.SetErr(new(bytes.Buffer))
		rootCmd.SetArgs([]string{"report", path})

		Expect(rootCmd.Execute()).To(MatchError(ContainSubstring("reading")))
	})
})
