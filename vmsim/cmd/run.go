package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"text/tabwriter"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/mem/trace"
	"github.com/sarchlab/vmcore/mem/vm/workload"
	"github.com/sarchlab/vmcore/monitoring"
	"github.com/sarchlab/vmcore/sim/hooking"
	"github.com/sarchlab/vmcore/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload and report the paging statistics.",
	Long: "`run --config workload.yaml` runs the workload in the file. " +
		"Flags override the values of the file.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true

		config, err := resolveConfig(cmd.Flags())
		if err != nil {
			return err
		}

		return runWorkload(cmd, config)
	},
}

func init() {
	addRunFlags(runCmd.Flags())
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(f *pflag.FlagSet) {
	d := workload.DefaultConfig()

	f.String("config", "", "a YAML file that describes the workload")
	f.Int64("seed", d.Seed, "the seed of the random accesses")
	f.Uint64("log2-page-size", d.Log2PageSize, "the page size as a power of 2")
	f.Int("frames", d.NumFrames, "the number of physical frames")
	f.Uint32("swap-slots", d.NumSwapSlots, "the number of swap slots")
	f.Uint64("stack-limit", d.StackLimit, "the maximum size of a stack")
	f.Uint64("stack-valid-margin", d.StackValidMargin,
		"how far below the stack bottom a push grows the stack, "+
			"0 for half a page")
	f.Int("processes", d.Processes, "the number of concurrent processes")
	f.Int("anon-pages", d.AnonPages, "the anonymous pages of each process")
	f.Int("file-pages", d.FilePages, "the file-backed pages of each process")
	f.Int("accesses", d.Accesses, "the random accesses of each process")
	f.Float64("write-ratio", d.WriteRatio, "the share of accesses that write")
	f.Int("pushes", d.Pushes, "the stack pushes of each process")
	f.Bool("fork", d.Fork, "fork each process and check the copies")

	f.String("trace-db", "",
		"record every fault and frame event in the given sqlite3 file")
	f.Bool("monitor", false, "serve the state of the run over HTTP")
	f.Int("monitor-port", 0, "the port of the monitor, 0 for a random one")
	f.Bool("open-browser", false, "open the monitor in a browser")
}

// resolveConfig starts from the default or the given file and applies the
// flags that were set.
func resolveConfig(flags *pflag.FlagSet) (workload.Config, error) {
	c := workload.DefaultConfig()

	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := workload.LoadConfig(path)
		if err != nil {
			return c, err
		}

		c = loaded
	}

	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}

		err = applyFlag(&c, flags, f.Name)
	})

	if err != nil {
		return c, err
	}

	return c, c.Validate()
}

func applyFlag(c *workload.Config, flags *pflag.FlagSet, name string) error {
	var err error

	switch name {
	case "seed":
		c.Seed, err = flags.GetInt64(name)
	case "log2-page-size":
		c.Log2PageSize, err = flags.GetUint64(name)
	case "frames":
		c.NumFrames, err = flags.GetInt(name)
	case "swap-slots":
		c.NumSwapSlots, err = flags.GetUint32(name)
	case "stack-limit":
		c.StackLimit, err = flags.GetUint64(name)
	case "stack-valid-margin":
		c.StackValidMargin, err = flags.GetUint64(name)
	case "processes":
		c.Processes, err = flags.GetInt(name)
	case "anon-pages":
		c.AnonPages, err = flags.GetInt(name)
	case "file-pages":
		c.FilePages, err = flags.GetInt(name)
	case "accesses":
		c.Accesses, err = flags.GetInt(name)
	case "write-ratio":
		c.WriteRatio, err = flags.GetFloat64(name)
	case "pushes":
		c.Pushes, err = flags.GetInt(name)
	case "fork":
		c.Fork, err = flags.GetBool(name)
	}

	return err
}

func runWorkload(cmd *cobra.Command, config workload.Config) error {
	flags := cmd.Flags()
	builder := workload.MakeBuilder().WithConfig(config)

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		builder = builder.WithHook(
			hooking.NewLogHook(logger).WithLevel(logger.GetLevel()))
	}

	faultTime := tracing.NewTotalTimeTracer(
		tracing.NewWallClock(), tracing.KindFilter("fault"))
	faultSteps := tracing.NewStepCountTracer(tracing.KindFilter("fault"))
	builder = builder.WithTracer(faultTime).WithTracer(faultSteps)

	if path, _ := flags.GetString("trace-db"); path != "" {
		recorder := datarecording.New(path)
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.WithError(err).Error("closing trace database")
			}
		}()

		clock := tracing.NewWallClock()
		builder = builder.
			WithHook(trace.NewDBRecorder(recorder, clock)).
			WithTracer(tracing.NewDBTracer(clock, recorder))
	}

	if enabled, _ := flags.GetBool("monitor"); enabled {
		port, _ := flags.GetInt("monitor-port")
		m := monitoring.NewMonitor().WithPortNumber(port)
		url := m.StartServer()

		if open, _ := flags.GetBool("open-browser"); open {
			if err := browser.OpenURL(url); err != nil {
				logger.WithError(err).Warn("cannot open the monitor")
			}
		}

		builder = builder.WithMonitor(m)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.WithFields(logrus.Fields{
		"processes": config.Processes,
		"frames":    config.NumFrames,
		"seed":      config.Seed,
	}).Info("running workload")

	result, err := builder.Build("VMSim").Run(ctx)
	report(cmd, result, faultTime, faultSteps)

	return err
}

func report(
	cmd *cobra.Command,
	r workload.Result,
	faultTime *tracing.TotalTimeTracer,
	faultSteps *tracing.StepCountTracer,
) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "loads\t%d\n", r.Loads)
	fmt.Fprintf(w, "stores\t%d\n", r.Stores)
	fmt.Fprintf(w, "pushes\t%d\n", r.Pushes)
	fmt.Fprintf(w, "access violations\t%d\n", r.Violations)
	fmt.Fprintf(w, "segmentation faults\t%d\n", r.SegFaults)
	fmt.Fprintf(w, "forks\t%d\n", r.Forks)
	fmt.Fprintf(w, "frame loads\t%d\n", r.Frames.Loads)
	fmt.Fprintf(w, "evictions\t%d\n", r.Frames.Evictions)
	fmt.Fprintf(w, "swap stores\t%d\n", r.SwapStores)
	fmt.Fprintf(w, "swap loads\t%d\n", r.SwapLoads)
	fmt.Fprintf(w, "faults\t%d\n", faultTime.TaskCount())
	fmt.Fprintf(w, "average fault time\t%.3gs\n", float64(faultTime.AverageTime()))

	steps := faultSteps.GetStepNames()
	slices.Sort(steps)

	for _, step := range steps {
		fmt.Fprintf(w, "faults with %s\t%d\n", step, faultSteps.GetTaskCount(step))
	}

	if err := w.Flush(); err != nil {
		logger.WithError(err).Error("writing report")
	}
}
