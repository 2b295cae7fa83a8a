package workload

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frametable"
	"github.com/sarchlab/vmcore/mem/vm/spt"
	"github.com/sarchlab/vmcore/mem/vm/swap"
	"github.com/sarchlab/vmcore/memory"
	"github.com/sarchlab/vmcore/monitoring"
	"github.com/sarchlab/vmcore/sim/hooking"
	"github.com/sarchlab/vmcore/sim/naming"
	"github.com/sarchlab/vmcore/tracing"
)

// Virtual layout shared by every process.
const (
	anonBase uint64 = 0x10000000
	fileBase uint64 = 0x20000000
	pushSize uint64 = 8
)

// Result summarizes a run.
type Result struct {
	Loads      uint64
	Stores     uint64
	Pushes     uint64
	Violations uint64
	SegFaults  uint64
	Forks      uint64

	Frames     frametable.Stats
	SwapStores uint64
	SwapLoads  uint64
	Spaces     []spt.Stats
}

func (r *Result) add(o counters) {
	r.Loads += o.loads
	r.Stores += o.stores
	r.Pushes += o.pushes
	r.Violations += o.violations
	r.SegFaults += o.segFaults
	r.Forks += o.forks
}

// A Builder can build runners.
type Builder struct {
	config  Config
	hooks   []hooking.Hook
	tracers []tracing.Tracer
	monitor *monitoring.Monitor
}

// MakeBuilder creates a builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{config: DefaultConfig()}
}

// WithConfig sets the workload to run.
func (b Builder) WithConfig(c Config) Builder {
	b.config = c
	return b
}

// WithHook attaches a hook to the frame table and to every address space.
func (b Builder) WithHook(hook hooking.Hook) Builder {
	b.hooks = append(b.hooks, hook)
	return b
}

// WithTracer collects the fault tasks of every address space.
func (b Builder) WithTracer(t tracing.Tracer) Builder {
	b.tracers = append(b.tracers, t)
	return b
}

// WithMonitor registers the components of each run with a monitor.
func (b Builder) WithMonitor(m *monitoring.Monitor) Builder {
	b.monitor = m
	return b
}

// Build creates a runner. It panics if the configuration is invalid.
func (b Builder) Build(name string) *Runner {
	if err := b.config.Validate(); err != nil {
		panic(err)
	}

	return &Runner{
		NamedBase: naming.MakeNamedBase(name),
		config:    b.config,
		hooks:     append([]hooking.Hook(nil), b.hooks...),
		tracers:   append([]tracing.Tracer(nil), b.tracers...),
		monitor:   b.monitor,
	}
}

// A Runner builds a fresh virtual memory system and runs one process per
// configured process on it, each in its own goroutine.
type Runner struct {
	naming.NamedBase

	config  Config
	hooks   []hooking.Hook
	tracers []tracing.Tracer
	monitor *monitoring.Monitor
}

// system is what the processes of a run share.
type system struct {
	config    Config
	pageTable vm.PageTable
	frames    *frametable.Comp
	swap      *swap.Device
	file      *memory.Storage
}

// Run executes the workload. It returns the first error of any process,
// including any load that does not return what was last stored.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	sys := r.buildSystem()

	var progress *monitoring.ProgressBar
	if r.monitor != nil {
		r.monitor.RegisterFrameTable(sys.frames)
		progress = r.monitor.CreateProgressBar(r.Name(),
			uint64(r.config.Processes))
		defer r.monitor.CompleteProgressBar(progress)
	}

	procs := make([]*process, r.config.Processes)
	for i := range procs {
		procs[i] = r.newProcess(sys, i)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range procs {
		g.Go(func() error {
			if progress != nil {
				progress.IncrementInProgress(1)
				defer progress.MoveInProgressToFinished(1)
			}

			return p.run(ctx)
		})
	}

	err := g.Wait()

	var result Result
	for _, p := range procs {
		result.add(p.counters)
		result.Spaces = append(result.Spaces, p.space.Stats())

		if r.monitor != nil {
			r.monitor.UnregisterAddressSpace(p.space)
		}

		if tErr := p.space.Teardown(); err == nil && tErr != nil {
			err = fmt.Errorf("tearing down %s: %w", p.space.Name(), tErr)
		}
	}

	result.Frames = sys.frames.Stats()
	result.SwapStores, result.SwapLoads = sys.swap.Stats()

	return result, err
}

func (r *Runner) buildSystem() *system {
	c := r.config
	pageSize := c.PageSize()

	sys := &system{
		config:    c,
		pageTable: vm.NewPageTable(c.Log2PageSize),
	}

	sys.frames = frametable.MakeBuilder().
		WithLog2PageSize(c.Log2PageSize).
		WithNumFrames(c.NumFrames).
		Build(r.Name() + ".FrameTable")

	sys.swap = swap.MakeBuilder().
		WithLog2PageSize(c.Log2PageSize).
		WithNumSlots(c.NumSwapSlots).
		Build(r.Name() + ".Swap")

	fileSize := uint64(c.Processes*c.FilePages) * pageSize
	sys.file = memory.NewStorageWithUnitSize(fileSize, pageSize)

	for _, hook := range r.hooks {
		sys.frames.AcceptHook(hook)
	}

	return sys
}

func (r *Runner) newProcess(sys *system, index int) *process {
	c := r.config
	pid := vm.PID(index + 1)

	b := spt.MakeBuilder().
		WithPID(pid).
		WithPageTable(sys.pageTable).
		WithFrameTable(sys.frames).
		WithSwapDevice(sys.swap).
		WithLog2PageSize(c.Log2PageSize).
		WithStackLimit(c.StackLimit).
		WithStackValidMargin(c.StackValidMargin)

	space := b.Build(fmt.Sprintf("%s.Process%d", r.Name(), pid))
	for _, hook := range r.hooks {
		space.AcceptHook(hook)
	}

	for _, t := range r.tracers {
		tracing.CollectTrace(space, t)
	}

	if r.monitor != nil {
		r.monitor.RegisterAddressSpace(space)
	}

	return &process{
		sys:      sys,
		index:    index,
		space:    space,
		monitor:  r.monitor,
		childPID: vm.PID(c.Processes + index + 1),
	}
}
