// Package trace records what the virtual memory system does, fault by fault
// and frame by frame, into a database.
package trace

import (
	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/mem/vm/frametable"
	"github.com/sarchlab/vmcore/mem/vm/spt"
	"github.com/sarchlab/vmcore/sim/hooking"
	"github.com/sarchlab/vmcore/sim/id"
	"github.com/sarchlab/vmcore/tracing"
)

// Names of the tables that a DBRecorder writes.
const (
	FaultTable     = "vm_faults"
	FrameTable     = "vm_frames"
	LifecycleTable = "vm_lifecycle"
)

// faultEntry is a handled page fault.
type faultEntry struct {
	ID       string  `json:"id"`
	Location string  `json:"location"`
	Time     float64 `json:"time"`
	PID      uint32  `json:"pid"`
	VAddr    uint64  `json:"vaddr"`
	RSP      uint64  `json:"rsp"`
	Write    bool    `json:"write"`
	Kind     string  `json:"kind"`
	Outcome  string  `json:"outcome"`
	Error    string  `json:"error"`
}

// frameEntry is a page entering or leaving a frame.
type frameEntry struct {
	ID       string  `json:"id"`
	Location string  `json:"location"`
	Time     float64 `json:"time"`
	What     string  `json:"what"`
	Frame    int32   `json:"frame"`
	PAddr    uint64  `json:"paddr"`
	PID      uint32  `json:"pid"`
	VAddr    uint64  `json:"vaddr"`
	Kind     string  `json:"kind"`
	Dirty    bool    `json:"dirty"`
}

// lifecycleEntry is a stack growth, a fork or a teardown.
type lifecycleEntry struct {
	ID       string  `json:"id"`
	Location string  `json:"location"`
	Time     float64 `json:"time"`
	What     string  `json:"what"`
	PID      uint32  `json:"pid"`
	ChildPID uint32  `json:"child_pid"`
	NumPages int     `json:"num_pages"`
	OldValue uint64  `json:"old_value"`
	NewValue uint64  `json:"new_value"`
	Error    string  `json:"error"`
}

// A DBRecorder is a hook that writes the events of supplemental page tables
// and frame tables into a DataRecorder. The same recorder can be attached to
// many components.
type DBRecorder struct {
	timeTeller   tracing.TimeTeller
	dataRecorder datarecording.DataRecorder
	idGenerator  id.IDGenerator
}

// NewDBRecorder creates the tables of the recorder.
func NewDBRecorder(
	dataRecorder datarecording.DataRecorder,
	timeTeller tracing.TimeTeller,
) *DBRecorder {
	r := &DBRecorder{
		timeTeller:   timeTeller,
		dataRecorder: dataRecorder,
		idGenerator:  id.NewIDGenerator(),
	}

	r.dataRecorder.CreateTable(FaultTable, faultEntry{})
	r.dataRecorder.CreateTable(FrameTable, frameEntry{})
	r.dataRecorder.CreateTable(LifecycleTable, lifecycleEntry{})

	return r
}

// Func records the event carried by the hook context. Contexts that do not
// carry a virtual memory event are ignored.
func (r *DBRecorder) Func(ctx hooking.HookCtx) {
	switch item := ctx.Item.(type) {
	case spt.FaultEvent:
		r.recordFault(ctx, item)
	case frametable.Event:
		r.recordFrame(ctx, item)
	case spt.StackEvent:
		r.dataRecorder.InsertData(LifecycleTable, lifecycleEntry{
			ID:       r.idGenerator.Generate(),
			Location: location(ctx),
			Time:     r.now(),
			What:     "stack_growth",
			PID:      uint32(item.PID),
			OldValue: item.OldStackBottom,
			NewValue: item.NewStackBottom,
		})
	case spt.LifecycleEvent:
		r.recordLifecycle(ctx, item)
	}
}

func (r *DBRecorder) recordFault(ctx hooking.HookCtx, e spt.FaultEvent) {
	entry := faultEntry{
		ID:       r.idGenerator.Generate(),
		Location: location(ctx),
		Time:     r.now(),
		PID:      uint32(e.PID),
		VAddr:    e.Fault.Addr,
		RSP:      e.Fault.RSP,
		Write:    e.Fault.Write,
		Kind:     e.Kind.String(),
		Outcome:  e.Outcome,
	}

	if e.Err != nil {
		entry.Error = e.Err.Error()
	}

	r.dataRecorder.InsertData(FaultTable, entry)
}

func (r *DBRecorder) recordFrame(ctx hooking.HookCtx, e frametable.Event) {
	what := "unknown"
	switch ctx.Pos {
	case frametable.HookPosLoad:
		what = "load"
	case frametable.HookPosEvict:
		what = "evict"
	case frametable.HookPosRelease:
		what = "release"
	}

	r.dataRecorder.InsertData(FrameTable, frameEntry{
		ID:       r.idGenerator.Generate(),
		Location: location(ctx),
		Time:     r.now(),
		What:     what,
		Frame:    int32(e.Frame),
		PAddr:    e.PAddr,
		PID:      uint32(e.PID),
		VAddr:    e.VAddr,
		Kind:     e.Kind.String(),
		Dirty:    e.Dirty,
	})
}

func (r *DBRecorder) recordLifecycle(ctx hooking.HookCtx, e spt.LifecycleEvent) {
	what := "teardown"
	if ctx.Pos == spt.HookPosFork {
		what = "fork"
	}

	entry := lifecycleEntry{
		ID:       r.idGenerator.Generate(),
		Location: location(ctx),
		Time:     r.now(),
		What:     what,
		PID:      uint32(e.PID),
		ChildPID: uint32(e.ChildPID),
		NumPages: e.NumPages,
	}

	if e.Err != nil {
		entry.Error = e.Err.Error()
	}

	r.dataRecorder.InsertData(LifecycleTable, entry)
}

func (r *DBRecorder) now() float64 {
	return float64(r.timeTeller.CurrentTime())
}

type named interface {
	Name() string
}

func location(ctx hooking.HookCtx) string {
	if d, ok := ctx.Domain.(named); ok {
		return d.Name()
	}

	return ""
}
