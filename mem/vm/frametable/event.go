package frametable

import (
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/sim/hooking"
)

// Hook positions of the frame table.
var (
	// HookPosLoad marks a page being loaded into a frame.
	HookPosLoad = &hooking.HookPos{Name: "FrameTableLoad"}

	// HookPosEvict marks a page being written out of its frame.
	HookPosEvict = &hooking.HookPos{Name: "FrameTableEvict"}

	// HookPosRelease marks a frame going back to the free pool.
	HookPosRelease = &hooking.HookPos{Name: "FrameTableRelease"}
)

// An Event describes what happened to a frame. It is the item of the hooks
// invoked by the frame table.
type Event struct {
	Frame vm.FrameID
	PAddr uint64
	PID   vm.PID
	VAddr uint64
	Kind  vm.Kind
	Dirty bool
}

// LogFields describes the event as structured log fields.
func (e Event) LogFields() map[string]any {
	return map[string]any{
		"frame": e.Frame,
		"paddr": e.PAddr,
		"pid":   e.PID,
		"vaddr": e.VAddr,
		"kind":  e.Kind.String(),
		"dirty": e.Dirty,
	}
}
