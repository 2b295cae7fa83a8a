package spt

import (
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/sim/hooking"
)

// Hook positions of supplemental page tables.
var (
	// HookPosFault marks the end of the handling of a page fault.
	HookPosFault = &hooking.HookPos{Name: "SPTFault"}

	// HookPosStackGrowth marks the stack growing by at least one page.
	HookPosStackGrowth = &hooking.HookPos{Name: "SPTStackGrowth"}

	// HookPosFork marks an address space being copied into another one.
	HookPosFork = &hooking.HookPos{Name: "SPTFork"}

	// HookPosTeardown marks an address space being destroyed.
	HookPosTeardown = &hooking.HookPos{Name: "SPTTeardown"}
)

// A FaultEvent describes a handled page fault.
type FaultEvent struct {
	PID   vm.PID
	Fault vm.Fault
	Kind  vm.Kind
	// Outcome is "loaded", "reinstalled", "spurious", "stack_growth" or the
	// error that made the fault unresolved.
	Outcome string
	Err     error
}

// LogFields describes the event as structured log fields.
func (e FaultEvent) LogFields() map[string]any {
	fields := map[string]any{
		"pid":         e.PID,
		"vaddr":       e.Fault.Addr,
		"rsp":         e.Fault.RSP,
		"write":       e.Fault.Write,
		"user":        e.Fault.User,
		"not_present": e.Fault.NotPresent,
		"kind":        e.Kind.String(),
		"outcome":     e.Outcome,
	}

	if e.Err != nil {
		fields["error"] = e.Err.Error()
	}

	return fields
}

// A StackEvent describes the stack bottom moving down.
type StackEvent struct {
	PID            vm.PID
	OldStackBottom uint64
	NewStackBottom uint64
}

// LogFields describes the event as structured log fields.
func (e StackEvent) LogFields() map[string]any {
	return map[string]any{
		"pid":              e.PID,
		"old_stack_bottom": e.OldStackBottom,
		"new_stack_bottom": e.NewStackBottom,
	}
}

// A LifecycleEvent describes an address space being forked or torn down.
type LifecycleEvent struct {
	PID      vm.PID
	ChildPID vm.PID
	NumPages int
	Err      error
}

// LogFields describes the event as structured log fields.
func (e LifecycleEvent) LogFields() map[string]any {
	fields := map[string]any{
		"pid":       e.PID,
		"num_pages": e.NumPages,
	}

	if e.ChildPID != 0 {
		fields["child_pid"] = e.ChildPID
	}

	if e.Err != nil {
		fields["error"] = e.Err.Error()
	}

	return fields
}
