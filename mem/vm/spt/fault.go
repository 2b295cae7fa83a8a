package spt

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frametable"
	"github.com/sarchlab/vmcore/sim/hooking"
	"github.com/sarchlab/vmcore/tracing"
)

// TryHandleFault resolves a page fault and reports if it was handled. A fault
// that is not handled is fatal to the faulting process.
func (s *SupplementalPageTable) TryHandleFault(f vm.Fault) bool {
	return s.HandleFault(f) == nil
}

// HandleFault resolves a page fault.
//
// A fault in the guard band just below the stack grows the stack if it was
// caused by a push, that is if the stack pointer equals the faulting address,
// and fails with vm.ErrStackOverflow otherwise. Any other fault must hit a
// page of the table, or it fails with vm.ErrSegmentationFault. Writes to
// read-only pages fail with vm.ErrAccessViolation. Otherwise the page is
// materialized and mapped.
func (s *SupplementalPageTable) HandleFault(f vm.Fault) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.handleFault(f)
}

func (s *SupplementalPageTable) handleFault(f vm.Fault) error {
	taskID := s.idGenerator.Generate()
	tracing.StartTask(taskID, "", s, "fault", faultKind(f), f)
	defer tracing.EndTask(taskID, s)

	s.stats.Faults++

	event := FaultEvent{PID: s.pid, Fault: f}
	err := s.resolve(taskID, f, &event)
	s.count(err)

	if err != nil {
		event.Outcome = "unresolved"
		event.Err = err
	}

	if s.NumHooks() > 0 {
		s.InvokeHook(hooking.HookCtx{
			Domain: s,
			Pos:    HookPosFault,
			Item:   event,
		})
	}

	return err
}

func (s *SupplementalPageTable) resolve(
	taskID string,
	f vm.Fault,
	event *FaultEvent,
) error {
	if s.inGuardBand(f.Addr) {
		if f.RSP != f.Addr {
			return fmt.Errorf("%w: 0x%x below stack bottom 0x%x, rsp 0x%x",
				vm.ErrStackOverflow, f.Addr, s.stackBottom, f.RSP)
		}

		tracing.AddTaskStep(taskID, s, "grow_stack")
		event.Kind = vm.KindAnon
		event.Outcome = "stack_growth"

		return s.growStack(f.Addr)
	}

	page, found := s.pages[vm.AlignDown(f.Addr, s.log2PageSize)]
	if !found {
		return fmt.Errorf("%w: 0x%x in %s",
			vm.ErrSegmentationFault, f.Addr, s.Name())
	}

	event.Kind = page.EffectiveKind()

	if f.Write && !page.Writable {
		return fmt.Errorf("%w: write to read-only page 0x%x",
			vm.ErrAccessViolation, page.VAddr)
	}

	tracing.AddTaskStep(taskID, s, "claim")

	outcome, err := s.frames.Claim(s.pid, s.pageTable, page)
	if err != nil {
		return err
	}

	event.Outcome = outcome.String()
	if outcome == frametable.OutcomeSpurious {
		s.stats.Spurious++
	}

	return nil
}

// inGuardBand tells if addr lies in [stackBottom - margin, stackBottom).
func (s *SupplementalPageTable) inGuardBand(addr uint64) bool {
	if addr >= s.stackBottom {
		return false
	}

	return s.stackBottom-addr <= s.stackValidMargin
}

func (s *SupplementalPageTable) count(err error) {
	switch {
	case err == nil:
		s.stats.Resolved++
	case errors.Is(err, vm.ErrSegmentationFault):
		s.stats.SegmentationFaults++
	case errors.Is(err, vm.ErrAccessViolation):
		s.stats.AccessViolations++
	case errors.Is(err, vm.ErrStackOverflow):
		s.stats.StackOverflows++
	default:
		s.stats.OtherFailures++
	}
}

func faultKind(f vm.Fault) string {
	switch {
	case !f.NotPresent:
		return "protection"
	case f.Write:
		return "write"
	default:
		return "read"
	}
}
