package spt

import (
	"fmt"

	"gvisor.dev/gvisor/pkg/cleanup"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/sim/hooking"
)

// SetupStack registers and materializes the first stack page, the page just
// below the stack top.
func (s *SupplementalPageTable) SetupStack() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.allocatePage(vm.KindAnon, s.stackBottom, true, nil, nil)
}

// GrowStack extends the stack down to the page that contains addr. The page
// at addr is materialized right away. Pages between it and the old stack
// bottom are registered as zero pages that are materialized on first access.
//
// Addresses at or below the stack floor are rejected with
// vm.ErrStackLimitExceeded. The stack bottom never moves up, and it does not
// move at all if the growth fails.
func (s *SupplementalPageTable) GrowStack(addr uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.growStack(addr)
}

func (s *SupplementalPageTable) growStack(addr uint64) error {
	floor := s.userStackTop - s.stackLimit
	if addr <= floor {
		return fmt.Errorf("%w: 0x%x is at or below the stack floor 0x%x",
			vm.ErrStackLimitExceeded, addr, floor)
	}

	newBottom := vm.AlignDown(addr, s.log2PageSize)
	oldBottom := s.stackBottom

	if newBottom >= oldBottom {
		return nil
	}

	var cu cleanup.Cleanup
	defer cu.Clean()

	pageSize := vm.PageSize(s.log2PageSize)
	for va := newBottom + pageSize; va < oldBottom; va += pageSize {
		if _, found := s.pages[va]; found {
			continue
		}

		page, err := vm.NewUninitPage(va, true, vm.KindAnon, nil, nil,
			s.newBacking)
		if err != nil {
			return err
		}

		s.pages[va] = page
		cu.Add(func() { delete(s.pages, page.VAddr) })
	}

	s.stackBottom = newBottom

	var err error
	if page, found := s.pages[newBottom]; found {
		_, err = s.frames.Claim(s.pid, s.pageTable, page)
	} else {
		err = s.allocatePage(vm.KindAnon, newBottom, true, nil, nil)
	}

	if err != nil {
		s.stackBottom = oldBottom
		return err
	}

	cu.Release()

	s.stats.StackGrowths++

	if s.NumHooks() > 0 {
		s.InvokeHook(hooking.HookCtx{
			Domain: s,
			Pos:    HookPosStackGrowth,
			Item: StackEvent{
				PID:            s.pid,
				OldStackBottom: oldBottom,
				NewStackBottom: newBottom,
			},
		})
	}

	return nil
}
