package spt

import (
	"errors"
	"fmt"

	"gvisor.dev/gvisor/pkg/cleanup"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/sim/hooking"
)

// Copy fills s, the empty address space of a child process, with a copy of
// every page of src. Uninitialized pages are copied as they are and get
// initialized independently in each address space. Other pages get a frame
// of their own in the child, holding a byte for byte copy of the parent
// content, so that writes in one address space are never seen in the other.
//
// The copy is all or nothing. If a frame cannot be obtained, every page
// copied so far is destroyed and the error wraps vm.ErrAllocationFailure.
//
// Copy locks src before s. Two address spaces must not be copied into each
// other concurrently.
func (s *SupplementalPageTable) Copy(src *SupplementalPageTable) error {
	if src == s {
		panic("copying an address space into itself")
	}

	if src.log2PageSize != s.log2PageSize {
		panic("copying between address spaces of different page sizes")
	}

	src.lock.Lock()
	defer src.lock.Unlock()

	s.lock.Lock()
	defer s.lock.Unlock()

	n, err := s.copyFrom(src)

	event := LifecycleEvent{PID: src.pid, ChildPID: s.pid, NumPages: n, Err: err}
	src.invokeLifecycle(HookPosFork, event)

	return err
}

func (s *SupplementalPageTable) copyFrom(src *SupplementalPageTable) (int, error) {
	var cu cleanup.Cleanup
	defer cu.Clean()

	for _, page := range src.sortedPages() {
		dup, err := page.Duplicate()
		if err != nil {
			return 0, fmt.Errorf("%w: page 0x%x: %w",
				vm.ErrAllocationFailure, page.VAddr, err)
		}

		if err := s.insert(dup); err != nil {
			return 0, err
		}

		cu.Add(func() { s.discard(dup) })

		if page.Kind() == vm.KindUninit {
			continue
		}

		err = s.frames.Duplicate(
			src.pid, src.pageTable, page,
			s.pid, s.pageTable, dup)
		if err != nil {
			return 0, fmt.Errorf("%w: page 0x%x: %w",
				vm.ErrAllocationFailure, page.VAddr, err)
		}
	}

	s.stackBottom = src.stackBottom
	s.rsp = src.rsp

	cu.Release()

	return len(s.pages), nil
}

// discard drops a page that was never visible to the process, without
// writing anything back.
func (s *SupplementalPageTable) discard(page *vm.Page) {
	_ = s.frames.Discard(s.pid, s.pageTable, page)
	delete(s.pages, page.VAddr)
}

// Fork creates the address space of a child process as a copy of s. The
// child has the same configuration and hooks as s.
func (s *SupplementalPageTable) Fork(
	name string,
	pid vm.PID,
) (*SupplementalPageTable, error) {
	child := MakeBuilder().
		WithPID(pid).
		WithPageTable(s.pageTable).
		WithFrameTable(s.frames).
		WithSwapDevice(s.swapDevice).
		WithLog2PageSize(s.log2PageSize).
		WithUserStackTop(s.userStackTop).
		WithStackValidMargin(s.stackValidMargin).
		WithStackLimit(s.stackLimit).
		WithIDGenerator(s.idGenerator).
		Build(name)

	for _, hook := range s.Hooks() {
		child.AcceptHook(hook)
	}

	if err := child.Copy(s); err != nil {
		return nil, errors.Join(err, child.Teardown())
	}

	return child, nil
}

// Teardown destroys every page of the address space. Dirty file-backed pages
// are written back, swap slots are freed and frames return to the pool. The
// hardware mappings of the process are dropped as well.
//
// Teardown may be called more than once, and on a nil table. Every page is
// destroyed even if some fail; the errors are joined.
func (s *SupplementalPageTable) Teardown() error {
	if s == nil {
		return nil
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	pages := s.sortedPages()

	var errs []error
	for _, page := range pages {
		if err := s.frames.Destroy(s.pid, s.pageTable, page); err != nil {
			errs = append(errs, fmt.Errorf("page 0x%x: %w", page.VAddr, err))
		}
	}

	s.pages = make(map[uint64]*vm.Page)
	s.pageTable.RemoveProcess(s.pid)

	err := errors.Join(errs...)

	if len(pages) > 0 {
		event := LifecycleEvent{PID: s.pid, NumPages: len(pages), Err: err}
		s.invokeLifecycle(HookPosTeardown, event)
	}

	return err
}

func (s *SupplementalPageTable) invokeLifecycle(
	pos *hooking.HookPos,
	event LifecycleEvent,
) {
	if s.NumHooks() == 0 {
		return
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    pos,
		Item:   event,
	})
}
