// Package spt implements the supplemental page table: the per address space
// record of every virtual page, the page fault handler that materializes
// pages on demand, and the growth of the user stack.
package spt

import (
	"fmt"
	"slices"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/anon"
	"github.com/sarchlab/vmcore/mem/vm/filebacked"
	"github.com/sarchlab/vmcore/mem/vm/frametable"
	"github.com/sarchlab/vmcore/mem/vm/swap"
	"github.com/sarchlab/vmcore/sim/hooking"
	"github.com/sarchlab/vmcore/sim/id"
	"github.com/sarchlab/vmcore/sim/naming"
)

// A FrameAllocator provides the physical frames that back pages. It is
// shared by all the address spaces.
type FrameAllocator interface {
	Log2PageSize() uint64
	Claim(pid vm.PID, pageTable vm.PageTable, page *vm.Page) (
		frametable.Outcome, error)
	Destroy(pid vm.PID, pageTable vm.PageTable, page *vm.Page) error
	Discard(pid vm.PID, pageTable vm.PageTable, page *vm.Page) error
	Duplicate(
		srcPID vm.PID, srcPageTable vm.PageTable, src *vm.Page,
		dstPID vm.PID, dstPageTable vm.PageTable, dst *vm.Page,
	) error
	Access(
		pid vm.PID,
		pageTable vm.PageTable,
		vAddr uint64,
		buf []byte,
		write bool,
	) bool
	DescribePages(pages []*vm.Page) []frametable.PageInfo
}

// Stats are the counters of a supplemental page table.
type Stats struct {
	Faults             uint64
	Resolved           uint64
	Spurious           uint64
	SegmentationFaults uint64
	AccessViolations   uint64
	StackOverflows     uint64
	StackGrowths       uint64
	OtherFailures      uint64
}

// SupplementalPageTable records the pages of one address space.
//
// All methods are safe for concurrent use. A supplemental page table locks
// itself before it calls into the frame table, never the other way around.
type SupplementalPageTable struct {
	naming.NamedBase
	hooking.HookableBase

	lock        sync.Mutex
	pid         vm.PID
	pageTable   vm.PageTable
	frames      FrameAllocator
	swapDevice  *swap.Device
	idGenerator id.IDGenerator

	log2PageSize     uint64
	userStackTop     uint64
	stackValidMargin uint64
	stackLimit       uint64

	pages       map[uint64]*vm.Page
	stackBottom uint64
	rsp         uint64
	stats       Stats
}

// PID returns the process that owns the address space.
func (s *SupplementalPageTable) PID() vm.PID {
	return s.pid
}

// PageTable returns the hardware page table of the address space.
func (s *SupplementalPageTable) PageTable() vm.PageTable {
	return s.pageTable
}

// PageSize returns the number of bytes in a page.
func (s *SupplementalPageTable) PageSize() uint64 {
	return vm.PageSize(s.log2PageSize)
}

// StackBottom returns the lowest address of the committed stack.
func (s *SupplementalPageTable) StackBottom() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.stackBottom
}

// StackFloor returns the address at or below which the stack cannot grow.
func (s *SupplementalPageTable) StackFloor() uint64 {
	return s.userStackTop - s.stackLimit
}

// Stats returns a copy of the counters.
func (s *SupplementalPageTable) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.stats
}

// Snapshot is a copy of the configuration and the state of an address space.
type Snapshot struct {
	Name             string
	PID              vm.PID
	Log2PageSize     uint64
	UserStackTop     uint64
	StackValidMargin uint64
	StackLimit       uint64
	StackBottom      uint64
	StackPointer     uint64
	NumPages         int
	Stats            Stats
}

// Snapshot returns the current state of the address space.
func (s *SupplementalPageTable) Snapshot() Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	return Snapshot{
		Name:             s.Name(),
		PID:              s.pid,
		Log2PageSize:     s.log2PageSize,
		UserStackTop:     s.userStackTop,
		StackValidMargin: s.stackValidMargin,
		StackLimit:       s.stackLimit,
		StackBottom:      s.stackBottom,
		StackPointer:     s.rsp,
		NumPages:         len(s.pages),
		Stats:            s.stats,
	}
}

// DescribePages tells where the content of each page is, in address order.
func (s *SupplementalPageTable) DescribePages() []frametable.PageInfo {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.frames.DescribePages(s.sortedPages())
}

// Len returns the number of pages.
func (s *SupplementalPageTable) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.pages)
}

// Find returns the page that contains vAddr.
func (s *SupplementalPageTable) Find(vAddr uint64) (*vm.Page, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	page, found := s.pages[vm.AlignDown(vAddr, s.log2PageSize)]

	return page, found
}

// Pages lists the pages ordered by address.
func (s *SupplementalPageTable) Pages() []*vm.Page {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.sortedPages()
}

func (s *SupplementalPageTable) sortedPages() []*vm.Page {
	pages := make([]*vm.Page, 0, len(s.pages))
	for _, page := range s.pages {
		pages = append(pages, page)
	}

	slices.SortFunc(pages, func(a, b *vm.Page) int {
		switch {
		case a.VAddr < b.VAddr:
			return -1
		case a.VAddr > b.VAddr:
			return 1
		default:
			return 0
		}
	})

	return pages
}

// Insert adds a page. It fails with vm.ErrDuplicateMapping, leaving the
// table unchanged, if a page already occupies the address.
func (s *SupplementalPageTable) Insert(page *vm.Page) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.insert(page)
}

func (s *SupplementalPageTable) insert(page *vm.Page) error {
	if !vm.IsAligned(page.VAddr, s.log2PageSize) {
		panic(fmt.Sprintf("page address 0x%x is not aligned", page.VAddr))
	}

	if _, found := s.pages[page.VAddr]; found {
		return fmt.Errorf("%w: 0x%x in %s",
			vm.ErrDuplicateMapping, page.VAddr, s.Name())
	}

	s.pages[page.VAddr] = page

	return nil
}

// Remove takes a page out of the table and destroys it. A dirty file-backed
// page is written back, the swap slot of an anonymous page is freed and the
// frame of a resident page goes back to the pool.
func (s *SupplementalPageTable) Remove(page *vm.Page) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.pages[page.VAddr] != page {
		return fmt.Errorf("%w: 0x%x in %s", vm.ErrNotFound, page.VAddr, s.Name())
	}

	delete(s.pages, page.VAddr)

	return s.frames.Destroy(s.pid, s.pageTable, page)
}

// AllocatePage registers a page whose content is produced on first access.
// kind is the kind the page becomes once materialized. If init is nil, the
// page starts as the kind dictates: zeros for anonymous pages and the file
// content for file-backed pages, whose aux must be a vm.FileSegment.
// Otherwise init produces the content and receives aux.
//
// A page at the stack bottom is materialized right away. If that fails, the
// page is not registered.
func (s *SupplementalPageTable) AllocatePage(
	kind vm.Kind,
	vAddr uint64,
	writable bool,
	init vm.Initializer,
	aux any,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.allocatePage(kind, vAddr, writable, init, aux)
}

func (s *SupplementalPageTable) allocatePage(
	kind vm.Kind,
	vAddr uint64,
	writable bool,
	init vm.Initializer,
	aux any,
) error {
	vAddr = vm.AlignDown(vAddr, s.log2PageSize)

	if kind == vm.KindFile {
		if _, ok := aux.(vm.FileSegment); !ok {
			return fmt.Errorf("%w: file page 0x%x needs a vm.FileSegment, got %T",
				vm.ErrInvalidKind, vAddr, aux)
		}
	}

	page, err := vm.NewUninitPage(vAddr, writable, kind, init, aux,
		s.newBacking)
	if err != nil {
		return err
	}

	if err := s.insert(page); err != nil {
		return err
	}

	if vAddr != s.stackBottom {
		return nil
	}

	if _, err := s.frames.Claim(s.pid, s.pageTable, page); err != nil {
		delete(s.pages, vAddr)
		return err
	}

	return nil
}

// newBacking creates the backing that a page gets when it is materialized.
func (s *SupplementalPageTable) newBacking(
	kind vm.Kind,
	_ *vm.Page,
	aux any,
) (vm.Backing, error) {
	switch kind {
	case vm.KindAnon:
		return anon.New(s.swapDevice), nil
	case vm.KindFile:
		return filebacked.New(aux.(vm.FileSegment)), nil
	default:
		return nil, fmt.Errorf("%w: %s", vm.ErrInvalidKind, kind)
	}
}

// Claim materializes the page at vAddr and maps it in the hardware page
// table.
func (s *SupplementalPageTable) Claim(vAddr uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	page, found := s.pages[vm.AlignDown(vAddr, s.log2PageSize)]
	if !found {
		return fmt.Errorf("%w: 0x%x in %s", vm.ErrNotFound, vAddr, s.Name())
	}

	_, err := s.frames.Claim(s.pid, s.pageTable, page)

	return err
}
