// Package frametable manages the pool of physical frames that back the user
// pages of every address space, and evicts pages when the pool runs out.
package frametable

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frametable/internal"
	"github.com/sarchlab/vmcore/sim/hooking"
	"github.com/sarchlab/vmcore/sim/naming"
)

// A Frame is one physical page of the user pool.
type Frame struct {
	ID    vm.FrameID
	PAddr uint64
	Data  []byte

	occupant *occupant
	pinned   bool
}

// occupant is the back reference from a frame to the page that lives in it.
type occupant struct {
	pid       vm.PID
	pageTable vm.PageTable
	page      *vm.Page
}

// An Outcome tells how Claim made a page accessible.
type Outcome int

// A list of all claim outcomes.
const (
	// OutcomeLoaded means that the page content was loaded into a new frame.
	OutcomeLoaded Outcome = iota
	// OutcomeReinstalled means that the page was resident but its hardware
	// mapping was missing.
	OutcomeReinstalled
	// OutcomeSpurious means that the page was resident and mapped already.
	OutcomeSpurious
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeReinstalled:
		return "reinstalled"
	case OutcomeSpurious:
		return "spurious"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Stats are the counters of a frame table.
type Stats struct {
	NumFrames    int
	Created      int
	Resident     int
	Free         int
	Loads        uint64
	LoadFailures uint64
	Evictions    uint64
	Releases     uint64
}

// Comp is the frame table. It is shared by all address spaces and every
// method is safe for concurrent use.
//
// Callers that hold the lock of a supplemental page table may call into the
// frame table, but the frame table never calls back into a supplemental page
// table. Eviction reaches the victim page through the back reference of its
// frame and the hardware page table of its owner.
type Comp struct {
	naming.NamedBase
	hooking.HookableBase

	lock         sync.Mutex
	log2PageSize uint64
	numFrames    int
	physicalBase uint64
	frames       []*Frame
	free         []vm.FrameID
	clock        *internal.Clock
	stats        Stats
}

// Log2PageSize returns the page size of the frames.
func (c *Comp) Log2PageSize() uint64 {
	return c.log2PageSize
}

// Claim makes a page resident and mapped in the hardware page table of its
// owner. If the page is not resident, a frame is acquired, evicting another
// page if the pool is exhausted, and the content of the page is loaded into
// it.
//
// A failed load returns an error wrapping vm.ErrLoadFailure and leaves the
// page unbound and the frame free. If no frame can be produced, the error
// wraps vm.ErrOutOfMemory.
func (c *Comp) Claim(
	pid vm.PID,
	pageTable vm.PageTable,
	page *vm.Page,
) (Outcome, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.claim(pid, pageTable, page)
}

func (c *Comp) claim(
	pid vm.PID,
	pageTable vm.PageTable,
	page *vm.Page,
) (Outcome, error) {
	if id, resident := page.Frame(); resident {
		c.mustBeOccupiedBy(id, page)

		if _, mapped := pageTable.Lookup(pid, page.VAddr); mapped {
			return OutcomeSpurious, nil
		}

		c.install(pid, pageTable, page, c.frames[id])

		return OutcomeReinstalled, nil
	}

	frame, err := c.acquire()
	if err != nil {
		return OutcomeLoaded, err
	}

	page.BindFrame(frame.ID)
	frame.occupant = &occupant{pid: pid, pageTable: pageTable, page: page}

	if err := page.SwapIn(frame.Data); err != nil {
		page.UnbindFrame()
		frame.occupant = nil
		c.release(frame)
		c.stats.LoadFailures++

		return OutcomeLoaded, fmt.Errorf("%w: page 0x%x of process %d: %w",
			vm.ErrLoadFailure, page.VAddr, pid, err)
	}

	c.install(pid, pageTable, page, frame)
	c.clock.PushBack(frame.ID)
	c.stats.Loads++

	c.invoke(HookPosLoad, frame, false)

	return OutcomeLoaded, nil
}

// install maps the page in the hardware page table. The supplemental page
// table and the hardware page table must agree, so a conflicting mapping is
// fatal.
func (c *Comp) install(
	pid vm.PID,
	pageTable vm.PageTable,
	page *vm.Page,
	frame *Frame,
) {
	err := pageTable.Install(pid, page.VAddr, frame.PAddr, page.Writable)
	if err != nil {
		panic(err)
	}
}

func (c *Comp) mustBeOccupiedBy(id vm.FrameID, page *vm.Page) {
	if int(id) >= len(c.frames) {
		panic(fmt.Sprintf("page 0x%x is bound to unknown frame %d",
			page.VAddr, id))
	}

	occ := c.frames[id].occupant
	if occ == nil || occ.page != page {
		panic(fmt.Sprintf("frame %d is not occupied by page 0x%x",
			id, page.VAddr))
	}
}

// acquire returns a zeroed frame that is not on the clock.
func (c *Comp) acquire() (*Frame, error) {
	if n := len(c.free); n > 0 {
		id := c.free[n-1]
		c.free = c.free[:n-1]
		frame := c.frames[id]
		clear(frame.Data)

		return frame, nil
	}

	if len(c.frames) < c.numFrames {
		return c.createFrame(), nil
	}

	return c.evict()
}

// createFrame gives out the next physical page of the pool that has never
// been used.
func (c *Comp) createFrame() *Frame {
	id := vm.FrameID(len(c.frames))
	pageSize := vm.PageSize(c.log2PageSize)

	frame := &Frame{
		ID:    id,
		PAddr: c.physicalBase + uint64(id)*pageSize,
		Data:  make([]byte, pageSize),
	}
	c.frames = append(c.frames, frame)

	return frame
}

// evict frees the frame that the clock selects. The victim page is written
// out before its mapping is removed, so a concurrent access either finds the
// page mapped with its content or faults after the eviction completed.
func (c *Comp) evict() (*Frame, error) {
	id, ok := c.clock.Victim(c.testAndClearAccessed, c.isPinned)
	if !ok {
		return nil, fmt.Errorf("%w: none of the %d resident frames can be evicted",
			vm.ErrOutOfMemory, c.clock.Len())
	}

	frame := c.frames[id]
	occ := frame.occupant
	dirty := occ.pageTable.IsDirty(occ.pid, occ.page.VAddr)

	if err := occ.page.SwapOut(frame.Data, dirty); err != nil {
		c.clock.PushBack(id)

		return nil, fmt.Errorf("%w: evicting page 0x%x of process %d: %w",
			vm.ErrOutOfMemory, occ.page.VAddr, occ.pid, err)
	}

	c.invoke(HookPosEvict, frame, dirty)

	occ.pageTable.Unmap(occ.pid, occ.page.VAddr)
	occ.page.UnbindFrame()
	frame.occupant = nil
	clear(frame.Data)
	c.stats.Evictions++

	return frame, nil
}

func (c *Comp) testAndClearAccessed(id vm.FrameID) bool {
	occ := c.frames[id].occupant
	if !occ.pageTable.IsAccessed(occ.pid, occ.page.VAddr) {
		return false
	}

	occ.pageTable.SetAccessed(occ.pid, occ.page.VAddr, false)

	return true
}

func (c *Comp) isPinned(id vm.FrameID) bool {
	return c.frames[id].pinned
}

// release returns a frame that is off the clock to the free pool.
func (c *Comp) release(frame *Frame) {
	clear(frame.Data)
	c.free = append(c.free, frame.ID)
}

// Destroy releases a page. A resident page is handed to its backing store
// together with its frame content and dirty bit, unmapped, and its frame goes
// back to the pool. The page is released even if the backing store reports an
// error, which is then returned.
func (c *Comp) Destroy(
	pid vm.PID,
	pageTable vm.PageTable,
	page *vm.Page,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.destroy(pid, pageTable, page)
}

// Discard releases a page whose content will never be read again. Unlike
// Destroy, the content of a resident page is handed to the backing store as
// clean, so nothing is written back.
func (c *Comp) Discard(
	pid vm.PID,
	pageTable vm.PageTable,
	page *vm.Page,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if page.IsResident() {
		pageTable.SetDirty(pid, page.VAddr, false)
	}

	return c.destroy(pid, pageTable, page)
}

func (c *Comp) destroy(
	pid vm.PID,
	pageTable vm.PageTable,
	page *vm.Page,
) error {
	id, resident := page.Frame()
	if !resident {
		return page.Destroy(nil, false)
	}

	c.mustBeOccupiedBy(id, page)
	frame := c.frames[id]
	dirty := pageTable.IsDirty(pid, page.VAddr)

	err := page.Destroy(frame.Data, dirty)

	pageTable.Unmap(pid, page.VAddr)
	c.clock.Remove(id)
	page.UnbindFrame()
	c.invoke(HookPosRelease, frame, dirty)
	frame.occupant = nil
	c.release(frame)
	c.stats.Releases++

	return err
}

// Duplicate gives dst, a non-resident page of another address space, a frame
// of its own holding a copy of the content of src. An evicted src is loaded
// first. The frame of src stays pinned while the copy is made, so it cannot
// be the victim of the eviction that produces the new frame.
func (c *Comp) Duplicate(
	srcPID vm.PID,
	srcPageTable vm.PageTable,
	src *vm.Page,
	dstPID vm.PID,
	dstPageTable vm.PageTable,
	dst *vm.Page,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if dst.IsResident() {
		panic(fmt.Sprintf("duplicating into resident page 0x%x", dst.VAddr))
	}

	if _, err := c.claim(srcPID, srcPageTable, src); err != nil {
		return err
	}

	srcID, _ := src.Frame()
	srcFrame := c.frames[srcID]
	srcFrame.pinned = true
	defer func() { srcFrame.pinned = false }()

	frame, err := c.acquire()
	if err != nil {
		return err
	}

	copy(frame.Data, srcFrame.Data)
	dst.BindFrame(frame.ID)
	frame.occupant = &occupant{pid: dstPID, pageTable: dstPageTable, page: dst}
	c.install(dstPID, dstPageTable, dst, frame)

	if srcPageTable.IsDirty(srcPID, src.VAddr) {
		dstPageTable.SetDirty(dstPID, dst.VAddr, true)
	}

	c.clock.PushBack(frame.ID)
	c.stats.Loads++
	c.invoke(HookPosLoad, frame, false)

	return nil
}

// Access copies between buf and the memory at vAddr the way the hardware
// would. It returns false, without copying, if the access would fault. The
// access must not cross a page boundary.
func (c *Comp) Access(
	pid vm.PID,
	pageTable vm.PageTable,
	vAddr uint64,
	buf []byte,
	write bool,
) bool {
	pageSize := vm.PageSize(c.log2PageSize)
	offset := vAddr & (pageSize - 1)

	if offset+uint64(len(buf)) > pageSize {
		panic(fmt.Sprintf("access of %d bytes at 0x%x crosses a page",
			len(buf), vAddr))
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	pte, mapped := pageTable.Touch(pid, vAddr, write)
	if !mapped || (write && !pte.Writable) {
		return false
	}

	frame := c.frameAt(pte.PAddr)

	if write {
		copy(frame.Data[offset:], buf)
	} else {
		copy(buf, frame.Data[offset:offset+uint64(len(buf))])
	}

	return true
}

func (c *Comp) frameAt(pAddr uint64) *Frame {
	id := (pAddr - c.physicalBase) >> c.log2PageSize
	if pAddr < c.physicalBase || id >= uint64(len(c.frames)) {
		panic(fmt.Sprintf("physical address 0x%x is not in the pool", pAddr))
	}

	return c.frames[id]
}

// Pin keeps the frame of a resident page from being evicted until Unpin is
// called. It returns false if the page is not resident.
func (c *Comp) Pin(page *vm.Page) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	id, resident := page.Frame()
	if !resident {
		return false
	}

	c.frames[id].pinned = true

	return true
}

// Unpin makes the frame of a page evictable again.
func (c *Comp) Unpin(page *vm.Page) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if id, resident := page.Frame(); resident {
		c.frames[id].pinned = false
	}
}

// Stats returns a copy of the counters.
func (c *Comp) Stats() Stats {
	c.lock.Lock()
	defer c.lock.Unlock()

	s := c.stats
	s.NumFrames = c.numFrames
	s.Created = len(c.frames)
	s.Resident = c.clock.Len()
	s.Free = len(c.free) + c.numFrames - len(c.frames)

	return s
}

// FrameInfo describes a resident frame.
type FrameInfo struct {
	Frame  vm.FrameID `json:"frame"`
	PAddr  uint64     `json:"paddr"`
	PID    vm.PID     `json:"pid"`
	VAddr  uint64     `json:"vaddr"`
	Kind   string     `json:"kind"`
	Pinned bool       `json:"pinned"`
}

// Resident lists the resident frames from the next eviction candidate to the
// most recently loaded one.
func (c *Comp) Resident() []FrameInfo {
	c.lock.Lock()
	defer c.lock.Unlock()

	ids := c.clock.Frames()
	infos := make([]FrameInfo, 0, len(ids))

	for _, id := range ids {
		frame := c.frames[id]
		infos = append(infos, FrameInfo{
			Frame:  id,
			PAddr:  frame.PAddr,
			PID:    frame.occupant.pid,
			VAddr:  frame.occupant.page.VAddr,
			Kind:   frame.occupant.page.Kind().String(),
			Pinned: frame.pinned,
		})
	}

	return infos
}

// PageInfo describes where the content of a page is.
type PageInfo struct {
	VAddr    uint64     `json:"vaddr"`
	Writable bool       `json:"writable"`
	Kind     string     `json:"kind"`
	Target   string     `json:"target"`
	Resident bool       `json:"resident"`
	Frame    vm.FrameID `json:"frame"`
}

// DescribePages reports the kind and the frame of each page. Both change
// when pages are claimed or evicted, so they are read under the lock.
func (c *Comp) DescribePages(pages []*vm.Page) []PageInfo {
	c.lock.Lock()
	defer c.lock.Unlock()

	infos := make([]PageInfo, 0, len(pages))
	for _, p := range pages {
		frame, resident := p.Frame()
		infos = append(infos, PageInfo{
			VAddr:    p.VAddr,
			Writable: p.Writable,
			Kind:     p.Kind().String(),
			Target:   p.EffectiveKind().String(),
			Resident: resident,
			Frame:    frame,
		})
	}

	return infos
}

// Snapshot is a copy of the configuration and the counters of a frame table.
type Snapshot struct {
	Name         string
	Log2PageSize uint64
	PhysicalBase uint64
	NumFrames    int
	Stats        Stats
}

// Snapshot returns the current state of the frame table.
func (c *Comp) Snapshot() Snapshot {
	return Snapshot{
		Name:         c.Name(),
		Log2PageSize: c.log2PageSize,
		PhysicalBase: c.physicalBase,
		NumFrames:    c.numFrames,
		Stats:        c.Stats(),
	}
}

func (c *Comp) invoke(pos *hooking.HookPos, frame *Frame, dirty bool) {
	if c.NumHooks() == 0 {
		return
	}

	occ := frame.occupant
	c.InvokeHook(hooking.HookCtx{
		Domain: c,
		Pos:    pos,
		Item: Event{
			Frame: frame.ID,
			PAddr: frame.PAddr,
			PID:   occ.pid,
			VAddr: occ.page.VAddr,
			Kind:  occ.page.Kind(),
			Dirty: dirty,
		},
	})
}
