package spt

import (
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/swap"
	"github.com/sarchlab/vmcore/sim/id"
	"github.com/sarchlab/vmcore/sim/naming"
)

// DefaultUserStackTop is the address just above the user stack.
const DefaultUserStackTop uint64 = 0x47480000

// A Builder can build supplemental page tables.
type Builder struct {
	pid              vm.PID
	pageTable        vm.PageTable
	frames           FrameAllocator
	swapDevice       *swap.Device
	log2PageSize     uint64
	userStackTop     uint64
	stackValidMargin uint64
	stackLimit       uint64
	idGenerator      id.IDGenerator
}

// MakeBuilder creates a builder with 4 KiB pages, a half page stack guard
// band and a 1 MiB stack.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 12,
		userStackTop: DefaultUserStackTop,
		stackLimit:   1 << 20,
	}
}

// WithPID sets the process that owns the address space.
func (b Builder) WithPID(pid vm.PID) Builder {
	b.pid = pid
	return b
}

// WithPageTable sets the hardware page table that mappings are installed in.
func (b Builder) WithPageTable(pageTable vm.PageTable) Builder {
	b.pageTable = pageTable
	return b
}

// WithFrameTable sets the frame allocator shared by all address spaces.
func (b Builder) WithFrameTable(frames FrameAllocator) Builder {
	b.frames = frames
	return b
}

// WithSwapDevice sets the swap device of anonymous pages.
func (b Builder) WithSwapDevice(dev *swap.Device) Builder {
	b.swapDevice = dev
	return b
}

// WithLog2PageSize sets the page size.
func (b Builder) WithLog2PageSize(log2PageSize uint64) Builder {
	b.log2PageSize = log2PageSize
	return b
}

// WithUserStackTop sets the address just above the user stack.
func (b Builder) WithUserStackTop(addr uint64) Builder {
	b.userStackTop = addr
	return b
}

// WithStackValidMargin sets the size of the guard band below the stack in
// which a push grows the stack. By default it is half a page.
func (b Builder) WithStackValidMargin(margin uint64) Builder {
	b.stackValidMargin = margin
	return b
}

// WithStackLimit sets how far below the stack top the stack may grow.
func (b Builder) WithStackLimit(limit uint64) Builder {
	b.stackLimit = limit
	return b
}

// WithIDGenerator sets the generator of the IDs of traced faults.
func (b Builder) WithIDGenerator(gen id.IDGenerator) Builder {
	b.idGenerator = gen
	return b
}

// Build creates an empty supplemental page table. Its stack bottom is one
// page below the stack top.
func (b Builder) Build(name string) *SupplementalPageTable {
	b.mustBeValid()

	pageSize := vm.PageSize(b.log2PageSize)

	margin := b.stackValidMargin
	if margin == 0 {
		margin = pageSize / 2
	}

	dev := b.swapDevice
	if dev == nil {
		dev = swap.MakeBuilder().
			WithLog2PageSize(b.log2PageSize).
			Build(name + ".Swap")
	}

	gen := b.idGenerator
	if gen == nil {
		gen = id.NewIDGenerator()
	}

	return &SupplementalPageTable{
		NamedBase:        naming.MakeNamedBase(name),
		pid:              b.pid,
		pageTable:        b.pageTable,
		frames:           b.frames,
		swapDevice:       dev,
		idGenerator:      gen,
		log2PageSize:     b.log2PageSize,
		userStackTop:     b.userStackTop,
		stackValidMargin: margin,
		stackLimit:       b.stackLimit,
		pages:            make(map[uint64]*vm.Page),
		stackBottom:      b.userStackTop - pageSize,
		rsp:              b.userStackTop,
	}
}

func (b Builder) mustBeValid() {
	if b.pageTable == nil {
		panic("supplemental page table needs a hardware page table")
	}

	if b.frames == nil {
		panic("supplemental page table needs a frame table")
	}

	if b.frames.Log2PageSize() != b.log2PageSize {
		panic(fmt.Sprintf("page size 2^%d does not match frame size 2^%d",
			b.log2PageSize, b.frames.Log2PageSize()))
	}

	if b.swapDevice != nil && b.swapDevice.PageSize() != 1<<b.log2PageSize {
		panic("swap slot size does not match page size")
	}

	pageSize := vm.PageSize(b.log2PageSize)

	if !vm.IsAligned(b.userStackTop, b.log2PageSize) {
		panic("user stack top must be page aligned")
	}

	if b.stackLimit < pageSize || b.stackLimit > b.userStackTop {
		panic(fmt.Sprintf("stack limit 0x%x must be between one page and "+
			"the stack top 0x%x", b.stackLimit, b.userStackTop))
	}

	if !vm.IsAligned(b.stackLimit, b.log2PageSize) {
		panic(fmt.Sprintf("stack limit 0x%x must be page aligned", b.stackLimit))
	}
}
