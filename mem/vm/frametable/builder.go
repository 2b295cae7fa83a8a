package frametable

import (
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/frametable/internal"
	"github.com/sarchlab/vmcore/sim/naming"
)

// A Builder can build frame tables.
type Builder struct {
	log2PageSize uint64
	numFrames    int
	physicalBase uint64
}

// MakeBuilder creates a new builder with a 4 KiB page and 256 frames.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 12,
		numFrames:    256,
	}
}

// WithLog2PageSize sets the size of a frame.
func (b Builder) WithLog2PageSize(log2PageSize uint64) Builder {
	b.log2PageSize = log2PageSize
	return b
}

// WithNumFrames sets the number of frames in the user pool.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithPhysicalBase sets the physical address of the first frame.
func (b Builder) WithPhysicalBase(addr uint64) Builder {
	b.physicalBase = addr
	return b
}

// Build creates a frame table with the given name.
func (b Builder) Build(name string) *Comp {
	if b.numFrames < 0 {
		panic("number of frames must not be negative")
	}

	if !vm.IsAligned(b.physicalBase, b.log2PageSize) {
		panic("physical base must be page aligned")
	}

	return &Comp{
		NamedBase:    naming.MakeNamedBase(name),
		log2PageSize: b.log2PageSize,
		numFrames:    b.numFrames,
		physicalBase: b.physicalBase,
		clock:        internal.NewClock(),
	}
}
