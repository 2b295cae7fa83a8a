package swap

import (
	"gvisor.dev/gvisor/pkg/bitmap"

	"github.com/sarchlab/vmcore/memory"
	"github.com/sarchlab/vmcore/sim/naming"
)

// A Builder can build swap devices.
type Builder struct {
	log2PageSize uint64
	numSlots     uint32
	disk         Disk
}

// MakeBuilder creates a builder for a device of 1024 4 KiB slots.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 12,
		numSlots:     1024,
	}
}

// WithLog2PageSize sets the slot size.
func (b Builder) WithLog2PageSize(log2PageSize uint64) Builder {
	b.log2PageSize = log2PageSize
	return b
}

// WithNumSlots sets the number of slots.
func (b Builder) WithNumSlots(n uint32) Builder {
	b.numSlots = n
	return b
}

// WithDisk sets the storage of the device. By default the slots are kept in
// memory.
func (b Builder) WithDisk(disk Disk) Builder {
	b.disk = disk
	return b
}

// Build creates a swap device.
func (b Builder) Build(name string) *Device {
	disk := b.disk
	if disk == nil {
		disk = memory.NewStorageWithUnitSize(
			uint64(b.numSlots)<<b.log2PageSize,
			1<<b.log2PageSize,
		)
	}

	return &Device{
		NamedBase:    naming.MakeNamedBase(name),
		log2PageSize: b.log2PageSize,
		numSlots:     b.numSlots,
		used:         bitmap.New(b.numSlots),
		disk:         disk,
	}
}
