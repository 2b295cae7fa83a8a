// Package swap implements the swap device that holds evicted anonymous pages.
package swap

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"gvisor.dev/gvisor/pkg/bitmap"

	"github.com/sarchlab/vmcore/sim/naming"
)

// ErrNoSlot is returned when every slot of the device is in use.
var ErrNoSlot = errors.New("no free swap slot")

// A Slot is the index of one page-sized area of the device.
type Slot uint32

// A Disk is the storage behind the device.
type Disk interface {
	io.ReaderAt
	io.WriterAt
}

// A discarder can drop the content of a range so that it takes no space.
type discarder interface {
	Discard(address, length uint64) error
}

// Device is a swap device made of page-sized slots. It is safe for
// concurrent use.
type Device struct {
	naming.NamedBase

	lock         sync.Mutex
	log2PageSize uint64
	numSlots     uint32
	used         bitmap.Bitmap
	disk         Disk

	numStores uint64
	numLoads  uint64
}

// PageSize returns the size of a slot.
func (d *Device) PageSize() int {
	return 1 << d.log2PageSize
}

// NumSlots returns the capacity of the device in pages.
func (d *Device) NumSlots() int {
	return int(d.numSlots)
}

// NumUsed returns the number of slots that hold a page.
func (d *Device) NumUsed() int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return int(d.used.GetNumOnes())
}

// Stats returns how many pages were stored to and loaded from the device.
func (d *Device) Stats() (stores, loads uint64) {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.numStores, d.numLoads
}

// Store writes a page into a free slot.
func (d *Device) Store(data []byte) (Slot, error) {
	d.mustBePageSized(data)

	d.lock.Lock()
	defer d.lock.Unlock()

	bit, err := d.used.FirstZero(0)
	if err != nil || bit >= d.numSlots {
		return 0, fmt.Errorf("%w: all %d slots of %s are used",
			ErrNoSlot, d.numSlots, d.Name())
	}

	slot := Slot(bit)
	if _, err := d.disk.WriteAt(data, d.offset(slot)); err != nil {
		return 0, fmt.Errorf("writing swap slot %d: %w", slot, err)
	}

	d.used.Add(bit)
	d.numStores++

	return slot, nil
}

// Load reads the page in a slot. The slot stays in use.
func (d *Device) Load(slot Slot, buf []byte) error {
	d.mustBePageSized(buf)

	d.lock.Lock()
	defer d.lock.Unlock()

	d.mustBeUsed(slot)

	n, err := d.disk.ReadAt(buf, d.offset(slot))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return fmt.Errorf("reading swap slot %d: %w", slot, err)
	}

	d.numLoads++

	return nil
}

// Free makes a slot available again.
func (d *Device) Free(slot Slot) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.mustBeUsed(slot)
	d.used.Remove(uint32(slot))

	if disk, ok := d.disk.(discarder); ok {
		_ = disk.Discard(uint64(d.offset(slot)), uint64(d.PageSize()))
	}
}

// InUse tells if a slot holds a page.
func (d *Device) InUse(slot Slot) bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.inUse(slot)
}

func (d *Device) inUse(slot Slot) bool {
	if uint32(slot) >= d.numSlots {
		return false
	}

	bit, err := d.used.FirstOne(uint32(slot))

	return err == nil && bit == uint32(slot)
}

func (d *Device) mustBeUsed(slot Slot) {
	if !d.inUse(slot) {
		panic(fmt.Sprintf("swap slot %d of %s is not in use", slot, d.Name()))
	}
}

func (d *Device) mustBePageSized(data []byte) {
	if len(data) != d.PageSize() {
		panic(fmt.Sprintf("swap device works on %d byte pages, got %d bytes",
			d.PageSize(), len(data)))
	}
}

func (d *Device) offset(slot Slot) int64 {
	return int64(slot) << d.log2PageSize
}
