// Package anon implements anonymous pages. Their content starts as zeros and
// goes to the swap device when evicted.
package anon

import (
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/swap"
)

// Backing is the backing of an anonymous page.
type Backing struct {
	dev    *swap.Device
	slot   swap.Slot
	inSwap bool
}

// New creates the backing of a new anonymous page.
func New(dev *swap.Device) *Backing {
	if dev == nil {
		panic("anonymous pages need a swap device")
	}

	return &Backing{dev: dev}
}

// Kind returns vm.KindAnon.
func (b *Backing) Kind() vm.Kind {
	return vm.KindAnon
}

// InSwap tells if the content of the page is on the swap device, and where.
func (b *Backing) InSwap() (swap.Slot, bool) {
	return b.slot, b.inSwap
}

// SwapIn restores the page from its swap slot, or zero fills it if the page
// was never evicted. The slot is freed once the content is back.
func (b *Backing) SwapIn(_ *vm.Page, kva []byte) error {
	if !b.inSwap {
		clear(kva)
		return nil
	}

	if err := b.dev.Load(b.slot, kva); err != nil {
		return err
	}

	b.dev.Free(b.slot)
	b.inSwap = false

	return nil
}

// SwapOut writes the page to a free swap slot. Anonymous pages have no other
// copy, so the content is saved even if it is clean.
func (b *Backing) SwapOut(page *vm.Page, kva []byte, _ bool) error {
	if b.inSwap {
		panic(fmt.Sprintf("anonymous page 0x%x is already in swap", page.VAddr))
	}

	slot, err := b.dev.Store(kva)
	if err != nil {
		return err
	}

	b.slot = slot
	b.inSwap = true

	return nil
}

// Destroy gives back the swap slot of the page, if it has one.
func (b *Backing) Destroy(_ *vm.Page, _ []byte, _ bool) error {
	if b.inSwap {
		b.dev.Free(b.slot)
		b.inSwap = false
	}

	return nil
}

// Duplicate returns a backing for a copy of the page. The content of the copy
// is provided by the caller, so the copy starts without a swap slot.
func (b *Backing) Duplicate() (vm.Backing, error) {
	return New(b.dev), nil
}
