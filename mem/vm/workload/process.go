package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/spt"
	"github.com/sarchlab/vmcore/monitoring"
)

// ErrMismatch is returned when a load does not return the bytes that were
// last stored at the address.
var ErrMismatch = errors.New("loaded data differs from stored data")

// unmappedAddr is never mapped and far from the stack.
const unmappedAddr uint64 = 0x1000

type counters struct {
	loads      uint64
	stores     uint64
	pushes     uint64
	violations uint64
	segFaults  uint64
	forks      uint64
}

// shadow is the expected content of every page that the process has, keyed
// by page address.
type shadow map[uint64][]byte

func (s shadow) clone() shadow {
	c := make(shadow, len(s))
	for va, data := range s {
		c[va] = slices.Clone(data)
	}

	return c
}

func (s shadow) read(vAddr uint64, n int, log2PageSize uint64) []byte {
	out := make([]byte, 0, n)
	pageSize := vm.PageSize(log2PageSize)

	for len(out) < n {
		page := s[vm.AlignDown(vAddr, log2PageSize)]
		off := vAddr & (pageSize - 1)
		m := min(uint64(n-len(out)), pageSize-off)
		out = append(out, page[off:off+m]...)
		vAddr += m
	}

	return out
}

func (s shadow) write(vAddr uint64, data []byte, log2PageSize uint64) {
	pageSize := vm.PageSize(log2PageSize)

	for len(data) > 0 {
		va := vm.AlignDown(vAddr, log2PageSize)
		page, found := s[va]
		if !found {
			page = make([]byte, pageSize)
			s[va] = page
		}

		off := vAddr & (pageSize - 1)
		n := copy(page[off:], data)
		vAddr += uint64(n)
		data = data[n:]
	}
}

type process struct {
	sys      *system
	index    int
	space    *spt.SupplementalPageTable
	monitor  *monitoring.Monitor
	childPID vm.PID

	rand     *rand.Rand
	shadow   shadow
	readOnly map[uint64]bool
	counters counters
}

func (p *process) run(ctx context.Context) error {
	c := p.sys.config
	p.rand = rand.New(rand.NewSource(c.Seed + int64(p.index)))

	if err := p.setup(); err != nil {
		return err
	}

	for i := range c.Accesses {
		if i%64 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.randomAccess(); err != nil {
			return err
		}
	}

	for i := range c.Pushes {
		if i%64 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.push(); err != nil {
			return err
		}
	}

	if err := verify(p.space, p.shadow, c.Log2PageSize); err != nil {
		return err
	}

	if c.Fork {
		if err := p.checkFork(); err != nil {
			return err
		}
	}

	return verify(p.space, p.shadow, c.Log2PageSize)
}

// setup registers the pages of the process. Even anonymous pages start with
// a pattern produced by an initializer, odd ones start zeroed. File pages
// mirror a region of the shared file that belongs to this process only, and
// every other file page is read-only.
func (p *process) setup() error {
	c := p.sys.config
	pageSize := c.PageSize()

	p.shadow = make(shadow)
	p.readOnly = make(map[uint64]bool)

	if err := p.space.SetupStack(); err != nil {
		return err
	}

	p.shadow[p.space.StackBottom()] = make([]byte, pageSize)

	for i := range c.AnonPages {
		va := anonBase + uint64(i)*pageSize
		content := make([]byte, pageSize)

		var (
			initializer vm.Initializer
			aux         any
		)

		if i%2 == 0 {
			seed := byte(p.index*16 + i)
			fillPattern(content, seed)
			initializer = initPattern
			aux = seed
		}

		err := p.space.AllocatePage(vm.KindAnon, va, true, initializer, aux)
		if err != nil {
			return err
		}

		p.shadow[va] = content
	}

	for i := range c.FilePages {
		va := fileBase + uint64(i)*pageSize
		offset := uint64(p.index*c.FilePages+i) * pageSize

		content := make([]byte, pageSize)
		fillPattern(content, byte(0x80+p.index*8+i))

		if err := p.sys.file.Write(offset, content); err != nil {
			return err
		}

		writable := i%2 == 0
		seg := vm.FileSegment{
			File:   p.sys.file,
			Offset: int64(offset),
			Length: int(pageSize),
		}

		err := p.space.AllocatePage(vm.KindFile, va, writable, nil, seg)
		if err != nil {
			return err
		}

		p.shadow[va] = content
		p.readOnly[va] = !writable
	}

	return nil
}

func initPattern(_ *vm.Page, kva []byte, aux any) error {
	fillPattern(kva, aux.(byte))
	return nil
}

func fillPattern(buf []byte, seed byte) {
	for i := range buf {
		buf[i] = seed ^ byte(i*7)
	}
}

func (p *process) randomAccess() error {
	c := p.sys.config

	if p.rand.Intn(64) == 0 {
		return p.probeUnmapped()
	}

	vAddr, n := p.randomRange()

	if p.rand.Float64() >= c.WriteRatio {
		return p.load(vAddr, n)
	}

	return p.store(vAddr, p.randomBytes(n))
}

// randomRange picks a range that lies in one registered page, or spans two
// neighboring anonymous pages.
func (p *process) randomRange() (uint64, int) {
	c := p.sys.config
	pageSize := c.PageSize()
	n := 1 + p.rand.Intn(16)

	i := p.rand.Intn(c.AnonPages + c.FilePages)
	if i < c.AnonPages {
		span := uint64(c.AnonPages)*pageSize - uint64(n)
		return anonBase + uint64(p.rand.Int63n(int64(span)+1)), n
	}

	va := fileBase + uint64(i-c.AnonPages)*pageSize
	off := uint64(p.rand.Int63n(int64(pageSize) - int64(n) + 1))

	return va + off, n
}

func (p *process) randomBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(p.rand.Intn(256))
	}

	return data
}

func (p *process) load(vAddr uint64, n int) error {
	buf := make([]byte, n)
	if err := p.space.Load(vAddr, buf); err != nil {
		return fmt.Errorf("%s: loading 0x%x: %w", p.space.Name(), vAddr, err)
	}

	p.counters.loads++

	want := p.shadow.read(vAddr, n, p.sys.config.Log2PageSize)
	if !bytes.Equal(buf, want) {
		return fmt.Errorf("%s: %w at 0x%x: got %x, want %x",
			p.space.Name(), ErrMismatch, vAddr, buf, want)
	}

	return nil
}

func (p *process) store(vAddr uint64, data []byte) error {
	log2PageSize := p.sys.config.Log2PageSize
	err := p.space.Store(vAddr, data)

	if p.readOnly[vm.AlignDown(vAddr, log2PageSize)] {
		if !errors.Is(err, vm.ErrAccessViolation) {
			return fmt.Errorf("%s: store to read-only 0x%x returned %v",
				p.space.Name(), vAddr, err)
		}

		p.counters.violations++

		return nil
	}

	if err != nil {
		return fmt.Errorf("%s: storing 0x%x: %w", p.space.Name(), vAddr, err)
	}

	p.counters.stores++
	p.shadow.write(vAddr, data, log2PageSize)

	return nil
}

func (p *process) push() error {
	data := p.randomBytes(int(pushSize))

	if err := p.space.Push(data); err != nil {
		return fmt.Errorf("%s: pushing at 0x%x: %w",
			p.space.Name(), p.space.StackPointer(), err)
	}

	p.counters.pushes++
	p.shadow.write(p.space.StackPointer(), data, p.sys.config.Log2PageSize)

	return nil
}

func (p *process) probeUnmapped() error {
	err := p.space.Load(unmappedAddr, make([]byte, 1))
	if !errors.Is(err, vm.ErrSegmentationFault) {
		return fmt.Errorf("%s: load from unmapped 0x%x returned %v",
			p.space.Name(), unmappedAddr, err)
	}

	p.counters.segFaults++

	return nil
}

// checkFork copies the address space, writes to the anonymous pages of the
// copy and makes sure that neither address space sees the writes of the
// other.
func (p *process) checkFork() error {
	c := p.sys.config

	child, err := p.space.Fork(
		fmt.Sprintf("%s.Child", p.space.Name()), p.childPID)
	if err != nil {
		return fmt.Errorf("%s: fork: %w", p.space.Name(), err)
	}

	if p.monitor != nil {
		p.monitor.RegisterAddressSpace(child)
		defer p.monitor.UnregisterAddressSpace(child)
	}

	p.counters.forks++

	childShadow := p.shadow.clone()
	if err := verify(child, childShadow, c.Log2PageSize); err != nil {
		return errors.Join(err, child.Teardown())
	}

	if c.AnonPages > 0 {
		pageSize := c.PageSize()
		for range c.Accesses/4 + 1 {
			va := anonBase + uint64(p.rand.Intn(c.AnonPages))*pageSize
			off := uint64(p.rand.Int63n(int64(pageSize) - 8))
			data := p.randomBytes(8)

			if err := child.Store(va+off, data); err != nil {
				return errors.Join(err, child.Teardown())
			}

			childShadow.write(va+off, data, c.Log2PageSize)
		}
	}

	if err := verify(p.space, p.shadow, c.Log2PageSize); err != nil {
		return errors.Join(err, child.Teardown())
	}

	if err := verify(child, childShadow, c.Log2PageSize); err != nil {
		return errors.Join(err, child.Teardown())
	}

	return child.Teardown()
}

// verify loads every page in expected and compares it with what it should
// hold.
func verify(
	space *spt.SupplementalPageTable,
	expected shadow,
	log2PageSize uint64,
) error {
	addrs := make([]uint64, 0, len(expected))
	for va := range expected {
		addrs = append(addrs, va)
	}

	slices.Sort(addrs)

	buf := make([]byte, vm.PageSize(log2PageSize))
	for _, va := range addrs {
		if err := space.Load(va, buf); err != nil {
			return fmt.Errorf("%s: loading page 0x%x: %w",
				space.Name(), va, err)
		}

		if !bytes.Equal(buf, expected[va]) {
			return fmt.Errorf("%s: %w in page 0x%x",
				space.Name(), ErrMismatch, va)
		}
	}

	return nil
}
