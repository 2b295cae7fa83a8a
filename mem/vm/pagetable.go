package vm

import (
	"container/list"
	"fmt"
	"sync"
)

// PID stands for Process ID.
type PID uint32

// A PTE is an entry of the hardware page table. It maps one virtual page of a
// process to one physical page and carries the bits that the hardware sets
// when the page is used.
type PTE struct {
	PID      PID
	VAddr    uint64
	PAddr    uint64
	Writable bool
	Accessed bool
	Dirty    bool
}

// A PageTable is the hardware page table installer. The virtual memory core
// never walks a page table format directly; it only installs, looks up and
// removes mappings through this interface.
type PageTable interface {
	// Install maps the page at vAddr to the physical page at pAddr. It
	// returns an error wrapping ErrAlreadyMapped if vAddr is mapped.
	Install(pid PID, vAddr, pAddr uint64, writable bool) error

	// Lookup returns the mapping of the page that contains vAddr.
	Lookup(pid PID, vAddr uint64) (PTE, bool)

	// Unmap removes the mapping of the page that contains vAddr, if any.
	Unmap(pid PID, vAddr uint64)

	// Touch performs the bookkeeping of a hardware access. If the access is
	// permitted, the accessed bit, and for writes the dirty bit, are set. The
	// returned PTE reflects the entry after the access.
	Touch(pid PID, vAddr uint64, write bool) (PTE, bool)

	// IsAccessed reports the accessed bit of a mapping.
	IsAccessed(pid PID, vAddr uint64) bool

	// SetAccessed overwrites the accessed bit of a mapping.
	SetAccessed(pid PID, vAddr uint64, accessed bool)

	// IsDirty reports the dirty bit of a mapping.
	IsDirty(pid PID, vAddr uint64) bool

	// SetDirty overwrites the dirty bit of a mapping.
	SetDirty(pid PID, vAddr uint64, dirty bool)

	// Entries lists the mappings of a process in installation order.
	Entries(pid PID) []PTE

	// RemoveProcess drops every mapping of a process.
	RemoveProcess(pid PID)
}

// NewPageTable creates a new PageTable.
func NewPageTable(log2PageSize uint64) PageTable {
	return &pageTableImpl{
		log2PageSize: log2PageSize,
		tables:       make(map[PID]*processTable),
	}
}

// pageTableImpl is the default implementation of a hardware page table. Each
// process has its own table so that processes do not contend on one lock.
type pageTableImpl struct {
	sync.Mutex
	log2PageSize uint64
	tables       map[PID]*processTable
}

func (pt *pageTableImpl) getTable(pid PID) *processTable {
	pt.Lock()
	defer pt.Unlock()

	table, found := pt.tables[pid]
	if !found {
		table = &processTable{
			entries:      list.New(),
			entriesTable: make(map[uint64]*list.Element),
		}
		pt.tables[pid] = table
	}

	return table
}

func (pt *pageTableImpl) alignToPage(addr uint64) uint64 {
	return (addr >> pt.log2PageSize) << pt.log2PageSize
}

// Install maps a virtual page to a physical page.
func (pt *pageTableImpl) Install(
	pid PID,
	vAddr, pAddr uint64,
	writable bool,
) error {
	vAddr = pt.alignToPage(vAddr)
	table := pt.getTable(pid)

	return table.insert(PTE{
		PID:      pid,
		VAddr:    vAddr,
		PAddr:    pt.alignToPage(pAddr),
		Writable: writable,
	})
}

// Lookup returns the mapping that contains the given virtual address.
func (pt *pageTableImpl) Lookup(pid PID, vAddr uint64) (PTE, bool) {
	table := pt.getTable(pid)
	return table.find(pt.alignToPage(vAddr))
}

// Unmap removes the mapping that contains the given virtual address.
func (pt *pageTableImpl) Unmap(pid PID, vAddr uint64) {
	table := pt.getTable(pid)
	table.remove(pt.alignToPage(vAddr))
}

// Touch records an access on a mapping.
func (pt *pageTableImpl) Touch(pid PID, vAddr uint64, write bool) (PTE, bool) {
	table := pt.getTable(pid)
	return table.touch(pt.alignToPage(vAddr), write)
}

// IsAccessed reports the accessed bit of a mapping.
func (pt *pageTableImpl) IsAccessed(pid PID, vAddr uint64) bool {
	pte, found := pt.Lookup(pid, vAddr)
	return found && pte.Accessed
}

// SetAccessed overwrites the accessed bit of a mapping.
func (pt *pageTableImpl) SetAccessed(pid PID, vAddr uint64, accessed bool) {
	table := pt.getTable(pid)
	table.update(pt.alignToPage(vAddr), func(pte *PTE) {
		pte.Accessed = accessed
	})
}

// IsDirty reports the dirty bit of a mapping.
func (pt *pageTableImpl) IsDirty(pid PID, vAddr uint64) bool {
	pte, found := pt.Lookup(pid, vAddr)
	return found && pte.Dirty
}

// SetDirty overwrites the dirty bit of a mapping.
func (pt *pageTableImpl) SetDirty(pid PID, vAddr uint64, dirty bool) {
	table := pt.getTable(pid)
	table.update(pt.alignToPage(vAddr), func(pte *PTE) {
		pte.Dirty = dirty
	})
}

// Entries lists the mappings of a process.
func (pt *pageTableImpl) Entries(pid PID) []PTE {
	table := pt.getTable(pid)
	return table.list()
}

// RemoveProcess drops the table of a process.
func (pt *pageTableImpl) RemoveProcess(pid PID) {
	pt.Lock()
	defer pt.Unlock()

	delete(pt.tables, pid)
}

type processTable struct {
	sync.Mutex
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

func (t *processTable) insert(pte PTE) error {
	t.Lock()
	defer t.Unlock()

	if _, found := t.entriesTable[pte.VAddr]; found {
		return fmt.Errorf("%w: pid %d, vaddr 0x%x",
			ErrAlreadyMapped, pte.PID, pte.VAddr)
	}

	elem := t.entries.PushBack(pte)
	t.entriesTable[pte.VAddr] = elem

	return nil
}

func (t *processTable) remove(vAddr uint64) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return
	}

	t.entries.Remove(elem)
	delete(t.entriesTable, vAddr)
}

func (t *processTable) find(vAddr uint64) (PTE, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if found {
		return elem.Value.(PTE), true
	}

	return PTE{}, false
}

func (t *processTable) touch(vAddr uint64, write bool) (PTE, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return PTE{}, false
	}

	pte := elem.Value.(PTE)
	if write && !pte.Writable {
		return pte, true
	}

	pte.Accessed = true
	if write {
		pte.Dirty = true
	}
	elem.Value = pte

	return pte, true
}

func (t *processTable) update(vAddr uint64, f func(pte *PTE)) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return
	}

	pte := elem.Value.(PTE)
	f(&pte)
	elem.Value = pte
}

func (t *processTable) list() []PTE {
	t.Lock()
	defer t.Unlock()

	ptes := make([]PTE, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		ptes = append(ptes, e.Value.(PTE))
	}

	return ptes
}
