package spt

import (
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
)

// maxAccessRetries bounds how many times one page access is retried after a
// resolved fault. A retry only fails if another process evicted the page
// between the fault and the retry.
const maxAccessRetries = 8

// StackPointer returns the simulated user stack pointer.
func (s *SupplementalPageTable) StackPointer() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.rsp
}

// SetStackPointer moves the simulated user stack pointer.
func (s *SupplementalPageTable) SetStackPointer(rsp uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.rsp = rsp
}

// Load reads len(buf) bytes at vAddr the way a user instruction would,
// resolving page faults on the way. It returns the error of the first fault
// that cannot be resolved.
func (s *SupplementalPageTable) Load(vAddr uint64, buf []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.access(vAddr, buf, false, s.rsp)
}

// Store writes data at vAddr the way a user instruction would.
func (s *SupplementalPageTable) Store(vAddr uint64, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.access(vAddr, data, true, s.rsp)
}

// Push moves the stack pointer down by len(data) and writes data there, which
// may grow the stack. The stack pointer is left unchanged if the write fails.
func (s *SupplementalPageTable) Push(data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	rsp := s.rsp - uint64(len(data))
	if err := s.access(rsp, data, true, rsp); err != nil {
		return err
	}

	s.rsp = rsp

	return nil
}

func (s *SupplementalPageTable) access(
	vAddr uint64,
	buf []byte,
	write bool,
	rsp uint64,
) error {
	pageSize := vm.PageSize(s.log2PageSize)

	for len(buf) > 0 {
		n := pageSize - vAddr&(pageSize-1)
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}

		if err := s.accessPage(vAddr, buf[:n], write, rsp); err != nil {
			return err
		}

		vAddr += n
		buf = buf[n:]
	}

	return nil
}

func (s *SupplementalPageTable) accessPage(
	vAddr uint64,
	buf []byte,
	write bool,
	rsp uint64,
) error {
	for range maxAccessRetries {
		if s.frames.Access(s.pid, s.pageTable, vAddr, buf, write) {
			return nil
		}

		_, mapped := s.pageTable.Lookup(s.pid, vAddr)
		f := vm.Fault{
			Addr:       vAddr,
			RSP:        rsp,
			User:       true,
			Write:      write,
			NotPresent: !mapped,
		}

		if err := s.handleFault(f); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: access to 0x%x kept faulting",
		vm.ErrOutOfMemory, vAddr)
}
