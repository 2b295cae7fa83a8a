// Package memory provides sparse byte storage. It serves as the disk behind
// the swap device and as the content of in-memory files.
package memory

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrOutOfRange is returned when an access goes beyond the storage capacity.
var ErrOutOfRange = errors.New("accessing address beyond the storage capacity")

// A Storage keeps bytes in units. The unit is similar to the concept of page
// in memory management. For the units that are not touched by writes, no
// memory is allocated and reads return zeros.
type Storage struct {
	lock     sync.RWMutex
	unitSize uint64
	capacity uint64
	size     uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, 4096)
}

// NewStorageWithUnitSize creates a storage whose allocation unit is unitSize
// bytes.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	if unitSize == 0 {
		panic("unit size must not be 0")
	}

	return &Storage{
		unitSize: unitSize,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes that the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// Size returns one past the highest byte ever written.
func (s *Storage) Size() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.size
}

// NumAllocatedUnits returns how many units hold data.
func (s *Storage) NumAllocatedUnits() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return len(s.data)
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

func (s *Storage) checkRange(address, length uint64) error {
	if address+length > s.capacity || address+length < address {
		return fmt.Errorf("%w: [0x%x, 0x%x) capacity 0x%x",
			ErrOutOfRange, address, address+length, s.capacity)
	}

	return nil
}

// Read returns length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	res := make([]byte, length)
	if err := s.read(address, res); err != nil {
		return nil, err
	}

	return res, nil
}

func (s *Storage) read(address uint64, buf []byte) error {
	if err := s.checkRange(address, uint64(len(buf))); err != nil {
		return err
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(buf)) {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(uint64(len(buf))-dataOffset, s.unitSize-inUnitAddr)
		dst := buf[dataOffset : dataOffset+lenToRead]

		if unit, ok := s.data[baseAddr]; ok {
			copy(dst, unit[inUnitAddr:inUnitAddr+lenToRead])
		} else {
			clear(dst)
		}

		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	if err := s.checkRange(address, uint64(len(data))); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		unit, ok := s.data[baseAddr]
		if !ok {
			unit = make([]byte, s.unitSize)
			s.data[baseAddr] = unit
		}

		lenToWrite := min(uint64(len(data))-dataOffset, s.unitSize-inUnitAddr)
		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])

		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	s.size = max(s.size, address+uint64(len(data)))

	return nil
}

// ReadAt implements io.ReaderAt. Reading past the written size returns the
// bytes before it together with io.EOF.
func (s *Storage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}

	size := s.Size()
	if uint64(off) >= size {
		return 0, io.EOF
	}

	n := min(uint64(len(p)), size-uint64(off))
	if err := s.read(uint64(off), p[:n]); err != nil {
		return 0, err
	}

	if n < uint64(len(p)) {
		return int(n), io.EOF
	}

	return int(n), nil
}

// WriteAt implements io.WriterAt.
func (s *Storage) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, off)
	}

	if err := s.Write(uint64(off), p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Discard drops the units that lie entirely within [address, address+length)
// so that their memory is released. Partially covered units are zeroed.
func (s *Storage) Discard(address, length uint64) error {
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	end := address + length
	for currAddr := address; currAddr < end; {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenInUnit := min(end-currAddr, s.unitSize-inUnitAddr)

		if lenInUnit == s.unitSize {
			delete(s.data, baseAddr)
		} else if unit, ok := s.data[baseAddr]; ok {
			clear(unit[inUnitAddr : inUnitAddr+lenInUnit])
		}

		currAddr += lenInUnit
	}

	return nil
}
