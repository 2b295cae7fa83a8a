package vm

import "errors"

// Errors reported by the virtual memory subsystem. Callers match them with
// errors.Is, as most of them are wrapped with the address or page involved.
var (
	// ErrDuplicateMapping is returned when a page is inserted at a virtual
	// address that already has a page.
	ErrDuplicateMapping = errors.New("duplicate mapping")

	// ErrNotFound is returned when no page is registered at an address.
	ErrNotFound = errors.New("page not found")

	// ErrInvalidKind is returned when a page is requested with a kind that
	// cannot be requested directly.
	ErrInvalidKind = errors.New("invalid page kind")

	// ErrSegmentationFault is returned when a fault hits an address that no
	// page covers.
	ErrSegmentationFault = errors.New("segmentation fault")

	// ErrAccessViolation is returned on a write fault to a read-only page.
	ErrAccessViolation = errors.New("access violation")

	// ErrStackOverflow is returned when a fault in the stack guard band is
	// not caused by a push.
	ErrStackOverflow = errors.New("stack overflow")

	// ErrStackLimitExceeded is returned when the stack would grow past its
	// floor.
	ErrStackLimitExceeded = errors.New("stack limit exceeded")

	// ErrOutOfMemory is returned when no frame can be produced, not even by
	// eviction.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrLoadFailure is returned when the backing store cannot produce the
	// content of a page.
	ErrLoadFailure = errors.New("load failure")

	// ErrAllocationFailure is returned when copying an address space cannot
	// obtain a frame.
	ErrAllocationFailure = errors.New("allocation failure")

	// ErrAlreadyMapped signals that the hardware page table already holds a
	// mapping the supplemental page table does not know about. It is never
	// returned to callers of the fault path; it is raised as a panic.
	ErrAlreadyMapped = errors.New("virtual address already mapped")
)
