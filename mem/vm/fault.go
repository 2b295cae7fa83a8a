package vm

import "io"

// A Fault describes a page fault as reported by the trap handler.
type Fault struct {
	// Addr is the faulting virtual address.
	Addr uint64
	// RSP is the user stack pointer at the time of the fault.
	RSP uint64
	// User is set if the fault happened in user mode.
	User bool
	// Write is set if the faulting access was a write.
	Write bool
	// NotPresent is set if the page was not mapped. It is clear for
	// protection faults on mapped pages.
	NotPresent bool
}

// A File is the storage behind file-backed pages.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// A FileSegment is the part of a file that backs one page. Bytes of the page
// beyond Length are zero.
type FileSegment struct {
	File   File
	Offset int64
	Length int
}
