// Package filebacked implements pages that mirror a segment of a file.
package filebacked

import (
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/vmcore/mem/vm"
)

// Backing is the backing of a file-backed page.
type Backing struct {
	seg vm.FileSegment
}

// New creates the backing of a page that mirrors seg.
func New(seg vm.FileSegment) *Backing {
	if seg.File == nil {
		panic("file-backed page needs a file")
	}

	if seg.Length < 0 || seg.Offset < 0 {
		panic(fmt.Sprintf("invalid file segment at %d of %d bytes",
			seg.Offset, seg.Length))
	}

	return &Backing{seg: seg}
}

// Kind returns vm.KindFile.
func (b *Backing) Kind() vm.Kind {
	return vm.KindFile
}

// Segment returns the part of the file that the page mirrors.
func (b *Backing) Segment() vm.FileSegment {
	return b.seg
}

// SwapIn reads the segment into the page and zero fills the rest. A file that
// ends early reads as zeros.
func (b *Backing) SwapIn(page *vm.Page, kva []byte) error {
	n := b.length(kva)

	read, err := b.seg.File.ReadAt(kva[:n], b.seg.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading page 0x%x from offset %d: %w",
			page.VAddr, b.seg.Offset, err)
	}

	clear(kva[read:])

	return nil
}

// SwapOut writes the segment back if the page is dirty. Clean pages are
// dropped since the file still has their content.
func (b *Backing) SwapOut(page *vm.Page, kva []byte, dirty bool) error {
	if !dirty {
		return nil
	}

	return b.writeBack(page, kva)
}

// Destroy writes a dirty resident page back to the file.
func (b *Backing) Destroy(page *vm.Page, kva []byte, dirty bool) error {
	if kva == nil || !dirty {
		return nil
	}

	return b.writeBack(page, kva)
}

func (b *Backing) writeBack(page *vm.Page, kva []byte) error {
	n := b.length(kva)

	if _, err := b.seg.File.WriteAt(kva[:n], b.seg.Offset); err != nil {
		return fmt.Errorf("writing page 0x%x back to offset %d: %w",
			page.VAddr, b.seg.Offset, err)
	}

	return nil
}

func (b *Backing) length(kva []byte) int {
	return min(b.seg.Length, len(kva))
}

// Duplicate returns a backing that mirrors the same segment.
func (b *Backing) Duplicate() (vm.Backing, error) {
	return New(b.seg), nil
}
