package vm

import "fmt"

// Kind tells where the content of a page comes from.
type Kind int

// A list of all page kinds.
const (
	// KindUninit is a page whose content has not been produced yet. It is a
	// placeholder that turns into its target kind on first claim.
	KindUninit Kind = iota
	// KindAnon is a page without a file behind it. Evicted anonymous pages go
	// to the swap device.
	KindAnon
	// KindFile is a page that mirrors a range of a file.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindUninit:
		return "uninit"
	case KindAnon:
		return "anon"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameID is a handle to a frame in the frame table.
type FrameID int32

// NoFrame is the FrameID of a page that is not resident.
const NoFrame FrameID = -1

// A Backing implements the kind specific behavior of a page. Each page owns
// its own Backing value, so the value can also keep per-page state such as a
// swap slot.
type Backing interface {
	// Kind returns the kind that the backing implements.
	Kind() Kind

	// SwapIn fills kva with the content of the page.
	SwapIn(page *Page, kva []byte) error

	// SwapOut saves the content in kva so that the frame can be reused. The
	// dirty flag tells whether the page was written since it was loaded.
	SwapOut(page *Page, kva []byte, dirty bool) error

	// Destroy releases everything the page holds in the backing store. kva is
	// nil if the page is not resident.
	Destroy(page *Page, kva []byte, dirty bool) error

	// Duplicate returns a backing for a copy of the page in another address
	// space.
	Duplicate() (Backing, error)
}

// An Initializer produces the first content of a page. It runs once, when
// the page is claimed for the first time, with the frame content in kva.
type Initializer func(page *Page, kva []byte, aux any) error

// A BackingFactory creates the concrete backing of a page that is being
// materialized.
type BackingFactory func(kind Kind, page *Page, aux any) (Backing, error)

// A Page describes one virtual page of an address space.
//
// VAddr and Writable never change. The backing and the frame binding are
// owned by the frame table and must only be changed while holding its lock.
type Page struct {
	VAddr    uint64
	Writable bool

	backing Backing
	frame   FrameID
}

// NewPage creates a page that already has a concrete backing.
func NewPage(vAddr uint64, writable bool, backing Backing) *Page {
	if backing == nil {
		panic("page must have a backing")
	}

	return &Page{
		VAddr:    vAddr,
		Writable: writable,
		backing:  backing,
		frame:    NoFrame,
	}
}

// Kind returns the current kind of the page.
func (p *Page) Kind() Kind {
	return p.backing.Kind()
}

// EffectiveKind returns the kind the page has, or will have once it is
// materialized.
func (p *Page) EffectiveKind() Kind {
	if u, ok := p.backing.(*uninitBacking); ok {
		return u.target
	}

	return p.backing.Kind()
}

// Backing returns the backing of the page.
func (p *Page) Backing() Backing {
	return p.backing
}

// Frame returns the frame that holds the page content.
func (p *Page) Frame() (FrameID, bool) {
	return p.frame, p.frame != NoFrame
}

// IsResident tells if the content of the page is in a frame.
func (p *Page) IsResident() bool {
	return p.frame != NoFrame
}

// BindFrame records that the page lives in the given frame.
func (p *Page) BindFrame(id FrameID) {
	if id == NoFrame {
		panic("binding a page to no frame")
	}

	if p.frame != NoFrame {
		panic(fmt.Sprintf("page 0x%x is already bound to frame %d",
			p.VAddr, p.frame))
	}

	p.frame = id
}

// UnbindFrame records that the page is no longer resident.
func (p *Page) UnbindFrame() {
	p.frame = NoFrame
}

// SwapIn loads the content of the page into kva.
func (p *Page) SwapIn(kva []byte) error {
	return p.backing.SwapIn(p, kva)
}

// SwapOut saves the content of the page held in kva.
func (p *Page) SwapOut(kva []byte, dirty bool) error {
	return p.backing.SwapOut(p, kva, dirty)
}

// Destroy releases the backing store of the page.
func (p *Page) Destroy(kva []byte, dirty bool) error {
	return p.backing.Destroy(p, kva, dirty)
}

// Duplicate creates a non-resident copy of the page for another address
// space. Uninitialized pages keep their initializer and will be initialized
// independently.
func (p *Page) Duplicate() (*Page, error) {
	backing, err := p.backing.Duplicate()
	if err != nil {
		return nil, err
	}

	return NewPage(p.VAddr, p.Writable, backing), nil
}

func (p *Page) transition(backing Backing) {
	p.backing = backing
}
