package vm

import "fmt"

// NewUninitPage creates a page that remembers how to produce its content.
// The content is produced when the page is claimed for the first time, at
// which point the page turns into a page of the target kind.
func NewUninitPage(
	vAddr uint64,
	writable bool,
	target Kind,
	init Initializer,
	aux any,
	factory BackingFactory,
) (*Page, error) {
	if target != KindAnon && target != KindFile {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKind, target)
	}

	if factory == nil {
		panic("uninit page must have a backing factory")
	}

	backing := &uninitBacking{
		target:  target,
		init:    init,
		aux:     aux,
		factory: factory,
	}

	return NewPage(vAddr, writable, backing), nil
}

type uninitBacking struct {
	target  Kind
	init    Initializer
	aux     any
	factory BackingFactory
}

func (u *uninitBacking) Kind() Kind {
	return KindUninit
}

// SwapIn materializes the page. The page only changes kind if the content was
// produced successfully, so that a failed claim can be retried.
func (u *uninitBacking) SwapIn(page *Page, kva []byte) error {
	concrete, err := u.factory(u.target, page, u.aux)
	if err != nil {
		return err
	}

	if u.init != nil {
		err = u.init(page, kva, u.aux)
	} else {
		err = concrete.SwapIn(page, kva)
	}

	if err != nil {
		return err
	}

	page.transition(concrete)

	return nil
}

func (u *uninitBacking) SwapOut(page *Page, _ []byte, _ bool) error {
	panic(fmt.Sprintf("uninit page 0x%x cannot be resident", page.VAddr))
}

func (u *uninitBacking) Destroy(_ *Page, _ []byte, _ bool) error {
	return nil
}

func (u *uninitBacking) Duplicate() (Backing, error) {
	dup := *u
	return &dup, nil
}
