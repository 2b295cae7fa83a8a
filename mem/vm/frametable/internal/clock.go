// Package internal holds the victim selection of the frame table.
package internal

import (
	"container/list"
	"fmt"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A Clock keeps resident frames in the order they were loaded and selects
// eviction victims with the second chance algorithm.
type Clock struct {
	hand     *list.List
	elements map[vm.FrameID]*list.Element
}

// NewClock creates an empty clock.
func NewClock() *Clock {
	return &Clock{
		hand:     list.New(),
		elements: make(map[vm.FrameID]*list.Element),
	}
}

// Len returns the number of frames on the clock.
func (c *Clock) Len() int {
	return c.hand.Len()
}

// Contains tells if a frame is on the clock.
func (c *Clock) Contains(id vm.FrameID) bool {
	_, found := c.elements[id]
	return found
}

// PushBack adds a newly loaded frame as the youngest one.
func (c *Clock) PushBack(id vm.FrameID) {
	if _, found := c.elements[id]; found {
		panic(fmt.Sprintf("frame %d is already on the clock", id))
	}

	c.elements[id] = c.hand.PushBack(id)
}

// Remove takes a frame off the clock. Removing a frame that is not on the
// clock does nothing.
func (c *Clock) Remove(id vm.FrameID) {
	elem, found := c.elements[id]
	if !found {
		return
	}

	c.hand.Remove(elem)
	delete(c.elements, id)
}

// Frames lists the frames from the oldest to the youngest.
func (c *Clock) Frames() []vm.FrameID {
	ids := make([]vm.FrameID, 0, c.hand.Len())
	for e := c.hand.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(vm.FrameID))
	}

	return ids
}

// Victim selects the frame to evict and takes it off the clock.
//
// Frames are visited from the oldest. A frame for which skip returns true is
// passed over. A frame for which testAndClear returns true was referenced
// since the last visit; it gets a second chance and becomes the youngest.
// testAndClear must clear the reference so that the next visit can select
// the frame. The scan stops after two rounds, so Victim returns false only
// if every frame is skipped.
func (c *Clock) Victim(
	testAndClear func(id vm.FrameID) bool,
	skip func(id vm.FrameID) bool,
) (vm.FrameID, bool) {
	n := c.hand.Len()

	for i := 0; i < 2*n; i++ {
		elem := c.hand.Front()
		id := elem.Value.(vm.FrameID)

		if skip(id) || testAndClear(id) {
			c.hand.MoveToBack(elem)
			continue
		}

		c.hand.Remove(elem)
		delete(c.elements, id)

		return id, true
	}

	return vm.NoFrame, false
}
