package engine

import (
	"fmt"
	"sort"
)

// extent describes one slot's position and state within the file's slot
// region, not counting the file header.
type extent struct {
	offset   int64
	capacity uint32
	state    slotState
}

func (e extent) end() int64 {
	return e.offset + int64(e.capacity)
}

// allocator tracks every extent in the slot region in offset order and
// implements the placement algorithm from §4.2: first-fit by ascending
// offset, split-on-allocate when the leftover is large enough to be its own
// Free slot, coalesce-on-free with immediate neighbors.
//
// It holds no file handle; BackingFile performs the actual I/O, and the
// allocator only ever answers "where should this go" / "this offset is now
// free".
type allocator struct {
	extents []extent // sorted by offset, contiguous, covering [0, slotRegionEnd)
}

func newAllocator() *allocator {
	return &allocator{}
}

// reset replaces the extent table wholesale. Used by Recovery once it has
// walked every slot header on disk.
func (a *allocator) reset(extents []extent) {
	sort.Slice(extents, func(i, j int) bool { return extents[i].offset < extents[j].offset })
	a.extents = extents
}

// slotRegionEnd returns the offset one past the last extent, i.e. the total
// size of the slot region (the file size minus the file header).
func (a *allocator) slotRegionEnd() int64 {
	if len(a.extents) == 0 {
		return 0
	}

	last := a.extents[len(a.extents)-1]

	return last.end()
}

// alloc finds or creates room for a slot of at least needed bytes total
// (header + path + payload + reserve) and marks it Used. It returns the
// offset (relative to the start of the slot region) and the capacity
// actually granted, which may exceed needed when no split was possible.
func (a *allocator) alloc(needed uint32) (offset int64, capacity uint32) {
	for i := range a.extents {
		e := a.extents[i]
		if e.state != slotFree || e.capacity < needed {
			continue
		}

		leftover := e.capacity - needed
		if leftover >= minSlotSize {
			a.extents[i] = extent{offset: e.offset, capacity: needed, state: slotUsed}
			free := extent{offset: e.offset + int64(needed), capacity: leftover, state: slotFree}
			a.extents = append(a.extents, extent{})
			copy(a.extents[i+2:], a.extents[i+1:])
			a.extents[i+1] = free

			return e.offset, needed
		}

		// Leftover too small to split off; grant the whole extent, leaving
		// the excess as dead space inside the Used slot.
		a.extents[i].state = slotUsed

		return e.offset, e.capacity
	}

	// No Free extent fits; extend the file at the tail.
	off := a.slotRegionEnd()
	a.extents = append(a.extents, extent{offset: off, capacity: needed, state: slotUsed})

	return off, needed
}

// free marks the extent at offset as Free and coalesces it with an
// immediately adjacent Free extent on either side. It returns the resulting
// (possibly now-merged) extent, whose offset may be smaller than the
// argument if a left-neighbor merge occurred. The caller must write a
// single Free slot header at the returned extent's offset; bytes that used
// to belong to a merged-away neighbor's header become ordinary padding,
// since the scan that rebuilds the Directory only trusts the header at the
// start of each extent and advances by its capacity.
func (a *allocator) free(offset int64) (extent, error) {
	idx := a.indexOf(offset)
	if idx < 0 {
		return extent{}, fmt.Errorf("%w: free: no extent at offset %d", ErrCorrupt, offset)
	}

	a.extents[idx].state = slotFree

	// Coalesce with right neighbor first so the left-merge below only has
	// to look one step back.
	if idx+1 < len(a.extents) && a.extents[idx+1].state == slotFree {
		a.extents[idx].capacity += a.extents[idx+1].capacity
		a.extents = append(a.extents[:idx+1], a.extents[idx+2:]...)
	}

	if idx > 0 && a.extents[idx-1].state == slotFree {
		a.extents[idx-1].capacity += a.extents[idx].capacity
		a.extents = append(a.extents[:idx], a.extents[idx+1:]...)
		idx--
	}

	return a.extents[idx], nil
}

// indexOf returns the index of the extent beginning exactly at offset, or
// -1 if none does.
func (a *allocator) indexOf(offset int64) int {
	lo, hi := 0, len(a.extents)-1

	for lo <= hi {
		mid := (lo + hi) / 2

		switch {
		case a.extents[mid].offset == offset:
			return mid
		case a.extents[mid].offset < offset:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}

	return -1
}

// extentAt returns the extent beginning at offset.
func (a *allocator) extentAt(offset int64) (extent, bool) {
	idx := a.indexOf(offset)
	if idx < 0 {
		return extent{}, false
	}

	return a.extents[idx], true
}

// usedExtents returns every currently-Used extent in offset order. Used by
// Recovery's size-consistency check and by Validate.
func (a *allocator) usedExtents() []extent {
	out := make([]extent, 0, len(a.extents))

	for _, e := range a.extents {
		if e.state == slotUsed {
			out = append(out, e)
		}
	}

	return out
}
