package slab

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/kmemgo/internal/bitset"
	"github.com/hupe1980/kmemgo/internal/pagealloc"
)

// ErrOutOfMemory is returned when a heap has no free slot left, or when the
// page manager cannot supply the pages a heap asks for at construction.
var ErrOutOfMemory = errors.New("slab: out of memory")

// Heap carves typed slots out of eagerly claimed pages. It is not safe for
// concurrent use; wrap it in a Manager for that.
type Heap[T any] struct {
	pm      *pagealloc.Manager
	pages   []pagealloc.Ref
	stride  uintptr
	perPage int

	slots    []*T
	index    map[uintptr]uint32
	freeList []uint32
	live     *bitset.BitSet
	used     int
}

// NewHeap claims exactly pages pages from pm and slices them into slots of T.
// The claim is all-or-nothing: on failure every page taken so far is returned
// and the error wraps ErrOutOfMemory.
func NewHeap[T any](pm *pagealloc.Manager, pages int) (*Heap[T], error) {
	if pm == nil {
		return nil, errors.New("slab: nil page manager")
	}

	if pages < 0 {
		return nil, fmt.Errorf("slab: negative page count %d", pages)
	}

	var zero T

	size := unsafe.Sizeof(zero)
	if size == 0 {
		return nil, errors.New("slab: zero-size slot type")
	}

	align := unsafe.Alignof(zero)
	stride := (size + align - 1) &^ (align - 1)

	perPage := int(uintptr(pm.PageSize()) / stride)
	if perPage == 0 && pages > 0 {
		return nil, fmt.Errorf("slab: slot size %d exceeds page size %d", stride, pm.PageSize())
	}

	h := &Heap[T]{
		pm:      pm,
		stride:  stride,
		perPage: perPage,
		index:   make(map[uintptr]uint32),
	}

	for i := 0; i < pages; i++ {
		ref, err := pm.Allocate()
		if err != nil {
			for _, r := range h.pages {
				pm.Free(r)
			}

			return nil, fmt.Errorf("slab: claim page %d of %d: %w", i+1, pages, ErrOutOfMemory)
		}

		h.pages = append(h.pages, ref)
	}

	for _, ref := range h.pages {
		bytes := pm.Bytes(ref)
		base := unsafe.Pointer(&bytes[0])

		for s := 0; s < perPage; s++ {
			p := (*T)(unsafe.Add(base, uintptr(s)*stride))
			h.index[uintptr(unsafe.Pointer(p))] = uint32(len(h.slots))
			h.slots = append(h.slots, p)
		}
	}

	h.live = bitset.New(uint64(len(h.slots)))

	h.freeList = make([]uint32, 0, len(h.slots))
	for i := len(h.slots) - 1; i >= 0; i-- {
		h.freeList = append(h.freeList, uint32(i))
	}

	return h, nil
}

// Allocate pops a free slot, zeroes it and returns it. It returns
// ErrOutOfMemory once every slot is live.
func (h *Heap[T]) Allocate() (*T, error) {
	n := len(h.freeList)
	if n == 0 {
		return nil, ErrOutOfMemory
	}

	idx := h.freeList[n-1]
	h.freeList = h.freeList[:n-1]

	if h.live.TestAndSet(uint64(idx)) {
		panic(fmt.Sprintf("slab: free list handed out live slot %d", idx))
	}

	h.used++

	var zero T

	slot := h.slots[idx]
	*slot = zero

	return slot, nil
}

// Free returns a slot to the heap. Pointers that do not belong to this heap
// and slots that are not currently live are programming errors and panic.
func (h *Heap[T]) Free(slot *T) {
	idx, ok := h.slotIndex(slot)
	if !ok {
		panic(fmt.Sprintf("slab: free of foreign slot %p", slot))
	}

	if !h.live.TestAndClear(uint64(idx)) {
		panic(fmt.Sprintf("slab: double free of slot %d", idx))
	}

	h.used--
	h.freeList = append(h.freeList, idx)
}

// Used returns the number of live slots.
func (h *Heap[T]) Used() int { return h.used }

// Capacity returns the total number of slots, fixed at construction.
func (h *Heap[T]) Capacity() int { return len(h.slots) }

// SlotIndex returns the index of slot within the heap, or false when the
// pointer does not belong to it.
func (h *Heap[T]) SlotIndex(slot *T) (uint32, bool) { return h.slotIndex(slot) }

// Slot returns the slot at index i regardless of liveness. It panics when i
// is out of range.
func (h *Heap[T]) Slot(i uint32) *T {
	if int(i) >= len(h.slots) {
		panic(fmt.Sprintf("slab: slot index %d out of range [0,%d)", i, len(h.slots)))
	}

	return h.slots[i]
}

// PageIndex returns the page-manager index of the page backing slot. It
// panics for pointers outside the heap.
func (h *Heap[T]) PageIndex(slot *T) uint64 {
	idx, ok := h.slotIndex(slot)
	if !ok {
		panic(fmt.Sprintf("slab: page index of foreign slot %p", slot))
	}

	return h.pm.Index(h.pages[int(idx)/h.perPage])
}

// UsedSlotSet returns the set of live slot indices.
func (h *Heap[T]) UsedSlotSet() *roaring.Bitmap {
	set := roaring.New()

	h.live.ForEachSet(func(i uint64) {
		set.Add(uint32(i))
	})

	return set
}

// ImportUsedSlots marks the given slots live on a pristine heap, rebuilding
// the free list around them. It is the restore-path counterpart of
// UsedSlotSet.
func (h *Heap[T]) ImportUsedSlots(used *roaring.Bitmap) error {
	if h.used != 0 {
		return fmt.Errorf("slab: import into heap with %d live slots", h.used)
	}

	if used == nil {
		return nil
	}

	it := used.Iterator()
	for it.HasNext() {
		idx := it.Next()
		if int(idx) >= len(h.slots) {
			return fmt.Errorf("slab: imported slot %d out of range [0,%d)", idx, len(h.slots))
		}

		h.live.Set(uint64(idx))
	}

	h.used = int(used.GetCardinality())

	h.freeList = h.freeList[:0]
	for i := len(h.slots) - 1; i >= 0; i-- {
		if !h.live.Test(uint64(i)) {
			h.freeList = append(h.freeList, uint32(i))
		}
	}

	return nil
}

// Destroy returns the claimed pages to the page manager. The heap must be
// empty; destroying it with live slots panics, and the heap must not be used
// afterward.
func (h *Heap[T]) Destroy() {
	if h.used != 0 {
		panic(fmt.Sprintf("slab: destroy with %d live slots", h.used))
	}

	for _, ref := range h.pages {
		h.pm.Free(ref)
	}

	h.pages = nil
	h.slots = nil
	h.freeList = nil
	h.index = nil
}

// String implements the fmt.Stringer interface.
func (h *Heap[T]) String() string {
	return fmt.Sprintf("Heap(slots=%d, used=%d, pages=%d, stride=%d)",
		len(h.slots), h.used, len(h.pages), h.stride)
}

func (h *Heap[T]) slotIndex(slot *T) (uint32, bool) {
	idx, ok := h.index[uintptr(unsafe.Pointer(slot))]

	return idx, ok
}
