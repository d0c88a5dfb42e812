package slab

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Option configures a Manager.
type Option[T any] func(*Manager[T])

// WithRefCounts attaches a per-page open-count table. base is the table
// index of the first page the heap's page manager owns, so slot pages map to
// table entries as base plus the page-manager index.
func WithRefCounts[T any](rc *RefCounts, base uint64) Option[T] {
	return func(m *Manager[T]) {
		m.rc = rc
		m.rcBase = base
	}
}

// Manager serializes access to one Heap. All methods are safe for concurrent
// use.
type Manager[T any] struct {
	mu     sync.Mutex
	heap   *Heap[T]
	rc     *RefCounts
	rcBase uint64
}

// NewManager wraps heap.
func NewManager[T any](heap *Heap[T], optFns ...Option[T]) *Manager[T] {
	m := &Manager[T]{heap: heap}

	for _, fn := range optFns {
		fn(m)
	}

	return m
}

// Allocate hands out a zeroed slot or ErrOutOfMemory.
func (m *Manager[T]) Allocate() (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heap.Allocate()
}

// Free returns a slot to the heap.
func (m *Manager[T]) Free(slot *T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.heap.Free(slot)
}

// Used returns the number of live slots.
func (m *Manager[T]) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heap.Used()
}

// Capacity returns the fixed slot capacity.
func (m *Manager[T]) Capacity() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heap.Capacity()
}

// Open raises the open count of the page backing slot by n. It panics when
// the manager carries no refcount table.
func (m *Manager[T]) Open(slot *T, n uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rc == nil {
		panic("slab: open without refcount table")
	}

	m.rc.Open(m.rcBase+m.heap.PageIndex(slot), n)
}

// Close lowers the open count of the page backing slot by n and reports
// whether it reached zero.
func (m *Manager[T]) Close(slot *T, n uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rc == nil {
		panic("slab: close without refcount table")
	}

	return m.rc.Close(m.rcBase+m.heap.PageIndex(slot), n)
}

// RefCount returns the open count of the page backing slot.
func (m *Manager[T]) RefCount(slot *T) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rc == nil {
		panic("slab: refcount without refcount table")
	}

	return m.rc.Get(m.rcBase + m.heap.PageIndex(slot))
}

// SlotIndex returns the heap index of slot, or false for foreign pointers.
func (m *Manager[T]) SlotIndex(slot *T) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heap.SlotIndex(slot)
}

// Slot returns the slot at index i.
func (m *Manager[T]) Slot(i uint32) *T {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heap.Slot(i)
}

// UsedSlotSet returns the set of live slot indices.
func (m *Manager[T]) UsedSlotSet() *roaring.Bitmap {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heap.UsedSlotSet()
}

// ImportUsedSlots marks the given slots live on a pristine heap.
func (m *Manager[T]) ImportUsedSlots(used *roaring.Bitmap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heap.ImportUsedSlots(used)
}

// Destroy returns the heap's pages to the page manager. The heap must be
// empty.
func (m *Manager[T]) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.heap.Destroy()
}
