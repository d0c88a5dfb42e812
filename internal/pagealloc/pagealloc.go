// Package pagealloc provides the dynamic page manager: fixed-size pages
// handed out from one contiguous borrowed region until exhausted.
//
// # Handles
//
// Pages are addressed by Ref, an offset plus generation, never by raw
// pointers. A page's generation increments when it is freed, so a stale Ref
// held across free/reallocate is detected instead of silently aliasing the
// new owner. The zero Ref is never valid (generations start at 1).
//
// # Concurrency Model
//
// Allocate and Free are safe for concurrent use. The region itself is
// borrowed from the owner (the secure resource); the manager must not
// outlive it and never frees it.
package pagealloc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/kmemgo/internal/bitset"
)

// ErrExhausted is returned when no free pages remain.
var ErrExhausted = errors.New("pagealloc: no free pages")

// Ref is a handle to one page: the page's byte offset within the region and
// the generation it was handed out under.
type Ref struct {
	Gen    uint32
	Offset uint64
}

// IsNil reports whether the ref is the invalid zero handle.
func (r Ref) IsNil() bool {
	return r.Gen == 0
}

// Stats tracks page manager usage.
type Stats struct {
	TotalPages  uint64
	FreePages   uint64
	UsedPages   uint64
	TotalAllocs uint64 // Historical: total successful allocations
	TotalFrees  uint64 // Historical: total frees
}

// Manager hands out fixed-size pages from a borrowed contiguous region.
type Manager struct {
	region   []byte
	base     uint64 // emulated physical address of region[0]
	pageSize uint64
	numPages uint64

	mu       sync.Mutex
	freeList []uint32 // LIFO stack of free page indices
	gens     []uint32 // per-page generation, bumped on free

	occupied *bitset.BitSet
	allocs   atomic.Uint64
	frees    atomic.Uint64
}

// New creates a page manager over region. base is the emulated physical
// address of the region start. Trailing bytes that do not fill a whole page
// are ignored. A region with zero whole pages is allowed; every Allocate
// then fails with ErrExhausted.
func New(region []byte, base uint64, pageSize uint64) (*Manager, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("pagealloc: page size %d is not a power of two", pageSize)
	}
	if base%pageSize != 0 {
		return nil, fmt.Errorf("pagealloc: base address %#x not aligned to page size %d", base, pageSize)
	}

	numPages := uint64(len(region)) / pageSize

	m := &Manager{
		region:   region,
		base:     base,
		pageSize: pageSize,
		numPages: numPages,
		freeList: make([]uint32, 0, numPages),
		gens:     make([]uint32, numPages),
		occupied: bitset.New(numPages),
	}

	// Seed descending so the first Allocate returns the lowest page.
	for i := numPages; i > 0; i-- {
		m.freeList = append(m.freeList, uint32(i-1))
		m.gens[i-1] = 1
	}

	return m, nil
}

// Allocate claims a free page. It fails with ErrExhausted once the region is
// used up, leaving no partial state behind.
func (m *Manager) Allocate() (Ref, error) {
	m.mu.Lock()
	n := len(m.freeList)
	if n == 0 {
		m.mu.Unlock()
		return Ref{}, ErrExhausted
	}
	idx := m.freeList[n-1]
	m.freeList = m.freeList[:n-1]
	gen := m.gens[idx]
	m.mu.Unlock()

	if m.occupied.TestAndSet(uint64(idx)) {
		panic(fmt.Sprintf("pagealloc: free list handed out live page %d", idx))
	}
	m.allocs.Add(1)

	return Ref{Gen: gen, Offset: uint64(idx) * m.pageSize}, nil
}

// Free recycles a page. Freeing a stale, foreign or already-free ref is
// fatal: it means some owner's bookkeeping is corrupt.
func (m *Manager) Free(ref Ref) {
	idx := m.checkLive(ref, "free")

	if !m.occupied.TestAndClear(uint64(idx)) {
		panic(fmt.Sprintf("pagealloc: double free of page %d", idx))
	}

	m.mu.Lock()
	m.gens[idx]++
	if m.gens[idx] == 0 { // generation wrapped; 0 stays invalid
		m.gens[idx] = 1
	}
	m.freeList = append(m.freeList, uint32(idx))
	m.mu.Unlock()

	m.frees.Add(1)
}

// Bytes returns the page's slice view. The slice is valid until the page is
// freed or the owning region goes away.
func (m *Manager) Bytes(ref Ref) []byte {
	m.checkLive(ref, "access")
	end := ref.Offset + m.pageSize
	return m.region[ref.Offset:end:end]
}

// Address returns the emulated physical address of the page.
func (m *Manager) Address(ref Ref) uint64 {
	return m.base + ref.Offset
}

// Index returns the page's index within the region.
func (m *Manager) Index(ref Ref) uint64 {
	return ref.Offset / m.pageSize
}

// Base returns the emulated physical address of the region start.
func (m *Manager) Base() uint64 {
	return m.base
}

// PageSize returns the fixed page size.
func (m *Manager) PageSize() uint64 {
	return m.pageSize
}

// TotalPages returns the number of whole pages in the region.
func (m *Manager) TotalPages() uint64 {
	return m.numPages
}

// FreePages returns the number of pages currently free.
func (m *Manager) FreePages() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.freeList))
}

// Stats returns current usage counters.
func (m *Manager) Stats() Stats {
	free := m.FreePages()
	return Stats{
		TotalPages:  m.numPages,
		FreePages:   free,
		UsedPages:   m.numPages - free,
		TotalAllocs: m.allocs.Load(),
		TotalFrees:  m.frees.Load(),
	}
}

// UsedPageSet returns the set of live page indices as a roaring bitmap.
// Snapshots and diagnostics consume this; it is built on demand.
func (m *Manager) UsedPageSet() *roaring.Bitmap {
	rb := roaring.New()
	m.occupied.ForEachSet(func(i uint64) {
		rb.Add(uint32(i))
	})
	return rb
}

// ImportUsedPages rebuilds occupancy from a snapshot's page set. Only valid
// on a freshly constructed manager; existing claims would be clobbered.
func (m *Manager) ImportUsedPages(used *roaring.Bitmap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.occupied.Count() != 0 {
		return errors.New("pagealloc: import into non-pristine manager")
	}

	it := used.Iterator()
	for it.HasNext() {
		idx := uint64(it.Next())
		if idx >= m.numPages {
			return fmt.Errorf("pagealloc: imported page index %d out of range (%d pages)", idx, m.numPages)
		}
		m.occupied.Set(idx)
	}

	// Rebuild the free list without the imported pages, descending again.
	m.freeList = m.freeList[:0]
	for i := m.numPages; i > 0; i-- {
		if !m.occupied.Test(i - 1) {
			m.freeList = append(m.freeList, uint32(i-1))
		}
	}
	m.allocs.Store(used.GetCardinality())
	m.frees.Store(0)

	return nil
}

// checkLive validates that ref names a live page and returns its index.
func (m *Manager) checkLive(ref Ref, op string) uint64 {
	if ref.IsNil() {
		panic(fmt.Sprintf("pagealloc: %s of nil page ref", op))
	}
	if ref.Offset%m.pageSize != 0 {
		panic(fmt.Sprintf("pagealloc: %s of misaligned offset %#x", op, ref.Offset))
	}
	idx := ref.Offset / m.pageSize
	if idx >= m.numPages {
		panic(fmt.Sprintf("pagealloc: %s of foreign page offset %#x", op, ref.Offset))
	}

	m.mu.Lock()
	gen := m.gens[idx]
	m.mu.Unlock()
	if ref.Gen != gen {
		panic(fmt.Sprintf("pagealloc: %s of stale ref to page %d (gen %d, current %d)", op, idx, ref.Gen, gen))
	}
	return idx
}

func (m *Manager) String() string {
	s := m.Stats()
	return fmt.Sprintf("PageManager{pages: %d, free: %d, used: %d, page_size: %d}",
		s.TotalPages, s.FreePages, s.UsedPages, m.pageSize)
}
