package slab

import (
	"fmt"
	"math"
	"unsafe"
)

// RefCounts is a table of per-page open counts carved in place from region
// bytes, one uint16 per page of the region it covers. Callers synchronize
// access; the page-table Manager keys it under its own lock.
type RefCounts struct {
	counts []uint16
}

// NewRefCounts views the first 2*pages bytes of table as the count array and
// zeroes it. The slice must stay mapped for the lifetime of the table.
func NewRefCounts(table []byte, pages uint64) (*RefCounts, error) {
	need := pages * 2
	if uint64(len(table)) < need {
		return nil, fmt.Errorf("slab: refcount table needs %d bytes, region has %d", need, len(table))
	}

	rc := &RefCounts{}
	if pages > 0 {
		rc.counts = unsafe.Slice((*uint16)(unsafe.Pointer(&table[0])), pages)
	}

	for i := range rc.counts {
		rc.counts[i] = 0
	}

	return rc, nil
}

// Open raises the count of page i by n. Overflow past math.MaxUint16 panics.
func (rc *RefCounts) Open(i uint64, n uint16) {
	if i >= uint64(len(rc.counts)) {
		panic(fmt.Sprintf("slab: refcount open of page %d out of range [0,%d)", i, len(rc.counts)))
	}

	if rc.counts[i] > math.MaxUint16-n {
		panic(fmt.Sprintf("slab: refcount overflow on page %d", i))
	}

	rc.counts[i] += n
}

// Close lowers the count of page i by n and reports whether it reached zero.
// Closing more references than the page holds panics.
func (rc *RefCounts) Close(i uint64, n uint16) bool {
	if i >= uint64(len(rc.counts)) {
		panic(fmt.Sprintf("slab: refcount close of page %d out of range [0,%d)", i, len(rc.counts)))
	}

	if rc.counts[i] < n {
		panic(fmt.Sprintf("slab: refcount underflow on page %d (have %d, closing %d)", i, rc.counts[i], n))
	}

	rc.counts[i] -= n

	return rc.counts[i] == 0
}

// Get returns the count of page i.
func (rc *RefCounts) Get(i uint64) uint16 {
	if i >= uint64(len(rc.counts)) {
		panic(fmt.Sprintf("slab: refcount get of page %d out of range [0,%d)", i, len(rc.counts)))
	}

	return rc.counts[i]
}

// Pages returns the number of pages the table covers.
func (rc *RefCounts) Pages() uint64 { return uint64(len(rc.counts)) }

// Counts returns the live count array. The restore path copies snapshot
// bytes through it.
func (rc *RefCounts) Counts() []uint16 { return rc.counts }
