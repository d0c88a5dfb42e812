package bitset

import (
	"math/bits"
	"sync/atomic"
)

// BitSet is a lock-free bitset of fixed size. The size is set at construction
// and never grows; allocator occupancy is bounded by capacity decided up front.
type BitSet struct {
	words []atomic.Uint64
	size  uint64
}

// New creates a new BitSet with the given size (in bits).
func New(size uint64) *BitSet {
	return &BitSet{
		words: make([]atomic.Uint64, (size+63)/64),
		size:  size,
	}
}

// Set sets the bit at the given index.
func (b *BitSet) Set(i uint64) {
	if i >= b.size {
		return
	}
	wordIdx := i / 64
	bitMask := uint64(1) << (i % 64)
	for {
		oldVal := b.words[wordIdx].Load()
		if b.words[wordIdx].CompareAndSwap(oldVal, oldVal|bitMask) {
			return
		}
	}
}

// Unset clears the bit at the given index.
func (b *BitSet) Unset(i uint64) {
	if i >= b.size {
		return
	}
	wordIdx := i / 64
	bitMask := uint64(1) << (i % 64)
	for {
		oldVal := b.words[wordIdx].Load()
		if b.words[wordIdx].CompareAndSwap(oldVal, oldVal&^bitMask) {
			return
		}
	}
}

// Test returns true if the bit at the given index is set.
func (b *BitSet) Test(i uint64) bool {
	if i >= b.size {
		return false
	}
	return b.words[i/64].Load()&(uint64(1)<<(i%64)) != 0
}

// TestAndSet sets the bit at the given index and returns true if it was
// ALREADY set. A false return means this caller performed the transition.
func (b *BitSet) TestAndSet(i uint64) bool {
	if i >= b.size {
		return false
	}
	wordIdx := i / 64
	bitMask := uint64(1) << (i % 64)

	// Optimistic check
	if b.words[wordIdx].Load()&bitMask != 0 {
		return true
	}

	for {
		oldVal := b.words[wordIdx].Load()
		if oldVal&bitMask != 0 {
			return true // Already set
		}
		if b.words[wordIdx].CompareAndSwap(oldVal, oldVal|bitMask) {
			return false // We set it
		}
	}
}

// TestAndClear clears the bit at the given index and returns true if it was
// set beforehand. A false return means the bit was not live, which callers
// treat as a double-release.
func (b *BitSet) TestAndClear(i uint64) bool {
	if i >= b.size {
		return false
	}
	wordIdx := i / 64
	bitMask := uint64(1) << (i % 64)

	for {
		oldVal := b.words[wordIdx].Load()
		if oldVal&bitMask == 0 {
			return false // Not set
		}
		if b.words[wordIdx].CompareAndSwap(oldVal, oldVal&^bitMask) {
			return true // We cleared it
		}
	}
}

// Count returns the number of set bits.
func (b *BitSet) Count() int {
	count := 0
	for i := range b.words {
		if val := b.words[i].Load(); val != 0 {
			count += bits.OnesCount64(val)
		}
	}
	return count
}

// ForEachSet calls fn for every set bit in ascending index order. The
// iteration reads each word once; concurrent mutations may or may not be
// observed.
func (b *BitSet) ForEachSet(fn func(i uint64)) {
	for w := range b.words {
		val := b.words[w].Load()
		for val != 0 {
			bit := uint64(bits.TrailingZeros64(val))
			fn(uint64(w)*64 + bit)
			val &^= uint64(1) << bit
		}
	}
}

// ClearAll clears all bits in the bitset.
func (b *BitSet) ClearAll() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// Len returns the size of the bitset in bits.
func (b *BitSet) Len() uint64 {
	return b.size
}
