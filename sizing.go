package kmemgo

import (
	"github.com/hupe1980/kmemgo/platform"
)

// SecureAlignment is the granularity secure-memory charges are rounded to.
const SecureAlignment uint64 = 128 << 10

// CalculateRequiredSecureMemorySize returns how much resource-limit capacity
// a secure region of the given size charges when allocated from the given
// pool. It is pure, deterministic and monotonic non-decreasing in size.
//
// The applet pool charges nothing: its secure memory comes from a fixed
// pre-reserved carveout. Every other pool charges the size aligned up to
// SecureAlignment.
func CalculateRequiredSecureMemorySize(size uint64, pool platform.Pool) uint64 {
	if pool == platform.PoolApplet {
		return 0
	}

	return alignUp(size, SecureAlignment)
}

// referenceCountTableSize returns how many leading bytes of a secure region
// of the given size its per-page reference-count table occupies: two bytes
// per page, rounded up to page granularity.
func referenceCountTableSize(size uint64) uint64 {
	return alignUp((size/PageSize)*2, PageSize)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
