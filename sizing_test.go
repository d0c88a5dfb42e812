package kmemgo

import (
	"testing"

	"github.com/hupe1980/kmemgo/platform"
	"github.com/stretchr/testify/assert"
)

func TestCalculateRequiredSecureMemorySize(t *testing.T) {
	tests := []struct {
		name string
		size uint64
		pool platform.Pool
		want uint64
	}{
		{name: "application one page", size: PageSize, pool: platform.PoolApplication, want: SecureAlignment},
		{name: "application exact alignment", size: SecureAlignment, pool: platform.PoolApplication, want: SecureAlignment},
		{name: "application one page over", size: SecureAlignment + PageSize, pool: platform.PoolApplication, want: 2 * SecureAlignment},
		{name: "application 1MiB", size: 1 << 20, pool: platform.PoolApplication, want: 1 << 20},
		{name: "system", size: PageSize, pool: platform.PoolSystem, want: SecureAlignment},
		{name: "system non-secure", size: PageSize, pool: platform.PoolSystemNonSecure, want: SecureAlignment},
		{name: "applet charges nothing", size: 1 << 20, pool: platform.PoolApplet, want: 0},
		{name: "applet charges nothing for huge regions", size: 1 << 30, pool: platform.PoolApplet, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateRequiredSecureMemorySize(tt.size, tt.pool))
		})
	}
}

func TestCalculateRequiredSecureMemorySize_Deterministic(t *testing.T) {
	for pool := platform.PoolApplication; int(pool) < platform.NumPools; pool++ {
		for _, size := range []uint64{PageSize, 64 * PageSize, 1 << 20, 7 << 20} {
			a := CalculateRequiredSecureMemorySize(size, pool)
			b := CalculateRequiredSecureMemorySize(size, pool)
			assert.Equal(t, a, b, "size=%d pool=%s", size, pool)
		}
	}
}

func TestCalculateRequiredSecureMemorySize_Monotonic(t *testing.T) {
	for pool := platform.PoolApplication; int(pool) < platform.NumPools; pool++ {
		prev := uint64(0)
		for size := PageSize; size <= 4<<20; size += PageSize {
			got := CalculateRequiredSecureMemorySize(size, pool)
			assert.GreaterOrEqual(t, got, prev, "size=%d pool=%s", size, pool)
			prev = got
		}
	}
}

func TestReferenceCountTableSize(t *testing.T) {
	tests := []struct {
		size uint64
		want uint64
	}{
		{size: PageSize, want: PageSize},     // 2 bytes rounds up to a page
		{size: 1 << 20, want: PageSize},      // 256 pages need 512 bytes
		{size: 8 << 20, want: PageSize},      // 2048 pages fill one table page
		{size: 16 << 20, want: 2 * PageSize}, // 4096 pages spill into a second
		{size: 256 << 20, want: 128 << 10},   // 64Ki pages, 128KiB table
	}

	for _, tt := range tests {
		got := referenceCountTableSize(tt.size)
		assert.Equal(t, tt.want, got, "size=%d", tt.size)
		assert.Zero(t, got%PageSize, "size=%d", tt.size)
	}
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), alignUp(0, PageSize))
	assert.Equal(t, PageSize, alignUp(1, PageSize))
	assert.Equal(t, PageSize, alignUp(PageSize, PageSize))
	assert.Equal(t, 2*PageSize, alignUp(PageSize+1, PageSize))
}
