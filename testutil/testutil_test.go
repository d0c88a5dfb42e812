package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kmemgo/platform"
)

func TestRecordingAllocator_RecordsInOrder(t *testing.T) {
	dm := NewDeviceMemory(t, platform.WithDRAMSize(16<<20))
	rec := NewRecordingAllocator(dm)

	const size uint64 = 128 << 10

	addr, err := rec.AllocateSecureMemory(size, platform.PoolSystem)
	require.NoError(t, err)

	region, err := rec.Resolve(addr, size)
	require.NoError(t, err)
	require.Len(t, region, int(size))

	rec.FreeSecureMemory(addr, size, platform.PoolSystem)

	calls := rec.Calls()
	require.Len(t, calls, 3)

	assert.Equal(t, OpAllocate, calls[0].Op)
	assert.Equal(t, addr, calls[0].Addr)
	assert.Equal(t, size, calls[0].Size)
	assert.Equal(t, platform.PoolSystem, calls[0].Pool)
	assert.NoError(t, calls[0].Err)

	assert.Equal(t, OpResolve, calls[1].Op)
	assert.Equal(t, addr, calls[1].Addr)

	assert.Equal(t, OpFree, calls[2].Op)
	assert.Equal(t, addr, calls[2].Addr)
	assert.Equal(t, size, calls[2].Size)

	assert.Equal(t, 1, rec.CallCount(OpAllocate))
	assert.Equal(t, 1, rec.CallCount(OpResolve))
	assert.Equal(t, 1, rec.CallCount(OpFree))
	assert.Equal(t, 0, rec.Outstanding())
}

func TestRecordingAllocator_FailAllocate(t *testing.T) {
	dm := NewDeviceMemory(t, platform.WithDRAMSize(16<<20))
	rec := NewRecordingAllocator(dm)

	fault := errors.New("scripted allocate fault")
	rec.FailAllocate(fault)

	_, err := rec.AllocateSecureMemory(128<<10, platform.PoolSystem)
	require.ErrorIs(t, err, fault)

	// The fault fires before the wrapped allocator, which stays untouched.
	assert.Zero(t, dm.PoolStats(platform.PoolSystem).Used)

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.ErrorIs(t, calls[0].Err, fault)
	assert.Equal(t, 0, rec.Outstanding())

	rec.FailAllocate(nil)

	addr, err := rec.AllocateSecureMemory(128<<10, platform.PoolSystem)
	require.NoError(t, err)

	rec.FreeSecureMemory(addr, 128<<10, platform.PoolSystem)
}

func TestRecordingAllocator_FailResolve(t *testing.T) {
	dm := NewDeviceMemory(t, platform.WithDRAMSize(16<<20))
	rec := NewRecordingAllocator(dm)

	addr, err := rec.AllocateSecureMemory(128<<10, platform.PoolSystem)
	require.NoError(t, err)

	fault := errors.New("scripted resolve fault")
	rec.FailResolve(fault)

	_, err = rec.Resolve(addr, 128<<10)
	require.ErrorIs(t, err, fault)

	rec.FailResolve(nil)

	region, err := rec.Resolve(addr, 128<<10)
	require.NoError(t, err)
	assert.Len(t, region, 128<<10)

	rec.FreeSecureMemory(addr, 128<<10, platform.PoolSystem)
}

func TestRecordingAllocator_Outstanding(t *testing.T) {
	dm := NewDeviceMemory(t, platform.WithDRAMSize(16<<20))
	rec := NewRecordingAllocator(dm)

	a1, err := rec.AllocateSecureMemory(128<<10, platform.PoolSystem)
	require.NoError(t, err)

	a2, err := rec.AllocateSecureMemory(128<<10, platform.PoolSystem)
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Outstanding())

	rec.FreeSecureMemory(a1, 128<<10, platform.PoolSystem)
	assert.Equal(t, 1, rec.Outstanding())

	rec.FreeSecureMemory(a2, 128<<10, platform.PoolSystem)
	assert.Equal(t, 0, rec.Outstanding())
}

func TestRecordingAllocator_Reset(t *testing.T) {
	dm := NewDeviceMemory(t, platform.WithDRAMSize(16<<20))
	rec := NewRecordingAllocator(dm)

	fault := errors.New("scripted allocate fault")
	rec.FailAllocate(fault)

	_, err := rec.AllocateSecureMemory(128<<10, platform.PoolSystem)
	require.Error(t, err)
	require.NotEmpty(t, rec.Calls())

	rec.Reset()
	assert.Empty(t, rec.Calls())

	// Reset clears the call log, not the scripted faults.
	_, err = rec.AllocateSecureMemory(128<<10, platform.PoolSystem)
	assert.ErrorIs(t, err, fault)
}

func TestNewDeviceMemory(t *testing.T) {
	dm := NewDeviceMemory(t, platform.WithDRAMSize(32<<20))

	assert.Equal(t, uint64(32<<20), dm.Layout().DRAMSize)

	addr, err := dm.AllocateSecureMemory(platform.PageSize, platform.PoolApplication)
	require.NoError(t, err)

	dm.FreeSecureMemory(addr, platform.PageSize, platform.PoolApplication)
}
