package kmemgo_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/kmemgo"
	"github.com/hupe1980/kmemgo/limit"
	"github.com/hupe1980/kmemgo/platform"
	"github.com/hupe1980/kmemgo/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() *limit.Ledger {
	return limit.New(limit.Config{PhysicalMemoryBytes: 64 << 20})
}

func newTestResource(t *testing.T, optFns ...kmemgo.Option) (*kmemgo.SecureResource, *testutil.RecordingAllocator) {
	t.Helper()

	rec := testutil.NewRecordingAllocator(testutil.NewDeviceMemory(t))

	return kmemgo.New(rec, optFns...), rec
}

func callOps(calls []testutil.Call) []string {
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}

	return ops
}

func TestNew_StartsUninitialized(t *testing.T) {
	sr, rec := newTestResource(t)

	assert.Equal(t, kmemgo.StateUninitialized, sr.State())
	assert.Contains(t, sr.String(), "uninitialized")
	assert.Empty(t, rec.Calls())

	stats := sr.Stats()
	assert.Equal(t, kmemgo.StateUninitialized, stats.State)
	assert.Zero(t, stats.Size)
}

func TestInitialize_Validation(t *testing.T) {
	tests := []struct {
		name    string
		size    uint64
		pool    platform.Pool
		wantErr error
	}{
		{name: "zero size", size: 0, pool: platform.PoolApplication, wantErr: kmemgo.ErrInvalidSize},
		{name: "unaligned size", size: kmemgo.PageSize + 1, pool: platform.PoolApplication, wantErr: kmemgo.ErrInvalidSize},
		{name: "invalid pool", size: kmemgo.PageSize, pool: platform.Pool(99), wantErr: platform.ErrInvalidPool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, rec := newTestResource(t)
			ledger := newTestLedger()
			before := ledger.Available(limit.PhysicalMemory)

			err := sr.Initialize(tt.size, ledger, tt.pool)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, kmemgo.StateUninitialized, sr.State())
			assert.Empty(t, rec.Calls(), "validation failures must not reach the platform")
			assert.Equal(t, before, ledger.Available(limit.PhysicalMemory))
		})
	}

	t.Run("nil ledger", func(t *testing.T) {
		sr, rec := newTestResource(t)

		err := sr.Initialize(1<<20, nil, platform.PoolApplication)

		require.Error(t, err)
		assert.Empty(t, rec.Calls())
	})

	t.Run("invalid policy", func(t *testing.T) {
		sr, rec := newTestResource(t, kmemgo.WithHeapPolicy(kmemgo.HeapPolicy{}))

		err := sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication)

		require.Error(t, err)
		assert.ErrorIs(t, err, kmemgo.ErrInvalidPolicy)
		assert.Empty(t, rec.Calls())
	})
}

func TestInitialize_LimitReached(t *testing.T) {
	mc := &kmemgo.BasicMetricsCollector{}
	sr, rec := newTestResource(t, kmemgo.WithMetricsCollector(mc))
	ledger := limit.New(limit.Config{PhysicalMemoryBytes: 512 << 10})

	err := sr.Initialize(1<<20, ledger, platform.PoolApplication)

	require.Error(t, err)
	assert.ErrorIs(t, err, kmemgo.ErrLimitReached)

	var limitErr *limit.LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, limit.PhysicalMemory, limitErr.Kind)
	assert.Equal(t, int64(1<<20), limitErr.Requested)

	// The rejection charges nothing and never reaches the platform.
	assert.Equal(t, kmemgo.StateUninitialized, sr.State())
	assert.Empty(t, rec.Calls())
	assert.Equal(t, int64(512<<10), ledger.Available(limit.PhysicalMemory))
	assert.Equal(t, int64(1), mc.GetStats().LimitRejections)
}

// A one-page region is swallowed whole by its own reference-count table.
// The failure must unwind the secure-memory allocation it already made.
func TestInitialize_RegionTooSmallForTable(t *testing.T) {
	sr, rec := newTestResource(t)
	ledger := newTestLedger()
	before := ledger.Available(limit.PhysicalMemory)

	err := sr.Initialize(kmemgo.PageSize, ledger, platform.PoolApplication)

	require.Error(t, err)
	assert.ErrorIs(t, err, kmemgo.ErrOutOfMemory)
	assert.Equal(t, kmemgo.StateUninitialized, sr.State())

	assert.Equal(t, []string{testutil.OpAllocate, testutil.OpFree}, callOps(rec.Calls()))
	assert.Zero(t, rec.Outstanding())
	assert.Equal(t, before, ledger.Available(limit.PhysicalMemory))
}

func TestInitialize_PlatformFailure(t *testing.T) {
	t.Run("allocate fails", func(t *testing.T) {
		sr, rec := newTestResource(t)
		rec.FailAllocate(platform.ErrPoolExhausted)

		ledger := newTestLedger()
		before := ledger.Available(limit.PhysicalMemory)

		err := sr.Initialize(1<<20, ledger, platform.PoolApplication)

		require.Error(t, err)
		assert.ErrorIs(t, err, platform.ErrPoolExhausted)
		assert.Equal(t, kmemgo.StateUninitialized, sr.State())
		assert.Equal(t, []string{testutil.OpAllocate}, callOps(rec.Calls()))
		assert.Equal(t, before, ledger.Available(limit.PhysicalMemory))
	})

	t.Run("resolve fails", func(t *testing.T) {
		sr, rec := newTestResource(t)
		rec.FailResolve(errors.New("mapping lost"))

		ledger := newTestLedger()
		before := ledger.Available(limit.PhysicalMemory)

		err := sr.Initialize(1<<20, ledger, platform.PoolApplication)

		require.Error(t, err)
		assert.Equal(t, kmemgo.StateUninitialized, sr.State())

		// The allocation made before the failure is handed back.
		assert.Equal(t, []string{testutil.OpAllocate, testutil.OpResolve, testutil.OpFree}, callOps(rec.Calls()))
		assert.Zero(t, rec.Outstanding())
		assert.Equal(t, before, ledger.Available(limit.PhysicalMemory))
	})
}

// Initialize and Finalize must leave the ledger exactly where it started:
// the charge equals CalculateRequiredSecureMemorySize, is held while Ready,
// and is released in full on Finalize.
func TestLifecycle_LedgerRoundTrip(t *testing.T) {
	sr, rec := newTestResource(t)
	ledger := newTestLedger()
	capacity := ledger.Available(limit.PhysicalMemory)

	require.NoError(t, sr.Initialize(1<<20, ledger, platform.PoolApplication))

	required := kmemgo.CalculateRequiredSecureMemorySize(1<<20, platform.PoolApplication)
	assert.Equal(t, int64(required), ledger.Used(limit.PhysicalMemory))
	assert.Equal(t, capacity-int64(required), ledger.Available(limit.PhysicalMemory))
	assert.Equal(t, int64(1), ledger.Refs())

	sr.Finalize()

	assert.Equal(t, kmemgo.StateFinalized, sr.State())
	assert.Zero(t, ledger.Used(limit.PhysicalMemory))
	assert.Equal(t, capacity, ledger.Available(limit.PhysicalMemory))
	assert.Zero(t, ledger.Refs())

	assert.Equal(t, []string{testutil.OpAllocate, testutil.OpResolve, testutil.OpFree}, callOps(rec.Calls()))
	assert.Zero(t, rec.Outstanding())
}

// The applet pool's secure memory is a fixed carveout, so it charges zero
// against the ledger.
func TestInitialize_AppletPoolChargesNothing(t *testing.T) {
	sr, _ := newTestResource(t)
	ledger := newTestLedger()

	require.NoError(t, sr.Initialize(1<<20, ledger, platform.PoolApplet))

	assert.Zero(t, ledger.Used(limit.PhysicalMemory))
	assert.Equal(t, uint64(0), sr.Stats().Required)

	sr.Finalize()
	assert.Zero(t, ledger.Used(limit.PhysicalMemory))
}

func TestInitialize_PanicsWhenReady(t *testing.T) {
	sr, _ := newTestResource(t)
	ledger := newTestLedger()

	require.NoError(t, sr.Initialize(1<<20, ledger, platform.PoolApplication))

	require.Panics(t, func() {
		_ = sr.Initialize(1<<20, ledger, platform.PoolApplication)
	})

	sr.Finalize()
}

func TestManagers_AllocateFree(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()
	mbm := sr.MemoryBlockManager()
	bim := sr.BlockInfoManager()

	page, err := ptm.Allocate()
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, 1, ptm.Used())

	idx, ok := ptm.SlotIndex(page)
	require.True(t, ok)
	assert.Same(t, page, ptm.Slot(idx))

	block, err := mbm.Allocate()
	require.NoError(t, err)
	block.Address = platform.DRAMBase
	block.NumPages = 16
	block.State = kmemgo.MemoryStateNormal
	block.Permission = kmemgo.MemoryPermissionReadWrite
	assert.True(t, block.Contains(platform.DRAMBase+platform.Address(15*kmemgo.PageSize)))
	assert.False(t, block.Contains(platform.DRAMBase+platform.Address(16*kmemgo.PageSize)))

	info, err := bim.Allocate()
	require.NoError(t, err)
	info.Address = platform.DRAMBase
	info.NumPages = 4

	stats := sr.Stats()
	assert.Equal(t, 1, stats.PageTables.Used)
	assert.Equal(t, 1, stats.MemoryBlocks.Used)
	assert.Equal(t, 1, stats.BlockInfos.Used)

	ptm.Free(page)
	mbm.Free(block)
	bim.Free(info)

	assert.Zero(t, ptm.Used())
	assert.Zero(t, mbm.Used())
	assert.Zero(t, bim.Used())

	sr.Finalize()
}

// Slots are handed out zeroed even when a previous owner scribbled on them.
func TestManagers_AllocateReturnsZeroedSlots(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()

	page, err := ptm.Allocate()
	require.NoError(t, err)

	for i := range page {
		page[i] = 0xff
	}

	ptm.Free(page)

	again, err := ptm.Allocate()
	require.NoError(t, err)

	for i := range again {
		if again[i] != 0 {
			t.Fatalf("byte %d of reallocated page is %#x, want 0", i, again[i])
		}
	}

	ptm.Free(again)
	sr.Finalize()
}

func TestManagers_FreeMisuse(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()

	t.Run("foreign pointer", func(t *testing.T) {
		require.Panics(t, func() {
			ptm.Free(&kmemgo.PageTablePage{})
		})
	})

	t.Run("double free", func(t *testing.T) {
		page, err := ptm.Allocate()
		require.NoError(t, err)

		ptm.Free(page)

		require.Panics(t, func() {
			ptm.Free(page)
		})
	})

	sr.Finalize()
}

func TestPageTableManager_RefCounts(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()

	page, err := ptm.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(0), ptm.RefCount(page))

	ptm.Open(page, 2)
	assert.Equal(t, uint16(2), ptm.RefCount(page))

	assert.False(t, ptm.Close(page, 1))
	assert.True(t, ptm.Close(page, 1))
	assert.Equal(t, uint16(0), ptm.RefCount(page))

	ptm.Free(page)
	sr.Finalize()
}

// Exhausting a heap returns ErrOutOfMemory without disturbing its slots;
// freeing brings the capacity back.
func TestManagers_Exhaustion(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(128<<10, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()
	capacity := ptm.Capacity()
	require.Greater(t, capacity, 0)

	pages := make([]*kmemgo.PageTablePage, 0, capacity)
	for {
		page, err := ptm.Allocate()
		if err != nil {
			assert.ErrorIs(t, err, kmemgo.ErrOutOfMemory)
			break
		}
		pages = append(pages, page)
	}

	assert.Len(t, pages, capacity)
	assert.Equal(t, capacity, ptm.Used())

	for _, page := range pages {
		ptm.Free(page)
	}
	assert.Zero(t, ptm.Used())

	page, err := ptm.Allocate()
	require.NoError(t, err)
	ptm.Free(page)

	sr.Finalize()
}

// Concurrent allocators must never receive the same slot twice, and the
// number of live slots can never exceed the heap capacity.
func TestManagers_ConcurrentAllocate(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(4<<20, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()
	capacity := ptm.Capacity()

	const (
		goroutines = 64
		attempts   = 100
	)
	require.Less(t, capacity, goroutines*attempts, "attempts must oversubscribe the heap")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []*kmemgo.PageTablePage
	)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			local := make([]*kmemgo.PageTablePage, 0, attempts)
			for i := 0; i < attempts; i++ {
				page, err := ptm.Allocate()
				if err != nil {
					continue
				}
				local = append(local, page)
			}

			mu.Lock()
			granted = append(granted, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// With no frees in flight, oversubscription drains the heap exactly.
	assert.Len(t, granted, capacity)
	assert.Equal(t, capacity, ptm.Used())

	seen := make(map[*kmemgo.PageTablePage]struct{}, len(granted))
	for _, page := range granted {
		_, dup := seen[page]
		require.False(t, dup, "slot handed out twice")
		seen[page] = struct{}{}
	}

	for _, page := range granted {
		ptm.Free(page)
	}
	assert.Zero(t, ptm.Used())

	sr.Finalize()
}

func TestManagers_ConcurrentChurn(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	mbm := sr.MemoryBlockManager()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()

			for i := 0; i < 200; i++ {
				block, err := mbm.Allocate()
				if err != nil {
					continue
				}
				block.Address = platform.DRAMBase + platform.Address(uint64(seed)*kmemgo.PageSize)
				block.NumPages = uint64(i%8 + 1)
				mbm.Free(block)
			}
		}(g)
	}
	wg.Wait()

	assert.Zero(t, mbm.Used())
	sr.Finalize()
}

func TestFinalize_PanicsOnLiveSlots(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	block, err := sr.MemoryBlockManager().Allocate()
	require.NoError(t, err)

	require.Panics(t, sr.Finalize)
	assert.Equal(t, kmemgo.StateReady, sr.State(), "failed finalize must not change state")

	sr.MemoryBlockManager().Free(block)
	sr.Finalize()
	assert.Equal(t, kmemgo.StateFinalized, sr.State())
}

func TestFinalize_PanicsWhenNotReady(t *testing.T) {
	t.Run("uninitialized", func(t *testing.T) {
		sr, _ := newTestResource(t)
		require.Panics(t, sr.Finalize)
	})

	t.Run("already finalized", func(t *testing.T) {
		sr, _ := newTestResource(t)
		require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))
		sr.Finalize()

		require.Panics(t, sr.Finalize)
	})
}

func TestAccessors_PanicWhenNotReady(t *testing.T) {
	sr, _ := newTestResource(t)

	require.Panics(t, func() { sr.PageTableManager() })
	require.Panics(t, func() { sr.MemoryBlockManager() })
	require.Panics(t, func() { sr.BlockInfoManager() })

	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))
	sr.Finalize()

	require.Panics(t, func() { sr.PageTableManager() })
}

func TestStats(t *testing.T) {
	sr, _ := newTestResource(t)
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	stats := sr.Stats()
	assert.Equal(t, kmemgo.StateReady, stats.State)
	assert.NotZero(t, stats.Address)
	assert.Equal(t, uint64(1<<20), stats.Size)
	assert.Equal(t, platform.PoolApplication, stats.Pool)
	assert.Equal(t, uint64(1<<20), stats.Required)

	// The policy hands every region page to one of the heaps.
	assert.Zero(t, stats.SparePages)
	assert.Greater(t, stats.PageTables.Capacity, 0)
	assert.Greater(t, stats.MemoryBlocks.Capacity, 0)
	assert.Greater(t, stats.BlockInfos.Capacity, 0)

	assert.Contains(t, sr.String(), "ready")
	assert.Contains(t, sr.String(), "application")

	sr.Finalize()

	stats = sr.Stats()
	assert.Equal(t, kmemgo.StateFinalized, stats.State)
	assert.Zero(t, stats.PageTables.Capacity)
}

func TestMetrics_Collected(t *testing.T) {
	mc := &kmemgo.BasicMetricsCollector{}
	sr, _ := newTestResource(t, kmemgo.WithMetricsCollector(mc))
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()

	a, err := ptm.Allocate()
	require.NoError(t, err)
	b, err := ptm.Allocate()
	require.NoError(t, err)

	ptm.Free(a)
	ptm.Free(b)
	sr.Finalize()

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.InitializeCount)
	assert.Zero(t, stats.InitializeErrors)
	assert.Equal(t, int64(2), stats.PageTableAllocs)
	assert.Equal(t, int64(2), stats.PageTableFrees)
	assert.Equal(t, int64(1), stats.FinalizeCount)
	assert.Zero(t, stats.RollbackSteps)
}
