package kmemgo_test

import (
	"bytes"
	"testing"

	"github.com/hupe1980/kmemgo"
	"github.com/hupe1980/kmemgo/limit"
	"github.com/hupe1980/kmemgo/platform"
	"github.com/hupe1980/kmemgo/snapshot"
	"github.com/hupe1980/kmemgo/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_PanicsWhenNotReady(t *testing.T) {
	sr, _ := newTestResource(t)

	require.Panics(t, func() { sr.Snapshot() })

	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))
	sr.Finalize()

	require.Panics(t, func() { sr.Snapshot() })
}

// A snapshot is a copy. Later writes to the live region must not show
// through it.
func TestSnapshot_IndependentCopy(t *testing.T) {
	mc := &kmemgo.BasicMetricsCollector{}
	sr, _ := newTestResource(t, kmemgo.WithMetricsCollector(mc))
	require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

	ptm := sr.PageTableManager()
	page, err := ptm.Allocate()
	require.NoError(t, err)

	page[0] = 0x11

	first := sr.Snapshot()
	require.NoError(t, first.Validate())

	page[0] = 0x22

	second := sr.Snapshot()

	assert.False(t, bytes.Equal(first.Region, second.Region), "first snapshot must not track live writes")
	assert.Equal(t, int64(2), mc.GetStats().SnapshotCount)
	assert.Equal(t, int64(2*len(first.Region)), mc.GetStats().SnapshotBytes)

	ptm.Free(page)
	sr.Finalize()
}

// Snapshot, encode, decode, restore into a fresh resource on a second
// device: slot occupancy, slot payloads, refcounts and the ledger charge all
// come back exactly, and state written after the snapshot does not.
func TestSnapshotRestore_RoundTrip(t *testing.T) {
	sr1, _ := newTestResource(t)
	ledger1 := newTestLedger()
	require.NoError(t, sr1.Initialize(1<<20, ledger1, platform.PoolApplication))

	ptm1 := sr1.PageTableManager()
	mbm1 := sr1.MemoryBlockManager()
	bim1 := sr1.BlockInfoManager()

	// Three page-table pages with distinct payloads, one of them held open.
	var ptIdx []uint32
	var ptPages []*kmemgo.PageTablePage
	for n := 0; n < 3; n++ {
		page, err := ptm1.Allocate()
		require.NoError(t, err)

		idx, ok := ptm1.SlotIndex(page)
		require.True(t, ok)

		for i := range page {
			page[i] = byte((int(idx) + i) % 251)
		}

		ptIdx = append(ptIdx, idx)
		ptPages = append(ptPages, page)
	}
	ptm1.Open(ptPages[0], 3)

	wantBlock := kmemgo.MemoryBlock{
		Address:    platform.DRAMBase + 0x4000,
		NumPages:   32,
		State:      kmemgo.MemoryStateCode,
		Permission: kmemgo.MemoryPermissionReadExecute,
		Attribute:  kmemgo.MemoryAttributeLocked,
	}
	block, err := mbm1.Allocate()
	require.NoError(t, err)
	*block = wantBlock
	mbIdx, ok := mbm1.SlotIndex(block)
	require.True(t, ok)

	wantInfo := kmemgo.BlockInfo{Address: platform.DRAMBase, NumPages: 8}
	info, err := bim1.Allocate()
	require.NoError(t, err)
	*info = wantInfo
	biIdx, ok := bim1.SlotIndex(info)
	require.True(t, ok)

	snap := sr1.Snapshot()
	require.NoError(t, snap.Validate())

	// Anything after the capture belongs to the live resource only.
	late, err := ptm1.Allocate()
	require.NoError(t, err)
	late[0] = 0xee

	// Ship the state through the wire format, as an emulator savestate
	// would be.
	var buf bytes.Buffer
	require.NoError(t, snapshot.Encode(&buf, snap, snapshot.CompressionZSTD))
	restored, err := snapshot.Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	mc2 := &kmemgo.BasicMetricsCollector{}
	sr2, rec2 := newTestResource(t, kmemgo.WithMetricsCollector(mc2))
	ledger2 := newTestLedger()

	require.NoError(t, sr2.RestoreSnapshot(restored, ledger2))
	assert.Equal(t, kmemgo.StateReady, sr2.State())

	stats := sr2.Stats()
	assert.Equal(t, uint64(1<<20), stats.Size)
	assert.Equal(t, platform.PoolApplication, stats.Pool)
	assert.Equal(t, uint64(1<<20), stats.Required)
	assert.Equal(t, 3, stats.PageTables.Used, "the post-snapshot page must not exist here")
	assert.Equal(t, 1, stats.MemoryBlocks.Used)
	assert.Equal(t, 1, stats.BlockInfos.Used)

	assert.Equal(t, int64(1<<20), ledger2.Used(limit.PhysicalMemory))
	assert.Equal(t, int64(1), ledger2.Refs())

	ptm2 := sr2.PageTableManager()
	mbm2 := sr2.MemoryBlockManager()
	bim2 := sr2.BlockInfoManager()

	// Slot indices are stable, so the captured payloads sit where they were.
	for _, idx := range ptIdx {
		page := ptm2.Slot(idx)
		require.NotNil(t, page)

		for i := range page {
			if page[i] != byte((int(idx)+i)%251) {
				t.Fatalf("restored page %d differs at byte %d", idx, i)
			}
		}
	}

	held := ptm2.Slot(ptIdx[0])
	assert.Equal(t, uint16(3), ptm2.RefCount(held), "open counts travel in the region copy")

	assert.Equal(t, wantBlock, *mbm2.Slot(mbIdx))
	assert.Equal(t, wantInfo, *bim2.Slot(biIdx))

	// New allocations steer around the restored slots.
	fresh, err := ptm2.Allocate()
	require.NoError(t, err)
	freshIdx, ok := ptm2.SlotIndex(fresh)
	require.True(t, ok)
	assert.False(t, restored.PageTableSlots.Contains(freshIdx))

	assert.Equal(t, int64(1), mc2.GetStats().RestoreCount)
	assert.Zero(t, mc2.GetStats().RestoreErrors)

	// Tear the restored resource down to nothing.
	ptm2.Close(held, 3)
	ptm2.Free(fresh)
	for _, idx := range ptIdx {
		ptm2.Free(ptm2.Slot(idx))
	}
	mbm2.Free(mbm2.Slot(mbIdx))
	bim2.Free(bim2.Slot(biIdx))
	sr2.Finalize()

	assert.Zero(t, ledger2.Used(limit.PhysicalMemory))
	assert.Zero(t, ledger2.Refs())
	assert.Zero(t, rec2.Outstanding())

	// The source resource is untouched by the restore.
	ptm1.Close(ptPages[0], 3)
	ptm1.Free(late)
	for _, page := range ptPages {
		ptm1.Free(page)
	}
	mbm1.Free(block)
	bim1.Free(info)
	sr1.Finalize()

	assert.Zero(t, ledger1.Used(limit.PhysicalMemory))
}

func TestRestoreSnapshot_Validation(t *testing.T) {
	newSnap := func(t *testing.T) *snapshot.State {
		t.Helper()

		sr, _ := newTestResource(t)
		require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))
		snap := sr.Snapshot()
		sr.Finalize()

		return snap
	}

	t.Run("nil state", func(t *testing.T) {
		sr, rec := newTestResource(t)

		err := sr.RestoreSnapshot(nil, newTestLedger())

		require.Error(t, err)
		assert.Empty(t, rec.Calls())
	})

	t.Run("charge mismatch", func(t *testing.T) {
		snap := newSnap(t)
		snap.Required += kmemgo.SecureAlignment

		sr, rec := newTestResource(t)

		err := sr.RestoreSnapshot(snap, newTestLedger())

		require.Error(t, err)
		assert.ErrorContains(t, err, "charge")
		assert.Empty(t, rec.Calls())
		assert.Equal(t, kmemgo.StateUninitialized, sr.State())
	})

	t.Run("limit reached", func(t *testing.T) {
		snap := newSnap(t)
		sr, rec := newTestResource(t)
		ledger := limit.New(limit.Config{PhysicalMemoryBytes: 512 << 10})

		err := sr.RestoreSnapshot(snap, ledger)

		require.Error(t, err)
		assert.ErrorIs(t, err, kmemgo.ErrLimitReached)
		assert.Empty(t, rec.Calls())
		assert.Equal(t, int64(512<<10), ledger.Available(limit.PhysicalMemory))
	})

	t.Run("into ready resource", func(t *testing.T) {
		snap := newSnap(t)
		sr, _ := newTestResource(t)
		require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))

		require.Panics(t, func() {
			_ = sr.RestoreSnapshot(snap, newTestLedger())
		})

		sr.Finalize()
	})

	t.Run("into finalized resource", func(t *testing.T) {
		snap := newSnap(t)
		sr, _ := newTestResource(t)
		require.NoError(t, sr.Initialize(1<<20, newTestLedger(), platform.PoolApplication))
		sr.Finalize()

		require.Panics(t, func() {
			_ = sr.RestoreSnapshot(snap, newTestLedger())
		})
	})
}

// A slot index beyond the rebuilt heap's capacity surfaces after secure
// memory is allocated; the restore must unwind to zero residue.
func TestRestoreSnapshot_BadSlotRollsBack(t *testing.T) {
	src, _ := newTestResource(t)
	require.NoError(t, src.Initialize(1<<20, newTestLedger(), platform.PoolApplication))
	snap := src.Snapshot()
	src.Finalize()

	snap.PageTableSlots.Add(1 << 20)

	sr, rec := newTestResource(t)
	ledger := newTestLedger()
	before := ledger.Available(limit.PhysicalMemory)

	err := sr.RestoreSnapshot(snap, ledger)

	require.Error(t, err)
	assert.ErrorContains(t, err, "out of range")
	assert.Equal(t, kmemgo.StateUninitialized, sr.State())
	assert.Equal(t, []string{testutil.OpAllocate, testutil.OpResolve, testutil.OpFree}, callOps(rec.Calls()))
	assert.Zero(t, rec.Outstanding())
	assert.Equal(t, before, ledger.Available(limit.PhysicalMemory))
}

// Restore must land on the heap budgets the savestate carries even when the
// restoring resource was built with a different policy.
func TestRestoreSnapshot_SnapshotPolicyGoverns(t *testing.T) {
	src, _ := newTestResource(t)
	require.NoError(t, src.Initialize(1<<20, newTestLedger(), platform.PoolApplication))
	wantStats := src.Stats()
	snap := src.Snapshot()
	src.Finalize()

	skewed := kmemgo.HeapPolicy{PageTableWeight: 1, MemoryBlockWeight: 1, BlockInfoWeight: 8}
	sr, _ := newTestResource(t, kmemgo.WithHeapPolicy(skewed))

	require.NoError(t, sr.RestoreSnapshot(snap, newTestLedger()))

	stats := sr.Stats()
	assert.Equal(t, wantStats.PageTables.Capacity, stats.PageTables.Capacity)
	assert.Equal(t, wantStats.MemoryBlocks.Capacity, stats.MemoryBlocks.Capacity)
	assert.Equal(t, wantStats.BlockInfos.Capacity, stats.BlockInfos.Capacity)

	sr.Finalize()
}
