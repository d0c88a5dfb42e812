package kmemgo

import (
	"fmt"
	"time"

	"github.com/hupe1980/kmemgo/internal/conv"
	"github.com/hupe1980/kmemgo/internal/pagealloc"
	"github.com/hupe1980/kmemgo/internal/slab"
	"github.com/hupe1980/kmemgo/limit"
	"github.com/hupe1980/kmemgo/snapshot"
)

// Snapshot captures the resource as a savestate: the raw region bytes
// (reference-count table included), the heap page budgets, and the live slot
// set of every heap. The returned state shares no memory with the resource
// and stays valid after Finalize.
//
// Snapshot panics unless the resource is Ready. The capture is not
// serialized against in-flight allocations; pause allocation activity for a
// coherent savestate, the way an emulator pauses before saving.
func (sr *SecureResource) Snapshot() *snapshot.State {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.state != StateReady {
		panic(fmt.Sprintf("kmemgo: snapshot of %s resource", sr.state))
	}

	start := time.Now()

	region := make([]byte, len(sr.region))
	copy(region, sr.region)

	s := &snapshot.State{
		Size:             sr.size,
		Pool:             sr.pool,
		Required:         sr.required,
		PageTablePages:   sr.split.PageTablePages,
		MemoryBlockPages: sr.split.MemoryBlockPages,
		BlockInfoPages:   sr.split.BlockInfoPages,
		PageTableSlots:   sr.pageTables.inner.UsedSlotSet(),
		MemoryBlockSlots: sr.memoryBlocks.inner.UsedSlotSet(),
		BlockInfoSlots:   sr.blockInfos.inner.UsedSlotSet(),
		Region:           region,
	}

	sr.metrics.RecordSnapshot(len(region), time.Since(start))
	sr.logger.LogSnapshot(len(region))

	return s
}

// RestoreSnapshot rebuilds the resource from a savestate: fresh secure
// memory is carved from the state's pool, charged against ledger, and the
// heaps come back with the exact slot occupancy and page contents the
// snapshot recorded. Slot pointers from before the snapshot are not valid on
// the restored resource; callers re-derive them through the managers.
//
// The savestate's heap page budgets govern; the resource's own heap policy
// applies only to Initialize. On any failure the restore leaves zero
// residue, like a failed Initialize.
//
// RestoreSnapshot panics unless the resource is Uninitialized.
func (sr *SecureResource) RestoreSnapshot(s *snapshot.State, ledger *limit.Ledger) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.state != StateUninitialized {
		panic(fmt.Sprintf("kmemgo: restore into %s resource", sr.state))
	}

	start := time.Now()

	err := sr.restoreLocked(s, ledger)

	sr.metrics.RecordRestore(time.Since(start), err)
	if s != nil {
		sr.logger.LogRestore(s.Size, s.Pool, err)
	}

	return err
}

func (sr *SecureResource) restoreLocked(s *snapshot.State, ledger *limit.Ledger) error {
	if sr.platform == nil {
		return fmt.Errorf("kmemgo: nil platform allocator")
	}

	if ledger == nil {
		return fmt.Errorf("kmemgo: nil resource limit")
	}

	if err := s.Validate(); err != nil {
		return err
	}

	// The charge must be reproducible. A savestate written under different
	// sizing constants cannot be reconciled with this ledger.
	required := CalculateRequiredSecureMemorySize(s.Size, s.Pool)
	if required != s.Required {
		return fmt.Errorf("kmemgo: savestate charge of %d bytes does not match the %d this region requires", s.Required, required)
	}

	amount, err := conv.Uint64ToInt64(required)
	if err != nil {
		return fmt.Errorf("kmemgo: required size: %w", err)
	}

	resv, err := ledger.Reserve(limit.PhysicalMemory, amount)
	if err != nil {
		sr.metrics.RecordLimitRejection()

		return fmt.Errorf("kmemgo: reserve %d bytes: %w", required, err)
	}
	defer resv.Cancel()

	addr, err := sr.platform.AllocateSecureMemory(s.Size, s.Pool)
	if err != nil {
		return err
	}

	if addr == 0 {
		panic("kmemgo: platform returned null secure memory address")
	}

	success := false

	defer func() {
		if !success {
			sr.platform.FreeSecureMemory(addr, s.Size, s.Pool)
			sr.metrics.RecordRollback("free-secure-memory")
			sr.logger.LogRollback("free-secure-memory")
		}
	}()

	tableSize := referenceCountTableSize(s.Size)
	if s.Size <= tableSize {
		return fmt.Errorf("kmemgo: region of %d bytes cannot hold its %d byte reference-count table: %w",
			s.Size, tableSize, ErrOutOfMemory)
	}

	region, err := sr.platform.Resolve(addr, s.Size)
	if err != nil {
		return err
	}

	rc, err := slab.NewRefCounts(region[:tableSize], s.Size/PageSize)
	if err != nil {
		return fmt.Errorf("kmemgo: reference-count table: %w", err)
	}

	pm, err := pagealloc.New(region[tableSize:], uint64(addr)+tableSize, PageSize)
	if err != nil {
		return fmt.Errorf("kmemgo: page manager: %w", err)
	}

	// Heaps claim their pages in the order Initialize carves them, so every
	// recorded slot index lands back on the region offset it was captured
	// from.
	ptHeap, err := slab.NewHeap[PageTablePage](pm, int(s.PageTablePages))
	if err != nil {
		return fmt.Errorf("kmemgo: page-table heap: %w", err)
	}

	mbHeap, err := slab.NewHeap[MemoryBlock](pm, int(s.MemoryBlockPages))
	if err != nil {
		return fmt.Errorf("kmemgo: memory-block heap: %w", err)
	}

	biHeap, err := slab.NewHeap[BlockInfo](pm, int(s.BlockInfoPages))
	if err != nil {
		return fmt.Errorf("kmemgo: block-info heap: %w", err)
	}

	if err := ptHeap.ImportUsedSlots(s.PageTableSlots); err != nil {
		return fmt.Errorf("kmemgo: page-table heap: %w", err)
	}

	if err := mbHeap.ImportUsedSlots(s.MemoryBlockSlots); err != nil {
		return fmt.Errorf("kmemgo: memory-block heap: %w", err)
	}

	if err := biHeap.ImportUsedSlots(s.BlockInfoSlots); err != nil {
		return fmt.Errorf("kmemgo: block-info heap: %w", err)
	}

	// Allocator bookkeeping lives outside the region, so the byte copy
	// cannot clobber it. It brings back slot payloads and the refcount
	// table in one stroke; NewRefCounts zeroed the table moments ago.
	copy(region, s.Region)

	rcBase := tableSize / PageSize

	resv.Commit()
	ledger.Open()

	sr.ledger = ledger
	sr.addr = addr
	sr.size = s.Size
	sr.pool = s.Pool
	sr.required = required
	sr.split = HeapSplit{
		PageTablePages:   s.PageTablePages,
		MemoryBlockPages: s.MemoryBlockPages,
		BlockInfoPages:   s.BlockInfoPages,
	}
	sr.region = region
	sr.pm = pm
	sr.rc = rc
	sr.pageTables = &PageTableManager{
		inner:   slab.NewManager(ptHeap, slab.WithRefCounts[PageTablePage](rc, rcBase)),
		metrics: sr.metrics,
		logger:  sr.logger,
	}
	sr.memoryBlocks = &MemoryBlockManager{
		inner:   slab.NewManager(mbHeap),
		metrics: sr.metrics,
		logger:  sr.logger,
	}
	sr.blockInfos = &BlockInfoManager{
		inner:   slab.NewManager(biHeap),
		metrics: sr.metrics,
		logger:  sr.logger,
	}
	sr.state = StateReady

	success = true

	return nil
}
