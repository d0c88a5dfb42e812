package kmemgo

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/kmemgo/internal/conv"
	"github.com/hupe1980/kmemgo/internal/pagealloc"
	"github.com/hupe1980/kmemgo/internal/slab"
	"github.com/hupe1980/kmemgo/limit"
	"github.com/hupe1980/kmemgo/platform"
)

// State is the lifecycle state of a SecureResource.
type State int

const (
	// StateUninitialized is the state before Initialize.
	StateUninitialized State = iota

	// StateReady is the state after a successful Initialize.
	StateReady

	// StateFinalized is the terminal state after Finalize.
	StateFinalized
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SecureResource owns one secure region of emulated physical memory and the
// fixed-capacity allocators carved from it: page-table pages, memory-block
// descriptors and block-info records backing a process's kernel metadata.
//
// A resource moves through Uninitialized, Ready and Finalized exactly once.
// Initialize and Finalize are single-owner lifecycle boundaries; the
// managers reached through PageTableManager, MemoryBlockManager and
// BlockInfoManager are safe for concurrent use while the resource is Ready.
type SecureResource struct {
	platform platform.Allocator
	policy   HeapPolicy
	metrics  MetricsCollector
	logger   *Logger

	mu    sync.Mutex
	state State

	ledger   *limit.Ledger
	addr     platform.Address
	size     uint64
	pool     platform.Pool
	required uint64
	split    HeapSplit
	region   []byte

	pm *pagealloc.Manager
	rc *slab.RefCounts

	pageTables   *PageTableManager
	memoryBlocks *MemoryBlockManager
	blockInfos   *BlockInfoManager
}

// New creates an uninitialized SecureResource on top of the given platform
// allocator. Nothing is charged or mapped until Initialize.
func New(p platform.Allocator, optFns ...Option) *SecureResource {
	opts := applyOptions(optFns)

	return &SecureResource{
		platform: p,
		policy:   opts.policy,
		metrics:  opts.metricsCollector,
		logger:   opts.logger,
	}
}

// Initialize carves a secure region of size bytes out of the given pool,
// charges the resource limit, and builds the metadata heaps inside the
// region. On any failure it returns with zero residue: the reservation is
// canceled, secure memory is freed, and the resource stays Uninitialized.
//
// size must be a positive multiple of PageSize. Calling Initialize on a
// resource that is not Uninitialized is a programming error and panics.
func (sr *SecureResource) Initialize(size uint64, ledger *limit.Ledger, pool platform.Pool) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.state != StateUninitialized {
		panic(fmt.Sprintf("kmemgo: initialize of %s resource", sr.state))
	}

	start := time.Now()

	err := sr.initLocked(size, ledger, pool)

	duration := time.Since(start)
	sr.metrics.RecordInitialize(duration, err)
	sr.logger.LogInitialize(size, pool, CalculateRequiredSecureMemorySize(size, pool), err)

	return err
}

func (sr *SecureResource) initLocked(size uint64, ledger *limit.Ledger, pool platform.Pool) error {
	if sr.platform == nil {
		return fmt.Errorf("kmemgo: nil platform allocator")
	}

	if ledger == nil {
		return fmt.Errorf("kmemgo: nil resource limit")
	}

	if !pool.Valid() {
		return fmt.Errorf("%w: %d", platform.ErrInvalidPool, int(pool))
	}

	if size == 0 || size%PageSize != 0 {
		return &InvalidSizeError{Size: size}
	}

	if err := sr.policy.Validate(); err != nil {
		return err
	}

	required := CalculateRequiredSecureMemorySize(size, pool)

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

	addr, err := sr.platform.AllocateSecureMemory(size, pool)
	if err != nil {
		return err
	}

	if addr == 0 {
		panic("kmemgo: platform returned null secure memory address")
	}

	success := false

	defer func() {
		if !success {
			sr.platform.FreeSecureMemory(addr, size, pool)
			sr.metrics.RecordRollback("free-secure-memory")
			sr.logger.LogRollback("free-secure-memory")
		}
	}()

	tableSize := referenceCountTableSize(size)
	if size <= tableSize {
		return fmt.Errorf("kmemgo: region of %d bytes cannot hold its %d byte reference-count table: %w",
			size, tableSize, ErrOutOfMemory)
	}

	region, err := sr.platform.Resolve(addr, size)
	if err != nil {
		return err
	}

	rc, err := slab.NewRefCounts(region[:tableSize], size/PageSize)
	if err != nil {
		return fmt.Errorf("kmemgo: reference-count table: %w", err)
	}

	pm, err := pagealloc.New(region[tableSize:], uint64(addr)+tableSize, PageSize)
	if err != nil {
		return fmt.Errorf("kmemgo: page manager: %w", err)
	}

	split := sr.policy.Split(pm.TotalPages())

	ptHeap, err := slab.NewHeap[PageTablePage](pm, int(split.PageTablePages))
	if err != nil {
		return fmt.Errorf("kmemgo: page-table heap: %w", err)
	}

	mbHeap, err := slab.NewHeap[MemoryBlock](pm, int(split.MemoryBlockPages))
	if err != nil {
		return fmt.Errorf("kmemgo: memory-block heap: %w", err)
	}

	biHeap, err := slab.NewHeap[BlockInfo](pm, int(split.BlockInfoPages))
	if err != nil {
		return fmt.Errorf("kmemgo: block-info heap: %w", err)
	}

	// The table indexes pages of the whole region, so the page manager's
	// first page sits past the table's own pages.
	rcBase := tableSize / PageSize

	resv.Commit()
	ledger.Open()

	sr.ledger = ledger
	sr.addr = addr
	sr.size = size
	sr.pool = pool
	sr.required = required
	sr.split = split
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

// Finalize tears the resource down: secure memory goes back to the
// platform, the limit charge is released, and the limit reference is
// closed. The resource ends Finalized and cannot be reused.
//
// Finalize panics unless the resource is Ready with zero live slots in all
// three managers.
func (sr *SecureResource) Finalize() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.state != StateReady {
		panic(fmt.Sprintf("kmemgo: finalize of %s resource", sr.state))
	}

	start := time.Now()

	if used := sr.pageTables.Used(); used != 0 {
		panic(fmt.Sprintf("kmemgo: finalize with %d live page-table pages", used))
	}

	if used := sr.memoryBlocks.Used(); used != 0 {
		panic(fmt.Sprintf("kmemgo: finalize with %d live memory blocks", used))
	}

	if used := sr.blockInfos.Used(); used != 0 {
		panic(fmt.Sprintf("kmemgo: finalize with %d live block infos", used))
	}

	sr.platform.FreeSecureMemory(sr.addr, sr.size, sr.pool)
	sr.ledger.Release(limit.PhysicalMemory, int64(sr.required))
	sr.ledger.Close()

	sr.state = StateFinalized
	sr.pageTables = nil
	sr.memoryBlocks = nil
	sr.blockInfos = nil
	sr.pm = nil
	sr.rc = nil
	sr.region = nil

	sr.metrics.RecordFinalize(time.Since(start))
	sr.logger.LogFinalize(sr.size, sr.pool)
}

// State returns the lifecycle state.
func (sr *SecureResource) State() State {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return sr.state
}

// PageTableManager returns the page-table allocator. It panics unless the
// resource is Ready.
func (sr *SecureResource) PageTableManager() *PageTableManager {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.state != StateReady {
		panic(fmt.Sprintf("kmemgo: page-table manager of %s resource", sr.state))
	}

	return sr.pageTables
}

// MemoryBlockManager returns the memory-block allocator. It panics unless
// the resource is Ready.
func (sr *SecureResource) MemoryBlockManager() *MemoryBlockManager {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.state != StateReady {
		panic(fmt.Sprintf("kmemgo: memory-block manager of %s resource", sr.state))
	}

	return sr.memoryBlocks
}

// BlockInfoManager returns the block-info allocator. It panics unless the
// resource is Ready.
func (sr *SecureResource) BlockInfoManager() *BlockInfoManager {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.state != StateReady {
		panic(fmt.Sprintf("kmemgo: block-info manager of %s resource", sr.state))
	}

	return sr.blockInfos
}

// HeapStats is one manager's used/capacity pair.
type HeapStats struct {
	Used     int
	Capacity int
}

// SecureResourceStats is a point-in-time snapshot of a resource's state.
type SecureResourceStats struct {
	State    State
	Address  platform.Address
	Size     uint64
	Pool     platform.Pool
	Required uint64

	PageTables   HeapStats
	MemoryBlocks HeapStats
	BlockInfos   HeapStats

	// SparePages counts region pages assigned to no heap.
	SparePages uint64
}

// Stats returns the resource's current statistics. Heap counters are read
// one manager at a time, so the triple is not a single atomic snapshot.
func (sr *SecureResource) Stats() SecureResourceStats {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	stats := SecureResourceStats{
		State:    sr.state,
		Address:  sr.addr,
		Size:     sr.size,
		Pool:     sr.pool,
		Required: sr.required,
	}

	if sr.state != StateReady {
		return stats
	}

	stats.PageTables = HeapStats{Used: sr.pageTables.Used(), Capacity: sr.pageTables.Capacity()}
	stats.MemoryBlocks = HeapStats{Used: sr.memoryBlocks.Used(), Capacity: sr.memoryBlocks.Capacity()}
	stats.BlockInfos = HeapStats{Used: sr.blockInfos.Used(), Capacity: sr.blockInfos.Capacity()}
	stats.SparePages = sr.pm.FreePages()

	return stats
}

// String implements the fmt.Stringer interface.
func (sr *SecureResource) String() string {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return fmt.Sprintf("SecureResource(state=%s, address=%s, size=%d, pool=%s)",
		sr.state, sr.addr, sr.size, sr.pool)
}
