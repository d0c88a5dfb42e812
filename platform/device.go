package platform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/kmemgo/internal/conv"
	"github.com/hupe1980/kmemgo/internal/mmap"
)

// DeviceMemoryOptions configures a DeviceMemory.
type DeviceMemoryOptions struct {
	// DRAMSize sizes the default pool layout. Ignored when Layout is set.
	DRAMSize uint64

	// Layout partitions device memory explicitly.
	Layout *PoolLayout
}

// DeviceMemory emulates DRAM with one anonymous memory mapping partitioned
// into pools. It implements the Allocator interface and is safe for
// concurrent use.
type DeviceMemory struct {
	mapping *mmap.Mapping
	layout  PoolLayout

	mu    sync.Mutex
	pools [NumPools]*poolState
}

// NewDeviceMemory maps the emulated DRAM and carves it into pools.
func NewDeviceMemory(optFns ...func(o *DeviceMemoryOptions)) (*DeviceMemory, error) {
	opts := DeviceMemoryOptions{
		DRAMSize: DefaultDRAMSize,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var (
		layout PoolLayout
		err    error
	)

	if opts.Layout != nil {
		layout = *opts.Layout
	} else {
		layout, err = DefaultPoolLayout(opts.DRAMSize)
		if err != nil {
			return nil, err
		}
	}

	if err := layout.Validate(); err != nil {
		return nil, err
	}

	size, err := conv.Uint64ToInt(layout.DRAMSize)
	if err != nil {
		return nil, fmt.Errorf("platform: dram size: %w", err)
	}

	mapping, err := mmap.MapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("platform: map dram: %w", err)
	}

	dm := &DeviceMemory{
		mapping: mapping,
		layout:  layout,
	}

	for p := PoolApplication; int(p) < NumPools; p++ {
		dm.pools[p] = newPoolState(layout.Pools[p], p == PoolApplet)
	}

	return dm, nil
}

// WithDRAMSize sets the device-memory size for the default layout.
func WithDRAMSize(size uint64) func(o *DeviceMemoryOptions) {
	return func(o *DeviceMemoryOptions) {
		o.DRAMSize = size
	}
}

// WithPoolLayout sets an explicit pool layout.
func WithPoolLayout(layout PoolLayout) func(o *DeviceMemoryOptions) {
	return func(o *DeviceMemoryOptions) {
		o.Layout = &layout
	}
}

// AllocateSecureMemory implements the Allocator interface.
func (dm *DeviceMemory) AllocateSecureMemory(size uint64, pool Pool) (Address, error) {
	if !pool.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPool, int(pool))
	}

	if size == 0 || size%PageSize != 0 {
		return 0, fmt.Errorf("platform: allocation size %d not page-aligned", size)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	addr, ok := dm.pools[pool].allocate(size)
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes from %s pool", ErrPoolExhausted, size, pool)
	}

	return addr, nil
}

// FreeSecureMemory implements the Allocator interface.
func (dm *DeviceMemory) FreeSecureMemory(addr Address, size uint64, pool Pool) {
	if !pool.Valid() {
		panic(fmt.Sprintf("platform: free into invalid pool %d", int(pool)))
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.pools[pool].release(addr, size)

	// The extent's content is dead, so the host may reclaim the backing
	// pages. Best effort; consumers zero their metadata on allocation and
	// never read a fresh extent before writing it.
	if off, err := conv.Uint64ToInt(uint64(addr - dm.layout.DRAMBase)); err == nil {
		if n, err := conv.Uint64ToInt(size); err == nil {
			_ = dm.mapping.AdviseRange(off, n, mmap.AccessDontNeed)
		}
	}
}

// Resolve implements the Allocator interface.
func (dm *DeviceMemory) Resolve(addr Address, size uint64) ([]byte, error) {
	dram := PoolExtent{Base: dm.layout.DRAMBase, Size: dm.layout.DRAMSize}
	if !dram.Contains(addr, size) {
		return nil, fmt.Errorf("%w: %s+%d", ErrOutOfRange, addr, size)
	}

	off := uint64(addr - dm.layout.DRAMBase)

	return dm.mapping.Bytes()[off : off+size : off+size], nil
}

// Layout returns the pool layout.
func (dm *DeviceMemory) Layout() PoolLayout {
	return dm.layout
}

// PoolStats returns the live statistics of one pool.
func (dm *DeviceMemory) PoolStats(pool Pool) PoolStats {
	if !pool.Valid() {
		return PoolStats{Pool: pool}
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	return dm.pools[pool].stats(pool)
}

// Close unmaps the emulated DRAM. Outstanding regions become invalid.
func (dm *DeviceMemory) Close() error {
	return dm.mapping.Close()
}

// String implements the fmt.Stringer interface.
func (dm *DeviceMemory) String() string {
	return fmt.Sprintf("DeviceMemory(base=%s, size=%d)", dm.layout.DRAMBase, dm.layout.DRAMSize)
}

// PoolStats describes one pool's usage.
type PoolStats struct {
	Pool        Pool
	Capacity    uint64
	Used        uint64
	Peak        uint64
	Allocations int
}

type extent struct {
	base Address
	size uint64
}

type poolState struct {
	extent PoolExtent
	single bool

	claimed bool
	free    []extent
	allocs  map[Address]uint64
	used    uint64
	peak    uint64
}

func newPoolState(e PoolExtent, single bool) *poolState {
	p := &poolState{
		extent: e,
		single: single,
		allocs: make(map[Address]uint64),
	}

	if !single && e.Size > 0 {
		p.free = []extent{{base: e.Base, size: e.Size}}
	}

	return p
}

func (p *poolState) allocate(size uint64) (Address, bool) {
	if p.single {
		if p.claimed || size > p.extent.Size {
			return 0, false
		}

		p.claimed = true
		p.allocs[p.extent.Base] = size
		p.account(size)

		return p.extent.Base, true
	}

	for i, e := range p.free {
		if e.size < size {
			continue
		}

		addr := e.base

		if e.size == size {
			p.free = append(p.free[:i], p.free[i+1:]...)
		} else {
			p.free[i] = extent{base: e.base + Address(size), size: e.size - size}
		}

		p.allocs[addr] = size
		p.account(size)

		return addr, true
	}

	return 0, false
}

func (p *poolState) release(addr Address, size uint64) {
	recorded, ok := p.allocs[addr]
	if !ok {
		panic(fmt.Sprintf("platform: free of unallocated region %s", addr))
	}

	if recorded != size {
		panic(fmt.Sprintf("platform: free of %s with size %d, allocated %d", addr, size, recorded))
	}

	delete(p.allocs, addr)
	p.used -= size

	if p.single {
		p.claimed = false

		return
	}

	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].base > addr })

	p.free = append(p.free, extent{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = extent{base: addr, size: size}

	if i+1 < len(p.free) && p.free[i].base+Address(p.free[i].size) == p.free[i+1].base {
		p.free[i].size += p.free[i+1].size
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}

	if i > 0 && p.free[i-1].base+Address(p.free[i-1].size) == p.free[i].base {
		p.free[i-1].size += p.free[i].size
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
}

func (p *poolState) account(size uint64) {
	p.used += size
	if p.used > p.peak {
		p.peak = p.used
	}
}

func (p *poolState) stats(pool Pool) PoolStats {
	return PoolStats{
		Pool:        pool,
		Capacity:    p.extent.Size,
		Used:        p.used,
		Peak:        p.peak,
		Allocations: len(p.allocs),
	}
}
