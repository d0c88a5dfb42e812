package platform

import (
	"fmt"
	"sort"
)

// PoolExtent is one pool's slice of device memory. A zero Size disables the
// pool.
type PoolExtent struct {
	Base Address
	Size uint64
}

// End returns the first address past the extent.
func (e PoolExtent) End() Address {
	return e.Base + Address(e.Size)
}

// Contains reports whether the range [addr, addr+size) lies inside the
// extent.
func (e PoolExtent) Contains(addr Address, size uint64) bool {
	return addr >= e.Base && size <= e.Size && addr-e.Base <= Address(e.Size-size)
}

// PoolLayout partitions device memory into pools. Layouts are plain data so
// partition policy stays testable on its own.
type PoolLayout struct {
	DRAMBase Address
	DRAMSize uint64
	Pools    [NumPools]PoolExtent
}

// DefaultPoolLayout partitions dramSize bytes starting at DRAMBase: the
// applet pool gets its fixed carveout, the application pool half of the
// remainder, the system pool a quarter, and the non-secure system pool the
// rest.
func DefaultPoolLayout(dramSize uint64) (PoolLayout, error) {
	if dramSize%PageSize != 0 {
		return PoolLayout{}, fmt.Errorf("platform: dram size %d not page-aligned", dramSize)
	}

	if dramSize < 4*AppletReservedSize {
		return PoolLayout{}, fmt.Errorf("platform: dram size %d too small for default layout", dramSize)
	}

	remaining := dramSize - AppletReservedSize
	application := alignDown(remaining/2, PageSize)
	system := alignDown(remaining/4, PageSize)
	nonSecure := remaining - application - system

	l := PoolLayout{
		DRAMBase: DRAMBase,
		DRAMSize: dramSize,
	}

	next := DRAMBase
	for _, p := range []struct {
		pool Pool
		size uint64
	}{
		{PoolApplication, application},
		{PoolApplet, AppletReservedSize},
		{PoolSystem, system},
		{PoolSystemNonSecure, nonSecure},
	} {
		l.Pools[p.pool] = PoolExtent{Base: next, Size: p.size}
		next += Address(p.size)
	}

	return l, nil
}

// Validate checks that the layout is page-aligned, that every pool lies
// inside device memory, and that no two pools overlap.
func (l PoolLayout) Validate() error {
	if l.DRAMSize == 0 {
		return fmt.Errorf("platform: layout has zero dram size")
	}

	if uint64(l.DRAMBase)%PageSize != 0 || l.DRAMSize%PageSize != 0 {
		return fmt.Errorf("platform: layout dram %s+%d not page-aligned", l.DRAMBase, l.DRAMSize)
	}

	dram := PoolExtent{Base: l.DRAMBase, Size: l.DRAMSize}

	var used []PoolExtent

	for p := PoolApplication; int(p) < NumPools; p++ {
		e := l.Pools[p]
		if e.Size == 0 {
			continue
		}

		if uint64(e.Base)%PageSize != 0 || e.Size%PageSize != 0 {
			return fmt.Errorf("platform: pool %s extent %s+%d not page-aligned", p, e.Base, e.Size)
		}

		if !dram.Contains(e.Base, e.Size) {
			return fmt.Errorf("platform: pool %s extent %s+%d outside dram", p, e.Base, e.Size)
		}

		used = append(used, e)
	}

	sort.Slice(used, func(i, j int) bool { return used[i].Base < used[j].Base })

	for i := 1; i < len(used); i++ {
		if used[i].Base < used[i-1].End() {
			return fmt.Errorf("platform: pool extents %s and %s overlap", used[i-1].Base, used[i].Base)
		}
	}

	return nil
}

func alignDown(v, align uint64) uint64 {
	return v &^ (align - 1)
}
