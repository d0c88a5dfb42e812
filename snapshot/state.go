package snapshot

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/kmemgo/platform"
)

// State is a point-in-time copy of one secure resource: its identity (size,
// pool, charged amount), the page count of every heap, the occupied slot set
// of every heap, and the raw bytes of the whole secure region including the
// reference-count table.
//
// A State is plain data. It holds no handles into the resource it was taken
// from and stays valid after the resource is finalized.
type State struct {
	// Size is the secure region size in bytes.
	Size uint64
	// Pool is the memory pool the region was carved from.
	Pool platform.Pool
	// Required is the amount that was charged against the resource ledger.
	Required uint64

	// Heap page counts, in carve order.
	PageTablePages   uint64
	MemoryBlockPages uint64
	BlockInfoPages   uint64

	// Occupied slot indices per heap.
	PageTableSlots   *roaring.Bitmap
	MemoryBlockSlots *roaring.Bitmap
	BlockInfoSlots   *roaring.Bitmap

	// Region is the raw region content, Size bytes long.
	Region []byte
}

// Validate checks the structural invariants of the state. It does not know
// the slot capacities of the heaps; the restore path checks those.
func (s *State) Validate() error {
	if s == nil {
		return fmt.Errorf("snapshot: state is nil")
	}
	if s.Size == 0 {
		return fmt.Errorf("snapshot: state has zero region size")
	}
	if s.Size%platform.PageSize != 0 {
		return fmt.Errorf("snapshot: region size %d not a multiple of the page size", s.Size)
	}
	if !s.Pool.Valid() {
		return fmt.Errorf("snapshot: state names invalid pool %d", int(s.Pool))
	}
	if uint64(len(s.Region)) != s.Size {
		return fmt.Errorf("snapshot: region payload is %d bytes, state says %d", len(s.Region), s.Size)
	}
	if s.PageTableSlots == nil || s.MemoryBlockSlots == nil || s.BlockInfoSlots == nil {
		return fmt.Errorf("snapshot: state is missing a slot set")
	}

	heapPages := s.PageTablePages + s.MemoryBlockPages + s.BlockInfoPages
	if heapPages > s.Size/platform.PageSize {
		return fmt.Errorf("snapshot: heaps claim %d pages, region holds %d", heapPages, s.Size/platform.PageSize)
	}
	return nil
}

// Clone returns a deep copy sharing nothing with the receiver.
func (s *State) Clone() *State {
	region := make([]byte, len(s.Region))
	copy(region, s.Region)

	return &State{
		Size:             s.Size,
		Pool:             s.Pool,
		Required:         s.Required,
		PageTablePages:   s.PageTablePages,
		MemoryBlockPages: s.MemoryBlockPages,
		BlockInfoPages:   s.BlockInfoPages,
		PageTableSlots:   s.PageTableSlots.Clone(),
		MemoryBlockSlots: s.MemoryBlockSlots.Clone(),
		BlockInfoSlots:   s.BlockInfoSlots.Clone(),
		Region:           region,
	}
}

func (s *State) String() string {
	return fmt.Sprintf("State{size: %d, pool: %s, page_tables: %d, memory_blocks: %d, block_infos: %d}",
		s.Size, s.Pool, s.PageTableSlots.GetCardinality(), s.MemoryBlockSlots.GetCardinality(), s.BlockInfoSlots.GetCardinality())
}
