package kmemgo

import (
	"fmt"

	"github.com/hupe1980/kmemgo/platform"
)

// PageSize is the granularity of the emulated physical memory.
const PageSize = platform.PageSize

// PageTablePage is one page of process page-table backing storage.
type PageTablePage [PageSize]byte

// MemoryState classifies what a mapped range is used for.
type MemoryState uint32

const (
	// MemoryStateFree marks an unmapped range.
	MemoryStateFree MemoryState = iota

	// MemoryStateNormal marks general-purpose mapped memory.
	MemoryStateNormal

	// MemoryStateCode marks executable mappings.
	MemoryStateCode

	// MemoryStateCodeData marks writable data owned by a code mapping.
	MemoryStateCodeData

	// MemoryStateShared marks memory shared between processes.
	MemoryStateShared

	// MemoryStateStack marks stack mappings.
	MemoryStateStack
)

// String implements the fmt.Stringer interface.
func (s MemoryState) String() string {
	switch s {
	case MemoryStateFree:
		return "free"
	case MemoryStateNormal:
		return "normal"
	case MemoryStateCode:
		return "code"
	case MemoryStateCodeData:
		return "code-data"
	case MemoryStateShared:
		return "shared"
	case MemoryStateStack:
		return "stack"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// MemoryPermission is an access-permission bitmask.
type MemoryPermission uint32

// MemoryPermissionNone grants no access.
const MemoryPermissionNone MemoryPermission = 0

const (
	// MemoryPermissionRead grants read access.
	MemoryPermissionRead MemoryPermission = 1 << iota

	// MemoryPermissionWrite grants write access.
	MemoryPermissionWrite

	// MemoryPermissionExecute grants execute access.
	MemoryPermissionExecute
)

const (
	// MemoryPermissionReadWrite grants read and write access.
	MemoryPermissionReadWrite = MemoryPermissionRead | MemoryPermissionWrite

	// MemoryPermissionReadExecute grants read and execute access.
	MemoryPermissionReadExecute = MemoryPermissionRead | MemoryPermissionExecute
)

// MemoryAttribute is an attribute bitmask on a mapped range.
type MemoryAttribute uint32

// MemoryAttributeNone marks a range without special attributes.
const MemoryAttributeNone MemoryAttribute = 0

const (
	// MemoryAttributeLocked marks a range pinned by an ongoing operation.
	MemoryAttributeLocked MemoryAttribute = 1 << iota

	// MemoryAttributeUncached marks a range mapped without caching.
	MemoryAttributeUncached
)

// MemoryBlock describes one contiguous mapped range of a process address
// space. Blocks live in slots of the memory-block heap.
type MemoryBlock struct {
	Address    platform.Address
	NumPages   uint64
	State      MemoryState
	Permission MemoryPermission
	Attribute  MemoryAttribute
}

// Contains reports whether addr falls inside the block.
func (b *MemoryBlock) Contains(addr platform.Address) bool {
	return addr >= b.Address && addr < b.Address+platform.Address(b.NumPages*PageSize)
}

// BlockInfo is a compact record of one physical range, used for bookkeeping
// lists attached to kernel objects. Records live in slots of the block-info
// heap.
type BlockInfo struct {
	Address  platform.Address
	NumPages uint64
}
