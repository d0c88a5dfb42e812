package kmemgo

import (
	"fmt"

	"github.com/hupe1980/kmemgo/internal/slab"
)

// PageTableManager hands out page-table pages from the secure region. It is
// safe for concurrent use.
//
// Each live page carries an open count in the region's reference-count
// table; Open and Close maintain it under the manager's lock.
type PageTableManager struct {
	inner   *slab.Manager[PageTablePage]
	metrics MetricsCollector
	logger  *Logger
}

// Allocate hands out a zeroed page-table page.
func (m *PageTableManager) Allocate() (*PageTablePage, error) {
	page, err := m.inner.Allocate()
	if err != nil {
		err = fmt.Errorf("kmemgo: page-table heap: %w", err)
	}

	m.metrics.RecordAllocate(HeapPageTable, err)
	m.logger.LogAllocate(HeapPageTable, err)

	return page, err
}

// Free returns a page to the heap. Freeing a page that is not currently
// live panics.
func (m *PageTableManager) Free(page *PageTablePage) {
	m.inner.Free(page)
	m.metrics.RecordFree(HeapPageTable)
	m.logger.LogFree(HeapPageTable)
}

// Open raises the page's open count by count.
func (m *PageTableManager) Open(page *PageTablePage, count uint16) {
	m.inner.Open(page, count)
}

// Close lowers the page's open count by count and reports whether it
// reached zero. Closing more references than the page holds panics.
func (m *PageTableManager) Close(page *PageTablePage, count uint16) bool {
	return m.inner.Close(page, count)
}

// RefCount returns the page's open count.
func (m *PageTableManager) RefCount(page *PageTablePage) uint16 {
	return m.inner.RefCount(page)
}

// SlotIndex returns the page's stable slot index. Indexes survive snapshot
// and restore, so callers can re-derive their pages on a restored resource.
func (m *PageTableManager) SlotIndex(page *PageTablePage) (uint32, bool) {
	return m.inner.SlotIndex(page)
}

// Slot returns the page at slot index i regardless of liveness. It panics
// when i is out of range.
func (m *PageTableManager) Slot(i uint32) *PageTablePage {
	return m.inner.Slot(i)
}

// Used returns the number of live pages.
func (m *PageTableManager) Used() int { return m.inner.Used() }

// Capacity returns the fixed page capacity.
func (m *PageTableManager) Capacity() int { return m.inner.Capacity() }

// MemoryBlockManager hands out memory-block descriptors from the secure
// region. It is safe for concurrent use.
type MemoryBlockManager struct {
	inner   *slab.Manager[MemoryBlock]
	metrics MetricsCollector
	logger  *Logger
}

// Allocate hands out a zeroed memory block.
func (m *MemoryBlockManager) Allocate() (*MemoryBlock, error) {
	block, err := m.inner.Allocate()
	if err != nil {
		err = fmt.Errorf("kmemgo: memory-block heap: %w", err)
	}

	m.metrics.RecordAllocate(HeapMemoryBlock, err)
	m.logger.LogAllocate(HeapMemoryBlock, err)

	return block, err
}

// Free returns a block to the heap. Freeing a block that is not currently
// live panics.
func (m *MemoryBlockManager) Free(block *MemoryBlock) {
	m.inner.Free(block)
	m.metrics.RecordFree(HeapMemoryBlock)
	m.logger.LogFree(HeapMemoryBlock)
}

// SlotIndex returns the block's stable slot index.
func (m *MemoryBlockManager) SlotIndex(block *MemoryBlock) (uint32, bool) {
	return m.inner.SlotIndex(block)
}

// Slot returns the block at slot index i regardless of liveness. It panics
// when i is out of range.
func (m *MemoryBlockManager) Slot(i uint32) *MemoryBlock {
	return m.inner.Slot(i)
}

// Used returns the number of live blocks.
func (m *MemoryBlockManager) Used() int { return m.inner.Used() }

// Capacity returns the fixed block capacity.
func (m *MemoryBlockManager) Capacity() int { return m.inner.Capacity() }

// BlockInfoManager hands out block-info records from the secure region. It
// is safe for concurrent use.
type BlockInfoManager struct {
	inner   *slab.Manager[BlockInfo]
	metrics MetricsCollector
	logger  *Logger
}

// Allocate hands out a zeroed block-info record.
func (m *BlockInfoManager) Allocate() (*BlockInfo, error) {
	info, err := m.inner.Allocate()
	if err != nil {
		err = fmt.Errorf("kmemgo: block-info heap: %w", err)
	}

	m.metrics.RecordAllocate(HeapBlockInfo, err)
	m.logger.LogAllocate(HeapBlockInfo, err)

	return info, err
}

// Free returns a record to the heap. Freeing a record that is not currently
// live panics.
func (m *BlockInfoManager) Free(info *BlockInfo) {
	m.inner.Free(info)
	m.metrics.RecordFree(HeapBlockInfo)
	m.logger.LogFree(HeapBlockInfo)
}

// SlotIndex returns the record's stable slot index.
func (m *BlockInfoManager) SlotIndex(info *BlockInfo) (uint32, bool) {
	return m.inner.SlotIndex(info)
}

// Slot returns the record at slot index i regardless of liveness. It panics
// when i is out of range.
func (m *BlockInfoManager) Slot(i uint32) *BlockInfo {
	return m.inner.Slot(i)
}

// Used returns the number of live records.
func (m *BlockInfoManager) Used() int { return m.inner.Used() }

// Capacity returns the fixed record capacity.
func (m *BlockInfoManager) Capacity() int { return m.inner.Capacity() }
