package kmemgo

// HeapPolicy splits the secure region's pages between the three metadata
// heaps by relative weight. The zero value is invalid; start from
// DefaultHeapPolicy when customizing.
type HeapPolicy struct {
	// PageTableWeight is the relative share of the page-table heap.
	PageTableWeight int

	// MemoryBlockWeight is the relative share of the memory-block heap.
	MemoryBlockWeight int

	// BlockInfoWeight is the relative share of the block-info heap.
	BlockInfoWeight int
}

// DefaultHeapPolicy gives half of the pages to the page-table heap, 30% to
// the memory-block heap and 20% to the block-info heap.
var DefaultHeapPolicy = HeapPolicy{
	PageTableWeight:   10,
	MemoryBlockWeight: 6,
	BlockInfoWeight:   4,
}

// HeapSplit is the page budget HeapPolicy.Split assigns to each heap.
type HeapSplit struct {
	PageTablePages   uint64
	MemoryBlockPages uint64
	BlockInfoPages   uint64
}

// Validate checks that all weights are non-negative and at least one is
// positive.
func (p HeapPolicy) Validate() error {
	if p.PageTableWeight < 0 || p.MemoryBlockWeight < 0 || p.BlockInfoWeight < 0 {
		return &InvalidPolicyError{Policy: p, Reason: "negative weight"}
	}

	if p.PageTableWeight+p.MemoryBlockWeight+p.BlockInfoWeight == 0 {
		return &InvalidPolicyError{Policy: p, Reason: "zero weight sum"}
	}

	return nil
}

// Split partitions totalPages by weight. Rounding remainders go to the
// page-table heap, so the three budgets always sum to totalPages. Split is
// pure; calling it with an invalid policy panics.
func (p HeapPolicy) Split(totalPages uint64) HeapSplit {
	if err := p.Validate(); err != nil {
		panic(err.Error())
	}

	sum := uint64(p.PageTableWeight + p.MemoryBlockWeight + p.BlockInfoWeight)

	mb := totalPages * uint64(p.MemoryBlockWeight) / sum
	bi := totalPages * uint64(p.BlockInfoWeight) / sum

	return HeapSplit{
		PageTablePages:   totalPages - mb - bi,
		MemoryBlockPages: mb,
		BlockInfoPages:   bi,
	}
}
