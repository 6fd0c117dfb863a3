package metadata

// SegmentHandle identifies one allocation within a TLSFHeapMetadata. It carries no ownership:
// copies are interchangeable and any of them may be passed to Free exactly once.
type SegmentHandle struct {
	// Index is the slot of the allocated segment in the heap's segment pool
	Index uint32
	// Generation is the slot's generation at the time of allocation. A handle whose
	// generation no longer matches its slot is stale.
	Generation uint32
	// Size is the full size of the segment backing the allocation
	Size uint64
}

// Suballocation is the result of a successful TLSFHeapMetadata.Alloc
type Suballocation struct {
	Handle SegmentHandle
	// Offset is the aligned start of the usable range, relative to the start of the heap
	Offset uint64
	// Size is the number of usable bytes from Offset to the end of the segment, which is never
	// smaller than the requested size
	Size uint64
}
