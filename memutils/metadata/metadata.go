package metadata

import (
	"log/slog"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/tlsfheap/memutils"
)

// HeapMetadata represents the bookkeeping of a single heap: which ranges of the heap's backing memory
// are handed out and which are free. It does not touch the backing memory itself.
type HeapMetadata interface {
	memutils.Validatable

	// Init prepares the metadata for a heap of size bytes with no allocations. It returns an error if
	// the size cannot be tracked.
	Init(size uint64) error
	// Size returns the number of bytes in the heap
	Size() uint64
	// AllocatedSize returns the number of bytes held by live allocations, including any bytes lost to
	// alignment and size class rounding
	AllocatedSize() uint64
	// SumFreeSize returns the number of bytes not held by live allocations
	SumFreeSize() uint64
	// AllocationCount returns the number of live allocations
	AllocationCount() int
	// IsEmpty returns true if there are no live allocations
	IsEmpty() bool

	// Alloc reserves a range of at least size bytes whose offset is a multiple of alignment. userData is
	// retained until the allocation is freed and is reported by VisitAllRegions.
	//
	// The implementation must return an error wrapping memutils.ErrOutOfMemory when no free range is
	// large enough, and must leave the metadata unchanged whenever it returns an error.
	Alloc(size uint64, alignment uint64, userData any) (Suballocation, error)
	// Free releases an allocation previously returned from Alloc.
	//
	// The implementation must return an error wrapping memutils.ErrDoubleFree or memutils.ErrInvalidHandle
	// if the handle does not map to a live allocation, and must leave the metadata unchanged in that case.
	Free(handle SegmentHandle) error
	// Clear instantly frees all allocations
	Clear()

	// VisitAllRegions calls the provided callback once for each free or allocated region, in address order
	VisitAllRegions(handleRegion func(offset uint64, size uint64, free bool, userData any) error) error
	// DebugLogAllAllocations calls logFunc once for each live allocation
	DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset uint64, size uint64, userData any))

	// AddDetailedStatistics sums this heap's allocation statistics into the statistics currently present
	// in the provided memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this heap's allocation statistics into the statistics currently present in the
	// provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)

	// HeapJsonData populates a json object with summary information about this heap
	HeapJsonData(json *jwriter.ObjectState)
	// PrintDetailedMap populates a json object with every region of this heap
	PrintDetailedMap(json *jwriter.ObjectState)
}

var _ HeapMetadata = &TLSFHeapMetadata{}
