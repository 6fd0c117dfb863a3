package gpuheap

import (
	"unsafe"

	"github.com/vkngwrapper/tlsfheap/memutils/metadata"
)

// Handle identifies a live allocation for Free. Handles are plain values: copying one does not
// duplicate the allocation, and only one copy may be freed.
type Handle struct {
	Device  DeviceID
	Class   MemoryClass
	Segment metadata.SegmentHandle
}

// Allocation describes a range of a heap's backing memory handed out by Alloc
type Allocation struct {
	Handle Handle

	// Offset is the start of the range within the backing allocation. It is a multiple of the
	// requested alignment.
	Offset uint64
	// Size is the number of usable bytes starting at Offset, which is at least the requested size
	Size uint64

	// BackingID is Backing.ID of the heap's backing allocation
	BackingID uint64
	// Memory is Backing.Memory of the heap's backing allocation, so that resources can be bound
	// to it at Offset
	Memory any
	// Mapped is the host address of Offset, or nil if the heap is not mapped
	Mapped unsafe.Pointer
	// Flags are the properties of the heap's memory
	Flags MemoryFlags
}

// Device is the device of the heap the allocation was made from
func (a Allocation) Device() DeviceID { return a.Handle.Device }

// Class is the memory class of the heap the allocation was made from
func (a Allocation) Class() MemoryClass { return a.Handle.Class }

// Info reports the occupancy of a heap
type Info struct {
	// ReservedSize is the size of the heap's backing allocation
	ReservedSize uint64
	// AllocatedSize is the number of bytes held by live allocations, including alignment padding
	// and size class rounding
	AllocatedSize uint64
	// SystemSize is the size of the device memory heap the heap's backing was allocated from
	SystemSize uint64
}
