package gpuheap

//go:generate mockgen -source backing.go -destination ./mocks/backing.go -package mocks

import "unsafe"

// DeviceID identifies a device that heaps are created for. Its meaning is up to the BackingAllocator
// and DeviceQuery implementations.
type DeviceID uint32

// Backing is one raw memory allocation obtained from a BackingAllocator. Each heap owns exactly one.
type Backing struct {
	// ID is an identifier for the backing allocation that is unique among the live backings of
	// its allocator
	ID uint64
	// Memory is the driver object for the allocation, such as a core1_0.DeviceMemory
	Memory any
	// Size is the size of the allocation in bytes
	Size uint64
	// Mapped is the host address of the first byte of the allocation, or nil if it is not mapped
	Mapped unsafe.Pointer
	// Flags are the properties of the allocated memory
	Flags MemoryFlags
}

// BackingAllocator performs the single raw memory allocation behind each heap. It is called once
// when a heap is created and once when it is destroyed, never for individual heap allocations.
type BackingAllocator interface {
	// AllocateBacking allocates size bytes of memory of the requested class for the device. Memory
	// of host-visible classes must be returned mapped. name is a debug name for the allocation.
	AllocateBacking(device DeviceID, class MemoryClass, size uint64, name string) (Backing, error)
	// FreeBacking releases a backing previously returned from AllocateBacking, unmapping it first
	// if necessary
	FreeBacking(device DeviceID, backing Backing) error
}

// MemoryClassProperties describe what a device offers for one memory class
type MemoryClassProperties struct {
	// Available is false when the device has no memory suitable for the class
	Available bool
	// Size is the size of the device memory heap that serves the class
	Size uint64
	// Flags are the properties of the memory that would serve the class
	Flags MemoryFlags
}

// DeviceQuery reports the memory a device offers for each memory class
type DeviceQuery interface {
	MemoryClassProperties(device DeviceID, class MemoryClass) (MemoryClassProperties, error)
}
