package gpuheap

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/common"
)

// MemoryClass identifies the intended use of memory. Each active device has at most one heap per
// memory class.
type MemoryClass int32

const (
	// MemoryClassGPUOnly is device-local memory that the host never touches
	MemoryClassGPUOnly MemoryClass = iota
	// MemoryClassGPUMapped is device-local memory that is also mapped into the host address space
	MemoryClassGPUMapped
	// MemoryClassUpload is host-visible, host-coherent memory the host writes and the device reads
	MemoryClassUpload
	// MemoryClassReadback is host-visible, host-cached memory the device writes and the host reads
	MemoryClassReadback

	// MemoryClassCount is the number of memory classes
	MemoryClassCount int = iota
)

var memoryClassNames = map[MemoryClass]string{
	MemoryClassGPUOnly:   "gpu_only",
	MemoryClassGPUMapped: "gpu_mapped",
	MemoryClassUpload:    "upload",
	MemoryClassReadback:  "readback",
}

func (c MemoryClass) String() string {
	name, ok := memoryClassNames[c]
	if !ok {
		return fmt.Sprintf("MemoryClass(%d)", int32(c))
	}
	return name
}

// IsValid reports whether c names one of the memory classes
func (c MemoryClass) IsValid() bool {
	return c >= 0 && int(c) < MemoryClassCount
}

// ParseMemoryClass converts the names returned by MemoryClass.String back into memory classes
func ParseMemoryClass(name string) (MemoryClass, bool) {
	for class, className := range memoryClassNames {
		if className == name {
			return class, true
		}
	}
	return 0, false
}

// MemoryFlags describe the properties of the memory backing a heap
type MemoryFlags int32

var memoryFlagsMapping = common.NewFlagStringMapping[MemoryFlags]()

func (f MemoryFlags) Register(str string) {
	memoryFlagsMapping.Register(f, str)
}
func (f MemoryFlags) String() string {
	return memoryFlagsMapping.FlagsToString(f)
}

const (
	// MemoryDeviceLocal indicates the memory is local to the device
	MemoryDeviceLocal MemoryFlags = 1 << iota
	// MemoryMapped indicates the memory is host-visible and mapped for the lifetime of its heap.
	// Allocations from such a heap carry a host pointer.
	MemoryMapped
	// MemoryCached indicates host reads of the memory are cached
	MemoryCached
	// MemoryCoherent indicates host writes become visible to the device without explicit flushes
	MemoryCoherent
)

func init() {
	MemoryDeviceLocal.Register("MemoryDeviceLocal")
	MemoryMapped.Register("MemoryMapped")
	MemoryCached.Register("MemoryCached")
	MemoryCoherent.Register("MemoryCoherent")
}
