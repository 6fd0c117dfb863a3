package vulkan

import (
	"math"
	"math/bits"

	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
)

type memoryPreferences struct {
	required     core1_0.MemoryPropertyFlags
	preferred    core1_0.MemoryPropertyFlags
	notPreferred core1_0.MemoryPropertyFlags
}

var classPreferences = [gpuheap.MemoryClassCount]memoryPreferences{
	gpuheap.MemoryClassGPUOnly: {
		required:     core1_0.MemoryPropertyDeviceLocal,
		notPreferred: core1_0.MemoryPropertyHostVisible,
	},
	gpuheap.MemoryClassGPUMapped: {
		required:  core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible,
		preferred: core1_0.MemoryPropertyHostCoherent,
	},
	gpuheap.MemoryClassUpload: {
		required:     core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
		notPreferred: core1_0.MemoryPropertyHostCached | core1_0.MemoryPropertyDeviceLocal,
	},
	gpuheap.MemoryClassReadback: {
		required:     core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCached,
		preferred:    core1_0.MemoryPropertyHostCoherent,
		notPreferred: core1_0.MemoryPropertyDeviceLocal,
	},
}

// findMemoryTypeIndex returns the memory type that has all of the class's required flags and the
// fewest preference violations, or -1 if no memory type qualifies
func findMemoryTypeIndex(memoryProperties *core1_0.PhysicalDeviceMemoryProperties, class gpuheap.MemoryClass) int {
	prefs := classPreferences[class]

	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex, memType := range memoryProperties.MemoryTypes {
		flags := memType.PropertyFlags
		if prefs.required&flags != prefs.required {
			continue
		}

		// Lazily allocated memory can't be bound to anything but transient attachments
		if flags&core1_0.MemoryPropertyLazilyAllocated != 0 {
			continue
		}

		missingPreferredFlags := prefs.preferred & ^flags
		presentNotPreferredFlags := prefs.notPreferred & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	return bestMemoryTypeIndex
}

func memoryFlags(flags core1_0.MemoryPropertyFlags) gpuheap.MemoryFlags {
	var result gpuheap.MemoryFlags
	if flags&core1_0.MemoryPropertyDeviceLocal != 0 {
		result |= gpuheap.MemoryDeviceLocal
	}
	if flags&core1_0.MemoryPropertyHostVisible != 0 {
		result |= gpuheap.MemoryMapped
	}
	if flags&core1_0.MemoryPropertyHostCached != 0 {
		result |= gpuheap.MemoryCached
	}
	if flags&core1_0.MemoryPropertyHostCoherent != 0 {
		result |= gpuheap.MemoryCoherent
	}
	return result
}
