package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
)

func TestFindMemoryTypeIndex_Discrete(t *testing.T) {
	props := &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 2},
		},
	}

	require.Equal(t, 0, findMemoryTypeIndex(props, gpuheap.MemoryClassGPUOnly))
	require.Equal(t, 3, findMemoryTypeIndex(props, gpuheap.MemoryClassGPUMapped))
	require.Equal(t, 1, findMemoryTypeIndex(props, gpuheap.MemoryClassUpload))
	require.Equal(t, 2, findMemoryTypeIndex(props, gpuheap.MemoryClassReadback))
}

func TestFindMemoryTypeIndex_Integrated(t *testing.T) {
	props := &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyLazilyAllocated, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 0},
		},
	}

	// Host visibility is only a preference violation for gpu_only
	require.Equal(t, 1, findMemoryTypeIndex(props, gpuheap.MemoryClassGPUOnly))
	require.Equal(t, 1, findMemoryTypeIndex(props, gpuheap.MemoryClassGPUMapped))
	require.Equal(t, 1, findMemoryTypeIndex(props, gpuheap.MemoryClassUpload))
	require.Equal(t, -1, findMemoryTypeIndex(props, gpuheap.MemoryClassReadback))
}

func TestFindMemoryTypeIndex_PrefersFewestViolations(t *testing.T) {
	props := &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached | core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
		},
	}

	require.Equal(t, 1, findMemoryTypeIndex(props, gpuheap.MemoryClassUpload))
	require.Equal(t, 1, findMemoryTypeIndex(props, gpuheap.MemoryClassReadback))
	require.Equal(t, 0, findMemoryTypeIndex(props, gpuheap.MemoryClassGPUOnly))
}

func TestMemoryFlags(t *testing.T) {
	require.Equal(t, gpuheap.MemoryFlags(0), memoryFlags(0))
	require.Equal(t, gpuheap.MemoryDeviceLocal|gpuheap.MemoryMapped|gpuheap.MemoryCoherent,
		memoryFlags(core1_0.MemoryPropertyDeviceLocal|core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent))
	require.Equal(t, gpuheap.MemoryMapped|gpuheap.MemoryCached,
		memoryFlags(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCached))
}
