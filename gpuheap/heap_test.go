package gpuheap_test

import (
	"io"
	"log/slog"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
	"github.com/vkngwrapper/tlsfheap/gpuheap/mocks"
	"github.com/vkngwrapper/tlsfheap/memutils"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func mappedBacking(id uint64, size uint64) (gpuheap.Backing, []byte) {
	buffer := make([]byte, size)
	return gpuheap.Backing{
		ID:     id,
		Memory: buffer,
		Size:   size,
		Mapped: unsafe.Pointer(&buffer[0]),
		Flags:  gpuheap.MemoryMapped | gpuheap.MemoryCoherent,
	}, buffer
}

func createUploadHeap(t *testing.T, ctrl *gomock.Controller, size uint64) (*gpuheap.Heap, *mocks.MockBackingAllocator, gpuheap.Backing) {
	backingAllocator := mocks.NewMockBackingAllocator(ctrl)
	backing, _ := mappedBacking(7, size)

	backingAllocator.EXPECT().AllocateBacking(gpuheap.DeviceID(2), gpuheap.MemoryClassUpload, size, "upload heap").
		Return(backing, nil)

	heap, err := gpuheap.NewHeap(testLogger(), backingAllocator, gpuheap.HeapCreateInfo{
		Device:     2,
		Class:      gpuheap.MemoryClassUpload,
		Size:       size,
		SystemSize: size * 4,
		Name:       "upload heap",
	})
	require.NoError(t, err)

	return heap, backingAllocator, backing
}

func TestHeap_AllocFree(t *testing.T) {
	ctrl := gomock.NewController(t)
	heap, backingAllocator, backing := createUploadHeap(t, ctrl, 1<<20)

	alloc, err := heap.Alloc(300, 256)
	require.NoError(t, err)
	require.Equal(t, uint64(0), alloc.Offset%256)
	require.GreaterOrEqual(t, alloc.Size, uint64(300))
	require.Equal(t, gpuheap.DeviceID(2), alloc.Device())
	require.Equal(t, gpuheap.MemoryClassUpload, alloc.Class())
	require.Equal(t, backing.ID, alloc.BackingID)
	require.Equal(t, unsafe.Add(backing.Mapped, alloc.Offset), alloc.Mapped)
	require.Equal(t, backing.Flags, alloc.Flags)

	info := heap.Info()
	require.Equal(t, uint64(1<<20), info.ReservedSize)
	require.Equal(t, uint64(4<<20), info.SystemSize)
	require.Greater(t, info.AllocatedSize, uint64(0))
	require.False(t, heap.IsEmpty())
	require.NoError(t, heap.Validate())

	var stats memutils.Statistics
	heap.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		HeapCount:       1,
		AllocationCount: 1,
		HeapBytes:       1 << 20,
		AllocationBytes: info.AllocatedSize,
	}, stats)

	require.NoError(t, heap.Free(alloc.Handle))
	require.Equal(t, uint64(0), heap.Info().AllocatedSize)
	require.True(t, heap.IsEmpty())

	backingAllocator.EXPECT().FreeBacking(gpuheap.DeviceID(2), backing).Return(nil)
	require.NoError(t, heap.Destroy())
	require.Equal(t, uint64(0), heap.Info().ReservedSize)
}

func TestHeap_WholeHeap(t *testing.T) {
	ctrl := gomock.NewController(t)
	heap, backingAllocator, backing := createUploadHeap(t, ctrl, 1<<20)

	alloc, err := heap.Alloc(1<<20, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), alloc.Offset)
	require.Equal(t, uint64(1<<20), alloc.Size)

	_, err = heap.Alloc(1, 1)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	require.NoError(t, heap.Free(alloc.Handle))

	backingAllocator.EXPECT().FreeBacking(gpuheap.DeviceID(2), backing).Return(nil)
	require.NoError(t, heap.Destroy())
}

func TestHeap_DestroyWithLiveAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)
	heap, backingAllocator, backing := createUploadHeap(t, ctrl, 1<<20)

	alloc, err := heap.AllocNamed(4096, 16, "vertex buffer")
	require.NoError(t, err)

	// No FreeBacking call may happen while the allocation is live
	err = heap.Destroy()
	require.Error(t, err)
	require.False(t, heap.IsEmpty())
	require.Equal(t, uint64(1<<20), heap.Info().ReservedSize)

	require.NoError(t, heap.Free(alloc.Handle))

	backingAllocator.EXPECT().FreeBacking(gpuheap.DeviceID(2), backing).Return(nil)
	require.NoError(t, heap.Destroy())

	_, err = heap.Alloc(16, 1)
	require.True(t, errors.Is(err, memutils.ErrInvalidArgument))
	require.Error(t, heap.Destroy())
}

func TestHeap_ForeignHandle(t *testing.T) {
	ctrl := gomock.NewController(t)
	heap, backingAllocator, backing := createUploadHeap(t, ctrl, 1<<20)

	alloc, err := heap.Alloc(4096, 16)
	require.NoError(t, err)

	foreign := alloc.Handle
	foreign.Class = gpuheap.MemoryClassReadback
	require.True(t, errors.Is(heap.Free(foreign), memutils.ErrInvalidHandle))

	foreign = alloc.Handle
	foreign.Device = 3
	require.True(t, errors.Is(heap.Free(foreign), memutils.ErrInvalidHandle))

	require.NoError(t, heap.Free(alloc.Handle))
	require.True(t, errors.Is(heap.Free(alloc.Handle), memutils.ErrDoubleFree))

	backingAllocator.EXPECT().FreeBacking(gpuheap.DeviceID(2), backing).Return(nil)
	require.NoError(t, heap.Destroy())
}

func TestHeap_InvalidSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	backingAllocator := mocks.NewMockBackingAllocator(ctrl)

	_, err := gpuheap.NewHeap(testLogger(), backingAllocator, gpuheap.HeapCreateInfo{
		Class: gpuheap.MemoryClassGPUOnly,
		Size:  512,
	})
	require.Error(t, err)

	_, err = gpuheap.NewHeap(testLogger(), backingAllocator, gpuheap.HeapCreateInfo{
		Class: gpuheap.MemoryClass(9),
		Size:  1 << 20,
	})
	require.True(t, errors.Is(err, memutils.ErrInvalidArgument))
}

func TestHeap_ShortBacking(t *testing.T) {
	ctrl := gomock.NewController(t)
	backingAllocator := mocks.NewMockBackingAllocator(ctrl)
	backing, _ := mappedBacking(3, 4096)

	backingAllocator.EXPECT().AllocateBacking(gpuheap.DeviceID(0), gpuheap.MemoryClassGPUOnly, uint64(8192), "").
		Return(backing, nil)
	backingAllocator.EXPECT().FreeBacking(gpuheap.DeviceID(0), backing).Return(nil)

	_, err := gpuheap.NewHeap(testLogger(), backingAllocator, gpuheap.HeapCreateInfo{
		Class: gpuheap.MemoryClassGPUOnly,
		Size:  8192,
	})
	require.Error(t, err)
}

func TestHeap_BackingFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	backingAllocator := mocks.NewMockBackingAllocator(ctrl)

	backingAllocator.EXPECT().AllocateBacking(gpuheap.DeviceID(0), gpuheap.MemoryClassGPUOnly, uint64(8192), "").
		Return(gpuheap.Backing{}, errors.New("out of device memory"))

	_, err := gpuheap.NewHeap(testLogger(), backingAllocator, gpuheap.HeapCreateInfo{
		Class: gpuheap.MemoryClassGPUOnly,
		Size:  8192,
	})
	require.ErrorContains(t, err, "out of device memory")
}

func TestHeap_Callbacks(t *testing.T) {
	ctrl := gomock.NewController(t)
	backingAllocator := mocks.NewMockBackingAllocator(ctrl)
	backing, _ := mappedBacking(11, 1<<16)

	var allocated, freed []uint64
	callbacks := &gpuheap.MemoryCallbackOptions{
		Allocate: func(device gpuheap.DeviceID, class gpuheap.MemoryClass, backing gpuheap.Backing, userData interface{}) {
			require.Equal(t, "user data", userData)
			require.Equal(t, gpuheap.MemoryClassReadback, class)
			allocated = append(allocated, backing.ID)
		},
		Free: func(device gpuheap.DeviceID, class gpuheap.MemoryClass, backing gpuheap.Backing, userData interface{}) {
			require.Equal(t, "user data", userData)
			freed = append(freed, backing.ID)
		},
		UserData: "user data",
	}

	backingAllocator.EXPECT().AllocateBacking(gpuheap.DeviceID(1), gpuheap.MemoryClassReadback, uint64(1<<16), "").
		Return(backing, nil)

	heap, err := gpuheap.NewHeap(testLogger(), backingAllocator, gpuheap.HeapCreateInfo{
		Device:                1,
		Class:                 gpuheap.MemoryClassReadback,
		Size:                  1 << 16,
		MemoryCallbackOptions: callbacks,
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{11}, allocated)
	require.Empty(t, freed)

	backingAllocator.EXPECT().FreeBacking(gpuheap.DeviceID(1), backing).Return(nil)
	require.NoError(t, heap.Destroy())
	require.Equal(t, []uint64{11}, freed)
}

func TestHeap_VisitAllRegions(t *testing.T) {
	ctrl := gomock.NewController(t)
	heap, backingAllocator, backing := createUploadHeap(t, ctrl, 1<<16)

	first, err := heap.AllocNamed(1024, 1, "first")
	require.NoError(t, err)
	second, err := heap.AllocNamed(2048, 1, "second")
	require.NoError(t, err)

	type region struct {
		offset, size uint64
		free         bool
		name         string
	}
	var regions []region
	err = heap.VisitAllRegions(func(offset uint64, size uint64, free bool, name string) error {
		regions = append(regions, region{offset, size, free, name})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []region{
		{0, 1024, false, "first"},
		{1024, 2048, false, "second"},
		{3072, (1 << 16) - 3072, true, ""},
	}, regions)

	stopErr := errors.New("stop")
	err = heap.VisitAllRegions(func(offset uint64, size uint64, free bool, name string) error {
		return stopErr
	})
	require.ErrorIs(t, err, stopErr)

	require.NoError(t, heap.Free(first.Handle))
	require.NoError(t, heap.Free(second.Handle))

	backingAllocator.EXPECT().FreeBacking(gpuheap.DeviceID(2), backing).Return(nil)
	require.NoError(t, heap.Destroy())
}
