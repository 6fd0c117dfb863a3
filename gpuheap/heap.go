package gpuheap

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/tlsfheap/gpuheap/internal/utils"
	"github.com/vkngwrapper/tlsfheap/memutils"
	"github.com/vkngwrapper/tlsfheap/memutils/metadata"
	"github.com/vkngwrapper/tlsfheap/memutils/sizeclass"
)

// HeapCreateFlags indicate specific heap behaviors to activate or deactivate
type HeapCreateFlags int32

const (
	// HeapCreateExternallySynchronized disables the heap's mutex. The consumer must guarantee
	// the heap is used from only one goroutine at a time.
	HeapCreateExternallySynchronized HeapCreateFlags = 1 << iota
)

// HeapCreateInfo contains the parameters of NewHeap
type HeapCreateInfo struct {
	Flags  HeapCreateFlags
	Device DeviceID
	Class  MemoryClass
	// Size is the size of the heap's backing allocation in bytes. It must be between
	// sizeclass.MinSegmentSize and sizeclass.MaxSegmentSize.
	Size uint64
	// SystemSize is the size of the device memory heap the backing is allocated from. It is only
	// reported back through Info.
	SystemSize uint64
	// Name is a debug name passed to the BackingAllocator
	Name string

	MemoryCallbackOptions *MemoryCallbackOptions
}

// Heap sub-allocates a single backing allocation. All methods are safe for concurrent use unless
// the heap was created with HeapCreateExternallySynchronized.
type Heap struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	device     DeviceID
	class      MemoryClass
	systemSize uint64

	backingAllocator BackingAllocator
	backing          Backing
	callbacks        *MemoryCallbackOptions

	metadata metadata.HeapMetadata
}

// NewHeap allocates a backing of info.Size bytes and prepares it for sub-allocation
func NewHeap(logger *slog.Logger, backingAllocator BackingAllocator, info HeapCreateInfo) (*Heap, error) {
	if !info.Class.IsValid() {
		return nil, errors.Wrapf(memutils.ErrInvalidArgument, "unknown memory class %d", int32(info.Class))
	}

	heap := &Heap{
		logger: logger,
		mutex: utils.OptionalMutex{
			UseMutex: info.Flags&HeapCreateExternallySynchronized == 0,
		},
		device:           info.Device,
		class:            info.Class,
		systemSize:       info.SystemSize,
		backingAllocator: backingAllocator,
		callbacks:        info.MemoryCallbackOptions,
		metadata:         metadata.NewTLSFHeapMetadata(),
	}

	// Validate the size before spending a backing allocation on it
	err := heap.metadata.Init(info.Size)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create %s heap for device %d", info.Class, info.Device)
	}

	backing, err := backingAllocator.AllocateBacking(info.Device, info.Class, info.Size, info.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "could not allocate %d bytes of %s memory for device %d", info.Size, info.Class, info.Device)
	}
	if backing.Size < info.Size {
		_ = backingAllocator.FreeBacking(info.Device, backing)
		return nil, errors.Newf("backing allocator returned %d bytes when %d were requested", backing.Size, info.Size)
	}
	heap.backing = backing
	heap.callbacks.allocate(info.Device, info.Class, backing)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "created heap",
		slog.Int("device", int(info.Device)),
		slog.String("class", info.Class.String()),
		slog.Uint64("size", info.Size),
		slog.Uint64("backing", backing.ID),
		slog.String("flags", backing.Flags.String()),
	)

	return heap, nil
}

// Destroy releases the heap's backing allocation. It fails without releasing anything if any
// allocations are still live, logging each of them.
func (h *Heap) Destroy() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata == nil {
		return errors.New("heap has already been destroyed")
	}

	if !h.metadata.IsEmpty() {
		h.metadata.DebugLogAllAllocations(h.logger, h.logUnreleasedMemory)
		return errors.Newf("%d allocations were not freed before the destruction of the %s heap for device %d",
			h.metadata.AllocationCount(), h.class, h.device)
	}

	h.callbacks.free(h.device, h.class, h.backing)
	err := h.backingAllocator.FreeBacking(h.device, h.backing)
	if err != nil {
		return errors.Wrapf(err, "could not free the backing of the %s heap for device %d", h.class, h.device)
	}

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "destroyed heap",
		slog.Int("device", int(h.device)),
		slog.String("class", h.class.String()),
		slog.Uint64("backing", h.backing.ID),
	)

	h.backing = Backing{}
	h.metadata = nil
	return nil
}

func (h *Heap) logUnreleasedMemory(logger *slog.Logger, offset, size uint64, userData any) {
	name, _ := userData.(string)
	if name == "" {
		name = "empty"
	}

	logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("device", int(h.device)),
		slog.String("class", h.class.String()),
		slog.Uint64("offset", offset),
		slog.Uint64("size", size),
		slog.String("name", name),
	)
}

// Alloc reserves at least size bytes whose offset is a multiple of alignment. alignment must be
// a power of two, and 0 is treated as 1.
func (h *Heap) Alloc(size uint64, alignment uint64) (Allocation, error) {
	return h.AllocNamed(size, alignment, "")
}

// AllocNamed is Alloc with a debug name that is reported for the allocation in detailed maps and
// unreleased memory logs
func (h *Heap) AllocNamed(size uint64, alignment uint64, name string) (Allocation, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata == nil {
		return Allocation{}, errors.Wrap(memutils.ErrInvalidArgument, "heap has been destroyed")
	}

	var userData any
	if name != "" {
		userData = name
	}

	suballoc, err := h.metadata.Alloc(size, alignment, userData)
	if err != nil {
		return Allocation{}, errors.Wrapf(err, "%s heap for device %d", h.class, h.device)
	}

	allocation := Allocation{
		Handle: Handle{
			Device:  h.device,
			Class:   h.class,
			Segment: suballoc.Handle,
		},
		Offset:    suballoc.Offset,
		Size:      suballoc.Size,
		BackingID: h.backing.ID,
		Memory:    h.backing.Memory,
		Flags:     h.backing.Flags,
	}
	if h.backing.Mapped != nil {
		allocation.Mapped = unsafe.Add(h.backing.Mapped, suballoc.Offset)
	}

	return allocation, nil
}

// Free releases an allocation made from this heap
func (h *Heap) Free(handle Handle) error {
	if handle.Device != h.device || handle.Class != h.class {
		return errors.Wrapf(memutils.ErrInvalidHandle, "handle for the %s heap of device %d was passed to the %s heap of device %d",
			handle.Class, handle.Device, h.class, h.device)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata == nil {
		return errors.Wrap(memutils.ErrInvalidHandle, "heap has been destroyed")
	}

	err := h.metadata.Free(handle.Segment)
	if err != nil {
		return errors.Wrapf(err, "%s heap for device %d", h.class, h.device)
	}

	return nil
}

// Info reports the heap's reserved, allocated and system sizes
func (h *Heap) Info() Info {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	info := Info{
		SystemSize: h.systemSize,
	}
	if h.metadata != nil {
		info.ReservedSize = h.metadata.Size()
		info.AllocatedSize = h.metadata.AllocatedSize()
	}
	return info
}

func (h *Heap) Device() DeviceID { return h.device }

func (h *Heap) Class() MemoryClass { return h.class }

// Backing returns the heap's backing allocation
func (h *Heap) Backing() Backing { return h.backing }

// IsEmpty reports whether the heap has no live allocations
func (h *Heap) IsEmpty() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.metadata == nil || h.metadata.IsEmpty()
}

// Validate checks the heap's internal bookkeeping and returns an error describing the first
// inconsistency found
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata == nil {
		return errors.New("heap has been destroyed")
	}
	if h.backing.Size < h.metadata.Size() {
		return errors.Newf("heap metadata tracks %d bytes but the backing is only %d bytes", h.metadata.Size(), h.backing.Size)
	}
	if h.metadata.Size() < sizeclass.MinSegmentSize {
		return errors.New("this heap's metadata has an invalid size")
	}

	return h.metadata.Validate()
}

func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata != nil {
		h.metadata.AddStatistics(stats)
	}
}

func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata != nil {
		h.metadata.AddDetailedStatistics(stats)
	}
}

// VisitAllRegions calls handleRegion for every free and allocated region of the heap in address order.
// The heap is locked for the duration of the call.
func (h *Heap) VisitAllRegions(handleRegion func(offset uint64, size uint64, free bool, name string) error) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.metadata == nil {
		return nil
	}

	return h.metadata.VisitAllRegions(func(offset uint64, size uint64, free bool, userData any) error {
		name, _ := userData.(string)
		return handleRegion(offset, size, free, name)
	})
}

func (h *Heap) printJson(json *jwriter.ObjectState, detailed bool) {
	json.Name("Device").Int(int(h.device))
	json.Name("Class").String(h.class.String())
	json.Name("Flags").String(h.backing.Flags.String())
	json.Name("SystemBytes").Int(int(h.systemSize))

	if h.metadata == nil {
		return
	}

	h.metadata.HeapJsonData(json)
	if detailed {
		h.metadata.PrintDetailedMap(json)
	}
}

// PrintDetailedMap writes a json object describing the heap and every one of its regions
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	h.printJson(&obj, true)
}
