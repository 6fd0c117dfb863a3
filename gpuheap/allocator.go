package gpuheap

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/tlsfheap/gpuheap/internal/utils"
	"github.com/vkngwrapper/tlsfheap/memutils"
	"github.com/vkngwrapper/tlsfheap/memutils/sizeclass"
)

type deviceContext struct {
	heaps [MemoryClassCount]*Heap
}

// Allocator owns one heap per memory class for every active device and routes allocations and frees
// to them. Devices are activated and deactivated explicitly; heaps only exist while their device is active.
type Allocator struct {
	logger      *slog.Logger
	useMutex    bool
	mutex       utils.OptionalRWMutex
	createFlags CreateFlags

	backing   BackingAllocator
	query     DeviceQuery
	callbacks *MemoryCallbackOptions

	heapSizing [MemoryClassCount]HeapSizing
	devices    *swiss.Map[DeviceID, *deviceContext]
}

// AllocParams describe a request to Allocator.Alloc
type AllocParams struct {
	Device DeviceID
	Class  MemoryClass
	Size   uint64
	// Alignment must be a power of two, and 0 is treated as 1
	Alignment uint64
	// Name is an optional debug name reported in detailed maps and unreleased memory logs
	Name string
}

// ActivateDevice creates a heap for every memory class the device supports, sized by the allocator's
// HeapSizing. If any heap cannot be created, the heaps created so far are destroyed and the device
// remains inactive.
func (a *Allocator) ActivateDevice(device DeviceID) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.devices.Has(device) {
		return errors.Wrapf(memutils.ErrInvalidArgument, "device %d is already active", device)
	}

	heapFlags := HeapCreateFlags(0)
	if !a.useMutex {
		heapFlags |= HeapCreateExternallySynchronized
	}

	ctx := &deviceContext{}
	for classIndex := 0; classIndex < MemoryClassCount; classIndex++ {
		class := MemoryClass(classIndex)
		sizing := a.heapSizing[classIndex]
		if sizing.Disabled {
			continue
		}

		props, err := a.query.MemoryClassProperties(device, class)
		if err != nil {
			a.destroyHeaps(ctx)
			return errors.Wrapf(err, "could not query %s memory for device %d", class, device)
		}
		if !props.Available {
			a.logger.LogAttrs(context.Background(), slog.LevelDebug, "device has no memory for class",
				slog.Int("device", int(device)),
				slog.String("class", class.String()),
			)
			continue
		}

		size := sizing.HeapSize(props.Size)
		if size < sizeclass.MinSegmentSize {
			a.logger.LogAttrs(context.Background(), slog.LevelWarn, "device memory is too small for a heap",
				slog.Int("device", int(device)),
				slog.String("class", class.String()),
				slog.Uint64("systemSize", props.Size),
			)
			continue
		}

		heap, err := NewHeap(a.logger, a.backing, HeapCreateInfo{
			Flags:                 heapFlags,
			Device:                device,
			Class:                 class,
			Size:                  size,
			SystemSize:            props.Size,
			Name:                  heapName(device, class),
			MemoryCallbackOptions: a.callbacks,
		})
		if err != nil {
			a.destroyHeaps(ctx)
			return err
		}
		ctx.heaps[classIndex] = heap
	}

	a.devices.Put(device, ctx)
	return nil
}

func heapName(device DeviceID, class MemoryClass) string {
	return "heap/" + strconv.FormatUint(uint64(device), 10) + "/" + class.String()
}

// destroyHeaps is only used to unwind a failed activation, when the heaps cannot have allocations
func (a *Allocator) destroyHeaps(ctx *deviceContext) {
	for classIndex, heap := range ctx.heaps {
		if heap == nil {
			continue
		}
		err := heap.Destroy()
		if err != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "could not destroy heap",
				slog.String("class", MemoryClass(classIndex).String()),
				slog.Any("error", err),
			)
		}
		ctx.heaps[classIndex] = nil
	}
}

// DeactivateDevice destroys every heap of the device. It fails without destroying anything if any heap
// still has live allocations.
func (a *Allocator) DeactivateDevice(device DeviceID) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.deactivateDevice(device)
}

func (a *Allocator) deactivateDevice(device DeviceID) error {
	ctx, ok := a.devices.Get(device)
	if !ok {
		return errors.Wrapf(memutils.ErrInvalidArgument, "device %d is not active", device)
	}

	for _, heap := range ctx.heaps {
		if heap != nil && !heap.IsEmpty() {
			// Destroy logs the leftover allocations and refuses to free the backing
			return errors.Wrapf(heap.Destroy(), "could not deactivate device %d", device)
		}
	}

	var err error
	for classIndex, heap := range ctx.heaps {
		if heap == nil {
			continue
		}
		err = errors.CombineErrors(err, heap.Destroy())
		ctx.heaps[classIndex] = nil
	}

	a.devices.Delete(device)
	return err
}

// IsDeviceActive reports whether ActivateDevice has been called for the device without a matching
// DeactivateDevice
func (a *Allocator) IsDeviceActive(device DeviceID) bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.devices.Has(device)
}

// ActiveDevices returns the active devices in ascending order
func (a *Allocator) ActiveDevices() []DeviceID {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.activeDevices()
}

func (a *Allocator) activeDevices() []DeviceID {
	devices := make([]DeviceID, 0, a.devices.Count())
	a.devices.Iter(func(device DeviceID, _ *deviceContext) bool {
		devices = append(devices, device)
		return false
	})
	sort.Slice(devices, func(i, j int) bool { return devices[i] < devices[j] })
	return devices
}

// Heap returns the heap for a memory class of an active device, or false if there is none
func (a *Allocator) Heap(device DeviceID, class MemoryClass) (*Heap, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap(device, class)
	return heap, heap != nil
}

func (a *Allocator) heap(device DeviceID, class MemoryClass) *Heap {
	if !class.IsValid() {
		return nil
	}

	ctx, ok := a.devices.Get(device)
	if !ok {
		return nil
	}

	return ctx.heaps[class]
}

// Alloc reserves memory from the heap matching params.Device and params.Class
func (a *Allocator) Alloc(params AllocParams) (Allocation, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap(params.Device, params.Class)
	if heap == nil {
		return Allocation{}, errors.Wrapf(memutils.ErrInvalidArgument, "device %d has no active %s heap", params.Device, params.Class)
	}

	return heap.AllocNamed(params.Size, params.Alignment, params.Name)
}

// Free releases an allocation returned from Alloc
func (a *Allocator) Free(handle Handle) error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap(handle.Device, handle.Class)
	if heap == nil {
		return errors.Wrapf(memutils.ErrInvalidHandle, "device %d has no active %s heap", handle.Device, handle.Class)
	}

	return heap.Free(handle)
}

// Info reports the reserved, allocated and system sizes of a heap
func (a *Allocator) Info(device DeviceID, class MemoryClass) (Info, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap(device, class)
	if heap == nil {
		return Info{}, errors.Wrapf(memutils.ErrInvalidArgument, "device %d has no active %s heap", device, class)
	}

	return heap.Info(), nil
}

// CalculateStatistics sums the statistics of every heap of every active device
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.Clear()
	a.devices.Iter(func(_ DeviceID, ctx *deviceContext) bool {
		for _, heap := range ctx.heaps {
			if heap != nil {
				heap.AddDetailedStatistics(stats)
			}
		}
		return false
	})
}

// Validate checks the bookkeeping of every heap and returns the first inconsistency found
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for _, device := range a.activeDevices() {
		ctx, _ := a.devices.Get(device)
		for _, heap := range ctx.heaps {
			if heap == nil {
				continue
			}
			err := heap.Validate()
			if err != nil {
				return errors.Wrapf(err, "%s heap for device %d", heap.Class(), device)
			}
		}
	}

	return nil
}

// BuildStatsString returns a json document describing every heap of every active device. When detailed
// is true, every free and allocated region of every heap is included.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	writer := jwriter.NewWriter()
	root := writer.Object()

	var total memutils.DetailedStatistics
	total.Clear()

	devicesArray := root.Name("Devices").Array()
	for _, device := range a.activeDevices() {
		ctx, _ := a.devices.Get(device)

		deviceObj := devicesArray.Object()
		deviceObj.Name("Device").Int(int(device))

		heapsObj := deviceObj.Name("Heaps").Object()
		for _, heap := range ctx.heaps {
			if heap == nil {
				continue
			}

			heap.AddDetailedStatistics(&total)

			heap.mutex.Lock()
			heapObj := heapsObj.Name(heap.Class().String()).Object()
			heap.printJson(&heapObj, detailed)
			heapObj.End()
			heap.mutex.Unlock()
		}
		heapsObj.End()
		deviceObj.End()
	}
	devicesArray.End()

	totalObj := root.Name("Total").Object()
	totalObj.Name("Heaps").Int(total.HeapCount)
	totalObj.Name("HeapBytes").Int(int(total.HeapBytes))
	totalObj.Name("Allocations").Int(total.AllocationCount)
	totalObj.Name("AllocationBytes").Int(int(total.AllocationBytes))
	totalObj.Name("FreeSegments").Int(total.FreeSegmentCount)
	totalObj.End()

	root.End()
	return string(writer.Bytes())
}

// Destroy deactivates every active device. It fails if any heap still has live allocations, in which
// case the devices that could not be deactivated remain active.
func (a *Allocator) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var err error
	for _, device := range a.activeDevices() {
		err = errors.CombineErrors(err, a.deactivateDevice(device))
	}
	return err
}
