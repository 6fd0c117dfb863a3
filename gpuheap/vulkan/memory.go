// Package vulkan backs heaps with VkDeviceMemory. Each backing is a single vkAllocateMemory call made
// from the memory type that best matches the heap's memory class, and host-visible backings stay
// mapped until they are freed.
package vulkan

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
	"github.com/vkngwrapper/tlsfheap/gpuheap/internal/utils"
)

// defaultPriority is the memory priority of backings when DeviceOptions leaves it blank
const defaultPriority float32 = 0.5

// DeviceOptions register a Vulkan device with Memory
type DeviceOptions struct {
	Device         core1_0.Device
	PhysicalDevice core1_0.PhysicalDevice
	// AllocationCallbacks is an optional set of host allocation callbacks passed to vkAllocateMemory
	// and vkFreeMemory
	AllocationCallbacks *driver.AllocationCallbacks
	// Priorities is the ext_memory_priority priority of each memory class's backing, between 0 and 1.
	// 0 selects the default of 0.5. It is ignored when the extension is not active.
	Priorities [gpuheap.MemoryClassCount]float32
}

type deviceData struct {
	options          DeviceOptions
	extensions       extensionData
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties
	// memoryTypes is the memory type index used for each memory class, or -1
	memoryTypes [gpuheap.MemoryClassCount]int
	liveCount   int
}

type deviceBacking struct {
	device          gpuheap.DeviceID
	memoryTypeIndex int
	memory          core1_0.DeviceMemory
	mapped          bool
}

// Memory implements gpuheap.BackingAllocator and gpuheap.DeviceQuery for Vulkan devices. Devices must
// be registered before the allocator activates them.
type Memory struct {
	logger *slog.Logger
	mutex  utils.OptionalRWMutex

	devices  *swiss.Map[gpuheap.DeviceID, *deviceData]
	backings *swiss.Map[uint64, *deviceBacking]
	nextID   uint64
}

var _ gpuheap.BackingAllocator = &Memory{}
var _ gpuheap.DeviceQuery = &Memory{}

// NewMemory creates a Memory with no registered devices. If externallySynchronized is true, the
// consumer must guarantee Memory is used from only one goroutine at a time.
func NewMemory(logger *slog.Logger, externallySynchronized bool) *Memory {
	return &Memory{
		logger: logger,
		mutex: utils.OptionalRWMutex{
			UseMutex: !externallySynchronized,
		},
		devices:  swiss.NewMap[gpuheap.DeviceID, *deviceData](4),
		backings: swiss.NewMap[uint64, *deviceBacking](16),
	}
}

// RegisterDevice associates a Vulkan device with a DeviceID and selects the memory type each memory
// class will be allocated from
func (m *Memory) RegisterDevice(id gpuheap.DeviceID, options DeviceOptions) error {
	if options.Device == nil || options.PhysicalDevice == nil {
		return errors.New("DeviceOptions.Device and DeviceOptions.PhysicalDevice are required")
	}
	for class, priority := range options.Priorities {
		if priority < 0 || priority > 1 {
			return errors.Newf("memory priority for %s must be between 0 and 1, but was %f", gpuheap.MemoryClass(class), priority)
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.devices.Has(id) {
		return errors.Newf("device %d is already registered", id)
	}

	data := &deviceData{
		options:          options,
		extensions:       newExtensionData(options.Device),
		memoryProperties: options.PhysicalDevice.MemoryProperties(),
	}

	for class := 0; class < gpuheap.MemoryClassCount; class++ {
		data.memoryTypes[class] = findMemoryTypeIndex(data.memoryProperties, gpuheap.MemoryClass(class))

		m.logger.LogAttrs(context.Background(), slog.LevelDebug, "selected memory type",
			slog.Int("device", int(id)),
			slog.String("class", gpuheap.MemoryClass(class).String()),
			slog.Int("memoryType", data.memoryTypes[class]),
		)
	}

	m.devices.Put(id, data)
	return nil
}

// UnregisterDevice forgets a device. It fails if any backing allocated for the device has not been freed.
func (m *Memory) UnregisterDevice(id gpuheap.DeviceID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.devices.Get(id)
	if !ok {
		return errors.Newf("device %d is not registered", id)
	}
	if data.liveCount > 0 {
		return errors.Newf("device %d still has %d live backings", id, data.liveCount)
	}

	m.devices.Delete(id)
	return nil
}

// MemoryTypeIndex returns the memory type a memory class of a device is allocated from, or -1 if
// the device has no suitable memory type
func (m *Memory) MemoryTypeIndex(id gpuheap.DeviceID, class gpuheap.MemoryClass) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, err := m.device(id, class)
	if err != nil {
		return -1, err
	}
	return data.memoryTypes[class], nil
}

func (m *Memory) device(id gpuheap.DeviceID, class gpuheap.MemoryClass) (*deviceData, error) {
	if !class.IsValid() {
		return nil, errors.Newf("unknown memory class %d", int32(class))
	}

	data, ok := m.devices.Get(id)
	if !ok {
		return nil, errors.Newf("device %d is not registered", id)
	}
	return data, nil
}

func (m *Memory) MemoryClassProperties(id gpuheap.DeviceID, class gpuheap.MemoryClass) (gpuheap.MemoryClassProperties, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, err := m.device(id, class)
	if err != nil {
		return gpuheap.MemoryClassProperties{}, err
	}

	memTypeIndex := data.memoryTypes[class]
	if memTypeIndex < 0 {
		return gpuheap.MemoryClassProperties{}, nil
	}

	memType := data.memoryProperties.MemoryTypes[memTypeIndex]
	memHeap := data.memoryProperties.MemoryHeaps[memType.HeapIndex]
	return gpuheap.MemoryClassProperties{
		Available: true,
		Size:      uint64(memHeap.Size),
		Flags:     memoryFlags(memType.PropertyFlags),
	}, nil
}

func (m *Memory) AllocateBacking(id gpuheap.DeviceID, class gpuheap.MemoryClass, size uint64, name string) (gpuheap.Backing, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, err := m.device(id, class)
	if err != nil {
		return gpuheap.Backing{}, err
	}

	memTypeIndex := data.memoryTypes[class]
	if memTypeIndex < 0 {
		return gpuheap.Backing{}, errors.Newf("device %d has no memory type for %s", id, class)
	}

	var allocInfo core1_0.MemoryAllocateInfo
	allocInfo.MemoryTypeIndex = memTypeIndex
	allocInfo.AllocationSize = int(size)

	if data.extensions.DeviceAddress {
		var allocFlagsInfo core1_1.MemoryAllocateFlagsInfo
		allocFlagsInfo.Flags = core1_2.MemoryAllocateDeviceAddress
		allocFlagsInfo.Next = allocInfo.Next
		allocInfo.Next = allocFlagsInfo
	}

	if data.extensions.MemoryPriority {
		priority := data.options.Priorities[class]
		if priority == 0 {
			priority = defaultPriority
		}
		priorityInfo := ext_memory_priority.MemoryPriorityAllocateInfo{
			Priority: priority,
		}
		priorityInfo.Next = allocInfo.Next
		allocInfo.Next = priorityInfo
	}

	memory, _, err := data.options.Device.AllocateMemory(data.options.AllocationCallbacks, allocInfo)
	if err != nil {
		return gpuheap.Backing{}, errors.Wrapf(err, "could not allocate %d bytes of memory type %d for %s", size, memTypeIndex, name)
	}

	memType := data.memoryProperties.MemoryTypes[memTypeIndex]
	backing := gpuheap.Backing{
		Memory: memory,
		Size:   size,
		Flags:  memoryFlags(memType.PropertyFlags),
	}

	if memType.PropertyFlags&core1_0.MemoryPropertyHostVisible != 0 {
		var mapped unsafe.Pointer
		mapped, _, err = memory.Map(0, -1, 0)
		if err != nil {
			memory.Free(data.options.AllocationCallbacks)
			return gpuheap.Backing{}, errors.Wrapf(err, "could not map memory for %s", name)
		}
		backing.Mapped = mapped
	}

	m.nextID++
	backing.ID = m.nextID
	m.backings.Put(backing.ID, &deviceBacking{
		device:          id,
		memoryTypeIndex: memTypeIndex,
		memory:          memory,
		mapped:          backing.Mapped != nil,
	})
	data.liveCount++

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "allocated device memory",
		slog.Int("device", int(id)),
		slog.String("class", class.String()),
		slog.String("name", name),
		slog.Int("memoryType", memTypeIndex),
		slog.Uint64("size", size),
	)

	return backing, nil
}

func (m *Memory) FreeBacking(id gpuheap.DeviceID, backing gpuheap.Backing) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	live, ok := m.backings.Get(backing.ID)
	if !ok || live.device != id {
		return errors.Newf("backing %d is not a live allocation of device %d", backing.ID, id)
	}

	data, ok := m.devices.Get(id)
	if !ok {
		return errors.Newf("device %d is not registered", id)
	}

	if live.mapped {
		live.memory.Unmap()
	}
	live.memory.Free(data.options.AllocationCallbacks)

	m.backings.Delete(backing.ID)
	data.liveCount--
	return nil
}
