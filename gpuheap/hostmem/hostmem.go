// Package hostmem backs heaps with anonymous host memory mappings. It stands in for a GPU driver in
// tools and tests, simulating devices whose memory classes are all served from host RAM.
package hostmem

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/tlsfheap/gpuheap"
)

// ClassProperties describe a simulated device's memory for one memory class
type ClassProperties struct {
	// Size is the simulated size of the device memory heap. 0 means the class is unavailable.
	Size  uint64
	Flags gpuheap.MemoryFlags
}

// Device is a simulated device
type Device struct {
	Classes [gpuheap.MemoryClassCount]ClassProperties
}

// DefaultClassFlags returns the memory flags a discrete GPU typically offers for a class
func DefaultClassFlags(class gpuheap.MemoryClass) gpuheap.MemoryFlags {
	switch class {
	case gpuheap.MemoryClassGPUOnly:
		return gpuheap.MemoryDeviceLocal
	case gpuheap.MemoryClassGPUMapped:
		return gpuheap.MemoryDeviceLocal | gpuheap.MemoryMapped | gpuheap.MemoryCoherent
	case gpuheap.MemoryClassUpload:
		return gpuheap.MemoryMapped | gpuheap.MemoryCoherent
	case gpuheap.MemoryClassReadback:
		return gpuheap.MemoryMapped | gpuheap.MemoryCached | gpuheap.MemoryCoherent
	}
	return 0
}

// UniformDevice returns a simulated device that offers systemSize bytes for every memory class
func UniformDevice(systemSize uint64) Device {
	var device Device
	for class := 0; class < gpuheap.MemoryClassCount; class++ {
		device.Classes[class] = ClassProperties{
			Size:  systemSize,
			Flags: DefaultClassFlags(gpuheap.MemoryClass(class)),
		}
	}
	return device
}

type liveBacking struct {
	device gpuheap.DeviceID
	data   []byte
}

// Memory implements gpuheap.BackingAllocator and gpuheap.DeviceQuery over host memory. Every backing is
// a private anonymous mapping, and backings of classes with gpuheap.MemoryMapped are returned with
// their host address.
type Memory struct {
	mutex   sync.Mutex
	devices map[gpuheap.DeviceID]Device
	nextID  uint64
	live    *swiss.Map[uint64, liveBacking]
}

var _ gpuheap.BackingAllocator = &Memory{}
var _ gpuheap.DeviceQuery = &Memory{}

// New creates host memory for the provided simulated devices
func New(devices map[gpuheap.DeviceID]Device) *Memory {
	copied := make(map[gpuheap.DeviceID]Device, len(devices))
	for id, device := range devices {
		copied[id] = device
	}

	return &Memory{
		devices: copied,
		live:    swiss.NewMap[uint64, liveBacking](8),
	}
}

func (m *Memory) MemoryClassProperties(device gpuheap.DeviceID, class gpuheap.MemoryClass) (gpuheap.MemoryClassProperties, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	simulated, ok := m.devices[device]
	if !ok {
		return gpuheap.MemoryClassProperties{}, errors.Newf("unknown device %d", device)
	}
	if !class.IsValid() {
		return gpuheap.MemoryClassProperties{}, errors.Newf("unknown memory class %d", int32(class))
	}

	props := simulated.Classes[class]
	return gpuheap.MemoryClassProperties{
		Available: props.Size > 0,
		Size:      props.Size,
		Flags:     props.Flags,
	}, nil
}

func (m *Memory) AllocateBacking(device gpuheap.DeviceID, class gpuheap.MemoryClass, size uint64, name string) (gpuheap.Backing, error) {
	props, err := m.MemoryClassProperties(device, class)
	if err != nil {
		return gpuheap.Backing{}, err
	}
	if !props.Available {
		return gpuheap.Backing{}, errors.Newf("device %d has no %s memory", device, class)
	}
	if size == 0 || size > props.Size {
		return gpuheap.Backing{}, errors.Newf("cannot allocate %d bytes from a %d byte %s heap", size, props.Size, class)
	}

	data, err := mapMemory(size)
	if err != nil {
		return gpuheap.Backing{}, errors.Wrapf(err, "could not map %d bytes for %s", size, name)
	}

	m.mutex.Lock()
	m.nextID++
	id := m.nextID
	m.live.Put(id, liveBacking{device: device, data: data})
	m.mutex.Unlock()

	backing := gpuheap.Backing{
		ID:     id,
		Memory: data,
		Size:   size,
		Flags:  props.Flags,
	}
	if props.Flags&gpuheap.MemoryMapped != 0 {
		backing.Mapped = unsafe.Pointer(&data[0])
	}

	return backing, nil
}

func (m *Memory) FreeBacking(device gpuheap.DeviceID, backing gpuheap.Backing) error {
	m.mutex.Lock()
	live, ok := m.live.Get(backing.ID)
	if ok && live.device == device {
		m.live.Delete(backing.ID)
	}
	m.mutex.Unlock()

	if !ok || live.device != device {
		return errors.Newf("backing %d is not a live allocation of device %d", backing.ID, device)
	}

	return unmapMemory(live.data)
}

// LiveBackings returns the number of backings that have been allocated and not freed
func (m *Memory) LiveBackings() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.live.Count()
}
