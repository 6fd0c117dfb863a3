package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/extensions/v2/ext_memory_priority"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
)

// extensionData records which optional allocation features a device supports
type extensionData struct {
	// DeviceAddress is set when buffers bound to heap memory may request a shader device address,
	// which requires every backing to be allocated with MemoryAllocateDeviceAddress
	DeviceAddress bool
	// MemoryPriority is set when backings can carry a MemoryPriorityAllocateInfo
	MemoryPriority bool
}

func newExtensionData(device core1_0.Device) extensionData {
	var data extensionData

	// Core 1.2 promotes khr_buffer_device_address
	if core1_2.PromoteDevice(device) != nil || device.IsDeviceExtensionActive(khr_buffer_device_address.ExtensionName) {
		data.DeviceAddress = true
	}

	if device.IsDeviceExtensionActive(ext_memory_priority.ExtensionName) {
		data.MemoryPriority = true
	}

	return data
}
