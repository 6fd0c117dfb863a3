package gpuheap

// AllocateBackingCallback is called after a heap has obtained its backing allocation
type AllocateBackingCallback func(
	device DeviceID,
	class MemoryClass,
	backing Backing,
	userData interface{},
)

// FreeBackingCallback is called before a heap releases its backing allocation
type FreeBackingCallback func(
	device DeviceID,
	class MemoryClass,
	backing Backing,
	userData interface{},
)

// MemoryCallbackOptions is an optional set of callbacks that are executed when heaps allocate and
// free their backing memory
type MemoryCallbackOptions struct {
	Allocate AllocateBackingCallback
	Free     FreeBackingCallback
	UserData interface{}
}

func (c *MemoryCallbackOptions) allocate(device DeviceID, class MemoryClass, backing Backing) {
	if c != nil && c.Allocate != nil {
		c.Allocate(device, class, backing, c.UserData)
	}
}

func (c *MemoryCallbackOptions) free(device DeviceID, class MemoryClass, backing Backing) {
	if c != nil && c.Free != nil {
		c.Free(device, class, backing, c.UserData)
	}
}
