package gpuheap

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/tlsfheap/gpuheap/internal/utils"
	"github.com/vkngwrapper/tlsfheap/memutils"
	"github.com/vkngwrapper/tlsfheap/memutils/sizeclass"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator and all heaps created from it
	// will not be synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time or are synchronized by some other mechanism, but performance may improve
	// because internal mutexes are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

const (
	// defaultHeapFraction is the share of a device memory heap that a heap reserves when no
	// HeapSizing is provided
	defaultHeapFraction float64 = 0.8
	// defaultMaxHeapSize caps heaps of every class but MemoryClassGPUMapped. It is equal to 512Mb.
	defaultMaxHeapSize uint64 = 512 * 1024 * 1024
	// defaultMaxMappedHeapSize caps MemoryClassGPUMapped heaps, which usually come out of a small
	// BAR window. It is equal to 32Mb.
	defaultMaxMappedHeapSize uint64 = 32 * 1024 * 1024
)

// HeapSizing decides how much memory a heap reserves when its device is activated
type HeapSizing struct {
	// Fraction is the share of the device memory heap to reserve, in (0, 1]. 0 selects the default of 0.8.
	Fraction float64
	// MaxSize caps the reserved size in bytes. 0 selects the default for the memory class.
	MaxSize uint64
	// Disabled prevents a heap from being created for the memory class
	Disabled bool
}

// DefaultHeapSizing returns the sizing used for a memory class when CreateOptions leaves it blank
func DefaultHeapSizing(class MemoryClass) HeapSizing {
	sizing := HeapSizing{
		Fraction: defaultHeapFraction,
		MaxSize:  defaultMaxHeapSize,
	}
	if class == MemoryClassGPUMapped {
		sizing.MaxSize = defaultMaxMappedHeapSize
	}
	return sizing
}

// WithDefaults replaces the zero fields of s with the DefaultHeapSizing of the memory class
func (s HeapSizing) WithDefaults(class MemoryClass) HeapSizing {
	defaults := DefaultHeapSizing(class)
	if s.Fraction == 0 {
		s.Fraction = defaults.Fraction
	}
	if s.MaxSize == 0 {
		s.MaxSize = defaults.MaxSize
	}
	return s
}

// HeapSize returns the number of bytes to reserve from a device memory heap of systemSize bytes
func (s HeapSizing) HeapSize(systemSize uint64) uint64 {
	size := uint64(float64(systemSize) * s.Fraction)
	if size > s.MaxSize {
		size = s.MaxSize
	}
	if size > sizeclass.MaxSegmentSize {
		size = sizeclass.MaxSegmentSize
	}
	return size
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// HeapSizing decides the size of each memory class's heap when a device is activated. Zero
	// fields fall back to DefaultHeapSizing.
	HeapSizing [MemoryClassCount]HeapSizing

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when heaps allocate
	// or free their backing memory
	MemoryCallbackOptions *MemoryCallbackOptions
}

// New creates a new Allocator with no active devices
//
// backing - performs the one raw allocation behind every heap
//
// query - reports the memory available to each device
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, backing BackingAllocator, query DeviceQuery, options CreateOptions) (*Allocator, error) {
	if backing == nil {
		return nil, errors.Wrap(memutils.ErrInvalidArgument, "a BackingAllocator is required")
	}
	if query == nil {
		return nil, errors.Wrap(memutils.ErrInvalidArgument, "a DeviceQuery is required")
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		logger:      logger,
		useMutex:    useMutex,
		mutex:       utils.OptionalRWMutex{UseMutex: useMutex},
		createFlags: options.Flags,
		backing:     backing,
		query:       query,
		callbacks:   options.MemoryCallbackOptions,
		devices:     swiss.NewMap[DeviceID, *deviceContext](8),
	}

	for class := 0; class < MemoryClassCount; class++ {
		sizing := options.HeapSizing[class]
		if sizing.Fraction < 0 || sizing.Fraction > 1 {
			return nil, errors.Wrapf(memutils.ErrInvalidArgument, "heap sizing fraction for %s must be in (0, 1], but was %f", MemoryClass(class), sizing.Fraction)
		}
		allocator.heapSizing[class] = sizing.WithDefaults(MemoryClass(class))
	}

	return allocator, nil
}
