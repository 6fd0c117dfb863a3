package metadata

import (
	"fmt"
	"log/slog"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/tlsfheap/memutils"
	"github.com/vkngwrapper/tlsfheap/memutils/sizeclass"
)

// TLSFHeapMetadata tracks the segments of a single heap with a two-level segregated fit allocator.
// Segments tile the heap in address order with no gaps, every free segment sits in exactly one
// size-class free list, and no two neighboring segments are ever both free.
//
// TLSFHeapMetadata is not safe for concurrent use.
type TLSFHeapMetadata struct {
	size uint64
	pool SegmentPool

	freeLists [sizeclass.XLevels][sizeclass.YSize]int32
	bitmap    sizeclass.Bitmap
	first     int32

	allocCount    int
	allocatedSize uint64
	freeCount     int
	freeSize      uint64
}

func NewTLSFHeapMetadata() *TLSFHeapMetadata {
	return &TLSFHeapMetadata{first: NoSegment}
}

// Init prepares the metadata for a heap of size bytes, which is initially one free segment
func (m *TLSFHeapMetadata) Init(size uint64) error {
	if size < sizeclass.MinSegmentSize {
		return errors.Wrapf(memutils.ErrInvalidArgument, "heap size %d is smaller than the minimum segment size %d", size, sizeclass.MinSegmentSize)
	}
	if size > sizeclass.MaxSegmentSize {
		return errors.Wrapf(memutils.ErrCapacityExceeded, "heap size %d is larger than the maximum segment size %d", size, sizeclass.MaxSegmentSize)
	}

	m.size = size
	m.pool.Init(int(memutils.DivideRoundingUp(size, sizeclass.MinSegmentSize)))
	m.reset()
	return nil
}

// Clear frees every allocation at once, leaving a single free segment that spans the heap
func (m *TLSFHeapMetadata) Clear() {
	m.pool.Reset()
	m.reset()
}

func (m *TLSFHeapMetadata) reset() {
	for x := range m.freeLists {
		for y := range m.freeLists[x] {
			m.freeLists[x][y] = NoSegment
		}
	}
	m.bitmap.Reset()
	m.allocCount = 0
	m.allocatedSize = 0
	m.freeCount = 0
	m.freeSize = 0

	first, err := m.pool.Acquire()
	if err != nil {
		panic(err)
	}
	seg := m.pool.get(first)
	seg.offset = 0
	seg.size = m.size
	m.first = first
	m.insertFreeSegment(first)
}

func (m *TLSFHeapMetadata) Size() uint64 { return m.size }

// AllocatedSize is the sum of the sizes of all allocated segments
func (m *TLSFHeapMetadata) AllocatedSize() uint64 { return m.allocatedSize }

func (m *TLSFHeapMetadata) SumFreeSize() uint64 { return m.freeSize }

func (m *TLSFHeapMetadata) AllocationCount() int { return m.allocCount }

func (m *TLSFHeapMetadata) FreeSegmentCount() int { return m.freeCount }

func (m *TLSFHeapMetadata) IsEmpty() bool { return m.allocCount == 0 }

// SegmentCapacity is the number of segment records preallocated for this heap
func (m *TLSFHeapMetadata) SegmentCapacity() int { return m.pool.Capacity() }

// Alloc carves a range of at least size bytes, starting at a multiple of alignment, out of a free
// segment. An alignment of 0 is treated as 1. userData is attached to the segment until it is freed.
func (m *TLSFHeapMetadata) Alloc(size uint64, alignment uint64, userData any) (Suballocation, error) {
	var result Suballocation

	if size == 0 {
		return result, errors.Wrap(memutils.ErrInvalidArgument, "allocation size must be greater than zero")
	}
	if alignment == 0 {
		alignment = 1
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return result, err
	}

	memutils.DebugValidate(m)

	if size > sizeclass.MaxSegmentSize || alignment-1 > sizeclass.MaxSegmentSize-size {
		return result, errors.Wrapf(memutils.ErrCapacityExceeded, "allocation of %d bytes aligned to %d", size, alignment)
	}

	// Any segment of this size holds an aligned range of size bytes, wherever it starts
	paddedSize := size + alignment - 1
	if paddedSize < sizeclass.MinSegmentSize {
		paddedSize = sizeclass.MinSegmentSize
	}

	index := m.findFreeSegment(paddedSize)
	if index == NoSegment {
		return result, errors.Wrapf(memutils.ErrOutOfMemory, "no free segment of %d bytes, %d of %d bytes free", paddedSize, m.freeSize, m.size)
	}

	seg := m.pool.get(index)
	split := NoSegment
	if seg.size-paddedSize >= sizeclass.MinSegmentSize {
		split, err = m.pool.Acquire()
		if err != nil {
			return result, err
		}
	}

	m.removeFreeSegment(index)

	if split != NoSegment {
		tail := m.pool.get(split)
		tail.offset = seg.offset + paddedSize
		tail.size = seg.size - paddedSize
		tail.left = index
		tail.right = seg.right
		if seg.right != NoSegment {
			m.pool.get(seg.right).left = split
		}
		seg.right = split
		seg.size = paddedSize

		m.insertFreeSegment(split)
	}

	seg.generation++
	if seg.generation == 0 {
		seg.generation = 1
	}
	seg.userData = userData
	m.allocCount++
	m.allocatedSize += seg.size

	offset := memutils.AlignUp(seg.offset, alignment)
	result = Suballocation{
		Handle: SegmentHandle{
			Index:      uint32(index),
			Generation: seg.generation,
			Size:       seg.size,
		},
		Offset: offset,
		Size:   seg.offset + seg.size - offset,
	}

	memutils.DebugValidate(m)
	return result, nil
}

// findFreeSegment returns the free segment that an allocation of size bytes should be carved from
func (m *TLSFHeapMetadata) findFreeSegment(size uint64) int32 {
	rounded := sizeclass.RoundUp(size)
	if rounded <= sizeclass.MaxSegmentSize {
		x, y := sizeclass.Index(rounded)
		x, y, ok := m.bitmap.FirstAvailable(x, y)
		if ok {
			head := m.freeLists[x][y]
			if head == NoSegment {
				panic(fmt.Sprintf("size class (%d, %d) was listed as having free segments, but its free list was empty", x, y))
			}
			return head
		}
	}

	// Check best fit bucket: the request's own class can hold segments that are big enough
	x, y := sizeclass.Index(size)
	for index := m.freeLists[x][y]; index != NoSegment; {
		seg := m.pool.get(index)
		if seg.size >= size {
			return index
		}
		index = seg.nextFree
	}

	return NoSegment
}

// Free returns an allocated segment to the heap, merging it with free neighbors. The metadata is not
// modified when an error is returned.
func (m *TLSFHeapMetadata) Free(handle SegmentHandle) error {
	if int64(handle.Index) >= int64(m.pool.Capacity()) {
		return errors.Wrapf(memutils.ErrInvalidHandle, "segment index %d is outside of a pool of %d records", handle.Index, m.pool.Capacity())
	}

	if handle.Generation == 0 {
		return errors.Wrap(memutils.ErrInvalidHandle, "handle was never issued by an allocation")
	}

	index := int32(handle.Index)
	seg := m.pool.get(index)
	if seg.generation != handle.Generation {
		return errors.Wrapf(memutils.ErrInvalidHandle, "segment %d is at generation %d but the handle was issued for generation %d", index, seg.generation, handle.Generation)
	}
	if seg.free || seg.retired {
		return errors.Wrapf(memutils.ErrDoubleFree, "segment %d", index)
	}
	if seg.size != handle.Size {
		return errors.Wrapf(memutils.ErrInvalidHandle, "segment %d is %d bytes but the handle was issued for %d bytes", index, seg.size, handle.Size)
	}

	memutils.DebugValidate(m)

	m.allocCount--
	m.allocatedSize -= seg.size
	seg.userData = nil

	if seg.left != NoSegment && m.pool.get(seg.left).free {
		left := seg.left
		m.removeFreeSegment(left)
		m.absorbLeft(index, left)
	}

	if seg.right != NoSegment && m.pool.get(seg.right).free {
		right := seg.right
		m.removeFreeSegment(right)
		m.absorbRight(index, right)
	}

	m.insertFreeSegment(index)

	memutils.DebugValidate(m)
	return nil
}

func (m *TLSFHeapMetadata) absorbLeft(index int32, left int32) {
	seg := m.pool.get(index)
	leftSeg := m.pool.get(left)
	if leftSeg.right != index {
		panic("cannot merge segments that are not neighbors")
	}

	seg.offset = leftSeg.offset
	seg.size += leftSeg.size
	seg.left = leftSeg.left
	if seg.left != NoSegment {
		m.pool.get(seg.left).right = index
	} else {
		m.first = index
	}

	err := m.pool.Retire(left)
	if err != nil {
		panic(err)
	}
}

func (m *TLSFHeapMetadata) absorbRight(index int32, right int32) {
	seg := m.pool.get(index)
	rightSeg := m.pool.get(right)
	if rightSeg.left != index {
		panic("cannot merge segments that are not neighbors")
	}

	seg.size += rightSeg.size
	seg.right = rightSeg.right
	if seg.right != NoSegment {
		m.pool.get(seg.right).left = index
	}

	err := m.pool.Retire(right)
	if err != nil {
		panic(err)
	}
}

func (m *TLSFHeapMetadata) insertFreeSegment(index int32) {
	seg := m.pool.get(index)
	if seg.free {
		panic("segment is already free")
	}

	x, y := sizeclass.Index(seg.size)
	seg.free = true
	seg.prevFree = NoSegment
	seg.nextFree = m.freeLists[x][y]
	m.freeLists[x][y] = index
	if seg.nextFree != NoSegment {
		m.pool.get(seg.nextFree).prevFree = index
	} else {
		m.bitmap.Set(x, y)
	}

	m.freeCount++
	m.freeSize += seg.size
}

func (m *TLSFHeapMetadata) removeFreeSegment(index int32) {
	seg := m.pool.get(index)
	if !seg.free {
		panic("provided segment is not free")
	}

	if seg.nextFree != NoSegment {
		m.pool.get(seg.nextFree).prevFree = seg.prevFree
	}
	if seg.prevFree != NoSegment {
		m.pool.get(seg.prevFree).nextFree = seg.nextFree
	} else {
		x, y := sizeclass.Index(seg.size)
		if m.freeLists[x][y] != index {
			panic("segment was not in the free list at the expected location")
		}
		m.freeLists[x][y] = seg.nextFree
		if seg.nextFree == NoSegment {
			m.bitmap.Clear(x, y)
		}
	}

	seg.free = false
	seg.prevFree = NoSegment
	seg.nextFree = NoSegment
	m.freeCount--
	m.freeSize -= seg.size
}

// Validate walks the segment chain and every free list and returns an error describing the first
// inconsistency found
func (m *TLSFHeapMetadata) Validate() error {
	if m.freeSize+m.allocatedSize != m.size {
		return errors.Errorf("free bytes %d and allocated bytes %d do not add up to the heap size %d", m.freeSize, m.allocatedSize, m.size)
	}

	// Check integrity of free lists
	var freeListCount int
	var freeListSize uint64
	for x := 0; x < sizeclass.XLevels; x++ {
		for y := 0; y < sizeclass.YSize; y++ {
			head := m.freeLists[x][y]
			if (head != NoSegment) != m.bitmap.IsSet(x, y) {
				return errors.Errorf("size class (%d, %d) has a bitmap bit that does not match its free list", x, y)
			}

			prev := NoSegment
			for index := head; index != NoSegment; index = m.pool.get(index).nextFree {
				seg := m.pool.get(index)
				if seg.retired {
					return errors.Errorf("retired segment %d is in the free list for size class (%d, %d)", index, x, y)
				}
				if !seg.free {
					return errors.Errorf("segment at offset %d is in the free list but is not free", seg.offset)
				}
				if seg.prevFree != prev {
					return errors.Errorf("segment at offset %d does not link back to its predecessor in the free list", seg.offset)
				}
				sx, sy := sizeclass.Index(seg.size)
				if sx != x || sy != y {
					return errors.Errorf("segment at offset %d of size %d belongs in size class (%d, %d) but is in the free list for (%d, %d)", seg.offset, seg.size, sx, sy, x, y)
				}

				freeListCount++
				if freeListCount > m.pool.Capacity() {
					return errors.New("the free lists contain a cycle")
				}
				freeListSize += seg.size
				prev = index
			}
		}
	}

	if m.first == NoSegment || m.pool.IsRetired(m.first) {
		return errors.New("the heap has no first segment")
	}
	if m.pool.get(m.first).left != NoSegment {
		return errors.New("the first segment has a segment before it")
	}

	var nextOffset uint64
	var chainCount, freeCount, allocCount int
	var allocatedSize uint64
	prevFree := false
	prev := NoSegment
	for index := m.first; index != NoSegment; index = m.pool.get(index).right {
		seg := m.pool.get(index)
		if seg.retired {
			return errors.Errorf("retired segment %d is in the segment chain", index)
		}
		if seg.left != prev {
			return errors.Errorf("segment at offset %d has a previous segment, but the reverse reference is broken", seg.offset)
		}
		if seg.offset != nextOffset {
			return errors.Errorf("segment at offset %d does not start where the previous segment ends at %d", seg.offset, nextOffset)
		}
		if seg.size < sizeclass.MinSegmentSize {
			return errors.Errorf("segment at offset %d is %d bytes, below the minimum segment size", seg.offset, seg.size)
		}
		if seg.free && prevFree {
			return errors.Errorf("segment at offset %d is free and so is the segment before it", seg.offset)
		}

		if seg.free {
			freeCount++
		} else {
			allocCount++
			allocatedSize += seg.size
		}

		chainCount++
		if chainCount > m.pool.Capacity() {
			return errors.New("the segment chain contains a cycle")
		}

		nextOffset = seg.offset + seg.size
		prevFree = seg.free
		prev = index
	}

	if nextOffset != m.size {
		return errors.Errorf("the full size of the heap is %d, but the segments only added up to %d", m.size, nextOffset)
	}

	if freeListCount != freeCount || freeCount != m.freeCount {
		return errors.Errorf("the number of free segments in the chain (%d), in the free lists (%d) and in the metadata (%d) do not match", freeCount, freeListCount, m.freeCount)
	}

	if freeListSize != m.freeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free segments only added up to %d", m.freeSize, freeListSize)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the allocated segments only added up to %d", m.allocCount, allocCount)
	}

	if allocatedSize != m.allocatedSize {
		return errors.Errorf("the allocated size of the metadata is %d, but the allocated segments only added up to %d", m.allocatedSize, allocatedSize)
	}

	if chainCount+m.pool.Available() != m.pool.Capacity() {
		return errors.Errorf("%d segments are in the chain and %d are retired, but the pool holds %d", chainCount, m.pool.Available(), m.pool.Capacity())
	}

	return nil
}

func (m *TLSFHeapMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += m.size

	for index := m.first; index != NoSegment; {
		seg := m.pool.get(index)
		if seg.free {
			stats.AddFreeSegment(seg.size)
		} else {
			stats.AddAllocation(seg.size)
		}
		index = seg.right
	}
}

func (m *TLSFHeapMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.HeapCount++
	stats.AllocationCount += m.allocCount
	stats.HeapBytes += m.size
	stats.AllocationBytes += m.allocatedSize
}

// VisitAllRegions calls handleRegion for every segment in address order, stopping at the first error
func (m *TLSFHeapMetadata) VisitAllRegions(handleRegion func(offset uint64, size uint64, free bool, userData any) error) error {
	for index := m.first; index != NoSegment; {
		seg := m.pool.get(index)
		err := handleRegion(seg.offset, seg.size, seg.free, seg.userData)
		if err != nil {
			return err
		}
		index = seg.right
	}

	return nil
}

// DebugLogAllAllocations calls logFunc for every allocated segment
func (m *TLSFHeapMetadata) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset uint64, size uint64, userData any)) {
	for index := m.first; index != NoSegment; {
		seg := m.pool.get(index)
		if !seg.free {
			logFunc(logger, seg.offset, seg.size, seg.userData)
		}
		index = seg.right
	}
}

// HeapJsonData populates a json object with summary information about this heap
func (m *TLSFHeapMetadata) HeapJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(int(m.size))
	json.Name("UnusedBytes").Int(int(m.freeSize))
	json.Name("Allocations").Int(m.allocCount)
	json.Name("UnusedRanges").Int(m.freeCount)
	json.Name("SegmentCapacity").Int(m.pool.Capacity())
}

// PrintDetailedMap writes every segment of the heap into a "Segments" array of the provided object
func (m *TLSFHeapMetadata) PrintDetailedMap(json *jwriter.ObjectState) {
	arrayState := json.Name("Segments").Array()
	defer arrayState.End()

	_ = m.VisitAllRegions(func(offset uint64, size uint64, free bool, userData any) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(offset))
		obj.Name("Size").Int(int(size))
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("ALLOCATED")
			if userData != nil {
				obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
			}
		}

		return nil
	})
}
