package metadata

import (
	"github.com/pkg/errors"
)

// NoSegment marks an absent link between segments
const NoSegment int32 = -1

type segment struct {
	offset uint64
	size   uint64

	// Address-order neighbors
	left  int32
	right int32

	// Links within a size-class free list while free, and within the pool's unused chain while retired
	prevFree int32
	nextFree int32

	// Incremented every time the segment is handed out as an allocation
	generation uint32
	free       bool
	retired    bool

	userData any
}

func (s *segment) reset() {
	s.offset = 0
	s.size = 0
	s.left = NoSegment
	s.right = NoSegment
	s.prevFree = NoSegment
	s.nextFree = NoSegment
	s.free = false
	s.userData = nil
}

// SegmentPool is a fixed-capacity arena of segment records. Records that are not part of a heap's
// segment chain are retired and kept in an unused chain, from which Acquire hands them back out.
// Generations survive retirement so that handles to a recycled record can be told apart.
type SegmentPool struct {
	segments    []segment
	unusedHead  int32
	unusedCount int
}

// Init sizes the pool to count records, all of them retired
func (p *SegmentPool) Init(count int) {
	p.segments = make([]segment, count)
	p.Reset()
}

// Reset retires every record in the pool without forgetting their generations
func (p *SegmentPool) Reset() {
	p.unusedHead = NoSegment
	for i := len(p.segments) - 1; i >= 0; i-- {
		s := &p.segments[i]
		s.reset()
		s.retired = true
		s.nextFree = p.unusedHead
		p.unusedHead = int32(i)
	}
	p.unusedCount = len(p.segments)
}

// Capacity is the total number of records in the pool
func (p *SegmentPool) Capacity() int {
	return len(p.segments)
}

// Available is the number of retired records that Acquire can still return
func (p *SegmentPool) Available() int {
	return p.unusedCount
}

// Acquire takes a retired record out of the unused chain and returns its index. The record is zeroed,
// unlinked and neither free nor retired.
func (p *SegmentPool) Acquire() (int32, error) {
	if p.unusedHead == NoSegment {
		return NoSegment, errors.Errorf("all %d segment records are in use", len(p.segments))
	}

	index := p.unusedHead
	s := &p.segments[index]
	p.unusedHead = s.nextFree
	p.unusedCount--

	s.reset()
	s.retired = false
	return index, nil
}

// Retire returns a record to the unused chain
func (p *SegmentPool) Retire(index int32) error {
	if index < 0 || int(index) >= len(p.segments) {
		return errors.Errorf("segment index %d is outside of a pool of %d records", index, len(p.segments))
	}

	s := &p.segments[index]
	if s.retired {
		return errors.Errorf("segment %d is already retired", index)
	}

	s.reset()
	s.retired = true
	s.nextFree = p.unusedHead
	p.unusedHead = index
	p.unusedCount++
	return nil
}

// IsRetired reports whether the record at index is in the unused chain. Indices outside the pool
// are reported as retired.
func (p *SegmentPool) IsRetired(index int32) bool {
	if index < 0 || int(index) >= len(p.segments) {
		return true
	}
	return p.segments[index].retired
}

func (p *SegmentPool) get(index int32) *segment {
	return &p.segments[index]
}
