package memutils

import "math"

// Statistics holds the byte and object counts of one or more heaps
type Statistics struct {
	HeapCount       int
	AllocationCount int
	HeapBytes       uint64
	AllocationBytes uint64
}

func (s *Statistics) Clear() {
	s.HeapCount = 0
	s.AllocationCount = 0
	s.HeapBytes = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.HeapCount += other.HeapCount
	s.AllocationCount += other.AllocationCount
	s.HeapBytes += other.HeapBytes
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics extends Statistics with the shape of the free and allocated segments.
// Call Clear before accumulating into it, the zero value has meaningless minimums.
type DetailedStatistics struct {
	Statistics
	FreeSegmentCount   int
	AllocationSizeMin  uint64
	AllocationSizeMax  uint64
	FreeSegmentSizeMin uint64
	FreeSegmentSizeMax uint64
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeSegmentCount = 0
	s.AllocationSizeMin = math.MaxUint64
	s.AllocationSizeMax = 0
	s.FreeSegmentSizeMin = math.MaxUint64
	s.FreeSegmentSizeMax = 0
}

func (s *DetailedStatistics) AddFreeSegment(size uint64) {
	s.FreeSegmentCount++

	if size < s.FreeSegmentSizeMin {
		s.FreeSegmentSizeMin = size
	}

	if size > s.FreeSegmentSizeMax {
		s.FreeSegmentSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size uint64) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeSegmentCount += other.FreeSegmentCount

	if other.FreeSegmentSizeMin < s.FreeSegmentSizeMin {
		s.FreeSegmentSizeMin = other.FreeSegmentSizeMin
	}

	if other.FreeSegmentSizeMax > s.FreeSegmentSizeMax {
		s.FreeSegmentSizeMax = other.FreeSegmentSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}
