// Package sizeclass maps segment sizes onto the two-level (x, y) size classes used by the TLSF heap.
//
// The first level x is the position of the size's most significant bit, offset by MinXLevel. The second
// level y splits each power-of-two range into YSize linearly spaced classes using the Log2YSize bits
// below the most significant bit. Every size in [MinSegmentSize, MaxSegmentSize] belongs to exactly one
// class, classes are contiguous, and class lower bounds increase strictly with (x, y).
package sizeclass

import (
	"math/bits"
)

const (
	// MinXLevel is log2 of the smallest segment a heap will ever carve
	MinXLevel = 10
	// MaxXLevel is log2 of the first size that no heap can track
	MaxXLevel = 36
	// XLevels is the number of first-level classes
	XLevels = MaxXLevel - MinXLevel
	// Log2YSize is log2 of the number of second-level classes per first-level class
	Log2YSize = 4
	// YSize is the number of second-level classes per first-level class
	YSize = 1 << Log2YSize

	// MinSegmentSize is the smallest segment size, and the smallest heap size
	MinSegmentSize uint64 = 1 << MinXLevel
	// MaxSegmentSize is the largest segment size, and the largest heap size
	MaxSegmentSize uint64 = 1<<MaxXLevel - 1
)

// Index returns the size class that size belongs to. Sizes below MinSegmentSize all map to (0, 0).
// Sizes above MaxSegmentSize produce x >= XLevels, which InRange reports as out of range.
func Index(size uint64) (x, y int) {
	if size < MinSegmentSize {
		return 0, 0
	}

	msb := bits.Len64(size) - 1
	x = msb - MinXLevel
	y = int(size>>(msb-Log2YSize)) - YSize
	return x, y
}

// InRange reports whether (x, y) names a class that a Bitmap can hold
func InRange(x, y int) bool {
	return x >= 0 && x < XLevels && y >= 0 && y < YSize
}

// LowerBound returns the smallest size that belongs to class (x, y)
func LowerBound(x, y int) uint64 {
	return uint64(YSize+y) << (x + MinXLevel - Log2YSize)
}

// UpperBound returns the largest size that belongs to class (x, y)
func UpperBound(x, y int) uint64 {
	return LowerBound(x, y) + (uint64(1) << (x + MinXLevel - Log2YSize)) - 1
}

// RoundUp returns the smallest class lower bound that is not below size. Every member of the class
// Index(RoundUp(size)), and of every class above it, is at least size bytes.
//
// The result is MinSegmentSize for any size at or below it. The result for sizes above
// MaxSegmentSize is not meaningful.
func RoundUp(size uint64) uint64 {
	if size <= MinSegmentSize {
		return MinSegmentSize
	}

	msb := bits.Len64(size) - 1
	step := uint64(1) << (msb - Log2YSize)
	return (size + step - 1) &^ (step - 1)
}

// Bitmap tracks which size classes have a nonempty free list. rows has bit x set exactly when
// cols[x] is nonzero, and cols[x] has bit y set when class (x, y) is occupied.
type Bitmap struct {
	rows uint32
	cols [XLevels]uint32
}

func (b *Bitmap) Set(x, y int) {
	b.cols[x] |= 1 << y
	b.rows |= 1 << x
}

func (b *Bitmap) Clear(x, y int) {
	b.cols[x] &^= 1 << y
	if b.cols[x] == 0 {
		b.rows &^= 1 << x
	}
}

func (b *Bitmap) IsSet(x, y int) bool {
	return b.cols[x]&(1<<y) != 0
}

// Empty reports whether no class is occupied
func (b *Bitmap) Empty() bool {
	return b.rows == 0
}

// Reset clears every class
func (b *Bitmap) Reset() {
	b.rows = 0
	b.cols = [XLevels]uint32{}
}

// FirstAvailable finds the lowest occupied class at or above (x, y): first the lowest set column at or
// above y in row x, then the lowest set column of the first occupied row above x. ok is false when no
// such class exists.
func (b *Bitmap) FirstAvailable(x, y int) (foundX, foundY int, ok bool) {
	if x >= XLevels {
		return 0, 0, false
	}

	cols := b.cols[x] & (^uint32(0) << y)
	if cols != 0 {
		return x, bits.TrailingZeros32(cols), true
	}

	rows := b.rows & (^uint32(0) << (x + 1))
	if rows == 0 {
		return 0, 0, false
	}

	foundX = bits.TrailingZeros32(rows)
	return foundX, bits.TrailingZeros32(b.cols[foundX]), true
}
