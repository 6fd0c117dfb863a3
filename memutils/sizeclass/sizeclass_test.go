package sizeclass_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/tlsfheap/memutils/sizeclass"
)

func TestIndexBasics(t *testing.T) {
	x, y := sizeclass.Index(0)
	require.Equal(t, 0, x)
	require.Equal(t, 0, y)

	x, y = sizeclass.Index(1023)
	require.Equal(t, 0, x)
	require.Equal(t, 0, y)

	x, y = sizeclass.Index(1024)
	require.Equal(t, 0, x)
	require.Equal(t, 0, y)

	x, y = sizeclass.Index(1024 + 64)
	require.Equal(t, 0, x)
	require.Equal(t, 1, y)

	x, y = sizeclass.Index(2047)
	require.Equal(t, 0, x)
	require.Equal(t, 15, y)

	x, y = sizeclass.Index(1 << 20)
	require.Equal(t, 10, x)
	require.Equal(t, 0, y)

	x, y = sizeclass.Index(sizeclass.MaxSegmentSize)
	require.Equal(t, sizeclass.XLevels-1, x)
	require.Equal(t, sizeclass.YSize-1, y)
	require.True(t, sizeclass.InRange(x, y))

	x, y = sizeclass.Index(sizeclass.MaxSegmentSize + 1)
	require.False(t, sizeclass.InRange(x, y))
}

// Every class must begin exactly one byte after the previous class ends.
func TestClassesAreGapless(t *testing.T) {
	expected := sizeclass.MinSegmentSize

	for x := 0; x < sizeclass.XLevels; x++ {
		for y := 0; y < sizeclass.YSize; y++ {
			lower := sizeclass.LowerBound(x, y)
			upper := sizeclass.UpperBound(x, y)
			require.Equal(t, expected, lower, "class (%d, %d)", x, y)
			require.Less(t, lower, upper+1)

			lx, ly := sizeclass.Index(lower)
			require.Equal(t, x, lx)
			require.Equal(t, y, ly)

			ux, uy := sizeclass.Index(upper)
			require.Equal(t, x, ux)
			require.Equal(t, y, uy)

			expected = upper + 1
		}
	}

	require.Equal(t, sizeclass.MaxSegmentSize+1, expected)
}

func TestIndexIsMonotonic(t *testing.T) {
	prevX, prevY := sizeclass.Index(0)
	for size := uint64(1); size <= 1<<20; size++ {
		x, y := sizeclass.Index(size)
		require.True(t, x > prevX || (x == prevX && y >= prevY), "size %d", size)
		prevX, prevY = x, y
	}
}

func checkRoundUp(t *testing.T, size uint64) {
	rounded := sizeclass.RoundUp(size)
	require.GreaterOrEqual(t, rounded, size)
	require.GreaterOrEqual(t, rounded, sizeclass.MinSegmentSize)

	x, y := sizeclass.Index(rounded)
	if rounded <= sizeclass.MaxSegmentSize {
		require.Equal(t, rounded, sizeclass.LowerBound(x, y), "size %d rounded to %d", size, rounded)
	}

	// No class boundary lies in [size, rounded)
	if size > sizeclass.MinSegmentSize && rounded != size {
		sx, sy := sizeclass.Index(size)
		require.Less(t, sizeclass.LowerBound(sx, sy), size)
		require.Equal(t, rounded, sizeclass.UpperBound(sx, sy)+1)
	}
}

func TestRoundUpExhaustiveLow(t *testing.T) {
	prev := uint64(0)
	for size := uint64(0); size <= 1<<18; size++ {
		checkRoundUp(t, size)

		rounded := sizeclass.RoundUp(size)
		require.GreaterOrEqual(t, rounded, prev)
		prev = rounded
	}
}

func TestRoundUpAtEveryBoundary(t *testing.T) {
	for x := 0; x < sizeclass.XLevels; x++ {
		for y := 0; y < sizeclass.YSize; y++ {
			lower := sizeclass.LowerBound(x, y)
			upper := sizeclass.UpperBound(x, y)

			require.Equal(t, lower, sizeclass.RoundUp(lower))
			checkRoundUp(t, lower+1)
			checkRoundUp(t, upper)
			if lower > 1 {
				checkRoundUp(t, lower-1)
			}
		}
	}
}

func TestRoundUpRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100000; i++ {
		size := uint64(rng.Int63n(int64(sizeclass.MaxSegmentSize))) + 1
		checkRoundUp(t, size)
	}
}

func TestBitmapFirstAvailable(t *testing.T) {
	var bitmap sizeclass.Bitmap
	require.True(t, bitmap.Empty())

	_, _, ok := bitmap.FirstAvailable(0, 0)
	require.False(t, ok)

	bitmap.Set(3, 7)
	require.True(t, bitmap.IsSet(3, 7))
	require.False(t, bitmap.Empty())

	x, y, ok := bitmap.FirstAvailable(0, 0)
	require.True(t, ok)
	require.Equal(t, 3, x)
	require.Equal(t, 7, y)

	x, y, ok = bitmap.FirstAvailable(3, 7)
	require.True(t, ok)
	require.Equal(t, 3, x)
	require.Equal(t, 7, y)

	_, _, ok = bitmap.FirstAvailable(3, 8)
	require.False(t, ok)

	bitmap.Set(20, 2)
	x, y, ok = bitmap.FirstAvailable(3, 8)
	require.True(t, ok)
	require.Equal(t, 20, x)
	require.Equal(t, 2, y)

	// A row above x is searched from its lowest column regardless of y
	x, y, ok = bitmap.FirstAvailable(4, 15)
	require.True(t, ok)
	require.Equal(t, 20, x)
	require.Equal(t, 2, y)

	_, _, ok = bitmap.FirstAvailable(sizeclass.XLevels, 0)
	require.False(t, ok)

	bitmap.Clear(3, 7)
	require.False(t, bitmap.IsSet(3, 7))
	x, y, ok = bitmap.FirstAvailable(0, 0)
	require.True(t, ok)
	require.Equal(t, 20, x)
	require.Equal(t, 2, y)

	bitmap.Clear(20, 2)
	require.True(t, bitmap.Empty())

	bitmap.Set(sizeclass.XLevels-1, sizeclass.YSize-1)
	bitmap.Reset()
	require.True(t, bitmap.Empty())
}

func TestBitmapMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var bitmap sizeclass.Bitmap
	var occupied [sizeclass.XLevels][sizeclass.YSize]bool

	for i := 0; i < 5000; i++ {
		x := rng.Intn(sizeclass.XLevels)
		y := rng.Intn(sizeclass.YSize)
		if occupied[x][y] {
			bitmap.Clear(x, y)
		} else {
			bitmap.Set(x, y)
		}
		occupied[x][y] = !occupied[x][y]

		qx := rng.Intn(sizeclass.XLevels)
		qy := rng.Intn(sizeclass.YSize)

		wantOK := false
		var wantX, wantY int
	search:
		for sx := qx; sx < sizeclass.XLevels; sx++ {
			startY := 0
			if sx == qx {
				startY = qy
			}
			for sy := startY; sy < sizeclass.YSize; sy++ {
				if occupied[sx][sy] {
					wantOK, wantX, wantY = true, sx, sy
					break search
				}
			}
		}

		gotX, gotY, gotOK := bitmap.FirstAvailable(qx, qy)
		require.Equal(t, wantOK, gotOK)
		if wantOK {
			require.Equal(t, wantX, gotX)
			require.Equal(t, wantY, gotY)
		}
	}
}
