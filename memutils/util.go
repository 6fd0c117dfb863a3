package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// CheckPow2 returns a wrapped PowerOfTwoError if number is not a power of two. Zero is
// accepted, callers that need a nonzero value check for it separately.
func CheckPow2[T constraints.Integer](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T constraints.Unsigned](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to a multiple of alignment, which must be a power of two
func AlignDown[T constraints.Unsigned](value T, alignment T) T {
	return value & ^(alignment - 1)
}

// DivideRoundingUp divides x by y and rounds any remainder up
func DivideRoundingUp[T constraints.Unsigned](x T, y T) T {
	return (x + y - 1) / y
}
