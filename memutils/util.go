package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment. Alignment must be a power of two;
// an alignment of 0 leaves the value untouched.
func AlignUp[T Number](value T, alignment T) T {
	if alignment == 0 {
		return value
	}
	return (value + alignment - 1) & ^(alignment - 1)
}

// AlignDown rounds value down to a multiple of alignment
func AlignDown[T Number](value T, alignment T) T {
	if alignment == 0 {
		return value
	}
	return value & ^(alignment - 1)
}

func IsAligned[T Number](value T, alignment T) bool {
	return AlignDown(value, alignment) == value
}
