package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

// CheckPow2 returns PowerOfTwoError wrapped with the offending name and value when number
// is not a positive power of two.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// SizeClass returns floor(log2(value)) for positive values and 0 otherwise. Region allocators
// use it to bucket free regions.
func SizeClass(value int) int {
	if value < 1 {
		return 0
	}
	return bits.Len(uint(value)) - 1
}
