package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is returned from CheckPow2 when a layer size or alignment is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// InvalidSizeError is returned when a region of zero or negative width or height is requested
var InvalidSizeError error = errors.New("region dimensions must be positive")
