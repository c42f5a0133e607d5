package control

import (
	"golang.org/x/exp/constraints"
)

// constrain clamps value to [lo, hi] and reports whether it had to.
func constrain[T constraints.Integer | constraints.Float](value, lo, hi T) (T, bool) {
	if value < lo {
		return lo, true
	}
	if value > hi {
		return hi, true
	}
	return value, false
}

// mapRange linearly maps value from [fromMin, fromMax] to [toMin, toMax].
func mapRange[T constraints.Float](value, fromMin, fromMax, toMin, toMax T) T {
	return (value-fromMin)/(fromMax-fromMin)*(toMax-toMin) + toMin
}
