// Package mathx holds small generic helpers for normalising settings.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// OrDefault returns def when v is the zero value.
func OrDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// ClampOrDefault applies OrDefault, then Clamp.
func ClampOrDefault[T constraints.Ordered](v, def, lo, hi T) T {
	return Clamp(OrDefault(v, def), lo, hi)
}
