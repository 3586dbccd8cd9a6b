package ptrs

import "time"

// Ptr is the "&T(v)" you always wanted.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the pointed-to value, or the zero value for nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// TimePtr is the &time.Now().UTC() you always wanted.
func TimePtr(val time.Time) *time.Time {
	return &val
}
