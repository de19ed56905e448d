// Package sizing converts between the unsigned sizes stored in an index and
// the signed integers used by io, failing instead of wrapping on overflow.
package sizing

import (
	"io"
	"math"
)

// ToInt64 converts n to int64, returning overflowErr if it does not fit.
func ToInt64(n uint64, overflowErr error) (int64, error) {
	if n > math.MaxInt64 {
		return 0, overflowErr
	}
	return int64(n), nil
}

// ToUint64 converts a non-negative n to uint64, returning overflowErr for
// negative values.
func ToUint64(n int64, overflowErr error) (uint64, error) {
	if n < 0 {
		return 0, overflowErr
	}
	return uint64(n), nil
}

// AddUint64 returns a+b, or false if the sum overflows.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// ReadAllWithLimit reads r to the end, returning overflowErr as soon as more
// than limit bytes are available.
func ReadAllWithLimit(r io.Reader, limit uint64, overflowErr error) ([]byte, error) {
	if limit >= math.MaxInt64 {
		return io.ReadAll(r)
	}
	lr := &io.LimitedReader{R: r, N: int64(limit) + 1} //nolint:gosec // checked above
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > limit {
		return nil, overflowErr
	}
	return data, nil
}
