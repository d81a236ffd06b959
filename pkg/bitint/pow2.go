// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two helpers used to size FFT frames and
analysis buffers.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations

Usage:

	// Normalise a configured FFT size into the supported range
	fftSize := bitint.ClampPowerOfTwo(1000, 32, 32768) // Returns 1024

	// Verify FFT window size is valid
	isValid := bitint.IsPowerOfTwo(windowSize)

----------------------------------------------------------------------

What this code does:

	NextPowerOfTwo returns the next power of 2 greater than or
	equal to size. For powers of 2, it returns the same value.

	The subtraction (size-1) is critical, without the subtraction,
	powers of 2 would be incorrectly doubled:

	- For input 8 (already a power of 2):
	  size-1 = 7 (binary 0111)
	  bits.Len64(7) = 3
	  1 << 3 = 8 (correctly preserves original power of 2)
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
// Examples:
//
//	Input  Output  Explanation
//	4      4      Already power of 2 (preserved)
//	5      8      Next power after 5
//	0      1      Handle zero case
//	-1     1      Handle negative case
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return int(1 << bits.Len64(uint64(size-1)))
}

// IsPowerOfTwo checks if n is a power of 2 using bit manipulation.
// The expression (n & (n-1)) == 0 works because powers of 2 have exactly
// one bit set.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// ClampPowerOfTwo rounds size up to a power of two and bounds the result to
// [lo, hi]. Both bounds must themselves be powers of two.
func ClampPowerOfTwo(size, lo, hi int) int {
	n := NextPowerOfTwo(size)
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
