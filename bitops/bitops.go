// Package bitops provides the bit manipulation helpers shared by the buddy
// and slab layers.
package bitops

import "github.com/cznic/mathutil"

// Pos returns the position of the highest set bit of n, or 0 when n is 0.
func Pos(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return uint32(mathutil.Log2Uint32(n))
}

// Log2 returns floor(log2(n)), or -1 when n is 0.
func Log2(n uint32) int {
	return mathutil.Log2Uint32(n)
}

// CeilLog2 returns the smallest k such that 1<<k >= n, or -1 when n is 0.
func CeilLog2(n uint32) int {
	if n == 0 {
		return -1
	}
	k := mathutil.Log2Uint32(n)
	if n&(n-1) != 0 {
		k++
	}
	return k
}

// NearestPowerOfTwo rounds n up to the next power of two. n must not exceed
// 1<<31; 0 stays 0.
func NearestPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return 1 << uint(CeilLog2(n))
}
