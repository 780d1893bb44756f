package utils

import "math"

// UnsignedMax is the largest value representable in bitLen unsigned bits.
func UnsignedMax(bitLen int) uint64 {
	if bitLen <= 0 {
		return 0
	}
	if bitLen >= 64 {
		return math.MaxUint64
	}
	return uint64(1)<<bitLen - 1
}

// SignedRange is the two's complement range of a bitLen wide field.
func SignedRange(bitLen int) (int64, int64) {
	if bitLen <= 0 {
		return 0, 0
	}
	if bitLen >= 64 {
		return math.MinInt64, math.MaxInt64
	}
	min := -int64(1) << (bitLen - 1)
	max := int64(1)<<(bitLen-1) - 1
	return min, max
}
