// Package moremath holds the scalar definitions of the lane-wise math the
// interpreter evaluates, matching what the vector instructions emitted by the
// compiler produce.
package moremath

import "math"

// MinF32 follows x86 MINPS: when either operand is NaN, or both are zero, y is returned.
func MinF32(x, y float32) float32 {
	if x < y {
		return x
	}
	return y
}

// MaxF32 follows x86 MAXPS: when either operand is NaN, or both are zero, y is returned.
func MaxF32(x, y float32) float32 {
	if x > y {
		return x
	}
	return y
}

// TruncI32 converts x to int32 rounding toward zero.
//
// NaN and values out of the int32 range produce math.MinInt32, the x86 "integer indefinite" value.
func TruncI32(x float32) int32 {
	return toI32(math.Trunc(float64(x)))
}

// RoundI32 converts x to int32 rounding to the nearest integer, ties to even.
//
// NaN and values out of the int32 range produce math.MinInt32.
func RoundI32(x float32) int32 {
	return toI32(math.RoundToEven(float64(x)))
}

func toI32(v float64) int32 {
	if math.IsNaN(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// SqrtF32 is the correctly rounded float32 square root.
//
// Rounding the float64 result once more is exact for square roots.
func SqrtF32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// MadF32 returns x*y+z with the product rounded to float32 before the addition.
func MadF32(x, y, z float32) float32 {
	return float32(x*y) + z
}
