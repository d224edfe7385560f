package moremath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMinF32(t *testing.T) {
	require.Equal(t, float32(-1.1), MinF32(-1.1, 123))
	require.Equal(t, float32(-1.1), MinF32(-1.1, float32(math.Inf(1))))
	require.Equal(t, float32(math.Inf(-1)), MinF32(float32(math.Inf(-1)), 123))

	// NaN in either position yields the second operand.
	nan := float32(math.NaN())
	require.Equal(t, float32(1.0), MinF32(nan, 1.0))
	require.True(t, math.IsNaN(float64(MinF32(1.0, nan))))

	// Signed zeros compare equal, so the second operand wins.
	negZero := float32(math.Copysign(0, -1))
	require.False(t, math.Signbit(float64(MinF32(negZero, 0))))
	require.True(t, math.Signbit(float64(MinF32(0, negZero))))
}

func TestMaxF32(t *testing.T) {
	require.Equal(t, float32(123.1), MaxF32(-1.1, 123.1))
	require.Equal(t, float32(math.Inf(1)), MaxF32(-1.1, float32(math.Inf(1))))
	require.Equal(t, float32(123.1), MaxF32(float32(math.Inf(-1)), 123.1))

	nan := float32(math.NaN())
	require.Equal(t, float32(1.0), MaxF32(nan, 1.0))
	require.True(t, math.IsNaN(float64(MaxF32(1.0, nan))))
}

func TestTruncI32(t *testing.T) {
	for _, tc := range []struct {
		in  float32
		exp int32
	}{
		{in: 0, exp: 0},
		{in: 1.9, exp: 1},
		{in: -1.9, exp: -1},
		{in: 2147483520, exp: 2147483520},
		{in: 2147483648, exp: math.MinInt32},
		{in: -2147483648, exp: math.MinInt32},
		{in: float32(math.Inf(1)), exp: math.MinInt32},
		{in: float32(math.NaN()), exp: math.MinInt32},
	} {
		require.Equal(t, tc.exp, TruncI32(tc.in), tc.in)
	}
}

func TestRoundI32(t *testing.T) {
	for _, tc := range []struct {
		in  float32
		exp int32
	}{
		{in: 0.5, exp: 0},
		{in: 1.5, exp: 2},
		{in: 2.5, exp: 2},
		{in: -1.5, exp: -2},
		{in: -4.5, exp: -4},
		{in: 254.6, exp: 255},
		{in: float32(math.NaN()), exp: math.MinInt32},
	} {
		require.Equal(t, tc.exp, RoundI32(tc.in), tc.in)
	}
}

func TestSqrtF32(t *testing.T) {
	require.Equal(t, float32(3), SqrtF32(9))
	require.True(t, math.IsNaN(float64(SqrtF32(-1))))
}

func TestMadF32(t *testing.T) {
	require.Equal(t, float32(7), MadF32(2, 3, 1))
}
