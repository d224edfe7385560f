package interpreter

import (
	"fmt"
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/skvm/internal/ir"
)

const na = ir.NoReg

func inst(op ir.Op, d, x, y, z ir.Reg, immY, immZ int) ir.ProgramInstruction {
	return ir.ProgramInstruction{Op: op, D: d, X: x, Y: y, Z: z, ImmY: immY, ImmZ: immZ}
}

func fb(f float32) uint32 {
	return math.Float32bits(f)
}

// plusOne is buf[i] += 1 over 32-bit elements, with the splat hoisted.
var plusOne = &ir.Program{
	Instructions: []ir.ProgramInstruction{
		inst(ir.OpSplat, 0, na, na, na, 1, 0),
		inst(ir.OpLoad32, 1, na, na, na, 0, 0),
		inst(ir.OpAddI32, 1, 1, 0, na, 0, 0),
		inst(ir.OpStore32, na, 1, na, na, 0, 0),
	},
	NRegs:   2,
	Loop:    1,
	Strides: []int{4},
}

func TestRun_StrideBoundaries(t *testing.T) {
	for n := 0; n <= 3*Lanes+1; n++ {
		n := n
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			buf := make([]uint32, 4*Lanes)
			for i := range buf {
				buf[i] = uint32(i) * 10
			}
			Run(plusOne, n, []unsafe.Pointer{unsafe.Pointer(&buf[0])})
			for i, v := range buf {
				exp := uint32(i) * 10
				if i < n {
					exp++
				}
				require.Equal(t, exp, v, "element %d", i)
			}
		})
	}
}

func TestRun_TooFewArgs(t *testing.T) {
	require.PanicsWithValue(t, "program takes 1 arguments but 0 were given", func() {
		Run(plusOne, 1, nil)
	})
}

func TestRun_Ops(t *testing.T) {
	nan := fb(float32(math.NaN()))

	tests := []struct {
		op         ir.Op
		immY, immZ int
		x, y, z    uint32
		exp        uint32
	}{
		{op: ir.OpAddF32, x: fb(1.5), y: fb(2.25), exp: fb(3.75)},
		{op: ir.OpSubF32, x: fb(1.5), y: fb(2.25), exp: fb(-0.75)},
		{op: ir.OpMulF32, x: fb(1.5), y: fb(-2), exp: fb(-3)},
		{op: ir.OpDivF32, x: fb(1), y: fb(0), exp: fb(float32(math.Inf(1)))},
		{op: ir.OpMinF32, x: nan, y: fb(1), exp: fb(1)},
		{op: ir.OpMinF32, x: fb(-1), y: fb(1), exp: fb(-1)},
		{op: ir.OpMaxF32, x: fb(1), y: nan, exp: nan},
		{op: ir.OpMaxF32, x: fb(-1), y: fb(1), exp: fb(1)},
		{op: ir.OpMadF32, x: fb(2), y: fb(3), z: fb(4), exp: fb(10)},
		{op: ir.OpSqrtF32, x: fb(9), exp: fb(3)},

		{op: ir.OpAddI32, x: 0xffffffff, y: 1, exp: 0},
		{op: ir.OpSubI32, x: 0, y: 1, exp: 0xffffffff},
		{op: ir.OpMulI32, x: 0x10001, y: 0x10000, exp: 0x10000},
		{op: ir.OpShlI32, immY: 4, x: 0x0f0f0f0f, exp: 0xf0f0f0f0},
		{op: ir.OpShrI32, immY: 31, x: 0x80000000, exp: 1},
		{op: ir.OpSraI32, immY: 31, x: 0x80000000, exp: 0xffffffff},

		{op: ir.OpAddI16x2, x: 0xffff0001, y: 0x00010001, exp: 0x00000002},
		{op: ir.OpSubI16x2, x: 0, y: 0x00010001, exp: 0xffffffff},
		{op: ir.OpMulI16x2, x: 0x00030002, y: 0x00050007, exp: 0x000f000e},
		{op: ir.OpShlI16x2, immY: 4, x: 0x80018001, exp: 0x00100010},
		{op: ir.OpShrI16x2, immY: 8, x: 0xff00ff00, exp: 0x00ff00ff},
		{op: ir.OpSraI16x2, immY: 8, x: 0x7f008000, exp: 0x007fff80},

		{op: ir.OpBitAnd, x: 0xff00ff00, y: 0x0ff00ff0, exp: 0x0f000f00},
		{op: ir.OpBitOr, x: 0xff00ff00, y: 0x0ff00ff0, exp: 0xfff0fff0},
		{op: ir.OpBitXor, x: 0xff00ff00, y: 0x0ff00ff0, exp: 0xf0f0f0f0},
		{op: ir.OpBitClear, x: 0xff00ff00, y: 0x0ff00ff0, exp: 0xf000f000},

		{op: ir.OpEqF32, x: fb(0), y: fb(float32(math.Copysign(0, -1))), exp: 0xffffffff},
		{op: ir.OpNeqF32, x: nan, y: nan, exp: 0xffffffff},
		{op: ir.OpLtF32, x: fb(1), y: fb(2), exp: 0xffffffff},
		{op: ir.OpLteF32, x: fb(2), y: fb(2), exp: 0xffffffff},
		{op: ir.OpGtF32, x: fb(1), y: fb(2), exp: 0},
		{op: ir.OpGteF32, x: nan, y: fb(2), exp: 0},
		{op: ir.OpEqI32, x: 7, y: 7, exp: 0xffffffff},
		{op: ir.OpNeqI32, x: 7, y: 7, exp: 0},
		{op: ir.OpLtI32, x: 0xffffffff, y: 1, exp: 0xffffffff},
		{op: ir.OpLteI32, x: 2, y: 1, exp: 0},
		{op: ir.OpGtI32, x: 1, y: 0x80000000, exp: 0xffffffff},
		{op: ir.OpGteI32, x: 0x80000000, y: 1, exp: 0},

		{op: ir.OpSelect, x: 0xffff0000, y: 0x12345678, z: 0x9abcdef0, exp: 0x1234def0},
		{op: ir.OpBytes, immY: 0x0321, x: 0xaabbccdd, exp: 0x00bbccdd},
		{op: ir.OpBytes, immY: 0x1111, x: 0xaabbccdd, exp: 0xdddddddd},
		{op: ir.OpExtract, immY: 8, x: 0xaabbccdd, y: 0xff, exp: 0xcc},
		{op: ir.OpPack, immY: 8, x: 0xff, y: 0xab, exp: 0xabff},

		{op: ir.OpToF32, x: 0xfffffffd, exp: fb(-3)},
		{op: ir.OpTrunc, x: fb(-2.7), exp: 0xfffffffe},
		{op: ir.OpTrunc, x: nan, exp: 0x80000000},
		{op: ir.OpTrunc, x: fb(3e9), exp: 0x80000000},
		{op: ir.OpRound, x: fb(2.5), exp: 2},
		{op: ir.OpRound, x: fb(3.5), exp: 4},
		{op: ir.OpRound, x: fb(-1.25), exp: 0xffffffff},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(fmt.Sprintf("%s %#x %#x %#x", tc.op, tc.x, tc.y, tc.z), func(t *testing.T) {
			regs := [3]ir.Reg{na, na, na}
			for i := 0; i < tc.op.NumArgs(); i++ {
				regs[i] = ir.Reg(i)
			}
			p := &ir.Program{
				Instructions: []ir.ProgramInstruction{
					inst(ir.OpLoad32, 0, na, na, na, 0, 0),
					inst(ir.OpLoad32, 1, na, na, na, 1, 0),
					inst(ir.OpLoad32, 2, na, na, na, 2, 0),
					inst(tc.op, 3, regs[0], regs[1], regs[2], tc.immY, tc.immZ),
					inst(ir.OpStore32, na, 3, na, na, 3, 0),
				},
				NRegs:   4,
				Strides: []int{4, 4, 4, 4},
			}

			// One full iteration followed by two single elements.
			const n = Lanes + 2
			xs, ys, zs, out := make([]uint32, n), make([]uint32, n), make([]uint32, n), make([]uint32, n)
			for i := 0; i < n; i++ {
				xs[i], ys[i], zs[i] = tc.x, tc.y, tc.z
			}
			Run(p, n, []unsafe.Pointer{
				unsafe.Pointer(&xs[0]), unsafe.Pointer(&ys[0]), unsafe.Pointer(&zs[0]), unsafe.Pointer(&out[0]),
			})
			for i, v := range out {
				require.Equal(t, tc.exp, v, "element %d: got %#x", i, v)
			}
		})
	}
}

func TestRun_Index(t *testing.T) {
	p := &ir.Program{
		Instructions: []ir.ProgramInstruction{
			inst(ir.OpIndex, 0, na, na, na, 0, 0),
			inst(ir.OpStore32, na, 0, na, na, 0, 0),
		},
		NRegs:   1,
		Strides: []int{4},
	}
	out := make([]uint32, 12)
	Run(p, 10, []unsafe.Pointer{unsafe.Pointer(&out[0])})
	require.Equal(t, []uint32{10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0, 0}, out)
}

func TestRun_NarrowMemory(t *testing.T) {
	// dst8[i] = src16[i] + uniform8, dst16[i] = src8[i]
	p := &ir.Program{
		Instructions: []ir.ProgramInstruction{
			inst(ir.OpUniform8, 0, na, na, na, 2, 1),
			inst(ir.OpLoad16, 1, na, na, na, 0, 0),
			inst(ir.OpAddI32, 1, 1, 0, na, 0, 0),
			inst(ir.OpStore8, na, 1, na, na, 1, 0),
			inst(ir.OpLoad8, 1, na, na, na, 1, 0),
			inst(ir.OpStore16, na, 1, na, na, 3, 0),
		},
		NRegs:   2,
		Loop:    1,
		Strides: []int{2, 1, 0, 2},
	}

	const n = Lanes + 3
	src := make([]uint16, n)
	for i := range src {
		src[i] = uint16(0x100*i + i)
	}
	dst8 := make([]byte, n+1)
	dst16 := make([]uint16, n+1)
	uniforms := []byte{0xee, 0x10}
	Run(p, n, []unsafe.Pointer{
		unsafe.Pointer(&src[0]), unsafe.Pointer(&dst8[0]), unsafe.Pointer(&uniforms[0]), unsafe.Pointer(&dst16[0]),
	})
	for i := 0; i < n; i++ {
		require.Equal(t, byte(i+0x10), dst8[i], i)
		require.Equal(t, uint16(i+0x10), dst16[i], i)
	}
	require.Zero(t, dst8[n])
	require.Zero(t, dst16[n])
}

func TestRun_WideMemory(t *testing.T) {
	// Swaps the two 32-bit halves of 64-bit elements, and writes them to the second
	// half of 128-bit elements.
	p := &ir.Program{
		Instructions: []ir.ProgramInstruction{
			inst(ir.OpLoad64, 0, na, na, na, 0, 0),
			inst(ir.OpLoad64, 1, na, na, na, 0, 1),
			inst(ir.OpStore64, na, 1, 0, na, 1, 0),
			inst(ir.OpStore128, na, 0, 1, na, 2, 1),
			inst(ir.OpLoad128, 0, na, na, na, 3, 3),
			inst(ir.OpStore32, na, 0, na, na, 4, 0),
		},
		NRegs:   2,
		Strides: []int{8, 8, 16, 16, 4},
	}

	const n = Lanes + 1
	src := make([]uint64, n)
	wide := make([]uint32, 4*n)
	for i := range src {
		src[i] = uint64(i)<<32 | uint64(0xf0+i)
		wide[4*i+3] = uint32(0xa0 + i)
	}
	swapped := make([]uint64, n)
	dst128 := make([]uint32, 4*n)
	dst32 := make([]uint32, n)
	Run(p, n, []unsafe.Pointer{
		unsafe.Pointer(&src[0]), unsafe.Pointer(&swapped[0]), unsafe.Pointer(&dst128[0]),
		unsafe.Pointer(&wide[0]), unsafe.Pointer(&dst32[0]),
	})
	for i := 0; i < n; i++ {
		require.Equal(t, uint64(0xf0+i)<<32|uint64(i), swapped[i], i)
		require.Equal(t, []uint32{0, 0, uint32(0xf0 + i), uint32(i)}, dst128[4*i:4*i+4], i)
		require.Equal(t, uint32(0xa0+i), dst32[i], i)
	}
}

func TestRun_Gather(t *testing.T) {
	p := &ir.Program{
		Instructions: []ir.ProgramInstruction{
			inst(ir.OpLoad32, 0, na, na, na, 0, 0),
			inst(ir.OpGather8, 1, 0, na, na, 1, 0),
			inst(ir.OpGather16, 2, 0, na, na, 2, 0),
			inst(ir.OpGather32, 0, 0, na, na, 3, 0),
			inst(ir.OpAddI32, 0, 0, 1, na, 0, 0),
			inst(ir.OpAddI32, 0, 0, 2, na, 0, 0),
			inst(ir.OpStore32, na, 0, na, na, 4, 0),
		},
		NRegs:   3,
		Strides: []int{4, 0, 0, 0, 4},
	}

	t8 := []byte{1, 2, 3, 4}
	t16 := []uint16{10, 20, 30, 40}
	t32 := []uint32{100, 200, 300, 400}
	ix := []uint32{3, 0, 2, 1, 1, 2, 0, 3, 3, 2}
	out := make([]uint32, len(ix))
	Run(p, len(ix), []unsafe.Pointer{
		unsafe.Pointer(&ix[0]), unsafe.Pointer(&t8[0]), unsafe.Pointer(&t16[0]), unsafe.Pointer(&t32[0]),
		unsafe.Pointer(&out[0]),
	})
	for i, j := range ix {
		require.Equal(t, uint32(t8[j])+uint32(t16[j])+t32[j], out[i], i)
	}
}

func TestRun_AssertTrue(t *testing.T) {
	p := &ir.Program{
		Instructions: []ir.ProgramInstruction{
			inst(ir.OpLoad32, 0, na, na, na, 0, 0),
			inst(ir.OpAssertTrue, na, 0, 0, na, 0, 0),
		},
		NRegs:   1,
		Strides: []int{4},
	}
	ok := []uint32{1, 2, 3}
	Run(p, len(ok), []unsafe.Pointer{unsafe.Pointer(&ok[0])})

	bad := []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 0}
	require.PanicsWithValue(t, "assert_true failed at instruction 1: lane 0 of r0 is 0x0, r0 is 0x0", func() {
		Run(p, len(bad), []unsafe.Pointer{unsafe.Pointer(&bad[0])})
	})
}

func TestBytes(t *testing.T) {
	for _, tc := range []struct {
		control int
		exp     uint32
	}{
		{control: 0x4321, exp: 0xaabbccdd},
		{control: 0x1234, exp: 0xddccbbaa},
		{control: 0x0000, exp: 0},
		{control: 0x0303, exp: 0x00bb00bb},
		{control: 0x4040, exp: 0xaa00aa00},
	} {
		require.Equal(t, tc.exp, Bytes(0xaabbccdd, tc.control), "%#x", tc.control)
	}
}
