package skvm

import (
	"bytes"
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/skvm/internal/engine/interpreter"
	"github.com/tetratelabs/skvm/internal/platform"
)

// plusOne returns a program adding 1 to each 32-bit element of its argument.
func plusOne(cfg Config) *Program {
	b := NewBuilder()
	buf := b.Varying(4)
	b.Store32(buf, b.AddI32(b.Load32(buf), b.Splat(1)))
	return b.DoneWithConfig(cfg)
}

func testConfigs() []struct {
	name string
	cfg  Config
} {
	return []struct {
		name string
		cfg  Config
	}{
		{name: "interpreter", cfg: NewConfigInterpreter()},
		{name: "compiler", cfg: NewConfigCompiler()},
		{name: "compiler not hoisted", cfg: NewConfigCompiler().WithHoisting(false)},
	}
}

func TestProgram_StrideBoundaries(t *testing.T) {
	for _, tc := range testConfigs() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			p := plusOne(tc.cfg)
			const max = 4*interpreter.Lanes + 1
			for n := 0; n <= max; n++ {
				buf := make([]int32, max+8)
				for i := range buf {
					buf[i] = int32(i)
				}
				p.Eval(n, Ptr(buf))
				for i, v := range buf {
					if i < n {
						require.Equal(t, int32(i+1), v, "n=%d element %d", n, i)
					} else {
						require.Equal(t, int32(i), v, "n=%d element %d", n, i)
					}
				}
			}
		})
	}
}

func TestProgram_TooFewArgs(t *testing.T) {
	p := plusOne(NewConfig())
	require.PanicsWithValue(t, "program takes 1 arguments but 0 were given", func() {
		p.Eval(1)
	})
}

func TestProgram_JIT(t *testing.T) {
	p := plusOne(NewConfigInterpreter())
	buf := []int32{1, 2, 3}
	p.Eval(len(buf), Ptr(buf))
	require.False(t, p.HasJIT())

	err := p.JIT()
	if !platform.CompilerSupported() {
		require.ErrorIs(t, err, ErrJITUnsupported)
		require.False(t, p.HasJIT())
		return
	}
	require.NoError(t, err)
	require.True(t, p.HasJIT())
	p.Eval(len(buf), Ptr(buf))
	require.Equal(t, []int32{3, 4, 5}, buf)

	p.DropJIT()
	require.False(t, p.HasJIT())
	require.ErrorIs(t, p.JIT(), ErrJITUnsupported)
	p.Eval(len(buf), Ptr(buf))
	require.Equal(t, []int32{4, 5, 6}, buf)

	// Dropping twice is fine.
	p.DropJIT()
}

func TestProgram_EvalCompiles(t *testing.T) {
	p := plusOne(NewConfigCompiler())
	buf := []int32{1, 2, 3}
	p.Eval(len(buf), Ptr(buf))
	require.Equal(t, []int32{2, 3, 4}, buf)
	require.Equal(t, platform.CompilerSupported(), p.HasJIT())

	// The loop runs more than once and ends in the scalar tail.
	buf = make([]int32, 2*interpreter.Lanes+3)
	p.Eval(len(buf), Ptr(buf))
	for i, v := range buf {
		require.Equal(t, int32(1), v, "element %d", i)
	}
}

func TestProgram_JITUnsupported(t *testing.T) {
	b := NewBuilder()
	table, index, dst := b.Uniform(), b.Varying(4), b.Varying(4)
	b.Store32(dst, b.Gather8(table, b.Load32(index)))
	p := b.Done()

	err := p.JIT()
	require.ErrorIs(t, err, ErrJITUnsupported)
	require.False(t, p.HasJIT())

	table8 := []byte{10, 20, 30, 40}
	indices := []uint32{3, 0, 2}
	out := make([]uint32, 3)
	p.Eval(3, Ptr(table8), Ptr(indices), Ptr(out))
	require.Equal(t, []uint32{40, 10, 30}, out)
}

func TestProgram_DropJITBeforeEval(t *testing.T) {
	p := plusOne(NewConfig())
	p.DropJIT()
	buf := []int32{1}
	p.Eval(1, Ptr(buf))
	require.Equal(t, []int32{2}, buf)
	require.False(t, p.HasJIT())
}

func TestProgram_Accessors(t *testing.T) {
	b := NewBuilder()
	src, uniforms, dst := b.Varying(2), b.Uniform(), b.Varying(1)
	x := b.AddI32(b.Load16(src), b.Uniform16(uniforms, 2))
	b.Store8(dst, x)
	p := b.Done()

	require.Equal(t, []int{2, 0, 1}, p.Strides())
	require.False(t, p.Empty())
	require.Equal(t, 1, p.Loop())
	require.Equal(t, 2, p.NRegs())
	require.Equal(t, 4, len(p.Instructions()))
	require.Equal(t, NoReg, p.Instructions()[3].D)

	// Strides returns a copy.
	p.Strides()[0] = 42
	require.Equal(t, 2, p.Strides()[0])

	var out bytes.Buffer
	require.NoError(t, p.Dump(&out))
	require.Equal(t, `2 registers, 4 instructions:
0	r0 = uniform16 arg(1) +2
loop:
1	r1 = load16 arg(0)
2	r1 = add_i32 r1 r0
3	store8 r1 arg(2)
`, out.String())
}

func TestProgram_Eval(t *testing.T) {
	for _, tc := range testConfigs() {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuilder()
			src, uniforms, dst := b.Varying(2), b.Uniform(), b.Varying(1)
			sum := b.AddI32(b.Load16(src), b.Uniform16(uniforms, 2))
			// Saturate to 255.
			sum = b.Select(b.GtI32(sum, b.Splat(255)), b.Splat(255), sum)
			// The last element, where one element is left, is decremented.
			last := b.EqI32(b.Index(), b.Splat(1))
			b.Store8(dst, b.AddI32(sum, last))
			p := b.DoneWithConfig(tc.cfg)

			for _, n := range []int{0, 1, 7, 8, 9, 31, 64, 100} {
				srcs := make([]uint16, n)
				for i := range srcs {
					srcs[i] = uint16(i * 5)
				}
				out := make([]byte, n+1)
				out[n] = 0xee
				p.Eval(n, Ptr(srcs), Ptr([]uint16{0, 7}), Ptr(out))

				for i := 0; i < n; i++ {
					expected := i*5 + 7
					if expected > 255 {
						expected = 255
					}
					if i == n-1 {
						expected--
					}
					require.Equal(t, byte(expected), out[i], fmt.Sprintf("n=%d element %d", n, i))
				}
				require.Equal(t, byte(0xee), out[n])
			}
		})
	}
}

func TestPtr(t *testing.T) {
	require.Equal(t, unsafe.Pointer(nil), Ptr([]int(nil)))
	s := []uint64{1, 2}
	require.Equal(t, unsafe.Pointer(&s[0]), Ptr(s))
}
