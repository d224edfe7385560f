package skvm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// srcoverF32 composites premultiplied src over dst, both 8888, in floating point.
func srcoverF32(b *Builder) {
	src, dst := b.Varying(4), b.Varying(4)

	unpack := func(ptr Arg) (c [4]F32) {
		x := b.Load32(ptr)
		for i := range c {
			ch := b.Extract(x, 8*i, b.Splat(0xff))
			c[i] = b.MulF32(b.ToF32(ch), b.SplatF32(1/255.0))
		}
		return
	}
	s, d := unpack(src), unpack(dst)

	invA := b.SubF32(b.SplatF32(1), s[3])
	var out I32
	for i := range s {
		ch := b.Round(b.MulF32(b.MadF32(d[i], invA, s[i]), b.SplatF32(255)))
		if i == 0 {
			out = ch
		} else {
			out = b.Pack(out, ch, 8*i)
		}
	}
	b.Store32(dst, out)
}

// srcoverI32 is srcoverF32 in 8-bit fixed point, approximating x/255 with (x+x>>8)>>8.
func srcoverI32(b *Builder) {
	src, dst := b.Varying(4), b.Varying(4)
	s, d := b.Load32(src), b.Load32(dst)

	invA := b.SubI32(b.Splat(0xff), b.ShrI32(s, 24))
	var out I32
	for i := 0; i < 4; i++ {
		sc := b.Extract(s, 8*i, b.Splat(0xff))
		dc := b.Extract(d, 8*i, b.Splat(0xff))
		scaled := b.MulI32(dc, invA)
		ch := b.AddI32(sc, b.ShrI32(b.AddI32(scaled, dc), 8))
		if i == 0 {
			out = ch
		} else {
			out = b.Pack(out, ch, 8*i)
		}
	}
	b.Store32(dst, out)
}

// srcoverI16x2 is srcoverI32 operating on two channels per 16-bit pair.
func srcoverI16x2(b *Builder) {
	src, dst := b.Varying(4), b.Varying(4)
	s, d := b.Load32(src), b.Load32(dst)

	mask := b.Splat(0x00ff00ff)
	invA := b.SubI32(b.Splat(0xff), b.ShrI32(s, 24))
	invA2 := b.Pack(invA, invA, 16)

	blend := func(sc, dc I32) I32 {
		scaled := b.AddI16x2(b.MulI16x2(dc, invA2), dc)
		return b.AddI16x2(sc, b.ShrI16x2(scaled, 8))
	}
	rb := blend(b.BitAnd(s, mask), b.BitAnd(d, mask))
	ga := blend(b.Extract(s, 8, mask), b.Extract(d, 8, mask))
	b.Store32(dst, b.Pack(rb, ga, 8))
}

func requireChannelsNear(t *testing.T, expected, actual uint32, tolerance int, msg string) {
	for i := 0; i < 4; i++ {
		e, a := int(expected>>(8*i)&0xff), int(actual>>(8*i)&0xff)
		diff := e - a
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(t, diff, tolerance, "%s: %#08x vs %#08x", msg, expected, actual)
	}
}

func TestSrcover(t *testing.T) {
	const (
		src      = 0xbb007733
		dst      = 0xffaaccee
		expected = 0xff2dad73
	)

	tests := []struct {
		name      string
		build     func(*Builder)
		tolerance int
	}{
		{name: "f32", build: srcoverF32, tolerance: 2},
		{name: "i32", build: srcoverI32},
		{name: "i16x2", build: srcoverI16x2},
	}

	for _, tc := range tests {
		tc := tc
		for _, cfg := range []struct {
			name string
			cfg  Config
		}{
			{name: "interpreter", cfg: NewConfigInterpreter()},
			{name: "default", cfg: NewConfig()},
			{name: "not hoisted", cfg: NewConfig().WithHoisting(false)},
		} {
			cfg := cfg
			t.Run(fmt.Sprintf("%s %s", tc.name, cfg.name), func(t *testing.T) {
				b := NewBuilder()
				tc.build(b)
				p := b.DoneWithConfig(cfg.cfg)

				for _, n := range []int{1, 3, 8, 17, 32} {
					srcs, dsts := make([]uint32, n), make([]uint32, n)
					for i := range srcs {
						srcs[i], dsts[i] = src, dst
					}
					p.Eval(n, Ptr(srcs), Ptr(dsts))
					for i, got := range dsts {
						requireChannelsNear(t, expected, got, tc.tolerance, fmt.Sprintf("n=%d element %d", n, i))
					}
				}
			})
		}
	}
}

// TestSrcover_JITMatchesInterpreter evaluates srcover over many colors. The fixed point
// versions only use integer operations, so compiled code must match exactly.
func TestSrcover_JITMatchesInterpreter(t *testing.T) {
	for _, tc := range []struct {
		build     func(*Builder)
		tolerance int
	}{
		{build: srcoverI32},
		{build: srcoverI16x2},
		{build: srcoverF32, tolerance: 1},
	} {
		b := NewBuilder()
		tc.build(b)
		jit, interp := b.Done(), b.DoneWithConfig(NewConfigInterpreter())
		if err := jit.JIT(); err != nil {
			require.ErrorIs(t, err, ErrJITUnsupported)
			t.Skip(err)
		}

		const n = 1021
		srcs, jitDst, interpDst := make([]uint32, n), make([]uint32, n), make([]uint32, n)
		for i := range srcs {
			srcs[i] = uint32(i) * 0x9e3779b9
			// premultiplied: no channel exceeds alpha
			a := srcs[i] >> 24
			for c := 0; c < 24; c += 8 {
				if srcs[i]>>c&0xff > a {
					srcs[i] = srcs[i]&^(0xff<<c) | a<<c
				}
			}
			jitDst[i] = uint32(i) * 0x85ebca6b
			interpDst[i] = jitDst[i]
		}
		jit.Eval(n, Ptr(srcs), Ptr(jitDst))
		interp.Eval(n, Ptr(srcs), Ptr(interpDst))
		for i := range jitDst {
			requireChannelsNear(t, interpDst[i], jitDst[i], tc.tolerance, fmt.Sprintf("element %d", i))
		}
	}
}
