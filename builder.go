package skvm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/dchest/siphash"

	"github.com/tetratelabs/skvm/internal/ir"
)

// Arg is a pointer argument of a program, passed to Program.Eval in declaration order.
type Arg struct {
	b  *Builder
	ix int
}

// I32 is a value holding a 32-bit integer, an i16x2 pair or a mask in each lane.
type I32 struct{ id ir.Val }

// F32 is a value holding a 32-bit float in each lane.
type F32 struct{ id ir.Val }

// Builder records the operations of a program as a graph of values.
//
// Values are deduplicated: requesting an operation equal to an existing one, after
// local simplifications, returns the existing value. A Builder is not safe for
// concurrent use.
type Builder struct {
	program []ir.Instruction
	index   map[ir.Instruction]ir.Val
	strides []int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{index: map[ir.Instruction]ir.Val{}}
}

// Arg declares a pointer argument whose consecutive elements are stride bytes apart.
// Loads and stores through it must use elements of stride bytes, and uniform reads
// and gathers need a stride of 0.
func (b *Builder) Arg(stride int) Arg {
	if stride < 0 {
		panic(fmt.Sprintf("negative stride %d", stride))
	}
	b.strides = append(b.strides, stride)
	return Arg{b: b, ix: len(b.strides) - 1}
}

// Varying declares an argument pointing to an array of elements of size bytes.
func (b *Builder) Varying(size int) Arg { return b.Arg(size) }

// Uniform declares an argument pointing to data shared by all elements.
func (b *Builder) Uniform() Arg { return b.Arg(0) }

// Len returns the number of values recorded so far, including dead ones.
func (b *Builder) Len() int { return len(b.program) }

func (b *Builder) arg(a Arg) int {
	if a.b != b {
		panic(fmt.Sprintf("argument %d belongs to another builder", a.ix))
	}
	return a.ix
}

// varying checks that ptr is laid out as consecutive elements of size bytes.
func (b *Builder) varying(ptr Arg, op ir.Op, size int) int {
	ix := b.arg(ptr)
	if stride := b.strides[ix]; stride != size {
		panic(fmt.Sprintf("%s of %d-byte elements through argument %d of stride %d", op, size, ix, stride))
	}
	return ix
}

// uniform checks that ptr does not advance between elements.
func (b *Builder) uniform(ptr Arg, op ir.Op) int {
	ix := b.arg(ptr)
	if stride := b.strides[ix]; stride != 0 {
		panic(fmt.Sprintf("%s through argument %d of stride %d, not a uniform", op, ix, stride))
	}
	return ix
}

func (b *Builder) splat(v ir.Val) (int32, bool) {
	if inst := &b.program[v]; inst.Op == ir.OpSplat {
		return int32(inst.ImmY), true
	}
	return 0, false
}

// push records inst and returns its value, or an existing value equal to it.
func (b *Builder) push(op ir.Op, x, y, z ir.Val, immY, immZ int) ir.Val {
	inst := ir.Instruction{Op: op, X: x, Y: y, Z: z, ImmY: immY, ImmZ: immZ}
	for {
		next, v := ir.Simplify(inst, b.splat)
		if v != ir.NA {
			return v
		}
		if next == inst {
			break
		}
		inst = next
	}

	dedup := !inst.Op.HasSideEffect() && !inst.Op.TouchesMemory()
	if dedup {
		if v, ok := b.index[inst]; ok {
			return v
		}
	}
	id := ir.Val(len(b.program))
	b.program = append(b.program, inst)
	if dedup {
		b.index[inst] = id
	}
	return id
}

func (b *Builder) push0(op ir.Op, immY, immZ int) ir.Val {
	return b.push(op, ir.NA, ir.NA, ir.NA, immY, immZ)
}

func (b *Builder) push1(op ir.Op, x ir.Val, immY int) ir.Val {
	return b.push(op, x, ir.NA, ir.NA, immY, 0)
}

func (b *Builder) push2(op ir.Op, x, y ir.Val, immY int) ir.Val {
	return b.push(op, x, y, ir.NA, immY, 0)
}

func checkShift(bits, max int) {
	if bits < 0 || bits > max {
		panic(fmt.Sprintf("shift by %d out of range [0, %d]", bits, max))
	}
}

// AssertTrue checks that every lane of cond is true, reporting debug along with the
// failing lane. It records nothing unless built with the skvm_debug tag.
func (b *Builder) AssertTrue(cond, debug I32) {
	if ir.AssertionsEnabled {
		b.push2(ir.OpAssertTrue, cond.id, debug.id, 0)
	}
}

// Store8 writes the low 8 bits of each lane of v.
func (b *Builder) Store8(ptr Arg, v I32) { b.push1(ir.OpStore8, v.id, b.varying(ptr, ir.OpStore8, 1)) }

// Store16 writes the low 16 bits of each lane of v.
func (b *Builder) Store16(ptr Arg, v I32) { b.push1(ir.OpStore16, v.id, b.varying(ptr, ir.OpStore16, 2)) }

func (b *Builder) Store32(ptr Arg, v I32) { b.push1(ir.OpStore32, v.id, b.varying(ptr, ir.OpStore32, 4)) }

// Store64 writes lo and hi as the low and high halves of 64-bit elements.
func (b *Builder) Store64(ptr Arg, lo, hi I32) {
	b.push2(ir.OpStore64, lo.id, hi.id, b.varying(ptr, ir.OpStore64, 8))
}

// Store128 writes lo and hi into the 32-bit slots 2*lane and 2*lane+1 of 128-bit
// elements, with lane 0 or 1.
func (b *Builder) Store128(ptr Arg, lo, hi I32, lane int) {
	if lane < 0 || lane > 1 {
		panic(fmt.Sprintf("store128 lane %d out of range [0, 1]", lane))
	}
	b.push(ir.OpStore128, lo.id, hi.id, ir.NA, b.varying(ptr, ir.OpStore128, 16), lane)
}

// StoreF32 writes the bits of v.
func (b *Builder) StoreF32(ptr Arg, v F32) { b.Store32(ptr, b.BitcastI32(v)) }

// Index returns the number of elements left to evaluate, counting the current one.
func (b *Builder) Index() I32 { return I32{b.push0(ir.OpIndex, 0, 0)} }

// Load8 reads 8-bit elements, zero extended.
func (b *Builder) Load8(ptr Arg) I32 { return I32{b.push0(ir.OpLoad8, b.varying(ptr, ir.OpLoad8, 1), 0)} }

// Load16 reads 16-bit elements, zero extended.
func (b *Builder) Load16(ptr Arg) I32 { return I32{b.push0(ir.OpLoad16, b.varying(ptr, ir.OpLoad16, 2), 0)} }

func (b *Builder) Load32(ptr Arg) I32 { return I32{b.push0(ir.OpLoad32, b.varying(ptr, ir.OpLoad32, 4), 0)} }

// Load64 reads the low (lane 0) or high (lane 1) half of 64-bit elements.
func (b *Builder) Load64(ptr Arg, lane int) I32 {
	if lane < 0 || lane > 1 {
		panic(fmt.Sprintf("load64 lane %d out of range [0, 1]", lane))
	}
	return I32{b.push0(ir.OpLoad64, b.varying(ptr, ir.OpLoad64, 8), lane)}
}

// Load128 reads the 32-bit slot lane, from 0 to 3, of 128-bit elements.
func (b *Builder) Load128(ptr Arg, lane int) I32 {
	if lane < 0 || lane > 3 {
		panic(fmt.Sprintf("load128 lane %d out of range [0, 3]", lane))
	}
	return I32{b.push0(ir.OpLoad128, b.varying(ptr, ir.OpLoad128, 16), lane)}
}

// LoadF32 reads 32-bit elements as floats.
func (b *Builder) LoadF32(ptr Arg) F32 { return b.BitcastF32(b.Load32(ptr)) }

// Gather8 reads the 8-bit element at index of the table ptr points to.
func (b *Builder) Gather8(table Arg, index I32) I32 {
	return I32{b.push1(ir.OpGather8, index.id, b.uniform(table, ir.OpGather8))}
}

// Gather16 reads the 16-bit element at index of the table ptr points to.
func (b *Builder) Gather16(table Arg, index I32) I32 {
	return I32{b.push1(ir.OpGather16, index.id, b.uniform(table, ir.OpGather16))}
}

// Gather32 reads the 32-bit element at index of the table ptr points to.
func (b *Builder) Gather32(table Arg, index I32) I32 {
	return I32{b.push1(ir.OpGather32, index.id, b.uniform(table, ir.OpGather32))}
}

// Uniform8 reads the byte at offset of ptr, the same for all elements.
func (b *Builder) Uniform8(ptr Arg, offset int) I32 {
	return I32{b.push0(ir.OpUniform8, b.uniform(ptr, ir.OpUniform8), offset)}
}

// Uniform16 reads the 16-bit integer at offset of ptr, the same for all elements.
func (b *Builder) Uniform16(ptr Arg, offset int) I32 {
	return I32{b.push0(ir.OpUniform16, b.uniform(ptr, ir.OpUniform16), offset)}
}

// Uniform32 reads the 32-bit integer at offset of ptr, the same for all elements.
func (b *Builder) Uniform32(ptr Arg, offset int) I32 {
	return I32{b.push0(ir.OpUniform32, b.uniform(ptr, ir.OpUniform32), offset)}
}

// UniformF32 reads the float at offset of ptr, the same for all elements.
func (b *Builder) UniformF32(ptr Arg, offset int) F32 {
	return b.BitcastF32(b.Uniform32(ptr, offset))
}

// Splat returns a value holding n in every lane.
func (b *Builder) Splat(n int32) I32 { return I32{b.push0(ir.OpSplat, int(n), 0)} }

// SplatF32 returns a value holding f in every lane.
func (b *Builder) SplatF32(f float32) F32 {
	return F32{b.push0(ir.OpSplat, int(int32(math.Float32bits(f))), 0)}
}

// BitcastI32 reinterprets the bits of x as integers. It records no operation.
func (b *Builder) BitcastI32(x F32) I32 { return I32(x) }

// BitcastF32 reinterprets the bits of x as floats. It records no operation.
func (b *Builder) BitcastF32(x I32) F32 { return F32(x) }

func (b *Builder) AddF32(x, y F32) F32 { return F32{b.push2(ir.OpAddF32, x.id, y.id, 0)} }
func (b *Builder) SubF32(x, y F32) F32 { return F32{b.push2(ir.OpSubF32, x.id, y.id, 0)} }
func (b *Builder) MulF32(x, y F32) F32 { return F32{b.push2(ir.OpMulF32, x.id, y.id, 0)} }
func (b *Builder) DivF32(x, y F32) F32 { return F32{b.push2(ir.OpDivF32, x.id, y.id, 0)} }

// MinF32 returns x < y ? x : y, so y when either is NaN.
func (b *Builder) MinF32(x, y F32) F32 { return F32{b.push2(ir.OpMinF32, x.id, y.id, 0)} }

// MaxF32 returns x > y ? x : y, so y when either is NaN.
func (b *Builder) MaxF32(x, y F32) F32 { return F32{b.push2(ir.OpMaxF32, x.id, y.id, 0)} }

// MadF32 returns x*y+z. Compiled code may round the product and the sum only once.
func (b *Builder) MadF32(x, y, z F32) F32 {
	return F32{b.push(ir.OpMadF32, x.id, y.id, z.id, 0, 0)}
}

func (b *Builder) SqrtF32(x F32) F32 { return F32{b.push1(ir.OpSqrtF32, x.id, 0)} }

func (b *Builder) AddI32(x, y I32) I32 { return I32{b.push2(ir.OpAddI32, x.id, y.id, 0)} }
func (b *Builder) SubI32(x, y I32) I32 { return I32{b.push2(ir.OpSubI32, x.id, y.id, 0)} }
func (b *Builder) MulI32(x, y I32) I32 { return I32{b.push2(ir.OpMulI32, x.id, y.id, 0)} }

func (b *Builder) ShlI32(x I32, bits int) I32 {
	checkShift(bits, 31)
	return I32{b.push1(ir.OpShlI32, x.id, bits)}
}

func (b *Builder) ShrI32(x I32, bits int) I32 {
	checkShift(bits, 31)
	return I32{b.push1(ir.OpShrI32, x.id, bits)}
}

func (b *Builder) SraI32(x I32, bits int) I32 {
	checkShift(bits, 31)
	return I32{b.push1(ir.OpSraI32, x.id, bits)}
}

// AddI16x2 adds the low and high 16-bit halves of each lane independently.
func (b *Builder) AddI16x2(x, y I32) I32 { return I32{b.push2(ir.OpAddI16x2, x.id, y.id, 0)} }
func (b *Builder) SubI16x2(x, y I32) I32 { return I32{b.push2(ir.OpSubI16x2, x.id, y.id, 0)} }
func (b *Builder) MulI16x2(x, y I32) I32 { return I32{b.push2(ir.OpMulI16x2, x.id, y.id, 0)} }

func (b *Builder) ShlI16x2(x I32, bits int) I32 {
	checkShift(bits, 15)
	return I32{b.push1(ir.OpShlI16x2, x.id, bits)}
}

func (b *Builder) ShrI16x2(x I32, bits int) I32 {
	checkShift(bits, 15)
	return I32{b.push1(ir.OpShrI16x2, x.id, bits)}
}

func (b *Builder) SraI16x2(x I32, bits int) I32 {
	checkShift(bits, 15)
	return I32{b.push1(ir.OpSraI16x2, x.id, bits)}
}

func (b *Builder) BitAnd(x, y I32) I32 { return I32{b.push2(ir.OpBitAnd, x.id, y.id, 0)} }
func (b *Builder) BitOr(x, y I32) I32  { return I32{b.push2(ir.OpBitOr, x.id, y.id, 0)} }
func (b *Builder) BitXor(x, y I32) I32 { return I32{b.push2(ir.OpBitXor, x.id, y.id, 0)} }

// BitClear returns x & ^y.
func (b *Builder) BitClear(x, y I32) I32 { return I32{b.push2(ir.OpBitClear, x.id, y.id, 0)} }

// Comparisons return a mask: all bits set in the lanes where the comparison holds.

func (b *Builder) EqF32(x, y F32) I32  { return I32{b.push2(ir.OpEqF32, x.id, y.id, 0)} }
func (b *Builder) NeqF32(x, y F32) I32 { return I32{b.push2(ir.OpNeqF32, x.id, y.id, 0)} }
func (b *Builder) LtF32(x, y F32) I32  { return I32{b.push2(ir.OpLtF32, x.id, y.id, 0)} }
func (b *Builder) LteF32(x, y F32) I32 { return I32{b.push2(ir.OpLteF32, x.id, y.id, 0)} }
func (b *Builder) GtF32(x, y F32) I32  { return I32{b.push2(ir.OpGtF32, x.id, y.id, 0)} }
func (b *Builder) GteF32(x, y F32) I32 { return I32{b.push2(ir.OpGteF32, x.id, y.id, 0)} }

func (b *Builder) EqI32(x, y I32) I32  { return I32{b.push2(ir.OpEqI32, x.id, y.id, 0)} }
func (b *Builder) NeqI32(x, y I32) I32 { return I32{b.push2(ir.OpNeqI32, x.id, y.id, 0)} }
func (b *Builder) LtI32(x, y I32) I32  { return I32{b.push2(ir.OpLtI32, x.id, y.id, 0)} }
func (b *Builder) LteI32(x, y I32) I32 { return I32{b.push2(ir.OpLteI32, x.id, y.id, 0)} }
func (b *Builder) GtI32(x, y I32) I32  { return I32{b.push2(ir.OpGtI32, x.id, y.id, 0)} }
func (b *Builder) GteI32(x, y I32) I32 { return I32{b.push2(ir.OpGteI32, x.id, y.id, 0)} }

// Select returns t in the lanes where the mask cond is set, f elsewhere.
//
// cond must be a mask, such as the result of a comparison: compiled code may select
// bytes rather than bits.
func (b *Builder) Select(cond, t, f I32) I32 {
	return I32{b.push(ir.OpSelect, cond.id, t.id, f.id, 0, 0)}
}

// SelectF32 is Select over floats.
func (b *Builder) SelectF32(cond I32, t, f F32) F32 {
	return b.BitcastF32(b.Select(cond, b.BitcastI32(t), b.BitcastI32(f)))
}

// Bytes shuffles the bytes of each lane of x. Nibble i of control, from the least
// significant, selects output byte i: 0 produces zero and k from 1 to 4 copies input
// byte k-1.
func (b *Builder) Bytes(x I32, control int) I32 {
	if control < 0 || control > 0xffff {
		panic(fmt.Sprintf("bytes control %#x out of range", control))
	}
	for i := 0; i < 4; i++ {
		if sel := control >> (4 * i) & 0xf; sel > 4 {
			panic(fmt.Sprintf("bytes control %#x selects byte %d", control, sel))
		}
	}
	return I32{b.push1(ir.OpBytes, x.id, control)}
}

// Extract returns (x >> bits) & mask.
func (b *Builder) Extract(x I32, bits int, mask I32) I32 {
	checkShift(bits, 31)
	return I32{b.push2(ir.OpExtract, x.id, mask.id, bits)}
}

// Pack returns x | (y << bits).
func (b *Builder) Pack(x, y I32, bits int) I32 {
	checkShift(bits, 31)
	return I32{b.push2(ir.OpPack, x.id, y.id, bits)}
}

// ToF32 converts integers to floats.
func (b *Builder) ToF32(x I32) F32 { return F32{b.push1(ir.OpToF32, x.id, 0)} }

// ToI32 converts floats to integers, rounding toward zero. Equivalent to Trunc.
func (b *Builder) ToI32(x F32) I32 { return b.Trunc(x) }

// Trunc converts floats to integers, rounding toward zero. NaN and values out of the
// int32 range produce math.MinInt32.
func (b *Builder) Trunc(x F32) I32 { return I32{b.push1(ir.OpTrunc, x.id, 0)} }

// Round converts floats to integers, rounding to the nearest integer with ties to
// even. NaN and values out of the int32 range produce math.MinInt32.
func (b *Builder) Round(x F32) I32 { return I32{b.push1(ir.OpRound, x.id, 0)} }

// Dump writes the recorded values, marking the ones moved before the loop with ↑ and
// the dead ones with ☠.
func (b *Builder) Dump(w io.Writer) error {
	_, err := io.WriteString(w, ir.Format(b.program, true))
	return err
}

// Done schedules the recorded program with the default configuration.
func (b *Builder) Done() *Program {
	return b.DoneWithConfig(NewConfig())
}

// DoneWithConfig schedules the recorded program. The builder can keep recording
// afterwards: the returned Program is not affected.
func (b *Builder) DoneWithConfig(cfg Config) *Program {
	c := configOf(cfg)
	return newProgram(ir.Schedule(b.program, b.strides, c.hoist), c)
}

// fingerprint keys, chosen at random.
const (
	fingerprintK0 = 0x3e9d1a0c5b7f2864
	fingerprintK1 = 0x71c4e8b20f6a93d5
)

// Fingerprint returns a hash of the recorded program and argument strides. Builders
// recording the same operations in the same order have the same fingerprint.
func (b *Builder) Fingerprint() uint64 {
	buf := make([]byte, 0, 8+8*len(b.strides)+24*len(b.program))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(b.strides)))
	for _, s := range b.strides {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s))
	}
	for i := range b.program {
		inst := &b.program[i]
		buf = append(buf, byte(inst.Op))
		for _, v := range [...]ir.Val{inst.X, inst.Y, inst.Z} {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(inst.ImmY))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(inst.ImmZ))
	}
	return siphash.Hash(fingerprintK0, fingerprintK1, buf)
}
