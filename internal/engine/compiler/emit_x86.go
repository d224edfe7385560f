package compiler

import (
	"encoding/binary"
	"math"

	"github.com/tetratelabs/skvm/internal/asm"
	"github.com/tetratelabs/skvm/internal/asm/amd64"
	"github.com/tetratelabs/skvm/internal/ir"
)

// x86 register usage:
//   - RDI holds the number of elements left and RSI the argument array.
//   - x86ArgRegs hold the argument pointers.
//   - RAX is a scratch register.
//   - YMM0 to YMM13 hold program registers, YMM14 and YMM15 are scratch registers.
//
// RSP, RBP and R14 (the goroutine pointer) are never touched.
var x86ArgRegs = [...]amd64.GP{
	amd64.RDX, amd64.RCX, amd64.R8, amd64.R9, amd64.R10, amd64.R11, amd64.R12, amd64.R13, amd64.R15, amd64.RBX,
}

const (
	x86Lanes   = 8
	x86MaxRegs = 14
	x86Tmp     = amd64.YMM15
	x86Tmp2    = amd64.YMM14
)

type x86Emitter struct {
	a   *amd64.Assembler
	fma bool

	// The constant pool, emitted after the code in insertion order.
	splats     map[uint32]*asm.Label
	splatOrder []uint32
	tables     map[[32]byte]*asm.Label
	tableOrder [][32]byte
}

func newX86Emitter(fma bool) *x86Emitter {
	return &x86Emitter{
		a:      amd64.NewAssembler(),
		fma:    fma,
		splats: map[uint32]*asm.Label{},
		tables: map[[32]byte]*asm.Label{},
	}
}

func (e *x86Emitter) lanes() int { return x86Lanes }

func (e *x86Emitter) buffer() *asm.Buffer { return &e.a.Buffer }

func (e *x86Emitter) check(p *ir.Program) error {
	if err := checkOps(p); err != nil {
		return err
	}
	if p.NRegs > x86MaxRegs {
		return unsupported("%d registers needed, %d available", p.NRegs, x86MaxRegs)
	}
	if n := len(p.Strides); n > len(x86ArgRegs) {
		return unsupported("%d arguments, at most %d supported", n, len(x86ArgRegs))
	}
	for _, s := range p.Strides {
		if s < 0 || int64(s)*x86Lanes > math.MaxInt32 {
			return unsupported("stride %d", s)
		}
	}
	for i := range p.Instructions {
		inst := &p.Instructions[i]
		switch inst.Op {
		case ir.OpUniform8, ir.OpUniform16, ir.OpUniform32:
			if inst.ImmZ < 0 || inst.ImmZ > math.MaxInt32 {
				return unsupported("uniform offset %d", inst.ImmZ)
			}
		}
	}
	return nil
}

func (e *x86Emitter) prologue(nargs int) {
	for i := 0; i < nargs; i++ {
		e.a.MOVQ(x86ArgRegs[i], amd64.Mem{Base: amd64.RSI, Disp: int32(8 * i)})
	}
}

func (e *x86Emitter) loopHead(stride int, exit *asm.Label) {
	e.a.CMPQ(amd64.RDI, int32(stride))
	e.a.JLT(exit)
}

func (e *x86Emitter) loopTail(stride int, strides []int, top *asm.Label) {
	for i, s := range strides {
		if s != 0 {
			e.a.ADDQ(x86ArgRegs[i], int32(stride*s))
		}
	}
	e.a.SUBQ(amd64.RDI, int32(stride))
	e.a.JMP(top)
}

func (e *x86Emitter) epilogue() {
	a := e.a
	a.VZEROUPPER()
	a.RET()

	a.Align(32)
	for _, t := range e.tableOrder {
		a.Label(e.tables[t])
		a.AppendBytes(t[:]...)
	}
	for _, v := range e.splatOrder {
		a.Label(e.splats[v])
		a.AppendUint32(v)
	}
}

// splat returns the operand of a 4-byte constant in the pool.
func (e *x86Emitter) splat(v uint32) amd64.Operand {
	l, ok := e.splats[v]
	if !ok {
		l = &asm.Label{}
		e.splats[v] = l
		e.splatOrder = append(e.splatOrder, v)
	}
	return amd64.RIP(l)
}

// table returns the operand of a 32-byte constant in the pool.
func (e *x86Emitter) table(t [32]byte) amd64.Operand {
	l, ok := e.tables[t]
	if !ok {
		l = &asm.Label{}
		e.tables[t] = l
		e.tableOrder = append(e.tableOrder, t)
	}
	return amd64.RIP(l)
}

func (e *x86Emitter) arg(i int) amd64.Mem {
	return amd64.Mem{Base: x86ArgRegs[i]}
}

// not inverts every bit of d.
func (e *x86Emitter) not(d amd64.Y) {
	e.a.VPCMPEQD(x86Tmp, x86Tmp, x86Tmp)
	e.a.VPXOR(d, d, x86Tmp)
}

func (e *x86Emitter) emit(inst *ir.ProgramInstruction, stride int) {
	a := e.a
	d, x, y, z := amd64.Y(inst.D), amd64.Y(inst.X), amd64.Y(inst.Y), amd64.Y(inst.Z)
	vector := stride > 1

	switch inst.Op {
	case ir.OpStore8:
		if vector {
			a.VPSHUFB(x86Tmp, x, e.table(x86Store8Table))
			a.VEXTRACTI128(x86Tmp2, x86Tmp, 1)
			a.VPOR(x86Tmp, x86Tmp, x86Tmp2)
			a.VMOVQStore(e.arg(inst.ImmY), x86Tmp)
		} else {
			a.VPEXTRB(e.arg(inst.ImmY), x, 0)
		}
	case ir.OpStore16:
		if vector {
			a.VPSHUFB(x86Tmp, x, e.table(x86Store16Table))
			a.VPERMQ(x86Tmp, x86Tmp, 0b00_00_10_00)
			a.VMOVDQUStore(e.arg(inst.ImmY), x86Tmp)
		} else {
			a.VPEXTRW(e.arg(inst.ImmY), x, 0)
		}
	case ir.OpStore32:
		if vector {
			a.VMOVUPSStore(e.arg(inst.ImmY), x)
		} else {
			a.VMOVDStore(e.arg(inst.ImmY), x)
		}

	case ir.OpIndex:
		a.VMOVD(d, amd64.RDI)
		if vector {
			a.VPBROADCASTD(d, d)
			a.VPSUBD(d, d, e.table(x86IotaTable))
		}
	case ir.OpLoad8:
		if vector {
			a.VPMOVZXBD(d, e.arg(inst.ImmY))
		} else {
			a.MOVZXB(amd64.RAX, e.arg(inst.ImmY))
			a.VMOVD(d, amd64.RAX)
		}
	case ir.OpLoad16:
		if vector {
			a.VPMOVZXWD(d, e.arg(inst.ImmY))
		} else {
			a.MOVZXW(amd64.RAX, e.arg(inst.ImmY))
			a.VMOVD(d, amd64.RAX)
		}
	case ir.OpLoad32:
		if vector {
			a.VMOVUPS(d, e.arg(inst.ImmY))
		} else {
			a.VMOVD(d, e.arg(inst.ImmY))
		}

	case ir.OpUniform8:
		a.MOVZXB(amd64.RAX, amd64.Mem{Base: x86ArgRegs[inst.ImmY], Disp: int32(inst.ImmZ)})
		a.VMOVD(d, amd64.RAX)
		a.VPBROADCASTD(d, d)
	case ir.OpUniform16:
		a.MOVZXW(amd64.RAX, amd64.Mem{Base: x86ArgRegs[inst.ImmY], Disp: int32(inst.ImmZ)})
		a.VMOVD(d, amd64.RAX)
		a.VPBROADCASTD(d, d)
	case ir.OpUniform32:
		a.VBROADCASTSS(d, amd64.Mem{Base: x86ArgRegs[inst.ImmY], Disp: int32(inst.ImmZ)})
	case ir.OpSplat:
		a.VBROADCASTSS(d, e.splat(uint32(inst.ImmY)))

	case ir.OpAddF32:
		a.VADDPS(d, x, y)
	case ir.OpSubF32:
		a.VSUBPS(d, x, y)
	case ir.OpMulF32:
		a.VMULPS(d, x, y)
	case ir.OpDivF32:
		a.VDIVPS(d, x, y)
	case ir.OpMinF32:
		a.VMINPS(d, x, y)
	case ir.OpMaxF32:
		a.VMAXPS(d, x, y)
	case ir.OpMadF32:
		e.mad(d, x, y, z)
	case ir.OpSqrtF32:
		a.VSQRTPS(d, x)

	case ir.OpAddI32:
		a.VPADDD(d, x, y)
	case ir.OpSubI32:
		a.VPSUBD(d, x, y)
	case ir.OpMulI32:
		a.VPMULLD(d, x, y)
	case ir.OpShlI32:
		a.VPSLLD(d, x, byte(inst.ImmY))
	case ir.OpShrI32:
		a.VPSRLD(d, x, byte(inst.ImmY))
	case ir.OpSraI32:
		a.VPSRAD(d, x, byte(inst.ImmY))

	case ir.OpAddI16x2:
		a.VPADDW(d, x, y)
	case ir.OpSubI16x2:
		a.VPSUBW(d, x, y)
	case ir.OpMulI16x2:
		a.VPMULLW(d, x, y)
	case ir.OpShlI16x2:
		a.VPSLLW(d, x, byte(inst.ImmY))
	case ir.OpShrI16x2:
		a.VPSRLW(d, x, byte(inst.ImmY))
	case ir.OpSraI16x2:
		a.VPSRAW(d, x, byte(inst.ImmY))

	case ir.OpBitAnd:
		a.VPAND(d, x, y)
	case ir.OpBitOr:
		a.VPOR(d, x, y)
	case ir.OpBitXor:
		a.VPXOR(d, x, y)
	case ir.OpBitClear:
		a.VPANDN(d, y, x)

	case ir.OpEqF32:
		a.VCMPPS(d, x, y, amd64.CmpEQ)
	case ir.OpNeqF32:
		a.VCMPPS(d, x, y, amd64.CmpNEQ)
	case ir.OpLtF32:
		a.VCMPPS(d, x, y, amd64.CmpLT)
	case ir.OpLteF32:
		a.VCMPPS(d, x, y, amd64.CmpLE)
	case ir.OpGtF32:
		a.VCMPPS(d, x, y, amd64.CmpGT)
	case ir.OpGteF32:
		a.VCMPPS(d, x, y, amd64.CmpGE)

	case ir.OpEqI32:
		a.VPCMPEQD(d, x, y)
	case ir.OpNeqI32:
		a.VPCMPEQD(d, x, y)
		e.not(d)
	case ir.OpLtI32:
		a.VPCMPGTD(d, y, x)
	case ir.OpLteI32:
		a.VPCMPGTD(d, x, y)
		e.not(d)
	case ir.OpGtI32:
		a.VPCMPGTD(d, x, y)
	case ir.OpGteI32:
		a.VPCMPGTD(d, y, x)
		e.not(d)

	case ir.OpSelect:
		a.VPBLENDVB(d, z, y, x)
	case ir.OpBytes:
		a.VPSHUFB(d, x, e.table(x86BytesTable(inst.ImmY)))
	case ir.OpExtract:
		a.VPSRLD(x86Tmp, x, byte(inst.ImmY))
		a.VPAND(d, x86Tmp, y)
	case ir.OpPack:
		a.VPSLLD(x86Tmp, y, byte(inst.ImmY))
		a.VPOR(d, x, x86Tmp)

	case ir.OpToF32:
		a.VCVTDQ2PS(d, x)
	case ir.OpTrunc:
		a.VCVTTPS2DQ(d, x)
	case ir.OpRound:
		a.VCVTPS2DQ(d, x)

	default:
		a.Errorf("%s not implemented", inst.Op)
	}
}

// mad sets d to x*y+z, picking the FMA form that overwrites the operand d aliases.
func (e *x86Emitter) mad(d, x, y, z amd64.Y) {
	a := e.a
	switch {
	case !e.fma:
		a.VMULPS(x86Tmp, x, y)
		a.VADDPS(d, x86Tmp, z)
	case d == z:
		a.VFMADD231PS(d, x, y)
	case d == x:
		a.VFMADD213PS(d, y, z)
	case d == y:
		a.VFMADD213PS(d, x, z)
	default:
		a.VMOVAPS(d, x)
		a.VFMADD213PS(d, y, z)
	}
}

var (
	// x86IotaTable holds 0, 1, ... 7 as 32-bit integers.
	x86IotaTable = func() (t [32]byte) {
		for i := 0; i < 8; i++ {
			binary.LittleEndian.PutUint32(t[4*i:], uint32(i))
		}
		return
	}()

	// x86Store16Table packs the low 16 bits of each lane in the low 64 bits of each 128-bit half.
	x86Store16Table = func() (t [32]byte) {
		for h := 0; h < 32; h += 16 {
			copy(t[h:], []byte{0, 1, 4, 5, 8, 9, 12, 13})
			for i := 8; i < 16; i++ {
				t[h+i] = 0x80
			}
		}
		return
	}()

	// x86Store8Table packs the low byte of each lane in bytes 0 to 3 of the low half
	// and 4 to 7 of the high half, so that OR-ing both halves gives all 8 bytes.
	x86Store8Table = func() (t [32]byte) {
		for i := range t {
			t[i] = 0x80
		}
		copy(t[0:], []byte{0, 4, 8, 12})
		copy(t[16+4:], []byte{0, 4, 8, 12})
		return
	}()
)

// x86BytesTable returns the VPSHUFB control applying a bytes op control to every lane.
func x86BytesTable(control int) (t [32]byte) {
	for lane := 0; lane < 8; lane++ {
		for i := 0; i < 4; i++ {
			sel := (control >> (4 * i)) & 0xf
			b := byte(0x80)
			if sel != 0 {
				// VPSHUFB indexes bytes within each 128-bit half.
				b = byte(4*(lane%4) + sel - 1)
			}
			t[4*lane+i] = b
		}
	}
	return
}
