package compiler

import (
	"encoding/binary"

	"github.com/tetratelabs/skvm/internal/asm"
	"github.com/tetratelabs/skvm/internal/asm/arm64"
	"github.com/tetratelabs/skvm/internal/ir"
)

// AArch64 register usage:
//   - X0 holds the number of elements left and X1 the argument array.
//   - aarch64ArgRegs hold the argument pointers.
//   - X16 is a scratch register.
//   - V0 to V29 hold program registers, V30 and V31 are scratch registers.
//
// X18 (platform), X28 (goroutine), X29 (frame pointer) and X30 (link register) are never touched.
var aarch64ArgRegs = [...]arm64.X{
	arm64.X2, arm64.X3, arm64.X4, arm64.X5, arm64.X6, arm64.X7, arm64.X8,
	arm64.X9, arm64.X10, arm64.X11, arm64.X12, arm64.X13, arm64.X14, arm64.X15,
}

const (
	aarch64Lanes   = 4
	aarch64MaxRegs = 30
	aarch64Tmp     = arm64.V31
	aarch64Scratch = arm64.X16
)

type aarch64Emitter struct {
	a *arm64.Assembler

	// The constant pool, emitted after the code in insertion order.
	consts     map[[16]byte]*asm.Label
	constOrder [][16]byte
}

func newAArch64Emitter() *aarch64Emitter {
	return &aarch64Emitter{
		a:      arm64.NewAssembler(),
		consts: map[[16]byte]*asm.Label{},
	}
}

func (e *aarch64Emitter) lanes() int { return aarch64Lanes }

func (e *aarch64Emitter) buffer() *asm.Buffer { return &e.a.Buffer }

func (e *aarch64Emitter) check(p *ir.Program) error {
	if err := checkOps(p); err != nil {
		return err
	}
	if p.NRegs > aarch64MaxRegs {
		return unsupported("%d registers needed, %d available", p.NRegs, aarch64MaxRegs)
	}
	if n := len(p.Strides); n > len(aarch64ArgRegs) {
		return unsupported("%d arguments, at most %d supported", n, len(aarch64ArgRegs))
	}
	for _, s := range p.Strides {
		// The pointers are advanced with a 12-bit immediate.
		if s < 0 || s*aarch64Lanes >= 1<<12 {
			return unsupported("stride %d", s)
		}
	}
	for i := range p.Instructions {
		inst := &p.Instructions[i]
		size := 0
		switch inst.Op {
		case ir.OpUniform8:
			size = 1
		case ir.OpUniform16:
			size = 2
		case ir.OpUniform32:
			size = 4
		default:
			continue
		}
		if off := inst.ImmZ; off < 0 || off%size != 0 || off/size >= 1<<12 {
			return unsupported("uniform offset %d for a %d-byte load", off, size)
		}
	}
	return nil
}

func (e *aarch64Emitter) prologue(nargs int) {
	for i := 0; i < nargs; i++ {
		e.a.LDRX(aarch64ArgRegs[i], arm64.X1, 8*i)
	}
}

func (e *aarch64Emitter) loopHead(stride int, exit *asm.Label) {
	e.a.CMP(arm64.X0, stride)
	e.a.BCond(arm64.CondLT, exit)
}

func (e *aarch64Emitter) loopTail(stride int, strides []int, top *asm.Label) {
	for i, s := range strides {
		if s != 0 {
			e.a.ADD(aarch64ArgRegs[i], aarch64ArgRegs[i], stride*s)
		}
	}
	e.a.SUB(arm64.X0, arm64.X0, stride)
	e.a.B(top)
}

func (e *aarch64Emitter) epilogue() {
	a := e.a
	a.RET()

	a.Align(16)
	for _, c := range e.constOrder {
		a.Label(e.consts[c])
		a.AppendBytes(c[:]...)
	}
}

// constant loads the 16-byte constant c from the pool into d.
func (e *aarch64Emitter) constant(d arm64.V, c [16]byte) {
	l, ok := e.consts[c]
	if !ok {
		l = &asm.Label{}
		e.consts[c] = l
		e.constOrder = append(e.constOrder, c)
	}
	e.a.LDRQLabel(d, l)
}

func (e *aarch64Emitter) splat(d arm64.V, v uint32) {
	var c [16]byte
	for i := 0; i < 16; i += 4 {
		binary.LittleEndian.PutUint32(c[i:], v)
	}
	e.constant(d, c)
}

func (e *aarch64Emitter) emit(inst *ir.ProgramInstruction, stride int) {
	a := e.a
	d, x, y, z := arm64.V(inst.D), arm64.V(inst.X), arm64.V(inst.Y), arm64.V(inst.Z)
	vector := stride > 1
	var arg arm64.X
	if inst.Op.UsesArg() {
		arg = aarch64ArgRegs[inst.ImmY]
	}

	switch inst.Op {
	case ir.OpStore8:
		if vector {
			a.XTN4H(aarch64Tmp, x)
			a.XTN8B(aarch64Tmp, aarch64Tmp)
			a.STRS(aarch64Tmp, arg, 0)
		} else {
			a.STRB(x, arg, 0)
		}
	case ir.OpStore16:
		if vector {
			a.XTN4H(aarch64Tmp, x)
			a.STRD(aarch64Tmp, arg, 0)
		} else {
			a.STRH(x, arg, 0)
		}
	case ir.OpStore32:
		if vector {
			a.STRQ(x, arg, 0)
		} else {
			a.STRS(x, arg, 0)
		}

	case ir.OpIndex:
		a.DUP4S(d, arm64.X0)
		if vector {
			e.constant(aarch64Tmp, aarch64IotaTable)
			a.SUB4S(d, d, aarch64Tmp)
		}
	case ir.OpLoad8:
		if vector {
			a.LDRS(d, arg, 0)
			a.UXTL8H(d, d)
			a.UXTL4S(d, d)
		} else {
			a.LDRB(d, arg, 0)
		}
	case ir.OpLoad16:
		if vector {
			a.LDRD(d, arg, 0)
			a.UXTL4S(d, d)
		} else {
			a.LDRH(d, arg, 0)
		}
	case ir.OpLoad32:
		if vector {
			a.LDRQ(d, arg, 0)
		} else {
			a.LDRS(d, arg, 0)
		}

	case ir.OpUniform8:
		a.LDRBW(aarch64Scratch, arg, inst.ImmZ)
		a.DUP4S(d, aarch64Scratch)
	case ir.OpUniform16:
		a.LDRHW(aarch64Scratch, arg, inst.ImmZ)
		a.DUP4S(d, aarch64Scratch)
	case ir.OpUniform32:
		a.LDRW(aarch64Scratch, arg, inst.ImmZ)
		a.DUP4S(d, aarch64Scratch)
	case ir.OpSplat:
		e.splat(d, uint32(inst.ImmY))

	case ir.OpAddF32:
		a.FADD4S(d, x, y)
	case ir.OpSubF32:
		a.FSUB4S(d, x, y)
	case ir.OpMulF32:
		a.FMUL4S(d, x, y)
	case ir.OpDivF32:
		a.FDIV4S(d, x, y)
	case ir.OpMinF32:
		a.FMIN4S(d, x, y)
	case ir.OpMaxF32:
		a.FMAX4S(d, x, y)
	case ir.OpMadF32:
		switch {
		case d == z:
			a.FMLA4S(d, x, y)
		case d != x && d != y:
			a.ORR16B(d, z, z)
			a.FMLA4S(d, x, y)
		default:
			a.ORR16B(aarch64Tmp, z, z)
			a.FMLA4S(aarch64Tmp, x, y)
			a.ORR16B(d, aarch64Tmp, aarch64Tmp)
		}
	case ir.OpSqrtF32:
		a.FSQRT4S(d, x)

	case ir.OpAddI32:
		a.ADD4S(d, x, y)
	case ir.OpSubI32:
		a.SUB4S(d, x, y)
	case ir.OpMulI32:
		a.MUL4S(d, x, y)
	case ir.OpShlI32:
		a.SHL4S(d, x, inst.ImmY)
	case ir.OpShrI32:
		e.shiftRight(a.USHR4S, d, x, inst.ImmY)
	case ir.OpSraI32:
		e.shiftRight(a.SSHR4S, d, x, inst.ImmY)

	case ir.OpAddI16x2:
		a.ADD8H(d, x, y)
	case ir.OpSubI16x2:
		a.SUB8H(d, x, y)
	case ir.OpMulI16x2:
		a.MUL8H(d, x, y)
	case ir.OpShlI16x2:
		a.SHL8H(d, x, inst.ImmY)
	case ir.OpShrI16x2:
		e.shiftRight(a.USHR8H, d, x, inst.ImmY)
	case ir.OpSraI16x2:
		e.shiftRight(a.SSHR8H, d, x, inst.ImmY)

	case ir.OpBitAnd:
		a.AND16B(d, x, y)
	case ir.OpBitOr:
		a.ORR16B(d, x, y)
	case ir.OpBitXor:
		a.EOR16B(d, x, y)
	case ir.OpBitClear:
		a.BIC16B(d, x, y)

	case ir.OpEqF32:
		a.FCMEQ4S(d, x, y)
	case ir.OpNeqF32:
		a.FCMEQ4S(d, x, y)
		a.NOT16B(d, d)
	case ir.OpLtF32:
		a.FCMGT4S(d, y, x)
	case ir.OpLteF32:
		a.FCMGE4S(d, y, x)
	case ir.OpGtF32:
		a.FCMGT4S(d, x, y)
	case ir.OpGteF32:
		a.FCMGE4S(d, x, y)

	case ir.OpEqI32:
		a.CMEQ4S(d, x, y)
	case ir.OpNeqI32:
		a.CMEQ4S(d, x, y)
		a.NOT16B(d, d)
	case ir.OpLtI32:
		a.CMGT4S(d, y, x)
	case ir.OpLteI32:
		a.CMGE4S(d, y, x)
	case ir.OpGtI32:
		a.CMGT4S(d, x, y)
	case ir.OpGteI32:
		a.CMGE4S(d, x, y)

	case ir.OpSelect:
		// The bitwise selects overwrite one of their operands: pick the one d aliases.
		switch {
		case d == x:
			a.BSL16B(d, y, z)
		case d == y:
			a.BIF16B(d, z, x)
		case d == z:
			a.BIT16B(d, y, x)
		default:
			a.ORR16B(d, x, x)
			a.BSL16B(d, y, z)
		}
	case ir.OpBytes:
		e.constant(aarch64Tmp, aarch64BytesTable(inst.ImmY))
		a.TBL16B(d, x, aarch64Tmp)
	case ir.OpExtract:
		if inst.ImmY == 0 {
			a.AND16B(d, x, y)
		} else {
			a.USHR4S(aarch64Tmp, x, inst.ImmY)
			a.AND16B(d, aarch64Tmp, y)
		}
	case ir.OpPack:
		a.SHL4S(aarch64Tmp, y, inst.ImmY)
		a.ORR16B(d, x, aarch64Tmp)

	case ir.OpToF32:
		a.SCVTF4S(d, x)
	case ir.OpTrunc:
		a.FCVTZS4S(d, x)
	case ir.OpRound:
		a.FCVTNS4S(d, x)

	default:
		a.Errorf("%s not implemented", inst.Op)
	}
}

// shiftRight emits a right shift, which cannot encode a shift by zero.
func (e *aarch64Emitter) shiftRight(shift func(d, n arm64.V, imm int), d, x arm64.V, imm int) {
	if imm == 0 {
		if d != x {
			e.a.ORR16B(d, x, x)
		}
		return
	}
	shift(d, x, imm)
}

// aarch64IotaTable holds 0, 1, 2, 3 as 32-bit integers.
var aarch64IotaTable = [16]byte{0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}

// aarch64BytesTable returns the TBL indices applying a bytes op control to every lane.
func aarch64BytesTable(control int) (t [16]byte) {
	for lane := 0; lane < 4; lane++ {
		for i := 0; i < 4; i++ {
			sel := (control >> (4 * i)) & 0xf
			b := byte(0xff)
			if sel != 0 {
				b = byte(4*lane + sel - 1)
			}
			t[4*lane+i] = b
		}
	}
	return
}
