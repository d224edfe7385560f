package amd64

import (
	"fmt"
	"math"

	"github.com/tetratelabs/skvm/internal/asm"
)

// Assembler appends x86-64 machine code to its buffer. Instruction methods are named
// after their mnemonic and take their operands in Intel order, destination first.
//
// Only the AVX/AVX2/FMA subset used by the compiler is implemented, plus the few
// general purpose instructions needed for the loop control.
type Assembler struct {
	asm.Buffer
}

// NewAssembler returns a new Assembler with an empty buffer.
func NewAssembler() *Assembler {
	return &Assembler{}
}

type rip struct{ label *asm.Label }

// RIP returns the memory operand located at the given label, addressed relative to the
// instruction pointer. RIP operands cannot be used by instructions taking an immediate.
func RIP(l *asm.Label) Operand {
	return rip{label: l}
}

func (rip) rm() byte { return 0b101 }

// String implements fmt.Stringer.
func (r rip) String() string {
	if r.label.Bound() {
		return fmt.Sprintf("[rip+%#x]", r.label.Offset())
	}
	return "[rip+?]"
}

// vexOpcode describes the fixed fields of a VEX encoded instruction.
// https://wiki.osdev.org/X86-64_Instruction_Encoding#VEX.2FXOP_opcodes
type vexOpcode struct {
	// pp is the implied SIMD prefix.
	pp byte
	// mmmmm is the implied leading opcode bytes.
	mmmmm  byte
	w      byte
	opcode byte
}

const (
	ppNone byte = 0b00
	pp66   byte = 0b01
	ppF3   byte = 0b10

	map0F   byte = 0b00001
	map0F38 byte = 0b00010
	map0F3A byte = 0b00011

	vex128 byte = 0
	vex256 byte = 1
)

// https://www.felixcloutier.com/x86/index.html
var (
	opVADDPS       = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x58}
	opVSUBPS       = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x5c}
	opVMULPS       = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x59}
	opVDIVPS       = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x5e}
	opVMINPS       = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x5d}
	opVMAXPS       = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x5f}
	opVSQRTPS      = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x51}
	opVCMPPS       = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0xc2}
	opVMOVUPS      = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x10}
	opVMOVUPSStore = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x11}
	opVMOVAPS      = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x28}
	opVCVTDQ2PS    = vexOpcode{pp: ppNone, mmmmm: map0F, opcode: 0x5b}
	opVCVTTPS2DQ   = vexOpcode{pp: ppF3, mmmmm: map0F, opcode: 0x5b}
	opVCVTPS2DQ    = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0x5b}

	opVPADDD   = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xfe}
	opVPSUBD   = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xfa}
	opVPMULLD  = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0x40}
	opVPADDW   = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xfd}
	opVPSUBW   = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xf9}
	opVPMULLW  = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xd5}
	opVPAND    = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xdb}
	opVPANDN   = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xdf}
	opVPOR     = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xeb}
	opVPXOR    = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xef}
	opVPCMPEQD = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0x76}
	opVPCMPGTD = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0x66}
	opVPSHUFB  = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0x00}
	// Shift by immediate: the operation is selected by the ModR/M reg field.
	opShiftD = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0x72}
	opShiftW = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0x71}

	opVBROADCASTSS = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0x18}
	opVPBROADCASTD = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0x58}
	opVPMOVZXBD    = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0x31}
	opVPMOVZXWD    = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0x33}
	opVPERMQ       = vexOpcode{pp: pp66, mmmmm: map0F3A, w: 1, opcode: 0x00}
	opVPBLENDVB    = vexOpcode{pp: pp66, mmmmm: map0F3A, opcode: 0x4c}
	opVEXTRACTI128 = vexOpcode{pp: pp66, mmmmm: map0F3A, opcode: 0x39}
	opVPEXTRB      = vexOpcode{pp: pp66, mmmmm: map0F3A, opcode: 0x14}
	opVPEXTRW      = vexOpcode{pp: pp66, mmmmm: map0F3A, opcode: 0x15}
	opVMOVD        = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0x6e}
	opVMOVDStore   = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0x7e}
	opVMOVQStore   = vexOpcode{pp: pp66, mmmmm: map0F, opcode: 0xd6}
	opVMOVDQUStore = vexOpcode{pp: ppF3, mmmmm: map0F, opcode: 0x7f}

	opVFMADD132PS = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0x98}
	opVFMADD213PS = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0xa8}
	opVFMADD231PS = vexOpcode{pp: pp66, mmmmm: map0F38, opcode: 0xb8}
)

// vex appends `op reg, vvvv, rm` followed by the immediate bytes.
//
// The two byte form (C5) is used whenever neither REX.X, REX.B nor REX.W are needed
// and the opcode lives in the 0F map. Otherwise, the three byte form (C4) is used.
func (a *Assembler) vex(op vexOpcode, l byte, reg, vvvv byte, rm Operand, imm ...byte) {
	r := reg >> 3 & 1
	var b byte
	if _, ok := rm.(rip); !ok {
		b = rm.rm() >> 3 & 1
	}
	vvvvl := (^vvvv&0xf)<<3 | l<<2 | op.pp
	if op.w == 0 && op.mmmmm == map0F && b == 0 {
		a.AppendBytes(0xc5, (^r&1)<<7|vvvvl)
	} else {
		// REX.X is always clear as no instruction here uses an index register.
		a.AppendBytes(0xc4, (^r&1)<<7|1<<6|(^b&1)<<5|op.mmmmm, op.w<<7|vvvvl)
	}
	a.AppendByte(op.opcode)
	a.modRM(reg, rm, len(imm) > 0)
	a.AppendBytes(imm...)
}

// modRM appends the ModR/M byte and, depending on the operand, the SIB byte and displacement.
// https://wiki.osdev.org/X86-64_Instruction_Encoding#ModR.2FM
func (a *Assembler) modRM(reg byte, rm Operand, hasImm bool) {
	reg = (reg & 7) << 3
	switch o := rm.(type) {
	case GP, Y:
		a.AppendByte(0b11_000_000 | reg | o.rm()&7)
	case Mem:
		base := byte(o.Base) & 7
		var mod byte
		switch {
		case o.Disp == 0 && base != 0b101:
			// [RBP] and [R13] have no displacement-less encoding.
			mod = 0b00
		case fitInSigned8bit(int64(o.Disp)):
			mod = 0b01
		default:
			mod = 0b10
		}
		a.AppendByte(mod<<6 | reg | base)
		if base == 0b100 {
			// RSP and R12 as base require a SIB byte without index.
			a.AppendByte(0b00_100_100)
		}
		switch mod {
		case 0b01:
			a.AppendByte(byte(int8(o.Disp)))
		case 0b10:
			a.AppendUint32(uint32(o.Disp))
		}
	case rip:
		if hasImm {
			panic("BUG: RIP-relative operand cannot be followed by an immediate")
		}
		a.AppendByte(0b00_000_101 | reg)
		at := a.Len()
		a.AppendUint32(0)
		a.Reference(o.label, asm.LabelKindX86Disp32, at)
	default:
		panic(fmt.Sprintf("BUG: unknown operand %T", rm))
	}
}

// rex appends the REX prefix if any of its bits is needed.
// https://wiki.osdev.org/X86-64_Instruction_Encoding#REX_prefix
func (a *Assembler) rex(w bool, reg byte, rm Operand) {
	p := byte(0b0100_0000)
	if w {
		p |= 0b1000
	}
	p |= (reg >> 3 & 1) << 2
	p |= rm.rm() >> 3 & 1
	if p != 0b0100_0000 {
		a.AppendByte(p)
	}
}

func fitInSigned8bit(v int64) bool {
	return math.MinInt8 <= v && v <= math.MaxInt8
}

// MOVQ loads the 64-bit value at src into dst.
func (a *Assembler) MOVQ(dst GP, src Mem) {
	a.rex(true, byte(dst), src)
	a.AppendByte(0x8b)
	a.modRM(byte(dst), src, false)
}

// MOVZXB loads the byte at src into dst, zero extended.
func (a *Assembler) MOVZXB(dst GP, src Mem) {
	a.rex(false, byte(dst), src)
	a.AppendBytes(0x0f, 0xb6)
	a.modRM(byte(dst), src, false)
}

// MOVZXW loads the 16-bit value at src into dst, zero extended.
func (a *Assembler) MOVZXW(dst GP, src Mem) {
	a.rex(false, byte(dst), src)
	a.AppendBytes(0x0f, 0xb7)
	a.modRM(byte(dst), src, false)
}

// ADDQ adds the immediate to dst.
func (a *Assembler) ADDQ(dst GP, imm int32) { a.aluImm(0, dst, imm) }

// SUBQ subtracts the immediate from dst.
func (a *Assembler) SUBQ(dst GP, imm int32) { a.aluImm(5, dst, imm) }

// CMPQ sets the flags from dst-imm.
func (a *Assembler) CMPQ(dst GP, imm int32) { a.aluImm(7, dst, imm) }

// aluImm encodes the group 1 instructions, where digit selects the operation.
func (a *Assembler) aluImm(digit byte, dst GP, imm int32) {
	a.rex(true, 0, dst)
	if fitInSigned8bit(int64(imm)) {
		a.AppendByte(0x83)
		a.modRM(digit, dst, true)
		a.AppendByte(byte(int8(imm)))
	} else {
		a.AppendByte(0x81)
		a.modRM(digit, dst, true)
		a.AppendUint32(uint32(imm))
	}
}

// JMP jumps to l.
func (a *Assembler) JMP(l *asm.Label) {
	a.AppendByte(0xe9)
	at := a.Len()
	a.AppendUint32(0)
	a.Reference(l, asm.LabelKindX86Disp32, at)
}

// Conditions for the 0F 8x family of conditional jumps.
const (
	condEQ byte = 0x4
	condNE byte = 0x5
	condLT byte = 0xc
	condGE byte = 0xd
	condLE byte = 0xe
	condGT byte = 0xf
)

func (a *Assembler) jcc(cond byte, l *asm.Label) {
	a.AppendBytes(0x0f, 0x80|cond)
	at := a.Len()
	a.AppendUint32(0)
	a.Reference(l, asm.LabelKindX86Disp32, at)
}

// JEQ jumps to l if equal.
func (a *Assembler) JEQ(l *asm.Label) { a.jcc(condEQ, l) }

// JNE jumps to l if not equal.
func (a *Assembler) JNE(l *asm.Label) { a.jcc(condNE, l) }

// JLT jumps to l if less (signed).
func (a *Assembler) JLT(l *asm.Label) { a.jcc(condLT, l) }

// JGE jumps to l if greater or equal (signed).
func (a *Assembler) JGE(l *asm.Label) { a.jcc(condGE, l) }

// JLE jumps to l if less or equal (signed).
func (a *Assembler) JLE(l *asm.Label) { a.jcc(condLE, l) }

// JGT jumps to l if greater (signed).
func (a *Assembler) JGT(l *asm.Label) { a.jcc(condGT, l) }

// RET returns.
func (a *Assembler) RET() { a.AppendByte(0xc3) }

// VZEROUPPER clears the upper halves of all vector registers.
func (a *Assembler) VZEROUPPER() { a.AppendBytes(0xc5, 0xf8, 0x77) }

// VADDPS sets dst to x+y.
func (a *Assembler) VADDPS(dst, x Y, y Operand) { a.vex(opVADDPS, vex256, byte(dst), byte(x), y) }

// VSUBPS sets dst to x-y.
func (a *Assembler) VSUBPS(dst, x Y, y Operand) { a.vex(opVSUBPS, vex256, byte(dst), byte(x), y) }

// VMULPS sets dst to x*y.
func (a *Assembler) VMULPS(dst, x Y, y Operand) { a.vex(opVMULPS, vex256, byte(dst), byte(x), y) }

// VDIVPS sets dst to x/y.
func (a *Assembler) VDIVPS(dst, x Y, y Operand) { a.vex(opVDIVPS, vex256, byte(dst), byte(x), y) }

// VMINPS sets dst to x<y ? x : y.
func (a *Assembler) VMINPS(dst, x Y, y Operand) { a.vex(opVMINPS, vex256, byte(dst), byte(x), y) }

// VMAXPS sets dst to x>y ? x : y.
func (a *Assembler) VMAXPS(dst, x Y, y Operand) { a.vex(opVMAXPS, vex256, byte(dst), byte(x), y) }

// VSQRTPS sets dst to sqrt(src).
func (a *Assembler) VSQRTPS(dst Y, src Operand) { a.vex(opVSQRTPS, vex256, byte(dst), 0, src) }

// Predicates of VCMPPS.
const (
	CmpEQ  byte = 0x00
	CmpLT  byte = 0x01
	CmpLE  byte = 0x02
	CmpNEQ byte = 0x04
	CmpGE  byte = 0x0d
	CmpGT  byte = 0x0e
)

// VCMPPS sets each lane of dst to all ones where `x pred y` holds, else to zero.
func (a *Assembler) VCMPPS(dst, x Y, y Operand, pred byte) {
	a.vex(opVCMPPS, vex256, byte(dst), byte(x), y, pred)
}

// VMOVUPS loads 32 bytes from src into dst.
func (a *Assembler) VMOVUPS(dst Y, src Operand) { a.vex(opVMOVUPS, vex256, byte(dst), 0, src) }

// VMOVUPSStore stores the 32 bytes of src to dst.
func (a *Assembler) VMOVUPSStore(dst Mem, src Y) {
	a.vex(opVMOVUPSStore, vex256, byte(src), 0, dst)
}

// VMOVAPS copies src into dst.
func (a *Assembler) VMOVAPS(dst, src Y) { a.vex(opVMOVAPS, vex256, byte(dst), 0, src) }

// VCVTDQ2PS converts int32 lanes to float32.
func (a *Assembler) VCVTDQ2PS(dst Y, src Operand) { a.vex(opVCVTDQ2PS, vex256, byte(dst), 0, src) }

// VCVTTPS2DQ converts float32 lanes to int32, rounding toward zero.
func (a *Assembler) VCVTTPS2DQ(dst Y, src Operand) { a.vex(opVCVTTPS2DQ, vex256, byte(dst), 0, src) }

// VCVTPS2DQ converts float32 lanes to int32 with the current rounding mode, nearest-even by default.
func (a *Assembler) VCVTPS2DQ(dst Y, src Operand) { a.vex(opVCVTPS2DQ, vex256, byte(dst), 0, src) }

// VPADDD sets dst to x+y on 32-bit lanes.
func (a *Assembler) VPADDD(dst, x Y, y Operand) { a.vex(opVPADDD, vex256, byte(dst), byte(x), y) }

// VPSUBD sets dst to x-y on 32-bit lanes.
func (a *Assembler) VPSUBD(dst, x Y, y Operand) { a.vex(opVPSUBD, vex256, byte(dst), byte(x), y) }

// VPMULLD sets dst to the low 32 bits of x*y.
func (a *Assembler) VPMULLD(dst, x Y, y Operand) { a.vex(opVPMULLD, vex256, byte(dst), byte(x), y) }

// VPADDW sets dst to x+y on 16-bit lanes.
func (a *Assembler) VPADDW(dst, x Y, y Operand) { a.vex(opVPADDW, vex256, byte(dst), byte(x), y) }

// VPSUBW sets dst to x-y on 16-bit lanes.
func (a *Assembler) VPSUBW(dst, x Y, y Operand) { a.vex(opVPSUBW, vex256, byte(dst), byte(x), y) }

// VPMULLW sets dst to the low 16 bits of x*y.
func (a *Assembler) VPMULLW(dst, x Y, y Operand) { a.vex(opVPMULLW, vex256, byte(dst), byte(x), y) }

// VPAND sets dst to x&y.
func (a *Assembler) VPAND(dst, x Y, y Operand) { a.vex(opVPAND, vex256, byte(dst), byte(x), y) }

// VPANDN sets dst to ^x&y.
func (a *Assembler) VPANDN(dst, x Y, y Operand) { a.vex(opVPANDN, vex256, byte(dst), byte(x), y) }

// VPOR sets dst to x|y.
func (a *Assembler) VPOR(dst, x Y, y Operand) { a.vex(opVPOR, vex256, byte(dst), byte(x), y) }

// VPXOR sets dst to x^y.
func (a *Assembler) VPXOR(dst, x Y, y Operand) { a.vex(opVPXOR, vex256, byte(dst), byte(x), y) }

// VPCMPEQD sets each 32-bit lane of dst to all ones where x==y.
func (a *Assembler) VPCMPEQD(dst, x Y, y Operand) { a.vex(opVPCMPEQD, vex256, byte(dst), byte(x), y) }

// VPCMPGTD sets each 32-bit lane of dst to all ones where x>y (signed).
func (a *Assembler) VPCMPGTD(dst, x Y, y Operand) { a.vex(opVPCMPGTD, vex256, byte(dst), byte(x), y) }

// VPSHUFB shuffles the bytes of x within each 128-bit half, using y as control.
func (a *Assembler) VPSHUFB(dst, x Y, y Operand) { a.vex(opVPSHUFB, vex256, byte(dst), byte(x), y) }

// VPSLLD shifts 32-bit lanes left by imm.
func (a *Assembler) VPSLLD(dst, src Y, imm byte) { a.vex(opShiftD, vex256, 6, byte(dst), src, imm) }

// VPSRLD shifts 32-bit lanes right by imm, shifting in zeros.
func (a *Assembler) VPSRLD(dst, src Y, imm byte) { a.vex(opShiftD, vex256, 2, byte(dst), src, imm) }

// VPSRAD shifts 32-bit lanes right by imm, shifting in the sign bit.
func (a *Assembler) VPSRAD(dst, src Y, imm byte) { a.vex(opShiftD, vex256, 4, byte(dst), src, imm) }

// VPSLLW shifts 16-bit lanes left by imm.
func (a *Assembler) VPSLLW(dst, src Y, imm byte) { a.vex(opShiftW, vex256, 6, byte(dst), src, imm) }

// VPSRLW shifts 16-bit lanes right by imm, shifting in zeros.
func (a *Assembler) VPSRLW(dst, src Y, imm byte) { a.vex(opShiftW, vex256, 2, byte(dst), src, imm) }

// VPSRAW shifts 16-bit lanes right by imm, shifting in the sign bit.
func (a *Assembler) VPSRAW(dst, src Y, imm byte) { a.vex(opShiftW, vex256, 4, byte(dst), src, imm) }

// VBROADCASTSS copies the 32-bit value at src to every lane of dst.
func (a *Assembler) VBROADCASTSS(dst Y, src Operand) {
	a.vex(opVBROADCASTSS, vex256, byte(dst), 0, src)
}

// VPBROADCASTD copies the lowest 32-bit lane of src to every lane of dst.
func (a *Assembler) VPBROADCASTD(dst Y, src Operand) {
	a.vex(opVPBROADCASTD, vex256, byte(dst), 0, src)
}

// VPMOVZXBD zero extends 8 bytes at src into 32-bit lanes.
func (a *Assembler) VPMOVZXBD(dst Y, src Operand) { a.vex(opVPMOVZXBD, vex256, byte(dst), 0, src) }

// VPMOVZXWD zero extends 8 16-bit values at src into 32-bit lanes.
func (a *Assembler) VPMOVZXWD(dst Y, src Operand) { a.vex(opVPMOVZXWD, vex256, byte(dst), 0, src) }

// VPERMQ permutes the 64-bit lanes of src as selected by imm.
func (a *Assembler) VPERMQ(dst Y, src Operand, imm byte) {
	a.vex(opVPERMQ, vex256, byte(dst), 0, src, imm)
}

// VPBLENDVB sets each byte of dst to y where the top bit of the same byte of mask is set, else to x.
func (a *Assembler) VPBLENDVB(dst, x, y, mask Y) {
	a.vex(opVPBLENDVB, vex256, byte(dst), byte(x), y, byte(mask)<<4)
}

// VEXTRACTI128 copies the 128-bit half of src selected by imm into dst.
func (a *Assembler) VEXTRACTI128(dst, src Y, imm byte) {
	a.vex(opVEXTRACTI128, vex256, byte(src), 0, dst, imm)
}

// VPEXTRB stores the byte of src selected by imm to dst.
func (a *Assembler) VPEXTRB(dst Mem, src Y, imm byte) {
	a.vex(opVPEXTRB, vex128, byte(src), 0, dst, imm)
}

// VPEXTRW stores the 16-bit lane of src selected by imm to dst.
func (a *Assembler) VPEXTRW(dst Mem, src Y, imm byte) {
	a.vex(opVPEXTRW, vex128, byte(src), 0, dst, imm)
}

// VMOVD loads 32 bits from a general purpose register or memory into the lowest lane of dst,
// clearing the other lanes.
func (a *Assembler) VMOVD(dst Y, src Operand) {
	if _, ok := src.(Y); ok {
		panic("BUG: VMOVD source must be a general purpose register or memory")
	}
	a.vex(opVMOVD, vex128, byte(dst), 0, src)
}

// VMOVDStore stores the lowest 32-bit lane of src to dst.
func (a *Assembler) VMOVDStore(dst Mem, src Y) { a.vex(opVMOVDStore, vex128, byte(src), 0, dst) }

// VMOVQStore stores the lowest 64 bits of src to dst.
func (a *Assembler) VMOVQStore(dst Mem, src Y) { a.vex(opVMOVQStore, vex128, byte(src), 0, dst) }

// VMOVDQUStore stores the lowest 128 bits of src to dst.
func (a *Assembler) VMOVDQUStore(dst Mem, src Y) {
	a.vex(opVMOVDQUStore, vex128, byte(src), 0, dst)
}

// VFMADD132PS sets dst to dst*y+x.
func (a *Assembler) VFMADD132PS(dst, x Y, y Operand) {
	a.vex(opVFMADD132PS, vex256, byte(dst), byte(x), y)
}

// VFMADD213PS sets dst to x*dst+y.
func (a *Assembler) VFMADD213PS(dst, x Y, y Operand) {
	a.vex(opVFMADD213PS, vex256, byte(dst), byte(x), y)
}

// VFMADD231PS sets dst to x*y+dst.
func (a *Assembler) VFMADD231PS(dst, x Y, y Operand) {
	a.vex(opVFMADD231PS, vex256, byte(dst), byte(x), y)
}
