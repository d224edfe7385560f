package arm64

import (
	"fmt"

	"github.com/tetratelabs/skvm/internal/asm"
)

// X is a general purpose register, used as x (64-bit) or w (32-bit) depending on the instruction.
type X byte

// General purpose registers. Register 31 means XZR or SP depending on the instruction.
const (
	X0 X = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	XZR
)

// V is a SIMD & floating point register.
type V byte

// SIMD & floating point registers.
const (
	V0 V = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
	V18
	V19
	V20
	V21
	V22
	V23
	V24
	V25
	V26
	V27
	V28
	V29
	V30
	V31
)

// String implements fmt.Stringer.
func (r X) String() string {
	if r == XZR {
		return "xzr"
	}
	return fmt.Sprintf("x%d", byte(r))
}

// String implements fmt.Stringer.
func (r V) String() string {
	return fmt.Sprintf("v%d", byte(r))
}

// Cond is a condition code for conditional branches.
type Cond byte

// https://developer.arm.com/documentation/dui0801/a/Condition-Codes/Condition-code-suffixes-and-related-flags
const (
	CondEQ Cond = 0b0000
	CondNE Cond = 0b0001
	CondHS Cond = 0b0010
	CondLO Cond = 0b0011
	CondGE Cond = 0b1010
	CondLT Cond = 0b1011
	CondGT Cond = 0b1100
	CondLE Cond = 0b1101
)

// Assembler appends AArch64 machine code to its buffer. Instruction methods are named
// after their mnemonic, suffixed by the vector arrangement where it matters, and take
// their operands in assembly order, destination first.
type Assembler struct {
	asm.Buffer
}

// NewAssembler returns a new Assembler with an empty buffer.
func NewAssembler() *Assembler {
	return &Assembler{}
}

func (a *Assembler) op3(base uint32, d, n, m byte) {
	a.AppendUint32(base | uint32(m&31)<<16 | uint32(n&31)<<5 | uint32(d&31))
}

func (a *Assembler) op2(base uint32, d, n byte) {
	a.AppendUint32(base | uint32(n&31)<<5 | uint32(d&31))
}

// Three-same vector instructions.
// https://developer.arm.com/documentation/ddi0596/2021-12/Index-by-Encoding/Data-Processing----Scalar-Floating-Point-and-Advanced-SIMD?lang=en
const (
	opADD4S  uint32 = 0x4ea08400
	opSUB4S  uint32 = 0x6ea08400
	opMUL4S  uint32 = 0x4ea09c00
	opADD8H  uint32 = 0x4e608400
	opSUB8H  uint32 = 0x6e608400
	opMUL8H  uint32 = 0x4e609c00
	opAND16B uint32 = 0x4e201c00
	opORR16B uint32 = 0x4ea01c00
	opEOR16B uint32 = 0x6e201c00
	opBIC16B uint32 = 0x4e601c00
	opBSL16B uint32 = 0x6e601c00
	opBIT16B uint32 = 0x6ea01c00
	opBIF16B uint32 = 0x6ee01c00
	opFADD4S uint32 = 0x4e20d400
	opFSUB4S uint32 = 0x4ea0d400
	opFMUL4S uint32 = 0x6e20dc00
	opFDIV4S uint32 = 0x6e20fc00
	opFMIN4S uint32 = 0x4ea0f400
	opFMAX4S uint32 = 0x4e20f400
	opFMLA4S uint32 = 0x4e20cc00

	opFCMEQ4S uint32 = 0x4e20e400
	opFCMGE4S uint32 = 0x6e20e400
	opFCMGT4S uint32 = 0x6ea0e400
	opCMEQ4S  uint32 = 0x6ea08c00
	opCMGT4S  uint32 = 0x4ea03400
	opCMGE4S  uint32 = 0x4ea03c00
	opTBL16B  uint32 = 0x4e000000

	opNOT16B   uint32 = 0x6e205800
	opSCVTF4S  uint32 = 0x4e21d800
	opFCVTZS4S uint32 = 0x4ea1b800
	opFCVTNS4S uint32 = 0x4e21a800
	opFSQRT4S  uint32 = 0x6ea1f800
	opUXTL8H   uint32 = 0x2f08a400
	opUXTL4S   uint32 = 0x2f10a400
	opXTN4H    uint32 = 0x0e612800
	opXTN8B    uint32 = 0x0e212800
	opDUP4S    uint32 = 0x4e040c00
	opSHLImm   uint32 = 0x4f005400
	opUSHRImm  uint32 = 0x6f000400
	opSSHRImm  uint32 = 0x4f000400
	opLDRQLit  uint32 = 0x9c000000
	opBCond    uint32 = 0x54000000
	opB        uint32 = 0x14000000
	opRET      uint32 = 0xd65f03c0
	opADDImm   uint32 = 0x91000000
	opSUBImm   uint32 = 0xd1000000
	opSUBSImm  uint32 = 0xf1000000
	opLDRXImm  uint32 = 0xf9400000
	opLDRWImm  uint32 = 0xb9400000
	opLDRHWImm uint32 = 0x79400000
	opLDRBWImm uint32 = 0x39400000
	opLDRQImm  uint32 = 0x3dc00000
	opLDRDImm  uint32 = 0xfd400000
	opLDRSImm  uint32 = 0xbd400000
	opLDRHImm  uint32 = 0x7d400000
	opLDRBImm  uint32 = 0x3d400000
	opSTRQImm  uint32 = 0x3d800000
	opSTRDImm  uint32 = 0xfd000000
	opSTRSImm  uint32 = 0xbd000000
	opSTRHImm  uint32 = 0x7d000000
	opSTRBImm  uint32 = 0x3d000000
)

// ADD4S sets d to n+m on 32-bit lanes.
func (a *Assembler) ADD4S(d, n, m V) { a.op3(opADD4S, byte(d), byte(n), byte(m)) }

// SUB4S sets d to n-m on 32-bit lanes.
func (a *Assembler) SUB4S(d, n, m V) { a.op3(opSUB4S, byte(d), byte(n), byte(m)) }

// MUL4S sets d to the low 32 bits of n*m.
func (a *Assembler) MUL4S(d, n, m V) { a.op3(opMUL4S, byte(d), byte(n), byte(m)) }

// ADD8H sets d to n+m on 16-bit lanes.
func (a *Assembler) ADD8H(d, n, m V) { a.op3(opADD8H, byte(d), byte(n), byte(m)) }

// SUB8H sets d to n-m on 16-bit lanes.
func (a *Assembler) SUB8H(d, n, m V) { a.op3(opSUB8H, byte(d), byte(n), byte(m)) }

// MUL8H sets d to the low 16 bits of n*m.
func (a *Assembler) MUL8H(d, n, m V) { a.op3(opMUL8H, byte(d), byte(n), byte(m)) }

// AND16B sets d to n&m.
func (a *Assembler) AND16B(d, n, m V) { a.op3(opAND16B, byte(d), byte(n), byte(m)) }

// ORR16B sets d to n|m.
func (a *Assembler) ORR16B(d, n, m V) { a.op3(opORR16B, byte(d), byte(n), byte(m)) }

// EOR16B sets d to n^m.
func (a *Assembler) EOR16B(d, n, m V) { a.op3(opEOR16B, byte(d), byte(n), byte(m)) }

// BIC16B sets d to n&^m.
func (a *Assembler) BIC16B(d, n, m V) { a.op3(opBIC16B, byte(d), byte(n), byte(m)) }

// BSL16B sets each bit of d to n where d is set, else to m.
func (a *Assembler) BSL16B(d, n, m V) { a.op3(opBSL16B, byte(d), byte(n), byte(m)) }

// BIT16B inserts each bit of n into d where m is set.
func (a *Assembler) BIT16B(d, n, m V) { a.op3(opBIT16B, byte(d), byte(n), byte(m)) }

// BIF16B inserts each bit of n into d where m is clear.
func (a *Assembler) BIF16B(d, n, m V) { a.op3(opBIF16B, byte(d), byte(n), byte(m)) }

// FADD4S sets d to n+m.
func (a *Assembler) FADD4S(d, n, m V) { a.op3(opFADD4S, byte(d), byte(n), byte(m)) }

// FSUB4S sets d to n-m.
func (a *Assembler) FSUB4S(d, n, m V) { a.op3(opFSUB4S, byte(d), byte(n), byte(m)) }

// FMUL4S sets d to n*m.
func (a *Assembler) FMUL4S(d, n, m V) { a.op3(opFMUL4S, byte(d), byte(n), byte(m)) }

// FDIV4S sets d to n/m.
func (a *Assembler) FDIV4S(d, n, m V) { a.op3(opFDIV4S, byte(d), byte(n), byte(m)) }

// FMIN4S sets d to min(n, m).
func (a *Assembler) FMIN4S(d, n, m V) { a.op3(opFMIN4S, byte(d), byte(n), byte(m)) }

// FMAX4S sets d to max(n, m).
func (a *Assembler) FMAX4S(d, n, m V) { a.op3(opFMAX4S, byte(d), byte(n), byte(m)) }

// FMLA4S sets d to d+n*m, fused.
func (a *Assembler) FMLA4S(d, n, m V) { a.op3(opFMLA4S, byte(d), byte(n), byte(m)) }

// FCMEQ4S sets each lane of d to all ones where n==m.
func (a *Assembler) FCMEQ4S(d, n, m V) { a.op3(opFCMEQ4S, byte(d), byte(n), byte(m)) }

// FCMGE4S sets each lane of d to all ones where n>=m.
func (a *Assembler) FCMGE4S(d, n, m V) { a.op3(opFCMGE4S, byte(d), byte(n), byte(m)) }

// FCMGT4S sets each lane of d to all ones where n>m.
func (a *Assembler) FCMGT4S(d, n, m V) { a.op3(opFCMGT4S, byte(d), byte(n), byte(m)) }

// CMEQ4S sets each lane of d to all ones where n==m.
func (a *Assembler) CMEQ4S(d, n, m V) { a.op3(opCMEQ4S, byte(d), byte(n), byte(m)) }

// CMGT4S sets each lane of d to all ones where n>m (signed).
func (a *Assembler) CMGT4S(d, n, m V) { a.op3(opCMGT4S, byte(d), byte(n), byte(m)) }

// CMGE4S sets each lane of d to all ones where n>=m (signed).
func (a *Assembler) CMGE4S(d, n, m V) { a.op3(opCMGE4S, byte(d), byte(n), byte(m)) }

// TBL16B sets each byte of d to the byte of n indexed by m, or zero when out of range.
func (a *Assembler) TBL16B(d, n, m V) { a.op3(opTBL16B, byte(d), byte(n), byte(m)) }

// NOT16B sets d to ^n.
func (a *Assembler) NOT16B(d, n V) { a.op2(opNOT16B, byte(d), byte(n)) }

// SCVTF4S converts int32 lanes to float32.
func (a *Assembler) SCVTF4S(d, n V) { a.op2(opSCVTF4S, byte(d), byte(n)) }

// FCVTZS4S converts float32 lanes to int32, rounding toward zero.
func (a *Assembler) FCVTZS4S(d, n V) { a.op2(opFCVTZS4S, byte(d), byte(n)) }

// FCVTNS4S converts float32 lanes to int32, rounding to nearest with ties to even.
func (a *Assembler) FCVTNS4S(d, n V) { a.op2(opFCVTNS4S, byte(d), byte(n)) }

// FSQRT4S sets d to sqrt(n).
func (a *Assembler) FSQRT4S(d, n V) { a.op2(opFSQRT4S, byte(d), byte(n)) }

// UXTL8H zero extends the 8 low bytes of n to 16-bit lanes.
func (a *Assembler) UXTL8H(d, n V) { a.op2(opUXTL8H, byte(d), byte(n)) }

// UXTL4S zero extends the 4 low 16-bit lanes of n to 32-bit lanes.
func (a *Assembler) UXTL4S(d, n V) { a.op2(opUXTL4S, byte(d), byte(n)) }

// XTN4H narrows the 32-bit lanes of n to the 4 low 16-bit lanes of d.
func (a *Assembler) XTN4H(d, n V) { a.op2(opXTN4H, byte(d), byte(n)) }

// XTN8B narrows the 16-bit lanes of n to the 8 low bytes of d.
func (a *Assembler) XTN8B(d, n V) { a.op2(opXTN8B, byte(d), byte(n)) }

// DUP4S copies the 32-bit general purpose register n to every lane of d.
func (a *Assembler) DUP4S(d V, n X) { a.op2(opDUP4S, byte(d), byte(n)) }

// SHL4S shifts 32-bit lanes left by imm.
func (a *Assembler) SHL4S(d, n V, imm int) { a.shiftImm(opSHLImm, 32, d, n, imm, false) }

// USHR4S shifts 32-bit lanes right by imm, shifting in zeros.
func (a *Assembler) USHR4S(d, n V, imm int) { a.shiftImm(opUSHRImm, 32, d, n, imm, true) }

// SSHR4S shifts 32-bit lanes right by imm, shifting in the sign bit.
func (a *Assembler) SSHR4S(d, n V, imm int) { a.shiftImm(opSSHRImm, 32, d, n, imm, true) }

// SHL8H shifts 16-bit lanes left by imm.
func (a *Assembler) SHL8H(d, n V, imm int) { a.shiftImm(opSHLImm, 16, d, n, imm, false) }

// USHR8H shifts 16-bit lanes right by imm, shifting in zeros.
func (a *Assembler) USHR8H(d, n V, imm int) { a.shiftImm(opUSHRImm, 16, d, n, imm, true) }

// SSHR8H shifts 16-bit lanes right by imm, shifting in the sign bit.
func (a *Assembler) SSHR8H(d, n V, imm int) { a.shiftImm(opSSHRImm, 16, d, n, imm, true) }

// shiftImm encodes the immh:immb field: esize+imm for left shifts, 2*esize-imm for right shifts.
// https://developer.arm.com/documentation/ddi0596/2021-12/SIMD-FP-Instructions/USHR--Unsigned-Shift-Right--immediate--
func (a *Assembler) shiftImm(base uint32, esize int, d, n V, imm int, right bool) {
	var immhb int
	if right {
		if imm < 1 || imm > esize {
			a.Errorf("right shift by %d out of range for %d-bit lanes", imm, esize)
			return
		}
		immhb = 2*esize - imm
	} else {
		if imm < 0 || imm >= esize {
			a.Errorf("left shift by %d out of range for %d-bit lanes", imm, esize)
			return
		}
		immhb = esize + imm
	}
	a.op2(base|uint32(immhb)<<16, byte(d), byte(n))
}

// loadStore encodes the unsigned offset form, where offset must be a multiple of size below 4096*size.
func (a *Assembler) loadStore(base uint32, size int, t byte, n X, offset int) {
	if offset < 0 || offset%size != 0 || offset/size >= 1<<12 {
		a.Errorf("offset %d cannot be encoded for a %d-byte access", offset, size)
		return
	}
	a.op2(base|uint32(offset/size)<<10, t, byte(n))
}

// LDRX loads 64 bits at [n+offset] into t.
func (a *Assembler) LDRX(t, n X, offset int) { a.loadStore(opLDRXImm, 8, byte(t), n, offset) }

// LDRW loads 32 bits at [n+offset] into t.
func (a *Assembler) LDRW(t, n X, offset int) { a.loadStore(opLDRWImm, 4, byte(t), n, offset) }

// LDRHW loads 16 bits at [n+offset] into t, zero extended.
func (a *Assembler) LDRHW(t, n X, offset int) { a.loadStore(opLDRHWImm, 2, byte(t), n, offset) }

// LDRBW loads the byte at [n+offset] into t, zero extended.
func (a *Assembler) LDRBW(t, n X, offset int) { a.loadStore(opLDRBWImm, 1, byte(t), n, offset) }

// LDRQ loads 128 bits at [n+offset] into t.
func (a *Assembler) LDRQ(t V, n X, offset int) { a.loadStore(opLDRQImm, 16, byte(t), n, offset) }

// LDRD loads 64 bits at [n+offset] into the low lanes of t, clearing the others.
func (a *Assembler) LDRD(t V, n X, offset int) { a.loadStore(opLDRDImm, 8, byte(t), n, offset) }

// LDRS loads 32 bits at [n+offset] into the lowest lane of t, clearing the others.
func (a *Assembler) LDRS(t V, n X, offset int) { a.loadStore(opLDRSImm, 4, byte(t), n, offset) }

// LDRH loads 16 bits at [n+offset] into the lowest lane of t, clearing the others.
func (a *Assembler) LDRH(t V, n X, offset int) { a.loadStore(opLDRHImm, 2, byte(t), n, offset) }

// LDRB loads the byte at [n+offset] into the lowest lane of t, clearing the others.
func (a *Assembler) LDRB(t V, n X, offset int) { a.loadStore(opLDRBImm, 1, byte(t), n, offset) }

// STRQ stores the 128 bits of t at [n+offset].
func (a *Assembler) STRQ(t V, n X, offset int) { a.loadStore(opSTRQImm, 16, byte(t), n, offset) }

// STRD stores the low 64 bits of t at [n+offset].
func (a *Assembler) STRD(t V, n X, offset int) { a.loadStore(opSTRDImm, 8, byte(t), n, offset) }

// STRS stores the lowest 32-bit lane of t at [n+offset].
func (a *Assembler) STRS(t V, n X, offset int) { a.loadStore(opSTRSImm, 4, byte(t), n, offset) }

// STRH stores the lowest 16-bit lane of t at [n+offset].
func (a *Assembler) STRH(t V, n X, offset int) { a.loadStore(opSTRHImm, 2, byte(t), n, offset) }

// STRB stores the lowest byte of t at [n+offset].
func (a *Assembler) STRB(t V, n X, offset int) { a.loadStore(opSTRBImm, 1, byte(t), n, offset) }

// LDRQLabel loads the 128 bits located at l, which must be 4-byte aligned, into t.
func (a *Assembler) LDRQLabel(t V, l *asm.Label) {
	at := a.Len()
	a.AppendUint32(opLDRQLit | uint32(t&31))
	a.Reference(l, asm.LabelKindARMDisp19, at)
}

func (a *Assembler) addSubImm(base uint32, d, n X, imm int) {
	if imm < 0 || imm >= 1<<12 {
		a.Errorf("immediate %d does not fit in 12 bits", imm)
		return
	}
	a.op2(base|uint32(imm)<<10, byte(d), byte(n))
}

// ADD sets the 64-bit d to n+imm.
func (a *Assembler) ADD(d, n X, imm int) { a.addSubImm(opADDImm, d, n, imm) }

// SUB sets the 64-bit d to n-imm.
func (a *Assembler) SUB(d, n X, imm int) { a.addSubImm(opSUBImm, d, n, imm) }

// CMP sets the flags from the 64-bit n-imm.
func (a *Assembler) CMP(n X, imm int) { a.addSubImm(opSUBSImm, XZR, n, imm) }

// BCond branches to l if the condition holds.
func (a *Assembler) BCond(c Cond, l *asm.Label) {
	at := a.Len()
	a.AppendUint32(opBCond | uint32(c))
	a.Reference(l, asm.LabelKindARMDisp19, at)
}

// B branches to l.
func (a *Assembler) B(l *asm.Label) {
	at := a.Len()
	a.AppendUint32(opB)
	a.Reference(l, asm.LabelKindARMDisp26, at)
}

// RET returns to the address in x30.
func (a *Assembler) RET() { a.AppendUint32(opRET) }
