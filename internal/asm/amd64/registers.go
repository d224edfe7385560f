package amd64

import "fmt"

// GP is a 64-bit general purpose register.
type GP byte

// General purpose registers, numbered as in the ModR/M encoding.
// https://wiki.osdev.org/X86-64_Instruction_Encoding#Registers
const (
	RAX GP = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Y is a vector register. 256-bit instructions use it as ymm, 128-bit ones as xmm.
type Y byte

// Vector registers.
const (
	YMM0 Y = iota
	YMM1
	YMM2
	YMM3
	YMM4
	YMM5
	YMM6
	YMM7
	YMM8
	YMM9
	YMM10
	YMM11
	YMM12
	YMM13
	YMM14
	YMM15
)

var gpNames = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

// String implements fmt.Stringer.
func (r GP) String() string {
	if int(r) < len(gpNames) {
		return gpNames[r]
	}
	return fmt.Sprintf("gp(%d)", byte(r))
}

// String implements fmt.Stringer.
func (r Y) String() string {
	return fmt.Sprintf("ymm%d", byte(r))
}

// Operand is the r/m operand of an instruction: a register, a memory location
// addressed by a base register and a displacement, or a RIP-relative label.
type Operand interface {
	fmt.Stringer
	// rm returns the register or base register encoded in the ModR/M r/m field.
	rm() byte
}

func (r GP) rm() byte { return byte(r) }

func (r Y) rm() byte { return byte(r) }

// Mem is the memory location [Base + Disp].
type Mem struct {
	Base GP
	Disp int32
}

func (m Mem) rm() byte { return byte(m.Base) }

// String implements fmt.Stringer.
func (m Mem) String() string {
	if m.Disp == 0 {
		return fmt.Sprintf("[%s]", m.Base)
	}
	return fmt.Sprintf("[%s%+d]", m.Base, m.Disp)
}
