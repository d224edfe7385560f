package ir

// Val is the index of the instruction producing a value.
type Val int

// NA marks an absent operand, or a value that is never used.
const NA = ^Val(0)

// Reg is a virtual register assigned by Schedule.
type Reg int

// NoReg marks an absent register operand.
const NoReg = ^Reg(0)

// Instruction is an instruction as recorded by the builder.
//
// Instruction is comparable so that it can key the deduplication map: two
// instructions are the same value iff all of their fields are equal. Unused
// operands are NA and unused immediates are zero.
type Instruction struct {
	Op      Op
	X, Y, Z Val
	ImmY    int
	ImmZ    int
}

// Args returns the value operands used by the instruction.
func (inst *Instruction) Args() []Val {
	all := [3]Val{inst.X, inst.Y, inst.Z}
	return all[:inst.Op.NumArgs()]
}

// ProgramInstruction is an instruction whose operands were assigned to registers.
type ProgramInstruction struct {
	Op         Op
	D, X, Y, Z Reg
	ImmY       int
	ImmZ       int
}

// Program is a scheduled, register allocated program.
//
// Instructions[:Loop] are loop invariant and run once per call; Instructions[Loop:]
// run once per iteration.
type Program struct {
	Instructions []ProgramInstruction
	NRegs        int
	Loop         int
	// Strides holds the byte distance between consecutive elements of each argument.
	// Zero means the argument is uniform.
	Strides []int
}
