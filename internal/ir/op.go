// Package ir defines the instruction model shared by the builder, the interpreter and the compiler.
//
// A program under construction is a slice of Instruction where each value is the
// index of the instruction producing it, and operands always refer to earlier
// instructions. Schedule lowers it into a Program of ProgramInstruction whose
// operands are virtual registers.
package ir

// Op is the operation performed by an instruction.
//
// Ops are ordered so that the ones with side effects come first, followed by the
// ones producing a different value for each lane, which can never be hoisted.
type Op byte

const (
	OpAssertTrue Op = iota
	OpStore8
	OpStore16
	OpStore32
	OpStore64
	OpStore128

	OpIndex
	OpLoad8
	OpLoad16
	OpLoad32
	OpLoad64
	OpLoad128
	OpGather8
	OpGather16
	OpGather32

	OpUniform8
	OpUniform16
	OpUniform32
	OpSplat

	OpAddF32
	OpSubF32
	OpMulF32
	OpDivF32
	OpMinF32
	OpMaxF32
	OpMadF32
	OpSqrtF32

	OpAddI32
	OpSubI32
	OpMulI32
	OpShlI32
	OpShrI32
	OpSraI32

	OpAddI16x2
	OpSubI16x2
	OpMulI16x2
	OpShlI16x2
	OpShrI16x2
	OpSraI16x2

	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitClear

	OpEqF32
	OpNeqF32
	OpLtF32
	OpLteF32
	OpGtF32
	OpGteF32

	OpEqI32
	OpNeqI32
	OpLtI32
	OpLteI32
	OpGtI32
	OpGteI32

	OpSelect
	OpBytes
	OpExtract
	OpPack

	OpToF32
	OpTrunc
	OpRound

	opCount
)

// immKind tells how an immediate is interpreted, and how Dump prints it.
type immKind byte

const (
	immNone immKind = iota
	immArg
	immLane
	immOffset
	immSplat
	immBits
	immControl
)

type opInfo struct {
	name string
	// args is the number of value operands, taken in X, Y, Z order.
	args       int
	immY, immZ immKind
}

var opInfos = [opCount]opInfo{
	OpAssertTrue: {name: "assert_true", args: 2},
	OpStore8:     {name: "store8", args: 1, immY: immArg},
	OpStore16:    {name: "store16", args: 1, immY: immArg},
	OpStore32:    {name: "store32", args: 1, immY: immArg},
	OpStore64:    {name: "store64", args: 2, immY: immArg},
	OpStore128:   {name: "store128", args: 2, immY: immArg, immZ: immLane},

	OpIndex:    {name: "index"},
	OpLoad8:    {name: "load8", immY: immArg},
	OpLoad16:   {name: "load16", immY: immArg},
	OpLoad32:   {name: "load32", immY: immArg},
	OpLoad64:   {name: "load64", immY: immArg, immZ: immLane},
	OpLoad128:  {name: "load128", immY: immArg, immZ: immLane},
	OpGather8:  {name: "gather8", args: 1, immY: immArg},
	OpGather16: {name: "gather16", args: 1, immY: immArg},
	OpGather32: {name: "gather32", args: 1, immY: immArg},

	OpUniform8:  {name: "uniform8", immY: immArg, immZ: immOffset},
	OpUniform16: {name: "uniform16", immY: immArg, immZ: immOffset},
	OpUniform32: {name: "uniform32", immY: immArg, immZ: immOffset},
	OpSplat:     {name: "splat", immY: immSplat},

	OpAddF32:  {name: "add_f32", args: 2},
	OpSubF32:  {name: "sub_f32", args: 2},
	OpMulF32:  {name: "mul_f32", args: 2},
	OpDivF32:  {name: "div_f32", args: 2},
	OpMinF32:  {name: "min_f32", args: 2},
	OpMaxF32:  {name: "max_f32", args: 2},
	OpMadF32:  {name: "mad_f32", args: 3},
	OpSqrtF32: {name: "sqrt_f32", args: 1},

	OpAddI32: {name: "add_i32", args: 2},
	OpSubI32: {name: "sub_i32", args: 2},
	OpMulI32: {name: "mul_i32", args: 2},
	OpShlI32: {name: "shl_i32", args: 1, immY: immBits},
	OpShrI32: {name: "shr_i32", args: 1, immY: immBits},
	OpSraI32: {name: "sra_i32", args: 1, immY: immBits},

	OpAddI16x2: {name: "add_i16x2", args: 2},
	OpSubI16x2: {name: "sub_i16x2", args: 2},
	OpMulI16x2: {name: "mul_i16x2", args: 2},
	OpShlI16x2: {name: "shl_i16x2", args: 1, immY: immBits},
	OpShrI16x2: {name: "shr_i16x2", args: 1, immY: immBits},
	OpSraI16x2: {name: "sra_i16x2", args: 1, immY: immBits},

	OpBitAnd:   {name: "bit_and", args: 2},
	OpBitOr:    {name: "bit_or", args: 2},
	OpBitXor:   {name: "bit_xor", args: 2},
	OpBitClear: {name: "bit_clear", args: 2},

	OpEqF32:  {name: "eq_f32", args: 2},
	OpNeqF32: {name: "neq_f32", args: 2},
	OpLtF32:  {name: "lt_f32", args: 2},
	OpLteF32: {name: "lte_f32", args: 2},
	OpGtF32:  {name: "gt_f32", args: 2},
	OpGteF32: {name: "gte_f32", args: 2},

	OpEqI32:  {name: "eq_i32", args: 2},
	OpNeqI32: {name: "neq_i32", args: 2},
	OpLtI32:  {name: "lt_i32", args: 2},
	OpLteI32: {name: "lte_i32", args: 2},
	OpGtI32:  {name: "gt_i32", args: 2},
	OpGteI32: {name: "gte_i32", args: 2},

	OpSelect:  {name: "select", args: 3},
	OpBytes:   {name: "bytes", args: 1, immY: immControl},
	OpExtract: {name: "extract", args: 2, immY: immBits},
	OpPack:    {name: "pack", args: 2, immY: immBits},

	OpToF32: {name: "to_f32", args: 1},
	OpTrunc: {name: "trunc", args: 1},
	OpRound: {name: "round", args: 1},
}

// String implements fmt.Stringer.
func (o Op) String() string {
	if o < opCount {
		return opInfos[o].name
	}
	return "unknown"
}

// NumArgs returns the number of value operands of the op, taken in X, Y, Z order.
func (o Op) NumArgs() int {
	return opInfos[o].args
}

// HasSideEffect returns true for stores and assertions, which are live regardless of their uses.
func (o Op) HasSideEffect() bool {
	return o <= OpStore128
}

// IsAlwaysVarying returns true for ops that never produce the same value for every lane:
// side effects, memory reads through varying pointers, and index.
func (o Op) IsAlwaysVarying() bool {
	return o <= OpGather32
}

// ProducesValue returns true when the op writes a destination register.
func (o Op) ProducesValue() bool {
	return !o.HasSideEffect()
}

// TouchesMemory returns true for the ops reading or writing memory through an argument.
// These are never deduplicated as an intervening store could change what a load observes.
func (o Op) TouchesMemory() bool {
	return o <= OpGather32 && o != OpIndex
}

// IsCommutative returns true when the value operands X and Y can be swapped.
//
// min/max are not commutative, as NaN and signed zeros depend on operand order.
func (o Op) IsCommutative() bool {
	switch o {
	case OpAddF32, OpMulF32, OpAddI32, OpMulI32, OpAddI16x2, OpMulI16x2,
		OpBitAnd, OpBitOr, OpBitXor, OpEqF32, OpNeqF32, OpEqI32, OpNeqI32:
		return true
	}
	return false
}

// UsesArg returns true when ImmY holds an argument index.
func (o Op) UsesArg() bool {
	return opInfos[o].immY == immArg
}
