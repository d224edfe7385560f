package ir

// SplatLookup returns the immediate of v when v is produced by a splat.
type SplatLookup func(v Val) (imm int32, ok bool)

const oneF32 = 0x3f800000

// Simplify canonicalizes inst and applies local rewrites to it.
//
// It returns either the instruction to emit in place of inst, with a NA value, or an
// already existing value equal to inst. The returned instruction may itself be
// simplified further, so callers loop until the instruction is stable.
func Simplify(inst Instruction, splat SplatLookup) (Instruction, Val) {
	isSplat := func(v Val) (uint32, bool) {
		if v == NA {
			return 0, false
		}
		imm, ok := splat(v)
		return uint32(imm), ok
	}

	if inst.Op.IsCommutative() {
		_, xs := isSplat(inst.X)
		_, ys := isSplat(inst.Y)
		// Splats go to the right, otherwise operands are ordered by value.
		if (xs && !ys) || (xs == ys && inst.X > inst.Y) {
			inst.X, inst.Y = inst.Y, inst.X
		}
	}

	x, xs := isSplat(inst.X)
	y, ys := isSplat(inst.Y)

	if xs && (ys || inst.Op.NumArgs() == 1) {
		if v, ok := fold(inst.Op, x, y, inst.ImmY); ok {
			return Instruction{Op: OpSplat, X: NA, Y: NA, Z: NA, ImmY: int(int32(v))}, NA
		}
	}

	switch inst.Op {
	case OpMadF32:
		if z, ok := isSplat(inst.Z); ok && z == 0 {
			return Instruction{Op: OpMulF32, X: inst.X, Y: inst.Y, Z: NA}, NA
		}
	case OpMulF32:
		if ys && y == oneF32 {
			return inst, inst.X
		}
	case OpMulI32:
		if ys && y == 1 {
			return inst, inst.X
		}
	case OpAddI32, OpSubI32, OpBitOr, OpBitXor:
		if ys && y == 0 {
			return inst, inst.X
		}
	case OpShlI32, OpShrI32, OpSraI32, OpShlI16x2, OpShrI16x2, OpSraI16x2:
		if inst.ImmY == 0 {
			return inst, inst.X
		}
	case OpBitAnd:
		if ys && y == ^uint32(0) {
			return inst, inst.X
		}
		if ys && y == 0 {
			return splatInstruction(0), NA
		}
	case OpBitClear:
		if ys && y == 0 {
			return inst, inst.X
		}
		if (ys && y == ^uint32(0)) || (xs && x == 0) {
			return splatInstruction(0), NA
		}
	case OpSelect:
		if inst.Y == inst.Z {
			return inst, inst.Y
		}
		if xs && x == ^uint32(0) {
			return inst, inst.Y
		}
		if xs && x == 0 {
			return inst, inst.Z
		}
	case OpExtract:
		if inst.ImmY == 0 {
			return Instruction{Op: OpBitAnd, X: inst.X, Y: inst.Y, Z: NA}, NA
		}
		if inst.ImmY == 24 && ys && y == 0xff {
			return Instruction{Op: OpShrI32, X: inst.X, Y: NA, Z: NA, ImmY: 24}, NA
		}
	}
	return inst, NA
}

func splatInstruction(imm int32) Instruction {
	return Instruction{Op: OpSplat, X: NA, Y: NA, Z: NA, ImmY: int(imm)}
}

// fold evaluates the 32-bit integer ops whose operands are all known.
func fold(op Op, x, y uint32, imm int) (uint32, bool) {
	mask := func(b bool) uint32 {
		if b {
			return ^uint32(0)
		}
		return 0
	}
	switch op {
	case OpAddI32:
		return x + y, true
	case OpSubI32:
		return x - y, true
	case OpMulI32:
		return x * y, true
	case OpShlI32:
		return x << imm, true
	case OpShrI32:
		return x >> imm, true
	case OpSraI32:
		return uint32(int32(x) >> imm), true
	case OpBitAnd:
		return x & y, true
	case OpBitOr:
		return x | y, true
	case OpBitXor:
		return x ^ y, true
	case OpBitClear:
		return x &^ y, true
	case OpEqI32:
		return mask(x == y), true
	case OpNeqI32:
		return mask(x != y), true
	case OpLtI32:
		return mask(int32(x) < int32(y)), true
	case OpLteI32:
		return mask(int32(x) <= int32(y)), true
	case OpGtI32:
		return mask(int32(x) > int32(y)), true
	case OpGteI32:
		return mask(int32(x) >= int32(y)), true
	}
	return 0, false
}
