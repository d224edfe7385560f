package ir

import (
	"fmt"
	"math"
	"strings"
)

// Format returns a textual representation of a builder program, one value per line.
//
// Values moved before the loop are marked with ↑, values never used with ☠.
func Format(program []Instruction, hoist bool) string {
	a := Analyze(program, hoist)
	live := 0
	for id := range program {
		if a.Live(Val(id)) {
			live++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d values (%d live):\n", len(program), live)
	for id := range program {
		inst := &program[id]
		switch {
		case !a.Live(Val(id)):
			sb.WriteString("☠ ")
		case a.Hoisted[id]:
			sb.WriteString("↑ ")
		default:
			sb.WriteString("  ")
		}
		if inst.Op.ProducesValue() {
			fmt.Fprintf(&sb, "v%d = ", id)
		}
		sb.WriteString(inst.Op.String())
		for _, arg := range inst.Args() {
			fmt.Fprintf(&sb, " v%d", arg)
		}
		formatImms(&sb, inst.Op, inst.ImmY, inst.ImmZ)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (p *Program) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d registers, %d instructions:\n", p.NRegs, len(p.Instructions))
	for i := range p.Instructions {
		if i == p.Loop {
			sb.WriteString("loop:\n")
		}
		inst := &p.Instructions[i]
		fmt.Fprintf(&sb, "%d\t", i)
		if inst.D != NoReg {
			fmt.Fprintf(&sb, "r%d = ", inst.D)
		}
		sb.WriteString(inst.Op.String())
		args := [3]Reg{inst.X, inst.Y, inst.Z}
		for _, r := range args[:inst.Op.NumArgs()] {
			fmt.Fprintf(&sb, " r%d", r)
		}
		formatImms(&sb, inst.Op, inst.ImmY, inst.ImmZ)
		sb.WriteByte('\n')
	}
	if p.Loop == len(p.Instructions) {
		sb.WriteString("loop:\n")
	}
	return sb.String()
}

func formatImms(sb *strings.Builder, op Op, immY, immZ int) {
	info := &opInfos[op]
	formatImm(sb, info.immY, immY)
	formatImm(sb, info.immZ, immZ)
}

func formatImm(sb *strings.Builder, kind immKind, imm int) {
	switch kind {
	case immArg:
		fmt.Fprintf(sb, " arg(%d)", imm)
	case immLane:
		fmt.Fprintf(sb, " lane(%d)", imm)
	case immOffset:
		fmt.Fprintf(sb, " +%d", imm)
	case immSplat:
		bits := uint32(imm)
		fmt.Fprintf(sb, " %#x (%d, %g)", bits, int32(bits), math.Float32frombits(bits))
	case immBits:
		fmt.Fprintf(sb, " %d", imm)
	case immControl:
		fmt.Fprintf(sb, " %#x", imm)
	}
}
