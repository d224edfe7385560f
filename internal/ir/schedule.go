package ir

// Analysis holds the per-instruction facts Schedule derives from a builder program.
type Analysis struct {
	// Death is the index of the last instruction using each value, the instruction
	// itself for side effects, or NA when the value is never used.
	Death []Val
	// Hoisted reports the live instructions computing the same value on every
	// iteration, which are moved before the loop.
	Hoisted []bool
	// UsedInLoop reports the hoisted values read by instructions inside the loop.
	UsedInLoop []bool
}

// Live returns whether the instruction contributes to a side effect.
func (a *Analysis) Live(id Val) bool {
	return a.Death[id] != NA
}

// Analyze computes liveness and hoisting facts for program.
func Analyze(program []Instruction, hoist bool) Analysis {
	n := len(program)
	a := Analysis{
		Death:      make([]Val, n),
		Hoisted:    make([]bool, n),
		UsedInLoop: make([]bool, n),
	}

	// Walking backward, the first use found is the last one.
	for i := range a.Death {
		a.Death[i] = NA
	}
	for id := n - 1; id >= 0; id-- {
		inst := &program[id]
		if inst.Op.HasSideEffect() {
			a.Death[id] = Val(id)
		}
		if a.Death[id] == NA {
			continue
		}
		for _, arg := range inst.Args() {
			if a.Death[arg] == NA {
				a.Death[arg] = Val(id)
			}
		}
	}

	for id := range program {
		inst := &program[id]
		if !hoist || a.Death[id] == NA || inst.Op.IsAlwaysVarying() {
			continue
		}
		hoisted := true
		for _, arg := range inst.Args() {
			hoisted = hoisted && a.Hoisted[arg]
		}
		a.Hoisted[id] = hoisted
	}

	for id := range program {
		if a.Death[id] == NA || a.Hoisted[id] {
			continue
		}
		inst := &program[id]
		for _, arg := range inst.Args() {
			if a.Hoisted[arg] {
				a.UsedInLoop[arg] = true
			}
		}
	}
	return a
}

// Schedule drops dead instructions, moves loop invariant ones before the loop when
// hoist is true, and assigns registers with a linear scan.
//
// A register is released at the last use of its value and can be reused by the
// destination of that same instruction. Hoisted values used inside the loop keep
// their register for the whole program.
func Schedule(program []Instruction, strides []int, hoist bool) *Program {
	a := Analyze(program, hoist)

	order := make([]Val, 0, len(program))
	for id := range program {
		if a.Live(Val(id)) && a.Hoisted[id] {
			order = append(order, Val(id))
		}
	}
	loop := len(order)
	for id := range program {
		if a.Live(Val(id)) && !a.Hoisted[id] {
			order = append(order, Val(id))
		}
	}

	p := &Program{
		Instructions: make([]ProgramInstruction, 0, len(order)),
		Loop:         loop,
		Strides:      append([]int(nil), strides...),
	}

	reg := make([]Reg, len(program))
	for i := range reg {
		reg[i] = NoReg
	}
	releaseAt := map[Val][]Reg{}
	var avail []Reg

	for _, id := range order {
		inst := &program[id]

		avail = append(avail, releaseAt[id]...)
		delete(releaseAt, id)

		d := NoReg
		if inst.Op.ProducesValue() {
			if n := len(avail); n > 0 {
				d, avail = avail[n-1], avail[:n-1]
			} else {
				d = Reg(p.NRegs)
				p.NRegs++
			}
			reg[id] = d
			if !(a.Hoisted[id] && a.UsedInLoop[id]) {
				releaseAt[a.Death[id]] = append(releaseAt[a.Death[id]], d)
			}
		}

		args := [3]Reg{NoReg, NoReg, NoReg}
		for i, arg := range inst.Args() {
			args[i] = reg[arg]
		}
		p.Instructions = append(p.Instructions, ProgramInstruction{
			Op:   inst.Op,
			D:    d,
			X:    args[0],
			Y:    args[1],
			Z:    args[2],
			ImmY: inst.ImmY,
			ImmZ: inst.ImmZ,
		})
	}
	return p
}
