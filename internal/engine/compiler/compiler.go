// Package compiler translates scheduled programs into native loops.
//
// The generated function has the signature func(n int, args *[N]unsafe.Pointer) and is
// entered through jitcall. It runs the loop invariant prefix of the program once, then
// the loop body on as many lanes as the target vector registers hold while at least
// that many elements are left, then on one element at a time.
package compiler

import (
	"errors"
	"fmt"

	"github.com/tetratelabs/skvm/internal/asm"
	"github.com/tetratelabs/skvm/internal/ir"
)

// ErrJITUnsupported is returned when a program cannot be compiled for the target, in
// which case it is expected to be evaluated by the interpreter instead.
var ErrJITUnsupported = errors.New("jit unsupported")

// Arch is an instruction set the compiler generates code for.
type Arch byte

const (
	ArchAMD64 Arch = iota + 1
	ArchARM64
)

// String implements fmt.Stringer.
func (a Arch) String() string {
	switch a {
	case ArchAMD64:
		return "amd64"
	case ArchARM64:
		return "arm64"
	}
	return "unknown"
}

// Target describes the machine generated code runs on.
type Target struct {
	Arch Arch
	// FMA enables fused multiply-add instructions on amd64. They are always used on arm64.
	FMA bool
}

// emitter generates code for one architecture. The loop structure is shared and
// driven by Generate.
type emitter interface {
	// lanes returns the number of 32-bit lanes of a vector register.
	lanes() int
	// check returns an error wrapping ErrJITUnsupported if p cannot be compiled.
	check(p *ir.Program) error
	// prologue loads the argument pointers.
	prologue(nargs int)
	// emit appends the code of inst operating on stride lanes.
	emit(inst *ir.ProgramInstruction, stride int)
	// loopHead jumps to exit when fewer than stride elements are left.
	loopHead(stride int, exit *asm.Label)
	// loopTail advances the argument pointers and the element count, then jumps to top.
	loopTail(stride int, strides []int, top *asm.Label)
	// epilogue returns to the caller and appends the constant pool.
	epilogue()
	buffer() *asm.Buffer
}

func newEmitter(t Target) (emitter, error) {
	switch t.Arch {
	case ArchAMD64:
		return newX86Emitter(t.FMA), nil
	case ArchARM64:
		return newAArch64Emitter(), nil
	}
	return nil, fmt.Errorf("%w: unknown architecture %s", ErrJITUnsupported, t.Arch)
}

// Lanes returns the number of elements a single iteration of the main loop handles on t.
func Lanes(t Target) int {
	e, err := newEmitter(t)
	if err != nil {
		return 0
	}
	return e.lanes()
}

// Generate returns the machine code of p for t. The code is position independent.
func Generate(p *ir.Program, t Target) ([]byte, error) {
	e, err := newEmitter(t)
	if err != nil {
		return nil, err
	}
	if err = e.check(p); err != nil {
		return nil, err
	}

	e.prologue(len(p.Strides))
	for i := 0; i < p.Loop; i++ {
		e.emit(&p.Instructions[i], e.lanes())
	}
	b := e.buffer()
	for _, stride := range [...]int{e.lanes(), 1} {
		top, exit := b.Here(), &asm.Label{}
		e.loopHead(stride, exit)
		for i := p.Loop; i < len(p.Instructions); i++ {
			e.emit(&p.Instructions[i], stride)
		}
		e.loopTail(stride, p.Strides, top)
		b.Label(exit)
	}
	e.epilogue()

	code, err := b.Assemble()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJITUnsupported, err)
	}
	return code, nil
}

// checkOps rejects the ops no backend implements.
func checkOps(p *ir.Program) error {
	for i := range p.Instructions {
		switch op := p.Instructions[i].Op; op {
		case ir.OpAssertTrue,
			ir.OpLoad64, ir.OpLoad128, ir.OpStore64, ir.OpStore128,
			ir.OpGather8, ir.OpGather16, ir.OpGather32:
			return fmt.Errorf("%w: %s at instruction %d", ErrJITUnsupported, op, i)
		}
	}
	return nil
}

func unsupported(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrJITUnsupported, fmt.Sprintf(format, args...))
}
