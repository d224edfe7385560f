package skvm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/dchest/siphash"

	"github.com/tetratelabs/skvm/internal/engine/compiler"
	"github.com/tetratelabs/skvm/internal/engine/interpreter"
	"github.com/tetratelabs/skvm/internal/ir"
)

// ErrJITUnsupported is returned by Program.JIT when the program cannot be compiled
// on this host. Such programs are interpreted.
var ErrJITUnsupported = compiler.ErrJITUnsupported

var errJITDropped = fmt.Errorf("%w: compiled code was dropped", ErrJITUnsupported)

// Op is the operation of an Instruction.
type Op = ir.Op

// Reg is a register of a Program.
type Reg = ir.Reg

// NoReg marks an unused register operand.
const NoReg = ir.NoReg

// Instruction is an instruction of a Program, operating on registers.
type Instruction = ir.ProgramInstruction

// Program is a scheduled program, evaluated with compiled code when available and
// with the interpreter otherwise.
//
// Eval is safe for concurrent use as long as DropJIT is not called concurrently.
type Program struct {
	p   *ir.Program
	jit bool

	once   sync.Once
	jitErr error
	code   atomic.Pointer[compiler.Code]
}

func newProgram(p *ir.Program, c *config) *Program {
	return &Program{p: p, jit: c.jit}
}

// Eval evaluates the program over n elements. args holds one pointer per argument,
// in declaration order, each valid for n elements of its stride.
func (p *Program) Eval(n int, args ...unsafe.Pointer) {
	if len(args) < len(p.p.Strides) {
		panic(fmt.Sprintf("program takes %d arguments but %d were given", len(p.p.Strides), len(args)))
	}
	if n <= 0 || p.Empty() {
		return
	}
	if p.jit {
		p.once.Do(p.compile)
	}
	if code := p.code.Load(); code != nil {
		code.Call(n, args)
		// The finalizer must not release the code while it runs.
		runtime.KeepAlive(p)
		return
	}
	interpreter.Run(p.p, n, args)
}

// JIT compiles the program if not yet attempted, regardless of the configuration, and
// returns why the program is interpreted if so.
func (p *Program) JIT() error {
	p.once.Do(p.compile)
	if p.jitErr != nil {
		return p.jitErr
	}
	if !p.HasJIT() {
		return errJITDropped
	}
	return nil
}

func (p *Program) compile() {
	code, err := compiler.Compile(p.p)
	if err != nil {
		p.jitErr = err
		if !errors.Is(err, ErrJITUnsupported) {
			Logger().Warn("skvm: compiling program", "error", err)
		} else {
			Logger().Debug("skvm: interpreting program", "reason", err, "instructions", len(p.p.Instructions))
		}
		return
	}
	p.code.Store(code)
	runtime.SetFinalizer(p, (*Program).DropJIT)
	Logger().Debug("skvm: compiled program",
		"instructions", len(p.p.Instructions), "registers", p.p.NRegs, "bytes", code.Size())
}

// HasJIT returns whether Eval runs compiled code.
func (p *Program) HasJIT() bool {
	return p.code.Load() != nil
}

// DropJIT releases the compiled code, if any. Subsequent evaluations are interpreted.
func (p *Program) DropJIT() {
	p.once.Do(func() {})
	if code := p.code.Swap(nil); code != nil {
		if err := code.Close(); err != nil {
			Logger().Warn("skvm: releasing compiled code", "error", err)
		}
		runtime.SetFinalizer(p, nil)
	}
}

// Instructions returns the scheduled instructions. Callers must not modify them.
func (p *Program) Instructions() []Instruction { return p.p.Instructions }

// NRegs returns the number of registers the instructions use.
func (p *Program) NRegs() int { return p.p.NRegs }

// Loop returns the index of the first instruction of the loop. The instructions
// before it run once per evaluation.
func (p *Program) Loop() int { return p.p.Loop }

// Empty returns true when the program has no effect.
func (p *Program) Empty() bool { return len(p.p.Instructions) == 0 }

// Strides returns the element size of each argument, zero for uniforms.
func (p *Program) Strides() []int { return append([]int(nil), p.p.Strides...) }

// Dump writes the scheduled instructions to w, in a format stable for a given program.
func (p *Program) Dump(w io.Writer) error {
	_, err := io.WriteString(w, p.p.String())
	return err
}

// Fingerprint returns a hash of the scheduled program.
func (p *Program) Fingerprint() uint64 {
	return fingerprint(p.p)
}

func fingerprint(p *ir.Program) uint64 {
	buf := make([]byte, 0, 24+8*len(p.Strides)+29*len(p.Instructions))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.NRegs))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Loop))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(p.Strides)))
	for _, s := range p.Strides {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(s))
	}
	for i := range p.Instructions {
		inst := &p.Instructions[i]
		buf = append(buf, byte(inst.Op))
		for _, r := range [...]ir.Reg{inst.D, inst.X, inst.Y, inst.Z} {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(r))
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(inst.ImmY))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(inst.ImmZ))
	}
	return siphash.Hash(fingerprintK0, fingerprintK1, buf)
}

// Ptr returns a pointer to the first element of s, or nil when s is empty, to pass
// Go slices to Program.Eval.
func Ptr[T any](s []T) unsafe.Pointer {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Pointer(&s[0])
}
