package compiler

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/tetratelabs/skvm/internal/asm"
	"github.com/tetratelabs/skvm/internal/ir"
	"github.com/tetratelabs/skvm/internal/platform"
)

// Code is a compiled program mapped in executable memory.
//
// Code holds memory which is not managed by the garbage collector: Close must be
// called once the code is no longer used.
type Code struct {
	seg   *asm.CodeSegment
	lanes int
}

// Compile generates the code of p for the host and maps it in executable memory.
//
// The returned error wraps ErrJITUnsupported when the host or p cannot be compiled.
func Compile(p *ir.Program) (*Code, error) {
	if !platform.CompilerSupported() {
		return nil, unsupported("%s host without the required vector extensions", runtime.GOARCH)
	}
	t := nativeTarget()
	code, err := Generate(p, t)
	if err != nil {
		return nil, err
	}
	seg, err := asm.NewCodeSegment(code)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of code: %w", len(code), err)
	}
	return &Code{seg: seg, lanes: Lanes(t)}, nil
}

// Lanes returns the number of elements handled by one iteration of the main loop.
func (c *Code) Lanes() int {
	return c.lanes
}

// Size returns the size of the machine code in bytes.
func (c *Code) Size() int {
	return c.seg.Size()
}

// Call runs the code over n elements. args must hold one pointer per argument of the
// compiled program.
func (c *Code) Call(n int, args []unsafe.Pointer) {
	if n <= 0 {
		return
	}
	var argp *unsafe.Pointer
	if len(args) > 0 {
		argp = &args[0]
	}
	jitcall(c.seg.Addr(), n, argp)
	runtime.KeepAlive(args)
}

// Close unmaps the code. Calling it more than once is a no-op.
func (c *Code) Close() error {
	return c.seg.Unmap()
}
