package compiler

import (
	"unsafe"

	"github.com/tetratelabs/skvm/internal/platform"
)

// nativeTarget returns the target matching the host.
func nativeTarget() Target {
	return Target{Arch: ArchAMD64, FMA: platform.HasFMA()}
}

// jitcall enters code with the number of elements in RDI and the argument array in RSI.
//
// Note: this is implemented in arch_amd64.s.
func jitcall(code uintptr, n int, args *unsafe.Pointer)
