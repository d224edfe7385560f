package compiler

import "unsafe"

// nativeTarget returns the target matching the host.
func nativeTarget() Target {
	return Target{Arch: ArchARM64}
}

// jitcall enters code with the number of elements in X0 and the argument array in X1.
//
// Note: this is implemented in arch_arm64.s.
func jitcall(code uintptr, n int, args *unsafe.Pointer)
