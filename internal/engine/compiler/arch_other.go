//go:build !amd64 && !arm64

package compiler

import "unsafe"

// nativeTarget returns the zero Target, which Generate rejects.
func nativeTarget() Target {
	return Target{}
}

func jitcall(code uintptr, n int, args *unsafe.Pointer) {
	panic("BUG: jitcall on an unsupported architecture")
}
