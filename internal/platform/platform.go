// Package platform includes runtime-specific code needed for the compiler or otherwise.
package platform

import (
	"errors"
	"runtime"

	"golang.org/x/sys/cpu"
)

// MmapCodeSegment copies the code into a newly mapped executable region and returns the byte slice of the region.
//
// The region is never writable and executable at the same time: it is mapped read-write, filled, then
// switched to read-execute.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html for mmap API and flags.
func MmapCodeSegment(code []byte) ([]byte, error) {
	if len(code) == 0 {
		panic(errors.New("BUG: MmapCodeSegment with zero length"))
	}
	return mmapCodeSegment(code)
}

// MunmapCodeSegment unmaps the given memory region.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic(errors.New("BUG: MunmapCodeSegment with zero length"))
	}
	return munmapCodeSegment(code)
}

// CompilerSupported returns whether the host can execute code emitted by the compiler.
//
// On amd64 this requires AVX2. AArch64 always has Advanced SIMD.
func CompilerSupported() bool {
	if !mmapSupported {
		return false
	}
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAVX && cpu.X86.HasAVX2
	case "arm64":
		return true
	default:
		return false
	}
}

// HasFMA returns whether the host amd64 CPU supports fused multiply-add (FMA3).
func HasFMA() bool {
	return cpu.X86.HasFMA
}
