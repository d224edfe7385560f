package asm

import (
	"errors"
	"unsafe"

	"github.com/tetratelabs/skvm/internal/platform"
)

// CodeSegment represents a memory mapped segment holding native CPU instructions.
//
// Instances of CodeSegment hold references to memory which is NOT managed by
// the garbage collector and therefore must be released *manually* by calling
// their Unmap method to prevent memory leaks.
type CodeSegment struct {
	code []byte
}

// NewCodeSegment maps a new executable region and copies code into it.
func NewCodeSegment(code []byte) (*CodeSegment, error) {
	if len(code) == 0 {
		return nil, errors.New("empty code segment")
	}
	b, err := platform.MmapCodeSegment(code)
	if err != nil {
		return nil, err
	}
	return &CodeSegment{code: b}, nil
}

// Unmap releases the underlying memory region. Calling it more than once is a no-op.
func (seg *CodeSegment) Unmap() error {
	if seg.code != nil {
		if err := platform.MunmapCodeSegment(seg.code); err != nil {
			return err
		}
		seg.code = nil
	}
	return nil
}

// Addr returns the address of the beginning of the code segment as a uintptr.
func (seg *CodeSegment) Addr() uintptr {
	if len(seg.code) > 0 {
		return uintptr(unsafe.Pointer(&seg.code[0]))
	}
	return 0
}

// Size returns the size of the code segment.
func (seg *CodeSegment) Size() int {
	return len(seg.code)
}

// Bytes returns a byte slice to the memory mapping of the code segment.
//
// The returned slice is read-only and remains valid until Unmap is called.
func (seg *CodeSegment) Bytes() []byte {
	return seg.code
}
