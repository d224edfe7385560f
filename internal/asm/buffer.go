// Package asm holds the architecture-independent parts of the assemblers: a growable
// code buffer, labels with deferred relocation, and memory mapped code segments.
package asm

import (
	"encoding/binary"
	"fmt"
)

// Buffer accumulates machine code.
//
// Errors raised while encoding (e.g. an immediate or a branch displacement that
// does not fit) are sticky: the first one is kept and returned by Assemble, so
// that emitters can keep appending without checking after every instruction.
//
// The zero value is an empty buffer ready to use.
type Buffer struct {
	code []byte
	// dangling holds the labels referenced before being bound.
	dangling map[*Label]struct{}
	err      error
}

// Len returns the number of bytes written so far, which is also the offset of the next instruction.
func (b *Buffer) Len() int {
	return len(b.code)
}

// Bytes returns the code written so far.
//
// Labels not yet bound are still encoded as zero displacements.
func (b *Buffer) Bytes() []byte {
	return b.code
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(v byte) {
	b.code = append(b.code, v)
}

// AppendBytes appends the given bytes.
func (b *Buffer) AppendBytes(v ...byte) {
	b.code = append(b.code, v...)
}

// AppendUint32 appends v in little endian byte order.
func (b *Buffer) AppendUint32(v uint32) {
	b.code = binary.LittleEndian.AppendUint32(b.code, v)
}

// Align pads the buffer with zeros until its length is a multiple of n, which must be a power of two.
func (b *Buffer) Align(n int) {
	for len(b.code)&(n-1) != 0 {
		b.code = append(b.code, 0)
	}
}

// Errorf records an encoding error unless one was already recorded.
func (b *Buffer) Errorf(format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// Err returns the first encoding error recorded, if any.
func (b *Buffer) Err() error {
	return b.err
}

// Here returns a label bound to the current offset.
func (b *Buffer) Here() *Label {
	return &Label{offset: len(b.code), bound: true}
}

// Label binds l to the current offset and patches every reference recorded against it.
//
// Binding a label twice is a programming error.
func (b *Buffer) Label(l *Label) {
	if l.bound {
		panic(fmt.Sprintf("BUG: label already bound at offset %#x", l.offset))
	}
	l.offset, l.bound = len(b.code), true
	for _, ref := range l.references {
		b.patch(ref, l.offset)
	}
	l.references = nil
	delete(b.dangling, l)
}

// Reference records that the displacement field of the given kind located at offset
// `at` refers to l. The field must already be written: when l is already bound, it is
// patched right away.
//
// For LabelKindX86Disp32, at is the offset of the 4-byte field and the field must end
// the instruction. For the ARM kinds, at is the offset of the instruction word.
func (b *Buffer) Reference(l *Label, kind LabelKind, at int) {
	ref := Reference{Offset: at, Kind: kind}
	if l.bound {
		b.patch(ref, l.offset)
		return
	}
	l.references = append(l.references, ref)
	if b.dangling == nil {
		b.dangling = map[*Label]struct{}{}
	}
	b.dangling[l] = struct{}{}
}

// Assemble returns the final code, or the first error encountered while encoding.
func (b *Buffer) Assemble() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if n := len(b.dangling); n > 0 {
		return nil, fmt.Errorf("%d label(s) referenced but never bound", n)
	}
	return b.code, nil
}

func (b *Buffer) patch(ref Reference, target int) {
	if ref.Offset < 0 || ref.Offset+4 > len(b.code) {
		panic(fmt.Sprintf("BUG: %s reference at %#x is past the end of the code (%#x bytes)", ref.Kind, ref.Offset, len(b.code)))
	}
	switch ref.Kind {
	case LabelKindX86Disp32:
		// Relative to the end of the displacement field.
		disp := int64(target) - int64(ref.Offset+4)
		if disp < -1<<31 || disp >= 1<<31 {
			b.Errorf("displacement %d does not fit in 32 bits", disp)
			return
		}
		binary.LittleEndian.PutUint32(b.code[ref.Offset:], uint32(int32(disp)))
	case LabelKindARMDisp19, LabelKindARMDisp26:
		disp := target - ref.Offset
		if disp&3 != 0 {
			b.Errorf("branch target %#x is not aligned on 4 bytes", target)
			return
		}
		disp >>= 2
		bits, shift := 19, 5
		if ref.Kind == LabelKindARMDisp26 {
			bits, shift = 26, 0
		}
		if disp < -(1<<(bits-1)) || disp >= 1<<(bits-1) {
			b.Errorf("displacement of %d instructions does not fit in %d bits", disp, bits)
			return
		}
		mask := uint32(1)<<bits - 1
		inst := binary.LittleEndian.Uint32(b.code[ref.Offset:])
		inst = inst&^(mask<<shift) | (uint32(disp)&mask)<<shift
		binary.LittleEndian.PutUint32(b.code[ref.Offset:], inst)
	default:
		panic(fmt.Sprintf("BUG: unknown label kind %d", ref.Kind))
	}
}
