// Package interpreter evaluates scheduled programs in portable Go, lane by lane.
package interpreter

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/tetratelabs/skvm/internal/ir"
	"github.com/tetratelabs/skvm/internal/moremath"
)

// Lanes is the number of elements evaluated by each iteration of the main loop.
const Lanes = 8

// slot holds the value of a register for every lane. Floats are stored as their bits.
type slot [Lanes]uint32

// machine is the state of one Run call.
type machine struct {
	p    *ir.Program
	regs []slot
	args []unsafe.Pointer
	// n is the number of elements left, including the ones of the current iteration.
	n int
}

// Run evaluates p over n elements.
//
// args holds one pointer per argument of p. Varying arguments are advanced by their
// stride after each element, uniform ones point at the same memory for the whole call.
// The loop invariant prefix of p runs once, then the loop body runs Lanes elements at a
// time while possible, then one element at a time.
func Run(p *ir.Program, n int, args []unsafe.Pointer) {
	if len(args) < len(p.Strides) {
		panic(fmt.Sprintf("program takes %d arguments but %d were given", len(p.Strides), len(args)))
	}
	m := &machine{
		p:    p,
		regs: make([]slot, p.NRegs),
		args: append([]unsafe.Pointer(nil), args[:len(p.Strides)]...),
		n:    n,
	}

	m.exec(0, p.Loop, Lanes)
	for _, stride := range [...]int{Lanes, 1} {
		for m.n >= stride {
			m.exec(p.Loop, len(p.Instructions), stride)
			for i, s := range p.Strides {
				m.args[i] = unsafe.Add(m.args[i], stride*s)
			}
			m.n -= stride
		}
	}
}

func (m *machine) reg(r ir.Reg) *slot {
	if r == ir.NoReg {
		return nil
	}
	return &m.regs[r]
}

// exec runs the instructions [from, to) on the first lanes lanes.
func (m *machine) exec(from, to, lanes int) {
	for i := from; i < to; i++ {
		inst := &m.p.Instructions[i]
		d, x, y, z := m.reg(inst.D), m.reg(inst.X), m.reg(inst.Y), m.reg(inst.Z)
		immY, immZ := inst.ImmY, inst.ImmZ

		switch inst.Op {
		case ir.OpAssertTrue:
			for l := 0; l < lanes; l++ {
				if x[l] == 0 {
					panic(fmt.Sprintf("assert_true failed at instruction %d: lane %d of r%d is %#x, r%d is %#x",
						i, l, inst.X, x[l], inst.Y, y[l]))
				}
			}

		case ir.OpStore8:
			for l := 0; l < lanes; l++ {
				*m.bytes(immY, l, 1) = byte(x[l])
			}
		case ir.OpStore16:
			for l := 0; l < lanes; l++ {
				binary.LittleEndian.PutUint16(m.mem(immY, l*2, 2), uint16(x[l]))
			}
		case ir.OpStore32:
			for l := 0; l < lanes; l++ {
				binary.LittleEndian.PutUint32(m.mem(immY, l*4, 4), x[l])
			}
		case ir.OpStore64:
			for l := 0; l < lanes; l++ {
				b := m.mem(immY, l*8, 8)
				binary.LittleEndian.PutUint32(b, x[l])
				binary.LittleEndian.PutUint32(b[4:], y[l])
			}
		case ir.OpStore128:
			for l := 0; l < lanes; l++ {
				b := m.mem(immY, l*16+immZ*8, 8)
				binary.LittleEndian.PutUint32(b, x[l])
				binary.LittleEndian.PutUint32(b[4:], y[l])
			}

		case ir.OpIndex:
			for l := 0; l < lanes; l++ {
				d[l] = uint32(m.n - l)
			}
		case ir.OpLoad8:
			for l := 0; l < lanes; l++ {
				d[l] = uint32(*m.bytes(immY, l, 1))
			}
		case ir.OpLoad16:
			for l := 0; l < lanes; l++ {
				d[l] = uint32(binary.LittleEndian.Uint16(m.mem(immY, l*2, 2)))
			}
		case ir.OpLoad32:
			for l := 0; l < lanes; l++ {
				d[l] = binary.LittleEndian.Uint32(m.mem(immY, l*4, 4))
			}
		case ir.OpLoad64:
			for l := 0; l < lanes; l++ {
				d[l] = binary.LittleEndian.Uint32(m.mem(immY, l*8+immZ*4, 4))
			}
		case ir.OpLoad128:
			for l := 0; l < lanes; l++ {
				d[l] = binary.LittleEndian.Uint32(m.mem(immY, l*16+immZ*4, 4))
			}

		case ir.OpGather8:
			for l := 0; l < lanes; l++ {
				d[l] = uint32(*m.bytes(immY, int(int32(x[l])), 1))
			}
		case ir.OpGather16:
			for l := 0; l < lanes; l++ {
				d[l] = uint32(binary.LittleEndian.Uint16(m.mem(immY, int(int32(x[l]))*2, 2)))
			}
		case ir.OpGather32:
			for l := 0; l < lanes; l++ {
				d[l] = binary.LittleEndian.Uint32(m.mem(immY, int(int32(x[l]))*4, 4))
			}

		case ir.OpUniform8:
			broadcast(d, lanes, uint32(*m.bytes(immY, immZ, 1)))
		case ir.OpUniform16:
			broadcast(d, lanes, uint32(binary.LittleEndian.Uint16(m.mem(immY, immZ, 2))))
		case ir.OpUniform32:
			broadcast(d, lanes, binary.LittleEndian.Uint32(m.mem(immY, immZ, 4)))
		case ir.OpSplat:
			broadcast(d, lanes, uint32(immY))

		case ir.OpAddF32:
			binaryF32(d, x, y, lanes, func(a, b float32) float32 { return a + b })
		case ir.OpSubF32:
			binaryF32(d, x, y, lanes, func(a, b float32) float32 { return a - b })
		case ir.OpMulF32:
			binaryF32(d, x, y, lanes, func(a, b float32) float32 { return a * b })
		case ir.OpDivF32:
			binaryF32(d, x, y, lanes, func(a, b float32) float32 { return a / b })
		case ir.OpMinF32:
			binaryF32(d, x, y, lanes, moremath.MinF32)
		case ir.OpMaxF32:
			binaryF32(d, x, y, lanes, moremath.MaxF32)
		case ir.OpMadF32:
			for l := 0; l < lanes; l++ {
				d[l] = math.Float32bits(moremath.MadF32(f32(x[l]), f32(y[l]), f32(z[l])))
			}
		case ir.OpSqrtF32:
			for l := 0; l < lanes; l++ {
				d[l] = math.Float32bits(moremath.SqrtF32(f32(x[l])))
			}

		case ir.OpAddI32:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a + b })
		case ir.OpSubI32:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a - b })
		case ir.OpMulI32:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a * b })
		case ir.OpShlI32:
			unaryU32(d, x, lanes, func(a uint32) uint32 { return a << immY })
		case ir.OpShrI32:
			unaryU32(d, x, lanes, func(a uint32) uint32 { return a >> immY })
		case ir.OpSraI32:
			unaryU32(d, x, lanes, func(a uint32) uint32 { return uint32(int32(a) >> immY) })

		case ir.OpAddI16x2:
			binaryU32(d, x, y, lanes, halves(func(a, b uint16) uint16 { return a + b }))
		case ir.OpSubI16x2:
			binaryU32(d, x, y, lanes, halves(func(a, b uint16) uint16 { return a - b }))
		case ir.OpMulI16x2:
			binaryU32(d, x, y, lanes, halves(func(a, b uint16) uint16 { return a * b }))
		case ir.OpShlI16x2:
			unaryU32(d, x, lanes, func(a uint32) uint32 {
				return halves(func(h, _ uint16) uint16 { return h << immY })(a, 0)
			})
		case ir.OpShrI16x2:
			unaryU32(d, x, lanes, func(a uint32) uint32 {
				return halves(func(h, _ uint16) uint16 { return h >> immY })(a, 0)
			})
		case ir.OpSraI16x2:
			unaryU32(d, x, lanes, func(a uint32) uint32 {
				return halves(func(h, _ uint16) uint16 { return uint16(int16(h) >> immY) })(a, 0)
			})

		case ir.OpBitAnd:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a & b })
		case ir.OpBitOr:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a | b })
		case ir.OpBitXor:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a ^ b })
		case ir.OpBitClear:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a &^ b })

		case ir.OpEqF32:
			compareF32(d, x, y, lanes, func(a, b float32) bool { return a == b })
		case ir.OpNeqF32:
			compareF32(d, x, y, lanes, func(a, b float32) bool { return a != b })
		case ir.OpLtF32:
			compareF32(d, x, y, lanes, func(a, b float32) bool { return a < b })
		case ir.OpLteF32:
			compareF32(d, x, y, lanes, func(a, b float32) bool { return a <= b })
		case ir.OpGtF32:
			compareF32(d, x, y, lanes, func(a, b float32) bool { return a > b })
		case ir.OpGteF32:
			compareF32(d, x, y, lanes, func(a, b float32) bool { return a >= b })

		case ir.OpEqI32:
			compareI32(d, x, y, lanes, func(a, b int32) bool { return a == b })
		case ir.OpNeqI32:
			compareI32(d, x, y, lanes, func(a, b int32) bool { return a != b })
		case ir.OpLtI32:
			compareI32(d, x, y, lanes, func(a, b int32) bool { return a < b })
		case ir.OpLteI32:
			compareI32(d, x, y, lanes, func(a, b int32) bool { return a <= b })
		case ir.OpGtI32:
			compareI32(d, x, y, lanes, func(a, b int32) bool { return a > b })
		case ir.OpGteI32:
			compareI32(d, x, y, lanes, func(a, b int32) bool { return a >= b })

		case ir.OpSelect:
			for l := 0; l < lanes; l++ {
				d[l] = (x[l] & y[l]) | (^x[l] & z[l])
			}
		case ir.OpBytes:
			unaryU32(d, x, lanes, func(a uint32) uint32 { return Bytes(a, immY) })
		case ir.OpExtract:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return (a >> immY) & b })
		case ir.OpPack:
			binaryU32(d, x, y, lanes, func(a, b uint32) uint32 { return a | (b << immY) })

		case ir.OpToF32:
			unaryU32(d, x, lanes, func(a uint32) uint32 { return math.Float32bits(float32(int32(a))) })
		case ir.OpTrunc:
			unaryU32(d, x, lanes, func(a uint32) uint32 { return uint32(moremath.TruncI32(f32(a))) })
		case ir.OpRound:
			unaryU32(d, x, lanes, func(a uint32) uint32 { return uint32(moremath.RoundI32(f32(a))) })

		default:
			panic(fmt.Sprintf("BUG: unknown op %s at instruction %d", inst.Op, i))
		}
	}
}

// mem returns the size bytes at offset off from the current pointer of argument arg.
func (m *machine) mem(arg, off, size int) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(m.args[arg], off)), size)
}

func (m *machine) bytes(arg, off, size int) *byte {
	return &m.mem(arg, off, size)[0]
}

// Bytes shuffles the bytes of x as selected by the nibbles of control: nibble i sets
// byte i of the result, 0 clears it and k in 1..4 copies byte k-1 of x.
func Bytes(x uint32, control int) uint32 {
	var r uint32
	for i := 0; i < 4; i++ {
		sel := (control >> (4 * i)) & 0xf
		if sel == 0 {
			continue
		}
		r |= ((x >> (8 * (sel - 1))) & 0xff) << (8 * i)
	}
	return r
}

func f32(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func broadcast(d *slot, lanes int, v uint32) {
	for l := 0; l < lanes; l++ {
		d[l] = v
	}
}

func unaryU32(d, x *slot, lanes int, f func(uint32) uint32) {
	for l := 0; l < lanes; l++ {
		d[l] = f(x[l])
	}
}

func binaryU32(d, x, y *slot, lanes int, f func(a, b uint32) uint32) {
	for l := 0; l < lanes; l++ {
		d[l] = f(x[l], y[l])
	}
}

func binaryF32(d, x, y *slot, lanes int, f func(a, b float32) float32) {
	for l := 0; l < lanes; l++ {
		d[l] = math.Float32bits(f(f32(x[l]), f32(y[l])))
	}
}

func compareF32(d, x, y *slot, lanes int, f func(a, b float32) bool) {
	for l := 0; l < lanes; l++ {
		d[l] = mask(f(f32(x[l]), f32(y[l])))
	}
}

func compareI32(d, x, y *slot, lanes int, f func(a, b int32) bool) {
	for l := 0; l < lanes; l++ {
		d[l] = mask(f(int32(x[l]), int32(y[l])))
	}
}

func mask(b bool) uint32 {
	if b {
		return ^uint32(0)
	}
	return 0
}

// halves lifts f to apply on both 16-bit halves of its 32-bit operands.
func halves(f func(a, b uint16) uint16) func(a, b uint32) uint32 {
	return func(a, b uint32) uint32 {
		lo := f(uint16(a), uint16(b))
		hi := f(uint16(a>>16), uint16(b>>16))
		return uint32(lo) | uint32(hi)<<16
	}
}
