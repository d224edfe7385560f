package skvm_test

import (
	"fmt"
	"log"
	"os"

	"github.com/tetratelabs/skvm"
)

// This is an example of scaling 8-bit values by a uniform factor.
func Example() {
	b := skvm.NewBuilder()
	src, uniforms, dst := b.Varying(1), b.Uniform(), b.Varying(1)

	x := b.ToF32(b.Load8(src))
	scaled := b.MulF32(x, b.UniformF32(uniforms, 0))
	b.Store8(dst, b.Round(b.MinF32(scaled, b.SplatF32(255))))

	p := b.Done()

	in := []byte{0, 10, 100, 200}
	out := make([]byte, len(in))
	p.Eval(len(in), skvm.Ptr(in), skvm.Ptr([]float32{1.5}), skvm.Ptr(out))
	fmt.Println(out)

	if err := p.Dump(os.Stdout); err != nil {
		log.Panicln(err)
	}

	// Output:
	// [0 15 150 255]
	// 3 registers, 8 instructions:
	// 0	r0 = uniform32 arg(1) +0
	// 1	r1 = splat 0x437f0000 (1132396544, 255)
	// loop:
	// 2	r2 = load8 arg(0)
	// 3	r2 = to_f32 r2
	// 4	r2 = mul_f32 r2 r0
	// 5	r2 = min_f32 r2 r1
	// 6	r2 = round r2
	// 7	store8 r2 arg(2)
}
