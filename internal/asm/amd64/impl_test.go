package amd64

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/tetratelabs/skvm/internal/asm"
)

func TestAssembler_Encode(t *testing.T) {
	for _, tc := range []struct {
		name string
		emit func(a *Assembler)
		exp  string
	}{
		{name: "vzeroupper; ret", emit: func(a *Assembler) { a.VZEROUPPER(); a.RET() }, exp: "c5f877c3"},
		{name: "vpaddd ymm0, ymm1, ymm2", emit: func(a *Assembler) { a.VPADDD(YMM0, YMM1, YMM2) }, exp: "c5f5fec2"},
		{name: "vpaddd ymm8, ymm1, ymm2", emit: func(a *Assembler) { a.VPADDD(YMM8, YMM1, YMM2) }, exp: "c575fec2"},
		{name: "vpaddd ymm0, ymm1, ymm10", emit: func(a *Assembler) { a.VPADDD(YMM0, YMM1, YMM10) }, exp: "c4c175fec2"},
		{name: "vpmulld ymm0, ymm1, ymm2", emit: func(a *Assembler) { a.VPMULLD(YMM0, YMM1, YMM2) }, exp: "c4e27540c2"},
		{name: "vmovups ymm0, [rdx]", emit: func(a *Assembler) { a.VMOVUPS(YMM0, Mem{Base: RDX}) }, exp: "c5fc1002"},
		{name: "vmovups [rdx], ymm0", emit: func(a *Assembler) { a.VMOVUPSStore(Mem{Base: RDX}, YMM0) }, exp: "c5fc1102"},
		{name: "vmovups ymm0, [r12+8]", emit: func(a *Assembler) { a.VMOVUPS(YMM0, Mem{Base: R12, Disp: 8}) }, exp: "c4c17c10442408"},
		{name: "vmovups ymm0, [r13]", emit: func(a *Assembler) { a.VMOVUPS(YMM0, Mem{Base: R13}) }, exp: "c4c17c104500"},
		{name: "vmovups ymm0, [rdx+256]", emit: func(a *Assembler) { a.VMOVUPS(YMM0, Mem{Base: RDX, Disp: 256}) }, exp: "c5fc108200010000"},
		{name: "vpbroadcastd ymm0, xmm0", emit: func(a *Assembler) { a.VPBROADCASTD(YMM0, YMM0) }, exp: "c4e27d58c0"},
		{name: "vmovd xmm0, eax", emit: func(a *Assembler) { a.VMOVD(YMM0, RAX) }, exp: "c5f96ec0"},
		{name: "vmovd xmm0, edi", emit: func(a *Assembler) { a.VMOVD(YMM0, RDI) }, exp: "c5f96ec7"},
		{name: "vmovd xmm0, [rdx]", emit: func(a *Assembler) { a.VMOVD(YMM0, Mem{Base: RDX}) }, exp: "c5f96e02"},
		{name: "vmovd [rdx], xmm0", emit: func(a *Assembler) { a.VMOVDStore(Mem{Base: RDX}, YMM0) }, exp: "c5f97e02"},
		{name: "vmovq [rdx], xmm0", emit: func(a *Assembler) { a.VMOVQStore(Mem{Base: RDX}, YMM0) }, exp: "c5f9d602"},
		{name: "vmovdqu [rdx], xmm0", emit: func(a *Assembler) { a.VMOVDQUStore(Mem{Base: RDX}, YMM0) }, exp: "c5fa7f02"},
		{name: "vpmovzxbd ymm0, [rdx]", emit: func(a *Assembler) { a.VPMOVZXBD(YMM0, Mem{Base: RDX}) }, exp: "c4e27d3102"},
		{name: "vpmovzxwd ymm0, [rdx]", emit: func(a *Assembler) { a.VPMOVZXWD(YMM0, Mem{Base: RDX}) }, exp: "c4e27d3302"},
		{name: "vpextrb [rdx], xmm0, 0", emit: func(a *Assembler) { a.VPEXTRB(Mem{Base: RDX}, YMM0, 0) }, exp: "c4e379140200"},
		{name: "vpextrw [rdx], xmm0, 0", emit: func(a *Assembler) { a.VPEXTRW(Mem{Base: RDX}, YMM0, 0) }, exp: "c4e379150200"},
		{name: "vpermq ymm0, ymm1, 0x08", emit: func(a *Assembler) { a.VPERMQ(YMM0, YMM1, 0x08) }, exp: "c4e3fd00c108"},
		{name: "vextracti128 xmm1, ymm0, 1", emit: func(a *Assembler) { a.VEXTRACTI128(YMM1, YMM0, 1) }, exp: "c4e37d39c101"},
		{name: "vpblendvb ymm0, ymm1, ymm2, ymm3", emit: func(a *Assembler) { a.VPBLENDVB(YMM0, YMM1, YMM2, YMM3) }, exp: "c4e3754cc230"},
		{name: "vcmpps ymm0, ymm1, ymm2, lt", emit: func(a *Assembler) { a.VCMPPS(YMM0, YMM1, YMM2, CmpLT) }, exp: "c5f4c2c201"},
		{name: "vpslld ymm0, ymm1, 3", emit: func(a *Assembler) { a.VPSLLD(YMM0, YMM1, 3) }, exp: "c5fd72f103"},
		{name: "vpsrld ymm0, ymm1, 3", emit: func(a *Assembler) { a.VPSRLD(YMM0, YMM1, 3) }, exp: "c5fd72d103"},
		{name: "vpsrad ymm0, ymm1, 3", emit: func(a *Assembler) { a.VPSRAD(YMM0, YMM1, 3) }, exp: "c5fd72e103"},
		{name: "vpsllw ymm0, ymm1, 8", emit: func(a *Assembler) { a.VPSLLW(YMM0, YMM1, 8) }, exp: "c5fd71f108"},
		{name: "vfmadd132ps ymm0, ymm1, ymm2", emit: func(a *Assembler) { a.VFMADD132PS(YMM0, YMM1, YMM2) }, exp: "c4e27598c2"},
		{name: "vfmadd213ps ymm0, ymm1, ymm2", emit: func(a *Assembler) { a.VFMADD213PS(YMM0, YMM1, YMM2) }, exp: "c4e275a8c2"},
		{name: "vfmadd231ps ymm0, ymm1, ymm2", emit: func(a *Assembler) { a.VFMADD231PS(YMM0, YMM1, YMM2) }, exp: "c4e275b8c2"},
		{name: "vcvtdq2ps ymm0, ymm1", emit: func(a *Assembler) { a.VCVTDQ2PS(YMM0, YMM1) }, exp: "c5fc5bc1"},
		{name: "vcvttps2dq ymm0, ymm1", emit: func(a *Assembler) { a.VCVTTPS2DQ(YMM0, YMM1) }, exp: "c5fe5bc1"},
		{name: "vcvtps2dq ymm0, ymm1", emit: func(a *Assembler) { a.VCVTPS2DQ(YMM0, YMM1) }, exp: "c5fd5bc1"},
		{name: "vsqrtps ymm0, ymm1", emit: func(a *Assembler) { a.VSQRTPS(YMM0, YMM1) }, exp: "c5fc51c1"},
		{name: "vmovaps ymm0, ymm1", emit: func(a *Assembler) { a.VMOVAPS(YMM0, YMM1) }, exp: "c5fc28c1"},
		{name: "mov rdx, [rsi+8]", emit: func(a *Assembler) { a.MOVQ(RDX, Mem{Base: RSI, Disp: 8}) }, exp: "488b5608"},
		{name: "mov r8, [rsi+16]", emit: func(a *Assembler) { a.MOVQ(R8, Mem{Base: RSI, Disp: 16}) }, exp: "4c8b4610"},
		{name: "movzx eax, byte [rdx]", emit: func(a *Assembler) { a.MOVZXB(RAX, Mem{Base: RDX}) }, exp: "0fb602"},
		{name: "movzx eax, byte [r8]", emit: func(a *Assembler) { a.MOVZXB(RAX, Mem{Base: R8}) }, exp: "410fb600"},
		{name: "movzx eax, word [rdx+4]", emit: func(a *Assembler) { a.MOVZXW(RAX, Mem{Base: RDX, Disp: 4}) }, exp: "0fb74204"},
		{name: "add rdx, 32", emit: func(a *Assembler) { a.ADDQ(RDX, 32) }, exp: "4883c220"},
		{name: "add r8, 32", emit: func(a *Assembler) { a.ADDQ(R8, 32) }, exp: "4983c020"},
		{name: "add rdx, 512", emit: func(a *Assembler) { a.ADDQ(RDX, 512) }, exp: "4881c200020000"},
		{name: "sub rdi, 8", emit: func(a *Assembler) { a.SUBQ(RDI, 8) }, exp: "4883ef08"},
		{name: "cmp rdi, 8", emit: func(a *Assembler) { a.CMPQ(RDI, 8) }, exp: "4883ff08"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a := NewAssembler()
			tc.emit(a)
			code, err := a.Assemble()
			require.NoError(t, err)
			require.Equal(t, tc.exp, hex.EncodeToString(code))
		})
	}
}

func TestAssembler_RIP(t *testing.T) {
	a := NewAssembler()
	var pool asm.Label
	a.VBROADCASTSS(YMM0, RIP(&pool))
	a.RET()
	a.Label(&pool)
	a.AppendUint32(0x3f800000)

	code, err := a.Assemble()
	require.NoError(t, err)
	// The displacement counts from the end of the vbroadcastss, skipping the ret.
	require.Equal(t, "c4e27d180501000000c30000803f", hex.EncodeToString(code))

	require.Panics(t, func() {
		NewAssembler().VCMPPS(YMM0, YMM1, RIP(&pool), CmpEQ)
	})
}

func TestAssembler_Jumps(t *testing.T) {
	a := NewAssembler()
	top := a.Here()
	var exit asm.Label
	a.CMPQ(RDI, 8)
	a.JLT(&exit)
	a.SUBQ(RDI, 8)
	a.JMP(top)
	a.Label(&exit)
	a.RET()

	code, err := a.Assemble()
	require.NoError(t, err)
	require.Equal(t, "4883ff08"+"0f8c09000000"+"4883ef08"+"e9edffffff"+"c3", hex.EncodeToString(code))
}

func TestAssembler_ConditionalJumps(t *testing.T) {
	for _, tc := range []struct {
		name string
		jump func(a *Assembler, l *asm.Label)
		exp  string
	}{
		{name: "je", jump: (*Assembler).JEQ, exp: "0f84"},
		{name: "jne", jump: (*Assembler).JNE, exp: "0f85"},
		{name: "jl", jump: (*Assembler).JLT, exp: "0f8c"},
		{name: "jge", jump: (*Assembler).JGE, exp: "0f8d"},
		{name: "jle", jump: (*Assembler).JLE, exp: "0f8e"},
		{name: "jg", jump: (*Assembler).JGT, exp: "0f8f"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			a := NewAssembler()
			top := a.Here()
			var next asm.Label
			tc.jump(a, &next)
			a.Label(&next)
			tc.jump(a, top)

			code, err := a.Assemble()
			require.NoError(t, err)
			require.Equal(t, tc.exp+"00000000"+tc.exp+"f4ffffff", hex.EncodeToString(code))
		})
	}
}

func TestAssembler_SharedForwardLabel(t *testing.T) {
	a := NewAssembler()
	var exit asm.Label
	a.JLT(&exit)
	a.SUBQ(RDI, 8)
	a.JMP(&exit)
	a.SUBQ(RDI, 8)
	a.Label(&exit)
	a.RET()

	code, err := a.Assemble()
	require.NoError(t, err)
	// Both jumps land on the ret at offset 19.
	require.Equal(t, "0f8c0d000000"+"4883ef08"+"e904000000"+"4883ef08"+"c3", hex.EncodeToString(code))
}

// TestAssembler_GolangAsm cross-checks encodings against the Go assembler.
func TestAssembler_GolangAsm(t *testing.T) {
	regs := []Y{YMM0, YMM1, YMM7, YMM8, YMM13, YMM15}
	toGo := func(r Y) int16 { return x86.REG_Y0 + int16(r) }

	for _, tc := range []struct {
		as   obj.As
		emit func(a *Assembler, d, x, y Y)
	}{
		{as: x86.AVPADDD, emit: func(a *Assembler, d, x, y Y) { a.VPADDD(d, x, y) }},
		{as: x86.AVPSUBD, emit: func(a *Assembler, d, x, y Y) { a.VPSUBD(d, x, y) }},
		{as: x86.AVPMULLD, emit: func(a *Assembler, d, x, y Y) { a.VPMULLD(d, x, y) }},
		{as: x86.AVPAND, emit: func(a *Assembler, d, x, y Y) { a.VPAND(d, x, y) }},
		{as: x86.AVPOR, emit: func(a *Assembler, d, x, y Y) { a.VPOR(d, x, y) }},
		{as: x86.AVPXOR, emit: func(a *Assembler, d, x, y Y) { a.VPXOR(d, x, y) }},
		{as: x86.AVADDPS, emit: func(a *Assembler, d, x, y Y) { a.VADDPS(d, x, y) }},
		{as: x86.AVSUBPS, emit: func(a *Assembler, d, x, y Y) { a.VSUBPS(d, x, y) }},
		{as: x86.AVMULPS, emit: func(a *Assembler, d, x, y Y) { a.VMULPS(d, x, y) }},
		{as: x86.AVDIVPS, emit: func(a *Assembler, d, x, y Y) { a.VDIVPS(d, x, y) }},
	} {
		tc := tc
		t.Run(tc.as.String(), func(t *testing.T) {
			for _, d := range regs {
				for _, x := range regs {
					for _, y := range regs {
						b, err := goasm.NewBuilder("amd64", 16)
						require.NoError(t, err)
						p := b.NewProg()
						p.As = tc.as
						p.From = obj.Addr{Type: obj.TYPE_REG, Reg: toGo(y)}
						p.RestArgs = append(p.RestArgs, obj.Addr{Type: obj.TYPE_REG, Reg: toGo(x)})
						p.To = obj.Addr{Type: obj.TYPE_REG, Reg: toGo(d)}
						b.AddInstruction(p)
						expected := b.Assemble()

						a := NewAssembler()
						tc.emit(a, d, x, y)
						actual, err := a.Assemble()
						require.NoError(t, err)
						require.Equal(t, expected, actual, "%s %s, %s, %s", tc.as, d, x, y)
					}
				}
			}
		})
	}
}
