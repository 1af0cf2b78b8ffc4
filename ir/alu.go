package ir

import (
	"iter"
	"math/bits"
)

// ALUOp is an ALU opcode.
type ALUOp uint16

const (
	OpMov ALUOp = iota
	OpVec2
	OpVec3
	OpVec4
	OpIAdd
	OpISub
	OpIMul
	OpINeg
	OpIAbs
	OpIDiv
	OpUDiv
	OpIRem
	OpUMod
	OpIAnd
	OpIOr
	OpIXor
	OpINot
	OpIShl
	OpIShr
	OpUShr
	OpIMin
	OpIMax
	OpUMin
	OpUMax
	OpIEq
	OpINe
	OpILt
	OpIGe
	OpULt
	OpUGe
	OpBcsel
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpFAbs
	OpFMin
	OpFMax
	OpFSat
	OpFFloor
	OpFCeil
	OpFFract
	OpFSqrt
	OpFRsq
	OpFSin
	OpFCos
	OpFExp2
	OpFLog2
	OpFPow
	OpFFma
	OpFLrp
	OpFDot2
	OpFDot3
	OpFDot4
	OpFEq
	OpFNeu
	OpFLt
	OpFGe
	OpI2F32
	OpU2F32
	OpF2I32
	OpF2U32
	OpB2I32
	OpB2F32
	OpI2B
	OpI2I
	OpU2U
	OpExtractU8
	OpExtractU16
	OpPack64_2x32
	OpPack64_2x32Split
	OpUnpack64_2x32SplitX
	OpUnpack64_2x32SplitY
	numALUOps
)

type foldFunc func(s [3]uint64, bitSize uint8) uint64

// ALUOpInfo describes the shape of an ALU opcode.
type ALUOpInfo struct {
	Name      string
	NumInputs int
	// OutputSize is the fixed result width, or 0 when the op is applied
	// per component.
	OutputSize uint8
	// InputSizes holds the fixed width of each source, or 0 for
	// per-component sources.
	InputSizes [4]uint8
	// OutputBits fixes the result bit width; 0 means the width of source 0.
	OutputBits uint8
	OutputType BaseType
	fold       foldFunc
}

var aluInfos = [numALUOps]ALUOpInfo{
	OpMov:    {Name: "mov", NumInputs: 1, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] }},
	OpVec2:   {Name: "vec2", NumInputs: 2, OutputSize: 2, InputSizes: [4]uint8{1, 1}, OutputType: BaseUint},
	OpVec3:   {Name: "vec3", NumInputs: 3, OutputSize: 3, InputSizes: [4]uint8{1, 1, 1}, OutputType: BaseUint},
	OpVec4:   {Name: "vec4", NumInputs: 4, OutputSize: 4, InputSizes: [4]uint8{1, 1, 1, 1}, OutputType: BaseUint},
	OpIAdd:   {Name: "iadd", NumInputs: 2, OutputType: BaseInt, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] + s[1] }},
	OpISub:   {Name: "isub", NumInputs: 2, OutputType: BaseInt, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] - s[1] }},
	OpIMul:   {Name: "imul", NumInputs: 2, OutputType: BaseInt, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] * s[1] }},
	OpINeg:   {Name: "ineg", NumInputs: 1, OutputType: BaseInt, fold: func(s [3]uint64, _ uint8) uint64 { return -s[0] }},
	OpIAbs:   {Name: "iabs", NumInputs: 1, OutputType: BaseInt, fold: foldIAbs},
	OpIDiv:   {Name: "idiv", NumInputs: 2, OutputType: BaseInt},
	OpUDiv:   {Name: "udiv", NumInputs: 2, OutputType: BaseUint, fold: foldUDiv},
	OpIRem:   {Name: "irem", NumInputs: 2, OutputType: BaseInt},
	OpUMod:   {Name: "umod", NumInputs: 2, OutputType: BaseUint, fold: foldUMod},
	OpIAnd:   {Name: "iand", NumInputs: 2, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] & s[1] }},
	OpIOr:    {Name: "ior", NumInputs: 2, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] | s[1] }},
	OpIXor:   {Name: "ixor", NumInputs: 2, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] ^ s[1] }},
	OpINot:   {Name: "inot", NumInputs: 1, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return ^s[0] }},
	OpIShl:   {Name: "ishl", NumInputs: 2, OutputType: BaseInt, fold: func(s [3]uint64, b uint8) uint64 { return s[0] << (s[1] % uint64(b)) }},
	OpIShr:   {Name: "ishr", NumInputs: 2, OutputType: BaseInt, fold: func(s [3]uint64, b uint8) uint64 { return uint64(sext(s[0], b) >> (s[1] % uint64(b))) }},
	OpUShr:   {Name: "ushr", NumInputs: 2, OutputType: BaseUint, fold: func(s [3]uint64, b uint8) uint64 { return s[0] >> (s[1] % uint64(b)) }},
	OpIMin:   {Name: "imin", NumInputs: 2, OutputType: BaseInt, fold: foldIMin},
	OpIMax:   {Name: "imax", NumInputs: 2, OutputType: BaseInt, fold: foldIMax},
	OpUMin:   {Name: "umin", NumInputs: 2, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return min(s[0], s[1]) }},
	OpUMax:   {Name: "umax", NumInputs: 2, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return max(s[0], s[1]) }},
	OpIEq:    {Name: "ieq", NumInputs: 2, OutputBits: 1, OutputType: BaseBool, fold: func(s [3]uint64, _ uint8) uint64 { return b2u(s[0] == s[1]) }},
	OpINe:    {Name: "ine", NumInputs: 2, OutputBits: 1, OutputType: BaseBool, fold: func(s [3]uint64, _ uint8) uint64 { return b2u(s[0] != s[1]) }},
	OpILt:    {Name: "ilt", NumInputs: 2, OutputBits: 1, OutputType: BaseBool, fold: func(s [3]uint64, b uint8) uint64 { return b2u(sext(s[0], b) < sext(s[1], b)) }},
	OpIGe:    {Name: "ige", NumInputs: 2, OutputBits: 1, OutputType: BaseBool, fold: func(s [3]uint64, b uint8) uint64 { return b2u(sext(s[0], b) >= sext(s[1], b)) }},
	OpULt:    {Name: "ult", NumInputs: 2, OutputBits: 1, OutputType: BaseBool, fold: func(s [3]uint64, _ uint8) uint64 { return b2u(s[0] < s[1]) }},
	OpUGe:    {Name: "uge", NumInputs: 2, OutputBits: 1, OutputType: BaseBool, fold: func(s [3]uint64, _ uint8) uint64 { return b2u(s[0] >= s[1]) }},
	OpBcsel:  {Name: "bcsel", NumInputs: 3, OutputType: BaseUint},
	OpFAdd:   {Name: "fadd", NumInputs: 2, OutputType: BaseFloat},
	OpFSub:   {Name: "fsub", NumInputs: 2, OutputType: BaseFloat},
	OpFMul:   {Name: "fmul", NumInputs: 2, OutputType: BaseFloat},
	OpFDiv:   {Name: "fdiv", NumInputs: 2, OutputType: BaseFloat},
	OpFNeg:   {Name: "fneg", NumInputs: 1, OutputType: BaseFloat},
	OpFAbs:   {Name: "fabs", NumInputs: 1, OutputType: BaseFloat},
	OpFMin:   {Name: "fmin", NumInputs: 2, OutputType: BaseFloat},
	OpFMax:   {Name: "fmax", NumInputs: 2, OutputType: BaseFloat},
	OpFSat:   {Name: "fsat", NumInputs: 1, OutputType: BaseFloat},
	OpFFloor: {Name: "ffloor", NumInputs: 1, OutputType: BaseFloat},
	OpFCeil:  {Name: "fceil", NumInputs: 1, OutputType: BaseFloat},
	OpFFract: {Name: "ffract", NumInputs: 1, OutputType: BaseFloat},
	OpFSqrt:  {Name: "fsqrt", NumInputs: 1, OutputType: BaseFloat},
	OpFRsq:   {Name: "frsq", NumInputs: 1, OutputType: BaseFloat},
	OpFSin:   {Name: "fsin", NumInputs: 1, OutputType: BaseFloat},
	OpFCos:   {Name: "fcos", NumInputs: 1, OutputType: BaseFloat},
	OpFExp2:  {Name: "fexp2", NumInputs: 1, OutputType: BaseFloat},
	OpFLog2:  {Name: "flog2", NumInputs: 1, OutputType: BaseFloat},
	OpFPow:   {Name: "fpow", NumInputs: 2, OutputType: BaseFloat},
	OpFFma:   {Name: "ffma", NumInputs: 3, OutputType: BaseFloat},
	OpFLrp:   {Name: "flrp", NumInputs: 3, OutputType: BaseFloat},
	OpFDot2:  {Name: "fdot2", NumInputs: 2, OutputSize: 1, InputSizes: [4]uint8{2, 2}, OutputType: BaseFloat},
	OpFDot3:  {Name: "fdot3", NumInputs: 2, OutputSize: 1, InputSizes: [4]uint8{3, 3}, OutputType: BaseFloat},
	OpFDot4:  {Name: "fdot4", NumInputs: 2, OutputSize: 1, InputSizes: [4]uint8{4, 4}, OutputType: BaseFloat},
	OpFEq:    {Name: "feq", NumInputs: 2, OutputBits: 1, OutputType: BaseBool},
	OpFNeu:   {Name: "fneu", NumInputs: 2, OutputBits: 1, OutputType: BaseBool},
	OpFLt:    {Name: "flt", NumInputs: 2, OutputBits: 1, OutputType: BaseBool},
	OpFGe:    {Name: "fge", NumInputs: 2, OutputBits: 1, OutputType: BaseBool},
	OpI2F32:  {Name: "i2f32", NumInputs: 1, OutputBits: 32, OutputType: BaseFloat},
	OpU2F32:  {Name: "u2f32", NumInputs: 1, OutputBits: 32, OutputType: BaseFloat},
	OpF2I32:  {Name: "f2i32", NumInputs: 1, OutputBits: 32, OutputType: BaseInt},
	OpF2U32:  {Name: "f2u32", NumInputs: 1, OutputBits: 32, OutputType: BaseUint},
	OpB2I32:  {Name: "b2i32", NumInputs: 1, OutputBits: 32, OutputType: BaseInt, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] & 1 }},
	OpB2F32:  {Name: "b2f32", NumInputs: 1, OutputBits: 32, OutputType: BaseFloat},
	OpI2B:    {Name: "i2b", NumInputs: 1, OutputBits: 1, OutputType: BaseBool, fold: func(s [3]uint64, _ uint8) uint64 { return b2u(s[0] != 0) }},
	// The destination width of i2i and u2u is chosen by the builder.
	OpI2I: {Name: "i2i", NumInputs: 1, OutputType: BaseInt, fold: func(s [3]uint64, b uint8) uint64 { return uint64(sext(s[0], b)) }},
	OpU2U: {Name: "u2u", NumInputs: 1, OutputType: BaseUint, fold: func(s [3]uint64, _ uint8) uint64 { return s[0] }},
	OpExtractU8: {Name: "extract_u8", NumInputs: 2, OutputType: BaseUint,
		fold: func(s [3]uint64, _ uint8) uint64 { return (s[0] >> (8 * s[1])) & 0xff }},
	OpExtractU16: {Name: "extract_u16", NumInputs: 2, OutputType: BaseUint,
		fold: func(s [3]uint64, _ uint8) uint64 { return (s[0] >> (16 * s[1])) & 0xffff }},
	OpPack64_2x32: {Name: "pack_64_2x32", NumInputs: 1, OutputSize: 1, InputSizes: [4]uint8{2}, OutputBits: 64, OutputType: BaseUint},
	OpPack64_2x32Split: {Name: "pack_64_2x32_split", NumInputs: 2, OutputBits: 64, OutputType: BaseUint,
		fold: func(s [3]uint64, _ uint8) uint64 { return s[0]&0xffffffff | s[1]<<32 }},
	OpUnpack64_2x32SplitX: {Name: "unpack_64_2x32_split_x", NumInputs: 1, OutputBits: 32, OutputType: BaseUint,
		fold: func(s [3]uint64, _ uint8) uint64 { return s[0] & 0xffffffff }},
	OpUnpack64_2x32SplitY: {Name: "unpack_64_2x32_split_y", NumInputs: 1, OutputBits: 32, OutputType: BaseUint,
		fold: func(s [3]uint64, _ uint8) uint64 { return s[0] >> 32 }},
}

// Info returns the opcode description.
func (op ALUOp) Info() *ALUOpInfo { return &aluInfos[op] }

func (op ALUOp) String() string {
	if op < numALUOps {
		return aluInfos[op].Name
	}
	return "alu(" + itoa(int(op)) + ")"
}

// VecOp returns the vector construction opcode for n components.
func VecOp(n int) ALUOp {
	switch n {
	case 1:
		return OpMov
	case 2:
		return OpVec2
	case 3:
		return OpVec3
	case 4:
		return OpVec4
	}
	panic("ir: no vector op for " + itoa(n) + " components")
}

func sext(v uint64, bitSize uint8) int64 {
	if bitSize >= 64 {
		return int64(v)
	}
	shift := 64 - uint(bitSize)
	return int64(v<<shift) >> shift
}

func mask(v uint64, bitSize uint8) uint64 {
	if bitSize >= 64 {
		return v
	}
	if bitSize == 1 {
		return v & 1
	}
	return v & (1<<bitSize - 1)
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func foldIAbs(s [3]uint64, b uint8) uint64 {
	v := sext(s[0], b)
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

func foldIMin(s [3]uint64, b uint8) uint64 {
	if sext(s[0], b) < sext(s[1], b) {
		return s[0]
	}
	return s[1]
}

func foldIMax(s [3]uint64, b uint8) uint64 {
	if sext(s[0], b) > sext(s[1], b) {
		return s[0]
	}
	return s[1]
}

func foldUDiv(s [3]uint64, _ uint8) uint64 {
	if s[1] == 0 {
		return 0
	}
	return s[0] / s[1]
}

func foldUMod(s [3]uint64, _ uint8) uint64 {
	if s[1] == 0 {
		return 0
	}
	return s[0] % s[1]
}

// ALUSrc is an ALU operand with its swizzle and modifiers.
type ALUSrc struct {
	Src
	Swizzle [4]uint8
	Abs     bool
	Negate  bool
}

// ALU is a pure arithmetic instruction.
type ALU struct {
	instrNode
	Op       ALUOp
	Srcs     []ALUSrc
	Saturate bool
	// WriteMask selects the register components written when the
	// destination is a register.
	WriteMask uint8

	def Value
	reg *Register
}

func (a *ALU) Kind() InstrKind { return InstrALU }

// Def returns the SSA result, or nil when the ALU writes a register.
func (a *ALU) Def() *Value {
	if a.reg != nil {
		return nil
	}
	return &a.def
}

// DestRegister returns the written register, or nil.
func (a *ALU) DestRegister() *Register { return a.reg }

// SetDestRegister turns the destination into a write of r.
func (a *ALU) SetDestRegister(r *Register, writeMask uint8) {
	if a.def.NumUses() != 0 {
		panic("ir: converting a used SSA destination to a register")
	}
	a.reg = r
	a.WriteMask = writeMask
	r.defs = append(r.defs, a)
}

func (a *ALU) srcs() iter.Seq[*Src] {
	return func(yield func(*Src) bool) {
		for i := range a.Srcs {
			if !yield(&a.Srcs[i].Src) {
				return
			}
		}
	}
}

// InputComponents returns the number of components read from source i.
func (a *ALU) InputComponents(i int) int {
	if n := aluInfos[a.Op].InputSizes[i]; n != 0 {
		return int(n)
	}
	if a.reg != nil {
		return bits.OnesCount8(a.WriteMask)
	}
	return int(a.def.NumComponents)
}

// identitySwizzle is the swizzle reading components in order.
var identitySwizzle = [4]uint8{0, 1, 2, 3}

// tryFold evaluates op on constant sources before any instruction is
// allocated. It returns false if any source is not a constant or op has no
// folding rule.
func tryFold(op ALUOp, components, bitSize uint8, ins []aluIn) ([4]uint64, bool) {
	var out [4]uint64
	info := &aluInfos[op]
	for _, in := range ins {
		if !in.v.IsConst() {
			return out, false
		}
	}
	lane := func(i, c int) uint64 {
		v, _ := ins[i].v.ConstLane(int(ins[i].swz[c]))
		return v
	}
	srcBits := ins[0].v.BitSize
	switch {
	case op == OpVec2 || op == OpVec3 || op == OpVec4:
		for c := range ins {
			out[c] = lane(c, 0)
		}
		return out, true
	case op == OpBcsel:
		for c := 0; c < int(components); c++ {
			if lane(0, c)&1 != 0 {
				out[c] = lane(1, c)
			} else {
				out[c] = lane(2, c)
			}
		}
		return out, true
	case info.fold == nil || info.OutputSize != 0:
		return out, false
	}
	for c := 0; c < int(components); c++ {
		var in [3]uint64
		for i := range ins {
			in[i] = lane(i, c)
		}
		out[c] = mask(info.fold(in, srcBits), bitSize)
	}
	return out, true
}
