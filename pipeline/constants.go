package pipeline

import (
	"github.com/gogpu/shaderopt/ir"
)

// lowerLoadConstant reads shader constant data either through the
// relocated constant data address or through its binding table slot.
func (st *state) lowerLoadConstant(in *ir.Intrinsic) {
	def := in.Def()
	base, rng := in.Attr(ir.IndexBase), in.Attr(ir.IndexRange)
	mul, alignOff := in.Attr(ir.IndexAlignMul), in.Attr(ir.IndexAlignOffset)
	if mul == 0 {
		mul, alignOff = max(uint32(def.BitSize)/8, 1), 0
	}

	b := ir.At(in)
	offset := b.IAddImm(in.Srcs[0].Value(), uint64(base))
	var val *ir.Value
	if st.target.UseSoftpin {
		loadSize := uint32(def.NumComponents) * max(uint32(def.BitSize)/8, 1)
		size := uint32(len(st.shader.ConstantData))
		if loadSize > size {
			st.abortf(in, "constant load of %d bytes from %d bytes of constant data", loadSize, size)
		}
		offset = b.UMinImm(offset, uint64(size-loadSize))
		dataAddr := b.Pack64Split(b.LoadRelocConst(RelocConstDataAddrLow), b.LoadRelocConst(RelocConstDataAddrHigh))
		val = b.LoadGlobalConstant(def.NumComponents, def.BitSize, b.IAdd(dataAddr, b.U2U(offset, 64)), mul, alignOff)
	} else {
		val = b.LoadUBO(def.NumComponents, def.BitSize, b.Imm32(uint32(st.constantsOffset)), offset, mul, alignOff, base, rng)
	}
	def.ReplaceAllUses(val)
	ir.RemoveInstr(in)
}
