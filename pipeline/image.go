package pipeline

import (
	"github.com/gogpu/shaderopt/ir"
)

// arrayElement returns the 32-bit array index d selects, or constant zero
// for a whole-variable deref. The index is clamped when bounds checks are
// on.
func (st *state) arrayElement(b *ir.Builder, d *ir.Deref, bl *BindingLayout) *ir.Value {
	if d.DerefKind != ir.DerefArray {
		return b.Imm32(0)
	}
	idx := b.U2U(d.Index.Value(), 32)
	if st.target.AddBoundsChecks() {
		idx = b.UMinImm(idx, uint64(bl.ArraySize-1))
	}
	return idx
}

// lowerImage rewrites an image deref intrinsic to take either a binding
// table index or a bindless handle.
func (st *state) lowerImage(in *ir.Intrinsic) {
	d, v := st.derefVar(in, &in.Srcs[0])
	set, binding := v.Data.DescriptorSet, v.Data.Binding
	bl := st.binding(in, set, binding)
	b := ir.At(in)

	switch {
	case in.Op == ir.OpImageDerefLoadParamIntel:
		def := in.Def()
		off := bl.partOffset(DataImageParam) + in.Attr(ir.IndexBase)*16
		val := st.descriptorLoad(b, in, d, bl, set, off, def.NumComponents, def.BitSize)
		def.ReplaceAllUses(val)
		ir.RemoveInstr(in)
		return
	case in.Op == ir.OpImageDerefSize && bl.Data&DataImageParam != 0:
		def := in.Def()
		off := bl.partOffset(DataImageParam) + ParamSize*16
		val := st.descriptorLoad(b, in, d, bl, set, off, def.NumComponents, def.BitSize)
		def.ReplaceAllUses(val)
		ir.RemoveInstr(in)
		return
	}

	slot := st.sets[set].surfaceOffsets[binding]
	if slot == BindlessOffset {
		part := DataStorageImage
		if bl.Data&DataStorageImage == 0 {
			part = DataSampledImage
		}
		desc := st.descriptorLoad(b, in, d, bl, set, bl.partOffset(part), 2, 32)
		handle := b.Channel(desc, 0)
		if part == DataStorageImage && (v.Data.Access|in.Access())&ir.AccessNonReadable != 0 {
			handle = b.Channel(desc, 1)
		}
		in.Srcs[0].Set(handle)
		in.Rewrite(in.Op.ImageVariant(true))
		return
	}

	in.Srcs[0].Set(b.IAddImm(st.arrayElement(b, d, bl), uint64(slot)))
	in.Rewrite(in.Op.ImageVariant(false))
}
