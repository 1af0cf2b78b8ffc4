package pipeline

import (
	"github.com/gogpu/shaderopt/ir"
)

// lowerTex resolves the texture and sampler derefs of t to table indices
// or bindless handles.
func (st *state) lowerTex(t *ir.Tex) {
	if t.SrcIndex(ir.TexSrcTextureDeref) >= 0 && t.SrcIndex(ir.TexSrcTextureHandle) >= 0 {
		st.abortf(t, "texture has both a texture deref and a texture handle")
	}
	if t.SrcIndex(ir.TexSrcSamplerDeref) >= 0 && t.SrcIndex(ir.TexSrcSamplerHandle) >= 0 {
		st.abortf(t, "texture has both a sampler deref and a sampler handle")
	}
	if k := t.SrcIndex(ir.TexSrcTextureDeref); k >= 0 {
		_, v := st.derefVar(t, &t.Srcs[k].Src)
		if img := v.Type.WithoutArray(); img.IsImage() && !texDimMatches(t.Dim, img.Image()) {
			st.abortf(t, "texture dimension %s does not match %s of variable %s", t.Dim, img, v.Name)
		}
	}

	var plane uint32
	if k := t.SrcIndex(ir.TexSrcPlane); k >= 0 {
		p, ok := t.Srcs[k].ConstUint()
		if !ok {
			st.abortf(t, "texture plane is not a constant")
		}
		plane = uint32(p)
		t.RemoveSrc(k)
	}

	if st.target.IsGen7NonHaswell() {
		st.lowerTexSwizzle(t, plane)
	}

	b := ir.At(t)
	handles := make(map[*ir.Value]*ir.Value, 1)
	st.lowerTexDeref(b, t, ir.TexSrcTextureDeref, plane, handles)
	st.lowerTexDeref(b, t, ir.TexSrcSamplerDeref, plane, handles)
}

// texDimMatches reports whether a texture of dimension dim can access an
// image described by desc. Multisampled images are sampled as DimMS.
func texDimMatches(dim ir.SamplerDim, desc ir.ImageDesc) bool {
	if dim == desc.Dim {
		return true
	}
	if desc.Multisampled {
		switch desc.Dim {
		case ir.Dim2D:
			return dim == ir.DimMS
		case ir.DimSubpass:
			return dim == ir.DimSubpassMS
		}
	}
	return false
}

// elementBase returns the table offset of array element elem relative to
// the binding's first slot.
func elementBase(bl *BindingLayout, elem uint32) uint32 {
	if bl.ImmutableSamplers == nil {
		return elem
	}
	var base uint32
	for i := range elem {
		base += uint32(bl.planes(i))
	}
	return base
}

func (st *state) lowerTexDeref(b *ir.Builder, t *ir.Tex, kind ir.TexSrcKind, plane uint32, handles map[*ir.Value]*ir.Value) {
	k := t.SrcIndex(kind)
	if k < 0 {
		return
	}
	src := t.Srcs[k]
	d, v := st.derefVar(t, &src.Src)
	set, binding := v.Data.DescriptorSet, v.Data.Binding
	bl := st.binding(t, set, binding)
	isSampler := kind == ir.TexSrcSamplerDeref

	offset := st.sets[set].surfaceOffsets[binding]
	if isSampler {
		offset = st.sets[set].samplerOffsets[binding]
	}

	if offset == BindlessOffset {
		dv := src.Value()
		desc := handles[dv]
		if desc == nil {
			desc = st.descriptorLoad(b, t, d, bl, set, bl.partOffset(DataSampledImage)+plane*SampledImageSize, 2, 32)
			handles[dv] = desc
		}
		handleKind, channel := ir.TexSrcTextureHandle, 0
		if isSampler {
			handleKind, channel = ir.TexSrcSamplerHandle, 1
		}
		handle := b.Channel(desc, channel)
		t.RemoveSrc(k)
		t.AddSrc(handleKind, handle)
		return
	}

	base := uint32(offset) + plane
	var dynamic *ir.Value
	if d.DerefKind == ir.DerefArray {
		if c, ok := d.Index.ConstUint(); ok {
			elem := min(uint32(c), bl.ArraySize-1)
			base += elementBase(bl, elem)
		} else {
			if bl.MaxPlanes > 1 {
				st.abortf(t, "dynamic index into multi-planar binding %d of set %d", binding, set)
			}
			dynamic = st.arrayElement(b, d, bl)
		}
	}

	t.RemoveSrc(k)
	if isSampler {
		t.SamplerIndex = base
	} else {
		t.TextureIndex = base
	}
	if dynamic != nil {
		offsetKind := ir.TexSrcTextureOffset
		if isSampler {
			offsetKind = ir.TexSrcSamplerOffset
		}
		t.AddSrc(offsetKind, dynamic)
	}
}

// selectValue picks vals[idx] with a binary tree of bcsels.
func selectValue(b *ir.Builder, idx *ir.Value, vals []*ir.Value) *ir.Value {
	if len(vals) == 1 {
		return vals[0]
	}
	mid := len(vals) / 2
	lo := selectValue(b, idx, vals[:mid])
	hi := selectValue(b, idx, vals[mid:])
	return b.Bcsel(b.ILt(idx, b.Imm32(uint32(mid))), lo, hi)
}

// lowerTexSwizzle applies the binding's channel swizzle to the result of
// t in the shader. Byte i of the swizzle word selects output component i:
// 0 is zero, 1 is one and 4 to 7 are the texel's components.
func (st *state) lowerTexSwizzle(t *ir.Tex, plane uint32) {
	if t.Dim == ir.DimBuffer || t.IsQuery() || t.Op == ir.TexOpTg4 || t.IsShadow {
		return
	}
	src := t.Src(ir.TexSrcTextureDeref)
	if src == nil {
		return
	}
	d, v := st.derefVar(t, &src.Src)
	set := v.Data.DescriptorSet
	bl := st.binding(t, set, v.Data.Binding)
	if bl.Data&DataTextureSwizzle == 0 {
		return
	}
	def := t.Def()
	if def.NumComponents != 4 || def.BitSize != 32 {
		st.abortf(t, "swizzled texture result must be 4x32, got %dx%d", def.NumComponents, def.BitSize)
	}

	b := ir.At(t)
	swiz := st.descriptorLoad(b, t, d, bl, set, bl.partOffset(DataTextureSwizzle)+plane*TextureSwizzleSize, 1, 32)

	b.Cursor = ir.After(t)
	var comps [8]*ir.Value
	comps[0] = b.Imm32(0)
	if t.DestType == ir.BaseFloat {
		comps[1] = b.ImmFloat32(1)
	} else {
		comps[1] = b.Imm32(1)
	}
	comps[2] = b.Undef(1, 32)
	comps[3] = comps[2]
	for c := range 4 {
		comps[4+c] = b.Channel(def, c)
	}
	var out [4]*ir.Value
	for i := range out {
		out[i] = selectValue(b, b.ExtractU8(swiz, uint32(i)), comps[:])
	}
	res := b.Vec(out[:]...)
	def.ReplaceUsesAfter(res, res.Parent())
}
