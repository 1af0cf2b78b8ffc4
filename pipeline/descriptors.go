package pipeline

import (
	"github.com/gogpu/shaderopt/ir"
)

// noDynamicOffset marks a packed resource index without a dynamic offset.
const noDynamicOffset = 0xff

// buildResIndex emits the lowered form of a vulkan_resource_index in
// address format f.
func (st *state) buildResIndex(b *ir.Builder, in *ir.Intrinsic, f ir.AddressFormat) *ir.Value {
	set, binding := in.Attr(ir.IndexDescSet), in.Attr(ir.IndexBinding)
	bl := st.binding(in, set, binding)
	ss := &st.sets[set]
	elem := in.Srcs[0].Value()

	if bl.Data&DataInlineUniform != 0 {
		if !ss.descBufferUsed {
			st.abortf(in, "inline uniform block of set %d without a descriptor buffer", set)
		}
		return b.Imm(32, uint64(ss.descOffset), uint64(bl.DescriptorOffset))
	}

	if f.Is64Bit() {
		dyn := uint32(noDynamicOffset)
		if bl.DynamicOffsetIndex >= 0 {
			dyn = st.layout.Sets[set].DynamicOffsetStart + uint32(bl.DynamicOffsetIndex)
		}
		packed := bl.DescriptorOffset<<16 | uint32(ss.descOffset)<<8 | dyn
		if f == ir.Addr64BitBoundedGlobal {
			return b.Vec(b.Imm32(packed), elem, b.Imm32(bl.ArraySize-1), b.Undef(1, 32))
		}
		return b.Pack64Split(b.Imm32(packed), elem)
	}

	slot := ss.surfaceOffsets[binding]
	if slot == BindlessOffset {
		st.abortf(in, "set %d binding %d has no binding table slot", set, binding)
	}
	if st.target.AddBoundsChecks() {
		elem = b.UMinImm(elem, uint64(bl.ArraySize-1))
	}
	return b.Vec(b.IAddImm(elem, uint64(slot)), b.Imm32(0))
}

// buildReindex advances a lowered resource index by off array elements.
func (st *state) buildReindex(b *ir.Builder, at ir.Instr, index, off *ir.Value, f ir.AddressFormat) *ir.Value {
	switch f {
	case ir.Addr64BitBoundedGlobal:
		return b.Vec(b.Channel(index, 0), b.IAdd(b.Channel(index, 1), off),
			b.Channel(index, 2), b.Channel(index, 3))
	case ir.Addr64BitGlobal:
		lo, hi := b.Unpack64(index)
		return b.Pack64Split(lo, b.IAdd(hi, off))
	}
	slot := b.IAdd(b.Channel(index, 0), off)
	if ref, ok := st.indexRefs[index]; ok && st.target.AddBoundsChecks() {
		bl := st.binding(at, ref.set, ref.binding)
		last := uint64(st.sets[ref.set].surfaceOffsets[ref.binding]) + uint64(bl.ArraySize-1)
		slot = b.UMinImm(slot, last)
	}
	return b.Vec(slot, b.Channel(index, 1))
}

// resIndexFormat returns the format resource indices of type dt take.
func (st *state) resIndexFormat(dt ir.DescriptorType) ir.AddressFormat {
	if dt == ir.DescInlineUniformBlock {
		return ir.Addr32BitIndexOffset
	}
	return st.target.addressFormat(dt)
}

func (st *state) lowerResIndex(in *ir.Intrinsic) {
	b := ir.At(in)
	dt := ir.DescriptorType(in.Attr(ir.IndexDescType))
	v := st.buildResIndex(b, in, st.resIndexFormat(dt))
	st.indexRefs[v] = indexRef{set: in.Attr(ir.IndexDescSet), binding: in.Attr(ir.IndexBinding)}
	in.Def().ReplaceAllUses(v)
	ir.RemoveInstr(in)
}

func (st *state) lowerReindex(in *ir.Intrinsic) {
	b := ir.At(in)
	dt := ir.DescriptorType(in.Attr(ir.IndexDescType))
	index := in.Srcs[0].Value()
	v := st.buildReindex(b, in, index, in.Srcs[1].Value(), st.resIndexFormat(dt))
	if ref, ok := st.indexRefs[index]; ok {
		st.indexRefs[v] = ref
	}
	in.Def().ReplaceAllUses(v)
	ir.RemoveInstr(in)
}

// unpackIndex splits a 64-bit resource index into its packed descriptor
// location and array element.
func unpackIndex(b *ir.Builder, index *ir.Value, f ir.AddressFormat) (packed, elem *ir.Value) {
	if f == ir.Addr64BitBoundedGlobal {
		return b.Channel(index, 0), b.UMin(b.Channel(index, 1), b.Channel(index, 2))
	}
	return b.Unpack64(index)
}

// loadBufferDescriptor reads the address range record a 64-bit resource
// index points at.
func loadBufferDescriptor(b *ir.Builder, t *Target, packed, elem *ir.Value, dt ir.DescriptorType) *ir.Value {
	slot := b.ExtractU8(packed, 1)
	off := b.IAdd(b.ExtractU16(packed, 1), b.IMulImm(elem, uint64(descriptorTypeSize(t, dt))))
	return b.LoadUBO(4, 32, slot, off, 8, 0, 0, ^uint32(0))
}

// lowerLoadDescriptor turns load_vulkan_descriptor into the buffer address
// its casts consume.
func (st *state) lowerLoadDescriptor(in *ir.Intrinsic) {
	dt := ir.DescriptorType(in.Attr(ir.IndexDescType))
	f := st.resIndexFormat(dt)
	index := in.Srcs[0].Value()

	var sizeQueries []*ir.Src
	for s := range in.Def().Uses() {
		if q, ok := s.Parent().(*ir.Intrinsic); ok && q.Op == ir.OpGetSSBOSize {
			sizeQueries = append(sizeQueries, s)
		}
	}
	for _, s := range sizeQueries {
		s.Set(index)
	}

	b := ir.At(in)
	desc := index
	if f.Is64Bit() {
		packed, elem := unpackIndex(b, index, f)
		desc = loadBufferDescriptor(b, st.target, packed, elem, dt)
		if f == ir.Addr64BitGlobal {
			desc = b.Pack64(desc)
		}
		if dt.IsDynamic() {
			dynBase := b.ExtractU8(packed, 0)
			dynIdx := b.IAdd(dynBase, elem)
			if st.target.AddBoundsChecks() {
				dynIdx = b.UMinImm(dynIdx, MaxDynamicBuffers-1)
			}
			dynLoad := b.LoadPushConstant(1, 32, b.IMulImm(dynIdx, 4), DynamicOffsetsBase, MaxDynamicBuffers*4)
			dynOff := b.Bcsel(b.IEqImm(dynBase, noDynamicOffset), b.Imm32(0), dynLoad)
			if f == ir.Addr64BitGlobal {
				desc = b.IAdd(desc, b.U2U(dynOff, 64))
			} else {
				base := b.IAdd(b.Pack64Split(b.Channel(desc, 0), b.Channel(desc, 1)), b.U2U(dynOff, 64))
				lo, hi := b.Unpack64(base)
				desc = b.Vec(lo, hi, b.Channel(desc, 2), b.Channel(desc, 3))
			}
		}
	}

	var align uint32
	switch dt {
	case ir.DescStorageBuffer, ir.DescStorageBufferDynamic:
		align = uint32(st.target.SSBOAlignment)
	case ir.DescUniformBuffer, ir.DescUniformBufferDynamic:
		align = uint32(st.target.UBOAlignment)
	case ir.DescInlineUniformBlock:
		align = 32
	}
	for s := range in.Def().Uses() {
		if c, ok := s.Parent().(*ir.Deref); ok && c.DerefKind == ir.DerefCast && c.AlignMul == 0 && align != 0 {
			c.AlignMul, c.AlignOffset = align, 0
		}
	}
	in.Def().ReplaceAllUses(desc)
	ir.RemoveInstr(in)
}

// lowerSSBOSize rewrites get_ssbo_size on a lowered resource index. With
// 64-bit formats the size is the range field of the buffer descriptor.
func (st *state) lowerSSBOSize(in *ir.Intrinsic) {
	index := in.Srcs[0].Value()
	f, ok := formatOf(index)
	if !ok {
		st.abortf(in, "get_ssbo_size on an unrecognized resource index")
	}
	b := ir.At(in)
	if !f.Is64Bit() {
		in.Srcs[0].Set(b.Channel(index, 0))
		st.lowered[in] = true
		return
	}
	packed, elem := unpackIndex(b, index, f)
	desc := loadBufferDescriptor(b, st.target, packed, elem, ir.DescStorageBuffer)
	in.Def().ReplaceAllUses(b.Channel(desc, 2))
	ir.RemoveInstr(in)
}

// descriptorLoad reads comps x bits from the descriptor of the element d
// selects, offset bytes into it.
func (st *state) descriptorLoad(b *ir.Builder, at ir.Instr, d *ir.Deref, bl *BindingLayout, set uint32, offset uint32, comps, bitSize uint8) *ir.Value {
	ss := &st.sets[set]
	if !ss.descBufferUsed {
		st.abortf(at, "set %d has no descriptor buffer", set)
	}
	off := b.Imm32(bl.DescriptorOffset + offset)
	if d.DerefKind == ir.DerefArray {
		idx := b.U2U(d.Index.Value(), 32)
		if st.target.AddBoundsChecks() {
			idx = b.UMinImm(idx, uint64(bl.ArraySize-1))
		}
		off = b.IAdd(off, b.IMulImm(idx, uint64(bl.DescriptorSize())))
	}
	return b.LoadUBO(comps, bitSize, b.Imm32(uint32(ss.descOffset)), off, 8, offset%8, 0, ^uint32(0))
}
