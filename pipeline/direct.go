package pipeline

import (
	"github.com/gogpu/shaderopt/ir"
)

// hasTableSlot reports whether (set, binding) can be addressed as a
// binding table index plus offset.
func (st *state) hasTableSlot(set, binding uint32, bl *BindingLayout) bool {
	if bl.Data&DataInlineUniform != 0 {
		return st.sets[set].descBufferUsed
	}
	return bl.Data&DataSurfaceState != 0 && st.sets[set].surfaceOffsets[binding] != BindlessOffset
}

// findDescriptor returns the resource index behind the cast at the root of
// d, or nil when the chain does not come from a descriptor load.
func findDescriptor(d *ir.Deref) *ir.Intrinsic {
	root := d.Root()
	if root.DerefKind != ir.DerefCast {
		return nil
	}
	load, ok := root.Parent.Value().Parent().(*ir.Intrinsic)
	if !ok || load.Op != ir.OpLoadVulkanDescriptor {
		return nil
	}
	return ir.FindResourceIndex(load.Srcs[0].Value())
}

// resIndexForChain rebuilds the resource index chain ending at v in the
// index+offset form.
func (st *state) resIndexForChain(b *ir.Builder, v *ir.Value) *ir.Value {
	in, ok := v.Parent().(*ir.Intrinsic)
	if !ok {
		st.abortf(v.Parent(), "resource index chain broken by a non-intrinsic")
	}
	switch in.Op {
	case ir.OpVulkanResourceIndex:
		return st.buildResIndex(b, in, ir.Addr32BitIndexOffset)
	case ir.OpVulkanResourceReindex:
		parent := st.resIndexForChain(b, in.Srcs[0].Value())
		if ri := ir.FindResourceIndex(v); ri != nil {
			st.indexRefs[parent] = indexRef{set: ri.Attr(ir.IndexDescSet), binding: ri.Attr(ir.IndexBinding)}
		}
		return st.buildReindex(b, in, parent, in.Srcs[1].Value(), ir.Addr32BitIndexOffset)
	case ir.OpLoadVulkanDescriptor:
		return st.resIndexForChain(b, in.Srcs[0].Value())
	}
	st.abortf(in, "%s in a resource index chain", in.Op)
	return nil
}

// bufferAddrForDeref computes the index+offset address of d.
func (st *state) bufferAddrForDeref(b *ir.Builder, d *ir.Deref) *ir.Value {
	if d.DerefKind == ir.DerefCast {
		return st.resIndexForChain(b, d.Parent.Value())
	}
	parent := d.ParentDeref()
	if parent == nil {
		st.abortf(d, "buffer deref chain does not start at a cast")
	}
	return addressFromDeref(b, d, st.bufferAddrForDeref(b, parent), ir.Addr32BitIndexOffset)
}

// tryLowerDirect lowers a UBO or SSBO access straight to the binding
// table when its descriptor is known and has a slot.
func (st *state) tryLowerDirect(in *ir.Intrinsic) bool {
	d := ir.AsDeref(in.Srcs[0].Value())
	if d == nil || !d.Mode.Is(ir.ModeUBO|ir.ModeSSBO) {
		return false
	}
	desc := findDescriptor(d)
	if desc == nil {
		if d.Mode == ir.ModeUBO {
			st.abortf(in, "uniform buffer access without a traceable descriptor")
		}
		return false
	}
	set, binding := desc.Attr(ir.IndexDescSet), desc.Attr(ir.IndexBinding)
	bl := st.binding(desc, set, binding)

	if d.Mode == ir.ModeSSBO {
		isAtomic := in.Op == ir.OpDerefAtomic || in.Op == ir.OpDerefAtomicSwap
		if isAtomic && in.Def().BitSize == 64 {
			return false
		}
		if in.Access()&ir.AccessNonUniform != 0 {
			return false
		}
	}
	if !st.hasTableSlot(set, binding, bl) {
		return false
	}

	b := ir.At(in)
	addr := st.bufferAddrForDeref(b, d)
	fallback := uint32(st.target.SSBOAlignment)
	if d.Mode == ir.ModeUBO {
		fallback = uint32(st.target.UBOAlignment)
	}
	mul, off := derefAlign(d, fallback)
	lowerIO(b, in, addr, ir.Addr32BitIndexOffset, d.Mode, mul, off)
	return true
}

// tryLowerSSBOSizeDirect points get_ssbo_size at a binding table index
// when the buffer has one.
func (st *state) tryLowerSSBOSizeDirect(in *ir.Intrinsic) bool {
	src := in.Srcs[0].Value()
	ri := ir.FindResourceIndex(src)
	if ri == nil {
		return false
	}
	set, binding := ri.Attr(ir.IndexDescSet), ri.Attr(ir.IndexBinding)
	if !st.hasTableSlot(set, binding, st.binding(ri, set, binding)) {
		return false
	}
	if load, ok := src.Parent().(*ir.Intrinsic); ok && load.Op == ir.OpLoadVulkanDescriptor {
		src = load.Srcs[0].Value()
	}
	b := ir.At(in)
	in.Srcs[0].Set(b.Channel(st.resIndexForChain(b, src), 0))
	st.lowered[in] = true
	return true
}

// lowerDirectBuffers runs the direct lowering over every function.
func (st *state) lowerDirectBuffers() bool {
	progress := false
	for fn := range st.shader.Funcs() {
		fnProgress := false
		for blk := range fn.Blocks() {
			for i := range blk.InstrsSafe() {
				in, ok := i.(*ir.Intrinsic)
				if !ok {
					continue
				}
				switch {
				case isBufferAccess(in):
					if st.tryLowerDirect(in) {
						fnProgress = true
					}
				case in.Op == ir.OpGetSSBOSize:
					if st.tryLowerSSBOSizeDirect(in) {
						fnProgress = true
					}
				}
			}
		}
		if fnProgress {
			fn.Preserve(ir.MetaBlockIndex | ir.MetaDominance)
			progress = true
		}
	}
	return progress
}
