package pipeline

import (
	"math/bits"

	"github.com/gogpu/shaderopt/internal/logging"
	"github.com/gogpu/shaderopt/ir"
)

const explicitIOPass = "lower_explicit_io"

// formatOf infers the address format from the shape of an address value.
func formatOf(v *ir.Value) (ir.AddressFormat, bool) {
	switch {
	case v.NumComponents == 2 && v.BitSize == 32:
		return ir.Addr32BitIndexOffset, true
	case v.NumComponents == 1 && v.BitSize == 64:
		return ir.Addr64BitGlobal, true
	case v.NumComponents == 4 && v.BitSize == 32:
		return ir.Addr64BitBoundedGlobal, true
	}
	return ir.AddrNone, false
}

// derefStride returns the byte distance between consecutive elements an
// array step selects.
func derefStride(d *ir.Deref) uint32 {
	if d.DerefKind == ir.DerefPtrAsArray {
		return d.PtrStride
	}
	parent := d.ParentDeref()
	if parent == nil {
		return d.Type.Size()
	}
	pt := parent.Type
	switch pt.Kind() {
	case ir.TypeArray:
		if s := pt.Stride(); s != 0 {
			return s
		}
		return pt.Elem().Size()
	case ir.TypeVector:
		return max(uint32(pt.BitSize())/8, 1)
	}
	return d.Type.Size()
}

// derefAlign returns the alignment guaranteed at d as (mul, offset). The
// chain's root supplies the base alignment; fallback stands in when it
// declares none.
func derefAlign(d *ir.Deref, fallback uint32) (mul, off uint32) {
	var steps []*ir.Deref
	for x := d; x != nil; x = x.ParentDeref() {
		steps = append(steps, x)
	}
	root := steps[len(steps)-1]
	mul, off = root.AlignMul, root.AlignOffset
	if mul == 0 {
		mul, off = max(fallback, 1), 0
	}
	for k := len(steps) - 2; k >= 0; k-- {
		s := steps[k]
		switch s.DerefKind {
		case ir.DerefStruct:
			off += s.ParentDeref().Type.Field(s.Field).Offset
		case ir.DerefArray, ir.DerefPtrAsArray:
			stride := derefStride(s)
			if idx, ok := s.Index.ConstUint(); ok {
				off += uint32(idx) * stride
			} else if stride != 0 {
				mul = min(mul, uint32(1)<<bits.TrailingZeros32(stride))
			}
		}
	}
	return mul, off % mul
}

// addOffset advances addr by the 32-bit byte offset off.
func addOffset(b *ir.Builder, addr *ir.Value, f ir.AddressFormat, off *ir.Value) *ir.Value {
	switch f {
	case ir.Addr32BitIndexOffset:
		return b.Vec(b.Channel(addr, 0), b.IAdd(b.Channel(addr, 1), off))
	case ir.Addr64BitGlobal:
		return b.IAdd(addr, b.U2U(off, 64))
	case ir.Addr64BitBoundedGlobal:
		return b.Vec(b.Channel(addr, 0), b.Channel(addr, 1), b.Channel(addr, 2),
			b.IAdd(b.Channel(addr, 3), off))
	}
	ir.Abortf(explicitIOPass, nil, "unsupported address format %s", f)
	return nil
}

// addressFromDeref applies the step d to its parent's address.
func addressFromDeref(b *ir.Builder, d *ir.Deref, addr *ir.Value, f ir.AddressFormat) *ir.Value {
	switch d.DerefKind {
	case ir.DerefStruct:
		off := d.ParentDeref().Type.Field(d.Field).Offset
		if off == 0 {
			return addr
		}
		return addOffset(b, addr, f, b.Imm32(off))
	case ir.DerefArray, ir.DerefPtrAsArray:
		idx := b.U2U(d.Index.Value(), 32)
		return addOffset(b, addr, f, b.IMulImm(idx, uint64(derefStride(d))))
	case ir.DerefCast:
		return addr
	}
	ir.Abortf(explicitIOPass, d, "cannot take the address of a %s deref", d.DerefKind)
	return nil
}

// chainAddress computes the address of d, starting from the pointer value
// its root cast re-roots.
func chainAddress(b *ir.Builder, d *ir.Deref, f ir.AddressFormat) *ir.Value {
	if d.DerefKind == ir.DerefCast {
		return d.Parent.Value()
	}
	parent := d.ParentDeref()
	if parent == nil {
		ir.Abortf(explicitIOPass, d, "buffer deref chain does not start at a cast")
	}
	return addressFromDeref(b, d, chainAddress(b, parent, f), f)
}

// accessSize is the number of bytes in touches.
func accessSize(in *ir.Intrinsic) uint32 {
	switch in.Op {
	case ir.OpStoreDeref:
		v := in.Srcs[1].Value()
		return uint32(v.NumComponents) * max(uint32(v.BitSize)/8, 1)
	}
	d := in.Def()
	return uint32(d.NumComponents) * max(uint32(d.BitSize)/8, 1)
}

// lowerIO replaces the deref load, store or atomic in with the matching
// buffer intrinsic on addr. It returns true when a bounds check branch was
// emitted.
func lowerIO(b *ir.Builder, in *ir.Intrinsic, addr *ir.Value, f ir.AddressFormat, mode ir.VarMode, mul, off uint32) bool {
	var result *ir.Value
	guarded := false
	switch f {
	case ir.Addr32BitIndexOffset:
		result = emitIndexOffsetIO(b, in, b.Channel(addr, 0), b.Channel(addr, 1), mode, mul, off)
	case ir.Addr64BitGlobal:
		result = emitGlobalIO(b, in, addr, mode, mul, off)
	case ir.Addr64BitBoundedGlobal:
		inBounds := b.UGe(b.Channel(addr, 2), b.IAddImm(b.Channel(addr, 3), uint64(accessSize(in))))
		global := b.IAdd(b.Pack64Split(b.Channel(addr, 0), b.Channel(addr, 1)), b.U2U(b.Channel(addr, 3), 64))
		nif := b.PushIf(inBounds)
		res := emitGlobalIO(b, in, global, mode, mul, off)
		if res != nil {
			b.PushElse(nif)
			zero := make([]uint64, res.NumComponents)
			result = b.IfPhi(nif, res, b.Imm(res.BitSize, zero...))
		} else {
			b.PopIf(nif)
		}
		guarded = true
	default:
		ir.Abortf(explicitIOPass, in, "unsupported address format %s", f)
	}
	if def := in.Def(); def != nil {
		def.ReplaceAllUses(result)
	}
	ir.RemoveInstr(in)
	return guarded
}

func setAlign(n *ir.Intrinsic, mul, off uint32) {
	n.SetAttr(ir.IndexAlignMul, mul)
	n.SetAttr(ir.IndexAlignOffset, off)
}

func emitIndexOffsetIO(b *ir.Builder, in *ir.Intrinsic, index, offset *ir.Value, mode ir.VarMode, mul, off uint32) *ir.Value {
	switch in.Op {
	case ir.OpLoadDeref:
		d := in.Def()
		if mode == ir.ModeUBO {
			return b.LoadUBO(d.NumComponents, d.BitSize, index, offset, mul, off, 0, ^uint32(0))
		}
		n := b.Intrinsic(ir.OpLoadSSBO, d.NumComponents, d.BitSize, index, offset)
		n.SetAccess(in.Access())
		setAlign(n, mul, off)
		return n.Def()
	case ir.OpStoreDeref:
		v := in.Srcs[1].Value()
		n := b.Intrinsic(ir.OpStoreSSBO, v.NumComponents, 0, v, index, offset)
		n.SetAttr(ir.IndexWriteMask, in.Attr(ir.IndexWriteMask))
		n.SetAccess(in.Access())
		setAlign(n, mul, off)
		return nil
	case ir.OpDerefAtomic:
		n := b.Intrinsic(ir.OpSSBOAtomic, 1, in.Def().BitSize, index, offset, in.Srcs[1].Value())
		copyAtomic(n, in)
		return n.Def()
	case ir.OpDerefAtomicSwap:
		n := b.Intrinsic(ir.OpSSBOAtomicSwap, 1, in.Def().BitSize, index, offset, in.Srcs[1].Value(), in.Srcs[2].Value())
		copyAtomic(n, in)
		return n.Def()
	}
	ir.Abortf(explicitIOPass, in, "%s is not a buffer access", in.Op)
	return nil
}

func emitGlobalIO(b *ir.Builder, in *ir.Intrinsic, addr *ir.Value, mode ir.VarMode, mul, off uint32) *ir.Value {
	switch in.Op {
	case ir.OpLoadDeref:
		d := in.Def()
		if mode == ir.ModeUBO {
			return b.LoadGlobalConstant(d.NumComponents, d.BitSize, addr, mul, off)
		}
		n := b.Intrinsic(ir.OpLoadGlobal, d.NumComponents, d.BitSize, addr)
		n.SetAccess(in.Access())
		setAlign(n, mul, off)
		return n.Def()
	case ir.OpStoreDeref:
		v := in.Srcs[1].Value()
		n := b.Intrinsic(ir.OpStoreGlobal, v.NumComponents, 0, v, addr)
		n.SetAttr(ir.IndexWriteMask, in.Attr(ir.IndexWriteMask))
		n.SetAccess(in.Access())
		setAlign(n, mul, off)
		return nil
	case ir.OpDerefAtomic:
		n := b.Intrinsic(ir.OpGlobalAtomic, 1, in.Def().BitSize, addr, in.Srcs[1].Value())
		copyAtomic(n, in)
		return n.Def()
	case ir.OpDerefAtomicSwap:
		n := b.Intrinsic(ir.OpGlobalAtomicSwap, 1, in.Def().BitSize, addr, in.Srcs[1].Value(), in.Srcs[2].Value())
		copyAtomic(n, in)
		return n.Def()
	}
	ir.Abortf(explicitIOPass, in, "%s is not a buffer access", in.Op)
	return nil
}

func copyAtomic(dst, src *ir.Intrinsic) {
	dst.SetAttr(ir.IndexAtomicOp, src.Attr(ir.IndexAtomicOp))
	dst.SetAccess(src.Access())
}

// isBufferAccess reports whether in reads, writes or atomically updates
// memory through a deref.
func isBufferAccess(in *ir.Intrinsic) bool {
	switch in.Op {
	case ir.OpLoadDeref, ir.OpStoreDeref, ir.OpDerefAtomic, ir.OpDerefAtomicSwap:
		return true
	}
	return false
}

// LowerExplicitIO rewrites every UBO and SSBO deref access into buffer
// intrinsics on the address its chain computes. Chains must start at a
// cast of an address value; the value's shape selects the address format.
func LowerExplicitIO(s *ir.Shader) bool {
	log := logging.Pass("explicit_io")
	progress := false
	for fn := range s.Funcs() {
		var work []*ir.Intrinsic
		for blk := range fn.Blocks() {
			for i := range blk.Instrs() {
				in, ok := i.(*ir.Intrinsic)
				if !ok || !isBufferAccess(in) {
					continue
				}
				if d := ir.AsDeref(in.Srcs[0].Value()); d != nil && d.Mode.Is(ir.ModeUBO|ir.ModeSSBO) {
					work = append(work, in)
				}
			}
		}
		if len(work) == 0 {
			continue
		}

		guarded := false
		for _, in := range work {
			d := ir.AsDeref(in.Srcs[0].Value())
			root := d.Root()
			if root.DerefKind != ir.DerefCast {
				ir.Abortf(explicitIOPass, in, "buffer access does not go through a descriptor cast")
			}
			f, ok := formatOf(root.Parent.Value())
			if !ok {
				ir.Abortf(explicitIOPass, root, "unrecognized address format")
			}
			b := ir.At(in)
			addr := chainAddress(b, d, f)
			mul, off := derefAlign(d, root.Type.Align())
			if lowerIO(b, in, addr, f, d.Mode, mul, off) {
				guarded = true
			}
		}
		if guarded {
			fn.Preserve(ir.MetaNone)
		} else {
			fn.Preserve(ir.MetaBlockIndex | ir.MetaDominance)
		}
		log.Debug("lowered buffer accesses", "function", fn.Name, "count", len(work), "bounds_checked", guarded)
		progress = true
	}
	return progress
}
