// Package pipeline lowers descriptor set and binding references to the
// binding table, bindless and buffer address forms a back end consumes.
//
// Apply runs in fixed phases. It counts how often each binding is used,
// reserves binding table slots for the descriptor buffers and constant
// data, ranks the bindings and hands out binding table and sampler table
// slots in rank order. Bindings that do not fit, or that the target wants
// bindless, are reached through their set's descriptor buffer instead. The
// phases that follow rewrite buffer, image and texture accesses in terms of
// those slots and record the result in a BindMap.
package pipeline

import (
	"cmp"
	"log/slog"
	"math"
	"slices"

	"fortio.org/safecast"

	"github.com/gogpu/shaderopt/internal/logging"
	"github.com/gogpu/shaderopt/ir"
	"github.com/gogpu/shaderopt/opt"
)

const passName = "apply_pipeline_layout"

// Relocation parameters of load_reloc_const_intel.
const (
	RelocConstDataAddrLow = iota
	RelocConstDataAddrHigh
)

type setState struct {
	useCount       []uint8
	descBufferUsed bool
	// descOffset is the binding table slot of the set's descriptor buffer.
	descOffset     uint8
	surfaceOffsets []uint16
	samplerOffsets []uint16
}

type state struct {
	shader  *ir.Shader
	layout  *Layout
	target  *Target
	bindMap *BindMap
	sets    []setState
	log     *slog.Logger

	usesConstants     bool
	hasDynamicBuffers bool
	constantsOffset   uint8

	// lowered holds the get_ssbo_size instructions already rewritten by
	// the direct buffer phase.
	lowered map[*ir.Intrinsic]bool
	// indexRefs remembers the binding behind each lowered resource index.
	indexRefs map[*ir.Value]indexRef
}

type indexRef struct {
	set, binding uint32
}

// Apply lowers every descriptor reference in s according to layout and
// target, filling m with the binding table and sampler table contents. It
// reports whether the shader changed.
func Apply(s *ir.Shader, layout *Layout, target *Target, m *BindMap) bool {
	st := &state{
		shader:    s,
		layout:    layout,
		target:    target,
		bindMap:   m,
		sets:      make([]setState, len(layout.Sets)),
		log:       logging.Pass("pipeline"),
		lowered:   make(map[*ir.Intrinsic]bool),
		indexRefs: make(map[*ir.Value]indexRef),
	}
	for i, set := range layout.Sets {
		n := len(set.Layout.Bindings)
		ss := &st.sets[i]
		ss.useCount = make([]uint8, n)
		ss.surfaceOffsets = make([]uint16, n)
		ss.samplerOffsets = make([]uint16, n)
	}
	m.reset()

	st.census()
	st.assignDescriptorBuffers()
	st.assignSlots(st.prioritize())
	st.annotateImages()

	progress := st.lowerDirectBuffers()
	if progress {
		opt.DCE(s)
	}
	if st.lowerDescriptors() {
		progress = true
	}

	m.Seal()
	st.log.Debug("pipeline layout applied", "shader", s.Name,
		"surfaces", len(m.Surfaces), "samplers", len(m.Samplers), "progress", progress)
	return progress
}

func (st *state) abortf(at ir.Instr, format string, args ...any) {
	ir.Abortf(passName, at, format, args...)
}

// binding returns the layout of (set, binding) or aborts naming at.
func (st *state) binding(at ir.Instr, set, binding uint32) *BindingLayout {
	bl := st.layout.Binding(set, binding)
	if bl == nil {
		st.abortf(at, "set %d binding %d is not in the pipeline layout", set, binding)
	}
	return bl
}

// derefVar returns the deref feeding src and the variable at its root.
func (st *state) derefVar(at ir.Instr, src *ir.Src) (*ir.Deref, *ir.Variable) {
	d := ir.AsDeref(src.Value())
	if d == nil {
		st.abortf(at, "resource source is not a deref")
	}
	v := d.RootVar()
	if v == nil {
		st.abortf(at, "resource deref does not start at a variable")
	}
	return d, v
}

func (st *state) addBinding(at ir.Instr, set, binding uint32) {
	bl := st.binding(at, set, binding)
	ss := &st.sets[set]
	if ss.useCount[binding] < math.MaxUint8 {
		ss.useCount[binding]++
	}
	// Only bindings with descriptor data keep the descriptor buffer alive.
	if bl.DescriptorSize() > 0 {
		ss.descBufferUsed = true
	}
}

func (st *state) addDerefBinding(at ir.Instr, src *ir.Src) {
	_, v := st.derefVar(at, src)
	st.addBinding(at, v.Data.DescriptorSet, v.Data.Binding)
}

// census counts binding uses and notes constant data loads.
func (st *state) census() {
	for fn := range st.shader.Funcs() {
		for b := range fn.Blocks() {
			for i := range b.Instrs() {
				switch i := i.(type) {
				case *ir.Intrinsic:
					switch {
					case i.Op == ir.OpVulkanResourceIndex:
						st.addBinding(i, i.Attr(ir.IndexDescSet), i.Attr(ir.IndexBinding))
					case i.Op.IsImageDeref():
						st.addDerefBinding(i, &i.Srcs[0])
					case i.Op == ir.OpLoadConstant:
						st.usesConstants = true
					}
				case *ir.Tex:
					for _, k := range []ir.TexSrcKind{ir.TexSrcTextureDeref, ir.TexSrcSamplerDeref} {
						if src := i.Src(k); src != nil {
							st.addDerefBinding(i, &src.Src)
						}
					}
				}
			}
		}
	}
}

func (st *state) nextSurface() uint8 {
	slot, err := safecast.Conv[uint8](len(st.bindMap.Surfaces))
	if err != nil {
		st.abortf(nil, "too many descriptor buffer slots: %v", err)
	}
	return slot
}

// assignDescriptorBuffers gives each live descriptor buffer, and the
// constant data when it is not reached through a relocated address, a
// binding table slot ahead of every binding.
func (st *state) assignDescriptorBuffers() {
	m := st.bindMap
	for s := range st.sets {
		ss := &st.sets[s]
		if !ss.descBufferUsed {
			continue
		}
		ss.descOffset = st.nextSurface()
		m.Surfaces = append(m.Surfaces, Entry{Set: SetDescriptors, Index: uint32(s), DynamicOffsetIndex: -1})
	}
	if st.usesConstants && !st.target.UseSoftpin {
		st.constantsOffset = st.nextSurface()
		m.Surfaces = append(m.Surfaces, Entry{Set: SetShaderConstants, DynamicOffsetIndex: -1})
	}
}

type bindingInfo struct {
	set, binding uint32
	score        uint16
}

// prioritize ranks the used bindings. Frequently used small bindings come
// first; bindings that cannot go bindless come before everything else.
func (st *state) prioritize() []bindingInfo {
	var infos []bindingInfo
	for s := range st.sets {
		bindings := st.layout.Sets[s].Layout.Bindings
		for b, uses := range st.sets[s].useCount {
			if uses == 0 {
				continue
			}
			bl := &bindings[b]
			score := uint16((uint32(uses) << 7) / bl.ArraySize)
			if !st.target.supportsBindless(bl, true) || !st.target.supportsBindless(bl, false) {
				score |= 1 << 15
			}
			infos = append(infos, bindingInfo{set: uint32(s), binding: uint32(b), score: score})
		}
	}
	slices.SortFunc(infos, func(a, b bindingInfo) int {
		if a.score != b.score {
			return cmp.Compare(b.score, a.score)
		}
		if a.set != b.set {
			return cmp.Compare(a.set, b.set)
		}
		return cmp.Compare(a.binding, b.binding)
	})
	return infos
}

// tableSlots is the number of table entries the binding needs.
func (b *BindingLayout) tableSlots() uint32 {
	if b.ImmutableSamplers == nil {
		return b.ArraySize
	}
	var n uint32
	for _, s := range b.ImmutableSamplers {
		n += uint32(s.Planes)
	}
	return n
}

func slotOffset(n int) uint16 {
	off, err := safecast.Conv[uint16](n)
	if err != nil || off == BindlessOffset {
		ir.Abortf(passName, nil, "binding table offset %d out of range", n)
	}
	return off
}

// assignSlots hands out binding table and sampler table slots in rank
// order.
func (st *state) assignSlots(infos []bindingInfo) {
	m := st.bindMap
	t := st.target
	for _, info := range infos {
		set, b := info.set, info.binding
		bl := &st.layout.Sets[set].Layout.Bindings[b]
		ss := &st.sets[set]
		if bl.DynamicOffsetIndex >= 0 {
			st.hasDynamicBuffers = true
		}

		if bl.Data&DataSurfaceState != 0 {
			if uint32(len(m.Surfaces))+bl.tableSlots() > uint32(t.MaxBindingTableSize) || t.requiresBindless(bl, false) {
				if !t.supportsBindless(bl, false) {
					st.abortf(nil, "set %d binding %d (%s) does not fit the binding table and cannot be accessed bindlessly",
						set, b, bl.Type)
				}
				ss.surfaceOffsets[b] = BindlessOffset
				st.log.Debug("binding is bindless", "set", set, "binding", b, "table", "surface")
			} else {
				ss.surfaceOffsets[b] = slotOffset(len(m.Surfaces))
				st.appendEntries(&m.Surfaces, set, b, bl, bl.DynamicOffsetIndex >= 0)
			}
		}

		if bl.Data&DataSamplerState != 0 {
			if uint32(len(m.Samplers))+bl.tableSlots() > uint32(t.MaxSamplerTableSize) || t.requiresBindless(bl, true) {
				if !t.supportsBindless(bl, true) {
					st.abortf(nil, "set %d binding %d (%s) does not fit the sampler table and cannot be accessed bindlessly",
						set, b, bl.Type)
				}
				ss.samplerOffsets[b] = BindlessOffset
				st.log.Debug("binding is bindless", "set", set, "binding", b, "table", "sampler")
			} else {
				ss.samplerOffsets[b] = slotOffset(len(m.Samplers))
				st.appendEntries(&m.Samplers, set, b, bl, false)
			}
		}
	}
}

// appendEntries adds one entry per array element and plane.
func (st *state) appendEntries(dst *[]Entry, set, binding uint32, bl *BindingLayout, dynamic bool) {
	for i := range bl.ArraySize {
		e := Entry{
			Set:                uint8(set),
			Binding:            binding,
			Element:            i,
			Index:              bl.DescriptorIndex + i,
			DynamicOffsetIndex: -1,
		}
		if dynamic {
			dyn := st.layout.Sets[set].DynamicOffsetStart + uint32(bl.DynamicOffsetIndex) + i
			idx, err := safecast.Conv[int16](dyn)
			if err != nil {
				st.abortf(nil, "dynamic offset index %d: %v", dyn, err)
			}
			e.DynamicOffsetIndex = idx
			*dst = append(*dst, e)
			continue
		}
		for p := range bl.planes(i) {
			e.Plane = p
			*dst = append(*dst, e)
		}
	}
}

// annotateImages records input attachment indices and write-only storage
// images in the surface entries of image variables.
func (st *state) annotateImages() {
	for v := range st.shader.Vars(ir.ModeUniform | ir.ModeImage) {
		t := v.Type.WithoutArray()
		if !t.IsImage() {
			continue
		}
		set, b := v.Data.DescriptorSet, v.Data.Binding
		if int(set) >= len(st.sets) || int(b) >= len(st.sets[set].useCount) || st.sets[set].useCount[b] == 0 {
			continue
		}
		bl := &st.layout.Sets[set].Layout.Bindings[b]
		off := st.sets[set].surfaceOffsets[b]
		if bl.Data&DataSurfaceState == 0 || off == BindlessOffset {
			continue
		}
		entries := st.bindMap.Surfaces[off : uint32(off)+bl.tableSlots()]
		for i := range entries {
			e := &entries[i]
			if t.Image().Dim.IsSubpass() {
				idx, err := safecast.Conv[uint8](v.Data.Index + e.Element)
				if err != nil {
					st.abortf(nil, "input attachment index of %s: %v", v, err)
				}
				e.InputAttachmentIndex = idx
			}
			e.WriteOnly = v.Data.Access&ir.AccessNonReadable != 0
		}
	}
}

// lowerDescriptors rewrites every remaining descriptor reference.
func (st *state) lowerDescriptors() bool {
	progress := false
	for fn := range st.shader.Funcs() {
		fnProgress := false
		for blk := range fn.Blocks() {
			for i := range blk.InstrsSafe() {
				switch i := i.(type) {
				case *ir.Intrinsic:
					switch {
					case i.Op == ir.OpVulkanResourceIndex:
						st.lowerResIndex(i)
					case i.Op == ir.OpVulkanResourceReindex:
						st.lowerReindex(i)
					case i.Op == ir.OpLoadVulkanDescriptor:
						st.lowerLoadDescriptor(i)
					case i.Op == ir.OpGetSSBOSize:
						if st.lowered[i] {
							continue
						}
						st.lowerSSBOSize(i)
					case i.Op.IsImageDeref():
						st.lowerImage(i)
					case i.Op == ir.OpLoadConstant:
						st.lowerLoadConstant(i)
					default:
						continue
					}
					fnProgress = true
				case *ir.Tex:
					if i.SrcIndex(ir.TexSrcTextureDeref) < 0 && i.SrcIndex(ir.TexSrcSamplerDeref) < 0 &&
						i.SrcIndex(ir.TexSrcPlane) < 0 {
						continue
					}
					st.lowerTex(i)
					fnProgress = true
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
