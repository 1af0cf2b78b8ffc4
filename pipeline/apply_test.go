package pipeline

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/gogpu/shaderopt/ir"
)

func newShader() (*ir.Shader, *ir.Builder) {
	s := ir.NewShader(ir.StageFragment, "pipeline")
	fn := s.NewFunction("main")
	fn.IsEntry = true
	return s, ir.NewBuilder(fn, ir.BlockEnd(fn.StartBlock()))
}

func bufferBlock() *ir.Type {
	return ir.Struct("Block", []ir.StructField{
		{Name: "n", Type: ir.Uint32},
		{Name: "m", Type: ir.Uint32, Offset: 4},
		{Name: "data", Type: ir.Array(ir.Uint32, 0, 4), Offset: 8},
	})
}

func mustLayout(t *testing.T, target *Target, sets ...[]BindingDesc) *Layout {
	t.Helper()
	sls := make([]*SetLayout, len(sets))
	for i, descs := range sets {
		sl, err := NewSetLayout(target, descs)
		if err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
		sls[i] = sl
	}
	l, err := NewLayout(sls...)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func mustValidate(t *testing.T, s *ir.Shader) {
	t.Helper()
	errs, err := ir.Validate(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range errs {
		t.Errorf("unexpected validation error: %v", e)
	}
}

func expectViolation(t *testing.T, f func()) *ir.Violation {
	t.Helper()
	var v *ir.Violation
	func() {
		defer func() {
			r := recover()
			err, ok := r.(error)
			if !ok || !errors.As(err, &v) {
				t.Fatalf("Expected a *ir.Violation panic, got %v", r)
			}
		}()
		f()
	}()
	return v
}

func resourceIndex(b *ir.Builder, set, binding uint32, dt ir.DescriptorType, elem *ir.Value) *ir.Intrinsic {
	ri := b.Intrinsic(ir.OpVulkanResourceIndex, 2, 32, elem)
	ri.SetAttr(ir.IndexDescSet, set)
	ri.SetAttr(ir.IndexBinding, binding)
	ri.SetAttr(ir.IndexDescType, uint32(dt))
	return ri
}

func descriptorCast(b *ir.Builder, index *ir.Value, dt ir.DescriptorType) *ir.Deref {
	mode := ir.ModeSSBO
	if dt == ir.DescUniformBuffer || dt == ir.DescUniformBufferDynamic {
		mode = ir.ModeUBO
	}
	desc := b.Intrinsic(ir.OpLoadVulkanDescriptor, 2, 32, index)
	desc.SetAttr(ir.IndexDescType, uint32(dt))
	return b.DerefCast(desc.Def(), mode, bufferBlock(), 0)
}

func bufferChain(b *ir.Builder, set, binding uint32, dt ir.DescriptorType, elem *ir.Value) *ir.Deref {
	return descriptorCast(b, resourceIndex(b, set, binding, dt, elem).Def(), dt)
}

// sink keeps v alive.
func sink(b *ir.Builder, v *ir.Value) *ir.Intrinsic {
	out := b.Intrinsic(ir.OpStoreOutput, v.NumComponents, 0, v, b.Imm32(0))
	out.SetAttr(ir.IndexWriteMask, uint32(1)<<v.NumComponents-1)
	return out
}

func dynamicIndex(b *ir.Builder) *ir.Value {
	return b.LoadPushConstant(1, 32, b.Imm32(0), 0, 4)
}

func intrinsics(s *ir.Shader, op ir.IntrinsicOp) []*ir.Intrinsic {
	var out []*ir.Intrinsic
	for fn := range s.Funcs() {
		for blk := range fn.Blocks() {
			for i := range blk.Instrs() {
				if in, ok := i.(*ir.Intrinsic); ok && in.Op == op {
					out = append(out, in)
				}
			}
		}
	}
	return out
}

func alus(s *ir.Shader, op ir.ALUOp) []*ir.ALU {
	var out []*ir.ALU
	for fn := range s.Funcs() {
		for blk := range fn.Blocks() {
			for i := range blk.Instrs() {
				if a, ok := i.(*ir.ALU); ok && a.Op == op {
					out = append(out, a)
				}
			}
		}
	}
	return out
}

func constSrc(t *testing.T, s *ir.Src) uint64 {
	t.Helper()
	v, ok := s.ConstUint()
	if !ok {
		t.Fatalf("Expected %s to be constant", s.String())
	}
	return v
}

// channelOf returns the value and component a single-channel mov reads.
func channelOf(t *testing.T, v *ir.Value) (*ir.Value, uint8) {
	t.Helper()
	a, ok := v.Parent().(*ir.ALU)
	if !ok || a.Op != ir.OpMov {
		t.Fatalf("Expected %s to be a channel extract, got %s", v, ir.FormatInstr(v.Parent()))
	}
	return a.Srcs[0].Value(), a.Srcs[0].Swizzle[0]
}

func noEntry() Entry { return Entry{DynamicOffsetIndex: -1} }

func entry(set uint8, binding, elem, index uint32) Entry {
	return Entry{Set: set, Binding: binding, Element: elem, Index: index, DynamicOffsetIndex: -1}
}

func TestApply_SingleUniformBuffer(t *testing.T) {
	target := TargetGen7
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescUniformBuffer, ArraySize: 1, Stages: ir.StageAll},
	})
	s, b := newShader()
	cast := bufferChain(b, 0, 0, ir.DescUniformBuffer, b.Imm32(0))
	ld := b.LoadDeref(b.DerefStruct(cast, 1))
	sink(b, ld)

	var m BindMap
	if !Apply(s, layout, &target, &m) {
		t.Fatal("Expected progress")
	}
	if want := []Entry{entry(0, 0, 0, 0)}; !slices.Equal(m.Surfaces, want) {
		t.Errorf("surfaces = %v, want %v", m.Surfaces, want)
	}
	if len(m.Samplers) != 0 {
		t.Errorf("Expected no samplers, got %v", m.Samplers)
	}
	loads := intrinsics(s, ir.OpLoadUBO)
	if len(loads) != 1 {
		t.Fatalf("got %d load_ubo, want 1", len(loads))
	}
	if got := constSrc(t, &loads[0].Srcs[0]); got != 0 {
		t.Errorf("binding table index = %d, want 0", got)
	}
	if got := constSrc(t, &loads[0].Srcs[1]); got != 4 {
		t.Errorf("offset = %d, want 4", got)
	}
	for _, op := range []ir.IntrinsicOp{ir.OpVulkanResourceIndex, ir.OpLoadVulkanDescriptor, ir.OpLoadDeref} {
		if n := len(intrinsics(s, op)); n != 0 {
			t.Errorf("Expected every %s to be gone, %d left", op, n)
		}
	}
	mustValidate(t, s)
}

func TestApply_DescriptorAsIndexOffset(t *testing.T) {
	target := TargetGen7
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescStorageBuffer, ArraySize: 1, Stages: ir.StageAll},
	})
	s, b := newShader()
	cast := bufferChain(b, 0, 0, ir.DescStorageBuffer, b.Imm32(0))
	ld := b.Intrinsic(ir.OpLoadDeref, 1, 32, b.DerefStruct(cast, 1).Def())
	ld.SetAccess(ir.AccessNonUniform)
	sink(b, ld.Def())

	var m BindMap
	if !Apply(s, layout, &target, &m) {
		t.Fatal("Expected progress")
	}
	// Non-uniform access keeps the deref; the descriptor becomes {slot, 0}.
	addr := cast.Parent.Value()
	if addr.NumComponents != 2 || addr.BitSize != 32 {
		t.Fatalf("descriptor is %dx%d, want 2x32", addr.NumComponents, addr.BitSize)
	}
	for c, want := range []uint64{0, 0} {
		if got, ok := addr.ConstLane(c); !ok || got != want {
			t.Errorf("descriptor lane %d = %d (const %v), want %d", c, got, ok, want)
		}
	}
	if cast.AlignMul != uint32(target.SSBOAlignment) {
		t.Errorf("cast align_mul = %d, want %d", cast.AlignMul, target.SSBOAlignment)
	}

	if !LowerExplicitIO(s) {
		t.Fatal("Expected explicit I/O lowering to make progress")
	}
	loads := intrinsics(s, ir.OpLoadSSBO)
	if len(loads) != 1 {
		t.Fatalf("got %d load_ssbo, want 1", len(loads))
	}
	if got := constSrc(t, &loads[0].Srcs[1]); got != 4 {
		t.Errorf("offset = %d, want 4", got)
	}
	if loads[0].Access()&ir.AccessNonUniform == 0 {
		t.Errorf("Expected load_ssbo to keep non-uniform access, got %s", loads[0].Access())
	}
	mustValidate(t, s)
}

func TestApply_DynamicUniformBufferBounded(t *testing.T) {
	target := TargetGen9
	target.RobustBufferAccess = true
	target.AlwaysUseBindless = true
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescUniformBuffer, ArraySize: 4, Stages: ir.StageAll},
		{Binding: 1, Type: ir.DescUniformBufferDynamic, ArraySize: 4, Stages: ir.StageAll},
	})
	bl := layout.Binding(0, 1)
	if bl.DescriptorOffset != 64 || bl.DynamicOffsetIndex != 0 {
		t.Fatalf("binding 1: descriptor offset %d, dynamic index %d; want 64, 0",
			bl.DescriptorOffset, bl.DynamicOffsetIndex)
	}

	s, b := newShader()
	elem := dynamicIndex(b)
	cast := bufferChain(b, 0, 1, ir.DescUniformBufferDynamic, elem)
	sink(b, b.LoadDeref(b.DerefStruct(cast, 0)))

	var m BindMap
	if !Apply(s, layout, &target, &m) {
		t.Fatal("Expected progress")
	}
	want := []Entry{{Set: SetDescriptors, Index: 0, DynamicOffsetIndex: -1}}
	if !slices.Equal(m.Surfaces, want) {
		t.Errorf("surfaces = %v, want %v", m.Surfaces, want)
	}

	var index *ir.ALU
	for _, a := range alus(s, ir.OpVec4) {
		if v, ok := a.Srcs[0].ConstUint(); ok && v == 64<<16 {
			index = a
		}
	}
	if index == nil {
		t.Fatal("Expected a packed 4x32 resource index")
	}
	if index.Srcs[1].Value() != elem {
		t.Errorf("Expected the array element in component 1")
	}
	if got := constSrc(t, &index.Srcs[2].Src); got != 3 {
		t.Errorf("array size minus one = %d, want 3", got)
	}

	var descLoad *ir.Intrinsic
	for _, in := range intrinsics(s, ir.OpLoadUBO) {
		if in.Def().NumComponents == 4 && in.Attr(ir.IndexAlignMul) == 8 {
			descLoad = in
		}
	}
	if descLoad == nil {
		t.Error("Expected a 4x32 descriptor load")
	}
	dyn := intrinsics(s, ir.OpLoadPushConstant)
	found := false
	for _, in := range dyn {
		if in.Attr(ir.IndexBase) == DynamicOffsetsBase {
			found = true
		}
	}
	if !found {
		t.Error("Expected a dynamic offset load from the push constant table")
	}
	clamped := false
	for _, a := range alus(s, ir.OpUMin) {
		if v, ok := a.Srcs[1].ConstUint(); ok && v == MaxDynamicBuffers-1 {
			clamped = true
		}
	}
	if !clamped {
		t.Error("Expected the dynamic offset index to be clamped")
	}

	if !LowerExplicitIO(s) {
		t.Fatal("Expected explicit I/O lowering to make progress")
	}
	if n := len(intrinsics(s, ir.OpLoadGlobalConstant)); n != 1 {
		t.Errorf("got %d load_global_constant, want 1", n)
	}
	mustValidate(t, s)
}

func TestApply_BindlessTexture(t *testing.T) {
	bindlessImagesOnly := Target{
		Name:                "bindless-images",
		Generation:          9,
		HasBindlessImages:   true,
		UBOAlignment:        64,
		SSBOAlignment:       4,
		MaxBindingTableSize: 240,
		MaxSamplerTableSize: 16,
	}
	for _, target := range []Target{TargetGen12, bindlessImagesOnly} {
		t.Run(target.Name, func(t *testing.T) {
			layout := mustLayout(t, &target, []BindingDesc{
				{Binding: 5, Type: ir.DescCombinedImageSampler, ArraySize: 4096, Stages: ir.StageAll},
			})
			s, b := newShader()
			img := ir.Image(ir.ImageDesc{Dim: ir.Dim2D, Sampled: ir.BaseFloat})
			v := s.AddVariable(ir.ModeUniform, ir.Array(img, 4096, 0), "textures")
			v.Data.Binding = 5

			d := b.DerefArray(b.DerefVar(v), dynamicIndex(b))
			tex := b.NewTex(ir.TexOpTex, ir.Dim2D)
			tex.AddSrc(ir.TexSrcCoord, b.Undef(2, 32))
			tex.AddSrc(ir.TexSrcTextureDeref, d.Def())
			tex.AddSrc(ir.TexSrcSamplerDeref, d.Def())
			sink(b, b.InsertTex(tex, 4, 32))

			var m BindMap
			if !Apply(s, layout, &target, &m) {
				t.Fatal("Expected progress")
			}
			want := []Entry{{Set: SetDescriptors, Index: 0, DynamicOffsetIndex: -1}}
			if !slices.Equal(m.Surfaces, want) {
				t.Errorf("surfaces = %v, want %v", m.Surfaces, want)
			}
			if len(m.Samplers) != 0 {
				t.Errorf("Expected no sampler slots, got %v", m.Samplers)
			}

			for _, k := range []ir.TexSrcKind{ir.TexSrcTextureDeref, ir.TexSrcSamplerDeref} {
				if tex.Src(k) != nil {
					t.Errorf("Expected the %s source to be replaced", k)
				}
			}
			loads := intrinsics(s, ir.OpLoadUBO)
			if len(loads) != 1 || loads[0].Def().NumComponents != 2 {
				t.Fatalf("Expected one shared 2x32 handle load, got %d loads", len(loads))
			}
			for k, wantChan := range map[ir.TexSrcKind]uint8{ir.TexSrcTextureHandle: 0, ir.TexSrcSamplerHandle: 1} {
				src := tex.Src(k)
				if src == nil {
					t.Fatalf("Expected a %s source", k)
				}
				from, c := channelOf(t, src.Value())
				if from != loads[0].Def() || c != wantChan {
					t.Errorf("%s reads component %d of %s, want component %d of the handle load", k, c, from, wantChan)
				}
			}
			mustValidate(t, s)
		})
	}
}

func swizzleLayout(t *testing.T, target *Target) *Layout {
	return mustLayout(t, target, []BindingDesc{
		{Binding: 0, Type: ir.DescSampledImage, ArraySize: 1, Stages: ir.StageAll},
		{Binding: 1, Type: ir.DescSampler, ArraySize: 1, Stages: ir.StageAll},
	})
}

func swizzleShader(op ir.TexOp, dim ir.SamplerDim, shadow bool) (*ir.Shader, *ir.Tex, *ir.Intrinsic) {
	s, b := newShader()
	texVar := s.AddVariable(ir.ModeUniform, ir.Image(ir.ImageDesc{Dim: dim, Sampled: ir.BaseFloat}), "t")
	sampVar := s.AddVariable(ir.ModeUniform, ir.Sampler(shadow), "s")
	sampVar.Data.Binding = 1

	tex := b.NewTex(op, dim)
	tex.IsShadow = shadow
	tex.AddSrc(ir.TexSrcCoord, b.Undef(2, 32))
	tex.AddSrc(ir.TexSrcTextureDeref, b.DerefVar(texVar).Def())
	tex.AddSrc(ir.TexSrcSamplerDeref, b.DerefVar(sampVar).Def())
	out := sink(b, b.InsertTex(tex, 4, 32))
	return s, tex, out
}

func TestApply_Gen7TextureSwizzle(t *testing.T) {
	target := TargetGen7
	layout := swizzleLayout(t, &target)
	s, tex, out := swizzleShader(ir.TexOpTex, ir.Dim2D, false)

	var m BindMap
	if !Apply(s, layout, &target, &m) {
		t.Fatal("Expected progress")
	}
	wantSurfaces := []Entry{{Set: SetDescriptors, Index: 0, DynamicOffsetIndex: -1}, entry(0, 0, 0, 0)}
	if !slices.Equal(m.Surfaces, wantSurfaces) {
		t.Errorf("surfaces = %v, want %v", m.Surfaces, wantSurfaces)
	}
	if want := []Entry{entry(0, 1, 0, 1)}; !slices.Equal(m.Samplers, want) {
		t.Errorf("samplers = %v, want %v", m.Samplers, want)
	}
	if tex.TextureIndex != 1 || tex.SamplerIndex != 0 {
		t.Errorf("texture index %d, sampler index %d; want 1, 0", tex.TextureIndex, tex.SamplerIndex)
	}

	res := out.Srcs[0].Value()
	if res == tex.Def() {
		t.Fatal("Expected the texture result to be replaced by the swizzled value")
	}
	if a, ok := res.Parent().(*ir.ALU); !ok || a.Op != ir.OpVec4 {
		t.Errorf("Expected the swizzled value to be a vec4, got %s", ir.FormatInstr(res.Parent()))
	}
	// Each component selects among 8 values with 7 bcsels.
	if got := len(alus(s, ir.OpBcsel)); got != 28 {
		t.Errorf("got %d bcsel, want 28", got)
	}
	var swizzleLoads int
	for _, in := range intrinsics(s, ir.OpLoadUBO) {
		if in.Def().NumComponents == 1 && constSrc(t, &in.Srcs[0]) == 0 {
			swizzleLoads++
		}
	}
	if swizzleLoads != 1 {
		t.Errorf("got %d swizzle word loads, want 1", swizzleLoads)
	}
	mustValidate(t, s)
}

func TestApply_Gen7SwizzleSkipped(t *testing.T) {
	tests := []struct {
		name   string
		op     ir.TexOp
		dim    ir.SamplerDim
		shadow bool
	}{
		{"shadow", ir.TexOpTex, ir.Dim2D, true},
		{"gather", ir.TexOpTg4, ir.Dim2D, false},
		{"query", ir.TexOpTxs, ir.Dim2D, false},
		{"buffer", ir.TexOpTxf, ir.DimBuffer, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := TargetGen7
			layout := swizzleLayout(t, &target)
			s, tex, out := swizzleShader(tt.op, tt.dim, tt.shadow)
			var m BindMap
			Apply(s, layout, &target, &m)
			if out.Srcs[0].Value() != tex.Def() {
				t.Error("Expected the texture result to be used directly")
			}
			if n := len(alus(s, ir.OpBcsel)); n != 0 {
				t.Errorf("got %d bcsel, want 0", n)
			}
		})
	}
}

func TestApply_NoSwizzleOnHaswell(t *testing.T) {
	target := TargetGen75
	layout := swizzleLayout(t, &target)
	s, tex, out := swizzleShader(ir.TexOpTex, ir.Dim2D, false)
	var m BindMap
	Apply(s, layout, &target, &m)
	if out.Srcs[0].Value() != tex.Def() {
		t.Error("Expected no swizzle on a target with a channel select table")
	}
	// Without swizzle data the set needs no descriptor buffer.
	if want := []Entry{entry(0, 0, 0, 0)}; !slices.Equal(m.Surfaces, want) {
		t.Errorf("surfaces = %v, want %v", m.Surfaces, want)
	}
}

func TestApply_BoundsChecks(t *testing.T) {
	target := TargetGen7
	target.RobustBufferAccess = true
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescStorageBuffer, ArraySize: 8, Stages: ir.StageAll},
	})
	s, b := newShader()
	elem := dynamicIndex(b)
	ri := resourceIndex(b, 0, 0, ir.DescStorageBuffer, elem)
	sink(b, b.LoadDeref(b.DerefStruct(descriptorCast(b, ri.Def(), ir.DescStorageBuffer), 0)))
	re := b.Intrinsic(ir.OpVulkanResourceReindex, 2, 32, ri.Def(), dynamicIndex(b))
	re.SetAttr(ir.IndexDescType, uint32(ir.DescStorageBuffer))
	sink(b, b.LoadDeref(b.DerefStruct(descriptorCast(b, re.Def(), ir.DescStorageBuffer), 0)))

	var m BindMap
	Apply(s, layout, &target, &m)
	if len(m.Surfaces) != 8 {
		t.Fatalf("got %d surfaces, want 8", len(m.Surfaces))
	}
	var elemClamps, slotClamps int
	for _, a := range alus(s, ir.OpUMin) {
		v, ok := a.Srcs[1].ConstUint()
		if !ok || v != 7 {
			continue
		}
		if a.Srcs[0].Value() == elem {
			elemClamps++
		} else {
			slotClamps++
		}
	}
	if elemClamps == 0 {
		t.Error("Expected the array element to be clamped to 7")
	}
	if slotClamps == 0 {
		t.Error("Expected the reindexed slot to be clamped to the binding's last slot")
	}
	if n := len(intrinsics(s, ir.OpLoadSSBO)); n != 2 {
		t.Errorf("got %d load_ssbo, want 2", n)
	}
	mustValidate(t, s)
}

func TestApply_NoClampWithoutRobustAccess(t *testing.T) {
	target := TargetGen7
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescStorageBuffer, ArraySize: 8, Stages: ir.StageAll},
	})
	s, b := newShader()
	sink(b, b.LoadDeref(b.DerefStruct(bufferChain(b, 0, 0, ir.DescStorageBuffer, dynamicIndex(b)), 0)))
	var m BindMap
	Apply(s, layout, &target, &m)
	if n := len(alus(s, ir.OpUMin)); n != 0 {
		t.Errorf("got %d umin, want 0", n)
	}
}

func TestApply_MultiPlaneSamplers(t *testing.T) {
	target := TargetGen9
	layout := mustLayout(t, &target, []BindingDesc{{
		Binding: 0, Type: ir.DescCombinedImageSampler, ArraySize: 2, Stages: ir.StageAll,
		ImmutableSamplers: []ImmutableSampler{{Planes: 2}, {Planes: 1}},
	}})
	s, b := newShader()
	img := ir.Image(ir.ImageDesc{Dim: ir.Dim2D, Sampled: ir.BaseFloat})
	v := s.AddVariable(ir.ModeUniform, ir.Array(img, 2, 0), "ycbcr")

	sample := func(elem, plane uint32) *ir.Tex {
		d := b.DerefArrayImm(b.DerefVar(v), elem)
		tex := b.NewTex(ir.TexOpTex, ir.Dim2D)
		tex.AddSrc(ir.TexSrcCoord, b.Undef(2, 32))
		tex.AddSrc(ir.TexSrcTextureDeref, d.Def())
		tex.AddSrc(ir.TexSrcSamplerDeref, d.Def())
		tex.AddSrc(ir.TexSrcPlane, b.Imm32(plane))
		sink(b, b.InsertTex(tex, 4, 32))
		return tex
	}
	second := sample(1, 0)
	chroma := sample(0, 1)

	var m BindMap
	Apply(s, layout, &target, &m)
	planeEntry := func(elem uint32, plane uint8) Entry {
		e := entry(0, 0, elem, elem)
		e.Plane = plane
		return e
	}
	planes := []Entry{planeEntry(0, 0), planeEntry(0, 1), planeEntry(1, 0)}
	if len(m.Surfaces) != 4 || !slices.Equal(m.Surfaces[1:], planes) {
		t.Errorf("surfaces = %v, want descriptors then %v", m.Surfaces, planes)
	}
	if !slices.Equal(m.Samplers, planes) {
		t.Errorf("samplers = %v, want %v", m.Samplers, planes)
	}

	tests := []struct {
		name             string
		tex              *ir.Tex
		texture, sampler uint32
	}{
		{"element 1", second, 3, 2},
		{"element 0 plane 1", chroma, 2, 1},
	}
	for _, tt := range tests {
		if tt.tex.TextureIndex != tt.texture || tt.tex.SamplerIndex != tt.sampler {
			t.Errorf("%s: texture %d sampler %d, want %d %d", tt.name,
				tt.tex.TextureIndex, tt.tex.SamplerIndex, tt.texture, tt.sampler)
		}
		if tt.tex.SrcIndex(ir.TexSrcPlane) >= 0 {
			t.Errorf("%s: Expected the plane source to be removed", tt.name)
		}
	}
	mustValidate(t, s)
}

func TestApply_DynamicIndexIntoMultiPlane(t *testing.T) {
	target := TargetGen9
	layout := mustLayout(t, &target, []BindingDesc{{
		Binding: 0, Type: ir.DescCombinedImageSampler, ArraySize: 2, Stages: ir.StageAll,
		ImmutableSamplers: []ImmutableSampler{{Planes: 2}, {Planes: 2}},
	}})
	s, b := newShader()
	img := ir.Image(ir.ImageDesc{Dim: ir.Dim2D, Sampled: ir.BaseFloat})
	v := s.AddVariable(ir.ModeUniform, ir.Array(img, 2, 0), "ycbcr")
	d := b.DerefArray(b.DerefVar(v), dynamicIndex(b))
	tex := b.NewTex(ir.TexOpTex, ir.Dim2D)
	tex.AddSrc(ir.TexSrcTextureDeref, d.Def())
	sink(b, b.InsertTex(tex, 4, 32))

	var m BindMap
	expectViolation(t, func() { Apply(s, layout, &target, &m) })
}

func TestApply_MalformedTexture(t *testing.T) {
	tests := []struct {
		name    string
		dim     ir.SamplerDim
		handle  bool
		message string
	}{
		{"dimension mismatch", ir.Dim2D, false, "does not match"},
		{"deref and handle", ir.Dim3D, true, "both a texture deref and a texture handle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := TargetGen9
			layout := mustLayout(t, &target, []BindingDesc{
				{Binding: 0, Type: ir.DescSampledImage, ArraySize: 1, Stages: ir.StageAll},
			})
			s, b := newShader()
			v := s.AddVariable(ir.ModeUniform, ir.Image(ir.ImageDesc{Dim: ir.Dim3D, Sampled: ir.BaseFloat}), "volume")
			tex := b.NewTex(ir.TexOpTxf, tt.dim)
			tex.AddSrc(ir.TexSrcCoord, b.Undef(3, 32))
			tex.AddSrc(ir.TexSrcTextureDeref, b.DerefVar(v).Def())
			if tt.handle {
				tex.AddSrc(ir.TexSrcTextureHandle, b.Undef(1, 32))
			}
			sink(b, b.InsertTex(tex, 4, 32))

			var m BindMap
			viol := expectViolation(t, func() { Apply(s, layout, &target, &m) })
			if !strings.Contains(viol.Message, tt.message) {
				t.Errorf("message = %q, want it to contain %q", viol.Message, tt.message)
			}
			if viol.Pass != passName {
				t.Errorf("pass = %q, want %q", viol.Pass, passName)
			}
		})
	}
}

func TestApply_ImageAnnotationSkipsSamplerOnlyBinding(t *testing.T) {
	target := TargetGen8
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescSampledImage, ArraySize: 1, Stages: ir.StageAll},
		{Binding: 1, Type: ir.DescSampler, ArraySize: 1, Stages: ir.StageAll},
	})
	s, b := newShader()
	img := ir.Image(ir.ImageDesc{Dim: ir.Dim2D, Sampled: ir.BaseFloat})
	texVar := s.AddVariable(ir.ModeUniform, img, "t")
	sampVar := s.AddVariable(ir.ModeUniform, img, "s")
	sampVar.Data.Binding = 1
	sampVar.Data.Access = ir.AccessNonReadable

	tex := b.NewTex(ir.TexOpTex, ir.Dim2D)
	tex.AddSrc(ir.TexSrcCoord, b.Undef(2, 32))
	tex.AddSrc(ir.TexSrcTextureDeref, b.DerefVar(texVar).Def())
	tex.AddSrc(ir.TexSrcSamplerDeref, b.DerefVar(sampVar).Def())
	sink(b, b.InsertTex(tex, 4, 32))

	var m BindMap
	Apply(s, layout, &target, &m)
	if len(m.Samplers) != 1 {
		t.Fatalf("got %d sampler entries, want 1", len(m.Samplers))
	}
	for _, e := range m.Surfaces {
		if e.WriteOnly {
			t.Errorf("%v was annotated from the sampler-only binding", e)
		}
	}
}

func TestApply_DynamicTextureIndex(t *testing.T) {
	target := TargetGen9
	target.RobustBufferAccess = true
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescSampledImage, ArraySize: 4, Stages: ir.StageAll},
	})
	s, b := newShader()
	img := ir.Image(ir.ImageDesc{Dim: ir.Dim2D, Sampled: ir.BaseFloat})
	v := s.AddVariable(ir.ModeUniform, ir.Array(img, 4, 0), "textures")
	elem := dynamicIndex(b)
	tex := b.NewTex(ir.TexOpTxf, ir.Dim2D)
	tex.AddSrc(ir.TexSrcCoord, b.Undef(2, 32))
	tex.AddSrc(ir.TexSrcTextureDeref, b.DerefArray(b.DerefVar(v), elem).Def())
	sink(b, b.InsertTex(tex, 4, 32))

	var m BindMap
	Apply(s, layout, &target, &m)
	src := tex.Src(ir.TexSrcTextureOffset)
	if src == nil {
		t.Fatal("Expected a texture offset source")
	}
	a, ok := src.Value().Parent().(*ir.ALU)
	if !ok || a.Op != ir.OpUMin || a.Srcs[0].Value() != elem {
		t.Errorf("Expected the texture offset to be the clamped element, got %s", ir.FormatInstr(src.Value().Parent()))
	}
	// The descriptor buffer takes slot 0.
	if tex.TextureIndex != 1 {
		t.Errorf("texture index = %d, want 1", tex.TextureIndex)
	}
}

func TestApply_ShaderConstants(t *testing.T) {
	t.Run("binding table", func(t *testing.T) {
		target := TargetGen7
		s, b := newShader()
		s.ConstantData = make([]byte, 16)
		lc := b.Intrinsic(ir.OpLoadConstant, 1, 32, b.Imm32(4))
		lc.SetAttr(ir.IndexRange, 16)
		sink(b, lc.Def())

		var m BindMap
		if !Apply(s, mustLayout(t, &target), &target, &m) {
			t.Fatal("Expected progress")
		}
		want := []Entry{{Set: SetShaderConstants, DynamicOffsetIndex: -1}}
		if !slices.Equal(m.Surfaces, want) {
			t.Errorf("surfaces = %v, want %v", m.Surfaces, want)
		}
		loads := intrinsics(s, ir.OpLoadUBO)
		if len(loads) != 1 {
			t.Fatalf("got %d load_ubo, want 1", len(loads))
		}
		if got := constSrc(t, &loads[0].Srcs[1]); got != 4 {
			t.Errorf("offset = %d, want 4", got)
		}
		if got := loads[0].Attr(ir.IndexRange); got != 16 {
			t.Errorf("range = %d, want 16", got)
		}
	})
	t.Run("softpin", func(t *testing.T) {
		target := TargetGen8
		s, b := newShader()
		s.ConstantData = make([]byte, 16)
		lc := b.Intrinsic(ir.OpLoadConstant, 2, 32, b.Imm32(12))
		lc.SetAttr(ir.IndexRange, 16)
		sink(b, lc.Def())

		var m BindMap
		Apply(s, mustLayout(t, &target), &target, &m)
		if len(m.Surfaces) != 0 {
			t.Errorf("Expected no constant slot, got %v", m.Surfaces)
		}
		relocs := intrinsics(s, ir.OpLoadRelocConstIntel)
		if len(relocs) != 2 {
			t.Fatalf("got %d relocations, want 2", len(relocs))
		}
		if relocs[0].Attr(ir.IndexParamIdx) != RelocConstDataAddrLow || relocs[1].Attr(ir.IndexParamIdx) != RelocConstDataAddrHigh {
			t.Error("Expected the low half to be relocated before the high half")
		}
		// 8 bytes from offset 12 are clamped to the last full load at 8.
		clamps := alus(s, ir.OpUMin)
		if len(clamps) != 0 {
			t.Errorf("Expected the constant offset clamp to fold, got %d umin", len(clamps))
		}
		if n := len(intrinsics(s, ir.OpLoadGlobalConstant)); n != 1 {
			t.Errorf("got %d load_global_constant, want 1", n)
		}
		mustValidate(t, s)
	})
	t.Run("load past constant data", func(t *testing.T) {
		target := TargetGen8
		s, b := newShader()
		s.ConstantData = make([]byte, 2)
		lc := b.Intrinsic(ir.OpLoadConstant, 1, 32, b.Imm32(0))
		sink(b, lc.Def())
		var m BindMap
		expectViolation(t, func() { Apply(s, mustLayout(t, &target), &target, &m) })
	})
}

func storageImage(s *ir.Shader, n uint32) *ir.Variable {
	img := ir.Image(ir.ImageDesc{Dim: ir.Dim2D, Sampled: ir.BaseFloat})
	return s.AddVariable(ir.ModeImage, ir.Array(img, n, 0), "images")
}

func imageLoad(b *ir.Builder, d *ir.Deref) *ir.Intrinsic {
	in := b.Intrinsic(ir.OpImageDerefLoad, 4, 32, d.Def(), b.Undef(4, 32), b.Imm32(0), b.Imm32(0))
	in.SetAttr(ir.IndexImageDim, uint32(ir.Dim2D))
	sink(b, in.Def())
	return in
}

func TestApply_StorageImages(t *testing.T) {
	t.Run("binding table", func(t *testing.T) {
		target := TargetGen9
		layout := mustLayout(t, &target, []BindingDesc{
			{Binding: 0, Type: ir.DescStorageImage, ArraySize: 2, Stages: ir.StageAll},
		})
		s, b := newShader()
		v := storageImage(s, 2)
		v.Data.Access = ir.AccessNonReadable
		in := imageLoad(b, b.DerefArrayImm(b.DerefVar(v), 1))

		var m BindMap
		Apply(s, layout, &target, &m)
		if in.Op != ir.OpImageLoad {
			t.Fatalf("op = %s, want image_load", in.Op)
		}
		// Slot 0 holds the descriptor buffer.
		if got := constSrc(t, &in.Srcs[0]); got != 2 {
			t.Errorf("image index = %d, want 2", got)
		}
		for _, e := range m.Surfaces[1:] {
			if !e.WriteOnly {
				t.Errorf("Expected %v to be write-only", e)
			}
		}
		mustValidate(t, s)
	})
	t.Run("bindless", func(t *testing.T) {
		target := TargetGen9
		target.AlwaysUseBindless = true
		layout := mustLayout(t, &target, []BindingDesc{
			{Binding: 0, Type: ir.DescStorageImage, ArraySize: 2, Stages: ir.StageAll},
		})
		s, b := newShader()
		v := storageImage(s, 2)
		v.Data.Access = ir.AccessNonReadable
		in := imageLoad(b, b.DerefArray(b.DerefVar(v), dynamicIndex(b)))

		var m BindMap
		Apply(s, layout, &target, &m)
		if in.Op != ir.OpBindlessImageLoad {
			t.Fatalf("op = %s, want bindless_image_load", in.Op)
		}
		from, c := channelOf(t, in.Srcs[0].Value())
		if load, ok := from.Parent().(*ir.Intrinsic); !ok || load.Op != ir.OpLoadUBO {
			t.Errorf("Expected the handle to come from a descriptor load")
		}
		if c != 1 {
			t.Errorf("Expected the write-only handle in component 1, got %d", c)
		}
		if len(m.Surfaces) != 1 {
			t.Errorf("Expected only the descriptor buffer slot, got %v", m.Surfaces)
		}
		mustValidate(t, s)
	})
	t.Run("image params", func(t *testing.T) {
		target := TargetGen8
		layout := mustLayout(t, &target, []BindingDesc{
			{Binding: 0, Type: ir.DescStorageImage, ArraySize: 1, Stages: ir.StageAll},
		})
		s, b := newShader()
		img := ir.Image(ir.ImageDesc{Dim: ir.Dim2D, Sampled: ir.BaseFloat})
		v := s.AddVariable(ir.ModeImage, img, "image")
		param := b.Intrinsic(ir.OpImageDerefLoadParamIntel, 2, 32, b.DerefVar(v).Def())
		param.SetAttr(ir.IndexBase, ParamStride)
		sink(b, param.Def())

		var m BindMap
		Apply(s, layout, &target, &m)
		loads := intrinsics(s, ir.OpLoadUBO)
		if len(loads) != 1 {
			t.Fatalf("got %d load_ubo, want 1", len(loads))
		}
		if got := constSrc(t, &loads[0].Srcs[1]); got != ParamStride*16 {
			t.Errorf("param offset = %d, want %d", got, ParamStride*16)
		}
	})
}

func TestApply_InputAttachment(t *testing.T) {
	target := TargetGen9
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 2, Type: ir.DescInputAttachment, ArraySize: 1, Stages: ir.StageFragment.Mask()},
	})
	s, b := newShader()
	img := ir.Image(ir.ImageDesc{Dim: ir.DimSubpass, Sampled: ir.BaseFloat})
	v := s.AddVariable(ir.ModeUniform, img, "attachment")
	v.Data.Binding = 2
	v.Data.Index = 3
	in := b.Intrinsic(ir.OpImageDerefLoad, 4, 32, b.DerefVar(v).Def(), b.Undef(4, 32), b.Imm32(0), b.Imm32(0))
	in.SetAttr(ir.IndexImageDim, uint32(ir.DimSubpass))
	sink(b, in.Def())

	var m BindMap
	Apply(s, layout, &target, &m)
	last := m.Surfaces[len(m.Surfaces)-1]
	if last.Binding != 2 || last.InputAttachmentIndex != 3 {
		t.Errorf("entry = %v, want binding 2 with input attachment 3", last)
	}
}

func TestApply_Prioritization(t *testing.T) {
	target := TargetGen7
	target.MaxBindingTableSize = 4
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescStorageBuffer, ArraySize: 3, Stages: ir.StageAll},
		{Binding: 1, Type: ir.DescStorageBuffer, ArraySize: 1, Stages: ir.StageAll},
	})
	s, b := newShader()
	for range 2 {
		sink(b, b.LoadDeref(b.DerefStruct(bufferChain(b, 0, 1, ir.DescStorageBuffer, b.Imm32(0)), 0)))
	}
	sink(b, b.LoadDeref(b.DerefStruct(bufferChain(b, 0, 0, ir.DescStorageBuffer, b.Imm32(0)), 0)))

	var m BindMap
	Apply(s, layout, &target, &m)
	// Binding 1 scores (2<<7)/1 and goes first; binding 0 scores (1<<7)/3.
	want := []Entry{entry(0, 1, 0, 3), entry(0, 0, 0, 0), entry(0, 0, 1, 1), entry(0, 0, 2, 2)}
	if !slices.Equal(m.Surfaces, want) {
		t.Errorf("surfaces = %v, want %v", m.Surfaces, want)
	}
}

func TestApply_TableOverflowWithoutBindless(t *testing.T) {
	target := TargetGen7
	target.MaxBindingTableSize = 2
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescStorageBuffer, ArraySize: 4, Stages: ir.StageAll},
	})
	s, b := newShader()
	sink(b, b.LoadDeref(b.DerefStruct(bufferChain(b, 0, 0, ir.DescStorageBuffer, b.Imm32(0)), 0)))
	var m BindMap
	v := expectViolation(t, func() { Apply(s, layout, &target, &m) })
	if v.Pass != passName {
		t.Errorf("pass = %q, want %q", v.Pass, passName)
	}
}

func TestApply_UnknownBinding(t *testing.T) {
	target := TargetGen7
	s, b := newShader()
	sink(b, b.LoadDeref(b.DerefStruct(bufferChain(b, 1, 0, ir.DescStorageBuffer, b.Imm32(0)), 0)))
	var m BindMap
	v := expectViolation(t, func() { Apply(s, mustLayout(t, &target, nil), &target, &m) })
	if v.Instr == "" {
		t.Error("Expected the violation to name the instruction")
	}
}

func TestApply_SSBOSize(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		check  func(t *testing.T, s *ir.Shader, size *ir.Intrinsic)
	}{
		{"index offset", TargetGen7, func(t *testing.T, s *ir.Shader, size *ir.Intrinsic) {
			if size.Block() == nil {
				t.Fatal("Expected get_ssbo_size to stay")
			}
			if got := constSrc(t, &size.Srcs[0]); got != 0 {
				t.Errorf("binding table index = %d, want 0", got)
			}
		}},
		{"global", func() Target { t := TargetGen9; t.AlwaysUseBindless = true; return t }(),
			func(t *testing.T, s *ir.Shader, size *ir.Intrinsic) {
				if size.Block() != nil {
					t.Fatal("Expected get_ssbo_size to become a descriptor read")
				}
				if n := len(intrinsics(s, ir.OpLoadUBO)); n != 1 {
					t.Errorf("got %d descriptor loads, want 1", n)
				}
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target
			layout := mustLayout(t, &target, []BindingDesc{
				{Binding: 0, Type: ir.DescStorageBuffer, ArraySize: 1, Stages: ir.StageAll},
			})
			s, b := newShader()
			ri := resourceIndex(b, 0, 0, ir.DescStorageBuffer, b.Imm32(0))
			size := b.Intrinsic(ir.OpGetSSBOSize, 1, 32, ri.Def())
			sink(b, size.Def())
			var m BindMap
			Apply(s, layout, &target, &m)
			tt.check(t, s, size)
			mustValidate(t, s)
		})
	}
}

func TestApply_ResetsBindMap(t *testing.T) {
	target := TargetGen7
	layout := mustLayout(t, &target, []BindingDesc{
		{Binding: 0, Type: ir.DescUniformBuffer, ArraySize: 1, Stages: ir.StageAll},
	})
	m := BindMap{Surfaces: []Entry{noEntry(), noEntry()}}
	for range 2 {
		s, b := newShader()
		sink(b, b.LoadDeref(b.DerefStruct(bufferChain(b, 0, 0, ir.DescUniformBuffer, b.Imm32(0)), 0)))
		Apply(s, layout, &target, &m)
		if len(m.Surfaces) != 1 {
			t.Errorf("got %d surfaces, want 1", len(m.Surfaces))
		}
	}
}
