package ir

import (
	"iter"
	"strconv"
)

// IntrinsicOp is an intrinsic opcode.
type IntrinsicOp uint16

const (
	OpLoadDeref IntrinsicOp = iota
	OpStoreDeref
	OpDerefAtomic
	OpDerefAtomicSwap

	OpImageDerefLoad
	OpImageDerefStore
	OpImageDerefAtomic
	OpImageDerefAtomicSwap
	OpImageDerefSize
	OpImageDerefSamples
	OpImageDerefLoadParamIntel

	OpBindlessImageLoad
	OpBindlessImageStore
	OpBindlessImageAtomic
	OpBindlessImageAtomicSwap
	OpBindlessImageSize
	OpBindlessImageSamples

	OpImageLoad
	OpImageStore
	OpImageAtomic
	OpImageAtomicSwap
	OpImageSize
	OpImageSamples

	OpVulkanResourceIndex
	OpVulkanResourceReindex
	OpLoadVulkanDescriptor
	OpGetSSBOSize

	OpLoadUBO
	OpLoadSSBO
	OpStoreSSBO
	OpSSBOAtomic
	OpSSBOAtomicSwap
	OpLoadGlobal
	OpLoadGlobalConstant
	OpStoreGlobal
	OpGlobalAtomic
	OpGlobalAtomicSwap

	OpLoadPushConstant
	OpLoadConstant
	OpLoadRelocConstIntel
	OpLoadInput
	OpStoreOutput
	OpControlBarrier
	numIntrinsicOps
)

// IndexKind names an intrinsic attribute.
type IndexKind uint8

const (
	IndexBase IndexKind = iota
	IndexRange
	IndexRangeBase
	IndexDescSet
	IndexBinding
	IndexDescType
	IndexAccess
	IndexComponent
	IndexAlignMul
	IndexAlignOffset
	IndexWriteMask
	IndexImageDim
	IndexImageArray
	IndexFormat
	IndexAtomicOp
	IndexParamIdx
	numIndexKinds
)

var indexNames = [numIndexKinds]string{
	"base", "range", "range_base", "desc_set", "binding", "desc_type", "access", "component",
	"align_mul", "align_offset", "write_mask", "image_dim", "image_array", "format", "atomic_op", "param_idx",
}

func (k IndexKind) String() string { return indexNames[k] }

const maxIndices = 6

// IntrinsicFlags describe how an intrinsic may be optimized.
type IntrinsicFlags uint8

const (
	// FlagCanEliminate marks intrinsics that may be deleted when unused.
	FlagCanEliminate IntrinsicFlags = 1 << iota
	// FlagCanReorder marks intrinsics that may move freely.
	FlagCanReorder
)

// IntrinsicInfo is the shape of an intrinsic opcode.
type IntrinsicInfo struct {
	Name    string
	NumSrcs int
	// SrcComponents holds the width of each source: 0 means the
	// intrinsic's own component count and -1 means unconstrained.
	SrcComponents [5]int8
	HasDest       bool
	// DestComponents is the fixed result width, or 0 when variable.
	DestComponents uint8
	Indices        []IndexKind
	Flags          IntrinsicFlags

	slot [numIndexKinds]int8
}

var (
	imageIndices = []IndexKind{IndexImageDim, IndexImageArray, IndexFormat, IndexAccess}
	imageAtomics = []IndexKind{IndexAtomicOp, IndexImageDim, IndexImageArray, IndexFormat, IndexAccess}
	elimReorder  = FlagCanEliminate | FlagCanReorder
)

var intrinsicInfos = [numIntrinsicOps]IntrinsicInfo{
	OpLoadDeref:       {Name: "load_deref", NumSrcs: 1, SrcComponents: [5]int8{-1}, HasDest: true, Indices: []IndexKind{IndexAccess}, Flags: FlagCanEliminate},
	OpStoreDeref:      {Name: "store_deref", NumSrcs: 2, SrcComponents: [5]int8{-1, 0}, Indices: []IndexKind{IndexWriteMask, IndexAccess}},
	OpDerefAtomic:     {Name: "deref_atomic", NumSrcs: 2, SrcComponents: [5]int8{-1, 1}, HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexAtomicOp, IndexAccess}},
	OpDerefAtomicSwap: {Name: "deref_atomic_swap", NumSrcs: 3, SrcComponents: [5]int8{-1, 1, 1}, HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexAtomicOp, IndexAccess}},

	OpImageDerefLoad:           {Name: "image_deref_load", NumSrcs: 4, SrcComponents: [5]int8{-1, 4, 1, 1}, HasDest: true, Indices: imageIndices, Flags: FlagCanEliminate},
	OpImageDerefStore:          {Name: "image_deref_store", NumSrcs: 5, SrcComponents: [5]int8{-1, 4, 1, 0, 1}, Indices: imageIndices},
	OpImageDerefAtomic:         {Name: "image_deref_atomic", NumSrcs: 4, SrcComponents: [5]int8{-1, 4, 1, 1}, HasDest: true, DestComponents: 1, Indices: imageAtomics},
	OpImageDerefAtomicSwap:     {Name: "image_deref_atomic_swap", NumSrcs: 5, SrcComponents: [5]int8{-1, 4, 1, 1, 1}, HasDest: true, DestComponents: 1, Indices: imageAtomics},
	OpImageDerefSize:           {Name: "image_deref_size", NumSrcs: 2, SrcComponents: [5]int8{-1, 1}, HasDest: true, Indices: imageIndices, Flags: elimReorder},
	OpImageDerefSamples:        {Name: "image_deref_samples", NumSrcs: 1, SrcComponents: [5]int8{-1}, HasDest: true, DestComponents: 1, Indices: imageIndices, Flags: elimReorder},
	OpImageDerefLoadParamIntel: {Name: "image_deref_load_param_intel", NumSrcs: 1, SrcComponents: [5]int8{-1}, HasDest: true, Indices: []IndexKind{IndexBase}, Flags: elimReorder},

	OpBindlessImageLoad:       {Name: "bindless_image_load", NumSrcs: 4, SrcComponents: [5]int8{1, 4, 1, 1}, HasDest: true, Indices: imageIndices, Flags: FlagCanEliminate},
	OpBindlessImageStore:      {Name: "bindless_image_store", NumSrcs: 5, SrcComponents: [5]int8{1, 4, 1, 0, 1}, Indices: imageIndices},
	OpBindlessImageAtomic:     {Name: "bindless_image_atomic", NumSrcs: 4, SrcComponents: [5]int8{1, 4, 1, 1}, HasDest: true, DestComponents: 1, Indices: imageAtomics},
	OpBindlessImageAtomicSwap: {Name: "bindless_image_atomic_swap", NumSrcs: 5, SrcComponents: [5]int8{1, 4, 1, 1, 1}, HasDest: true, DestComponents: 1, Indices: imageAtomics},
	OpBindlessImageSize:       {Name: "bindless_image_size", NumSrcs: 2, SrcComponents: [5]int8{1, 1}, HasDest: true, Indices: imageIndices, Flags: elimReorder},
	OpBindlessImageSamples:    {Name: "bindless_image_samples", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, DestComponents: 1, Indices: imageIndices, Flags: elimReorder},

	OpImageLoad:       {Name: "image_load", NumSrcs: 4, SrcComponents: [5]int8{1, 4, 1, 1}, HasDest: true, Indices: imageIndices, Flags: FlagCanEliminate},
	OpImageStore:      {Name: "image_store", NumSrcs: 5, SrcComponents: [5]int8{1, 4, 1, 0, 1}, Indices: imageIndices},
	OpImageAtomic:     {Name: "image_atomic", NumSrcs: 4, SrcComponents: [5]int8{1, 4, 1, 1}, HasDest: true, DestComponents: 1, Indices: imageAtomics},
	OpImageAtomicSwap: {Name: "image_atomic_swap", NumSrcs: 5, SrcComponents: [5]int8{1, 4, 1, 1, 1}, HasDest: true, DestComponents: 1, Indices: imageAtomics},
	OpImageSize:       {Name: "image_size", NumSrcs: 2, SrcComponents: [5]int8{1, 1}, HasDest: true, Indices: imageIndices, Flags: elimReorder},
	OpImageSamples:    {Name: "image_samples", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, DestComponents: 1, Indices: imageIndices, Flags: elimReorder},

	OpVulkanResourceIndex:   {Name: "vulkan_resource_index", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, Indices: []IndexKind{IndexDescSet, IndexBinding, IndexDescType}, Flags: elimReorder},
	OpVulkanResourceReindex: {Name: "vulkan_resource_reindex", NumSrcs: 2, SrcComponents: [5]int8{0, 1}, HasDest: true, Indices: []IndexKind{IndexDescType}, Flags: elimReorder},
	OpLoadVulkanDescriptor:  {Name: "load_vulkan_descriptor", NumSrcs: 1, SrcComponents: [5]int8{-1}, HasDest: true, Indices: []IndexKind{IndexDescType}, Flags: elimReorder},
	OpGetSSBOSize:           {Name: "get_ssbo_size", NumSrcs: 1, SrcComponents: [5]int8{-1}, HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexAccess}, Flags: elimReorder},

	OpLoadUBO:            {Name: "load_ubo", NumSrcs: 2, SrcComponents: [5]int8{-1, 1}, HasDest: true, Indices: []IndexKind{IndexAccess, IndexAlignMul, IndexAlignOffset, IndexRangeBase, IndexRange}, Flags: elimReorder},
	OpLoadSSBO:           {Name: "load_ssbo", NumSrcs: 2, SrcComponents: [5]int8{-1, 1}, HasDest: true, Indices: []IndexKind{IndexAccess, IndexAlignMul, IndexAlignOffset}, Flags: FlagCanEliminate},
	OpStoreSSBO:          {Name: "store_ssbo", NumSrcs: 3, SrcComponents: [5]int8{0, -1, 1}, Indices: []IndexKind{IndexWriteMask, IndexAccess, IndexAlignMul, IndexAlignOffset}},
	OpSSBOAtomic:         {Name: "ssbo_atomic", NumSrcs: 3, SrcComponents: [5]int8{-1, 1, 1}, HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexAtomicOp, IndexAccess}},
	OpSSBOAtomicSwap:     {Name: "ssbo_atomic_swap", NumSrcs: 4, SrcComponents: [5]int8{-1, 1, 1, 1}, HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexAtomicOp, IndexAccess}},
	OpLoadGlobal:         {Name: "load_global", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, Indices: []IndexKind{IndexAccess, IndexAlignMul, IndexAlignOffset}, Flags: FlagCanEliminate},
	OpLoadGlobalConstant: {Name: "load_global_constant", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, Indices: []IndexKind{IndexAccess, IndexAlignMul, IndexAlignOffset}, Flags: elimReorder},
	OpStoreGlobal:        {Name: "store_global", NumSrcs: 2, SrcComponents: [5]int8{0, 1}, Indices: []IndexKind{IndexWriteMask, IndexAccess, IndexAlignMul, IndexAlignOffset}},
	OpGlobalAtomic:       {Name: "global_atomic", NumSrcs: 2, SrcComponents: [5]int8{1, 1}, HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexAtomicOp, IndexAccess}},
	OpGlobalAtomicSwap:   {Name: "global_atomic_swap", NumSrcs: 3, SrcComponents: [5]int8{1, 1, 1}, HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexAtomicOp, IndexAccess}},

	OpLoadPushConstant:    {Name: "load_push_constant", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, Indices: []IndexKind{IndexBase, IndexRange}, Flags: elimReorder},
	OpLoadConstant:        {Name: "load_constant", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, Indices: []IndexKind{IndexBase, IndexRange, IndexAlignMul, IndexAlignOffset}, Flags: elimReorder},
	OpLoadRelocConstIntel: {Name: "load_reloc_const_intel", HasDest: true, DestComponents: 1, Indices: []IndexKind{IndexParamIdx}, Flags: elimReorder},
	OpLoadInput:           {Name: "load_input", NumSrcs: 1, SrcComponents: [5]int8{1}, HasDest: true, Indices: []IndexKind{IndexBase, IndexComponent}, Flags: elimReorder},
	OpStoreOutput:         {Name: "store_output", NumSrcs: 2, SrcComponents: [5]int8{0, 1}, Indices: []IndexKind{IndexBase, IndexWriteMask, IndexComponent}},
	OpControlBarrier:      {Name: "control_barrier"},
}

func init() {
	for op := range intrinsicInfos {
		info := &intrinsicInfos[op]
		if len(info.Indices) > maxIndices {
			panic("ir: too many indices for " + info.Name)
		}
		for i, k := range info.Indices {
			info.slot[k] = int8(i + 1)
		}
	}
}

// Info returns the opcode description.
func (op IntrinsicOp) Info() *IntrinsicInfo { return &intrinsicInfos[op] }

func (op IntrinsicOp) String() string {
	if op < numIntrinsicOps {
		return intrinsicInfos[op].Name
	}
	return "intrinsic(" + strconv.Itoa(int(op)) + ")"
}

// HasIndex reports whether the opcode carries attribute k.
func (info *IntrinsicInfo) HasIndex(k IndexKind) bool { return info.slot[k] != 0 }

// AtomicOp is the operation of an atomic intrinsic.
type AtomicOp uint32

const (
	AtomicAdd AtomicOp = iota
	AtomicIMin
	AtomicUMin
	AtomicIMax
	AtomicUMax
	AtomicAnd
	AtomicOr
	AtomicXor
	AtomicExchange
	AtomicCmpXchg
	AtomicFAdd
)

// Intrinsic is an instruction with side effects or resource addressing.
type Intrinsic struct {
	instrNode
	Op   IntrinsicOp
	Srcs []Src
	// NumComponents is the width of variable-width sources and of the
	// result when the opcode does not fix it.
	NumComponents uint8

	attrs [maxIndices]uint32
	def   Value
}

func (in *Intrinsic) Kind() InstrKind { return InstrIntrinsic }

// Def returns the result, or nil when the opcode has none.
func (in *Intrinsic) Def() *Value {
	if !intrinsicInfos[in.Op].HasDest {
		return nil
	}
	return &in.def
}

func (in *Intrinsic) srcs() iter.Seq[*Src] {
	return func(yield func(*Src) bool) {
		for i := range in.Srcs {
			if !yield(&in.Srcs[i]) {
				return
			}
		}
	}
}

// Info returns the opcode description.
func (in *Intrinsic) Info() *IntrinsicInfo { return &intrinsicInfos[in.Op] }

// HasAttr reports whether the opcode carries attribute k.
func (in *Intrinsic) HasAttr(k IndexKind) bool { return intrinsicInfos[in.Op].slot[k] != 0 }

// Attr returns attribute k. Asking for an attribute the opcode does not
// carry is a contract violation.
func (in *Intrinsic) Attr(k IndexKind) uint32 {
	s := intrinsicInfos[in.Op].slot[k]
	if s == 0 {
		Abortf("ir", in, "%s has no %s attribute", in.Op, k)
	}
	return in.attrs[s-1]
}

// SetAttr sets attribute k.
func (in *Intrinsic) SetAttr(k IndexKind, v uint32) {
	s := intrinsicInfos[in.Op].slot[k]
	if s == 0 {
		Abortf("ir", in, "%s has no %s attribute", in.Op, k)
	}
	in.attrs[s-1] = v
}

// Access returns the access attribute, or 0 if the opcode has none.
func (in *Intrinsic) Access() Access {
	if !in.HasAttr(IndexAccess) {
		return 0
	}
	return Access(in.Attr(IndexAccess))
}

// SetAccess sets the access attribute.
func (in *Intrinsic) SetAccess(a Access) { in.SetAttr(IndexAccess, uint32(a)) }

// Rewrite changes the opcode, carrying over every attribute both opcodes
// share. The source count must match.
func (in *Intrinsic) Rewrite(op IntrinsicOp) {
	if intrinsicInfos[op].NumSrcs != len(in.Srcs) {
		Abortf("ir", in, "cannot rewrite %s into %s", in.Op, op)
	}
	old := in.Op
	var vals [numIndexKinds]uint32
	var has [numIndexKinds]bool
	for _, k := range intrinsicInfos[old].Indices {
		vals[k], has[k] = in.Attr(k), true
	}
	in.Op = op
	in.attrs = [maxIndices]uint32{}
	for _, k := range intrinsicInfos[op].Indices {
		if has[k] {
			in.SetAttr(k, vals[k])
		}
	}
}

// IsImageDeref reports whether op is an image intrinsic taking a deref.
func (op IntrinsicOp) IsImageDeref() bool {
	return op >= OpImageDerefLoad && op <= OpImageDerefLoadParamIntel
}

// IsBindlessImage reports whether op is an image intrinsic taking a handle.
func (op IntrinsicOp) IsBindlessImage() bool {
	return op >= OpBindlessImageLoad && op <= OpBindlessImageSamples
}

// ImageVariant maps an image deref opcode to its bindless or binding-table
// form.
func (op IntrinsicOp) ImageVariant(bindless bool) IntrinsicOp {
	if !op.IsImageDeref() || op == OpImageDerefLoadParamIntel {
		panic("ir: " + op.String() + " has no handle form")
	}
	if bindless {
		return OpBindlessImageLoad + (op - OpImageDerefLoad)
	}
	return OpImageLoad + (op - OpImageDerefLoad)
}
