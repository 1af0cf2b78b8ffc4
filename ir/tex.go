package ir

import (
	"iter"
	"slices"
)

// TexOp is a texture operation.
type TexOp uint8

const (
	TexOpTex TexOp = iota
	TexOpTxb
	TexOpTxl
	TexOpTxd
	TexOpTxf
	TexOpTxfMS
	TexOpTxs
	TexOpQueryLevels
	TexOpLod
	TexOpSamples
	TexOpTg4
)

var texOpNames = [...]string{"tex", "txb", "txl", "txd", "txf", "txf_ms", "txs", "query_levels", "lod", "texture_samples", "tg4"}

func (op TexOp) String() string { return texOpNames[op] }

// IsQuery reports whether op reads metadata rather than texels.
func (op TexOp) IsQuery() bool {
	switch op {
	case TexOpTxs, TexOpQueryLevels, TexOpLod, TexOpSamples:
		return true
	}
	return false
}

// TexSrcKind is the role of a texture source.
type TexSrcKind uint8

const (
	TexSrcCoord TexSrcKind = iota
	TexSrcProjector
	TexSrcComparator
	TexSrcOffset
	TexSrcBias
	TexSrcLod
	TexSrcMinLod
	TexSrcMSIndex
	TexSrcDdx
	TexSrcDdy
	TexSrcTextureDeref
	TexSrcSamplerDeref
	TexSrcTextureOffset
	TexSrcSamplerOffset
	TexSrcTextureHandle
	TexSrcSamplerHandle
	TexSrcPlane
)

var texSrcNames = [...]string{
	"coord", "projector", "comparator", "offset", "bias", "lod", "min_lod", "ms_index", "ddx", "ddy",
	"texture_deref", "sampler_deref", "texture_offset", "sampler_offset", "texture_handle", "sampler_handle", "plane",
}

func (k TexSrcKind) String() string { return texSrcNames[k] }

// TexSrc is a texture operand with its role.
type TexSrc struct {
	Src
	Kind TexSrcKind
}

// Tex is a texture sample, fetch or query.
type Tex struct {
	instrNode
	Op  TexOp
	Dim SamplerDim
	// Srcs holds each operand once per kind.
	Srcs      []*TexSrc
	IsArray   bool
	IsShadow  bool
	DestType  BaseType
	Component uint8
	// TextureIndex and SamplerIndex are the binding table bases once the
	// resources have been lowered.
	TextureIndex uint32
	SamplerIndex uint32

	TextureNonUniform bool
	SamplerNonUniform bool

	def Value
}

func (t *Tex) Kind() InstrKind { return InstrTex }
func (t *Tex) Def() *Value     { return &t.def }

func (t *Tex) srcs() iter.Seq[*Src] {
	return func(yield func(*Src) bool) {
		for _, s := range t.Srcs {
			if !yield(&s.Src) {
				return
			}
		}
	}
}

// SrcIndex returns the position of the source of the given kind, or -1.
func (t *Tex) SrcIndex(k TexSrcKind) int {
	return slices.IndexFunc(t.Srcs, func(s *TexSrc) bool { return s.Kind == k })
}

// Src returns the source of the given kind, or nil.
func (t *Tex) Src(k TexSrcKind) *TexSrc {
	if i := t.SrcIndex(k); i >= 0 {
		return t.Srcs[i]
	}
	return nil
}

// AddSrc appends an operand. A tex may hold at most one source per kind.
func (t *Tex) AddSrc(k TexSrcKind, v *Value) {
	if t.SrcIndex(k) >= 0 {
		Abortf("ir", t, "duplicate %s source", k)
	}
	s := &TexSrc{Kind: k}
	s.init(t, v)
	t.Srcs = append(t.Srcs, s)
}

// RemoveSrc drops the operand at position i.
func (t *Tex) RemoveSrc(i int) {
	t.Srcs[i].unlink()
	t.Srcs = slices.Delete(t.Srcs, i, i+1)
}

// IsQuery reports whether the instruction reads metadata rather than texels.
func (t *Tex) IsQuery() bool { return t.Op.IsQuery() }
