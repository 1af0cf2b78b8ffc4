// Package access infers read-only and reorderable qualifiers on buffer and
// image resources.
//
// Infer first takes a census of every write in the shader, counting writes
// to storage buffers and to storage images separately and recording each
// variable that is written. It then grants non-writable to variables that
// are provably never written. Finally it upgrades the access attribute of
// every load from such memory: non-writable always, and can-reorder unless
// the load is volatile.
//
// The census is conservative. A write whose target cannot be traced to a
// variable marks every storage buffer as written, and writes in dead code
// count.
package access

import (
	"github.com/gogpu/shaderopt/internal/logging"
	"github.com/gogpu/shaderopt/ir"
)

type state struct {
	shader         *ir.Shader
	writtenVars    map[*ir.Variable]bool
	buffersWritten bool
	imagesWritten  bool
}

// Infer adds non-writable and can-reorder qualifiers wherever they are
// provably safe and reports whether anything changed. It never removes a
// qualifier and preserves all metadata.
func Infer(s *ir.Shader) bool {
	st := &state{shader: s, writtenVars: make(map[*ir.Variable]bool)}
	for fn := range s.Funcs() {
		for b := range fn.Blocks() {
			for i := range b.Instrs() {
				if in, ok := i.(*ir.Intrinsic); ok {
					st.gather(in)
				}
			}
		}
	}

	progress := false
	for v := range s.Vars(ir.ModeSSBO | ir.ModeUniform | ir.ModeImage) {
		if st.inferVar(v) {
			progress = true
		}
	}
	for fn := range s.Funcs() {
		changed := false
		for b := range fn.Blocks() {
			for i := range b.Instrs() {
				if in, ok := i.(*ir.Intrinsic); ok && st.upgrade(in) {
					changed = true
				}
			}
		}
		if changed {
			progress = true
			fn.Preserve(ir.MetaAll)
		}
	}
	logging.Pass("access").Debug("access inference done", "shader", s.Name, "progress", progress,
		"buffers_written", st.buffersWritten, "images_written", st.imagesWritten)
	return progress
}

// derefVar returns the variable behind src, looking through descriptor
// chains when the chain does not start at a variable.
func (st *state) derefVar(src *ir.Src) *ir.Variable {
	ref, ok := ir.ChaseBinding(src.Value())
	if !ok {
		return nil
	}
	return st.shader.BindingVariable(ref)
}

func (st *state) markWritten(v *ir.Variable) {
	if v == nil {
		// Unknown target: assume every buffer variable is hit.
		for sv := range st.shader.Vars(ir.ModeSSBO) {
			st.writtenVars[sv] = true
		}
		return
	}
	st.writtenVars[v] = true
}

func (st *state) gather(in *ir.Intrinsic) {
	switch in.Op {
	case ir.OpImageDerefStore, ir.OpImageDerefAtomic, ir.OpImageDerefAtomicSwap:
		v := st.derefVar(&in.Srcs[0])
		if ir.SamplerDim(in.Attr(ir.IndexImageDim)) == ir.DimBuffer {
			st.buffersWritten = true
		} else {
			st.imagesWritten = true
		}
		if v != nil {
			st.writtenVars[v] = true
		}

	case ir.OpBindlessImageStore, ir.OpBindlessImageAtomic, ir.OpBindlessImageAtomicSwap:
		if ir.SamplerDim(in.Attr(ir.IndexImageDim)) == ir.DimBuffer {
			st.buffersWritten = true
		} else {
			st.imagesWritten = true
		}

	case ir.OpStoreDeref, ir.OpDerefAtomic, ir.OpDerefAtomicSwap:
		d := ir.AsDeref(in.Srcs[0].Value())
		if d == nil || !d.Mode.MayBe(ir.ModeSSBO|ir.ModeGlobal) {
			return
		}
		st.buffersWritten = true
		st.markWritten(st.derefVar(&in.Srcs[0]))

	case ir.OpStoreSSBO, ir.OpSSBOAtomic, ir.OpSSBOAtomicSwap,
		ir.OpStoreGlobal, ir.OpGlobalAtomic, ir.OpGlobalAtomicSwap:
		st.buffersWritten = true
		st.markWritten(nil)
	}
}

func isImageVar(v *ir.Variable) bool {
	return v.Type.WithoutArray().IsImage()
}

func isBufferImage(v *ir.Variable) bool {
	return isImageVar(v) && v.Type.WithoutArray().Image().Dim == ir.DimBuffer
}

// classWritten reports whether any write reached the class of memory v
// lives in.
func (st *state) classWritten(v *ir.Variable) bool {
	if isImageVar(v) && !isBufferImage(v) {
		return st.imagesWritten
	}
	return st.buffersWritten
}

func (st *state) inferVar(v *ir.Variable) bool {
	mode := v.Data.Mode
	switch {
	case mode == ir.ModeSSBO:
	case mode.MayBe(ir.ModeUniform|ir.ModeImage) && isImageVar(v):
	default:
		return false
	}
	a := v.Data.Access
	if a&ir.AccessCanReorder != 0 || a&ir.AccessNonWritable != 0 {
		return false
	}
	if (a&ir.AccessRestrict != 0 && !st.writtenVars[v]) || !st.classWritten(v) {
		v.Data.Access |= ir.AccessNonWritable
		if a&ir.AccessVolatile == 0 {
			v.Data.Access |= ir.AccessCanReorder
		}
		return true
	}
	return false
}

func (st *state) upgrade(in *ir.Intrinsic) bool {
	var readOnly bool
	switch in.Op {
	case ir.OpBindlessImageLoad:
		if ir.SamplerDim(in.Attr(ir.IndexImageDim)) == ir.DimBuffer {
			readOnly = !st.buffersWritten
		} else {
			readOnly = !st.imagesWritten
		}

	case ir.OpLoadDeref:
		d := ir.AsDeref(in.Srcs[0].Value())
		if d == nil || !d.Mode.MayBe(ir.ModeSSBO|ir.ModeGlobal) {
			return false
		}
		readOnly = st.varReadOnly(&in.Srcs[0], d.Mode)

	case ir.OpImageDerefLoad:
		readOnly = st.varReadOnly(&in.Srcs[0], ir.ModeImage)

	default:
		return false
	}

	access := in.Access()
	readOnly = readOnly || access&ir.AccessNonWritable != 0
	if !readOnly {
		return false
	}
	upgraded := access | ir.AccessNonWritable
	if access&ir.AccessVolatile == 0 {
		upgraded |= ir.AccessCanReorder
	}
	if upgraded == access {
		return false
	}
	in.SetAccess(upgraded)
	return true
}

// varReadOnly reports whether the memory behind src is known not to be
// written, either through its variable's qualifiers or because nothing in
// its class is written.
func (st *state) varReadOnly(src *ir.Src, mode ir.VarMode) bool {
	if v := st.derefVar(src); v != nil {
		if v.Data.Access&ir.AccessNonWritable != 0 {
			return true
		}
		return !st.classWritten(v)
	}
	if mode.MayBe(ir.ModeGlobal) {
		return !st.buffersWritten && !st.imagesWritten
	}
	if mode.MayBe(ir.ModeImage) {
		return !st.imagesWritten
	}
	return !st.buffersWritten
}
