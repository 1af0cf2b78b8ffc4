package ir

import (
	"fmt"
	"math/bits"
	"slices"
)

// ValidationError represents a validation error.
type ValidationError struct {
	Message string
	// Optional context
	Function string
	Block    string
	Instr    string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Function != "" {
		if e.Instr != "" {
			return fmt.Sprintf("in function %s, block %s, instruction %q: %s", e.Function, e.Block, e.Instr, e.Message)
		}
		if e.Block != "" {
			return fmt.Sprintf("in function %s, block %s: %s", e.Function, e.Block, e.Message)
		}
		return fmt.Sprintf("in function %s: %s", e.Function, e.Message)
	}
	return e.Message
}

// Validator checks the structural invariants of a shader.
type Validator struct {
	shader *Shader
	errors []ValidationError
	fn     *Function
}

// Validate checks the shader for correctness.
// Returns validation errors if any, or nil if the shader is valid.
func Validate(shader *Shader) ([]ValidationError, error) {
	if shader == nil {
		return nil, fmt.Errorf("shader is nil")
	}
	v := &Validator{shader: shader}
	for _, fn := range shader.Functions {
		v.validateFunction(fn)
	}
	if len(v.errors) > 0 {
		return v.errors, nil
	}
	return nil, nil
}

func (v *Validator) addError(msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg, Function: v.fn.Name})
}

func (v *Validator) addErrorInBlock(b *Block, msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg, Function: v.fn.Name, Block: b.String()})
}

func (v *Validator) addErrorInInstr(i Instr, msg string) {
	e := ValidationError{Message: msg, Function: v.fn.Name, Instr: FormatInstr(i)}
	if b := i.Block(); b != nil {
		e.Block = b.String()
	}
	v.errors = append(v.errors, e)
}

func (v *Validator) validateFunction(fn *Function) {
	v.fn = fn
	before := len(v.errors)
	v.validateList(fn.Body, fn)
	if len(v.errors) > before {
		// Block indices and dominance need a well-formed tree.
		return
	}
	fn.Require(MetaDominance)
	for b := range fn.Blocks() {
		v.validateBlock(b)
	}
	v.validateIfConditions(fn.Body)
}

func (v *Validator) validateList(l *CFList, parent CFNode) {
	if l == nil || len(l.nodes) == 0 {
		v.addError("empty control-flow list")
		return
	}
	if l.parent != parent {
		v.addError("control-flow list has the wrong parent")
	}
	if _, ok := l.nodes[0].(*Block); !ok {
		v.addError("control-flow list does not start with a block")
	}
	if _, ok := l.nodes[len(l.nodes)-1].(*Block); !ok {
		v.addError("control-flow list does not end with a block")
	}
	for i, n := range l.nodes {
		if n.cf().list != l {
			v.addError(fmt.Sprintf("node %d is not linked to its list", i))
		}
		if i > 0 {
			_, prevBlock := l.nodes[i-1].(*Block)
			_, isBlock := n.(*Block)
			if prevBlock == isBlock {
				v.addError(fmt.Sprintf("nodes %d and %d must alternate between blocks and control flow", i-1, i))
			}
		}
		switch n := n.(type) {
		case *Block:
			if n.fn != v.fn {
				v.addErrorInBlock(n, "block belongs to another function")
			}
			if j := n.Jump(); j != nil && i != len(l.nodes)-1 {
				v.addErrorInBlock(n, "jump in a block followed by control flow")
			}
		case *If:
			if n.Cond.Value() == nil {
				v.addError("if without a condition")
			} else if n.Cond.Value().NumComponents != 1 {
				v.addError("if condition is not a scalar")
			}
			v.validateList(n.Then, n)
			v.validateList(n.Else, n)
		case *Loop:
			v.validateList(n.Body, n)
		}
	}
}

func (v *Validator) validateBlock(b *Block) {
	var prev Instr
	seenNonPhi := false
	for i := range b.Instrs() {
		n := i.node()
		if n.block != b {
			v.addErrorInInstr(i, "instruction linked into a different block")
		}
		if n.prev != prev {
			v.addErrorInInstr(i, "broken instruction list")
		}
		prev = i
		switch i.(type) {
		case *Phi:
			if seenNonPhi {
				v.addErrorInInstr(i, "phi after a non-phi instruction")
			}
		case *Jump:
			if n.next != nil {
				v.addErrorInInstr(i, "jump is not the last instruction of its block")
			}
			seenNonPhi = true
		default:
			seenNonPhi = true
		}
		v.validateUses(i)
		v.validateInstr(i)
	}
	if b.last != prev {
		v.addErrorInBlock(b, "block tail does not match its instruction list")
	}
}

// validateUses checks use-list symmetry and dominance of every source.
func (v *Validator) validateUses(i Instr) {
	if d := i.Def(); d != nil {
		if d.parent != i {
			v.addErrorInInstr(i, "definition does not point back at its instruction")
		}
		for s := range d.Uses() {
			if s.ssa != d {
				v.addErrorInInstr(i, "use-list entry reads a different value")
			}
			if s.parent != nil && s.parent.Block() == nil {
				v.addErrorInInstr(i, "value is used by a removed instruction")
			}
		}
	}
	phi, isPhi := i.(*Phi)
	k := 0
	for s := range i.srcs() {
		val := s.Value()
		if val == nil {
			if s.Register() == nil && !v.optionalSrc(i, k) {
				v.addErrorInInstr(i, fmt.Sprintf("source %d is unset", k))
			}
			k++
			continue
		}
		if s.parent != i {
			v.addErrorInInstr(i, fmt.Sprintf("source %d does not point back at its instruction", k))
		}
		if !slices.Contains(val.uses, s) {
			v.addErrorInInstr(i, fmt.Sprintf("source %d missing from the use-list of %s", k, val))
		}
		def := val.Parent()
		switch {
		case def == nil || def.Block() == nil:
			v.addErrorInInstr(i, fmt.Sprintf("source %d reads %s, which has no live definition", k, val))
		case isPhi:
			if pred := phi.Srcs[k].Pred; !def.Block().Dominates(pred) {
				v.addErrorInInstr(i, fmt.Sprintf("%s does not dominate predecessor %s", val, pred))
			}
		case def.Block() == i.Block():
			if !instrFollows(i, def) {
				v.addErrorInInstr(i, fmt.Sprintf("%s is used before its definition", val))
			}
		case !def.Block().Dominates(i.Block()):
			v.addErrorInInstr(i, fmt.Sprintf("definition of %s does not dominate its use", val))
		}
		k++
	}
}

// optionalSrc reports whether source k of i may be left empty.
func (v *Validator) optionalSrc(i Instr, k int) bool {
	in, ok := i.(*Intrinsic)
	if !ok {
		return false
	}
	switch in.Op {
	// Sample index and lod.
	case OpImageDerefLoad, OpBindlessImageLoad, OpImageLoad:
		return k == 2 || k == 3
	case OpImageDerefStore, OpBindlessImageStore, OpImageStore:
		return k == 2 || k == 4
	case OpImageDerefAtomic, OpImageDerefAtomicSwap, OpBindlessImageAtomic, OpBindlessImageAtomicSwap,
		OpImageAtomic, OpImageAtomicSwap:
		return k == 2
	case OpImageDerefSize, OpBindlessImageSize, OpImageSize:
		return k == 1
	}
	return false
}

func (v *Validator) validateInstr(i Instr) {
	switch i := i.(type) {
	case *Deref:
		v.validateDeref(i)
	case *Intrinsic:
		v.validateIntrinsic(i)
	case *Tex:
		v.validateTex(i)
	case *Phi:
		if len(i.Srcs) != len(i.Block().preds) {
			v.addErrorInInstr(i, fmt.Sprintf("phi has %d sources but its block has %d predecessors",
				len(i.Srcs), len(i.Block().preds)))
		}
		for _, s := range i.Srcs {
			if !slices.Contains(i.Block().preds, s.Pred) {
				v.addErrorInInstr(i, fmt.Sprintf("phi source from %s, which is not a predecessor", s.Pred))
			}
		}
	case *ALU:
		if len(i.Srcs) != i.Op.Info().NumInputs {
			v.addErrorInInstr(i, "wrong number of ALU sources")
		}
		for k := range i.Srcs {
			val := i.Srcs[k].Value()
			if val == nil {
				continue
			}
			for c := range i.InputComponents(k) {
				if i.Srcs[k].Swizzle[c] >= val.NumComponents {
					v.addErrorInInstr(i, fmt.Sprintf("swizzle of source %d reads past its value", k))
					break
				}
			}
		}
	}
}

func (v *Validator) validateDeref(d *Deref) {
	if d.DerefKind == DerefVar {
		if d.Var == nil {
			v.addErrorInInstr(d, "variable deref without a variable")
		} else if d.Mode != d.Var.Data.Mode {
			v.addErrorInInstr(d, "variable deref mode differs from its variable")
		}
		return
	}
	if d.Parent.Value() == nil {
		v.addErrorInInstr(d, "deref without a parent")
		return
	}
	if d.DerefKind == DerefCast {
		if d.AlignMul != 0 && bits.OnesCount32(d.AlignMul) != 1 {
			v.addErrorInInstr(d, "cast alignment is not a power of two")
		}
		if d.AlignMul != 0 && d.AlignOffset >= d.AlignMul {
			v.addErrorInInstr(d, "cast alignment offset exceeds its multiplier")
		}
		return
	}
	parent := d.ParentDeref()
	if parent == nil {
		v.addErrorInInstr(d, "deref chain does not start at a variable or a cast")
		return
	}
	if parent.Mode != d.Mode {
		v.addErrorInInstr(d, "deref mode differs from its parent")
	}
	if d.DerefKind == DerefStruct && (parent.Type.Kind() != TypeStruct || d.Field >= parent.Type.NumFields()) {
		v.addErrorInInstr(d, "struct deref of a non-struct or missing field")
	}
}

func (v *Validator) validateIntrinsic(in *Intrinsic) {
	info := in.Info()
	if len(in.Srcs) != info.NumSrcs {
		v.addErrorInInstr(in, fmt.Sprintf("expected %d sources, got %d", info.NumSrcs, len(in.Srcs)))
		return
	}
	for k := range in.Srcs {
		val := in.Srcs[k].Value()
		want := info.SrcComponents[k]
		if val == nil || want < 0 {
			continue
		}
		if want == 0 {
			want = int8(in.NumComponents)
		}
		if int8(val.NumComponents) != want && !(in.Op.IsImageDeref() || in.Op.IsBindlessImage() || in.Op >= OpImageLoad && in.Op <= OpImageSamples) {
			v.addErrorInInstr(in, fmt.Sprintf("source %d has %d components, want %d", k, val.NumComponents, want))
		}
	}
	if in.Op == OpLoadVulkanDescriptor {
		for s := range in.def.Uses() {
			switch p := s.Parent().(type) {
			case *Deref:
				if p.DerefKind == DerefCast {
					continue
				}
			case *Intrinsic:
				if p.Op == OpGetSSBOSize {
					continue
				}
			}
			v.addErrorInInstr(in, "descriptor load feeds something other than a cast")
		}
	}
}

func (v *Validator) validateTex(t *Tex) {
	if t.SrcIndex(TexSrcTextureDeref) >= 0 && t.SrcIndex(TexSrcTextureHandle) >= 0 {
		v.addErrorInInstr(t, "texture has both a deref and a handle")
	}
	if t.SrcIndex(TexSrcSamplerDeref) >= 0 && t.SrcIndex(TexSrcSamplerHandle) >= 0 {
		v.addErrorInInstr(t, "sampler has both a deref and a handle")
	}
	for _, s := range t.Srcs {
		if s.parent != t {
			v.addErrorInInstr(t, fmt.Sprintf("%s source does not point back at its instruction", s.Kind))
		}
	}
}

func (v *Validator) validateIfConditions(l *CFList) {
	for i, n := range l.nodes {
		switch n := n.(type) {
		case *If:
			cond := n.Cond.Value()
			if cond != nil {
				if !slices.Contains(cond.uses, &n.Cond) {
					v.addError("if condition missing from its use-list")
				}
				pred := l.nodes[i-1].(*Block)
				if def := cond.Parent(); def == nil || def.Block() == nil || !def.Block().Dominates(pred) {
					v.addError(fmt.Sprintf("if condition %s does not dominate the branch", cond))
				}
			}
			v.validateIfConditions(n.Then)
			v.validateIfConditions(n.Else)
		case *Loop:
			v.validateIfConditions(n.Body)
		}
	}
}
