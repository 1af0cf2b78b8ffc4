// Package opt holds generic clean-up passes run between the lowering
// stages.
package opt

import (
	"github.com/gogpu/shaderopt/internal/logging"
	"github.com/gogpu/shaderopt/ir"
)

// DCE deletes instructions whose results are never used and that have no
// side effects. It reports whether anything was removed.
func DCE(s *ir.Shader) bool {
	progress := false
	for fn := range s.Funcs() {
		if dceFunction(fn) {
			progress = true
		}
	}
	return progress
}

// isRoot reports whether i must be kept regardless of its uses.
func isRoot(i ir.Instr) bool {
	switch i := i.(type) {
	case *ir.Jump:
		return true
	case *ir.Intrinsic:
		return i.Info().Flags&ir.FlagCanEliminate == 0
	case *ir.ALU:
		return i.DestRegister() != nil
	}
	return false
}

func dceFunction(fn *ir.Function) bool {
	live := make(map[ir.Instr]bool)
	var worklist []ir.Instr

	mark := func(v *ir.Value) {
		if v == nil {
			return
		}
		p := v.Parent()
		if p == nil || live[p] {
			return
		}
		live[p] = true
		worklist = append(worklist, p)
	}

	// Mark: side effects and branch conditions seed the worklist.
	for b := range fn.Blocks() {
		for i := range b.Instrs() {
			if isRoot(i) {
				live[i] = true
				worklist = append(worklist, i)
			}
		}
	}
	markConditions(fn.Body, mark)

	for len(worklist) > 0 {
		i := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for s := range ir.Srcs(i) {
			mark(s.Value())
		}
	}

	// Sweep.
	var dead []ir.Instr
	for b := range fn.Blocks() {
		for i := range b.Instrs() {
			if !live[i] {
				dead = append(dead, i)
			}
		}
	}
	for _, i := range dead {
		ir.RemoveInstr(i)
	}
	if len(dead) == 0 {
		return false
	}
	logging.Pass("dce").Debug("removed dead instructions", "function", fn.Name, "count", len(dead))
	fn.Preserve(ir.MetaBlockIndex | ir.MetaDominance | ir.MetaLoopAnalysis)
	return true
}

func markConditions(l *ir.CFList, mark func(*ir.Value)) {
	for n := range l.Nodes() {
		switch n := n.(type) {
		case *ir.If:
			mark(n.Cond.Value())
			markConditions(n.Then, mark)
			markConditions(n.Else, mark)
		case *ir.Loop:
			markConditions(n.Body, mark)
		}
	}
}
