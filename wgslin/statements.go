package wgslin

import (
	nagair "github.com/gogpu/naga/ir"

	"github.com/gogpu/shaderopt/ir"
)

// lowerBlock lowers a statement list. It reports whether the list ended
// in a jump, after which nothing more is lowered.
func (l *lowerer) lowerBlock(block nagair.Block) (bool, error) {
	for _, st := range block {
		exited, err := l.lowerStatement(st.Kind)
		if err != nil {
			return false, err
		}
		if exited {
			return true, nil
		}
	}
	return false, nil
}

func (l *lowerer) lowerStatement(kind nagair.StatementKind) (bool, error) {
	switch s := kind.(type) {
	case nagair.StmtEmit:
		return false, l.lowerEmit(s.Range)
	case nagair.StmtBlock:
		return l.lowerBlock(s.Block)
	case nagair.StmtIf:
		return false, l.lowerIf(s)
	case nagair.StmtLoop:
		return false, l.lowerLoop(s)
	case nagair.StmtBreak:
		if len(l.loops) == 0 {
			return false, errorf(ErrInvalidModule, "break outside a loop")
		}
		l.b.Jump(ir.JumpBreak)
		return true, nil
	case nagair.StmtContinue:
		if len(l.loops) == 0 {
			return false, errorf(ErrInvalidModule, "continue outside a loop")
		}
		if lp := l.loops[len(l.loops)-1]; len(lp.Continuing) > 0 || lp.BreakIf != nil {
			return false, unsupported("continue in a loop with a continuing block")
		}
		l.b.Jump(ir.JumpContinue)
		return true, nil
	case nagair.StmtReturn:
		if s.Value != nil {
			if err := l.returnValue(*s.Value); err != nil {
				return false, err
			}
		}
		if l.depth > 0 {
			l.b.Jump(ir.JumpReturn)
		}
		return true, nil
	case nagair.StmtKill:
		l.b.Jump(ir.JumpHalt)
		return true, nil
	case nagair.StmtBarrier:
		l.b.Intrinsic(ir.OpControlBarrier, 0, 0)
		return false, nil
	case nagair.StmtStore:
		return false, l.store(s)
	case nagair.StmtImageStore:
		return false, l.imageStore(s)
	case nagair.StmtAtomic:
		return false, l.atomic(s)
	case nagair.StmtWorkGroupUniformLoad:
		l.b.Intrinsic(ir.OpControlBarrier, 0, 0)
		v, err := l.load(s.Result, s.Pointer)
		if err != nil {
			return false, err
		}
		if v != nil {
			l.values[s.Result] = v
		}
		l.b.Intrinsic(ir.OpControlBarrier, 0, 0)
		return false, nil
	case nagair.StmtSwitch:
		return false, unsupported("switch statements")
	case nagair.StmtCall:
		return false, unsupported("function calls")
	}
	return false, unsupported("statement %T", kind)
}

// lowerEmit evaluates a range of expressions at the current position.
func (l *lowerer) lowerEmit(r nagair.Range) error {
	if int(r.End) > len(l.src.Expressions) {
		return errorf(ErrInvalidModule, "emit range [%d, %d) out of bounds", r.Start, r.End)
	}
	for h := r.Start; h < r.End; h++ {
		if _, ok := l.src.Expressions[h].Kind.(nagair.ExprAtomicResult); ok {
			continue
		}
		if err := l.lowerOnce(h); err != nil {
			return err
		}
	}
	return nil
}

func (l *lowerer) lowerIf(s nagair.StmtIf) error {
	cond, err := l.expr(s.Condition)
	if err != nil {
		return err
	}
	n := l.b.PushIf(cond)
	l.depth++
	defer func() { l.depth-- }()
	if _, err := l.lowerBlock(s.Accept); err != nil {
		return err
	}
	l.b.PushElse(n)
	if _, err := l.lowerBlock(s.Reject); err != nil {
		return err
	}
	l.b.PopIf(n)
	return nil
}

// lowerLoop lowers a loop as body, then continuing, then the break-if
// test.
func (l *lowerer) lowerLoop(s nagair.StmtLoop) error {
	n := l.b.PushLoop()
	l.loops = append(l.loops, &s)
	l.depth++
	defer func() {
		l.loops = l.loops[:len(l.loops)-1]
		l.depth--
	}()

	exited, err := l.lowerBlock(s.Body)
	if err != nil {
		return err
	}
	if !exited {
		exited, err = l.lowerBlock(s.Continuing)
		if err != nil {
			return err
		}
	}
	if !exited && s.BreakIf != nil {
		cond, err := l.expr(*s.BreakIf)
		if err != nil {
			return err
		}
		brk := l.b.PushIf(cond)
		l.b.Jump(ir.JumpBreak)
		l.b.PopIf(brk)
	}
	l.b.PopLoop(n)
	return nil
}

func (l *lowerer) store(s nagair.StmtStore) error {
	p, err := l.expr(s.Pointer)
	if err != nil {
		return err
	}
	d := ir.AsDeref(p)
	if d == nil {
		return errorf(ErrInvalidModule, "store through a non-pointer [%d]", s.Pointer)
	}
	return l.storeTo(d, s.Value)
}

// storeTo writes the value of h through d. Composites are stored member
// by member.
func (l *lowerer) storeTo(d *ir.Deref, h nagair.ExpressionHandle) error {
	if d.Type.IsVectorOrScalar() {
		v, err := l.expr(h)
		if err != nil {
			return err
		}
		l.b.StoreDeref(d, v)
		return nil
	}

	members, err := l.aggregate(h)
	if err != nil {
		return err
	}
	for i, v := range members {
		var md *ir.Deref
		if d.Type.Kind() == ir.TypeStruct {
			if !d.Type.Field(i).Type.IsVectorOrScalar() {
				return unsupported("storing struct member %s", d.Type.Field(i).Name)
			}
			md = l.b.DerefStruct(d, i)
		} else {
			md = l.b.DerefArrayImm(d, uint32(i))
		}
		l.b.StoreDeref(md, v)
	}
	return nil
}

func (l *lowerer) atomic(s nagair.StmtAtomic) error {
	p, err := l.expr(s.Pointer)
	if err != nil {
		return err
	}
	if ir.AsDeref(p) == nil {
		return errorf(ErrInvalidModule, "atomic through a non-pointer [%d]", s.Pointer)
	}
	v, err := l.expr(s.Value)
	if err != nil {
		return err
	}
	signed := l.scalarKind(s.Pointer) == nagair.ScalarSint

	var op ir.AtomicOp
	switch f := s.Fun.(type) {
	case nagair.AtomicAdd:
		op = ir.AtomicAdd
	case nagair.AtomicSubtract:
		op = ir.AtomicAdd
		v = l.b.ALU(ir.OpINeg, v)
	case nagair.AtomicAnd:
		op = ir.AtomicAnd
	case nagair.AtomicInclusiveOr:
		op = ir.AtomicOr
	case nagair.AtomicExclusiveOr:
		op = ir.AtomicXor
	case nagair.AtomicMin:
		op = ir.AtomicUMin
		if signed {
			op = ir.AtomicIMin
		}
	case nagair.AtomicMax:
		op = ir.AtomicUMax
		if signed {
			op = ir.AtomicIMax
		}
	case nagair.AtomicExchange:
		if f.Compare != nil {
			return l.compareExchange(s, p, *f.Compare, v)
		}
		op = ir.AtomicExchange
	default:
		return unsupported("atomic function %T", s.Fun)
	}

	in := l.b.Intrinsic(ir.OpDerefAtomic, 1, v.BitSize, p, v)
	in.SetAttr(ir.IndexAtomicOp, uint32(op))
	if s.Result != nil {
		l.values[*s.Result] = in.Def()
	}
	return nil
}

// compareExchange lowers atomicCompareExchangeWeak. Its result is the
// pair (old value, exchanged).
func (l *lowerer) compareExchange(s nagair.StmtAtomic, p *ir.Value, compare nagair.ExpressionHandle, v *ir.Value) error {
	cmp, err := l.expr(compare)
	if err != nil {
		return err
	}
	in := l.b.Intrinsic(ir.OpDerefAtomicSwap, 1, v.BitSize, p, cmp, v)
	in.SetAttr(ir.IndexAtomicOp, uint32(ir.AtomicCmpXchg))
	if s.Result == nil {
		return nil
	}
	old := in.Def()
	if _, ok := l.exprType(*s.Result).(nagair.StructType); ok {
		l.aggregates[*s.Result] = []*ir.Value{old, l.b.IEq(old, cmp)}
	} else {
		l.values[*s.Result] = old
	}
	return nil
}
