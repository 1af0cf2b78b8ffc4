package wgslin

import (
	"math"

	nagair "github.com/gogpu/naga/ir"

	"github.com/gogpu/shaderopt/ir"
)

// lowerOnce lowers h unless it already has a value or an aggregate.
func (l *lowerer) lowerOnce(h nagair.ExpressionHandle) error {
	if _, ok := l.values[h]; ok {
		return nil
	}
	if _, ok := l.aggregates[h]; ok {
		return nil
	}
	if int(h) >= len(l.src.Expressions) {
		return errorf(ErrInvalidModule, "expression handle %d out of range", h)
	}
	v, err := l.lowerExpr(h, l.src.Expressions[h].Kind)
	if err != nil {
		return err
	}
	if v != nil {
		l.values[h] = v
	}
	return nil
}

// expr returns the SSA value of h.
func (l *lowerer) expr(h nagair.ExpressionHandle) (*ir.Value, error) {
	if err := l.lowerOnce(h); err != nil {
		return nil, err
	}
	if v, ok := l.values[h]; ok {
		return v, nil
	}
	if _, ok := l.aggregates[h]; ok {
		return nil, unsupported("composite value [%d] used as a vector", h)
	}
	return nil, errorf(ErrInvalidModule, "expression [%d] has no value", h)
}

// aggregate returns the members of a struct or the columns of a matrix.
func (l *lowerer) aggregate(h nagair.ExpressionHandle) ([]*ir.Value, error) {
	if err := l.lowerOnce(h); err != nil {
		return nil, err
	}
	if a, ok := l.aggregates[h]; ok {
		return a, nil
	}
	return nil, unsupported("expression [%d] is not a composite", h)
}

// exprType returns the type of h with pointers looked through.
func (l *lowerer) exprType(h nagair.ExpressionHandle) nagair.TypeInner {
	if int(h) >= len(l.src.ExpressionTypes) {
		return nil
	}
	return l.types.resolve(l.src.ExpressionTypes[h])
}

func (l *lowerer) scalarKind(h nagair.ExpressionHandle) nagair.ScalarKind {
	s, _ := scalarOf(l.exprType(h))
	return s.Kind
}

func isMatrix(t nagair.TypeInner) bool {
	_, ok := t.(nagair.MatrixType)
	return ok
}

func (l *lowerer) lowerExpr(h nagair.ExpressionHandle, kind nagair.ExpressionKind) (*ir.Value, error) {
	switch e := kind.(type) {
	case nagair.Literal:
		return l.literal(h, e.Value)
	case nagair.ExprConstant:
		return l.constant(e.Constant)
	case nagair.ExprZeroValue:
		return l.zeroValue(h, e.Type)
	case nagair.ExprFunctionArgument:
		return l.argument(h, e.Index)
	case nagair.ExprGlobalVariable:
		return l.global(e.Variable)
	case nagair.ExprLocalVariable:
		if int(e.Variable) >= len(l.locals) {
			return nil, errorf(ErrInvalidModule, "local variable %d out of range", e.Variable)
		}
		return l.top.DerefVar(l.locals[e.Variable]).Def(), nil
	case nagair.ExprCompose:
		return l.compose(h, e)
	case nagair.ExprAccess:
		return l.access(h, e.Base, &e.Index, 0)
	case nagair.ExprAccessIndex:
		return l.access(h, e.Base, nil, e.Index)
	case nagair.ExprSplat:
		v, err := l.expr(e.Value)
		if err != nil {
			return nil, err
		}
		comps := make([]*ir.Value, e.Size)
		for i := range comps {
			comps[i] = v
		}
		return l.b.Vec(comps...), nil
	case nagair.ExprSwizzle:
		v, err := l.expr(e.Vector)
		if err != nil {
			return nil, err
		}
		comps := make([]*ir.Value, e.Size)
		for i := range comps {
			comps[i] = l.b.Channel(v, int(e.Pattern[i]))
		}
		return l.b.Vec(comps...), nil
	case nagair.ExprLoad:
		return l.load(h, e.Pointer)
	case nagair.ExprImageSample:
		return l.imageSample(h, e)
	case nagair.ExprImageLoad:
		return l.imageLoad(h, e)
	case nagair.ExprImageQuery:
		return l.imageQuery(e)
	case nagair.ExprUnary:
		return l.unary(e)
	case nagair.ExprBinary:
		return l.binary(h, e)
	case nagair.ExprSelect:
		cond, err := l.expr(e.Condition)
		if err != nil {
			return nil, err
		}
		a, err := l.expr(e.Accept)
		if err != nil {
			return nil, err
		}
		r, err := l.expr(e.Reject)
		if err != nil {
			return nil, err
		}
		return l.b.Bcsel(cond, a, r), nil
	case nagair.ExprRelational:
		return l.relational(e)
	case nagair.ExprMath:
		return l.math(e)
	case nagair.ExprAs:
		return l.as(e)
	case nagair.ExprArrayLength:
		return l.arrayLength(e.Array)
	case nagair.ExprAtomicResult:
		return nil, errorf(ErrInvalidModule, "atomic result [%d] used before its statement", h)
	case nagair.ExprDerivative:
		return nil, unsupported("derivatives")
	case nagair.ExprCallResult:
		return nil, unsupported("function calls")
	}
	return nil, unsupported("expression %T", kind)
}

func (l *lowerer) literal(h nagair.ExpressionHandle, lit nagair.LiteralValue) (*ir.Value, error) {
	b := l.top
	switch v := lit.(type) {
	case nagair.LiteralF32:
		return b.ImmFloat32(float32(v)), nil
	case nagair.LiteralF64:
		return b.Imm(64, math.Float64bits(float64(v))), nil
	case nagair.LiteralU32:
		return b.Imm32(uint32(v)), nil
	case nagair.LiteralI32:
		return b.Imm32(uint32(v)), nil
	case nagair.LiteralU64:
		return b.Imm(64, uint64(v)), nil
	case nagair.LiteralI64:
		return b.Imm(64, uint64(v)), nil
	case nagair.LiteralBool:
		return b.ImmBool(bool(v)), nil
	case nagair.LiteralAbstractInt:
		return l.abstractLiteral(h, float64(v), int64(v)), nil
	case nagair.LiteralAbstractFloat:
		return l.abstractLiteral(h, float64(v), int64(v)), nil
	}
	return nil, unsupported("literal %T", lit)
}

// abstractLiteral materializes an abstract literal in the concrete type
// it was resolved to, defaulting to i32 or f32.
func (l *lowerer) abstractLiteral(h nagair.ExpressionHandle, f float64, i int64) *ir.Value {
	s, ok := scalarOf(l.exprType(h))
	if !ok {
		s = nagair.ScalarType{Kind: nagair.ScalarSint, Width: 4}
		if float64(i) != f {
			s.Kind = nagair.ScalarFloat
		}
	}
	switch s.Kind {
	case nagair.ScalarFloat:
		if s.Width == 8 {
			return l.top.Imm(64, math.Float64bits(f))
		}
		return l.top.ImmFloat32(float32(f))
	case nagair.ScalarBool:
		return l.top.ImmBool(i != 0)
	}
	return l.top.Imm(scalarBits(s), uint64(i))
}

// constant materializes a module constant at function entry.
func (l *lowerer) constant(c nagair.ConstantHandle) (*ir.Value, error) {
	if int(c) >= len(l.module.Constants) {
		return nil, errorf(ErrInvalidModule, "constant handle %d out of range", c)
	}
	k := &l.module.Constants[c]
	switch v := k.Value.(type) {
	case nagair.ScalarValue:
		t, err := l.types.convert(k.Type)
		if err != nil {
			return nil, err
		}
		return l.top.Imm(t.BitSize(), v.Bits), nil
	case nagair.CompositeValue:
		if _, ok := l.types.inner(k.Type).(nagair.VectorType); !ok {
			return nil, unsupported("composite constant %s", k.Name)
		}
		comps := make([]*ir.Value, len(v.Components))
		for i, ch := range v.Components {
			cv, err := l.constant(ch)
			if err != nil {
				return nil, err
			}
			comps[i] = cv
		}
		return l.top.Vec(comps...), nil
	}
	return nil, unsupported("constant %s", k.Name)
}

// splatImm emits a constant with every lane set to lane.
func splatImm(b *ir.Builder, bits, comps uint8, lane uint64) *ir.Value {
	lanes := make([]uint64, comps)
	for i := range lanes {
		lanes[i] = lane
	}
	return b.Imm(bits, lanes...)
}

func (l *lowerer) zeroValue(h nagair.ExpressionHandle, th nagair.TypeHandle) (*ir.Value, error) {
	switch t := l.types.inner(th).(type) {
	case nagair.ScalarType:
		return l.top.Imm(scalarBits(t), 0), nil
	case nagair.VectorType:
		return splatImm(l.top, scalarBits(t.Scalar), uint8(t.Size), 0), nil
	case nagair.MatrixType:
		cols := make([]*ir.Value, t.Columns)
		for i := range cols {
			cols[i] = splatImm(l.top, scalarBits(t.Scalar), uint8(t.Rows), 0)
		}
		l.aggregates[h] = cols
		return nil, nil
	case nagair.ArrayType:
		et, err := l.types.convert(t.Base)
		if err != nil {
			return nil, err
		}
		if t.Size.Constant == nil || !et.IsVectorOrScalar() {
			return nil, unsupported("zero value of array type %d", th)
		}
		elems := make([]*ir.Value, *t.Size.Constant)
		for i := range elems {
			elems[i] = splatImm(l.top, et.BitSize(), et.Components(), 0)
		}
		l.aggregates[h] = elems
		return nil, nil
	case nagair.StructType:
		members := make([]*ir.Value, len(t.Members))
		for i, m := range t.Members {
			ft, err := l.types.convert(m.Type)
			if err != nil {
				return nil, err
			}
			if !ft.IsVectorOrScalar() {
				return nil, unsupported("zero value of struct member %s", m.Name)
			}
			members[i] = splatImm(l.top, ft.BitSize(), ft.Components(), 0)
		}
		l.aggregates[h] = members
		return nil, nil
	}
	return nil, unsupported("zero value of type %d", th)
}

func (l *lowerer) compose(h nagair.ExpressionHandle, e nagair.ExprCompose) (*ir.Value, error) {
	switch l.types.inner(e.Type).(type) {
	case nagair.VectorType:
		var chans []*ir.Value
		for _, c := range e.Components {
			v, err := l.expr(c)
			if err != nil {
				return nil, err
			}
			for i := range int(v.NumComponents) {
				chans = append(chans, l.b.Channel(v, i))
			}
		}
		if len(chans) > 4 {
			return nil, errorf(ErrInvalidModule, "vector of %d components", len(chans))
		}
		return l.b.Vec(chans...), nil
	case nagair.StructType, nagair.MatrixType, nagair.ArrayType:
		members := make([]*ir.Value, len(e.Components))
		for i, c := range e.Components {
			v, err := l.expr(c)
			if err != nil {
				return nil, err
			}
			members[i] = v
		}
		l.aggregates[h] = members
		return nil, nil
	}
	return nil, unsupported("composing type %d", e.Type)
}

// access lowers Access (index != nil) and AccessIndex.
func (l *lowerer) access(h, base nagair.ExpressionHandle, index *nagair.ExpressionHandle, constIndex uint32) (*ir.Value, error) {
	if err := l.lowerOnce(base); err != nil {
		return nil, err
	}
	if members, ok := l.aggregates[base]; ok {
		if index != nil {
			if !isMatrix(l.exprType(base)) {
				return nil, errorf(ErrInvalidModule, "dynamic index into a struct")
			}
			idx, err := l.expr(*index)
			if err != nil {
				return nil, err
			}
			return l.selectLane(members, idx), nil
		}
		if int(constIndex) >= len(members) {
			return nil, errorf(ErrInvalidModule, "member %d out of range", constIndex)
		}
		return members[constIndex], nil
	}

	v := l.values[base]
	if d := ir.AsDeref(v); d != nil {
		if d.Type.Kind() == ir.TypeStruct {
			if index != nil || int(constIndex) >= d.Type.NumFields() {
				return nil, errorf(ErrInvalidModule, "bad struct access on [%d]", base)
			}
			return l.b.DerefStruct(d, int(constIndex)).Def(), nil
		}
		if index == nil {
			return l.b.DerefArrayImm(d, constIndex).Def(), nil
		}
		idx, err := l.expr(*index)
		if err != nil {
			return nil, err
		}
		return l.b.DerefArray(d, idx).Def(), nil
	}

	if index == nil {
		if int(constIndex) >= int(v.NumComponents) {
			return nil, errorf(ErrInvalidModule, "component %d out of range", constIndex)
		}
		return l.b.Channel(v, int(constIndex)), nil
	}
	idx, err := l.expr(*index)
	if err != nil {
		return nil, err
	}
	lanes := make([]*ir.Value, v.NumComponents)
	for i := range lanes {
		lanes[i] = l.b.Channel(v, i)
	}
	return l.selectLane(lanes, idx), nil
}

// selectLane picks lanes[idx] with a chain of selects. Out of range
// indices yield lane 0.
func (l *lowerer) selectLane(lanes []*ir.Value, idx *ir.Value) *ir.Value {
	res := lanes[0]
	for i := 1; i < len(lanes); i++ {
		res = l.b.Bcsel(l.b.IEqImm(idx, uint64(i)), lanes[i], res)
	}
	return res
}

func (l *lowerer) load(h, ptr nagair.ExpressionHandle) (*ir.Value, error) {
	p, err := l.expr(ptr)
	if err != nil {
		return nil, err
	}
	d := ir.AsDeref(p)
	if d == nil {
		return nil, errorf(ErrInvalidModule, "load through a non-pointer [%d]", ptr)
	}
	t := d.Type
	switch {
	case t.IsImage() || t.IsSampler():
		return p, nil
	case t.IsVectorOrScalar():
		return l.b.LoadDeref(d), nil
	case t.Kind() == ir.TypeStruct:
		members := make([]*ir.Value, t.NumFields())
		for i := range members {
			ft := t.Field(i).Type
			if !ft.IsVectorOrScalar() {
				return nil, unsupported("loading struct %s with member %s of type %s", t.Name(), t.Field(i).Name, ft)
			}
			members[i] = l.b.LoadDeref(l.b.DerefStruct(d, i))
		}
		l.aggregates[h] = members
		return nil, nil
	case isMatrix(l.exprType(h)):
		cols := make([]*ir.Value, t.Length())
		for i := range cols {
			cols[i] = l.b.LoadDeref(l.b.DerefArrayImm(d, uint32(i)))
		}
		l.aggregates[h] = cols
		return nil, nil
	}
	return nil, unsupported("loading a value of type %s", t)
}

func (l *lowerer) unary(e nagair.ExprUnary) (*ir.Value, error) {
	v, err := l.expr(e.Expr)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case nagair.UnaryNegate:
		if l.scalarKind(e.Expr) == nagair.ScalarFloat {
			return l.b.ALU(ir.OpFNeg, v), nil
		}
		return l.b.ALU(ir.OpINeg, v), nil
	case nagair.UnaryLogicalNot, nagair.UnaryBitwiseNot:
		return l.b.ALU(ir.OpINot, v), nil
	}
	return nil, unsupported("unary operator %d", e.Op)
}

type binaryOps struct {
	float, sint, uint, boolean ir.ALUOp
	swap                       bool
}

const noOp ir.ALUOp = math.MaxUint16

var binaryTable = map[nagair.BinaryOperator]binaryOps{
	nagair.BinaryAdd:          {ir.OpFAdd, ir.OpIAdd, ir.OpIAdd, noOp, false},
	nagair.BinarySubtract:     {ir.OpFSub, ir.OpISub, ir.OpISub, noOp, false},
	nagair.BinaryMultiply:     {ir.OpFMul, ir.OpIMul, ir.OpIMul, noOp, false},
	nagair.BinaryDivide:       {ir.OpFDiv, ir.OpIDiv, ir.OpUDiv, noOp, false},
	nagair.BinaryModulo:       {noOp, ir.OpIRem, ir.OpUMod, noOp, false},
	nagair.BinaryEqual:        {ir.OpFEq, ir.OpIEq, ir.OpIEq, ir.OpIEq, false},
	nagair.BinaryNotEqual:     {ir.OpFNeu, ir.OpINe, ir.OpINe, ir.OpINe, false},
	nagair.BinaryLess:         {ir.OpFLt, ir.OpILt, ir.OpULt, noOp, false},
	nagair.BinaryLessEqual:    {ir.OpFGe, ir.OpIGe, ir.OpUGe, noOp, true},
	nagair.BinaryGreater:      {ir.OpFLt, ir.OpILt, ir.OpULt, noOp, true},
	nagair.BinaryGreaterEqual: {ir.OpFGe, ir.OpIGe, ir.OpUGe, noOp, false},
	nagair.BinaryAnd:          {noOp, ir.OpIAnd, ir.OpIAnd, ir.OpIAnd, false},
	nagair.BinaryExclusiveOr:  {noOp, ir.OpIXor, ir.OpIXor, ir.OpIXor, false},
	nagair.BinaryInclusiveOr:  {noOp, ir.OpIOr, ir.OpIOr, ir.OpIOr, false},
	nagair.BinaryLogicalAnd:   {noOp, noOp, noOp, ir.OpIAnd, false},
	nagair.BinaryLogicalOr:    {noOp, noOp, noOp, ir.OpIOr, false},
	nagair.BinaryShiftLeft:    {noOp, ir.OpIShl, ir.OpIShl, noOp, false},
	nagair.BinaryShiftRight:   {noOp, ir.OpIShr, ir.OpUShr, noOp, false},
}

func (l *lowerer) binary(h nagair.ExpressionHandle, e nagair.ExprBinary) (*ir.Value, error) {
	lt, rt := l.exprType(e.Left), l.exprType(e.Right)
	if isMatrix(lt) || isMatrix(rt) {
		if e.Op != nagair.BinaryMultiply {
			return nil, unsupported("matrix operator %d", e.Op)
		}
		return l.matrixMultiply(e.Left, e.Right, lt, rt)
	}
	a, err := l.expr(e.Left)
	if err != nil {
		return nil, err
	}
	b, err := l.expr(e.Right)
	if err != nil {
		return nil, err
	}
	ops, ok := binaryTable[e.Op]
	if !ok {
		return nil, unsupported("binary operator %d", e.Op)
	}
	op := noOp
	switch s, _ := scalarOf(lt); s.Kind {
	case nagair.ScalarFloat:
		op = ops.float
	case nagair.ScalarSint:
		op = ops.sint
	case nagair.ScalarUint:
		op = ops.uint
	case nagair.ScalarBool:
		op = ops.boolean
	}
	if op == noOp {
		return nil, unsupported("binary operator %d on expression [%d]", e.Op, h)
	}
	if ops.swap {
		a, b = b, a
	}
	return l.b.ALU(op, a, b), nil
}

// matrixMultiply handles matrix * vector and vector * matrix.
func (l *lowerer) matrixMultiply(left, right nagair.ExpressionHandle, lt, rt nagair.TypeInner) (*ir.Value, error) {
	switch {
	case isMatrix(lt) && !isMatrix(rt):
		if _, ok := rt.(nagair.VectorType); !ok {
			return nil, unsupported("matrix times scalar")
		}
		cols, err := l.aggregate(left)
		if err != nil {
			return nil, err
		}
		v, err := l.expr(right)
		if err != nil {
			return nil, err
		}
		var sum *ir.Value
		for i, col := range cols {
			term := l.b.ALU(ir.OpFMul, col, l.b.Channel(v, i))
			if sum == nil {
				sum = term
			} else {
				sum = l.b.ALU(ir.OpFAdd, sum, term)
			}
		}
		return sum, nil
	case !isMatrix(lt) && isMatrix(rt):
		if _, ok := lt.(nagair.VectorType); !ok {
			return nil, unsupported("scalar times matrix")
		}
		v, err := l.expr(left)
		if err != nil {
			return nil, err
		}
		cols, err := l.aggregate(right)
		if err != nil {
			return nil, err
		}
		comps := make([]*ir.Value, len(cols))
		for i, col := range cols {
			comps[i] = l.dot(v, col)
		}
		return l.b.Vec(comps...), nil
	}
	return nil, unsupported("matrix times matrix")
}

func (l *lowerer) dot(a, b *ir.Value) *ir.Value {
	switch a.NumComponents {
	case 1:
		return l.b.ALU(ir.OpFMul, a, b)
	case 2:
		return l.b.ALU(ir.OpFDot2, a, b)
	case 3:
		return l.b.ALU(ir.OpFDot3, a, b)
	}
	return l.b.ALU(ir.OpFDot4, a, b)
}

// fold combines the channels of v with op.
func (l *lowerer) fold(op ir.ALUOp, v *ir.Value) *ir.Value {
	res := l.b.Channel(v, 0)
	for i := 1; i < int(v.NumComponents); i++ {
		res = l.b.ALU(op, res, l.b.Channel(v, i))
	}
	return res
}

func (l *lowerer) relational(e nagair.ExprRelational) (*ir.Value, error) {
	v, err := l.expr(e.Argument)
	if err != nil {
		return nil, err
	}
	switch e.Fun {
	case nagair.RelationalAll:
		return l.fold(ir.OpIAnd, v), nil
	case nagair.RelationalAny:
		return l.fold(ir.OpIOr, v), nil
	case nagair.RelationalIsNan:
		return l.b.ALU(ir.OpFNeu, v, v), nil
	}
	return nil, unsupported("relational function %d", e.Fun)
}

var unaryMath = map[nagair.MathFunction]ir.ALUOp{
	nagair.MathSaturate:    ir.OpFSat,
	nagair.MathCos:         ir.OpFCos,
	nagair.MathSin:         ir.OpFSin,
	nagair.MathCeil:        ir.OpFCeil,
	nagair.MathFloor:       ir.OpFFloor,
	nagair.MathFract:       ir.OpFFract,
	nagair.MathExp2:        ir.OpFExp2,
	nagair.MathLog2:        ir.OpFLog2,
	nagair.MathSqrt:        ir.OpFSqrt,
	nagair.MathInverseSqrt: ir.OpFRsq,
}

const (
	log2E = 1.4426950408889634
	ln2   = 0.6931471805599453
)

func (l *lowerer) math(e nagair.ExprMath) (*ir.Value, error) {
	handles := []nagair.ExpressionHandle{e.Arg}
	for _, a := range []*nagair.ExpressionHandle{e.Arg1, e.Arg2, e.Arg3} {
		if a != nil {
			handles = append(handles, *a)
		}
	}
	args := make([]*ir.Value, len(handles))
	for i, h := range handles {
		v, err := l.expr(h)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	arity := func(n int) error {
		if len(args) != n {
			return errorf(ErrInvalidModule, "math function %d takes %d arguments, got %d", e.Fun, n, len(args))
		}
		return nil
	}
	kind := l.scalarKind(e.Arg)
	b := l.b
	x := args[0]

	if op, ok := unaryMath[e.Fun]; ok {
		return b.ALU(op, x), arity(1)
	}
	switch e.Fun {
	case nagair.MathAbs:
		switch kind {
		case nagair.ScalarFloat:
			return b.ALU(ir.OpFAbs, x), arity(1)
		case nagair.ScalarSint:
			return b.ALU(ir.OpIAbs, x), arity(1)
		}
		return x, arity(1)
	case nagair.MathMin, nagair.MathMax:
		if err := arity(2); err != nil {
			return nil, err
		}
		return b.ALU(minMaxOp(kind, e.Fun == nagair.MathMax), x, args[1]), nil
	case nagair.MathClamp:
		if err := arity(3); err != nil {
			return nil, err
		}
		lo := b.ALU(minMaxOp(kind, true), x, args[1])
		return b.ALU(minMaxOp(kind, false), lo, args[2]), nil
	case nagair.MathExp:
		return b.ALU(ir.OpFExp2, b.ALU(ir.OpFMul, x, b.ImmFloat32(log2E))), arity(1)
	case nagair.MathLog:
		return b.ALU(ir.OpFMul, b.ALU(ir.OpFLog2, x), b.ImmFloat32(ln2)), arity(1)
	case nagair.MathRadians:
		return b.ALU(ir.OpFMul, x, b.ImmFloat32(math.Pi/180)), arity(1)
	case nagair.MathDegrees:
		return b.ALU(ir.OpFMul, x, b.ImmFloat32(180/math.Pi)), arity(1)
	case nagair.MathPow:
		if err := arity(2); err != nil {
			return nil, err
		}
		return b.ALU(ir.OpFPow, x, args[1]), nil
	case nagair.MathStep:
		if err := arity(2); err != nil {
			return nil, err
		}
		return b.ALU(ir.OpB2F32, b.ALU(ir.OpFGe, args[1], x)), nil
	case nagair.MathFma:
		if err := arity(3); err != nil {
			return nil, err
		}
		return b.ALU(ir.OpFFma, x, args[1], args[2]), nil
	case nagair.MathMix:
		if err := arity(3); err != nil {
			return nil, err
		}
		return b.ALU(ir.OpFLrp, x, args[1], args[2]), nil
	case nagair.MathDot:
		if err := arity(2); err != nil {
			return nil, err
		}
		if kind != nagair.ScalarFloat {
			return nil, unsupported("integer dot product")
		}
		return l.dot(x, args[1]), nil
	case nagair.MathLength:
		return l.length(x), arity(1)
	case nagair.MathDistance:
		if err := arity(2); err != nil {
			return nil, err
		}
		return l.length(b.ALU(ir.OpFSub, x, args[1])), nil
	case nagair.MathNormalize:
		return b.ALU(ir.OpFMul, x, b.ALU(ir.OpFRsq, l.dot(x, x))), arity(1)
	}
	return nil, unsupported("math function %d", e.Fun)
}

func minMaxOp(kind nagair.ScalarKind, isMax bool) ir.ALUOp {
	switch kind {
	case nagair.ScalarFloat:
		if isMax {
			return ir.OpFMax
		}
		return ir.OpFMin
	case nagair.ScalarSint:
		if isMax {
			return ir.OpIMax
		}
		return ir.OpIMin
	}
	if isMax {
		return ir.OpUMax
	}
	return ir.OpUMin
}

func (l *lowerer) length(v *ir.Value) *ir.Value {
	if v.NumComponents == 1 {
		return l.b.ALU(ir.OpFAbs, v)
	}
	return l.b.ALU(ir.OpFSqrt, l.dot(v, v))
}

func (l *lowerer) as(e nagair.ExprAs) (*ir.Value, error) {
	v, err := l.expr(e.Expr)
	if err != nil {
		return nil, err
	}
	if e.Convert == nil {
		return v, nil
	}
	from := l.scalarKind(e.Expr)
	if width := *e.Convert; width != 4 && e.Kind != nagair.ScalarBool {
		if from == e.Kind && v.BitSize == width*8 {
			return v, nil
		}
		return nil, unsupported("conversion to %d-byte scalars", width)
	}
	b := l.b
	switch e.Kind {
	case nagair.ScalarFloat:
		switch from {
		case nagair.ScalarSint:
			return b.ALU(ir.OpI2F32, v), nil
		case nagair.ScalarUint:
			return b.ALU(ir.OpU2F32, v), nil
		case nagair.ScalarBool:
			return b.ALU(ir.OpB2F32, v), nil
		}
		return v, nil
	case nagair.ScalarSint, nagair.ScalarUint:
		switch from {
		case nagair.ScalarFloat:
			if e.Kind == nagair.ScalarSint {
				return b.ALU(ir.OpF2I32, v), nil
			}
			return b.ALU(ir.OpF2U32, v), nil
		case nagair.ScalarBool:
			return b.ALU(ir.OpB2I32, v), nil
		}
		return v, nil
	case nagair.ScalarBool:
		switch from {
		case nagair.ScalarFloat:
			return b.ALU(ir.OpFNeu, v, b.ImmFloat32(0)), nil
		case nagair.ScalarBool:
			return v, nil
		}
		return b.ALU(ir.OpI2B, v), nil
	}
	return nil, unsupported("conversion to scalar kind %d", e.Kind)
}

// arrayLength computes the element count of a runtime-sized buffer array
// from the buffer size.
func (l *lowerer) arrayLength(array nagair.ExpressionHandle) (*ir.Value, error) {
	p, err := l.expr(array)
	if err != nil {
		return nil, err
	}
	d := ir.AsDeref(p)
	if d == nil || !d.Type.IsArray() || d.Type.Stride() == 0 {
		return nil, errorf(ErrInvalidModule, "arrayLength of a non-array [%d]", array)
	}
	root := d.Root()
	ri := resourceIndex(root)
	if root.DerefKind != ir.DerefCast || ri == nil {
		return nil, unsupported("arrayLength outside a storage buffer")
	}
	var offset uint32
	if d.DerefKind == ir.DerefStruct {
		if d.ParentDeref() != root {
			return nil, unsupported("arrayLength of a nested array")
		}
		offset = root.Type.Field(d.Field).Offset
	}
	size := l.b.Intrinsic(ir.OpGetSSBOSize, 1, 32, ri.Def()).Def()
	bytes := l.b.ISub(size, l.b.Imm32(offset))
	return l.b.ALU(ir.OpUDiv, bytes, l.b.Imm32(d.Type.Stride())), nil
}
