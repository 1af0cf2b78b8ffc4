package wgslin

import (
	nagair "github.com/gogpu/naga/ir"

	"github.com/gogpu/shaderopt/ir"
)

type builtinKey struct {
	builtin ir.Builtin
	mode    ir.VarMode
}

type locationKey struct {
	location uint32
	mode     ir.VarMode
}

func (l *lowerer) builtin(b nagair.BuiltinValue) (ir.Builtin, error) {
	switch b {
	case nagair.BuiltinPosition:
		if l.shader.Stage == ir.StageFragment {
			return ir.BuiltinFragCoord, nil
		}
		return ir.BuiltinPosition, nil
	case nagair.BuiltinVertexIndex:
		return ir.BuiltinVertexIndex, nil
	case nagair.BuiltinInstanceIndex:
		return ir.BuiltinInstanceIndex, nil
	case nagair.BuiltinFrontFacing:
		return ir.BuiltinFrontFacing, nil
	case nagair.BuiltinFragDepth:
		return ir.BuiltinFragDepth, nil
	case nagair.BuiltinSampleIndex:
		return ir.BuiltinSampleIndex, nil
	case nagair.BuiltinSampleMask:
		return ir.BuiltinSampleMask, nil
	case nagair.BuiltinLocalInvocationID:
		return ir.BuiltinLocalInvocationID, nil
	case nagair.BuiltinLocalInvocationIndex:
		return ir.BuiltinLocalInvocationIndex, nil
	case nagair.BuiltinGlobalInvocationID:
		return ir.BuiltinGlobalInvocationID, nil
	case nagair.BuiltinWorkGroupID:
		return ir.BuiltinWorkgroupID, nil
	case nagair.BuiltinNumWorkGroups:
		return ir.BuiltinNumWorkgroups, nil
	}
	return ir.BuiltinNone, unsupported("builtin %d", b)
}

func interpolation(i *nagair.Interpolation) ir.Interpolation {
	if i == nil {
		return ir.InterpSmooth
	}
	switch i.Kind {
	case nagair.InterpolationFlat:
		return ir.InterpFlat
	case nagair.InterpolationLinear:
		return ir.InterpNoPerspective
	}
	return ir.InterpSmooth
}

// builtinVar returns the variable for a system value, declaring it once
// per direction.
func (l *lowerer) builtinVar(b ir.Builtin, mode ir.VarMode, t *ir.Type, name string) *ir.Variable {
	key := builtinKey{b, mode}
	if v, ok := l.builtins[key]; ok {
		return v
	}
	v := l.shader.AddVariable(mode, t, name)
	v.Data.Builtin = b
	l.builtins[key] = v
	return v
}

func (l *lowerer) locationVar(b nagair.LocationBinding, mode ir.VarMode, t *ir.Type, name string) *ir.Variable {
	key := locationKey{b.Location, mode}
	if v, ok := l.locations[key]; ok {
		return v
	}
	v := l.shader.AddVariable(mode, t, name)
	v.Data.Location = int32(b.Location)
	v.Data.DriverLocation = b.Location
	v.Data.Interpolation = interpolation(b.Interpolation)
	l.locations[key] = v
	return v
}

// argument lowers a reference to an entry point argument. Struct
// arguments become aggregates of their members.
func (l *lowerer) argument(h nagair.ExpressionHandle, index uint32) (*ir.Value, error) {
	if int(index) >= len(l.src.Arguments) {
		return nil, errorf(ErrInvalidModule, "argument %d out of range", index)
	}
	arg := &l.src.Arguments[index]
	if arg.Binding != nil {
		return l.input(*arg.Binding, arg.Type, arg.Name)
	}
	st, ok := l.types.inner(arg.Type).(nagair.StructType)
	if !ok {
		return nil, errorf(ErrInvalidModule, "argument %s has no binding", arg.Name)
	}
	members := make([]*ir.Value, len(st.Members))
	for i, m := range st.Members {
		if m.Binding == nil {
			return nil, errorf(ErrInvalidModule, "member %s of argument %s has no binding", m.Name, arg.Name)
		}
		v, err := l.input(*m.Binding, m.Type, m.Name)
		if err != nil {
			return nil, err
		}
		members[i] = v
	}
	l.aggregates[h] = members
	return nil, nil
}

func (l *lowerer) input(binding nagair.Binding, th nagair.TypeHandle, name string) (*ir.Value, error) {
	t, err := l.types.convert(th)
	if err != nil {
		return nil, err
	}
	switch bb := binding.(type) {
	case nagair.BuiltinBinding:
		bi, err := l.builtin(bb.Builtin)
		if err != nil {
			return nil, err
		}
		v := l.builtinVar(bi, ir.ModeInput, t, name)
		return l.top.LoadDeref(l.top.DerefVar(v)), nil
	case nagair.LocationBinding:
		l.locationVar(bb, ir.ModeInput, t, name)
		in := l.top.Intrinsic(ir.OpLoadInput, t.Components(), t.BitSize(), l.top.Imm32(0))
		in.SetAttr(ir.IndexBase, bb.Location)
		in.SetAttr(ir.IndexComponent, 0)
		return in.Def(), nil
	}
	return nil, errorf(ErrInvalidModule, "binding %T", binding)
}

// output writes one result value.
func (l *lowerer) output(binding nagair.Binding, th nagair.TypeHandle, name string, val *ir.Value) error {
	t, err := l.types.convert(th)
	if err != nil {
		return err
	}
	switch bb := binding.(type) {
	case nagair.BuiltinBinding:
		bi, err := l.builtin(bb.Builtin)
		if err != nil {
			return err
		}
		v := l.builtinVar(bi, ir.ModeOutput, t, name)
		l.b.StoreDeref(l.b.DerefVar(v), val)
		return nil
	case nagair.LocationBinding:
		l.locationVar(bb, ir.ModeOutput, t, name)
		st := l.b.Intrinsic(ir.OpStoreOutput, val.NumComponents, 0, val, l.b.Imm32(0))
		st.SetAttr(ir.IndexBase, bb.Location)
		st.SetAttr(ir.IndexWriteMask, 1<<val.NumComponents-1)
		st.SetAttr(ir.IndexComponent, 0)
		return nil
	}
	return errorf(ErrInvalidModule, "binding %T", binding)
}

// returnValue writes the entry point's result.
func (l *lowerer) returnValue(h nagair.ExpressionHandle) error {
	res := l.src.Result
	if res == nil {
		return errorf(ErrInvalidModule, "return value from a function without result")
	}
	if res.Binding != nil {
		v, err := l.expr(h)
		if err != nil {
			return err
		}
		return l.output(*res.Binding, res.Type, l.src.Name, v)
	}
	st, ok := l.types.inner(res.Type).(nagair.StructType)
	if !ok {
		return errorf(ErrInvalidModule, "result of %s has no binding", l.src.Name)
	}
	members, err := l.aggregate(h)
	if err != nil {
		return err
	}
	for i, m := range st.Members {
		if m.Binding == nil {
			return errorf(ErrInvalidModule, "member %s of the result has no binding", m.Name)
		}
		if err := l.output(*m.Binding, m.Type, m.Name, members[i]); err != nil {
			return err
		}
	}
	return nil
}
