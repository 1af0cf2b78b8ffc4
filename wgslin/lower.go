// Package wgslin translates WGSL into shaderopt IR.
//
// Source text goes through the naga library's parser and lowerer. Each
// entry point of the resulting naga module then becomes one ir.Shader:
// uniform and storage buffers are reached through vulkan_resource_index,
// load_vulkan_descriptor and a deref cast; textures, samplers and storage
// images are variables carrying their (set, binding); location inputs and
// outputs become load_input and store_output.
//
// Constructs the IR cannot express (calls to other functions, push
// constants, matrix-matrix products, switch statements) are reported as an
// *Error of kind ErrUnsupportedFeature rather than lowered approximately.
package wgslin

import (
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	nagair "github.com/gogpu/naga/ir"

	"github.com/gogpu/shaderopt/internal/logging"
	"github.com/gogpu/shaderopt/ir"
)

// Options configures parsing.
type Options struct {
	// Validate runs the naga validator on the parsed module.
	Validate bool
}

// DefaultOptions returns the options Parse and Compile use.
func DefaultOptions() Options {
	return Options{Validate: true}
}

// Parse parses WGSL source and lowers it to a validated naga module.
func Parse(source string) (*nagair.Module, error) {
	return ParseWithOptions(source, DefaultOptions())
}

// ParseWithOptions parses WGSL source into a naga module.
func ParseWithOptions(source string, opts Options) (*nagair.Module, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, &Error{Kind: ErrParse, Message: "parse failed", Err: err}
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, &Error{Kind: ErrParse, Message: "lowering failed", Err: err}
	}
	if !opts.Validate {
		return module, nil
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidModule, Message: "validation failed", Err: err}
	}
	if len(verrs) > 0 {
		return nil, &Error{Kind: ErrInvalidModule, Message: "validation failed", Err: verrs[0]}
	}
	return module, nil
}

// Compile parses source and lowers every entry point.
func Compile(source string) ([]*ir.Shader, error) {
	return CompileWithOptions(source, DefaultOptions())
}

// CompileWithOptions parses source with opts and lowers every entry point.
func CompileWithOptions(source string, opts Options) ([]*ir.Shader, error) {
	module, err := ParseWithOptions(source, opts)
	if err != nil {
		return nil, err
	}
	return LowerAll(module)
}

// LowerAll lowers every entry point of module in declaration order.
func LowerAll(module *nagair.Module) ([]*ir.Shader, error) {
	types := newTypeCache(module)
	shaders := make([]*ir.Shader, 0, len(module.EntryPoints))
	for i := range module.EntryPoints {
		s, err := lowerEntryPoint(module, &module.EntryPoints[i], types)
		if err != nil {
			return nil, err
		}
		shaders = append(shaders, s)
	}
	return shaders, nil
}

// Lower lowers the entry point called name.
func Lower(module *nagair.Module, name string) (*ir.Shader, error) {
	for i := range module.EntryPoints {
		if ep := &module.EntryPoints[i]; ep.Name == name {
			return lowerEntryPoint(module, ep, newTypeCache(module))
		}
	}
	return nil, errorf(ErrEntryPointNotFound, "no entry point named %q", name)
}

func stageOf(s nagair.ShaderStage) (ir.Stage, bool) {
	switch s {
	case nagair.StageVertex:
		return ir.StageVertex, true
	case nagair.StageFragment:
		return ir.StageFragment, true
	case nagair.StageCompute:
		return ir.StageCompute, true
	}
	return 0, false
}

// lowerer translates one entry point function.
type lowerer struct {
	module *nagair.Module
	types  *typeCache
	entry  *nagair.EntryPoint
	src    *nagair.Function
	shader *ir.Shader
	fn     *ir.Function

	// b emits at the current statement. top emits at function entry and
	// takes every expression naga never emits: literals, constants,
	// arguments and variable references.
	b   *ir.Builder
	top *ir.Builder

	values     map[nagair.ExpressionHandle]*ir.Value
	aggregates map[nagair.ExpressionHandle][]*ir.Value
	globals    map[nagair.GlobalVariableHandle]*ir.Value
	builtins   map[builtinKey]*ir.Variable
	locations  map[locationKey]*ir.Variable
	locals     []*ir.Variable

	loops []*nagair.StmtLoop
	depth int
}

func lowerEntryPoint(module *nagair.Module, ep *nagair.EntryPoint, types *typeCache) (*ir.Shader, error) {
	stage, ok := stageOf(ep.Stage)
	if !ok {
		return nil, &Error{Kind: ErrUnsupportedFeature, Message: fmt.Sprintf("shader stage %d", ep.Stage), EntryPoint: ep.Name}
	}

	s := ir.NewShader(stage, ep.Name)
	fn := s.NewFunction(ep.Name)
	fn.IsEntry = true
	start := fn.StartBlock()
	l := &lowerer{
		module:     module,
		types:      types,
		entry:      ep,
		src:        &ep.Function,
		shader:     s,
		fn:         fn,
		b:          ir.NewBuilder(fn, ir.BlockEnd(start)),
		top:        ir.NewBuilder(fn, ir.BlockStart(start)),
		values:     make(map[nagair.ExpressionHandle]*ir.Value),
		aggregates: make(map[nagair.ExpressionHandle][]*ir.Value),
		globals:    make(map[nagair.GlobalVariableHandle]*ir.Value),
		builtins:   make(map[builtinKey]*ir.Variable),
		locations:  make(map[locationKey]*ir.Variable),
	}
	if err := l.run(); err != nil {
		var e *Error
		if errors.As(err, &e) && e.EntryPoint == "" {
			e.EntryPoint = ep.Name
		}
		return nil, err
	}
	logging.Pass("wgslin").Debug("entry point lowered", "entry", ep.Name, "stage", stage,
		"variables", len(s.Variables), "values", fn.NumValues())
	return s, nil
}

func (l *lowerer) run() error {
	if err := l.declareLocals(); err != nil {
		return err
	}
	if err := l.initPrivates(); err != nil {
		return err
	}
	_, err := l.lowerBlock(l.src.Body)
	return err
}

// declareLocals creates the function's variables and stores their
// initializers at function entry.
func (l *lowerer) declareLocals() error {
	l.locals = make([]*ir.Variable, len(l.src.LocalVars))
	for i, lv := range l.src.LocalVars {
		t, err := l.types.convert(lv.Type)
		if err != nil {
			return err
		}
		l.locals[i] = l.fn.AddLocal(t, lv.Name)
	}
	for i, lv := range l.src.LocalVars {
		if lv.Init == nil {
			continue
		}
		if err := l.storeTo(l.b.DerefVar(l.locals[i]), *lv.Init); err != nil {
			return fmt.Errorf("initializer of %s: %w", lv.Name, err)
		}
	}
	return nil
}

// initPrivates stores the constant initializers of the private globals
// this entry point references.
func (l *lowerer) initPrivates() error {
	for i := range l.src.Expressions {
		g, ok := l.src.Expressions[i].Kind.(nagair.ExprGlobalVariable)
		if !ok {
			continue
		}
		gv := &l.module.GlobalVariables[g.Variable]
		if gv.Init == nil || gv.Space != nagair.SpacePrivate {
			continue
		}
		if _, done := l.globals[g.Variable]; done {
			continue
		}
		ptr, err := l.global(g.Variable)
		if err != nil {
			return err
		}
		val, err := l.constant(*gv.Init)
		if err != nil {
			return err
		}
		l.b.StoreDeref(ir.AsDeref(ptr), val)
	}
	return nil
}

// global returns the pointer or handle value of a global variable,
// creating its declaration on first use.
func (l *lowerer) global(h nagair.GlobalVariableHandle) (*ir.Value, error) {
	if v, ok := l.globals[h]; ok {
		return v, nil
	}
	if int(h) >= len(l.module.GlobalVariables) {
		return nil, errorf(ErrInvalidModule, "global handle %d out of range", h)
	}
	gv := &l.module.GlobalVariables[h]
	t, err := l.types.convert(gv.Type)
	if err != nil {
		return nil, err
	}

	var v *ir.Value
	switch gv.Space {
	case nagair.SpaceUniform, nagair.SpaceStorage:
		v, err = l.bufferGlobal(gv, t)
		if err != nil {
			return nil, err
		}
	case nagair.SpaceHandle:
		if gv.Binding == nil {
			return nil, errorf(ErrInvalidModule, "resource %s has no binding", gv.Name)
		}
		mode := ir.ModeUniform
		if img, ok := l.types.inner(gv.Type).(nagair.ImageType); ok && img.Class == nagair.ImageClassStorage {
			mode = ir.ModeImage
		}
		vr := l.shader.AddVariable(mode, t, gv.Name)
		vr.Data.DescriptorSet = gv.Binding.Group
		vr.Data.Binding = gv.Binding.Binding
		v = l.top.DerefVar(vr).Def()
	case nagair.SpacePrivate:
		v = l.top.DerefVar(l.shader.AddVariable(ir.ModePrivate, t, gv.Name)).Def()
	case nagair.SpaceWorkGroup:
		v = l.top.DerefVar(l.shader.AddVariable(ir.ModeShared, t, gv.Name)).Def()
	default:
		return nil, unsupported("global %s in address space %d", gv.Name, gv.Space)
	}
	l.globals[h] = v
	return v, nil
}

// bufferGlobal declares a uniform or storage buffer and returns the deref
// cast through which every access to it goes.
func (l *lowerer) bufferGlobal(gv *nagair.GlobalVariable, t *ir.Type) (*ir.Value, error) {
	if gv.Binding == nil {
		return nil, errorf(ErrInvalidModule, "buffer %s has no binding", gv.Name)
	}
	mode, dt := ir.ModeSSBO, ir.DescStorageBuffer
	if gv.Space == nagair.SpaceUniform {
		mode, dt = ir.ModeUBO, ir.DescUniformBuffer
	}
	vr := l.shader.AddVariable(mode, t, gv.Name)
	vr.InterfaceType = t
	vr.Data.DescriptorSet = gv.Binding.Group
	vr.Data.Binding = gv.Binding.Binding

	b := l.top
	ri := b.Intrinsic(ir.OpVulkanResourceIndex, 2, 32, b.Imm32(0))
	ri.SetAttr(ir.IndexDescSet, gv.Binding.Group)
	ri.SetAttr(ir.IndexBinding, gv.Binding.Binding)
	ri.SetAttr(ir.IndexDescType, uint32(dt))
	desc := b.Intrinsic(ir.OpLoadVulkanDescriptor, 2, 32, ri.Def())
	desc.SetAttr(ir.IndexDescType, uint32(dt))
	return b.DerefCast(desc.Def(), mode, t, 0).Def(), nil
}

// resourceIndex returns the vulkan_resource_index a buffer cast starts at.
func resourceIndex(cast *ir.Deref) *ir.Intrinsic {
	desc, ok := cast.Parent.Value().Parent().(*ir.Intrinsic)
	if !ok || desc.Op != ir.OpLoadVulkanDescriptor {
		return nil
	}
	ri, _ := desc.Srcs[0].Value().Parent().(*ir.Intrinsic)
	return ri
}
