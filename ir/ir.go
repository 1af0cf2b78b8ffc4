package ir

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Stage identifies a programmable pipeline stage.
type Stage uint8

const (
	StageVertex Stage = iota
	StageTessCtrl
	StageTessEval
	StageGeometry
	StageFragment
	StageCompute
)

var stageNames = [...]string{"vertex", "tess_ctrl", "tess_eval", "geometry", "fragment", "compute"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "stage(" + strconv.Itoa(int(s)) + ")"
}

// ParseStage converts a stage name back to a Stage.
func ParseStage(name string) (Stage, bool) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), true
		}
	}
	return 0, false
}

// StageMask is a set of stages.
type StageMask uint8

// StageAll contains every stage.
const StageAll StageMask = 1<<(StageCompute+1) - 1

// Mask returns the single-stage mask for s.
func (s Stage) Mask() StageMask { return 1 << s }

// Has reports whether the mask contains s.
func (m StageMask) Has(s Stage) bool { return m&s.Mask() != 0 }

func (m StageMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for s := StageVertex; s <= StageCompute; s++ {
		if m.Has(s) {
			parts = append(parts, s.String())
		}
	}
	return strings.Join(parts, "|")
}

// MarshalText implements encoding.TextMarshaler.
func (m StageMask) MarshalText() ([]byte, error) {
	if m == StageAll {
		return []byte("all"), nil
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts "all", "none" or stage names joined by '|'.
func (m *StageMask) UnmarshalText(b []byte) error {
	switch string(b) {
	case "all":
		*m = StageAll
		return nil
	case "none", "":
		*m = 0
		return nil
	}
	var mask StageMask
	for _, name := range strings.Split(string(b), "|") {
		s, ok := ParseStage(strings.TrimSpace(name))
		if !ok {
			return fmt.Errorf("unknown stage %q", name)
		}
		mask |= s.Mask()
	}
	*m = mask
	return nil
}

// VarMode is a bitmask of storage classes.
type VarMode uint16

const (
	ModeInput VarMode = 1 << iota
	ModeOutput
	ModeUniform
	ModeUBO
	ModeSSBO
	ModeShared
	ModePrivate
	ModeFunction
	ModeImage
	ModeSampler
	ModeConstant
	ModeGlobal
)

// ModeAll matches every storage class.
const ModeAll VarMode = 1<<12 - 1

var modeNames = [...]string{
	"shader_in", "shader_out", "uniform", "ubo", "ssbo", "shared",
	"private", "function", "image", "sampler", "constant", "global",
}

func (m VarMode) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for i, n := range modeNames {
		if m&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Is reports whether m is non-empty and contained in mask.
func (m VarMode) Is(mask VarMode) bool { return m != 0 && m&^mask == 0 }

// MayBe reports whether m overlaps mask.
func (m VarMode) MayBe(mask VarMode) bool { return m&mask != 0 }

// Access is a memory access qualifier bitset.
type Access uint8

const (
	AccessCoherent Access = 1 << iota
	AccessVolatile
	AccessRestrict
	AccessNonWritable
	AccessNonReadable
	AccessNonUniform
	AccessCanReorder
)

var accessNames = [...]string{"coherent", "volatile", "restrict", "non-writable", "non-readable", "non-uniform", "can-reorder"}

func (a Access) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	for i, n := range accessNames {
		if a&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Interpolation is the interpolation mode of a varying.
type Interpolation uint8

const (
	InterpSmooth Interpolation = iota
	InterpFlat
	InterpNoPerspective
)

// Builtin tags a variable as a system value.
type Builtin uint8

const (
	BuiltinNone Builtin = iota
	BuiltinPosition
	BuiltinFragCoord
	BuiltinFragDepth
	BuiltinFrontFacing
	BuiltinVertexIndex
	BuiltinInstanceIndex
	BuiltinSampleIndex
	BuiltinSampleMask
	BuiltinLocalInvocationID
	BuiltinLocalInvocationIndex
	BuiltinGlobalInvocationID
	BuiltinWorkgroupID
	BuiltinNumWorkgroups
)

// VarData is the decoration record of a variable.
type VarData struct {
	Mode           VarMode
	DriverLocation uint32
	Location       int32
	Component      uint8
	Interpolation  Interpolation
	Builtin        Builtin
	DescriptorSet  uint32
	Binding        uint32
	// Index is the input attachment index of subpass inputs.
	Index  uint32
	Access Access
}

// Variable is a named storage location.
type Variable struct {
	Name string
	Type *Type
	// InterfaceType is the block type of UBO and SSBO variables.
	InterfaceType *Type
	Data          VarData

	fn *Function
}

// Function returns the owning function of a function-local variable.
func (v *Variable) Function() *Function { return v.fn }

func (v *Variable) String() string {
	if v.Name != "" {
		return v.Name
	}
	return "<anon>"
}

// Shader is a single-stage shader program.
type Shader struct {
	Name      string
	Stage     Stage
	Variables []*Variable
	Functions []*Function
	// ConstantData backs load_constant intrinsics.
	ConstantData []byte

	arena arena
}

// NewShader creates an empty shader.
func NewShader(stage Stage, name string) *Shader {
	s := &Shader{Name: name, Stage: stage}
	s.arena.init()
	return s
}

// Release drops every arena-allocated node. The shader must not be used
// afterwards.
func (s *Shader) Release() {
	s.arena.reset()
	s.Functions = nil
	s.Variables = nil
}

// AddVariable declares a shader-scope variable.
func (s *Shader) AddVariable(mode VarMode, typ *Type, name string) *Variable {
	if mode == ModeFunction {
		panic("ir: function variables belong to a function")
	}
	v := &Variable{Name: name, Type: typ, Data: VarData{Mode: mode, Location: -1}}
	s.Variables = append(s.Variables, v)
	return v
}

// NewFunction appends a function with an empty body.
func (s *Shader) NewFunction(name string) *Function {
	fn := &Function{Name: name, Shader: s}
	fn.Body = &CFList{parent: fn}
	fn.end = &Block{fn: fn}
	fn.Body.append(fn.newBlock())
	s.Functions = append(s.Functions, fn)
	return fn
}

// EntryPoint returns the entry point function, or nil.
func (s *Shader) EntryPoint() *Function {
	for _, fn := range s.Functions {
		if fn.IsEntry {
			return fn
		}
	}
	return nil
}

// Funcs iterates the functions of the shader.
func (s *Shader) Funcs() iter.Seq[*Function] {
	return func(yield func(*Function) bool) {
		for _, fn := range s.Functions {
			if !yield(fn) {
				return
			}
		}
	}
}

// Vars iterates shader variables whose mode is in mask. Function-local
// variables are included when mask contains ModeFunction.
func (s *Shader) Vars(mask VarMode) iter.Seq[*Variable] {
	return func(yield func(*Variable) bool) {
		for _, v := range s.Variables {
			if v.Data.Mode&mask != 0 && !yield(v) {
				return
			}
		}
		if mask&ModeFunction == 0 {
			return
		}
		for _, fn := range s.Functions {
			for _, v := range fn.Locals {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Function is a function implementation.
type Function struct {
	Name    string
	Shader  *Shader
	IsEntry bool
	Locals  []*Variable
	// Registers holds the non-SSA registers of the function.
	Registers []*Register
	Body      *CFList

	end       *Block
	nextValue uint32
	nextReg   uint32
	valid     Metadata
	blocks    []*Block
	loops     []*LoopInfo
}

// AddLocal declares a function-scope variable.
func (f *Function) AddLocal(typ *Type, name string) *Variable {
	v := &Variable{Name: name, Type: typ, Data: VarData{Mode: ModeFunction, Location: -1}, fn: f}
	f.Locals = append(f.Locals, v)
	return v
}

// NewRegister creates a register.
func (f *Function) NewRegister(components, bitSize uint8) *Register {
	r := &Register{Index: f.nextReg, NumComponents: components, BitSize: bitSize}
	f.nextReg++
	f.Registers = append(f.Registers, r)
	return r
}

// NumValues returns an upper bound on SSA value indices in f.
func (f *Function) NumValues() uint32 { return f.nextValue }

// EndBlock returns the synthetic exit block. It holds no instructions.
func (f *Function) EndBlock() *Block { return f.end }

// StartBlock returns the entry block.
func (f *Function) StartBlock() *Block { return f.Body.First().(*Block) }

func (f *Function) newBlock() *Block {
	return &Block{fn: f}
}

func (f *Function) newValue(v *Value, parent Instr, components, bitSize uint8) {
	v.Index = f.nextValue
	v.NumComponents = components
	v.BitSize = bitSize
	v.parent = parent
	f.nextValue++
}

func (f *Function) arena() *arena { return &f.Shader.arena }

func (f *Function) String() string { return f.Name }
