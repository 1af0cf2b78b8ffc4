package ir

import (
	"strconv"
	"strings"
	"sync"
)

// BaseType is the base kind of a scalar.
type BaseType uint8

const (
	BaseBool BaseType = iota
	BaseInt
	BaseUint
	BaseFloat
)

func (b BaseType) String() string {
	switch b {
	case BaseBool:
		return "bool"
	case BaseInt:
		return "int"
	case BaseUint:
		return "uint"
	case BaseFloat:
		return "float"
	default:
		return "base(" + strconv.Itoa(int(b)) + ")"
	}
}

// TypeKind discriminates the shape of a Type.
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeScalar
	TypeVector
	TypeMatrix
	TypeArray
	TypeStruct
	TypeImage
	TypeSampler
)

// SamplerDim is the dimensionality of an image or texture access.
type SamplerDim uint8

const (
	Dim1D SamplerDim = iota
	Dim2D
	Dim3D
	DimCube
	DimRect
	DimBuffer
	DimMS
	DimSubpass
	DimSubpassMS
)

var samplerDimNames = [...]string{"1D", "2D", "3D", "Cube", "Rect", "Buffer", "MS", "Subpass", "SubpassMS"}

func (d SamplerDim) String() string {
	if int(d) < len(samplerDimNames) {
		return samplerDimNames[d]
	}
	return "dim(" + strconv.Itoa(int(d)) + ")"
}

// IsSubpass reports whether d names an input attachment.
func (d SamplerDim) IsSubpass() bool {
	return d == DimSubpass || d == DimSubpassMS
}

// ImageDesc describes an image or sampler type.
type ImageDesc struct {
	Dim          SamplerDim
	Arrayed      bool
	Shadow       bool
	Multisampled bool
	Sampled      BaseType
}

// StructField is one member of a struct type with an explicit byte offset.
type StructField struct {
	Name   string
	Type   *Type
	Offset uint32
}

// Type is an interned type. Two types are equal if and only if their
// pointers are equal; Type values must only be created by the constructors
// in this file.
type Type struct {
	kind       TypeKind
	base       BaseType
	bitSize    uint8
	components uint8
	columns    uint8
	elem       *Type
	length     uint32
	stride     uint32
	name       string
	fields     []StructField
	image      ImageDesc
	key        string
}

// typePool is the process-wide interning table. Interned types are never
// mutated or moved, so callers may read a *Type without holding the lock.
type typePool struct {
	mu    sync.Mutex
	types map[string]*Type
}

var types = typePool{types: make(map[string]*Type, 64)}

func intern(t Type) *Type {
	t.key = string(t.appendKey(make([]byte, 0, 32)))

	types.mu.Lock()
	defer types.mu.Unlock()
	if existing, ok := types.types[t.key]; ok {
		return existing
	}
	p := new(Type)
	*p = t
	types.types[t.key] = p
	return p
}

// InternedTypeCount returns the number of distinct types created so far.
func InternedTypeCount() int {
	types.mu.Lock()
	defer types.mu.Unlock()
	return len(types.types)
}

func (t *Type) appendKey(b []byte) []byte {
	switch t.kind {
	case TypeVoid:
		return append(b, "void"...)
	case TypeScalar, TypeVector, TypeMatrix:
		b = append(b, 's')
		b = strconv.AppendUint(b, uint64(t.base), 10)
		b = append(b, ':')
		b = strconv.AppendUint(b, uint64(t.bitSize), 10)
		b = append(b, 'x')
		b = strconv.AppendUint(b, uint64(t.components), 10)
		b = append(b, 'x')
		return strconv.AppendUint(b, uint64(t.columns), 10)
	case TypeArray:
		b = append(b, "a["...)
		b = append(b, t.elem.key...)
		b = append(b, ';')
		b = strconv.AppendUint(b, uint64(t.length), 10)
		b = append(b, ';')
		b = strconv.AppendUint(b, uint64(t.stride), 10)
		return append(b, ']')
	case TypeStruct:
		b = append(b, "t{"...)
		b = append(b, t.name...)
		for _, f := range t.fields {
			b = append(b, ';')
			b = append(b, f.Name...)
			b = append(b, ':')
			b = append(b, f.Type.key...)
			b = append(b, '@')
			b = strconv.AppendUint(b, uint64(f.Offset), 10)
		}
		return append(b, '}')
	case TypeImage, TypeSampler:
		if t.kind == TypeImage {
			b = append(b, "img"...)
		} else {
			b = append(b, "smp"...)
		}
		b = strconv.AppendUint(b, uint64(t.image.Dim), 10)
		b = strconv.AppendBool(b, t.image.Arrayed)
		b = strconv.AppendBool(b, t.image.Shadow)
		b = strconv.AppendBool(b, t.image.Multisampled)
		return strconv.AppendUint(b, uint64(t.image.Sampled), 10)
	}
	return append(b, '?')
}

// Void is the empty type.
var Void = intern(Type{kind: TypeVoid})

// Commonly used scalar types.
var (
	Bool    = Scalar(BaseBool, 1)
	Int32   = Scalar(BaseInt, 32)
	Uint32  = Scalar(BaseUint, 32)
	Uint64  = Scalar(BaseUint, 64)
	Float32 = Scalar(BaseFloat, 32)
)

// Scalar returns the scalar type of the given base and bit width.
func Scalar(base BaseType, bits uint8) *Type {
	return intern(Type{kind: TypeScalar, base: base, bitSize: bits, components: 1, columns: 1})
}

// Vector returns a vector type. A one-component vector is the scalar type.
func Vector(base BaseType, bits, components uint8) *Type {
	if components <= 1 {
		return Scalar(base, bits)
	}
	return intern(Type{kind: TypeVector, base: base, bitSize: bits, components: components, columns: 1})
}

// Matrix returns a column-major matrix type.
func Matrix(base BaseType, bits, rows, columns uint8) *Type {
	return intern(Type{kind: TypeMatrix, base: base, bitSize: bits, components: rows, columns: columns})
}

// Array returns an array type. A length of 0 denotes an unsized array.
func Array(elem *Type, length, stride uint32) *Type {
	return intern(Type{kind: TypeArray, elem: elem, length: length, stride: stride})
}

// Struct returns a struct type with explicitly laid out fields.
func Struct(name string, fields []StructField) *Type {
	return intern(Type{kind: TypeStruct, name: name, fields: append([]StructField(nil), fields...)})
}

// Image returns an image type.
func Image(desc ImageDesc) *Type {
	return intern(Type{kind: TypeImage, image: desc})
}

// Sampler returns a sampler type.
func Sampler(shadow bool) *Type {
	return intern(Type{kind: TypeSampler, image: ImageDesc{Shadow: shadow}})
}

func (t *Type) Kind() TypeKind   { return t.kind }
func (t *Type) Base() BaseType   { return t.base }
func (t *Type) BitSize() uint8   { return t.bitSize }
func (t *Type) Columns() uint8   { return t.columns }
func (t *Type) Elem() *Type      { return t.elem }
func (t *Type) Length() uint32   { return t.length }
func (t *Type) Stride() uint32   { return t.stride }
func (t *Type) Name() string     { return t.name }
func (t *Type) NumFields() int   { return len(t.fields) }
func (t *Type) Image() ImageDesc { return t.image }

// Components returns the number of rows of a vector or matrix.
func (t *Type) Components() uint8 { return t.components }

// Field returns the i-th struct member.
func (t *Type) Field(i int) StructField { return t.fields[i] }

func (t *Type) IsScalar() bool  { return t.kind == TypeScalar }
func (t *Type) IsImage() bool   { return t.kind == TypeImage }
func (t *Type) IsSampler() bool { return t.kind == TypeSampler }
func (t *Type) IsArray() bool   { return t.kind == TypeArray }

// IsVectorOrScalar reports whether values of t fit in a single SSA value.
func (t *Type) IsVectorOrScalar() bool {
	return t.kind == TypeScalar || t.kind == TypeVector
}

// WithoutArray strips every level of array from t.
func (t *Type) WithoutArray() *Type {
	for t.kind == TypeArray {
		t = t.elem
	}
	return t
}

// ArrayElements returns the product of all array lengths around the bare
// element type, or 1 if t is not an array.
func (t *Type) ArrayElements() uint32 {
	n := uint32(1)
	for t.kind == TypeArray {
		n *= t.length
		t = t.elem
	}
	return n
}

// Size returns the explicit byte size of t.
func (t *Type) Size() uint32 {
	switch t.kind {
	case TypeScalar, TypeVector:
		return uint32(t.components) * scalarBytes(t.bitSize)
	case TypeMatrix:
		return uint32(t.columns) * uint32(t.components) * scalarBytes(t.bitSize)
	case TypeArray:
		return t.stride * t.length
	case TypeStruct:
		var size uint32
		for _, f := range t.fields {
			size = max(size, f.Offset+f.Type.Size())
		}
		return size
	}
	return 0
}

// Align returns the natural alignment of t in bytes.
func (t *Type) Align() uint32 {
	switch t.kind {
	case TypeScalar, TypeVector, TypeMatrix:
		return scalarBytes(t.bitSize)
	case TypeArray:
		return t.elem.Align()
	case TypeStruct:
		a := uint32(1)
		for _, f := range t.fields {
			a = max(a, f.Type.Align())
		}
		return a
	}
	return 1
}

func scalarBytes(bits uint8) uint32 {
	if bits < 8 {
		return 4
	}
	return uint32(bits) / 8
}

func (t *Type) String() string {
	switch t.kind {
	case TypeVoid:
		return "void"
	case TypeScalar:
		return t.base.String() + strconv.Itoa(int(t.bitSize))
	case TypeVector:
		return "vec" + strconv.Itoa(int(t.components)) + "<" + t.base.String() + strconv.Itoa(int(t.bitSize)) + ">"
	case TypeMatrix:
		return "mat" + strconv.Itoa(int(t.columns)) + "x" + strconv.Itoa(int(t.components)) +
			"<" + t.base.String() + strconv.Itoa(int(t.bitSize)) + ">"
	case TypeArray:
		if t.length == 0 {
			return "array<" + t.elem.String() + ">"
		}
		return "array<" + t.elem.String() + ", " + strconv.FormatUint(uint64(t.length), 10) + ">"
	case TypeStruct:
		if t.name != "" {
			return "struct " + t.name
		}
		var sb strings.Builder
		sb.WriteString("struct {")
		for i, f := range t.fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Type.String())
		}
		sb.WriteString("}")
		return sb.String()
	case TypeImage:
		var sb strings.Builder
		sb.WriteString("image")
		sb.WriteString(t.image.Dim.String())
		if t.image.Multisampled {
			sb.WriteString("MS")
		}
		if t.image.Arrayed {
			sb.WriteString("Array")
		}
		if t.image.Shadow {
			sb.WriteString("Shadow")
		}
		sb.WriteString("<" + t.image.Sampled.String() + ">")
		return sb.String()
	case TypeSampler:
		if t.image.Shadow {
			return "samplerShadow"
		}
		return "sampler"
	}
	return "?"
}
