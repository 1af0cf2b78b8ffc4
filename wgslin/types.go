package wgslin

import (
	nagair "github.com/gogpu/naga/ir"

	"github.com/gogpu/shaderopt/ir"
)

// typeCache converts naga types to interned IR types.
type typeCache struct {
	module *nagair.Module
	types  map[nagair.TypeHandle]*ir.Type
}

func newTypeCache(m *nagair.Module) *typeCache {
	return &typeCache{module: m, types: make(map[nagair.TypeHandle]*ir.Type)}
}

func scalarBase(kind nagair.ScalarKind) ir.BaseType {
	switch kind {
	case nagair.ScalarSint:
		return ir.BaseInt
	case nagair.ScalarUint:
		return ir.BaseUint
	case nagair.ScalarFloat:
		return ir.BaseFloat
	}
	return ir.BaseBool
}

func scalarBits(s nagair.ScalarType) uint8 {
	if s.Kind == nagair.ScalarBool {
		return 1
	}
	return s.Width * 8
}

func scalarType(s nagair.ScalarType) *ir.Type {
	return ir.Scalar(scalarBase(s.Kind), scalarBits(s))
}

func imageDim(d nagair.ImageDimension) ir.SamplerDim {
	switch d {
	case nagair.Dim1D:
		return ir.Dim1D
	case nagair.Dim3D:
		return ir.Dim3D
	case nagair.DimCube:
		return ir.DimCube
	}
	return ir.Dim2D
}

// dimComponents is the number of coordinates an image of dimension d
// takes, not counting the array layer.
func dimComponents(d nagair.ImageDimension) uint8 {
	switch d {
	case nagair.Dim1D:
		return 1
	case nagair.Dim3D:
		return 3
	}
	return 2
}

// columnStride is the byte distance between matrix columns: vec2 columns
// align to twice the scalar width, vec3 and vec4 columns to four times.
func columnStride(m nagair.MatrixType) uint32 {
	w := uint32(m.Scalar.Width)
	if m.Rows == nagair.Vec2 {
		return 2 * w
	}
	return 4 * w
}

// convert returns the IR type of h. Matrices become arrays of columns so
// that buffer layouts keep their column stride.
func (c *typeCache) convert(h nagair.TypeHandle) (*ir.Type, error) {
	if t, ok := c.types[h]; ok {
		return t, nil
	}
	if int(h) >= len(c.module.Types) {
		return nil, errorf(ErrInvalidModule, "type handle %d out of range", h)
	}
	typ := &c.module.Types[h]
	t, err := c.convertInner(typ.Name, typ.Inner)
	if err != nil {
		return nil, err
	}
	c.types[h] = t
	return t, nil
}

func (c *typeCache) convertInner(name string, inner nagair.TypeInner) (*ir.Type, error) {
	switch t := inner.(type) {
	case nagair.ScalarType:
		return scalarType(t), nil
	case nagair.VectorType:
		return ir.Vector(scalarBase(t.Scalar.Kind), scalarBits(t.Scalar), uint8(t.Size)), nil
	case nagair.MatrixType:
		col := ir.Vector(scalarBase(t.Scalar.Kind), scalarBits(t.Scalar), uint8(t.Rows))
		return ir.Array(col, uint32(t.Columns), columnStride(t)), nil
	case nagair.AtomicType:
		return scalarType(t.Scalar), nil
	case nagair.ArrayType:
		elem, err := c.convert(t.Base)
		if err != nil {
			return nil, err
		}
		var n uint32
		if t.Size.Constant != nil {
			n = *t.Size.Constant
		}
		return ir.Array(elem, n, t.Stride), nil
	case nagair.StructType:
		fields := make([]ir.StructField, len(t.Members))
		for i, m := range t.Members {
			ft, err := c.convert(m.Type)
			if err != nil {
				return nil, err
			}
			fields[i] = ir.StructField{Name: m.Name, Type: ft, Offset: m.Offset}
		}
		return ir.Struct(name, fields), nil
	case nagair.ImageType:
		return ir.Image(ir.ImageDesc{
			Dim:          imageDim(t.Dim),
			Arrayed:      t.Arrayed,
			Shadow:       t.Class == nagair.ImageClassDepth,
			Multisampled: t.Multisampled,
			Sampled:      ir.BaseFloat,
		}), nil
	case nagair.SamplerType:
		return ir.Sampler(t.Comparison), nil
	case nagair.PointerType:
		return c.convert(t.Base)
	}
	return nil, errorf(ErrUnsupportedType, "type %T", inner)
}

// inner returns the TypeInner behind handle h.
func (c *typeCache) inner(h nagair.TypeHandle) nagair.TypeInner {
	if int(h) >= len(c.module.Types) {
		return nil
	}
	return c.module.Types[h].Inner
}

// resolve returns the TypeInner of a type resolution, looking through
// pointers.
func (c *typeCache) resolve(r nagair.TypeResolution) nagair.TypeInner {
	var inner nagair.TypeInner
	if r.Handle != nil {
		inner = c.inner(*r.Handle)
	} else {
		inner = r.Value
	}
	if p, ok := inner.(nagair.PointerType); ok {
		return c.inner(p.Base)
	}
	return inner
}

// scalarOf returns the scalar type of a scalar, vector, matrix or atomic.
func scalarOf(inner nagair.TypeInner) (nagair.ScalarType, bool) {
	switch t := inner.(type) {
	case nagair.ScalarType:
		return t, true
	case nagair.VectorType:
		return t.Scalar, true
	case nagair.MatrixType:
		return t.Scalar, true
	case nagair.AtomicType:
		return t.Scalar, true
	}
	return nagair.ScalarType{}, false
}
