package ir

import "iter"

// DerefKind is the kind of a deref step.
type DerefKind uint8

const (
	DerefVar DerefKind = iota
	DerefArray
	DerefStruct
	DerefCast
	DerefPtrAsArray
)

var derefNames = [...]string{"var", "array", "struct", "cast", "ptr_as_array"}

func (k DerefKind) String() string { return derefNames[k] }

// Deref is one step of a typed access path. A chain starts at a variable
// deref or at a cast of an arbitrary pointer value.
type Deref struct {
	instrNode
	DerefKind DerefKind
	Mode      VarMode
	Type      *Type

	// Var is set on variable derefs.
	Var *Variable
	// Parent is the deref or pointer value this step applies to.
	Parent Src
	// Index selects an array element.
	Index Src
	// Field selects a struct member.
	Field int
	// PtrStride is the element stride of cast and ptr_as_array steps.
	PtrStride   uint32
	AlignMul    uint32
	AlignOffset uint32

	def Value
}

func (d *Deref) Kind() InstrKind { return InstrDeref }
func (d *Deref) Def() *Value     { return &d.def }

func (d *Deref) srcs() iter.Seq[*Src] {
	return func(yield func(*Src) bool) {
		if d.DerefKind == DerefVar {
			return
		}
		if !yield(&d.Parent) {
			return
		}
		if d.DerefKind == DerefArray || d.DerefKind == DerefPtrAsArray {
			yield(&d.Index)
		}
	}
}

// ParentDeref returns the parent step, or nil when the parent is not a
// deref or d is a variable deref.
func (d *Deref) ParentDeref() *Deref {
	if d.DerefKind == DerefVar || d.Parent.Value() == nil {
		return nil
	}
	p, _ := d.Parent.Value().Parent().(*Deref)
	return p
}

// RootVar walks to the start of the chain and returns its variable, or nil
// when the chain starts at a cast.
func (d *Deref) RootVar() *Variable {
	for x := d; x != nil; x = x.ParentDeref() {
		if x.DerefKind == DerefVar {
			return x.Var
		}
	}
	return nil
}

// Root returns the first step of the chain.
func (d *Deref) Root() *Deref {
	for {
		p := d.ParentDeref()
		if p == nil {
			return d
		}
		d = p
	}
}

// AsDeref returns the deref defining v, or nil.
func AsDeref(v *Value) *Deref {
	if v == nil {
		return nil
	}
	d, _ := v.Parent().(*Deref)
	return d
}
