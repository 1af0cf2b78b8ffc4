package ir

import (
	"iter"
	"slices"
)

// InstrKind identifies the concrete type of an instruction.
type InstrKind uint8

const (
	InstrALU InstrKind = iota
	InstrLoadConst
	InstrUndef
	InstrIntrinsic
	InstrTex
	InstrDeref
	InstrPhi
	InstrJump
)

// Instr is an instruction living in a block.
type Instr interface {
	Kind() InstrKind
	// Block returns the containing block, or nil once removed.
	Block() *Block
	// Def returns the SSA value defined by the instruction, or nil.
	Def() *Value
	node() *instrNode
	srcs() iter.Seq[*Src]
}

type instrNode struct {
	block      *Block
	prev, next Instr
}

func (n *instrNode) Block() *Block    { return n.block }
func (n *instrNode) node() *instrNode { return n }

// NextInstr returns the instruction following i in its block, or nil.
func NextInstr(i Instr) Instr { return i.node().next }

// PrevInstr returns the instruction preceding i in its block, or nil.
func PrevInstr(i Instr) Instr { return i.node().prev }

// Srcs iterates every source slot of i.
func Srcs(i Instr) iter.Seq[*Src] { return i.srcs() }

// Value is an SSA definition.
type Value struct {
	Index         uint32
	NumComponents uint8
	BitSize       uint8

	parent Instr
	uses   []*Src
}

// Parent returns the defining instruction.
func (v *Value) Parent() Instr { return v.parent }

// Uses iterates the source slots reading v.
func (v *Value) Uses() iter.Seq[*Src] {
	return func(yield func(*Src) bool) {
		for _, s := range v.uses {
			if !yield(s) {
				return
			}
		}
	}
}

// NumUses returns the length of the use-list.
func (v *Value) NumUses() int { return len(v.uses) }

// ReplaceAllUses points every use of v at nv and empties v's use-list.
func (v *Value) ReplaceAllUses(nv *Value) {
	if v == nv {
		return
	}
	for _, s := range slices.Clone(v.uses) {
		s.Set(nv)
	}
}

// ReplaceUsesAfter rewrites the uses of v that do not belong to after or
// any instruction preceding it in the same block.
func (v *Value) ReplaceUsesAfter(nv *Value, after Instr) {
	for _, s := range slices.Clone(v.uses) {
		if p := s.Parent(); p != nil && p.Block() == after.Block() && !instrFollows(p, after) {
			continue
		}
		s.Set(nv)
	}
}

func instrFollows(i, after Instr) bool {
	for x := NextInstr(after); x != nil; x = NextInstr(x) {
		if x == i {
			return true
		}
	}
	return false
}

// IsConst reports whether v is defined by a LoadConst.
func (v *Value) IsConst() bool {
	_, ok := v.parent.(*LoadConst)
	return ok
}

// ConstLane returns component c of a constant value.
func (v *Value) ConstLane(c int) (uint64, bool) {
	lc, ok := v.parent.(*LoadConst)
	if !ok {
		return 0, false
	}
	return lc.Lanes[c], true
}

func (v *Value) String() string { return "%" + itoa(int(v.Index)) }

func (v *Value) addUse(s *Src) { v.uses = append(v.uses, s) }

func (v *Value) removeUse(s *Src) {
	if i := slices.Index(v.uses, s); i >= 0 {
		v.uses = slices.Delete(v.uses, i, i+1)
	}
}

// Register is a non-SSA variable that may be written several times.
type Register struct {
	Index         uint32
	NumComponents uint8
	BitSize       uint8
	NumArrayElems uint32

	uses []*Src
	defs []*ALU
}

// Uses iterates the source slots reading r.
func (r *Register) Uses() iter.Seq[*Src] { return slices.Values(r.uses) }

// Defs iterates the instructions writing r.
func (r *Register) Defs() iter.Seq[*ALU] { return slices.Values(r.defs) }

func (r *Register) String() string { return "r" + itoa(int(r.Index)) }

// Src is an operand slot. Its address is stable for the lifetime of the
// owning instruction, which lets use-lists hold pointers to it.
type Src struct {
	ssa *Value
	reg *Register

	parent   Instr
	parentIf *If
}

// Value returns the SSA value read by s, or nil if s reads a register.
func (s *Src) Value() *Value { return s.ssa }

// Register returns the register read by s, or nil.
func (s *Src) Register() *Register { return s.reg }

// Parent returns the instruction owning s, or nil for an if condition.
func (s *Src) Parent() Instr { return s.parent }

// ParentIf returns the If whose condition is s, or nil.
func (s *Src) ParentIf() *If { return s.parentIf }

// Set rewrites s to read v, keeping both use-lists consistent.
func (s *Src) Set(v *Value) {
	s.unlink()
	s.ssa = v
	if v != nil {
		v.addUse(s)
	}
}

// SetRegister rewrites s to read r.
func (s *Src) SetRegister(r *Register) {
	s.unlink()
	s.reg = r
	r.uses = append(r.uses, s)
}

func (s *Src) unlink() {
	if s.ssa != nil {
		s.ssa.removeUse(s)
		s.ssa = nil
	}
	if s.reg != nil {
		if i := slices.Index(s.reg.uses, s); i >= 0 {
			s.reg.uses = slices.Delete(s.reg.uses, i, i+1)
		}
		s.reg = nil
	}
}

func (s *Src) init(parent Instr, v *Value) {
	s.parent = parent
	s.Set(v)
}

// IsConst reports whether s reads a constant SSA value.
func (s *Src) IsConst() bool { return s.ssa != nil && s.ssa.IsConst() }

// ConstUint returns lane 0 of a constant source.
func (s *Src) ConstUint() (uint64, bool) {
	if s.ssa == nil {
		return 0, false
	}
	return s.ssa.ConstLane(0)
}

func (s *Src) String() string {
	switch {
	case s.ssa != nil:
		return s.ssa.String()
	case s.reg != nil:
		return s.reg.String()
	}
	return "<null>"
}

// LoadConst defines an immediate of up to four lanes.
type LoadConst struct {
	instrNode
	Lanes [4]uint64
	def   Value
}

func (c *LoadConst) Kind() InstrKind      { return InstrLoadConst }
func (c *LoadConst) Def() *Value          { return &c.def }
func (c *LoadConst) srcs() iter.Seq[*Src] { return func(func(*Src) bool) {} }

// Undef defines a value with unspecified contents.
type Undef struct {
	instrNode
	def Value
}

func (u *Undef) Kind() InstrKind      { return InstrUndef }
func (u *Undef) Def() *Value          { return &u.def }
func (u *Undef) srcs() iter.Seq[*Src] { return func(func(*Src) bool) {} }

// PhiSrc is the incoming value of a phi along one predecessor edge.
type PhiSrc struct {
	Src
	Pred *Block
}

// Phi merges values at the top of a block.
type Phi struct {
	instrNode
	Srcs []*PhiSrc
	def  Value
}

func (p *Phi) Kind() InstrKind { return InstrPhi }
func (p *Phi) Def() *Value     { return &p.def }
func (p *Phi) srcs() iter.Seq[*Src] {
	return func(yield func(*Src) bool) {
		for _, ps := range p.Srcs {
			if !yield(&ps.Src) {
				return
			}
		}
	}
}

// AddSrc appends an incoming edge.
func (p *Phi) AddSrc(pred *Block, v *Value) {
	ps := &PhiSrc{Pred: pred}
	ps.init(p, v)
	p.Srcs = append(p.Srcs, ps)
}

// JumpKind is the kind of a structured exit.
type JumpKind uint8

const (
	JumpBreak JumpKind = iota
	JumpContinue
	JumpReturn
	JumpHalt
)

var jumpNames = [...]string{"break", "continue", "return", "halt"}

func (k JumpKind) String() string { return jumpNames[k] }

// Jump ends a block with a structured exit.
type Jump struct {
	instrNode
	JumpKind JumpKind
}

func (j *Jump) Kind() InstrKind      { return InstrJump }
func (j *Jump) Def() *Value          { return nil }
func (j *Jump) srcs() iter.Seq[*Src] { return func(func(*Src) bool) {} }

// RemoveInstr detaches i from its block and drops its operands from their
// use-lists. The uses of its result must have been rewritten already.
func RemoveInstr(i Instr) {
	for s := range i.srcs() {
		s.unlink()
	}
	if t, ok := i.(*Tex); ok {
		t.Srcs = nil
	}
	if a, ok := i.(*ALU); ok && a.reg != nil {
		if k := slices.Index(a.reg.defs, a); k >= 0 {
			a.reg.defs = slices.Delete(a.reg.defs, k, k+1)
		}
	}
	if b := i.Block(); b != nil {
		b.unlink(i)
	}
}
