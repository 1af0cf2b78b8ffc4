package ir

import "math"

// CursorOption is the kind of a builder insertion point.
type CursorOption uint8

const (
	CursorBeforeBlock CursorOption = iota
	CursorAfterBlock
	CursorBeforeInstr
	CursorAfterInstr
)

// Cursor is an insertion point inside a block.
type Cursor struct {
	Option CursorOption
	Block  *Block
	Instr  Instr
}

// Before places new code immediately before i.
func Before(i Instr) Cursor { return Cursor{Option: CursorBeforeInstr, Block: i.Block(), Instr: i} }

// After places new code immediately after i.
func After(i Instr) Cursor { return Cursor{Option: CursorAfterInstr, Block: i.Block(), Instr: i} }

// BlockStart places new code at the top of b.
func BlockStart(b *Block) Cursor { return Cursor{Option: CursorBeforeBlock, Block: b} }

// BlockEnd places new code at the bottom of b.
func BlockEnd(b *Block) Cursor { return Cursor{Option: CursorAfterBlock, Block: b} }

// BlockEndBeforeJump places new code at the bottom of b but ahead of its
// terminating jump, if any.
func BlockEndBeforeJump(b *Block) Cursor {
	if j := b.Jump(); j != nil {
		return Before(j)
	}
	return BlockEnd(b)
}

// AfterPhis places new code after the phis at the top of b.
func AfterPhis(b *Block) Cursor {
	var last *Phi
	for p := range b.Phis() {
		last = p
	}
	if last == nil {
		return BlockStart(b)
	}
	return After(last)
}

// Builder emits instructions at a cursor. Every emitted instruction moves
// the cursor past itself, so consecutive calls produce code in call order.
// Integer ALU operations whose sources are all constant are folded and
// yield a LoadConst instead.
type Builder struct {
	Func   *Function
	Cursor Cursor
}

// NewBuilder returns a builder for fn positioned at c.
func NewBuilder(fn *Function, c Cursor) *Builder {
	return &Builder{Func: fn, Cursor: c}
}

// At returns a builder for the function containing i positioned before i.
func At(i Instr) *Builder {
	return &Builder{Func: i.Block().fn, Cursor: Before(i)}
}

// Insert places i at the cursor and moves the cursor after it.
func (b *Builder) Insert(i Instr) {
	c := b.Cursor
	switch c.Option {
	case CursorBeforeBlock:
		c.Block.prepend(i)
	case CursorAfterBlock:
		c.Block.append(i)
	case CursorBeforeInstr:
		c.Block.insertBefore(c.Instr, i)
	case CursorAfterInstr:
		c.Block.insertAfter(c.Instr, i)
	}
	b.Cursor = After(i)
}

// Imm emits a constant with one lane per value.
func (b *Builder) Imm(bitSize uint8, lanes ...uint64) *Value {
	if len(lanes) == 0 || len(lanes) > 4 {
		panic("ir: constants hold one to four lanes")
	}
	c := b.Func.arena().consts.allocate()
	*c = LoadConst{}
	for i, l := range lanes {
		c.Lanes[i] = mask(l, bitSize)
	}
	b.Func.newValue(&c.def, c, uint8(len(lanes)), bitSize)
	b.Insert(c)
	return &c.def
}

// Imm32 emits a 32-bit scalar constant.
func (b *Builder) Imm32(v uint32) *Value { return b.Imm(32, uint64(v)) }

// ImmInt emits a scalar constant of the given width.
func (b *Builder) ImmInt(v uint64, bitSize uint8) *Value { return b.Imm(bitSize, v) }

// ImmFloat32 emits a 32-bit float constant.
func (b *Builder) ImmFloat32(f float32) *Value { return b.Imm(32, uint64(math.Float32bits(f))) }

// ImmBool emits a boolean constant.
func (b *Builder) ImmBool(v bool) *Value { return b.Imm(1, b2u(v)) }

// Undef emits a value with unspecified contents.
func (b *Builder) Undef(components, bitSize uint8) *Value {
	u := b.Func.arena().undefs.allocate()
	*u = Undef{}
	b.Func.newValue(&u.def, u, components, bitSize)
	b.Insert(u)
	return &u.def
}

type aluIn struct {
	v   *Value
	swz [4]uint8
}

func replicate(v *Value) aluIn {
	in := aluIn{v: v}
	for c := range in.swz {
		in.swz[c] = uint8(min(c, int(v.NumComponents)-1))
	}
	return in
}

func (b *Builder) emitALU(op ALUOp, components, bitSize uint8, ins ...aluIn) *Value {
	if lanes, ok := tryFold(op, components, bitSize, ins); ok {
		return b.Imm(bitSize, lanes[:components]...)
	}
	a := b.Func.arena().alus.allocate()
	*a = ALU{Op: op, Srcs: make([]ALUSrc, len(ins))}
	for i, in := range ins {
		a.Srcs[i].Swizzle = in.swz
		a.Srcs[i].init(a, in.v)
	}
	b.Func.newValue(&a.def, a, components, bitSize)
	b.Insert(a)
	return &a.def
}

// ALU emits op. Per-component opcodes produce as many components as their
// widest source; narrower sources are replicated.
func (b *Builder) ALU(op ALUOp, srcs ...*Value) *Value {
	info := &aluInfos[op]
	if len(srcs) != info.NumInputs {
		panic("ir: wrong number of sources for " + op.String())
	}
	components := info.OutputSize
	if components == 0 {
		for i, s := range srcs {
			if info.InputSizes[i] == 0 {
				components = max(components, s.NumComponents)
			}
		}
	}
	bitSize := info.OutputBits
	switch {
	case bitSize != 0:
	case op == OpBcsel:
		bitSize = srcs[1].BitSize
	default:
		bitSize = srcs[0].BitSize
	}
	ins := make([]aluIn, len(srcs))
	for i, s := range srcs {
		ins[i] = replicate(s)
	}
	return b.emitALU(op, components, bitSize, ins...)
}

// immLike emits a scalar constant matching the width of v.
func (b *Builder) immLike(v *Value, imm uint64) *Value { return b.Imm(v.BitSize, imm) }

func (b *Builder) IAdd(x, y *Value) *Value { return b.ALU(OpIAdd, x, y) }
func (b *Builder) ISub(x, y *Value) *Value { return b.ALU(OpISub, x, y) }
func (b *Builder) IMul(x, y *Value) *Value { return b.ALU(OpIMul, x, y) }
func (b *Builder) UMin(x, y *Value) *Value { return b.ALU(OpUMin, x, y) }
func (b *Builder) UMax(x, y *Value) *Value { return b.ALU(OpUMax, x, y) }
func (b *Builder) IAnd(x, y *Value) *Value { return b.ALU(OpIAnd, x, y) }
func (b *Builder) IOr(x, y *Value) *Value  { return b.ALU(OpIOr, x, y) }
func (b *Builder) IShl(x, y *Value) *Value { return b.ALU(OpIShl, x, y) }
func (b *Builder) UShr(x, y *Value) *Value { return b.ALU(OpUShr, x, y) }
func (b *Builder) IEq(x, y *Value) *Value  { return b.ALU(OpIEq, x, y) }
func (b *Builder) INe(x, y *Value) *Value  { return b.ALU(OpINe, x, y) }
func (b *Builder) ILt(x, y *Value) *Value  { return b.ALU(OpILt, x, y) }
func (b *Builder) ULt(x, y *Value) *Value  { return b.ALU(OpULt, x, y) }
func (b *Builder) UGe(x, y *Value) *Value  { return b.ALU(OpUGe, x, y) }

// IAddImm adds a constant, returning x unchanged for zero.
func (b *Builder) IAddImm(x *Value, imm uint64) *Value {
	if mask(imm, x.BitSize) == 0 {
		return x
	}
	return b.IAdd(x, b.immLike(x, imm))
}

// IMulImm multiplies by a constant, returning x unchanged for one.
func (b *Builder) IMulImm(x *Value, imm uint64) *Value {
	if imm == 1 {
		return x
	}
	return b.IMul(x, b.immLike(x, imm))
}

// UMinImm clamps x to at most imm.
func (b *Builder) UMinImm(x *Value, imm uint64) *Value { return b.UMin(x, b.immLike(x, imm)) }

// IEqImm compares x against a constant.
func (b *Builder) IEqImm(x *Value, imm uint64) *Value { return b.IEq(x, b.immLike(x, imm)) }

// IShlImm shifts x left by a constant.
func (b *Builder) IShlImm(x *Value, imm uint64) *Value {
	if imm == 0 {
		return x
	}
	return b.IShl(x, b.Imm32(uint32(imm)))
}

// Bcsel selects t where cond is true and f elsewhere.
func (b *Builder) Bcsel(cond, t, f *Value) *Value { return b.ALU(OpBcsel, cond, t, f) }

// Vec gathers scalars into a vector. A single scalar is returned as is.
func (b *Builder) Vec(comps ...*Value) *Value {
	if len(comps) == 1 {
		return comps[0]
	}
	return b.ALU(VecOp(len(comps)), comps...)
}

// Channel extracts component c of v.
func (b *Builder) Channel(v *Value, c int) *Value {
	if v.NumComponents == 1 && c == 0 {
		return v
	}
	return b.emitALU(OpMov, 1, v.BitSize, aluIn{v: v, swz: [4]uint8{uint8(c)}})
}

// Channels extracts n consecutive components of v starting at first.
func (b *Builder) Channels(v *Value, first, n int) *Value {
	if first == 0 && n == int(v.NumComponents) {
		return v
	}
	var swz [4]uint8
	for c := range n {
		swz[c] = uint8(first + c)
	}
	return b.emitALU(OpMov, uint8(n), v.BitSize, aluIn{v: v, swz: swz})
}

// ExtractU8 extracts byte i of every component of v.
func (b *Builder) ExtractU8(v *Value, i uint32) *Value {
	return b.ALU(OpExtractU8, v, b.Imm(v.BitSize, uint64(i)))
}

// ExtractU16 extracts half-word i of every component of v.
func (b *Builder) ExtractU16(v *Value, i uint32) *Value {
	return b.ALU(OpExtractU16, v, b.Imm(v.BitSize, uint64(i)))
}

// Pack64Split builds a 64-bit scalar from two 32-bit halves.
func (b *Builder) Pack64Split(lo, hi *Value) *Value { return b.ALU(OpPack64_2x32Split, lo, hi) }

// Pack64 builds a 64-bit scalar from a two-component 32-bit vector.
func (b *Builder) Pack64(v *Value) *Value {
	return b.Pack64Split(b.Channel(v, 0), b.Channel(v, 1))
}

// Unpack64 splits a 64-bit scalar into its low and high halves.
func (b *Builder) Unpack64(v *Value) (lo, hi *Value) {
	return b.ALU(OpUnpack64_2x32SplitX, v), b.ALU(OpUnpack64_2x32SplitY, v)
}

// U2U zero-extends or truncates v to bitSize.
func (b *Builder) U2U(v *Value, bitSize uint8) *Value {
	if v.BitSize == bitSize {
		return v
	}
	return b.emitALU(OpU2U, v.NumComponents, bitSize, replicate(v))
}

// Intrinsic emits an intrinsic. components sets the width of variable-width
// sources and results; it is ignored when the opcode fixes the result width.
func (b *Builder) Intrinsic(op IntrinsicOp, components, bitSize uint8, srcs ...*Value) *Intrinsic {
	info := &intrinsicInfos[op]
	if len(srcs) != info.NumSrcs {
		panic("ir: wrong number of sources for " + op.String())
	}
	in := b.Func.arena().intrinsics.allocate()
	*in = Intrinsic{Op: op, Srcs: make([]Src, len(srcs)), NumComponents: components}
	for i, s := range srcs {
		in.Srcs[i].init(in, s)
	}
	if info.HasDest {
		n := components
		if info.DestComponents != 0 {
			n = info.DestComponents
		}
		b.Func.newValue(&in.def, in, n, bitSize)
	}
	b.Insert(in)
	return in
}

// LoadUBO loads from a uniform buffer addressed by a binding table index.
func (b *Builder) LoadUBO(components, bitSize uint8, index, offset *Value, alignMul, alignOffset, rangeBase, rng uint32) *Value {
	in := b.Intrinsic(OpLoadUBO, components, bitSize, index, offset)
	in.SetAttr(IndexAccess, uint32(AccessNonWritable|AccessCanReorder))
	in.SetAttr(IndexAlignMul, alignMul)
	in.SetAttr(IndexAlignOffset, alignOffset)
	in.SetAttr(IndexRangeBase, rangeBase)
	in.SetAttr(IndexRange, rng)
	return in.Def()
}

// LoadPushConstant loads from the push constant block.
func (b *Builder) LoadPushConstant(components, bitSize uint8, offset *Value, base, rng uint32) *Value {
	in := b.Intrinsic(OpLoadPushConstant, components, bitSize, offset)
	in.SetAttr(IndexBase, base)
	in.SetAttr(IndexRange, rng)
	return in.Def()
}

// LoadGlobalConstant loads read-only memory through a 64-bit address.
func (b *Builder) LoadGlobalConstant(components, bitSize uint8, addr *Value, alignMul, alignOffset uint32) *Value {
	in := b.Intrinsic(OpLoadGlobalConstant, components, bitSize, addr)
	in.SetAttr(IndexAccess, uint32(AccessNonWritable|AccessCanReorder))
	in.SetAttr(IndexAlignMul, alignMul)
	in.SetAttr(IndexAlignOffset, alignOffset)
	return in.Def()
}

// LoadRelocConst emits a 32-bit value patched in at upload time.
func (b *Builder) LoadRelocConst(param uint32) *Value {
	in := b.Intrinsic(OpLoadRelocConstIntel, 1, 32)
	in.SetAttr(IndexParamIdx, param)
	return in.Def()
}

// elemType returns the type reached by indexing t.
func elemType(t *Type) *Type {
	switch t.kind {
	case TypeArray:
		return t.elem
	case TypeVector:
		return Scalar(t.base, t.bitSize)
	case TypeMatrix:
		return Vector(t.base, t.bitSize, t.components)
	}
	return t
}

func (b *Builder) newDeref(kind DerefKind, mode VarMode, typ *Type, components, bitSize uint8) *Deref {
	d := b.Func.arena().derefs.allocate()
	*d = Deref{DerefKind: kind, Mode: mode, Type: typ}
	b.Func.newValue(&d.def, d, components, bitSize)
	return d
}

// DerefVar starts a chain at v.
func (b *Builder) DerefVar(v *Variable) *Deref {
	d := b.newDeref(DerefVar, v.Data.Mode, v.Type, 1, 32)
	d.Var = v
	b.Insert(d)
	return d
}

// DerefArray indexes an array, vector or matrix.
func (b *Builder) DerefArray(parent *Deref, index *Value) *Deref {
	d := b.newDeref(DerefArray, parent.Mode, elemType(parent.Type), parent.def.NumComponents, parent.def.BitSize)
	d.Parent.init(d, &parent.def)
	d.Index.init(d, index)
	b.Insert(d)
	return d
}

// DerefArrayImm indexes with a constant.
func (b *Builder) DerefArrayImm(parent *Deref, index uint32) *Deref {
	return b.DerefArray(parent, b.Imm32(index))
}

// DerefPtrAsArray offsets a pointer by whole elements.
func (b *Builder) DerefPtrAsArray(parent *Deref, index *Value) *Deref {
	d := b.newDeref(DerefPtrAsArray, parent.Mode, parent.Type, parent.def.NumComponents, parent.def.BitSize)
	d.PtrStride = parent.PtrStride
	d.Parent.init(d, &parent.def)
	d.Index.init(d, index)
	b.Insert(d)
	return d
}

// DerefStruct selects a struct member.
func (b *Builder) DerefStruct(parent *Deref, field int) *Deref {
	d := b.newDeref(DerefStruct, parent.Mode, parent.Type.fields[field].Type, parent.def.NumComponents, parent.def.BitSize)
	d.Field = field
	d.Parent.init(d, &parent.def)
	b.Insert(d)
	return d
}

// DerefCast re-roots a chain onto an address value.
func (b *Builder) DerefCast(ptr *Value, mode VarMode, typ *Type, ptrStride uint32) *Deref {
	d := b.newDeref(DerefCast, mode, typ, ptr.NumComponents, ptr.BitSize)
	d.PtrStride = ptrStride
	d.Parent.init(d, ptr)
	b.Insert(d)
	return d
}

// LoadDeref loads the value d refers to.
func (b *Builder) LoadDeref(d *Deref) *Value {
	t := d.Type
	in := b.Intrinsic(OpLoadDeref, t.components, t.bitSize, &d.def)
	return in.Def()
}

// StoreDeref writes v through d.
func (b *Builder) StoreDeref(d *Deref, v *Value) *Intrinsic {
	in := b.Intrinsic(OpStoreDeref, v.NumComponents, 0, &d.def, v)
	in.SetAttr(IndexWriteMask, 1<<v.NumComponents-1)
	return in
}

// NewTex allocates a texture instruction. Add its sources, then place it
// with InsertTex.
func (b *Builder) NewTex(op TexOp, dim SamplerDim) *Tex {
	t := b.Func.arena().texs.allocate()
	*t = Tex{Op: op, Dim: dim, DestType: BaseFloat}
	return t
}

// InsertTex places t at the cursor and defines its result.
func (b *Builder) InsertTex(t *Tex, components, bitSize uint8) *Value {
	b.Func.newValue(&t.def, t, components, bitSize)
	b.Insert(t)
	return &t.def
}

// Phi emits an empty phi at the top of the cursor block.
func (b *Builder) Phi(components, bitSize uint8) *Phi {
	p := b.Func.arena().phis.allocate()
	*p = Phi{}
	b.Func.newValue(&p.def, p, components, bitSize)
	blk := b.Cursor.Block
	b.Cursor = AfterPhis(blk)
	b.Insert(p)
	return p
}

// Jump ends the cursor block with a structured exit.
func (b *Builder) Jump(kind JumpKind) *Jump {
	j := b.Func.arena().jumps.allocate()
	*j = Jump{JumpKind: kind}
	b.Insert(j)
	b.Func.Preserve(MetaNone)
	return j
}

// splitAtCursor moves the code after the cursor into a new block that is
// linked into the CF list after the current block once a node is placed
// between them. It returns the current block and the tail.
func (b *Builder) splitAtCursor() (*Block, *Block) {
	c := b.Cursor
	cur := c.Block
	var tail *Block
	switch c.Option {
	case CursorBeforeBlock:
		tail = cur.splitAfter(nil, true)
	case CursorAfterBlock:
		tail = cur.splitAfter(nil, false)
	case CursorBeforeInstr:
		tail = cur.splitAfter(PrevInstr(c.Instr), PrevInstr(c.Instr) == nil)
	case CursorAfterInstr:
		tail = cur.splitAfter(c.Instr, false)
	}
	return cur, tail
}

func (b *Builder) newList(parent CFNode) *CFList {
	l := &CFList{parent: parent}
	l.append(b.Func.newBlock())
	return l
}

// PushIf splits the code at the cursor and starts an If on cond. The cursor
// moves into the then branch.
func (b *Builder) PushIf(cond *Value) *If {
	cur, tail := b.splitAtCursor()
	n := &If{}
	n.Cond.parentIf = n
	n.Cond.Set(cond)
	n.Then = b.newList(n)
	n.Else = b.newList(n)
	cur.list.insertAfter(cur, n)
	cur.list.insertAfter(n, tail)
	b.Func.Preserve(MetaNone)
	b.Cursor = BlockEnd(n.Then.LastBlock())
	return n
}

// PushElse moves the cursor into the else branch of n.
func (b *Builder) PushElse(n *If) {
	b.Cursor = BlockEnd(n.Else.LastBlock())
}

// PopIf moves the cursor to the code following n.
func (b *Builder) PopIf(n *If) {
	b.Cursor = AfterPhis(followingBlock(n))
}

// IfPhi merges the values flowing out of both branches of n.
func (b *Builder) IfPhi(n *If, thenVal, elseVal *Value) *Value {
	b.Cursor = AfterPhis(followingBlock(n))
	p := b.Phi(thenVal.NumComponents, thenVal.BitSize)
	p.AddSrc(n.Then.LastBlock(), thenVal)
	p.AddSrc(n.Else.LastBlock(), elseVal)
	return &p.def
}

// PushLoop splits the code at the cursor and starts a loop. The cursor moves
// into the loop body.
func (b *Builder) PushLoop() *Loop {
	cur, tail := b.splitAtCursor()
	n := &Loop{}
	n.Body = b.newList(n)
	cur.list.insertAfter(cur, n)
	cur.list.insertAfter(n, tail)
	b.Func.Preserve(MetaNone)
	b.Cursor = BlockEnd(n.Body.LastBlock())
	return n
}

// PopLoop moves the cursor to the code following n.
func (b *Builder) PopLoop(n *Loop) {
	b.Cursor = AfterPhis(followingBlock(n))
}

// NewSSA mints a value of the given shape that has no defining instruction
// yet. It serves as a placeholder for forward references and must be
// replaced with ReplaceAllUses before the function is handed to a pass.
func (f *Function) NewSSA(t *Type) *Value {
	v := new(Value)
	bitSize := t.bitSize
	if bitSize == 0 {
		bitSize = 32
	}
	f.newValue(v, nil, max(t.components, 1), bitSize)
	return v
}
