package ir

import "testing"

func newTestShader() (*Shader, *Function, *Builder) {
	s := NewShader(StageFragment, "test")
	fn := s.NewFunction("main")
	fn.IsEntry = true
	return s, fn, NewBuilder(fn, BlockEnd(fn.StartBlock()))
}

func mustValidate(t *testing.T, s *Shader) {
	t.Helper()
	errs, err := Validate(s)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range errs {
		t.Errorf("unexpected validation error: %v", e)
	}
}

func constLane(t *testing.T, v *Value, c int) uint64 {
	t.Helper()
	lane, ok := v.ConstLane(c)
	if !ok {
		t.Fatalf("Expected %s to be constant, defined by %s", v, FormatInstr(v.Parent()))
	}
	return lane
}

func TestBuilder_Folding(t *testing.T) {
	_, _, b := newTestShader()
	tests := []struct {
		name string
		got  *Value
		want uint64
	}{
		{"iadd", b.IAdd(b.Imm32(3), b.Imm32(4)), 7},
		{"umin", b.UMinImm(b.Imm32(10), 3), 3},
		{"imul wraps", b.IMul(b.Imm32(0x80000000), b.Imm32(2)), 0},
		{"ishl", b.IShlImm(b.Imm32(64), 16), 64 << 16},
		{"extract_u8", b.ExtractU8(b.Imm32(0x11223344), 2), 0x22},
		{"extract_u16", b.ExtractU16(b.Imm32(0x11223344), 1), 0x1122},
		{"pack64", b.Pack64Split(b.Imm32(1), b.Imm32(2)), 2<<32 | 1},
		{"ult", b.ULt(b.Imm32(1), b.Imm32(2)), 1},
		{"ilt signed", b.ILt(b.Imm32(0xffffffff), b.Imm32(0)), 1},
		{"bcsel", b.Bcsel(b.ImmBool(false), b.Imm32(5), b.Imm32(9)), 9},
		{"channel", b.Channel(b.Vec(b.Imm32(1), b.Imm32(2), b.Imm32(5)), 2), 5},
	}
	for _, tt := range tests {
		if got := constLane(t, tt.got, 0); got != tt.want {
			t.Errorf("%s: got %#x, want %#x", tt.name, got, tt.want)
		}
	}
}

func TestBuilder_FoldingAllocatesOneValue(t *testing.T) {
	s, fn, b := newTestShader()
	x, y := b.Imm32(3), b.Imm32(4)
	before := fn.NumValues()
	sum := b.IAdd(x, y)
	if got := fn.NumValues() - before; got != 1 {
		t.Errorf("folding used %d value indices, want 1", got)
	}
	if sum.Index != before {
		t.Errorf("folded value index = %d, want %d", sum.Index, before)
	}
	if x.NumUses() != 0 || y.NumUses() != 0 {
		t.Errorf("Expected folded operands to have no uses, got %d and %d", x.NumUses(), y.NumUses())
	}
	mustValidate(t, s)
}

func TestBuilder_NoFoldOnRuntimeValues(t *testing.T) {
	s, _, b := newTestShader()
	x := b.Undef(1, 32)
	sum := b.IAddImm(x, 4)
	alu, ok := sum.Parent().(*ALU)
	if !ok || alu.Op != OpIAdd {
		t.Fatalf("Expected an iadd, got %s", FormatInstr(sum.Parent()))
	}
	if x.NumUses() != 1 {
		t.Errorf("Expected x to have 1 use, got %d", x.NumUses())
	}
	if same := b.IAddImm(x, 0); same != x {
		t.Error("Expected adding zero to return the operand")
	}
	if same := b.IMulImm(x, 1); same != x {
		t.Error("Expected multiplying by one to return the operand")
	}
	mustValidate(t, s)
}

func TestBuilder_VectorWidth(t *testing.T) {
	_, _, b := newTestShader()
	v := b.Undef(4, 32)
	sum := b.IAdd(v, b.Imm32(1))
	if sum.NumComponents != 4 {
		t.Errorf("Expected scalar operand to be replicated, got %d components", sum.NumComponents)
	}
	alu := sum.Parent().(*ALU)
	if alu.Srcs[1].Swizzle != [4]uint8{0, 0, 0, 0} {
		t.Errorf("Expected replicated swizzle, got %v", alu.Srcs[1].Swizzle)
	}
	cmp := b.ILt(b.Undef(1, 32), b.Imm32(3))
	if cmp.BitSize != 1 {
		t.Errorf("Expected a 1-bit comparison, got %d bits", cmp.BitSize)
	}
	sel := b.Bcsel(cmp, b.Undef(1, 64), b.ImmInt(0, 64))
	if sel.BitSize != 64 {
		t.Errorf("Expected bcsel to take its width from the data operands, got %d", sel.BitSize)
	}
	wide := b.U2U(b.Undef(1, 32), 64)
	if wide.BitSize != 64 {
		t.Errorf("Expected u2u to widen to 64 bits, got %d", wide.BitSize)
	}
	xy := b.Channels(v, 1, 2)
	if xy.NumComponents != 2 || xy.Parent().(*ALU).Srcs[0].Swizzle[1] != 2 {
		t.Errorf("Expected channels y and z, got %s", FormatInstr(xy.Parent()))
	}
}

func TestBuilder_CursorOrder(t *testing.T) {
	_, fn, b := newTestShader()
	first := b.Undef(1, 32)
	last := b.Undef(1, 32)
	b.Cursor = Before(last.Parent())
	mid := b.Undef(1, 32)
	b.Cursor = BlockStart(fn.StartBlock())
	top := b.Undef(1, 32)

	var order []*Value
	for i := range fn.StartBlock().Instrs() {
		order = append(order, i.Def())
	}
	want := []*Value{top, first, mid, last}
	if len(order) != len(want) {
		t.Fatalf("Expected %d instructions, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("instruction %d = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestReplaceAllUses(t *testing.T) {
	s, _, b := newTestShader()
	x := b.Undef(1, 32)
	y := b.Undef(1, 32)
	sum := b.IAdd(x, x)
	if x.NumUses() != 2 {
		t.Fatalf("Expected 2 uses of x, got %d", x.NumUses())
	}
	x.ReplaceAllUses(y)
	if x.NumUses() != 0 || y.NumUses() != 2 {
		t.Errorf("Expected uses to move from x to y, got %d and %d", x.NumUses(), y.NumUses())
	}
	for s := range Srcs(sum.Parent()) {
		if s.Value() != y {
			t.Errorf("Expected source to read y, got %s", s)
		}
	}
	mustValidate(t, s)

	RemoveInstr(sum.Parent())
	if y.NumUses() != 0 {
		t.Errorf("Expected RemoveInstr to unlink sources, got %d uses", y.NumUses())
	}
	if sum.Parent().Block() != nil {
		t.Error("Expected removed instruction to be detached")
	}
	mustValidate(t, s)
}

func TestReplaceUsesAfter(t *testing.T) {
	_, _, b := newTestShader()
	x := b.Undef(1, 32)
	before := b.IAddImm(x, 1)
	y := b.IAddImm(x, 2)
	after := b.IAdd(x, y)

	x.ReplaceUsesAfter(y, y.Parent())
	if before.Parent().(*ALU).Srcs[0].Value() != x {
		t.Error("Expected uses before the pivot to stay")
	}
	if y.Parent().(*ALU).Srcs[0].Value() != x {
		t.Error("Expected the pivot itself to keep reading x")
	}
	if after.Parent().(*ALU).Srcs[0].Value() != y {
		t.Error("Expected uses after the pivot to be rewritten")
	}
}

func TestBuilder_IfPhi(t *testing.T) {
	s, fn, b := newTestShader()
	cond := b.INe(b.Undef(1, 32), b.Imm32(0))
	nif := b.PushIf(cond)
	thenVal := b.Imm32(1)
	b.PushElse(nif)
	elseVal := b.Imm32(2)
	b.PopIf(nif)
	merged := b.IfPhi(nif, thenVal, elseVal)
	b.IAdd(merged, b.Imm32(3))

	if fn.Body.Len() != 3 {
		t.Fatalf("Expected block, if, block; got %d nodes", fn.Body.Len())
	}
	if nif.Cond.Value() != cond || nif.Cond.ParentIf() != nif {
		t.Error("Expected the if condition to read cond")
	}
	phi, ok := merged.Parent().(*Phi)
	if !ok || len(phi.Srcs) != 2 {
		t.Fatalf("Expected a two-source phi, got %s", FormatInstr(merged.Parent()))
	}
	if phi.Block() != fn.Body.LastBlock() {
		t.Error("Expected the phi in the block after the if")
	}
	mustValidate(t, s)
}

func TestNewSSAPlaceholder(t *testing.T) {
	s, fn, b := newTestShader()
	ph := fn.NewSSA(Vector(BaseUint, 32, 2))
	if ph.NumComponents != 2 || ph.BitSize != 32 {
		t.Fatalf("Expected a 2x32 placeholder, got %dx%d", ph.BitSize, ph.NumComponents)
	}
	use := b.Channel(ph, 1)
	concrete := b.Undef(2, 32)
	ph.ReplaceAllUses(concrete)
	if use.Parent().(*ALU).Srcs[0].Value() != concrete {
		t.Error("Expected the placeholder use to be rewritten")
	}
	// The use precedes the concrete definition, which the validator reports.
	errs, _ := Validate(s)
	if len(errs) == 0 {
		t.Error("Expected a use-before-definition error")
	}
}
