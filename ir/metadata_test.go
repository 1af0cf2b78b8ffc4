package ir

import (
	"slices"
	"testing"
)

// buildDiamond builds b0 -> if -> {b1, b2} -> b3.
func buildDiamond(t *testing.T) (*Function, *Value, *Value) {
	t.Helper()
	_, fn, b := newTestShader()
	cond := b.INe(b.Undef(1, 32), b.Imm32(0))
	nif := b.PushIf(cond)
	thenVal := b.Undef(1, 32)
	b.PushElse(nif)
	elseVal := b.Undef(1, 32)
	b.PopIf(nif)
	merged := b.IfPhi(nif, thenVal, elseVal)
	b.IAddImm(merged, 1)
	return fn, thenVal, merged
}

func TestMetadata_BlockIndex(t *testing.T) {
	fn, _, _ := buildDiamond(t)
	fn.Require(MetaBlockIndex)
	if got := fn.NumBlocks(); got != 4 {
		t.Fatalf("NumBlocks() = %d, want 4", got)
	}
	b0, b1, b2, b3 := fn.BlockAt(0), fn.BlockAt(1), fn.BlockAt(2), fn.BlockAt(3)
	if got := slices.Collect(b0.Succs()); !slices.Equal(got, []*Block{b1, b2}) {
		t.Errorf("b0 successors = %v, want [b1 b2]", got)
	}
	if got := b3.Preds(); !slices.Equal(got, []*Block{b1, b2}) {
		t.Errorf("b3 predecessors = %v, want [b1 b2]", got)
	}
	if got := slices.Collect(b3.Succs()); !slices.Equal(got, []*Block{fn.EndBlock()}) {
		t.Errorf("b3 successors = %v, want [end]", got)
	}
	if fn.BlockAt(4) != fn.EndBlock() {
		t.Error("Expected the index after the last block to be the end block")
	}
}

func TestMetadata_Dominance(t *testing.T) {
	fn, _, _ := buildDiamond(t)
	fn.Require(MetaDominance)
	b0, b1, b2, b3 := fn.BlockAt(0), fn.BlockAt(1), fn.BlockAt(2), fn.BlockAt(3)

	tests := []struct {
		a, b *Block
		want bool
	}{
		{b0, b1, true},
		{b0, b3, true},
		{b1, b3, false},
		{b2, b3, false},
		{b3, b3, true},
		{b1, b0, false},
	}
	for _, tt := range tests {
		if got := tt.a.Dominates(tt.b); got != tt.want {
			t.Errorf("%s.Dominates(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
	if b3.IDom() != b0 {
		t.Errorf("idom(b3) = %v, want b0", b3.IDom())
	}
	if b0.IDom() != nil {
		t.Error("Expected the start block to have no immediate dominator")
	}
	if got := b1.DomFrontier(); !slices.Equal(got, []*Block{b3}) {
		t.Errorf("DF(b1) = %v, want [b3]", got)
	}
	if got := b0.DomFrontier(); len(got) != 0 {
		t.Errorf("DF(b0) = %v, want []", got)
	}
	if got := len(b0.DomChildren()); got != 3 {
		t.Errorf("Expected b0 to immediately dominate 3 blocks, got %d", got)
	}
}

func TestMetadata_LiveDefs(t *testing.T) {
	fn, thenVal, merged := buildDiamond(t)
	fn.Require(MetaLiveDefs)
	b1, b3 := fn.BlockAt(1), fn.BlockAt(3)
	if !b1.LiveOut(thenVal) {
		t.Error("Expected a phi source to be live out of its predecessor")
	}
	if b3.LiveIn(thenVal) {
		t.Error("Expected a phi source not to be live into the phi's block")
	}
	if b3.LiveIn(merged) {
		t.Error("Expected the phi result not to be live into its own block")
	}
	if got := fn.BlockAt(0).NumLiveIn(); got != 0 {
		t.Errorf("Expected nothing live into the start block, got %d values", got)
	}
}

func TestMetadata_Loops(t *testing.T) {
	s, fn, b := newTestShader()
	x := b.Undef(1, 32)
	loop := b.PushLoop()
	y := b.IAddImm(x, 1)
	nif := b.PushIf(b.ILt(y, x))
	b.Jump(JumpBreak)
	b.PopIf(nif)
	b.PopLoop(loop)
	b.IAdd(x, x)

	fn.Require(MetaLoopAnalysis)
	if !fn.Valid(MetaBlockIndex | MetaDominance | MetaLoopAnalysis) {
		t.Fatal("Expected loop analysis to pull in its dependencies")
	}
	loops := slices.Collect(fn.Loops())
	if len(loops) != 1 {
		t.Fatalf("Expected 1 loop, got %d", len(loops))
	}
	info := loops[0]
	header := fn.BlockAt(1)
	if info.Header != header || info.Depth != 1 {
		t.Errorf("Expected header b1 at depth 1, got %s at %d", info.Header, info.Depth)
	}
	if len(info.Blocks) != 4 {
		t.Errorf("Expected 4 loop blocks, got %d", len(info.Blocks))
	}
	if got := info.BackEdges; !slices.Equal(got, []*Block{fn.BlockAt(4)}) {
		t.Errorf("back edges = %v, want [b4]", got)
	}
	if got := info.Exits; !slices.Equal(got, []*Block{fn.BlockAt(5)}) {
		t.Errorf("exits = %v, want [b5]", got)
	}
	if fn.BlockAt(2).LoopOf() != info || fn.BlockAt(5).LoopOf() != nil {
		t.Error("Expected LoopOf to report the innermost loop")
	}
	if got := slices.Collect(fn.BlockAt(2).Succs()); !slices.Equal(got, []*Block{fn.BlockAt(5)}) {
		t.Errorf("break successors = %v, want [b5]", got)
	}
	mustValidate(t, s)
}

func TestMetadata_Preserve(t *testing.T) {
	fn, _, _ := buildDiamond(t)
	fn.Require(MetaAll)
	if !fn.Valid(MetaAll) {
		t.Fatal("Expected every analysis to be valid")
	}
	fn.Preserve(MetaBlockIndex | MetaDominance)
	if fn.Valid(MetaLiveDefs) || !fn.Valid(MetaDominance) {
		t.Error("Expected Preserve to keep only the named analyses")
	}
	b := NewBuilder(fn, BlockEnd(fn.BlockAt(3)))
	b.PushLoop()
	if fn.Valid(MetaBlockIndex) {
		t.Error("Expected control-flow edits to drop block indices")
	}
	fn.Require(MetaDominance)
	if got := fn.NumBlocks(); got != 6 {
		t.Errorf("Expected recomputed block count 6, got %d", got)
	}
}
