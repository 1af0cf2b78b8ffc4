package ir

import (
	"iter"
	"math"
	"math/bits"
	"slices"
)

// Metadata is a set of per-function analyses.
type Metadata uint8

const (
	// MetaBlockIndex covers block indices and CFG edges.
	MetaBlockIndex Metadata = 1 << iota
	// MetaDominance covers immediate dominators, the dominator tree and
	// dominance frontiers.
	MetaDominance
	// MetaLiveDefs covers per-block live-in and live-out sets.
	MetaLiveDefs
	// MetaLoopAnalysis covers the loop tree.
	MetaLoopAnalysis

	MetaNone Metadata = 0
	MetaAll           = MetaBlockIndex | MetaDominance | MetaLiveDefs | MetaLoopAnalysis
)

// Require computes every analysis in m that is not currently valid.
// Recomputing a valid analysis is never needed; calling Require twice is
// harmless.
func (f *Function) Require(m Metadata) {
	if m&(MetaDominance|MetaLiveDefs|MetaLoopAnalysis) != 0 {
		m |= MetaBlockIndex
	}
	if m&MetaLoopAnalysis != 0 {
		m |= MetaDominance
	}
	missing := m &^ f.valid
	if missing&MetaBlockIndex != 0 {
		f.indexBlocks()
		f.valid |= MetaBlockIndex
	}
	if missing&MetaDominance != 0 {
		f.computeDominance()
		f.valid |= MetaDominance
	}
	if missing&MetaLiveDefs != 0 {
		f.computeLiveDefs()
		f.valid |= MetaLiveDefs
	}
	if missing&MetaLoopAnalysis != 0 {
		f.computeLoops()
		f.valid |= MetaLoopAnalysis
	}
}

// Preserve keeps the analyses in m and drops every other one. Passes call it
// once they finish rewriting.
func (f *Function) Preserve(m Metadata) { f.valid &= m }

// Valid reports whether every analysis in m is current.
func (f *Function) Valid(m Metadata) bool { return f.valid&m == m }

// Blocks iterates the blocks of f in program order. The caller must not
// add or remove control-flow nodes while iterating.
func (f *Function) Blocks() iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		walkBlocks(f.Body, yield)
	}
}

func walkBlocks(l *CFList, yield func(*Block) bool) bool {
	for _, n := range l.nodes {
		switch n := n.(type) {
		case *Block:
			if !yield(n) {
				return false
			}
		case *If:
			if !walkBlocks(n.Then, yield) || !walkBlocks(n.Else, yield) {
				return false
			}
		case *Loop:
			if !walkBlocks(n.Body, yield) {
				return false
			}
		}
	}
	return true
}

// NumBlocks returns the number of indexed blocks, excluding the end block.
func (f *Function) NumBlocks() int {
	f.Require(MetaBlockIndex)
	return len(f.blocks)
}

// BlockAt returns the block with the given index.
func (f *Function) BlockAt(i int) *Block {
	f.Require(MetaBlockIndex)
	if i == len(f.blocks) {
		return f.end
	}
	return f.blocks[i]
}

func (f *Function) indexBlocks() {
	f.blocks = f.blocks[:0]
	for b := range f.Blocks() {
		b.Index = len(f.blocks)
		b.preds = b.preds[:0]
		b.succs = [2]*Block{}
		f.blocks = append(f.blocks, b)
	}
	f.end.Index = len(f.blocks)
	f.end.preds = f.end.preds[:0]
	for _, b := range f.blocks {
		b.succs = f.blockSuccs(b)
		for _, s := range b.succs {
			if s != nil {
				s.preds = append(s.preds, b)
			}
		}
	}
}

// blockSuccs derives the CFG successors of b from the structured tree.
func (f *Function) blockSuccs(b *Block) [2]*Block {
	if j := b.Jump(); j != nil {
		switch j.JumpKind {
		case JumpBreak:
			loop := enclosingLoop(b)
			if loop == nil {
				Abortf("ir", j, "break outside of a loop")
			}
			return [2]*Block{followingBlock(loop)}
		case JumpContinue:
			loop := enclosingLoop(b)
			if loop == nil {
				Abortf("ir", j, "continue outside of a loop")
			}
			return [2]*Block{loop.Body.FirstBlock()}
		default:
			return [2]*Block{f.end}
		}
	}
	switch n := nextNode(b).(type) {
	case *If:
		return [2]*Block{n.Then.FirstBlock(), n.Else.FirstBlock()}
	case *Loop:
		return [2]*Block{n.Body.FirstBlock()}
	case nil:
		return [2]*Block{blockAfterList(b.list)}
	}
	Abortf("ir", nil, "block %s followed by a block", b)
	return [2]*Block{}
}

// blockAfterList returns where control goes once l falls off its end.
func blockAfterList(l *CFList) *Block {
	switch p := l.parent.(type) {
	case *If:
		return followingBlock(p)
	case *Loop:
		return p.Body.FirstBlock()
	case *Function:
		return p.end
	}
	return nil
}

// followingBlock returns the block after an If or Loop node.
func followingBlock(n CFNode) *Block {
	next, ok := nextNode(n).(*Block)
	if !ok {
		Abortf("ir", nil, "control-flow node not followed by a block")
	}
	return next
}

func enclosingLoop(n CFNode) *Loop {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if l, ok := p.(*Loop); ok {
			return l
		}
	}
	return nil
}

// Succs iterates the CFG successors of b. Requires MetaBlockIndex.
func (b *Block) Succs() iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		for _, s := range b.succs {
			if s != nil && !yield(s) {
				return
			}
		}
	}
}

// Preds returns the CFG predecessors of b. Requires MetaBlockIndex.
func (b *Block) Preds() []*Block { return b.preds }

// reversePostorder lists the blocks reachable from start so that every block
// precedes its successors except along back edges.
func reversePostorder(start *Block, n int) []*Block {
	visited := make([]bool, n)
	post := make([]*Block, 0, n)
	type frame struct {
		b    *Block
		next int
	}
	stack := []frame{{b: start}}
	visited[start.Index] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.b.succs) {
			s := top.b.succs[top.next]
			top.next++
			if s != nil && !visited[s.Index] {
				visited[s.Index] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	slices.Reverse(post)
	return post
}

// computeDominance implements "A Simple, Fast Dominance Algorithm" by
// Cooper, Harvey and Kennedy over reverse postorder.
func (f *Function) computeDominance() {
	all := append(slices.Clone(f.blocks), f.end)
	for _, b := range all {
		b.idom = nil
		b.domChildren = b.domChildren[:0]
		b.domFrontier = b.domFrontier[:0]
		b.domPre, b.domPost = math.MaxInt, -1
	}
	start := f.StartBlock()
	rpo := reversePostorder(start, len(all))
	order := make([]int, len(all))
	for i := range order {
		order[i] = -1
	}
	for i, b := range rpo {
		order[b.Index] = i
	}

	intersect := func(a, b *Block) *Block {
		for a != b {
			for order[a.Index] > order[b.Index] {
				a = a.idom
			}
			for order[b.Index] > order[a.Index] {
				b = b.idom
			}
		}
		return a
	}

	start.idom = start
	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			var idom *Block
			for _, p := range b.preds {
				if p.idom == nil {
					continue
				}
				if idom == nil {
					idom = p
				} else {
					idom = intersect(p, idom)
				}
			}
			if b.idom != idom {
				b.idom = idom
				changed = true
			}
		}
	}
	start.idom = nil

	for _, b := range rpo[1:] {
		b.idom.domChildren = append(b.idom.domChildren, b)
	}
	for _, b := range rpo {
		if len(b.preds) < 2 {
			continue
		}
		for _, p := range b.preds {
			if order[p.Index] < 0 {
				continue
			}
			for runner := p; runner != nil && runner != b.idom; runner = runner.idom {
				if !slices.Contains(runner.domFrontier, b) {
					runner.domFrontier = append(runner.domFrontier, b)
				}
			}
		}
	}

	counter := 0
	var number func(b *Block)
	number = func(b *Block) {
		b.domPre = counter
		counter++
		for _, c := range b.domChildren {
			number(c)
		}
		b.domPost = counter
		counter++
	}
	number(start)
}

// IDom returns the immediate dominator of b, or nil for the start block and
// unreachable blocks. Requires MetaDominance.
func (b *Block) IDom() *Block { return b.idom }

// DomChildren returns the blocks immediately dominated by b.
func (b *Block) DomChildren() []*Block { return b.domChildren }

// DomFrontier returns the dominance frontier of b.
func (b *Block) DomFrontier() []*Block { return b.domFrontier }

// Dominates reports whether b dominates other. Every block dominates itself,
// and unreachable blocks are dominated by every block. Requires
// MetaDominance.
func (b *Block) Dominates(other *Block) bool {
	return b.domPre <= other.domPre && other.domPost <= b.domPost
}

// Reachable reports whether b is reachable from the start block. Requires
// MetaDominance.
func (b *Block) Reachable() bool { return b.domPost >= 0 }

// bitset is a dense set of small non-negative integers.
type bitset []uint64

func newBitset(n uint32) bitset { return make(bitset, (n+63)/64) }

func (s bitset) set(i uint32)   { s[i/64] |= 1 << (i % 64) }
func (s bitset) clear(i uint32) { s[i/64] &^= 1 << (i % 64) }

func (s bitset) has(i uint32) bool {
	w := i / 64
	return int(w) < len(s) && s[w]&(1<<(i%64)) != 0
}

// union adds o to s and reports whether s changed.
func (s bitset) union(o bitset) bool {
	changed := false
	for i, w := range o {
		if s[i]|w != s[i] {
			s[i] |= w
			changed = true
		}
	}
	return changed
}

func (s bitset) count() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// computeLiveDefs solves backward liveness of SSA values. A phi source is
// live out of its predecessor rather than live into the phi's block.
func (f *Function) computeLiveDefs() {
	n := f.nextValue
	all := append(slices.Clone(f.blocks), f.end)
	gen := make([]bitset, len(all))
	kill := make([]bitset, len(all))
	for _, b := range all {
		b.liveIn = newBitset(n)
		b.liveOut = newBitset(n)
		g, k := newBitset(n), newBitset(n)
		for i := b.last; i != nil; i = i.node().prev {
			if d := i.Def(); d != nil {
				k.set(d.Index)
				g.clear(d.Index)
			}
			if _, ok := i.(*Phi); ok {
				continue
			}
			for s := range i.srcs() {
				if v := s.Value(); v != nil {
					g.set(v.Index)
				}
			}
		}
		if ifn, ok := nextNode2(b).(*If); ok {
			if v := ifn.Cond.Value(); v != nil && !k.has(v.Index) {
				g.set(v.Index)
			}
		}
		gen[b.Index], kill[b.Index] = g, k
	}

	for changed := true; changed; {
		changed = false
		for i := len(all) - 1; i >= 0; i-- {
			b := all[i]
			for s := range b.Succs() {
				if b.liveOut.union(s.liveIn) {
					changed = true
				}
				for phi := range s.Phis() {
					for _, ps := range phi.Srcs {
						if ps.Pred == b && ps.Value() != nil && !b.liveOut.has(ps.Value().Index) {
							b.liveOut.set(ps.Value().Index)
							changed = true
						}
					}
				}
			}
			in := slices.Clone(b.liveOut)
			for w := range in {
				in[w] = in[w]&^kill[b.Index][w] | gen[b.Index][w]
			}
			if b.liveIn.union(in) {
				changed = true
			}
		}
	}
}

// nextNode2 is nextNode tolerating the detached end block.
func nextNode2(b *Block) CFNode {
	if b.list == nil {
		return nil
	}
	return nextNode(b)
}

// LiveIn reports whether v is live on entry to b. Requires MetaLiveDefs.
func (b *Block) LiveIn(v *Value) bool { return b.liveIn.has(v.Index) }

// LiveOut reports whether v is live on exit from b. Requires MetaLiveDefs.
func (b *Block) LiveOut(v *Value) bool { return b.liveOut.has(v.Index) }

// NumLiveIn returns the number of values live on entry to b.
func (b *Block) NumLiveIn() int { return b.liveIn.count() }

// LoopInfo describes one structured loop.
type LoopInfo struct {
	Loop     *Loop
	Header   *Block
	Parent   *LoopInfo
	Children []*LoopInfo
	// Depth is 1 for outermost loops.
	Depth  int
	Blocks []*Block
	// BackEdges are the predecessors of the header dominated by it.
	BackEdges []*Block
	// Exits are blocks outside the loop reached from inside it.
	Exits []*Block
}

// Contains reports whether b belongs to the loop or a nested one.
func (l *LoopInfo) Contains(b *Block) bool { return slices.Contains(l.Blocks, b) }

func (f *Function) computeLoops() {
	f.loops = f.loops[:0]
	for _, b := range f.blocks {
		b.loop = nil
	}
	var visit func(l *CFList, parent *LoopInfo)
	visit = func(l *CFList, parent *LoopInfo) {
		for _, n := range l.nodes {
			switch n := n.(type) {
			case *If:
				visit(n.Then, parent)
				visit(n.Else, parent)
			case *Loop:
				info := &LoopInfo{Loop: n, Header: n.Body.FirstBlock(), Parent: parent, Depth: 1}
				if parent != nil {
					info.Depth = parent.Depth + 1
					parent.Children = append(parent.Children, info)
				}
				f.loops = append(f.loops, info)
				visit(n.Body, info)
			}
		}
	}
	visit(f.Body, nil)

	// Innermost loops were appended after their parents, so walking in
	// reverse assigns each block its innermost loop first.
	for i := len(f.loops) - 1; i >= 0; i-- {
		info := f.loops[i]
		walkBlocks(info.Loop.Body, func(b *Block) bool {
			info.Blocks = append(info.Blocks, b)
			if b.loop == nil {
				b.loop = info
			}
			return true
		})
		for _, p := range info.Header.preds {
			if info.Header.Dominates(p) && info.Contains(p) {
				info.BackEdges = append(info.BackEdges, p)
			}
		}
		for _, b := range info.Blocks {
			for s := range b.Succs() {
				if !info.Contains(s) && !slices.Contains(info.Exits, s) {
					info.Exits = append(info.Exits, s)
				}
			}
		}
	}
}

// Loops iterates the loops of f, outer loops before the loops they contain.
// Requires MetaLoopAnalysis.
func (f *Function) Loops() iter.Seq[*LoopInfo] { return slices.Values(f.loops) }

// LoopOf returns the innermost loop containing b, or nil. Requires
// MetaLoopAnalysis.
func (b *Block) LoopOf() *LoopInfo { return b.loop }
