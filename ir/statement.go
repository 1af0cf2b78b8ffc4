package ir

import "iter"

// CFKind identifies a control-flow node.
type CFKind uint8

const (
	CFBlock CFKind = iota
	CFIf
	CFLoop
	CFFunction
)

// CFNode is a node of the structured control-flow tree.
type CFNode interface {
	CFKind() CFKind
	// Parent returns the If, Loop or Function whose list holds the node.
	Parent() CFNode
	cf() *cfBase
}

type cfBase struct {
	list *CFList
}

func (c *cfBase) cf() *cfBase { return c }

// Parent returns the node owning the list c belongs to.
func (c *cfBase) Parent() CFNode {
	if c.list == nil {
		return nil
	}
	return c.list.parent
}

// CFList is an ordered list of control-flow nodes. A well-formed list starts
// and ends with a Block and alternates blocks with If or Loop nodes.
type CFList struct {
	nodes  []CFNode
	parent CFNode
}

// Nodes iterates the list.
func (l *CFList) Nodes() iter.Seq[CFNode] {
	return func(yield func(CFNode) bool) {
		for _, n := range l.nodes {
			if !yield(n) {
				return
			}
		}
	}
}

// Len returns the number of nodes in the list.
func (l *CFList) Len() int { return len(l.nodes) }

// At returns the i-th node.
func (l *CFList) At(i int) CFNode { return l.nodes[i] }

// First returns the first node of the list.
func (l *CFList) First() CFNode { return l.nodes[0] }

// Last returns the last node of the list.
func (l *CFList) Last() CFNode { return l.nodes[len(l.nodes)-1] }

// FirstBlock returns the block that starts the list.
func (l *CFList) FirstBlock() *Block { return l.nodes[0].(*Block) }

// LastBlock returns the block that ends the list.
func (l *CFList) LastBlock() *Block { return l.nodes[len(l.nodes)-1].(*Block) }

// Parent returns the owner of the list.
func (l *CFList) Parent() CFNode { return l.parent }

func (l *CFList) append(n CFNode) {
	n.cf().list = l
	l.nodes = append(l.nodes, n)
}

func (l *CFList) indexOf(n CFNode) int {
	for i, x := range l.nodes {
		if x == n {
			return i
		}
	}
	return -1
}

func (l *CFList) insertAfter(at, n CFNode) {
	i := l.indexOf(at)
	n.cf().list = l
	l.nodes = append(l.nodes, nil)
	copy(l.nodes[i+2:], l.nodes[i+1:])
	l.nodes[i+1] = n
}

// next returns the node following n in its list, or nil.
func nextNode(n CFNode) CFNode {
	l := n.cf().list
	i := l.indexOf(n)
	if i+1 < len(l.nodes) {
		return l.nodes[i+1]
	}
	return nil
}

func prevNode(n CFNode) CFNode {
	l := n.cf().list
	i := l.indexOf(n)
	if i > 0 {
		return l.nodes[i-1]
	}
	return nil
}

// CFKind implements CFNode.
func (f *Function) CFKind() CFKind { return CFFunction }

// Parent implements CFNode; a function has no parent.
func (f *Function) Parent() CFNode { return nil }

func (f *Function) cf() *cfBase { return &cfBase{} }

// If is a two-way structured branch.
type If struct {
	cfBase
	Cond Src
	Then *CFList
	Else *CFList
}

// CFKind implements CFNode.
func (n *If) CFKind() CFKind { return CFIf }

// Loop is an infinite structured loop left only through break or return.
type Loop struct {
	cfBase
	Body *CFList
}

// CFKind implements CFNode.
func (n *Loop) CFKind() CFKind { return CFLoop }

// Block is a basic block.
type Block struct {
	cfBase
	// Index is the program-order position of the block. It is only
	// meaningful while MetaBlockIndex is valid.
	Index int

	fn          *Function
	first, last Instr
	succs       [2]*Block
	preds       []*Block
	idom        *Block
	domChildren []*Block
	domFrontier []*Block
	domPre      int
	domPost     int
	liveIn      bitset
	liveOut     bitset
	loop        *LoopInfo
}

// CFKind implements CFNode.
func (b *Block) CFKind() CFKind { return CFBlock }

// Function returns the owning function.
func (b *Block) Function() *Function { return b.fn }

// First returns the first instruction, or nil.
func (b *Block) First() Instr { return b.first }

// Last returns the last instruction, or nil.
func (b *Block) Last() Instr { return b.last }

// Empty reports whether the block holds no instructions.
func (b *Block) Empty() bool { return b.first == nil }

// Instrs iterates the instructions in program order. The current
// instruction must not be removed during iteration; use InstrsSafe for that.
func (b *Block) Instrs() iter.Seq[Instr] {
	return func(yield func(Instr) bool) {
		for i := b.first; i != nil; i = i.node().next {
			if !yield(i) {
				return
			}
		}
	}
}

// InstrsSafe iterates the instructions and tolerates removal of the
// instruction being visited.
func (b *Block) InstrsSafe() iter.Seq[Instr] {
	return func(yield func(Instr) bool) {
		for i := b.first; i != nil; {
			next := i.node().next
			if !yield(i) {
				return
			}
			i = next
		}
	}
}

// Phis iterates the phi instructions at the top of the block.
func (b *Block) Phis() iter.Seq[*Phi] {
	return func(yield func(*Phi) bool) {
		for i := b.first; i != nil; i = i.node().next {
			phi, ok := i.(*Phi)
			if !ok || !yield(phi) {
				return
			}
		}
	}
}

// Jump returns the terminating jump of the block, or nil.
func (b *Block) Jump() *Jump {
	j, _ := b.last.(*Jump)
	return j
}

func (b *Block) String() string {
	if b == b.fn.end {
		return "end"
	}
	return "b" + itoa(b.Index)
}

func (b *Block) insertBefore(at, i Instr) {
	n := i.node()
	n.block = b
	if at == nil {
		b.append(i)
		return
	}
	an := at.node()
	n.prev, n.next = an.prev, at
	if an.prev != nil {
		an.prev.node().next = i
	} else {
		b.first = i
	}
	an.prev = i
}

func (b *Block) insertAfter(at, i Instr) {
	n := i.node()
	n.block = b
	if at == nil {
		b.prepend(i)
		return
	}
	an := at.node()
	n.prev, n.next = at, an.next
	if an.next != nil {
		an.next.node().prev = i
	} else {
		b.last = i
	}
	an.next = i
}

func (b *Block) append(i Instr) {
	n := i.node()
	n.block = b
	n.prev, n.next = b.last, nil
	if b.last != nil {
		b.last.node().next = i
	} else {
		b.first = i
	}
	b.last = i
}

func (b *Block) prepend(i Instr) {
	n := i.node()
	n.block = b
	n.prev, n.next = nil, b.first
	if b.first != nil {
		b.first.node().prev = i
	} else {
		b.last = i
	}
	b.first = i
}

func (b *Block) unlink(i Instr) {
	n := i.node()
	if n.prev != nil {
		n.prev.node().next = n.next
	} else {
		b.first = n.next
	}
	if n.next != nil {
		n.next.node().prev = n.prev
	} else {
		b.last = n.prev
	}
	n.prev, n.next, n.block = nil, nil, nil
}

// splitAfter moves every instruction after at into a new block, or every
// instruction when atStart is set. The caller links the returned block into
// the control-flow list.
func (b *Block) splitAfter(at Instr, atStart bool) *Block {
	nb := b.fn.newBlock()
	var from Instr
	switch {
	case atStart:
		from = b.first
	case at != nil:
		from = at.node().next
	}
	for i := from; i != nil; {
		next := i.node().next
		b.unlink(i)
		nb.append(i)
		i = next
	}
	// Phis in successors that named b as predecessor now see nb.
	for blk := range b.fn.Blocks() {
		for phi := range blk.Phis() {
			for _, ps := range phi.Srcs {
				if ps.Pred == b {
					ps.Pred = nb
				}
			}
		}
	}
	return nb
}

func itoa(i int) string {
	if i < 0 {
		return "?"
	}
	const digits = "0123456789"
	if i < 10 {
		return digits[i : i+1]
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = digits[i%10]
		i /= 10
	}
	return string(buf[pos:])
}
