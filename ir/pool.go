package ir

const poolPageSize = 128

// pool is a paged allocator. Pointers returned by allocate stay valid until
// reset, because pages are never moved.
type pool[T any] struct {
	pages            []*[poolPageSize]T
	allocated, index int
}

func newPool[T any]() pool[T] {
	var ret pool[T]
	ret.reset()
	return ret
}

func (p *pool[T]) allocate() *T {
	if p.index == poolPageSize {
		if len(p.pages) == cap(p.pages) {
			p.pages = append(p.pages, new([poolPageSize]T))
		} else {
			i := len(p.pages)
			p.pages = p.pages[:i+1]
			if p.pages[i] == nil {
				p.pages[i] = new([poolPageSize]T)
			}
		}
		p.index = 0
	}
	ret := &p.pages[len(p.pages)-1][p.index]
	p.index++
	p.allocated++
	return ret
}

func (p *pool[T]) view(i int) *T {
	page, index := i/poolPageSize, i%poolPageSize
	return &p.pages[page][index]
}

func (p *pool[T]) reset() {
	for _, ns := range p.pages {
		pages := ns[:]
		for i := range pages {
			var v T
			pages[i] = v
		}
	}
	p.pages = p.pages[:0]
	p.index = poolPageSize
	p.allocated = 0
}

// arena backs every instruction node of one shader.
type arena struct {
	alus       pool[ALU]
	consts     pool[LoadConst]
	undefs     pool[Undef]
	intrinsics pool[Intrinsic]
	texs       pool[Tex]
	derefs     pool[Deref]
	phis       pool[Phi]
	jumps      pool[Jump]
}

func (a *arena) init() {
	a.alus = newPool[ALU]()
	a.consts = newPool[LoadConst]()
	a.undefs = newPool[Undef]()
	a.intrinsics = newPool[Intrinsic]()
	a.texs = newPool[Tex]()
	a.derefs = newPool[Deref]()
	a.phis = newPool[Phi]()
	a.jumps = newPool[Jump]()
}

func (a *arena) reset() {
	a.alus.reset()
	a.consts.reset()
	a.undefs.reset()
	a.intrinsics.reset()
	a.texs.reset()
	a.derefs.reset()
	a.phis.reset()
	a.jumps.reset()
}

// allocated returns the number of nodes handed out since the last reset.
func (a *arena) allocated() int {
	return a.alus.allocated + a.consts.allocated + a.undefs.allocated + a.intrinsics.allocated +
		a.texs.allocated + a.derefs.allocated + a.phis.allocated + a.jumps.allocated
}
