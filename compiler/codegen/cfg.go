package codegen

import (
	"sort"

	"github.com/slowlang/ptx/compiler/mir"
)

type (
	// domTree is the dominator tree of reachable blocks.
	domTree struct {
		idom     []int
		children [][]int
		order    []int // reverse post order
		rpoIdx   []int
	}
)

// dominators computes immediate dominators.
// Cooper, Harvey, Kennedy "A Simple, Fast Dominance Algorithm".
func dominators(f *mir.Func) *domTree {
	n := len(f.Blocks)

	d := &domTree{
		idom:     make([]int, n),
		children: make([][]int, n),
		order:    f.RPO(),
		rpoIdx:   make([]int, n),
	}

	for i := range d.idom {
		d.idom[i] = -1
		d.rpoIdx[i] = -1
	}

	for i, b := range d.order {
		d.rpoIdx[b] = i
	}

	if n == 0 {
		return d
	}

	preds := f.Preds()
	d.idom[0] = 0

	for changed := true; changed; {
		changed = false

		for _, b := range d.order[1:] {
			nd := -1

			for _, p := range preds[b] {
				if d.idom[p] < 0 {
					continue
				}

				if nd < 0 {
					nd = p
				} else {
					nd = d.intersect(p, nd)
				}
			}

			if nd >= 0 && d.idom[b] != nd {
				d.idom[b] = nd
				changed = true
			}
		}
	}

	for _, b := range d.order[1:] {
		if p := d.idom[b]; p >= 0 {
			d.children[p] = append(d.children[p], b)
		}
	}

	return d
}

func (d *domTree) intersect(a, b int) int {
	for a != b {
		for d.rpoIdx[a] > d.rpoIdx[b] {
			a = d.idom[a]
		}

		for d.rpoIdx[b] > d.rpoIdx[a] {
			b = d.idom[b]
		}
	}

	return a
}

// dominates reports whether a dominates b.
func (d *domTree) dominates(a, b int) bool {
	if d.rpoIdx[b] < 0 {
		return false
	}

	for {
		if a == b {
			return true
		}

		if b == 0 {
			return false
		}

		b = d.idom[b]
	}
}

// findLoops finds natural loops. Loops sharing a header are merged.
// Result is ordered outer first.
func findLoops(f *mir.Func, d *domTree) []mir.Loop {
	preds := f.Preds()
	body := map[int]map[int]bool{}

	for _, b := range d.order {
		for _, s := range f.Blocks[b].Succs() {
			if !d.dominates(s, b) {
				continue
			}

			// back edge b -> s
			in := body[s]
			if in == nil {
				in = map[int]bool{s: true}
				body[s] = in
			}

			q := []int{b}

			for len(q) != 0 {
				x := q[len(q)-1]
				q = q[:len(q)-1]

				if in[x] || d.rpoIdx[x] < 0 {
					continue
				}

				in[x] = true
				q = append(q, preds[x]...)
			}
		}
	}

	loops := make([]mir.Loop, 0, len(body))

	for h, in := range body {
		l := mir.Loop{Header: h, Parent: -1}

		for b := range in {
			l.Blocks = append(l.Blocks, b)
		}

		sort.Ints(l.Blocks)
		loops = append(loops, l)
	}

	sort.Slice(loops, func(i, j int) bool {
		if len(loops[i].Blocks) != len(loops[j].Blocks) {
			return len(loops[i].Blocks) > len(loops[j].Blocks)
		}

		return loops[i].Header < loops[j].Header
	})

	for i := range loops {
		loops[i].Depth = 1

		for j := i - 1; j >= 0; j-- {
			if containsAll(loops[j].Blocks, loops[i].Blocks) {
				loops[i].Parent = j
				loops[i].Depth = loops[j].Depth + 1

				break
			}
		}
	}

	return loops
}

// preheader returns the single out-of-loop predecessor of the header
// which branches only to the header, or -1.
func preheader(f *mir.Func, l mir.Loop, preds [][]int) int {
	ph := -1

	for _, p := range preds[l.Header] {
		if containsInt(l.Blocks, p) {
			continue
		}

		if ph >= 0 {
			return -1
		}

		ph = p
	}

	if ph < 0 {
		return -1
	}

	if s := f.Blocks[ph].Succs(); len(s) != 1 {
		return -1
	}

	return ph
}

// removeDeadBlocks drops unreachable blocks and renumbers block references.
func removeDeadBlocks(f *mir.Func) (n int) {
	seen := make([]bool, len(f.Blocks))
	for _, b := range f.RPO() {
		seen[b] = true
	}

	remap := make([]int, len(f.Blocks))
	blocks := make([]*mir.Block, 0, len(f.Blocks))

	for i, b := range f.Blocks {
		if !seen[i] {
			remap[i] = -1
			n++

			continue
		}

		remap[i] = len(blocks)
		blocks = append(blocks, b)
	}

	if n == 0 {
		return 0
	}

	f.Blocks = blocks

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			if x.IsPHI() {
				ops := x.Ops[:1]

				for i := 1; i+1 < len(x.Ops); i += 2 {
					if remap[x.Ops[i+1].Index] < 0 {
						continue
					}

					ops = append(ops, x.Ops[i], mir.BlockRef(remap[x.Ops[i+1].Index]))
				}

				x.Ops = ops

				continue
			}

			for i, o := range x.Ops {
				if o.Kind == mir.KBlock {
					x.Ops[i].Index = remap[o.Index]
				}
			}
		}
	}

	return n
}

func containsInt(s []int, x int) bool {
	for _, y := range s {
		if y == x {
			return true
		}
	}

	return false
}

func containsAll(s, sub []int) bool {
	for _, x := range sub {
		if !containsInt(s, x) {
			return false
		}
	}

	return true
}

// pure reports instructions that can be moved, merged or deleted
// when their result is not needed.
func pure(x *mir.Instr) bool {
	if x.IsPHI() || x.HasSideEffects() || x.MayLoad() || x.Op == mir.ImplicitDef {
		return false
	}

	return len(x.Defs()) == 1
}
