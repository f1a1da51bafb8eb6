package codegen

import (
	"context"
	"strconv"
	"strings"

	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/mir"
)

// HoistInvariants moves loop invariant pure instructions into the loop
// preheader. Loops without a preheader are skipped.
func HoistInvariants(ctx context.Context, f *mir.Func) (n int) {
	tr := tlog.SpanFromContext(ctx)

	dom := dominators(f)
	loops := findLoops(f, dom)
	preds := f.Preds()

	// inner loops first so invariants bubble outwards
	for li := len(loops) - 1; li >= 0; li-- {
		l := loops[li]

		ph := preheader(f, l, preds)
		if ph < 0 {
			tr.V("licm").Printw("no preheader", "func", f.Name, "header", l.Header)
			continue
		}

		inLoop := map[mir.Reg]bool{}

		for _, b := range l.Blocks {
			for _, x := range f.Blocks[b].Instrs {
				for _, r := range x.Defs() {
					inLoop[r] = true
				}
			}
		}

		var hoisted []*mir.Instr

		for _, b := range dom.order {
			if !containsInt(l.Blocks, b) {
				continue
			}

			blk := f.Blocks[b]

			blk.Remove(func(x *mir.Instr) bool {
				if !pure(x) {
					return false
				}

				for _, r := range x.Uses() {
					if inLoop[r] {
						return false
					}
				}

				for _, o := range x.Ops {
					if o.Kind == mir.KFrame {
						return false
					}
				}

				inLoop[x.Def()] = false
				hoisted = append(hoisted, x)

				return true
			})
		}

		if len(hoisted) == 0 {
			continue
		}

		tr.V("licm").Printw("hoist", "func", f.Name, "header", l.Header, "preheader", ph, "n", len(hoisted))

		p := f.Blocks[ph]
		p.Insert(p.FirstTerminator(), hoisted...)

		n += len(hoisted)
	}

	return n
}

// EliminateCommonSubexprs replaces pure instructions recomputing a value
// available in a dominating block.
func EliminateCommonSubexprs(ctx context.Context, f *mir.Func) (n int) {
	dom := dominators(f)
	avail := map[string]mir.Reg{}

	var walk func(b int)
	walk = func(b int) {
		var added []string

		blk := f.Blocks[b]

		blk.Remove(func(x *mir.Instr) bool {
			if !pure(x) {
				return false
			}

			k := exprKey(x)

			if r, ok := avail[k]; ok && f.Class(r) == f.Class(x.Def()) {
				f.ReplaceReg(x.Def(), r)
				n++

				return true
			}

			avail[k] = x.Def()
			added = append(added, k)

			return false
		})

		for _, c := range dom.children[b] {
			walk(c)
		}

		for _, k := range added {
			delete(avail, k)
		}
	}

	if len(f.Blocks) != 0 {
		walk(0)
	}

	return n
}

func exprKey(x *mir.Instr) string {
	var b strings.Builder

	b.WriteString(x.Op)

	for _, o := range x.Ops {
		if o.IsRegDef() {
			continue
		}

		b.WriteByte(' ')

		switch o.Kind {
		case mir.KReg:
			b.WriteString("r" + strconv.Itoa(int(o.Reg)))
		case mir.KImm:
			b.WriteString("i" + strconv.FormatInt(o.Imm, 10))
		case mir.KFImm:
			b.WriteString("f" + strconv.FormatFloat(o.FImm, 'g', -1, 64))
		case mir.KSym:
			b.WriteString("s" + o.Sym)
		case mir.KFrame:
			b.WriteString("fi" + strconv.Itoa(o.Index))
		case mir.KBlock:
			b.WriteString("b" + strconv.Itoa(o.Index))
		}
	}

	return b.String()
}

// Sink moves pure instructions into the only successor that uses them
// when that successor has no other predecessors.
func Sink(ctx context.Context, f *mir.Func) (n int) {
	tr := tlog.SpanFromContext(ctx)

	preds := f.Preds()

	for bi, b := range f.Blocks {
		succs := b.Succs()
		if len(succs) < 2 {
			continue
		}

		for i := len(b.Instrs) - 1; i >= 0; i-- {
			x := b.Instrs[i]
			if !pure(x) {
				continue
			}

			to := sinkTarget(f, bi, x, succs, preds)
			if to < 0 {
				continue
			}

			b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)

			s := f.Blocks[to]
			s.Insert(s.FirstNonPHI(), x)

			tr.V("sink").Printw("sink", "func", f.Name, "op", x.Op, "from", bi, "to", to)

			n++
		}
	}

	return n
}

// sinkTarget returns the single successor of b where x result is used, or -1.
func sinkTarget(f *mir.Func, b int, x *mir.Instr, succs []int, preds [][]int) int {
	d := x.Def()
	to := -1

	for bi, blk := range f.Blocks {
		for _, y := range blk.Instrs {
			if !usesReg(y, d) {
				continue
			}

			if bi == b || y.IsPHI() || (to >= 0 && to != bi) || !containsInt(succs, bi) {
				return -1
			}

			to = bi
		}
	}

	if to < 0 || len(preds[to]) != 1 {
		return -1
	}

	return to
}

func usesReg(x *mir.Instr, r mir.Reg) bool {
	for _, o := range x.Ops {
		if o.IsRegUse() && o.Reg == r {
			return true
		}
	}

	return false
}
