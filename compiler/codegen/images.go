package codegen

import (
	"context"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/mir"
)

// ReplaceImageHandles rewrites image handle registers of texture and
// image query instructions into the symbols they were loaded from.
// Without indirect handles every image must be statically bound.
func ReplaceImageHandles(ctx context.Context, f *mir.Func) (n int, err error) {
	tr := tlog.SpanFromContext(ctx)

	defs := f.DefSites()
	chain := map[*mir.Instr]bool{}

	for bi, b := range f.Blocks {
		for _, x := range b.Instrs {
			for _, i := range handleOperands(x) {
				o := x.Ops[i]
				if !o.IsRegUse() {
					continue
				}

				sym, err := resolveHandle(defs, o.Reg, chain, 8)
				if err != nil {
					return n, errors.Wrap(err, "block %d: %v", bi, x.Op)
				}

				tr.V("image_handles").Printw("replace handle", "func", f.Name, "reg", o.Reg, "sym", sym)

				x.Ops[i] = mir.Sym(sym)
				n++
			}
		}
	}

	for removed := true; removed; {
		uses := f.UseCounts()
		removed = false

		for _, b := range f.Blocks {
			if b.Remove(func(x *mir.Instr) bool {
				return chain[x] && uses[x.Def()] == 0
			}) != 0 {
				removed = true
			}
		}
	}

	return n, nil
}

func handleOperands(x *mir.Instr) []int {
	switch {
	case strings.HasPrefix(x.Op, "tex."):
		return []int{1, 2}
	case strings.HasPrefix(x.Op, "istypep."),
		strings.HasPrefix(x.Op, "suld."),
		strings.HasPrefix(x.Op, "txq."):
		return []int{1}
	case strings.HasPrefix(x.Op, "sust."):
		return []int{0}
	}

	return nil
}

func resolveHandle(defs map[mir.Reg][]*mir.Instr, r mir.Reg, chain map[*mir.Instr]bool, depth int) (string, error) {
	ds := defs[r]
	if len(ds) != 1 || depth == 0 {
		return "", errors.New("can't resolve image handle %d", r)
	}

	d := ds[0]

	switch {
	case d.Op == mir.TexHandle, strings.HasPrefix(d.Op, "ld.param."):
		chain[d] = true
		return d.Ops[1].Sym, nil
	case d.IsCopy():
		chain[d] = true
		return resolveHandle(defs, d.Ops[1].Reg, chain, depth-1)
	}

	return "", errors.New("can't resolve image handle %d: defined by %v", r, d.Op)
}
