package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/target"
)

// OptimizeImages folds istype queries whose answer is known at compile time.
//
// An operand traced back to an annotated global or kernel param has a known kind.
// Without image handles every texture, surface and sampler is statically bound,
// so any value that can't be traced to an annotation is not an image at all.
func OptimizeImages(ctx context.Context, st target.Subtarget, m *ir.Module) (n int) {
	tr := tlog.SpanFromContext(ctx)

	handles := st.HasImageHandles()

	for _, f := range m.Funcs {
		defs := f.Defs()

		for _, b := range f.Blocks {
			for _, x := range b.Code {
				// malformed queries are left for the verifier
				if x.Op != ir.OpIsType || len(x.Args) != 1 {
					continue
				}

				img, known := imageKind(m, f, defs, x.Args[0], 8)
				if !known && handles {
					continue
				}

				v := int64(0)
				if known && img == x.Image {
					v = 1
				}

				tr.V("image_optimizer").Printw("fold istype", "func", f.Name, "value", x.Out, "query", x.Image, "kind", img, "known", known, "res", v)

				*x = ir.Instr{Op: ir.OpImm, Type: ir.I1, Out: x.Out, Imm: v}
				n++
			}
		}
	}

	return n
}

func imageKind(m *ir.Module, f *ir.Func, defs map[ir.Value]*ir.Instr, v ir.Value, depth int) (ir.Image, bool) {
	if depth == 0 {
		return ir.NoImage, false
	}

	d, ok := defs[v]
	if !ok {
		return ir.NoImage, false
	}

	if d == nil {
		p, _ := f.Param(v)
		if p.Image != ir.NoImage {
			return p.Image, true
		}

		return ir.NoImage, false
	}

	switch d.Op {
	case ir.OpGlobal, ir.OpTexHandle:
		if g := m.Global(d.Sym); g != nil {
			return g.Image, true
		}
	case ir.OpCast:
		if len(d.Args) != 1 {
			break
		}

		return imageKind(m, f, defs, d.Args[0], depth-1)
	}

	return ir.NoImage, false
}
