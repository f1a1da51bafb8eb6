package opt

import (
	"context"

	"github.com/slowlang/ptx/compiler/ir"
)

// GenericToNVVM moves globals out of the generic address space.
// Every use keeps seeing a generic pointer through an inserted cast,
// the selector folds the cast back into direct accesses where it can.
func GenericToNVVM(ctx context.Context, m *ir.Module) (n int) {
	moved := map[string]bool{}

	for _, g := range m.Globals {
		if g.Space.OrGeneric() != ir.Generic || g.Image != ir.NoImage {
			continue
		}

		g.Space = ir.SpaceGlobal
		moved[g.Name] = true
		n++
	}

	if n == 0 {
		return 0
	}

	for _, f := range m.Funcs {
		if f.IsDecl() {
			continue
		}

		next := f.NewValue()

		for _, b := range f.Blocks {
			code := make([]*ir.Instr, 0, len(b.Code))

			for _, x := range b.Code {
				code = append(code, x)

				if x.Op != ir.OpGlobal || !moved[x.Sym] || x.Space.OrGeneric() != ir.Generic {
					continue
				}

				out := x.Out
				x.Out = next
				x.Space = ir.SpaceGlobal
				next++

				code = append(code, &ir.Instr{
					Op:    ir.OpCast,
					Type:  ir.Ptr,
					Out:   out,
					Args:  []ir.Value{x.Out},
					From:  ir.SpaceGlobal,
					Space: ir.Generic,
				})
			}

			b.Code = code
		}
	}

	return n
}
