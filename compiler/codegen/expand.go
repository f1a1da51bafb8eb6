package codegen

import (
	"context"

	"github.com/slowlang/ptx/compiler/mir"
)

// ExpandPseudos lowers the remaining pseudo instructions to PTX moves.
func ExpandPseudos(ctx context.Context, f *mir.Func) (n int) {
	for _, b := range f.Blocks {
		n += b.Remove(func(x *mir.Instr) bool { return x.Op == mir.ImplicitDef })

		for _, x := range b.Instrs {
			switch x.Op {
			case mir.COPY:
				x.Op = "mov." + f.Class(x.Def()).String()
			case mir.TexHandle:
				x.Op = "mov.u64" // handles are 64-bit on both targets
			default:
				continue
			}

			n++
		}
	}

	return n
}
