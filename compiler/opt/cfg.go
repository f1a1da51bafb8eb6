package opt

import (
	"context"

	"github.com/slowlang/ptx/compiler/ir"
)

// RemoveUnreachable drops blocks not reachable from the entry and
// renumbers branch targets and phi inputs.
func RemoveUnreachable(ctx context.Context, m *ir.Module) (n int) {
	for _, f := range m.Funcs {
		n += removeUnreachable(f)
	}

	return n
}

func removeUnreachable(f *ir.Func) (n int) {
	live := f.Reachable()

	remap := make([]int, len(f.Blocks))
	blocks := f.Blocks[:0]

	for i, b := range f.Blocks {
		if !live[i] {
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

	for i := len(blocks); i < len(f.Blocks); i++ {
		f.Blocks[i] = nil
	}

	f.Blocks = blocks

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			for i, t := range x.Blocks {
				x.Blocks[i] = remap[t]
			}

			phi := x.Phi[:0]

			for _, p := range x.Phi {
				if remap[p.Block] < 0 {
					continue
				}

				p.Block = remap[p.Block]
				phi = append(phi, p)
			}

			x.Phi = phi
		}
	}

	return n
}
