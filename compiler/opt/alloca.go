package opt

import (
	"context"

	"github.com/slowlang/ptx/compiler/ir"
)

// HoistAllocas moves every alloca to the top of the entry block
// keeping their relative order.
func HoistAllocas(ctx context.Context, m *ir.Module) (n int) {
	for _, f := range m.Funcs {
		if f.IsDecl() {
			continue
		}

		var allocas []*ir.Instr

		for _, b := range f.Blocks {
			code := b.Code[:0]

			for _, x := range b.Code {
				if x.Op == ir.OpAlloca {
					allocas = append(allocas, x)
					continue
				}

				code = append(code, x)
			}

			b.Code = code
		}

		if len(allocas) == 0 {
			continue
		}

		entry := f.Blocks[0]
		entry.Code = append(allocas, entry.Code...)

		n += len(allocas)
	}

	return n
}
