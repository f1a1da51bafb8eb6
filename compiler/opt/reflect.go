package opt

import (
	"context"

	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/target"
)

// ReflectVars returns the default __nvvm_reflect answers for st
// overridden by extra.
func ReflectVars(st target.Subtarget, extra map[string]int64) map[string]int64 {
	vars := map[string]int64{
		"__CUDA_ARCH": int64(st.SmVersion) * 10,
		"__CUDA_FTZ":  0,
	}

	for k, v := range extra {
		vars[k] = v
	}

	return vars
}

// Reflect replaces reflect queries by constants. Unknown names are 0.
func Reflect(ctx context.Context, vars map[string]int64, m *ir.Module) (n int) {
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, x := range b.Code {
				if x.Op != ir.OpReflect {
					continue
				}

				*x = ir.Instr{Op: ir.OpImm, Type: ir.I32, Out: x.Out, Imm: vars[x.Sym]}
				n++
			}
		}
	}

	return n
}
