package codegen

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/set"
)

type liveness struct {
	in, out []set.Bits[mir.Reg]
}

// computeLiveness solves backward register liveness.
// PHI inputs are live out of the corresponding predecessor only.
func computeLiveness(f *mir.Func) liveness {
	n := len(f.Blocks)

	use := make([]set.Bits[mir.Reg], n)
	def := make([]set.Bits[mir.Reg], n)
	phiOut := make([]set.Bits[mir.Reg], n)

	for bi, b := range f.Blocks {
		for _, x := range b.Instrs {
			if x.IsPHI() {
				regs, blocks := x.PhiInputs()
				for i, r := range regs {
					if blocks[i] >= 0 && blocks[i] < n {
						phiOut[blocks[i]].Set(r)
					}
				}

				def[bi].Set(x.Def())

				continue
			}

			for _, r := range x.Uses() {
				if !def[bi].IsSet(r) {
					use[bi].Set(r)
				}
			}

			for _, r := range x.Defs() {
				def[bi].Set(r)
			}
		}
	}

	l := liveness{
		in:  make([]set.Bits[mir.Reg], n),
		out: make([]set.Bits[mir.Reg], n),
	}

	order := f.RPO()

	for changed := true; changed; {
		changed = false

		for i := len(order) - 1; i >= 0; i-- {
			b := order[i]

			out := phiOut[b].Copy()

			for _, s := range f.Blocks[b].Succs() {
				out.Merge(l.in[s])
			}

			in := out.Copy()
			in.Substract(def[b])
			in.Merge(use[b])

			if !out.Equal(l.out[b]) || !in.Equal(l.in[b]) {
				changed = true
			}

			l.out[b] = out
			l.in[b] = in
		}
	}

	return l
}

// LiveVariables caches block live-in and live-out register lists on f.
func LiveVariables(ctx context.Context, f *mir.Func) {
	tr := tlog.SpanFromContext(ctx)

	l := computeLiveness(f)

	f.LiveIn = make([][]mir.Reg, len(f.Blocks))
	f.LiveOut = make([][]mir.Reg, len(f.Blocks))

	for i := range f.Blocks {
		f.LiveIn[i] = l.in[i].Slice()
		f.LiveOut[i] = l.out[i].Slice()

		tr.V("live_variables").Printw("block", "func", f.Name, "block", i, "in", l.in[i], "out", l.out[i])
	}
}

// LoopInfo caches natural loops on f.
func LoopInfo(ctx context.Context, f *mir.Func) {
	f.Loops = findLoops(f, dominators(f))
}

// ProcessImplicitDefs forwards undefined values through copies
// and drops IMPLICIT_DEFs nothing reads.
func ProcessImplicitDefs(ctx context.Context, f *mir.Func) (n int) {
	undef := map[mir.Reg]bool{}

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			if x.Op == mir.ImplicitDef {
				undef[x.Def()] = true
			}
		}
	}

	if len(undef) == 0 {
		return 0
	}

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			if x.IsCopy() && x.Ops[1].IsRegUse() && undef[x.Ops[1].Reg] {
				x.Op = mir.ImplicitDef
				x.Ops = x.Ops[:1]

				undef[x.Def()] = true
				n++
			}
		}
	}

	uses := f.UseCounts()

	for _, b := range f.Blocks {
		n += b.Remove(func(x *mir.Instr) bool {
			return x.Op == mir.ImplicitDef && uses[x.Def()] == 0
		})
	}

	return n
}
