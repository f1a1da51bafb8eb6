package codegen

import (
	"context"
	"strings"

	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/mir"
)

// TailDupSize is the largest return block early tail duplication copies.
const TailDupSize = 3

// TailDuplicate copies small returning blocks into predecessors
// which reach them by an unconditional branch.
// Blocks defining registers are left alone to keep SSA form.
func TailDuplicate(ctx context.Context, f *mir.Func) (n int) {
	tr := tlog.SpanFromContext(ctx)

	for bi, b := range f.Blocks {
		if bi == 0 || !dupCandidate(b) {
			continue
		}

		for pi, p := range f.Blocks {
			if pi == bi || len(p.Instrs) == 0 {
				continue
			}

			last := p.Instrs[len(p.Instrs)-1]
			if last.Op != mir.Bra || last.Ops[0].Index != bi || p.FirstTerminator() != len(p.Instrs)-1 {
				continue
			}

			p.Instrs = p.Instrs[:len(p.Instrs)-1]

			for _, x := range b.Instrs {
				p.Instrs = append(p.Instrs, x.Copy())
			}

			tr.V("tail_dup").Printw("duplicate", "func", f.Name, "block", b.Name, "into", p.Name)

			n++
		}
	}

	if n != 0 {
		removeDeadBlocks(f)
	}

	return n
}

func dupCandidate(b *mir.Block) bool {
	if len(b.Instrs) == 0 || len(b.Instrs) > TailDupSize {
		return false
	}

	last := b.Instrs[len(b.Instrs)-1]
	if last.Op != mir.Ret && last.Op != mir.Exit {
		return false
	}

	for _, x := range b.Instrs {
		if x.IsPHI() || len(x.Defs()) != 0 {
			return false
		}
	}

	return true
}

// OptimizePHIs removes PHIs which always yield one value
// and cycles of PHIs nothing else reads.
func OptimizePHIs(ctx context.Context, f *mir.Func) (n int) {
	for changed := true; changed; {
		changed = false

		for _, b := range f.Blocks {
			for _, x := range b.Instrs {
				if !x.IsPHI() {
					break
				}

				if v := singleValue(x); v != mir.NoReg {
					d := x.Def()
					x.Op = "" // marked for removal

					f.ReplaceReg(d, v)
					changed = true
					n++
				}
			}

			b.Remove(func(x *mir.Instr) bool { return x.Op == "" })
		}
	}

	n += removeDeadPHICycles(f)

	return n
}

func singleValue(x *mir.Instr) mir.Reg {
	d := x.Def()
	v := mir.NoReg

	regs, _ := x.PhiInputs()

	for _, r := range regs {
		if r == d || r == v {
			continue
		}

		if v != mir.NoReg {
			return mir.NoReg
		}

		v = r
	}

	return v
}

func removeDeadPHICycles(f *mir.Func) (n int) {
	phis := map[mir.Reg]*mir.Instr{}

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			if x.IsPHI() {
				phis[x.Def()] = x
			}
		}
	}

	// a PHI is live when a non-PHI reads it or a live PHI does
	live := map[mir.Reg]bool{}
	var q []mir.Reg

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			if x.IsPHI() {
				continue
			}

			for _, r := range x.Uses() {
				if phis[r] != nil && !live[r] {
					live[r] = true
					q = append(q, r)
				}
			}
		}
	}

	for len(q) != 0 {
		r := q[len(q)-1]
		q = q[:len(q)-1]

		for _, u := range phis[r].Uses() {
			if phis[u] != nil && !live[u] {
				live[u] = true
				q = append(q, u)
			}
		}
	}

	for _, b := range f.Blocks {
		n += b.Remove(func(x *mir.Instr) bool {
			return x.IsPHI() && !live[x.Def()]
		})
	}

	return n
}

// EliminateDeadCode removes pure instructions with unused results.
func EliminateDeadCode(ctx context.Context, f *mir.Func) (n int) {
	for {
		uses := f.UseCounts()
		k := 0

		for _, b := range f.Blocks {
			k += b.Remove(func(x *mir.Instr) bool {
				if x.HasSideEffects() {
					return false
				}

				for _, r := range x.Defs() {
					if uses[r] != 0 {
						return false
					}
				}

				return len(x.Defs()) != 0
			})
		}

		if k == 0 {
			return n
		}

		n += k
	}
}

// Peephole rewrites integer algebraic identities into copies.
func Peephole(ctx context.Context, f *mir.Func) (n int) {
	tr := tlog.SpanFromContext(ctx)

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			src, ok := identity(x)
			if !ok || f.Class(src) != f.Class(x.Def()) {
				continue
			}

			tr.V("peephole").Printw("identity", "func", f.Name, "op", x.Op)

			*x = mir.Instr{Op: mir.COPY, Ops: []mir.Operand{x.Ops[0], mir.RegUse(src)}}
			n++
		}
	}

	return n
}

// identity returns the register x evaluates to.
func identity(x *mir.Instr) (mir.Reg, bool) {
	if len(x.Ops) != 3 || !x.Ops[0].IsRegDef() || !x.Ops[1].IsRegUse() {
		return mir.NoReg, false
	}

	op, suf, _ := strings.Cut(x.Op, ".")
	if strings.Contains(suf, "f32") || strings.Contains(suf, "f64") {
		return mir.NoReg, false
	}

	a, b := x.Ops[1], x.Ops[2]

	switch op {
	case "add", "sub", "or", "xor", "shl", "shr":
		if b.Kind == mir.KImm && b.Imm == 0 {
			return a.Reg, true
		}
	case "mul":
		if b.Kind == mir.KImm && b.Imm == 1 {
			return a.Reg, true
		}
	case "and":
		if b.IsRegUse() && b.Reg == a.Reg {
			return a.Reg, true
		}
	}

	return mir.NoReg, false
}
