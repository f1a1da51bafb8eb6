package codegen

import (
	"context"
	"sort"
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/set"
)

// EliminatePHIs lowers PHIs into copies. Each PHI gets a fresh register
// written at the end of every predecessor and read at the PHI position.
// The function is not in SSA form afterwards.
func EliminatePHIs(ctx context.Context, f *mir.Func) (n int, err error) {
	for bi, b := range f.Blocks {
		k := b.FirstNonPHI()
		if k == 0 {
			continue
		}

		phis := b.Instrs[:k]
		copies := make([]*mir.Instr, 0, k)

		for _, x := range phis {
			d := x.Def()
			t := f.NewReg(f.Class(d))

			regs, blocks := x.PhiInputs()

			for i, r := range regs {
				p := blocks[i]
				if p < 0 || p >= len(f.Blocks) {
					return n, errors.New("block %d: PHI input from bad block %d", bi, p)
				}

				pb := f.Blocks[p]
				pb.Insert(pb.FirstTerminator(), mir.NewInstr(mir.COPY, mir.RegDef(t), mir.RegUse(r)))
			}

			copies = append(copies, mir.NewInstr(mir.COPY, mir.RegDef(d), mir.RegUse(t)))
			n++
		}

		b.Instrs = append(copies, b.Instrs[k:]...)
	}

	return n, nil
}

// TwoAddress satisfies tied operand constraints by copying the tied use
// into the def register, and expands REG_SEQUENCE into a vector move.
func TwoAddress(ctx context.Context, f *mir.Func) (n int) {
	for _, b := range f.Blocks {
		for i := 0; i < len(b.Instrs); i++ {
			x := b.Instrs[i]

			if x.Op == mir.RegSequence {
				expandRegSequence(f, x)
				n++

				continue
			}

			if x.Tied == 0 || x.Tied >= len(x.Ops) {
				continue
			}

			d, u := x.Ops[0].Reg, x.Ops[x.Tied].Reg
			if d == u {
				continue
			}

			b.Insert(i, mir.NewInstr(mir.COPY, mir.RegDef(d), mir.RegUse(u)))
			i++

			x.Ops[x.Tied].Reg = d
			n++
		}
	}

	return n
}

// expandRegSequence turns REG_SEQUENCE d, r0, 0, r1, 1, ...
// into mov.bN d, r0, r1, ... ordered by sub-register index.
func expandRegSequence(f *mir.Func, x *mir.Instr) {
	type part struct {
		r   mir.Operand
		idx int64
	}

	var parts []part

	for i := 1; i+1 < len(x.Ops); i += 2 {
		parts = append(parts, part{x.Ops[i], x.Ops[i+1].Imm})
	}

	sort.SliceStable(parts, func(i, j int) bool { return parts[i].idx < parts[j].idx })

	ops := []mir.Operand{x.Ops[0]}
	for _, p := range parts {
		ops = append(ops, p.r)
	}

	x.Op = "mov.b" + strconv.Itoa(f.Class(x.Def()).Bits())
	x.Ops = ops
}

// Coalesce removes copies between registers which don't interfere,
// merging them into one register.
func Coalesce(ctx context.Context, f *mir.Func) (n int) {
	tr := tlog.SpanFromContext(ctx)

	g := interference(f)

	leader := make([]mir.Reg, f.NumRegs())
	for i := range leader {
		leader[i] = mir.Reg(i)
	}

	var find func(r mir.Reg) mir.Reg
	find = func(r mir.Reg) mir.Reg {
		for leader[r] != r {
			leader[r] = leader[leader[r]]
			r = leader[r]
		}

		return r
	}

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			if !x.IsCopy() || !x.Ops[1].IsRegUse() {
				continue
			}

			d, s := find(x.Ops[0].Reg), find(x.Ops[1].Reg)
			if d == s || f.Class(d) != f.Class(s) || g[d].IsSet(s) {
				continue
			}

			leader[d] = s
			g[s].Merge(g[d])

			g[d].Range(func(k mir.Reg) bool {
				g[k].Set(s)
				return true
			})

			tr.V("coalesce").Printw("join", "func", f.Name, "dst", d, "src", s)

			n++
		}
	}

	if n == 0 {
		return 0
	}

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			for i, o := range x.Ops {
				if o.Kind == mir.KReg && o.Reg != mir.NoReg {
					x.Ops[i].Reg = find(o.Reg)
				}
			}
		}

		b.Remove(func(x *mir.Instr) bool {
			return x.IsCopy() && x.Ops[0].Reg == x.Ops[1].Reg && x.Ops[1].Kind == mir.KReg
		})
	}

	if f.Frame.FrameReg != mir.NoReg {
		f.Frame.FrameReg = find(f.Frame.FrameReg)
	}

	return n
}

// interference builds the register interference graph.
// A def interferes with everything live across it,
// except the source of a copy it is defined by.
func interference(f *mir.Func) []set.Bits[mir.Reg] {
	g := make([]set.Bits[mir.Reg], f.NumRegs())
	l := computeLiveness(f)

	edge := func(a, b mir.Reg) {
		if a == b {
			return
		}

		g[a].Set(b)
		g[b].Set(a)
	}

	for bi, b := range f.Blocks {
		live := l.out[bi].Copy()

		for i := len(b.Instrs) - 1; i >= 0; i-- {
			x := b.Instrs[i]

			src := mir.NoReg
			if x.IsCopy() && x.Ops[1].IsRegUse() {
				src = x.Ops[1].Reg
			}

			for _, d := range x.Defs() {
				live.Range(func(k mir.Reg) bool {
					if k != src {
						edge(d, k)
					}

					return true
				})
			}

			for _, d := range x.Defs() {
				live.Clear(d)
			}

			for _, u := range x.Uses() {
				live.Set(u)
			}
		}
	}

	return g
}
