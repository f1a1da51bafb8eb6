package codegen

import (
	"context"
	"fmt"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/mir"
)

type interval struct{ lo, hi int }

// ColorStack merges local frame objects whose lifetimes don't overlap.
func ColorStack(ctx context.Context, f *mir.Func) int {
	return colorSlots(ctx, f, false)
}

// ColorStackSlots is ColorStack for spill slots.
func ColorStackSlots(ctx context.Context, f *mir.Func) int {
	return colorSlots(ctx, f, true)
}

func colorSlots(ctx context.Context, f *mir.Func, spill bool) (merged int) {
	tr := tlog.SpanFromContext(ctx)

	live := frameIntervals(f)

	var objs []int

	for i, o := range f.Frame.Objects {
		if o.Spill == spill && !o.Dead && !o.Placed {
			if _, ok := live[i]; ok {
				objs = append(objs, i)
			}
		}
	}

	sort.SliceStable(objs, func(i, j int) bool {
		return f.Frame.Objects[objs[i]].Size > f.Frame.Objects[objs[j]].Size
	})

	type slot struct {
		rep  int
		live []interval
	}

	var slots []*slot
	remap := map[int]int{}

outer:
	for _, i := range objs {
		o := f.Frame.Objects[i]
		iv := live[i]

		for _, s := range slots {
			r := f.Frame.Objects[s.rep]
			if o.Size > r.Size || o.Align > r.Align || overlaps(s.live, iv) {
				continue
			}

			s.live = append(s.live, iv)
			remap[i] = s.rep

			f.Frame.Objects[i].Dead = true
			merged++

			tr.V("stack_coloring").Printw("merge frame object", "func", f.Name, "obj", i, "into", s.rep, "spill", spill)

			continue outer
		}

		slots = append(slots, &slot{rep: i, live: []interval{iv}})
	}

	if merged == 0 {
		return 0
	}

	forFrameOps(f, func(x *mir.Instr, i int) {
		if r, ok := remap[x.Ops[i].Index]; ok {
			x.Ops[i].Index = r
		}
	})

	return merged
}

// frameIntervals numbers instructions in reverse post order and returns
// the span each frame object is referenced in. A span touching a loop
// is extended over the whole loop.
func frameIntervals(f *mir.Func) map[int]interval {
	live := map[int]interval{}
	span := make([]interval, len(f.Blocks))

	pos := 0

	for _, b := range f.RPO() {
		span[b].lo = pos

		for _, x := range f.Blocks[b].Instrs {
			for _, o := range x.Ops {
				if o.Kind != mir.KFrame {
					continue
				}

				iv, ok := live[o.Index]
				if !ok {
					iv = interval{pos, pos}
				}

				iv.lo = min(iv.lo, pos)
				iv.hi = max(iv.hi, pos)

				live[o.Index] = iv
			}

			pos++
		}

		span[b].hi = pos
	}

	loops := f.Loops
	if loops == nil {
		loops = findLoops(f, dominators(f))
	}

	for _, l := range loops {
		lv := interval{pos, 0}

		for _, b := range l.Blocks {
			lv.lo = min(lv.lo, span[b].lo)
			lv.hi = max(lv.hi, span[b].hi)
		}

		for k, iv := range live {
			if iv.lo <= lv.hi && lv.lo <= iv.hi {
				live[k] = interval{min(iv.lo, lv.lo), max(iv.hi, lv.hi)}
			}
		}
	}

	return live
}

func overlaps(l []interval, iv interval) bool {
	for _, x := range l {
		if x.lo <= iv.hi && iv.lo <= x.hi {
			return true
		}
	}

	return false
}

func forFrameOps(f *mir.Func, fn func(x *mir.Instr, i int)) {
	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			for i, o := range x.Ops {
				if o.Kind == mir.KFrame {
					fn(x, i)
				}
			}
		}
	}
}

// AllocateLocalSlots assigns offsets to live frame objects in order.
func AllocateLocalSlots(ctx context.Context, f *mir.Func) (n int) {
	fr := &f.Frame

	off := fr.StackSize

	for i := range fr.Objects {
		o := &fr.Objects[i]
		if o.Dead || o.Placed {
			continue
		}

		a := max(o.Align, 1)
		off = alignUp(off, a)

		o.Offset = off
		o.Placed = true
		off += o.Size

		fr.MaxAlign = max(fr.MaxAlign, a)
		n++
	}

	fr.StackSize = alignUp(off, max(fr.MaxAlign, 1))

	return n
}

// PrologEpilog lays out the frame and rewrites frame index operands
// to the frame register plus offset. PTX has no stack pointer to adjust,
// the frame is the per-thread local depot.
func PrologEpilog(ctx context.Context, f *mir.Func, idx int, is64 bool) error {
	AllocateLocalSlots(ctx, f)

	fr := &f.Frame
	if fr.StackSize == 0 {
		return nil
	}

	if len(f.Blocks) == 0 {
		return errors.New("frame in a function without blocks")
	}

	c, u := mir.B32, "u32"
	if is64 {
		c, u = mir.B64, "u64"
	}

	fr.Depot = fmt.Sprintf("__local_depot%d", idx)
	fr.FrameReg = f.NewReg(c)

	entry := f.Blocks[0]
	entry.Insert(entry.FirstNonPHI(), mir.NewInstr("mov."+u, mir.RegDef(fr.FrameReg), mir.Sym(fr.Depot)))

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			for i := 0; i < len(x.Ops); i++ {
				o := x.Ops[i]
				if o.Kind != mir.KFrame {
					continue
				}

				x.Ops[i] = mir.RegUse(fr.FrameReg)

				if i+1 < len(x.Ops) && x.Ops[i+1].Kind == mir.KImm {
					x.Ops[i+1].Imm += int64(fr.Objects[o.Index].Offset)
				}
			}
		}
	}

	return nil
}

func alignUp(x, a int) int {
	return (x + a - 1) / a * a
}
