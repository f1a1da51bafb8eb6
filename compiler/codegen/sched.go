package codegen

import (
	"context"
	"fmt"
	"strings"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/mir"
)

type (
	// SchedError is a scheduling region left in its original order.
	SchedError struct {
		Func   string
		Block  int
		Size   int
		Reason string
	}

	sunit struct {
		x      *mir.Instr
		idx    int
		succs  []int
		npreds int
		height int
	}

	readyList struct {
		heap.Heap[int]
	}
)

func (e *SchedError) Error() string {
	return fmt.Sprintf("func %v: block %d: %d instructions: %v", e.Func, e.Block, e.Size, e.Reason)
}

// Schedule reorders each block by list scheduling, picking the ready
// instruction with the longest latency path to the block end first.
// A region above budget is not scheduled and reported. Zero budget is unlimited.
// The first failure is returned after all regions are tried.
func Schedule(ctx context.Context, f *mir.Func, budget int) (err error) {
	tr := tlog.SpanFromContext(ctx)

	for bi, b := range f.Blocks {
		lo, hi := b.FirstNonPHI(), b.FirstTerminator()
		if hi-lo < 2 {
			continue
		}

		var rerr error

		if budget > 0 && hi-lo > budget {
			rerr = &SchedError{Func: f.Name, Block: bi, Size: hi - lo, Reason: "region exceeds budget"}
		} else {
			var order []*mir.Instr

			order, rerr = scheduleRegion(b.Instrs[lo:hi])
			if rerr == nil {
				copy(b.Instrs[lo:hi], order)
			} else {
				rerr = &SchedError{Func: f.Name, Block: bi, Size: hi - lo, Reason: rerr.Error()}
			}
		}

		if rerr != nil {
			tr.V("sched").Printw("region not scheduled", "func", f.Name, "block", bi, "err", rerr)

			if err == nil {
				err = rerr
			}
		}
	}

	return err
}

func scheduleRegion(code []*mir.Instr) ([]*mir.Instr, error) {
	units := buildDAG(code)

	ready := readyList{Heap: heap.Heap[int]{Less: func(d []int, i, j int) bool {
		a, b := &units[d[i]], &units[d[j]]
		if a.height != b.height {
			return a.height > b.height
		}

		return a.idx < b.idx
	}}}

	for i := range units {
		if units[i].npreds == 0 {
			ready.Push(i)
		}
	}

	order := make([]*mir.Instr, 0, len(code))

	for ready.Len() != 0 {
		u := &units[ready.Pop()]
		order = append(order, u.x)

		for _, s := range u.succs {
			units[s].npreds--

			if units[s].npreds == 0 {
				ready.Push(s)
			}
		}
	}

	if len(order) != len(code) {
		return nil, errors.New("dependence cycle: %d of %d scheduled", len(order), len(code))
	}

	return order, nil
}

func buildDAG(code []*mir.Instr) []sunit {
	units := make([]sunit, len(code))

	for i, x := range code {
		units[i] = sunit{x: x, idx: i}
	}

	for i := range code {
		for j := 0; j < i; j++ {
			if dependent(code[j], code[i]) {
				units[j].succs = append(units[j].succs, i)
				units[i].npreds++
			}
		}
	}

	for i := len(units) - 1; i >= 0; i-- {
		u := &units[i]
		u.height = latency(u.x)

		for _, s := range u.succs {
			u.height = max(u.height, latency(u.x)+units[s].height)
		}
	}

	return units
}

// dependent reports whether b must stay after a.
func dependent(a, b *mir.Instr) bool {
	ad, au := a.Defs(), a.Uses()
	bd, bu := b.Defs(), b.Uses()

	if intersects(ad, bu) || intersects(au, bd) || intersects(ad, bd) {
		return true
	}

	if a.Op == mir.TexHandle || b.Op == mir.TexHandle {
		return false
	}

	am, bm := a.MayLoad() || a.MayStore(), b.MayLoad() || b.MayStore()
	as, bs := a.HasSideEffects(), b.HasSideEffects()

	switch {
	case as && (bm || bs), bs && (am || as):
		return true
	case a.MayStore() && b.MayLoad(), a.MayLoad() && b.MayStore():
		return true
	}

	return false
}

func latency(x *mir.Instr) int {
	switch {
	case x.MayLoad():
		return 20
	case strings.HasPrefix(x.Op, "div."), strings.HasPrefix(x.Op, "rem."):
		return 20
	case strings.HasPrefix(x.Op, "mul."), strings.HasPrefix(x.Op, "fma."), strings.HasPrefix(x.Op, "mad."):
		return 4
	}

	return 1
}

func intersects(a, b []mir.Reg) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}

	return false
}
