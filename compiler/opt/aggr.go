package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/ir"
)

// MaxAggrElems is the largest aggregate copy unrolled in place.
// Larger ones become a copy loop.
const MaxAggrElems = 1024

// LowerAggrCopies expands memcpy and memset into element-wise loads and stores.
// The element is the widest integer both the size and the alignment allow.
func LowerAggrCopies(ctx context.Context, m *ir.Module) (n int) {
	tr := tlog.SpanFromContext(ctx)

	for _, f := range m.Funcs {
		if f.IsDecl() {
			continue
		}

		l := aggrLowerer{f: f, next: f.NewValue()}

		// split blocks are appended and lowered when the loop gets to them
		for bi := 0; bi < len(f.Blocks); bi++ {
			b := f.Blocks[bi]
			code := make([]*ir.Instr, 0, len(b.Code))

			for i, x := range b.Code {
				if (x.Op != ir.OpMemcpy && x.Op != ir.OpMemset) || len(x.Args) != 2 {
					code = append(code, x)
					continue
				}

				w := elemWidth(x.Size, x.Align)
				if x.Op == ir.OpMemset {
					if _, ok := l.constant(x.Args[1]); !ok {
						w = 1
					}
				}

				n++

				if x.Size/w > MaxAggrElems {
					tr.V("lower_aggr").Printw("lower to loop", "func", f.Name, "op", x.Op, "size", x.Size, "align", x.Align, "elem", w)

					code = l.loop(bi, code, x, w, b.Code[i+1:])

					break
				}

				tr.V("lower_aggr").Printw("lower", "func", f.Name, "op", x.Op, "size", x.Size, "align", x.Align, "elem", w)

				if x.Op == ir.OpMemcpy {
					code = l.memcpy(code, x, w)
				} else {
					code = l.memset(code, x, w)
				}
			}

			b.Code = code
		}
	}

	return n
}

type aggrLowerer struct {
	f    *ir.Func
	next ir.Value
}

func (l *aggrLowerer) memcpy(code []*ir.Instr, x *ir.Instr, w int) []*ir.Instr {
	dst, src := x.Args[0], x.Args[1]
	t := intType(w)
	flags := volatile(x.Flags)

	for off := 0; off < x.Size; off += w {
		var s, d ir.Value

		code, s = l.addr(code, src, off)
		code, d = l.addr(code, dst, off)

		v := l.value()
		code = append(code,
			&ir.Instr{Op: ir.OpLoad, Type: t, Out: v, Args: []ir.Value{s}, Space: x.From, Align: w, Flags: flags},
			&ir.Instr{Op: ir.OpStore, Type: t, Args: []ir.Value{d, v}, Space: x.Space, Align: w, Flags: flags},
		)
	}

	return code
}

// memset splats constant fill values into wide elements.
// A dynamic fill byte is stored byte by byte.
func (l *aggrLowerer) memset(code []*ir.Instr, x *ir.Instr, w int) []*ir.Instr {
	dst, val := x.Args[0], x.Args[1]
	flags := volatile(x.Flags)

	c, ok := l.constant(val)
	if !ok {
		w = 1
	}

	t := intType(w)

	if ok {
		val = l.value()
		code = append(code, &ir.Instr{Op: ir.OpImm, Type: t, Out: val, Imm: splat(c, w)})
	}

	for off := 0; off < x.Size; off += w {
		var d ir.Value

		code, d = l.addr(code, dst, off)

		code = append(code, &ir.Instr{Op: ir.OpStore, Type: t, Args: []ir.Value{d, val}, Space: x.Space, Align: w, Flags: flags})
	}

	return code
}

// loop ends block bi with a branch into a new copy loop block.
// The loop exits into a new block holding rest, the tail of bi.
func (l *aggrLowerer) loop(bi int, code []*ir.Instr, x *ir.Instr, w int, rest []*ir.Instr) []*ir.Instr {
	f := l.f
	li, si := len(f.Blocks), len(f.Blocks)+1

	t := intType(w)
	flags := volatile(x.Flags)
	dst := x.Args[0]

	var val ir.Value

	if x.Op == ir.OpMemset {
		val = x.Args[1]

		if c, ok := l.constant(val); ok {
			val = l.value()
			code = append(code, &ir.Instr{Op: ir.OpImm, Type: t, Out: val, Imm: splat(c, w)})
		}
	}

	zero, step, size := l.value(), l.value(), l.value()

	code = append(code,
		&ir.Instr{Op: ir.OpImm, Type: ir.Ptr, Out: zero, Imm: 0},
		&ir.Instr{Op: ir.OpImm, Type: ir.Ptr, Out: step, Imm: int64(w)},
		&ir.Instr{Op: ir.OpImm, Type: ir.Ptr, Out: size, Imm: int64(x.Size)},
		&ir.Instr{Op: ir.OpBr, Blocks: []int{li}},
	)

	off, next, d, c := l.value(), l.value(), l.value(), l.value()

	body := []*ir.Instr{
		{Op: ir.OpPhi, Type: ir.Ptr, Out: off, Phi: []ir.PhiBranch{{Block: bi, Value: zero}, {Block: li, Value: next}}},
		{Op: ir.OpAdd, Type: ir.Ptr, Out: d, Args: []ir.Value{dst, off}},
	}

	if x.Op == ir.OpMemcpy {
		src, v := l.value(), l.value()

		body = append(body,
			&ir.Instr{Op: ir.OpAdd, Type: ir.Ptr, Out: src, Args: []ir.Value{x.Args[1], off}},
			&ir.Instr{Op: ir.OpLoad, Type: t, Out: v, Args: []ir.Value{src}, Space: x.From, Align: w, Flags: flags},
		)

		val = v
	}

	body = append(body,
		&ir.Instr{Op: ir.OpStore, Type: t, Args: []ir.Value{d, val}, Space: x.Space, Align: w, Flags: flags},
		&ir.Instr{Op: ir.OpAdd, Type: ir.Ptr, Out: next, Args: []ir.Value{off, step}},
		&ir.Instr{Op: ir.OpCmp, Type: ir.Ptr, Out: c, Cond: ir.Lt, Args: []ir.Value{next, size}},
		&ir.Instr{Op: ir.OpBrCond, Args: []ir.Value{c}, Blocks: []int{li, si}},
	)

	name := f.Blocks[bi].Name
	split := &ir.Block{Name: name + ".split", Code: append([]*ir.Instr{}, rest...)}

	f.Blocks = append(f.Blocks, &ir.Block{Name: name + ".aggr", Code: body}, split)

	// the terminator of bi moved to the split block
	seen := map[int]bool{}

	for _, sb := range split.Succs() {
		if seen[sb] {
			continue
		}

		seen[sb] = true

		for _, y := range f.Blocks[sb].Code {
			if y.Op != ir.OpPhi {
				continue
			}

			for j := range y.Phi {
				if y.Phi[j].Block == bi {
					y.Phi[j].Block = si
				}
			}
		}
	}

	return code
}

func (l *aggrLowerer) addr(code []*ir.Instr, base ir.Value, off int) ([]*ir.Instr, ir.Value) {
	if off == 0 {
		return code, base
	}

	c := l.value()
	a := l.value()

	return append(code,
		&ir.Instr{Op: ir.OpImm, Type: ir.Ptr, Out: c, Imm: int64(off)},
		&ir.Instr{Op: ir.OpAdd, Type: ir.Ptr, Out: a, Args: []ir.Value{base, c}},
	), a
}

func (l *aggrLowerer) constant(v ir.Value) (int64, bool) {
	d := l.f.Defs()[v]
	if d == nil || d.Op != ir.OpImm {
		return 0, false
	}

	return d.Imm, true
}

func (l *aggrLowerer) value() ir.Value {
	v := l.next
	l.next++

	return v
}

func splat(c int64, w int) (r int64) {
	for i := 0; i < w; i++ {
		r = r<<8 | c&0xff
	}

	return r
}

func elemWidth(size, align int) int {
	for _, w := range []int{8, 4, 2} {
		if size%w == 0 && align >= w && align%w == 0 {
			return w
		}
	}

	return 1
}

func intType(w int) ir.Type {
	switch w {
	case 8:
		return ir.I64
	case 4:
		return ir.I32
	case 2:
		return ir.I16
	}

	return ir.I8
}

func volatile(fs ir.Flags) ir.Flags {
	if fs.Has(ir.Volatile) {
		return ir.Flags{ir.Volatile}
	}

	return nil
}
