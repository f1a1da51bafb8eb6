package mir

import (
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
)

func (c Class) String() string {
	switch c {
	case Pred:
		return "pred"
	case B16:
		return "b16"
	case B32:
		return "b32"
	case B64:
		return "b64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "class" + strconv.Itoa(int(c))
	}
}

func (c Class) Prefix() string {
	switch c {
	case Pred:
		return "%p"
	case B16:
		return "%rs"
	case B32:
		return "%r"
	case B64:
		return "%rd"
	case F32:
		return "%f"
	case F64:
		return "%fd"
	default:
		return "%v"
	}
}

func (c Class) Bits() int {
	switch c {
	case Pred:
		return 1
	case B16:
		return 16
	case B32, F32:
		return 32
	case B64, F64:
		return 64
	default:
		return 0
	}
}

// Format appends a readable dump of m to b.
// It is a debugging aid, not PTX.
func Format(b []byte, m *Module) []byte {
	b = hfmt.Appendf(b, "// module %s\n", m.Name)

	for _, g := range m.Globals {
		b = hfmt.Appendf(b, ".%s .align %d .b8 %s[%d]", g.Space, g.Align, g.Name, g.Size)

		if g.Image != "" {
			b = hfmt.Appendf(b, " // %s", g.Image)
		}

		b = append(b, '\n')
	}

	for _, f := range m.Funcs {
		b = append(b, '\n')
		b = FormatFunc(b, f)
	}

	return b
}

func FormatFunc(b []byte, f *Func) []byte {
	kw := ".func"
	if f.Kernel {
		kw = ".entry"
	}

	b = hfmt.Appendf(b, "%s %s(", kw, f.Name)

	for i, p := range f.Params {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = hfmt.Appendf(b, ".param .%v %s", p.Class, p.Sym)
	}

	b = append(b, ")\n{\n"...)

	if fr := f.Frame; fr.Depot != "" {
		b = hfmt.Appendf(b, "\t.local .align %d .b8 %s[%d];\n", fr.MaxAlign, fr.Depot, fr.StackSize)
	} else if len(fr.Objects) != 0 {
		b = hfmt.Appendf(b, "\t// frame: %d objects\n", len(fr.Objects))
	}

	for i, blk := range f.Blocks {
		b = hfmt.Appendf(b, "BB%d_%s:\n", i, blk.Name)

		for _, x := range blk.Instrs {
			b = append(b, '\t')
			b = f.AppendInstr(b, x)
			b = append(b, '\n')
		}
	}

	b = append(b, "}\n"...)

	return b
}

func (f *Func) AppendInstr(b []byte, x *Instr) []byte {
	ops := x.Ops

	if x.Op == CBra && len(ops) != 0 {
		b = append(b, '@')
		b = f.AppendOperand(b, ops[0])
		b = append(b, " bra "...)
		ops = ops[1:]
	} else {
		b = append(b, x.Op...)
		if len(ops) != 0 {
			b = append(b, ' ')
		}
	}

	for i, o := range ops {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = f.AppendOperand(b, o)
	}

	return append(b, ';')
}

func (f *Func) AppendOperand(b []byte, o Operand) []byte {
	switch o.Kind {
	case KReg:
		b = append(b, f.Class(o.Reg).Prefix()...)
		return strconv.AppendInt(b, int64(o.Reg), 10)
	case KImm:
		return strconv.AppendInt(b, o.Imm, 10)
	case KFImm:
		return strconv.AppendFloat(b, o.FImm, 'g', -1, 64)
	case KSym:
		return append(b, o.Sym...)
	case KFrame:
		return hfmt.Appendf(b, "%%stack.%d", o.Index)
	case KBlock:
		return hfmt.Appendf(b, "BB%d", o.Index)
	default:
		return append(b, '?')
	}
}
