package isel

import (
	"context"
	"fmt"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/target"
)

type (
	// Error is an instruction the subtarget can't select.
	Error struct {
		Func   string
		Block  string
		Op     ir.Op
		Reason string
	}

	selector struct {
		st      target.Subtarget
		ptrBits int

		m  *ir.Module
		f  *ir.Func
		mf *mir.Func

		regs   map[ir.Value]mir.Reg
		defs   map[ir.Value]*ir.Instr
		frames map[ir.Value]int

		blk *ir.Block
		cur *mir.Block
	}
)

var ErrUnsupported = errors.New("unsupported by subtarget")

func (e *Error) Error() string {
	return fmt.Sprintf("func %v: block %v: %v: %v", e.Func, e.Block, e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return ErrUnsupported }

// Select translates m into the machine instruction stream.
// It fails on the first instruction the subtarget can't express.
func Select(ctx context.Context, tm *target.Machine, m *ir.Module) (_ *mir.Module, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "isel", "module", m.Name, "sm", tm.Subtarget.SmVersion)
	defer tr.Finish("err", &err)

	mm := &mir.Module{
		Name: m.Name,
		Is64: tm.Is64Bit(),
	}

	for _, g := range m.Globals {
		mm.Globals = append(mm.Globals, mir.Global{
			Name:  g.Name,
			Space: string(g.Space.OrGeneric()),
			Size:  g.Size,
			Align: g.Align,
			Image: string(g.Image),
		})
	}

	for _, f := range m.Funcs {
		if f.IsDecl() {
			continue
		}

		mf, err := selectFunc(ctx, tm, m, f)
		if err != nil {
			return nil, err
		}

		mm.Funcs = append(mm.Funcs, mf)
	}

	return mm, nil
}

func selectFunc(ctx context.Context, tm *target.Machine, m *ir.Module, f *ir.Func) (*mir.Func, error) {
	tr := tlog.SpanFromContext(ctx)

	s := &selector{
		st:      tm.Subtarget,
		ptrBits: tm.PointerBits(),
		m:       m,
		f:       f,
		mf:      &mir.Func{Name: f.Name, Kernel: f.Kernel},
		regs:    make(map[ir.Value]mir.Reg),
		defs:    f.Defs(),
		frames:  make(map[ir.Value]int),
	}

	for _, b := range f.Blocks {
		for i, x := range b.Code {
			if err := ir.CheckArity(x); err != nil {
				return nil, errors.Wrap(err, "func %v: block %v: instr %d", f.Name, b.Name, i)
			}
		}

		s.mf.Blocks = append(s.mf.Blocks, &mir.Block{Name: b.Name})
	}

	for i, p := range f.Params {
		t := p.Type
		if p.Image != ir.NoImage {
			t = ir.I64
		}

		c := classOf(t, s.ptrBits)
		if c == 0 {
			return nil, s.fail(nil, "param %v: bad type %q", p.Name, p.Type)
		}

		s.regs[p.Value] = s.mf.NewReg(c)
		s.mf.Params = append(s.mf.Params, mir.Param{
			Name:  p.Name,
			Sym:   fmt.Sprintf("%s_param_%d", f.Name, i),
			Class: c,
		})
	}

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if x.Out == ir.Nil {
				continue
			}

			c := classOf(s.resultType(x), s.ptrBits)
			if c == 0 {
				s.blk = b
				return nil, s.fail(x, "bad result type %q", x.Type)
			}

			s.regs[x.Out] = s.mf.NewReg(c)
		}
	}

	s.cur = s.mf.Blocks[0]

	for i, p := range f.Params {
		t := p.Type
		if p.Image != ir.NoImage {
			t = ir.I64
		}

		s.emit("ld.param."+memSuffix(t, s.ptrBits), mir.RegDef(s.regs[p.Value]), mir.Sym(s.mf.Params[i].Sym), mir.Imm(0))
	}

	for bi, b := range f.Blocks {
		s.blk = b
		s.cur = s.mf.Blocks[bi]

		for _, x := range b.Code {
			err := s.selectInstr(x)
			if err != nil {
				return nil, err
			}
		}
	}

	if tr.If("dump_isel") {
		tr.Printw("selected", "func", f.Name, "code", tlog.FormatNext("%s"), mir.FormatFunc(nil, s.mf))
	}

	return s.mf, nil
}

func (s *selector) selectInstr(x *ir.Instr) error {
	t := x.Type

	if t == ir.F64 && !s.st.HasDouble() {
		return s.fail(x, "double precision needs sm_13")
	}

	switch x.Op {
	case ir.OpImm:
		if t == ir.I1 {
			s.emit("mov.pred", s.def(x), mir.Imm(x.Imm&1))
			return nil
		}

		s.emit("mov."+unsignedSuffix(t, s.ptrBits), s.def(x), mir.Imm(x.Imm))
	case ir.OpFImm:
		s.emit("mov."+string(t), s.def(x), mir.FImm(x.FImm))
	case ir.OpUndef:
		s.emit(mir.ImplicitDef, s.def(x))
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl, ir.OpShr:
		return s.binary(x)
	case ir.OpCmp:
		if s.typeOf(x.Args[0]) == ir.F64 && !s.st.HasDouble() {
			return s.fail(x, "double precision needs sm_13")
		}

		return s.binary(x)
	case ir.OpSelect:
		p, ok := lookup(binaryPatterns, x.Op, t)
		if !ok {
			return s.fail(x, "select of %v", t)
		}

		s.emit(expand(p.opc, t, s.ptrBits, ""), s.def(x), s.use(x.Args[1]), s.use(x.Args[2]), s.use(x.Args[0]))
	case ir.OpFma:
		return s.fma(x)
	case ir.OpRotl:
		return s.rotate(x)
	case ir.OpLoad:
		return s.load(x)
	case ir.OpStore:
		return s.store(x)
	case ir.OpAtomicAdd:
		return s.atomic(x)
	case ir.OpAlloca:
		fi := s.mf.AddFrameObject(x.Size, max(x.Align, 1), false)
		s.frames[x.Out] = fi

		s.emit("add."+unsignedSuffix(ir.Ptr, s.ptrBits), s.def(x), mir.FrameIndex(fi), mir.Imm(0))
	case ir.OpGlobal:
		s.emit("mov."+unsignedSuffix(ir.Ptr, s.ptrBits), s.def(x), mir.Sym(x.Sym))
	case ir.OpCast:
		return s.cast(x)
	case ir.OpMemcpy, ir.OpMemset:
		return s.fail(x, "aggregate copies must be lowered before selection")
	case ir.OpVote:
		if !s.st.HasVote() {
			return s.fail(x, "vote needs sm_12")
		}

		mode := x.Cond
		if mode == "" {
			mode = ir.VoteAll
		}

		s.emit("vote."+string(mode)+".pred", s.def(x), s.use(x.Args[0]))
	case ir.OpBrkPt:
		if !s.st.HasBrkPt() {
			return s.fail(x, "brkpt needs sm_11")
		}

		s.emit("brkpt")
	case ir.OpIsType:
		if !s.st.HasImageHandles() {
			return s.fail(x, "istypep needs image handles")
		}

		s.emit("istypep."+imageSuffix(x.Image), s.def(x), s.use(x.Args[0]))
	case ir.OpTexHandle:
		s.emit(mir.TexHandle, s.def(x), mir.Sym(x.Sym))
	case ir.OpTex:
		s.emit("tex.2d.v4.f32.f32", s.def(x), s.use(x.Args[0]), s.use(x.Args[1]), s.use(x.Args[2]))
	case ir.OpCall:
		return s.call(x)
	case ir.OpReflect:
		return s.fail(x, "unresolved __nvvm_reflect(%q)", x.Sym)
	case ir.OpPhi:
		ops := []mir.Operand{s.def(x)}

		for _, p := range x.Phi {
			ops = append(ops, s.use(p.Value), mir.BlockRef(p.Block))
		}

		s.emit(mir.PHI, ops...)
	case ir.OpBr:
		s.emit(mir.Bra, mir.BlockRef(x.Blocks[0]))
	case ir.OpBrCond:
		s.emit(mir.CBra, s.use(x.Args[0]), mir.BlockRef(x.Blocks[0]))
		s.emit(mir.Bra, mir.BlockRef(x.Blocks[1]))
	case ir.OpRet:
		if len(x.Args) != 0 {
			rt := s.typeOf(x.Args[0])
			s.emit("st.param."+memSuffix(rt, s.ptrBits), mir.Sym("func_retval0"), mir.Imm(0), s.use(x.Args[0]))
		}

		s.emit(mir.Ret)
	default:
		return s.fail(x, "no pattern")
	}

	return nil
}

func (s *selector) binary(x *ir.Instr) error {
	t := x.Type
	if x.Op == ir.OpCmp {
		t = s.typeOf(x.Args[0])
	}

	p, ok := lookup(binaryPatterns, x.Op, t)
	if !ok {
		return s.fail(x, "no pattern for %v", t)
	}

	opc := expand(p.opc, t, s.ptrBits, x.Cond)
	if x.Op == ir.OpCmp && x.Cond == "" {
		opc = expand(p.opc, t, s.ptrBits, ir.Eq)
	}

	if t == ir.F32 && s.f.FTZ && s.st.HasF32FTZ() {
		opc = strings.Replace(opc, ".f32", ".ftz.f32", 1)
	}

	s.emit(opc, s.def(x), s.use(x.Args[0]), s.use(x.Args[1]))

	return nil
}

func (s *selector) fma(x *ir.Instr) error {
	p, ok := lookup(binaryPatterns, x.Op, x.Type)
	if !ok {
		return s.fail(x, "no pattern for %v", x.Type)
	}

	if p.need(s.st) {
		s.emit(expand(p.opc, x.Type, s.ptrBits, ""), s.def(x), s.use(x.Args[0]), s.use(x.Args[1]), s.use(x.Args[2]))
		return nil
	}

	if x.Type != ir.F32 {
		return s.fail(x, "%s", p.why)
	}

	// unfused fallback
	t := s.mf.NewReg(mir.F32)
	s.emit("mul.rn.f32", mir.RegDef(t), s.use(x.Args[0]), s.use(x.Args[1]))
	s.emit("add.rn.f32", s.def(x), mir.RegUse(t), s.use(x.Args[2]))

	return nil
}

func (s *selector) rotate(x *ir.Instr) error {
	var bits int64

	switch x.Type {
	case ir.I32:
		bits = 32

		if s.st.HasHWROT32() {
			s.emit("shf.l.wrap.b32", s.def(x), s.use(x.Args[0]), s.use(x.Args[0]), s.use(x.Args[1]))
			return nil
		}
	case ir.I64:
		bits = 64

		if !s.st.HasROT64() {
			return s.fail(x, "64-bit rotate needs sm_20")
		}
	default:
		return s.fail(x, "rotate of %v", x.Type)
	}

	c := classOf(x.Type, s.ptrBits)
	b := fmt.Sprintf("b%d", bits)

	lo := s.mf.NewReg(c)
	hi := s.mf.NewReg(c)

	if d := s.defs[x.Args[1]]; d != nil && d.Op == ir.OpImm {
		k := d.Imm & (bits - 1)

		s.emit("shl."+b, mir.RegDef(lo), s.use(x.Args[0]), mir.Imm(k))
		s.emit("shr."+b, mir.RegDef(hi), s.use(x.Args[0]), mir.Imm(bits-k))
	} else {
		n := s.mf.NewReg(classOf(x.Type, s.ptrBits))

		s.emit("shl."+b, mir.RegDef(lo), s.use(x.Args[0]), s.use(x.Args[1]))
		s.emit(fmt.Sprintf("sub.s%d", bits), mir.RegDef(n), mir.Imm(bits), s.use(x.Args[1]))
		s.emit("shr."+b, mir.RegDef(hi), s.use(x.Args[0]), mir.RegUse(n))
	}

	s.emit("or."+b, s.def(x), mir.RegUse(lo), mir.RegUse(hi))

	return nil
}

func (s *selector) load(x *ir.Instr) error {
	addr, sp := s.address(x.Args[0], x.Space.OrGeneric())

	if sp == ir.Generic && !s.st.HasGenericLdSt() {
		return s.fail(x, "generic addressing needs sm_20")
	}

	if x.Type == ir.I1 {
		return s.fail(x, "load of i1")
	}

	op := "ld"
	q := []string{}

	switch {
	case x.Flags.Has(ir.Volatile):
		q = append(q, "volatile")
	case sp == ir.SpaceGlobal && x.Flags.Has(ir.ReadOnly) && s.st.HasLDG():
		q = append(q, "global", "nc")
		sp = ""
	case sp == ir.SpaceGlobal && x.Flags.Has(ir.Uniform) && s.st.HasLDU():
		op = "ldu"
	}

	if sp != "" && sp != ir.Generic {
		q = append(q, string(sp))
	}

	q = append(q, memSuffix(x.Type, s.ptrBits))

	s.emit(op+"."+strings.Join(q, "."), append([]mir.Operand{s.def(x)}, addr...)...)

	return nil
}

func (s *selector) store(x *ir.Instr) error {
	addr, sp := s.address(x.Args[0], x.Space.OrGeneric())

	if sp == ir.Generic && !s.st.HasGenericLdSt() {
		return s.fail(x, "generic addressing needs sm_20")
	}

	t := x.Type
	if t == "" {
		t = s.typeOf(x.Args[1])
	}

	if t == ir.I1 {
		return s.fail(x, "store of i1")
	}

	q := []string{}

	if x.Flags.Has(ir.Volatile) {
		q = append(q, "volatile")
	}

	if sp != ir.Generic {
		q = append(q, string(sp))
	}

	q = append(q, memSuffix(t, s.ptrBits))

	s.emit("st."+strings.Join(q, "."), append(addr, s.use(x.Args[1]))...)

	return nil
}

func (s *selector) atomic(x *ir.Instr) error {
	addr, sp := s.address(x.Args[0], x.Space.OrGeneric())

	for _, p := range atomicPatterns {
		if p.space != sp || p.typ != x.Type {
			continue
		}

		if !p.need(s.st) {
			return s.fail(x, "%s", p.why)
		}

		q := []string{"atom"}
		if sp != ir.Generic {
			q = append(q, string(sp))
		}

		q = append(q, "add", unsignedSuffix(x.Type, s.ptrBits))

		s.emit(strings.Join(q, "."), append(append([]mir.Operand{s.def(x)}, addr...), s.use(x.Args[1]))...)

		return nil
	}

	return s.fail(x, "atomic add of %v in %v space", x.Type, sp)
}

func (s *selector) cast(x *ir.Instr) error {
	from, to := x.From.OrGeneric(), x.Space.OrGeneric()
	u := unsignedSuffix(ir.Ptr, s.ptrBits)

	switch {
	case from == to:
		s.emit(mir.COPY, s.def(x), s.use(x.Args[0]))
	case !s.st.HasGenericLdSt():
		return s.fail(x, "address space conversion needs sm_20")
	case to == ir.Generic:
		s.emit("cvta."+string(from)+"."+u, s.def(x), s.use(x.Args[0]))
	case from == ir.Generic:
		s.emit("cvta.to."+string(to)+"."+u, s.def(x), s.use(x.Args[0]))
	default:
		return s.fail(x, "cast from %v to %v", from, to)
	}

	return nil
}

func (s *selector) call(x *ir.Instr) error {
	ops := []mir.Operand{}

	if x.Out != ir.Nil {
		ops = append(ops, s.def(x))
	}

	ops = append(ops, mir.Sym(x.Sym))

	for _, a := range x.Args {
		ops = append(ops, s.use(a))
	}

	s.emit("call.uni", ops...)

	return nil
}

// address folds the address computation of v into a base and offset
// operand pair and refines the generic space when the base is known.
func (s *selector) address(v ir.Value, sp ir.Space) ([]mir.Operand, ir.Space) {
	base, off, known := s.fold(v, 0, 4)

	if sp == ir.Generic && known != "" {
		sp = known
	}

	return []mir.Operand{base, mir.Imm(off)}, sp
}

func (s *selector) fold(v ir.Value, off int64, depth int) (mir.Operand, int64, ir.Space) {
	d := s.defs[v]

	if d == nil || depth == 0 {
		return s.use(v), off, ""
	}

	switch d.Op {
	case ir.OpAlloca:
		return mir.FrameIndex(s.frames[v]), off, ir.Local
	case ir.OpGlobal:
		sp := d.Space
		if g := s.m.Global(d.Sym); g != nil && sp == "" {
			sp = g.Space
		}

		if sp.OrGeneric() == ir.Generic {
			return mir.Sym(d.Sym), off, ""
		}

		return mir.Sym(d.Sym), off, sp
	case ir.OpCast:
		src := s.defs[d.Args[0]]
		if src != nil && src.Op == ir.OpGlobal && d.Space.OrGeneric() == ir.Generic {
			return mir.Sym(src.Sym), off, d.From.OrGeneric()
		}
	case ir.OpAdd:
		if k := s.defs[d.Args[1]]; k != nil && k.Op == ir.OpImm {
			return s.fold(d.Args[0], off+k.Imm, depth-1)
		}
	}

	return s.use(v), off, ""
}

func (s *selector) resultType(x *ir.Instr) ir.Type {
	switch x.Op {
	case ir.OpCmp, ir.OpIsType, ir.OpVote:
		return ir.I1
	case ir.OpAlloca, ir.OpGlobal, ir.OpCast:
		return ir.Ptr
	case ir.OpTexHandle:
		return ir.I64
	case ir.OpReflect:
		return ir.I32
	case ir.OpTex:
		return ir.F32
	}

	return x.Type
}

func (s *selector) typeOf(v ir.Value) ir.Type {
	if d := s.defs[v]; d != nil {
		return s.resultType(d)
	}

	if p, ok := s.f.Param(v); ok {
		if p.Image != ir.NoImage {
			return ir.I64
		}

		return p.Type
	}

	return ""
}

func (s *selector) def(x *ir.Instr) mir.Operand { return mir.RegDef(s.regs[x.Out]) }

func (s *selector) use(v ir.Value) mir.Operand { return mir.RegUse(s.regs[v]) }

func (s *selector) emit(op string, ops ...mir.Operand) *mir.Instr {
	x := mir.NewInstr(op, ops...)
	s.cur.Instrs = append(s.cur.Instrs, x)

	return x
}

func (s *selector) fail(x *ir.Instr, format string, args ...any) error {
	e := &Error{
		Func:   s.f.Name,
		Reason: fmt.Sprintf(format, args...),
	}

	if s.blk != nil {
		e.Block = s.blk.Name
	}

	if x != nil {
		e.Op = x.Op
	}

	return e
}

func imageSuffix(img ir.Image) string {
	switch img {
	case ir.Sampler:
		return "samplerref"
	case ir.Surface:
		return "surfref"
	default:
		return "texref"
	}
}
