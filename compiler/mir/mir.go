package mir

import "strings"

type (
	// Reg is a virtual register. There are no physical ones.
	Reg int

	Class uint8

	Kind uint8

	Operand struct {
		Kind Kind
		Def  bool

		Reg  Reg
		Imm  int64
		FImm float64
		Sym  string

		// Index is a frame object for KFrame and a block for KBlock.
		Index int
	}

	Instr struct {
		Op  string
		Ops []Operand

		// Tied is the index of a use operand that must be
		// the same register as the def in Ops[0]. Zero if none.
		Tied int
	}

	Block struct {
		Name   string
		Instrs []*Instr
	}

	Param struct {
		Name  string
		Sym   string
		Class Class
	}

	FrameObject struct {
		Size   int
		Align  int
		Offset int

		Spill  bool
		Dead   bool
		Placed bool
	}

	Frame struct {
		Objects []FrameObject

		StackSize int
		MaxAlign  int

		FrameReg Reg
		Depot    string
	}

	Loop struct {
		Header int
		Blocks []int
		Depth  int
		Parent int
	}

	Func struct {
		Name   string
		Kernel bool

		Params []Param
		Blocks []*Block

		// Regs holds register classes, indexed by Reg. Regs[0] is unused.
		Regs []Class

		Frame Frame

		// Analyses computed by pipeline stages.
		Loops   []Loop
		LiveIn  [][]Reg
		LiveOut [][]Reg
	}

	Global struct {
		Name  string
		Space string
		Size  int
		Align int
		Image string
	}

	Module struct {
		Name string
		Is64 bool

		Globals []Global
		Funcs   []*Func
	}
)

const NoReg Reg = 0

const (
	Pred Class = iota + 1
	B16
	B32
	B64
	F32
	F64
)

const (
	KReg Kind = iota
	KImm
	KFImm
	KSym
	KFrame
	KBlock
)

// Pseudo instructions. Everything else is a PTX opcode.
const (
	PHI         = "PHI"
	COPY        = "COPY"
	ImplicitDef = "IMPLICIT_DEF"
	RegSequence = "REG_SEQUENCE"
	TexHandle   = "texsurf_handle"

	Bra  = "bra"
	CBra = "cbra"
	Ret  = "ret"
	Exit = "exit"
)

func RegDef(r Reg) Operand { return Operand{Kind: KReg, Reg: r, Def: true} }
func RegUse(r Reg) Operand { return Operand{Kind: KReg, Reg: r} }
func Imm(v int64) Operand { return Operand{Kind: KImm, Imm: v} }
func FImm(v float64) Operand { return Operand{Kind: KFImm, FImm: v} }
func Sym(s string) Operand { return Operand{Kind: KSym, Sym: s} }
func FrameIndex(i int) Operand { return Operand{Kind: KFrame, Index: i} }
func BlockRef(i int) Operand { return Operand{Kind: KBlock, Index: i} }

func (o Operand) IsReg() bool { return o.Kind == KReg && o.Reg != NoReg }
func (o Operand) IsRegDef() bool { return o.IsReg() && o.Def }
func (o Operand) IsRegUse() bool { return o.IsReg() && !o.Def }

func (x *Instr) IsPHI() bool { return x.Op == PHI }
func (x *Instr) IsCopy() bool { return x.Op == COPY }

func (x *Instr) IsTerminator() bool {
	switch x.Op {
	case Bra, CBra, Ret, Exit:
		return true
	}

	return false
}

func (x *Instr) MayLoad() bool {
	return strings.HasPrefix(x.Op, "ld.") || strings.HasPrefix(x.Op, "ldu.") ||
		strings.HasPrefix(x.Op, "tex.") || strings.HasPrefix(x.Op, "atom.")
}

func (x *Instr) MayStore() bool {
	return strings.HasPrefix(x.Op, "st.") || strings.HasPrefix(x.Op, "atom.")
}

// HasSideEffects reports instructions that must not be removed or moved
// across each other even when their results are unused.
func (x *Instr) HasSideEffects() bool {
	if x.IsTerminator() || x.MayStore() {
		return true
	}

	switch {
	case strings.HasPrefix(x.Op, "call"),
		strings.HasPrefix(x.Op, "vote."),
		x.Op == "brkpt",
		strings.Contains(x.Op, ".volatile."):
		return true
	}

	return false
}

func (x *Instr) Defs() (r []Reg) {
	for _, o := range x.Ops {
		if o.IsRegDef() {
			r = append(r, o.Reg)
		}
	}

	return r
}

func (x *Instr) Uses() (r []Reg) {
	for _, o := range x.Ops {
		if o.IsRegUse() {
			r = append(r, o.Reg)
		}
	}

	return r
}

// Def returns the first defined register.
func (x *Instr) Def() Reg {
	for _, o := range x.Ops {
		if o.IsRegDef() {
			return o.Reg
		}
	}

	return NoReg
}

// Copy returns a deep copy of x.
func (x *Instr) Copy() *Instr {
	y := *x
	y.Ops = append([]Operand(nil), x.Ops...)

	return &y
}

// PhiInputs returns (reg, block) pairs of a PHI.
func (x *Instr) PhiInputs() (regs []Reg, blocks []int) {
	for i := 1; i+1 < len(x.Ops); i += 2 {
		regs = append(regs, x.Ops[i].Reg)
		blocks = append(blocks, x.Ops[i+1].Index)
	}

	return regs, blocks
}

func (f *Func) NewReg(c Class) Reg {
	if len(f.Regs) == 0 {
		f.Regs = append(f.Regs, 0)
	}

	f.Regs = append(f.Regs, c)

	return Reg(len(f.Regs) - 1)
}

func (f *Func) Class(r Reg) Class {
	if r <= 0 || int(r) >= len(f.Regs) {
		return 0
	}

	return f.Regs[r]
}

func (f *Func) NumRegs() int { return len(f.Regs) }

func (f *Func) AddFrameObject(size, align int, spill bool) int {
	f.Frame.Objects = append(f.Frame.Objects, FrameObject{Size: size, Align: align, Spill: spill})

	return len(f.Frame.Objects) - 1
}

// Succs returns successor blocks in terminator order.
func (b *Block) Succs() (r []int) {
	for _, x := range b.Instrs {
		if !x.IsTerminator() {
			continue
		}

		for _, o := range x.Ops {
			if o.Kind == KBlock && !containsInt(r, o.Index) {
				r = append(r, o.Index)
			}
		}
	}

	return r
}

// FirstNonPHI returns the index of the first non PHI instruction.
func (b *Block) FirstNonPHI() int {
	i := 0
	for i < len(b.Instrs) && b.Instrs[i].IsPHI() {
		i++
	}

	return i
}

// FirstTerminator returns the index of the first terminator or len(Instrs).
func (b *Block) FirstTerminator() int {
	for i, x := range b.Instrs {
		if x.IsTerminator() {
			return i
		}
	}

	return len(b.Instrs)
}

func (b *Block) Insert(i int, xs ...*Instr) {
	r := make([]*Instr, 0, len(b.Instrs)+len(xs))
	r = append(r, b.Instrs[:i]...)
	r = append(r, xs...)
	r = append(r, b.Instrs[i:]...)

	b.Instrs = r
}

// Remove drops instructions for which del returns true.
func (b *Block) Remove(del func(x *Instr) bool) (n int) {
	j := 0

	for _, x := range b.Instrs {
		if del(x) {
			n++
			continue
		}

		b.Instrs[j] = x
		j++
	}

	for i := j; i < len(b.Instrs); i++ {
		b.Instrs[i] = nil
	}

	b.Instrs = b.Instrs[:j]

	return n
}

func (f *Func) Preds() [][]int {
	preds := make([][]int, len(f.Blocks))

	for i, b := range f.Blocks {
		for _, s := range b.Succs() {
			if s >= 0 && s < len(preds) && !containsInt(preds[s], i) {
				preds[s] = append(preds[s], i)
			}
		}
	}

	return preds
}

// DefSites maps each register to its defining instructions.
func (f *Func) DefSites() map[Reg][]*Instr {
	defs := make(map[Reg][]*Instr)

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			for _, r := range x.Defs() {
				defs[r] = append(defs[r], x)
			}
		}
	}

	return defs
}

func (f *Func) UseCounts() []int {
	uses := make([]int, len(f.Regs)+1)

	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			for _, r := range x.Uses() {
				if int(r) < len(uses) {
					uses[r]++
				}
			}
		}
	}

	return uses
}

// ReplaceReg rewrites every operand naming old to new.
func (f *Func) ReplaceReg(old, new Reg) {
	for _, b := range f.Blocks {
		for _, x := range b.Instrs {
			for i := range x.Ops {
				if x.Ops[i].Kind == KReg && x.Ops[i].Reg == old {
					x.Ops[i].Reg = new
				}
			}
		}
	}
}

// RPO returns reachable blocks in reverse post order.
func (f *Func) RPO() []int {
	if len(f.Blocks) == 0 {
		return nil
	}

	seen := make([]bool, len(f.Blocks))
	post := make([]int, 0, len(f.Blocks))

	var walk func(b int)
	walk = func(b int) {
		seen[b] = true

		for _, s := range f.Blocks[b].Succs() {
			if s >= 0 && s < len(seen) && !seen[s] {
				walk(s)
			}
		}

		post = append(post, b)
	}

	walk(0)

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}

	return post
}

func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (m *Module) Global(name string) *Global {
	for i := range m.Globals {
		if m.Globals[i].Name == name {
			return &m.Globals[i]
		}
	}

	return nil
}

func containsInt(s []int, x int) bool {
	for _, y := range s {
		if y == x {
			return true
		}
	}

	return false
}

func NewInstr(op string, ops ...Operand) *Instr {
	return &Instr{Op: op, Ops: ops}
}
