package ir

type (
	// Value is an SSA value id local to a Func. Nil is no value.
	Value int

	Op      string
	Type    string
	Space   string
	Cond    string
	Linkage string
	Image   string
	Flag    string

	Flags []Flag

	Module struct {
		Name       string `yaml:"name"`
		Triple     string `yaml:"triple,omitempty"`
		DataLayout string `yaml:"datalayout,omitempty"`

		Globals []*Global `yaml:"globals,omitempty"`
		Funcs   []*Func   `yaml:"funcs,omitempty"`
	}

	Global struct {
		Name    string  `yaml:"name"`
		Linkage Linkage `yaml:"linkage,omitempty"`
		Space   Space   `yaml:"space,omitempty"`
		Type    Type    `yaml:"type,omitempty"`
		Size    int     `yaml:"size,omitempty"`
		Align   int     `yaml:"align,omitempty"`
		Image   Image   `yaml:"image,omitempty"`
	}

	Func struct {
		Name    string  `yaml:"name"`
		Linkage Linkage `yaml:"linkage,omitempty"`
		Kernel  bool    `yaml:"kernel,omitempty"`
		FTZ     bool    `yaml:"ftz,omitempty"`

		Params []Param `yaml:"params,omitempty"`
		Ret    Type    `yaml:"ret,omitempty"`

		Blocks []*Block `yaml:"blocks,omitempty"`
	}

	Param struct {
		Name  string `yaml:"name"`
		Type  Type   `yaml:"type"`
		Value Value  `yaml:"value"`
		Image Image  `yaml:"image,omitempty"`
	}

	Block struct {
		Name string   `yaml:"name"`
		Code []*Instr `yaml:"code"`
	}

	PhiBranch struct {
		Block int   `yaml:"block"`
		Value Value `yaml:"value"`
	}

	Instr struct {
		Op   Op    `yaml:"op"`
		Type Type  `yaml:"type,omitempty"`
		Out  Value `yaml:"out,omitempty"`

		Args []Value `yaml:"args,omitempty"`

		Imm  int64   `yaml:"imm,omitempty"`
		FImm float64 `yaml:"fimm,omitempty"`
		Sym  string  `yaml:"sym,omitempty"`

		// Space is the address space accessed or produced.
		// From is the source space of memcpy and addrspacecast.
		Space Space `yaml:"space,omitempty"`
		From  Space `yaml:"from,omitempty"`

		Cond  Cond  `yaml:"cond,omitempty"`
		Image Image `yaml:"image,omitempty"`

		Blocks []int       `yaml:"blocks,omitempty"`
		Phi    []PhiBranch `yaml:"phi,omitempty"`

		Size  int   `yaml:"size,omitempty"`
		Align int   `yaml:"align,omitempty"`
		Flags Flags `yaml:"flags,omitempty"`
	}
)

const Nil Value = 0

const (
	OpImm    Op = "imm"
	OpFImm   Op = "fimm"
	OpUndef  Op = "undef"
	OpAdd    Op = "add"
	OpSub    Op = "sub"
	OpMul    Op = "mul"
	OpDiv    Op = "div"
	OpRem    Op = "rem"
	OpAnd    Op = "and"
	OpOr     Op = "or"
	OpXor    Op = "xor"
	OpShl    Op = "shl"
	OpShr    Op = "shr"
	OpRotl   Op = "rotl"
	OpFma    Op = "fma"
	OpCmp    Op = "cmp"
	OpSelect Op = "select"

	OpLoad      Op = "load"
	OpStore     Op = "store"
	OpAlloca    Op = "alloca"
	OpMemcpy    Op = "memcpy"
	OpMemset    Op = "memset"
	OpGlobal    Op = "global"
	OpCast      Op = "addrspacecast"
	OpAtomicAdd Op = "atomic.add"

	OpVote  Op = "vote"
	OpBrkPt Op = "brkpt"

	OpIsType    Op = "istype"
	OpTexHandle Op = "texhandle"
	OpTex       Op = "tex"

	OpCall    Op = "call"
	OpReflect Op = "reflect"

	OpPhi    Op = "phi"
	OpBr     Op = "br"
	OpBrCond Op = "brcond"
	OpRet    Op = "ret"
)

const (
	Void Type = "void"
	I1   Type = "i1"
	I8   Type = "i8"
	I16  Type = "i16"
	I32  Type = "i32"
	I64  Type = "i64"
	F32  Type = "f32"
	F64  Type = "f64"
	Ptr  Type = "ptr"
)

const (
	Generic     Space = "generic"
	SpaceGlobal Space = "global"
	Shared      Space = "shared"
	Const       Space = "const"
	Local       Space = "local"
	ParamSp     Space = "param"
)

const (
	Eq Cond = "eq"
	Ne Cond = "ne"
	Lt Cond = "lt"
	Le Cond = "le"
	Gt Cond = "gt"
	Ge Cond = "ge"

	VoteAll Cond = "all"
	VoteAny Cond = "any"
)

const (
	External Linkage = ""
	Internal Linkage = "internal"
	Private  Linkage = "private"
)

const (
	NoImage Image = ""
	Texture Image = "texture"
	Surface Image = "surface"
	Sampler Image = "sampler"
)

const (
	ReadOnly Flag = "readonly"
	Uniform  Flag = "uniform"
	Volatile Flag = "volatile"
)

func (l Linkage) Local() bool { return l == Internal || l == Private }

func (s Space) OrGeneric() Space {
	if s == "" {
		return Generic
	}

	return s
}

func (fs Flags) Has(f Flag) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}

	return false
}

// Bits returns the width of t. Pointers are ptrBits wide.
func (t Type) Bits(ptrBits int) int {
	switch t {
	case I1:
		return 1
	case I8:
		return 8
	case I16:
		return 16
	case I32, F32:
		return 32
	case I64, F64:
		return 64
	case Ptr:
		return ptrBits
	default:
		return 0
	}
}

func (t Type) IsFloat() bool { return t == F32 || t == F64 }

func (x *Instr) IsTerminator() bool {
	switch x.Op {
	case OpBr, OpBrCond, OpRet:
		return true
	}

	return false
}

// HasSideEffects reports instructions that must stay even when unused.
func (x *Instr) HasSideEffects() bool {
	switch x.Op {
	case OpStore, OpMemcpy, OpMemset, OpAtomicAdd, OpBrkPt, OpCall, OpBr, OpBrCond, OpRet:
		return true
	case OpLoad:
		return x.Flags.Has(Volatile)
	}

	return false
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
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}

	return nil
}

func (f *Func) IsDecl() bool { return len(f.Blocks) == 0 }

// NewValue returns a value id not used in f yet.
func (f *Func) NewValue() Value {
	max := Nil

	for _, p := range f.Params {
		if p.Value > max {
			max = p.Value
		}
	}

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if x.Out > max {
				max = x.Out
			}
		}
	}

	return max + 1
}

// Defs maps values to defining instructions. Params map to nil.
func (f *Func) Defs() map[Value]*Instr {
	defs := make(map[Value]*Instr)

	for _, p := range f.Params {
		defs[p.Value] = nil
	}

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			if x.Out != Nil {
				defs[x.Out] = x
			}
		}
	}

	return defs
}

func (f *Func) Param(v Value) (Param, bool) {
	for _, p := range f.Params {
		if p.Value == v {
			return p, true
		}
	}

	return Param{}, false
}

// Uses counts operand uses of each value, phi inputs included.
func (f *Func) Uses() map[Value]int {
	uses := make(map[Value]int)

	for _, b := range f.Blocks {
		for _, x := range b.Code {
			for _, a := range x.Args {
				uses[a]++
			}

			for _, p := range x.Phi {
				uses[p.Value]++
			}
		}
	}

	return uses
}

// Replace rewrites every use of old to new.
func (f *Func) Replace(old, new Value) {
	for _, b := range f.Blocks {
		for _, x := range b.Code {
			for i, a := range x.Args {
				if a == old {
					x.Args[i] = new
				}
			}

			for i, p := range x.Phi {
				if p.Value == old {
					x.Phi[i].Value = new
				}
			}
		}
	}
}

func (b *Block) Terminator() *Instr {
	if len(b.Code) == 0 {
		return nil
	}

	x := b.Code[len(b.Code)-1]
	if !x.IsTerminator() {
		return nil
	}

	return x
}

func (b *Block) Succs() []int {
	if t := b.Terminator(); t != nil {
		return t.Blocks
	}

	return nil
}

// Preds returns predecessor block indexes for every block.
func (f *Func) Preds() [][]int {
	preds := make([][]int, len(f.Blocks))

	for i, b := range f.Blocks {
		for _, s := range b.Succs() {
			if s >= 0 && s < len(preds) && !contains(preds[s], i) {
				preds[s] = append(preds[s], i)
			}
		}
	}

	return preds
}

// Reachable marks blocks reachable from the entry.
func (f *Func) Reachable() []bool {
	seen := make([]bool, len(f.Blocks))
	if len(f.Blocks) == 0 {
		return seen
	}

	q := []int{0}
	seen[0] = true

	for len(q) != 0 {
		b := q[len(q)-1]
		q = q[:len(q)-1]

		for _, s := range f.Blocks[b].Succs() {
			if s < 0 || s >= len(seen) || seen[s] {
				continue
			}

			seen[s] = true
			q = append(q, s)
		}
	}

	return seen
}

func contains(s []int, x int) bool {
	for _, y := range s {
		if y == x {
			return true
		}
	}

	return false
}
