package ir

// Builder appends instructions to a Func.
type Builder struct {
	F   *Func
	Cur int

	next Value
}

func NewBuilder(f *Func) *Builder {
	return &Builder{F: f, next: f.NewValue()}
}

func (b *Builder) Param(name string, t Type) Value {
	v := b.value()
	b.F.Params = append(b.F.Params, Param{Name: name, Type: t, Value: v})

	return v
}

// Block adds a block and makes it current.
func (b *Builder) Block(name string) int {
	b.F.Blocks = append(b.F.Blocks, &Block{Name: name})
	b.Cur = len(b.F.Blocks) - 1

	return b.Cur
}

func (b *Builder) SetBlock(i int) { b.Cur = i }

// Emit appends x to the current block, assigning Out
// when the op produces a value and none is set.
func (b *Builder) Emit(x *Instr) Value {
	if x.Out == Nil && producesValue(x) {
		x.Out = b.value()
	}

	blk := b.F.Blocks[b.Cur]
	blk.Code = append(blk.Code, x)

	return x.Out
}

func (b *Builder) Imm(t Type, v int64) Value {
	return b.Emit(&Instr{Op: OpImm, Type: t, Imm: v})
}

func (b *Builder) Bin(op Op, t Type, x, y Value) Value {
	return b.Emit(&Instr{Op: op, Type: t, Args: []Value{x, y}})
}

func (b *Builder) Br(to int) {
	b.Emit(&Instr{Op: OpBr, Blocks: []int{to}})
}

func (b *Builder) BrCond(c Value, then, els int) {
	b.Emit(&Instr{Op: OpBrCond, Args: []Value{c}, Blocks: []int{then, els}})
}

func (b *Builder) Ret(vals ...Value) {
	b.Emit(&Instr{Op: OpRet, Args: vals})
}

func (b *Builder) value() Value {
	v := b.next
	b.next++

	return v
}

func producesValue(x *Instr) bool {
	switch x.Op {
	case OpStore, OpMemcpy, OpMemset, OpBrkPt, OpBr, OpBrCond, OpRet:
		return false
	case OpCall:
		return x.Type != "" && x.Type != Void
	}

	return true
}
