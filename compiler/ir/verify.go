package ir

import (
	"tlog.app/go/errors"
)

// Verify checks structural invariants of m.
func Verify(m *Module) error {
	for _, f := range m.Funcs {
		if err := VerifyFunc(f); err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	return nil
}

func VerifyFunc(f *Func) error {
	if f.IsDecl() {
		return nil
	}

	defs := map[Value]bool{}

	for _, p := range f.Params {
		if p.Value == Nil {
			return errors.New("param %v: no value", p.Name)
		}

		if defs[p.Value] {
			return errors.New("param %v: value %v redefined", p.Name, p.Value)
		}

		defs[p.Value] = true
	}

	for bi, b := range f.Blocks {
		for i, x := range b.Code {
			if x.Out == Nil {
				continue
			}

			if defs[x.Out] {
				return errors.New("block %v: instr %d: value %v redefined", bi, i, x.Out)
			}

			defs[x.Out] = true
		}
	}

	preds := f.Preds()

	for bi, b := range f.Blocks {
		if b.Terminator() == nil {
			return errors.New("block %v (%v): no terminator", bi, b.Name)
		}

		phis := true

		for i, x := range b.Code {
			if x.Op == OpPhi {
				if !phis {
					return errors.New("block %v: instr %d: phi after non-phi", bi, i)
				}

				if len(x.Phi) != len(preds[bi]) {
					return errors.New("block %v: instr %d: phi has %d inputs, block has %d preds", bi, i, len(x.Phi), len(preds[bi]))
				}

				for _, p := range x.Phi {
					if !contains(preds[bi], p.Block) {
						return errors.New("block %v: instr %d: phi input from non-pred %v", bi, i, p.Block)
					}

					if !defs[p.Value] {
						return errors.New("block %v: instr %d: undefined value %v", bi, i, p.Value)
					}
				}
			} else {
				phis = false
			}

			if x.IsTerminator() && i != len(b.Code)-1 {
				return errors.New("block %v: instr %d: terminator in the middle", bi, i)
			}

			for _, a := range x.Args {
				if !defs[a] {
					return errors.New("block %v: instr %d (%v): undefined value %v", bi, i, x.Op, a)
				}
			}

			for _, t := range x.Blocks {
				if t < 0 || t >= len(f.Blocks) {
					return errors.New("block %v: instr %d: bad target %v", bi, i, t)
				}
			}

			if err := CheckArity(x); err != nil {
				return errors.Wrap(err, "block %v: instr %d", bi, i)
			}
		}
	}

	return nil
}

// CheckArity reports an instruction with the wrong number of operands or targets.
func CheckArity(x *Instr) error {
	want := -1
	blocks := 0

	switch x.Op {
	case OpImm, OpFImm, OpUndef, OpGlobal, OpTexHandle, OpAlloca, OpReflect, OpBrkPt:
		want = 0
	case OpLoad, OpCast, OpIsType, OpVote:
		want = 1
	case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpAnd, OpOr, OpXor, OpShl, OpShr, OpRotl,
		OpCmp, OpStore, OpMemcpy, OpMemset, OpAtomicAdd:
		want = 2
	case OpFma, OpSelect, OpTex:
		want = 3
	case OpBr:
		blocks = 1
		want = 0
	case OpBrCond:
		blocks = 2
		want = 1
	case OpRet:
		if len(x.Args) > 1 {
			return errors.New("ret: %d values", len(x.Args))
		}

		return nil
	case OpPhi, OpCall:
		return nil
	default:
		return errors.New("unknown op %q", x.Op)
	}

	if len(x.Args) != want {
		return errors.New("%v: want %d args, got %d", x.Op, want, len(x.Args))
	}

	if len(x.Blocks) != blocks {
		return errors.New("%v: want %d targets, got %d", x.Op, blocks, len(x.Blocks))
	}

	return nil
}
