package mir

import (
	"tlog.app/go/errors"
)

// Verify checks f. With ssa set every register must have exactly one
// definition and no two-address constraint may remain unresolved.
func Verify(f *Func, ssa bool) error {
	defs := make(map[Reg]int)

	for bi, b := range f.Blocks {
		phis := true
		term := false

		for i, x := range b.Instrs {
			if x.IsPHI() {
				if !phis {
					return errors.New("block %d: instr %d: PHI after non-PHI", bi, i)
				}

				if len(x.Ops)%2 != 1 {
					return errors.New("block %d: instr %d: malformed PHI", bi, i)
				}
			} else {
				phis = false
			}

			if x.IsTerminator() {
				term = true
			} else if term {
				return errors.New("block %d: instr %d: %v after terminator", bi, i, x.Op)
			}

			for _, o := range x.Ops {
				switch o.Kind {
				case KReg:
					if o.Reg == NoReg {
						continue
					}

					if f.Class(o.Reg) == 0 {
						return errors.New("block %d: instr %d: register %d has no class", bi, i, o.Reg)
					}

					if o.Def {
						defs[o.Reg]++
					}
				case KBlock:
					if o.Index < 0 || o.Index >= len(f.Blocks) {
						return errors.New("block %d: instr %d: bad block %d", bi, i, o.Index)
					}
				case KFrame:
					if o.Index < 0 || o.Index >= len(f.Frame.Objects) {
						return errors.New("block %d: instr %d: bad frame index %d", bi, i, o.Index)
					}
				}
			}

			if x.Tied != 0 && ssa {
				if x.Tied >= len(x.Ops) || !x.Ops[x.Tied].IsRegUse() {
					return errors.New("block %d: instr %d: bad tied operand", bi, i)
				}
			}
		}

		if !term {
			return errors.New("block %d (%v): no terminator", bi, b.Name)
		}
	}

	if !ssa {
		return nil
	}

	for bi, b := range f.Blocks {
		for i, x := range b.Instrs {
			for _, r := range x.Uses() {
				if defs[r] == 0 {
					return errors.New("block %d: instr %d: use of undefined %v%d", bi, i, f.Class(r).Prefix(), r)
				}
			}
		}
	}

	for r, n := range defs {
		if n > 1 {
			return errors.New("register %v%d defined %d times", f.Class(r).Prefix(), r, n)
		}
	}

	return nil
}
