package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/target"
)

type (
	StageID string

	Kind uint8

	// Stage is one named transformation of a Unit.
	// Stages know nothing about each other, order is the pipeline's business.
	Stage struct {
		ID   StageID
		Kind Kind

		// When gates the stage. It's evaluated once when the pipeline is built.
		When func(st target.Subtarget) bool

		Run func(ctx context.Context, s *State) error
	}

	// Unit is one compilation unit. Stages mutate it in place.
	Unit struct {
		Name string

		IR  *ir.Module
		MIR *mir.Module
	}

	// State is what a stage sees while the pipeline runs one Unit.
	State struct {
		Machine *target.Machine
		Options *Options
		Unit    *Unit

		// SSA is true until phi elimination.
		SSA bool

		warnings []Warning
	}

	// Warning is a stage failure the pipeline recovered from.
	Warning struct {
		Stage StageID
		Err   error
	}
)

const (
	IRStage Kind = iota
	MachineStage
)

func (k Kind) String() string {
	if k == IRStage {
		return "ir"
	}

	return "machine"
}

func (s Stage) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyValue(b, "id", string(s.ID))
	b = e.AppendKeyValue(b, "kind", s.Kind.String())

	return b
}

func (w Warning) Error() string { return string(w.Stage) + ": " + w.Err.Error() }

func (w Warning) Unwrap() error { return w.Err }

// Warn records a recoverable failure of stage id.
func (s *State) Warn(ctx context.Context, id StageID, err error) {
	tr := tlog.SpanFromContext(ctx)

	tr.Printw("stage failed, continuing", "stage", id, "err", err)

	s.warnings = append(s.warnings, Warning{Stage: id, Err: err})
}

// irStage adapts a module level transformation.
func irStage(id StageID, run func(ctx context.Context, s *State, m *ir.Module) error) Stage {
	return Stage{
		ID:   id,
		Kind: IRStage,
		Run: func(ctx context.Context, s *State) error {
			if s.Unit.IR == nil {
				return errors.New("no ir module")
			}

			return run(ctx, s, s.Unit.IR)
		},
	}
}

// funcStage adapts a per function machine code transformation.
func funcStage(id StageID, run func(ctx context.Context, s *State, f *mir.Func, idx int) error) Stage {
	return Stage{
		ID:   id,
		Kind: MachineStage,
		Run: func(ctx context.Context, s *State) error {
			if s.Unit.MIR == nil {
				return errors.New("no machine code, instruction selection didn't run")
			}

			for i, f := range s.Unit.MIR.Funcs {
				err := run(ctx, s, f, i)
				if err != nil {
					return errors.Wrap(err, "func %v", f.Name)
				}
			}

			return nil
		},
	}
}

// counting adapts a transformation reporting the number of changes.
func counting(id StageID, run func(ctx context.Context, f *mir.Func) int) Stage {
	return funcStage(id, func(ctx context.Context, s *State, f *mir.Func, idx int) error {
		n := run(ctx, f)

		tlog.SpanFromContext(ctx).V("stage_changes").Printw("changes", "stage", id, "func", f.Name, "n", n)

		return nil
	})
}

// analysis adapts a transformation caching results on the function.
func analysis(id StageID, run func(ctx context.Context, f *mir.Func)) Stage {
	return funcStage(id, func(ctx context.Context, s *State, f *mir.Func, idx int) error {
		run(ctx, f)
		return nil
	})
}
