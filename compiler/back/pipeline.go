package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/target"
)

type (
	// Pipeline is an assembled stage list.
	// It's read-only after Build and may run many units concurrently.
	Pipeline struct {
		tm   *target.Machine
		opts Options

		stages []Stage
	}

	Result struct {
		// Trace lists the stages that ran, in order.
		Trace []StageID

		Warnings []Warning
	}
)

func (p *Pipeline) Machine() *target.Machine { return p.tm }

func (p *Pipeline) Stages() []StageID {
	ids := make([]StageID, len(p.stages))

	for i, s := range p.stages {
		ids[i] = s.ID
	}

	return ids
}

// Run lowers u in place. The first failing stage stops the run.
func (p *Pipeline) Run(ctx context.Context, u *Unit) (res Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "pipeline", "unit", u.Name, "target", p.tm.Name, "sm", p.tm.Subtarget.SmVersion, "opt", p.opts.OptLevel)
	defer tr.Finish("err", &err)

	s := &State{
		Machine: p.tm,
		Options: &p.opts,
		Unit:    u,
		SSA:     true,
	}

	for _, st := range p.stages {
		err = st.Run(ctx, s)
		res.Trace = append(res.Trace, st.ID)

		if err != nil {
			res.Warnings = s.warnings
			return res, errors.Wrap(err, "%v", st.ID)
		}

		if p.opts.Verify && st.Kind == MachineStage && u.MIR != nil {
			err = verifyMIR(u.MIR, s.SSA)
			if err != nil {
				res.Warnings = s.warnings
				return res, errors.Wrap(err, "verify after %v", st.ID)
			}
		}

		snapshot(ctx, st, u)
	}

	res.Warnings = s.warnings

	return res, nil
}

func verifyMIR(m *mir.Module, ssa bool) error {
	for _, f := range m.Funcs {
		err := mir.Verify(f, ssa)
		if err != nil {
			return errors.Wrap(err, "func %v", f.Name)
		}
	}

	return nil
}

func snapshot(ctx context.Context, st Stage, u *Unit) {
	tr := tlog.SpanFromContext(ctx)

	if !tr.If("print_after_all") && !tr.If("print_after_"+string(st.ID)) {
		return
	}

	if st.Kind == MachineStage && u.MIR != nil {
		tr.Printw("after stage", "stage", st, "mir", tlog.FormatNext("%s"), mir.Format(nil, u.MIR))
		return
	}

	data, err := ir.Encode(u.IR)
	if err != nil {
		tr.Printw("encode ir", "stage", st, "err", err)
		return
	}

	tr.Printw("after stage", "stage", st, "ir", tlog.FormatNext("%s"), data)
}
