package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/codegen"
	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/isel"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/opt"
	"github.com/slowlang/ptx/compiler/target"
)

const (
	ImageOptimizer         StageID = "image-optimizer"
	VerifyIR               StageID = "verify"
	UnreachableBlockElimID StageID = "unreachable-block-elim"
	ReflectID              StageID = "reflect"
	AssignValidGlobalNames StageID = "assign-valid-global-names"
	GenericToNVVM          StageID = "generic-to-nvvm"

	LowerAggrCopies     StageID = "lower-aggr-copies"
	AllocaHoisting      StageID = "alloca-hoisting"
	ISel                StageID = "isel"
	ReplaceImageHandles StageID = "replace-image-handles"

	EarlyTailDuplicate       StageID = "early-tail-duplicate"
	OptimizePHIs             StageID = "optimize-phis"
	StackColoring            StageID = "stack-coloring"
	LocalStackSlotAllocation StageID = "local-stack-slot-allocation"
	DeadMIElimination        StageID = "dead-mi-elimination"
	MachineLICM              StageID = "machine-licm"
	MachineCSE               StageID = "machine-cse"
	MachineSink              StageID = "machine-sink"
	PeepholeOpt              StageID = "peephole-opt"

	ProcessImplicitDefs StageID = "process-implicit-defs"
	LiveVariables       StageID = "live-variables"
	MachineLoopInfo     StageID = "machine-loop-info"
	PHIElimination      StageID = "phi-elimination"
	TwoAddress          StageID = "two-address"
	RegisterCoalescer   StageID = "register-coalescer"
	MachineScheduler    StageID = "machine-scheduler"
	StackSlotColoring   StageID = "stack-slot-coloring"

	NVPTXPrologEpilog      StageID = "nvptx-prolog-epilog"
	PrologEpilogInserter   StageID = "prolog-epilog-inserter"
	ExpandPostRAPseudos    StageID = "expand-post-ra-pseudos"
	MachineCopyPropagation StageID = "machine-copy-propagation"
	BranchFolder           StageID = "branch-folder"
	TailDuplicate          StageID = "tail-duplicate"
)

// DefaultIRPasses is the baseline IR list used when Options.IRPasses is nil.
func DefaultIRPasses() []Stage {
	return []Stage{IRVerifier(), UnreachableBlockElim()}
}

func IRVerifier() Stage {
	return irStage(VerifyIR, func(ctx context.Context, s *State, m *ir.Module) error {
		return ir.Verify(m)
	})
}

func UnreachableBlockElim() Stage {
	return irStage(UnreachableBlockElimID, func(ctx context.Context, s *State, m *ir.Module) error {
		opt.RemoveUnreachable(ctx, m)
		return nil
	})
}

// ReflectStage folds __nvvm_reflect queries.
// extra overrides or adds to the values derived from the subtarget.
func ReflectStage(extra map[string]int64) Stage {
	return irStage(ReflectID, func(ctx context.Context, s *State, m *ir.Module) error {
		vars := opt.ReflectVars(s.Machine.Subtarget, extra)

		opt.Reflect(ctx, vars, m)

		return nil
	})
}

func imageOptimizer() Stage {
	return irStage(ImageOptimizer, func(ctx context.Context, s *State, m *ir.Module) error {
		opt.OptimizeImages(ctx, s.Machine.Subtarget, m)
		return nil
	})
}

func assignValidGlobalNames() Stage {
	return irStage(AssignValidGlobalNames, func(ctx context.Context, s *State, m *ir.Module) error {
		opt.AssignValidGlobalNames(ctx, m)
		return nil
	})
}

func genericToNVVM() Stage {
	return irStage(GenericToNVVM, func(ctx context.Context, s *State, m *ir.Module) error {
		opt.GenericToNVVM(ctx, m)
		return nil
	})
}

func lowerAggrCopies() Stage {
	return irStage(LowerAggrCopies, func(ctx context.Context, s *State, m *ir.Module) error {
		opt.LowerAggrCopies(ctx, m)
		return nil
	})
}

func allocaHoisting() Stage {
	return irStage(AllocaHoisting, func(ctx context.Context, s *State, m *ir.Module) error {
		opt.HoistAllocas(ctx, m)
		return nil
	})
}

func instSelect() Stage {
	return Stage{
		ID:   ISel,
		Kind: MachineStage,
		Run: func(ctx context.Context, s *State) error {
			if s.Unit.IR == nil {
				return errors.New("no ir module")
			}

			mm, err := isel.Select(ctx, s.Machine, s.Unit.IR)
			if err != nil {
				return err
			}

			s.Unit.MIR = mm
			s.SSA = true

			return nil
		},
	}
}

func replaceImageHandles() Stage {
	st := funcStage(ReplaceImageHandles, func(ctx context.Context, s *State, f *mir.Func, idx int) error {
		_, err := codegen.ReplaceImageHandles(ctx, f)
		return err
	})

	st.When = func(sub target.Subtarget) bool { return !sub.HasImageHandles() }

	return st
}

func localStackSlotAllocation() Stage {
	return counting(LocalStackSlotAllocation, codegen.AllocateLocalSlots)
}

func phiElimination() Stage {
	st := funcStage(PHIElimination, func(ctx context.Context, s *State, f *mir.Func, idx int) error {
		_, err := codegen.EliminatePHIs(ctx, f)
		return err
	})

	run := st.Run
	st.Run = func(ctx context.Context, s *State) error {
		err := run(ctx, s)
		if err != nil {
			return err
		}

		s.SSA = false

		return nil
	}

	return st
}

func machineScheduler() Stage {
	return funcStage(MachineScheduler, func(ctx context.Context, s *State, f *mir.Func, idx int) error {
		err := codegen.Schedule(ctx, f, s.Options.schedBudget())
		if err != nil {
			snapshotFunc(ctx, MachineScheduler, f)
			s.Warn(ctx, MachineScheduler, errors.Wrap(err, "func %v", f.Name))
		}

		return nil
	})
}

func prologEpilog() Stage {
	return funcStage(NVPTXPrologEpilog, func(ctx context.Context, s *State, f *mir.Func, idx int) error {
		return codegen.PrologEpilog(ctx, f, idx, s.Machine.Is64Bit())
	})
}

// unavailable is a standard stage this target never runs.
// Assembly drops it through the excluded set.
func unavailable(id StageID) Stage {
	return Stage{
		ID:   id,
		Kind: MachineStage,
		Run: func(ctx context.Context, s *State) error {
			return errors.New("stage %v is not supported by the target", id)
		},
	}
}

// postRATail is the target independent post register allocation sequence.
func postRATail() []Stage {
	return []Stage{
		unavailable(PrologEpilogInserter),
		counting(ExpandPostRAPseudos, codegen.ExpandPseudos),
		unavailable(MachineCopyPropagation),
		unavailable(BranchFolder),
		unavailable(TailDuplicate),
	}
}

// snapshotFunc prints f to the span in ctx.
func snapshotFunc(ctx context.Context, id StageID, f *mir.Func) {
	tr := tlog.SpanFromContext(ctx)

	tr.Printw("machine function", "stage", id, "func", f.Name, "dump", tlog.FormatNext("%s"), mir.FormatFunc(nil, f))
}
