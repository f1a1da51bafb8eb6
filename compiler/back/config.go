package back

import (
	"fmt"

	"tlog.app/go/loc"

	"github.com/slowlang/ptx/compiler/codegen"
	"github.com/slowlang/ptx/compiler/target"
)

type (
	OptLevel uint8

	Options struct {
		OptLevel OptLevel

		// IRPasses replaces the baseline IR stages. Nil means DefaultIRPasses.
		IRPasses []Stage

		// ILP is an optional stage run after dead code elimination.
		ILP *Stage

		// Allocator must be nil. Registers stay virtual on this target.
		Allocator *Stage

		// SchedBudget is the largest region the scheduler takes. Zero means DefaultSchedBudget.
		SchedBudget int

		// Verify checks machine code after every machine stage.
		Verify bool
	}

	// PassConfig assembles the stage list for one Machine.
	PassConfig struct {
		tm   *target.Machine
		opts Options

		stages []Stage
	}
)

const (
	Fast OptLevel = iota
	Optimized
)

const DefaultSchedBudget = 4096

// excluded stages are never added regardless of who asks for them.
var excluded = map[StageID]struct{}{
	PrologEpilogInserter:   {},
	MachineCopyPropagation: {},
	BranchFolder:           {},
	TailDuplicate:          {},
}

func (l OptLevel) String() string {
	if l == Optimized {
		return "optimized"
	}

	return "fast"
}

func (o *Options) schedBudget() int {
	if o.SchedBudget > 0 {
		return o.SchedBudget
	}

	return DefaultSchedBudget
}

func New(tm *target.Machine, opts Options) *PassConfig {
	return &PassConfig{
		tm:   tm,
		opts: opts,
	}
}

// Build assembles the pipeline. Stage predicates are evaluated here, once.
func (c *PassConfig) Build() *Pipeline {
	c.stages = nil

	c.addIRPasses()
	c.addInstSelector()

	if c.opts.OptLevel == Optimized {
		c.addMachineSSAOptimization()
		c.addOptimizedRegAlloc()
	} else {
		c.addPass(localStackSlotAllocation())
		c.addFastRegAlloc()
	}

	c.addPostRegAlloc()

	return &Pipeline{
		tm:     c.tm,
		opts:   c.opts,
		stages: c.stages,
	}
}

func (c *PassConfig) addPass(s Stage) bool {
	if _, ok := excluded[s.ID]; ok {
		return false
	}

	if s.When != nil && !s.When(c.tm.Subtarget) {
		return false
	}

	c.stages = append(c.stages, s)

	return true
}

func (c *PassConfig) addIRPasses() {
	// image queries must be folded before address spaces are rewritten
	c.addPass(imageOptimizer())

	base := c.opts.IRPasses
	if base == nil {
		base = DefaultIRPasses()
	}

	for _, s := range base {
		c.addPass(s)
	}

	c.addPass(assignValidGlobalNames())
	c.addPass(genericToNVVM())
}

func (c *PassConfig) addInstSelector() {
	c.addPass(lowerAggrCopies())
	c.addPass(allocaHoisting())
	c.addPass(instSelect())
	c.addPass(replaceImageHandles())
}

func (c *PassConfig) addMachineSSAOptimization() {
	c.addPass(counting(EarlyTailDuplicate, codegen.TailDuplicate))
	c.addPass(counting(OptimizePHIs, codegen.OptimizePHIs))
	c.addPass(counting(StackColoring, codegen.ColorStack))
	c.addPass(localStackSlotAllocation())
	c.addPass(counting(DeadMIElimination, codegen.EliminateDeadCode))

	if c.opts.ILP != nil {
		c.addPass(*c.opts.ILP)
	}

	c.addPass(counting(MachineLICM, codegen.HoistInvariants))
	c.addPass(counting(MachineCSE, codegen.EliminateCommonSubexprs))
	c.addPass(counting(MachineSink, codegen.Sink))
	c.addPass(counting(PeepholeOpt, codegen.Peephole))
}

func (c *PassConfig) addFastRegAlloc() {
	if c.opts.Allocator != nil {
		panic(fmt.Sprintf("%v: register allocator supplied for a target without physical registers", loc.Caller(1)))
	}

	c.addPass(phiElimination())
	c.addPass(counting(TwoAddress, codegen.TwoAddress))
}

func (c *PassConfig) addOptimizedRegAlloc() {
	c.addPass(counting(ProcessImplicitDefs, codegen.ProcessImplicitDefs))
	c.addPass(analysis(LiveVariables, codegen.LiveVariables))
	c.addPass(analysis(MachineLoopInfo, codegen.LoopInfo))
	c.addPass(phiElimination())
	c.addPass(counting(TwoAddress, codegen.TwoAddress))
	c.addPass(counting(RegisterCoalescer, codegen.Coalesce))
	c.addPass(machineScheduler())
	c.addPass(counting(StackSlotColoring, codegen.ColorStackSlots))
}

func (c *PassConfig) addPostRegAlloc() {
	c.addPass(prologEpilog())

	for _, s := range postRATail() {
		c.addPass(s)
	}
}
