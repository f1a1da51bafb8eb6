package back

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/ptx/compiler/codegen"
	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/isel"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/target"
)

const loopYAML = `
name: loop
globals:
  - {name: out, space: global, type: i32, size: 4, align: 4}
funcs:
  - name: sum
    kernel: true
    params:
      - {name: n, type: i32, value: 1}
    blocks:
      - name: entry
        code:
          - {op: imm, type: i32, out: 2, imm: 0}
          - {op: br, blocks: [1]}
      - name: loop
        code:
          - {op: phi, type: i32, out: 3, phi: [{block: 0, value: 2}, {block: 1, value: 4}]}
          - {op: add, type: i32, out: 4, args: [3, 1]}
          - {op: cmp, type: i32, out: 5, cond: lt, args: [4, 1]}
          - {op: brcond, args: [5], blocks: [1, 2]}
      - name: exit
        code:
          - {op: global, type: ptr, out: 6, sym: out, space: global}
          - {op: store, type: i32, space: global, args: [6, 4]}
          - {op: ret}
`

const brkptYAML = `
name: bp
funcs:
  - name: k
    kernel: true
    blocks:
      - name: entry
        code:
          - {op: brkpt}
          - {op: ret}
`

const istypeYAML = `
name: img
funcs:
  - name: k
    kernel: true
    params:
      - {name: p, type: ptr, value: 1}
    blocks:
      - name: entry
        code:
          - {op: istype, type: i1, out: 2, image: texture, args: [1]}
          - {op: ret}
`

const memcpyYAML = `
name: big
funcs:
  - name: k
    kernel: true
    params:
      - {name: dst, type: ptr, value: 1}
      - {name: src, type: ptr, value: 2}
    blocks:
      - name: entry
        code:
          - {op: memcpy, args: [1, 2], size: 2048, align: 1, space: global, from: global}
          - {op: ret}
`

func build(cpu string, opts Options) *Pipeline {
	return New(target.NewMachine64("", cpu, ""), opts).Build()
}

func index(ids []StageID, id StageID) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}

	return -1
}

func unit(t *testing.T, src string) *Unit {
	t.Helper()

	m, err := ir.Decode([]byte(src))
	require.NoError(t, err)

	return &Unit{Name: m.Name, IR: m}
}

func TestStagesGolden(t *testing.T) {
	g := goldie.New(t)

	for name, lvl := range map[string]OptLevel{"fast": Fast, "optimized": Optimized} {
		ids := build("sm_20", Options{OptLevel: lvl}).Stages()

		var b strings.Builder

		for _, id := range ids {
			b.WriteString(string(id))
			b.WriteByte('\n')
		}

		g.Assert(t, "stages_"+name, []byte(b.String()))
	}
}

func TestStageOrder(t *testing.T) {
	for _, lvl := range []OptLevel{Fast, Optimized} {
		ids := build("sm_35", Options{OptLevel: lvl}).Stages()

		img, gen := index(ids, ImageOptimizer), index(ids, GenericToNVVM)
		require.True(t, img >= 0 && gen >= 0, "%v", lvl)
		assert.Less(t, img, gen, "%v", lvl)

		assert.Less(t, index(ids, LowerAggrCopies), index(ids, ISel))
		assert.Less(t, index(ids, ISel), index(ids, PHIElimination))
		assert.Less(t, index(ids, PHIElimination), index(ids, TwoAddress))
		assert.Less(t, index(ids, TwoAddress), index(ids, NVPTXPrologEpilog))

		for id := range excluded {
			assert.Equal(t, -1, index(ids, id), "%v %v", lvl, id)
		}

		assert.Equal(t, ExpandPostRAPseudos, ids[len(ids)-1])
	}
}

func TestImageHandlesGate(t *testing.T) {
	for _, tc := range []struct {
		tt, cpu string
		want    bool
	}{
		{"", "sm_20", true},
		{"", "sm_30", false},
		{"", "sm_35", false},
		{"nvptx64-nvidia-nvcl", "sm_35", true},
	} {
		p := New(target.NewMachine64(tc.tt, tc.cpu, ""), Options{}).Build()

		assert.Equal(t, tc.want, index(p.Stages(), ReplaceImageHandles) >= 0, "%v %v", tc.tt, tc.cpu)
	}
}

func TestRegAllocBypass(t *testing.T) {
	fast := build("sm_20", Options{}).Stages()

	assert.Contains(t, fast, PHIElimination)
	assert.Contains(t, fast, TwoAddress)
	assert.NotContains(t, fast, RegisterCoalescer)
	assert.NotContains(t, fast, MachineScheduler)
	assert.NotContains(t, fast, LiveVariables)

	opt := build("sm_20", Options{OptLevel: Optimized}).Stages()
	lo := index(opt, ProcessImplicitDefs)

	require.True(t, lo >= 0)
	assert.Equal(t, []StageID{
		ProcessImplicitDefs, LiveVariables, MachineLoopInfo, PHIElimination,
		TwoAddress, RegisterCoalescer, MachineScheduler, StackSlotColoring,
	}, opt[lo:lo+8])
}

func TestAllocatorPanics(t *testing.T) {
	ra := unavailable("greedy")

	assert.Panics(t, func() {
		build("sm_20", Options{Allocator: &ra})
	})

	assert.NotPanics(t, func() {
		build("sm_20", Options{OptLevel: Optimized, Allocator: &ra})
	})
}

func TestInjectedStages(t *testing.T) {
	ilp := unavailable("ilp")
	ilp.ID = "early-ifcvt"
	ilp.Run = func(ctx context.Context, s *State) error { return nil }

	p := build("sm_35", Options{
		OptLevel: Optimized,
		IRPasses: []Stage{ReflectStage(nil), IRVerifier()},
		ILP:      &ilp,
	})

	ids := p.Stages()

	assert.Equal(t, []StageID{ImageOptimizer, ReflectID, VerifyIR, AssignValidGlobalNames, GenericToNVVM}, ids[:5])
	assert.NotContains(t, ids, UnreachableBlockElimID)

	i := index(ids, "early-ifcvt")
	assert.Equal(t, index(ids, DeadMIElimination)+1, i)
	assert.Equal(t, index(ids, MachineLICM)-1, i)
}

func TestRunLoop(t *testing.T) {
	ctx := context.Background()

	for _, lvl := range []OptLevel{Fast, Optimized} {
		p := build("sm_20", Options{OptLevel: lvl, Verify: lvl == Fast})

		u := unit(t, loopYAML)

		res, err := p.Run(ctx, u)
		require.NoError(t, err, "%v", lvl)

		assert.Equal(t, p.Stages(), res.Trace)
		assert.Empty(t, res.Warnings)

		require.NotNil(t, u.MIR)
		require.Len(t, u.MIR.Funcs, 1)

		for _, b := range u.MIR.Funcs[0].Blocks {
			for _, x := range b.Instrs {
				assert.NotEqual(t, mir.PHI, x.Op, "%v", lvl)
				assert.NotEqual(t, mir.COPY, x.Op, "%v", lvl)
				assert.NotEqual(t, mir.ImplicitDef, x.Op, "%v", lvl)
			}
		}
	}
}

func TestRunLargeCopy(t *testing.T) {
	for _, lvl := range []OptLevel{Fast, Optimized} {
		p := build("sm_20", Options{OptLevel: lvl, Verify: lvl == Fast})

		u := unit(t, memcpyYAML)

		res, err := p.Run(context.Background(), u)
		require.NoError(t, err, "%v", lvl)
		assert.Equal(t, p.Stages(), res.Trace)

		require.NotNil(t, u.MIR)
		assert.Len(t, u.MIR.Funcs[0].Blocks, 3, "%v", lvl)

		var ld, st int

		for _, b := range u.MIR.Funcs[0].Blocks {
			for _, x := range b.Instrs {
				switch x.Op {
				case "ld.global.u8":
					ld++
				case "st.global.u8":
					st++
				}
			}
		}

		assert.Equal(t, 1, ld, "%v", lvl)
		assert.Equal(t, 1, st, "%v", lvl)
	}
}

func TestRunSchedulerWarning(t *testing.T) {
	p := build("sm_20", Options{OptLevel: Optimized, SchedBudget: 1})

	u := unit(t, loopYAML)

	res, err := p.Run(context.Background(), u)
	require.NoError(t, err)

	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, MachineScheduler, res.Warnings[0].Stage)

	var se *codegen.SchedError
	assert.True(t, errors.As(res.Warnings[0], &se))

	assert.Equal(t, p.Stages(), res.Trace)
}

func TestRunISelFailure(t *testing.T) {
	p := New(target.NewMachine64("", "sm_10", ""), Options{}).Build()

	res, err := p.Run(context.Background(), unit(t, brkptYAML))
	require.Error(t, err)

	assert.True(t, errors.Is(err, isel.ErrUnsupported))
	assert.Contains(t, err.Error(), "isel")
	assert.Equal(t, ISel, res.Trace[len(res.Trace)-1])
}

const istypeArglessYAML = `
name: img
funcs:
  - name: k
    kernel: true
    blocks:
      - name: entry
        code:
          - {op: istype, type: i1, out: 1, image: texture}
          - {op: ret}
`

// opsWith returns machine ops of u starting with prefix and the immediates of mov.pred.
func opsWith(u *Unit, prefix string) (ops []string, preds []int64) {
	for _, b := range u.MIR.Funcs[0].Blocks {
		for _, x := range b.Instrs {
			if strings.HasPrefix(x.Op, prefix) {
				ops = append(ops, x.Op)
			}

			if x.Op == "mov.pred" {
				preds = append(preds, x.Ops[1].Imm)
			}
		}
	}

	return ops, preds
}

func TestRunFoldsImageQueries(t *testing.T) {
	annotated := strings.Replace(istypeYAML, "value: 1}", "value: 1, image: texture}", 1)
	require.NotEqual(t, istypeYAML, annotated)

	for _, tc := range []struct {
		cpu, src string
		want     int64
	}{
		{"sm_20", istypeYAML, 0},
		{"sm_20", annotated, 1},
		{"sm_35", annotated, 1},
	} {
		u := unit(t, tc.src)

		_, err := build(tc.cpu, Options{Verify: true}).Run(context.Background(), u)
		require.NoError(t, err, "%v", tc.cpu)

		x := u.IR.Funcs[0].Blocks[0].Code[0]
		assert.Equal(t, ir.OpImm, x.Op, "%v", tc.cpu)
		assert.Equal(t, tc.want, x.Imm, "%v", tc.cpu)

		ops, preds := opsWith(u, "istypep")
		assert.Empty(t, ops, "%v", tc.cpu)
		assert.Equal(t, []int64{tc.want}, preds, "%v", tc.cpu)
	}

	u := unit(t, istypeYAML)

	_, err := build("sm_35", Options{}).Run(context.Background(), u)
	require.NoError(t, err)

	ops, _ := opsWith(u, "istypep")
	assert.Equal(t, []string{"istypep.texref"}, ops, "unannotated handle is queried at run time")
}

func TestRunMalformedWithoutVerifier(t *testing.T) {
	p := build("sm_35", Options{IRPasses: []Stage{}})

	var res Result
	var err error

	assert.NotPanics(t, func() {
		res, err = p.Run(context.Background(), unit(t, istypeArglessYAML))
	})

	require.Error(t, err)
	assert.Equal(t, ISel, res.Trace[len(res.Trace)-1])
	assert.False(t, errors.Is(err, isel.ErrUnsupported))
}

func TestRunNoIR(t *testing.T) {
	_, err := build("sm_20", Options{}).Run(context.Background(), &Unit{Name: "empty"})
	assert.Error(t, err)
}
