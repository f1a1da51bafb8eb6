package isel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/target"
)

// kernel builds a single block kernel with a pointer param p and an i32 param n.
func kernel(body func(b *ir.Builder, p, n ir.Value)) *ir.Module {
	f := &ir.Func{Name: "k", Kernel: true}
	b := ir.NewBuilder(f)

	p := b.Param("p", ir.Ptr)
	n := b.Param("n", ir.I32)

	b.Block("entry")
	body(b, p, n)
	b.Ret()

	return &ir.Module{
		Name: "test",
		Globals: []*ir.Global{
			{Name: "g", Space: ir.SpaceGlobal, Type: ir.I32, Size: 4, Align: 4},
			{Name: "tex", Space: ir.SpaceGlobal, Image: ir.Texture},
		},
		Funcs: []*ir.Func{f},
	}
}

func ops(mf *mir.Func) (r []string) {
	for _, b := range mf.Blocks {
		for _, x := range b.Instrs {
			r = append(r, x.Op)
		}
	}

	return r
}

func selectOn(t *testing.T, cpu string, m *ir.Module) (*mir.Func, error) {
	t.Helper()

	require.NoError(t, ir.Verify(m))

	mm, err := Select(context.Background(), target.NewMachine64("", cpu, ""), m)
	if err != nil {
		return nil, err
	}

	require.Len(t, mm.Funcs, 1)
	require.NoError(t, mir.Verify(mm.Funcs[0], true))

	return mm.Funcs[0], nil
}

func TestParamsAndArith(t *testing.T) {
	m := kernel(func(b *ir.Builder, p, n ir.Value) {
		x := b.Bin(ir.OpAdd, ir.I32, n, n)
		y := b.Bin(ir.OpMul, ir.I32, x, n)
		b.Emit(&ir.Instr{Op: ir.OpStore, Type: ir.I32, Space: ir.SpaceGlobal, Args: []ir.Value{p, y}})
	})

	mf, err := selectOn(t, "sm_20", m)
	require.NoError(t, err)

	assert.Equal(t, []string{"ld.param.u64", "ld.param.u32", "add.s32", "mul.lo.s32", "st.global.u32", "ret"}, ops(mf))
	assert.Equal(t, "k_param_0", mf.Params[0].Sym)
	assert.Equal(t, mir.B64, mf.Params[0].Class)
	assert.Equal(t, mir.B32, mf.Params[1].Class)
}

func TestUnsupported(t *testing.T) {
	for name, tc := range map[string]struct {
		cpu  string
		body func(b *ir.Builder, p, n ir.Value)
	}{
		"double": {"sm_12", func(b *ir.Builder, p, n ir.Value) {
			b.Emit(&ir.Instr{Op: ir.OpFImm, Type: ir.F64, FImm: 1})
		}},
		"vote": {"sm_11", func(b *ir.Builder, p, n ir.Value) {
			c := b.Imm(ir.I1, 1)
			b.Emit(&ir.Instr{Op: ir.OpVote, Cond: ir.VoteAny, Args: []ir.Value{c}})
		}},
		"brkpt": {"sm_10", func(b *ir.Builder, p, n ir.Value) {
			b.Emit(&ir.Instr{Op: ir.OpBrkPt})
		}},
		"generic_load": {"sm_13", func(b *ir.Builder, p, n ir.Value) {
			b.Emit(&ir.Instr{Op: ir.OpLoad, Type: ir.I32, Args: []ir.Value{p}})
		}},
		"shared_atomic": {"sm_11", func(b *ir.Builder, p, n ir.Value) {
			b.Emit(&ir.Instr{Op: ir.OpAtomicAdd, Type: ir.I32, Space: ir.Shared, Args: []ir.Value{p, n}})
		}},
		"rot64": {"sm_13", func(b *ir.Builder, p, n ir.Value) {
			x := b.Imm(ir.I64, 5)
			b.Bin(ir.OpRotl, ir.I64, x, x)
		}},
		"fma64": {"sm_12", func(b *ir.Builder, p, n ir.Value) {
			b.Emit(&ir.Instr{Op: ir.OpFma, Type: ir.F64, Args: []ir.Value{n, n, n}})
		}},
		"istype": {"sm_20", func(b *ir.Builder, p, n ir.Value) {
			b.Emit(&ir.Instr{Op: ir.OpIsType, Image: ir.Texture, Args: []ir.Value{p}})
		}},
		"memcpy": {"sm_35", func(b *ir.Builder, p, n ir.Value) {
			b.Emit(&ir.Instr{Op: ir.OpMemcpy, Args: []ir.Value{p, p}, Size: 16, Align: 4})
		}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := selectOn(t, tc.cpu, kernel(tc.body))
			require.Error(t, err)

			assert.True(t, errors.Is(err, ErrUnsupported))

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "k", e.Func)
			assert.Equal(t, "entry", e.Block)
		})
	}
}

func TestReadOnlyLoads(t *testing.T) {
	body := func(b *ir.Builder, p, n ir.Value) {
		b.Emit(&ir.Instr{Op: ir.OpLoad, Type: ir.I32, Space: ir.SpaceGlobal, Args: []ir.Value{p}, Flags: ir.Flags{ir.ReadOnly}})
		b.Emit(&ir.Instr{Op: ir.OpLoad, Type: ir.I32, Space: ir.SpaceGlobal, Args: []ir.Value{p}, Flags: ir.Flags{ir.Uniform}})
	}

	mf, err := selectOn(t, "sm_35", kernel(body))
	require.NoError(t, err)
	assert.Contains(t, ops(mf), "ld.global.nc.u32")
	assert.Contains(t, ops(mf), "ld.global.u32")

	mf, err = selectOn(t, "sm_20", kernel(body))
	require.NoError(t, err)
	assert.NotContains(t, ops(mf), "ld.global.nc.u32")
	assert.Contains(t, ops(mf), "ld.global.u32")
	assert.Contains(t, ops(mf), "ldu.global.u32")
}

func TestRotate(t *testing.T) {
	body := func(b *ir.Builder, p, n ir.Value) {
		k := b.Imm(ir.I32, 8)
		b.Bin(ir.OpRotl, ir.I32, n, k)
	}

	mf, err := selectOn(t, "sm_35", kernel(body))
	require.NoError(t, err)
	assert.Contains(t, ops(mf), "shf.l.wrap.b32")

	mf, err = selectOn(t, "sm_20", kernel(body))
	require.NoError(t, err)
	assert.NotContains(t, ops(mf), "shf.l.wrap.b32")
	assert.Contains(t, ops(mf), "or.b32")

	var shr *mir.Instr
	for _, x := range mf.Blocks[0].Instrs {
		if x.Op == "shr.b32" {
			shr = x
		}
	}

	require.NotNil(t, shr)
	assert.Equal(t, mir.Imm(24), shr.Ops[2])
}

func TestAtomics(t *testing.T) {
	m := kernel(func(b *ir.Builder, p, n ir.Value) {
		b.Emit(&ir.Instr{Op: ir.OpAtomicAdd, Type: ir.I32, Space: ir.SpaceGlobal, Args: []ir.Value{p, n}})
	})

	mf, err := selectOn(t, "sm_11", m)
	require.NoError(t, err)
	assert.Contains(t, ops(mf), "atom.global.add.u32")
}

func TestAddressFolding(t *testing.T) {
	m := kernel(func(b *ir.Builder, p, n ir.Value) {
		g := b.Emit(&ir.Instr{Op: ir.OpGlobal, Type: ir.Ptr, Sym: "g", Space: ir.SpaceGlobal})
		c := b.Emit(&ir.Instr{Op: ir.OpCast, Type: ir.Ptr, Args: []ir.Value{g}, From: ir.SpaceGlobal, Space: ir.Generic})
		k := b.Imm(ir.Ptr, 12)
		a := b.Bin(ir.OpAdd, ir.Ptr, c, k)
		b.Emit(&ir.Instr{Op: ir.OpStore, Type: ir.I32, Args: []ir.Value{a, n}})
	})

	mf, err := selectOn(t, "sm_20", m)
	require.NoError(t, err)

	var st *mir.Instr
	for _, x := range mf.Blocks[0].Instrs {
		if x.MayStore() {
			st = x
		}
	}

	require.NotNil(t, st)
	assert.Equal(t, "st.global.u32", st.Op)
	assert.Equal(t, mir.Sym("g"), st.Ops[0])
	assert.Equal(t, mir.Imm(12), st.Ops[1])
}

func TestAllocaFrame(t *testing.T) {
	m := kernel(func(b *ir.Builder, p, n ir.Value) {
		a := b.Emit(&ir.Instr{Op: ir.OpAlloca, Type: ir.Ptr, Size: 16, Align: 8})
		b.Emit(&ir.Instr{Op: ir.OpStore, Type: ir.I32, Args: []ir.Value{a, n}})
	})

	mf, err := selectOn(t, "sm_20", m)
	require.NoError(t, err)

	require.Len(t, mf.Frame.Objects, 1)
	assert.Equal(t, 16, mf.Frame.Objects[0].Size)
	assert.Contains(t, ops(mf), "st.local.u32")
}

func TestFMA(t *testing.T) {
	m := kernel(func(b *ir.Builder, p, n ir.Value) {
		x := b.Emit(&ir.Instr{Op: ir.OpFImm, Type: ir.F32, FImm: 2})
		b.Emit(&ir.Instr{Op: ir.OpFma, Type: ir.F32, Args: []ir.Value{x, x, x}})
	})

	mf, err := selectOn(t, "sm_20", m)
	require.NoError(t, err)
	assert.Contains(t, ops(mf), "fma.rn.f32")

	mf, err = selectOn(t, "sm_13", m)
	require.NoError(t, err)
	assert.NotContains(t, ops(mf), "fma.rn.f32")
	assert.Contains(t, ops(mf), "mul.rn.f32")
	assert.Contains(t, ops(mf), "add.rn.f32")
}

func TestBranches(t *testing.T) {
	f := &ir.Func{Name: "k", Kernel: true}
	b := ir.NewBuilder(f)
	n := b.Param("n", ir.I32)

	b.Block("entry")
	z := b.Imm(ir.I32, 0)
	c := b.Emit(&ir.Instr{Op: ir.OpCmp, Cond: ir.Lt, Args: []ir.Value{n, z}})
	b.BrCond(c, 1, 2)

	b.Block("then")
	b.Br(2)

	b.Block("exit")
	b.Emit(&ir.Instr{Op: ir.OpPhi, Type: ir.I32, Phi: []ir.PhiBranch{{Block: 0, Value: z}, {Block: 1, Value: n}}})
	b.Ret()

	mf, err := selectOn(t, "sm_20", &ir.Module{Name: "br", Funcs: []*ir.Func{f}})
	require.NoError(t, err)

	assert.Equal(t, []string{"ld.param.u32", "mov.u32", "setp.lt.s32", mir.CBra, mir.Bra, mir.Bra, mir.PHI, mir.Ret}, ops(mf))
	assert.Equal(t, []int{1, 2}, mf.Blocks[0].Succs())
}

func TestMalformedOperands(t *testing.T) {
	m := kernel(func(b *ir.Builder, p, n ir.Value) {
		b.Emit(&ir.Instr{Op: ir.OpIsType, Image: ir.Texture})
		b.Emit(&ir.Instr{Op: ir.OpAdd, Type: ir.I32, Args: []ir.Value{n}})
	})

	var err error

	assert.NotPanics(t, func() {
		_, err = Select(context.Background(), target.NewMachine64("", "sm_35", ""), m)
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "istype")
	assert.False(t, errors.Is(err, ErrUnsupported))
}
