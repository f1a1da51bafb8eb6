package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/ptx/compiler/back"
	"github.com/slowlang/ptx/compiler/isel"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/target"
)

func pipeline(cpu string, lvl back.OptLevel) *back.Pipeline {
	return back.New(target.NewMachine64("", cpu, ""), back.Options{OptLevel: lvl}).Build()
}

func TestCompileFile(t *testing.T) {
	out, err := CompileFile(context.Background(), pipeline("sm_20", back.Fast), "testdata/scale.yaml")
	require.NoError(t, err)

	assert.Equal(t, "testdata/scale.yaml", out.Name)
	require.NotNil(t, out.MIR)
	require.NotNil(t, out.MIR.Func("scale"))

	assert.Contains(t, string(mir.Format(nil, out.MIR)), "mul.lo.s32")
}

func TestCompileAll(t *testing.T) {
	names := []string{"testdata/sum.yaml", "testdata/scale.yaml", "testdata/sum.yaml"}

	outs, err := CompileAll(context.Background(), pipeline("sm_35", back.Optimized), names)
	require.NoError(t, err)
	require.Len(t, outs, len(names))

	for i, out := range outs {
		assert.Equal(t, names[i], out.Name)
		assert.Empty(t, out.Warnings)
	}

	assert.NotNil(t, outs[0].MIR.Func("sum"))
	assert.NotNil(t, outs[1].MIR.Func("scale"))
}

func TestCompileAllErrors(t *testing.T) {
	p := pipeline("sm_10", back.Fast)

	_, err := CompileAll(context.Background(), p, []string{"testdata/brkpt.yaml"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, isel.ErrUnsupported))

	_, err = CompileAll(context.Background(), p, []string{"testdata/missing.yaml"})
	assert.Error(t, err)
}
