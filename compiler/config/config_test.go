package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/ptx/compiler/back"
	"github.com/slowlang/ptx/compiler/target"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PTXC_TARGET", "PTXC_TRIPLE", "PTXC_CPU", "PTXC_FEATURES", "PTXC_OPT", "PTXC_SCHED_BUDGET", "PTXC_VERIFY"} {
		t.Setenv(k, "")
	}

	c := FromEnv()

	assert.Equal(t, DefaultTarget, c.Target)
	assert.Equal(t, DefaultCPU, c.CPU)
	assert.False(t, c.Optimize)
	assert.Equal(t, back.DefaultSchedBudget, c.SchedBudget)

	tm, err := c.Machine()
	require.NoError(t, err)
	assert.True(t, tm.Is64Bit())
	assert.Equal(t, target.SmVersion(20), tm.Subtarget.SmVersion)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PTXC_TARGET", "nvptx")
	t.Setenv("PTXC_CPU", "sm_35")
	t.Setenv("PTXC_FEATURES", "+ptx40")
	t.Setenv("PTXC_OPT", "true")
	t.Setenv("PTXC_SCHED_BUDGET", "64")
	t.Setenv("PTXC_VERIFY", "1")

	c := FromEnv()

	assert.True(t, c.Optimize)
	assert.True(t, c.Verify)
	assert.Equal(t, 64, c.SchedBudget)

	tm, err := c.Machine()
	require.NoError(t, err)
	assert.False(t, tm.Is64Bit())
	assert.Equal(t, target.SmVersion(35), tm.Subtarget.SmVersion)
	assert.Equal(t, uint(40), tm.Subtarget.PTXVersion)

	opts := c.Options()
	assert.Equal(t, back.Optimized, opts.OptLevel)
	assert.Equal(t, 64, opts.SchedBudget)

	p, err := c.Pipeline()
	require.NoError(t, err)
	assert.Contains(t, p.Stages(), back.MachineScheduler)
}

func TestFromEnvRereads(t *testing.T) {
	t.Setenv("PTXC_CPU", "sm_20")
	t.Setenv("PTXC_OPT", "")
	assert.Equal(t, "sm_20", FromEnv().CPU)
	assert.False(t, FromEnv().Optimize)

	t.Setenv("PTXC_CPU", "sm_35")
	t.Setenv("PTXC_OPT", "1")

	c := FromEnv()
	assert.Equal(t, "sm_35", c.CPU)
	assert.True(t, c.Optimize)
}

func TestIs64Bit(t *testing.T) {
	for _, tc := range []struct {
		name string
		want bool
	}{
		{"nvptx", false},
		{"NVPTX", false},
		{"Nvptx", false},
		{"nvptx64", true},
		{"NVPTX64", true},
		{"", true},
	} {
		c := Config{Target: tc.name}
		assert.Equal(t, tc.want, c.Is64Bit(), "%q", tc.name)

		if tm, err := c.Machine(); err == nil {
			assert.Equal(t, tm.Is64Bit(), c.Is64Bit(), "%q", tc.name)
		}
	}
}

func TestUnknownTarget(t *testing.T) {
	_, err := Config{Target: "amdgcn"}.Pipeline()
	assert.Error(t, err)
}
