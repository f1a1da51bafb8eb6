package config

import (
	"strings"

	"github.com/xyproto/env/v2"
	"tlog.app/go/errors"

	"github.com/slowlang/ptx/compiler/back"
	"github.com/slowlang/ptx/compiler/target"
)

// Config is the process level compilation setup.
type Config struct {
	Target   string
	Triple   string
	CPU      string
	Features string

	Optimize    bool
	SchedBudget int
	Verify      bool
}

const (
	DefaultTarget = "nvptx64"
	DefaultCPU    = "sm_20"
)

// FromEnv reads PTXC_* variables. Unset ones keep their defaults.
// The environment is reread on every call.
func FromEnv() Config {
	env.Load()

	return Config{
		Target:      env.Str("PTXC_TARGET", DefaultTarget),
		Triple:      env.Str("PTXC_TRIPLE"),
		CPU:         env.Str("PTXC_CPU", DefaultCPU),
		Features:    env.Str("PTXC_FEATURES"),
		Optimize:    env.Bool("PTXC_OPT"),
		SchedBudget: env.Int("PTXC_SCHED_BUDGET", back.DefaultSchedBudget),
		Verify:      env.Bool("PTXC_VERIFY"),
	}
}

func (c Config) Machine() (*target.Machine, error) {
	t, ok := target.Lookup(strings.ToLower(c.Target))
	if !ok {
		return nil, errors.New("unknown target: %q", c.Target)
	}

	return t.NewMachine(c.Triple, c.CPU, c.Features), nil
}

// Is64Bit reports whether Target names a 64 bit target.
// Unknown names are taken as the default target.
func (c Config) Is64Bit() bool {
	t, ok := target.Lookup(strings.ToLower(c.Target))
	if !ok {
		t, _ = target.Lookup(DefaultTarget)
	}

	return t.Is64Bit
}

func (c Config) Options() back.Options {
	opts := back.Options{
		SchedBudget: c.SchedBudget,
		Verify:      c.Verify,
	}

	if c.Optimize {
		opts.OptLevel = back.Optimized
	}

	return opts
}

// Pipeline builds the machine and assembles the stage list.
func (c Config) Pipeline() (*back.Pipeline, error) {
	tm, err := c.Machine()
	if err != nil {
		return nil, errors.Wrap(err, "machine")
	}

	return back.New(tm, c.Options()).Build(), nil
}
