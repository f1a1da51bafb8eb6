package main

import (
	"context"
	"fmt"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler"
	"github.com/slowlang/ptx/compiler/config"
	"github.com/slowlang/ptx/compiler/mir"
)

func main() {
	def := config.FromEnv()

	targetFlags := []*cli.Flag{
		cli.NewFlag("64", def.Is64Bit(), "64 bit pointers (nvptx64)"),
		cli.NewFlag("triple", def.Triple, "target triple"),
		cli.NewFlag("cpu", def.CPU, "gpu generation"),
		cli.NewFlag("features", def.Features, "comma separated feature list"),
	}

	pipeFlags := append(targetFlags[:len(targetFlags):len(targetFlags)],
		cli.NewFlag("O", def.Optimize, "run the optimized pipeline"),
		cli.NewFlag("sched-budget", def.SchedBudget, "largest region the scheduler takes"),
		cli.NewFlag("verify", def.Verify, "verify machine code after every stage"),
	)

	capsCmd := &cli.Command{
		Name:        "caps",
		Description: "print subtarget capabilities",
		Action:      capsAct,
		Flags:       targetFlags,
	}

	layoutCmd := &cli.Command{
		Name:        "layout",
		Description: "print the data layout string",
		Action:      layoutAct,
		Flags:       targetFlags,
	}

	stagesCmd := &cli.Command{
		Name:        "stages",
		Description: "print the assembled stage list",
		Action:      stagesAct,
		Flags:       pipeFlags,
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "lower ir modules and print machine code",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags:       pipeFlags,
	}

	app := &cli.Command{
		Name:        "ptxc",
		Description: "ptxc is a virtual register gpu code generator",
		Commands: []*cli.Command{
			capsCmd,
			layoutCmd,
			stagesCmd,
			compileCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func machineCfg(c *cli.Command) config.Config {
	cf := config.Config{
		Target:   "nvptx",
		Triple:   c.String("triple"),
		CPU:      c.String("cpu"),
		Features: c.String("features"),
	}

	if c.Bool("64") {
		cf.Target = "nvptx64"
	}

	return cf
}

func pipelineCfg(c *cli.Command) config.Config {
	cf := machineCfg(c)

	cf.Optimize = c.Bool("O")
	cf.SchedBudget = c.Int("sched-budget")
	cf.Verify = c.Bool("verify")

	return cf
}

func capsAct(c *cli.Command) error {
	tm, err := machineCfg(c).Machine()
	if err != nil {
		return err
	}

	os.Stdout.Write(tm.Subtarget.AppendCaps(nil))

	return nil
}

func layoutAct(c *cli.Command) error {
	tm, err := machineCfg(c).Machine()
	if err != nil {
		return err
	}

	fmt.Println(tm.Layout.String())

	return nil
}

func stagesAct(c *cli.Command) error {
	p, err := pipelineCfg(c).Pipeline()
	if err != nil {
		return err
	}

	for _, id := range p.Stages() {
		fmt.Println(id)
	}

	return nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	p, err := pipelineCfg(c).Pipeline()
	if err != nil {
		return err
	}

	outs, err := compiler.CompileAll(ctx, p, c.Args)
	if err != nil {
		return errors.Wrap(err, "compile")
	}

	var b []byte

	for _, out := range outs {
		for _, w := range out.Warnings {
			tlog.Printw("warning", "file", out.Name, "warning", w)
		}

		b = mir.Format(b[:0], out.MIR)

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}
