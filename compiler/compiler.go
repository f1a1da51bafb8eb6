package compiler

import (
	"context"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/ptx/compiler/back"
	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/mir"
)

type (
	// Output is one lowered unit.
	Output struct {
		Name string

		MIR      *mir.Module
		Warnings []back.Warning
	}
)

func CompileFile(ctx context.Context, p *back.Pipeline, name string) (out *Output, err error) {
	m, err := ir.LoadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "load")
	}

	tlog.SpanFromContext(ctx).Printw("loaded module", "name", name, "module", m.Name, "funcs", len(m.Funcs))

	out, err = Compile(ctx, p, m)
	if err != nil {
		return nil, err
	}

	out.Name = name

	return out, nil
}

func Compile(ctx context.Context, p *back.Pipeline, m *ir.Module) (out *Output, err error) {
	u := &back.Unit{
		Name: m.Name,
		IR:   m,
	}

	res, err := p.Run(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "compile %v", m.Name)
	}

	return &Output{
		Name:     m.Name,
		MIR:      u.MIR,
		Warnings: res.Warnings,
	}, nil
}

// CompileAll compiles files concurrently sharing p.
// Results are in the order of names. The first error cancels the rest.
func CompileAll(ctx context.Context, p *back.Pipeline, names []string) (_ []*Output, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile_all", "files", len(names))
	defer tr.Finish("err", &err)

	outs := make([]*Output, len(names))

	g, ctx := errgroup.WithContext(ctx)

	for i, name := range names {
		i, name := i, name

		g.Go(func() (err error) {
			if err = ctx.Err(); err != nil {
				return err
			}

			outs[i], err = CompileFile(ctx, p, name)
			if err != nil {
				return errors.Wrap(err, "%v", name)
			}

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	return outs, nil
}
