package opt

import (
	"context"
	"strings"

	"github.com/slowlang/ptx/compiler/ir"
)

var nameCleaner = strings.NewReplacer(".", "_$_", "@", "_$_")

// AssignValidGlobalNames renames local symbols PTX would reject.
// External symbols keep their names, they are part of the ABI.
func AssignValidGlobalNames(ctx context.Context, m *ir.Module) (n int) {
	rename := map[string]string{}

	clean := func(name string, l ir.Linkage) string {
		if !l.Local() {
			return name
		}

		c := nameCleaner.Replace(name)
		if c != name {
			rename[name] = c
			n++
		}

		return c
	}

	for _, g := range m.Globals {
		g.Name = clean(g.Name, g.Linkage)
	}

	for _, f := range m.Funcs {
		f.Name = clean(f.Name, f.Linkage)
	}

	if len(rename) == 0 {
		return 0
	}

	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, x := range b.Code {
				if r, ok := rename[x.Sym]; ok && x.Op != ir.OpReflect {
					x.Sym = r
				}
			}
		}
	}

	return n
}
