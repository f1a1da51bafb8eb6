package target

type (
	// Machine binds a Subtarget and its Layout for one compilation session.
	// It is read-only and can be shared between goroutines.
	Machine struct {
		Name   string
		Triple string

		Subtarget Subtarget
		Layout    Layout
	}

	// Target is a registrable target variant.
	Target struct {
		Name          string
		Is64Bit       bool
		DefaultTriple string
	}
)

var targets = [...]Target{
	{Name: "nvptx", Is64Bit: false, DefaultTriple: "nvptx-nvidia-cuda"},
	{Name: "nvptx64", Is64Bit: true, DefaultTriple: "nvptx64-nvidia-cuda"},
}

// Targets lists registrable targets.
func Targets() []Target {
	return targets[:]
}

func Lookup(name string) (Target, bool) {
	for _, t := range targets {
		if t.Name == name {
			return t, true
		}
	}

	return Target{}, false
}

func (t Target) NewMachine(tt, cpu, fs string) *Machine {
	if tt == "" {
		tt = t.DefaultTriple
	}

	return newMachine(t.Name, tt, cpu, fs, t.Is64Bit)
}

func NewMachine32(tt, cpu, fs string) *Machine {
	return targets[0].NewMachine(tt, cpu, fs)
}

func NewMachine64(tt, cpu, fs string) *Machine {
	return targets[1].NewMachine(tt, cpu, fs)
}

func newMachine(name, tt, cpu, fs string, is64 bool) *Machine {
	st := NewSubtarget(tt, cpu, fs, is64)

	return &Machine{
		Name:      name,
		Triple:    tt,
		Subtarget: st,
		Layout:    ComputeLayout(st.Is64Bit),
	}
}

func (m *Machine) Is64Bit() bool { return m.Subtarget.Is64Bit }

func (m *Machine) PointerBits() int { return m.Layout.Pointer.Size }
