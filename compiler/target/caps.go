package target

import (
	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog/tlwire"
)

type Capability struct {
	Name string
	Has  bool
}

// Capabilities lists every capability query in a fixed order.
func (st Subtarget) Capabilities() []Capability {
	return []Capability{
		{"brkpt", st.HasBrkPt()},
		{"atom_red_g32", st.HasAtomRedG32()},
		{"atom_red_s32", st.HasAtomRedS32()},
		{"atom_red_g64", st.HasAtomRedG64()},
		{"atom_red_s64", st.HasAtomRedS64()},
		{"atom_red_gen32", st.HasAtomRedGen32()},
		{"atom_red_gen64", st.HasAtomRedGen64()},
		{"atom_add_f32", st.HasAtomAddF32()},
		{"vote", st.HasVote()},
		{"double", st.HasDouble()},
		{"req_ptx20", st.ReqPTX20()},
		{"f32_ftz", st.HasF32FTZ()},
		{"fma_f32", st.HasFMAF32()},
		{"fma_f64", st.HasFMAF64()},
		{"ldg", st.HasLDG()},
		{"ldu", st.HasLDU()},
		{"generic_ld_st", st.HasGenericLdSt()},
		{"hw_rot32", st.HasHWROT32()},
		{"sw_rot32", st.HasSWROT32()},
		{"rot32", st.HasROT32()},
		{"rot64", st.HasROT64()},
		{"image_handles", st.HasImageHandles()},
	}
}

// AppendCaps appends a human readable capability table.
func (st Subtarget) AppendCaps(b []byte) []byte {
	b = hfmt.Appendf(b, "target    %s\ninterface %v\nsm        %v\nptx       %d\n64bit     %v\n\n",
		st.TargetName, st.Interface, st.SmVersion, st.PTXVersion, st.Is64Bit)

	for _, c := range st.Capabilities() {
		b = hfmt.Appendf(b, "%-16s %v\n", c.Name, c.Has)
	}

	return b
}

func (st Subtarget) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)
	b = e.AppendKeyValue(b, "target", st.TargetName)
	b = e.AppendKeyValue(b, "interface", st.Interface.String())
	b = e.AppendKeyInt(b, "sm", int(st.SmVersion))
	b = e.AppendKeyInt(b, "ptx", int(st.PTXVersion))

	return b
}
