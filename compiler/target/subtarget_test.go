package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func monotoneCaps(st Subtarget) map[string]bool {
	return map[string]bool{
		"brkpt":        st.HasBrkPt(),
		"atomredg32":   st.HasAtomRedG32(),
		"atomreds32":   st.HasAtomRedS32(),
		"atomredg64":   st.HasAtomRedG64(),
		"atomreds64":   st.HasAtomRedS64(),
		"atomredgen32": st.HasAtomRedGen32(),
		"atomredgen64": st.HasAtomRedGen64(),
		"atomaddf32":   st.HasAtomAddF32(),
		"vote":         st.HasVote(),
		"double":       st.HasDouble(),
		"reqptx20":     st.ReqPTX20(),
		"f32ftz":       st.HasF32FTZ(),
		"fmaf32":       st.HasFMAF32(),
		"fmaf64":       st.HasFMAF64(),
		"ldg":          st.HasLDG(),
		"genericldst":  st.HasGenericLdSt(),
		"hwrot32":      st.HasHWROT32(),
		"rot32":        st.HasROT32(),
		"rot64":        st.HasROT64(),
	}
}

func TestCapabilityMonotonic(t *testing.T) {
	for v1 := SmVersion(10); v1 <= 90; v1++ {
		for v2 := v1 + 1; v2 <= 90; v2++ {
			c1 := monotoneCaps(Subtarget{SmVersion: v1})
			c2 := monotoneCaps(Subtarget{SmVersion: v2})

			for k, ok := range c1 {
				if ok && !c2[k] {
					t.Errorf("%v lost at %v (had it at %v)", k, v2, v1)
				}
			}
		}
	}
}

func TestImageHandles(t *testing.T) {
	for v := SmVersion(10); v <= 90; v++ {
		cuda := Subtarget{SmVersion: v, Interface: CUDA}
		nvcl := Subtarget{SmVersion: v, Interface: NVCL}
		other := Subtarget{SmVersion: v, Interface: DrvInterface(7)}

		assert.Equal(t, v >= 30, cuda.HasImageHandles(), "cuda %v", v)
		assert.False(t, nvcl.HasImageHandles(), "nvcl %v", v)
		assert.False(t, other.HasImageHandles(), "other %v", v)
	}
}

func TestRotateWindows(t *testing.T) {
	for _, tc := range []struct {
		v          SmVersion
		hw, sw, r6 bool
	}{
		{13, false, false, false},
		{20, false, true, true},
		{30, false, true, true},
		{32, true, false, true},
		{35, true, false, true},
	} {
		st := Subtarget{SmVersion: tc.v}

		assert.Equal(t, tc.hw, st.HasHWROT32(), "hw %v", tc.v)
		assert.Equal(t, tc.sw, st.HasSWROT32(), "sw %v", tc.v)
		assert.Equal(t, tc.hw || tc.sw, st.HasROT32(), "rot32 %v", tc.v)
		assert.Equal(t, tc.r6, st.HasROT64(), "rot64 %v", tc.v)
	}
}

func TestLDUWindow(t *testing.T) {
	assert.False(t, Subtarget{SmVersion: 13}.HasLDU())
	assert.True(t, Subtarget{SmVersion: 20}.HasLDU())
	assert.True(t, Subtarget{SmVersion: 21}.HasLDU())
	assert.False(t, Subtarget{SmVersion: 30}.HasLDU())
}

// LDU is gone from sm_30 while LDG only comes at sm_32,
// so the cached global read path has a hole.
func TestCachedReadWindows(t *testing.T) {
	for v := SmVersion(10); v <= 90; v++ {
		st := Subtarget{SmVersion: v}

		assert.Equal(t, v >= 20 && v < 30, st.HasLDU(), "ldu %v", v)
		assert.Equal(t, v >= 32, st.HasLDG(), "ldg %v", v)
		assert.False(t, st.HasLDU() && st.HasLDG(), "both %v", v)
	}

	for _, v := range []SmVersion{30, 31} {
		st := Subtarget{SmVersion: v}
		assert.False(t, st.HasLDU() || st.HasLDG(), "%v", v)
	}
}

func TestParseFeatures(t *testing.T) {
	for _, tc := range []struct {
		tt, cpu, fs string

		name string
		sm   SmVersion
		ptx  uint
		drv  DrvInterface
	}{
		{"", "", "", "sm_20", 20, 31, CUDA},
		{"nvptx64-nvidia-cuda", "sm_35", "", "sm_35", 35, 31, CUDA},
		{"nvptx64-nvidia-nvcl", "sm_35", "", "sm_35", 35, 31, NVCL},
		{"nvptx-nvidia-cuda", "sm_12", "+ptx30", "sm_12", 12, 30, CUDA},
		{"", "sm_20", "+ptx20", "sm_20", 20, 20, CUDA},
		{"", "sm_30", "+ptx40,nvcl", "sm_30", 30, 40, NVCL},
		{"", "sm_13", "+sm_35,+sm_30", "sm_13", 35, 31, CUDA},
		{"", "", "garbage,,+sm_xx,sm_,ptx,-sm_50,+SM_32", "sm_20", 32, 31, CUDA},
		{"nvptx-nvidia-nvcl", "", "cuda", "sm_20", 20, 31, CUDA},
		{"", "sm_10", "", "sm_10", 10, 31, CUDA},
		{"", "sm_12", "sm_1", "sm_12", 12, 31, CUDA},
	} {
		st := NewSubtarget(tc.tt, tc.cpu, tc.fs, true)

		assert.Equal(t, tc.name, st.TargetName, "%+v", tc)
		assert.Equal(t, tc.sm, st.SmVersion, "%+v", tc)
		assert.Equal(t, tc.ptx, st.PTXVersion, "%+v", tc)
		assert.Equal(t, tc.drv, st.Interface, "%+v", tc)
		assert.True(t, st.Is64Bit)
	}
}

func TestSmVersion(t *testing.T) {
	v := SmVersion(35)

	assert.Equal(t, uint(3), v.Major())
	assert.Equal(t, uint(5), v.Minor())
	assert.Equal(t, "sm_35", v.String())
	assert.Equal(t, "nvcl", NVCL.String())
}

func TestCapabilityTable(t *testing.T) {
	st := NewSubtarget("nvptx64-nvidia-cuda", "sm_35", "", true)

	caps := map[string]bool{}
	for _, c := range st.Capabilities() {
		caps[c.Name] = c.Has
	}

	assert.True(t, caps["ldg"])
	assert.False(t, caps["ldu"])
	assert.True(t, caps["image_handles"])
	assert.True(t, caps["hw_rot32"])
	assert.False(t, caps["sw_rot32"])

	text := string(st.AppendCaps(nil))
	assert.Contains(t, text, "sm        sm_35\n")
	assert.Contains(t, text, "interface cuda\n")
}
