package target

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineScenarios(t *testing.T) {
	m := NewMachine64("nvptx64-nvidia-nvcl", "sm_12", "")
	st := m.Subtarget

	assert.True(t, st.HasAtomRedS32())
	assert.False(t, st.HasDouble())
	assert.False(t, st.HasImageHandles())
	assert.Equal(t, 64, m.PointerBits())

	m = NewMachine64("nvptx64-nvidia-cuda", "sm_35", "+ptx31")
	st = m.Subtarget

	assert.True(t, st.HasImageHandles())
	assert.True(t, st.HasHWROT32())
	assert.True(t, st.HasROT32())
	assert.False(t, st.HasSWROT32())
}

func TestMachineVariants(t *testing.T) {
	m32 := NewMachine32("", "sm_30", "")
	m64 := NewMachine64("", "sm_30", "")

	assert.Equal(t, "nvptx", m32.Name)
	assert.Equal(t, "nvptx64", m64.Name)
	assert.Equal(t, "nvptx-nvidia-cuda", m32.Triple)
	assert.Equal(t, "nvptx64-nvidia-cuda", m64.Triple)

	assert.False(t, m32.Is64Bit())
	assert.True(t, m64.Is64Bit())
	assert.Equal(t, 32, m32.PointerBits())
	assert.Equal(t, 64, m64.PointerBits())

	s32, s64 := m32.Subtarget, m64.Subtarget
	s32.Is64Bit = true

	assert.Equal(t, s64, s32)
}

func TestLookup(t *testing.T) {
	tg, ok := Lookup("nvptx64")
	require.True(t, ok)
	assert.True(t, tg.Is64Bit)

	tg, ok = Lookup("nvptx")
	require.True(t, ok)
	assert.False(t, tg.Is64Bit)

	_, ok = Lookup("x86")
	assert.False(t, ok)

	assert.Len(t, Targets(), 2)
}

func TestMachineSharedReadOnly(t *testing.T) {
	m := NewMachine64("", "sm_35", "")

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.True(t, m.Subtarget.HasImageHandles())
			assert.Equal(t, 64, m.Layout.Pointer.Size)
		}()
	}

	wg.Wait()
}
