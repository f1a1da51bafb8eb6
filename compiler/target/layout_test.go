package target

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutGolden(t *testing.T) {
	g := goldie.New(t)

	for _, tg := range Targets() {
		l := ComputeLayout(tg.Is64Bit)

		g.Assert(t, "layout_"+tg.Name, []byte(l.String()))
	}
}

func TestLayoutPointerOnly(t *testing.T) {
	l32 := ComputeLayout(false)
	l64 := ComputeLayout(true)

	assert.Equal(t, Align{32, 32, 32}, l32.Pointer)
	assert.Equal(t, Align{64, 64, 64}, l64.Pointer)

	assert.Equal(t, 4, l32.PointerBytes())
	assert.Equal(t, 8, l64.PointerBytes())

	s32, s64 := l32.String(), l64.String()
	assert.Equal(t, s32[len("e-p:32:32:32"):], s64[len("e-p:64:64:64"):])

	l32.Pointer = Align{}
	l64.Pointer = Align{}

	assert.Equal(t, l32, l64)
}

func TestParseLayout(t *testing.T) {
	for _, is64 := range []bool{false, true} {
		l := ComputeLayout(is64)

		p, err := ParseLayout(l.String())
		require.NoError(t, err)

		assert.Equal(t, l, p)
		assert.Equal(t, l.String(), p.String())
	}

	p, err := ParseLayout("E-p:32:32-i32:32")
	require.NoError(t, err)

	assert.True(t, p.BigEndian)
	assert.Equal(t, Align{32, 32, 32}, p.Pointer)
	assert.Equal(t, []Align{{32, 32, 32}}, p.Ints)

	for _, bad := range []string{"", "e--i8:8:8", "e-x8:8:8", "e-i8", "e-i8:a:8", "e-n16:x", "e-p1:64:64:64"} {
		_, err := ParseLayout(bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestIntAlign(t *testing.T) {
	l := ComputeLayout(true)

	assert.Equal(t, 1, l.IntAlign(1))
	assert.Equal(t, 4, l.IntAlign(32))
	assert.Equal(t, 8, l.IntAlign(64))
	assert.Equal(t, 1, l.IntAlign(7))
}
