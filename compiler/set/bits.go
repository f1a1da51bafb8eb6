package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int64
	}

	// Bits is a dense set of small non-negative keys.
	// Zero value is an empty set.
	Bits[K Key] struct {
		b []uint64
	}
)

func Of[K Key](ks ...K) Bits[K] {
	var s Bits[K]

	for _, k := range ks {
		s.Set(k)
	}

	return s
}

func (s *Bits[K]) Set(k K) {
	i, j := ij(k)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s *Bits[K]) Clear(k K) {
	i, j := ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s Bits[K]) IsSet(k K) bool {
	i, j := ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

// Merge adds x to s and reports whether s changed.
func (s *Bits[K]) Merge(x Bits[K]) (changed bool) {
	if len(x.b) != 0 {
		s.grow(len(x.b) - 1)
	}

	for i, w := range x.b {
		if s.b[i]|w != s.b[i] {
			s.b[i] |= w
			changed = true
		}
	}

	return changed
}

func (s *Bits[K]) Substract(x Bits[K]) {
	n := min(len(s.b), len(x.b))

	for i, w := range x.b[:n] {
		s.b[i] &^= w
	}
}

func (s Bits[K]) Intersects(x Bits[K]) bool {
	n := min(len(s.b), len(x.b))

	for i := 0; i < n; i++ {
		if s.b[i]&x.b[i] != 0 {
			return true
		}
	}

	return false
}

func (s Bits[K]) Equal(x Bits[K]) bool {
	n := max(len(s.b), len(x.b))

	for i := 0; i < n; i++ {
		if word(s.b, i) != word(x.b, i) {
			return false
		}
	}

	return true
}

func (s Bits[K]) Copy() Bits[K] {
	var c Bits[K]

	if len(s.b) != 0 {
		c.grow(len(s.b) - 1)
		copy(c.b, s.b)
	}

	return c
}

func (s Bits[K]) Size() (r int) {
	for _, w := range s.b {
		r += bits.OnesCount64(w)
	}

	return r
}

// Range calls f for every key in ascending order until f returns false.
func (s Bits[K]) Range(f func(k K) bool) {
	for i, w := range s.b {
		for w != 0 {
			j := bits.TrailingZeros64(w)
			w &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

func (s Bits[K]) Slice() (r []K) {
	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

func (s *Bits[K]) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))
		return true
	})

	return e.AppendBreak(b)
}

func ij[K Key](k K) (i, j int) {
	if k < 0 {
		panic("negative set key")
	}

	return int(k) / 64, int(k) % 64
}

func word(b []uint64, i int) uint64 {
	if i < len(b) {
		return b[i]
	}

	return 0
}

func (s *Bits[K]) grow(i int) {
	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}
