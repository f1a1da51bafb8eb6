package target

import (
	"strconv"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
)

type (
	// Align is one size:abi:pref entry of a data layout, in bits.
	Align struct {
		Size int
		ABI  int
		Pref int
	}

	// Layout is the data layout of the target.
	// Only the pointer entry depends on the word width.
	Layout struct {
		BigEndian bool

		Pointer Align

		Ints    []Align
		Floats  []Align
		Vectors []Align

		Natural []int
	}
)

var (
	intAligns    = []Align{{1, 8, 8}, {8, 8, 8}, {16, 16, 16}, {32, 32, 32}, {64, 64, 64}}
	floatAligns  = []Align{{32, 32, 32}, {64, 64, 64}}
	vectorAligns = []Align{{16, 16, 16}, {32, 32, 32}, {64, 64, 64}, {128, 128, 128}}
	naturalInts  = []int{16, 32, 64}
)

func ComputeLayout(is64 bool) Layout {
	p := 32
	if is64 {
		p = 64
	}

	return Layout{
		Pointer: Align{Size: p, ABI: p, Pref: p},
		Ints:    intAligns,
		Floats:  floatAligns,
		Vectors: vectorAligns,
		Natural: naturalInts,
	}
}

func (l Layout) PointerBytes() int { return l.Pointer.Size / 8 }

// IntAlign returns abi alignment in bytes of an integer of bits width.
func (l Layout) IntAlign(bits int) int {
	for _, a := range l.Ints {
		if a.Size == bits {
			return a.ABI / 8
		}
	}

	return 1
}

// String returns the canonical layout string.
// Field order and spelling must not change, downstream tools parse it.
func (l Layout) String() string {
	return string(l.Append(nil))
}

func (l Layout) Append(b []byte) []byte {
	if l.BigEndian {
		b = append(b, 'E')
	} else {
		b = append(b, 'e')
	}

	b = hfmt.Appendf(b, "-p:%d:%d:%d", l.Pointer.Size, l.Pointer.ABI, l.Pointer.Pref)

	b = appendAligns(b, 'i', l.Ints)
	b = appendAligns(b, 'f', l.Floats)
	b = appendAligns(b, 'v', l.Vectors)

	if len(l.Natural) != 0 {
		b = append(b, "-n"...)

		for i, n := range l.Natural {
			if i != 0 {
				b = append(b, ':')
			}

			b = strconv.AppendInt(b, int64(n), 10)
		}
	}

	return b
}

func appendAligns(b []byte, k byte, as []Align) []byte {
	for _, a := range as {
		b = hfmt.Appendf(b, "-%c%d:%d:%d", k, a.Size, a.ABI, a.Pref)
	}

	return b
}

// ParseLayout parses the string produced by Layout.String.
func ParseLayout(s string) (l Layout, err error) {
	if s == "" {
		return l, errors.New("empty layout")
	}

	for i, f := range strings.Split(s, "-") {
		if f == "" {
			return l, errors.New("field %d: empty", i)
		}

		switch f[0] {
		case 'e':
			l.BigEndian = false
			continue
		case 'E':
			l.BigEndian = true
			continue
		case 'n':
			for _, w := range strings.Split(f[1:], ":") {
				n, err := strconv.Atoi(w)
				if err != nil {
					return l, errors.Wrap(err, "field %q", f)
				}

				l.Natural = append(l.Natural, n)
			}

			continue
		}

		a, err := parseAlign(f)
		if err != nil {
			return l, errors.Wrap(err, "field %q", f)
		}

		switch f[0] {
		case 'p':
			l.Pointer = a
		case 'i':
			l.Ints = append(l.Ints, a)
		case 'f':
			l.Floats = append(l.Floats, a)
		case 'v':
			l.Vectors = append(l.Vectors, a)
		default:
			return l, errors.New("field %q: unknown kind", f)
		}
	}

	return l, nil
}

func parseAlign(f string) (a Align, err error) {
	parts := strings.Split(f[1:], ":")

	if f[0] == 'p' {
		if len(parts) == 0 || parts[0] != "" {
			return a, errors.New("bad pointer field")
		}

		parts = parts[1:]
	}

	if len(parts) < 2 || len(parts) > 3 {
		return a, errors.New("want size:abi[:pref]")
	}

	var n [3]int

	for i, p := range parts {
		n[i], err = strconv.Atoi(p)
		if err != nil {
			return a, errors.Wrap(err, "parse %q", p)
		}
	}

	a = Align{Size: n[0], ABI: n[1], Pref: n[2]}
	if len(parts) == 2 {
		a.Pref = a.ABI
	}

	return a, nil
}
