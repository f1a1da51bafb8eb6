package target

import (
	"strconv"
	"strings"
)

type (
	// SmVersion is a compute capability x.y encoded as 10*x+y, e.g. 3.5 == 35.
	SmVersion uint

	DrvInterface int

	// Subtarget describes what the selected GPU generation can do.
	// It is immutable after construction.
	Subtarget struct {
		TargetName string
		Interface  DrvInterface
		Is64Bit    bool

		// PTX ISA version encoded as SmVersion is.
		PTXVersion uint

		SmVersion SmVersion
	}
)

const (
	CUDA DrvInterface = iota
	NVCL
)

const (
	DefaultCPU = "sm_20"

	DefaultSmVersion  SmVersion = 20
	DefaultPTXVersion uint      = 31
)

// NewSubtarget parses cpu name and feature string.
// Unknown or malformed tokens are ignored.
func NewSubtarget(tt, cpu, fs string, is64 bool) Subtarget {
	st := Subtarget{
		TargetName: cpu,
		Interface:  interfaceFromTriple(tt),
		Is64Bit:    is64,
	}

	if cpu == "" {
		cpu = DefaultCPU
		st.TargetName = DefaultCPU
	}

	st.parseFeatures(cpu)
	st.parseFeatures(fs)

	if st.SmVersion == 0 {
		st.SmVersion = DefaultSmVersion
	}

	if st.PTXVersion == 0 {
		st.PTXVersion = DefaultPTXVersion
	}

	return st
}

// ParseFeatures is NewSubtarget without triple and cpu.
func ParseFeatures(fs string, is64 bool) Subtarget {
	return NewSubtarget("", "", fs, is64)
}

func (st *Subtarget) parseFeatures(fs string) {
	for _, tok := range strings.Split(fs, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))

		switch {
		case tok == "":
			continue
		case tok[0] == '-':
			continue
		case tok[0] == '+':
			tok = tok[1:]
		}

		switch {
		case tok == "cuda":
			st.Interface = CUDA
		case tok == "nvcl":
			st.Interface = NVCL
		case strings.HasPrefix(tok, "sm_"):
			if v, ok := parseVersion(tok[3:]); ok && SmVersion(v) > st.SmVersion {
				st.SmVersion = SmVersion(v)
			}
		case strings.HasPrefix(tok, "ptx"):
			if v, ok := parseVersion(tok[3:]); ok && v > st.PTXVersion {
				st.PTXVersion = v
			}
		}
	}
}

func parseVersion(s string) (uint, bool) {
	if s == "" || len(s) > 3 {
		return 0, false
	}

	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}

	return uint(v), true
}

func interfaceFromTriple(tt string) DrvInterface {
	parts := strings.Split(strings.ToLower(tt), "-")

	if len(parts) >= 3 && strings.HasPrefix(parts[2], "nvcl") {
		return NVCL
	}

	return CUDA
}

func (st Subtarget) HasBrkPt() bool { return st.SmVersion >= 11 }
func (st Subtarget) HasAtomRedG32() bool { return st.SmVersion >= 11 }
func (st Subtarget) HasAtomRedS32() bool { return st.SmVersion >= 12 }
func (st Subtarget) HasAtomRedG64() bool { return st.SmVersion >= 12 }
func (st Subtarget) HasAtomRedS64() bool { return st.SmVersion >= 20 }
func (st Subtarget) HasAtomRedGen32() bool { return st.SmVersion >= 20 }
func (st Subtarget) HasAtomRedGen64() bool { return st.SmVersion >= 20 }
func (st Subtarget) HasAtomAddF32() bool { return st.SmVersion >= 20 }
func (st Subtarget) HasVote() bool { return st.SmVersion >= 12 }
func (st Subtarget) HasDouble() bool { return st.SmVersion >= 13 }
func (st Subtarget) ReqPTX20() bool { return st.SmVersion >= 20 }
func (st Subtarget) HasF32FTZ() bool { return st.SmVersion >= 20 }
func (st Subtarget) HasFMAF32() bool { return st.SmVersion >= 20 }
func (st Subtarget) HasFMAF64() bool { return st.SmVersion >= 13 }
func (st Subtarget) HasLDG() bool { return st.SmVersion >= 32 }
func (st Subtarget) HasGenericLdSt() bool { return st.SmVersion >= 20 }

// HasLDU reports the Fermi-only uniform load. Kepler replaced it with LDG.
func (st Subtarget) HasLDU() bool {
	return st.SmVersion >= 20 && st.SmVersion < 30
}

func (st Subtarget) HasHWROT32() bool { return st.SmVersion >= 32 }

// HasSWROT32 reports that 32-bit rotates are emulated with shifts.
func (st Subtarget) HasSWROT32() bool {
	return st.SmVersion >= 20 && st.SmVersion < 32
}

func (st Subtarget) HasROT32() bool { return st.HasHWROT32() || st.HasSWROT32() }
func (st Subtarget) HasROT64() bool { return st.SmVersion >= 20 }

// HasImageHandles reports indirect texture and surface support.
// Only CUDA on Kepler+ has it; every other interface uses static bindings
// no matter the version.
func (st Subtarget) HasImageHandles() bool {
	if st.Interface == CUDA {
		return st.SmVersion >= 30
	}

	return false
}

func (v SmVersion) Major() uint { return uint(v) / 10 }
func (v SmVersion) Minor() uint { return uint(v) % 10 }

func (v SmVersion) String() string {
	return "sm_" + strconv.FormatUint(uint64(v), 10)
}

func (d DrvInterface) String() string {
	switch d {
	case CUDA:
		return "cuda"
	case NVCL:
		return "nvcl"
	default:
		return "DrvInterface(" + strconv.Itoa(int(d)) + ")"
	}
}
