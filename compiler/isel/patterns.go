package isel

import (
	"strings"

	"github.com/slowlang/ptx/compiler/ir"
	"github.com/slowlang/ptx/compiler/mir"
	"github.com/slowlang/ptx/compiler/target"
)

type (
	// pattern maps an ir op on a set of types to a PTX opcode template.
	// In the template $s is replaced by the arithmetic suffix (s32, f32),
	// $u by the unsigned one (u32) and $b by the bitwise one (b32, pred).
	pattern struct {
		op    ir.Op
		types []ir.Type
		opc   string

		need func(st target.Subtarget) bool
		why  string
	}
)

var (
	ints   = []ir.Type{ir.I8, ir.I16, ir.I32, ir.I64, ir.Ptr}
	floats = []ir.Type{ir.F32, ir.F64}
	bitwse = []ir.Type{ir.I1, ir.I8, ir.I16, ir.I32, ir.I64, ir.Ptr}
	both   = append(append([]ir.Type{}, ints...), floats...)
)

var binaryPatterns = []pattern{
	{op: ir.OpAdd, types: ints, opc: "add.$s"},
	{op: ir.OpAdd, types: floats, opc: "add.rn.$s"},
	{op: ir.OpSub, types: ints, opc: "sub.$s"},
	{op: ir.OpSub, types: floats, opc: "sub.rn.$s"},
	{op: ir.OpMul, types: ints, opc: "mul.lo.$s"},
	{op: ir.OpMul, types: floats, opc: "mul.rn.$s"},
	{op: ir.OpDiv, types: ints, opc: "div.$s"},
	{op: ir.OpDiv, types: floats, opc: "div.rn.$s"},
	{op: ir.OpRem, types: ints, opc: "rem.$s"},
	{op: ir.OpAnd, types: bitwse, opc: "and.$b"},
	{op: ir.OpOr, types: bitwse, opc: "or.$b"},
	{op: ir.OpXor, types: bitwse, opc: "xor.$b"},
	{op: ir.OpShl, types: ints, opc: "shl.$b"},
	{op: ir.OpShr, types: ints, opc: "shr.$u"},
	{op: ir.OpCmp, types: both, opc: "setp.$c.$s"},
	{op: ir.OpSelect, types: both, opc: "selp.$b"},

	{op: ir.OpFma, types: []ir.Type{ir.F32}, opc: "fma.rn.$s",
		need: target.Subtarget.HasFMAF32, why: "fma.f32 needs sm_20"},
	{op: ir.OpFma, types: []ir.Type{ir.F64}, opc: "fma.rn.$s",
		need: target.Subtarget.HasFMAF64, why: "fma.f64 needs sm_13"},
}

// atomicPatterns are keyed by space and type.
var atomicPatterns = []struct {
	space ir.Space
	typ   ir.Type

	need func(st target.Subtarget) bool
	why  string
}{
	{ir.SpaceGlobal, ir.I32, target.Subtarget.HasAtomRedG32, "global 32-bit atomics need sm_11"},
	{ir.Shared, ir.I32, target.Subtarget.HasAtomRedS32, "shared 32-bit atomics need sm_12"},
	{ir.SpaceGlobal, ir.I64, target.Subtarget.HasAtomRedG64, "global 64-bit atomics need sm_12"},
	{ir.Shared, ir.I64, target.Subtarget.HasAtomRedS64, "shared 64-bit atomics need sm_20"},
	{ir.Generic, ir.I32, target.Subtarget.HasAtomRedGen32, "generic 32-bit atomics need sm_20"},
	{ir.Generic, ir.I64, target.Subtarget.HasAtomRedGen64, "generic 64-bit atomics need sm_20"},
	{ir.SpaceGlobal, ir.F32, target.Subtarget.HasAtomAddF32, "atomic float add needs sm_20"},
	{ir.Shared, ir.F32, target.Subtarget.HasAtomAddF32, "atomic float add needs sm_20"},
	{ir.Generic, ir.F32, target.Subtarget.HasAtomAddF32, "atomic float add needs sm_20"},
}

func lookup(ps []pattern, op ir.Op, t ir.Type) (pattern, bool) {
	for _, p := range ps {
		if p.op != op {
			continue
		}

		for _, pt := range p.types {
			if pt == t {
				return p, true
			}
		}
	}

	return pattern{}, false
}

func expand(tmpl string, t ir.Type, ptrBits int, c ir.Cond) string {
	r := strings.NewReplacer(
		"$s", arithSuffix(t, ptrBits),
		"$u", unsignedSuffix(t, ptrBits),
		"$b", bitSuffix(t, ptrBits),
		"$c", string(c),
	)

	return r.Replace(tmpl)
}

func width(t ir.Type, ptrBits int) string {
	switch t.Bits(ptrBits) {
	case 8, 16:
		return "16"
	case 32:
		return "32"
	default:
		return "64"
	}
}

func arithSuffix(t ir.Type, ptrBits int) string {
	if t.IsFloat() {
		return string(t)
	}

	return "s" + width(t, ptrBits)
}

func unsignedSuffix(t ir.Type, ptrBits int) string {
	if t.IsFloat() {
		return string(t)
	}

	return "u" + width(t, ptrBits)
}

func bitSuffix(t ir.Type, ptrBits int) string {
	if t == ir.I1 {
		return "pred"
	}

	return "b" + width(t, ptrBits)
}

// memSuffix is the suffix of loads and stores, which know bytes.
func memSuffix(t ir.Type, ptrBits int) string {
	switch t {
	case ir.I8:
		return "u8"
	case ir.F32, ir.F64:
		return string(t)
	}

	return unsignedSuffix(t, ptrBits)
}

func classOf(t ir.Type, ptrBits int) mir.Class {
	switch t {
	case ir.I1:
		return mir.Pred
	case ir.I8, ir.I16:
		return mir.B16
	case ir.I32:
		return mir.B32
	case ir.I64:
		return mir.B64
	case ir.F32:
		return mir.F32
	case ir.F64:
		return mir.F64
	case ir.Ptr:
		if ptrBits == 64 {
			return mir.B64
		}

		return mir.B32
	}

	return 0
}
