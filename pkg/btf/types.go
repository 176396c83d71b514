// Package btf parses the BPF Type Format (.BTF) and its CO-RE relocation
// companion (.BTF.ext), per the Linux kernel's binary BTF specification.
// Parsed types carry name offsets into the owning string section rather
// than resolved strings, so the Types hold no references into the input
// buffer; only Btf.Strs aliases it (see Parse).
package btf

import "fmt"

// Magic is the BTF/BTF.ext magic number, little-endian.
const Magic = 0xEB9F

// HeaderSize is the byte size of the common BTF/BTF.ext fixed header
// (magic, version, flags, hdr_len, plus two off/len pairs).
const HeaderSize = 24

// ExtHeaderSize is the byte size of the BTF.ext fixed header this package
// targets: the CO-RE-capable variant carrying a third off/len pair for the
// core-relo region (magic, version, flags, hdr_len, func_info off/len,
// line_info off/len, core_relo off/len).
const ExtHeaderSize = 32

// CoreReloRecordSize is the only record size this package accepts for
// CO-RE relocation entries.
const CoreReloRecordSize = 16

// Header is the parsed .BTF fixed header.
type Header struct {
	Magic   uint16
	Version uint8
	Flags   uint8
	HdrLen  uint32
	TypeOff uint32
	TypeLen uint32
	StrOff  uint32
	StrLen  uint32
}

// ExtHeader is the parsed .BTF.ext fixed header.
type ExtHeader struct {
	Magic        uint16
	Version      uint8
	Flags        uint8
	HdrLen       uint32
	FuncInfoOff  uint32
	FuncInfoLen  uint32
	LineInfoOff  uint32
	LineInfoLen  uint32
	CoreReloOff  uint32
	CoreReloLen  uint32
}

// Kind is the closed set of 19 BTF type kinds, matching the kernel's
// BTF_KIND_* enumeration.
type Kind uint8

const (
	KindInt      Kind = 1
	KindPtr      Kind = 2
	KindArray    Kind = 3
	KindStruct   Kind = 4
	KindUnion    Kind = 5
	KindEnum     Kind = 6
	KindFwd      Kind = 7
	KindTypedef  Kind = 8
	KindVolatile Kind = 9
	KindConst    Kind = 10
	KindRestrict Kind = 11
	KindFunc     Kind = 12
	KindFuncProto Kind = 13
	KindVar      Kind = 14
	KindDataSec  Kind = 15
	KindFloat    Kind = 16
	KindDeclTag  Kind = 17
	KindTypeTag  Kind = 18
	KindEnum64   Kind = 19
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "INT"
	case KindPtr:
		return "PTR"
	case KindArray:
		return "ARRAY"
	case KindStruct:
		return "STRUCT"
	case KindUnion:
		return "UNION"
	case KindEnum:
		return "ENUM"
	case KindFwd:
		return "FWD"
	case KindTypedef:
		return "TYPEDEF"
	case KindVolatile:
		return "VOLATILE"
	case KindConst:
		return "CONST"
	case KindRestrict:
		return "RESTRICT"
	case KindFunc:
		return "FUNC"
	case KindFuncProto:
		return "FUNC_PROTO"
	case KindVar:
		return "VAR"
	case KindDataSec:
		return "DATASEC"
	case KindFloat:
		return "FLOAT"
	case KindDeclTag:
		return "DECL_TAG"
	case KindTypeTag:
		return "TYPE_TAG"
	case KindEnum64:
		return "ENUM64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

func isKnownKind(k uint8) bool {
	switch Kind(k) {
	case KindInt, KindPtr, KindArray, KindStruct, KindUnion, KindEnum, KindFwd,
		KindTypedef, KindVolatile, KindConst, KindRestrict, KindFunc, KindFuncProto,
		KindVar, KindDataSec, KindFloat, KindDeclTag, KindTypeTag, KindEnum64:
		return true
	default:
		return false
	}
}

// Member is a BtfMember: one field of a Struct or Union type. Offset is
// the raw 32-bit word as stored on disk; see BitOffset/BitSize for the
// kind-flag-dependent decomposition described in spec.md §3.
type Member struct {
	NameOff uint32
	Type    uint32
	Offset  uint32
}

// BitOffset returns the field's bit offset, decoding the bitfield encoding
// used when the enclosing type has KindFlag set: low 24 bits are the bit
// offset, high 8 bits are the bit size. When kindFlag is false, Offset is
// itself the bit offset.
func (m Member) BitOffset(kindFlag bool) uint32 {
	if !kindFlag {
		return m.Offset
	}
	return m.Offset & 0xFFFFFF
}

// BitSize returns the field's bit size when the enclosing type has
// KindFlag set, or 0 (meaning "not a bitfield") otherwise.
func (m Member) BitSize(kindFlag bool) uint8 {
	if !kindFlag {
		return 0
	}
	return uint8(m.Offset >> 24)
}

// Enumerator is one value of an Enum type.
type Enumerator struct {
	NameOff uint32
	Value   int32
}

// Enumerator64 is one value of an Enum64 type.
type Enumerator64 struct {
	NameOff  uint32
	ValueLo  uint32
	ValueHi  uint32
}

// Param is one parameter of a FuncProto type.
type Param struct {
	NameOff uint32
	Type    uint32
}

// VarSecInfo is one entry of a DataSec type.
type VarSecInfo struct {
	Type   uint32
	Offset uint32
	Size   uint32
}

// Type is a single BtfType record. Which of Members/Enumerators/
// Enumerators64/Params/VarSecInfos/ArrayType/ArrayIndexType/ArrayNumElems
// is populated depends on Kind; see the payload table in spec.md §4.3.
type Type struct {
	NameOff    uint32
	Kind       Kind
	KindFlag   bool
	VLen       uint16
	SizeOrType uint32

	Members       []Member
	Enumerators   []Enumerator
	Enumerators64 []Enumerator64
	Params        []Param
	VarSecInfos   []VarSecInfo

	ArrayType      uint32
	ArrayIndexType uint32
	ArrayNumElems  uint32
}

// Btf is a parsed .BTF blob. Types[0] is a synthetic void sentinel so
// natural 1-based type IDs index directly into Types; see spec.md §3.
type Btf struct {
	Header Header
	Strs   []byte
	Types  []Type
}

// Name resolves a BtfType's NameOff against the owning Btf's string
// section.
func (b *Btf) Name(nameOff uint32) (string, error) {
	return readString(b.Strs, nameOff)
}
