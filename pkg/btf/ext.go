package btf

import (
	"fmt"

	"github.com/cilium-io/xdploader/pkg/byteview"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// CoreKind is the closed set of 13 CO-RE relocation kinds. Only
// CoreFieldByteOffset is applied by pkg/reloc; the rest are recognized but
// surface loaderr.ErrUnimplemented if encountered, per spec.md §4.4.2.
type CoreKind uint32

const (
	CoreFieldByteOffset CoreKind = 0
	CoreFieldByteSize   CoreKind = 1
	CoreFieldExists     CoreKind = 2
	CoreFieldSigned     CoreKind = 3
	CoreFieldLShiftU64  CoreKind = 4
	CoreFieldRShiftU64  CoreKind = 5
	CoreTypeIDLocal     CoreKind = 6
	CoreTypeIDTarget    CoreKind = 7
	CoreTypeExists      CoreKind = 8
	CoreTypeSize        CoreKind = 9
	CoreEnumvalExists   CoreKind = 10
	CoreEnumvalValue    CoreKind = 11
	CoreTypeMatches     CoreKind = 12
)

func (k CoreKind) String() string {
	switch k {
	case CoreFieldByteOffset:
		return "FIELD_BYTE_OFFSET"
	case CoreFieldByteSize:
		return "FIELD_BYTE_SIZE"
	case CoreFieldExists:
		return "FIELD_EXISTS"
	case CoreFieldSigned:
		return "FIELD_SIGNED"
	case CoreFieldLShiftU64:
		return "FIELD_LSHIFT_U64"
	case CoreFieldRShiftU64:
		return "FIELD_RSHIFT_U64"
	case CoreTypeIDLocal:
		return "TYPE_ID_LOCAL"
	case CoreTypeIDTarget:
		return "TYPE_ID_TARGET"
	case CoreTypeExists:
		return "TYPE_EXISTS"
	case CoreTypeSize:
		return "TYPE_SIZE"
	case CoreEnumvalExists:
		return "ENUMVAL_EXISTS"
	case CoreEnumvalValue:
		return "ENUMVAL_VALUE"
	case CoreTypeMatches:
		return "TYPE_MATCHES"
	default:
		return fmt.Sprintf("CORE_UNKNOWN(%d)", uint32(k))
	}
}

func isKnownCoreKind(k uint32) bool {
	return k <= uint32(CoreTypeMatches)
}

// CoreRelo is one CO-RE relocation record, per spec.md §3.
type CoreRelo struct {
	InsnOff       uint32
	TypeID        uint32
	AccessStrOff  uint32
	Kind          CoreKind
}

// CoreReloSection groups the CoreRelo records that apply to one named ELF
// section.
type CoreReloSection struct {
	SecNameOff uint32
	Relos      []CoreRelo
}

// BtfExt is a parsed .BTF.ext blob, exposing only the CO-RE relocation
// region; func-info and line-info are validated for declared-size-fits
// but never materialized, per spec.md §9.
type BtfExt struct {
	Header     ExtHeader
	CoreRelos  []CoreReloSection
}

// ParseExt parses a .BTF.ext blob.
func ParseExt(data []byte) (*BtfExt, error) {
	v := byteview.New(data)

	hdr, err := parseExtHeader(v)
	if err != nil {
		return nil, err
	}

	if err := validateExtRegion(v, hdr, int(hdr.FuncInfoOff), int(hdr.FuncInfoLen), "func_info"); err != nil {
		return nil, err
	}
	if err := validateExtRegion(v, hdr, int(hdr.LineInfoOff), int(hdr.LineInfoLen), "line_info"); err != nil {
		return nil, err
	}

	coreStart := int(hdr.HdrLen) + int(hdr.CoreReloOff)
	coreEnd := coreStart + int(hdr.CoreReloLen)
	if coreEnd > v.Len() {
		return nil, fmt.Errorf("core_relo region [%d,%d) exceeds buffer len %d: %w", coreStart, coreEnd, v.Len(), loaderr.ErrOutOfBounds)
	}

	sections, err := parseCoreRelos(v, coreStart, coreEnd)
	if err != nil {
		return nil, err
	}

	return &BtfExt{Header: hdr, CoreRelos: sections}, nil
}

func parseExtHeader(v byteview.ByteView) (ExtHeader, error) {
	magic, err := v.ReadUint16(0)
	if err != nil {
		return ExtHeader{}, fmt.Errorf("reading BTF.ext magic: %w", err)
	}
	if magic != Magic {
		return ExtHeader{}, fmt.Errorf("magic %#x != %#x: %w", magic, Magic, loaderr.ErrNotBtf)
	}

	b, err := v.ReadFixed(0, ExtHeaderSize)
	if err != nil {
		return ExtHeader{}, fmt.Errorf("reading BTF.ext header: %w", err)
	}
	fv := byteview.New(b)

	var hdr ExtHeader
	hdr.Magic = magic
	hdr.Version = b[2]
	hdr.Flags = b[3]
	hdr.HdrLen, _ = fv.ReadUint32(4)
	hdr.FuncInfoOff, _ = fv.ReadUint32(8)
	hdr.FuncInfoLen, _ = fv.ReadUint32(12)
	hdr.LineInfoOff, _ = fv.ReadUint32(16)
	hdr.LineInfoLen, _ = fv.ReadUint32(20)
	hdr.CoreReloOff, _ = fv.ReadUint32(24)
	hdr.CoreReloLen, _ = fv.ReadUint32(28)

	if int(hdr.HdrLen) != ExtHeaderSize {
		return ExtHeader{}, fmt.Errorf("hdr_len %d != %d: %w", hdr.HdrLen, ExtHeaderSize, loaderr.ErrFormatMismatch)
	}

	return hdr, nil
}

func validateExtRegion(v byteview.ByteView, hdr ExtHeader, off, length int, name string) error {
	start := int(hdr.HdrLen) + off
	end := start + length
	if end > v.Len() {
		return fmt.Errorf("%s region [%d,%d) exceeds buffer len %d: %w", name, start, end, v.Len(), loaderr.ErrOutOfBounds)
	}
	return nil
}

func parseCoreRelos(v byteview.ByteView, start, end int) ([]CoreReloSection, error) {
	recSize, err := v.ReadUint32(start)
	if err != nil {
		return nil, fmt.Errorf("reading core_relo record size: %w", err)
	}
	if recSize != CoreReloRecordSize {
		return nil, fmt.Errorf("core_relo record size %d != %d: %w", recSize, CoreReloRecordSize, loaderr.ErrFormatMismatch)
	}

	cursor := start + 4
	var sections []CoreReloSection

	for cursor < end {
		secNameOff, err := v.ReadUint32(cursor)
		if err != nil {
			return nil, fmt.Errorf("reading core_relo section name offset: %w", err)
		}
		count, err := v.ReadUint32(cursor + 4)
		if err != nil {
			return nil, fmt.Errorf("reading core_relo count: %w", err)
		}
		cursor += 8

		sec := CoreReloSection{SecNameOff: secNameOff}
		for i := uint32(0); i < count; i++ {
			body, err := v.ReadFixed(cursor, CoreReloRecordSize)
			if err != nil {
				return nil, fmt.Errorf("reading core_relo entry %d: %w", i, err)
			}
			bv := byteview.New(body)

			insnOff, _ := bv.ReadUint32(0)
			typeID, _ := bv.ReadUint32(4)
			accessStrOff, _ := bv.ReadUint32(8)
			kindCode, _ := bv.ReadUint32(12)

			if !isKnownCoreKind(kindCode) {
				return nil, fmt.Errorf("core_relo kind %d unknown: %w", kindCode, loaderr.ErrUnknownKind)
			}

			sec.Relos = append(sec.Relos, CoreRelo{
				InsnOff:      insnOff,
				TypeID:       typeID,
				AccessStrOff: accessStrOff,
				Kind:         CoreKind(kindCode),
			})
			cursor += CoreReloRecordSize
		}

		sections = append(sections, sec)
	}

	if cursor != end {
		return nil, fmt.Errorf("core_relo cursor %d != declared end %d: %w", cursor, end, loaderr.ErrFormatMismatch)
	}

	return sections, nil
}
