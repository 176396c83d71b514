package reloc

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium-io/xdploader/pkg/btf"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// ApplyCoreRelocations rewrites insns in place for every CoreRelo in sec,
// resolving each against progBtf (the field being accessed) and kernBtf
// (the running kernel's layout for that same struct/field, found by
// name). Only FIELD_BYTE_OFFSET is applied; any other kind surfaces
// loaderr.ErrUnimplemented. A struct or field absent from kernBtf
// surfaces loaderr.ErrUnresolvedCoreRelo rather than being skipped.
func ApplyCoreRelocations(insns []byte, sec btf.CoreReloSection, progBtf, kernBtf *btf.Btf) error {
	for _, r := range sec.Relos {
		if r.Kind != btf.CoreFieldByteOffset {
			return fmt.Errorf("core relocation kind %s at insn_off %d: %w", r.Kind, r.InsnOff, loaderr.ErrUnimplemented)
		}

		if err := applyFieldByteOffset(insns, r, progBtf, kernBtf); err != nil {
			return err
		}
	}
	return nil
}

func applyFieldByteOffset(insns []byte, r btf.CoreRelo, progBtf, kernBtf *btf.Btf) error {
	accessStr, err := progBtf.Name(r.AccessStrOff)
	if err != nil {
		return fmt.Errorf("reading access string for core relocation at insn_off %d: %w", r.InsnOff, err)
	}
	if len(accessStr) < 2 {
		return fmt.Errorf("access string %q too short for field index: %w", accessStr, loaderr.ErrFormatMismatch)
	}
	if len(accessStr) > 2 {
		// Anything past the root accessor and one field-index digit is a
		// nested access path (e.g. ".a.b"); spec.md §9 leaves that
		// unsupported rather than silently reading only the outer field.
		return fmt.Errorf("access string %q encodes nested field access, unsupported: %w", accessStr, loaderr.ErrUnimplemented)
	}
	fieldIdx := int(accessStr[1] - '0')
	if fieldIdx < 0 || fieldIdx > 9 {
		return fmt.Errorf("access string %q's field-index character is not a decimal digit: %w", accessStr, loaderr.ErrFormatMismatch)
	}

	if int(r.TypeID) >= len(progBtf.Types) {
		return fmt.Errorf("core relocation type_id %d out of range: %w", r.TypeID, loaderr.ErrOutOfBounds)
	}
	structType := progBtf.Types[r.TypeID]
	if structType.Kind != btf.KindStruct {
		return fmt.Errorf("core relocation type_id %d is %s, not STRUCT: %w", r.TypeID, structType.Kind, loaderr.ErrUnresolvedCoreRelo)
	}
	if fieldIdx >= len(structType.Members) {
		return fmt.Errorf("core relocation field index %d out of range for struct with %d members: %w", fieldIdx, len(structType.Members), loaderr.ErrOutOfBounds)
	}

	structName, err := progBtf.Name(structType.NameOff)
	if err != nil {
		return fmt.Errorf("resolving struct name: %w", err)
	}
	field := structType.Members[fieldIdx]
	fieldName, err := progBtf.Name(field.NameOff)
	if err != nil {
		return fmt.Errorf("resolving field name: %w", err)
	}

	kernStruct, ok := findStructByName(kernBtf, structName)
	if !ok {
		return fmt.Errorf("struct %q not found in kernel BTF: %w", structName, loaderr.ErrUnresolvedCoreRelo)
	}
	kernField, ok := findMemberByName(kernBtf, kernStruct, fieldName)
	if !ok {
		return fmt.Errorf("field %q not found in kernel struct %q: %w", fieldName, structName, loaderr.ErrUnresolvedCoreRelo)
	}

	progOffBits := field.BitOffset(structType.KindFlag)
	kernOffBits := kernField.BitOffset(kernStruct.KindFlag)

	if progOffBits == kernOffBits {
		return nil
	}

	off := int(r.InsnOff) + 2
	if off+2 > len(insns) {
		return fmt.Errorf("core relocation displacement at byte %d exceeds instruction buffer of %d bytes: %w", off, len(insns), loaderr.ErrOutOfBounds)
	}

	disp := int16(kernOffBits / 8)
	binary.LittleEndian.PutUint16(insns[off:off+2], uint16(disp))

	return nil
}

func findStructByName(b *btf.Btf, name string) (btf.Type, bool) {
	for i, t := range b.Types {
		if i == 0 || t.Kind != btf.KindStruct {
			continue
		}
		n, err := b.Name(t.NameOff)
		if err == nil && n == name {
			return t, true
		}
	}
	return btf.Type{}, false
}

func findMemberByName(b *btf.Btf, st btf.Type, name string) (btf.Member, bool) {
	for _, m := range st.Members {
		n, err := b.Name(m.NameOff)
		if err == nil && n == name {
			return m, true
		}
	}
	return btf.Member{}, false
}
