package btf

import (
	"fmt"

	"github.com/cilium-io/xdploader/pkg/byteview"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

func readString(table []byte, off uint32) (string, error) {
	return byteview.ReadCString(table, int(off))
}

// Parse parses a .BTF blob. data is retained (not copied); the returned
// Btf's Strs field aliases into it.
func Parse(data []byte) (*Btf, error) {
	v := byteview.New(data)

	hdr, err := parseHeader(v)
	if err != nil {
		return nil, err
	}

	typeSecStart := int(hdr.HdrLen) + int(hdr.TypeOff)
	typeSecEnd := typeSecStart + int(hdr.TypeLen)
	strSecStart := int(hdr.HdrLen) + int(hdr.StrOff)
	strSecEnd := strSecStart + int(hdr.StrLen)

	if typeSecEnd > v.Len() || strSecEnd > v.Len() {
		return nil, fmt.Errorf("type/string section extends past buffer (type end %d, str end %d, buffer len %d): %w",
			typeSecEnd, strSecEnd, v.Len(), loaderr.ErrOutOfBounds)
	}

	strs, err := v.ReadFixed(strSecStart, strSecEnd-strSecStart)
	if err != nil {
		return nil, fmt.Errorf("slicing string section: %w", err)
	}

	types := []Type{{}} // index 0: synthetic void sentinel

	cursor := typeSecStart
	for cursor < typeSecEnd {
		t, next, err := parseOneType(v, cursor, typeSecEnd)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
		cursor = next
	}

	if cursor != typeSecEnd {
		return nil, fmt.Errorf("type section cursor %d != declared end %d: %w", cursor, typeSecEnd, loaderr.ErrFormatMismatch)
	}

	for i, t := range types {
		if err := checkTypeReferences(t, len(types)); err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
	}

	return &Btf{Header: hdr, Strs: strs, Types: types}, nil
}

func parseHeader(v byteview.ByteView) (Header, error) {
	magic, err := v.ReadUint16(0)
	if err != nil {
		return Header{}, fmt.Errorf("reading BTF magic: %w", err)
	}
	if magic != Magic {
		return Header{}, fmt.Errorf("magic %#x != %#x: %w", magic, Magic, loaderr.ErrNotBtf)
	}

	b, err := v.ReadFixed(0, HeaderSize)
	if err != nil {
		return Header{}, fmt.Errorf("reading BTF header: %w", err)
	}
	fv := byteview.New(b)

	var hdr Header
	hdr.Magic = magic
	hdr.Version = b[2]
	hdr.Flags = b[3]
	hdr.HdrLen, _ = fv.ReadUint32(4)
	hdr.TypeOff, _ = fv.ReadUint32(8)
	hdr.TypeLen, _ = fv.ReadUint32(12)
	hdr.StrOff, _ = fv.ReadUint32(16)
	hdr.StrLen, _ = fv.ReadUint32(20)

	if int(hdr.HdrLen) != HeaderSize {
		return Header{}, fmt.Errorf("hdr_len %d != %d: %w", hdr.HdrLen, HeaderSize, loaderr.ErrFormatMismatch)
	}

	return hdr, nil
}

// parseOneType reads the common 12-byte prefix at offset, followed by the
// kind-specific payload, returning the decoded Type and the offset of the
// next record. end bounds the type section for payload-length checks.
func parseOneType(v byteview.ByteView, offset, end int) (Type, int, error) {
	prefix, err := v.ReadFixed(offset, 12)
	if err != nil {
		return Type{}, 0, fmt.Errorf("reading type prefix at %d: %w", offset, err)
	}
	pv := byteview.New(prefix)

	nameOff, _ := pv.ReadUint32(0)
	info, _ := pv.ReadUint32(4)
	sizeOrType, _ := pv.ReadUint32(8)

	vlen := uint16(info & 0xFFFF)
	kindCode := uint8((info >> 24) & 0x1F)
	kindFlag := (info>>31)&0x1 == 1

	if !isKnownKind(kindCode) {
		return Type{}, 0, fmt.Errorf("type at offset %d has unknown kind %d: %w", offset, kindCode, loaderr.ErrUnknownKind)
	}
	kind := Kind(kindCode)

	t := Type{
		NameOff:    nameOff,
		Kind:       kind,
		KindFlag:   kindFlag,
		VLen:       vlen,
		SizeOrType: sizeOrType,
	}

	cursor := offset + 12

	readEntries := func(stride int, fn func(b []byte) error) error {
		n := int(vlen) * stride
		body, err := v.ReadFixed(cursor, n)
		if err != nil {
			return fmt.Errorf("reading %s payload at %d: %w", kind, cursor, err)
		}
		for i := 0; i < int(vlen); i++ {
			if err := fn(body[i*stride : (i+1)*stride]); err != nil {
				return err
			}
		}
		cursor += n
		return nil
	}

	switch kind {
	case KindInt, KindVar, KindDeclTag:
		cursor += 4
		if cursor > end {
			return Type{}, 0, fmt.Errorf("%s payload at %d exceeds type section end %d: %w", kind, offset, end, loaderr.ErrFormatMismatch)
		}
	case KindArray:
		body, err := v.ReadFixed(cursor, 12)
		if err != nil {
			return Type{}, 0, fmt.Errorf("reading ARRAY payload at %d: %w", cursor, err)
		}
		bv := byteview.New(body)
		t.ArrayType, _ = bv.ReadUint32(0)
		t.ArrayIndexType, _ = bv.ReadUint32(4)
		t.ArrayNumElems, _ = bv.ReadUint32(8)
		cursor += 12
	case KindStruct, KindUnion:
		err := readEntries(12, func(b []byte) error {
			bv := byteview.New(b)
			no, _ := bv.ReadUint32(0)
			ty, _ := bv.ReadUint32(4)
			off, _ := bv.ReadUint32(8)
			t.Members = append(t.Members, Member{NameOff: no, Type: ty, Offset: off})
			return nil
		})
		if err != nil {
			return Type{}, 0, err
		}
	case KindEnum:
		err := readEntries(8, func(b []byte) error {
			bv := byteview.New(b)
			no, _ := bv.ReadUint32(0)
			val, _ := bv.ReadUint32(4)
			t.Enumerators = append(t.Enumerators, Enumerator{NameOff: no, Value: int32(val)})
			return nil
		})
		if err != nil {
			return Type{}, 0, err
		}
	case KindEnum64:
		err := readEntries(12, func(b []byte) error {
			bv := byteview.New(b)
			no, _ := bv.ReadUint32(0)
			lo, _ := bv.ReadUint32(4)
			hi, _ := bv.ReadUint32(8)
			t.Enumerators64 = append(t.Enumerators64, Enumerator64{NameOff: no, ValueLo: lo, ValueHi: hi})
			return nil
		})
		if err != nil {
			return Type{}, 0, err
		}
	case KindFuncProto:
		err := readEntries(8, func(b []byte) error {
			bv := byteview.New(b)
			no, _ := bv.ReadUint32(0)
			ty, _ := bv.ReadUint32(4)
			t.Params = append(t.Params, Param{NameOff: no, Type: ty})
			return nil
		})
		if err != nil {
			return Type{}, 0, err
		}
	case KindDataSec:
		err := readEntries(12, func(b []byte) error {
			bv := byteview.New(b)
			ty, _ := bv.ReadUint32(0)
			off, _ := bv.ReadUint32(4)
			sz, _ := bv.ReadUint32(8)
			t.VarSecInfos = append(t.VarSecInfos, VarSecInfo{Type: ty, Offset: off, Size: sz})
			return nil
		})
		if err != nil {
			return Type{}, 0, err
		}
	case KindPtr, KindFwd, KindTypedef, KindVolatile, KindConst, KindRestrict, KindFunc, KindFloat, KindTypeTag:
		// No payload beyond the 12-byte common prefix.
	}

	if cursor > end {
		return Type{}, 0, fmt.Errorf("%s record at %d exceeds type section end %d: %w", kind, offset, end, loaderr.ErrFormatMismatch)
	}

	return t, cursor, nil
}

// checkTypeReferences validates that any type index a record refers to is
// in range, per spec.md invariant 2.
func checkTypeReferences(t Type, numTypes int) error {
	checkRef := func(id uint32) error {
		if int(id) >= numTypes {
			return fmt.Errorf("referenced type id %d >= %d types: %w", id, numTypes, loaderr.ErrOutOfBounds)
		}
		return nil
	}

	switch t.Kind {
	case KindPtr, KindTypedef, KindVolatile, KindConst, KindRestrict, KindFunc, KindTypeTag, KindVar, KindDeclTag:
		if t.SizeOrType != 0 {
			if err := checkRef(t.SizeOrType); err != nil {
				return err
			}
		}
	case KindArray:
		if err := checkRef(t.ArrayType); err != nil {
			return err
		}
		if err := checkRef(t.ArrayIndexType); err != nil {
			return err
		}
	case KindStruct, KindUnion:
		for _, m := range t.Members {
			if err := checkRef(m.Type); err != nil {
				return err
			}
		}
	case KindFuncProto:
		for _, p := range t.Params {
			if p.Type != 0 {
				if err := checkRef(p.Type); err != nil {
					return err
				}
			}
		}
		if t.SizeOrType != 0 {
			if err := checkRef(t.SizeOrType); err != nil {
				return err
			}
		}
	case KindDataSec:
		for _, s := range t.VarSecInfos {
			if err := checkRef(s.Type); err != nil {
				return err
			}
		}
	}

	return nil
}
