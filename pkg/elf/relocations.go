package elf

import (
	"fmt"

	"github.com/cilium-io/xdploader/pkg/byteview"
)

// Relocations decodes the relocation section named name (conventionally
// ".rel" + target-section-name) into a list of Relocation records.
// Unknown relocation kinds are dropped silently per spec.md §4.2 — the
// kernel verifier will reject any remaining unresolved reference.
func (o *Object) Relocations(name string) ([]Relocation, bool, error) {
	body, ok, err := o.SectionBody(name)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	decoded, err := Decode(body)
	if err != nil {
		return nil, true, fmt.Errorf("decoding relocation section %q: %w", name, err)
	}
	return decoded, true, nil
}

// Decode iterates a buffer of Elf64_Rel entries (RelEntrySize-byte
// strides) and returns the decoded Relocation records. Entries whose kind
// falls outside the closed RelocKind set are dropped, not returned, and do
// not cause an error.
func Decode(body []byte) ([]Relocation, error) {
	if len(body)%RelEntrySize != 0 {
		return nil, fmt.Errorf("relocation section size %d is not a multiple of %d", len(body), RelEntrySize)
	}

	v := byteview.New(body)
	count := len(body) / RelEntrySize

	out := make([]Relocation, 0, count)
	for i := 0; i < count; i++ {
		base := i * RelEntrySize

		rOffset, err := v.ReadUint64(base)
		if err != nil {
			return nil, fmt.Errorf("reading r_offset of entry %d: %w", i, err)
		}
		rInfo, err := v.ReadUint64(base + 8)
		if err != nil {
			return nil, fmt.Errorf("reading r_info of entry %d: %w", i, err)
		}

		kindCode := uint32(rInfo)
		symbol := uint32(rInfo >> 32)

		kind, known := knownRelocKinds(kindCode)
		if !known {
			// Unknown kind: silently dropped, per spec.md §4.2.
			continue
		}

		out = append(out, Relocation{
			Offset: rOffset,
			Kind:   kind,
			Symbol: symbol,
		})
	}

	return out, nil
}
