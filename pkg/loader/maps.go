package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium-io/xdploader/pkg/bpfsys"
	"github.com/cilium-io/xdploader/pkg/elf"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// mapSpecSize is the byte size of one map declaration record in the
// "maps" section: type, key_size, value_size, max_entries, each a
// little-endian uint32, grounded on bobbydeveaux-starbucks-mugs's
// parseMapsSection (which reads the same four leading fields before its
// BTF-specific map_flags word, unneeded here since spec.md names no
// per-map flags).
const mapSpecSize = 16

// mapSpec is one parsed "maps" section entry, matched to its declaring
// symbol so relocations (which reference symbol index) can be resolved.
type mapSpec struct {
	symbolIndex int
	name        string
	typ         bpfsys.MapType
	keySize     uint32
	valueSize   uint32
	maxEntries  uint32
}

// mapSectionNames are the section names this loader recognizes as map
// declarations, matching both the legacy convention ("maps") and the
// libbpf BTF-defined-maps convention (".maps").
var mapSectionNames = []string{"maps", ".maps"}

// parseMapSpecs reads every map declared in obj's "maps"/".maps" section,
// matching each to the STT_OBJECT symbol whose value falls at its offset,
// per spec.md §4.6 step 3.
func parseMapSpecs(obj *elf.Object) ([]mapSpec, error) {
	var secName string
	var body []byte

	for _, candidate := range mapSectionNames {
		b, ok, err := obj.SectionBody(candidate)
		if err != nil {
			return nil, err
		}
		if ok {
			secName = candidate
			body = b
			break
		}
	}
	if secName == "" {
		return nil, nil
	}

	secIdx, ok := obj.SectionIndex(secName)
	if !ok {
		return nil, fmt.Errorf("section %q has no index", secName)
	}

	syms, err := obj.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}

	var specs []mapSpec
	for i, sym := range syms {
		if int(sym.Shndx) != secIdx {
			continue
		}
		if sym.Info&0xf != 1 { // STT_OBJECT
			continue
		}
		if sym.Size < mapSpecSize {
			continue
		}

		off := int(sym.Value)
		if off+mapSpecSize > len(body) {
			return nil, fmt.Errorf("map symbol %q at offset %d exceeds %q section of %d bytes: %w", sym.Name, off, secName, len(body), loaderr.ErrOutOfBounds)
		}

		rec := body[off : off+mapSpecSize]
		specs = append(specs, mapSpec{
			symbolIndex: i,
			name:        sym.Name,
			typ:         bpfsys.MapType(binary.LittleEndian.Uint32(rec[0:4])),
			keySize:     binary.LittleEndian.Uint32(rec[4:8]),
			valueSize:   binary.LittleEndian.Uint32(rec[8:12]),
			maxEntries:  binary.LittleEndian.Uint32(rec[12:16]),
		})
	}

	return specs, nil
}
