package elf

import (
	"fmt"

	"github.com/cilium-io/xdploader/pkg/byteview"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// Object owns the bytes of a parsed ELF64 little-endian object file. Every
// SectionHeader and Relocation it hands out borrows from those bytes; the
// Object must outlive anything derived from it. See spec.md §3 for the
// ElfObject invariants this type upholds.
type Object struct {
	data []byte
	view byteview.ByteView

	Header Header

	// sections maps section name to header. Duplicate names keep the
	// first occurrence; later ones are recorded in Warnings, per
	// spec.md §3/§4.2.
	sections map[string]SectionHeader
	order    []string

	// sectionIndex maps section name to its raw section-header-table
	// index, as referenced by Elf64_Sym.st_shndx.
	sectionIndex map[string]int

	Warnings []string
}

// Parse parses an ELF64 little-endian object from data. data is retained
// (not copied); the caller must not mutate it afterward.
func Parse(data []byte) (*Object, error) {
	v := byteview.New(data)

	hdr, err := parseIdentAndHeader(v)
	if err != nil {
		return nil, err
	}

	if int(hdr.ShEntSize) != SectionHeaderEntrySize {
		return nil, fmt.Errorf("e_shentsize %d != %d: %w", hdr.ShEntSize, SectionHeaderEntrySize, loaderr.ErrFormatMismatch)
	}

	rawHeaders, err := readRawSectionHeaders(v, hdr)
	if err != nil {
		return nil, err
	}

	if int(hdr.ShStrNdx) >= len(rawHeaders) {
		return nil, fmt.Errorf("e_shstrndx %d out of range (%d sections): %w", hdr.ShStrNdx, len(rawHeaders), loaderr.ErrOutOfBounds)
	}
	shstrtabHdr := rawHeaders[hdr.ShStrNdx]
	shstrtab, err := sliceSection(v, shstrtabHdr)
	if err != nil {
		return nil, fmt.Errorf("reading section name string table: %w", err)
	}

	o := &Object{
		data:         data,
		view:         v,
		Header:       hdr,
		sections:     make(map[string]SectionHeader, len(rawHeaders)),
		sectionIndex: make(map[string]int, len(rawHeaders)),
	}

	for i, raw := range rawHeaders {
		name, err := byteview.ReadCString(shstrtab, int(raw.nameOff))
		if err != nil {
			return nil, fmt.Errorf("reading section name: %w", err)
		}
		raw.hdr.Name = name

		if _, dup := o.sections[name]; dup {
			o.Warnings = append(o.Warnings, fmt.Sprintf("duplicate section name %q: retaining first occurrence", name))
			continue
		}

		o.sections[name] = raw.hdr
		o.sectionIndex[name] = i
		o.order = append(o.order, name)
	}

	return o, nil
}

type rawSectionHeader struct {
	hdr     SectionHeader
	nameOff uint32
}

func parseIdentAndHeader(v byteview.ByteView) (Header, error) {
	ident, err := v.ReadFixed(0, 16)
	if err != nil {
		return Header{}, fmt.Errorf("reading e_ident: %w", err)
	}

	if ident[0] != identMagic0 || ident[1] != identMagic1 || ident[2] != identMagic2 || ident[3] != identMagic3 {
		return Header{}, fmt.Errorf("bad magic %02x %02x %02x %02x: %w", ident[0], ident[1], ident[2], ident[3], loaderr.ErrNotAnElf)
	}
	if ident[4] != classELF64 {
		return Header{}, fmt.Errorf("unsupported ei_class %d (only ELFCLASS64 supported): %w", ident[4], loaderr.ErrNotAnElf)
	}
	if ident[5] != dataLittleEndian {
		return Header{}, fmt.Errorf("unsupported ei_data %d (only little-endian supported): %w", ident[5], loaderr.ErrNotAnElf)
	}

	fields, err := v.ReadFixed(16, HeaderSize-16)
	if err != nil {
		return Header{}, fmt.Errorf("reading elf header: %w", err)
	}
	fv := byteview.New(fields)

	var hdr Header
	u16 := func(off int) uint16 { x, _ := fv.ReadUint16(off); return x }
	u32 := func(off int) uint32 { x, _ := fv.ReadUint32(off); return x }
	u64 := func(off int) uint64 { x, _ := fv.ReadUint64(off); return x }

	hdr.Type = u16(0)
	hdr.Machine = u16(2)
	hdr.Version = u32(4)
	hdr.Entry = u64(8)
	hdr.PhOff = u64(16)
	hdr.ShOff = u64(24)
	hdr.Flags = u32(32)
	hdr.EhSize = u16(36)
	hdr.PhEntSize = u16(38)
	hdr.PhNum = u16(40)
	hdr.ShEntSize = u16(42)
	hdr.ShNum = u16(44)
	hdr.ShStrNdx = u16(46)

	return hdr, nil
}

func readRawSectionHeaders(v byteview.ByteView, hdr Header) ([]rawSectionHeader, error) {
	out := make([]rawSectionHeader, 0, hdr.ShNum)

	for i := 0; i < int(hdr.ShNum); i++ {
		off := int(hdr.ShOff) + i*SectionHeaderEntrySize
		b, err := v.ReadFixed(off, SectionHeaderEntrySize)
		if err != nil {
			return nil, fmt.Errorf("reading section header %d: %w", i, err)
		}
		fv := byteview.New(b)

		u32 := func(o int) uint32 { x, _ := fv.ReadUint32(o); return x }
		u64 := func(o int) uint64 { x, _ := fv.ReadUint64(o); return x }

		raw := rawSectionHeader{
			nameOff: u32(0),
			hdr: SectionHeader{
				Type:      u32(4),
				Flags:     u64(8),
				Addr:      u64(16),
				Offset:    u64(24),
				Size:      u64(32),
				Link:      u32(40),
				Info:      u32(44),
				AddrAlign: u64(48),
				EntSize:   u64(56),
			},
		}
		out = append(out, raw)
	}

	return out, nil
}

func sliceSection(v byteview.ByteView, h SectionHeader) ([]byte, error) {
	if h.Type == SHTNoBits {
		return nil, nil
	}
	return v.ReadFixed(int(h.Offset), int(h.Size))
}

// Section returns the header for name, and whether it was present.
func (o *Object) Section(name string) (SectionHeader, bool) {
	h, ok := o.sections[name]
	return h, ok
}

// SectionNames returns every section name in file order, duplicates
// excluded.
func (o *Object) SectionNames() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// SectionBody returns the bytes of the named section, or (nil, false) if
// the name is absent. Fails with loaderr.ErrOutOfBounds if the declared
// range exceeds the buffer.
func (o *Object) SectionBody(name string) ([]byte, bool, error) {
	h, ok := o.sections[name]
	if !ok {
		return nil, false, nil
	}
	b, err := sliceSection(o.view, h)
	if err != nil {
		return nil, true, fmt.Errorf("reading section %q body: %w", name, err)
	}
	return b, true, nil
}
