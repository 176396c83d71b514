package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// testSection describes one section for buildELF. Sections are emitted in
// the order given; a null (index 0) section and ".shstrtab" are added
// automatically.
type testSection struct {
	name string
	typ  uint32
	body []byte
}

// buildELF assembles a minimal well-formed ELF64 little-endian object with
// the given sections, suitable for exercising Parse without a real
// toolchain. Layout: header, section bodies (in order), shstrtab, section
// header table.
func buildELF(t *testing.T, sections []testSection) []byte {
	t.Helper()

	all := append([]testSection{{name: "", typ: SHTNull}}, sections...)

	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOffsets := make([]uint32, len(all))
	for i, s := range all {
		nameOffsets[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(s.name)
		shstrtab.WriteByte(0)
	}
	shstrtabNameOff := uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)

	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))

	type placed struct {
		off, size uint64
	}
	offsets := make([]placed, len(all))

	for i, s := range all {
		if len(s.body) == 0 {
			continue
		}
		offsets[i] = placed{off: uint64(buf.Len()), size: uint64(len(s.body))}
		buf.Write(s.body)
	}

	shstrtabOff := uint64(buf.Len())
	buf.Write(shstrtab.Bytes())
	shstrtabIdx := len(all)
	offsets = append(offsets, placed{off: shstrtabOff, size: uint64(shstrtab.Len())})

	shOff := uint64(buf.Len())
	totalSections := len(all) + 1 // + shstrtab

	writeShdr := func(nameOff uint32, typ uint32, off, size uint64) {
		var hdr [SectionHeaderEntrySize]byte
		binary.LittleEndian.PutUint32(hdr[0:], nameOff)
		binary.LittleEndian.PutUint32(hdr[4:], typ)
		binary.LittleEndian.PutUint64(hdr[24:], off)
		binary.LittleEndian.PutUint64(hdr[32:], size)
		buf.Write(hdr[:])
	}

	for i, s := range all {
		writeShdr(nameOffsets[i], s.typ, offsets[i].off, offsets[i].size)
	}
	writeShdr(shstrtabNameOff, SHTStrTab, offsets[shstrtabIdx].off, offsets[shstrtabIdx].size)

	out := buf.Bytes()

	// Patch the ELF header now that offsets are known.
	hdr := out[:HeaderSize]
	hdr[0], hdr[1], hdr[2], hdr[3] = identMagic0, identMagic1, identMagic2, identMagic3
	hdr[4] = classELF64
	hdr[5] = dataLittleEndian
	binary.LittleEndian.PutUint64(hdr[16+24:], shOff) // e_shoff at ehdr offset 40 => 16(ident)+24
	binary.LittleEndian.PutUint16(hdr[16+42:], SectionHeaderEntrySize)
	binary.LittleEndian.PutUint16(hdr[16+44:], uint16(totalSections))
	binary.LittleEndian.PutUint16(hdr[16+46:], uint16(shstrtabIdx))

	return out
}

func TestParseMalformedMagic(t *testing.T) {
	data := []byte{0x7F, 'E', 'L', '?'}
	data = append(data, make([]byte, 60)...)

	_, err := Parse(data)
	require.ErrorIs(t, err, loaderr.ErrNotAnElf)
}

func TestParseSectionsRoundTrip(t *testing.T) {
	data := buildELF(t, []testSection{
		{name: "xdp", typ: SHTProgBits, body: []byte{0xb7, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
		{name: "license", typ: SHTProgBits, body: []byte("GPL\x00")},
	})

	obj, err := Parse(data)
	require.NoError(t, err)

	xdp, ok := obj.Section("xdp")
	require.True(t, ok)
	require.Equal(t, uint64(8), xdp.Size)
	require.LessOrEqual(t, xdp.Offset+xdp.Size, uint64(len(data)))

	lic, ok := obj.Section("license")
	require.True(t, ok)

	body, present, err := obj.SectionBody("license")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, "GPL\x00", string(body))

	// Round-trip: re-slicing the original bytes at the reported region
	// matches the section body exactly.
	require.Equal(t, data[lic.Offset:lic.Offset+lic.Size], body)

	_, present, err = obj.SectionBody("nonexistent")
	require.NoError(t, err)
	require.False(t, present)
}

func TestParseDuplicateSectionNamesKeepsFirst(t *testing.T) {
	data := buildELF(t, []testSection{
		{name: "maps", typ: SHTProgBits, body: []byte{1, 2, 3, 4}},
		{name: "maps", typ: SHTProgBits, body: []byte{5, 6, 7, 8}},
	})

	obj, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, obj.Warnings, 1)

	body, present, err := obj.SectionBody("maps")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, []byte{1, 2, 3, 4}, body)
}

func TestDecodeRelocationsDropsUnknownKinds(t *testing.T) {
	var buf bytes.Buffer

	writeRel := func(offset uint64, kind, sym uint32) {
		var b [RelEntrySize]byte
		binary.LittleEndian.PutUint64(b[0:], offset)
		info := uint64(sym)<<32 | uint64(kind)
		binary.LittleEndian.PutUint64(b[8:], info)
		buf.Write(b[:])
	}

	writeRel(0, uint32(RelocBPF6464), 3)
	writeRel(16, 0xFF, 7) // unknown kind, dropped
	writeRel(32, uint32(RelocBPF64ABS32), 2)

	relocs, err := Decode(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, relocs, 2)
	require.Equal(t, RelocBPF6464, relocs[0].Kind)
	require.Equal(t, uint32(3), relocs[0].Symbol)
	require.Equal(t, RelocBPF64ABS32, relocs[1].Kind)
}
