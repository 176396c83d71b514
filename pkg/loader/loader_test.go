package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cilium-io/xdploader/pkg/bpfsys"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// --- minimal ELF64 builder, mirroring pkg/elf's own test fixture builder
// so loader tests can assemble objects with symtab/strtab/relocation
// sections without a real toolchain. ---

const (
	testHeaderSize             = 64
	testSectionHeaderEntrySize = 64
	testIdentMagic0            = 0x7F
	testClassELF64             = 2
	testDataLittleEndian       = 1
	testSHTNull                = 0
	testSHTProgBits            = 1
	testSHTSymTab              = 2
	testSHTStrTab              = 3
	testSHTRel                 = 9
)

type testSection struct {
	name string
	typ  uint32
	body []byte
}

func buildTestELF(t *testing.T, sections []testSection) []byte {
	t.Helper()

	all := append([]testSection{{name: "", typ: testSHTNull}}, sections...)

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
	buf.Write(make([]byte, testHeaderSize))

	type placed struct{ off, size uint64 }
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
	totalSections := len(all) + 1

	writeShdr := func(nameOff uint32, typ uint32, off, size uint64) {
		var hdr [testSectionHeaderEntrySize]byte
		binary.LittleEndian.PutUint32(hdr[0:], nameOff)
		binary.LittleEndian.PutUint32(hdr[4:], typ)
		binary.LittleEndian.PutUint64(hdr[24:], off)
		binary.LittleEndian.PutUint64(hdr[32:], size)
		buf.Write(hdr[:])
	}

	for i, s := range all {
		writeShdr(nameOffsets[i], s.typ, offsets[i].off, offsets[i].size)
	}
	writeShdr(shstrtabNameOff, testSHTStrTab, offsets[shstrtabIdx].off, offsets[shstrtabIdx].size)

	out := buf.Bytes()

	hdr := out[:testHeaderSize]
	hdr[0], hdr[1], hdr[2], hdr[3] = testIdentMagic0, 'E', 'L', 'F'
	hdr[4] = testClassELF64
	hdr[5] = testDataLittleEndian
	binary.LittleEndian.PutUint64(hdr[16+24:], shOff)
	binary.LittleEndian.PutUint16(hdr[16+42:], testSectionHeaderEntrySize)
	binary.LittleEndian.PutUint16(hdr[16+44:], uint16(totalSections))
	binary.LittleEndian.PutUint16(hdr[16+46:], uint16(shstrtabIdx))

	return out
}

// buildSym encodes one Elf64_Sym record.
func buildSym(nameOff uint32, value, size uint64, shndx uint16) []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint32(b[0:], nameOff)
	b[4] = 0x11 // STT_OBJECT | (STB_GLOBAL << 4)
	binary.LittleEndian.PutUint16(b[6:], shndx)
	binary.LittleEndian.PutUint64(b[8:], value)
	binary.LittleEndian.PutUint64(b[16:], size)
	return b
}

// buildRel encodes one Elf64_Rel record.
func buildRel(offset uint64, kind, sym uint32) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:], offset)
	binary.LittleEndian.PutUint64(b[8:], uint64(sym)<<32|uint64(kind))
	return b
}

func strtabWith(names ...string) ([]byte, []uint32) {
	var sb bytes.Buffer
	sb.WriteByte(0)
	offs := make([]uint32, len(names))
	for i, n := range names {
		offs[i] = uint32(sb.Len())
		sb.WriteString(n)
		sb.WriteByte(0)
	}
	return sb.Bytes(), offs
}

// --- fake Syscaller ---

type fakeSyscaller struct {
	nextFD      int
	progLoadErr error
	logBuf      string
	progLoaded  []byte // records the instruction buffer at ProgLoad time
	closed      []int
}

func (f *fakeSyscaller) MapCreate(typ bpfsys.MapType, keySize, valueSize, maxEntries uint32) (bpfsys.MapDescriptor, error) {
	f.nextFD++
	return bpfsys.MapDescriptor{Fd: f.nextFD, Type: typ, KeySize: keySize, ValueSize: valueSize, MaxEntries: maxEntries}, nil
}

func (f *fakeSyscaller) MapUpdateElem(m bpfsys.MapDescriptor, key, value []byte, flag bpfsys.UpdateFlag) error {
	return nil
}

func (f *fakeSyscaller) ProgLoad(typ bpfsys.ProgType, instructions []byte, license string, logLevel uint32) (bpfsys.ProgDescriptor, error) {
	f.progLoaded = append([]byte(nil), instructions...)
	if f.progLoadErr != nil {
		return bpfsys.ProgDescriptor{}, &loaderr.SyscallError{Op: "ProgLoad", Errno: f.progLoadErr, LogBuf: f.logBuf}
	}
	f.nextFD++
	return bpfsys.ProgDescriptor{Fd: f.nextFD, Type: typ}, nil
}

func (f *fakeSyscaller) LinkCreate(prog bpfsys.ProgDescriptor, ifindex int, attachType bpfsys.AttachType) (bpfsys.LinkDescriptor, error) {
	f.nextFD++
	return bpfsys.LinkDescriptor{Fd: f.nextFD}, nil
}

func (f *fakeSyscaller) Close(fd int) error {
	f.closed = append(f.closed, fd)
	return nil
}

// S1 — simple XDP drop: no maps, no relocations required.
func TestLoadSimpleXDPDrop(t *testing.T) {
	data := buildTestELF(t, []testSection{
		{name: "license", typ: testSHTProgBits, body: []byte("GPL\x00")},
		{name: "xdp", typ: testSHTProgBits, body: []byte{0xb7, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
	})

	sc := &fakeSyscaller{}
	result, err := Load(data, Options{ProgSection: "xdp", Ifindex: 1, Syscaller: sc})
	require.NoError(t, err)
	require.NotZero(t, result.Link.Fd)
	require.NotZero(t, result.Prog.Fd)
	require.Empty(t, result.Maps)
}

// S2 — map-gated drop: relocation must set the pseudo-map-fd bit and add
// the created map's fd into the existing immediate.
func TestLoadMapGatedDrop(t *testing.T) {
	strtab, offs := strtabWith("drop_flag")

	mapRecord := make([]byte, 16)
	binary.LittleEndian.PutUint32(mapRecord[0:4], uint32(bpfsys.MapTypeArray))
	binary.LittleEndian.PutUint32(mapRecord[4:8], 4)
	binary.LittleEndian.PutUint32(mapRecord[8:12], 4)
	binary.LittleEndian.PutUint32(mapRecord[12:16], 1)

	// Two lddw-paired instructions (16 bytes); byte 1 starts at 0, existing
	// immediate at bytes 4..8 is 5 (pre-relocation junk) to prove the add is
	// additive, not a plain overwrite.
	insns := make([]byte, 16)
	binary.LittleEndian.PutUint32(insns[4:8], 5)

	rel := buildRel(0, 1 /* R_BPF_64_64 */, 0 /* symbol index 0 in .symtab */)

	sections := []testSection{
		{name: "license", typ: testSHTProgBits, body: []byte("GPL\x00")},
		{name: "maps", typ: testSHTProgBits, body: mapRecord},
		{name: "xdp", typ: testSHTProgBits, body: insns},
		{name: ".relxdp", typ: testSHTRel, body: rel},
		{name: ".symtab", typ: testSHTSymTab, body: buildSym(offs[0], 0, 16, 2 /* shndx of "maps": index 0 is the null section, 1 is "license" */)},
		{name: ".strtab", typ: testSHTStrTab, body: strtab},
	}
	data := buildTestELF(t, sections)

	sc := &fakeSyscaller{}
	result, err := Load(data, Options{ProgSection: "xdp", Ifindex: 1, Syscaller: sc})
	require.NoError(t, err)

	m, ok := result.Maps["drop_flag"]
	require.True(t, ok)

	require.NotEmpty(t, sc.progLoaded)
	require.Equal(t, byte(0x10), sc.progLoaded[1]&0x10)
	require.Equal(t, uint32(5+m.Fd), binary.LittleEndian.Uint32(sc.progLoaded[4:8]))
}

// S5 — verifier failure surfaced with its log buffer.
func TestLoadVerifierFailureSurfacesLog(t *testing.T) {
	data := buildTestELF(t, []testSection{
		{name: "license", typ: testSHTProgBits, body: []byte("GPL\x00")},
		{name: "xdp", typ: testSHTProgBits, body: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
	})

	sc := &fakeSyscaller{progLoadErr: assertErr{"invalid argument"}, logBuf: "R0 invalid mem access"}
	_, err := Load(data, Options{ProgSection: "xdp", Ifindex: 1, Syscaller: sc})
	require.Error(t, err)

	var sErr *loaderr.SyscallError
	require.ErrorAs(t, err, &sErr)
	require.Contains(t, sErr.LogBuf, "R0 invalid mem access")
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
