package elf

import (
	"fmt"

	"github.com/cilium-io/xdploader/pkg/byteview"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// SymEntrySize is the byte size of an Elf64_Sym record.
const SymEntrySize = 24

// SymbolName resolves the name of the index-th entry of ".symtab", for
// diagnostics. No package in this module calls it; in particular pkg/reloc
// works from the symbol index alone and its errors do not carry names.
func (o *Object) SymbolName(index int) (string, error) {
	symtabHdr, ok := o.Section(".symtab")
	if !ok {
		return "", fmt.Errorf("no .symtab section present")
	}

	symtab, err := o.view.ReadFixed(int(symtabHdr.Offset), int(symtabHdr.Size))
	if err != nil {
		return "", fmt.Errorf("reading .symtab body: %w", err)
	}

	if index < 0 || (index+1)*SymEntrySize > len(symtab) {
		return "", fmt.Errorf("symbol index %d out of range: %w", index, loaderr.ErrOutOfBounds)
	}

	// sh_link of a SHT_SYMTAB section is the index of its string table;
	// resolve it by section name instead, since Object indexes by name.
	strtabHdr, ok := o.Section(".strtab")
	if !ok {
		return "", fmt.Errorf("no .strtab section present")
	}
	strtab, err := o.view.ReadFixed(int(strtabHdr.Offset), int(strtabHdr.Size))
	if err != nil {
		return "", fmt.Errorf("reading .strtab body: %w", err)
	}

	entry := byteview.New(symtab[index*SymEntrySize : (index+1)*SymEntrySize])
	nameOff, err := entry.ReadUint32(0)
	if err != nil {
		return "", err
	}

	return byteview.ReadCString(strtab, int(nameOff))
}

// Symbol is a decoded Elf64_Sym entry, as needed to locate map definitions
// within the "maps"/".maps" section by symbol.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Shndx uint16
	Info  uint8
}

// SectionIndex returns the raw section-header-table index of name, as
// referenced by Symbol.Shndx.
func (o *Object) SectionIndex(name string) (int, bool) {
	i, ok := o.sectionIndex[name]
	return i, ok
}

// Symbols decodes every entry of ".symtab". Returns (nil, nil) if no
// symbol table is present — not every object needs one (e.g. S1's
// no-relocation program).
func (o *Object) Symbols() ([]Symbol, error) {
	symtabHdr, ok := o.Section(".symtab")
	if !ok {
		return nil, nil
	}

	symtab, err := o.view.ReadFixed(int(symtabHdr.Offset), int(symtabHdr.Size))
	if err != nil {
		return nil, fmt.Errorf("reading .symtab body: %w", err)
	}

	strtabHdr, ok := o.Section(".strtab")
	if !ok {
		return nil, fmt.Errorf("no .strtab section present")
	}
	strtab, err := o.view.ReadFixed(int(strtabHdr.Offset), int(strtabHdr.Size))
	if err != nil {
		return nil, fmt.Errorf("reading .strtab body: %w", err)
	}

	if len(symtab)%SymEntrySize != 0 {
		return nil, fmt.Errorf("symbol table size %d is not a multiple of %d: %w", len(symtab), SymEntrySize, loaderr.ErrFormatMismatch)
	}

	count := len(symtab) / SymEntrySize
	out := make([]Symbol, 0, count)

	for i := 0; i < count; i++ {
		base := i * SymEntrySize
		entry := byteview.New(symtab[base : base+SymEntrySize])

		nameOff, err := entry.ReadUint32(0)
		if err != nil {
			return nil, fmt.Errorf("reading symbol %d name offset: %w", i, err)
		}
		name, err := byteview.ReadCString(strtab, int(nameOff))
		if err != nil {
			return nil, fmt.Errorf("reading symbol %d name: %w", i, err)
		}
		shndx, err := entry.ReadUint16(6)
		if err != nil {
			return nil, fmt.Errorf("reading symbol %d shndx: %w", i, err)
		}
		value, err := entry.ReadUint64(8)
		if err != nil {
			return nil, fmt.Errorf("reading symbol %d value: %w", i, err)
		}
		size, err := entry.ReadUint64(16)
		if err != nil {
			return nil, fmt.Errorf("reading symbol %d size: %w", i, err)
		}

		out = append(out, Symbol{
			Name:  name,
			Value: value,
			Size:  size,
			Shndx: shndx,
			Info:  entry.Bytes()[4],
		})
	}

	return out, nil
}
