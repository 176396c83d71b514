// Package reloc rewrites a copied program-section bytecode buffer in
// place: ELF map relocations (§4.4.1) and CO-RE field-offset relocations
// (§4.4.2), grounded on bobbydeveaux-starbucks-mugs's
// applyMapRelocations, which patches the same bpf_insn fields via direct
// byte indexing rather than unsafe struct casts.
package reloc

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf/asm"

	"github.com/cilium-io/xdploader/pkg/elf"
	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// bpfPseudoMapFD is the src_reg nibble, shifted into byte 1's high nibble,
// that tells the verifier an lddw immediate is a map file descriptor.
// asm.PseudoMapFD is the same Source value cilium/ebpf's own instruction
// encoder compares against (see its sibling asm.PseudoMapValue, used by
// pkg/bpf's inlineGlobalData).
var bpfPseudoMapFD = byte(asm.PseudoMapFD) << 4

// ApplyMapRelocations rewrites insns in place for every entry in relocs
// whose kind is R_BPF_64_64, using symToFD to resolve the symbol index to
// a map file descriptor. Symbols absent from symToFD are left untouched —
// they are expected to fail verification downstream. Any other relocation
// kind is rejected with loaderr.ErrUnimplemented.
func ApplyMapRelocations(insns []byte, relocs []elf.Relocation, symToFD map[uint32]int) error {
	for _, r := range relocs {
		if r.Kind != elf.RelocBPF6464 {
			return fmt.Errorf("relocation kind %s at offset %d: %w", r.Kind, r.Offset, loaderr.ErrUnimplemented)
		}

		fd, ok := symToFD[r.Symbol]
		if !ok {
			continue
		}

		if r.Offset+8 > uint64(len(insns)) {
			return fmt.Errorf("relocation at offset %d exceeds instruction buffer of %d bytes: %w", r.Offset, len(insns), loaderr.ErrOutOfBounds)
		}

		off := int(r.Offset)
		insns[off+1] |= bpfPseudoMapFD

		existing := binary.LittleEndian.Uint32(insns[off+4 : off+8])
		binary.LittleEndian.PutUint32(insns[off+4:off+8], existing+uint32(fd))
	}

	return nil
}
