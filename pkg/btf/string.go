package btf

import (
	"fmt"
	"strings"
)

// String renders a human-readable dump of the type graph, in the style of
// nevermosby-ebpf's per-enum String() methods — purely descriptive, never
// consulted by the relocator.
func (b *Btf) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BTF version=%d flags=%#x types=%d strs=%dB\n", b.Header.Version, b.Header.Flags, len(b.Types), len(b.Strs))
	for i, t := range b.Types {
		if i == 0 {
			continue
		}
		name, _ := b.Name(t.NameOff)
		fmt.Fprintf(&sb, "  [%d] %s %s\n", i, t.Kind, t.describe(name))
	}
	return sb.String()
}

func (t Type) describe(name string) string {
	switch t.Kind {
	case KindStruct, KindUnion:
		return fmt.Sprintf("%q vlen=%d size=%d", name, t.VLen, t.SizeOrType)
	case KindInt, KindFloat:
		return fmt.Sprintf("%q size=%d", name, t.SizeOrType)
	case KindPtr, KindTypedef, KindConst, KindVolatile, KindRestrict, KindTypeTag:
		return fmt.Sprintf("%q -> type %d", name, t.SizeOrType)
	case KindArray:
		return fmt.Sprintf("elem_type=%d index_type=%d nelems=%d", t.ArrayType, t.ArrayIndexType, t.ArrayNumElems)
	default:
		return fmt.Sprintf("%q", name)
	}
}
