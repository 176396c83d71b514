// Package loader composes the parsing, relocation, and syscall packages
// into the end-to-end pipeline: open object, create maps, relocate,
// load program, create link — grounded on the shape of
// bobbydeveaux-starbucks-mugs's top-level loader entry point, which
// performs the same parse→create-maps→relocate→load→attach sequence
// (there named LoadAndAttach) but against io.ReaderAt and the ring-buffer
// hook instead of XDP.
package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/cilium-io/xdploader/pkg/bpfsys"
	"github.com/cilium-io/xdploader/pkg/btf"
	"github.com/cilium-io/xdploader/pkg/elf"
	"github.com/cilium-io/xdploader/pkg/loaderr"
	"github.com/cilium-io/xdploader/pkg/logging"
	"github.com/cilium-io/xdploader/pkg/reloc"
)

// DefaultKernelBTFPath is the path the kernel exports its own BTF at.
const DefaultKernelBTFPath = "/sys/kernel/btf/vmlinux"

// DefaultLicenseSection is the conventional section an eBPF compiler
// emits the SPDX license string into.
const DefaultLicenseSection = "license"

// Options configures one Load invocation.
type Options struct {
	// ProgSection names the ELF section holding the program to load,
	// e.g. "xdp".
	ProgSection string

	// Ifindex is the network interface to attach to. Always a kernel
	// ifindex, never a program fd — see spec.md §9.
	Ifindex int

	// LogLevel is passed through to ProgLoad's verifier log verbosity.
	// A value of 0 disables log_buf entirely at the kernel side, so
	// callers that want SyscallError.LogBuf populated on a verifier
	// rejection must pass at least 1 (cmd/xdploader always does).
	LogLevel uint32

	// KernelBTFPath overrides DefaultKernelBTFPath, for tests.
	KernelBTFPath string

	// Syscaller overrides the real bpf(2) syscall surface, for tests.
	Syscaller Syscaller
}

// Result is everything Load created. Every descriptor is the caller's to
// Close.
type Result struct {
	Maps map[string]bpfsys.MapDescriptor
	Prog bpfsys.ProgDescriptor
	Link bpfsys.LinkDescriptor
}

var log = logging.WithComponent("loader")

// Load runs the full pipeline against data (an ELF object's bytes) and
// attaches the resulting program to opts.Ifindex via XDP, per spec.md
// §4.6.
func Load(data []byte, opts Options) (Result, error) {
	sc := opts.Syscaller
	if sc == nil {
		sc = Kernel
	}

	obj, err := elf.Parse(data)
	if err != nil {
		return Result{}, fmt.Errorf("parsing object: %w", err)
	}
	for _, w := range obj.Warnings {
		log.Warn(w)
	}

	license, err := readLicense(obj)
	if err != nil {
		return Result{}, err
	}

	progBody, ok, err := obj.SectionBody(opts.ProgSection)
	if err != nil {
		return Result{}, fmt.Errorf("reading program section %q: %w", opts.ProgSection, err)
	}
	if !ok {
		return Result{}, fmt.Errorf("object has no %q section", opts.ProgSection)
	}
	insns := make([]byte, len(progBody))
	copy(insns, progBody)

	specs, err := parseMapSpecs(obj)
	if err != nil {
		return Result{}, fmt.Errorf("parsing map declarations: %w", err)
	}

	maps := make(map[string]bpfsys.MapDescriptor, len(specs))
	symToFD := make(map[uint32]int, len(specs))
	for _, s := range specs {
		m, err := sc.MapCreate(s.typ, s.keySize, s.valueSize, s.maxEntries)
		if err != nil {
			closeAll(sc, maps)
			return Result{}, fmt.Errorf("creating map %q: %w", s.name, err)
		}
		log.WithField("map", s.name).WithField("fd", m.Fd).Debug("map created")
		maps[s.name] = m
		symToFD[uint32(s.symbolIndex)] = m.Fd
	}

	relSecName := ".rel" + opts.ProgSection
	relocs, _, err := obj.Relocations(relSecName)
	if err != nil {
		closeAll(sc, maps)
		return Result{}, fmt.Errorf("decoding relocations for %q: %w", opts.ProgSection, err)
	}
	if err := reloc.ApplyMapRelocations(insns, relocs, symToFD); err != nil {
		closeAll(sc, maps)
		return Result{}, fmt.Errorf("applying map relocations: %w", err)
	}

	if err := applyCoreRelocationsIfPresent(obj, opts, insns); err != nil {
		closeAll(sc, maps)
		return Result{}, err
	}

	prog, err := sc.ProgLoad(bpfsys.ProgTypeXDP, insns, license, opts.LogLevel)
	if err != nil {
		closeAll(sc, maps)
		return Result{}, fmt.Errorf("loading program: %w", err)
	}

	link, err := sc.LinkCreate(prog, opts.Ifindex, bpfsys.AttachXDP)
	if err != nil {
		sc.Close(prog.Fd)
		closeAll(sc, maps)
		return Result{}, fmt.Errorf("attaching to ifindex %d: %w", opts.Ifindex, err)
	}

	return Result{Maps: maps, Prog: prog, Link: link}, nil
}

func readLicense(obj *elf.Object) (string, error) {
	body, ok, err := obj.SectionBody(DefaultLicenseSection)
	if err != nil {
		return "", fmt.Errorf("reading license section: %w", err)
	}
	if !ok {
		return "GPL", nil
	}
	return strings.TrimRight(string(body), "\x00"), nil
}

// applyCoreRelocationsIfPresent loads the program's own BTF/BTF.ext and
// the running kernel's BTF, and applies every CO-RE relocation whose
// section matches opts.ProgSection, per spec.md §4.6 step 2/5.
func applyCoreRelocationsIfPresent(obj *elf.Object, opts Options, insns []byte) error {
	btfBody, ok, err := obj.SectionBody(".BTF")
	if err != nil {
		return fmt.Errorf("reading .BTF section: %w", err)
	}
	if !ok {
		return nil
	}

	extBody, ok, err := obj.SectionBody(".BTF.ext")
	if err != nil {
		return fmt.Errorf("reading .BTF.ext section: %w", err)
	}
	if !ok {
		return nil
	}

	progBtf, err := btf.Parse(btfBody)
	if err != nil {
		return fmt.Errorf("parsing program BTF: %w", err)
	}
	progExt, err := btf.ParseExt(extBody)
	if err != nil {
		return fmt.Errorf("parsing program BTF.ext: %w", err)
	}

	kernBtf, err := loadKernelBTF(opts.KernelBTFPath)
	if err != nil {
		return fmt.Errorf("loading kernel BTF: %w", err)
	}

	for _, sec := range progExt.CoreRelos {
		secName, err := progBtf.Name(sec.SecNameOff)
		if err != nil {
			return fmt.Errorf("resolving core relocation section name: %w", err)
		}
		if secName != opts.ProgSection {
			continue
		}
		if err := reloc.ApplyCoreRelocations(insns, sec, progBtf, kernBtf); err != nil {
			return fmt.Errorf("applying CO-RE relocations for %q: %w", secName, err)
		}
	}

	return nil
}

func loadKernelBTF(path string) (*btf.Btf, error) {
	if path == "" {
		path = DefaultKernelBTFPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %w", path, loaderr.ErrIo, err)
	}
	return btf.Parse(data)
}

func closeAll(sc Syscaller, maps map[string]bpfsys.MapDescriptor) {
	for _, m := range maps {
		sc.Close(m.Fd)
	}
}
