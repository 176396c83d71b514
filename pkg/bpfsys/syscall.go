package bpfsys

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cilium-io/xdploader/pkg/loaderr"
)

// mapCreateAttr is the bpf(BPF_MAP_CREATE, ...) attribute, matching the
// map-create union member of struct bpf_attr.
type mapCreateAttr struct {
	mapType    uint32
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	mapFlags   uint32
}

// mapElemAttr is the bpf(BPF_MAP_*_ELEM, ...) attribute.
type mapElemAttr struct {
	mapFd uint32
	_     uint32
	key   uint64
	value uint64 // union with next_key
	flags uint64
}

// progLoadAttr is the bpf(BPF_PROG_LOAD, ...) attribute, matching the
// prog-load union member of struct bpf_attr. Only the fields this loader
// sets are named; unused trailing fields are zero by default.
type progLoadAttr struct {
	progType     uint32
	insnCnt      uint32
	insns        uint64
	license      uint64
	logLevel     uint32
	logSize      uint32
	logBuf       uint64
	kernVersion  uint32
	progFlags    uint32
	progName     [16]byte
	progIfindex  uint32
	expectedAttachType uint32
}

// linkCreateAttr is the bpf(BPF_LINK_CREATE, ...) attribute.
type linkCreateAttr struct {
	progFd         uint32
	targetIfindex  uint32 // union with target_fd
	attachType     uint32
	flags          uint32
}

// bpfSyscall wraps the Linux bpf(2) syscall, returning the resulting fd or
// status, or a *loaderr.SyscallError wrapping errno.
func bpfSyscall(op string, cmd uintptr, attr unsafe.Pointer, attrSize uintptr) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_BPF, cmd, uintptr(attr), attrSize)
	if errno != 0 {
		return -1, &loaderr.SyscallError{Op: op, Errno: errno}
	}
	return int(r), nil
}

// MapCreate issues BPF_MAP_CREATE and returns a MapDescriptor for the new
// map, per spec.md §4.5. Currently supported map types: ARRAY, HASH,
// PROG_ARRAY.
func MapCreate(typ MapType, keySize, valueSize, maxEntries uint32) (MapDescriptor, error) {
	attr := mapCreateAttr{
		mapType:    uint32(typ),
		keySize:    keySize,
		valueSize:  valueSize,
		maxEntries: maxEntries,
	}

	fd, err := bpfSyscall("MapCreate", cmdMapCreate, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	if err != nil {
		return MapDescriptor{}, err
	}

	return MapDescriptor{Fd: fd, Type: typ, KeySize: keySize, ValueSize: valueSize, MaxEntries: maxEntries}, nil
}

// MapUpdateElem issues BPF_MAP_UPDATE_ELEM. key and value must point at
// memory sized to the map's KeySize/ValueSize; the caller is responsible
// for that, per spec.md §4.5.
func MapUpdateElem(m MapDescriptor, key, value []byte, flag UpdateFlag) error {
	attr := mapElemAttr{
		mapFd: uint32(m.Fd),
		key:   uint64(uintptr(unsafe.Pointer(&key[0]))),
		value: uint64(uintptr(unsafe.Pointer(&value[0]))),
		flags: uint64(flag),
	}

	_, err := bpfSyscall("MapUpdateElem", cmdMapUpdateElem, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(key)
	runtime.KeepAlive(value)
	return err
}

// MapLookupElem issues BPF_MAP_LOOKUP_ELEM, writing the looked-up value
// into valueOut.
func MapLookupElem(m MapDescriptor, key, valueOut []byte) error {
	attr := mapElemAttr{
		mapFd: uint32(m.Fd),
		key:   uint64(uintptr(unsafe.Pointer(&key[0]))),
		value: uint64(uintptr(unsafe.Pointer(&valueOut[0]))),
	}

	_, err := bpfSyscall("MapLookupElem", cmdMapLookupElem, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(key)
	runtime.KeepAlive(valueOut)
	return err
}

// ProgLoadResult pairs a loaded program with the kernel verifier's
// diagnostic log. ProgLoad does not return it: ProgLoad returns a
// ProgDescriptor and, on failure, attaches the log to its
// *loaderr.SyscallError.
type ProgLoadResult struct {
	Prog   ProgDescriptor
	LogBuf string
}

// ProgLoad issues BPF_PROG_LOAD. insnCnt is derived from len(instructions)
// /8, per spec.md §4.5. When bpf(2) fails, the verifier log's
// NUL-terminated prefix is captured and attached to the returned error; a
// buffer whose length is not a multiple of 8 is rejected before the
// syscall, with no log.
func ProgLoad(typ ProgType, instructions []byte, license string, logLevel uint32) (ProgDescriptor, error) {
	if len(instructions)%8 != 0 {
		return ProgDescriptor{}, fmt.Errorf("instruction buffer length %d not a multiple of 8", len(instructions))
	}

	licenseBytes := append([]byte(license), 0)
	logBuf := make([]byte, 64*1024)

	attr := progLoadAttr{
		progType: uint32(typ),
		insnCnt:  uint32(len(instructions) / 8),
		insns:    uint64(uintptr(unsafe.Pointer(&instructions[0]))),
		license:  uint64(uintptr(unsafe.Pointer(&licenseBytes[0]))),
		logLevel: logLevel,
		logSize:  uint32(len(logBuf)),
		logBuf:   uint64(uintptr(unsafe.Pointer(&logBuf[0]))),
	}

	fd, err := bpfSyscall("ProgLoad", cmdProgLoad, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	runtime.KeepAlive(instructions)
	runtime.KeepAlive(licenseBytes)
	runtime.KeepAlive(logBuf)

	if err != nil {
		var sErr *loaderr.SyscallError
		if se, ok := err.(*loaderr.SyscallError); ok {
			sErr = se
		} else {
			sErr = &loaderr.SyscallError{Op: "ProgLoad", Errno: err}
		}
		sErr.LogBuf = extractLog(logBuf)
		return ProgDescriptor{}, sErr
	}

	return ProgDescriptor{Fd: fd, Type: typ}, nil
}

// LinkCreate issues BPF_LINK_CREATE, attaching progFd to the XDP hook on
// the network interface identified by ifindex, per spec.md §4.5. ifindex
// is always a kernel network-interface index, never a program fd — see
// spec.md §9's open-question resolution.
func LinkCreate(prog ProgDescriptor, ifindex int, attachType AttachType) (LinkDescriptor, error) {
	attr := linkCreateAttr{
		progFd:        uint32(prog.Fd),
		targetIfindex: uint32(ifindex),
		attachType:    uint32(attachType),
	}

	fd, err := bpfSyscall("LinkCreate", cmdLinkCreate, unsafe.Pointer(&attr), unsafe.Sizeof(attr))
	if err != nil {
		return LinkDescriptor{}, err
	}

	return LinkDescriptor{Fd: fd}, nil
}

// Close releases a kernel file descriptor (map, prog, or link).
func Close(fd int) error {
	return unix.Close(fd)
}

func extractLog(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
