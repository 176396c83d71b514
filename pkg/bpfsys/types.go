// Package bpfsys provides typed, synchronous wrappers around the Linux
// bpf(2) multiplexed syscall plus the handful of auxiliary syscalls the
// loader needs (close, socket, bind), grounded on the raw-syscall style
// used by bobbydeveaux-starbucks-mugs's internal/watcher/ebpf loader. The
// kernel-defined attribute structs are laid out exactly as the uABI
// specifies; sizes passed to bpf(2) match the subcommand-specific
// attribute size, never the full union, per spec.md §6.
package bpfsys

import "fmt"

// bpf(2) subcommands. Only the ones spec.md §4.5 requires are wired to a
// Go wrapper; the rest are named for completeness.
const (
	cmdMapCreate     uintptr = 0
	cmdMapLookupElem uintptr = 1
	cmdMapUpdateElem uintptr = 2
	cmdMapDeleteElem uintptr = 3
	cmdMapGetNextKey uintptr = 4
	cmdProgLoad      uintptr = 5
	cmdLinkCreate    uintptr = 28
)

// MapType is the closed set of BPF map types this loader supports
// creating, per spec.md §4.5.
type MapType uint32

const (
	MapTypeArray     MapType = 2
	MapTypeHash      MapType = 1
	MapTypeProgArray MapType = 3
)

func (t MapType) String() string {
	switch t {
	case MapTypeHash:
		return "BPF_MAP_TYPE_HASH"
	case MapTypeArray:
		return "BPF_MAP_TYPE_ARRAY"
	case MapTypeProgArray:
		return "BPF_MAP_TYPE_PROG_ARRAY"
	default:
		return fmt.Sprintf("BPF_MAP_TYPE_UNKNOWN(%d)", uint32(t))
	}
}

// UpdateFlag is the flag argument to MapUpdateElem.
type UpdateFlag uint64

const (
	UpdateAny     UpdateFlag = 0
	UpdateNoExist UpdateFlag = 1
	UpdateExist   UpdateFlag = 2
)

// ProgType is the closed set of 23 classic BPF program types matching the
// kernel's bpf_prog_type enumeration, per spec.md §6. Only ProgTypeXDP is
// exercised by pkg/loader.
type ProgType uint32

const (
	ProgTypeUnspec ProgType = iota
	ProgTypeSocketFilter
	ProgTypeKprobe
	ProgTypeSchedCLS
	ProgTypeSchedACT
	ProgTypeTracepoint
	ProgTypeXDP
	ProgTypePerfEvent
	ProgTypeCgroupSKB
	ProgTypeCgroupSock
	ProgTypeLwtIn
	ProgTypeLwtOut
	ProgTypeLwtXmit
	ProgTypeSockOps
	ProgTypeSkSKB
	ProgTypeCgroupDevice
	ProgTypeSkMsg
	ProgTypeRawTracepoint
	ProgTypeCgroupSockAddr
	ProgTypeLwtSeg6Local
	ProgTypeLircMode2
	ProgTypeSkReuseport
	ProgTypeFlowDissector
)

func (t ProgType) String() string {
	names := [...]string{
		"BPF_PROG_TYPE_UNSPEC", "BPF_PROG_TYPE_SOCKET_FILTER", "BPF_PROG_TYPE_KPROBE",
		"BPF_PROG_TYPE_SCHED_CLS", "BPF_PROG_TYPE_SCHED_ACT", "BPF_PROG_TYPE_TRACEPOINT",
		"BPF_PROG_TYPE_XDP", "BPF_PROG_TYPE_PERF_EVENT", "BPF_PROG_TYPE_CGROUP_SKB",
		"BPF_PROG_TYPE_CGROUP_SOCK", "BPF_PROG_TYPE_LWT_IN", "BPF_PROG_TYPE_LWT_OUT",
		"BPF_PROG_TYPE_LWT_XMIT", "BPF_PROG_TYPE_SOCK_OPS", "BPF_PROG_TYPE_SK_SKB",
		"BPF_PROG_TYPE_CGROUP_DEVICE", "BPF_PROG_TYPE_SK_MSG", "BPF_PROG_TYPE_RAW_TRACEPOINT",
		"BPF_PROG_TYPE_CGROUP_SOCK_ADDR", "BPF_PROG_TYPE_LWT_SEG6LOCAL", "BPF_PROG_TYPE_LIRC_MODE2",
		"BPF_PROG_TYPE_SK_REUSEPORT", "BPF_PROG_TYPE_FLOW_DISSECTOR",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("BPF_PROG_TYPE_UNKNOWN(%d)", uint32(t))
}

// AttachType is the closed set of BPF attach types matching the kernel's
// bpf_attach_type enumeration that this loader names. Only AttachXDP is
// exercised by pkg/loader.
type AttachType uint32

const (
	AttachCgroupInetIngress AttachType = iota
	AttachCgroupInetEgress
	AttachCgroupInetSockCreate
	AttachCgroupSockOps
	AttachSkSKBStreamParser
	AttachSkSKBStreamVerdict
	AttachCgroupDevice
	AttachSkMsgVerdict
	AttachCgroupInet4Bind
	AttachCgroupInet6Bind
	AttachCgroupInet4Connect
	AttachCgroupInet6Connect
	AttachCgroupInet4PostBind
	AttachCgroupInet6PostBind
	AttachCgroupUDP4Sendmsg
	AttachCgroupUDP6Sendmsg
	AttachLircMode2
	AttachFlowDissector
	AttachCgroupSysctl
	AttachCgroupUDP4Recvmsg
	AttachCgroupUDP6Recvmsg
	AttachCgroupGetsockopt
	AttachCgroupSetsockopt
	AttachTraceRawTP
	AttachTraceFentry
	AttachTraceFexit
	AttachModifyReturn
	AttachLSMMac
	AttachTraceIter
	AttachCgroupInet4Getpeername
	AttachCgroupInet6Getpeername
	AttachCgroupInet4Getsockname
	AttachCgroupInet6Getsockname
	AttachXDPDevmap
	AttachCgroupInetSockRelease
	AttachXDPCPUmap
	AttachSkLookup
	AttachXDP
)

func (t AttachType) String() string {
	switch t {
	case AttachTraceRawTP:
		return "BPF_TRACE_RAW_TP"
	case AttachTraceFentry:
		return "BPF_TRACE_FENTRY"
	case AttachTraceFexit:
		return "BPF_TRACE_FEXIT"
	case AttachModifyReturn:
		return "BPF_MODIFY_RETURN"
	case AttachLSMMac:
		return "BPF_LSM_MAC"
	case AttachTraceIter:
		return "BPF_TRACE_ITER"
	case AttachCgroupInet4Getpeername:
		return "BPF_CGROUP_INET4_GETPEERNAME"
	case AttachCgroupInet6Getpeername:
		return "BPF_CGROUP_INET6_GETPEERNAME"
	case AttachCgroupInet4Getsockname:
		return "BPF_CGROUP_INET4_GETSOCKNAME"
	case AttachCgroupInet6Getsockname:
		return "BPF_CGROUP_INET6_GETSOCKNAME"
	case AttachXDPDevmap:
		return "BPF_XDP_DEVMAP"
	case AttachCgroupInetSockRelease:
		return "BPF_CGROUP_INET_SOCK_RELEASE"
	case AttachXDPCPUmap:
		return "BPF_XDP_CPUMAP"
	case AttachSkLookup:
		return "BPF_SK_LOOKUP"
	case AttachXDP:
		return "BPF_XDP"
	default:
		return fmt.Sprintf("BPF_ATTACH_TYPE(%d)", uint32(t))
	}
}

// MapDescriptor is a kernel-assigned map file descriptor, per spec.md §3.
type MapDescriptor struct {
	Fd         int
	Type       MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// ProgDescriptor is a kernel-assigned program file descriptor, per
// spec.md §3.
type ProgDescriptor struct {
	Fd   int
	Type ProgType
}

// LinkDescriptor is a kernel-assigned link file descriptor representing a
// live attachment, per spec.md §3. Closing it detaches the program.
type LinkDescriptor struct {
	Fd int
}
