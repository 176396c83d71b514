package loader

import "github.com/cilium-io/xdploader/pkg/bpfsys"

// Syscaller is the kernel-facing surface the orchestrator drives. It
// exists so tests can substitute a fake that never calls bpf(2) — real
// use needs CAP_BPF, which is unavailable in ordinary test environments.
type Syscaller interface {
	MapCreate(typ bpfsys.MapType, keySize, valueSize, maxEntries uint32) (bpfsys.MapDescriptor, error)
	MapUpdateElem(m bpfsys.MapDescriptor, key, value []byte, flag bpfsys.UpdateFlag) error
	ProgLoad(typ bpfsys.ProgType, instructions []byte, license string, logLevel uint32) (bpfsys.ProgDescriptor, error)
	LinkCreate(prog bpfsys.ProgDescriptor, ifindex int, attachType bpfsys.AttachType) (bpfsys.LinkDescriptor, error)
	Close(fd int) error
}

// kernelSyscaller is the production Syscaller, delegating straight to
// pkg/bpfsys.
type kernelSyscaller struct{}

// Kernel is the Syscaller backed by the real bpf(2) syscall.
var Kernel Syscaller = kernelSyscaller{}

func (kernelSyscaller) MapCreate(typ bpfsys.MapType, keySize, valueSize, maxEntries uint32) (bpfsys.MapDescriptor, error) {
	return bpfsys.MapCreate(typ, keySize, valueSize, maxEntries)
}

func (kernelSyscaller) MapUpdateElem(m bpfsys.MapDescriptor, key, value []byte, flag bpfsys.UpdateFlag) error {
	return bpfsys.MapUpdateElem(m, key, value, flag)
}

func (kernelSyscaller) ProgLoad(typ bpfsys.ProgType, instructions []byte, license string, logLevel uint32) (bpfsys.ProgDescriptor, error) {
	return bpfsys.ProgLoad(typ, instructions, license, logLevel)
}

func (kernelSyscaller) LinkCreate(prog bpfsys.ProgDescriptor, ifindex int, attachType bpfsys.AttachType) (bpfsys.LinkDescriptor, error) {
	return bpfsys.LinkCreate(prog, ifindex, attachType)
}

func (kernelSyscaller) Close(fd int) error {
	return bpfsys.Close(fd)
}
