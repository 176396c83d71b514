package bpfsys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// htons converts a 16-bit value from host to network byte order, matching
// the protocol field packing bobbydeveaux-starbucks-mugs's loader uses for
// its AF_PACKET socket.
func htons(v uint16) uint16 {
	return (v << 8) | (v >> 8)
}

// OpenRawSocket opens an AF_PACKET/SOCK_RAW socket bound to the interface
// identified by ifindex, listening for ETH_P_ALL, and returns its fd. It
// neither reads nor writes through the socket, and pkg/loader does not
// call it.
func OpenRawSocket(ifindex int) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return -1, fmt.Errorf("socket(AF_PACKET, SOCK_RAW): %w", err)
	}

	sll := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifindex,
	}

	if err := unix.Bind(fd, &sll); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind to ifindex %d: %w", ifindex, err)
	}

	return fd, nil
}
