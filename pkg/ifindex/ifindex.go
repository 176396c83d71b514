// Package ifindex resolves a network interface name to the kernel ifindex
// that bpfsys.LinkCreate and bpfsys.OpenRawSocket require, grounded on
// moby-moby's use of vishvananda/netlink for link lookups.
package ifindex

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// Resolve looks up name via netlink and returns its kernel ifindex.
func Resolve(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("resolving interface %q: %w", name, err)
	}
	return link.Attrs().Index, nil
}
