// Package ipam implements the pure address-allocation algorithms for
// organization subnets and host addresses. It performs no I/O; callers
// supply the sets of identifiers already in use.
package ipam

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
)

// ULAPrefix is the fixed 48-bit prefix all organization subnets are carved
// from. Subnet identifier zero is permanently reserved for the lighthouse.
const ULAPrefix = "fdc8:d559:029d"

// LighthouseAddr returns the rendezvous node's well-known address within
// the reserved zero subnet.
func LighthouseAddr() netip.Addr {
	return netip.MustParseAddr(ULAPrefix + "::1")
}

// SubnetForID formats a /64 block for a 16-bit subnet identifier.
func SubnetForID(id uint16) interfaces.Subnet {
	return interfaces.Subnet(fmt.Sprintf("%s:%04x::/64", ULAPrefix, id))
}

// AllocateSubnet returns the lowest unused non-zero subnet identifier as a
// /64 block. The zero identifier is never allocated. Returns
// ErrResourceExhausted once all 65535 identifiers are taken.
func AllocateSubnet(used map[uint16]struct{}) (interfaces.Subnet, error) {
	for id := uint32(1); id <= 0xffff; id++ {
		if _, taken := used[uint16(id)]; !taken {
			return SubnetForID(uint16(id)), nil
		}
	}
	return "", fmt.Errorf("no subnet identifier available under %s::/48: %w", ULAPrefix, interfaces.ErrResourceExhausted)
}

// UsedSubnetIDs extracts the set of subnet identifiers from existing
// org subnet assignments. Malformed entries are skipped.
func UsedSubnetIDs(subnets []interfaces.Subnet) map[uint16]struct{} {
	used := make(map[uint16]struct{}, len(subnets))
	for _, s := range subnets {
		id, err := s.ID()
		if err != nil {
			continue
		}
		used[id] = struct{}{}
	}
	return used
}

// AllocateHostAddr returns the lowest unused host address within the
// subnet. Host identifiers start at 1; identifier 0 is the subnet's
// network address and is never assigned. The scan counts up from 1, so
// the result does not depend on the iteration order of the used set.
func AllocateHostAddr(subnet interfaces.Subnet, used map[netip.Addr]struct{}) (netip.Addr, error) {
	prefix, err := subnet.Prefix()
	if err != nil {
		return netip.Addr{}, err
	}
	base := prefix.Masked().Addr().As16()

	for id := uint64(1); id != 0; id++ {
		b := base
		binary.BigEndian.PutUint64(b[8:], id)
		addr := netip.AddrFrom16(b)
		if _, taken := used[addr]; !taken {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("subnet %s is full: %w", subnet, interfaces.ErrResourceExhausted)
}
