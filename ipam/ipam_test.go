package ipam

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSubnetLowestFree(t *testing.T) {
	subnet, err := AllocateSubnet(nil)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Subnet("fdc8:d559:029d:0001::/64"), subnet)

	used := map[uint16]struct{}{1: {}, 2: {}, 4: {}}
	subnet, err = AllocateSubnet(used)
	require.NoError(t, err)
	assert.Equal(t, interfaces.Subnet("fdc8:d559:029d:0003::/64"), subnet)
}

func TestAllocateSubnetNeverZero(t *testing.T) {
	// Even with an empty used set the reserved zero identifier is skipped.
	subnet, err := AllocateSubnet(map[uint16]struct{}{})
	require.NoError(t, err)
	id, err := subnet.ID()
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestAllocateSubnetExhausted(t *testing.T) {
	used := make(map[uint16]struct{}, 0xffff)
	for id := uint32(1); id <= 0xffff; id++ {
		used[uint16(id)] = struct{}{}
	}
	_, err := AllocateSubnet(used)
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrResourceExhausted))
}

func TestUsedSubnetIDsSkipsMalformed(t *testing.T) {
	used := UsedSubnetIDs([]interfaces.Subnet{
		"fdc8:d559:029d:0001::/64",
		"not-a-subnet",
		"fdc8:d559:029d:00ff::/64",
	})
	assert.Equal(t, map[uint16]struct{}{1: {}, 0xff: {}}, used)
}

func TestAllocateHostAddrLowestFree(t *testing.T) {
	subnet := SubnetForID(1)

	addr, err := AllocateHostAddr(subnet, nil)
	require.NoError(t, err)
	assert.Equal(t, "fdc8:d559:29d:1::1", addr.String())

	used := map[netip.Addr]struct{}{
		netip.MustParseAddr("fdc8:d559:29d:1::1"): {},
		netip.MustParseAddr("fdc8:d559:29d:1::2"): {},
		netip.MustParseAddr("fdc8:d559:29d:1::4"): {},
	}
	addr, err = AllocateHostAddr(subnet, used)
	require.NoError(t, err)
	assert.Equal(t, "fdc8:d559:29d:1::3", addr.String())
}

func TestAllocateHostAddrNeverNetworkAddress(t *testing.T) {
	subnet := SubnetForID(7)
	addr, err := AllocateHostAddr(subnet, nil)
	require.NoError(t, err)

	prefix, err := subnet.Prefix()
	require.NoError(t, err)
	assert.NotEqual(t, prefix.Masked().Addr(), addr)
	assert.True(t, prefix.Contains(addr))
}

func TestAllocateHostAddrDeterministic(t *testing.T) {
	// Identical used sets built in different orders must yield the same
	// address.
	subnet := SubnetForID(2)
	a := map[netip.Addr]struct{}{}
	b := map[netip.Addr]struct{}{}
	addrs := []string{"fdc8:d559:29d:2::1", "fdc8:d559:29d:2::2", "fdc8:d559:29d:2::3"}
	for i := range addrs {
		a[netip.MustParseAddr(addrs[i])] = struct{}{}
		b[netip.MustParseAddr(addrs[len(addrs)-1-i])] = struct{}{}
	}

	got1, err := AllocateHostAddr(subnet, a)
	require.NoError(t, err)
	got2, err := AllocateHostAddr(subnet, b)
	require.NoError(t, err)
	assert.Equal(t, got1, got2)
	assert.Equal(t, "fdc8:d559:29d:2::4", got1.String())
}

func TestLighthouseAddr(t *testing.T) {
	addr := LighthouseAddr()
	assert.Equal(t, "fdc8:d559:29d::1", addr.String())

	// The lighthouse lives in the reserved zero subnet.
	id, err := SubnetForID(0).ID()
	require.NoError(t, err)
	assert.Zero(t, id)
	prefix, err := SubnetForID(0).Prefix()
	require.NoError(t, err)
	assert.True(t, prefix.Contains(addr))
}
