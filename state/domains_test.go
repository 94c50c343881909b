package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastAddr(t *testing.T) {
	b, ok := BroadcastAddr(netip.MustParseAddr("192.168.4.17"))
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("192.168.4.255"), b)

	_, ok = BroadcastAddr(netip.MustParseAddr("fd00::1"))
	assert.False(t, ok)
}

func TestDomains(t *testing.T) {
	d := NewDomains([]netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.7"), // same domain as 10.0.0.1
		netip.MustParseAddr("10.0.1.1"),
		netip.MustParseAddr("fd00::1"),
	})
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("10.0.0.255"),
		netip.MustParseAddr("10.0.1.255"),
	}, d.Targets())

	assert.True(t, d.OnLink(netip.MustParseAddr("10.0.0.200")))
	assert.True(t, d.OnLink(netip.MustParseAddr("10.0.1.9")))
	assert.True(t, d.OnLink(netip.MustParseAddr("::ffff:10.0.1.9")))
	assert.False(t, d.OnLink(netip.MustParseAddr("10.0.2.1")))
	assert.False(t, d.OnLink(netip.MustParseAddr("fd00::2")))
}
