package state

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// DomainBits is the prefix length of a broadcast domain. Nodes must share a /24 to hear each other.
const DomainBits = 24

// DomainOf returns the broadcast domain that addr belongs to.
func DomainOf(addr netip.Addr) (netip.Prefix, bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr, DomainBits).Masked(), true
}

// BroadcastAddr keeps the first three octets of a dotted-quad address and sets the last to 255.
func BroadcastAddr(addr netip.Addr) (netip.Addr, bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, false
	}
	b := addr.As4()
	b[3] = 0xff
	return netip.AddrFrom4(b), true
}

// Domains indexes the broadcast domains a node is attached to, keyed by the domain prefix.
// The value is the first local address the node has inside that domain.
type Domains struct {
	table   bart.Table[netip.Addr]
	targets []netip.Addr
}

func NewDomains(self []netip.Addr) *Domains {
	d := &Domains{}
	for _, addr := range self {
		pfx, ok := DomainOf(addr)
		if !ok {
			continue
		}
		if _, exists := d.table.Get(pfx); exists {
			continue // already reachable through another local address
		}
		d.table.Insert(pfx, addr.Unmap())
		bcast, _ := BroadcastAddr(addr)
		d.targets = append(d.targets, bcast)
	}
	return d
}

// Targets returns one broadcast address per attached domain.
func (d *Domains) Targets() []netip.Addr {
	return d.targets
}

// OnLink reports whether peer sits in one of our broadcast domains.
func (d *Domains) OnLink(peer netip.Addr) bool {
	return d.table.Contains(peer.Unmap())
}
