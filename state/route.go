package state

import (
	"fmt"
	"net/netip"
)

// NodeAddr is the address of a node as it appears in route tables and on the wire.
// It is opaque to the routing engine, but in practice holds an IPv4 literal.
type NodeAddr string

func (a NodeAddr) Addr() (netip.Addr, error) {
	return netip.ParseAddr(string(a))
}

func AddrOf(a netip.Addr) NodeAddr {
	return NodeAddr(a.Unmap().String())
}

// RouteEntry is the current best known way to reach Destination.
type RouteEntry struct {
	Destination NodeAddr
	Distance    uint32 // cumulative link delay along the path
	HopCount    uint32
	NextHop     NodeAddr
}

// SelfRoute returns the route a node holds for one of its own addresses.
func SelfRoute(addr NodeAddr) RouteEntry {
	return RouteEntry{
		Destination: addr,
		Distance:    0,
		HopCount:    0,
		NextHop:     addr,
	}
}

func (r RouteEntry) IsSelf() bool {
	return r.NextHop == r.Destination && r.Distance == 0 && r.HopCount == 0
}

func (r RouteEntry) String() string {
	return fmt.Sprintf("(nh: %s, dist: %d, hops: %d)", r.NextHop, r.Distance, r.HopCount)
}

// AddMetric adds two distances, saturating at INF instead of wrapping around.
func AddMetric(a, b uint32) uint32 {
	if a == INF || b == INF {
		return INF
	}
	return uint32(min(uint64(INF), uint64(a)+uint64(b)))
}
