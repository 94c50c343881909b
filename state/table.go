package state

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// RouteTable maps a destination to the best route observed for it.
// Entries only ever improve: they are replaced on a strictly smaller distance and never removed.
// A RouteTable is safe for concurrent use.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[NodeAddr]RouteEntry
}

func NewRouteTable() *RouteTable {
	return &RouteTable{
		routes: make(map[NodeAddr]RouteEntry),
	}
}

// Upsert stores the route if the destination is unknown or distance is strictly smaller than
// the stored distance. It reports whether the table changed.
func (t *RouteTable) Upsert(destination NodeAddr, distance, hopCount uint32, nextHop NodeAddr) bool {
	_, _, updated := t.Improve(RouteEntry{
		Destination: destination,
		Distance:    distance,
		HopCount:    hopCount,
		NextHop:     nextHop,
	})
	return updated
}

// Improve is Upsert, additionally returning the entry that was stored before the call.
func (t *RouteTable) Improve(route RouteEntry) (prev RouteEntry, existed bool, updated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, existed = t.routes[route.Destination]
	if existed && route.Distance >= prev.Distance {
		return prev, existed, false
	}
	t.routes[route.Destination] = route
	return prev, existed, true
}

func (t *RouteTable) Lookup(destination NodeAddr) (RouteEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	route, ok := t.routes[destination]
	return route, ok
}

// Snapshot returns every route, ordered by destination, as of a single point in time.
func (t *RouteTable) Snapshot() []RouteEntry {
	t.mu.RLock()
	routes := make([]RouteEntry, 0, len(t.routes))
	for _, route := range t.routes {
		routes = append(routes, route)
	}
	t.mu.RUnlock()

	slices.SortFunc(routes, func(a, b RouteEntry) int {
		return strings.Compare(string(a.Destination), string(b.Destination))
	})
	return routes
}

func (t *RouteTable) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes) == 0
}

func (t *RouteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// SeedSelf inserts a self route for each address. It reports whether anything was added.
func (t *RouteTable) SeedSelf(addrs []NodeAddr) bool {
	seeded := false
	for _, addr := range addrs {
		if t.Upsert(addr, 0, 0, addr) {
			seeded = true
		}
	}
	return seeded
}

// SeedSelfIfEmpty seeds the table only when no route is known yet.
// The emptiness check and the insertion happen under one lock so concurrent callers seed once.
func (t *RouteTable) SeedSelfIfEmpty(addrs []NodeAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.routes) != 0 {
		return false
	}
	for _, addr := range addrs {
		t.routes[addr] = SelfRoute(addr)
	}
	return len(addrs) != 0
}

func (t *RouteTable) String() string {
	sb := strings.Builder{}
	for _, route := range t.Snapshot() {
		sb.WriteString(fmt.Sprintf("%s via %s\n", route.Destination, route))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
