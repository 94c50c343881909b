package integration

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/encodeous/dvsim/core"
	"github.com/encodeous/dvsim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func relay(id string, delay uint32) state.TopologyNode {
	return state.TopologyNode{Id: id, Role: state.RoleRelay, LinkDelay: delay}
}

func leaf(id string) state.TopologyNode {
	return state.TopologyNode{Id: id, Role: state.RoleLeaf, LinkDelay: 1}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	vh := NewHarness(state.TopologyCfg{
		Nodes: []state.TopologyNode{relay("a", 10), relay("b", 20)},
		Graph: []string{"a, b"},
	})
	require.NoError(t, vh.Start())
	assert.True(t, vh.Node("a").Started.Load())
	assert.True(t, vh.Node("b").Started.Load())
	require.NoError(t, vh.Stop())
	assert.True(t, vh.Node("a").Stopping.Load())
	assert.False(t, vh.Node("a").Failed.Load())
}

func TestRejectsIsolatedNode(t *testing.T) {
	vh := NewHarness(state.TopologyCfg{
		Nodes: []state.TopologyNode{relay("a", 10), relay("b", 20), relay("c", 5)},
		Graph: []string{"a, b"},
	})
	assert.ErrorContains(t, vh.Start(), "node c is not linked")
}

func TestOptimalConvergence(t *testing.T) {
	defer goleak.VerifyNone(t)

	// a <-> b <-> c <-> d, closed into a ring by a <-> d. d is slow, so traffic avoids crossing it.
	vh := NewHarness(state.TopologyCfg{
		Nodes: []state.TopologyNode{relay("a", 10), relay("b", 10), relay("c", 10), relay("d", 100)},
		Graph: []string{"a, b", "b, c", "c, d", "a, d"},
	})
	require.NoError(t, vh.Start())
	defer func() { require.NoError(t, vh.Stop()) }()

	require.True(t, vh.WaitConverged(5*time.Second), "network did not converge")

	expected, err := vh.OptimalDistances("d")
	require.NoError(t, err)
	for _, addr := range vh.Addrs["b"] {
		// every path out of d starts with its own delay
		assert.Equal(t, uint32(110), expected[state.AddrOf(addr)])
	}

	for _, r := range vh.Routes("a") {
		if r.IsSelf() {
			assert.Equal(t, uint32(0), r.Distance)
			assert.Equal(t, uint32(0), r.HopCount)
			continue
		}
		assert.Positive(t, r.HopCount, "route %s", r)
	}
}

func TestPayloadDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	// x - a - b - y, the leaves are only linked to the relays at the ends
	vh := NewHarness(state.TopologyCfg{
		Nodes: []state.TopologyNode{leaf("x"), relay("a", 15), relay("b", 25), leaf("y")},
		Graph: []string{"x, a", "a, b", "b, y"},
	})
	delivered := NewSignal()
	var relayed atomic.Int32
	var wrongDelivery atomic.Bool
	vh.OnEvent = func(ev core.TraceEvent) {
		switch ev.Event {
		case core.PayloadRelayed:
			relayed.Add(1)
		case core.PayloadDelivered:
			if ev.Node == "y" {
				delivered.Trigger()
			} else {
				wrongDelivery.Store(true)
			}
		}
	}
	require.NoError(t, vh.Start())
	defer func() { require.NoError(t, vh.Stop()) }()

	require.True(t, vh.WaitConverged(5*time.Second), "network did not converge")

	dst := vh.Addr("y")
	require.NoError(t, vh.SendPayload("x", fmt.Sprintf("destination=%s&message=hello", dst)))
	require.True(t, delivered.WaitFor(5*time.Second), "payload was not delivered")
	assert.GreaterOrEqual(t, relayed.Load(), int32(2), "both relays forward the payload")
	assert.False(t, wrongDelivery.Load())

	// leaves never relay, and never learn routes
	for _, r := range vh.Routes("x") {
		assert.True(t, r.IsSelf())
	}
}

func TestNoRouteDropsPayload(t *testing.T) {
	defer goleak.VerifyNone(t)

	vh := NewHarness(state.TopologyCfg{
		Nodes: []state.TopologyNode{leaf("x"), relay("a", 15)},
		Graph: []string{"x, a"},
	})
	noRoute := NewSignal()
	vh.OnEvent = func(ev core.TraceEvent) {
		if ev.Event == core.NoRoute && ev.Node == "a" {
			noRoute.Trigger()
		}
	}
	require.NoError(t, vh.Start())
	defer func() { require.NoError(t, vh.Stop()) }()

	require.True(t, vh.WaitConverged(5*time.Second))
	require.NoError(t, vh.SendPayload("x", "destination=192.0.2.1"))
	assert.True(t, noRoute.WaitFor(5*time.Second))

	assert.Error(t, vh.SendPayload("x", "message=nowhere"))
}

func TestMalformedAdvertisementTolerance(t *testing.T) {
	defer goleak.VerifyNone(t)

	vh := NewHarness(state.TopologyCfg{
		Nodes: []state.TopologyNode{relay("a", 10), relay("b", 10)},
		Graph: []string{"a, b"},
	})
	malformed := NewSignal()
	vh.OnEvent = func(ev core.TraceEvent) {
		if ev.Event == core.MalformedAdvertisement && ev.Node == "a" {
			malformed.Trigger()
		}
	}
	require.NoError(t, vh.Start())
	defer func() { require.NoError(t, vh.Stop()) }()
	require.True(t, vh.WaitConverged(5*time.Second))

	// a third host joins the a-b domain and broadcasts a partially broken advertisement
	b4 := vh.Addrs["b"][0].As4()
	b4[3] = 9
	inject, err := vh.Net.Bind([]netip.Addr{netip.AddrFrom4(b4)}, vh.Node("b").AdvertisePort, state.AdvertisementBufferSize)
	require.NoError(t, err)
	defer inject.Close()
	bcast, ok := state.BroadcastAddr(vh.Addrs["b"][0])
	require.True(t, ok)
	require.NoError(t, inject.Send(bcast, []byte(state.AdvertisementPrefix+"203.0.113.7:abc:1,198.51.100.9:5:1")))

	require.True(t, malformed.WaitFor(5*time.Second))
	// the valid entry was still merged
	require.Eventually(t, func() bool {
		r, ok := vh.Node("a").Table.Lookup(state.NodeAddr("198.51.100.9"))
		return ok && r.Distance == 15 && r.NextHop == state.AddrOf(netip.AddrFrom4(b4))
	}, 5*time.Second, 20*time.Millisecond)
	_, ok = vh.Node("a").Table.Lookup(state.NodeAddr("203.0.113.7"))
	assert.False(t, ok)
	assert.False(t, vh.Node("a").Failed.Load())
}
