package mock

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/dvsim/state"
)

// PacketFilter returns true to drop the datagram
type PacketFilter func(from, to netip.AddrPort, data []byte) bool

func (f PacketFilter) TryApply(from, to netip.AddrPort, data []byte) bool {
	if f == nil {
		return false
	}
	return f(from, to, data)
}

// Network is an in-memory IPv4 network made of /24 broadcast domains.
// A datagram sent to a.b.c.255 reaches every endpoint with an address in a.b.c.0/24 on the same port, the sender included.
type Network struct {
	mu         sync.Mutex
	ports      map[netip.AddrPort]*Endpoint
	stopped    atomic.Bool
	Latency    time.Duration
	Jitter     time.Duration
	PacketLoss float64
	Filter     PacketFilter
	// InboxSize is the number of datagrams an endpoint queues before dropping
	InboxSize int
}

func NewNetwork() *Network {
	return &Network{
		ports:     make(map[netip.AddrPort]*Endpoint),
		InboxSize: 256,
	}
}

func (n *Network) WithLatency(lat, jitter time.Duration) *Network {
	n.Latency = lat
	n.Jitter = jitter
	return n
}

func (n *Network) WithPacketLoss(loss float64) *Network {
	n.PacketLoss = loss
	return n
}

// Listener returns the ListenFunc of a node owning addrs
func (n *Network) Listener(addrs []netip.Addr) state.ListenFunc {
	return func(ctx context.Context, port uint16, bufSize int) (state.Transport, error) {
		ep, err := n.Bind(addrs, port, bufSize)
		if err != nil {
			return nil, err
		}
		return ep, nil
	}
}

// Bind opens port on every address of addrs
func (n *Network) Bind(addrs []netip.Addr, port uint16, bufSize int) (*Endpoint, error) {
	if n.stopped.Load() {
		return nil, net.ErrClosed
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	ep := &Endpoint{
		net:     n,
		addrs:   make([]netip.Addr, 0, len(addrs)),
		port:    port,
		bufSize: bufSize,
		inbox:   make(chan state.Datagram, n.InboxSize),
		closed:  make(chan struct{}),
	}
	for _, addr := range addrs {
		ap := netip.AddrPortFrom(addr.Unmap(), port)
		if _, ok := n.ports[ap]; ok {
			return nil, fmt.Errorf("bind %s: address already in use", ap)
		}
		ep.addrs = append(ep.addrs, addr.Unmap())
	}
	for _, addr := range ep.addrs {
		n.ports[netip.AddrPortFrom(addr, port)] = ep
	}
	return ep, nil
}

func (n *Network) unbind(ep *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, addr := range ep.addrs {
		ap := netip.AddrPortFrom(addr, ep.port)
		if n.ports[ap] == ep {
			delete(n.ports, ap)
		}
	}
}

// Stop drops every datagram still in flight
func (n *Network) Stop() {
	n.stopped.Store(true)
}

func sameDomain(a, b netip.Addr) bool {
	pa, ok := state.DomainOf(a)
	return ok && pa.Contains(b)
}

// localIn returns the address of ep in the domain of peer
func (ep *Endpoint) localIn(peer netip.Addr) (netip.Addr, bool) {
	for _, addr := range ep.addrs {
		if sameDomain(addr, peer) {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

func isBroadcast(addr netip.Addr) bool {
	b, ok := state.BroadcastAddr(addr)
	return ok && b == addr
}

func (n *Network) route(from *Endpoint, to netip.Addr, data []byte) error {
	if n.stopped.Load() {
		return net.ErrClosed
	}
	to = to.Unmap()
	src, ok := from.localIn(to)
	if !ok {
		return fmt.Errorf("send to %s: network is unreachable", to)
	}

	targets := make([]*Endpoint, 0)
	n.mu.Lock()
	if isBroadcast(to) {
		seen := make(map[*Endpoint]struct{})
		for ap, ep := range n.ports {
			if ap.Port() != from.port || !sameDomain(ap.Addr(), to) {
				continue
			}
			if _, ok := seen[ep]; !ok {
				seen[ep] = struct{}{}
				targets = append(targets, ep)
			}
		}
	} else if ep, ok := n.ports[netip.AddrPortFrom(to, from.port)]; ok {
		targets = append(targets, ep)
	}
	n.mu.Unlock()

	for _, ep := range targets {
		n.transmit(netip.AddrPortFrom(src, from.port), netip.AddrPortFrom(to, from.port), ep, data)
	}
	return nil
}

func (n *Network) transmit(from, to netip.AddrPort, ep *Endpoint, data []byte) {
	if n.PacketLoss > 0 && rand.Float64() < n.PacketLoss {
		return
	}
	if n.Filter.TryApply(from, to, data) {
		return
	}
	dg := state.Datagram{
		From: from.Addr(),
		Data: bytes.Clone(data[:min(len(data), ep.bufSize)]),
	}
	if n.Latency == 0 {
		ep.deliver(dg)
		return
	}
	lat := n.Latency + time.Duration(rand.Float64()*float64(n.Jitter))
	time.AfterFunc(lat, func() {
		if !n.stopped.Load() {
			ep.deliver(dg)
		}
	})
}

// Endpoint is a socket of a node bound to one port on every address of the node
type Endpoint struct {
	net       *Network
	addrs     []netip.Addr
	port      uint16
	bufSize   int
	inbox     chan state.Datagram
	closed    chan struct{}
	closeOnce sync.Once
}

func (ep *Endpoint) deliver(dg state.Datagram) {
	select {
	case <-ep.closed:
	case ep.inbox <- dg:
	default:
		// inbox full, the datagram is lost
	}
}

func (ep *Endpoint) Recv(ctx context.Context) (state.Datagram, error) {
	select {
	case <-ep.closed:
		return state.Datagram{}, net.ErrClosed
	default:
	}
	select {
	case dg := <-ep.inbox:
		return dg, nil
	case <-ctx.Done():
		return state.Datagram{}, ctx.Err()
	case <-ep.closed:
		return state.Datagram{}, net.ErrClosed
	}
}

func (ep *Endpoint) Send(to netip.Addr, data []byte) error {
	select {
	case <-ep.closed:
		return net.ErrClosed
	default:
	}
	return ep.net.route(ep, to, data)
}

func (ep *Endpoint) Close() error {
	ep.closeOnce.Do(func() {
		close(ep.closed)
		ep.net.unbind(ep)
	})
	return nil
}
