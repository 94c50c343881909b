package core

import (
	"net/netip"

	"github.com/encodeous/dvsim/protocol"
	"github.com/encodeous/dvsim/state"
)

type RouterEvent int

// trace events

const (
	RouteAdded RouterEvent = iota
	RouteImproved
	RouteIgnored
	SelfAdvertisementDropped
	PayloadRelayed
	PayloadDelivered
	SolicitationAnswered
)

// warn events

const (
	MalformedAdvertisement RouterEvent = iota + 1000
	MalformedPayload
	NoRoute
	OffLinkSender
)

func (e RouterEvent) IsWarning() bool {
	return e >= MalformedAdvertisement
}

func (e RouterEvent) String() string {
	switch e {
	case RouteAdded:
		return "RouteAdded"
	case RouteImproved:
		return "RouteImproved"
	case RouteIgnored:
		return "RouteIgnored"
	case SelfAdvertisementDropped:
		return "SelfAdvertisementDropped"
	case PayloadRelayed:
		return "PayloadRelayed"
	case PayloadDelivered:
		return "PayloadDelivered"
	case SolicitationAnswered:
		return "SolicitationAnswered"
	case MalformedAdvertisement:
		return "MalformedAdvertisement"
	case MalformedPayload:
		return "MalformedPayload"
	case NoRoute:
		return "NoRoute"
	case OffLinkSender:
		return "OffLinkSender"
	}
	return "Unknown"
}

// Router is an interface that defines the underlying router operations
type Router interface {
	BroadcastAdvertisement(adv protocol.Advertisement)
	SendAdvertisement(to state.NodeAddr, adv protocol.Advertisement)
	RelayPayload(nh state.NodeAddr, payload []byte)
	DeliverPayload(dst state.NodeAddr, payload []byte)
	Log(event RouterEvent, desc string, args ...any)
}

// HandleAdvertisement merges an advertisement received from sender into the table.
// Every entry costs linkDelay more and one hop more than the sender advertised, with sender as the next hop.
// Returns the number of routes that were added or improved.
func HandleAdvertisement(tbl *state.RouteTable, r Router, sender state.NodeAddr, adv protocol.Advertisement, linkDelay uint32) int {
	updated := 0
	for _, adr := range adv.Routes {
		candidate := state.RouteEntry{
			Destination: adr.Destination,
			Distance:    state.AddMetric(adr.Distance, linkDelay),
			HopCount:    adr.HopCount + 1,
			NextHop:     sender,
		}
		prev, existed, ok := tbl.Improve(candidate)
		switch {
		case ok && !existed:
			updated++
			r.Log(RouteAdded, "route added", "dst", candidate.Destination, "route", candidate)
		case ok:
			updated++
			r.Log(RouteImproved, "route improved", "dst", candidate.Destination, "from", prev, "to", candidate)
		default:
			r.Log(RouteIgnored, "route ignored", "dst", candidate.Destination, "candidate", candidate, "current", prev)
		}
	}
	return updated
}

// HandleAdvertisementMessage decodes and merges a raw advertisement message.
// Messages that we sent ourselves are dropped, malformed entries are reported and skipped.
// Returns the number of routes added or improved, and the number of entries skipped.
func HandleAdvertisementMessage(tbl *state.RouteTable, r Router, isSelf func(state.NodeAddr) bool, sender state.NodeAddr, msg []byte, linkDelay uint32) (int, int) {
	if len(msg) == 0 {
		return 0, 0
	}
	if isSelf(sender) {
		r.Log(SelfAdvertisementDropped, "dropped own advertisement", "from", sender)
		return 0, 0
	}
	adv, err := protocol.DecodeAdvertisement(msg)
	skipped := protocol.SkippedEntries(err)
	if err != nil {
		r.Log(MalformedAdvertisement, "malformed advertisement", "from", sender, "skipped", skipped, "err", err)
	}
	return HandleAdvertisement(tbl, r, sender, adv, linkDelay), skipped
}

// AcceptSender reports whether a datagram from sender may be processed.
// Only hosts sharing one of our broadcast domains are neighbours.
func AcceptSender(r Router, domains *state.Domains, sender netip.Addr, channel string) bool {
	if domains.OnLink(sender) {
		return true
	}
	r.Log(OffLinkSender, "dropped datagram from off-link sender", "from", sender, "channel", channel)
	return false
}

// Advertise broadcasts the current table. An empty table advertises our own addresses.
func Advertise(tbl *state.RouteTable, r Router, self []state.NodeAddr) {
	r.BroadcastAdvertisement(protocol.FromSnapshot(tbl.Snapshot(), self))
}

// HandleSolicitation answers a relay's advertisement with our own table.
func HandleSolicitation(tbl *state.RouteTable, r Router, self []state.NodeAddr, from state.NodeAddr) {
	tbl.SeedSelfIfEmpty(self)
	r.SendAdvertisement(from, protocol.FromSnapshot(tbl.Snapshot(), self))
	r.Log(SolicitationAnswered, "answered solicitation", "to", from)
}

// HandlePayload routes a payload towards its destination. Payloads addressed to us are delivered locally.
func HandlePayload(tbl *state.RouteTable, r Router, isSelf func(state.NodeAddr) bool, payload []byte) {
	dst, err := protocol.PayloadDestination(payload)
	if err != nil {
		r.Log(MalformedPayload, "dropped payload", "err", err)
		return
	}
	if isSelf(dst) {
		r.DeliverPayload(dst, payload)
		r.Log(PayloadDelivered, "payload delivered", "dst", dst)
		return
	}
	route, ok := tbl.Lookup(dst)
	if !ok {
		r.Log(NoRoute, "no route to destination", "dst", dst)
		return
	}
	r.RelayPayload(route.NextHop, payload)
	r.Log(PayloadRelayed, "payload relayed", "dst", dst, "nh", route.NextHop)
}

// HandleLeafPayload delivers a payload addressed to us. A leaf never relays, other payloads are ignored.
func HandleLeafPayload(r Router, isSelf func(state.NodeAddr) bool, payload []byte) bool {
	dst, err := protocol.PayloadDestination(payload)
	if err != nil {
		r.Log(MalformedPayload, "dropped payload", "err", err)
		return false
	}
	if !isSelf(dst) {
		return false
	}
	r.DeliverPayload(dst, payload)
	r.Log(PayloadDelivered, "payload delivered", "dst", dst)
	return true
}
