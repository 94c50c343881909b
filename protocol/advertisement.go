package protocol

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/encodeous/dvsim/state"
)

var (
	ErrMissingPrefix      = errors.New("message does not start with " + state.AdvertisementPrefix)
	ErrEmptyAdvertisement = errors.New("advertisement carries no routes")
	ErrMalformedEntry     = errors.New("malformed advertisement entry")
)

// AdvertisedRoute is a single entry of an advertisement, as seen by the sender.
type AdvertisedRoute struct {
	Destination state.NodeAddr
	Distance    uint32
	HopCount    uint32
}

// Advertisement is the typed form of a ROUTING_TABLE message.
type Advertisement struct {
	Routes []AdvertisedRoute
}

func (a Advertisement) IsEmpty() bool {
	return len(a.Routes) == 0
}

// FromSnapshot builds the advertisement of a table snapshot. When the snapshot is empty, the node advertises its own addresses at distance 0.
func FromSnapshot(routes []state.RouteEntry, self []state.NodeAddr) Advertisement {
	if len(routes) == 0 {
		routes = make([]state.RouteEntry, 0, len(self))
		for _, addr := range self {
			routes = append(routes, state.SelfRoute(addr))
		}
	}
	adv := Advertisement{Routes: make([]AdvertisedRoute, 0, len(routes))}
	for _, r := range routes {
		adv.Routes = append(adv.Routes, AdvertisedRoute{
			Destination: r.Destination,
			Distance:    r.Distance,
			HopCount:    r.HopCount,
		})
	}
	return adv
}

// EncodeTable snapshots the table and encodes it.
func EncodeTable(tbl *state.RouteTable, self []state.NodeAddr) []byte {
	return Encode(FromSnapshot(tbl.Snapshot(), self))
}

// Encode writes adv in wire format, entries sorted by destination.
func Encode(adv Advertisement) []byte {
	routes := slices.Clone(adv.Routes)
	slices.SortFunc(routes, func(a, b AdvertisedRoute) int {
		return strings.Compare(string(a.Destination), string(b.Destination))
	})
	sb := strings.Builder{}
	sb.WriteString(state.AdvertisementPrefix)
	for i, r := range routes {
		if i != 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(r.Destination))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatUint(uint64(r.Distance), 10))
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatUint(uint64(r.HopCount), 10))
	}
	return []byte(sb.String())
}

// IsAdvertisement reports whether msg carries the advertisement prefix. A leaf treats such a message as a solicitation.
func IsAdvertisement(msg []byte) bool {
	return strings.HasPrefix(string(msg), state.AdvertisementPrefix)
}

// DecodeAdvertisement parses a ROUTING_TABLE message.
// Malformed entries are skipped, the returned Advertisement holds every well-formed entry even when err is not nil.
// err joins one diagnostic per skipped entry, each wrapping ErrMalformedEntry.
func DecodeAdvertisement(msg []byte) (Advertisement, error) {
	body, ok := strings.CutPrefix(string(msg), state.AdvertisementPrefix)
	if !ok {
		return Advertisement{}, ErrMissingPrefix
	}
	adv := Advertisement{}
	var errs []error
	seen := false
	for i, entry := range strings.Split(body, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue // trailing comma
		}
		seen = true
		route, err := decodeEntry(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d %q: %w", i, entry, err))
			continue
		}
		adv.Routes = append(adv.Routes, route)
	}
	if !seen {
		return Advertisement{}, ErrEmptyAdvertisement
	}
	return adv, errors.Join(errs...)
}

// SkippedEntries counts the entries DecodeAdvertisement reported in err.
func SkippedEntries(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range joined.Unwrap() {
			if errors.Is(e, ErrMalformedEntry) {
				n++
			}
		}
		return n
	}
	if errors.Is(err, ErrMalformedEntry) {
		return 1
	}
	return 0
}

func decodeEntry(entry string) (AdvertisedRoute, error) {
	fields := strings.Split(entry, ":")
	if len(fields) != 3 {
		return AdvertisedRoute{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedEntry, len(fields))
	}
	if fields[0] == "" {
		return AdvertisedRoute{}, fmt.Errorf("%w: empty destination", ErrMalformedEntry)
	}
	dist, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return AdvertisedRoute{}, fmt.Errorf("%w: distance: %w", ErrMalformedEntry, err)
	}
	hops, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return AdvertisedRoute{}, fmt.Errorf("%w: hop count: %w", ErrMalformedEntry, err)
	}
	return AdvertisedRoute{
		Destination: state.NodeAddr(fields[0]),
		Distance:    uint32(dist),
		HopCount:    uint32(hops),
	}, nil
}
