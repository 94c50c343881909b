package state

import (
	"math/rand/v2"
	"net"
	"net/netip"
	"os"

	"github.com/cilium/cilium/pkg/ip"
)

type Role string

const (
	RoleRelay Role = "relay"
	RoleLeaf  Role = "leaf"
)

// LocalCfg represents local node-level configuration
type LocalCfg struct {
	Id            string         `yaml:"id,omitempty"`             // used to prefix logs, defaults to the hostname
	Role          Role           `yaml:"role"`                     // relay or leaf
	AdvertisePort uint16         `yaml:"advertise_port,omitempty"` // routing advertisement channel
	PayloadPort   uint16         `yaml:"payload_port,omitempty"`   // payload forwarding channel
	// netip.AddrPort has no exported fields, omitempty would always drop it
	ApiBind     netip.AddrPort `yaml:"api_bind"`     // leaf only, the payload ingestion api
	InspectBind netip.AddrPort `yaml:"inspect_bind"` // if set, serves the route table and metrics
	// LinkDelay is added to every route learned from an advertisement. Drawn at random when zero.
	LinkDelay         uint32         `yaml:"link_delay,omitempty"`
	AdvertiseInterval Interval       `yaml:"advertise_interval,omitempty"`
	Addresses         []netip.Addr   `yaml:"addresses,omitempty"`   // overrides interface enumeration
	ExcludeIPs        []netip.Prefix `yaml:"exclude_ips,omitempty"` // local addresses inside these prefixes are not used
	LogPath           string         `yaml:"log_path,omitempty"`    // if not empty, logs are also written to this file
	RestartOnFailure  bool           `yaml:"restart_on_failure,omitempty"`
}

// ApplyDefaults fills every unset field. The link delay is chosen here, once per node.
func ApplyDefaults(cfg *LocalCfg) {
	if cfg.Id == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "node"
		}
		cfg.Id = host
	}
	if cfg.Role == "" {
		cfg.Role = RoleRelay
	}
	if cfg.AdvertisePort == 0 {
		cfg.AdvertisePort = DefaultAdvertisePort
	}
	if cfg.PayloadPort == 0 {
		cfg.PayloadPort = DefaultPayloadPort
	}
	if cfg.Role == RoleLeaf && !cfg.ApiBind.IsValid() {
		cfg.ApiBind = netip.AddrPortFrom(netip.IPv4Unspecified(), DefaultApiPort)
	}
	if cfg.LinkDelay == 0 {
		cfg.LinkDelay = MinLinkDelay + rand.Uint32N(MaxLinkDelay-MinLinkDelay)
	}
	if cfg.AdvertiseInterval == 0 {
		cfg.AdvertiseInterval = Interval(AdvertiseInterval)
	}
}

func toIPNets(prefixes []netip.Prefix) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsValid() {
			nets = append(nets, &net.IPNet{
				IP:   p.Addr().AsSlice(),
				Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
			})
		}
	}
	return nets
}

func fromIPNets(nets []*net.IPNet) []netip.Prefix {
	output := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		if addr, ok := netip.AddrFromSlice(n.IP); ok {
			ones, _ := n.Mask.Size()
			output = append(output, netip.PrefixFrom(addr.Unmap(), ones))
		}
	}
	return output
}

func SubtractPrefix(includesPrefix, excludesPrefix []netip.Prefix) []netip.Prefix {
	result := ip.RemoveCIDRs(toIPNets(includesPrefix), toIPNets(excludesPrefix))
	ipv4, ipv6 := ip.CoalesceCIDRs(result)
	return fromIPNets(append(ipv4, ipv6...))
}

// FilterExcluded drops every address that falls inside one of the excluded prefixes.
func FilterExcluded(addrs []netip.Addr, exclude []netip.Prefix) []netip.Addr {
	if len(exclude) == 0 {
		return addrs
	}
	kept := make([]netip.Addr, 0, len(addrs))
	for _, addr := range addrs {
		host := netip.PrefixFrom(addr, addr.BitLen())
		if len(SubtractPrefix([]netip.Prefix{host}, exclude)) != 0 {
			kept = append(kept, addr)
		}
	}
	return kept
}
