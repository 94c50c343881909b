package core

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/encodeous/dvsim/state"
)

// LocalAddresses enumerates the IPv4 addresses of every interface that is up, except loopback and excluded prefixes.
func LocalAddresses(exclude []netip.Prefix) ([]netip.Addr, error) {
	itfs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	addrs := make([]netip.Addr, 0)
	for _, itf := range itfs {
		if itf.Flags&net.FlagUp == 0 || itf.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifAddrs, err := itf.Addrs()
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", itf.Name, err)
		}
		for _, ifAddr := range ifAddrs {
			ipNet, ok := ifAddr.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipNet.IP)
			if !ok {
				continue
			}
			addr = addr.Unmap()
			if addr.Is4() && !addr.IsLoopback() {
				addrs = append(addrs, addr)
			}
		}
	}
	return state.FilterExcluded(addrs, exclude), nil
}

// ResolveSelf returns the configured addresses, or the enumerated ones when none are configured.
func ResolveSelf(cfg *state.LocalCfg) ([]netip.Addr, error) {
	if len(cfg.Addresses) != 0 {
		return state.FilterExcluded(cfg.Addresses, cfg.ExcludeIPs), nil
	}
	return LocalAddresses(cfg.ExcludeIPs)
}
