package state

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

type TopologyNode struct {
	Id        string `yaml:"id"`
	Role      Role   `yaml:"role"`
	LinkDelay uint32 `yaml:"link_delay,omitempty"`
}

// TopologyCfg describes a simulated network. Every link of Graph becomes its own broadcast domain.
type TopologyCfg struct {
	Nodes []TopologyNode `yaml:"nodes"`
	Graph []string       `yaml:"graph"`
	// Base is the /16 that link domains are carved out of
	Base netip.Prefix `yaml:"base,omitempty"`
}

var DefaultTopologyBase = netip.MustParsePrefix("10.100.0.0/16")

func (t *TopologyCfg) NodeIds() []string {
	ids := make([]string, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		ids = append(ids, n.Id)
	}
	return ids
}

// Links expands Graph into the sorted list of node pairs that share a link.
func (t *TopologyCfg) Links() ([]Pair[string, string], error) {
	return ParseGraph(t.Graph, t.NodeIds())
}

// AssignAddresses gives link i the domain base.i.0/24, with .1 for the first node of the pair and .2 for the second.
func (t *TopologyCfg) AssignAddresses() (map[string][]netip.Addr, error) {
	base := t.Base
	if !base.IsValid() {
		base = DefaultTopologyBase
	}
	if !base.Addr().Is4() || base.Bits() > 16 {
		return nil, fmt.Errorf("topology base %s must be an IPv4 prefix of at most 16 bits", base)
	}
	links, err := t.Links()
	if err != nil {
		return nil, err
	}
	if len(links) > 256 {
		return nil, fmt.Errorf("topology has %d links, at most 256 are supported", len(links))
	}
	addrs := make(map[string][]netip.Addr)
	b := base.Masked().Addr().As4()
	for i, link := range links {
		b[2] = byte(i)
		b[3] = 1
		addrs[link.V1] = append(addrs[link.V1], netip.AddrFrom4(b))
		b[3] = 2
		addrs[link.V2] = append(addrs[link.V2], netip.AddrFrom4(b))
	}
	return addrs, nil
}

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	line := make([]string, 0)
	for _, sym := range strings.Split(strings.TrimSpace(s), ",") {
		x := strings.TrimSpace(sym)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, fmt.Errorf(`%s is not a valid node/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf(`node/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}

/*
ParseGraph Graph syntax is something like this:

Group1 = node1, node2, node3

Group2 = node4, node5

Group1, Group2, OtherNode // Group1, Group2, OtherNode will all be interconnected, but not within Group1 or Group2

Group1, Group1 // every node is connected to every other node

node8, node9 // node8 and node9 will be connected
*/
func ParseGraph(graph []string, nodes []string) ([]Pair[string, string], error) {
	groups := make(map[string][]string)
	lines := make([][]string, 0)

	// pass 0, collect group names so that they can be referenced before their definition
	symbols := slices.Clone(nodes)
	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		name, _, isGroup := strings.Cut(line, "=")
		if !isGroup {
			continue
		}
		if strings.Count(line, "=") != 1 {
			return nil, fmt.Errorf("invalid graph: %s. group definition must contain one '='", line)
		}
		grp := strings.TrimSpace(name)
		if slices.Contains(nodes, grp) {
			return nil, fmt.Errorf("group name must not be a node name: %s", grp)
		}
		symbols = append(symbols, grp)
	}

	// pass 1, parse definitions and pairings
	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if name, members, isGroup := strings.Cut(line, "="); isGroup {
			grp := strings.TrimSpace(name)
			if _, ok := groups[grp]; ok {
				return nil, fmt.Errorf("duplicate group name: %s", grp)
			}
			lst, err := parseSymbolList(members, symbols)
			if err != nil {
				return nil, err
			}
			groups[grp] = lst
			continue
		}
		names, err := parseSymbolList(line, symbols)
		if err != nil {
			return nil, err
		}
		if len(names) < 2 {
			return nil, fmt.Errorf("invalid pairing, %v", names)
		}
		lines = append(lines, names)
	}

	// pass 2, expand groups down to nodes
	expanded := make(map[string][]string)
	visiting := make(map[string]bool)
	var expand func(sym string) ([]string, error)
	expand = func(sym string) ([]string, error) {
		if slices.Contains(nodes, sym) {
			return []string{sym}, nil
		}
		if res, ok := expanded[sym]; ok {
			return res, nil
		}
		if visiting[sym] {
			cycle := make([]string, 0)
			for g, v := range visiting {
				if v {
					cycle = append(cycle, g)
				}
			}
			slices.Sort(cycle)
			return nil, fmt.Errorf("cycle detected in graph: %v", cycle)
		}
		visiting[sym] = true
		res := make([]string, 0)
		for _, member := range groups[sym] {
			sub, err := expand(member)
			if err != nil {
				return nil, err
			}
			res = append(res, sub...)
		}
		visiting[sym] = false
		slices.Sort(res)
		res = slices.Compact(res)
		expanded[sym] = res
		return res, nil
	}
	for grp := range groups {
		if _, err := expand(grp); err != nil {
			return nil, err
		}
	}

	// pass 3, interconnect every pair of symbols on a line
	pairings := make([]Pair[string, string], 0)
	for _, names := range lines {
		for i := range names {
			for j := i + 1; j < len(names); j++ {
				x, _ := expand(names[i])
				y, _ := expand(names[j])
				for _, x1 := range x {
					for _, y1 := range y {
						if x1 != y1 {
							pairings = append(pairings, MakeSortedPair(x1, y1))
						}
					}
				}
			}
		}
	}
	SortPairs(pairings)
	return slices.Compact(pairings), nil
}
