package state

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNameValidator_Valid(t *testing.T) {
	assert.NoError(t, NameValidator("1"))
	assert.NoError(t, NameValidator("ab_cd"))
	assert.NoError(t, NameValidator("abcd-a.com"))
}

func TestNameValidator_Invalid(t *testing.T) {
	assert.Error(t, NameValidator("1A"))
	assert.Error(t, NameValidator("node name"))
	assert.Error(t, NameValidator(""))
	assert.Error(t, NameValidator("\t"))
	assert.Error(t, NameValidator("abcd-a.com\\hi"))
	assert.Error(t, NameValidator(strings.Repeat("a", 200)))
}

func validCfg() LocalCfg {
	return LocalCfg{
		Id:                "r1",
		Role:              RoleRelay,
		AdvertisePort:     5000,
		PayloadPort:       6000,
		LinkDelay:         120,
		AdvertiseInterval: Interval(time.Second),
	}
}

func TestNodeConfigValidator_Valid(t *testing.T) {
	cfg := validCfg()
	assert.NoError(t, NodeConfigValidator(&cfg))
}

func TestNodeConfigValidator_Invalid(t *testing.T) {
	cases := map[string]func(cfg *LocalCfg){
		"bad name":      func(cfg *LocalCfg) { cfg.Id = "Relay 1" },
		"bad role":      func(cfg *LocalCfg) { cfg.Role = "router" },
		"no port":       func(cfg *LocalCfg) { cfg.PayloadPort = 0 },
		"same ports":    func(cfg *LocalCfg) { cfg.PayloadPort = cfg.AdvertisePort },
		"leaf no api":   func(cfg *LocalCfg) { cfg.Role = RoleLeaf },
		"zero delay":    func(cfg *LocalCfg) { cfg.LinkDelay = 0 },
		"inf delay":     func(cfg *LocalCfg) { cfg.LinkDelay = INF },
		"zero interval": func(cfg *LocalCfg) { cfg.AdvertiseInterval = 0 },
		"ipv6 address":  func(cfg *LocalCfg) { cfg.Addresses = []netip.Addr{netip.MustParseAddr("fd00::1")} },
		"bad log path":  func(cfg *LocalCfg) { cfg.LogPath = "/does/not/exist/node.log" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validCfg()
			mutate(&cfg)
			assert.Error(t, NodeConfigValidator(&cfg))
		})
	}
}

func TestTopologyValidator(t *testing.T) {
	valid := TopologyCfg{
		Nodes: []TopologyNode{{Id: "a", Role: RoleRelay}, {Id: "b", Role: RoleLeaf}},
		Graph: []string{"a, b"},
	}
	assert.NoError(t, TopologyValidator(&valid))

	dup := valid
	dup.Nodes = []TopologyNode{{Id: "a", Role: RoleRelay}, {Id: "a", Role: RoleLeaf}}
	assert.ErrorContains(t, TopologyValidator(&dup), "duplicate")

	badRole := valid
	badRole.Nodes = []TopologyNode{{Id: "a", Role: RoleRelay}, {Id: "b", Role: "router"}}
	assert.ErrorContains(t, TopologyValidator(&badRole), "role")

	badGraph := valid
	badGraph.Graph = []string{"a, c"}
	assert.Error(t, TopologyValidator(&badGraph))

	single := TopologyCfg{Nodes: []TopologyNode{{Id: "a", Role: RoleRelay}}}
	assert.Error(t, TopologyValidator(&single))
}
