package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

// NodeConfigValidator expects ApplyDefaults to have run
func NodeConfigValidator(node *LocalCfg) error {
	err := NameValidator(node.Id)
	if err != nil {
		return err
	}
	if node.Role != RoleRelay && node.Role != RoleLeaf {
		return fmt.Errorf("role %q is invalid, must be %q or %q", node.Role, RoleRelay, RoleLeaf)
	}
	if node.AdvertisePort == 0 || node.PayloadPort == 0 {
		return fmt.Errorf("advertise_port and payload_port must be set")
	}
	if node.AdvertisePort == node.PayloadPort {
		return fmt.Errorf("advertise_port and payload_port must differ, both are %d", node.PayloadPort)
	}
	if node.Role == RoleLeaf && !node.ApiBind.IsValid() {
		return fmt.Errorf("node.ApiBind is invalid")
	}
	if node.LinkDelay == 0 || node.LinkDelay == INF {
		return fmt.Errorf("link_delay must be in (0, %d), got %d", INF, node.LinkDelay)
	}
	if node.AdvertiseInterval <= 0 {
		return fmt.Errorf("advertise_interval must be positive, got %s", node.AdvertiseInterval.Duration())
	}
	for _, addr := range node.Addresses {
		if !addr.Unmap().Is4() {
			return fmt.Errorf("address %s is not an IPv4 address", addr)
		}
	}
	if node.LogPath != "" {
		if err := PathValidator(node.LogPath); err != nil {
			return fmt.Errorf("log_path is invalid: %w", err)
		}
	}
	return nil
}

func TopologyValidator(t *TopologyCfg) error {
	seen := make(map[string]bool)
	for _, node := range t.Nodes {
		if err := NameValidator(node.Id); err != nil {
			return err
		}
		if seen[node.Id] {
			return fmt.Errorf("duplicate node id: %s", node.Id)
		}
		seen[node.Id] = true
		if node.Role != RoleRelay && node.Role != RoleLeaf {
			return fmt.Errorf("node %s: role %q is invalid", node.Id, node.Role)
		}
		if node.LinkDelay == INF {
			return fmt.Errorf("node %s: link_delay must be below %d", node.Id, INF)
		}
	}
	if len(t.Nodes) < 2 {
		return fmt.Errorf("topology needs at least two nodes, got %d", len(t.Nodes))
	}
	_, err := t.AssignAddresses()
	return err
}
