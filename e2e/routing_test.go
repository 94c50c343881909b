//go:build e2e

package e2e

import (
	"fmt"
	"strings"
	"testing"

	"github.com/encodeous/dvsim/state"
)

// alice -A- r1 -B- r2 -C- bob, every segment is its own broadcast domain
func TestRelayChain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	t.Parallel()

	h := NewHarness(t)
	segA, segB, segC := h.NewSegment(), h.NewSegment(), h.NewSegment()
	dir := h.SetupTestDir()

	aliceIP, bobIP := segA.Host(10), segC.Host(10)
	h.StartNodes(
		NodeSpec{
			Name:           "alice",
			NodeConfigPath: h.WriteConfig(dir, "alice.yaml", SimpleNode("alice", state.RoleLeaf, 5)),
			Attach:         []Attachment{{segA, aliceIP}},
		},
		NodeSpec{
			Name:           "r1",
			NodeConfigPath: h.WriteConfig(dir, "r1.yaml", SimpleNode("r1", state.RoleRelay, 100)),
			Attach:         []Attachment{{segA, segA.Host(20)}, {segB, segB.Host(20)}},
		},
		NodeSpec{
			Name:           "r2",
			NodeConfigPath: h.WriteConfig(dir, "r2.yaml", SimpleNode("r2", state.RoleRelay, 200)),
			Attach:         []Attachment{{segB, segB.Host(30)}, {segC, segC.Host(30)}},
		},
		NodeSpec{
			Name:           "bob",
			NodeConfigPath: h.WriteConfig(dir, "bob.yaml", SimpleNode("bob", state.RoleLeaf, 5)),
			Attach:         []Attachment{{segC, bobIP}},
		},
	)

	t.Log("Waiting for convergence...")
	h.StartTrace("r1")
	h.WaitForTrace("r1", fmt.Sprintf("dst=%s", bobIP))

	stdout, _, err := h.Exec("r1", []string{"dvsim", "inspect", InspectBind})
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	t.Logf("r1 routes:\n%s", stdout)
	var found bool
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 4 && fields[0] == bobIP {
			found = true
			// r1 pays its own delay, then r2's
			if fields[1] != "300" || fields[2] != "2" {
				t.Errorf("unexpected route to bob: %s", line)
			}
		}
	}
	if !found {
		t.Fatalf("r1 has no route to %s", bobIP)
	}

	_, _, err = h.Exec("alice", []string{"dvsim", "send", bobIP, "hello bob"})
	if err != nil {
		h.PrintLogs("r1")
		h.PrintLogs("r2")
		t.Fatalf("send failed: %v", err)
	}
	h.WaitForLog("bob", "payload delivered")
	h.WaitForLog("bob", "hello bob")
}

func TestLeafRejectsPayloadWithoutDestination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	t.Parallel()

	h := NewHarness(t)
	seg := h.NewSegment()
	dir := h.SetupTestDir()
	h.StartNode(NodeSpec{
		Name:           "alice",
		NodeConfigPath: h.WriteConfig(dir, "alice.yaml", SimpleNode("alice", state.RoleLeaf, 5)),
		Attach:         []Attachment{{seg, seg.Host(10)}},
	})

	stdout, _, err := h.Exec("alice", []string{"wget", "-q", "-O", "-", "--post-data", "message=hi", "http://127.0.0.1:8080/send-packet"})
	if err == nil {
		t.Fatalf("expected the ingestion api to reject the payload, got %q", stdout)
	}
}
