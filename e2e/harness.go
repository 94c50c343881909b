//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/encodeous/dvsim/state"
	"github.com/goccy/go-yaml"
	"github.com/testcontainers/testcontainers-go"
	tcnetwork "github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	ImageName   = "dvsim-debug:latest"
	InspectBind = "127.0.0.1:7000"
	WaitTimeout = 2 * time.Minute
)

// subnets are handed out from 172.28.0.0/16 so that parallel tests never share a broadcast domain
type networkAllocator struct {
	next atomic.Uint32
}

var GlobalNetworkAllocator = &networkAllocator{}

func (a *networkAllocator) Allocate() (subnet, gateway string) {
	i := a.next.Add(1) % 256
	return fmt.Sprintf("172.28.%d.0/24", i), fmt.Sprintf("172.28.%d.1", i)
}

// Segment is a docker bridge network, i.e. one broadcast domain
type Segment struct {
	Network *testcontainers.DockerNetwork
	Subnet  string
	Gateway string
}

// Host returns the address of host i in the segment
func (s *Segment) Host(i int) string {
	return fmt.Sprintf("%s.%d", s.Gateway[:len(s.Gateway)-2], i)
}

type Harness struct {
	t          *testing.T
	mu         sync.Mutex
	ctx        context.Context
	Segments   []*Segment
	Nodes      map[string]testcontainers.Container
	LogManager *LogManager
	RootDir    string
}

func findRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	rootDir := wd
	for {
		if _, err := os.Stat(filepath.Join(rootDir, "go.mod")); err == nil {
			return rootDir, nil
		}
		parent := filepath.Dir(rootDir)
		if parent == rootDir {
			return "", fmt.Errorf("could not find project root")
		}
		rootDir = parent
	}
}

func NewHarness(t *testing.T) *Harness {
	rootDir, err := findRoot()
	if err != nil {
		t.Fatal(err)
	}
	h := &Harness{
		t:          t,
		ctx:        context.Background(),
		Nodes:      make(map[string]testcontainers.Container),
		LogManager: NewLogManager(),
		RootDir:    rootDir,
	}
	t.Cleanup(func() {
		h.Cleanup()
	})
	return h
}

// NewSegment creates a bridge network with its own /24
func (h *Harness) NewSegment() *Segment {
	subnet, gateway := GlobalNetworkAllocator.Allocate()
	h.t.Logf("Allocated subnet: %s, gateway: %s", subnet, gateway)
	net, err := tcnetwork.New(h.ctx,
		tcnetwork.WithAttachable(),
		tcnetwork.WithDriver("bridge"),
		tcnetwork.WithIPAM(&network.IPAM{
			Driver: "default",
			Config: []network.IPAMConfig{
				{
					Subnet:  subnet,
					Gateway: gateway,
				},
			},
		}))
	if err != nil {
		h.t.Fatal(err)
	}
	seg := &Segment{Network: net, Subnet: subnet, Gateway: gateway}
	h.mu.Lock()
	h.Segments = append(h.Segments, seg)
	h.mu.Unlock()
	return seg
}

// Attachment places a node at IP on a segment
type Attachment struct {
	Segment *Segment
	IP      string
}

type NodeSpec struct {
	Name           string
	NodeConfigPath string
	Attach         []Attachment
	Args           []string
}

func (h *Harness) StartNodes(specs ...NodeSpec) {
	var wg sync.WaitGroup
	wg.Add(len(specs))
	for _, spec := range specs {
		go func(s NodeSpec) {
			defer wg.Done()
			h.StartNode(s)
		}(spec)
	}
	wg.Wait()
}

func (h *Harness) StartNode(spec NodeSpec) testcontainers.Container {
	h.t.Logf("Starting node %s", spec.Name)
	networks := make([]string, 0, len(spec.Attach))
	aliases := make(map[string][]string)
	ips := make(map[string]string)
	for _, a := range spec.Attach {
		networks = append(networks, a.Segment.Network.Name)
		aliases[a.Segment.Network.Name] = []string{spec.Name}
		ips[a.Segment.Network.Name] = a.IP
	}
	req := testcontainers.ContainerRequest{
		Image:          ImageName,
		Networks:       networks,
		NetworkAliases: aliases,
		Files: []testcontainers.ContainerFile{
			{
				HostFilePath:      spec.NodeConfigPath,
				ContainerFilePath: "/app/config/node.yaml",
				FileMode:          0644,
			},
		},
		Cmd:        spec.Args,
		WaitingFor: wait.ForLog("Node has been initialized").WithStartupTimeout(30 * time.Second),
		EndpointSettingsModifier: func(m map[string]*network.EndpointSettings) {
			for name, s := range m {
				if ip, ok := ips[name]; ok && ip != "" {
					s.IPAMConfig = &network.EndpointIPAMConfig{
						IPv4Address: ip,
					}
				}
			}
		},
		HostConfigModifier: func(hostConfig *container.HostConfig) {
			hostConfig.CapAdd = []string{"NET_ADMIN"}
		},
		LogConsumerCfg: &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{
				&UnifiedLogConsumer{Node: spec.Name, Manager: h.LogManager},
			},
		},
		Name: h.t.Name() + "-" + spec.Name,
	}
	cont, err := testcontainers.GenericContainer(h.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		h.t.Fatalf("failed to start container %s: %v", spec.Name, err)
	}
	h.mu.Lock()
	h.Nodes[spec.Name] = cont
	h.mu.Unlock()
	return cont
}

// WaitForLog waits for pattern in the console log of a node, which is written to stderr
func (h *Harness) WaitForLog(nodeName string, pattern string) {
	h.waitFor(nodeName, SourceStderr, pattern, false)
}
func (h *Harness) WaitForMatch(nodeName string, pattern string) {
	h.waitFor(nodeName, SourceStderr, pattern, true)
}
func (h *Harness) WaitForTrace(nodeName string, pattern string) {
	h.waitFor(nodeName, SourceTrace, pattern, false)
}
func (h *Harness) waitFor(nodeName string, source LogSource, pattern string, isRegex bool) {
	sub, err := h.LogManager.Subscribe(nodeName, source, pattern, isRegex)
	if err != nil {
		h.t.Fatalf("failed to subscribe: %v", err)
	}
	defer h.LogManager.Unsubscribe(sub)

	select {
	case <-sub.MatchCh:
		return
	case <-time.After(WaitTimeout):
		h.t.Fatalf("timed out waiting for %s pattern %q in node %s", source, pattern, nodeName)
	case <-h.ctx.Done():
		h.t.Fatal("context canceled")
	}
}

type managerWriter struct {
	node    string
	source  LogSource
	manager *LogManager
}

func (w *managerWriter) Write(p []byte) (n int, err error) {
	w.manager.Accept(w.node, w.source, string(p))
	return len(p), nil
}

// StartTrace streams the router events of a node, the node must serve its inspection api on InspectBind
func (h *Harness) StartTrace(nodeName string) {
	c := h.node(nodeName)
	go func() {
		_, r, err := c.Exec(h.ctx, []string{"dvsim", "inspect", InspectBind, "--trace"})
		if err != nil {
			return
		}
		w := &managerWriter{node: nodeName, source: SourceTrace, manager: h.LogManager}
		_, _ = stdcopy.StdCopy(w, w, r)
	}()
}

func (h *Harness) node(nodeName string) testcontainers.Container {
	h.mu.Lock()
	c, ok := h.Nodes[nodeName]
	h.mu.Unlock()
	if !ok {
		h.t.Fatalf("node %s not found", nodeName)
	}
	return c
}

func (h *Harness) Cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, c := range h.Nodes {
		if err := c.Terminate(h.ctx); err != nil {
			h.t.Logf("failed to terminate container %s: %v", name, err)
		}
	}
	for _, seg := range h.Segments {
		if err := seg.Network.Remove(context.Background()); err != nil {
			h.t.Logf("failed to remove network: %v", err)
		}
	}
}

func (h *Harness) Exec(nodeName string, cmd []string) (string, string, error) {
	c := h.node(nodeName)
	code, r, err := c.Exec(h.ctx, cmd)
	if err != nil {
		return "", "", err
	}

	stdoutBuf := new(bytes.Buffer)
	stderrBuf := new(bytes.Buffer)
	_, err = stdcopy.StdCopy(stdoutBuf, stderrBuf, r)
	if err != nil {
		return "", "", fmt.Errorf("failed to copy output: %w", err)
	}

	stdout := StripAnsi(stdoutBuf.String())
	stderr := StripAnsi(stderrBuf.String())
	if code != 0 {
		return stdout, stderr, fmt.Errorf("command exited with code %d: %s\nStderr: %s", code, stdout, stderr)
	}
	return stdout, stderr, nil
}

func (h *Harness) PrintLogs(nodeName string) {
	c := h.node(nodeName)
	r, err := c.Logs(h.ctx)
	if err != nil {
		h.t.Logf("failed to get logs for %s: %v", nodeName, err)
		return
	}
	buf := new(bytes.Buffer)
	_, _ = io.Copy(buf, r)
	h.t.Logf("Logs for %s:\n%s", nodeName, buf.String())
}

// SetupTestDir creates a directory for the current test run
func (h *Harness) SetupTestDir() string {
	dir := filepath.Join(h.RootDir, "e2e", "runs", h.t.Name())
	_ = os.RemoveAll(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		h.t.Fatal(err)
	}
	return dir
}

// WriteConfig marshals the config to YAML and writes it to the specified directory with the given filename
func (h *Harness) WriteConfig(dir, filename string, cfg any) string {
	path := filepath.Join(dir, filename)
	data, err := yaml.Marshal(cfg)
	if err != nil {
		h.t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		h.t.Fatal(err)
	}
	return path
}

// SimpleNode creates a node config that serves its inspection api inside the container
func SimpleNode(id string, role state.Role, linkDelay uint32) state.LocalCfg {
	return state.LocalCfg{
		Id:                id,
		Role:              role,
		LinkDelay:         linkDelay,
		InspectBind:       netip.MustParseAddrPort(InspectBind),
		AdvertiseInterval: state.Interval(time.Second),
	}
}
