package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/netip"
	"runtime/pprof"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/dvsim/core"
	"github.com/encodeous/dvsim/mock"
	"github.com/encodeous/dvsim/state"
	"golang.org/x/sync/errgroup"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

// WaitFor waits until the signal is triggered, returning false on timeout
func (s Signal) WaitFor(timeout time.Duration) bool {
	select {
	case <-s:
		return true
	case <-time.After(timeout):
		return false
	}
}

// VirtualHarness runs every node of a topology in this process, connected by a mock.Network
type VirtualHarness struct {
	Topology state.TopologyCfg
	Net      *mock.Network
	// AdvertiseInterval of every relay, short by default so that tests converge quickly
	AdvertiseInterval time.Duration
	// LogLevel of every node, slog.LevelDebug by default
	LogLevel *slog.Level
	// Stderr receives the console log of every node, discarded when nil
	Stderr io.Writer
	// LogHandlers receive the log records of every node
	LogHandlers []slog.Handler
	// OnEvent is called from a subscriber goroutine for every router event of every node
	OnEvent func(ev core.TraceEvent)

	Context context.Context
	Cancel  context.CancelCauseFunc
	Addrs   map[string][]netip.Addr

	mu       sync.Mutex
	states   map[string]*state.State
	group    *errgroup.Group
	watchers sync.WaitGroup
}

func NewHarness(topo state.TopologyCfg) *VirtualHarness {
	return &VirtualHarness{
		Topology:          topo,
		Net:               mock.NewNetwork(),
		AdvertiseInterval: 50 * time.Millisecond,
	}
}

func (v *VirtualHarness) nodeCfg(node state.TopologyNode) state.LocalCfg {
	cfg := state.LocalCfg{
		Id:                node.Id,
		Role:              node.Role,
		LinkDelay:         node.LinkDelay,
		Addresses:         v.Addrs[node.Id],
		AdvertiseInterval: state.Interval(v.AdvertiseInterval),
	}
	if node.Role == state.RoleLeaf {
		cfg.ApiBind = netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 0)
	}
	state.ApplyDefaults(&cfg)
	return cfg
}

// Start launches every node and waits until all of them are running
func (v *VirtualHarness) Start() error {
	addrs, err := v.Topology.AssignAddresses()
	if err != nil {
		return err
	}
	for _, node := range v.Topology.Nodes {
		if len(addrs[node.Id]) == 0 {
			return fmt.Errorf("node %s is not linked to any other node", node.Id)
		}
	}
	v.Addrs = addrs
	v.states = make(map[string]*state.State)
	level := slog.LevelDebug
	if v.LogLevel != nil {
		level = *v.LogLevel
	}
	stderr := v.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	v.Context, v.Cancel = context.WithCancelCause(context.Background())
	group, gctx := errgroup.WithContext(v.Context)
	v.group = group
	ready := make(chan string, len(v.Topology.Nodes))

	for _, node := range v.Topology.Nodes {
		cfg := v.nodeCfg(node)
		group.Go(func() error {
			var restart bool
			var err error
			labels := pprof.Labels("dvsim node", node.Id)
			pprof.Do(context.Background(), labels, func(_ context.Context) {
				restart, err = core.Start(cfg, level, core.Options{
					Listen:      v.Net.Listener(addrs[node.Id]),
					Stderr:      stderr,
					LogHandlers: v.LogHandlers,
					OnReady: func(s *state.State) {
						v.attach(gctx, node.Id, s)
						ready <- node.Id
					},
				})
			})
			if err != nil {
				return fmt.Errorf("node %s: %w", node.Id, err)
			}
			if restart {
				return fmt.Errorf("node %s failed", node.Id)
			}
			return nil
		})
	}

	for range v.Topology.Nodes {
		select {
		case <-ready:
		case <-gctx.Done():
			return v.Stop()
		}
	}
	return nil
}

func (v *VirtualHarness) attach(ctx context.Context, id string, s *state.State) {
	v.mu.Lock()
	v.states[id] = s
	v.mu.Unlock()
	// stop the node with the harness, or as soon as another node fails
	context.AfterFunc(ctx, func() {
		s.Cancel(context.Cause(ctx))
	})
	if v.OnEvent != nil {
		trace := core.Get[*core.Trace](s)
		v.watchers.Add(1)
		go func() {
			defer v.watchers.Done()
			_ = trace.Watch(ctx, v.OnEvent)
		}()
	}
}

// Stop stops every node, returning the first error a node stopped with
func (v *VirtualHarness) Stop() error {
	v.Cancel(errors.New("stopping harness"))
	err := v.group.Wait()
	v.watchers.Wait()
	v.Net.Stop()
	return err
}

func (v *VirtualHarness) Node(id string) *state.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.states[id]
}

func (v *VirtualHarness) Routes(id string) []state.RouteEntry {
	return v.Node(id).Table.Snapshot()
}

// Addr returns the first address of a node
func (v *VirtualHarness) Addr(id string) state.NodeAddr {
	return state.AddrOf(v.Addrs[id][0])
}

// SendPayload hands a payload to a leaf, as the ingestion api would
func (v *VirtualHarness) SendPayload(leaf string, payload string) error {
	s := v.Node(leaf)
	if s == nil || s.Role != state.RoleLeaf {
		return fmt.Errorf("%s is not a running leaf", leaf)
	}
	return core.Get[*core.Leaf](s).SendPayload([]byte(payload))
}

func (v *VirtualHarness) topoNode(id string) state.TopologyNode {
	idx := slices.IndexFunc(v.Topology.Nodes, func(n state.TopologyNode) bool {
		return n.Id == id
	})
	return v.Topology.Nodes[idx]
}

// OptimalDistances computes the distance a converged relay holds for every reachable address.
// Crossing a link costs the link delay of the receiving node, and only relays carry routes further.
func (v *VirtualHarness) OptimalDistances(id string) (map[state.NodeAddr]uint32, error) {
	links, err := v.Topology.Links()
	if err != nil {
		return nil, err
	}
	adj := make(map[string][]string)
	for _, l := range links {
		adj[l.V1] = append(adj[l.V1], l.V2)
		adj[l.V2] = append(adj[l.V2], l.V1)
	}
	delay := func(n string) uint32 {
		return v.Node(n).LinkDelay
	}

	// dijkstra over nodes, the graphs are small
	dist := map[string]uint32{id: 0}
	done := make(map[string]bool)
	for {
		cur, best, found := "", uint32(0), false
		for _, n := range slices.Sorted(maps.Keys(dist)) {
			if !done[n] && (!found || dist[n] < best) {
				cur, best, found = n, dist[n], true
			}
		}
		if !found {
			break
		}
		done[cur] = true
		if cur != id && v.topoNode(cur).Role != state.RoleRelay {
			continue
		}
		for _, next := range adj[cur] {
			d := best + delay(cur)
			if old, ok := dist[next]; !ok || d < old {
				dist[next] = d
			}
		}
	}

	res := make(map[state.NodeAddr]uint32)
	for n, d := range dist {
		for _, addr := range v.Addrs[n] {
			res[state.AddrOf(addr)] = d
		}
	}
	return res, nil
}

// Converged reports whether the table of a relay holds every optimal distance
func (v *VirtualHarness) Converged(id string) bool {
	expected, err := v.OptimalDistances(id)
	if err != nil {
		return false
	}
	routes := v.Routes(id)
	if len(routes) != len(expected) {
		return false
	}
	for _, r := range routes {
		if d, ok := expected[r.Destination]; !ok || d != r.Distance {
			return false
		}
	}
	return true
}

// WaitConverged polls every relay until it converged
func (v *VirtualHarness) WaitConverged(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ok := true
		for _, n := range v.Topology.Nodes {
			if n.Role == state.RoleRelay && !v.Converged(n.Id) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
