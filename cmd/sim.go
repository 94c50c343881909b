package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/encodeous/dvsim/core"
	"github.com/encodeous/dvsim/integration"
	"github.com/encodeous/dvsim/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

func readTopology(path string) (*state.TopologyCfg, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var topo state.TopologyCfg
	if err := yaml.Unmarshal(file, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := state.TopologyValidator(&topo); err != nil {
		return nil, err
	}
	return &topo, nil
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulates a whole topology in this process",
	Long: `Runs every node of a topology file on an in-memory network where each link is its own /24 broadcast domain.
Route tables are printed periodically until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topoPath, _ := cmd.Flags().GetString("topology")
		interval, _ := cmd.Flags().GetDuration("interval")
		every, _ := cmd.Flags().GetDuration("print-every")
		payloads, _ := cmd.Flags().GetStringArray("payload")
		verbose, _ := cmd.Flags().GetBool("verbose")

		topo, err := readTopology(topoPath)
		if err != nil {
			return err
		}
		vh := integration.NewHarness(*topo)
		vh.AdvertiseInterval = interval
		if verbose {
			vh.Stderr = cmd.ErrOrStderr()
		}
		out := cmd.OutOrStdout()
		vh.OnEvent = func(ev core.TraceEvent) {
			if ev.Event == core.PayloadDelivered || ev.Event.IsWarning() {
				_, _ = fmt.Fprintln(out, ev.String())
			}
		}
		if err := vh.Start(); err != nil {
			return err
		}

		for _, node := range topo.Nodes {
			addrs := make([]string, 0)
			for _, addr := range vh.Addrs[node.Id] {
				addrs = append(addrs, addr.String())
			}
			_, _ = fmt.Fprintf(out, "%s (%s, delay %d): %s\n", node.Id, node.Role, vh.Node(node.Id).LinkDelay, strings.Join(addrs, ", "))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if len(payloads) != 0 {
			if !vh.WaitConverged(time.Minute) {
				_, _ = fmt.Fprintln(out, "network did not converge, sending anyway")
			}
			for _, p := range payloads {
				leaf, payload, ok := strings.Cut(p, ":")
				if !ok {
					_ = vh.Stop()
					return fmt.Errorf("payload %q must look like leaf:destination=...", p)
				}
				if err := vh.SendPayload(leaf, payload); err != nil {
					_, _ = fmt.Fprintf(out, "send from %s failed: %v\n", leaf, err)
				}
			}
		}

		ticker := time.NewTicker(every)
		defer ticker.Stop()
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-vh.Context.Done():
				break loop
			case <-ticker.C:
				for _, id := range slices.Sorted(slices.Values(topo.NodeIds())) {
					_, _ = fmt.Fprintf(out, "\n%s\n", id)
					core.RenderTable(out, vh.Routes(id))
				}
			}
		}
		return vh.Stop()
	},
	GroupID: "sim",
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringP("topology", "f", state.TopologyConfigPath, "topology file")
	simCmd.Flags().Duration("interval", time.Second, "advertisement interval of the relays")
	simCmd.Flags().Duration("print-every", 5*time.Second, "how often route tables are printed")
	simCmd.Flags().StringArray("payload", nil, "leaf:payload to send once the network converged, may be repeated")
	simCmd.Flags().BoolP("verbose", "v", false, "Write node logs to stderr")
}
