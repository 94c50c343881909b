package cmd

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/encodeous/dvsim/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a node configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := state.NameValidator(name); err != nil {
			return err
		}
		role, _ := cmd.Flags().GetString("role")
		delay, _ := cmd.Flags().GetUint32("link-delay")
		inspect, _ := cmd.Flags().GetString("inspect")

		nodeCfg := state.LocalCfg{
			Id:        name,
			Role:      state.Role(role),
			LinkDelay: delay,
		}
		if inspect != "" {
			bind, err := netip.ParseAddrPort(inspect)
			if err != nil {
				return fmt.Errorf("invalid inspect bind: %w", err)
			}
			nodeCfg.InspectBind = bind
		}
		state.ApplyDefaults(&nodeCfg)
		if err := state.NodeConfigValidator(&nodeCfg); err != nil {
			return err
		}

		ncfg, err := yaml.Marshal(&nodeCfg)
		if err != nil {
			return err
		}
		outPath := cmd.Flag("output").Value.String()
		if err := os.WriteFile(outPath, ncfg, 0600); err != nil {
			return err
		}
		cmd.Printf("wrote %s\n", outPath)
		return nil
	},
	GroupID: "init",
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringP("output", "o", state.NodeConfigPath, "node config output file path")
	newCmd.Flags().String("role", string(state.RoleRelay), "relay or leaf")
	newCmd.Flags().Uint32("link-delay", 0, "link delay of the node, random when 0")
	newCmd.Flags().String("inspect", "", "address to serve the inspection api on, e.g. 127.0.0.1:7000")
}
