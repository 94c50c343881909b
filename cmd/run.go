package cmd

import (
	"github.com/encodeous/dvsim/core"
	"github.com/encodeous/dvsim/state"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:       "run [relay|leaf]",
	Short:     "Run a node",
	Long:      `Runs a node on the current host. The role given here overrides the one in the node config, which defaults to relay.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(state.RoleRelay), string(state.RoleLeaf)},
	RunE: func(cmd *cobra.Command, args []string) error {
		var role state.Role
		if len(args) == 1 {
			role = state.Role(args[0])
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log-path")
		return core.Bootstrap(state.NodeConfigPath, role, logPath, verbose)
	},
	GroupID: "dv",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().String("log-path", "", "Also write logs to this file")
	runCmd.Flags().BoolVarP(&state.DBG_log_router, "lroute", "r", false, "Write router updates to console")
	runCmd.Flags().BoolVarP(&state.DBG_log_route_table, "ltable", "t", false, "Outputs route table to the console")
	runCmd.Flags().BoolVarP(&state.DBG_log_payloads, "lpayload", "p", false, "Write received payloads to the console")
	runCmd.Flags().BoolVar(&state.DBG_debug, "debug", false, "Serve pprof on :6060")
}
