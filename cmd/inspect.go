package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/encodeous/dvsim/core"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect [inspect address]",
	Aliases: []string{"i"},
	Short:   "Shows the route table of a running node",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := args[0]
		if trace, _ := cmd.Flags().GetBool("trace"); trace {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return core.StreamTrace(ctx, addr, cmd.OutOrStdout())
		}
		routes, err := core.FetchRoutes(addr)
		if err != nil {
			return err
		}
		core.RenderTable(cmd.OutOrStdout(), routes)
		return nil
	},
	GroupID: "dv",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Bool("trace", false, "Stream router events until interrupted")
}
