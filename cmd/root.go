package cmd

import (
	"os"

	"github.com/encodeous/dvsim/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dvsim",
	Short: "Distance-vector routing simulator",
	Long: `dvsim runs relay and leaf nodes that learn routes from each other's periodic advertisements.
Relays forward payloads hop by hop along the lowest distance path, leaves inject and receive them.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Configure dvsim",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "dv",
		Title: "Node Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "sim",
		Title: "Simulation",
	})
	rootCmd.PersistentFlags().StringVarP(&state.NodeConfigPath, "node-config", "n", state.NodeConfigPath, "node-specific config")
}
