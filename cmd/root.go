package cmd

import (
	"github.com/spf13/cobra"

	"corral/internal"
	"corral/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "corral",
	Short: "Corral - experiment network orchestration",
	Long: `Corral coordinates a network of experiment nodes from a central hub.
Host nodes run service instances, console nodes drive the hub interactively,
and monitor nodes receive the distributed log stream.`,
	Version: internal.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(hubCmd)
	rootCmd.AddCommand(consoleCmd)
}
