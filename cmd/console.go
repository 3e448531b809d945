package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"corral/internal/term"
)

var (
	consoleAddr string
	consoleName string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open an interactive console session on a hub",
	Long: `Connect to a running hub as a console node and issue commands
interactively.  Type 'list commands' for the available commands and
'help <command>' for details on one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := consoleName
		if name == "" {
			// Node names must be unique per hub, so a generated suffix lets
			// several consoles run from the same machine.
			host, err := os.Hostname()
			if err != nil {
				host = "console"
			}
			name = fmt.Sprintf("%s-console-%s", host, uuid.New().String()[:8])
		}

		return term.Run(consoleAddr, name)
	},
}

func init() {
	consoleCmd.Flags().StringVarP(&consoleAddr, "addr", "a", "127.0.0.1:32051", "Hub address to connect to")
	consoleCmd.Flags().StringVarP(&consoleName, "name", "n", "", "Node name to connect as (generated if empty)")
}
