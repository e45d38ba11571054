// Package cli implements the fabric node's command-line interface
// using Cobra: serve the daemon, and inspect the node registry from
// the command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fabricd",
	Short: "fabricd — run and administer a federated node-fabric node",
	Long: `fabricd runs a single node of a federated AI-engine fabric:
a node that registers peers, routes queries across the fleet, and
fans out federated search and actions with circuit-breaker protection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (defaults to built-in defaults)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
