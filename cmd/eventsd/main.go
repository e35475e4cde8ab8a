// Command eventsd runs the camera event pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "eventsd",
	Short: "Camera event pipeline",
	Long: `eventsd turns camera triggers into described, stored events and
notifies whoever subscribed to them.

Examples:
  # Run the service
  eventsd serve -c config/eventsd.yaml

  # Apply database migrations
  eventsd migrate up

  # Check a rules file before deploying it
  eventsd rules check config/rules.yaml`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.AddCommand(serveCmd, migrateCmd, rulesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
