package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/smartcache/cmd/smartcache/commands"
	"github.com/teranos/smartcache/logger"
)

var rootCmd = &cobra.Command{
	Use:   "smartcache",
	Short: "smartcache - offline content download orchestration",
	Long: `smartcache - curate and download subscribed content for offline use.

A recommendation loop picks cached content from the user's subscribed
sources, queues per-user download jobs, executes them on a background
worker pool, and pushes completion events to live websocket sessions.

Available commands:
  serve   - Start the gateway (websocket sessions + download pipeline)
  db      - Manage database operations
  version - Show build information

Examples:
  smartcache serve           # Start the gateway on the configured port
  smartcache db migrate      # Apply pending schema migrations
  smartcache db stats        # Show catalog and job counts`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON log output instead of console format")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
