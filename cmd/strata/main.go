package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/strata/cmd/strata/commands"
	"github.com/teranos/strata/logger"
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "strata - Asset orchestration for the analytics warehouse",
	Long: `strata - Asset orchestration for the analytics warehouse.

strata keeps a graph of data assets, judges their freshness, runs jobs that
materialize them, evaluates data quality checks, and fires jobs from
schedules and sensors.

Available commands:
  am         - Manage configuration ("I am")
  assets     - Inspect the asset graph
  freshness  - Report asset freshness
  jobs       - List and launch jobs
  triggers   - Manage schedules and sensors
  runs       - Inspect the run ledger
  pulse      - Run the trigger ticker and run workers
  db         - Manage the run ledger database

Examples:
  strata assets ls                     # List assets
  strata jobs run daily_analytics_job  # Run a job now
  strata pulse start --watch           # Start the daemon with hot reload
  strata freshness --fail              # Fail when any asset is stale`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.AssetsCmd)
	rootCmd.AddCommand(commands.FreshnessCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.TriggersCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
