package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/strata/pulse"
	"github.com/teranos/strata/sym"
)

// RunsCmd groups run ledger commands
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: sym.Runs + " Inspect the run ledger",
	Long: sym.Runs + ` runs — Inspect the run ledger

Examples:
  strata runs ls                   # Recent runs
  strata runs ls --status failed   # Only failed runs
  strata runs status <run-id>      # Run details and check results`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var runsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		return runRunsLs(statusFilter, limit)
	},
}

var runsStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run and its check results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRunsStatus(args[0])
	},
}

func init() {
	runsLsCmd.Flags().String("status", "", "Filter by status (queued, running, completed, failed)")
	runsLsCmd.Flags().Int("limit", 20, "Maximum number of runs to display")

	RunsCmd.AddCommand(runsLsCmd)
	RunsCmd.AddCommand(runsStatusCmd)
}

func openStore() (*pulse.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	conn, err := openLedger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return pulse.NewStore(conn), func() { conn.Close() }, nil
}

func runRunsLs(statusFilter string, limit int) error {
	store, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	// empty filter lists every status
	var status *pulse.RunStatus
	if statusFilter != "" {
		s := pulse.RunStatus(statusFilter)
		status = &s
	}

	runs, err := store.ListRuns(context.Background(), status, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("%s No runs found\n", sym.Runs)
		return nil
	}

	fmt.Printf("%-36s %-10s %-22s %-9s %-26s %s\n", "RUN ID", "STATUS", "JOB", "OUTCOME", "TRIGGER", "CREATED")
	fmt.Printf("%-36s %-10s %-22s %-9s %-26s %s\n", "------", "------", "---", "-------", "-------", "-------")
	for _, run := range runs {
		trig := run.Trigger
		if trig == "" {
			trig = "manual"
		}
		fmt.Printf("%-36s %-10s %-22s %-9s %-26s %s\n",
			run.ID,
			run.Status,
			truncate(run.Job, 22),
			run.Outcome,
			truncate(trig, 26),
			run.CreatedAt.Local().Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d run(s)\n", len(runs))
	return nil
}

func runRunsStatus(id string) error {
	store, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := context.Background()
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("%s Run: %s\n", sym.Runs, run.ID)
	fmt.Printf("  Job: %s\n", run.Job)
	fmt.Printf("  Run key: %s\n", run.RunKey)
	if run.Trigger != "" {
		fmt.Printf("  Trigger: %s\n", run.Trigger)
	}
	for k, v := range run.Tags {
		fmt.Printf("  Tag %s: %s\n", k, v)
	}
	fmt.Printf("  Status: %s\n", run.Status)
	if run.Outcome != "" {
		fmt.Printf("  Outcome: %s\n", run.Outcome)
	}
	if run.Error != "" {
		fmt.Printf("  Error: %s\n", run.Error)
	}
	fmt.Printf("\n")

	fmt.Printf("Created: %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if run.StartedAt != nil {
		fmt.Printf("Started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if run.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", run.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if run.DurationMs != nil {
		fmt.Printf("Duration: %dms\n", *run.DurationMs)
	}

	checks, err := store.CheckResults(ctx, id)
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		return nil
	}

	fmt.Printf("\n%s Checks:\n", sym.Checks)
	for _, c := range checks {
		desc := c.Description
		if c.Error != "" {
			desc = c.Error
		}
		fmt.Printf("  %s %-32s %-20s %s\n", colorSeverity(c.Passed, c.Severity), c.CheckKey, c.AssetKey, desc)
	}
	return nil
}
