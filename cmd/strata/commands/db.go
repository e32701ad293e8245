package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/strata/db"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/pulse"
	"github.com/teranos/strata/sym"
)

// DbCmd represents the db (run ledger database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the run ledger",
	Long: sym.DB + ` db — Manage the run ledger database

Examples:
  strata db migrate   # Apply pending migrations
  strata db stats     # Run counts and trigger state`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run ledger statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.GetDatabasePath()
	conn, err := db.Open(path, logger.Logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open run ledger at %s", path)
	}
	defer conn.Close()

	pending, err := db.Pending(conn)
	if err != nil {
		return err
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		return err
	}
	applied, err := db.Applied(conn)
	if err != nil {
		return err
	}

	fmt.Printf("%s Ledger at %s\n", sym.DB, path)
	for _, m := range applied {
		fmt.Printf("  %03d  %-40s %s\n", m.Version, m.Name, m.AppliedAt)
	}
	if len(pending) == 0 {
		fmt.Println("\nAlready up to date")
	} else {
		fmt.Printf("\nApplied %d migration(s)\n", len(pending))
	}
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	store := pulse.NewStore(conn)
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	latest, err := store.LatestMaterializations(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s Ledger Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:        %s\n", cfg.GetDatabasePath())
	fmt.Printf("Queued Runs:          %d\n", stats.Queued)
	fmt.Printf("Running Runs:         %d\n", stats.Running)
	fmt.Printf("Completed Runs:       %d\n", stats.Completed)
	fmt.Printf("Failed Runs:          %d\n", stats.Failed)
	fmt.Printf("Materialized Assets:  %d\n", len(latest))
	return nil
}
