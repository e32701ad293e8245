package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/freshness"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/pulse"
	"github.com/teranos/strata/sym"
)

// FreshnessCmd reports freshness of every asset
var FreshnessCmd = &cobra.Command{
	Use:   "freshness",
	Short: sym.Freshness + " Report asset freshness",
	Long: sym.Freshness + ` freshness — Report asset freshness

Every asset is judged against its freshness policy using the last successful
materialization recorded in the run ledger. Assets that never materialized
are UNKNOWN.

Examples:
  strata freshness          # Report every asset
  strata freshness --fail   # Exit non-zero when any asset is FAIL`,
	RunE: runFreshness,
}

var freshnessFail bool

func init() {
	FreshnessCmd.Flags().BoolVar(&freshnessFail, "fail", false, "Exit with an error when any asset is FAIL")
}

func runFreshness(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := buildRepository(cfg, logger.Logger)
	if err != nil {
		return err
	}
	conn, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := restoreState(ctx, repo, pulse.NewStore(conn)); err != nil {
		return err
	}

	now := time.Now()
	entries := freshness.Report(repo.Registry.Nodes(), now)

	data := pterm.TableData{{"ASSET", "STATUS", "POLICY", "LAST MATERIALIZED", "AGE"}}
	for _, e := range entries {
		policy, last, age := "-", "never", "-"
		if e.Policy != nil {
			policy = e.Policy.String()
		}
		if e.LastMaterializedAt != nil {
			last = e.LastMaterializedAt.Local().Format("2006-01-02 15:04:05")
			age = e.Age.Truncate(time.Second).String()
		}
		data = append(data, []string{e.Key, colorFreshness(e.Status), policy, last, age})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	worst := freshness.Worst(entries)
	pterm.Printfln("\n%s worst: %s", sym.Freshness, colorFreshness(worst))
	if freshnessFail && worst == freshness.StatusFail {
		return errors.New("one or more assets are past their fail window")
	}
	return nil
}

func colorFreshness(s freshness.Status) string {
	switch s {
	case freshness.StatusFresh:
		return pterm.Green(string(s))
	case freshness.StatusWarn:
		return pterm.Yellow(string(s))
	case freshness.StatusFail:
		return pterm.Red(string(s))
	default:
		return pterm.Gray(string(s))
	}
}
