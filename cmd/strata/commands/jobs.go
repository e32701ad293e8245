package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/pulse"
	"github.com/teranos/strata/sym"
)

// JobsCmd groups job commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Jobs + " List and launch jobs",
	Long: sym.Jobs + ` jobs — List and launch jobs

A job is a named selection of assets and checks. Launching a job enqueues a
run in the ledger; without --queue the run executes immediately in this
process.

Examples:
  strata jobs ls
  strata jobs run daily_analytics_job
  strata jobs run data_quality_job --queue   # Leave it for 'strata pulse start'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs and their resolved plans",
	RunE:  runJobsLs,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Launch a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

var (
	jobQueueOnly bool
	jobTags      []string
)

func init() {
	jobsRunCmd.Flags().BoolVar(&jobQueueOnly, "queue", false, "Only enqueue the run")
	jobsRunCmd.Flags().StringSliceVar(&jobTags, "tag", nil, "Run tag as key=value (repeatable)")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsRunCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := buildRepository(cfg, logger.Logger)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"JOB", "ASSETS", "CHECKS", "DESCRIPTION"}}
	for _, name := range repo.Jobs.Names() {
		j, _ := repo.Jobs.Get(name)
		plan, err := j.Resolve(repo.Graph)
		if err != nil {
			return err
		}
		data = append(data, []string{
			name,
			strings.Join(plan.Assets, " → "),
			fmt.Sprintf("%d", len(plan.Checks)),
			truncate(j.Description, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// parseTags turns key=value flags into run tags.
func parseTags(pairs []string) (map[string]string, error) {
	tags := map[string]string{"launched_by": "cli"}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, errors.NewInvalidRequestError("tag %q is not key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}

// reportingExecutor keeps the report of the run it executed.
type reportingExecutor struct {
	inner  pulse.JobExecutor
	report *job.Report
}

func (e *reportingExecutor) Run(ctx context.Context, runID string, j job.Job) (*job.Report, error) {
	r, err := e.inner.Run(ctx, runID, j)
	e.report = r
	return r, err
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := args[0]
	tags, err := parseTags(jobTags)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, !jobQueueOnly)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.repo.Jobs.Get(name); err != nil {
		return err
	}

	id, err := s.queue.SubmitManual(ctx, name, tags)
	if err != nil {
		return err
	}
	if jobQueueOnly {
		pterm.Success.Printfln("Queued run %s of %s", id, name)
		return nil
	}

	exec := &reportingExecutor{inner: s.executor}
	pool := pulse.NewWorkerPool(ctx, s.store, s.repo.Jobs, exec, pulse.DefaultWorkerPoolConfig(), nil, logger.ComponentLogger("pulse"))
	run, err := pool.ProcessRun(ctx, id)
	if err != nil {
		return err
	}

	if exec.report != nil {
		printReport(exec.report)
	}
	if run.Status == pulse.RunStatusFailed {
		return errors.Newf("run %s failed: %s", run.ID, run.Error)
	}
	pterm.Success.Printfln("Run %s %s", run.ID, run.Outcome)
	return nil
}

func printReport(r *job.Report) {
	pterm.DefaultSection.Printfln("%s %s (%s)", sym.Runs, r.Job, r.Duration().Round(time.Millisecond))

	if len(r.Materialized) > 0 || len(r.Failed) > 0 {
		data := pterm.TableData{{"ASSET", "RESULT", "DETAIL"}}
		for _, m := range r.Materialized {
			data = append(data, []string{m.AssetKey, pterm.Green("materialized"), metadataSummary(m)})
		}
		for _, f := range r.Failed {
			result := pterm.Red("failed")
			if f.Skipped {
				result = pterm.Gray("skipped")
			}
			data = append(data, []string{f.AssetKey, result, truncate(fmt.Sprint(f.Err), 70)})
		}
		pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	if len(r.Checks) > 0 {
		pterm.Println()
		data := pterm.TableData{{"CHECK", "ASSET", "SEVERITY", "DESCRIPTION"}}
		for _, c := range r.Checks {
			desc := c.Description
			if c.Err != nil {
				desc = c.Err.Error()
			}
			data = append(data, []string{c.CheckKey, c.AssetKey, colorSeverity(c.Passed, string(c.Severity)), truncate(desc, 70)})
		}
		pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}
}

func metadataSummary(m job.Materialization) string {
	if m.Delegated {
		return "built by transform"
	}
	var parts []string
	for _, k := range m.Metadata.Keys() {
		v := m.Metadata[k]
		if v.Kind == asset.MetadataMarkdown {
			continue
		}
		parts = append(parts, k+"="+v.String())
	}
	return truncate(strings.Join(parts, " "), 70)
}

func colorSeverity(passed bool, severity string) string {
	switch {
	case passed:
		return pterm.Green("PASS")
	case severity == string(check.SeverityError):
		return pterm.Red(severity)
	default:
		return pterm.Yellow(severity)
	}
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
