package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/pulse"
	"github.com/teranos/strata/sym"
	"github.com/teranos/strata/trigger"
)

// TriggersCmd groups schedule and sensor commands
var TriggersCmd = &cobra.Command{
	Use:   "triggers",
	Short: sym.Triggers + " Manage schedules and sensors",
	Long: sym.Triggers + ` triggers — Manage schedules and sensors

Triggers start in their declared default status. Operator start/stop is
persisted in the ledger and survives restarts.

Examples:
  strata triggers ls
  strata triggers start weekly_data_quality_schedule
  strata triggers tick                       # Evaluate every RUNNING trigger once
  strata triggers tick business_hours_sensor # Evaluate one trigger regardless of status
  strata triggers history daily_analytics_schedule`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var triggersLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List triggers with their effective status",
	RunE:  runTriggersLs,
}

var triggersStartCmd = &cobra.Command{
	Use:   "start <trigger>",
	Short: "Set a trigger RUNNING",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTriggerStatus(args[0], trigger.StatusRunning)
	},
}

var triggersStopCmd = &cobra.Command{
	Use:   "stop <trigger>",
	Short: "Set a trigger STOPPED",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTriggerStatus(args[0], trigger.StatusStopped)
	},
}

var triggersTickCmd = &cobra.Command{
	Use:   "tick [trigger]",
	Short: "Evaluate triggers once and enqueue any requested runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTriggersTick,
}

var triggersHistoryCmd = &cobra.Command{
	Use:   "history <trigger>",
	Short: "Show recent ticks of a trigger",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriggersHistory,
}

var tickHistoryLimit int

func init() {
	triggersHistoryCmd.Flags().IntVar(&tickHistoryLimit, "limit", 20, "Number of ticks to show")

	TriggersCmd.AddCommand(triggersLsCmd)
	TriggersCmd.AddCommand(triggersStartCmd)
	TriggersCmd.AddCommand(triggersStopCmd)
	TriggersCmd.AddCommand(triggersTickCmd)
	TriggersCmd.AddCommand(triggersHistoryCmd)
}

func runTriggersLs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	data := pterm.TableData{{"TRIGGER", "KIND", "CRON", "JOB", "STATUS", "WATERMARK", "DESCRIPTION"}}
	for _, tr := range s.repo.Triggers.All() {
		status, err := s.triggers.EffectiveStatus(ctx, tr)
		if err != nil {
			return err
		}
		watermark := "-"
		if st, ok, err := s.triggers.State(ctx, tr.Name()); err != nil {
			return err
		} else if ok && !st.Watermark.IsZero() {
			watermark = st.Watermark.Local().Format("2006-01-02 15:04")
		}
		cron := "-"
		if sched, ok := tr.(*trigger.Schedule); ok {
			cron = sched.Expression()
		}
		data = append(data, []string{
			tr.Name(),
			string(tr.Kind()),
			cron,
			tr.Job(),
			colorTriggerStatus(status),
			watermark,
			truncate(tr.Describe(), 50),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func setTriggerStatus(name string, status trigger.Status) error {
	ctx := context.Background()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.repo.Triggers.Get(name); err != nil {
		return err
	}
	if err := s.triggers.SetStatus(ctx, name, status, time.Now()); err != nil {
		return err
	}
	pterm.Success.Printfln("%s %s is now %s", sym.Triggers, name, status)
	return nil
}

func runTriggersTick(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	t := pulse.NewTicker(ctx, s.repo.Triggers, s.triggers, s.queue,
		pulse.TickerConfig{Interval: s.cfg.TickerInterval()}, nil, logger.ComponentLogger("pulse"))

	now := time.Now()
	var records []pulse.TickRecord
	if len(args) == 1 {
		tr, err := s.repo.Triggers.Get(args[0])
		if err != nil {
			return err
		}
		records = append(records, t.Evaluate(ctx, tr, now))
	} else {
		records = t.Tick(ctx, now)
	}

	if len(records) == 0 {
		pterm.Info.Println("No RUNNING triggers")
		return nil
	}
	return renderTicks(records)
}

func runTriggersHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.repo.Triggers.Get(args[0]); err != nil {
		return err
	}
	records, err := s.triggers.Ticks(ctx, args[0], tickHistoryLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		pterm.Info.Printfln("%s has never been evaluated", args[0])
		return nil
	}
	return renderTicks(records)
}

func renderTicks(records []pulse.TickRecord) error {
	data := pterm.TableData{{"TRIGGER", "TICK", "OUTCOME", "RUN KEY", "REASON"}}
	for _, rec := range records {
		data = append(data, []string{
			rec.Trigger,
			rec.TickAt.Local().Format("2006-01-02 15:04:05"),
			colorTickOutcome(rec.Outcome),
			rec.RunKey,
			truncate(rec.Reason, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func colorTriggerStatus(s trigger.Status) string {
	if s == trigger.StatusRunning {
		return pterm.Green(string(s))
	}
	return pterm.Gray(string(s))
}

func colorTickOutcome(o pulse.TickOutcome) string {
	switch o {
	case pulse.TickFired:
		return pterm.Green(string(o))
	case pulse.TickError:
		return pterm.Red(string(o))
	default:
		return pterm.Gray(string(o))
	}
}
