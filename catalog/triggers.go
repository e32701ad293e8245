package catalog

import (
	"time"

	"github.com/teranos/strata/trigger"
)

// Trigger names.
const (
	DailySchedule         = "daily_analytics_schedule"
	HourlySchedule        = "hourly_metrics_schedule"
	WeeklyQualitySchedule = "weekly_data_quality_schedule"
	DemoSensor            = "demo_conditional_sensor"
)

// Triggers returns the three UTC schedules and the business-hours sensor.
func Triggers(opts Options) ([]trigger.Trigger, error) {
	schedules := []struct {
		name, job, cron, description string
	}{
		{DailySchedule, DailyJob, "0 6 * * *", "Runs the daily analytics pipeline every morning at 6 AM UTC"},
		{HourlySchedule, HourlyJob, "0 * * * *", "Updates key business metrics every hour"},
		{WeeklyQualitySchedule, DataQualityJob, "0 8 * * 1", "Runs asset checks only; validates data quality without materializing assets"},
	}

	out := make([]trigger.Trigger, 0, len(schedules)+1)
	for _, s := range schedules {
		sched, err := trigger.NewSchedule(s.name, s.job, s.cron,
			trigger.InLocation(time.UTC),
			trigger.WithDescription(s.description))
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	sensor, err := trigger.NewHourWindowSensor(DemoSensor, HourlyJob,
		"Demo sensor showing conditional logic; normally you'd monitor external systems",
		trigger.HourWindow{
			Start:     opts.BusinessHoursStart,
			End:       opts.BusinessHoursEnd,
			Location:  loc,
			KeyPrefix: "demo_conditional",
			Note:      "This should be a schedule, not a sensor!",
		})
	if err != nil {
		return nil, err
	}
	return append(out, sensor), nil
}
