package definitions

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/freshness"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/selection"
	"github.com/teranos/strata/trigger"
	"github.com/teranos/strata/version"
	"github.com/teranos/strata/warehouse"
)

// FileSuffix marks a definitions file.
const FileSuffix = ".strata.toml"

// SupportedSchema is the range of schema_version values this build reads.
const SupportedSchema = version.DefinitionsSchema

// File is the on-disk shape of a definitions file.
type File struct {
	SchemaVersion string         `toml:"schema_version"`
	Assets        []AssetDecl    `toml:"asset"`
	Checks        []CheckDecl    `toml:"check"`
	Jobs          []JobDecl      `toml:"job"`
	Schedules     []ScheduleDecl `toml:"schedule"`
	Sensors       []SensorDecl   `toml:"sensor"`
}

// AssetDecl declares an asset. It is either delegated to the transform tool
// or computed from named metric queries.
type AssetDecl struct {
	Key         string            `toml:"key"`
	Group       string            `toml:"group"`
	Description string            `toml:"description"`
	Upstream    []string          `toml:"upstream"`
	Kinds       []string          `toml:"kinds"`
	Delegated   bool              `toml:"delegated"`
	Freshness   *FreshnessDecl    `toml:"freshness"`
	Metrics     map[string]string `toml:"metrics"` // metadata name -> scalar query
}

// FreshnessDecl is a policy written as Go durations.
type FreshnessDecl struct {
	Warn string `toml:"warn"`
	Fail string `toml:"fail"`
}

// CheckDecl declares a violation-counting check. The query returns the number
// of violating rows; zero passes, fewer than ErrorAt warns, otherwise errors.
type CheckDecl struct {
	Key         string `toml:"key"`
	Asset       string `toml:"asset"`
	Description string `toml:"description"`
	Query       string `toml:"query"`
	ErrorAt     int64  `toml:"error_at"`
}

// JobDecl declares a job as the union of its non-empty selectors.
type JobDecl struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Assets      []string `toml:"assets"`
	Groups      []string `toml:"groups"`
	ChecksFor   []string `toml:"checks_for"`
}

// ScheduleDecl declares a cron schedule.
type ScheduleDecl struct {
	Name        string `toml:"name"`
	Job         string `toml:"job"`
	Cron        string `toml:"cron"`
	Timezone    string `toml:"timezone"`
	Status      string `toml:"status"`
	Description string `toml:"description"`
}

// SensorDecl declares an hour-window sensor.
type SensorDecl struct {
	Name        string `toml:"name"`
	Job         string `toml:"job"`
	Description string `toml:"description"`
	StartHour   int    `toml:"start_hour"`
	EndHour     int    `toml:"end_hour"`
	Timezone    string `toml:"timezone"`
	KeyPrefix   string `toml:"key_prefix"`
	Note        string `toml:"note"`
}

// LoadFile reads and converts one definitions file.
func LoadFile(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read definitions file %s", path)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	d.Sources = []string{path}
	return d, nil
}

// Parse decodes a definitions document. Unknown keys are rejected so typos
// do not silently drop configuration.
func Parse(data []byte) (*Definitions, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse definitions")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.WithHint(
			errors.Newf("unknown keys: %s", strings.Join(keys, ", ")),
			"check the key names against the definitions file reference",
		)
	}
	if err := checkSchema(f.SchemaVersion); err != nil {
		return nil, err
	}
	return f.convert()
}

func checkSchema(version string) error {
	if version == "" {
		return errors.WithHintf(errors.New("schema_version is required"), "add schema_version = %q", "1.0")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return errors.Wrapf(err, "invalid schema_version %q", version)
	}
	constraint, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return errors.Wrapf(err, "invalid schema constraint %s", SupportedSchema)
	}
	if !constraint.Check(v) {
		return errors.Newf("schema_version %s is not supported (need %s)", version, SupportedSchema)
	}
	return nil
}

func (f *File) convert() (*Definitions, error) {
	d := New()

	for _, a := range f.Assets {
		spec := asset.Spec{
			Key:         a.Key,
			Group:       a.Group,
			Description: a.Description,
			Upstream:    a.Upstream,
			Kinds:       a.Kinds,
			Delegated:   a.Delegated,
		}
		if a.Freshness != nil {
			p, err := freshness.ParsePolicy(a.Freshness.Warn, a.Freshness.Fail)
			if err != nil {
				return nil, errors.Wrapf(err, "asset %q", a.Key)
			}
			spec.Freshness = &p
		}
		switch {
		case a.Delegated && len(a.Metrics) > 0:
			return nil, errors.Newf("asset %q: a delegated asset cannot declare metrics", a.Key)
		case !a.Delegated && len(a.Metrics) == 0:
			return nil, errors.WithHint(
				errors.Newf("asset %q has no way to materialize", a.Key),
				"set delegated = true or add a [asset.metrics] table",
			)
		case len(a.Metrics) > 0:
			d.Compute[a.Key] = metricsCompute(a.Metrics)
		}
		d.Assets = append(d.Assets, spec)
	}

	for _, c := range f.Checks {
		if strings.TrimSpace(c.Query) == "" {
			return nil, errors.Newf("check %q: query is required", c.Key)
		}
		errorAt := c.ErrorAt
		if errorAt <= 0 {
			errorAt = 1
		}
		d.Checks = append(d.Checks, check.Spec{
			Key:         c.Key,
			Asset:       c.Asset,
			Description: c.Description,
			Eval:        violationCheck(c.Query, errorAt),
		})
	}

	for _, j := range f.Jobs {
		var parts []selection.Expr
		if len(j.Assets) > 0 {
			parts = append(parts, selection.ByKeys(j.Assets...))
		}
		if len(j.Groups) > 0 {
			parts = append(parts, selection.ByGroup(j.Groups...))
		}
		if len(j.ChecksFor) > 0 {
			parts = append(parts, selection.ChecksFor(j.ChecksFor...))
		}
		if len(parts) == 0 {
			return nil, errors.Newf("job %q selects nothing", j.Name)
		}
		sel := parts[0]
		if len(parts) > 1 {
			sel = selection.Union(parts...)
		}
		d.Jobs = append(d.Jobs, job.Job{Name: j.Name, Description: j.Description, Selection: sel})
	}

	for _, s := range f.Schedules {
		opts := []trigger.ScheduleOption{trigger.WithDescription(s.Description)}
		if s.Timezone != "" {
			loc, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, errors.Wrapf(err, "schedule %q timezone", s.Name)
			}
			opts = append(opts, trigger.InLocation(loc))
		}
		if s.Status != "" {
			st, err := trigger.ParseStatus(s.Status)
			if err != nil {
				return nil, errors.Wrapf(err, "schedule %q", s.Name)
			}
			opts = append(opts, trigger.WithStatus(st))
		}
		sched, err := trigger.NewSchedule(s.Name, s.Job, s.Cron, opts...)
		if err != nil {
			return nil, err
		}
		d.Triggers = append(d.Triggers, sched)
	}

	for _, s := range f.Sensors {
		w := trigger.HourWindow{Start: s.StartHour, End: s.EndHour, KeyPrefix: s.KeyPrefix, Note: s.Note}
		if w.KeyPrefix == "" {
			w.KeyPrefix = s.Name
		}
		if s.Timezone != "" {
			loc, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, errors.Wrapf(err, "sensor %q timezone", s.Name)
			}
			w.Location = loc
		}
		sensor, err := trigger.NewHourWindowSensor(s.Name, s.Job, s.Description, w)
		if err != nil {
			return nil, err
		}
		d.Triggers = append(d.Triggers, sensor)
	}

	return d, nil
}

// metricsCompute runs each metric query in name order and records the scalar.
func metricsCompute(metrics map[string]string) job.ComputeFunc {
	names := make([]string, 0, len(metrics))
	for n := range metrics {
		names = append(names, n)
	}
	sort.Strings(names)

	return func(ctx context.Context, q warehouse.Querier) (asset.Metadata, error) {
		md := make(asset.Metadata, len(names))
		for _, n := range names {
			v, err := warehouse.QueryFloat(ctx, q, metrics[n])
			if err != nil {
				return nil, errors.Wrapf(err, "metric %s", n)
			}
			md[n] = asset.Float(v)
		}
		return md, nil
	}
}

func violationCheck(query string, errorAt int64) check.EvalFunc {
	return func(ctx context.Context, env check.Env) (check.Outcome, error) {
		n, err := warehouse.QueryInt(ctx, env.Warehouse, query)
		if err != nil {
			return check.Outcome{}, err
		}
		out := check.Outcome{
			Passed:   n == 0,
			Severity: check.Escalate(n, errorAt),
			Metadata: asset.Metadata{"violations": asset.Int(n)},
		}
		if n == 0 {
			out.Description = "No violations"
		} else {
			out.Description = fmt.Sprintf("%d violations", n)
		}
		return out, nil
	}
}
