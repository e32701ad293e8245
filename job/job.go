// Package job defines named, runnable bundles of a selection.
package job

import (
	"sort"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/selection"
)

// Job is immutable once defined.
type Job struct {
	Name        string
	Description string
	Selection   selection.Expr
}

// Plan is a job's selection resolved against a graph, with assets in
// dependency order.
type Plan struct {
	Job    string
	Assets []string
	Checks []string
}

// Resolve evaluates the job's selection and orders its assets topologically.
func (j Job) Resolve(g *asset.Graph) (Plan, error) {
	res, err := selection.Evaluate(j.Selection, g.Registry())
	if err != nil {
		return Plan{}, errors.Wrapf(err, "resolve job %s", j.Name)
	}
	return Plan{Job: j.Name, Assets: g.Sort(res.Assets), Checks: res.Checks}, nil
}

// Set holds the defined jobs. Names are unique.
type Set struct {
	jobs map[string]Job
}

// NewSet returns an empty job set.
func NewSet() *Set {
	return &Set{jobs: make(map[string]Job)}
}

// Add defines a job.
func (s *Set) Add(j Job) error {
	if j.Name == "" {
		return errors.NewInvalidRequestError("job name is required")
	}
	if j.Selection == nil {
		return errors.NewInvalidRequestError("job %q has no selection", j.Name)
	}
	if _, ok := s.jobs[j.Name]; ok {
		return errors.Wrapf(errors.ErrDuplicateKey, "job %q already defined", j.Name)
	}
	s.jobs[j.Name] = j
	return nil
}

// Get looks up a job by name.
func (s *Set) Get(name string) (Job, error) {
	j, ok := s.jobs[name]
	if !ok {
		return Job{}, errors.NewNotFoundError("job %s", name)
	}
	return j, nil
}

// Names returns job names sorted.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Validate resolves every job so unknown keys surface at startup.
func (s *Set) Validate(g *asset.Graph) error {
	for _, n := range s.Names() {
		if _, err := s.jobs[n].Resolve(g); err != nil {
			return err
		}
	}
	return nil
}
