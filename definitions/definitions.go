// Package definitions assembles the asset graph, checks, jobs and triggers
// from Go-defined catalogs and declarative *.strata.toml files, and resolves
// them into a Repository ready for evaluation.
package definitions

import (
	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/check"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/freshness"
	"github.com/teranos/strata/job"
	"github.com/teranos/strata/trigger"
)

// Definitions is an unvalidated bundle of declarations. Bundles from several
// sources are merged before Build; conflicts surface there.
type Definitions struct {
	Assets   []asset.Spec
	Checks   []check.Spec
	Compute  map[string]job.ComputeFunc
	Jobs     []job.Job
	Triggers []trigger.Trigger

	// Sources lists the files the bundle was read from
	Sources []string
}

// New returns an empty bundle.
func New() *Definitions {
	return &Definitions{Compute: make(map[string]job.ComputeFunc)}
}

// Merge appends other's declarations. A computation declared twice for the
// same asset is a duplicate.
func (d *Definitions) Merge(other *Definitions) error {
	if other == nil {
		return nil
	}
	if d.Compute == nil {
		d.Compute = make(map[string]job.ComputeFunc)
	}
	for k, fn := range other.Compute {
		if _, ok := d.Compute[k]; ok {
			return errors.Wrapf(errors.ErrDuplicateKey, "computation for asset %q declared twice", k)
		}
		d.Compute[k] = fn
	}
	d.Assets = append(d.Assets, other.Assets...)
	d.Checks = append(d.Checks, other.Checks...)
	d.Jobs = append(d.Jobs, other.Jobs...)
	d.Triggers = append(d.Triggers, other.Triggers...)
	d.Sources = append(d.Sources, other.Sources...)
	return nil
}

// Repository is a validated, resolved set of definitions.
type Repository struct {
	// Declared is the registry as defined, before the default policy merge
	Declared *asset.Registry

	// Registry has every asset's freshness policy resolved
	Registry *asset.Registry

	Graph    *asset.Graph
	Checks   *check.Set
	Compute  map[string]job.ComputeFunc
	Jobs     *job.Set
	Triggers *trigger.Set
}

// Build registers everything in d, applies the default freshness policy
// without overwriting explicit ones, and validates every cross reference.
// Any error is fatal: no partial repository is returned.
func Build(d *Definitions, defaultPolicy freshness.Policy) (*Repository, error) {
	declared := asset.NewRegistry()
	for _, spec := range d.Assets {
		if err := declared.Register(spec); err != nil {
			return nil, err
		}
	}

	checks := check.NewSet()
	for _, spec := range d.Checks {
		if err := checks.Add(spec); err != nil {
			return nil, err
		}
	}
	if err := checks.Attach(declared); err != nil {
		return nil, err
	}

	for key := range d.Compute {
		node, ok := declared.Node(key)
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnknownKey, "computation declared for unknown asset %q", key)
		}
		if node.Delegated() {
			return nil, errors.Newf("asset %q is delegated to the transform tool and cannot also be computed", key)
		}
	}

	resolved, err := declared.WithDefaultFreshness(defaultPolicy, false)
	if err != nil {
		return nil, errors.Wrap(err, "default freshness")
	}
	graph, err := resolved.BuildGraph()
	if err != nil {
		return nil, err
	}

	jobs := job.NewSet()
	for _, j := range d.Jobs {
		if err := jobs.Add(j); err != nil {
			return nil, err
		}
	}
	if err := jobs.Validate(graph); err != nil {
		return nil, err
	}

	triggers := trigger.NewSet()
	for _, t := range d.Triggers {
		if err := triggers.Add(t); err != nil {
			return nil, err
		}
	}
	hasJob := func(name string) bool {
		_, err := jobs.Get(name)
		return err == nil
	}
	if err := triggers.Validate(hasJob); err != nil {
		return nil, err
	}

	compute := make(map[string]job.ComputeFunc, len(d.Compute))
	for k, fn := range d.Compute {
		compute[k] = fn
	}

	return &Repository{
		Declared: declared,
		Registry: resolved,
		Graph:    graph,
		Checks:   checks,
		Compute:  compute,
		Jobs:     jobs,
		Triggers: triggers,
	}, nil
}
