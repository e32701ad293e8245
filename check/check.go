// Package check defines asset quality checks and the bookkeeping around
// running them: associating each outcome with its check and asset, and turning
// collaborator failures into failed results instead of silent passes.
package check

import (
	"context"
	"time"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/warehouse"
)

// Severity of a failed check. A passing check has SeverityNone.
type Severity string

const (
	SeverityNone  Severity = ""
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

func (s Severity) String() string {
	if s == SeverityNone {
		return "OK"
	}
	return string(s)
}

func (s Severity) rank() int {
	switch s {
	case SeverityWarn:
		return 1
	case SeverityError:
		return 2
	}
	return 0
}

// Escalate maps a violation count to a severity: none at zero, WARN below
// errorAt, ERROR from errorAt upwards. errorAt <= 1 means any violation is an
// ERROR.
func Escalate(violations, errorAt int64) Severity {
	switch {
	case violations <= 0:
		return SeverityNone
	case violations >= errorAt:
		return SeverityError
	default:
		return SeverityWarn
	}
}

// Outcome is what a check's evaluation function reports.
type Outcome struct {
	Passed      bool
	Severity    Severity
	Description string
	Metadata    asset.Metadata
}

// MetadataSource looks up the metadata recorded with an asset's latest
// successful materialization.
type MetadataSource interface {
	LatestMetadata(ctx context.Context, assetKey string) (asset.Metadata, bool, error)
}

// Env is everything a check may consult.
type Env struct {
	Warehouse warehouse.Querier
	Metadata  MetadataSource
	Now       func() time.Time
}

// EvalFunc evaluates one check. A returned error is a collaborator failure.
type EvalFunc func(ctx context.Context, env Env) (Outcome, error)

// Spec is a check definition scoped to exactly one asset.
type Spec struct {
	Key         string
	Asset       string
	Description string
	Eval        EvalFunc
}

// Result is a check outcome tied to its check and asset.
type Result struct {
	CheckKey    string
	AssetKey    string
	Passed      bool
	Severity    Severity
	Description string
	Metadata    asset.Metadata
	Err         error
	EvaluatedAt time.Time
}

// Set holds check definitions in registration order.
type Set struct {
	specs map[string]Spec
	order []string
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{specs: make(map[string]Spec)}
}

// Add registers a check definition.
func (s *Set) Add(spec Spec) error {
	if spec.Key == "" || spec.Asset == "" {
		return errors.NewInvalidRequestError("check key and asset are required")
	}
	if spec.Eval == nil {
		return errors.NewInvalidRequestError("check %q has no evaluation function", spec.Key)
	}
	if _, ok := s.specs[spec.Key]; ok {
		return errors.Wrapf(errors.ErrDuplicateKey, "check %q already defined", spec.Key)
	}
	s.specs[spec.Key] = spec
	s.order = append(s.order, spec.Key)
	return nil
}

// Get looks up a check by key.
func (s *Set) Get(key string) (Spec, bool) {
	spec, ok := s.specs[key]
	return spec, ok
}

// Keys returns check keys in registration order.
func (s *Set) Keys() []string { return append([]string(nil), s.order...) }

// Attach registers every check against its target asset in r.
func (s *Set) Attach(r *asset.Registry) error {
	for _, k := range s.order {
		if err := r.RegisterCheck(k, s.specs[k].Asset); err != nil {
			return err
		}
	}
	return nil
}
