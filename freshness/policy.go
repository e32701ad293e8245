// Package freshness judges how stale an asset is against a time-window policy.
package freshness

import (
	"fmt"
	"time"

	"github.com/teranos/strata/errors"
)

// Policy is a warn/fail time-window pair bounding acceptable staleness.
// Warn must trigger before Fail.
type Policy struct {
	Warn time.Duration `json:"warn_window" toml:"warn_window"`
	Fail time.Duration `json:"fail_window" toml:"fail_window"`
}

// NewPolicy returns a validated policy.
func NewPolicy(warn, fail time.Duration) (Policy, error) {
	p := Policy{Warn: warn, Fail: fail}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// ParsePolicy parses two Go duration strings ("24h", "90m") into a policy.
func ParsePolicy(warn, fail string) (Policy, error) {
	w, err := time.ParseDuration(warn)
	if err != nil {
		return Policy{}, errors.Wrapf(errors.ErrInvalidPolicy, "warn window %q: %v", warn, err)
	}
	f, err := time.ParseDuration(fail)
	if err != nil {
		return Policy{}, errors.Wrapf(errors.ErrInvalidPolicy, "fail window %q: %v", fail, err)
	}
	return NewPolicy(w, f)
}

// MustPolicy is NewPolicy for package-level definitions; it panics on an invalid pair.
func MustPolicy(warn, fail time.Duration) Policy {
	p, err := NewPolicy(warn, fail)
	if err != nil {
		panic(err)
	}
	return p
}

// Validate checks 0 <= warn < fail.
func (p Policy) Validate() error {
	if p.Warn < 0 || p.Fail <= 0 {
		return errors.Wrapf(errors.ErrInvalidPolicy, "windows must be positive (warn=%s, fail=%s)", p.Warn, p.Fail)
	}
	if p.Warn >= p.Fail {
		return errors.WithHint(
			errors.Wrapf(errors.ErrInvalidPolicy, "warn window %s must be shorter than fail window %s", p.Warn, p.Fail),
			"warn must trigger before fail",
		)
	}
	return nil
}

func (p Policy) String() string {
	return fmt.Sprintf("warn>=%s fail>=%s", p.Warn, p.Fail)
}
