package asset

import "github.com/teranos/strata/freshness"

// ApplyDefault resolves one spec's freshness policy. An explicit policy wins
// unless overwrite is set.
func ApplyDefault(spec Spec, policy freshness.Policy, overwrite bool) Spec {
	if spec.Freshness != nil && !overwrite {
		return spec
	}
	p := policy
	spec.Freshness = &p
	return spec
}

// WithDefaultFreshness returns a resolved snapshot of the registry with the
// default policy applied to every asset. The receiver is left untouched so the
// pre-merge definitions stay inspectable. Materialization timestamps are shared
// between the two snapshots.
func (r *Registry) WithDefaultFreshness(policy freshness.Policy, overwrite bool) (*Registry, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return r.clone(func(s Spec) Spec {
		return ApplyDefault(s, policy, overwrite)
	}), nil
}
