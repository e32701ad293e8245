// Package selection evaluates declarative set expressions over a registry.
//
// Expressions compose by union only. Evaluation is pure: the same expression
// against the same registry always yields the same, deterministically ordered
// result.
package selection

import (
	"fmt"
	"strings"

	"github.com/teranos/strata/asset"
	"github.com/teranos/strata/errors"
)

// Expr is an immutable selection expression.
type Expr interface {
	collect(r *asset.Registry, out *set) error
	String() string
}

// Result is a concrete selection: asset keys and check keys, both in
// registration order.
type Result struct {
	Assets []string
	Checks []string
}

// Empty reports whether nothing was selected.
func (r Result) Empty() bool { return len(r.Assets) == 0 && len(r.Checks) == 0 }

// HasAsset reports whether key is among the selected assets.
func (r Result) HasAsset(key string) bool {
	for _, k := range r.Assets {
		if k == key {
			return true
		}
	}
	return false
}

type set struct {
	assets map[string]bool
	checks map[string]bool
}

// Evaluate resolves expr against r. Any unknown asset key or group fails the
// whole evaluation with ErrUnknownKey.
func Evaluate(expr Expr, r *asset.Registry) (Result, error) {
	if expr == nil {
		return Result{}, errors.NewInvalidRequestError("selection expression is nil")
	}
	s := &set{assets: make(map[string]bool), checks: make(map[string]bool)}
	if err := expr.collect(r, s); err != nil {
		return Result{}, err
	}

	var res Result
	for _, k := range r.Keys() {
		if s.assets[k] {
			res.Assets = append(res.Assets, k)
		}
	}
	for _, c := range r.CheckKeys() {
		if s.checks[c] {
			res.Checks = append(res.Checks, c)
		}
	}
	return res, nil
}

type byKeys struct{ keys []string }

// ByKeys selects exactly the named assets.
func ByKeys(keys ...string) Expr { return byKeys{keys: append([]string(nil), keys...)} }

func (e byKeys) collect(r *asset.Registry, out *set) error {
	for _, k := range e.keys {
		if !r.Has(k) {
			return errors.Wrapf(errors.ErrUnknownKey, "asset %q", k)
		}
		out.assets[k] = true
	}
	return nil
}

func (e byKeys) String() string { return fmt.Sprintf("keys(%s)", strings.Join(e.keys, ", ")) }

type byGroup struct{ groups []string }

// ByGroup selects every asset whose group is one of groups.
func ByGroup(groups ...string) Expr { return byGroup{groups: append([]string(nil), groups...)} }

func (e byGroup) collect(r *asset.Registry, out *set) error {
	for _, g := range e.groups {
		if !r.HasGroup(g) {
			return errors.Wrapf(errors.ErrUnknownKey, "group %q", g)
		}
		for _, k := range r.KeysInGroup(g) {
			out.assets[k] = true
		}
	}
	return nil
}

func (e byGroup) String() string { return fmt.Sprintf("groups(%s)", strings.Join(e.groups, ", ")) }

type checksFor struct{ keys []string }

// ChecksFor selects the checks attached to the named assets, not the assets.
func ChecksFor(keys ...string) Expr { return checksFor{keys: append([]string(nil), keys...)} }

func (e checksFor) collect(r *asset.Registry, out *set) error {
	for _, k := range e.keys {
		n, ok := r.Node(k)
		if !ok {
			return errors.Wrapf(errors.ErrUnknownKey, "asset %q", k)
		}
		for _, c := range n.Checks() {
			out.checks[c] = true
		}
	}
	return nil
}

func (e checksFor) String() string {
	return fmt.Sprintf("checks_for(%s)", strings.Join(e.keys, ", "))
}

type union struct{ parts []Expr }

// Union selects everything any of parts selects.
func Union(parts ...Expr) Expr { return union{parts: append([]Expr(nil), parts...)} }

func (e union) collect(r *asset.Registry, out *set) error {
	for _, p := range e.parts {
		if err := p.collect(r, out); err != nil {
			return err
		}
	}
	return nil
}

func (e union) String() string {
	s := make([]string, len(e.parts))
	for i, p := range e.parts {
		s[i] = p.String()
	}
	return strings.Join(s, " | ")
}
