// Package asset holds the asset registry and the dependency graph derived
// from each asset's declared upstream keys.
//
// A Registry is populated once at startup and read-only afterwards. The only
// mutable state on a Node is its last materialization time, which has a single
// writer (the run worker) and is stored atomically.
package asset

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/teranos/strata/freshness"
)

// Spec is the declarative definition of one asset.
type Spec struct {
	Key         string
	Group       string
	Upstream    []string
	Freshness   *freshness.Policy
	Description string
	Kinds       []string

	// Delegated assets are built by the external transform tool; strata only
	// knows their key, group and edges.
	Delegated bool
}

// Node is a registered asset.
type Node struct {
	spec   Spec
	checks []string
	last   *materialization
}

type materialization struct {
	unixNano atomic.Int64
}

func newNode(spec Spec) *Node {
	spec.Upstream = slices.Clone(spec.Upstream)
	spec.Kinds = slices.Clone(spec.Kinds)
	if spec.Freshness != nil {
		p := *spec.Freshness
		spec.Freshness = &p
	}
	return &Node{spec: spec, last: &materialization{}}
}

func (n *Node) Key() string         { return n.spec.Key }
func (n *Node) Group() string       { return n.spec.Group }
func (n *Node) Description() string { return n.spec.Description }
func (n *Node) Delegated() bool     { return n.spec.Delegated }

// Upstream returns the declared upstream keys in declaration order.
func (n *Node) Upstream() []string { return slices.Clone(n.spec.Upstream) }

// Kinds returns the asset's kind tags (e.g. "python", "dbt").
func (n *Node) Kinds() []string { return slices.Clone(n.spec.Kinds) }

// Checks returns the keys of checks attached to this asset.
func (n *Node) Checks() []string { return slices.Clone(n.checks) }

// Spec returns a copy of the definition the node was registered with.
func (n *Node) Spec() Spec {
	s := n.spec
	s.Upstream = slices.Clone(s.Upstream)
	s.Kinds = slices.Clone(s.Kinds)
	s.Freshness = n.FreshnessPolicy()
	return s
}

// FreshnessPolicy returns the node's policy, or nil when unresolved.
func (n *Node) FreshnessPolicy() *freshness.Policy {
	if n.spec.Freshness == nil {
		return nil
	}
	p := *n.spec.Freshness
	return &p
}

// LastMaterializedAt reports when the asset last materialized successfully.
func (n *Node) LastMaterializedAt() (time.Time, bool) {
	v := n.last.unixNano.Load()
	if v == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, v).UTC(), true
}

// MarkMaterialized records a successful materialization at t.
// Earlier timestamps never replace later ones.
func (n *Node) MarkMaterialized(t time.Time) {
	v := t.UnixNano()
	for {
		cur := n.last.unixNano.Load()
		if cur >= v {
			return
		}
		if n.last.unixNano.CompareAndSwap(cur, v) {
			return
		}
	}
}
