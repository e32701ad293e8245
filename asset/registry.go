package asset

import (
	"strings"

	"github.com/teranos/strata/errors"
)

// Registry holds every asset definition and the checks attached to them.
// It is not safe for concurrent registration; build it before sharing.
type Registry struct {
	nodes map[string]*Node
	order []string

	checkTargets map[string]string // check key -> asset key
	checkOrder   []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes:        make(map[string]*Node),
		checkTargets: make(map[string]string),
	}
}

// Register adds an asset. Keys are unique across the registry.
func (r *Registry) Register(spec Spec) error {
	spec.Key = strings.TrimSpace(spec.Key)
	if spec.Key == "" {
		return errors.NewInvalidRequestError("asset key is required")
	}
	if _, exists := r.nodes[spec.Key]; exists {
		return errors.WithHint(
			errors.Wrapf(errors.ErrDuplicateKey, "asset %q already registered", spec.Key),
			"asset keys must be unique across all definition files",
		)
	}
	if spec.Freshness != nil {
		if err := spec.Freshness.Validate(); err != nil {
			return errors.Wrapf(err, "asset %q", spec.Key)
		}
	}

	r.nodes[spec.Key] = newNode(spec)
	r.order = append(r.order, spec.Key)

	// Checks registered before their asset attach now.
	for _, checkKey := range r.checkOrder {
		if r.checkTargets[checkKey] == spec.Key {
			r.nodes[spec.Key].checks = append(r.nodes[spec.Key].checks, checkKey)
		}
	}
	return nil
}

// RegisterCheck attaches a check key to exactly one target asset. The target
// may be registered later; BuildGraph rejects checks whose target never appears.
func (r *Registry) RegisterCheck(checkKey, assetKey string) error {
	if checkKey == "" || assetKey == "" {
		return errors.NewInvalidRequestError("check key and target asset are required")
	}
	if _, exists := r.checkTargets[checkKey]; exists {
		return errors.Wrapf(errors.ErrDuplicateKey, "check %q already registered", checkKey)
	}
	r.checkTargets[checkKey] = assetKey
	r.checkOrder = append(r.checkOrder, checkKey)
	if n, ok := r.nodes[assetKey]; ok {
		n.checks = append(n.checks, checkKey)
	}
	return nil
}

// Node looks up an asset by key.
func (r *Registry) Node(key string) (*Node, bool) {
	n, ok := r.nodes[key]
	return n, ok
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.nodes[key]
	return ok
}

// Len returns the number of registered assets.
func (r *Registry) Len() int { return len(r.order) }

// Keys returns asset keys in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Nodes returns nodes in registration order.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.nodes[k])
	}
	return out
}

// Groups returns the distinct groups in order of first appearance.
func (r *Registry) Groups() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range r.order {
		g := r.nodes[k].Group()
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out
}

// HasGroup reports whether any asset belongs to group.
func (r *Registry) HasGroup(group string) bool {
	for _, n := range r.nodes {
		if n.Group() == group {
			return true
		}
	}
	return false
}

// KeysInGroup returns the keys of group members in registration order.
func (r *Registry) KeysInGroup(group string) []string {
	var out []string
	for _, k := range r.order {
		if r.nodes[k].Group() == group {
			out = append(out, k)
		}
	}
	return out
}

// CheckKeys returns all check keys in registration order.
func (r *Registry) CheckKeys() []string {
	out := make([]string, len(r.checkOrder))
	copy(out, r.checkOrder)
	return out
}

// CheckTarget returns the asset a check is scoped to.
func (r *Registry) CheckTarget(checkKey string) (string, bool) {
	a, ok := r.checkTargets[checkKey]
	return a, ok
}

// clone copies the registry structure. Nodes are replaced by fn's result;
// materialization cells stay shared with the source registry.
func (r *Registry) clone(fn func(Spec) Spec) *Registry {
	out := NewRegistry()
	for _, k := range r.order {
		src := r.nodes[k]
		n := newNode(fn(src.Spec()))
		n.checks = src.Checks()
		n.last = src.last
		out.nodes[k] = n
		out.order = append(out.order, k)
	}
	for _, c := range r.checkOrder {
		out.checkTargets[c] = r.checkTargets[c]
		out.checkOrder = append(out.checkOrder, c)
	}
	return out
}
