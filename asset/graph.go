package asset

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/teranos/strata/errors"
)

// CycleError reports one dependency cycle, in "depends on" direction:
// Path [a b c a] means a depends on b, b on c, c on a.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return errors.ErrCycle }

// DanglingDependencyError reports an upstream key that is not registered.
type DanglingDependencyError struct {
	Asset   string
	Missing string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("asset %q depends on unregistered asset %q", e.Asset, e.Missing)
}

func (e *DanglingDependencyError) Unwrap() error { return errors.ErrDanglingDependency }

// Graph is the validated, acyclic dependency graph over a registry snapshot.
// Edges run from an upstream asset to the assets that depend on it.
type Graph struct {
	registry   *Registry
	index      map[string]int
	upstream   map[string][]string
	downstream map[string][]string
}

// BuildGraph derives edges from each asset's upstream keys and validates them.
// It fails on the first unregistered upstream key, on a check targeting an
// unregistered asset, and on any cycle.
func (r *Registry) BuildGraph() (*Graph, error) {
	g := &Graph{
		registry:   r,
		index:      make(map[string]int, len(r.order)),
		upstream:   make(map[string][]string, len(r.order)),
		downstream: make(map[string][]string, len(r.order)),
	}
	for i, k := range r.order {
		g.index[k] = i
	}

	for _, k := range r.order {
		seen := make(map[string]bool)
		for _, up := range r.nodes[k].spec.Upstream {
			if !r.Has(up) {
				return nil, errors.WithHint(
					&DanglingDependencyError{Asset: k, Missing: up},
					"register the upstream asset or remove it from the dependency list",
				)
			}
			if seen[up] {
				continue
			}
			seen[up] = true
			g.upstream[k] = append(g.upstream[k], up)
			g.downstream[up] = append(g.downstream[up], k)
		}
	}

	for _, c := range r.checkOrder {
		if target := r.checkTargets[c]; !r.Has(target) {
			return nil, errors.Wrapf(errors.ErrUnknownKey, "check %q targets unregistered asset %q", c, target)
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, errors.WithHint(&CycleError{Path: path}, "an asset may not depend on itself, directly or transitively")
	}
	return g, nil
}

// findCycle runs a depth-first traversal along upstream edges keeping an
// in-progress set; reaching an in-progress node closes a cycle. Traversal
// order is registration order, so the reported witness is stable.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(g.index))
	var stack []string
	var cycle []string

	var visit func(k string) bool
	visit = func(k string) bool {
		state[k] = inProgress
		stack = append(stack, k)
		for _, up := range g.upstream[k] {
			switch state[up] {
			case inProgress:
				start := 0
				for i, s := range stack {
					if s == up {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), up)
				return true
			case unvisited:
				if visit(up) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[k] = done
		return false
	}

	for _, k := range g.registry.order {
		if state[k] == unvisited && visit(k) {
			return cycle
		}
	}
	return nil
}

// Registry returns the snapshot the graph was built from.
func (g *Graph) Registry() *Registry { return g.registry }

// Upstream returns the direct dependencies of key.
func (g *Graph) Upstream(key string) []string {
	return append([]string(nil), g.upstream[key]...)
}

// Downstream returns the assets that directly depend on key.
func (g *Graph) Downstream(key string) []string {
	return append([]string(nil), g.downstream[key]...)
}

// Roots returns assets without upstream dependencies, in registration order.
func (g *Graph) Roots() []string {
	var out []string
	for _, k := range g.registry.order {
		if len(g.upstream[k]) == 0 {
			out = append(out, k)
		}
	}
	return out
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopologicalOrder returns every asset after all of its upstream assets.
// Among assets that are ready at the same time, the one registered first wins.
// The order is diagnostic; execution ordering belongs to the executor.
func (g *Graph) TopologicalOrder() []string {
	order := g.registry.order
	indeg := make([]int, len(order))
	for i, k := range order {
		indeg[i] = len(g.upstream[k])
	}

	ready := &indexHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]string, 0, len(order))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		k := order[i]
		out = append(out, k)
		for _, down := range g.downstream[k] {
			j := g.index[down]
			indeg[j]--
			if indeg[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	return out
}

// Sort orders keys topologically, keeping only the given keys.
func (g *Graph) Sort(keys []string) []string {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []string
	for _, k := range g.TopologicalOrder() {
		if want[k] {
			out = append(out, k)
		}
	}
	return out
}
