// Package catalog is the registry of indicator kinds and their parameterized
// variants. Definitions declare compute functions and the indicator kinds
// they depend on; the registry enforces that the dependency graph over all
// registered definitions stays acyclic.
package catalog

import (
	"fmt"
	"sort"

	"pumpwatch/internal/model"
)

// ComputeInput carries everything a compute function may read. Compute
// functions must be pure over this input — no wall-clock reads, no hidden
// state. Any notion of "now" comes from the bucket.
type ComputeInput struct {
	Symbol      string
	Bucket      int64 // bucket start, Unix seconds
	BucketWidth int64 // seconds

	// Ticks is the symbol's tick window, timestamp-ascending, truncated at
	// the bucket close (no look-ahead).
	Ticks []model.Tick

	// Params are the variant's parameters (e.g. period=300).
	Params map[string]float64

	// Deps holds the already-resolved values of this kind's dependencies,
	// computed for the same variant parameter set.
	Deps map[string]float64
}

// Param returns a parameter value, falling back to def when absent.
func (in *ComputeInput) Param(name string, def float64) float64 {
	if v, ok := in.Params[name]; ok {
		return v
	}
	return def
}

// ComputeFn computes one indicator value. Returning an error marks the
// branch failed for this bucket (ComputationFailure); it never aborts the
// evaluation tick.
type ComputeFn func(in ComputeInput) (float64, error)

// Definition is an immutable indicator kind registration.
type Definition struct {
	Kind      string
	Compute   ComputeFn
	DependsOn []string // other indicator kinds this one reads
}

// Registry holds indicator definitions. Registration is done once at
// startup; lookups afterwards are read-only, so no locking.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition, 16)}
}

// Register adds a definition. It fails if the kind is already registered,
// a dependency is unknown, or the dependency would close a cycle.
func (r *Registry) Register(def Definition) error {
	if def.Kind == "" {
		return fmt.Errorf("catalog: empty kind")
	}
	if def.Compute == nil {
		return fmt.Errorf("catalog: %s: nil compute function", def.Kind)
	}
	if _, dup := r.defs[def.Kind]; dup {
		return fmt.Errorf("catalog: %s: already registered", def.Kind)
	}
	for _, dep := range def.DependsOn {
		if dep == def.Kind {
			return fmt.Errorf("catalog: %s: self-dependency", def.Kind)
		}
		if _, ok := r.defs[dep]; !ok {
			return fmt.Errorf("catalog: %s: unknown dependency %q", def.Kind, dep)
		}
	}
	r.defs[def.Kind] = def
	if cycle := r.findCycle(); cycle != "" {
		delete(r.defs, def.Kind)
		return fmt.Errorf("catalog: %s: registration closes cycle at %q", def.Kind, cycle)
	}
	return nil
}

// Lookup returns the definition for a kind.
func (r *Registry) Lookup(kind string) (Definition, bool) {
	d, ok := r.defs[kind]
	return d, ok
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// findCycle runs a three-color DFS over the definition graph and returns
// the kind at which a back edge was found, or "".
func (r *Registry) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(r.defs))

	var visit func(kind string) string
	visit = func(kind string) string {
		color[kind] = gray
		for _, dep := range r.defs[kind].DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[kind] = black
		return ""
	}

	for k := range r.defs {
		if color[k] == white {
			if c := visit(k); c != "" {
				return c
			}
		}
	}
	return ""
}
