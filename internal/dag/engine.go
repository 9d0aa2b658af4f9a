// Package dag resolves inter-indicator dependencies and computes metric
// values per (symbol, bucket). Requested variants and their transitive
// dependencies form an induced subgraph that is evaluated in topological
// order, consulting the bucket cache before every compute and closing a
// branch when an ancestor fails.
package dag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pumpwatch/internal/breaker"
	"pumpwatch/internal/catalog"
	"pumpwatch/internal/history"
	"pumpwatch/internal/model"
)

// Engine evaluates indicator variants against tick history. One engine is
// shared by all sessions; the cache and history store it holds are the only
// cross-session state, both partitioned by symbol.
type Engine struct {
	cache       *Cache
	history     *history.Store
	breakers    *breaker.Group
	bucketWidth int64

	// now stamps MetricValue.ComputedAt. Injectable so backtests stamp
	// virtual time. Never visible to compute functions.
	now func() time.Time

	// Metrics hooks (optional).
	OnCacheHit    func()
	OnCacheMiss   func()
	OnComputeFail func(kind string)
	OnPartial     func()
}

// NewEngine creates a DAG engine.
func NewEngine(cache *Cache, hist *history.Store, breakers *breaker.Group, bucketWidthSec int64) *Engine {
	if bucketWidthSec <= 0 {
		bucketWidthSec = 60
	}
	return &Engine{
		cache:       cache,
		history:     hist,
		breakers:    breakers,
		bucketWidth: bucketWidthSec,
		now:         time.Now,
	}
}

// SetNow overrides the timestamp source (backtest virtual clock).
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// BucketWidth returns the configured bucket width in seconds.
func (e *Engine) BucketWidth() int64 { return e.bucketWidth }

// node is one variant in the induced evaluation subgraph.
type node struct {
	variant catalog.Variant
	def     catalog.Definition
	deps    []string // dep variant IDs
}

// Evaluate computes the requested variants (plus transitive dependencies)
// for one symbol and bucket. A failing node closes only its own branch:
// its transitive dependents land in the snapshot's Failed list while every
// other variant still gets a value. The returned error is reserved for
// configuration-class problems (unknown variant/kind), which session-start
// validation should have caught.
func (e *Engine) Evaluate(ctx context.Context, vs *catalog.VariantSet, symbol string, bucket int64, variantIDs []string) (model.MetricSnapshot, error) {
	snap := model.MetricSnapshot{
		Symbol: symbol,
		Bucket: bucket,
		Values: make(map[string]model.MetricValue, len(variantIDs)),
	}

	nodes, order, err := e.buildSubgraph(vs, variantIDs)
	if err != nil {
		return snap, err
	}

	// One tick snapshot per evaluation, truncated at the bucket close.
	// Every compute in this call sees the same history.
	ticks := e.history.Window(symbol).Snapshot(bucket + e.bucketWidth)

	failed := make(map[string]bool, 4)
	for _, id := range order {
		n := nodes[id]

		// Branch short-circuit: any failed ancestor fails this node
		// without invoking its compute function.
		skip := false
		for _, dep := range n.deps {
			if failed[dep] {
				skip = true
				break
			}
		}
		if skip {
			failed[id] = true
			continue
		}

		if v, ok := e.cache.Get(id, symbol, bucket); ok {
			if e.OnCacheHit != nil {
				e.OnCacheHit()
			}
			snap.Values[id] = v
			continue
		}
		if e.OnCacheMiss != nil {
			e.OnCacheMiss()
		}

		deps := make(map[string]float64, len(n.deps))
		for _, dep := range n.deps {
			deps[nodes[dep].variant.Kind] = snap.Values[dep].Value
		}

		value, cerr := e.compute(ctx, n, symbol, ticks, deps, bucket)
		if cerr != nil {
			if ctx.Err() != nil {
				// Session stopping — discard the whole evaluation.
				return snap, ctx.Err()
			}
			if e.OnComputeFail != nil && !errors.Is(cerr, catalog.ErrInsufficientData) {
				e.OnComputeFail(n.variant.Kind)
			}
			failed[id] = true
			continue
		}

		mv := model.MetricValue{
			VariantID:  id,
			Symbol:     symbol,
			Bucket:     bucket,
			Value:      value,
			ComputedAt: e.now(),
		}
		e.cache.Put(mv)
		snap.Values[id] = mv
	}

	for _, id := range order {
		if failed[id] {
			snap.Failed = append(snap.Failed, id)
		}
	}
	if len(snap.Failed) > 0 && e.OnPartial != nil {
		e.OnPartial()
	}
	return snap, nil
}

// compute runs one node's compute function through its kind's circuit
// breaker. DataUnavailable (ErrInsufficientData) is not a breaker failure:
// an empty window means the feed hasn't warmed up, not that the indicator
// is broken.
func (e *Engine) compute(ctx context.Context, n node, symbol string, ticks []model.Tick, deps map[string]float64, bucket int64) (float64, error) {
	in := catalog.ComputeInput{
		Symbol:      symbol,
		Bucket:      bucket,
		BucketWidth: e.bucketWidth,
		Ticks:       ticks,
		Params:      n.variant.Params,
		Deps:        deps,
	}

	var (
		value  float64
		noData error
	)
	err := e.breakers.Target(n.variant.Kind).Call(ctx, func(ctx context.Context) error {
		v, cerr := n.def.Compute(in)
		if errors.Is(cerr, catalog.ErrInsufficientData) {
			noData = cerr
			return nil
		}
		if cerr != nil {
			return cerr
		}
		value = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	if noData != nil {
		return 0, noData
	}
	return value, nil
}

// buildSubgraph resolves the requested variants and their transitive
// dependencies into nodes plus a topological order (dependencies first).
// Dependency variants inherit the dependent's parameter set; if the set
// already holds a variant with the derived ID, that one is used.
func (e *Engine) buildSubgraph(vs *catalog.VariantSet, variantIDs []string) (map[string]node, []string, error) {
	reg := vs.Registry()
	nodes := make(map[string]node, len(variantIDs)*2)

	var add func(v catalog.Variant) error
	add = func(v catalog.Variant) error {
		if _, seen := nodes[v.ID]; seen {
			return nil
		}
		def, ok := reg.Lookup(v.Kind)
		if !ok {
			return fmt.Errorf("dag: variant %s references unknown kind %q", v.ID, v.Kind)
		}
		n := node{variant: v, def: def}
		for _, depKind := range def.DependsOn {
			depID := catalog.VariantID(depKind, v.Params)
			dep, ok := vs.Get(depID)
			if !ok {
				dep = catalog.Variant{ID: depID, Kind: depKind, Params: v.Params, Scope: v.Scope}
			}
			n.deps = append(n.deps, dep.ID)
			if err := add(dep); err != nil {
				return err
			}
		}
		nodes[v.ID] = n
		return nil
	}

	for _, id := range variantIDs {
		v, ok := vs.Get(id)
		if !ok {
			return nil, nil, fmt.Errorf("dag: unknown variant %q", id)
		}
		if err := add(v); err != nil {
			return nil, nil, err
		}
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, nil, err
	}
	return nodes, order, nil
}

// topoSort returns node IDs with every node after all of its dependencies.
// The registry rejects cyclic definitions, so a cycle here means corrupted
// state and is reported rather than looping.
func topoSort(nodes map[string]node) ([]string, error) {
	indeg := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for id, n := range nodes {
		if _, ok := indeg[id]; !ok {
			indeg[id] = 0
		}
		for _, dep := range n.deps {
			indeg[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	// Deterministic order: ready queue kept sorted by insertion via stable
	// scan over a sorted seed set.
	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	sortStrings(queue)

	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		next := dependents[id]
		sortStrings(next)
		for _, dep := range next {
			indeg[dep]--
			if indeg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) != len(nodes) {
		return nil, fmt.Errorf("dag: dependency cycle among %d variants", len(nodes)-len(order))
	}
	return order, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
