package model

import "time"

// MetricValue is one computed indicator value for a (variant, symbol, bucket)
// key. At most one authoritative value exists per key at any time —
// recomputation overwrites, it never appends.
type MetricValue struct {
	VariantID  string    `json:"variant_id"`
	Symbol     string    `json:"symbol"`
	Bucket     int64     `json:"bucket"` // bucket start, Unix seconds
	Value      float64   `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// MetricSnapshot is the set of metric values a single evaluation produced,
// keyed by variant ID. Variants that failed to compute are absent here and
// listed in Failed instead.
type MetricSnapshot struct {
	Symbol string                 `json:"symbol"`
	Bucket int64                  `json:"bucket"`
	Values map[string]MetricValue `json:"values"`
	Failed []string               `json:"failed,omitempty"` // variant IDs with no value this bucket
}

// Partial reports whether any requested variant failed to compute.
func (s *MetricSnapshot) Partial() bool {
	return len(s.Failed) > 0
}

// Get returns the value for a variant and whether it is present.
func (s *MetricSnapshot) Get(variantID string) (MetricValue, bool) {
	v, ok := s.Values[variantID]
	return v, ok
}
