package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Variant is a parameterized instantiation of a definition. Variants are
// immutable once referenced by a persisted strategy — different parameters
// mean a different variant ID.
type Variant struct {
	ID     string
	Kind   string
	Params map[string]float64

	// Scope limits the variant to specific symbols. Empty = all symbols.
	Scope []string
}

// AppliesTo reports whether the variant is in scope for a symbol.
func (v *Variant) AppliesTo(symbol string) bool {
	if len(v.Scope) == 0 {
		return true
	}
	for _, s := range v.Scope {
		if s == symbol {
			return true
		}
	}
	return false
}

// VariantID derives a stable ID from kind + sorted parameters, so the same
// parameterization always maps to the same variant.
func VariantID(kind string, params map[string]float64) string {
	if len(params) == 0 {
		return kind
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(kind)
	for _, k := range keys {
		sb.WriteByte(':')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(params[k], 'g', -1, 64))
	}
	return sb.String()
}

// VariantSet is the resolved set of variants a strategy references, keyed
// by variant ID. Built at session start and read-only afterwards.
type VariantSet struct {
	reg      *Registry
	variants map[string]Variant
}

// NewVariantSet creates an empty set bound to a registry.
func NewVariantSet(reg *Registry) *VariantSet {
	return &VariantSet{
		reg:      reg,
		variants: make(map[string]Variant, 8),
	}
}

// Add registers a variant instance. The kind must exist in the registry;
// re-adding the same ID with identical parameters is a no-op, while a
// conflicting re-add is rejected (variants are immutable).
func (s *VariantSet) Add(v Variant) error {
	if _, ok := s.reg.Lookup(v.Kind); !ok {
		return fmt.Errorf("variant %s: unknown indicator kind %q", v.ID, v.Kind)
	}
	if v.ID == "" {
		v.ID = VariantID(v.Kind, v.Params)
	}
	if prev, dup := s.variants[v.ID]; dup {
		if prev.Kind != v.Kind || !paramsEqual(prev.Params, v.Params) {
			return fmt.Errorf("variant %s: conflicting redefinition", v.ID)
		}
		return nil
	}
	s.variants[v.ID] = v
	return nil
}

// Get returns a variant by ID.
func (s *VariantSet) Get(id string) (Variant, bool) {
	v, ok := s.variants[id]
	return v, ok
}

// IDs returns all variant IDs, sorted.
func (s *VariantSet) IDs() []string {
	out := make([]string, 0, len(s.variants))
	for id := range s.variants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Registry returns the bound registry.
func (s *VariantSet) Registry() *Registry { return s.reg }

func paramsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
