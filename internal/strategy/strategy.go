// Package strategy defines the externally authored strategy document the
// core consumes read-only: five named condition trees plus the indicator
// variants they reference. Strategies are validated once at session start;
// a malformed tree or unknown variant reference refuses the session rather
// than running with an invalid tree.
package strategy

import (
	"fmt"

	"pumpwatch/internal/catalog"
	"pumpwatch/internal/condition"
	"pumpwatch/internal/model"
)

// VariantDecl declares one indicator variant a strategy uses.
type VariantDecl struct {
	ID     string             `yaml:"id"`
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"params,omitempty"`
	Scope  []string           `yaml:"scope,omitempty"`
}

// Sections holds the five lifecycle condition trees.
type Sections struct {
	S1  condition.Node `yaml:"s1"`  // signal detection
	Z1  condition.Node `yaml:"z1"`  // entry / zone confirmation
	O1  condition.Node `yaml:"o1"`  // cancel before entry
	ZE1 condition.Node `yaml:"ze1"` // planned exit
	E1  condition.Node `yaml:"e1"`  // emergency exit
}

// Strategy is one named strategy document. Immutable for the duration of a
// running session.
type Strategy struct {
	Name     string        `yaml:"name"`
	Variants []VariantDecl `yaml:"variants"`
	Sections Sections      `yaml:"sections"`
}

// Tree returns the section tree for a trigger.
func (s *Strategy) Tree(tr model.Trigger) *condition.Node {
	switch tr {
	case model.TriggerS1:
		return &s.Sections.S1
	case model.TriggerZ1:
		return &s.Sections.Z1
	case model.TriggerO1:
		return &s.Sections.O1
	case model.TriggerZE1:
		return &s.Sections.ZE1
	case model.TriggerE1:
		return &s.Sections.E1
	default:
		return nil
	}
}

// sectionTriggers is the fixed evaluation inventory of a strategy.
var sectionTriggers = []model.Trigger{
	model.TriggerS1, model.TriggerZ1, model.TriggerO1, model.TriggerZE1, model.TriggerE1,
}

// VariantIDs returns the union of variant IDs referenced by all five trees,
// deduplicated, in first-reference order. This is the set an evaluation
// tick asks the DAG engine for.
func (s *Strategy) VariantIDs() []string {
	seen := make(map[string]bool, 8)
	var out []string
	for _, tr := range sectionTriggers {
		for _, id := range s.Tree(tr).VariantRefs(nil) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Compile validates the strategy against the indicator registry and builds
// its resolved variant set. Any failure here is a ConfigurationError: the
// caller must refuse to start the session.
func (s *Strategy) Compile(reg *catalog.Registry) (*catalog.VariantSet, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("strategy: missing name")
	}

	vs := catalog.NewVariantSet(reg)
	for _, d := range s.Variants {
		if d.ID == "" {
			return nil, fmt.Errorf("strategy %s: variant declaration missing id", s.Name)
		}
		if err := vs.Add(catalog.Variant{ID: d.ID, Kind: d.Kind, Params: d.Params, Scope: d.Scope}); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
	}

	for _, tr := range sectionTriggers {
		tree := s.Tree(tr)
		if err := tree.Validate(); err != nil {
			return nil, fmt.Errorf("strategy %s: section %s: %w", s.Name, tr, err)
		}
		for _, ref := range tree.VariantRefs(nil) {
			if _, ok := vs.Get(ref); !ok {
				return nil, fmt.Errorf("strategy %s: section %s references undeclared variant %q", s.Name, tr, ref)
			}
		}
	}
	return vs, nil
}
