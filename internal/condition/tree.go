// Package condition evaluates boolean expression trees over computed metric
// snapshots. Evaluation is tri-state: a leaf whose metric is absent (not
// yet computed, or circuit-broken) yields Indeterminate, which is never
// silently collapsed to false — callers re-check on the next tick.
package condition

import (
	"fmt"

	"pumpwatch/internal/model"
)

// Tristate is the evaluation result of a condition or group.
type Tristate int

const (
	False Tristate = iota
	True
	Indeterminate
)

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "indeterminate"
	}
}

// Comparator names the comparison a leaf applies.
type Comparator string

const (
	CmpGT Comparator = ">"
	CmpLT Comparator = "<"
	CmpGE Comparator = ">="
	CmpLE Comparator = "<="
	CmpEQ Comparator = "=="
	CmpNE Comparator = "!="
)

// Operator names the combinator of a group node.
type Operator string

const (
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
	OpNot Operator = "NOT"
)

// Node is either a leaf Condition or a Group — the tagged-variant AST a
// strategy section owns. Exactly one of Leaf/Group is set.
type Node struct {
	Leaf  *Condition `yaml:"leaf,omitempty" json:"leaf,omitempty"`
	Group *Group     `yaml:"group,omitempty" json:"group,omitempty"`
}

// Condition is a leaf: one metric compared against a threshold.
type Condition struct {
	VariantID  string     `yaml:"variant" json:"variant"`
	Comparator Comparator `yaml:"cmp" json:"cmp"`
	Threshold  float64    `yaml:"threshold" json:"threshold"`
	Negate     bool       `yaml:"negate,omitempty" json:"negate,omitempty"`
}

// Group is an internal node combining ordered children.
type Group struct {
	Operator Operator `yaml:"op" json:"op"`
	Children []Node   `yaml:"children" json:"children"`
}

// Eval evaluates the tree against a metric snapshot.
//
//	AND: all true → true; any false → false; otherwise Indeterminate.
//	OR:  any true → true; all false → false; otherwise Indeterminate.
//	NOT: single child; Indeterminate propagates, else logical negation.
func (n *Node) Eval(snap *model.MetricSnapshot) Tristate {
	switch {
	case n.Leaf != nil:
		return n.Leaf.eval(snap)
	case n.Group != nil:
		return n.Group.eval(snap)
	default:
		return Indeterminate
	}
}

func (c *Condition) eval(snap *model.MetricSnapshot) Tristate {
	mv, ok := snap.Get(c.VariantID)
	if !ok {
		return Indeterminate
	}

	var pass bool
	switch c.Comparator {
	case CmpGT:
		pass = mv.Value > c.Threshold
	case CmpLT:
		pass = mv.Value < c.Threshold
	case CmpGE:
		pass = mv.Value >= c.Threshold
	case CmpLE:
		pass = mv.Value <= c.Threshold
	case CmpEQ:
		pass = mv.Value == c.Threshold
	case CmpNE:
		pass = mv.Value != c.Threshold
	default:
		return Indeterminate
	}
	if c.Negate {
		pass = !pass
	}
	if pass {
		return True
	}
	return False
}

func (g *Group) eval(snap *model.MetricSnapshot) Tristate {
	switch g.Operator {
	case OpAnd:
		sawIndeterminate := false
		for i := range g.Children {
			switch g.Children[i].Eval(snap) {
			case False:
				return False
			case Indeterminate:
				sawIndeterminate = true
			}
		}
		if sawIndeterminate {
			return Indeterminate
		}
		return True

	case OpOr:
		sawIndeterminate := false
		for i := range g.Children {
			switch g.Children[i].Eval(snap) {
			case True:
				return True
			case Indeterminate:
				sawIndeterminate = true
			}
		}
		if sawIndeterminate {
			return Indeterminate
		}
		return False

	case OpNot:
		if len(g.Children) != 1 {
			return Indeterminate
		}
		switch g.Children[0].Eval(snap) {
		case True:
			return False
		case False:
			return True
		default:
			return Indeterminate
		}

	default:
		return Indeterminate
	}
}

// VariantRefs appends every variant ID the tree references to refs and
// returns the result. Used by session-start validation and to know which
// variants an evaluation tick must compute.
func (n *Node) VariantRefs(refs []string) []string {
	switch {
	case n.Leaf != nil:
		refs = append(refs, n.Leaf.VariantID)
	case n.Group != nil:
		for i := range n.Group.Children {
			refs = n.Group.Children[i].VariantRefs(refs)
		}
	}
	return refs
}

// Validate checks structural well-formedness: exactly one variant per node,
// known comparators/operators, NOT arity, non-empty groups. Variant
// reference resolution happens separately against the session's variant set
// (see strategy.Validate).
func (n *Node) Validate() error {
	switch {
	case n.Leaf != nil && n.Group != nil:
		return fmt.Errorf("condition: node has both leaf and group")
	case n.Leaf != nil:
		return n.Leaf.validate()
	case n.Group != nil:
		return n.Group.validate()
	default:
		return fmt.Errorf("condition: empty node")
	}
}

func (c *Condition) validate() error {
	if c.VariantID == "" {
		return fmt.Errorf("condition: leaf missing variant reference")
	}
	switch c.Comparator {
	case CmpGT, CmpLT, CmpGE, CmpLE, CmpEQ, CmpNE:
	default:
		return fmt.Errorf("condition: unknown comparator %q", c.Comparator)
	}
	return nil
}

func (g *Group) validate() error {
	switch g.Operator {
	case OpAnd, OpOr:
		if len(g.Children) == 0 {
			return fmt.Errorf("condition: %s group has no children", g.Operator)
		}
	case OpNot:
		if len(g.Children) != 1 {
			return fmt.Errorf("condition: NOT group must have exactly one child, has %d", len(g.Children))
		}
	default:
		return fmt.Errorf("condition: unknown operator %q", g.Operator)
	}
	for i := range g.Children {
		if err := g.Children[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
