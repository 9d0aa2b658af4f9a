package condition

import (
	"testing"

	"pumpwatch/internal/model"
)

// snapFor builds a snapshot where variant "t" is 1 (true under >0),
// variant "f" is -1 (false under >0), and variant "i" is absent
// (Indeterminate). leafFor maps a desired Tristate to a leaf node.
func snapFor() *model.MetricSnapshot {
	return &model.MetricSnapshot{
		Symbol: "PUMPUSDT",
		Bucket: 60,
		Values: map[string]model.MetricValue{
			"t": {VariantID: "t", Value: 1},
			"f": {VariantID: "f", Value: -1},
		},
		Failed: []string{"i"},
	}
}

func leafFor(ts Tristate) Node {
	switch ts {
	case True:
		return Node{Leaf: &Condition{VariantID: "t", Comparator: CmpGT, Threshold: 0}}
	case False:
		return Node{Leaf: &Condition{VariantID: "f", Comparator: CmpGT, Threshold: 0}}
	default:
		return Node{Leaf: &Condition{VariantID: "i", Comparator: CmpGT, Threshold: 0}}
	}
}

// andTable covers the AND semantics: any false → false; all true → true;
// otherwise Indeterminate.
func andTable(inputs []Tristate) Tristate {
	sawI := false
	for _, in := range inputs {
		switch in {
		case False:
			return False
		case Indeterminate:
			sawI = true
		}
	}
	if sawI {
		return Indeterminate
	}
	return True
}

func orTable(inputs []Tristate) Tristate {
	sawI := false
	for _, in := range inputs {
		switch in {
		case True:
			return True
		case Indeterminate:
			sawI = true
		}
	}
	if sawI {
		return Indeterminate
	}
	return False
}

func TestGroup_TruthTableExhaustive(t *testing.T) {
	snap := snapFor()
	states := []Tristate{True, False, Indeterminate}

	// All combinations over 2 and 3 children.
	var combos [][]Tristate
	for _, a := range states {
		for _, b := range states {
			combos = append(combos, []Tristate{a, b})
			for _, c := range states {
				combos = append(combos, []Tristate{a, b, c})
			}
		}
	}

	for _, combo := range combos {
		children := make([]Node, len(combo))
		for i, ts := range combo {
			children[i] = leafFor(ts)
		}

		and := Node{Group: &Group{Operator: OpAnd, Children: children}}
		if got, want := and.Eval(snap), andTable(combo); got != want {
			t.Errorf("AND%v = %v, want %v", combo, got, want)
		}

		or := Node{Group: &Group{Operator: OpOr, Children: children}}
		if got, want := or.Eval(snap), orTable(combo); got != want {
			t.Errorf("OR%v = %v, want %v", combo, got, want)
		}
	}
}

func TestGroup_NotPropagation(t *testing.T) {
	snap := snapFor()
	cases := []struct {
		in   Tristate
		want Tristate
	}{
		{True, False},
		{False, True},
		{Indeterminate, Indeterminate},
	}
	for _, tc := range cases {
		not := Node{Group: &Group{Operator: OpNot, Children: []Node{leafFor(tc.in)}}}
		if got := not.Eval(snap); got != tc.want {
			t.Errorf("NOT(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestCondition_Comparators(t *testing.T) {
	snap := &model.MetricSnapshot{
		Values: map[string]model.MetricValue{
			"x": {VariantID: "x", Value: 5},
		},
	}
	cases := []struct {
		cmp       Comparator
		threshold float64
		want      Tristate
	}{
		{CmpGT, 4, True},
		{CmpGT, 5, False},
		{CmpLT, 6, True},
		{CmpLT, 5, False},
		{CmpGE, 5, True},
		{CmpGE, 6, False},
		{CmpLE, 5, True},
		{CmpLE, 4, False},
		{CmpEQ, 5, True},
		{CmpEQ, 4, False},
		{CmpNE, 4, True},
		{CmpNE, 5, False},
	}
	for _, tc := range cases {
		n := Node{Leaf: &Condition{VariantID: "x", Comparator: tc.cmp, Threshold: tc.threshold}}
		if got := n.Eval(snap); got != tc.want {
			t.Errorf("5 %s %v = %v, want %v", tc.cmp, tc.threshold, got, tc.want)
		}
	}
}

func TestCondition_NegateFlipsDefiniteOnly(t *testing.T) {
	snap := snapFor()

	neg := Node{Leaf: &Condition{VariantID: "t", Comparator: CmpGT, Threshold: 0, Negate: true}}
	if got := neg.Eval(snap); got != False {
		t.Errorf("negated true leaf = %v, want false", got)
	}

	// Negate must not turn an absent metric into a definite answer.
	negAbsent := Node{Leaf: &Condition{VariantID: "i", Comparator: CmpGT, Threshold: 0, Negate: true}}
	if got := negAbsent.Eval(snap); got != Indeterminate {
		t.Errorf("negated absent leaf = %v, want indeterminate", got)
	}
}

func TestNode_Validate(t *testing.T) {
	bad := []Node{
		{}, // empty
		{Leaf: &Condition{Comparator: CmpGT}},                            // missing variant
		{Leaf: &Condition{VariantID: "x", Comparator: "~"}},              // bad comparator
		{Group: &Group{Operator: OpAnd}},                                 // empty AND
		{Group: &Group{Operator: OpNot, Children: make([]Node, 2)}},      // NOT arity
		{Group: &Group{Operator: "XOR", Children: []Node{leafFor(True)}}}, // unknown op
	}
	for i, n := range bad {
		if err := n.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	good := Node{Group: &Group{Operator: OpAnd, Children: []Node{
		leafFor(True),
		{Group: &Group{Operator: OpNot, Children: []Node{leafFor(False)}}},
	}}}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestNode_VariantRefs(t *testing.T) {
	n := Node{Group: &Group{Operator: OpOr, Children: []Node{
		{Leaf: &Condition{VariantID: "a", Comparator: CmpGT}},
		{Group: &Group{Operator: OpAnd, Children: []Node{
			{Leaf: &Condition{VariantID: "b", Comparator: CmpLT}},
			{Leaf: &Condition{VariantID: "a", Comparator: CmpGE}},
		}}},
	}}}
	refs := n.VariantRefs(nil)
	if len(refs) != 3 || refs[0] != "a" || refs[1] != "b" || refs[2] != "a" {
		t.Errorf("unexpected refs: %v", refs)
	}
}
