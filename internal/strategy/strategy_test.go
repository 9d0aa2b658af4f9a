package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"pumpwatch/internal/catalog"
	"pumpwatch/internal/condition"
	"pumpwatch/internal/model"
)

const sampleYAML = `
name: pump-test

variants:
  - id: pump_fast
    kind: pump_magnitude_pct
    params: { period: 300 }
  - id: surge
    kind: volume_surge_ratio
    params: { window: 60, baseline: 600 }
  - id: velocity
    kind: price_velocity
    params: { period: 120 }
  - id: dd
    kind: drawdown_pct
    params: { period: 300 }

sections:
  s1:
    group:
      op: AND
      children:
        - leaf: { variant: pump_fast, cmp: ">", threshold: 15 }
        - leaf: { variant: surge, cmp: ">", threshold: 3 }
  z1:
    leaf: { variant: velocity, cmp: ">", threshold: 0 }
  o1:
    leaf: { variant: pump_fast, cmp: "<", threshold: 5 }
  ze1:
    leaf: { variant: velocity, cmp: "<", threshold: 0 }
  e1:
    leaf: { variant: dd, cmp: ">", threshold: 10 }
`

func writeStrategy(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func builtinRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	reg := catalog.NewRegistry()
	if err := catalog.RegisterBuiltins(reg); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestLoadFile_ParsesDocument(t *testing.T) {
	path := writeStrategy(t, t.TempDir(), "pump.yaml", sampleYAML)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Name != "pump-test" {
		t.Errorf("name = %q", s.Name)
	}
	if len(s.Variants) != 4 {
		t.Fatalf("got %d variants, want 4", len(s.Variants))
	}
	if s.Variants[0].Params["period"] != 300 {
		t.Errorf("pump_fast period = %v", s.Variants[0].Params["period"])
	}

	s1 := s.Tree(model.TriggerS1)
	if s1.Group == nil || s1.Group.Operator != condition.OpAnd || len(s1.Group.Children) != 2 {
		t.Fatalf("s1 tree shape wrong: %+v", s1)
	}
	e1 := s.Tree(model.TriggerE1)
	if e1.Leaf == nil || e1.Leaf.VariantID != "dd" || e1.Leaf.Threshold != 10 {
		t.Errorf("e1 tree = %+v", e1.Leaf)
	}
}

func TestLoadFile_RejectsMissingName(t *testing.T) {
	path := writeStrategy(t, t.TempDir(), "anon.yaml", "variants: []\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected missing name to fail")
	}
}

func TestStrategy_VariantIDsDeduplicatedInReferenceOrder(t *testing.T) {
	path := writeStrategy(t, t.TempDir(), "pump.yaml", sampleYAML)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// velocity appears in z1 and ze1, pump_fast in s1 and o1 — each once,
	// in first-reference order.
	got := s.VariantIDs()
	want := []string{"pump_fast", "surge", "velocity", "dd"}
	if len(got) != len(want) {
		t.Fatalf("VariantIDs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("VariantIDs = %v, want %v", got, want)
		}
	}
}

func TestStrategy_CompileResolvesVariants(t *testing.T) {
	path := writeStrategy(t, t.TempDir(), "pump.yaml", sampleYAML)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	vs, err := s.Compile(builtinRegistry(t))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	v, ok := vs.Get("surge")
	if !ok || v.Kind != catalog.KindVolumeSurge {
		t.Errorf("surge variant = %+v ok=%v", v, ok)
	}
}

func TestStrategy_CompileRejectsUndeclaredVariantReference(t *testing.T) {
	s := &Strategy{
		Name: "bad",
		Sections: Sections{
			S1:  condition.Node{Leaf: &condition.Condition{VariantID: "ghost", Comparator: condition.CmpGT}},
			Z1:  condition.Node{Leaf: &condition.Condition{VariantID: "ghost", Comparator: condition.CmpGT}},
			O1:  condition.Node{Leaf: &condition.Condition{VariantID: "ghost", Comparator: condition.CmpGT}},
			ZE1: condition.Node{Leaf: &condition.Condition{VariantID: "ghost", Comparator: condition.CmpGT}},
			E1:  condition.Node{Leaf: &condition.Condition{VariantID: "ghost", Comparator: condition.CmpGT}},
		},
	}
	if _, err := s.Compile(builtinRegistry(t)); err == nil {
		t.Fatal("expected undeclared variant reference to fail")
	}
}

func TestStrategy_CompileRejectsUnknownKind(t *testing.T) {
	path := writeStrategy(t, t.TempDir(), "pump.yaml", sampleYAML)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Variants[0].Kind = "not_a_kind"
	if _, err := s.Compile(builtinRegistry(t)); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestStrategy_CompileRejectsMalformedTree(t *testing.T) {
	path := writeStrategy(t, t.TempDir(), "pump.yaml", sampleYAML)
	s, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// A NOT group with two children is structurally invalid.
	s.Sections.Z1 = condition.Node{Group: &condition.Group{
		Operator: condition.OpNot,
		Children: []condition.Node{
			{Leaf: &condition.Condition{VariantID: "velocity", Comparator: condition.CmpGT}},
			{Leaf: &condition.Condition{VariantID: "velocity", Comparator: condition.CmpLT}},
		},
	}}
	if _, err := s.Compile(builtinRegistry(t)); err == nil {
		t.Fatal("expected malformed tree to fail")
	}
}

func TestLoadDir_RejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeStrategy(t, dir, "a.yaml", sampleYAML)
	writeStrategy(t, dir, "b.yaml", sampleYAML)
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected duplicate strategy name to fail")
	}
}

func TestLoadDir_SkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	writeStrategy(t, dir, "pump.yaml", sampleYAML)
	writeStrategy(t, dir, "README.md", "not a strategy")

	st, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if _, ok := st.Get("pump-test"); !ok {
		t.Error("pump-test not loaded")
	}
	if got := len(st.Names()); got != 1 {
		t.Errorf("loaded %d strategies, want 1", got)
	}
}
