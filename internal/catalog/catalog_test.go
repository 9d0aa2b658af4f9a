package catalog

import (
	"strings"
	"testing"
)

func noopCompute(ComputeInput) (float64, error) { return 0, nil }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Kind: "a", Compute: noopCompute}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(Definition{Kind: "b", Compute: noopCompute, DependsOn: []string{"a"}}); err != nil {
		t.Fatalf("register b: %v", err)
	}

	if _, ok := r.Lookup("a"); !ok {
		t.Error("expected lookup a to succeed")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("expected lookup missing to fail")
	}

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != "a" || kinds[1] != "b" {
		t.Errorf("Kinds() = %v, want [a b]", kinds)
	}
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Kind: "a", Compute: noopCompute})
	if err := r.Register(Definition{Kind: "a", Compute: noopCompute}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistry_RejectsUnknownDep(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{Kind: "b", Compute: noopCompute, DependsOn: []string{"nope"}})
	if err == nil {
		t.Fatal("expected unknown dependency to fail")
	}
}

func TestRegistry_RejectsSelfDep(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{Kind: "a", Compute: noopCompute, DependsOn: []string{"a"}})
	if err == nil {
		t.Fatal("expected self-dependency to fail")
	}
}

func TestRegistry_RejectsNilCompute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Kind: "a"}); err == nil {
		t.Fatal("expected nil compute to fail")
	}
}

// Dependencies reference already-registered kinds only, so a cycle can't
// be built through Register order. The rollback check still guards the
// invariant if registration order rules ever loosen.
func TestRegistry_RegistrationOrderPreventsCycles(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Kind: "a", Compute: noopCompute})
	r.Register(Definition{Kind: "b", Compute: noopCompute, DependsOn: []string{"a"}})

	// c -> b -> a is fine.
	if err := r.Register(Definition{Kind: "c", Compute: noopCompute, DependsOn: []string{"b"}}); err != nil {
		t.Fatalf("register c: %v", err)
	}
	// a -> c would close the cycle, but a is already registered.
	if err := r.Register(Definition{Kind: "a", Compute: noopCompute, DependsOn: []string{"c"}}); err == nil {
		t.Fatal("expected re-registration to fail")
	}
}

func TestVariantID_Stable(t *testing.T) {
	a := VariantID("twpa", map[string]float64{"period": 300, "alpha": 0.5})
	b := VariantID("twpa", map[string]float64{"alpha": 0.5, "period": 300})
	if a != b {
		t.Errorf("same params should give same ID: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "twpa:") {
		t.Errorf("ID should start with kind: %q", a)
	}
	if VariantID("twpa", nil) != "twpa" {
		t.Errorf("no params should give bare kind")
	}
}

func TestVariantSet_AddAndConflict(t *testing.T) {
	r := NewRegistry()
	r.Register(Definition{Kind: "twpa", Compute: noopCompute})

	vs := NewVariantSet(r)
	v := Variant{ID: "base", Kind: "twpa", Params: map[string]float64{"period": 300}}
	if err := vs.Add(v); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Identical re-add is a no-op.
	if err := vs.Add(v); err != nil {
		t.Fatalf("identical re-add should succeed: %v", err)
	}
	// Conflicting re-add is rejected.
	err := vs.Add(Variant{ID: "base", Kind: "twpa", Params: map[string]float64{"period": 600}})
	if err == nil {
		t.Fatal("expected conflicting redefinition to fail")
	}

	// Unknown kind is rejected.
	if err := vs.Add(Variant{ID: "x", Kind: "nope"}); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}

func TestVariant_AppliesTo(t *testing.T) {
	v := Variant{ID: "x", Kind: "twpa", Scope: []string{"AAAUSDT"}}
	if !v.AppliesTo("AAAUSDT") {
		t.Error("in-scope symbol rejected")
	}
	if v.AppliesTo("BBBUSDT") {
		t.Error("out-of-scope symbol accepted")
	}
	open := Variant{ID: "y", Kind: "twpa"}
	if !open.AppliesTo("ANYUSDT") {
		t.Error("empty scope should apply to all symbols")
	}
}
