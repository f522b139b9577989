package diff

import (
	"math/rand"
	"testing"
)

func method(owner, name, params, checksum string, start, count int) Method {
	return Method{
		Signature:  Signature{Owner: owner, Name: name, Params: params, ReturnType: "V"},
		Checksum:   checksum,
		ProbeStart: start,
		ProbeCount: count,
	}
}

func names(methods []Method) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = m.Name
	}
	return out
}

func equalNames(got []Method, want ...string) bool {
	g := names(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestDiff_Example(t *testing.T) {
	target := []Method{
		method("com/acme/Foo", "A", "", "100", 0, 1),
		method("com/acme/Foo", "B", "", "200", 1, 1),
	}
	baseline := []Method{
		method("com/acme/Foo", "A", "", "100", 0, 1),
		method("com/acme/Foo", "C", "", "300", 1, 1),
	}

	cs := Diff(target, baseline)

	if !equalNames(cs.New, "B") {
		t.Errorf("Expected new [B], got %v", names(cs.New))
	}
	if !equalNames(cs.Deleted, "C") {
		t.Errorf("Expected deleted [C], got %v", names(cs.Deleted))
	}
	if !equalNames(cs.Unaffected, "A") {
		t.Errorf("Expected unaffected [A], got %v", names(cs.Unaffected))
	}
	if len(cs.Modified) != 0 {
		t.Errorf("Expected no modified, got %v", names(cs.Modified))
	}
}

func TestDiff_ModifiedReportsTargetVersion(t *testing.T) {
	target := []Method{method("a/X", "B", "", "201", 0, 2)}
	baseline := []Method{method("a/X", "B", "", "200", 0, 2)}

	cs := Diff(target, baseline)

	if len(cs.Modified) != 1 {
		t.Fatalf("Expected 1 modified, got %d", len(cs.Modified))
	}
	if cs.Modified[0].Checksum != "201" {
		t.Errorf("Expected checksum 201, got %s", cs.Modified[0].Checksum)
	}
}

func TestDiff_LambdaHashes(t *testing.T) {
	base := method("a/X", "run", "", "1", 0, 3)
	base.LambdaHashes = map[string]string{"lambda$0": "aa", "lambda$1": "bb"}

	tests := []struct {
		name    string
		lambdas map[string]string
		want    ChangeType
	}{
		{"no lambdas", nil, ChangeUnaffected},
		{"same lambdas", map[string]string{"lambda$0": "aa", "lambda$1": "bb"}, ChangeUnaffected},
		{"renamed lambda same body", map[string]string{"lambda$7": "bb"}, ChangeUnaffected},
		{"changed lambda body", map[string]string{"lambda$0": "aa", "lambda$1": "cc"}, ChangeModified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := base
			target.LambdaHashes = tt.lambdas
			got := Diff([]Method{target}, []Method{base}).Classify()[target.Signature]
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDiff_EdgeCases(t *testing.T) {
	ms := []Method{
		method("a/X", "m1", "", "1", 0, 1),
		method("a/X", "m2", "", "2", 1, 1),
	}

	t.Run("empty target", func(t *testing.T) {
		cs := Diff(nil, ms)
		if len(cs.Deleted) != 2 || len(cs.New) != 0 || len(cs.Modified) != 0 || len(cs.Unaffected) != 0 {
			t.Errorf("Expected all deleted, got %+v", cs.Summary())
		}
	})

	t.Run("empty baseline", func(t *testing.T) {
		cs := Diff(ms, nil)
		if len(cs.New) != 2 || len(cs.Deleted) != 0 {
			t.Errorf("Expected all new, got %+v", cs.Summary())
		}
	})

	t.Run("both empty", func(t *testing.T) {
		cs := Diff(nil, nil)
		if !cs.IsEmpty() || len(cs.Unaffected) != 0 {
			t.Errorf("Expected empty change set, got %+v", cs.Summary())
		}
	})

	t.Run("self diff", func(t *testing.T) {
		cs := Diff(ms, ms)
		if !cs.IsEmpty() {
			t.Errorf("Expected no changes, got %+v", cs.Summary())
		}
		if len(cs.Unaffected) != len(ms) {
			t.Errorf("Expected %d unaffected, got %d", len(ms), len(cs.Unaffected))
		}
	})
}

func TestDiff_CompletenessAndOrderIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	owners := []string{"a/A", "a/B", "b/C"}
	mk := func() []Method {
		var out []Method
		for _, o := range owners {
			for n := 0; n < 8; n++ {
				if rng.Intn(3) == 0 {
					continue
				}
				out = append(out, method(o, string(rune('a'+n)), "", string(rune('0'+rng.Intn(2))), n, 1))
			}
		}
		return out
	}

	for round := 0; round < 20; round++ {
		target, baseline := mk(), mk()
		cs := Diff(target, baseline)

		if got := len(cs.New) + len(cs.Modified) + len(cs.Unaffected); got != len(target) {
			t.Fatalf("round %d: new+modified+unaffected = %d, target has %d", round, got, len(target))
		}
		if got := len(cs.Modified) + len(cs.Unaffected) + len(cs.Deleted); got != len(baseline) {
			t.Fatalf("round %d: modified+unaffected+deleted = %d, baseline has %d", round, got, len(baseline))
		}

		seen := make(map[Signature]bool)
		for _, bucket := range [][]Method{cs.New, cs.Modified, cs.Deleted, cs.Unaffected} {
			for _, m := range bucket {
				if seen[m.Signature] {
					t.Fatalf("round %d: %s appears in two buckets", round, m.Signature)
				}
				seen[m.Signature] = true
			}
		}

		shuffled := append([]Method(nil), target...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		again := Diff(shuffled, baseline)
		if again.Summary() != cs.Summary() {
			t.Fatalf("round %d: shuffled input changed result: %+v vs %+v", round, again.Summary(), cs.Summary())
		}
	}
}

func TestDiff_DoesNotMutateInput(t *testing.T) {
	target := []Method{
		method("a/X", "z", "", "1", 0, 1),
		method("a/X", "a", "", "1", 1, 1),
	}
	Diff(target, nil)
	if target[0].Name != "z" {
		t.Error("Diff reordered the caller's slice")
	}
}

func TestSignatureOrdering(t *testing.T) {
	tests := []struct {
		a, b Signature
		want int
	}{
		{Signature{Owner: "a/A", Name: "x"}, Signature{Owner: "a/B", Name: "a"}, -1},
		{Signature{Owner: "a/A", Name: "y"}, Signature{Owner: "a/A", Name: "x"}, 1},
		{Signature{Owner: "a/A", Name: "x", Params: "I"}, Signature{Owner: "a/A", Name: "x", Params: "J"}, -1},
		{Signature{Owner: "a/A", Name: "x", ReturnType: "I"}, Signature{Owner: "a/A", Name: "x", ReturnType: "J"}, 0},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSignatureParts(t *testing.T) {
	s := Signature{Owner: "com/acme/Foo", Name: "bar", Params: "int,java.lang.String", ReturnType: "void"}
	if s.Package() != "com/acme" {
		t.Errorf("Expected package com/acme, got %s", s.Package())
	}
	if s.ClassName() != "Foo" {
		t.Errorf("Expected class Foo, got %s", s.ClassName())
	}
	if s.Desc() != "(int,java.lang.String):void" {
		t.Errorf("Unexpected desc %s", s.Desc())
	}
	if (Signature{Owner: "Root"}).Package() != "" {
		t.Error("Expected empty package for default-package class")
	}
}

func TestChangeSetHelpers(t *testing.T) {
	cs := &ChangeSet{
		New:      []Method{method("a/X", "n", "", "1", 0, 1)},
		Modified: []Method{method("a/X", "m", "", "1", 1, 1)},
		Deleted:  []Method{method("a/X", "d", "", "1", 2, 1)},
	}

	if got := cs.Impacted(false); !equalNames(got, "d", "m") {
		t.Errorf("Expected impacted [d m], got %v", names(got))
	}
	if got := cs.Impacted(true); !equalNames(got, "d", "m", "n") {
		t.Errorf("Expected impacted [d m n], got %v", names(got))
	}
	if got := cs.Changed(); !equalNames(got, "m", "n") {
		t.Errorf("Expected changed [m n], got %v", names(got))
	}
	if s := cs.Summary(); s.Total != 2 {
		t.Errorf("Expected total changes 2, got %d", s.Total)
	}
}

func TestBuildKey(t *testing.T) {
	k, err := ParseBuildKey("group:app:1.0.0")
	if err != nil {
		t.Fatalf("ParseBuildKey failed: %v", err)
	}
	if k.String() != "group:app:1.0.0" {
		t.Errorf("Expected round trip, got %s", k.String())
	}
	if k.WithVersion("2.0").Version != "2.0" {
		t.Error("WithVersion did not replace version")
	}

	if k, err := ParseBuildKey("g:a:v:with:colons"); err != nil || k.Version != "v:with:colons" {
		t.Errorf("Expected version with colons, got %+v, %v", k, err)
	}
	for _, bad := range []string{"", "g:a", "g::v"} {
		if _, err := ParseBuildKey(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestAssignProbeRanges(t *testing.T) {
	ms := []Method{
		{Signature: Signature{Owner: "a/X", Name: "a"}, ProbeCount: 2},
		{Signature: Signature{Owner: "a/Y", Name: "a"}, ProbeCount: 1},
		{Signature: Signature{Owner: "a/X", Name: "b"}, ProbeCount: 3},
	}
	AssignProbeRanges(ms)

	if ms[0].ProbeStart != 0 || ms[1].ProbeStart != 0 || ms[2].ProbeStart != 2 {
		t.Errorf("Unexpected starts: %d %d %d", ms[0].ProbeStart, ms[1].ProbeStart, ms[2].ProbeStart)
	}
	widths := ClassWidths(ms)
	if widths["a/X"] != 5 || widths["a/Y"] != 1 {
		t.Errorf("Unexpected widths: %v", widths)
	}
}
