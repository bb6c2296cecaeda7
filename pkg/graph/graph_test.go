package graph

import "testing"

func buildModuleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, n := range []string{"a", "b", "c"} {
		if err := g.AddEntity(&Entity{Name: n, Kind: KindModule, Module: n}); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.AddEdge(EdgeBuild, "b", "a"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(EdgeBuild, "c", "b"); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGraphAcyclic(t *testing.T) {
	g := buildModuleGraph(t)
	if err := g.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGraphDetectsCycle(t *testing.T) {
	g := buildModuleGraph(t)
	if err := g.AddEdge(EdgeBuild, "a", "c"); err != nil {
		t.Fatal(err)
	}
	if err := g.Validate(); err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestGraphDuplicateEntity(t *testing.T) {
	g := New()
	if err := g.AddEntity(&Entity{Name: "a", Kind: KindModule}); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEntity(&Entity{Name: "a", Kind: KindModule}); err == nil {
		t.Fatal("expected duplicate entity error")
	}
}

func TestGraphTransitiveDependencies(t *testing.T) {
	g := buildModuleGraph(t)
	deps := g.TransitiveDependencies("c", EdgeBuild)
	if len(deps) != 2 || deps[0] != "a" || deps[1] != "b" {
		t.Fatalf("unexpected transitive deps: %v", deps)
	}
}

func TestGraphEdgeToUnknownEntityFails(t *testing.T) {
	g := New()
	_ = g.AddEntity(&Entity{Name: "a", Kind: KindModule})
	if err := g.AddEdge(EdgeBuild, "a", "missing"); err == nil {
		t.Fatal("expected error for edge to unknown entity")
	}
}

func TestGraphOwningModule(t *testing.T) {
	g := New()
	_ = g.AddEntity(&Entity{Name: "svc", Kind: KindService, Module: "a"})
	owner, ok := g.OwningModule("svc")
	if !ok || owner != "a" {
		t.Fatalf("expected owner=a, got %q ok=%v", owner, ok)
	}
}
