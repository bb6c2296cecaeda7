package template

import (
	"testing"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

func testContext() Context {
	return Context{
		"providers": map[string]interface{}{
			"test-a": map[string]interface{}{
				"outputs": map[string]interface{}{"foo": "bar"},
			},
		},
		"variables": map[string]interface{}{"env": "dev"},
		"project":   map[string]interface{}{"name": "demo"},
	}
}

func TestResolveStaticWholeExpression(t *testing.T) {
	out, err := ResolveStatic("${providers.test-a.outputs.foo}", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "bar" {
		t.Fatalf("expected %q, got %v", "bar", out)
	}
}

func TestResolveStaticInline(t *testing.T) {
	out, err := ResolveStatic("hello-${variables.env}-${project.name}", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello-dev-demo" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestResolveStaticDefersRuntime(t *testing.T) {
	out, err := ResolveStatic("${runtime.services.service-b.outputs.foo}", testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "${runtime.services.service-b.outputs.foo}" {
		t.Fatalf("expected runtime reference left verbatim, got %v", out)
	}
}

func TestResolveStaticUnresolvedFails(t *testing.T) {
	_, err := ResolveStatic("${providers.missing.outputs.foo}", testContext())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !gardenerr.Is(err, gardenerr.KindTemplate) {
		t.Fatalf("expected a template error, got %v", err)
	}
}

func TestResolveStaticCircularReference(t *testing.T) {
	ctx := Context{
		"providers": map[string]interface{}{
			"test-a": map[string]interface{}{"foo": "${providers.test-b.foo}"},
			"test-b": map[string]interface{}{"foo": "${providers.test-a.foo}"},
		},
	}
	_, err := ResolveStatic("${providers.test-a.foo}", ctx)
	if err == nil {
		t.Fatal("expected a circular reference error")
	}
	var gErr *gardenerr.Error
	if e, ok := err.(*gardenerr.Error); ok {
		gErr = e
	}
	if gErr == nil || gErr.Code != gardenerr.CodeCircularReference {
		t.Fatalf("expected CircularReference, got %v", err)
	}
}

func TestResolveRuntimeResolvesRuntimeRefs(t *testing.T) {
	ctx := testContext()
	ctx["runtime"] = map[string]interface{}{
		"services": map[string]interface{}{
			"service-a": map[string]interface{}{
				"outputs": map[string]interface{}{"foo": "baz"},
			},
		},
	}
	out, err := ResolveRuntime("${runtime.services.service-a.outputs.foo}", ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "baz" {
		t.Fatalf("expected %q, got %v", "baz", out)
	}
}

func TestResolveRuntimeCollectUnresolved(t *testing.T) {
	ctx := testContext()
	obj := map[string]interface{}{
		"foo": "${runtime.services.service-b.outputs.foo}",
		"bar": "${runtime.services.service-c.outputs.bar}",
	}
	_, unresolved := ResolveRuntimeCollectUnresolved(obj, ctx)
	if len(unresolved) != 2 {
		t.Fatalf("expected 2 unresolved expressions, got %d: %v", len(unresolved), unresolved)
	}
}

func TestResolveObjectRecursion(t *testing.T) {
	obj := map[string]interface{}{
		"name": "${project.name}",
		"nested": map[string]interface{}{
			"list": []interface{}{"${variables.env}", "literal"},
		},
	}
	out, err := ResolveStatic(obj, testContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]interface{})
	if m["name"] != "demo" {
		t.Fatalf("expected name=demo, got %v", m["name"])
	}
	nested := m["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	if list[0] != "dev" || list[1] != "literal" {
		t.Fatalf("unexpected list: %v", list)
	}
}
