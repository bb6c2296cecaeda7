package provider

import (
	"context"
	"testing"

	"github.com/openfroyo/garden/pkg/plugin"
	"github.com/openfroyo/garden/pkg/schema"
	"github.com/openfroyo/garden/pkg/telemetry"
	"github.com/openfroyo/garden/pkg/template"
)

func newTestRegistry(t *testing.T) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	must(t, r.Register(&plugin.Descriptor{
		Name: "base-a",
		Handlers: map[string]plugin.HandlerFunc{
			"getEnvironmentStatus": func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				return map[string]interface{}{"ready": true, "outputs": map[string]interface{}{"foo": "bar"}}, nil
			},
		},
	}))
	must(t, r.Register(&plugin.Descriptor{Name: "test-a", Base: "base-a"}))
	must(t, r.Register(&plugin.Descriptor{Name: "test-b", Dependencies: []string{"base-a"}}))
	must(t, r.Resolve())
	return r
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestResolveProviderInheritance(t *testing.T) {
	reg := newTestRegistry(t)
	resolver := New(reg, schema.New(), telemetry.NopLogger(), 4)

	specs := []*Spec{
		{Name: "test-a", PluginName: "test-a", Config: map[string]interface{}{}},
		{Name: "test-b", PluginName: "test-b", Config: map[string]interface{}{
			"foo": "${providers.test-a.outputs.foo}",
		}},
	}

	resolved, err := resolver.Resolve(context.Background(), specs, "dev", template.Context{
		"variables": map[string]interface{}{},
		"project":   map[string]interface{}{"name": "demo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b := resolved["test-b"]
	if len(b.Dependencies) != 1 || b.Dependencies[0].Name != "test-a" {
		t.Fatalf("expected test-b to depend on test-a, got %+v", b.Dependencies)
	}
	if b.Config["foo"] != "bar" {
		t.Fatalf("expected implicit template ref resolved to bar, got %v", b.Config["foo"])
	}
}

func TestResolveCircularTemplateFails(t *testing.T) {
	reg := plugin.NewRegistry()
	must(t, reg.Register(&plugin.Descriptor{Name: "test-a"}))
	must(t, reg.Register(&plugin.Descriptor{Name: "test-b"}))
	must(t, reg.Resolve())

	resolver := New(reg, schema.New(), telemetry.NopLogger(), 4)
	specs := []*Spec{
		{Name: "test-a", PluginName: "test-a", Config: map[string]interface{}{"foo": "${providers.test-b.outputs.foo}"}},
		{Name: "test-b", PluginName: "test-b", Config: map[string]interface{}{"foo": "${providers.test-a.outputs.foo}"}},
	}
	_, err := resolver.Resolve(context.Background(), specs, "dev", template.Context{})
	if err == nil {
		t.Fatal("expected a circular dependency error")
	}
}

func TestResolveSkipsRestrictedEnvironment(t *testing.T) {
	reg := plugin.NewRegistry()
	must(t, reg.Register(&plugin.Descriptor{Name: "test-a"}))
	must(t, reg.Resolve())

	resolver := New(reg, schema.New(), telemetry.NopLogger(), 4)
	specs := []*Spec{
		{Name: "test-a", PluginName: "test-a", Environments: []string{"prod"}, Config: map[string]interface{}{}},
	}
	resolved, err := resolver.Resolve(context.Background(), specs, "dev", template.Context{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := resolved["test-a"]; ok {
		t.Fatal("expected test-a to be skipped for the dev environment")
	}
}
