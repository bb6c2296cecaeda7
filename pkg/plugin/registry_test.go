package plugin

import (
	"context"
	"testing"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

func h(tag string) HandlerFunc {
	return func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"tag": tag}, nil
	}
}

func TestResolveFlattensBaseChainWithSuper(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{
		Name:     "base-a",
		Handlers: map[string]HandlerFunc{"getEnvironmentStatus": h("base")},
	}))
	must(t, r.Register(&Descriptor{
		Name:     "test-a",
		Base:     "base-a",
		Handlers: map[string]HandlerFunc{"getEnvironmentStatus": h("child")},
	}))
	must(t, r.Resolve())

	rp, ok := r.Resolved("test-a")
	if !ok {
		t.Fatal("expected test-a to resolve")
	}
	slot := rp.Handlers["getEnvironmentStatus"]
	if slot == nil {
		t.Fatal("expected a handler slot")
	}
	if slot.Super == nil {
		t.Fatal("expected a super link to the base handler")
	}
}

func TestResolveMergesDependenciesViaBase(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{Name: "base-a"}))
	must(t, r.Register(&Descriptor{Name: "test-a", Base: "base-a"}))
	must(t, r.Register(&Descriptor{Name: "test-b", Dependencies: []string{"base-a"}}))
	must(t, r.Resolve())

	rp, _ := r.Resolved("test-a")
	if len(rp.Dependencies) != 0 {
		t.Fatalf("expected test-a to have no dependencies, got %v", rp.Dependencies)
	}
}

func TestMissingBaseFails(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{Name: "test-a", Base: "nonexistent"}))
	if err := r.Resolve(); err == nil {
		t.Fatal("expected MissingBase error")
	} else if !gardenerr.Is(err, gardenerr.KindPlugin) {
		t.Fatalf("expected plugin error, got %v", err)
	}
}

func TestCircularBasesFails(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{Name: "a", Base: "b"}))
	must(t, r.Register(&Descriptor{Name: "b", Base: "a"}))
	if err := r.Resolve(); err == nil {
		t.Fatal("expected CircularBases error")
	}
}

func TestMultipleCreatorsFails(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{Name: "a", CreateModuleTypes: []*ModuleTypeDef{{Name: "exec"}}}))
	must(t, r.Register(&Descriptor{Name: "b", CreateModuleTypes: []*ModuleTypeDef{{Name: "exec"}}}))
	if err := r.Resolve(); err == nil {
		t.Fatal("expected MultipleCreators error")
	}
}

func TestExtendWithoutDeclareFails(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{Name: "a", ExtendModuleTypes: []*ModuleTypeExtension{{Name: "exec"}}}))
	if err := r.Resolve(); err == nil {
		t.Fatal("expected ExtendWithoutDeclare error")
	}
}

func TestExtendWithoutDepFails(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{Name: "a", CreateModuleTypes: []*ModuleTypeDef{{Name: "exec"}}}))
	must(t, r.Register(&Descriptor{Name: "b", ExtendModuleTypes: []*ModuleTypeExtension{{Name: "exec"}}}))
	if err := r.Resolve(); err == nil {
		t.Fatal("expected ExtendWithoutDep error")
	}
}

func TestExtendWithDepSucceedsAndChainsSuper(t *testing.T) {
	r := NewRegistry()
	must(t, r.Register(&Descriptor{
		Name: "a",
		CreateModuleTypes: []*ModuleTypeDef{{
			Name:     "exec",
			Handlers: map[string]HandlerFunc{"build": h("creator")},
		}},
	}))
	must(t, r.Register(&Descriptor{
		Name:         "b",
		Dependencies: []string{"a"},
		ExtendModuleTypes: []*ModuleTypeExtension{{
			Name:     "exec",
			Handlers: map[string]HandlerFunc{"build": h("extension")},
		}},
	}))
	must(t, r.Resolve())

	mt, ok := r.ModuleType("exec")
	if !ok {
		t.Fatal("expected exec module type")
	}
	slot := mt.Handlers["build"]
	if slot == nil || slot.Super == nil {
		t.Fatal("expected extension handler with super link to creator")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
