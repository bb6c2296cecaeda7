// Package provider resolves configured plugin instances into providers
// (spec §4.5/C6): template resolution, schema validation, configureProvider,
// then getEnvironmentStatus/prepareEnvironment until ready.
//
// Grounded on pkg/engine/provider.go's Provider/status shapes and
// pkg/engine/onboarding.go's dependency-ordered prepare loop.
package provider

// Status mirrors spec §3's provider status: whether the environment is
// ready, and whatever outputs it published for downstream providers and
// modules to reference via "${providers.<name>.outputs.<k>}".
type Status struct {
	Ready   bool                   `json:"ready"`
	Outputs map[string]interface{} `json:"outputs"`
}

// Provider is a resolved plugin instance: created exactly once per
// process per name, never mutated after Resolve returns (spec §3).
type Provider struct {
	Name          string
	Config        map[string]interface{}
	Dependencies  []*Provider
	ModuleConfigs []map[string]interface{}
	Status        Status
}

// Spec is the project's declared configuration for one provider entry,
// before resolution.
type Spec struct {
	Name         string
	PluginName   string
	Config       map[string]interface{}
	Environments []string // restricts this provider to these environment names; empty means unrestricted
	ForceInit    bool
}

func (s *Spec) restrictedOut(activeEnvironment string) bool {
	if len(s.Environments) == 0 {
		return false
	}
	for _, e := range s.Environments {
		if e == activeEnvironment {
			return false
		}
	}
	return true
}
