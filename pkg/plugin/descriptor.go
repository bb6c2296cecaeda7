// Package plugin implements the plugin registry (spec §4.4/C5): loading
// plugin descriptors, resolving "base" inheritance and "dependencies",
// linearizing into init order, and detecting cycles.
//
// Grounded on pkg/providers/host/registry.go's mutex-protected
// name-keyed registry shape, generalized from WASM provider manifests to
// the spec's plugin descriptor model.
package plugin

import (
	"context"

	"github.com/openfroyo/garden/pkg/schema"
)

// HandlerFunc is a plugin action handler. Params and the returned result
// are untyped maps; concrete callers (pkg/action) decode them into typed
// shapes appropriate to the action.
type HandlerFunc func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// HandlerSlot is one entry in a flattened handler table. Super, when set,
// points at the same-keyed slot one level up the base (or extension)
// chain, letting a handler delegate to its parent the way the source's
// closure-captured "super" pattern does (spec §9).
type HandlerSlot struct {
	Handler HandlerFunc
	Super   *HandlerSlot
}

// Command is a named CLI command a plugin contributes.
type Command struct {
	Name    string
	Handler HandlerFunc
}

// ModuleTypeDef declares a module type created by a plugin.
type ModuleTypeDef struct {
	Name     string
	Schema   *schema.Schema
	Docs     string
	Handlers map[string]HandlerFunc
}

// ModuleTypeExtension declares additional handlers a plugin contributes
// to a module type created elsewhere.
type ModuleTypeExtension struct {
	Name     string
	Handlers map[string]HandlerFunc
}

// Descriptor is a plugin as loaded, before inheritance/dependency
// resolution. Fields mirror spec §3's plugin descriptor data model.
type Descriptor struct {
	Name              string
	Base              string
	Dependencies      []string
	ConfigSchema      *schema.Schema
	Handlers          map[string]HandlerFunc
	CreateModuleTypes []*ModuleTypeDef
	ExtendModuleTypes []*ModuleTypeExtension
	Commands          []*Command
}

// ResolvedModuleType is a module type after creator + extension handlers
// have been flattened, with super links walking extension order back to
// the creator.
type ResolvedModuleType struct {
	Name          string
	CreatorPlugin string
	Schema        *schema.Schema
	Docs          string
	Handlers      map[string]*HandlerSlot
}

// ResolvedPlugin is a plugin after base-chain flattening: its own handler
// table overlaid on its full ancestor chain (leaf wins, with super links),
// and dependencies merged and de-duplicated across the chain.
type ResolvedPlugin struct {
	Name          string
	Base          string
	BaseChain     []string // root-first chain of ancestor plugin names
	Dependencies  []string
	ConfigSchemas []*schema.Schema // this plugin's schema, then each base's, root-last
	Handlers      map[string]*HandlerSlot
	Commands      map[string]*Command
}
