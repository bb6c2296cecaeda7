// Package template resolves ${a.b.c} references against a layered context
// tree, in two passes: a static pass (project variables, providers) run
// during config load, and a runtime pass (dependency outputs) run just
// before a handler invocation.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// exprPattern matches a single ${...} expression, capturing the inner path.
var exprPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Context is a layered lookup tree. Values may themselves be strings
// containing further ${...} references, which are resolved lazily and
// recursively when looked up.
type Context map[string]interface{}

// Pass selects which reference namespaces are eligible for resolution.
// During the static pass, "runtime.*" references are left verbatim and
// deferred to the runtime pass rather than failing.
type Pass int

const (
	// PassStatic resolves everything except runtime.* references.
	PassStatic Pass = iota
	// PassRuntime resolves everything, including runtime.* references.
	PassRuntime
)

// ResolveStatic runs the static resolution pass over value (typically a
// module or provider config document): project variables, provider
// outputs, and module versions are resolved; "${runtime.*}" expressions
// are left untouched.
func ResolveStatic(value interface{}, ctx Context) (interface{}, error) {
	r := &resolver{ctx: ctx, pass: PassStatic, visiting: map[string]bool{}}
	return r.resolve(value, nil)
}

// ResolveRuntime runs the runtime resolution pass over value (typically
// handler params): everything, including "${runtime.*}" references, is
// resolved. The first expression that cannot be resolved fails the pass;
// the error names it as its entity, carries the lookup chain in
// Details["trail"], and has code gardenerr.CodeUnresolvedRuntimeRef for a
// runtime.* reference or CodeUnresolvedReference otherwise. Use
// ResolveRuntimeCollectUnresolved to get every unresolved expression.
func ResolveRuntime(value interface{}, ctx Context) (interface{}, error) {
	r := &resolver{ctx: ctx, pass: PassRuntime, visiting: map[string]bool{}}
	out, err := r.resolve(value, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveRuntimeCollectUnresolved behaves like ResolveRuntime but instead
// of failing on the first unresolved reference, walks the entire value and
// collects every unresolved "${runtime.*}" expression it finds. It is used
// by the action router (C9) to build the UnresolvedRuntimeReference error
// naming every offending expression at once, per spec §4.8.
func ResolveRuntimeCollectUnresolved(value interface{}, ctx Context) (interface{}, []string) {
	r := &resolver{ctx: ctx, pass: PassRuntime, visiting: map[string]bool{}, collect: true}
	out, _ := r.resolve(value, nil)
	sort.Strings(r.unresolved)
	return out, r.unresolved
}

type resolver struct {
	ctx        Context
	pass       Pass
	visiting   map[string]bool
	collect    bool
	unresolved []string
}

// resolve walks value recursively, substituting ${...} expressions found
// in any string leaf. trail records the chain of expressions currently
// being resolved, for cycle-detection error messages.
func (r *resolver) resolve(value interface{}, trail []string) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, trail)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			resolved, err := r.resolve(elem, trail)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			resolved, err := r.resolve(elem, trail)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// resolveString resolves all ${...} expressions in s. If s is exactly one
// whole expression ("${a.b.c}" with nothing else), the resolved value is
// returned as-is (type-preserving); otherwise each match is stringified
// and substituted inline.
func (r *resolver) resolveString(s string, trail []string) (interface{}, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		val, deferred, err := r.lookup(strings.TrimSpace(expr), trail)
		if err != nil {
			return nil, err
		}
		if deferred {
			return s, nil
		}
		return val, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		expr := strings.TrimSpace(s[m[2]:m[3]])
		val, deferred, err := r.lookup(expr, trail)
		if err != nil {
			return nil, err
		}
		if deferred {
			b.WriteString(s[m[0]:m[1]])
		} else {
			b.WriteString(stringify(val))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// lookup resolves a single dotted path expression against the context,
// recursively resolving any template strings found along the way.
// deferred is true when the static pass intentionally left a runtime.*
// reference untouched.
func (r *resolver) lookup(expr string, trail []string) (value interface{}, deferred bool, err error) {
	if r.pass == PassStatic && (expr == "runtime" || strings.HasPrefix(expr, "runtime.")) {
		return nil, true, nil
	}

	if r.visiting[expr] {
		cycleTrail := append(append([]string{}, trail...), expr)
		return nil, false, gardenerr.New(gardenerr.KindTemplate, "circular template reference").
			WithCode(gardenerr.CodeCircularReference).
			WithEntity(expr).
			WithDetail("trail", cycleTrail).
			WithHint(fmt.Sprintf("break the cycle: %s", strings.Join(cycleTrail, " <- ")))
	}

	raw, ok := lookupPath(r.ctx, expr)
	if !ok {
		if r.collect {
			r.unresolved = append(r.unresolved, "${"+expr+"}")
			return "${" + expr + "}", false, nil
		}
		kind := gardenerr.KindTemplate
		code := gardenerr.CodeUnresolvedReference
		if r.pass == PassRuntime && strings.HasPrefix(expr, "runtime.") {
			code = gardenerr.CodeUnresolvedRuntimeRef
		}
		return nil, false, gardenerr.New(kind, "unresolved template reference").
			WithCode(code).
			WithEntity(expr).
			WithDetail("trail", append(append([]string{}, trail...), expr))
	}

	r.visiting[expr] = true
	defer delete(r.visiting, expr)

	resolved, err := r.resolve(raw, append(trail, expr))
	if err != nil {
		return nil, false, err
	}
	return resolved, false, nil
}

// lookupPath walks a dotted path ("providers.docker.outputs.foo") through
// a Context tree of nested map[string]interface{} values.
func lookupPath(ctx Context, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = map[string]interface{}(ctx)
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
