package schema

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// ValidationError is a single schema violation, path-annotated the way
// spec.md §4.2 requires (a JSON-Pointer-style path into the document).
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a non-empty list of ValidationError, returned as a
// single error from Validate/ValidateChain.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validator compiles declarative Schema trees to CUE and validates data
// against them, applying defaults top-down first, mirroring teacher's
// config.SchemaRegistry (one shared *cue.Context, guarded by a mutex
// since cue.Context compilation is not safe for concurrent use).
type Validator struct {
	mu  sync.Mutex
	ctx *cue.Context
}

// New creates a Validator with a fresh CUE context.
func New() *Validator {
	return &Validator{ctx: cuecontext.New()}
}

// Validate applies schema's defaults to data and validates the result,
// returning the defaulted value on success.
func (v *Validator) Validate(s *Schema, data map[string]interface{}) (map[string]interface{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	src, err := compile(s)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to compile schema", err)
	}

	schemaVal := v.ctx.CompileString(src)
	if err := schemaVal.Err(); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindInternal, "invalid compiled schema", err)
	}
	schemaVal = schemaVal.LookupPath(cue.ParsePath("#Schema"))

	dataVal := v.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindConfiguration, "failed to encode value for validation", err)
	}

	unified := schemaVal.Unify(dataVal)
	if verr := unified.Validate(cue.Concrete(true)); verr != nil {
		return nil, toValidationErrors(verr)
	}

	var out map[string]interface{}
	if s.Kind == KindObject || s.Kind == "" {
		if err := unified.Decode(&out); err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to decode defaulted value", err)
		}
		return out, nil
	}
	return data, nil
}

// ValidateChain validates data against each schema in order — typically
// the creating plugin's own module-type schema, then each base-chain
// schema in ancestor order — folding defaults forward so the final value
// satisfies every schema in the chain, per spec §4.2.
func (v *Validator) ValidateChain(schemas []*Schema, data map[string]interface{}) (map[string]interface{}, error) {
	current := data
	for i, s := range schemas {
		if s == nil {
			continue
		}
		defaulted, err := v.Validate(s, current)
		if err != nil {
			if ve, ok := err.(ValidationErrors); ok {
				return nil, fmt.Errorf("schema %d of %d: %w", i+1, len(schemas), ve)
			}
			return nil, err
		}
		current = defaulted
	}
	return current, nil
}

func toValidationErrors(err error) ValidationErrors {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return ValidationErrors{{Message: err.Error()}}
	}
	out := make(ValidationErrors, 0, len(list))
	for _, e := range list {
		path := "/" + strings.Join(e.Path(), "/")
		msg, args := e.Msg()
		out = append(out, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf(msg, args...),
		})
	}
	return out
}
