package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// compile renders a Schema tree as CUE source defining "#Schema: <expr>".
// CUE's grammar is a syntactic superset of JSON, so literal values
// (defaults, allowed enums) are rendered with encoding/json rather than
// hand-rolled quoting.
func compile(s *Schema) (string, error) {
	expr, err := compileExpr(s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("#Schema: %s\n", expr), nil
}

func compileExpr(s *Schema) (string, error) {
	if s == nil {
		return "_", nil
	}

	base, err := baseExpr(s)
	if err != nil {
		return "", err
	}

	if s.Default != nil {
		lit, err := literal(s.Default)
		if err != nil {
			return "", fmt.Errorf("schema default: %w", err)
		}
		return fmt.Sprintf("(*%s | %s)", lit, base), nil
	}
	return base, nil
}

func baseExpr(s *Schema) (string, error) {
	switch s.Kind {
	case KindObject:
		return compileObject(s)
	case KindArray:
		item, err := compileExpr(s.Items)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[...%s]", item), nil
	case KindString:
		return compileScalar(s, "string")
	case KindNumber:
		return compileScalar(s, "number")
	case KindBoolean:
		return compileScalar(s, "bool")
	case KindAny, "":
		return "_", nil
	default:
		return "", fmt.Errorf("unknown schema kind %q", s.Kind)
	}
}

func compileObject(s *Schema) (string, error) {
	if len(s.Properties) == 0 {
		return "{...}", nil
	}
	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{\n")
	for _, k := range keys {
		child := s.Properties[k]
		childExpr, err := compileExpr(child)
		if err != nil {
			return "", fmt.Errorf("property %q: %w", k, err)
		}
		// A defaulted field is regular rather than optional, so its default
		// is filled in when the value is absent.
		optional := "?"
		if child != nil && (child.Required || child.Default != nil) {
			optional = ""
		}
		fmt.Fprintf(&b, "  %s%s: %s\n", quoteLabel(k), optional, childExpr)
	}
	b.WriteString("  ...\n}")
	return b.String(), nil
}

func compileScalar(s *Schema, base string) (string, error) {
	if len(s.Allowed) > 0 {
		lits := make([]string, len(s.Allowed))
		for i, v := range s.Allowed {
			lit, err := literal(v)
			if err != nil {
				return "", fmt.Errorf("allowed value %d: %w", i, err)
			}
			lits[i] = lit
		}
		return "(" + strings.Join(lits, " | ") + ")", nil
	}
	if s.Kind == KindString && s.Pattern != "" {
		lit, err := literal(s.Pattern)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(string & =~%s)", lit), nil
	}
	return base, nil
}

func literal(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func quoteLabel(k string) string {
	b, _ := json.Marshal(k)
	return string(b)
}
