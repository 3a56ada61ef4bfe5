package expressions

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/restprobe/restprobe/pkg/contract"
)

// Interpolator resolves ${{...}} references in request URLs, headers, and
// bodies before a case executes. Three namespaces are supported:
//   - vars.<path>                    suite variables
//   - cases.<id>.captures.<name>     values captured by earlier cases
//   - env.<NAME>                     process environment
type Interpolator struct {
	lookupEnv func(string) (string, bool)
}

// NewInterpolator creates an Interpolator backed by the process environment.
func NewInterpolator() *Interpolator {
	return &Interpolator{lookupEnv: os.LookupEnv}
}

// ResolveValue walks a structured value (request body, header map) and
// resolves every ${{...}} reference inside its strings. A string that is
// exactly one reference resolves to the referenced value with its type
// preserved; references embedded in longer strings are spliced in as text.
// The input is never mutated.
func (interp *Interpolator) ResolveValue(v any, sb *ScopeBuilder) (any, error) {
	switch val := v.(type) {
	case string:
		return interp.resolveStringValue(val, sb)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := interp.ResolveValue(item, sb)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := interp.ResolveValue(item, sb)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves every ${{...}} reference in a string, splicing
// resolved values in as text.
func (interp *Interpolator) ResolveString(input string, sb *ScopeBuilder) (string, error) {
	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{"

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", contract.NewError(contract.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		ref := strings.TrimSpace(input[start:end])

		// Reject recursive interpolation: no nested ${{ inside the reference.
		if strings.Contains(ref, "${{") {
			return "", contract.NewError(contract.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if ref == "" {
			return "", contract.NewError(contract.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}

		val, err := interp.resolveRef(ref, sb)
		if err != nil {
			return "", err
		}
		result.WriteString(marshalInline(val))

		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// ResolveHeaders resolves references in every header value.
func (interp *Interpolator) ResolveHeaders(headers map[string]string, sb *ScopeBuilder) (map[string]string, error) {
	if headers == nil {
		return nil, nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved, err := interp.ResolveString(v, sb)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// resolveStringValue resolves a string that may be a whole-token reference.
func (interp *Interpolator) resolveStringValue(s string, sb *ScopeBuilder) (any, error) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[3 : len(trimmed)-2])
		// A single reference keeps the resolved value's type.
		if inner != "" && !strings.Contains(inner, "${{") && !strings.Contains(inner, "}}") {
			return interp.resolveRef(inner, sb)
		}
	}
	return interp.ResolveString(s, sb)
}

// resolveRef resolves a single reference path like "vars.user_id".
func (interp *Interpolator) resolveRef(ref string, sb *ScopeBuilder) (any, error) {
	parts := strings.SplitN(ref, ".", 2)
	namespace := parts[0]

	switch namespace {
	case "vars":
		if len(parts) < 2 || parts[1] == "" {
			return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
				"invalid var reference %q: expected vars.<name>", ref).
				WithDetails(map[string]any{"expression": ref})
		}
		return interp.resolveFromMap(sb.Vars(), parts[1], ref, "vars")
	case "cases":
		return interp.resolveCases(ref, sb)
	case "env":
		return interp.resolveEnv(ref)
	default:
		available := []string{"vars", "cases", "env"}
		return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
			"unknown namespace %q in ${{%s}}; available: %s", namespace, ref, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_namespaces": available})
	}
}

// resolveCases resolves cases.<id>.captures.<name> (and cases.<id>.status).
func (interp *Interpolator) resolveCases(ref string, sb *ScopeBuilder) (any, error) {
	parts := strings.SplitN(ref, ".", 3) // [cases, id, rest]
	if len(parts) < 3 || parts[1] == "" {
		return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
			"invalid case reference %q: expected cases.<id>.captures.<name>", ref).
			WithDetails(map[string]any{"expression": ref})
	}

	caseID := parts[1]
	cases := sb.Cases()
	entry, ok := cases[caseID]
	if !ok {
		available := mapKeys(cases)
		return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
			"case %q not found in ${{%s}}; finished cases: [%s]", caseID, ref, strings.Join(available, ", ")).
			WithDetails(map[string]any{"expression": ref, "available_cases": available})
	}

	return interp.traversePath(entry, parts[2], ref)
}

// resolveEnv resolves env.<NAME> from the process environment.
func (interp *Interpolator) resolveEnv(ref string) (any, error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) < 2 || parts[1] == "" {
		return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
			"invalid env reference %q: expected env.<NAME>", ref).
			WithDetails(map[string]any{"expression": ref})
	}

	val, ok := interp.lookupEnv(parts[1])
	if !ok {
		return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
			"environment variable %q not set in ${{%s}}", parts[1], ref).
			WithDetails(map[string]any{"expression": ref})
	}
	return val, nil
}

// resolveFromMap resolves a dot-delimited field path from a map.
func (interp *Interpolator) resolveFromMap(data map[string]any, fieldPath, ref, namespace string) (any, error) {
	if data == nil {
		return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
			"cannot resolve %q: %s scope is empty", ref, namespace).
			WithDetails(map[string]any{"expression": ref})
	}

	// Try direct key lookup first (supports keys with dots).
	if val, ok := data[fieldPath]; ok {
		return val, nil
	}

	return interp.traversePath(data, fieldPath, ref)
}

// traversePath navigates into nested maps using a dot-delimited path.
func (interp *Interpolator) traversePath(root any, path, ref string) (any, error) {
	segments := strings.Split(path, ".")
	current := root

	for i, seg := range segments {
		if seg == "" {
			return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
				"empty segment in path %q at position %d", ref, i).
				WithDetails(map[string]any{"expression": ref})
		}

		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				availableKeys := mapKeys(v)
				return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
					"field %q not found in %q; available: [%s]", seg, ref, strings.Join(availableKeys, ", ")).
					WithDetails(map[string]any{"expression": ref, "available_fields": availableKeys})
			}
			current = val
		default:
			return nil, contract.NewErrorf(contract.ErrCodeInterpolation,
				"cannot traverse into non-object at %q in %q (type: %T)", seg, ref, current).
				WithDetails(map[string]any{"expression": ref})
		}
	}

	return current, nil
}

// marshalInline converts a resolved value into its inline text form.
// Strings are embedded without extra quotes; complex types JSON-encode.
func marshalInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		key := keys[i]
		j := i - 1
		for j >= 0 && keys[j] > key {
			keys[j+1] = keys[j]
			j--
		}
		keys[j+1] = key
	}
	return keys
}

// HasInterpolation reports whether a string contains any ${{...}} references.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}
