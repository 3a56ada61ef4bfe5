package validation

import (
	"encoding/json"
	"strconv"
	"strings"
)

// applyOptions walks the payload alongside the parsed schema document and
// applies type coercion and additional-property pruning. The input payload
// is never mutated; changed containers are rebuilt copy-on-write.
func applyOptions(schemaDoc any, payload any, opts Options) any {
	sch, ok := schemaDoc.(map[string]any)
	if !ok {
		return payload
	}
	return transform(sch, payload, opts)
}

func transform(sch map[string]any, value any, opts Options) any {
	switch v := value.(type) {
	case map[string]any:
		return transformObject(sch, v, opts)
	case []any:
		return transformArray(sch, v, opts)
	default:
		if opts.CoerceTypes {
			return coerceScalar(schemaType(sch), v)
		}
		return v
	}
}

func transformObject(sch map[string]any, obj map[string]any, opts Options) map[string]any {
	props, _ := sch["properties"].(map[string]any)

	strip := false
	switch opts.RemoveAdditional {
	case "all":
		strip = props != nil
	case "failing":
		// Only strip where the schema itself would reject the property.
		ap, declared := sch["additionalProperties"]
		if declared {
			if allowed, isBool := ap.(bool); isBool && !allowed {
				strip = props != nil
			}
		}
	}

	out := make(map[string]any, len(obj))
	for k, v := range obj {
		propSch, known := props[k].(map[string]any)
		if !known && strip {
			continue
		}
		if known {
			out[k] = transform(propSch, v, opts)
		} else {
			out[k] = v
		}
	}
	return out
}

func transformArray(sch map[string]any, arr []any, opts Options) []any {
	itemSch, _ := sch["items"].(map[string]any)
	out := make([]any, len(arr))
	for i, v := range arr {
		if itemSch != nil {
			out[i] = transform(itemSch, v, opts)
		} else {
			out[i] = v
		}
	}
	return out
}

// schemaType returns the schema's declared type when it is a single
// string; coercion is not attempted against type unions.
func schemaType(sch map[string]any) string {
	t, _ := sch["type"].(string)
	return t
}

// coerceScalar rewrites a scalar toward the declared type where a lossless
// conversion exists. Values that cannot be converted are returned as-is
// and left for the validator to reject.
func coerceScalar(target string, v any) any {
	switch target {
	case "integer":
		switch val := v.(type) {
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return n
			}
		case bool:
			if val {
				return int64(1)
			}
			return int64(0)
		case float64:
			if val == float64(int64(val)) {
				return int64(val)
			}
		}
	case "number":
		switch val := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return f
			}
		case bool:
			if val {
				return float64(1)
			}
			return float64(0)
		}
	case "string":
		switch val := v.(type) {
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(val, 10)
		case int:
			return strconv.Itoa(val)
		case json.Number:
			return val.String()
		case bool:
			return strconv.FormatBool(val)
		}
	case "boolean":
		switch val := v.(type) {
		case string:
			switch val {
			case "true", "1":
				return true
			case "false", "0":
				return false
			}
		case float64:
			switch val {
			case 1:
				return true
			case 0:
				return false
			}
		}
	}
	return v
}
