package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSchema(t *testing.T, raw string) map[string]any {
	t.Helper()
	c := NewCache(Options{})
	entry, err := c.getOrCompile([]byte(raw))
	require.NoError(t, err)
	sch, ok := entry.doc.(map[string]any)
	require.True(t, ok)
	return sch
}

func TestCoerceScalar(t *testing.T) {
	tests := []struct {
		name   string
		target string
		in     any
		want   any
	}{
		{"string to integer", "integer", "42", int64(42)},
		{"float to integer", "integer", float64(3), int64(3)},
		{"fractional float stays", "integer", 3.5, 3.5},
		{"bool to integer", "integer", true, int64(1)},
		{"string to number", "number", "2.5", 2.5},
		{"number to string", "string", float64(7), "7"},
		{"bool to string", "string", false, "false"},
		{"string to bool", "boolean", "true", true},
		{"zero to bool", "boolean", float64(0), false},
		{"garbage stays", "integer", "not-a-number", "not-a-number"},
		{"no target type", "", "x", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceScalar(tt.target, tt.in))
		})
	}
}

func TestTransform_NestedCoercion(t *testing.T) {
	sch := mustSchema(t, `{
		"type": "object",
		"properties": {
			"count": {"type": "integer"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"nested": {
				"type": "object",
				"properties": {"flag": {"type": "boolean"}}
			}
		}
	}`)

	in := map[string]any{
		"count":  "9",
		"tags":   []any{float64(1), float64(2)},
		"nested": map[string]any{"flag": "true"},
	}

	out := transform(sch, in, Options{CoerceTypes: true}).(map[string]any)
	assert.Equal(t, int64(9), out["count"])
	assert.Equal(t, []any{"1", "2"}, out["tags"])
	assert.Equal(t, true, out["nested"].(map[string]any)["flag"])

	// Copy-on-write: the input payload is untouched.
	assert.Equal(t, "9", in["count"])
}

func TestTransform_RemoveAdditionalAll(t *testing.T) {
	sch := mustSchema(t, `{
		"type": "object",
		"properties": {"name": {"type": "string"}}
	}`)

	in := map[string]any{"name": "probe", "extra": true}
	out := transform(sch, in, Options{RemoveAdditional: "all"}).(map[string]any)

	assert.Equal(t, map[string]any{"name": "probe"}, out)
	assert.Contains(t, in, "extra", "input not mutated")
}

func TestTransform_RemoveAdditionalFailing(t *testing.T) {
	open := mustSchema(t, `{
		"type": "object",
		"properties": {"name": {"type": "string"}}
	}`)
	closed := mustSchema(t, `{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"additionalProperties": false
	}`)

	in := map[string]any{"name": "probe", "extra": true}

	kept := transform(open, in, Options{RemoveAdditional: "failing"}).(map[string]any)
	assert.Contains(t, kept, "extra", "open schemas keep extra properties")

	stripped := transform(closed, in, Options{RemoveAdditional: "failing"}).(map[string]any)
	assert.NotContains(t, stripped, "extra", "closed schemas drop failing properties")
}

func TestValidate_RemoveAdditionalEndToEnd(t *testing.T) {
	c := NewCache(Options{RemoveAdditional: "all"})

	schema := []byte(`{
		"type": "object",
		"required": ["id"],
		"properties": {"id": {"type": "integer"}},
		"additionalProperties": false
	}`)

	res, err := c.Validate(schema, map[string]any{"id": 1, "debug": "leftover"})
	require.NoError(t, err)
	require.True(t, res.Valid(), "stripped payload satisfies additionalProperties: false")
	assert.NotContains(t, res.Data().(map[string]any), "debug")
}
