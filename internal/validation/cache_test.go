package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restprobe/restprobe/pkg/contract"
)

var userSchema = []byte(`{
	"type": "object",
	"required": ["id", "email"],
	"properties": {
		"id": {"type": "integer"},
		"email": {"type": "string", "format": "email"}
	}
}`)

func TestValidate_ValidPayload(t *testing.T) {
	c := NewCache(Options{})

	res, err := c.Validate(userSchema, map[string]any{"id": 2, "email": "x@y.com"})
	require.NoError(t, err)
	assert.True(t, res.Valid())
	assert.Nil(t, res.Errors())

	data, ok := res.Data().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x@y.com", data["email"])
}

func TestValidate_InvalidIsDataNotError(t *testing.T) {
	c := NewCache(Options{})

	res, err := c.Validate(userSchema, map[string]any{"id": "2", "email": "bad"})
	require.NoError(t, err, "validation failures are data, not errors")
	assert.False(t, res.Valid())
	assert.Nil(t, res.Data())
	assert.NotEmpty(t, res.Errors())
}

func TestValidate_CoercedPayload(t *testing.T) {
	c := NewCache(Options{CoerceTypes: true})

	// id coerces "2" -> 2; the email still fails its format.
	res, err := c.Validate(userSchema, map[string]any{"id": "2", "email": "bad"})
	require.NoError(t, err)
	require.False(t, res.Valid())
	require.Len(t, res.Errors(), 1)
	assert.Contains(t, res.Errors()[0], "/email")

	// With a valid email the whole payload passes and Valid carries the
	// coerced value.
	res, err = c.Validate(userSchema, map[string]any{"id": "2", "email": "x@y.com"})
	require.NoError(t, err)
	require.True(t, res.Valid())
	data := res.Data().(map[string]any)
	assert.Equal(t, int64(2), data["id"])
}

func TestValidate_CoercedInvalidReusesCompiledSchema(t *testing.T) {
	c := NewCache(Options{CoerceTypes: true})

	// id coerces, email fails its format; the violation carries the
	// instance path and a message.
	res, err := c.Validate(userSchema, map[string]any{"id": "7", "email": "bad"})
	require.NoError(t, err)
	require.False(t, res.Valid())
	require.Len(t, res.Errors(), 1)
	assert.Contains(t, res.Errors()[0], "/email ")

	res, err = c.Validate(userSchema, map[string]any{"id": "7", "email": "ok@y.dev"})
	require.NoError(t, err)
	assert.True(t, res.Valid())
	assert.Equal(t, int64(7), res.Data().(map[string]any)["id"])
	assert.Equal(t, 1, c.Len(), "both calls share one compiled validator")
}

func TestValidate_ViolationFormat(t *testing.T) {
	c := NewCache(Options{})

	res, err := c.Validate(userSchema, map[string]any{"id": 2, "email": "not-an-email"})
	require.NoError(t, err)
	require.False(t, res.Valid())
	require.Len(t, res.Errors(), 1)
	assert.True(t, len(res.Errors()[0]) > len("/email "), "violation carries a message")
	assert.Contains(t, res.Errors()[0], "/email")
}

func TestValidate_RootLocation(t *testing.T) {
	c := NewCache(Options{})

	res, err := c.Validate([]byte(`{"type": "object"}`), "not an object")
	require.NoError(t, err)
	require.False(t, res.Valid())
	require.Len(t, res.Errors(), 1)
	assert.Equal(t, byte('/'), res.Errors()[0][0], "root violations use / as location")
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	c := NewCache(Options{})

	// Both required properties missing: both violations must be reported,
	// not just the first.
	res, err := c.Validate(userSchema, map[string]any{})
	require.NoError(t, err)
	require.False(t, res.Valid())
	assert.NotEmpty(t, res.Errors())

	schemaBoth := []byte(`{
		"type": "object",
		"properties": {
			"a": {"type": "integer"},
			"b": {"type": "integer"}
		}
	}`)
	res, err = c.Validate(schemaBoth, map[string]any{"a": "x", "b": "y"})
	require.NoError(t, err)
	require.False(t, res.Valid())
	assert.Len(t, res.Errors(), 2, "all violations are collected")
}

func TestValidate_MalformedSchemaFailsFast(t *testing.T) {
	c := NewCache(Options{})

	for name, schema := range map[string][]byte{
		"not json":     []byte(`{not json`),
		"bad keyword":  []byte(`{"type": "no-such-type"}`),
		"empty schema": nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Validate(schema, map[string]any{})
			require.Error(t, err)

			perr, ok := err.(*contract.ProbeError)
			require.True(t, ok)
			assert.Equal(t, contract.ErrCodeSchemaCompile, perr.Code)
		})
	}
}

func TestValidate_Idempotent(t *testing.T) {
	c := NewCache(Options{})
	payload := map[string]any{"id": "wrong", "email": 7}

	first, err := c.Validate(userSchema, payload)
	require.NoError(t, err)
	second, err := c.Validate(userSchema, payload)
	require.NoError(t, err)

	assert.Equal(t, first.Valid(), second.Valid())
	assert.Equal(t, first.Errors(), second.Errors(), "same schema and payload yield identical results")
}

func TestValidate_SchemaCaching(t *testing.T) {
	c := NewCache(Options{})

	_, err := c.Validate(userSchema, map[string]any{"id": 1, "email": "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = c.Validate(userSchema, map[string]any{"id": 2, "email": "d@e.f"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len(), "same serialization reuses the compiled validator")

	// A semantically equal schema with different serialization misses the
	// cache. Accepted limitation: the key is string identity.
	reordered := []byte(`{
	"type": "object",
	"properties": {
		"id": {"type": "integer"},
		"email": {"type": "string", "format": "email"}
	},
	"required": ["id", "email"]
}`)
	_, err = c.Validate(reordered, map[string]any{"id": 1, "email": "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestValidate_ValidateValue(t *testing.T) {
	c := NewCache(Options{})

	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}

	res, err := c.ValidateValue(schema, map[string]any{"name": "probe"})
	require.NoError(t, err)
	assert.True(t, res.Valid())
	assert.Equal(t, 1, c.Len())

	// Same value serializes identically, so the compiled validator is reused.
	_, err = c.ValidateValue(schema, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestValidate_FormatDateTime(t *testing.T) {
	c := NewCache(Options{})

	schema := []byte(`{
		"type": "object",
		"properties": {"ts": {"type": "string", "format": "date-time"}}
	}`)

	t.Run("valid", func(t *testing.T) {
		res, err := c.Validate(schema, map[string]any{"ts": "2026-08-23T10:30:00Z"})
		require.NoError(t, err)
		assert.True(t, res.Valid())
	})

	t.Run("invalid", func(t *testing.T) {
		res, err := c.Validate(schema, map[string]any{"ts": "yesterday"})
		require.NoError(t, err)
		assert.False(t, res.Valid())
	})
}

func TestValidate_Concurrent(t *testing.T) {
	c := NewCache(Options{})

	var wg sync.WaitGroup
	errs := make([]error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			payload := map[string]any{"id": idx, "email": "x@y.com"}
			res, err := c.Validate(userSchema, payload)
			if err == nil && !res.Valid() {
				err = res.ToError()
			}
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for i, e := range errs {
		assert.NoError(t, e, "goroutine %d should not error", i)
	}
	assert.Equal(t, 1, c.Len(), "concurrent first compilation publishes one validator")
}
