package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/restprobe/restprobe/pkg/contract"
)

// messagePrinter renders violation messages; the library localizes error
// kinds through x/text.
var messagePrinter = message.NewPrinter(language.English)

// Options configure a Cache at construction time. They apply to every
// schema compiled by that cache; per-call overrides are deliberately not
// supported so that two validations of the same schema can never disagree
// on semantics.
type Options struct {
	// Strict additionally asserts content encodings (contentEncoding,
	// contentMediaType) instead of treating them as annotations.
	Strict bool
	// CoerceTypes rewrites scalar payload values toward the schema's
	// declared type before validation (e.g. "2" -> 2 for an integer
	// property). The coerced payload is what a Valid result carries.
	CoerceTypes bool
	// RemoveAdditional strips undeclared object properties before
	// validation: "all" strips unconditionally, "failing" strips only
	// where the schema sets additionalProperties to false. Empty means
	// no stripping.
	RemoveAdditional string
}

// compiledEntry pairs a compiled schema with its parsed document, which
// the coercion pre-pass walks.
type compiledEntry struct {
	schema *jsonschema.Schema
	doc    any
}

// Cache compiles JSON Schemas into reusable validators, keyed by the raw
// serialized schema. Two schemas that are semantically equal but
// serialize differently miss the cache and compile twice; the key is
// string identity, not structural equality. Safe for concurrent use.
type Cache struct {
	opts Options

	mu    sync.RWMutex
	cache map[string]*compiledEntry
}

// NewCache creates a validator cache with the given options.
func NewCache(opts Options) *Cache {
	return &Cache{
		opts:  opts,
		cache: make(map[string]*compiledEntry),
	}
}

// Len reports the number of compiled schemas held by the cache.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Validate checks payload against the schema given as serialized JSON.
// A malformed schema fails fast with a SCHEMA_COMPILE error; a payload
// that does not satisfy the schema is NOT an error, it is an Invalid
// result carrying every violation as `<path-or-"/"> <message>`.
func (c *Cache) Validate(schemaBytes []byte, payload any) (contract.ValidationResult, error) {
	if len(schemaBytes) == 0 {
		return contract.ValidationResult{}, contract.NewError(
			contract.ErrCodeSchemaCompile, "empty schema")
	}

	entry, err := c.getOrCompile(schemaBytes)
	if err != nil {
		return contract.ValidationResult{}, err
	}

	if c.opts.CoerceTypes || c.opts.RemoveAdditional != "" {
		payload = applyOptions(entry.doc, payload, c.opts)
	}

	// Round-trip through JSON encoding so numbers become json.Number,
	// which the jsonschema library requires.
	doc, err := toJSONValue(payload)
	if err != nil {
		return contract.ValidationResult{}, contract.NewError(
			contract.ErrCodeValidation, "failed to serialize payload").WithCause(err)
	}

	if err := entry.schema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return contract.ValidationResult{}, contract.NewError(
				contract.ErrCodeValidation, "validator failed").WithCause(err)
		}
		return contract.InvalidResult(collectViolations(verr)), nil
	}
	return contract.ValidResult(payload), nil
}

// ValidateValue is Validate for schemas held as Go values (e.g. decoded
// from a suite file). The value is serialized once and the serialized
// form becomes the cache key.
func (c *Cache) ValidateValue(schema any, payload any) (contract.ValidationResult, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return contract.ValidationResult{}, contract.NewError(
			contract.ErrCodeSchemaCompile, "cannot serialize schema").WithCause(err)
	}
	return c.Validate(b, payload)
}

// getOrCompile returns a cached compiled schema or compiles and caches a
// new one. Concurrent first-time compilation of the same key is resolved
// by the write lock; at most one compiled validator is ever published per
// key.
func (c *Cache) getOrCompile(schemaBytes []byte) (*compiledEntry, error) {
	key := string(schemaBytes)

	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := c.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, contract.NewError(contract.ErrCodeSchemaCompile,
			"malformed schema document").WithCause(err)
	}

	// Each schema gets a unique URL to avoid resource collisions; a fresh
	// compiler per schema keeps resources isolated.
	url := fmt.Sprintf("restprobe://schema/%d", len(c.cache))

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat()
	if c.opts.Strict {
		compiler.AssertContent()
	}
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, contract.NewError(contract.ErrCodeSchemaCompile,
			"cannot register schema resource").WithCause(err)
	}

	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, contract.NewError(contract.ErrCodeSchemaCompile,
			"schema does not compile").WithCause(err)
	}

	entry := &compiledEntry{schema: compiled, doc: doc}
	c.cache[key] = entry
	return entry, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so
// that numeric values become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations, in document order.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s %s", loc, verr.ErrorKind.LocalizedString(messagePrinter))}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
