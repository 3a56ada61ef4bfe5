package contract

import "fmt"

// ValidationResult is the tagged outcome of a schema validation: either
// Valid carrying the (possibly coerced) payload, or Invalid carrying one
// human-readable string per constraint violation. Never both.
type ValidationResult struct {
	valid  bool
	data   any
	errors []string
}

// ValidResult wraps a payload that satisfied the schema.
func ValidResult(data any) ValidationResult {
	return ValidationResult{valid: true, data: data}
}

// InvalidResult wraps the full list of violations, one entry per
// constraint, formatted as `<path-or-"/"> <message>`.
func InvalidResult(violations []string) ValidationResult {
	return ValidationResult{errors: violations}
}

// Valid reports whether the payload satisfied the schema.
func (r ValidationResult) Valid() bool { return r.valid }

// Data returns the validated payload. Nil for Invalid results.
func (r ValidationResult) Data() any {
	if !r.valid {
		return nil
	}
	return r.data
}

// Errors returns all collected violations. Nil for Valid results.
func (r ValidationResult) Errors() []string {
	if r.valid {
		return nil
	}
	return r.errors
}

// ToError converts an Invalid result into a ProbeError, nil if Valid.
// Validation failures are data, not control flow; this is for callers
// that want a terminal error anyway (e.g. the console reporter).
func (r ValidationResult) ToError() error {
	if r.valid {
		return nil
	}
	msg := "payload does not satisfy schema"
	if len(r.errors) == 1 {
		msg = r.errors[0]
	} else if len(r.errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.errors))
	}
	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": r.errors})
}
