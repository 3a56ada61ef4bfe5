package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Suite is the YAML-serializable probe suite format.
type Suite struct {
	Name     string         `yaml:"name"`
	BaseURL  string         `yaml:"base_url,omitempty"`
	Vars     map[string]any `yaml:"vars,omitempty"`
	Defaults *CaseDefaults  `yaml:"defaults,omitempty"`
	Cases    []Case         `yaml:"cases"`
}

// CaseDefaults are applied to every case that does not override them.
type CaseDefaults struct {
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout string            `yaml:"timeout,omitempty"`
	Retry   *RetryPolicy      `yaml:"retry,omitempty"`
	Auth    *Auth             `yaml:"auth,omitempty"`
}

// Auth configures request authentication, suite-wide via defaults or per
// case. Field values may carry interpolation references, so credentials
// usually come from ${{env.*}}.
type Auth struct {
	Type     string `yaml:"type"` // bearer, basic, api_key
	Token    string `yaml:"token,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	// Header and Value carry the api_key scheme.
	Header string `yaml:"header,omitempty"`
	Value  string `yaml:"value,omitempty"`
}

// Case describes a single probe: one request and its expectations.
type Case struct {
	ID      string       `yaml:"id"`
	Request Request      `yaml:"request"`
	Expect  Expect       `yaml:"expect,omitempty"`
	Retry   *RetryPolicy `yaml:"retry,omitempty"`
	Auth    *Auth        `yaml:"auth,omitempty"`
}

// Request describes the HTTP request a case issues. Interpolation
// references (${{vars.*}}, ${{cases.*}}, ${{env.*}}) are resolved before
// the request is built.
type Request struct {
	Method  string            `yaml:"method,omitempty"` // default GET
	URL     string            `yaml:"url"`              // absolute, or joined with the suite base_url
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    any               `yaml:"body,omitempty"`
	Timeout string            `yaml:"timeout,omitempty"`
}

// Expect declares the expectations evaluated against the response.
type Expect struct {
	Status int `yaml:"status,omitempty"`
	// Schema is a JSON Schema for the response body, written inline as YAML
	// and serialized to canonical JSON for the validator cache.
	Schema any `yaml:"schema,omitempty"`
	// Expressions are boolean expectation expressions evaluated against the
	// response scope (status, headers, body, vars). Dialect prefixes
	// "cel:" and "jq:" select an engine; the default is expr.
	Expressions []string `yaml:"expressions,omitempty"`
	// Captures extract values from the response via jq expressions; they
	// become available to later cases as ${{cases.<id>.captures.<name>}}.
	Captures map[string]string `yaml:"captures,omitempty"`
}

// RetryPolicy is the YAML-friendly retry block with duration strings.
type RetryPolicy struct {
	Max       int    `yaml:"max"`
	BaseDelay string `yaml:"base_delay,omitempty"`
	MaxDelay  string `yaml:"max_delay,omitempty"`
}

// ToConfig converts the policy into a normalized RetryConfig.
// Invalid duration strings fall back to the defaults.
func (p *RetryPolicy) ToConfig() RetryConfig {
	cfg := RetryConfig{}
	if p != nil {
		cfg.MaxRetries = p.Max
		if d, err := time.ParseDuration(p.BaseDelay); err == nil {
			cfg.BaseDelay = d
		}
		if d, err := time.ParseDuration(p.MaxDelay); err == nil {
			cfg.MaxDelay = d
		}
	}
	return cfg.Normalized()
}

// SchemaJSON returns the case's expected body schema serialized to JSON,
// or nil when the case declares none. The serialized form is the
// validator cache key.
func (e *Expect) SchemaJSON() ([]byte, error) {
	if e == nil || e.Schema == nil {
		return nil, nil
	}
	b, err := json.Marshal(normalizeYAML(e.Schema))
	if err != nil {
		return nil, NewError(ErrCodeSchemaCompile, "cannot serialize schema").WithCause(err)
	}
	return b, nil
}

// LoadSuite reads and validates a suite definition from a YAML file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorf(ErrCodeConfig, "read suite %s", path).WithCause(err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes a suite from YAML and enforces structural rules the
// type system cannot: at least one case, unique non-empty case IDs, a URL
// per request.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, NewError(ErrCodeConfig, "malformed suite YAML").WithCause(err)
	}
	if len(s.Cases) == 0 {
		return nil, NewError(ErrCodeConfig, "suite has no cases")
	}
	if s.Defaults != nil {
		if err := validateAuth(s.Defaults.Auth, "defaults"); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]struct{}, len(s.Cases))
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.ID == "" {
			return nil, NewErrorf(ErrCodeConfig, "case %d has no id", i)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, NewErrorf(ErrCodeConfig, "duplicate case id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Request.URL == "" {
			return nil, NewErrorf(ErrCodeConfig, "case %q has no request url", c.ID)
		}
		if err := validateAuth(c.Auth, "case "+c.ID); err != nil {
			return nil, err
		}
		c.Request.Body = normalizeYAML(c.Request.Body)
	}
	s.Vars = normalizeYAMLMap(s.Vars)
	return &s, nil
}

func validateAuth(a *Auth, where string) error {
	if a == nil {
		return nil
	}
	switch a.Type {
	case "bearer", "basic", "api_key":
		return nil
	default:
		return NewErrorf(ErrCodeConfig, "%s: unknown auth type %q", where, a.Type)
	}
}

// normalizeYAML converts yaml.v3 map[any]any trees into map[string]any so
// downstream JSON encoding and jq evaluation work uniformly.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case map[string]any:
		return normalizeYAMLMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}

func normalizeYAMLMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeYAML(v)
	}
	return out
}
