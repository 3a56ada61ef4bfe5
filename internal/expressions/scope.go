package expressions

import (
	"sync"

	"github.com/restprobe/restprobe/pkg/contract"
)

// ScopeBuilder accumulates the data visible to interpolation and
// expectation expressions over the course of a suite run. It enforces:
//   - Suite vars are frozen at construction (deep-copied on init).
//   - Case results are immutable after completion (frozen on insert).
//   - Append-only: each finished case adds its captures for later cases.
type ScopeBuilder struct {
	mu    sync.RWMutex
	vars  map[string]any // suite vars (immutable after init)
	cases map[string]any // case ID -> {status, captures} (frozen on insert)
}

// NewScopeBuilder creates a ScopeBuilder initialized with the suite vars.
// Vars are deep-copied to prevent external mutation.
func NewScopeBuilder(vars map[string]any) *ScopeBuilder {
	return &ScopeBuilder{
		vars:  deepCopyMap(vars),
		cases: make(map[string]any),
	}
}

// AddCaseResult registers a finished case's status and captures. The entry
// is frozen (deep-copied) at insertion. Subsequent calls with the same
// caseID are rejected: case results are immutable after completion.
func (sb *ScopeBuilder) AddCaseResult(caseID string, status int, captures map[string]any) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if _, exists := sb.cases[caseID]; exists {
		return contract.NewErrorf(contract.ErrCodeInterpolation,
			"case %q result already registered; case results are immutable after completion", caseID)
	}

	sb.cases[caseID] = map[string]any{
		"status":   status,
		"captures": deepCopyMap(captures),
	}
	return nil
}

// ResponseScope builds the expression environment for evaluating
// expectations against a response. All data is copied or immutable, so
// the returned map is safe to hand to any engine.
func (sb *ScopeBuilder) ResponseScope(resp *contract.ResponseInfo) map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	scope := map[string]any{
		"vars":  sb.vars,
		"cases": deepCopyMap(sb.cases),
	}
	if resp != nil {
		scope["status"] = resp.StatusCode
		scope["headers"] = headersToAny(resp.Headers)
		scope["body"] = resp.Body
	} else {
		scope["status"] = 0
		scope["headers"] = map[string]any{}
	}
	return scope
}

// Vars returns the frozen suite vars.
func (sb *ScopeBuilder) Vars() map[string]any {
	return sb.vars
}

// Cases returns a read-only copy of the registered case results.
func (sb *ScopeBuilder) Cases() map[string]any {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return deepCopyMap(sb.cases)
}

func headersToAny(h map[string]string) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// --- Deep copy utilities ---

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	default:
		return v
	}
}
