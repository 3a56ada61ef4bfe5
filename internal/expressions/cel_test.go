package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restprobe/restprobe/pkg/contract"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_StatusComparison(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "status >= 200 && status < 300", responseData())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_HeaderAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(),
		`headers["Content-Type"] == "application/json"`, responseData())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_BodyTraversal(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `body.name == "probe"`, responseData())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingScopeKeysDefaultEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// No cases registered yet: the activation still provides an empty map.
	out, err := e.Evaluate(context.Background(), `size(cases) == 0`, responseData())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "status ==", responseData())
	require.Error(t, err)
	perr, ok := err.(*contract.ProbeError)
	require.True(t, ok)
	assert.Equal(t, contract.ErrCodeValidation, perr.Code)
}

func TestCEL_UnknownVariableRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// The environment is sandboxed to the response scope.
	_, err = e.Evaluate(context.Background(), "workflow.run_id", responseData())
	require.Error(t, err)
}

func TestCEL_CompilationCached(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "status == 200", responseData())
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), "status == 200", responseData())
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
