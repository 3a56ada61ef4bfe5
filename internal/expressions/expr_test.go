package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restprobe/restprobe/pkg/contract"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func responseData() map[string]any {
	return map[string]any{
		"status": 200,
		"headers": map[string]any{
			"Content-Type": "application/json",
		},
		"body": map[string]any{
			"id":    float64(7),
			"name":  "probe",
			"items": []any{float64(1), float64(2), float64(3)},
		},
		"vars": map[string]any{"expected_name": "probe"},
	}
}

func TestExpr_StatusComparison(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), "status == 200", responseData())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_BodyFieldAccess(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `body.name == vars.expected_name`, responseData())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_ArrayOperations(t *testing.T) {
	e := NewExprEngine()

	t.Run("len", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "len(body.items) == 3", responseData())
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("all", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "all(body.items, # > 0)", responseData())
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestExpr_OptionalChaining(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `body?.missing?.deeper ?? "fallback"`, responseData())
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", responseData())
	require.Error(t, err)
	perr, ok := err.(*contract.ProbeError)
	require.True(t, ok)
	assert.Equal(t, contract.ErrCodeValidation, perr.Code)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "status ==", responseData())
	require.Error(t, err)
	perr, ok := err.(*contract.ProbeError)
	require.True(t, ok)
	assert.Equal(t, contract.ErrCodeValidation, perr.Code)
}

func TestExpr_CompilationCached(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "status == 200", responseData())
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), "status == 200", responseData())
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestExpr_ConcurrentEvaluation(t *testing.T) {
	e := NewExprEngine()
	data := responseData()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "status == 200 && body.id == 7", data)
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
}
