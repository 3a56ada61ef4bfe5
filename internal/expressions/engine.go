package expressions

import (
	"context"
	"strings"

	"github.com/restprobe/restprobe/pkg/contract"
)

// Engine evaluates expressions against a response scope.
// Three implementations: Expr (default expectations), CEL (cel: prefix),
// GoJQ (jq: prefix and captures).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Evaluator dispatches expectation expressions to the right engine based
// on an optional dialect prefix and exposes jq capture evaluation. Safe
// for concurrent use; each engine caches its compiled programs.
type Evaluator struct {
	expr *ExprEngine
	cel  *CELEngine
	jq   *GoJQEngine
}

// NewEvaluator builds an Evaluator with all three engines ready.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		expr: NewExprEngine(),
		cel:  celEngine,
		jq:   NewGoJQEngine(),
	}, nil
}

// Check evaluates a boolean expectation expression. The dialect prefixes
// "cel:" and "jq:" select an engine; anything else evaluates as expr.
// A non-boolean result is a malformed expectation, not a failed one.
func (ev *Evaluator) Check(ctx context.Context, expression string, scope map[string]any) (bool, error) {
	engine, body := ev.dispatch(expression)

	out, err := engine.Evaluate(ctx, body, scope)
	if err != nil {
		return false, err
	}

	ok, isBool := out.(bool)
	if !isBool {
		return false, contract.NewErrorf(contract.ErrCodeValidation,
			"expectation %q must evaluate to a boolean, got %T", expression, out).
			WithDetails(map[string]any{"expression": expression})
	}
	return ok, nil
}

// Capture evaluates a jq expression against the scope and returns the
// extracted value.
func (ev *Evaluator) Capture(ctx context.Context, expression string, scope map[string]any) (any, error) {
	return ev.jq.EvaluateNormalized(ctx, expression, scope)
}

func (ev *Evaluator) dispatch(expression string) (Engine, string) {
	switch {
	case strings.HasPrefix(expression, "cel:"):
		return ev.cel, strings.TrimSpace(strings.TrimPrefix(expression, "cel:"))
	case strings.HasPrefix(expression, "jq:"):
		return ev.jq, strings.TrimSpace(strings.TrimPrefix(expression, "jq:"))
	default:
		return ev.expr, expression
	}
}
