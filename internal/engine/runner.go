package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/restprobe/restprobe/internal/client"
	"github.com/restprobe/restprobe/internal/expressions"
	"github.com/restprobe/restprobe/internal/logging"
	"github.com/restprobe/restprobe/internal/metrics"
	"github.com/restprobe/restprobe/internal/validation"
	"github.com/restprobe/restprobe/pkg/contract"
)

// Recorder persists run history. A nil Recorder disables persistence.
type Recorder interface {
	CreateRun(ctx context.Context, run *contract.Run) error
	SaveCaseResult(ctx context.Context, result *contract.CaseResult) error
	CompleteRun(ctx context.Context, run *contract.Run) error
}

// RunReport is the in-memory outcome of one suite run.
type RunReport struct {
	Run     contract.Run
	Results []contract.CaseResult
}

// Runner executes probe suites: one HTTP request per case, retried on rate
// limits, with status, schema, and expression expectations evaluated
// against the response. Cases run sequentially so captures from earlier
// cases are available to later ones.
type Runner struct {
	httpClient *client.Client
	cache      *validation.Cache
	eval       *expressions.Evaluator
	interp     *expressions.Interpolator
	recorder   Recorder
	retryCfg   contract.RetryConfig
	logger     *slog.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Retry is the default retry policy for cases that declare none.
	Retry contract.RetryConfig
	// ValidatorOptions configure the shared schema validator cache.
	ValidatorOptions validation.Options
	// Client configures the HTTP client.
	Client client.Config
}

// NewRunner builds a Runner. The recorder may be nil.
func NewRunner(cfg RunnerConfig, recorder Recorder, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	eval, err := expressions.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Runner{
		httpClient: client.New(cfg.Client, logger),
		cache:      validation.NewCache(cfg.ValidatorOptions),
		eval:       eval,
		interp:     expressions.NewInterpolator(),
		recorder:   recorder,
		retryCfg:   cfg.Retry.Normalized(),
		logger:     logger,
	}, nil
}

// RunSuite executes every case of the suite in order. A failing case does
// not stop the run; a cancelled context does. The returned report is
// complete even when the run failed.
func (r *Runner) RunSuite(ctx context.Context, suite *contract.Suite) (*RunReport, error) {
	run := contract.Run{
		ID:        uuid.NewString(),
		SuiteName: suite.Name,
		Status:    contract.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	ctx = logging.WithRunID(logging.WithSuite(ctx, suite.Name), run.ID)
	log := logging.LogWith(ctx, r.logger)

	if r.recorder != nil {
		if err := r.recorder.CreateRun(ctx, &run); err != nil {
			return nil, err
		}
	}

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	log.Info("suite run started", "cases", len(suite.Cases))

	sb := expressions.NewScopeBuilder(suite.Vars)
	results := make([]contract.CaseResult, 0, len(suite.Cases))

	for i := range suite.Cases {
		if ctx.Err() != nil {
			break
		}
		cse := &suite.Cases[i]

		result := r.runCase(logging.WithCaseID(ctx, cse.ID), suite, cse, sb)
		result.RunID = run.ID
		results = append(results, result)

		metrics.CaseResults.WithLabelValues(suite.Name, string(result.Status)).Inc()
		switch result.Status {
		case contract.CaseStatusPassed:
			run.Passed++
		case contract.CaseStatusFailed:
			run.Failed++
		default:
			run.Errored++
		}

		if r.recorder != nil {
			if err := r.recorder.SaveCaseResult(ctx, &result); err != nil {
				log.Error("cannot persist case result", "case_id", cse.ID, "error", err)
			}
		}
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Status = contract.RunStatusCompleted
	if run.Failed > 0 || run.Errored > 0 || ctx.Err() != nil {
		run.Status = contract.RunStatusFailed
	}

	if r.recorder != nil {
		if err := r.recorder.CompleteRun(ctx, &run); err != nil {
			log.Error("cannot persist run completion", "error", err)
		}
	}

	log.Info("suite run finished",
		"status", run.Status,
		"passed", run.Passed, "failed", run.Failed, "errored", run.Errored)

	return &RunReport{Run: run, Results: results}, ctx.Err()
}

// runCase executes one case end to end. Request and schema-compile errors
// yield an errored result; expectation violations yield a failed one.
func (r *Runner) runCase(ctx context.Context, suite *contract.Suite, cse *contract.Case, sb *expressions.ScopeBuilder) contract.CaseResult {
	log := logging.LogWith(ctx, r.logger)
	result := contract.CaseResult{CaseID: cse.ID, Status: contract.CaseStatusPassed}
	start := time.Now()
	defer func() {
		result.DurationMs = time.Since(start).Milliseconds()
	}()

	req, err := r.buildRequest(suite, cse, sb)
	if err != nil {
		return errored(result, err)
	}
	auth, err := r.buildAuth(suite, cse, sb)
	if err != nil {
		return errored(result, err)
	}

	// A case that expects a 429 gets the response as data instead of a
	// retry loop.
	retryable := cse.Expect.Status != http.StatusTooManyRequests

	attempts := 0
	op := func(ctx context.Context) (*contract.ResponseInfo, error) {
		attempts++
		if attempts > 1 {
			metrics.RetriesTotal.Inc()
			log.Info("retrying case", "attempt", attempts)
		}
		resp, err := r.httpClient.Do(ctx, req, suite.BaseURL, auth)
		if err != nil {
			return nil, err
		}
		if retryable && resp.StatusCode == http.StatusTooManyRequests {
			return nil, &contract.RateLimitError{Response: resp}
		}
		return resp, nil
	}

	resp, err := Do(ctx, op, r.retryConfig(suite, cse))
	result.Attempts = attempts
	if err != nil {
		if rle, ok := contract.AsRateLimit(err); ok {
			result.StatusCode = rle.Response.StatusCode
		}
		return errored(result, err)
	}
	result.StatusCode = resp.StatusCode

	// Captures run before expectations so later cases can build on this
	// response even when an expectation fails.
	captures, err := r.extractCaptures(ctx, cse, resp, sb)
	if err != nil {
		return errored(result, err)
	}
	result.Captures = captures
	if err := sb.AddCaseResult(cse.ID, resp.StatusCode, captures); err != nil {
		return errored(result, err)
	}

	violations, err := r.checkExpectations(ctx, suite, cse, resp, sb)
	if err != nil {
		return errored(result, err)
	}
	if len(violations) > 0 {
		result.Status = contract.CaseStatusFailed
		result.Violations = violations
		log.Warn("case failed", "violations", len(violations))
		return result
	}

	log.Debug("case passed", "status_code", resp.StatusCode, "attempts", attempts)
	return result
}

// buildRequest merges suite defaults into the case request and resolves
// every interpolation reference.
func (r *Runner) buildRequest(suite *contract.Suite, cse *contract.Case, sb *expressions.ScopeBuilder) (contract.Request, error) {
	req := cse.Request

	if suite.Defaults != nil {
		merged := make(map[string]string, len(suite.Defaults.Headers)+len(req.Headers))
		for k, v := range suite.Defaults.Headers {
			merged[k] = v
		}
		for k, v := range req.Headers {
			merged[k] = v
		}
		if len(merged) > 0 {
			req.Headers = merged
		}
		if req.Timeout == "" {
			req.Timeout = suite.Defaults.Timeout
		}
	}

	url, err := r.interp.ResolveString(req.URL, sb)
	if err != nil {
		return req, err
	}
	req.URL = url

	headers, err := r.interp.ResolveHeaders(req.Headers, sb)
	if err != nil {
		return req, err
	}
	req.Headers = headers

	if req.Body != nil {
		body, err := r.interp.ResolveValue(req.Body, sb)
		if err != nil {
			return req, err
		}
		req.Body = body
	}

	return req, nil
}

// buildAuth picks the effective auth block (case over suite defaults) and
// resolves interpolation references in its fields.
func (r *Runner) buildAuth(suite *contract.Suite, cse *contract.Case, sb *expressions.ScopeBuilder) (*client.Auth, error) {
	src := cse.Auth
	if src == nil && suite.Defaults != nil {
		src = suite.Defaults.Auth
	}
	if src == nil {
		return nil, nil
	}

	resolved := make([]string, 0, 5)
	for _, raw := range []string{src.Token, src.Username, src.Password, src.Header, src.Value} {
		v, err := r.interp.ResolveString(raw, sb)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, v)
	}

	return &client.Auth{
		Type:        src.Type,
		Token:       resolved[0],
		Username:    resolved[1],
		Password:    resolved[2],
		HeaderName:  resolved[3],
		HeaderValue: resolved[4],
	}, nil
}

// retryConfig picks the effective retry policy: case over suite defaults
// over the runner default.
func (r *Runner) retryConfig(suite *contract.Suite, cse *contract.Case) contract.RetryConfig {
	if cse.Retry != nil {
		return cse.Retry.ToConfig()
	}
	if suite.Defaults != nil && suite.Defaults.Retry != nil {
		return suite.Defaults.Retry.ToConfig()
	}
	return r.retryCfg
}

// checkExpectations evaluates status, schema, and expression expectations
// and returns all violations. Malformed schemas and expressions are
// errors, not violations.
func (r *Runner) checkExpectations(ctx context.Context, suite *contract.Suite, cse *contract.Case, resp *contract.ResponseInfo, sb *expressions.ScopeBuilder) ([]string, error) {
	var violations []string

	if cse.Expect.Status != 0 && resp.StatusCode != cse.Expect.Status {
		violations = append(violations,
			fmt.Sprintf("status: expected %d, got %d", cse.Expect.Status, resp.StatusCode))
	}

	schemaJSON, err := cse.Expect.SchemaJSON()
	if err != nil {
		return nil, err
	}
	if schemaJSON != nil {
		res, err := r.cache.Validate(schemaJSON, resp.Body)
		if err != nil {
			return nil, err
		}
		if !res.Valid() {
			metrics.ValidationFailures.WithLabelValues(suite.Name).Inc()
			violations = append(violations, res.Errors()...)
		}
	}

	scope := sb.ResponseScope(resp)
	for _, expression := range cse.Expect.Expressions {
		ok, err := r.eval.Check(ctx, expression, scope)
		if err != nil {
			return nil, err
		}
		if !ok {
			violations = append(violations, fmt.Sprintf("expression: %s", expression))
		}
	}

	return violations, nil
}

// extractCaptures runs the case's jq captures against the response scope.
func (r *Runner) extractCaptures(ctx context.Context, cse *contract.Case, resp *contract.ResponseInfo, sb *expressions.ScopeBuilder) (map[string]any, error) {
	if len(cse.Expect.Captures) == 0 {
		return nil, nil
	}

	scope := sb.ResponseScope(resp)
	captures := make(map[string]any, len(cse.Expect.Captures))
	for name, expression := range cse.Expect.Captures {
		val, err := r.eval.Capture(ctx, expression, scope)
		if err != nil {
			return nil, err
		}
		captures[name] = val
	}
	return captures, nil
}

func errored(result contract.CaseResult, err error) contract.CaseResult {
	result.Status = contract.CaseStatusErrored
	result.Error = err.Error()
	return result
}
