package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restprobe/restprobe/pkg/contract"
)

type fakeRecorder struct {
	created   int
	saved     []contract.CaseResult
	completed []contract.Run
}

func (f *fakeRecorder) CreateRun(ctx context.Context, run *contract.Run) error {
	f.created++
	return nil
}

func (f *fakeRecorder) SaveCaseResult(ctx context.Context, result *contract.CaseResult) error {
	f.saved = append(f.saved, *result)
	return nil
}

func (f *fakeRecorder) CompleteRun(ctx context.Context, run *contract.Run) error {
	f.completed = append(f.completed, *run)
	return nil
}

func newTestRunner(t *testing.T, rec Recorder) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{
		Retry: contract.RetryConfig{MaxRetries: 3, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	}, rec, nil)
	require.NoError(t, err)
	return r
}

func TestRunSuite_PassingCases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 42, "name": "probe"}`))
		case "/users/42":
			_, _ = w.Write([]byte(`{"id": 42, "name": "probe", "active": true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name:    "users",
		BaseURL: srv.URL,
		Cases: []contract.Case{
			{
				ID:      "create_user",
				Request: contract.Request{Method: "POST", URL: "/users", Body: map[string]any{"name": "probe"}},
				Expect: contract.Expect{
					Status:   201,
					Captures: map[string]string{"id": ".body.id"},
				},
			},
			{
				ID:      "get_user",
				Request: contract.Request{URL: "/users/${{cases.create_user.captures.id}}"},
				Expect: contract.Expect{
					Status: 200,
					Schema: map[string]any{
						"type":     "object",
						"required": []any{"id", "name"},
						"properties": map[string]any{
							"id":   map[string]any{"type": "integer"},
							"name": map[string]any{"type": "string"},
						},
					},
					Expressions: []string{
						`body.name == "probe"`,
						"cel: status == 200",
						"jq: .body.active",
					},
				},
			},
		},
	}

	rec := &fakeRecorder{}
	report, err := newTestRunner(t, rec).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, contract.RunStatusCompleted, report.Run.Status)
	assert.Equal(t, 2, report.Run.Passed)
	require.Len(t, report.Results, 2)
	assert.Equal(t, contract.CaseStatusPassed, report.Results[0].Status)
	assert.Equal(t, float64(42), report.Results[0].Captures["id"])
	assert.Equal(t, contract.CaseStatusPassed, report.Results[1].Status)

	assert.Equal(t, 1, rec.created)
	assert.Len(t, rec.saved, 2)
	require.Len(t, rec.completed, 1)
	assert.Equal(t, contract.RunStatusCompleted, rec.completed[0].Status)
}

func TestRunSuite_FailedCaseDoesNotStopRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name:    "mixed",
		BaseURL: srv.URL,
		Cases: []contract.Case{
			{ID: "broken", Request: contract.Request{URL: "/missing"}, Expect: contract.Expect{Status: 200}},
			{ID: "healthy", Request: contract.Request{URL: "/ok"}, Expect: contract.Expect{Status: 200}},
		},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, contract.RunStatusFailed, report.Run.Status)
	require.Len(t, report.Results, 2)
	assert.Equal(t, contract.CaseStatusFailed, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Violations[0], "expected 200, got 404")
	assert.Equal(t, contract.CaseStatusPassed, report.Results[1].Status, "later cases still run")
}

func TestRunSuite_SchemaViolations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "not-an-int"}`))
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name: "schema",
		Cases: []contract.Case{{
			ID:      "typed",
			Request: contract.Request{URL: srv.URL},
			Expect: contract.Expect{
				Schema: map[string]any{
					"type":     "object",
					"required": []any{"id", "email"},
					"properties": map[string]any{
						"id":    map[string]any{"type": "integer"},
						"email": map[string]any{"type": "string"},
					},
				},
			},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, contract.CaseStatusFailed, result.Status)
	assert.NotEmpty(t, result.Violations, "all schema violations are reported")
}

func TestRunSuite_MalformedSchemaErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name: "bad-schema",
		Cases: []contract.Case{{
			ID:      "compile",
			Request: contract.Request{URL: srv.URL},
			Expect: contract.Expect{
				Schema: map[string]any{"type": "no-such-type"},
			},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, contract.CaseStatusErrored, result.Status, "a malformed schema is an error, not a failure")
	assert.Contains(t, result.Error, contract.ErrCodeSchemaCompile)
}

func TestRunSuite_RateLimitedThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name: "throttled",
		Cases: []contract.Case{{
			ID:      "eventually",
			Request: contract.Request{URL: srv.URL},
			Expect:  contract.Expect{Status: 200},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, contract.CaseStatusPassed, result.Status)
	assert.Equal(t, 3, result.Attempts)
}

func TestRunSuite_RetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name: "always-throttled",
		Cases: []contract.Case{{
			ID:      "exhausted",
			Request: contract.Request{URL: srv.URL},
			Retry:   &contract.RetryPolicy{Max: 2, BaseDelay: "1ms", MaxDelay: "5ms"},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, contract.CaseStatusErrored, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 429, result.StatusCode)
	assert.Contains(t, result.Error, contract.ErrCodeRetryExhausted)
}

func TestRunSuite_Expected429IsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name: "throttle-probe",
		Cases: []contract.Case{{
			ID:      "assert_throttled",
			Request: contract.Request{URL: srv.URL},
			Expect:  contract.Expect{Status: 429},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, contract.CaseStatusPassed, result.Status)
	assert.Equal(t, int32(1), calls.Load(), "an expected 429 is data, not a retry trigger")
}

func TestRunSuite_InterpolationErrorErrorsCase(t *testing.T) {
	suite := &contract.Suite{
		Name: "bad-ref",
		Cases: []contract.Case{{
			ID:      "dangling",
			Request: contract.Request{URL: "/x/${{vars.nope}}"},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, contract.CaseStatusErrored, result.Status)
	assert.Contains(t, result.Error, contract.ErrCodeInterpolation)
}

func TestRunSuite_DefaultHeadersMerged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "case-level", r.Header.Get("X-Probe"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name:    "headers",
		BaseURL: srv.URL,
		Defaults: &contract.CaseDefaults{
			Headers: map[string]string{"Accept": "application/json", "X-Probe": "default"},
		},
		Cases: []contract.Case{{
			ID: "override",
			Request: contract.Request{
				URL:     "/",
				Headers: map[string]string{"X-Probe": "case-level"},
			},
			Expect: contract.Expect{Status: 200},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, contract.CaseStatusPassed, report.Results[0].Status)
}

func TestRunSuite_DefaultAuthApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/suite-auth":
			assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		case "/case-auth":
			assert.Equal(t, "k3y", r.Header.Get("X-Api-Key"))
			assert.Empty(t, r.Header.Get("Authorization"), "case auth replaces the default")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name:    "auth",
		BaseURL: srv.URL,
		Vars:    map[string]any{"token": "s3cret"},
		Defaults: &contract.CaseDefaults{
			Auth: &contract.Auth{Type: "bearer", Token: "${{vars.token}}"},
		},
		Cases: []contract.Case{
			{
				ID:      "suite_auth",
				Request: contract.Request{URL: "/suite-auth"},
				Expect:  contract.Expect{Status: 200},
			},
			{
				ID:      "case_auth",
				Request: contract.Request{URL: "/case-auth"},
				Auth:    &contract.Auth{Type: "api_key", Header: "X-Api-Key", Value: "k3y"},
				Expect:  contract.Expect{Status: 200},
			},
		},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Run.Passed)
}

func TestRunSuite_AuthInterpolationErrorErrorsCase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be issued when auth cannot be resolved")
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name:    "auth-bad",
		BaseURL: srv.URL,
		Defaults: &contract.CaseDefaults{
			Auth: &contract.Auth{Type: "bearer", Token: "${{vars.missing}}"},
		},
		Cases: []contract.Case{{
			ID:      "unresolved",
			Request: contract.Request{URL: "/"},
			Expect:  contract.Expect{Status: 200},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, contract.CaseStatusErrored, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Error, contract.ErrCodeInterpolation)
}

func TestRunSuite_ContextCancelledStopsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	suite := &contract.Suite{
		Name: "cancelled",
		Cases: []contract.Case{
			{ID: "one", Request: contract.Request{URL: srv.URL}},
			{ID: "two", Request: contract.Request{URL: srv.URL}},
		},
	}

	report, err := newTestRunner(t, nil).RunSuite(ctx, suite)
	require.Error(t, err)
	assert.Equal(t, contract.RunStatusFailed, report.Run.Status)
	assert.Empty(t, report.Results)
}

func TestRunSuite_FailedExpressionReportsViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count": 1}`))
	}))
	defer srv.Close()

	suite := &contract.Suite{
		Name: "expressions",
		Vars: map[string]any{"min": 5},
		Cases: []contract.Case{{
			ID:      "too-few",
			Request: contract.Request{URL: srv.URL},
			Expect:  contract.Expect{Expressions: []string{"body.count >= vars.min"}},
		}},
	}

	report, err := newTestRunner(t, nil).RunSuite(context.Background(), suite)
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, contract.CaseStatusFailed, result.Status)
	require.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0], "body.count >= vars.min")
}
