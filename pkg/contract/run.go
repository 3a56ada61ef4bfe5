package contract

import "time"

// RunStatus enumerates the lifecycle states of a suite run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CaseStatus enumerates the terminal outcomes of a single case.
type CaseStatus string

const (
	CaseStatusPassed  CaseStatus = "passed"
	CaseStatusFailed  CaseStatus = "failed"
	CaseStatusErrored CaseStatus = "errored" // request or schema compile error, not an expectation failure
)

// Run is one execution of a suite.
type Run struct {
	ID          string     `json:"id"`
	SuiteName   string     `json:"suite_name"`
	Status      RunStatus  `json:"status"`
	Passed      int        `json:"passed"`
	Failed      int        `json:"failed"`
	Errored     int        `json:"errored"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CaseResult is the recorded outcome of one case within a run.
type CaseResult struct {
	RunID      string         `json:"run_id"`
	CaseID     string         `json:"case_id"`
	Status     CaseStatus     `json:"status"`
	StatusCode int            `json:"status_code,omitempty"`
	Attempts   int            `json:"attempts"`
	DurationMs int64          `json:"duration_ms"`
	Violations []string       `json:"violations,omitempty"`
	Captures   map[string]any `json:"captures,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Failed reports whether the case did not pass.
func (r *CaseResult) FailedOrErrored() bool {
	return r.Status != CaseStatusPassed
}
