package store

import (
	"context"

	"github.com/restprobe/restprobe/pkg/contract"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *contract.Run) error
	GetRun(ctx context.Context, id string) (*contract.Run, error)
	CompleteRun(ctx context.Context, run *contract.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*contract.Run, error)

	// Case results (append-only)
	SaveCaseResult(ctx context.Context, result *contract.CaseResult) error
	ListCaseResults(ctx context.Context, runID string) ([]*contract.CaseResult, error)

	// Scheduled probes
	CreateScheduledProbe(ctx context.Context, probe *ScheduledProbe) error
	GetScheduledProbe(ctx context.Context, id string) (*ScheduledProbe, error)
	UpdateScheduledProbe(ctx context.Context, id string, update ScheduledProbeUpdate) error
	ListScheduledProbes(ctx context.Context, filter ScheduledProbeFilter) ([]*ScheduledProbe, error)
	DeleteScheduledProbe(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
