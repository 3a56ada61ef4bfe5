package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/restprobe/restprobe/internal/store"
)

// SuiteRunner is the interface the scheduler uses to execute probe suites.
// Satisfied by the engine runner (avoids import cycle).
type SuiteRunner interface {
	RunSuiteFile(ctx context.Context, path string) (status string, err error)
}

// Scheduler polls the store for due scheduled probes and runs their suites.
type Scheduler struct {
	store  store.Store
	runner SuiteRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // probe IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner SuiteRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled probes and runs those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	probes, err := s.store.ListScheduledProbes(ctx, store.ScheduledProbeFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled probes", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, probe := range probes {
		if probe.NextRunAt == nil || !probe.NextRunAt.After(now) {
			if !s.tryAcquire(probe.ID) {
				continue // already running (dedup)
			}
			if err := s.runProbe(ctx, probe, now); err != nil {
				s.logger.Error("failed to run scheduled probe",
					slog.String("probe_id", probe.ID),
					slog.String("error", err.Error()),
				)
			}
			s.release(probe.ID)
		}
	}
}

// runProbe executes a scheduled probe's suite and updates its timestamps.
func (s *Scheduler) runProbe(ctx context.Context, probe *store.ScheduledProbe, now time.Time) error {
	s.logger.Info("running scheduled probe",
		slog.String("probe_id", probe.ID),
		slog.String("suite_path", probe.SuitePath),
	)

	status, err := s.runner.RunSuiteFile(ctx, probe.SuitePath)
	if err != nil {
		status = "error"
		s.logger.Error("scheduled probe execution failed",
			slog.String("probe_id", probe.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.updateProbeStatus(ctx, probe, now, status)
}

func (s *Scheduler) updateProbeStatus(ctx context.Context, probe *store.ScheduledProbe, now time.Time, status string) error {
	nextRun, err := s.CalculateNextRun(probe.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for probe %q: %w", probe.ID, err)
	}

	return s.store.UpdateScheduledProbe(ctx, probe.ID, store.ScheduledProbeUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the probe as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(probeID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[probeID]; ok {
		return false
	}
	s.inflight[probeID] = struct{}{}
	return true
}

// release removes the probe from the in-flight set.
func (s *Scheduler) release(probeID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, probeID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed checks for probes that missed their next_run_at and runs them once.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	probes, err := s.store.ListScheduledProbes(ctx, store.ScheduledProbeFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed probes: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, probe := range probes {
		if probe.NextRunAt != nil && probe.NextRunAt.Before(now) {
			if !s.tryAcquire(probe.ID) {
				continue
			}
			if err := s.runProbe(ctx, probe, now); err != nil {
				s.logger.Error("failed to recover missed probe",
					slog.String("probe_id", probe.ID),
					slog.String("error", err.Error()),
				)
				s.release(probe.ID)
				continue
			}
			s.release(probe.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed probes", slog.Int("count", recovered))
	}
	return nil
}
