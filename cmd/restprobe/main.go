package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/restprobe/restprobe/internal/client"
	"github.com/restprobe/restprobe/internal/engine"
	"github.com/restprobe/restprobe/internal/logging"
	"github.com/restprobe/restprobe/internal/scheduler"
	"github.com/restprobe/restprobe/internal/store"
	"github.com/restprobe/restprobe/internal/validation"
	"github.com/restprobe/restprobe/pkg/contract"
)

var version = "dev"

const usage = `restprobe - API probing with schema and expression expectations

Usage:
  restprobe run <suite.yaml> [...]        run suites once and report
  restprobe serve                         run scheduled probes until interrupted
  restprobe schedule add <suite.yaml> <cron>
  restprobe schedule list
  restprobe schedule remove <id>
  restprobe history [run-id]              list recent runs, or one run's cases
  restprobe version
`

func main() {
	// A .env in the working directory feeds ${{env.*}} references and
	// RESTPROBE_* overrides; absence is not an error.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if os.Args[1] == "version" {
		fmt.Printf("restprobe %s\n", version)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "restprobe: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exitErr error
	switch os.Args[1] {
	case "run":
		exitErr = cmdRun(ctx, cfg, logger, os.Args[2:])
	case "serve":
		exitErr = cmdServe(ctx, cfg, logger)
	case "schedule":
		exitErr = cmdSchedule(ctx, cfg, logger, os.Args[2:])
	case "history":
		exitErr = cmdHistory(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if exitErr != nil {
		logger.Error("command failed", "error", exitErr)
		os.Exit(1)
	}
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    cfg.NoColor,
	})
	return slog.New(logging.NewCorrelationHandler(handler))
}

func runnerConfig(cfg Config) engine.RunnerConfig {
	return engine.RunnerConfig{
		Retry: contract.RetryConfig{
			MaxRetries: cfg.RetryMax,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
		},
		ValidatorOptions: validation.Options{
			Strict:           cfg.StrictSchemas,
			CoerceTypes:      cfg.CoerceTypes,
			RemoveAdditional: cfg.RemoveAdditional,
		},
		Client: client.Config{
			MaxResponseBody: cfg.MaxResponseBody,
			DefaultTimeout:  cfg.HTTPTimeout,
			FollowRedirects: cfg.FollowRedirects,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			UserAgent:       "restprobe/" + version,
		},
	}
}

func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if err := os.MkdirAll(restprobeDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", restprobeDir(), err)
	}
	s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// cmdRun executes one or more suite files and prints a console report.
// The process exits non-zero when any case failed or errored.
func cmdRun(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	noPersist := fs.Bool("no-persist", false, "skip recording the run in the local database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("run: at least one suite file required")
	}

	var recorder engine.Recorder
	if !*noPersist {
		s, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		recorder = s
	}

	runner, err := engine.NewRunner(runnerConfig(cfg), recorder, logger)
	if err != nil {
		return err
	}

	reporter := newReporter(os.Stdout, cfg.NoColor)
	anyFailed := false
	for _, path := range fs.Args() {
		suite, err := contract.LoadSuite(path)
		if err != nil {
			return err
		}
		report, err := runner.RunSuite(ctx, suite)
		if err != nil {
			return err
		}
		reporter.Report(report)
		if report.Run.Status != contract.RunStatusCompleted {
			anyFailed = true
		}
	}

	if anyFailed {
		return fmt.Errorf("one or more suites failed")
	}
	return nil
}

// suiteFileRunner adapts the engine runner to the scheduler's interface by
// loading the suite file on every execution, so edits are picked up.
type suiteFileRunner struct {
	runner *engine.Runner
}

func (r *suiteFileRunner) RunSuiteFile(ctx context.Context, path string) (string, error) {
	suite, err := contract.LoadSuite(path)
	if err != nil {
		return "", err
	}
	report, err := r.runner.RunSuite(ctx, suite)
	if err != nil {
		return "", err
	}
	return string(report.Run.Status), nil
}

// cmdServe runs the scheduler loop and the metrics server until a signal.
func cmdServe(ctx context.Context, cfg Config, logger *slog.Logger) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	runner, err := engine.NewRunner(runnerConfig(cfg), s, logger)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(s, &suiteFileRunner{runner: runner}, logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed probe recovery failed", "error", err)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	var srv *metricsServer
	if cfg.MetricsAddr != "" {
		srv = newMetricsServer(cfg.MetricsAddr, logger)
		srv.Start()
	}

	logger.Info("restprobe serving", "version", version, "db", cfg.DBPath)
	<-ctx.Done()
	logger.Info("shutting down")

	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop failed", "error", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("metrics server stop failed", "error", err)
		}
	}
	return nil
}

// cmdSchedule manages scheduled probes: add, list, remove.
func cmdSchedule(ctx context.Context, cfg Config, logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("schedule: add, list, or remove required")
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "add":
		if len(args) != 3 {
			return fmt.Errorf("schedule add: usage: restprobe schedule add <suite.yaml> <cron>")
		}
		suitePath, cronExpr := args[1], args[2]
		if _, err := contract.LoadSuite(suitePath); err != nil {
			return err
		}
		sched := scheduler.NewScheduler(s, nil, logger)
		next, err := sched.CalculateNextRun(cronExpr, time.Now().UTC())
		if err != nil {
			return err
		}
		probe := &store.ScheduledProbe{
			ID:             uuid.NewString(),
			SuitePath:      suitePath,
			CronExpression: cronExpr,
			Enabled:        true,
			NextRunAt:      &next,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.CreateScheduledProbe(ctx, probe); err != nil {
			return err
		}
		fmt.Printf("scheduled %s (%s) as %s, next run %s\n",
			suitePath, cronExpr, probe.ID, next.Format(time.RFC3339))
		return nil

	case "list":
		probes, err := s.ListScheduledProbes(ctx, store.ScheduledProbeFilter{})
		if err != nil {
			return err
		}
		if len(probes) == 0 {
			fmt.Println("no scheduled probes")
			return nil
		}
		for _, p := range probes {
			state := "enabled"
			if !p.Enabled {
				state = "disabled"
			}
			next := "-"
			if p.NextRunAt != nil {
				next = p.NextRunAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-9s %-14s next=%s  %s\n", p.ID, state, p.CronExpression, next, p.SuitePath)
		}
		return nil

	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("schedule remove: usage: restprobe schedule remove <id>")
		}
		if err := s.DeleteScheduledProbe(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[1])
		return nil

	default:
		return fmt.Errorf("schedule: unknown subcommand %q", args[0])
	}
}

// cmdHistory lists recent runs, or the case results of one run.
func cmdHistory(ctx context.Context, cfg Config, args []string) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	reporter := newReporter(os.Stdout, cfg.NoColor)

	if len(args) == 0 {
		runs, err := s.ListRuns(ctx, store.RunFilter{Limit: 20})
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs recorded")
			return nil
		}
		for _, run := range runs {
			reporter.RunLine(run)
		}
		return nil
	}

	run, err := s.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	results, err := s.ListCaseResults(ctx, run.ID)
	if err != nil {
		return err
	}
	reporter.RunDetail(run, results)
	return nil
}
