// Package main is the entrypoint for the Recovery Sweeper Lambda function.
//
// The Recovery Sweeper runs hourly via an EventBridge rule. It
// fast-forwards schedules whose fire time fell behind the stuck threshold,
// repairing their pointers without sending anything. A distributed job lock
// guarantees a single sweep per window even when the trigger fires on
// redundant deployments.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"habitpulse/internal/config"
	"habitpulse/internal/db"
	"habitpulse/internal/scheduler"
)

// lockTTL bounds how long a crashed sweep can hold the window lock.
const lockTTL = 10 * time.Minute

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	bootLogger.Info("RecoverySweeper Lambda initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to initialize database pool", "error", err)
		os.Exit(1)
	}

	scheduleRepo := db.NewScheduleRepository(pool)

	recoverer := scheduler.NewRecoverer(scheduler.RecovererConfig{
		Store:          scheduleRepo,
		Ledger:         db.NewLedgerRepository(pool),
		Sink:           db.NewErrorSinkRepository(pool),
		StuckThreshold: cfg.Scheduler.StuckThreshold,
		BatchLimit:     cfg.Scheduler.SweepBatch,
		Logger:         logger,
	})

	workerID := fmt.Sprintf("recovery-sweeper-%s", uuid.New().String())

	logger.Info("RecoverySweeper Lambda initialized",
		"stuck_threshold", cfg.Scheduler.StuckThreshold.String(),
		"sweep_batch", cfg.Scheduler.SweepBatch,
		"worker_id", workerID,
	)

	lambda.Start(newHandler(
		recoverer,
		db.NewJobLockRepository(pool),
		db.NewJobHistoryRepository(pool),
		workerID,
		logger,
	))
}

// jobLock is the handler's view of distributed lock acquisition.
type jobLock interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// jobHistory is the handler's view of job run bookkeeping.
type jobHistory interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// newHandler creates the Lambda handler that processes SweepInput events.
// The lock window is the trigger hour; an expired lock from a crashed sweep
// is reclaimed atomically by the next invocation.
func newHandler(recoverer *scheduler.Recoverer, locks jobLock, history jobHistory, workerID string, logger *slog.Logger) func(ctx context.Context, input scheduler.SweepInput) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input scheduler.SweepInput) (string, error) {
		now := input.ReferenceTime
		if now.IsZero() {
			now = time.Now().UTC()
		}

		lockID := fmt.Sprintf("recovery_sweep:%s", now.Truncate(time.Hour).Format("2006-01-02T15"))
		acquired, err := locks.Acquire(ctx, lockID, workerID, lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "sweep already running elsewhere", "lock_id", lockID)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}

		jobID, err := history.Start(ctx, "recovery_sweep")
		if err != nil {
			logger.WarnContext(ctx, "failed to record job start (continuing anyway)", "error", err)
			jobID = 0
		}

		summary, sweepErr := recoverer.Sweep(ctx, input)

		if jobID != 0 {
			status := "success"
			if sweepErr != nil {
				status = "failed"
			}
			if err := history.Finish(ctx, jobID, status, summary.Stuck, sweepErr); err != nil {
				logger.WarnContext(ctx, "failed to record job completion", "error", err)
			}
		}

		if sweepErr != nil {
			logger.ErrorContext(ctx, "recovery sweep failed",
				"error", sweepErr,
				"summary", summary.String(),
			)
			return "", fmt.Errorf("recovery sweep failed: %w", sweepErr)
		}

		result := fmt.Sprintf("sweep complete: %s", summary)
		logger.InfoContext(ctx, result)
		return result, nil
	}
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
