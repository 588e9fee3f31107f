// Package main is the entrypoint for the Health Monitor Lambda function.
//
// The Health Monitor runs every fifteen minutes via an EventBridge rule. It
// aggregates stuck-schedule counts, recent scheduler errors, and the delivery
// success rate into a persisted snapshot, and publishes degraded snapshots to
// the SQS alert queue when one is configured.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"habitpulse/internal/config"
	"habitpulse/internal/db"
	"habitpulse/internal/queue"
	"habitpulse/internal/scheduler"
	"habitpulse/internal/types"
)

// lockTTL bounds how long a crashed check can hold the window lock.
const lockTTL = 15 * time.Minute

// monitorStore aggregates the four repositories behind the monitor's single
// storage interface.
type monitorStore struct {
	schedules *db.ScheduleRepository
	errors    *db.ErrorSinkRepository
	ledger    *db.LedgerRepository
	health    *db.HealthRepository
}

func (s *monitorStore) CountStuckSchedules(ctx context.Context, cutoff time.Time) (int, error) {
	return s.schedules.CountStuckSchedules(ctx, cutoff)
}

func (s *monitorStore) CountErrorsSince(ctx context.Context, since time.Time) (int, error) {
	return s.errors.CountErrorsSince(ctx, since)
}

func (s *monitorStore) CountAttemptsSince(ctx context.Context, since time.Time) (int, int, error) {
	return s.ledger.CountAttemptsSince(ctx, since)
}

func (s *monitorStore) InsertHealthSnapshot(ctx context.Context, snapshot *types.HealthSnapshot) error {
	return s.health.InsertHealthSnapshot(ctx, snapshot)
}

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	bootLogger.Info("HealthMonitor Lambda initializing (cold start)")

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

	// Alerting is optional: an empty queue URL leaves the monitor in
	// snapshot-only mode.
	var alerts scheduler.AlertPublisher
	if cfg.AWS.HealthAlertQueue != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		alerts = queue.NewAlertPublisher(sqsClient, cfg.AWS.HealthAlertQueue, logger)
	}

	monitor := scheduler.NewMonitor(scheduler.MonitorConfig{
		Store: &monitorStore{
			schedules: db.NewScheduleRepository(pool),
			errors:    db.NewErrorSinkRepository(pool),
			ledger:    db.NewLedgerRepository(pool),
			health:    db.NewHealthRepository(pool),
		},
		Alerts: alerts,
		Logger: logger,
	})

	workerID := fmt.Sprintf("health-monitor-%s", uuid.New().String())

	logger.Info("HealthMonitor Lambda initialized",
		"alerting_enabled", alerts != nil,
		"worker_id", workerID,
	)

	lambda.Start(newHandler(monitor, db.NewJobLockRepository(pool), workerID, logger))
}

// jobLock is the handler's view of distributed lock acquisition.
type jobLock interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// newHandler creates the Lambda handler that processes CheckInput events.
// The lock window matches the fifteen-minute trigger cadence so redundant
// deployments produce one snapshot per window, not one per deployment.
func newHandler(monitor *scheduler.Monitor, locks jobLock, workerID string, logger *slog.Logger) func(ctx context.Context, input scheduler.CheckInput) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input scheduler.CheckInput) (string, error) {
		now := input.ReferenceTime
		if now.IsZero() {
			now = time.Now().UTC()
		}

		lockID := fmt.Sprintf("health_check:%s", now.Truncate(15*time.Minute).Format("2006-01-02T15:04"))
		acquired, err := locks.Acquire(ctx, lockID, workerID, lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "health check already running elsewhere", "lock_id", lockID)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}

		snapshot, err := monitor.Check(ctx, input)
		if err != nil {
			logger.ErrorContext(ctx, "health check failed", "error", err)
			return "", fmt.Errorf("health check failed: %w", err)
		}

		result := fmt.Sprintf("health check complete: status=%s stuck=%d errors=%d success_rate=%.2f",
			snapshot.OverallStatus,
			snapshot.StuckScheduleCount,
			snapshot.RecentErrorCount,
			snapshot.DeliverySuccessRatePercent,
		)
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
