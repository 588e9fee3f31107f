// Package main is the entrypoint for the Error Archiver Lambda function.
//
// The Error Archiver runs nightly via an EventBridge rule. It moves scheduler
// error records older than the retention age into gzip JSONL objects in S3
// and prunes them from the hot table only after the archive upload succeeds.
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
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"habitpulse/internal/config"
	"habitpulse/internal/db"
	"habitpulse/internal/ops"
)

// lockTTL bounds how long a crashed archival run can hold the window lock.
const lockTTL = 15 * time.Minute

// ArchiveInput defines the input for an archival invocation. ReferenceTime
// exists for deterministic testing and manual backfill.
type ArchiveInput struct {
	ReferenceTime time.Time `json:"reference_time,omitempty"`
}

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	bootLogger.Info("ErrorArchiver Lambda initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AWS.ArchiveBucket == "" {
		bootLogger.Error("ARCHIVE_BUCKET is required for the error archiver")
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to initialize database pool", "error", err)
		os.Exit(1)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			o.UsePathStyle = true
		}
	})

	archiver := ops.NewArchiver(ops.ArchiverConfig{
		Source:   db.NewErrorSinkRepository(pool),
		Uploader: ops.NewS3Uploader(s3Client),
		Bucket:   cfg.AWS.ArchiveBucket,
		Age:      cfg.Scheduler.ArchiveAge,
		Batch:    cfg.Scheduler.ArchiveBatch,
		Logger:   logger,
	})

	workerID := fmt.Sprintf("error-archiver-%s", uuid.New().String())

	logger.Info("ErrorArchiver Lambda initialized",
		"archive_bucket", cfg.AWS.ArchiveBucket,
		"archive_age", cfg.Scheduler.ArchiveAge.String(),
		"archive_batch", cfg.Scheduler.ArchiveBatch,
		"worker_id", workerID,
	)

	lambda.Start(newHandler(
		archiver,
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

// newHandler creates the Lambda handler that processes ArchiveInput events.
func newHandler(archiver *ops.Archiver, locks jobLock, history jobHistory, workerID string, logger *slog.Logger) func(ctx context.Context, input ArchiveInput) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input ArchiveInput) (string, error) {
		now := input.ReferenceTime
		if now.IsZero() {
			now = time.Now().UTC()
		}

		lockID := fmt.Sprintf("error_archive:%s", now.Truncate(time.Hour).Format("2006-01-02T15"))
		acquired, err := locks.Acquire(ctx, lockID, workerID, lockTTL)
		if err != nil {
			return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "archival already running elsewhere", "lock_id", lockID)
			return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
		}

		jobID, err := history.Start(ctx, "error_archive")
		if err != nil {
			logger.WarnContext(ctx, "failed to record job start (continuing anyway)", "error", err)
			jobID = 0
		}

		archived, runErr := archiver.Run(ctx, now)

		if jobID != 0 {
			status := "success"
			if runErr != nil {
				status = "failed"
			}
			if err := history.Finish(ctx, jobID, status, archived, runErr); err != nil {
				logger.WarnContext(ctx, "failed to record job completion", "error", err)
			}
		}

		if runErr != nil {
			logger.ErrorContext(ctx, "error archival failed",
				"error", runErr,
				"archived_before_error", archived,
			)
			return "", fmt.Errorf("error archival failed: %w", runErr)
		}

		result := fmt.Sprintf("archival complete: %d error records moved to cold storage", archived)
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
