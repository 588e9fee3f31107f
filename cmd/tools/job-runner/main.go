// Package main implements the job-runner CLI tool for invoking scheduler
// cycles directly, bypassing the AWS Lambda shim.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It wires the same dependencies as the Lambda
// entrypoints and dispatches to the matching service.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --job=scan
//	go run ./cmd/tools/job-runner --job=sweep --reference-time=2026-03-02T15:00:00Z
//	go run ./cmd/tools/job-runner --job=archive
//	go run ./cmd/tools/job-runner --list
//
// Configuration is read from environment variables (or a .env file via
// godotenv), exactly as in the deployed entrypoints. The tool acquires the
// distributed job lock and records job history, so it is safe to run against
// an environment with live triggers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"habitpulse/internal/config"
	"habitpulse/internal/db"
	"habitpulse/internal/delivery"
	"habitpulse/internal/gateway"
	"habitpulse/internal/ops"
	"habitpulse/internal/scheduler"
	"habitpulse/internal/types"
)

// validJobs is the exhaustive set of jobs the runner supports, mapped to
// their descriptions for --list.
var validJobs = map[string]string{
	"scan":    "Dispatch due reminders and advance their schedules",
	"sweep":   "Fast-forward stuck schedules without sending",
	"health":  "Aggregate and persist a health snapshot (alerting disabled)",
	"archive": "Move aged scheduler errors to S3 cold storage",
}

// lockTTL matches the deployed entrypoints so a CLI run and a live trigger
// contend for the same window.
const lockTTL = 10 * time.Minute

func main() {
	jobFlag := flag.String("job", "", "Job to execute (scan, sweep, health, archive)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-03-02T15:00:00Z)")
	limitFlag := flag.Int("limit", 0, "Override the batch limit (0 uses the configured default)")
	listFlag := flag.Bool("list", false, "List all available jobs and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke scheduler cycles directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available jobs.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableJobs()
		return
	}

	if *jobFlag == "" {
		fmt.Fprintf(os.Stderr, "error: --job is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, ok := validJobs[*jobFlag]; !ok {
		fmt.Fprintf(os.Stderr, "error: unknown job %q\n\n", *jobFlag)
		printAvailableJobs()
		os.Exit(1)
	}

	var refTime time.Time
	if *refTimeFlag != "" {
		t, err := time.Parse(time.RFC3339, *refTimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --reference-time %q: %v\n", *refTimeFlag, err)
			fmt.Fprintf(os.Stderr, "  expected RFC3339 format, e.g., 2026-03-02T15:00:00Z\n")
			os.Exit(1)
		}
		refTime = t.UTC()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeJob(ctx, *jobFlag, refTime, *limitFlag, logger)
	if err != nil {
		logger.Error("job execution failed",
			"job", *jobFlag,
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("job execution succeeded",
		"job", *jobFlag,
		"result", result,
	)
}

// executeJob wires the database and service dependencies, then runs one
// cycle. It mirrors the cold-start wiring and lock/history flow of the
// deployed entrypoints:
//  1. Load configuration and connect to the database.
//  2. Determine the reference time.
//  3. Acquire the distributed job lock.
//  4. Record job history start.
//  5. Dispatch to the matching service.
//  6. Record job history completion.
func executeJob(ctx context.Context, job string, refTime time.Time, limit int, logger *slog.Logger) (string, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return "", fmt.Errorf("loading configuration: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return "", err
	}
	defer pool.Close()

	logger.Info("database connection established")

	jobLockRepo := db.NewJobLockRepository(pool)
	jobHistoryRepo := db.NewJobHistoryRepository(pool)

	workerID := fmt.Sprintf("job-runner-%s", uuid.New().String())

	now := time.Now().UTC()
	if !refTime.IsZero() {
		now = refTime
	}

	logger.Info("executing job",
		"job", job,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", workerID,
	)

	lockID := fmt.Sprintf("%s:%s", job, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := jobLockRepo.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	logger.Info("job lock acquired", "lock_id", lockID)

	jobID, err := jobHistoryRepo.Start(ctx, job)
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	result, items, execErr := dispatch(ctx, job, now, limit, cfg, pool, logger)

	if jobID != 0 {
		status := "success"
		if execErr != nil {
			status = "failed"
		}
		if err := jobHistoryRepo.Finish(ctx, jobID, status, items, execErr); err != nil {
			logger.Warn("failed to record job completion", "error", err)
		}
	}

	if execErr != nil {
		return "", execErr
	}
	return result, nil
}

// dispatch builds the service for the requested job and runs it once.
func dispatch(ctx context.Context, job string, now time.Time, limit int, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (string, int, error) {
	scheduleRepo := db.NewScheduleRepository(pool)
	errorRepo := db.NewErrorSinkRepository(pool)
	ledgerRepo := db.NewLedgerRepository(pool)

	switch job {
	case "scan":
		gatewayClient := gateway.NewClient(gateway.ClientConfig{
			BaseURL:    cfg.Gateway.BaseURL,
			APIKey:     cfg.Gateway.APIKey,
			Sender:     cfg.Gateway.Sender,
			HTTPClient: &http.Client{Timeout: cfg.Gateway.Timeout},
			Logger:     types.NewSlogLogger(logger),
		})
		// CloudWatch metrics are deliberately not wired in the CLI; one
		// manual run should not pollute the production dashboards.
		dispatcher := delivery.NewDispatcher(delivery.DispatcherConfig{
			Ledger:     ledgerRepo,
			Recipients: db.NewRecipientRepository(pool),
			Usage:      db.NewUsageRepository(pool),
			Gateway:    gatewayClient,
			Logger:     types.NewSlogLogger(logger),
		})
		advancer := scheduler.NewAdvancer(scheduler.AdvancerConfig{
			Store:  scheduleRepo,
			Sink:   errorRepo,
			Logger: logger,
		})
		scanner := scheduler.NewScanner(scheduler.ScannerConfig{
			Store:      scheduleRepo,
			Dispatcher: dispatcher,
			Advancer:   advancer,
			Window:     cfg.Scheduler.ScanWindow,
			BatchLimit: cfg.Scheduler.ScanBatch,
			MaxWorkers: cfg.Scheduler.MaxConcurrency,
			Logger:     logger,
		})
		summary, err := scanner.Scan(ctx, scheduler.ScanInput{ReferenceTime: now, Limit: limit})
		return summary.String(), summary.Due, err

	case "sweep":
		recoverer := scheduler.NewRecoverer(scheduler.RecovererConfig{
			Store:          scheduleRepo,
			Ledger:         ledgerRepo,
			Sink:           errorRepo,
			StuckThreshold: cfg.Scheduler.StuckThreshold,
			BatchLimit:     cfg.Scheduler.SweepBatch,
			Logger:         logger,
		})
		summary, err := recoverer.Sweep(ctx, scheduler.SweepInput{ReferenceTime: now, Limit: limit})
		return summary.String(), summary.Stuck, err

	case "health":
		monitor := scheduler.NewMonitor(scheduler.MonitorConfig{
			Store: &monitorStore{
				schedules: scheduleRepo,
				errors:    errorRepo,
				ledger:    ledgerRepo,
				health:    db.NewHealthRepository(pool),
			},
			Logger: logger,
		})
		snapshot, err := monitor.Check(ctx, scheduler.CheckInput{ReferenceTime: now})
		if err != nil {
			return "", 0, err
		}
		return fmt.Sprintf("status=%s stuck=%d errors=%d success_rate=%.2f",
			snapshot.OverallStatus,
			snapshot.StuckScheduleCount,
			snapshot.RecentErrorCount,
			snapshot.DeliverySuccessRatePercent,
		), 1, nil

	case "archive":
		if cfg.AWS.ArchiveBucket == "" {
			return "", 0, fmt.Errorf("ARCHIVE_BUCKET is required for the archive job")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return "", 0, fmt.Errorf("loading AWS SDK config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				o.UsePathStyle = true
			}
		})
		archiver := ops.NewArchiver(ops.ArchiverConfig{
			Source:   errorRepo,
			Uploader: ops.NewS3Uploader(s3Client),
			Bucket:   cfg.AWS.ArchiveBucket,
			Age:      cfg.Scheduler.ArchiveAge,
			Batch:    cfg.Scheduler.ArchiveBatch,
			Logger:   logger,
		})
		archived, err := archiver.Run(ctx, now)
		return fmt.Sprintf("archived %d error records", archived), archived, err

	default:
		return "", 0, fmt.Errorf("unknown job %q", job)
	}
}

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

// printAvailableJobs lists the supported jobs in alphabetical order.
func printAvailableJobs() {
	names := make([]string, 0, len(validJobs))
	for name := range validJobs {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available jobs:")
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, validJobs[name])
	}
}
