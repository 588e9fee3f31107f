// Package main is the entrypoint for the Reminder Scanner Lambda function.
//
// The Reminder Scanner runs every minute via an EventBridge rule. It queries
// for schedules whose fire time falls inside the scan window, dispatches each
// reminder through the messaging gateway, and advances every processed
// schedule to its next occurrence regardless of the dispatch outcome.
//
// This file handles dependency wiring (cold start) and delegates all business
// logic to internal/scheduler (Scanner.Scan).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"habitpulse/internal/config"
	"habitpulse/internal/db"
	"habitpulse/internal/delivery"
	"habitpulse/internal/gateway"
	"habitpulse/internal/scheduler"
	"habitpulse/internal/types"
)

func main() {
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	bootLogger.Info("ReminderScanner Lambda initializing (cold start)")

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
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

	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	metrics := delivery.NewCloudWatchMetrics(cwClient, cfg.AWS.MetricNamespace, types.NewSlogLogger(logger))

	gatewayClient := gateway.NewClient(gateway.ClientConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		Sender:     cfg.Gateway.Sender,
		HTTPClient: &http.Client{Timeout: cfg.Gateway.Timeout},
		Logger:     types.NewSlogLogger(logger),
	})

	scheduleRepo := db.NewScheduleRepository(pool)
	errorRepo := db.NewErrorSinkRepository(pool)

	dispatcher := delivery.NewDispatcher(delivery.DispatcherConfig{
		Ledger:     db.NewLedgerRepository(pool),
		Recipients: db.NewRecipientRepository(pool),
		Usage:      db.NewUsageRepository(pool),
		Gateway:    gatewayClient,
		Metrics:    metrics,
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

	logger.Info("ReminderScanner Lambda initialized",
		"scan_window", cfg.Scheduler.ScanWindow.String(),
		"scan_batch", cfg.Scheduler.ScanBatch,
		"max_concurrency", cfg.Scheduler.MaxConcurrency,
		"metric_namespace", cfg.AWS.MetricNamespace,
	)

	lambda.Start(newHandler(scanner, db.NewJobHistoryRepository(pool), logger))
}

// jobHistory is the handler's view of job run bookkeeping.
type jobHistory interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// newHandler creates the Lambda handler that processes ScanInput events. The
// job history write is best effort: bookkeeping failures never block the
// scan itself.
func newHandler(scanner *scheduler.Scanner, history jobHistory, logger *slog.Logger) func(ctx context.Context, input scheduler.ScanInput) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, input scheduler.ScanInput) (string, error) {
		logger.InfoContext(ctx, "ReminderScanner handler invoked",
			"reference_time", input.ReferenceTime,
			"limit", input.Limit,
		)

		jobID, err := history.Start(ctx, "reminder_scan")
		if err != nil {
			logger.WarnContext(ctx, "failed to record job start (continuing anyway)", "error", err)
			jobID = 0
		}

		summary, scanErr := scanner.Scan(ctx, input)

		if jobID != 0 {
			status := "success"
			if scanErr != nil {
				status = "failed"
			}
			if err := history.Finish(ctx, jobID, status, summary.Due, scanErr); err != nil {
				logger.WarnContext(ctx, "failed to record job completion", "error", err)
			}
		}

		if scanErr != nil {
			logger.ErrorContext(ctx, "scan cycle failed",
				"error", scanErr,
				"summary", summary.String(),
			)
			return "", fmt.Errorf("reminder scan failed: %w", scanErr)
		}

		result := fmt.Sprintf("scan complete: %s", summary)
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
