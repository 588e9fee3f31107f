package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"habitpulse/internal/delivery"
	"habitpulse/internal/types"
)

// ScannerStore is the Scanner's view of schedule persistence.
type ScannerStore interface {
	// GetDueSchedules returns active schedules whose next fire time falls in
	// [windowStart, windowEnd], oldest first, capped at limit.
	GetDueSchedules(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]types.Schedule, error)
}

// JobDispatcher delivers one due schedule. Satisfied by delivery.Dispatcher.
type JobDispatcher interface {
	Dispatch(ctx context.Context, schedule *types.Schedule, now time.Time) (delivery.Outcome, error)
}

// JobAdvancer moves a schedule past a serviced occurrence. Satisfied by
// Advancer.
type JobAdvancer interface {
	Advance(ctx context.Context, schedule *types.Schedule, now time.Time) error
}

// Scanner runs the due-job scan cycle: query the due window, dispatch each
// job, advance each schedule. One failing job never aborts the batch.
type Scanner struct {
	store      ScannerStore
	dispatcher JobDispatcher
	advancer   JobAdvancer
	window     time.Duration
	batchLimit int
	maxWorkers int
	logger     *slog.Logger
}

// ScannerConfig holds the dependencies for creating a Scanner.
type ScannerConfig struct {
	Store      ScannerStore
	Dispatcher JobDispatcher
	Advancer   JobAdvancer
	// Window is the lookback below the reference time; zero selects
	// DefaultScanWindow.
	Window time.Duration
	// BatchLimit caps schedules per invocation; zero selects DefaultScanBatch.
	BatchLimit int
	// MaxWorkers bounds concurrent dispatches; zero selects
	// DefaultMaxConcurrency.
	MaxWorkers int
	Logger     *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	window := cfg.Window
	if window <= 0 {
		window = DefaultScanWindow
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = DefaultScanBatch
	}
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		advancer:   cfg.Advancer,
		window:     window,
		batchLimit: batchLimit,
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

// Scan runs one due-job cycle at the input's reference time (or now). Every
// due schedule is dispatched and then advanced, unconditionally: sent,
// failed, skipped, and deduped all advance, so a slot is serviced at most
// once. Per-job errors are counted and isolated; only the initial due query
// can fail the whole cycle.
func (s *Scanner) Scan(ctx context.Context, input ScanInput) (CycleSummary, error) {
	now := input.ReferenceTime
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit := input.Limit
	if limit <= 0 {
		limit = s.batchLimit
	}

	windowStart := now.Add(-s.window)
	due, err := s.store.GetDueSchedules(ctx, windowStart, now, limit)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("querying due schedules: %w", err)
	}

	summary := CycleSummary{Due: len(due)}
	if len(due) == 0 {
		s.logger.Info("scan cycle complete, nothing due",
			"window_start", windowStart.Format(time.RFC3339),
			"window_end", now.Format(time.RFC3339),
		)
		return summary, nil
	}

	s.logger.Info("scan cycle starting",
		"due", len(due),
		"window_start", windowStart.Format(time.RFC3339),
		"window_end", now.Format(time.RFC3339),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)

	for i := range due {
		schedule := &due[i]
		g.Go(func() error {
			outcome, dispatchErr := s.dispatcher.Dispatch(gctx, schedule, now)
			if dispatchErr != nil {
				s.logger.Error("dispatch failed",
					"schedule_id", schedule.ID,
					"error", dispatchErr,
				)
			}

			// The advance happens no matter what the dispatch did. Failing
			// to send and re-sending later are worse than failing once.
			advanceErr := s.advancer.Advance(gctx, schedule, now)

			mu.Lock()
			defer mu.Unlock()
			if dispatchErr != nil || advanceErr != nil {
				summary.Errors++
			}
			switch outcome {
			case delivery.OutcomeSent:
				summary.Sent++
			case delivery.OutcomeFailed:
				summary.Failed++
			case delivery.OutcomeSkipped:
				summary.Skipped++
			case delivery.OutcomeDeduped:
				summary.Deduped++
			}
			return nil
		})
	}

	// Workers never return errors; isolation is the point.
	_ = g.Wait()

	s.logger.Info("scan cycle complete",
		"due", summary.Due,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"deduped", summary.Deduped,
		"errors", summary.Errors,
	)
	return summary, nil
}
