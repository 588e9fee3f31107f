package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"habitpulse/internal/types"
)

// Health aggregation windows and classification thresholds.
const (
	HealthStuckWindow   = time.Hour
	HealthErrorWindow   = 15 * time.Minute
	HealthAttemptWindow = time.Hour

	stuckCritical = 5
	errorCritical = 3
	rateCritical  = 85.0
	rateWarning   = 95.0
)

// HealthStore is the Monitor's view of persistence: the three aggregates it
// reads plus the snapshot table it appends to.
type HealthStore interface {
	// CountStuckSchedules counts active recurring schedules whose next fire
	// time is at or before cutoff.
	CountStuckSchedules(ctx context.Context, cutoff time.Time) (int, error)

	// CountErrorsSince counts error sink records created at or after since.
	CountErrorsSince(ctx context.Context, since time.Time) (int, error)

	// CountAttemptsSince returns sent and failed attempt counts created at or
	// after since.
	CountAttemptsSince(ctx context.Context, since time.Time) (sent, failed int, err error)

	// InsertHealthSnapshot appends one snapshot.
	InsertHealthSnapshot(ctx context.Context, snapshot *types.HealthSnapshot) error
}

// AlertPublisher forwards degraded snapshots to the ops alerting channel.
type AlertPublisher interface {
	PublishHealthAlert(ctx context.Context, snapshot types.HealthSnapshot) error
}

// Monitor computes, classifies, and persists periodic health snapshots of
// the reminder subsystem.
type Monitor struct {
	store  HealthStore
	alerts AlertPublisher
	logger *slog.Logger
}

// MonitorConfig holds the dependencies for creating a Monitor. Alerts may be
// nil; degraded snapshots are then only logged and persisted.
type MonitorConfig struct {
	Store  HealthStore
	Alerts AlertPublisher
	Logger *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		store:  cfg.Store,
		alerts: cfg.Alerts,
		logger: logger,
	}
}

// Check runs one health evaluation at the input's reference time (or now).
//
// It gathers three aggregates: schedules stuck for over an hour, error sink
// records from the last 15 minutes, and the delivery success rate over the
// last hour (100% when nothing was attempted; silence is not failure). The
// snapshot is classified critical when any critical threshold trips, warning
// when any aggregate is merely nonzero or the rate dips below 95%, healthy
// otherwise. Every snapshot is persisted; degraded ones are additionally
// published to the alerting channel.
func (m *Monitor) Check(ctx context.Context, input CheckInput) (types.HealthSnapshot, error) {
	now := input.ReferenceTime
	if now.IsZero() {
		now = time.Now().UTC()
	}

	stuck, err := m.store.CountStuckSchedules(ctx, now.Add(-HealthStuckWindow))
	if err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("counting stuck schedules: %w", err)
	}

	recentErrors, err := m.store.CountErrorsSince(ctx, now.Add(-HealthErrorWindow))
	if err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("counting recent errors: %w", err)
	}

	sent, failed, err := m.store.CountAttemptsSince(ctx, now.Add(-HealthAttemptWindow))
	if err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("counting delivery attempts: %w", err)
	}

	rate := 100.0
	if total := sent + failed; total > 0 {
		rate = float64(sent) / float64(total) * 100.0
	}

	snapshot := types.HealthSnapshot{
		ID:                         uuid.New().String(),
		Timestamp:                  now,
		StuckScheduleCount:         stuck,
		RecentErrorCount:           recentErrors,
		DeliverySuccessRatePercent: rate,
		OverallStatus:              classify(stuck, recentErrors, rate),
	}

	if err := m.store.InsertHealthSnapshot(ctx, &snapshot); err != nil {
		return types.HealthSnapshot{}, fmt.Errorf("persisting health snapshot: %w", err)
	}

	m.logSnapshot(snapshot)

	if snapshot.OverallStatus != types.HealthHealthy && m.alerts != nil {
		if err := m.alerts.PublishHealthAlert(ctx, snapshot); err != nil {
			// Alert delivery is best effort; the snapshot is already durable.
			m.logger.Error("failed to publish health alert",
				"status", string(snapshot.OverallStatus),
				"error", err,
			)
		}
	}

	return snapshot, nil
}

// classify maps the three aggregates onto the overall status. Critical
// checks run first; any single tripped threshold decides the tier.
func classify(stuck, recentErrors int, rate float64) types.HealthStatus {
	if stuck >= stuckCritical || recentErrors >= errorCritical || rate < rateCritical {
		return types.HealthCritical
	}
	if stuck > 0 || recentErrors > 0 || rate < rateWarning {
		return types.HealthWarning
	}
	return types.HealthHealthy
}

// logSnapshot logs the snapshot at a severity matching its status.
func (m *Monitor) logSnapshot(s types.HealthSnapshot) {
	args := []any{
		"status", string(s.OverallStatus),
		"stuck_schedules", s.StuckScheduleCount,
		"recent_errors", s.RecentErrorCount,
		"success_rate_percent", s.DeliverySuccessRatePercent,
	}
	switch s.OverallStatus {
	case types.HealthCritical:
		m.logger.Error("health check: critical", args...)
	case types.HealthWarning:
		m.logger.Warn("health check: warning", args...)
	default:
		m.logger.Info("health check: healthy", args...)
	}
}
