package scheduler

import (
	"context"
	"sync"
	"time"

	"habitpulse/internal/delivery"
	"habitpulse/internal/types"
)

type updateCall struct {
	scheduleID string
	prev       time.Time
	next       time.Time
	attemptAt  time.Time
}

// mockScheduleStore satisfies AdvancerStore, RecovererStore, and
// ScannerStore.
type mockScheduleStore struct {
	mu sync.Mutex

	due    []types.Schedule
	dueErr error

	stuck    []types.Schedule
	stuckErr error

	updateCalls []updateCall
	failUpdates int // first N UpdateNextFireTime calls return updateErr
	updateErr   error
	casMiss     bool // applied=false on every successful call

	archiveCalls []string
	failArchives int
	archiveErr   error

	dueLimit int
}

func (m *mockScheduleStore) GetDueSchedules(_ context.Context, _, _ time.Time, limit int) ([]types.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dueLimit = limit
	return m.due, m.dueErr
}

func (m *mockScheduleStore) ListStuckSchedules(_ context.Context, _ time.Time, _ int) ([]types.Schedule, error) {
	return m.stuck, m.stuckErr
}

func (m *mockScheduleStore) UpdateNextFireTime(_ context.Context, scheduleID string, prev, next, attemptAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls = append(m.updateCalls, updateCall{scheduleID, prev, next, attemptAt})
	if m.failUpdates > 0 {
		m.failUpdates--
		return false, m.updateErr
	}
	return !m.casMiss, nil
}

func (m *mockScheduleStore) ArchiveSchedule(_ context.Context, scheduleID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveCalls = append(m.archiveCalls, scheduleID)
	if m.failArchives > 0 {
		m.failArchives--
		return m.archiveErr
	}
	return nil
}

// fakeScheduleStore keeps schedules in memory so an advance persisted by one
// scan is visible to the next. Satisfies ScannerStore and AdvancerStore.
type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]*types.Schedule
}

func (f *fakeScheduleStore) GetDueSchedules(_ context.Context, windowStart, windowEnd time.Time, limit int) ([]types.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []types.Schedule
	for _, s := range f.schedules {
		if s.Status != types.ScheduleActive {
			continue
		}
		if s.NextFireAt.Before(windowStart) || s.NextFireAt.After(windowEnd) {
			continue
		}
		due = append(due, *s)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeScheduleStore) UpdateNextFireTime(_ context.Context, scheduleID string, prev, next, attemptAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleID]
	if !ok || !s.NextFireAt.Equal(prev) {
		return false, nil
	}
	s.NextFireAt = next
	s.LastFireAttemptAt = &attemptAt
	return true, nil
}

func (f *fakeScheduleStore) ArchiveSchedule(_ context.Context, scheduleID string, attemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.schedules[scheduleID]; ok {
		s.Status = types.ScheduleArchived
		s.LastFireAttemptAt = &attemptAt
	}
	return nil
}

type mockSink struct {
	mu      sync.Mutex
	records []*types.ErrorRecord
	err     error
}

func (m *mockSink) Record(_ context.Context, record *types.ErrorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

type mockJobDispatcher struct {
	mu       sync.Mutex
	outcomes map[string]delivery.Outcome // per schedule ID; default sent
	errs     map[string]error
	calls    []string
}

func (m *mockJobDispatcher) Dispatch(_ context.Context, schedule *types.Schedule, _ time.Time) (delivery.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, schedule.ID)
	if err, ok := m.errs[schedule.ID]; ok {
		return delivery.OutcomeFailed, err
	}
	if outcome, ok := m.outcomes[schedule.ID]; ok {
		return outcome, nil
	}
	return delivery.OutcomeSent, nil
}

type mockJobAdvancer struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (m *mockJobAdvancer) Advance(_ context.Context, schedule *types.Schedule, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, schedule.ID)
	return m.errs[schedule.ID]
}

type mockAttemptChecker struct {
	has   map[string]bool // keyed by schedule ID
	err   error
	calls int
}

func (m *mockAttemptChecker) HasAttempt(_ context.Context, scheduleID string, _ time.Time) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.has[scheduleID], nil
}

type mockHealthStore struct {
	stuck     int
	stuckErr  error
	errors    int
	errorsErr error
	sent      int
	failed    int
	countErr  error

	snapshots []*types.HealthSnapshot
	insertErr error
}

func (m *mockHealthStore) CountStuckSchedules(_ context.Context, _ time.Time) (int, error) {
	return m.stuck, m.stuckErr
}

func (m *mockHealthStore) CountErrorsSince(_ context.Context, _ time.Time) (int, error) {
	return m.errors, m.errorsErr
}

func (m *mockHealthStore) CountAttemptsSince(_ context.Context, _ time.Time) (int, int, error) {
	return m.sent, m.failed, m.countErr
}

func (m *mockHealthStore) InsertHealthSnapshot(_ context.Context, snapshot *types.HealthSnapshot) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.snapshots = append(m.snapshots, snapshot)
	return nil
}

type mockAlertPublisher struct {
	published []types.HealthSnapshot
	err       error
}

func (m *mockAlertPublisher) PublishHealthAlert(_ context.Context, snapshot types.HealthSnapshot) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, snapshot)
	return nil
}

// noSleep records backoff delays without sleeping.
type noSleep struct {
	delays []time.Duration
}

func (n *noSleep) sleep(d time.Duration) {
	n.delays = append(n.delays, d)
}

func dailySchedule(id string, nextFireAt time.Time) types.Schedule {
	return types.Schedule{
		ID:              id,
		OwnerID:         "owner_" + id,
		RecipientID:     "rcpt_" + id,
		Label:           "Morning run",
		Frequency:       types.Frequency{Kind: types.FrequencyDaily},
		AnchorTimeOfDay: types.TimeOfDayFrom(nextFireAt),
		NextFireAt:      nextFireAt,
		Status:          types.ScheduleActive,
	}
}
