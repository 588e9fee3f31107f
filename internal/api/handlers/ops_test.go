package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitpulse/internal/types"
)

type mockHealthReader struct {
	snapshot *types.HealthSnapshot
	err      error
}

func (m *mockHealthReader) GetLatest(_ context.Context) (*types.HealthSnapshot, error) {
	return m.snapshot, m.err
}

type mockErrorReader struct {
	records []types.ErrorRecord
	err     error
	limit   int
}

func (m *mockErrorReader) ListRecent(_ context.Context, limit int) ([]types.ErrorRecord, error) {
	m.limit = limit
	return m.records, m.err
}

type mockAttemptReader struct {
	attempts   []types.DeliveryAttempt
	err        error
	scheduleID string
}

func (m *mockAttemptReader) ListAttempts(_ context.Context, scheduleID string, _ int) ([]types.DeliveryAttempt, error) {
	m.scheduleID = scheduleID
	return m.attempts, m.err
}

func newTestRouter(health *mockHealthReader, errs *mockErrorReader, attempts *mockAttemptReader) chi.Router {
	h := NewOpsHandler(health, errs, attempts, nil)
	r := chi.NewRouter()
	r.Route("/v1", h.RegisterRoutes)
	return r
}

func TestHandleLatestHealth(t *testing.T) {
	health := &mockHealthReader{snapshot: &types.HealthSnapshot{
		ID:                         "hs_1",
		Timestamp:                  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		DeliverySuccessRatePercent: 100,
		OverallStatus:              types.HealthHealthy,
	}}
	router := newTestRouter(health, &mockErrorReader{}, &mockAttemptReader{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Data types.HealthSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hs_1", resp.Data.ID)
	assert.Equal(t, types.HealthHealthy, resp.Data.OverallStatus)
}

func TestHandleLatestHealth_NoneRecorded(t *testing.T) {
	health := &mockHealthReader{err: types.NewAppError(types.ErrCodeNotFoundSnapshot, "no health snapshot recorded yet", nil)}
	router := newTestRouter(health, &mockErrorReader{}, &mockAttemptReader{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health/latest", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_found_snapshot", resp.Error.Code)
}

func TestHandleRecentErrors(t *testing.T) {
	errs := &mockErrorReader{records: []types.ErrorRecord{
		{ID: "err_1", Kind: types.ErrKindAdvancePersist, RetriesExhausted: true},
	}}
	router := newTestRouter(&mockHealthReader{}, errs, &mockAttemptReader{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/errors/recent?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, errs.limit)

	var resp struct {
		Data []types.ErrorRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, types.ErrKindAdvancePersist, resp.Data[0].Kind)
}

func TestHandleRecentErrors_DefaultAndCappedLimit(t *testing.T) {
	errs := &mockErrorReader{}
	router := newTestRouter(&mockHealthReader{}, errs, &mockAttemptReader{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/errors/recent", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultListLimit, errs.limit)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/errors/recent?limit=9999", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxListLimit, errs.limit)
}

func TestHandleRecentErrors_InvalidLimit(t *testing.T) {
	router := newTestRouter(&mockHealthReader{}, &mockErrorReader{}, &mockAttemptReader{})

	for _, raw := range []string{"abc", "0", "-5"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/errors/recent?limit="+raw, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)
	}
}

func TestHandleRecentErrors_EmptyListIsNotNull(t *testing.T) {
	router := newTestRouter(&mockHealthReader{}, &mockErrorReader{}, &mockAttemptReader{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/errors/recent", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestHandleScheduleAttempts(t *testing.T) {
	attempts := &mockAttemptReader{attempts: []types.DeliveryAttempt{
		{ID: "att_1", ScheduleID: "sch_1", Outcome: types.AttemptSent},
	}}
	router := newTestRouter(&mockHealthReader{}, &mockErrorReader{}, attempts)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schedules/sch_1/attempts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sch_1", attempts.scheduleID)
}

func TestErrorResponse_GenericErrorNotLeaked(t *testing.T) {
	health := &mockHealthReader{err: errors.New("pq: password authentication failed")}
	router := newTestRouter(health, &mockErrorReader{}, &mockAttemptReader{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health/latest", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), "an unexpected error occurred")
}
