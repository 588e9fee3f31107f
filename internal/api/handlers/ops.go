package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"habitpulse/internal/types"
)

// List size bounds for the ops endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HealthReader is the ops handler's view of health snapshot storage.
type HealthReader interface {
	GetLatest(ctx context.Context) (*types.HealthSnapshot, error)
}

// ErrorReader is the ops handler's view of the error sink.
type ErrorReader interface {
	ListRecent(ctx context.Context, limit int) ([]types.ErrorRecord, error)
}

// AttemptReader is the ops handler's view of the delivery ledger.
type AttemptReader interface {
	ListAttempts(ctx context.Context, scheduleID string, limit int) ([]types.DeliveryAttempt, error)
}

// OpsHandler maps HTTP requests to the read-only operational queries.
type OpsHandler struct {
	health   HealthReader
	errors   ErrorReader
	attempts AttemptReader
	logger   *slog.Logger
}

// NewOpsHandler creates a new OpsHandler with the provided dependencies.
func NewOpsHandler(health HealthReader, errs ErrorReader, attempts AttemptReader, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{
		health:   health,
		errors:   errs,
		attempts: attempts,
		logger:   logger,
	}
}

// RegisterRoutes mounts the ops endpoints onto the mux.
func (h *OpsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health/latest", h.HandleLatestHealth)
	r.Get("/errors/recent", h.HandleRecentErrors)
	r.Get("/schedules/{scheduleID}/attempts", h.HandleScheduleAttempts)
}

// HandleLatestHealth handles GET /v1/health/latest.
func (h *OpsHandler) HandleLatestHealth(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.health.GetLatest(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: snapshot})
}

// HandleRecentErrors handles GET /v1/errors/recent. The optional limit query
// parameter is clamped to [1, 500].
func (h *OpsHandler) HandleRecentErrors(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		Error(w, r, err)
		return
	}

	records, err := h.errors.ListRecent(r.Context(), limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	if records == nil {
		records = []types.ErrorRecord{}
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: records})
}

// HandleScheduleAttempts handles GET /v1/schedules/{scheduleID}/attempts.
func (h *OpsHandler) HandleScheduleAttempts(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		Error(w, r, err)
		return
	}

	attempts, err := h.attempts.ListAttempts(r.Context(), scheduleID, limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []types.DeliveryAttempt{}
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: attempts})
}

// parseLimit parses the limit query parameter, applying the default and cap.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidParam,
			"limit must be a positive integer",
			nil,
		)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
