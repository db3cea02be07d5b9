package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/replyhq/metering/pkg/metering"
)

// Handler exposes the metering engine over HTTP for the dashboard and the
// email/AI pipelines.
type Handler struct {
	svc   metering.Service
	cache *SummaryCache // nil disables caching
	log   *slog.Logger
}

// NewHandler creates a Handler. cache may be nil.
func NewHandler(svc metering.Service, cache *SummaryCache, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{svc: svc, cache: cache, log: log}
}

// metric names used in URLs, mapped to their check and increment operations.
const (
	metricEmailsSent     = "emails_sent"
	metricEmailsReceived = "emails_received"
	metricAISuggestions  = "ai_suggestions"
)

func (h *Handler) userID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "userID"))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if h.cache != nil {
		if sum, ok := h.cache.Get(r.Context(), userID); ok {
			respondJSON(w, http.StatusOK, sum)
			return
		}
	}

	sum, err := h.svc.UsageSummary(r.Context(), userID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "usage summary failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load usage summary")
		return
	}

	if h.cache != nil {
		h.cache.Set(r.Context(), userID, sum)
	}

	respondJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	history, err := h.svc.UsageHistory(r.Context(), userID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "usage history failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load usage history")
		return
	}

	respondJSON(w, http.StatusOK, history)
}

func (h *Handler) handleLimitCheck(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var result *metering.LimitCheckResult
	switch chi.URLParam(r, "metric") {
	case metricEmailsSent:
		result, err = h.svc.CanSendEmail(r.Context(), userID)
	case metricEmailsReceived:
		result, err = h.svc.CanReceiveEmail(r.Context(), userID)
	case metricAISuggestions:
		result, err = h.svc.CanUseAI(r.Context(), userID)
	default:
		respondError(w, http.StatusNotFound, "unknown metric")
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "limit check failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to check limit")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleIncrement(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var rec *metering.UsageRecord
	switch chi.URLParam(r, "metric") {
	case metricEmailsSent:
		rec, err = h.svc.IncrementEmailSent(r.Context(), userID)
	case metricEmailsReceived:
		rec, err = h.svc.IncrementEmailReceived(r.Context(), userID)
	case metricAISuggestions:
		rec, err = h.svc.IncrementAISuggestion(r.Context(), userID)
	default:
		respondError(w, http.StatusNotFound, "unknown metric")
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, metering.ErrTrialExpired):
		// The pipelines translate this into an "upgrade your plan" prompt.
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":            "trial_expired",
			"upgrade_required": true,
		})
		return
	default:
		h.log.ErrorContext(r.Context(), "usage increment failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to record usage")
		return
	}

	// The counter moved after the increment landed, so the cached summary is
	// stale; drop it instead of waiting out the TTL.
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), userID)
	}

	respondJSON(w, http.StatusOK, rec)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
