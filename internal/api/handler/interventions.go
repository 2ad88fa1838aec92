package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/momentum/internal/api/respond"
	"github.com/albapepper/momentum/internal/effectiveness"
	"github.com/albapepper/momentum/internal/model"
)

// EvaluateInterventions runs one evaluation pass on stored history.
// @Summary Evaluate interventions
// @Description Evaluates the user's rules against stored scores and dispatches at most one notification.
// @Tags interventions
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} EvaluationResponse
// @Failure 502 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /interventions/{userID}/evaluate [post]
func (h *Handler) EvaluateInterventions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	res, err := h.Pipeline.EvaluateUser(r.Context(), userID)
	out := toEvaluation(res)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrTransportFailure):
		out.Error = err.Error()
		respond.WriteJSONObject(w, http.StatusBadGateway, out)
		return
	default:
		respond.WriteErr(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, out)
}

// ListInterventions returns the user's intervention audit log.
// @Summary List intervention records
// @Description Returns sent, failed and suppressed records for the last N days (default 7), oldest first.
// @Tags interventions
// @Produce json
// @Param userID path string true "User ID"
// @Param days query int false "Days of history" default(7)
// @Success 200 {array} RecordResponse
// @Failure 400 {object} respond.ErrorResponse
// @Router /interventions/{userID} [get]
func (h *Handler) ListInterventions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	days := 7
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 365 {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_DAYS", "days must be between 1 and 365")
			return
		}
		days = n
	}

	recs, err := h.Interventions.Records(r.Context(), userID, h.now().UTC().AddDate(0, 0, -days))
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	out := make([]RecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecord(rec))
	}
	respond.WriteJSONObject(w, http.StatusOK, out)
}

// GetPreference returns the user's delivery preference.
// @Summary Get preference
// @Description Returns the user's delivery limits, creating defaults on first access.
// @Tags preferences
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} PreferenceResponse
// @Router /preferences/{userID} [get]
func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	pref, err := h.Interventions.Preference(r.Context(), chi.URLParam(r, "userID"), h.now().UTC())
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toPreference(pref))
}

// PutPreference stores an explicit user override.
// @Summary Set preference
// @Description Replaces the user's delivery limits. auto_optimized=false pins the values so the optimizer never changes them.
// @Tags preferences
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param preference body PreferenceRequest true "Preference"
// @Success 200 {object} PreferenceResponse
// @Failure 400 {object} respond.ErrorResponse
// @Router /preferences/{userID} [put]
func (h *Handler) PutPreference(w http.ResponseWriter, r *http.Request) {
	var req PreferenceRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErr(w, err)
		return
	}
	if err := validatePreference(req); err != nil {
		respond.WriteErr(w, err)
		return
	}

	pref := model.UserPreference{
		UserID:                 chi.URLParam(r, "userID"),
		MaxInterventionsPerDay: req.MaxInterventionsPerDay,
		PreferredHours:         req.PreferredHours,
		MinHoursBetween:        req.MinHoursBetween,
		AutoOptimized:          req.AutoOptimized,
		UpdatedAt:              h.now().UTC(),
	}
	if err := h.Store.SavePreference(r.Context(), pref); err != nil {
		respond.WriteErr(w, model.Unavailable("save preference", err))
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toPreference(pref))
}

func validatePreference(req PreferenceRequest) error {
	if req.MaxInterventionsPerDay < effectiveness.MinFrequency || req.MaxInterventionsPerDay > effectiveness.MaxFrequency {
		return fmt.Errorf("%w: max_interventions_per_day must be between %d and %d",
			model.ErrInvalidInput, effectiveness.MinFrequency, effectiveness.MaxFrequency)
	}
	if req.MinHoursBetween < 0 || req.MinHoursBetween > 24 {
		return fmt.Errorf("%w: min_hours_between must be between 0 and 24", model.ErrInvalidInput)
	}
	for _, h := range req.PreferredHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("%w: preferred hour %d out of range", model.ErrInvalidInput, h)
		}
	}
	return nil
}
