package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/momentum/internal/api/respond"
	"github.com/albapepper/momentum/internal/cache"
	"github.com/albapepper/momentum/internal/model"
)

const historyDays = 14

// PostEvent ingests an engagement event and runs the user's pass.
// @Summary Ingest engagement event
// @Description Stores the event, recomputes today's score, evaluates intervention rules and dispatches at most one notification. A delivery failure is reported in dispatch_error; the event is still stored.
// @Tags events
// @Accept json
// @Produce json
// @Param event body EventRequest true "Engagement event"
// @Success 201 {object} EvaluationResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /events [post]
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErr(w, err)
		return
	}
	ev := model.EngagementEvent{ID: req.ID, UserID: req.UserID, Type: model.EventType(req.EventType), Weight: req.Weight}
	if req.Timestamp != nil {
		ev.Timestamp = req.Timestamp.UTC()
	}

	_, res, err := h.Pipeline.Ingest(r.Context(), ev)
	if ev.UserID != "" {
		h.Cache.Delete(cache.MomentumKey(ev.UserID))
	}
	out := toEvaluation(res)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrTransportFailure):
		out.Error = err.Error()
	default:
		respond.WriteErr(w, err)
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, out)
}

// GetMomentum returns the latest score and recent history.
// @Summary Get momentum
// @Description Returns the user's latest daily score and the last 14 days of history.
// @Tags momentum
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} MomentumResponse
// @Success 304
// @Failure 404 {object} respond.ErrorResponse
// @Router /momentum/{userID} [get]
func (h *Handler) GetMomentum(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	cacheKey := cache.MomentumKey(userID)
	ttl := cache.TTLMomentum

	if data, etag, ok := h.Cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	today := model.Day(h.now())
	history, err := h.Scores.History(r.Context(), userID, today.AddDate(0, 0, -(historyDays-1)), today)
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	if len(history) == 0 {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("no momentum for %s", userID))
		return
	}

	out := MomentumResponse{UserID: userID, Latest: toScore(history[len(history)-1])}
	for _, s := range history {
		out.History = append(out.History, toScore(s))
	}
	raw, err := json.Marshal(out)
	if err != nil {
		respond.WriteErr(w, err)
		return
	}

	etag := h.Cache.Set(cacheKey, raw, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, raw, etag, ttl, false)
}

// RecomputeMomentum recomputes one day's score.
// @Summary Recompute momentum
// @Description Recomputes and stores the score for the given day (default today) without evaluating rules. Days before yesterday are closed and their stored score is returned unchanged.
// @Tags momentum
// @Produce json
// @Param userID path string true "User ID"
// @Param date query string false "Day (YYYY-MM-DD)"
// @Success 200 {object} ScoreResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /momentum/{userID}/recompute [post]
func (h *Handler) RecomputeMomentum(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	asOf := h.now().UTC()
	if d := r.URL.Query().Get("date"); d != "" {
		day, err := model.ParseDate(d)
		if err != nil {
			respond.WriteErr(w, err)
			return
		}
		if end := model.EndOfDay(day); end.Before(asOf) {
			asOf = end
		}
	}

	sc, err := h.Scores.ComputeDailyScore(r.Context(), userID, asOf)
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	h.Cache.Delete(cache.MomentumKey(userID))
	respond.WriteJSONObject(w, http.StatusOK, toScore(sc))
}
