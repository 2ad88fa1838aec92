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

// PostFeedback records a notification feedback event.
// @Summary Record feedback
// @Description Records sent/opened/clicked/ignored feedback. With notification_id the test and variant are taken from the dispatch record.
// @Tags effectiveness
// @Accept json
// @Param feedback body FeedbackRequest true "Feedback"
// @Success 202
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /feedback [post]
func (h *Handler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.WriteErr(w, err)
		return
	}
	sample := model.EffectivenessSample{
		UserID:    req.UserID,
		TestName:  req.TestName,
		VariantID: req.VariantID,
		Event:     model.FeedbackEvent(req.Event),
	}
	if req.Timestamp != nil {
		sample.Timestamp = req.Timestamp.UTC()
	}

	if req.NotificationID != "" {
		rec, err := h.Store.InterventionByNotification(r.Context(), req.NotificationID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown notification "+req.NotificationID)
			return
		case err != nil:
			respond.WriteErr(w, model.Unavailable("load notification", err))
			return
		}
		sample.TestName, sample.VariantID = rec.TestName, rec.VariantID
	}
	if sample.TestName == "" || sample.VariantID == "" {
		respond.WriteErr(w, fmt.Errorf("%w: test_name and variant_id or notification_id required", model.ErrInvalidInput))
		return
	}

	if err := h.Tracker.RecordEvent(r.Context(), sample); err != nil {
		respond.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetEffectiveness returns a variant's effectiveness over the window.
// @Summary Variant effectiveness
// @Description Returns (opened + 2×clicked) / sent clipped to [0,1] over the rolling window, with the raw counts.
// @Tags effectiveness
// @Produce json
// @Param testName path string true "Test name"
// @Param variantID path string true "Variant ID"
// @Success 200 {object} EffectivenessResponse
// @Router /effectiveness/{testName}/{variantID} [get]
func (h *Handler) GetEffectiveness(w http.ResponseWriter, r *http.Request) {
	testName := chi.URLParam(r, "testName")
	variantID := chi.URLParam(r, "variantID")
	cacheKey := fmt.Sprintf("effectiveness:%s:%s", testName, variantID)
	ttl := cache.TTLEffectiveness

	if data, etag, ok := h.Cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	score, c, err := h.Tracker.GetEffectivenessScore(r.Context(), testName, variantID)
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	raw, err := json.Marshal(EffectivenessResponse{
		TestName: testName, VariantID: variantID, Score: score,
		Sent: c.Sent, Opened: c.Opened, Clicked: c.Clicked, Ignored: c.Ignored,
		Window: h.Config.EffectivenessWindowDays,
	})
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	etag := h.Cache.Set(cacheKey, raw, ttl)
	respond.WriteJSON(w, raw, etag, ttl, false)
}

// GetVariant returns the variant a user is assigned for a test.
// @Summary Variant assignment
// @Description Deterministic weighted assignment of a user to a content variant.
// @Tags effectiveness
// @Produce json
// @Param testName path string true "Test name"
// @Param userID path string true "User ID"
// @Success 200 {object} VariantResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /variants/{testName}/{userID} [get]
func (h *Handler) GetVariant(w http.ResponseWriter, r *http.Request) {
	testName := chi.URLParam(r, "testName")
	userID := chi.URLParam(r, "userID")
	cacheKey := cache.VariantKey(testName, userID)
	ttl := cache.TTLVariant

	if data, etag, ok := h.Cache.Get(cacheKey); ok {
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	variant, ok := h.Variants.Assign(userID, testName)
	if !ok {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown test "+testName)
		return
	}
	raw, err := json.Marshal(VariantResponse{TestName: testName, UserID: userID, VariantID: variant})
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	etag := h.Cache.Set(cacheKey, raw, ttl)
	respond.WriteJSON(w, raw, etag, ttl, false)
}
