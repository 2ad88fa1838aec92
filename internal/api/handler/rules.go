package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/momentum/internal/api/respond"
	"github.com/albapepper/momentum/internal/cache"
	"github.com/albapepper/momentum/internal/intervention"
)

type RuleResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Priority      int     `json:"priority"`
	CooldownHours float64 `json:"cooldown_hours"`
	MaxPerDay     int     `json:"max_per_day,omitempty"`
	WindowCap     int     `json:"window_cap,omitempty"`
	WindowHours   float64 `json:"window_hours,omitempty"`
	LookbackDays  int     `json:"lookback_days"`
	RequiresTrend bool    `json:"requires_trend"`
	TestName      string  `json:"test_name"`
}

func toRule(rule intervention.Rule) RuleResponse {
	return RuleResponse{
		ID:            rule.ID,
		Name:          rule.Name,
		Priority:      rule.Priority,
		CooldownHours: rule.Cooldown.Hours(),
		MaxPerDay:     rule.MaxPerDay,
		WindowCap:     rule.WindowCap,
		WindowHours:   rule.Window.Hours(),
		LookbackDays:  rule.Lookback,
		RequiresTrend: rule.RequiresTrend,
		TestName:      rule.TestName,
	}
}

// GetRules returns the configured intervention rules.
// Static for the life of the process, so it is cached for a day.
// @Summary List intervention rules
// @Description Returns every rule in priority order with its cooldown and caps.
// @Tags interventions
// @Produce json
// @Success 200 {array} RuleResponse
// @Router /rules [get]
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "rules"
	ttl := cache.TTLRules

	if data, etag, ok := h.Cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	var out []RuleResponse
	for _, rule := range h.Interventions.Rules() {
		out = append(out, toRule(rule))
	}
	raw, err := json.Marshal(out)
	if err != nil {
		respond.WriteErr(w, err)
		return
	}
	etag := h.Cache.Set(cacheKey, raw, ttl)
	respond.WriteJSON(w, raw, etag, ttl, false)
}

// GetRule returns one rule by id.
// @Summary Get intervention rule
// @Tags interventions
// @Produce json
// @Param ruleID path string true "Rule ID"
// @Success 200 {object} RuleResponse
// @Failure 404 {object} respond.ErrorResponse
// @Router /rules/{ruleID} [get]
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "ruleID")
	rule, ok := h.Interventions.Rule(id)
	if !ok {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown rule "+id)
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, toRule(rule))
}
