package handler

import (
	"encoding/json"
	"time"

	"github.com/albapepper/momentum/internal/deeplink"
	"github.com/albapepper/momentum/internal/intervention"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/notifications"
	"github.com/albapepper/momentum/internal/pipeline"
)

// JSON shapes. Times are RFC 3339 UTC, dates YYYY-MM-DD.

type EventRequest struct {
	ID        string     `json:"id,omitempty"`
	UserID    string     `json:"user_id"`
	EventType string     `json:"event_type"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Weight    float64    `json:"weight,omitempty"`
}

type ScoreResponse struct {
	UserID              string         `json:"user_id"`
	Date                string         `json:"date"`
	RawScore            float64        `json:"raw_score"`
	Zone                model.Zone     `json:"zone"`
	InsufficientHistory bool           `json:"insufficient_history"`
	EventsCount         int            `json:"events_count"`
	CountedByType       map[string]int `json:"counted_by_type,omitempty"`
	DecayedSum          float64        `json:"decayed_sum"`
	SmoothedSum         float64        `json:"smoothed_sum"`
	AlgorithmVersion    string         `json:"algorithm_version"`
	ComputedAt          time.Time      `json:"computed_at"`
}

func toScore(s model.DailyScore) ScoreResponse {
	var counted map[string]int
	if len(s.CountedByType) > 0 {
		counted = make(map[string]int, len(s.CountedByType))
		for t, n := range s.CountedByType {
			counted[string(t)] = n
		}
	}
	return ScoreResponse{
		UserID:              s.UserID,
		Date:                model.DateString(s.Date),
		RawScore:            s.RawScore,
		Zone:                s.Zone,
		InsufficientHistory: s.InsufficientHistory,
		EventsCount:         s.EventsCount,
		CountedByType:       counted,
		DecayedSum:          s.DecayedSum,
		SmoothedSum:         s.SmoothedSum,
		AlgorithmVersion:    s.AlgorithmVersion,
		ComputedAt:          s.ComputedAt,
	}
}

type MomentumResponse struct {
	UserID  string          `json:"user_id"`
	Latest  ScoreResponse   `json:"latest"`
	History []ScoreResponse `json:"history"`
}

type DispatchResponse struct {
	NotificationID string        `json:"notification_id"`
	Outcome        model.Outcome `json:"outcome"`
	TestName       string        `json:"test_name,omitempty"`
	VariantID      string        `json:"variant_id,omitempty"`
	Title          string        `json:"title,omitempty"`
	Body           string        `json:"body,omitempty"`
	ActionType     string        `json:"action_type,omitempty"`
	Attempts       int           `json:"attempts"`
}

func toDispatch(d notifications.DispatchResult) DispatchResponse {
	out := DispatchResponse{
		NotificationID: d.NotificationID,
		Outcome:        d.Outcome,
		TestName:       d.TestName,
		VariantID:      d.VariantID,
		Title:          d.Content.Title,
		Body:           d.Content.Body,
		Attempts:       d.Attempts,
	}
	if d.Content.Action != nil {
		out.ActionType = string(d.Content.Action.ActionType())
	}
	return out
}

type RecordResponse struct {
	ID             string        `json:"id"`
	RuleID         string        `json:"rule_id"`
	FiredAt        time.Time     `json:"fired_at"`
	NotificationID string        `json:"notification_id,omitempty"`
	Outcome        model.Outcome `json:"outcome"`
	TestName       string        `json:"test_name,omitempty"`
	VariantID      string        `json:"variant_id,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

func toRecord(r model.InterventionRecord) RecordResponse {
	return RecordResponse{
		ID: r.ID, RuleID: r.RuleID, FiredAt: r.FiredAt, NotificationID: r.NotificationID,
		Outcome: r.Outcome, TestName: r.TestName, VariantID: r.VariantID, Reason: r.Reason,
	}
}

type EvaluationResponse struct {
	UserID     string                            `json:"user_id"`
	Score      *ScoreResponse                    `json:"score,omitempty"`
	States     map[string]intervention.RuleState `json:"states"`
	Suppressed []RecordResponse                  `json:"suppressed"`
	Deferred   []string                          `json:"deferred"`
	Dispatched []DispatchResponse                `json:"dispatched"`
	RuleErrors []string                          `json:"rule_errors,omitempty"`
	Error      string                            `json:"dispatch_error,omitempty"`
}

func toEvaluation(res pipeline.Result) EvaluationResponse {
	out := EvaluationResponse{
		UserID:     res.UserID,
		States:     res.Evaluation.States,
		Suppressed: []RecordResponse{},
		Deferred:   []string{},
		Dispatched: []DispatchResponse{},
	}
	if res.Score != nil {
		s := toScore(*res.Score)
		out.Score = &s
	}
	for _, r := range res.Evaluation.Suppressed {
		out.Suppressed = append(out.Suppressed, toRecord(r))
	}
	out.Deferred = append(out.Deferred, res.Evaluation.Deferred...)
	for _, d := range res.Dispatched {
		out.Dispatched = append(out.Dispatched, toDispatch(d))
	}
	for _, err := range res.Evaluation.Errors {
		out.RuleErrors = append(out.RuleErrors, err.Error())
	}
	return out
}

type PreferenceRequest struct {
	MaxInterventionsPerDay int   `json:"max_interventions_per_day"`
	PreferredHours         []int `json:"preferred_hours"`
	MinHoursBetween        int   `json:"min_hours_between"`
	AutoOptimized          bool  `json:"auto_optimized"`
}

type PreferenceResponse struct {
	UserID                 string    `json:"user_id"`
	MaxInterventionsPerDay int       `json:"max_interventions_per_day"`
	PreferredHours         []int     `json:"preferred_hours"`
	MinHoursBetween        int       `json:"min_hours_between"`
	AutoOptimized          bool      `json:"auto_optimized"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func toPreference(p model.UserPreference) PreferenceResponse {
	hours := p.PreferredHours
	if hours == nil {
		hours = []int{}
	}
	return PreferenceResponse{
		UserID: p.UserID, MaxInterventionsPerDay: p.MaxInterventionsPerDay, PreferredHours: hours,
		MinHoursBetween: p.MinHoursBetween, AutoOptimized: p.AutoOptimized, UpdatedAt: p.UpdatedAt,
	}
}

type DeepLinkRequest struct {
	ActionID           string          `json:"action_id,omitempty"`
	UserID             string          `json:"user_id"`
	ActionType         string          `json:"action_type"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	NotificationID     string          `json:"notification_id,omitempty"`
	UIContextAvailable bool            `json:"ui_context_available"`
}

type ActionResponse struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ActionType     model.ActionType  `json:"action_type"`
	Payload        any               `json:"payload"`
	NotificationID string            `json:"notification_id,omitempty"`
	State          model.ActionState `json:"state"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type RouteResponse struct {
	Action    *ActionResponse `json:"action,omitempty"`
	Executed  bool            `json:"executed"`
	Deferred  bool            `json:"deferred"`
	AwayCount int             `json:"away_count"`
	Notice    string          `json:"notice,omitempty"`
}

func toRoute(res deeplink.RouteResult) RouteResponse {
	out := RouteResponse{Executed: res.Executed, Deferred: res.Deferred, AwayCount: res.AwayCount, Notice: res.Notice}
	if res.Action.ID != "" {
		a := toAction(res.Action)
		out.Action = &a
	}
	return out
}

func toAction(a model.DeepLinkAction) ActionResponse {
	return ActionResponse{
		ID: a.ID, UserID: a.UserID, ActionType: a.Type(), Payload: a.Payload,
		NotificationID: a.NotificationID, State: a.State, Error: a.Error,
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

type FeedbackRequest struct {
	UserID         string     `json:"user_id"`
	NotificationID string     `json:"notification_id,omitempty"`
	TestName       string     `json:"test_name,omitempty"`
	VariantID      string     `json:"variant_id,omitempty"`
	Event          string     `json:"event"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

type EffectivenessResponse struct {
	TestName  string  `json:"test_name"`
	VariantID string  `json:"variant_id"`
	Score     float64 `json:"score"`
	Sent      int     `json:"sent"`
	Opened    int     `json:"opened"`
	Clicked   int     `json:"clicked"`
	Ignored   int     `json:"ignored"`
	Window    int     `json:"window_days"`
}

type VariantResponse struct {
	TestName  string `json:"test_name"`
	UserID    string `json:"user_id"`
	VariantID string `json:"variant_id"`
}
