// Package intervention decides which notification, if any, a user should
// receive after a score change.
//
// Each rule moves through Idle → Eligible → Cooling. A rule is Eligible when
// its predicate matches the score history and it is not Cooling; Cooling is
// derived from the sent InterventionRecords (cooldown, per-rule daily cap and
// rolling window cap), so the audit log is the only state. Eligible rules are
// then gated by the user's preferred hours and delivery rate limits. At most
// one request, the highest-priority eligible rule, leaves an evaluation pass.
package intervention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

// RuleState is a rule's position in its lifecycle for one pass.
type RuleState string

const (
	StateIdle     RuleState = "idle"
	StateEligible RuleState = "eligible"
	StateCooling  RuleState = "cooling"
)

// Suppression reasons recorded on suppressed records.
const (
	ReasonMaxPerDay       = "max_interventions_per_day"
	ReasonMinHoursBetween = "min_hours_between"
)

// Store is the slice of the persistence layer the engine touches.
type Store interface {
	store.ScoreStore
	store.PreferenceStore
	store.InterventionStore
}

// Evaluation is the outcome of one pass for one user.
type Evaluation struct {
	UserID     string
	States     map[string]RuleState
	Requests   []model.InterventionRequest // zero or one
	Suppressed []model.InterventionRecord
	Deferred   []string // eligible rule ids held back by preferred hours
	Errors     []error  // absorbed *model.RuleEvaluationError values
}

type Engine struct {
	store    Store
	rules    []Rule
	defaults config.Interventions
	logger   *slog.Logger
}

// NewEngine sorts rules by descending priority; ties keep their order.
func NewEngine(st Store, rules []Rule, defaults config.Interventions, logger *slog.Logger) *Engine {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	return &Engine{store: st, rules: sorted, defaults: defaults, logger: logger}
}

// Rules returns the configured rules in priority order.
func (e *Engine) Rules() []Rule { return e.rules }

// Rule looks up a rule by id.
func (e *Engine) Rule(id string) (Rule, bool) {
	for _, r := range e.rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// historyDays is the longest lookback any rule needs.
func (e *Engine) historyDays() int {
	n := 1
	for _, r := range e.rules {
		n = max(n, r.Lookback)
	}
	return n
}

// recordWindow is how far back sent records can affect a pass.
func (e *Engine) recordWindow() time.Duration {
	w := 24 * time.Hour
	for _, r := range e.rules {
		w = max(w, r.Cooldown, r.Window)
	}
	return w
}

// EvaluateUser loads the user's recent history and evaluates it at now.
func (e *Engine) EvaluateUser(ctx context.Context, userID string, now time.Time) (Evaluation, error) {
	today := model.Day(now)
	h, err := e.store.ScoreHistory(ctx, userID, today.AddDate(0, 0, -(e.historyDays()-1)), today)
	if err != nil {
		return Evaluation{UserID: userID}, model.Unavailable("load score history", err)
	}
	return e.Evaluate(ctx, userID, History(h), now)
}

// Evaluate runs one pass over history. Suppressed records are appended
// here; the returned request's sent or failed record is appended by the
// dispatcher. Callers serialize passes per user.
func (e *Engine) Evaluate(ctx context.Context, userID string, history History, now time.Time) (Evaluation, error) {
	now = now.UTC()
	ev := Evaluation{UserID: userID, States: make(map[string]RuleState, len(e.rules))}

	pref, err := e.Preference(ctx, userID, now)
	if err != nil {
		return ev, err
	}
	records, err := e.store.InterventionsSince(ctx, userID, now.Add(-e.recordWindow()))
	if err != nil {
		return ev, model.Unavailable("load intervention records", err)
	}
	sent := sentRecords(records)

	var eligible []Rule
	reasons := make(map[string]string)
	for _, r := range e.rules {
		state, reason, err := e.ruleState(r, history, sent, now)
		if err != nil {
			e.logger.Warn("Rule evaluation failed", "user_id", userID, "rule_id", r.ID, "error", err)
			ev.Errors = append(ev.Errors, err)
		}
		ev.States[r.ID] = state
		if state == StateEligible {
			eligible = append(eligible, r)
			reasons[r.ID] = reason
		}
	}
	if len(eligible) == 0 {
		return ev, nil
	}

	if !pref.AllowsHour(now.Hour()) {
		for _, r := range eligible {
			ev.Deferred = append(ev.Deferred, r.ID)
		}
		e.logger.Info("Interventions deferred outside preferred hours",
			"user_id", userID, "hour", now.Hour(), "rules", ev.Deferred)
		return ev, nil
	}

	if reason := rateLimited(pref, sent, now); reason != "" {
		for _, r := range eligible {
			if suppressedRecently(r, records, now) {
				continue
			}
			rec := model.InterventionRecord{
				ID:       uuid.NewString(),
				UserID:   userID,
				RuleID:   r.ID,
				FiredAt:  now,
				Outcome:  model.OutcomeSuppressed,
				TestName: r.TestName,
				Reason:   reason,
			}
			if err := e.store.AppendIntervention(ctx, rec); err != nil {
				return ev, model.Unavailable("record suppression", err)
			}
			ev.Suppressed = append(ev.Suppressed, rec)
		}
		if len(ev.Suppressed) > 0 {
			e.logger.Info("Interventions suppressed",
				"user_id", userID, "reason", reason, "count", len(ev.Suppressed))
		}
		return ev, nil
	}

	top := eligible[0]
	today, _ := history.Today()
	ev.Requests = []model.InterventionRequest{{
		UserID:   userID,
		RuleID:   top.ID,
		Priority: top.Priority,
		TestName: top.TestName,
		Zone:     today.Zone,
		Score:    today.RawScore,
		Reason:   reasons[top.ID],
		FiredAt:  now,
	}}
	return ev, nil
}

// ruleState evaluates one rule. A failing predicate leaves the rule Idle
// and is returned as a *model.RuleEvaluationError.
func (e *Engine) ruleState(r Rule, h History, sent []model.InterventionRecord, now time.Time) (RuleState, string, error) {
	if _, ok := h.Today(); !ok {
		return StateIdle, "", nil
	}
	if r.RequiresTrend && h.anyInsufficient(r.Lookback) {
		return StateIdle, "", nil
	}

	ok, reason, err := safePredicate(r, h)
	if err != nil || !ok {
		return StateIdle, "", err
	}
	if cooling(r, sent, now) {
		return StateCooling, reason, nil
	}
	return StateEligible, reason, nil
}

func safePredicate(r Rule, h History) (ok bool, reason string, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, reason = false, ""
			err = &model.RuleEvaluationError{RuleID: r.ID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if r.Predicate == nil {
		return false, "", &model.RuleEvaluationError{RuleID: r.ID, Err: errors.New("no predicate")}
	}
	ok, reason = r.Predicate(h)
	return ok, reason, nil
}

// cooling reports whether r fired recently enough to be held back.
func cooling(r Rule, sent []model.InterventionRecord, now time.Time) bool {
	var lastFired time.Time
	inDay, inWindow := 0, 0
	for _, rec := range sent {
		if rec.RuleID != r.ID {
			continue
		}
		if rec.FiredAt.After(lastFired) {
			lastFired = rec.FiredAt
		}
		age := now.Sub(rec.FiredAt)
		if age < 24*time.Hour {
			inDay++
		}
		if r.Window > 0 && age < r.Window {
			inWindow++
		}
	}
	if r.Cooldown > 0 && !lastFired.IsZero() && now.Sub(lastFired) < r.Cooldown {
		return true
	}
	if r.MaxPerDay > 0 && inDay >= r.MaxPerDay {
		return true
	}
	return r.WindowCap > 0 && inWindow >= r.WindowCap
}

// suppressedRecently reports whether r already has a suppressed record
// inside its cooldown, or inside 24h for rules without one. Repeated
// sweeps under the same limit then leave a single record.
func suppressedRecently(r Rule, records []model.InterventionRecord, now time.Time) bool {
	window := r.Cooldown
	if window <= 0 {
		window = 24 * time.Hour
	}
	for _, rec := range records {
		if rec.RuleID == r.ID && rec.Outcome == model.OutcomeSuppressed && now.Sub(rec.FiredAt) < window {
			return true
		}
	}
	return false
}

// rateLimited checks the user's cross-rule delivery limits.
func rateLimited(pref model.UserPreference, sent []model.InterventionRecord, now time.Time) string {
	var lastSent time.Time
	inDay := 0
	for _, rec := range sent {
		if now.Sub(rec.FiredAt) < 24*time.Hour {
			inDay++
		}
		if rec.FiredAt.After(lastSent) {
			lastSent = rec.FiredAt
		}
	}
	if inDay >= pref.MaxInterventionsPerDay {
		return ReasonMaxPerDay
	}
	minGap := time.Duration(pref.MinHoursBetween) * time.Hour
	if !lastSent.IsZero() && now.Sub(lastSent) < minGap {
		return ReasonMinHoursBetween
	}
	return ""
}

func sentRecords(records []model.InterventionRecord) []model.InterventionRecord {
	var out []model.InterventionRecord
	for _, r := range records {
		if r.Outcome == model.OutcomeSent {
			out = append(out, r)
		}
	}
	return out
}

// Preference returns the user's delivery preference, creating it with
// defaults on first use.
func (e *Engine) Preference(ctx context.Context, userID string, now time.Time) (model.UserPreference, error) {
	pref, err := e.store.GetPreference(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return pref, model.Unavailable("load preference", err)
	}

	pref = model.UserPreference{
		UserID:                 userID,
		MaxInterventionsPerDay: e.defaults.DefaultMaxPerDay,
		PreferredHours:         append([]int(nil), e.defaults.DefaultPreferredHours...),
		MinHoursBetween:        e.defaults.DefaultMinHoursBetween,
		AutoOptimized:          true,
		UpdatedAt:              now,
	}
	if err := e.store.SavePreference(ctx, pref); err != nil {
		return pref, model.Unavailable("create preference", err)
	}
	e.logger.Info("Preference created with defaults", "user_id", userID)
	return pref, nil
}

// Records returns the user's intervention audit log since since.
func (e *Engine) Records(ctx context.Context, userID string, since time.Time) ([]model.InterventionRecord, error) {
	recs, err := e.store.InterventionsSince(ctx, userID, since)
	if err != nil {
		return nil, model.Unavailable("load intervention records", err)
	}
	return recs, nil
}
