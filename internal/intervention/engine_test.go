package intervention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

// day0 is the first day of every synthetic history; passes run at noon.
var day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func noon(day int) time.Time {
	return day0.AddDate(0, 0, day).Add(12 * time.Hour)
}

func testEngine(t *testing.T, rules []Rule) (*Engine, *store.SQLite) {
	t.Helper()
	st, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(st, rules, config.DefaultInterventions(), logger), st
}

func zoneFor(score float64) model.Zone {
	switch {
	case score >= 70:
		return model.ZoneRising
	case score >= 45:
		return model.ZoneSteady
	}
	return model.ZoneNeedsCare
}

// history builds consecutive daily scores starting at day0.
func history(user string, scores ...float64) History {
	h := make(History, len(scores))
	for i, s := range scores {
		h[i] = model.DailyScore{
			UserID:   user,
			Date:     day0.AddDate(0, 0, i),
			RawScore: s,
			Zone:     zoneFor(s),
		}
	}
	return h
}

// markSent appends the sent record the dispatcher would write.
func markSent(t *testing.T, st *store.SQLite, req model.InterventionRequest) {
	t.Helper()
	rec := model.InterventionRecord{
		ID:             "rec-" + req.RuleID + "-" + req.FiredAt.Format(time.RFC3339),
		UserID:         req.UserID,
		RuleID:         req.RuleID,
		FiredAt:        req.FiredAt,
		NotificationID: "n-" + req.FiredAt.Format(time.RFC3339),
		Outcome:        model.OutcomeSent,
		TestName:       req.TestName,
		VariantID:      "a",
	}
	if err := st.AppendIntervention(context.Background(), rec); err != nil {
		t.Fatalf("AppendIntervention: %v", err)
	}
}

func alwaysRule(id string, priority int) Rule {
	return Rule{
		ID:        id,
		Priority:  priority,
		Lookback:  1,
		Predicate: func(History) (bool, string) { return true, "always" },
	}
}

func TestDropAlertFiresOnceThenCools(t *testing.T) {
	e, st := testEngine(t, DefaultRules())
	ctx := context.Background()
	full := history("u1", 80, 78, 70, 68, 64)

	// day 4: drop from 80 to 68 is only 12
	ev, err := e.Evaluate(ctx, "u1", full[:4], noon(3))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 0 {
		t.Fatalf("day 4 requests = %+v, want none", ev.Requests)
	}

	ev, err = e.Evaluate(ctx, "u1", full, noon(4))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 1 || ev.Requests[0].RuleID != RuleDropAlert {
		t.Fatalf("requests = %+v, want one drop_alert", ev.Requests)
	}
	if ev.Requests[0].Score != 64 || ev.Requests[0].TestName != "drop_alert_copy" {
		t.Errorf("request = %+v", ev.Requests[0])
	}
	markSent(t, st, ev.Requests[0])

	for _, later := range []time.Duration{2 * time.Hour, 6 * time.Hour, 9 * time.Hour} {
		ev, err = e.Evaluate(ctx, "u1", full, noon(4).Add(later))
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if len(ev.Requests) != 0 {
			t.Errorf("+%v: requests = %+v, want none", later, ev.Requests)
		}
		if ev.States[RuleDropAlert] != StateCooling {
			t.Errorf("+%v: drop_alert state = %s, want cooling", later, ev.States[RuleDropAlert])
		}
	}

	// The score keeps falling the next morning, still inside the cooldown.
	lower := history("u1", 80, 78, 70, 68, 64, 55)
	ev, err = e.Evaluate(ctx, "u1", lower, noon(4).Add(21*time.Hour))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 0 || ev.States[RuleDropAlert] != StateCooling {
		t.Errorf("+21h lower score: requests = %+v, state = %s, want cooling", ev.Requests, ev.States[RuleDropAlert])
	}

	recs, err := e.Records(ctx, "u1", day0)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("records = %d, want 1", len(recs))
	}

	ev, err = e.Evaluate(ctx, "u1", lower, noon(5))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 1 || ev.Requests[0].RuleID != RuleDropAlert {
		t.Errorf("+24h: requests = %+v, want drop_alert again", ev.Requests)
	}
}

func TestCareEscalationOncePerStreak(t *testing.T) {
	e, st := testEngine(t, DefaultRules())
	ctx := context.Background()
	full := history("u1", 30, 25, 20)

	fired := 0
	for day := 1; day <= 3; day++ {
		ev, err := e.Evaluate(ctx, "u1", full[:day], noon(day-1))
		if err != nil {
			t.Fatalf("Evaluate day %d: %v", day, err)
		}
		for _, req := range ev.Requests {
			if req.RuleID != RuleCareEscalation {
				t.Errorf("day %d: unexpected rule %s", day, req.RuleID)
				continue
			}
			if day != 2 {
				t.Errorf("care_escalation fired on day %d, want day 2", day)
			}
			fired++
			markSent(t, st, req)
		}
	}
	if fired != 1 {
		t.Errorf("care_escalation fired %d times, want 1", fired)
	}
}

func TestCareEscalationIgnoresInsufficientHistory(t *testing.T) {
	e, _ := testEngine(t, DefaultRules())
	h := history("u1", 0, 0)
	for i := range h {
		h[i].InsufficientHistory = true
	}
	ev, err := e.Evaluate(context.Background(), "u1", h, noon(1))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 1 || ev.Requests[0].RuleID != RuleCareEscalation {
		t.Errorf("requests = %+v, want care_escalation", ev.Requests)
	}
}

func TestTrendRulesSkipInsufficientHistory(t *testing.T) {
	e, _ := testEngine(t, DefaultRules())
	h := history("u1", 80, 78, 70, 68, 64)
	h[1].InsufficientHistory = true
	ev, err := e.Evaluate(context.Background(), "u1", h, noon(4))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.States[RuleDropAlert] != StateIdle {
		t.Errorf("drop_alert state = %s, want idle", ev.States[RuleDropAlert])
	}
}

func TestRateLimitSuppressesAndRecords(t *testing.T) {
	e, st := testEngine(t, []Rule{alwaysRule("first", 10), alwaysRule("second", 5)})
	ctx := context.Background()
	at := noon(0)

	pref := model.UserPreference{UserID: "u1", MaxInterventionsPerDay: 1, MinHoursBetween: 1, UpdatedAt: at}
	if err := st.SavePreference(ctx, pref); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}
	markSent(t, st, model.InterventionRequest{UserID: "u1", RuleID: "other", FiredAt: at.Add(-3 * time.Hour)})

	ev, err := e.Evaluate(ctx, "u1", history("u1", 50), at)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 0 {
		t.Fatalf("requests = %+v, want none", ev.Requests)
	}
	if len(ev.Suppressed) != 2 {
		t.Fatalf("suppressed = %d, want 2", len(ev.Suppressed))
	}
	for _, rec := range ev.Suppressed {
		if rec.Outcome != model.OutcomeSuppressed || rec.Reason != ReasonMaxPerDay {
			t.Errorf("record = %+v", rec)
		}
	}

	recs, err := st.InterventionsSince(ctx, "u1", day0)
	if err != nil {
		t.Fatalf("InterventionsSince: %v", err)
	}
	sent := 0
	for _, r := range recs {
		if r.Outcome == model.OutcomeSent {
			sent++
		}
	}
	if sent > pref.MaxInterventionsPerDay {
		t.Errorf("sent = %d exceeds limit %d", sent, pref.MaxInterventionsPerDay)
	}
}

func TestRateLimitSuppressesOncePerRule(t *testing.T) {
	e, st := testEngine(t, DefaultRules())
	ctx := context.Background()
	at := noon(1)

	pref := model.UserPreference{UserID: "u1", MaxInterventionsPerDay: 1, MinHoursBetween: 1, UpdatedAt: at}
	if err := st.SavePreference(ctx, pref); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}
	markSent(t, st, model.InterventionRequest{UserID: "u1", RuleID: "other", FiredAt: at.Add(-2 * time.Hour)})

	h := history("u1", 30, 20)
	written := 0
	for hour := 0; hour < 6; hour++ {
		ev, err := e.Evaluate(ctx, "u1", h, at.Add(time.Duration(hour)*time.Hour))
		if err != nil {
			t.Fatalf("Evaluate +%dh: %v", hour, err)
		}
		if len(ev.Requests) != 0 {
			t.Fatalf("+%dh: requests = %+v, want none", hour, ev.Requests)
		}
		written += len(ev.Suppressed)
	}
	if written != 1 {
		t.Errorf("suppressed records written = %d, want 1", written)
	}

	recs, err := st.InterventionsSince(ctx, "u1", day0)
	if err != nil {
		t.Fatalf("InterventionsSince: %v", err)
	}
	n := 0
	for _, r := range recs {
		if r.RuleID == RuleCareEscalation && r.Outcome == model.OutcomeSuppressed {
			n++
		}
	}
	if n != 1 {
		t.Errorf("care_escalation suppressed records = %d, want 1", n)
	}
}

func TestMinHoursBetween(t *testing.T) {
	e, st := testEngine(t, []Rule{alwaysRule("first", 10)})
	ctx := context.Background()
	at := noon(0)

	pref := model.UserPreference{UserID: "u1", MaxInterventionsPerDay: 5, MinHoursBetween: 4, UpdatedAt: at}
	if err := st.SavePreference(ctx, pref); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}
	markSent(t, st, model.InterventionRequest{UserID: "u1", RuleID: "other", FiredAt: at.Add(-2 * time.Hour)})

	ev, err := e.Evaluate(ctx, "u1", history("u1", 50), at)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Suppressed) != 1 || ev.Suppressed[0].Reason != ReasonMinHoursBetween {
		t.Errorf("suppressed = %+v, want one min_hours_between", ev.Suppressed)
	}

	ev, err = e.Evaluate(ctx, "u1", history("u1", 50), at.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 1 {
		t.Errorf("after gap: requests = %+v, want one", ev.Requests)
	}
}

func TestPanickingRuleIsSkipped(t *testing.T) {
	bad := Rule{
		ID:        "bad",
		Priority:  99,
		Lookback:  1,
		Predicate: func(History) (bool, string) { panic("boom") },
	}
	e, _ := testEngine(t, []Rule{bad, alwaysRule("good", 1)})

	ev, err := e.Evaluate(context.Background(), "u1", history("u1", 50), noon(0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Errors) != 1 {
		t.Fatalf("errors = %v, want 1", ev.Errors)
	}
	var re *model.RuleEvaluationError
	if !errors.As(ev.Errors[0], &re) || re.RuleID != "bad" {
		t.Errorf("error = %v, want RuleEvaluationError for bad", ev.Errors[0])
	}
	if len(ev.Requests) != 1 || ev.Requests[0].RuleID != "good" {
		t.Errorf("requests = %+v, want good", ev.Requests)
	}
}

func TestPriorityTieKeepsConfigOrder(t *testing.T) {
	e, _ := testEngine(t, []Rule{alwaysRule("low", 1), alwaysRule("x", 7), alwaysRule("y", 7)})
	ev, err := e.Evaluate(context.Background(), "u1", history("u1", 50), noon(0))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 1 || ev.Requests[0].RuleID != "x" {
		t.Errorf("requests = %+v, want x", ev.Requests)
	}
}

func TestPreferredHoursDefer(t *testing.T) {
	e, st := testEngine(t, []Rule{alwaysRule("first", 10)})
	ctx := context.Background()
	at := noon(0)

	pref := model.UserPreference{UserID: "u1", MaxInterventionsPerDay: 3, PreferredHours: []int{8, 9}, MinHoursBetween: 1, UpdatedAt: at}
	if err := st.SavePreference(ctx, pref); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}
	ev, err := e.Evaluate(ctx, "u1", history("u1", 50), at)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ev.Requests) != 0 || len(ev.Deferred) != 1 {
		t.Errorf("requests = %+v deferred = %v, want deferred only", ev.Requests, ev.Deferred)
	}
	recs, _ := st.InterventionsSince(ctx, "u1", day0)
	if len(recs) != 0 {
		t.Errorf("deferral wrote %d records", len(recs))
	}
}

func TestEvaluateUserCreatesPreference(t *testing.T) {
	e, st := testEngine(t, DefaultRules())
	ctx := context.Background()
	for _, s := range history("u1", 30, 20) {
		if err := st.SaveDailyScore(ctx, s); err != nil {
			t.Fatalf("SaveDailyScore: %v", err)
		}
	}

	ev, err := e.EvaluateUser(ctx, "u1", noon(1))
	if err != nil {
		t.Fatalf("EvaluateUser: %v", err)
	}
	if len(ev.Requests) != 1 || ev.Requests[0].RuleID != RuleCareEscalation {
		t.Errorf("requests = %+v, want care_escalation", ev.Requests)
	}

	pref, err := st.GetPreference(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if pref.MaxInterventionsPerDay != 3 || !pref.AutoOptimized {
		t.Errorf("pref = %+v, want defaults", pref)
	}
}

func TestHistoryWindowSkipsGaps(t *testing.T) {
	h := History{
		{Date: day0, Zone: model.ZoneNeedsCare},
		{Date: day0.AddDate(0, 0, 2), Zone: model.ZoneNeedsCare},
	}
	if len(h.Window(2)) != 1 {
		t.Errorf("Window(2) = %d scores, want 1", len(h.Window(2)))
	}
	if h.Consecutive(2) {
		t.Error("Consecutive(2) with a gap day")
	}
	if ok, _ := consecutiveNeedsCare(2)(h); ok {
		t.Error("care escalation matched across a gap")
	}
}
