package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/albapepper/momentum/internal/model"
)

func testStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestSchemaVersion(t *testing.T) {
	s := testStore(t)
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestEventsForUserRange(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, at := range []time.Time{base.Add(-48 * time.Hour), base.Add(-time.Hour), base.Add(time.Hour)} {
		e := model.EngagementEvent{
			ID:        string(rune('a' + i)),
			UserID:    "u1",
			Type:      model.EventJournalEntry,
			Timestamp: at,
			Weight:    2,
		}
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	if err := s.AppendEvent(ctx, model.EngagementEvent{ID: "other", UserID: "u2", Type: model.EventAppSession, Timestamp: base}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := s.EventsForUser(ctx, "u1", base.Add(-72*time.Hour), base)
	if err != nil {
		t.Fatalf("EventsForUser: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(-48*time.Hour)) || got[0].Type != model.EventJournalEntry {
		t.Errorf("first event = %+v", got[0])
	}

	users, err := s.ActiveUsers(ctx, base.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("ActiveUsers: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("ActiveUsers = %v, want [u1 u2]", users)
	}
}

func TestDailyScoreUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	day := model.Day(base)

	sc := model.DailyScore{
		UserID:        "u1",
		Date:          day,
		RawScore:      55.5,
		Zone:          model.ZoneSteady,
		EventsCount:   3,
		CountedByType: map[model.EventType]int{model.EventLessonCompletion: 3},
		ComputedAt:    base,
	}
	if err := s.SaveDailyScore(ctx, sc); err != nil {
		t.Fatalf("SaveDailyScore: %v", err)
	}
	sc.RawScore = 72
	sc.Zone = model.ZoneRising
	if err := s.SaveDailyScore(ctx, sc); err != nil {
		t.Fatalf("SaveDailyScore (update): %v", err)
	}

	hist, err := s.ScoreHistory(ctx, "u1", day.AddDate(0, 0, -1), day)
	if err != nil {
		t.Fatalf("ScoreHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("len = %d, want 1", len(hist))
	}
	if hist[0].RawScore != 72 || hist[0].Zone != model.ZoneRising {
		t.Errorf("score = %v/%s, want 72/Rising", hist[0].RawScore, hist[0].Zone)
	}
	if hist[0].CountedByType[model.EventLessonCompletion] != 3 {
		t.Errorf("CountedByType = %v", hist[0].CountedByType)
	}
	if !hist[0].Date.Equal(day) {
		t.Errorf("Date = %v, want %v", hist[0].Date, day)
	}

	inserted, err := s.InsertScoreIfMissing(ctx, model.DailyScore{UserID: "u1", Date: day, Zone: model.ZoneNeedsCare, ComputedAt: base})
	if err != nil {
		t.Fatalf("InsertScoreIfMissing: %v", err)
	}
	if inserted {
		t.Error("InsertScoreIfMissing overwrote an existing row")
	}
}

func TestLatestScoreBefore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	day := model.Day(base)

	if _, err := s.LatestScoreBefore(ctx, "u1", day); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	for i, z := range []model.Zone{model.ZoneSteady, model.ZoneRising, model.ZoneNeedsCare} {
		sc := model.DailyScore{UserID: "u1", Date: day.AddDate(0, 0, i-2), Zone: z, ComputedAt: base}
		if err := s.SaveDailyScore(ctx, sc); err != nil {
			t.Fatalf("SaveDailyScore: %v", err)
		}
	}
	got, err := s.LatestScoreBefore(ctx, "u1", day)
	if err != nil {
		t.Fatalf("LatestScoreBefore: %v", err)
	}
	if got.Zone != model.ZoneRising {
		t.Errorf("Zone = %s, want Rising", got.Zone)
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.GetPreference(ctx, "u1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	p := model.UserPreference{
		UserID:                 "u1",
		MaxInterventionsPerDay: 2,
		PreferredHours:         []int{9, 10, 11},
		MinHoursBetween:        4,
		AutoOptimized:          true,
		UpdatedAt:              base,
	}
	if err := s.SavePreference(ctx, p); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}
	got, err := s.GetPreference(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if got.MaxInterventionsPerDay != 2 || !got.AutoOptimized || len(got.PreferredHours) != 3 {
		t.Errorf("preference = %+v", got)
	}
}

func TestSetOptimizedMaxPerDaySkipsOverrides(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, p := range []model.UserPreference{
		{UserID: "auto", MaxInterventionsPerDay: 3, MinHoursBetween: 4, AutoOptimized: true, UpdatedAt: base},
		{UserID: "pinned", MaxInterventionsPerDay: 1, MinHoursBetween: 4, AutoOptimized: false, UpdatedAt: base},
	} {
		if err := s.SavePreference(ctx, p); err != nil {
			t.Fatalf("SavePreference: %v", err)
		}
	}

	tests := []struct {
		user    string
		changed bool
		want    int
	}{
		{"auto", true, 4},
		{"pinned", false, 1},
		{"missing", false, 0},
	}
	for _, tt := range tests {
		changed, err := s.SetOptimizedMaxPerDay(ctx, tt.user, 4, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("SetOptimizedMaxPerDay(%s): %v", tt.user, err)
		}
		if changed != tt.changed {
			t.Errorf("%s: changed = %v, want %v", tt.user, changed, tt.changed)
		}
		if tt.want == 0 {
			continue
		}
		got, err := s.GetPreference(ctx, tt.user)
		if err != nil {
			t.Fatalf("GetPreference(%s): %v", tt.user, err)
		}
		if got.MaxInterventionsPerDay != tt.want {
			t.Errorf("%s: max = %d, want %d", tt.user, got.MaxInterventionsPerDay, tt.want)
		}
	}
}

func TestInterventionsAppendOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	recs := []model.InterventionRecord{
		{ID: "r1", UserID: "u1", RuleID: "drop_alert", FiredAt: base, Outcome: model.OutcomeSent, NotificationID: "n1", TestName: "drop_copy", VariantID: "a"},
		{ID: "r2", UserID: "u1", RuleID: "celebration", FiredAt: base, Outcome: model.OutcomeSuppressed},
		{ID: "r3", UserID: "u1", RuleID: "drop_alert", FiredAt: base.Add(-40 * 24 * time.Hour), Outcome: model.OutcomeSuppressed},
	}
	for _, r := range recs {
		if err := s.AppendIntervention(ctx, r); err != nil {
			t.Fatalf("AppendIntervention: %v", err)
		}
	}

	got, err := s.InterventionsSince(ctx, "u1", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("InterventionsSince: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r2" {
		t.Fatalf("records = %+v", got)
	}

	byNotif, err := s.InterventionByNotification(ctx, "n1")
	if err != nil {
		t.Fatalf("InterventionByNotification: %v", err)
	}
	if byNotif.VariantID != "a" || byNotif.TestName != "drop_copy" {
		t.Errorf("record = %+v", byNotif)
	}

	n, err := s.PurgeSuppressed(ctx, base.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeSuppressed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

func TestSampleCounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	events := []model.FeedbackEvent{model.FeedbackSent, model.FeedbackSent, model.FeedbackOpened, model.FeedbackClicked}
	for _, e := range events {
		if err := s.AppendSample(ctx, model.EffectivenessSample{UserID: "u1", TestName: "t", VariantID: "a", Event: e, Timestamp: base}); err != nil {
			t.Fatalf("AppendSample: %v", err)
		}
	}
	old := model.EffectivenessSample{UserID: "u1", TestName: "t", VariantID: "a", Event: model.FeedbackSent, Timestamp: base.AddDate(0, 0, -30)}
	if err := s.AppendSample(ctx, old); err != nil {
		t.Fatalf("AppendSample: %v", err)
	}

	c, err := s.VariantCounts(ctx, "t", "a", base.AddDate(0, 0, -14))
	if err != nil {
		t.Fatalf("VariantCounts: %v", err)
	}
	want := model.FeedbackCounts{Sent: 2, Opened: 1, Clicked: 1}
	if c != want {
		t.Errorf("VariantCounts = %+v, want %+v", c, want)
	}

	uc, err := s.UserCounts(ctx, "u1", time.Time{})
	if err != nil {
		t.Fatalf("UserCounts: %v", err)
	}
	if uc.Sent != 3 {
		t.Errorf("UserCounts.Sent = %d, want 3", uc.Sent)
	}
}

func TestActionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := model.DeepLinkAction{
		ID:        "a1",
		UserID:    "u1",
		Payload:   model.ScheduleCallPayload{Reason: "care"},
		State:     model.ActionRequiresContext,
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := s.SaveAction(ctx, a); err != nil {
		t.Fatalf("SaveAction: %v", err)
	}
	if err := s.SaveAction(ctx, a); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("duplicate SaveAction err = %v, want ErrInvalidInput", err)
	}
	open, err := s.OpenActions(ctx, "u1")
	if err != nil {
		t.Fatalf("OpenActions: %v", err)
	}
	if len(open) != 1 || open[0].Type() != model.ActionScheduleCall {
		t.Fatalf("open = %+v", open)
	}
	if p, ok := open[0].Payload.(model.ScheduleCallPayload); !ok || p.Reason != "care" {
		t.Errorf("payload = %#v", open[0].Payload)
	}

	if err := s.UpdateActionState(ctx, "a1", model.ActionDispatched, "", base.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateActionState: %v", err)
	}
	// terminal rows are never mutated again
	err = s.UpdateActionState(ctx, "a1", model.ActionFailed, "late", base.Add(2*time.Minute))
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second update err = %v, want ErrNotFound", err)
	}
	got, err := s.GetAction(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	if got.State != model.ActionDispatched {
		t.Errorf("State = %s, want dispatched", got.State)
	}

	n, err := s.PurgeActions(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeActions: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

func TestVariants(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	v := model.ABVariant{TestName: "drop_copy", VariantID: "a", Weight: 1, BaseWeight: 1, UpdatedAt: base}
	if err := s.SaveVariant(ctx, v); err != nil {
		t.Fatalf("SaveVariant: %v", err)
	}
	v.Weight = 0.7
	if err := s.SaveVariant(ctx, v); err != nil {
		t.Fatalf("SaveVariant: %v", err)
	}
	got, err := s.ListVariants(ctx)
	if err != nil {
		t.Fatalf("ListVariants: %v", err)
	}
	if len(got) != 1 || got[0].Weight != 0.7 {
		t.Errorf("variants = %+v", got)
	}
}
