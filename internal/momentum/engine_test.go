package momentum

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

func testEngine(t *testing.T) (*Engine, *store.SQLite) {
	t.Helper()
	st, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := NewEngine(st, config.DefaultScoring(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return asOf }
	return e, st
}

func TestComputeDailyScorePersists(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()

	if err := st.AppendEvent(ctx, ev("e1", model.EventLessonCompletion, asOf.Add(-time.Hour), 3)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	sc, err := e.ComputeDailyScore(ctx, "u1", asOf)
	if err != nil {
		t.Fatalf("ComputeDailyScore: %v", err)
	}
	hist, err := e.History(ctx, "u1", model.Day(asOf), model.Day(asOf))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history len = %d, want 1", len(hist))
	}
	if hist[0].RawScore != sc.RawScore || hist[0].Zone != sc.Zone {
		t.Errorf("stored %v/%s, computed %v/%s", hist[0].RawScore, hist[0].Zone, sc.RawScore, sc.Zone)
	}

	// recompute is an upsert, not a second row
	if _, err := e.ComputeDailyScore(ctx, "u1", asOf); err != nil {
		t.Fatalf("ComputeDailyScore (again): %v", err)
	}
	hist, _ = e.History(ctx, "u1", model.Day(asOf), model.Day(asOf))
	if len(hist) != 1 {
		t.Errorf("history len after recompute = %d, want 1", len(hist))
	}
}

func TestComputeDailyScoreUsesPreviousZone(t *testing.T) {
	_, st := testEngine(t)
	ctx := context.Background()

	// one event at asOf contributes w to today's sum only, so the smoothed
	// input is w/3; place the rising threshold just above the result
	p := config.DefaultScoring()
	p.NeedsCareThreshold = 10
	score := Normalize(30.0/3, p)
	p.RisingThreshold = score + 1

	e := NewEngine(st, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return asOf }
	if err := st.AppendEvent(ctx, ev("e1", model.EventStreakMilestone, asOf, 30)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	sc, err := e.ComputeDailyScore(ctx, "u1", asOf)
	if err != nil {
		t.Fatalf("ComputeDailyScore: %v", err)
	}
	if sc.Zone != model.ZoneSteady {
		t.Fatalf("without history: zone = %s, want Steady", sc.Zone)
	}

	prev := model.DailyScore{UserID: "u1", Date: model.Day(asOf).AddDate(0, 0, -1), RawScore: 80, Zone: model.ZoneRising, ComputedAt: asOf}
	if err := st.SaveDailyScore(ctx, prev); err != nil {
		t.Fatalf("SaveDailyScore: %v", err)
	}
	sc, err = e.ComputeDailyScore(ctx, "u1", asOf)
	if err != nil {
		t.Fatalf("ComputeDailyScore: %v", err)
	}
	if sc.Zone != model.ZoneRising {
		t.Errorf("after Rising day: zone = %s, want Rising (within margin)", sc.Zone)
	}
}

func TestComputeDailyScoreKeepsClosedDay(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()
	past := asOf.AddDate(0, 0, -5)

	if err := st.AppendEvent(ctx, ev("e1", model.EventJournalEntry, past.Add(-time.Hour), 2)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	first, err := e.ComputeDailyScore(ctx, "u1", past)
	if err != nil {
		t.Fatalf("ComputeDailyScore: %v", err)
	}

	// a late event for the closed day must not rewrite it
	if err := st.AppendEvent(ctx, ev("e2", model.EventStreakMilestone, past.Add(-2*time.Hour), 5)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	again, err := e.ComputeDailyScore(ctx, "u1", past)
	if err != nil {
		t.Fatalf("ComputeDailyScore (again): %v", err)
	}
	if again.RawScore != first.RawScore || again.EventsCount != first.EventsCount {
		t.Errorf("recompute returned %v/%d, want stored %v/%d", again.RawScore, again.EventsCount, first.RawScore, first.EventsCount)
	}
	hist, _ := e.History(ctx, "u1", model.Day(past), model.Day(past))
	if len(hist) != 1 || hist[0].RawScore != first.RawScore {
		t.Errorf("stored = %+v, want the first score", hist)
	}

	// yesterday is still open for the nightly batch
	yesterday := asOf.AddDate(0, 0, -1)
	y1, err := e.ComputeDailyScore(ctx, "u1", yesterday)
	if err != nil {
		t.Fatalf("ComputeDailyScore yesterday: %v", err)
	}
	if err := st.AppendEvent(ctx, ev("e3", model.EventLessonCompletion, yesterday.Add(-time.Hour), 3)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	y2, err := e.ComputeDailyScore(ctx, "u1", yesterday)
	if err != nil {
		t.Fatalf("ComputeDailyScore yesterday (again): %v", err)
	}
	if y2.EventsCount != y1.EventsCount+1 {
		t.Errorf("yesterday events = %d, want %d", y2.EventsCount, y1.EventsCount+1)
	}
}

type failingStore struct {
	*store.SQLite
}

func (failingStore) EventsForUser(context.Context, string, time.Time, time.Time) ([]model.EngagementEvent, error) {
	return nil, errors.New("connection refused")
}

func TestComputeDailyScoreDataUnavailable(t *testing.T) {
	_, st := testEngine(t)
	e := NewEngine(failingStore{st}, config.DefaultScoring(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.ComputeDailyScore(context.Background(), "u1", asOf)
	if !errors.Is(err, model.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
	hist, _ := st.ScoreHistory(context.Background(), "u1", model.Day(asOf), model.Day(asOf))
	if len(hist) != 0 {
		t.Errorf("partial write: %d rows", len(hist))
	}
}

func TestRunBatch(t *testing.T) {
	e, st := testEngine(t)
	ctx := context.Background()

	for i, u := range []string{"u1", "u2", "u3"} {
		evt := model.EngagementEvent{ID: u, UserID: u, Type: model.EventJournalEntry, Timestamp: asOf.Add(-time.Duration(i+1) * time.Hour)}
		if err := st.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	res, err := e.RunBatch(ctx, asOf, 2)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.UsersFound != 3 || res.Succeeded != 3 || res.Failed != 0 {
		t.Errorf("result = %s", res.Summary())
	}
	for _, u := range []string{"u1", "u2", "u3"} {
		hist, _ := st.ScoreHistory(ctx, u, model.Day(asOf), model.Day(asOf))
		if len(hist) != 1 {
			t.Errorf("%s: %d rows, want 1", u, len(hist))
		}
	}
}

func TestRunBatchCancelled(t *testing.T) {
	e, st := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := st.AppendEvent(ctx, ev("e1", model.EventJournalEntry, asOf.Add(-time.Hour), 2)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	cancel()

	if _, err := e.RunBatch(ctx, asOf, 2); err == nil {
		t.Fatal("RunBatch on cancelled context returned nil error")
	}
	hist, _ := st.ScoreHistory(context.Background(), "u1", model.Day(asOf), model.Day(asOf))
	if len(hist) != 0 {
		t.Errorf("cancelled batch committed %d rows", len(hist))
	}
}
