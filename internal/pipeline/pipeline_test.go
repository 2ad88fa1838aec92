package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/albapepper/momentum/internal/abtest"
	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/effectiveness"
	"github.com/albapepper/momentum/internal/intervention"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/momentum"
	"github.com/albapepper/momentum/internal/notifications"
	"github.com/albapepper/momentum/internal/store"
)

var now = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func testPipeline(t *testing.T) (*Pipeline, *store.SQLite, *notifications.RecordingTransport) {
	t.Helper()
	st, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rules := intervention.DefaultRules()
	var tests []string
	for _, r := range rules {
		tests = append(tests, r.TestName)
	}
	templates, err := notifications.NewTemplates(notifications.DefaultTemplates())
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}
	transport := &notifications.RecordingTransport{}
	d := notifications.NewDispatcher(st,
		abtest.NewRegistry(notifications.DefaultTests(tests...)),
		templates,
		transport,
		effectiveness.NewTracker(st, 14, 3, logger),
		[]time.Duration{0, 0},
		logger)

	p := New(st,
		momentum.NewEngine(st, config.DefaultScoring(), logger),
		intervention.NewEngine(st, rules, config.DefaultInterventions(), logger),
		d, 4, logger)
	p.now = func() time.Time { return now }
	return p, st, transport
}

func seedNeedsCare(t *testing.T, st *store.SQLite, user string, day time.Time) {
	t.Helper()
	sc := model.DailyScore{UserID: user, Date: model.Day(day), RawScore: 8, Zone: model.ZoneNeedsCare, EventsCount: 1}
	if err := st.SaveDailyScore(context.Background(), sc); err != nil {
		t.Fatalf("SaveDailyScore: %v", err)
	}
}

func TestIngestTriggersCareEscalation(t *testing.T) {
	p, st, transport := testPipeline(t)
	ctx := context.Background()
	seedNeedsCare(t, st, "u1", now.AddDate(0, 0, -1))

	ev, res, err := p.Ingest(ctx, model.EngagementEvent{UserID: "u1", Type: model.EventAppSession})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ev.ID == "" || !ev.Timestamp.Equal(now) {
		t.Errorf("event = %+v, want id and timestamp filled", ev)
	}
	if res.Score == nil || res.Score.Zone != model.ZoneNeedsCare {
		t.Fatalf("score = %+v, want NeedsCare", res.Score)
	}
	if len(res.Dispatched) != 1 || res.Dispatched[0].Outcome != model.OutcomeSent {
		t.Fatalf("dispatched = %+v, want one sent", res.Dispatched)
	}
	if len(transport.Messages) != 1 || transport.Messages[0].Data[notifications.DataActionType] != "schedule_call" {
		t.Errorf("messages = %+v", transport.Messages)
	}
}

func TestIngestMarksEventProcessed(t *testing.T) {
	p, _, _ := testPipeline(t)

	ev, _, err := p.Ingest(context.Background(), model.EngagementEvent{UserID: "u1", Type: model.EventJournalEntry})
	if err != nil && !errors.Is(err, model.ErrTransportFailure) {
		t.Fatalf("Ingest: %v", err)
	}
	if !p.Ingested(ev.ID) {
		t.Errorf("Ingested(%q) = false after Ingest", ev.ID)
	}
	if p.Ingested("other") || p.Ingested("") {
		t.Error("Ingested reports an event that was never ingested")
	}
}

func TestEventSetExpires(t *testing.T) {
	s := newEventSet(time.Minute)
	s.add("e1", now)
	if !s.has("e1", now.Add(30*time.Second)) {
		t.Error("e1 forgotten inside ttl")
	}
	if s.has("e1", now.Add(time.Minute)) {
		t.Error("e1 remembered past ttl")
	}
	s.add("e2", now.Add(2*time.Minute))
	if len(s.seen) != 1 {
		t.Errorf("expired entries kept: %d", len(s.seen))
	}
}

func TestIngestRejectsUnknownType(t *testing.T) {
	p, _, _ := testPipeline(t)
	_, _, err := p.Ingest(context.Background(), model.EngagementEvent{UserID: "u1", Type: "dance"})
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestConcurrentPassesFireOnce(t *testing.T) {
	p, st, _ := testPipeline(t)
	ctx := context.Background()
	seedNeedsCare(t, st, "u1", now.AddDate(0, 0, -1))
	if err := st.AppendEvent(ctx, model.EngagementEvent{ID: "e1", UserID: "u1", Type: model.EventAppSession, Timestamp: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.ProcessUser(ctx, "u1"); err != nil {
				t.Errorf("ProcessUser: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, err := st.InterventionsSince(ctx, "u1", now.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("InterventionsSince: %v", err)
	}
	sent := 0
	for _, r := range recs {
		if r.Outcome == model.OutcomeSent {
			sent++
		}
	}
	if sent != 1 {
		t.Errorf("sent records = %d, want 1", sent)
	}
}

func TestSweepEvaluatesActiveUsers(t *testing.T) {
	p, st, _ := testPipeline(t)
	ctx := context.Background()
	for _, u := range []string{"u1", "u2"} {
		seedNeedsCare(t, st, u, now.AddDate(0, 0, -1))
		seedNeedsCare(t, st, u, now)
		if err := st.AppendEvent(ctx, model.EngagementEvent{ID: "e-" + u, UserID: u, Type: model.EventAppSession, Timestamp: now.Add(-2 * time.Hour)}); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	res, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Users != 2 || res.Sent != 2 {
		t.Errorf("sweep = %s, want 2 users 2 sent", res.Summary())
	}

	// nothing new to send on the next sweep
	res, err = p.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Sent != 0 {
		t.Errorf("second sweep sent %d", res.Sent)
	}
}
