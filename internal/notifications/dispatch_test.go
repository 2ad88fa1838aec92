package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/albapepper/momentum/internal/abtest"
	"github.com/albapepper/momentum/internal/effectiveness"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

var firedAt = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

type fixture struct {
	d         *Dispatcher
	st        *store.SQLite
	transport *RecordingTransport
	reg       *abtest.Registry
}

func defaultTemplates(t *testing.T) *Templates {
	t.Helper()
	tpls, err := NewTemplates(DefaultTemplates())
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}
	return tpls
}

func newFixture(t *testing.T, failFirst int) fixture {
	t.Helper()
	st, err := store.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := abtest.NewRegistry(DefaultTests("drop_alert_copy", "care_escalation_copy"))
	tr := &RecordingTransport{FailFirst: failFirst}
	tracker := effectiveness.NewTracker(st, 14, 3, logger)
	d := NewDispatcher(st, reg, defaultTemplates(t), tr, tracker, []time.Duration{0, 0}, logger)
	d.now = func() time.Time { return firedAt }
	return fixture{d: d, st: st, transport: tr, reg: reg}
}

func dropRequest(user string) model.InterventionRequest {
	return model.InterventionRequest{
		UserID:   user,
		RuleID:   "drop_alert",
		Priority: 80,
		TestName: "drop_alert_copy",
		Zone:     model.ZoneSteady,
		Score:    64,
		Reason:   "score fell 16.0 points from 80.0",
		FiredAt:  firedAt,
	}
}

func TestDispatchSends(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.d.Dispatch(ctx, dropRequest("u1"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Outcome != model.OutcomeSent || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
	want, _ := f.reg.Assign("u1", "drop_alert_copy")
	if res.VariantID != want {
		t.Errorf("variant = %s, want %s", res.VariantID, want)
	}
	if res.Content.Action.ActionType() != model.ActionCompleteLesson {
		t.Errorf("action = %s, want complete_lesson", res.Content.Action.ActionType())
	}

	if len(f.transport.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(f.transport.Messages))
	}
	msg := f.transport.Messages[0]
	if msg.Data[DataNotificationID] != res.NotificationID || msg.Data[DataActionType] != "complete_lesson" {
		t.Errorf("message data = %v", msg.Data)
	}

	rec, err := f.st.InterventionByNotification(ctx, res.NotificationID)
	if err != nil {
		t.Fatalf("InterventionByNotification: %v", err)
	}
	if rec.Outcome != model.OutcomeSent || rec.VariantID != res.VariantID || rec.TestName != "drop_alert_copy" {
		t.Errorf("record = %+v", rec)
	}

	c, err := f.st.VariantCounts(ctx, "drop_alert_copy", res.VariantID, firedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("VariantCounts: %v", err)
	}
	if c.Sent != 1 {
		t.Errorf("sent samples = %d, want 1", c.Sent)
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, 2)
	res, err := f.d.Dispatch(context.Background(), dropRequest("u1"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Attempts != 3 || f.transport.Calls() != 3 {
		t.Errorf("attempts = %d calls = %d, want 3", res.Attempts, f.transport.Calls())
	}
}

func TestDispatchRecordsTransportFailure(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	res, err := f.d.Dispatch(ctx, dropRequest("u1"))
	if !errors.Is(err, model.ErrTransportFailure) {
		t.Fatalf("err = %v, want ErrTransportFailure", err)
	}
	if f.transport.Calls() != 3 {
		t.Errorf("calls = %d, want 3 (one try plus two retries)", f.transport.Calls())
	}

	rec, err := f.st.InterventionByNotification(ctx, res.NotificationID)
	if err != nil {
		t.Fatalf("InterventionByNotification: %v", err)
	}
	if rec.Outcome != model.OutcomeFailed || rec.Reason == "" {
		t.Errorf("record = %+v, want failed with reason", rec)
	}

	c, _ := f.st.UserCounts(ctx, "u1", firedAt.Add(-time.Hour))
	if c.Sent != 0 {
		t.Errorf("failed dispatch recorded %d sent samples", c.Sent)
	}
}

func TestDispatchUnknownRule(t *testing.T) {
	f := newFixture(t, 0)
	req := dropRequest("u1")
	req.RuleID = "mystery"
	if _, err := f.d.Dispatch(context.Background(), req); err == nil {
		t.Fatal("Dispatch of unknown rule succeeded")
	}
	if f.transport.Calls() != 0 {
		t.Errorf("transport called %d times", f.transport.Calls())
	}
}

func TestRenderFallsBackToRuleDefault(t *testing.T) {
	tpls := defaultTemplates(t)
	req := model.InterventionRequest{UserID: "u1", RuleID: "celebration", Zone: model.ZoneRising, Score: 81.6}

	c, err := tpls.Render(req, "zz")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if c.Title != "Amazing momentum!" || c.Variant != "" {
		t.Errorf("content = %+v, want rule default", c)
	}
	if c.Body != "You've been consistent all week. Your momentum score is 82." {
		t.Errorf("body = %q", c.Body)
	}

	c, err = tpls.Render(req, "b")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if c.Title != "You're on a roll!" || c.Variant != "b" {
		t.Errorf("content = %+v, want variant b", c)
	}
	if p, ok := c.Action.(model.ViewMomentumPayload); !ok || p.Zone != model.ZoneRising {
		t.Errorf("action = %#v", c.Action)
	}
}

func TestCareEscalationSchedulesCall(t *testing.T) {
	tpls := defaultTemplates(t)
	c, err := tpls.Render(model.InterventionRequest{RuleID: "care_escalation", Reason: "2 consecutive NeedsCare days"}, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	raw, _ := json.Marshal(c.Action)
	p, err := model.DecodePayload(c.Action.ActionType(), raw)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if call, ok := p.(model.ScheduleCallPayload); !ok || call.Reason != "2 consecutive NeedsCare days" {
		t.Errorf("payload = %#v", p)
	}
}

func TestNewTemplatesRequiresDefault(t *testing.T) {
	_, err := NewTemplates([]Template{{RuleID: "x", Variant: "b", Title: "t", Body: "b", Action: completeLesson}})
	if err == nil {
		t.Error("variant without rule default accepted")
	}
}
