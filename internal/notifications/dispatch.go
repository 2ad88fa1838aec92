package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

// Assigner picks the content variant a user sees for a test.
type Assigner interface {
	Assign(userID, testName string) (string, bool)
}

// FeedbackRecorder receives the "sent" feedback sample.
type FeedbackRecorder interface {
	RecordEvent(ctx context.Context, s model.EffectivenessSample) error
}

// Dispatcher delivers intervention requests. Safe for concurrent use;
// callers serialize per user.
type Dispatcher struct {
	records   store.InterventionStore
	assigner  Assigner
	templates *Templates
	transport Transport
	feedback  FeedbackRecorder
	delays    []time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher wires a dispatcher. A nil delays slice uses
// DefaultRetryDelays; each delay allows one more attempt.
func NewDispatcher(records store.InterventionStore, assigner Assigner, templates *Templates,
	transport Transport, feedback FeedbackRecorder, delays []time.Duration, logger *slog.Logger) *Dispatcher {
	if delays == nil {
		delays = DefaultRetryDelays
	}
	return &Dispatcher{
		records:   records,
		assigner:  assigner,
		templates: templates,
		transport: transport,
		feedback:  feedback,
		delays:    delays,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch renders and sends req, then appends its audit record. A send
// that fails every attempt is recorded as failed and returned as an error
// wrapping model.ErrTransportFailure.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.InterventionRequest) (DispatchResult, error) {
	if req.UserID == "" || req.RuleID == "" {
		return DispatchResult{}, fmt.Errorf("%w: request needs user and rule", model.ErrInvalidInput)
	}
	res := DispatchResult{
		NotificationID: uuid.NewString(),
		RecordID:       uuid.NewString(),
		TestName:       req.TestName,
	}
	if req.TestName != "" {
		res.VariantID, _ = d.assigner.Assign(req.UserID, req.TestName)
	}

	content, err := d.templates.Render(req, res.VariantID)
	if err != nil {
		return res, d.fail(ctx, req, &res, err)
	}
	res.Content = content

	msg, err := d.message(req, res.NotificationID, content)
	if err != nil {
		return res, d.fail(ctx, req, &res, err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		res.Attempts++
		return struct{}{}, d.transport.Send(ctx, msg)
	},
		backoff.WithBackOff(&scheduleBackOff{delays: d.delays}),
		backoff.WithMaxTries(uint(len(d.delays)+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Warn("Push send failed, retrying",
				"user_id", req.UserID, "notification_id", res.NotificationID,
				"attempt", res.Attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return res, d.fail(ctx, req, &res, err)
	}

	res.Outcome = model.OutcomeSent
	if err := d.appendRecord(ctx, req, res, req.Reason); err != nil {
		return res, err
	}
	sample := model.EffectivenessSample{
		UserID:    req.UserID,
		TestName:  req.TestName,
		VariantID: res.VariantID,
		Event:     model.FeedbackSent,
		Timestamp: d.now().UTC(),
	}
	if err := d.feedback.RecordEvent(context.WithoutCancel(ctx), sample); err != nil {
		d.logger.Warn("Feedback write failed", "user_id", req.UserID, "notification_id", res.NotificationID, "error", err)
	}
	d.logger.Info("Notification sent",
		"user_id", req.UserID, "rule_id", req.RuleID, "variant", res.VariantID,
		"notification_id", res.NotificationID, "attempts", res.Attempts)
	return res, nil
}

// fail records the failed outcome and returns the transport error.
func (d *Dispatcher) fail(ctx context.Context, req model.InterventionRequest, res *DispatchResult, cause error) error {
	res.Outcome = model.OutcomeFailed
	if err := d.appendRecord(ctx, req, *res, cause.Error()); err != nil {
		d.logger.Error("Failed dispatch could not be recorded",
			"user_id", req.UserID, "rule_id", req.RuleID, "error", err)
	}
	d.logger.Warn("Notification failed",
		"user_id", req.UserID, "rule_id", req.RuleID,
		"notification_id", res.NotificationID, "attempts", res.Attempts, "error", cause)
	return fmt.Errorf("dispatch %s to %s: %w: %w", req.RuleID, req.UserID, model.ErrTransportFailure, cause)
}

func (d *Dispatcher) appendRecord(ctx context.Context, req model.InterventionRequest, res DispatchResult, reason string) error {
	firedAt := req.FiredAt
	if firedAt.IsZero() {
		firedAt = d.now().UTC()
	}
	rec := model.InterventionRecord{
		ID:             res.RecordID,
		UserID:         req.UserID,
		RuleID:         req.RuleID,
		FiredAt:        firedAt,
		NotificationID: res.NotificationID,
		Outcome:        res.Outcome,
		TestName:       req.TestName,
		VariantID:      res.VariantID,
		Reason:         reason,
	}
	// the send already happened; record it even if the caller gave up
	if err := d.records.AppendIntervention(context.WithoutCancel(ctx), rec); err != nil {
		return model.Unavailable("record dispatch", err)
	}
	return nil
}

func (d *Dispatcher) message(req model.InterventionRequest, notificationID string, c Content) (Message, error) {
	payload, err := json.Marshal(c.Action)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", c.Action.ActionType(), err)
	}
	return Message{
		UserID: req.UserID,
		Title:  c.Title,
		Body:   c.Body,
		Data: map[string]string{
			DataNotificationID: notificationID,
			DataActionType:     string(c.Action.ActionType()),
			DataPayload:        string(payload),
			DataRuleID:         req.RuleID,
		},
	}, nil
}

// scheduleBackOff waits each configured delay once, then stops.
type scheduleBackOff struct {
	delays []time.Duration
	i      int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.i >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.i]
	b.i++
	return d
}

func (b *scheduleBackOff) Reset() { b.i = 0 }
