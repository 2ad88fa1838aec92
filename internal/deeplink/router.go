// Package deeplink routes notification taps and background actions.
//
// Lifecycle: pending → requires_context → dispatched | failed. Data-only
// actions run immediately. UI actions never run while the caller reports
// no UI context; they wait in requires_context for the next foreground.
// When several actions are open for a user only the newest runs; the older
// ones become superseded and are reported as an "N notifications while
// away" count.
package deeplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
	"github.com/albapepper/momentum/internal/userlock"
)

// Executor performs an action's side effect.
type Executor interface {
	Execute(ctx context.Context, a model.DeepLinkAction) error
}

// Handlers is an Executor keyed by action type.
type Handlers map[model.ActionType]func(ctx context.Context, a model.DeepLinkAction) error

func (h Handlers) Execute(ctx context.Context, a model.DeepLinkAction) error {
	fn, ok := h[a.Type()]
	if !ok {
		return fmt.Errorf("no handler for %s", a.Type())
	}
	return fn(ctx, a)
}

// FeedbackRecorder receives opened and clicked samples.
type FeedbackRecorder interface {
	RecordEvent(ctx context.Context, s model.EffectivenessSample) error
}

type Store interface {
	store.ActionStore
	InterventionByNotification(ctx context.Context, notificationID string) (model.InterventionRecord, error)
}

// RouteResult is what the caller shows the user.
type RouteResult struct {
	Action    model.DeepLinkAction
	Executed  bool
	Deferred  bool
	AwayCount int
	Notice    string
}

type Router struct {
	store    Store
	exec     Executor
	feedback FeedbackRecorder
	locks    *userlock.Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewRouter(st Store, exec Executor, feedback FeedbackRecorder, logger *slog.Logger) *Router {
	return &Router{
		store:    st,
		exec:     exec,
		feedback: feedback,
		locks:    userlock.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Route accepts a new action. uiContextAvailable is the UI layer's answer
// at call time.
func (r *Router) Route(ctx context.Context, a model.DeepLinkAction, uiContextAvailable bool) (RouteResult, error) {
	if a.UserID == "" || a.Payload == nil {
		return RouteResult{}, fmt.Errorf("%w: action needs user and payload", model.ErrInvalidInput)
	}
	unlock := r.locks.Lock(a.UserID)
	defer unlock()

	now := r.now().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.State = model.ActionPending
	a.Error = ""
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if err := r.store.SaveAction(ctx, a); err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			return RouteResult{}, err
		}
		return RouteResult{}, model.Unavailable("save action", err)
	}
	r.track(ctx, a, model.FeedbackOpened)

	res, err := r.collapse(ctx, a.UserID, a.ID)
	if err != nil {
		return res, err
	}
	res.Action = a
	return r.run(ctx, res, uiContextAvailable)
}

// Foreground runs the newest open action for userID now that the app has
// UI context. Older open actions are superseded.
func (r *Router) Foreground(ctx context.Context, userID string) (RouteResult, error) {
	unlock := r.locks.Lock(userID)
	defer unlock()

	open, err := r.store.OpenActions(ctx, userID)
	if err != nil {
		return RouteResult{}, model.Unavailable("load open actions", err)
	}
	if len(open) == 0 {
		return RouteResult{}, nil
	}
	newest := open[len(open)-1]
	res, err := r.collapse(ctx, userID, newest.ID)
	if err != nil {
		return res, err
	}
	res.Action = newest
	return r.run(ctx, res, true)
}

// collapse supersedes every open action of userID except keep.
func (r *Router) collapse(ctx context.Context, userID, keep string) (RouteResult, error) {
	var res RouteResult
	open, err := r.store.OpenActions(ctx, userID)
	if err != nil {
		return res, model.Unavailable("load open actions", err)
	}
	now := r.now().UTC()
	for _, o := range open {
		if o.ID == keep {
			continue
		}
		if err := r.store.UpdateActionState(ctx, o.ID, model.ActionSuperseded, "", now); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return res, model.Unavailable("supersede action", err)
		}
		res.AwayCount++
	}
	if res.AwayCount > 0 {
		res.Notice = awayNotice(res.AwayCount)
		r.logger.Info("Older deep links superseded", "user_id", userID, "count", res.AwayCount)
	}
	return res, nil
}

func awayNotice(n int) string {
	if n == 1 {
		return "1 notification while away"
	}
	return fmt.Sprintf("%d notifications while away", n)
}

// run executes res.Action or parks it in requires_context.
func (r *Router) run(ctx context.Context, res RouteResult, ui bool) (RouteResult, error) {
	a := res.Action
	now := r.now().UTC()

	if a.Type().RequiresUI() && !ui {
		if a.State != model.ActionRequiresContext {
			if err := r.store.UpdateActionState(ctx, a.ID, model.ActionRequiresContext, "", now); err != nil {
				return res, model.Unavailable("defer action", err)
			}
			a.State = model.ActionRequiresContext
			a.UpdatedAt = now
		}
		res.Action = a
		res.Deferred = true
		r.logger.Info("Deep link deferred until foreground",
			"user_id", a.UserID, "action_id", a.ID, "action_type", a.Type())
		return res, nil
	}

	if execErr := r.exec.Execute(ctx, a); execErr != nil {
		r.logger.Warn("Deep link action failed",
			"user_id", a.UserID, "action_id", a.ID, "action_type", a.Type(), "error", execErr)
		if err := r.store.UpdateActionState(ctx, a.ID, model.ActionFailed, execErr.Error(), now); err != nil {
			return res, model.Unavailable("mark action failed", err)
		}
		a.State, a.Error, a.UpdatedAt = model.ActionFailed, execErr.Error(), now
		res.Action = a
		return res, nil
	}

	if err := r.store.UpdateActionState(ctx, a.ID, model.ActionDispatched, "", now); err != nil {
		return res, model.Unavailable("mark action dispatched", err)
	}
	a.State, a.UpdatedAt = model.ActionDispatched, now
	res.Action = a
	res.Executed = true
	r.track(ctx, a, model.FeedbackClicked)
	return res, nil
}

// track attributes a feedback event to the notification the action came
// from. Failures are logged only.
func (r *Router) track(ctx context.Context, a model.DeepLinkAction, event model.FeedbackEvent) {
	if a.NotificationID == "" {
		return
	}
	rec, err := r.store.InterventionByNotification(ctx, a.NotificationID)
	if err != nil {
		r.logger.Warn("Deep link tracking skipped",
			"user_id", a.UserID, "notification_id", a.NotificationID, "event", event, "error", err)
		return
	}
	s := model.EffectivenessSample{
		UserID:    a.UserID,
		TestName:  rec.TestName,
		VariantID: rec.VariantID,
		Event:     event,
		Timestamp: r.now().UTC(),
	}
	if err := r.feedback.RecordEvent(ctx, s); err != nil {
		r.logger.Warn("Deep link tracking failed",
			"user_id", a.UserID, "notification_id", a.NotificationID, "event", event, "error", err)
	}
}

// Get returns a stored action.
func (r *Router) Get(ctx context.Context, id string) (model.DeepLinkAction, error) {
	a, err := r.store.GetAction(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return a, err
	}
	if err != nil {
		return a, model.Unavailable("load action", err)
	}
	return a, nil
}
