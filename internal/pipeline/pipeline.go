// Package pipeline runs the per-user flow: recompute the daily score,
// evaluate intervention rules, dispatch the winning request.
//
// Every pass for a user holds that user's lock, so a real-time trigger and
// a scheduled sweep can never evaluate the same user at once. Different
// users run in parallel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/albapepper/momentum/internal/intervention"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/momentum"
	"github.com/albapepper/momentum/internal/notifications"
	"github.com/albapepper/momentum/internal/store"
	"github.com/albapepper/momentum/internal/userlock"
)

// Result is the outcome of one user pass.
type Result struct {
	UserID     string
	Score      *model.DailyScore // nil when the pass did not recompute
	Evaluation intervention.Evaluation
	Dispatched []notifications.DispatchResult
}

// SweepResult summarizes a multi-user pass.
type SweepResult struct {
	Users      int
	Sent       int
	Failed     int
	Suppressed int
	Deferred   int
	Errors     []string
	Duration   time.Duration
}

func (r *SweepResult) Summary() string {
	return fmt.Sprintf("users=%d sent=%d failed=%d suppressed=%d deferred=%d errors=%d dur=%s",
		r.Users, r.Sent, r.Failed, r.Suppressed, r.Deferred, len(r.Errors), r.Duration.Round(time.Millisecond))
}

type Pipeline struct {
	events        store.EventStore
	scores        *momentum.Engine
	interventions *intervention.Engine
	dispatcher    *notifications.Dispatcher
	locks         *userlock.Registry
	ingested      *eventSet
	workers       int
	logger        *slog.Logger
	now           func() time.Time
}

func New(events store.EventStore, scores *momentum.Engine, interventions *intervention.Engine,
	dispatcher *notifications.Dispatcher, workers int, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		events:        events,
		scores:        scores,
		interventions: interventions,
		dispatcher:    dispatcher,
		locks:         userlock.New(),
		ingested:      newEventSet(ingestedTTL),
		workers:       max(workers, 1),
		logger:        logger,
		now:           time.Now,
	}
}

// Ingest validates and stores an engagement event, then runs a full pass
// for its user.
func (p *Pipeline) Ingest(ctx context.Context, e model.EngagementEvent) (model.EngagementEvent, Result, error) {
	if e.UserID == "" {
		return e, Result{}, fmt.Errorf("%w: user id required", model.ErrInvalidInput)
	}
	if _, err := model.ParseEventType(string(e.Type)); err != nil {
		return e, Result{}, err
	}
	if e.Weight < 0 {
		return e, Result{}, fmt.Errorf("%w: negative weight", model.ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now().UTC()
	}
	// Marked before the insert so the trigger's notice never wins the race.
	p.ingested.add(e.ID, time.Now())
	if err := p.events.AppendEvent(ctx, e); err != nil {
		return e, Result{}, model.Unavailable("append event", err)
	}
	res, err := p.ProcessUser(ctx, e.UserID)
	return e, res, err
}

// Ingested reports whether eventID was stored by Ingest in this process
// recently, so its pass has already run.
func (p *Pipeline) Ingested(eventID string) bool {
	return p.ingested.has(eventID, time.Now())
}

// ProcessUser recomputes today's score for userID and evaluates it.
func (p *Pipeline) ProcessUser(ctx context.Context, userID string) (Result, error) {
	unlock := p.locks.Lock(userID)
	defer unlock()

	now := p.now().UTC()
	sc, err := p.scores.ComputeDailyScore(ctx, userID, now)
	if err != nil {
		return Result{UserID: userID}, err
	}
	res, err := p.evaluateLocked(ctx, userID, now)
	res.Score = &sc
	return res, err
}

// EvaluateUser evaluates userID's stored history without recomputing.
func (p *Pipeline) EvaluateUser(ctx context.Context, userID string) (Result, error) {
	unlock := p.locks.Lock(userID)
	defer unlock()
	return p.evaluateLocked(ctx, userID, p.now().UTC())
}

func (p *Pipeline) evaluateLocked(ctx context.Context, userID string, now time.Time) (Result, error) {
	res := Result{UserID: userID}
	ev, err := p.interventions.EvaluateUser(ctx, userID, now)
	res.Evaluation = ev
	if err != nil {
		return res, err
	}
	for _, req := range ev.Requests {
		d, err := p.dispatcher.Dispatch(ctx, req)
		res.Dispatched = append(res.Dispatched, d)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// Sweep evaluates every recently active user. A failing user is reported
// and the sweep continues; cancellation stops it.
func (p *Pipeline) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var res SweepResult

	since := model.Day(p.now()).AddDate(0, 0, -p.scores.Params().EventLookbackDays)
	users, err := p.events.ActiveUsers(ctx, since)
	if err != nil {
		return res, model.Unavailable("list active users", err)
	}
	res.Users = len(users)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, userID := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := p.EvaluateUser(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			res.add(r)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.Errors = append(res.Errors, fmt.Sprintf("user %s: %v", userID, err))
			}
			return nil
		})
	}
	waitErr := g.Wait()
	res.Duration = time.Since(start)
	if err := errors.Join(ctx.Err(), waitErr); err != nil {
		return res, err
	}

	p.logger.Info("Evaluation sweep complete", "summary", res.Summary())
	return res, nil
}

func (r *SweepResult) add(u Result) {
	r.Suppressed += len(u.Evaluation.Suppressed)
	r.Deferred += len(u.Evaluation.Deferred)
	for _, d := range u.Dispatched {
		switch d.Outcome {
		case model.OutcomeSent:
			r.Sent++
		case model.OutcomeFailed:
			r.Failed++
		}
	}
}

// Nightly scores date for every active user, then sweeps evaluations. The
// sweep still runs when some users failed to score.
func (p *Pipeline) Nightly(ctx context.Context, date time.Time) (momentum.BatchResult, SweepResult, error) {
	batch, batchErr := p.scores.RunBatch(ctx, date, p.workers)
	if ctx.Err() != nil {
		return batch, SweepResult{}, batchErr
	}
	sweep, sweepErr := p.Sweep(ctx)
	return batch, sweep, errors.Join(batchErr, sweepErr)
}

// ingestedTTL bounds how long Ingest's event ids are remembered. A notice
// arriving later than this triggers a second, idempotent pass.
const ingestedTTL = 10 * time.Minute

type eventSet struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func newEventSet(ttl time.Duration) *eventSet {
	return &eventSet{ttl: ttl, seen: make(map[string]time.Time)}
}

func (s *eventSet) add(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.seen {
		if now.Sub(at) >= s.ttl {
			delete(s.seen, k)
		}
	}
	s.seen[id] = now
}

func (s *eventSet) has(id string, now time.Time) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.seen[id]
	return ok && now.Sub(at) < s.ttl
}
