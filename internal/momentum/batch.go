package momentum

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albapepper/momentum/internal/model"
)

// BatchResult summarizes one nightly scoring run.
type BatchResult struct {
	Date       time.Time
	UsersFound int
	Succeeded  int
	Failed     int
	Cancelled  bool
	Duration   time.Duration
	Errors     []string
	Scored     []string // user ids with a committed score
}

// Summary returns a human-readable summary.
func (r *BatchResult) Summary() string {
	return fmt.Sprintf("date=%s found=%d succeeded=%d failed=%d cancelled=%t dur=%s",
		model.DateString(r.Date), r.UsersFound, r.Succeeded, r.Failed, r.Cancelled,
		r.Duration.Round(time.Millisecond))
}

// RunBatch scores every user with events in the lookback window for date's
// UTC day, using at most workers concurrent computations. Each user-day is
// committed independently. Cancellation stops scheduling new users; rows for
// users not yet written are never partially committed. The returned error is
// non-nil when the run was cancelled or any user failed, so the scheduler
// retries the whole run.
func (e *Engine) RunBatch(ctx context.Context, date time.Time, workers int) (BatchResult, error) {
	start := time.Now()
	scoreDay := model.Day(date)
	result := BatchResult{Date: scoreDay}

	asOf := model.EndOfDay(scoreDay)
	if now := e.now().UTC(); now.Before(asOf) {
		asOf = now
	}

	users, err := e.store.ActiveUsers(ctx, scoreDay.AddDate(0, 0, -e.params.EventLookbackDays))
	if err != nil {
		result.Duration = time.Since(start)
		return result, model.Unavailable("list active users", err)
	}
	result.UsersFound = len(users)
	if len(users) == 0 {
		e.logger.Info("No users to score", "date", model.DateString(scoreDay))
		result.Duration = time.Since(start)
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	var mu sync.Mutex
	var firstErr error

	for _, userID := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := e.ComputeDailyScore(gctx, userID, asOf)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("user %s: %v", userID, err))
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			result.Succeeded++
			result.Scored = append(result.Scored, userID)
			return nil
		})
	}

	waitErr := g.Wait()
	result.Duration = time.Since(start)

	if ctx.Err() != nil || waitErr != nil {
		result.Cancelled = true
		e.logger.Warn("Score batch cancelled", "summary", result.Summary())
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, waitErr
	}

	e.logger.Info("Score batch complete", "summary", result.Summary())
	if firstErr != nil {
		return result, fmt.Errorf("score batch: %d of %d users failed: %w", result.Failed, result.UsersFound, firstErr)
	}
	return result, nil
}
