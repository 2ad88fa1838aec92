package momentum

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/momentum/internal/model"
)

// BackfillResult summarizes a gap-filling run.
type BackfillResult struct {
	Users    int
	Missing  int
	Inserted int
	DryRun   bool
	Errors   []string
}

func (r *BackfillResult) Summary() string {
	return fmt.Sprintf("users=%d missing=%d inserted=%d dry_run=%t errors=%d",
		r.Users, r.Missing, r.Inserted, r.DryRun, len(r.Errors))
}

// Backfill writes a placeholder score (0, NeedsCare, insufficient history)
// for every known user and every day in [from, to] without a row. Existing
// rows are never touched. With dryRun only the gaps are counted.
func (e *Engine) Backfill(ctx context.Context, from, to time.Time, dryRun bool) (BackfillResult, error) {
	res := BackfillResult{DryRun: dryRun}
	from, to = model.Day(from), model.Day(to)
	if to.Before(from) {
		return res, fmt.Errorf("%w: backfill range ends before it starts", model.ErrInvalidInput)
	}

	users, err := e.store.KnownUsers(ctx)
	if err != nil {
		return res, model.Unavailable("list known users", err)
	}
	res.Users = len(users)

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hist, err := e.store.ScoreHistory(ctx, userID, from, to)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", userID, err))
			continue
		}
		have := make(map[time.Time]bool, len(hist))
		for _, s := range hist {
			have[model.Day(s.Date)] = true
		}

		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if have[d] {
				continue
			}
			res.Missing++
			if dryRun {
				continue
			}
			ok, err := e.store.InsertScoreIfMissing(ctx, placeholder(userID, d, e.now().UTC()))
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("%s %s: %v", userID, model.DateString(d), err))
				continue
			}
			if ok {
				res.Inserted++
			}
		}
	}

	e.logger.Info("Backfill finished", "summary", res.Summary())
	if len(res.Errors) > 0 {
		return res, model.Unavailable("backfill", fmt.Errorf("%d errors, first: %s", len(res.Errors), res.Errors[0]))
	}
	return res, nil
}

func placeholder(userID string, day, at time.Time) model.DailyScore {
	return model.DailyScore{
		UserID:              userID,
		Date:                day,
		RawScore:            0,
		Zone:                model.ZoneNeedsCare,
		InsufficientHistory: true,
		AlgorithmVersion:    AlgorithmVersion,
		ComputedAt:          at,
	}
}
