package momentum

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

// Store is the slice of the persistence layer the engine touches.
type Store interface {
	store.EventStore
	store.ScoreStore
}

// Engine loads events, scores them and persists one DailyScore per call.
type Engine struct {
	store  Store
	params config.Scoring
	logger *slog.Logger
	now    func() time.Time
}

func NewEngine(st Store, params config.Scoring, logger *slog.Logger) *Engine {
	return &Engine{store: st, params: params, logger: logger, now: time.Now}
}

// Params returns the scoring parameters in use.
func (e *Engine) Params() config.Scoring { return e.params }

// ComputeDailyScore scores userID as of the instant asOf and upserts the
// row for asOf's UTC day. Days before yesterday are closed: an existing row
// is returned unchanged and a missing one is written once. Store failures
// return ErrDataUnavailable and nothing is written.
func (e *Engine) ComputeDailyScore(ctx context.Context, userID string, asOf time.Time) (model.DailyScore, error) {
	asOf = asOf.UTC()
	today := model.Day(asOf)
	closed := e.closed(today)

	var prev model.Zone
	last, err := e.store.LatestScoreBefore(ctx, userID, today)
	switch {
	case err == nil:
		prev = last.Zone
	case errors.Is(err, model.ErrNotFound):
	default:
		return model.DailyScore{}, model.Unavailable("load previous score", err)
	}

	from := today.AddDate(0, 0, -e.params.EventLookbackDays)
	events, err := e.store.EventsForUser(ctx, userID, from, asOf)
	if err != nil {
		return model.DailyScore{}, model.Unavailable("load events", err)
	}

	sc := Calculate(userID, events, asOf, prev, e.params)
	sc.ComputedAt = e.now().UTC()

	if err := ctx.Err(); err != nil {
		return model.DailyScore{}, err
	}
	if closed {
		return e.insertClosed(ctx, sc)
	}
	if err := e.store.SaveDailyScore(ctx, sc); err != nil {
		return model.DailyScore{}, model.Unavailable("save daily score", err)
	}

	e.logger.Debug("Daily score computed",
		"user_id", userID,
		"date", model.DateString(sc.Date),
		"score", sc.RawScore,
		"zone", sc.Zone,
		"events", sc.EventsCount)
	return sc, nil
}

// closed reports whether day is older than yesterday (UTC), the last day
// the nightly batch finalizes.
func (e *Engine) closed(day time.Time) bool {
	return day.Before(model.Day(e.now().UTC()).AddDate(0, 0, -1))
}

// insertClosed writes sc only if its day has no row, and otherwise returns
// the stored row.
func (e *Engine) insertClosed(ctx context.Context, sc model.DailyScore) (model.DailyScore, error) {
	inserted, err := e.store.InsertScoreIfMissing(ctx, sc)
	if err != nil {
		return model.DailyScore{}, model.Unavailable("save daily score", err)
	}
	if inserted {
		return sc, nil
	}
	stored, err := e.store.ScoreHistory(ctx, sc.UserID, sc.Date, sc.Date)
	if err != nil {
		return model.DailyScore{}, model.Unavailable("load closed score", err)
	}
	if len(stored) == 0 {
		return model.DailyScore{}, model.Unavailable("load closed score", model.ErrNotFound)
	}
	e.logger.Debug("Closed day kept", "user_id", sc.UserID, "date", model.DateString(sc.Date))
	return stored[0], nil
}

// History returns userID's scores for the days in [from, to].
func (e *Engine) History(ctx context.Context, userID string, from, to time.Time) ([]model.DailyScore, error) {
	h, err := e.store.ScoreHistory(ctx, userID, from, to)
	if err != nil {
		return nil, model.Unavailable("load score history", err)
	}
	return h, nil
}
