// Package store is the persistence collaborator for the momentum engines.
//
// Two backends implement Store: Postgres (pgxpool, used in production with
// LISTEN/NOTIFY) and SQLite (modernc, used for local runs and tests). Event,
// intervention and sample writes are append-only. Daily scores are upserted
// per (user, date) in a single statement so a row is either fully written or
// absent.
package store

import (
	"context"
	"time"

	"github.com/albapepper/momentum/internal/model"
)

// Store is the union of the per-entity stores below.
type Store interface {
	EventStore
	ScoreStore
	PreferenceStore
	InterventionStore
	SampleStore
	ActionStore
	VariantStore

	// PurgeActions deletes terminal deep-link actions last updated before t.
	PurgeActions(ctx context.Context, before time.Time) (int64, error)
	// PurgeSuppressed deletes suppressed intervention records fired before t.
	PurgeSuppressed(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

type EventStore interface {
	AppendEvent(ctx context.Context, e model.EngagementEvent) error
	// EventsForUser returns events with from <= timestamp <= to, oldest first.
	EventsForUser(ctx context.Context, userID string, from, to time.Time) ([]model.EngagementEvent, error)
	// ActiveUsers returns users with at least one event at or after since.
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
	// KnownUsers returns every user with an event, score or preference row.
	KnownUsers(ctx context.Context) ([]string, error)
}

type ScoreStore interface {
	SaveDailyScore(ctx context.Context, s model.DailyScore) error
	// InsertScoreIfMissing writes s only when no row exists for its day.
	InsertScoreIfMissing(ctx context.Context, s model.DailyScore) (bool, error)
	// ScoreHistory returns scores for days in [from, to], oldest first.
	ScoreHistory(ctx context.Context, userID string, from, to time.Time) ([]model.DailyScore, error)
	// LatestScoreBefore returns the newest score dated before day, or
	// ErrNotFound.
	LatestScoreBefore(ctx context.Context, userID string, day time.Time) (model.DailyScore, error)
}

type PreferenceStore interface {
	// GetPreference returns ErrNotFound when the user has no row yet.
	GetPreference(ctx context.Context, userID string) (model.UserPreference, error)
	SavePreference(ctx context.Context, p model.UserPreference) error
	// SetOptimizedMaxPerDay updates max_per_day only while the row is still
	// auto-optimized. It reports whether a row changed.
	SetOptimizedMaxPerDay(ctx context.Context, userID string, maxPerDay int, at time.Time) (bool, error)
	ListPreferences(ctx context.Context) ([]model.UserPreference, error)
}

type InterventionStore interface {
	AppendIntervention(ctx context.Context, r model.InterventionRecord) error
	// InterventionsSince returns records fired at or after since, in
	// append order.
	InterventionsSince(ctx context.Context, userID string, since time.Time) ([]model.InterventionRecord, error)
	InterventionByNotification(ctx context.Context, notificationID string) (model.InterventionRecord, error)
}

type SampleStore interface {
	AppendSample(ctx context.Context, s model.EffectivenessSample) error
	VariantCounts(ctx context.Context, testName, variantID string, since time.Time) (model.FeedbackCounts, error)
	UserCounts(ctx context.Context, userID string, since time.Time) (model.FeedbackCounts, error)
}

type ActionStore interface {
	SaveAction(ctx context.Context, a model.DeepLinkAction) error
	UpdateActionState(ctx context.Context, id string, state model.ActionState, errMsg string, at time.Time) error
	GetAction(ctx context.Context, id string) (model.DeepLinkAction, error)
	// OpenActions returns the user's pending and requires_context actions,
	// oldest first.
	OpenActions(ctx context.Context, userID string) ([]model.DeepLinkAction, error)
}

type VariantStore interface {
	ListVariants(ctx context.Context) ([]model.ABVariant, error)
	SaveVariant(ctx context.Context, v model.ABVariant) error
}

// addCount folds one grouped (event, n) row into c.
func addCount(c *model.FeedbackCounts, event string, n int) {
	switch model.FeedbackEvent(event) {
	case model.FeedbackSent:
		c.Sent += n
	case model.FeedbackOpened:
		c.Opened += n
	case model.FeedbackClicked:
		c.Clicked += n
	case model.FeedbackIgnored:
		c.Ignored += n
	}
}
