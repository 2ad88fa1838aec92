package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/albapepper/momentum/internal/db"
	"github.com/albapepper/momentum/internal/model"
)

var _ Store = (*Postgres)(nil)

// Postgres runs the prepared statements registered by db.New.
type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.HealthCheck(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

func (p *Postgres) AppendEvent(ctx context.Context, e model.EngagementEvent) error {
	if _, err := p.pool.Exec(ctx, "event_insert", e.ID, e.UserID, string(e.Type), e.Timestamp, e.Weight); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (p *Postgres) EventsForUser(ctx context.Context, userID string, from, to time.Time) ([]model.EngagementEvent, error) {
	rows, err := p.pool.Query(ctx, "events_for_user", userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.EngagementEvent
	for rows.Next() {
		var e model.EngagementEvent
		var typ string
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Timestamp, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = model.EventType(typ)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	return p.queryStrings(ctx, "active_users", since)
}

func (p *Postgres) KnownUsers(ctx context.Context) ([]string, error) {
	return p.queryStrings(ctx, "known_users")
}

func (p *Postgres) queryStrings(ctx context.Context, stmt string, args ...any) ([]string, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// --------------------------------------------------------------------------
// Daily scores
// --------------------------------------------------------------------------

func pgScoreArgs(sc model.DailyScore) ([]any, error) {
	counted, err := json.Marshal(sc.CountedByType)
	if err != nil {
		return nil, fmt.Errorf("marshal counted_by_type: %w", err)
	}
	return []any{
		sc.UserID, model.Day(sc.Date), sc.RawScore, string(sc.Zone), sc.InsufficientHistory,
		sc.EventsCount, counted, sc.DecayedSum, sc.SmoothedSum, sc.AlgorithmVersion, sc.ComputedAt,
	}, nil
}

func (p *Postgres) SaveDailyScore(ctx context.Context, sc model.DailyScore) error {
	args, err := pgScoreArgs(sc)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "score_upsert", args...); err != nil {
		return fmt.Errorf("upsert daily score: %w", err)
	}
	return nil
}

func (p *Postgres) InsertScoreIfMissing(ctx context.Context, sc model.DailyScore) (bool, error) {
	args, err := pgScoreArgs(sc)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx, "score_insert_missing", args...)
	if err != nil {
		return false, fmt.Errorf("insert daily score: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ScoreHistory(ctx context.Context, userID string, from, to time.Time) ([]model.DailyScore, error) {
	rows, err := p.pool.Query(ctx, "score_history", userID, model.Day(from), model.Day(to))
	if err != nil {
		return nil, fmt.Errorf("query score history: %w", err)
	}
	defer rows.Close()

	var out []model.DailyScore
	for rows.Next() {
		sc, err := scanPgScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestScoreBefore(ctx context.Context, userID string, day time.Time) (model.DailyScore, error) {
	sc, err := scanPgScore(p.pool.QueryRow(ctx, "score_latest_before", userID, model.Day(day)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DailyScore{}, model.ErrNotFound
	}
	return sc, err
}

func scanPgScore(r pgx.Row) (model.DailyScore, error) {
	var sc model.DailyScore
	var zone string
	var counted []byte
	err := r.Scan(&sc.UserID, &sc.Date, &sc.RawScore, &zone, &sc.InsufficientHistory, &sc.EventsCount,
		&counted, &sc.DecayedSum, &sc.SmoothedSum, &sc.AlgorithmVersion, &sc.ComputedAt)
	if err != nil {
		return sc, err
	}
	sc.Date = model.Day(sc.Date)
	sc.Zone = model.Zone(zone)
	sc.ComputedAt = sc.ComputedAt.UTC()
	if err := json.Unmarshal(counted, &sc.CountedByType); err != nil {
		return sc, fmt.Errorf("decode counted_by_type: %w", err)
	}
	return sc, nil
}

// --------------------------------------------------------------------------
// Preferences
// --------------------------------------------------------------------------

func (p *Postgres) GetPreference(ctx context.Context, userID string) (model.UserPreference, error) {
	pref, err := scanPgPreference(p.pool.QueryRow(ctx, "preference_get", userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.UserPreference{}, model.ErrNotFound
	}
	return pref, err
}

func (p *Postgres) ListPreferences(ctx context.Context) ([]model.UserPreference, error) {
	rows, err := p.pool.Query(ctx, "preference_list")
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []model.UserPreference
	for rows.Next() {
		pref, err := scanPgPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pref)
	}
	return out, rows.Err()
}

func scanPgPreference(r pgx.Row) (model.UserPreference, error) {
	var pref model.UserPreference
	var hours []int32
	if err := r.Scan(&pref.UserID, &pref.MaxInterventionsPerDay, &hours, &pref.MinHoursBetween, &pref.AutoOptimized, &pref.UpdatedAt); err != nil {
		return pref, err
	}
	for _, h := range hours {
		pref.PreferredHours = append(pref.PreferredHours, int(h))
	}
	pref.UpdatedAt = pref.UpdatedAt.UTC()
	return pref, nil
}

func (p *Postgres) SavePreference(ctx context.Context, pref model.UserPreference) error {
	hours := make([]int32, 0, len(pref.PreferredHours))
	for _, h := range pref.PreferredHours {
		hours = append(hours, int32(h))
	}
	_, err := p.pool.Exec(ctx, "preference_upsert",
		pref.UserID, pref.MaxInterventionsPerDay, hours, pref.MinHoursBetween, pref.AutoOptimized, pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (p *Postgres) SetOptimizedMaxPerDay(ctx context.Context, userID string, maxPerDay int, at time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, "preference_set_optimized", userID, maxPerDay, at)
	if err != nil {
		return false, fmt.Errorf("update optimized preference: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// --------------------------------------------------------------------------
// Intervention records
// --------------------------------------------------------------------------

func (p *Postgres) AppendIntervention(ctx context.Context, r model.InterventionRecord) error {
	_, err := p.pool.Exec(ctx, "intervention_insert",
		r.ID, r.UserID, r.RuleID, r.FiredAt, r.NotificationID, string(r.Outcome), r.TestName, r.VariantID, r.Reason)
	if err != nil {
		return fmt.Errorf("insert intervention: %w", err)
	}
	return nil
}

func (p *Postgres) InterventionsSince(ctx context.Context, userID string, since time.Time) ([]model.InterventionRecord, error) {
	rows, err := p.pool.Query(ctx, "interventions_since", userID, since)
	if err != nil {
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer rows.Close()

	var out []model.InterventionRecord
	for rows.Next() {
		r, err := scanPgIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) InterventionByNotification(ctx context.Context, notificationID string) (model.InterventionRecord, error) {
	r, err := scanPgIntervention(p.pool.QueryRow(ctx, "intervention_by_notification", notificationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, model.ErrNotFound
	}
	return r, err
}

func scanPgIntervention(row pgx.Row) (model.InterventionRecord, error) {
	var r model.InterventionRecord
	var outcome string
	err := row.Scan(&r.ID, &r.UserID, &r.RuleID, &r.FiredAt, &r.NotificationID, &outcome, &r.TestName, &r.VariantID, &r.Reason)
	r.FiredAt = r.FiredAt.UTC()
	r.Outcome = model.Outcome(outcome)
	return r, err
}

// --------------------------------------------------------------------------
// Effectiveness samples
// --------------------------------------------------------------------------

func (p *Postgres) AppendSample(ctx context.Context, s model.EffectivenessSample) error {
	_, err := p.pool.Exec(ctx, "sample_insert", s.UserID, s.TestName, s.VariantID, string(s.Event), s.Timestamp)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (p *Postgres) VariantCounts(ctx context.Context, testName, variantID string, since time.Time) (model.FeedbackCounts, error) {
	return p.counts(ctx, "sample_variant_counts", testName, variantID, since)
}

func (p *Postgres) UserCounts(ctx context.Context, userID string, since time.Time) (model.FeedbackCounts, error) {
	return p.counts(ctx, "sample_user_counts", userID, since)
}

func (p *Postgres) counts(ctx context.Context, stmt string, args ...any) (model.FeedbackCounts, error) {
	var c model.FeedbackCounts
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return c, fmt.Errorf("query sample counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var event string
		var n int
		if err := rows.Scan(&event, &n); err != nil {
			return c, err
		}
		addCount(&c, event, n)
	}
	return c, rows.Err()
}

// --------------------------------------------------------------------------
// Deep-link actions
// --------------------------------------------------------------------------

func (p *Postgres) SaveAction(ctx context.Context, a model.DeepLinkAction) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = p.pool.Exec(ctx, "action_insert",
		a.ID, a.UserID, string(a.Type()), payload, a.NotificationID, string(a.State), a.Error, a.CreatedAt, a.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: action %s already exists", model.ErrInvalidInput, a.ID)
	}
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateActionState(ctx context.Context, id string, state model.ActionState, errMsg string, at time.Time) error {
	tag, err := p.pool.Exec(ctx, "action_update_state", id, string(state), errMsg, at)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetAction(ctx context.Context, id string) (model.DeepLinkAction, error) {
	a, err := scanPgAction(p.pool.QueryRow(ctx, "action_get", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, model.ErrNotFound
	}
	return a, err
}

func (p *Postgres) OpenActions(ctx context.Context, userID string) ([]model.DeepLinkAction, error) {
	rows, err := p.pool.Query(ctx, "actions_open", userID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []model.DeepLinkAction
	for rows.Next() {
		a, err := scanPgAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanPgAction(r pgx.Row) (model.DeepLinkAction, error) {
	var a model.DeepLinkAction
	var typ, state string
	var payload []byte
	if err := r.Scan(&a.ID, &a.UserID, &typ, &payload, &a.NotificationID, &state, &a.Error, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	pl, err := model.DecodePayload(model.ActionType(typ), payload)
	if err != nil {
		return a, err
	}
	a.Payload = pl
	a.State = model.ActionState(state)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// --------------------------------------------------------------------------
// Variants
// --------------------------------------------------------------------------

func (p *Postgres) ListVariants(ctx context.Context) ([]model.ABVariant, error) {
	rows, err := p.pool.Query(ctx, "variants_list")
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var out []model.ABVariant
	for rows.Next() {
		var v model.ABVariant
		if err := rows.Scan(&v.TestName, &v.VariantID, &v.Weight, &v.BaseWeight, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveVariant(ctx context.Context, v model.ABVariant) error {
	if _, err := p.pool.Exec(ctx, "variant_upsert", v.TestName, v.VariantID, v.Weight, v.BaseWeight, v.UpdatedAt); err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Cleanup
// --------------------------------------------------------------------------

func (p *Postgres) PurgeActions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, "actions_purge", before)
	if err != nil {
		return 0, fmt.Errorf("purge actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) PurgeSuppressed(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, "interventions_purge_suppressed", before)
	if err != nil {
		return 0, fmt.Errorf("purge suppressed: %w", err)
	}
	return tag.RowsAffected(), nil
}
