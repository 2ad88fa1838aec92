package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/albapepper/momentum/internal/model"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMs(v int64) time.Time { return time.UnixMilli(v).UTC() }

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

func (s *SQLite) AppendEvent(ctx context.Context, e model.EngagementEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_events (id, user_id, event_type, occurred_at, weight)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.UserID, string(e.Type), ms(e.Timestamp), e.Weight)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *SQLite) EventsForUser(ctx context.Context, userID string, from, to time.Time) ([]model.EngagementEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_type, occurred_at, weight
		FROM engagement_events
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at, id
	`, userID, ms(from), ms(to))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.EngagementEvent
	for rows.Next() {
		var e model.EngagementEvent
		var typ string
		var at int64
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &at, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = model.EventType(typ)
		e.Timestamp = fromMs(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT DISTINCT user_id FROM engagement_events WHERE occurred_at >= ? ORDER BY user_id
	`, ms(since))
}

func (s *SQLite) KnownUsers(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT user_id FROM engagement_events
		UNION SELECT user_id FROM daily_scores
		UNION SELECT user_id FROM user_preferences
		ORDER BY user_id
	`)
}

func (s *SQLite) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// --------------------------------------------------------------------------
// Daily scores
// --------------------------------------------------------------------------

const scoreColumns = `user_id, score_date, raw_score, zone, insufficient_history, events_count,
	counted_by_type, decayed_sum, smoothed_sum, algorithm_version, computed_at`

func scoreArgs(sc model.DailyScore) ([]any, error) {
	counted, err := json.Marshal(sc.CountedByType)
	if err != nil {
		return nil, fmt.Errorf("marshal counted_by_type: %w", err)
	}
	return []any{
		sc.UserID, model.DateString(sc.Date), sc.RawScore, string(sc.Zone), sc.InsufficientHistory,
		sc.EventsCount, string(counted), sc.DecayedSum, sc.SmoothedSum, sc.AlgorithmVersion, ms(sc.ComputedAt),
	}, nil
}

func (s *SQLite) SaveDailyScore(ctx context.Context, sc model.DailyScore) error {
	args, err := scoreArgs(sc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_scores (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, score_date) DO UPDATE SET
			raw_score = excluded.raw_score,
			zone = excluded.zone,
			insufficient_history = excluded.insufficient_history,
			events_count = excluded.events_count,
			counted_by_type = excluded.counted_by_type,
			decayed_sum = excluded.decayed_sum,
			smoothed_sum = excluded.smoothed_sum,
			algorithm_version = excluded.algorithm_version,
			computed_at = excluded.computed_at
	`, args...)
	if err != nil {
		return fmt.Errorf("upsert daily score: %w", err)
	}
	return nil
}

func (s *SQLite) InsertScoreIfMissing(ctx context.Context, sc model.DailyScore) (bool, error) {
	args, err := scoreArgs(sc)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_scores (`+scoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, score_date) DO NOTHING
	`, args...)
	if err != nil {
		return false, fmt.Errorf("insert daily score: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) ScoreHistory(ctx context.Context, userID string, from, to time.Time) ([]model.DailyScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scoreColumns+` FROM daily_scores
		WHERE user_id = ? AND score_date >= ? AND score_date <= ?
		ORDER BY score_date
	`, userID, model.DateString(from), model.DateString(to))
	if err != nil {
		return nil, fmt.Errorf("query score history: %w", err)
	}
	defer rows.Close()

	var out []model.DailyScore
	for rows.Next() {
		sc, err := scanSQLiteScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLite) LatestScoreBefore(ctx context.Context, userID string, day time.Time) (model.DailyScore, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+scoreColumns+` FROM daily_scores
		WHERE user_id = ? AND score_date < ?
		ORDER BY score_date DESC LIMIT 1
	`, userID, model.DateString(day))
	sc, err := scanSQLiteScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DailyScore{}, model.ErrNotFound
	}
	return sc, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteScore(r scanner) (model.DailyScore, error) {
	var sc model.DailyScore
	var date, zone, counted string
	var computed int64
	err := r.Scan(&sc.UserID, &date, &sc.RawScore, &zone, &sc.InsufficientHistory, &sc.EventsCount,
		&counted, &sc.DecayedSum, &sc.SmoothedSum, &sc.AlgorithmVersion, &computed)
	if err != nil {
		return sc, err
	}
	if sc.Date, err = model.ParseDate(date); err != nil {
		return sc, err
	}
	sc.Zone = model.Zone(zone)
	sc.ComputedAt = fromMs(computed)
	if err := json.Unmarshal([]byte(counted), &sc.CountedByType); err != nil {
		return sc, fmt.Errorf("decode counted_by_type: %w", err)
	}
	return sc, nil
}

// --------------------------------------------------------------------------
// Preferences
// --------------------------------------------------------------------------

func (s *SQLite) GetPreference(ctx context.Context, userID string) (model.UserPreference, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, max_per_day, preferred_hours, min_hours_between, auto_optimized, updated_at
		FROM user_preferences WHERE user_id = ?
	`, userID)
	p, err := scanSQLitePreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserPreference{}, model.ErrNotFound
	}
	return p, err
}

func (s *SQLite) ListPreferences(ctx context.Context) ([]model.UserPreference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, max_per_day, preferred_hours, min_hours_between, auto_optimized, updated_at
		FROM user_preferences ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var out []model.UserPreference
	for rows.Next() {
		p, err := scanSQLitePreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSQLitePreference(r scanner) (model.UserPreference, error) {
	var p model.UserPreference
	var hours string
	var updated int64
	if err := r.Scan(&p.UserID, &p.MaxInterventionsPerDay, &hours, &p.MinHoursBetween, &p.AutoOptimized, &updated); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(hours), &p.PreferredHours); err != nil {
		return p, fmt.Errorf("decode preferred_hours: %w", err)
	}
	p.UpdatedAt = fromMs(updated)
	return p, nil
}

func (s *SQLite) SavePreference(ctx context.Context, p model.UserPreference) error {
	hours, err := json.Marshal(hoursOrEmpty(p.PreferredHours))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, max_per_day, preferred_hours, min_hours_between, auto_optimized, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			max_per_day = excluded.max_per_day,
			preferred_hours = excluded.preferred_hours,
			min_hours_between = excluded.min_hours_between,
			auto_optimized = excluded.auto_optimized,
			updated_at = excluded.updated_at
	`, p.UserID, p.MaxInterventionsPerDay, string(hours), p.MinHoursBetween, p.AutoOptimized, ms(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (s *SQLite) SetOptimizedMaxPerDay(ctx context.Context, userID string, maxPerDay int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_preferences SET max_per_day = ?, updated_at = ?
		WHERE user_id = ? AND auto_optimized = 1
	`, maxPerDay, ms(at), userID)
	if err != nil {
		return false, fmt.Errorf("update optimized preference: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func hoursOrEmpty(h []int) []int {
	if h == nil {
		return []int{}
	}
	return h
}

// --------------------------------------------------------------------------
// Intervention records
// --------------------------------------------------------------------------

func (s *SQLite) AppendIntervention(ctx context.Context, r model.InterventionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intervention_records (id, user_id, rule_id, fired_at, notification_id, outcome, test_name, variant_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.RuleID, ms(r.FiredAt), r.NotificationID, string(r.Outcome), r.TestName, r.VariantID, r.Reason)
	if err != nil {
		return fmt.Errorf("insert intervention: %w", err)
	}
	return nil
}

const interventionColumns = `id, user_id, rule_id, fired_at, COALESCE(notification_id, ''), outcome, test_name, variant_id, reason`

func (s *SQLite) InterventionsSince(ctx context.Context, userID string, since time.Time) ([]model.InterventionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+interventionColumns+` FROM intervention_records
		WHERE user_id = ? AND fired_at >= ?
		ORDER BY seq
	`, userID, ms(since))
	if err != nil {
		return nil, fmt.Errorf("query interventions: %w", err)
	}
	defer rows.Close()

	var out []model.InterventionRecord
	for rows.Next() {
		r, err := scanSQLiteIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) InterventionByNotification(ctx context.Context, notificationID string) (model.InterventionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+interventionColumns+` FROM intervention_records
		WHERE notification_id = ? ORDER BY seq DESC LIMIT 1
	`, notificationID)
	r, err := scanSQLiteIntervention(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, model.ErrNotFound
	}
	return r, err
}

func scanSQLiteIntervention(r scanner) (model.InterventionRecord, error) {
	var rec model.InterventionRecord
	var fired int64
	var outcome string
	err := r.Scan(&rec.ID, &rec.UserID, &rec.RuleID, &fired, &rec.NotificationID, &outcome, &rec.TestName, &rec.VariantID, &rec.Reason)
	rec.FiredAt = fromMs(fired)
	rec.Outcome = model.Outcome(outcome)
	return rec, err
}

// --------------------------------------------------------------------------
// Effectiveness samples
// --------------------------------------------------------------------------

func (s *SQLite) AppendSample(ctx context.Context, e model.EffectivenessSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO effectiveness_samples (user_id, test_name, variant_id, event, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.UserID, e.TestName, e.VariantID, string(e.Event), ms(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func (s *SQLite) VariantCounts(ctx context.Context, testName, variantID string, since time.Time) (model.FeedbackCounts, error) {
	return s.counts(ctx, `
		SELECT event, COUNT(*) FROM effectiveness_samples
		WHERE test_name = ? AND variant_id = ? AND occurred_at >= ?
		GROUP BY event
	`, testName, variantID, ms(since))
}

func (s *SQLite) UserCounts(ctx context.Context, userID string, since time.Time) (model.FeedbackCounts, error) {
	return s.counts(ctx, `
		SELECT event, COUNT(*) FROM effectiveness_samples
		WHERE user_id = ? AND occurred_at >= ?
		GROUP BY event
	`, userID, ms(since))
}

func (s *SQLite) counts(ctx context.Context, query string, args ...any) (model.FeedbackCounts, error) {
	var c model.FeedbackCounts
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLite) SaveAction(ctx context.Context, a model.DeepLinkAction) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deeplink_actions (id, user_id, action_type, payload, notification_id, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, string(a.Type()), string(payload), a.NotificationID, string(a.State), a.Error, ms(a.CreatedAt), ms(a.UpdatedAt))
	if isSQLiteUnique(err) {
		return fmt.Errorf("%w: action %s already exists", model.ErrInvalidInput, a.ID)
	}
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateActionState(ctx context.Context, id string, state model.ActionState, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deeplink_actions SET state = ?, error = ?, updated_at = ?
		WHERE id = ? AND state IN ('pending', 'requires_context')
	`, string(state), errMsg, ms(at), id)
	if err != nil {
		return fmt.Errorf("update action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("action %s: %w", id, model.ErrNotFound)
	}
	return nil
}

const actionColumns = `id, user_id, action_type, payload, notification_id, state, error, created_at, updated_at`

func (s *SQLite) GetAction(ctx context.Context, id string) (model.DeepLinkAction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM deeplink_actions WHERE id = ?`, id)
	a, err := scanSQLiteAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, model.ErrNotFound
	}
	return a, err
}

func (s *SQLite) OpenActions(ctx context.Context, userID string) ([]model.DeepLinkAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM deeplink_actions
		WHERE user_id = ? AND state IN ('pending', 'requires_context')
		ORDER BY created_at, seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []model.DeepLinkAction
	for rows.Next() {
		a, err := scanSQLiteAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSQLiteAction(r scanner) (model.DeepLinkAction, error) {
	var a model.DeepLinkAction
	var typ, payload, state string
	var created, updated int64
	if err := r.Scan(&a.ID, &a.UserID, &typ, &payload, &a.NotificationID, &state, &a.Error, &created, &updated); err != nil {
		return a, err
	}
	p, err := model.DecodePayload(model.ActionType(typ), []byte(payload))
	if err != nil {
		return a, err
	}
	a.Payload = p
	a.State = model.ActionState(state)
	a.CreatedAt = fromMs(created)
	a.UpdatedAt = fromMs(updated)
	return a, nil
}

// --------------------------------------------------------------------------
// Variants
// --------------------------------------------------------------------------

func (s *SQLite) ListVariants(ctx context.Context) ([]model.ABVariant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_name, variant_id, weight, base_weight, updated_at
		FROM ab_variants ORDER BY test_name, variant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	var out []model.ABVariant
	for rows.Next() {
		var v model.ABVariant
		var updated int64
		if err := rows.Scan(&v.TestName, &v.VariantID, &v.Weight, &v.BaseWeight, &updated); err != nil {
			return nil, err
		}
		v.UpdatedAt = fromMs(updated)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveVariant(ctx context.Context, v model.ABVariant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ab_variants (test_name, variant_id, weight, base_weight, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (test_name, variant_id) DO UPDATE SET
			weight = excluded.weight,
			base_weight = excluded.base_weight,
			updated_at = excluded.updated_at
	`, v.TestName, v.VariantID, v.Weight, v.BaseWeight, ms(v.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Cleanup
// --------------------------------------------------------------------------

func (s *SQLite) PurgeActions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deeplink_actions
		WHERE state IN ('dispatched', 'failed', 'superseded') AND updated_at < ?
	`, ms(before))
	if err != nil {
		return 0, fmt.Errorf("purge actions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) PurgeSuppressed(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM intervention_records WHERE outcome = 'suppressed' AND fired_at < ?
	`, ms(before))
	if err != nil {
		return 0, fmt.Errorf("purge suppressed: %w", err)
	}
	return res.RowsAffected()
}
