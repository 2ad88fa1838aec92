// Package db provides a pgxpool-based connection pool with schema bootstrap,
// prepared statement registration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/momentum/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New applies the schema, then creates and validates a connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if err := Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Migrate applies the idempotent schema on a dedicated connection. It runs
// before the pool exists because prepared statements reference the tables.
func Migrate(ctx context.Context, dbURL string) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

const scoreColumns = `user_id, score_date, raw_score, zone, insufficient_history, events_count,
	counted_by_type, decayed_sum, smoothed_sum, algorithm_version, computed_at`

const interventionColumns = `id, user_id, rule_id, fired_at, notification_id, outcome, test_name, variant_id, reason`

const actionColumns = `id, user_id, action_type, payload, notification_id, state, error, created_at, updated_at`

const preferenceColumns = `user_id, max_per_day, preferred_hours, min_hours_between, auto_optimized, updated_at`

// registerPreparedStatements registers every statement the store uses.
// Statement names double as the query argument to Exec/Query.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Events
		"event_insert": `INSERT INTO engagement_events (id, user_id, event_type, occurred_at, weight)
			VALUES ($1, $2, $3, $4, $5)`,
		"events_for_user": `SELECT id, user_id, event_type, occurred_at, weight FROM engagement_events
			WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at <= $3 ORDER BY occurred_at, id`,
		"active_users": "SELECT DISTINCT user_id FROM engagement_events WHERE occurred_at >= $1 ORDER BY user_id",
		"known_users": `SELECT user_id FROM engagement_events
			UNION SELECT user_id FROM daily_scores
			UNION SELECT user_id FROM user_preferences ORDER BY user_id`,

		// Daily scores
		"score_upsert": `INSERT INTO daily_scores (` + scoreColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (user_id, score_date) DO UPDATE SET
				raw_score = EXCLUDED.raw_score, zone = EXCLUDED.zone,
				insufficient_history = EXCLUDED.insufficient_history,
				events_count = EXCLUDED.events_count, counted_by_type = EXCLUDED.counted_by_type,
				decayed_sum = EXCLUDED.decayed_sum, smoothed_sum = EXCLUDED.smoothed_sum,
				algorithm_version = EXCLUDED.algorithm_version, computed_at = EXCLUDED.computed_at`,
		"score_insert_missing": `INSERT INTO daily_scores (` + scoreColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (user_id, score_date) DO NOTHING`,
		"score_history": `SELECT ` + scoreColumns + ` FROM daily_scores
			WHERE user_id = $1 AND score_date >= $2 AND score_date <= $3 ORDER BY score_date`,
		"score_latest_before": `SELECT ` + scoreColumns + ` FROM daily_scores
			WHERE user_id = $1 AND score_date < $2 ORDER BY score_date DESC LIMIT 1`,

		// Preferences
		"preference_get":  `SELECT ` + preferenceColumns + ` FROM user_preferences WHERE user_id = $1`,
		"preference_list": `SELECT ` + preferenceColumns + ` FROM user_preferences ORDER BY user_id`,
		"preference_upsert": `INSERT INTO user_preferences (` + preferenceColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id) DO UPDATE SET
				max_per_day = EXCLUDED.max_per_day, preferred_hours = EXCLUDED.preferred_hours,
				min_hours_between = EXCLUDED.min_hours_between, auto_optimized = EXCLUDED.auto_optimized,
				updated_at = EXCLUDED.updated_at`,

		"preference_set_optimized": `UPDATE user_preferences SET max_per_day = $2, updated_at = $3
			WHERE user_id = $1 AND auto_optimized`,

		// Intervention records
		"intervention_insert": `INSERT INTO intervention_records (` + interventionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		"interventions_since": `SELECT ` + interventionColumns + ` FROM intervention_records
			WHERE user_id = $1 AND fired_at >= $2 ORDER BY seq`,
		"intervention_by_notification": `SELECT ` + interventionColumns + ` FROM intervention_records
			WHERE notification_id = $1 ORDER BY seq DESC LIMIT 1`,
		"interventions_purge_suppressed": "DELETE FROM intervention_records WHERE outcome = 'suppressed' AND fired_at < $1",

		// Effectiveness samples
		"sample_insert": `INSERT INTO effectiveness_samples (user_id, test_name, variant_id, event, occurred_at)
			VALUES ($1, $2, $3, $4, $5)`,
		"sample_variant_counts": `SELECT event, COUNT(*) FROM effectiveness_samples
			WHERE test_name = $1 AND variant_id = $2 AND occurred_at >= $3 GROUP BY event`,
		"sample_user_counts": `SELECT event, COUNT(*) FROM effectiveness_samples
			WHERE user_id = $1 AND occurred_at >= $2 GROUP BY event`,

		// Deep-link actions
		"action_insert": `INSERT INTO deeplink_actions (` + actionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		"action_update_state": `UPDATE deeplink_actions SET state = $2, error = $3, updated_at = $4
			WHERE id = $1 AND state IN ('pending', 'requires_context')`,
		"action_get": `SELECT ` + actionColumns + ` FROM deeplink_actions WHERE id = $1`,
		"actions_open": `SELECT ` + actionColumns + ` FROM deeplink_actions
			WHERE user_id = $1 AND state IN ('pending', 'requires_context') ORDER BY created_at, seq`,
		"actions_purge": `DELETE FROM deeplink_actions
			WHERE state IN ('dispatched', 'failed', 'superseded') AND updated_at < $1`,

		// Variants
		"variants_list": "SELECT test_name, variant_id, weight, base_weight, updated_at FROM ab_variants ORDER BY test_name, variant_id",
		"variant_upsert": `INSERT INTO ab_variants (test_name, variant_id, weight, base_weight, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (test_name, variant_id) DO UPDATE SET
				weight = EXCLUDED.weight, base_weight = EXCLUDED.base_weight, updated_at = EXCLUDED.updated_at`,
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
