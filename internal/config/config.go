// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/momentum.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EventChannel is the Postgres NOTIFY channel fired on event insert.
const EventChannel = "engagement_event"

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database. An empty DatabaseURL selects the SQLite backend.
	DatabaseURL    string
	SQLitePath     string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Cache
	CacheEnabled bool

	Scoring       Scoring
	Interventions Interventions

	// Dispatch
	FirebaseCredentialsFile string
	PushGatewayURL          string
	PushGatewayToken        string
	PushGatewayRPM          int
	DispatchRetryDelays     []time.Duration

	EffectivenessWindowDays int

	// Workers
	BatchWorkers            int
	ScoreBatchInterval      time.Duration
	EvaluationSweepInterval time.Duration
	OptimizerInterval       time.Duration
	CleanupInterval         time.Duration
}

// Scoring holds the ScoreEngine parameters.
type Scoring struct {
	HalfLifeDays           float64
	RisingThreshold        float64
	NeedsCareThreshold     float64
	HysteresisMargin       float64
	SmoothingDays          int
	EventLookbackDays      int
	MaxEventsPerTypePerDay int
	CalibrationLow         float64
	CalibrationHigh        float64
}

// Interventions holds the defaults written into a new UserPreference.
type Interventions struct {
	DefaultMaxPerDay       int
	DefaultMinHoursBetween int
	DefaultPreferredHours  []int
}

// DefaultScoring returns the scoring parameters used when no env overrides
// are present.
func DefaultScoring() Scoring {
	return Scoring{
		HalfLifeDays:           10,
		RisingThreshold:        70,
		NeedsCareThreshold:     45,
		HysteresisMargin:       3,
		SmoothingDays:          3,
		EventLookbackDays:      90,
		MaxEventsPerTypePerDay: 5,
		CalibrationLow:         4,
		CalibrationHigh:        40,
	}
}

// DefaultInterventions returns the default preference values.
func DefaultInterventions() Interventions {
	return Interventions{
		DefaultMaxPerDay:       3,
		DefaultMinHoursBetween: 4,
		DefaultPreferredHours:  hourRange(9, 21),
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	sd := DefaultScoring()
	id := DefaultInterventions()

	return &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		SQLitePath:     envOr("SQLITE_PATH", "./momentum.db"),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		CacheEnabled: envBool("CACHE_ENABLED", true),

		Scoring: Scoring{
			HalfLifeDays:           envFloat("HALF_LIFE_DAYS", sd.HalfLifeDays),
			RisingThreshold:        envFloat("ZONE_RISING_THRESHOLD", sd.RisingThreshold),
			NeedsCareThreshold:     envFloat("ZONE_NEEDS_CARE_THRESHOLD", sd.NeedsCareThreshold),
			HysteresisMargin:       envFloat("HYSTERESIS_MARGIN", sd.HysteresisMargin),
			SmoothingDays:          envInt("SMOOTHING_DAYS", sd.SmoothingDays),
			EventLookbackDays:      envInt("EVENT_LOOKBACK_DAYS", sd.EventLookbackDays),
			MaxEventsPerTypePerDay: envInt("MAX_EVENTS_PER_TYPE", sd.MaxEventsPerTypePerDay),
			CalibrationLow:         envFloat("CALIBRATION_LOW", sd.CalibrationLow),
			CalibrationHigh:        envFloat("CALIBRATION_HIGH", sd.CalibrationHigh),
		},
		Interventions: Interventions{
			DefaultMaxPerDay:       envInt("DEFAULT_MAX_PER_DAY", id.DefaultMaxPerDay),
			DefaultMinHoursBetween: envInt("DEFAULT_MIN_HOURS_BETWEEN", id.DefaultMinHoursBetween),
			DefaultPreferredHours:  envIntList("DEFAULT_PREFERRED_HOURS", id.DefaultPreferredHours),
		},

		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),
		PushGatewayURL:          envOr("PUSH_GATEWAY_URL", ""),
		PushGatewayToken:        envOr("PUSH_GATEWAY_TOKEN", ""),
		PushGatewayRPM:          envInt("PUSH_GATEWAY_RPM", 600),
		DispatchRetryDelays:     envDurations("DISPATCH_RETRY_DELAYS", []time.Duration{time.Second, 4 * time.Second}),

		EffectivenessWindowDays: envInt("EFFECTIVENESS_WINDOW_DAYS", 14),

		BatchWorkers:            envInt("BATCH_WORKERS", 4),
		ScoreBatchInterval:      envDuration("SCORE_BATCH_INTERVAL", 24*time.Hour),
		EvaluationSweepInterval: envDuration("EVALUATION_SWEEP_INTERVAL", time.Hour),
		OptimizerInterval:       envDuration("OPTIMIZER_INTERVAL", 24*time.Hour),
		CleanupInterval:         envDuration("CLEANUP_INTERVAL", 6*time.Hour),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// UsesPostgres reports whether the Postgres backend is configured.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

// envIntList accepts "9,10,11" or a range "9..21".
func envIntList(key string, fallback []int) []int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if lo, hi, ok := strings.Cut(v, ".."); ok {
		a, errA := strconv.Atoi(strings.TrimSpace(lo))
		b, errB := strconv.Atoi(strings.TrimSpace(hi))
		if errA != nil || errB != nil || a > b {
			return fallback
		}
		return hourRange(a, b)
	}
	var out []int
	for _, s := range envList(key, nil) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envDurations(key string, fallback []time.Duration) []time.Duration {
	parts := envList(key, nil)
	if len(parts) == 0 {
		return fallback
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return fallback
		}
		out = append(out, d)
	}
	return out
}

func hourRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for h := lo; h <= hi; h++ {
		out = append(out, h)
	}
	return out
}
