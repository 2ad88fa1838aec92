// Package effectiveness records notification feedback and turns it into
// per-variant scores, per-user frequency recommendations and variant weight
// rebalancing. All aggregates are computed over a rolling window.
package effectiveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/momentum/internal/abtest"
	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

const (
	// MinSends is the number of sends in the window below which a user or
	// variant is considered to have no signal yet.
	MinSends = 5

	HighResponse = 0.6
	LowResponse  = 0.2

	MinFrequency = 1
	MaxFrequency = 5
)

type Store interface {
	store.SampleStore
	store.PreferenceStore
	store.VariantStore
}

type Tracker struct {
	store            Store
	window           time.Duration
	defaultMaxPerDay int
	logger           *slog.Logger
	now              func() time.Time
}

func NewTracker(st Store, windowDays, defaultMaxPerDay int, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:            st,
		window:           time.Duration(windowDays) * 24 * time.Hour,
		defaultMaxPerDay: defaultMaxPerDay,
		logger:           logger,
		now:              time.Now,
	}
}

// Score is (opened + 2×clicked) / sent clipped to [0,1]; zero sends score 0.
func Score(c model.FeedbackCounts) float64 {
	if c.Sent <= 0 {
		return 0
	}
	s := float64(c.Opened+2*c.Clicked) / float64(c.Sent)
	return min(max(s, 0), 1)
}

// RecordEvent appends a feedback sample. A zero timestamp is set to now.
func (t *Tracker) RecordEvent(ctx context.Context, s model.EffectivenessSample) error {
	if _, err := model.ParseFeedbackEvent(string(s.Event)); err != nil {
		return err
	}
	if s.UserID == "" {
		return fmt.Errorf("%w: user id required", model.ErrInvalidInput)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = t.now().UTC()
	}
	if err := t.store.AppendSample(ctx, s); err != nil {
		return model.Unavailable("record feedback", err)
	}
	return nil
}

// GetEffectivenessScore scores a variant over the rolling window.
func (t *Tracker) GetEffectivenessScore(ctx context.Context, testName, variantID string) (float64, model.FeedbackCounts, error) {
	c, err := t.store.VariantCounts(ctx, testName, variantID, t.since())
	if err != nil {
		return 0, c, model.Unavailable("variant counts", err)
	}
	return Score(c), c, nil
}

// RecommendFrequency returns the suggested maxInterventionsPerDay for
// userID. Fewer than MinSends sends in the window keeps the current value.
func (t *Tracker) RecommendFrequency(ctx context.Context, userID string) (int, error) {
	current := t.defaultMaxPerDay
	pref, err := t.store.GetPreference(ctx, userID)
	switch {
	case err == nil:
		current = pref.MaxInterventionsPerDay
	case errors.Is(err, model.ErrNotFound):
	default:
		return 0, model.Unavailable("load preference", err)
	}

	c, err := t.store.UserCounts(ctx, userID, t.since())
	if err != nil {
		return 0, model.Unavailable("user counts", err)
	}
	return Recommend(current, c), nil
}

// Recommend applies the frequency policy to current given window counts.
func Recommend(current int, c model.FeedbackCounts) int {
	next := current
	if c.Sent >= MinSends {
		switch s := Score(c); {
		case s >= HighResponse:
			next++
		case s <= LowResponse:
			next--
		}
	}
	return min(max(next, MinFrequency), MaxFrequency)
}

func (t *Tracker) since() time.Time {
	return t.now().UTC().Add(-t.window)
}

// --------------------------------------------------------------------------
// Variant weight rebalancing
// --------------------------------------------------------------------------

// RebalanceResult reports one rebalancing pass.
type RebalanceResult struct {
	Tests    int
	Variants int
	Updated  int
}

func (r *RebalanceResult) Summary() string {
	return fmt.Sprintf("tests=%d variants=%d updated=%d", r.Tests, r.Variants, r.Updated)
}

// RebalanceWeights sets each variant's weight to base × (0.5 + score),
// floored at 0.1 × base. Variants with fewer than MinSends sends keep
// their base weight. New weights are persisted and applied to reg.
func (t *Tracker) RebalanceWeights(ctx context.Context, reg *abtest.Registry) (RebalanceResult, error) {
	var res RebalanceResult
	now := t.now().UTC()

	for _, name := range reg.Tests() {
		res.Tests++
		for _, v := range reg.Variants(name) {
			res.Variants++
			score, c, err := t.GetEffectivenessScore(ctx, name, v.VariantID)
			if err != nil {
				return res, err
			}
			weight := v.BaseWeight
			if c.Sent >= MinSends {
				weight = max(v.BaseWeight*(0.5+score), 0.1*v.BaseWeight)
			}
			if weight == v.Weight {
				continue
			}

			v.Weight = weight
			v.UpdatedAt = now
			if err := t.store.SaveVariant(ctx, v); err != nil {
				return res, model.Unavailable("save variant", err)
			}
			if err := reg.SetWeight(name, v.VariantID, weight, now); err != nil {
				return res, err
			}
			res.Updated++
			t.logger.Info("Variant weight rebalanced",
				"test", name, "variant", v.VariantID, "score", score, "weight", weight)
		}
	}
	return res, nil
}
