package intervention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

// FrequencyAdvisor suggests a user's daily intervention limit from their
// response history.
type FrequencyAdvisor interface {
	RecommendFrequency(ctx context.Context, userID string) (int, error)
}

// Optimizer is the only automatic writer of UserPreference. Preferences
// with AutoOptimized=false are explicit user overrides and never touched.
type Optimizer struct {
	prefs   store.PreferenceStore
	advisor FrequencyAdvisor
	logger  *slog.Logger
	now     func() time.Time
}

func NewOptimizer(prefs store.PreferenceStore, advisor FrequencyAdvisor, logger *slog.Logger) *Optimizer {
	return &Optimizer{prefs: prefs, advisor: advisor, logger: logger, now: time.Now}
}

// OptimizeResult reports one optimizer pass.
type OptimizeResult struct {
	Users     int
	Overrides int
	Raised    int
	Lowered   int
	Errors    []string
}

func (r *OptimizeResult) Summary() string {
	return fmt.Sprintf("users=%d overrides=%d raised=%d lowered=%d errors=%d",
		r.Users, r.Overrides, r.Raised, r.Lowered, len(r.Errors))
}

// Run adjusts MaxInterventionsPerDay for every auto-optimized user. A
// failing user is reported and skipped; a failing preference listing
// fails the pass.
func (o *Optimizer) Run(ctx context.Context) (OptimizeResult, error) {
	var res OptimizeResult
	prefs, err := o.prefs.ListPreferences(ctx)
	if err != nil {
		return res, model.Unavailable("list preferences", err)
	}

	for _, p := range prefs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Users++
		if !p.AutoOptimized {
			res.Overrides++
			continue
		}

		next, err := o.advisor.RecommendFrequency(ctx, p.UserID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.UserID, err))
			continue
		}
		if next == p.MaxInterventionsPerDay {
			continue
		}

		// The listing may be stale; a user override written since then wins.
		prev := p.MaxInterventionsPerDay
		changed, err := o.prefs.SetOptimizedMaxPerDay(ctx, p.UserID, next, o.now().UTC())
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.UserID, err))
			continue
		}
		if !changed {
			res.Overrides++
			continue
		}
		if next > prev {
			res.Raised++
		} else {
			res.Lowered++
		}
		o.logger.Info("Intervention frequency adjusted",
			"user_id", p.UserID, "from", prev, "to", next)
	}
	return res, nil
}
