package intervention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/albapepper/momentum/internal/model"
	"github.com/albapepper/momentum/internal/store"
)

type fixedAdvisor map[string]int

func (a fixedAdvisor) RecommendFrequency(_ context.Context, userID string) (int, error) {
	n, ok := a[userID]
	if !ok {
		return 0, errors.New("no data")
	}
	return n, nil
}

func TestOptimizerRespectsOverrides(t *testing.T) {
	_, st := testEngine(t, nil)
	ctx := context.Background()

	for _, p := range []model.UserPreference{
		{UserID: "up", MaxInterventionsPerDay: 3, MinHoursBetween: 4, AutoOptimized: true, UpdatedAt: day0},
		{UserID: "down", MaxInterventionsPerDay: 3, MinHoursBetween: 4, AutoOptimized: true, UpdatedAt: day0},
		{UserID: "pinned", MaxInterventionsPerDay: 1, MinHoursBetween: 4, AutoOptimized: false, UpdatedAt: day0},
		{UserID: "broken", MaxInterventionsPerDay: 3, MinHoursBetween: 4, AutoOptimized: true, UpdatedAt: day0},
	} {
		if err := st.SavePreference(ctx, p); err != nil {
			t.Fatalf("SavePreference: %v", err)
		}
	}

	adv := fixedAdvisor{"up": 4, "down": 2, "pinned": 5}
	opt := NewOptimizer(st, adv, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := opt.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Users != 4 || res.Overrides != 1 || res.Raised != 1 || res.Lowered != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %s", res.Summary())
	}

	want := map[string]int{"up": 4, "down": 2, "pinned": 1, "broken": 3}
	for user, n := range want {
		p, err := st.GetPreference(ctx, user)
		if err != nil {
			t.Fatalf("GetPreference(%s): %v", user, err)
		}
		if p.MaxInterventionsPerDay != n {
			t.Errorf("%s max = %d, want %d", user, p.MaxInterventionsPerDay, n)
		}
	}
}

// overridingAdvisor simulates a user PUT landing between the optimizer's
// listing and its write.
type overridingAdvisor struct {
	st *store.SQLite
}

func (a overridingAdvisor) RecommendFrequency(ctx context.Context, userID string) (int, error) {
	override := model.UserPreference{UserID: userID, MaxInterventionsPerDay: 1, MinHoursBetween: 4, AutoOptimized: false, UpdatedAt: day0}
	if err := a.st.SavePreference(ctx, override); err != nil {
		return 0, err
	}
	return 5, nil
}

func TestOptimizerKeepsConcurrentOverride(t *testing.T) {
	_, st := testEngine(t, nil)
	ctx := context.Background()

	p := model.UserPreference{UserID: "u1", MaxInterventionsPerDay: 3, MinHoursBetween: 4, AutoOptimized: true, UpdatedAt: day0}
	if err := st.SavePreference(ctx, p); err != nil {
		t.Fatalf("SavePreference: %v", err)
	}

	opt := NewOptimizer(st, overridingAdvisor{st: st}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := opt.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Raised != 0 || res.Overrides != 1 {
		t.Errorf("result = %s", res.Summary())
	}

	got, err := st.GetPreference(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if got.AutoOptimized || got.MaxInterventionsPerDay != 1 {
		t.Errorf("preference = %+v, want the user override kept", got)
	}
}
