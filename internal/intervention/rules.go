package intervention

import (
	"fmt"
	"time"

	"github.com/albapepper/momentum/internal/model"
)

// Rule ids. Content templates and deep-link actions are keyed by these.
const (
	RuleDropAlert           = "drop_alert"
	RuleCareEscalation      = "care_escalation"
	RuleCelebration         = "celebration"
	RuleConsistencyReminder = "consistency_reminder"
)

// Rule is static trigger configuration, loaded at startup.
type Rule struct {
	ID       string
	Name     string
	Priority int // higher wins

	// Cooldown is the minimum gap between two sent firings.
	Cooldown time.Duration
	// MaxPerDay caps sent firings of this rule in any trailing 24h; 0 means
	// no per-rule cap.
	MaxPerDay int
	// WindowCap caps sent firings within Window; 0 disables.
	WindowCap int
	Window    time.Duration

	// Lookback is the number of days of history (including today) the
	// predicate reads.
	Lookback int
	// RequiresTrend skips the rule when any day in its lookback is flagged
	// insufficient history.
	RequiresTrend bool

	// TestName is the content A/B test used when this rule fires.
	TestName string

	Predicate func(h History) (ok bool, reason string)
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        RuleCareEscalation,
			Name:      "Two consecutive NeedsCare days",
			Priority:  100,
			WindowCap: 1,
			Window:    7 * 24 * time.Hour,
			Lookback:  2,
			TestName:  "care_escalation_copy",
			Predicate: consecutiveNeedsCare(2),
		},
		{
			ID:            RuleDropAlert,
			Name:          "Score dropped 15 points within 5 days",
			Priority:      80,
			Cooldown:      24 * time.Hour,
			MaxPerDay:     1,
			Lookback:      5,
			RequiresTrend: true,
			TestName:      "drop_alert_copy",
			Predicate:     scoreDrop(15, 5),
		},
		{
			ID:            RuleCelebration,
			Name:          "Five steady-or-better days ending Rising",
			Priority:      50,
			Cooldown:      7 * 24 * time.Hour,
			MaxPerDay:     1,
			Lookback:      5,
			RequiresTrend: true,
			TestName:      "celebration_copy",
			Predicate:     sustainedMomentum(5),
		},
		{
			ID:            RuleConsistencyReminder,
			Name:          "Zone changed four times in a week",
			Priority:      20,
			Cooldown:      72 * time.Hour,
			MaxPerDay:     1,
			Lookback:      7,
			RequiresTrend: true,
			TestName:      "consistency_reminder_copy",
			Predicate:     zoneChurn(4, 7),
		},
	}
}

// --------------------------------------------------------------------------
// History
// --------------------------------------------------------------------------

// History is a user's daily scores, oldest first. The last element is the
// day being evaluated.
type History []model.DailyScore

// Today returns the newest score.
func (h History) Today() (model.DailyScore, bool) {
	if len(h) == 0 {
		return model.DailyScore{}, false
	}
	return h[len(h)-1], true
}

// Window returns the scores dated within the n days ending at the newest
// score, oldest first.
func (h History) Window(n int) History {
	today, ok := h.Today()
	if !ok || n <= 0 {
		return nil
	}
	first := today.Date.AddDate(0, 0, -(n - 1))
	i := len(h)
	for i > 0 && !h[i-1].Date.Before(first) {
		i--
	}
	return h[i:]
}

// Consecutive reports whether the window of n days has a score for every
// day.
func (h History) Consecutive(n int) bool {
	w := h.Window(n)
	if len(w) != n {
		return false
	}
	for i := 1; i < len(w); i++ {
		if !w[i].Date.Equal(w[i-1].Date.AddDate(0, 0, 1)) {
			return false
		}
	}
	return true
}

func (h History) anyInsufficient(n int) bool {
	for _, s := range h.Window(n) {
		if s.InsufficientHistory {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Predicates
// --------------------------------------------------------------------------

func consecutiveNeedsCare(days int) func(History) (bool, string) {
	return func(h History) (bool, string) {
		if !h.Consecutive(days) {
			return false, ""
		}
		for _, s := range h.Window(days) {
			if s.Zone != model.ZoneNeedsCare {
				return false, ""
			}
		}
		return true, fmt.Sprintf("%d consecutive NeedsCare days", days)
	}
}

// scoreDrop fires when today's score is at least drop below the peak of the
// previous days in the window.
func scoreDrop(drop float64, days int) func(History) (bool, string) {
	return func(h History) (bool, string) {
		w := h.Window(days)
		if len(w) < 2 {
			return false, ""
		}
		today := w[len(w)-1]
		peak := w[0].RawScore
		for _, s := range w[:len(w)-1] {
			peak = max(peak, s.RawScore)
		}
		if peak-today.RawScore >= drop {
			return true, fmt.Sprintf("score fell %.1f points from %.1f", peak-today.RawScore, peak)
		}
		return false, ""
	}
}

func sustainedMomentum(days int) func(History) (bool, string) {
	return func(h History) (bool, string) {
		if !h.Consecutive(days) {
			return false, ""
		}
		w := h.Window(days)
		for _, s := range w {
			if s.Zone == model.ZoneNeedsCare {
				return false, ""
			}
		}
		if w[len(w)-1].Zone != model.ZoneRising {
			return false, ""
		}
		return true, fmt.Sprintf("%d days Rising or Steady", days)
	}
}

func zoneChurn(transitions, days int) func(History) (bool, string) {
	return func(h History) (bool, string) {
		w := h.Window(days)
		n := 0
		for i := 1; i < len(w); i++ {
			if w[i].Zone != w[i-1].Zone {
				n++
			}
		}
		if n >= transitions {
			return true, fmt.Sprintf("%d zone changes in %d days", n, days)
		}
		return false, ""
	}
}
