// Package momentum computes the daily momentum score and zone for a user.
//
// Pipeline for one user-day:
//  1. Cap events at MaxEventsPerTypePerDay per (UTC day, type), earliest first.
//  2. Decay each counted event: weight * 2^(-ageDays/halfLife).
//  3. Smooth: mean of the decayed sums at asOf, asOf-24h, ... (SmoothingDays).
//  4. Normalize through a sigmoid calibrated so CalibrationLow → 10 and
//     CalibrationHigh → 90, clamped to [0,100].
//  5. Classify with hysteresis against the previous confirmed zone.
package momentum

import (
	"math"
	"sort"
	"time"

	"github.com/albapepper/momentum/internal/config"
	"github.com/albapepper/momentum/internal/model"
)

const AlgorithmVersion = "decay-sigmoid-v1"

const day = 24 * time.Hour

// Calculate scores events as of the instant asOf. prev is the zone of the
// latest score before asOf's day, or "" when there is none. It performs no
// I/O.
func Calculate(userID string, events []model.EngagementEvent, asOf time.Time, prev model.Zone, p config.Scoring) model.DailyScore {
	counted := capEvents(events, asOf, p.MaxEventsPerTypePerDay)

	sc := model.DailyScore{
		UserID:           userID,
		Date:             model.Day(asOf),
		EventsCount:      len(counted),
		CountedByType:    make(map[model.EventType]int),
		AlgorithmVersion: AlgorithmVersion,
	}
	for _, e := range counted {
		sc.CountedByType[e.Type]++
	}

	if len(counted) == 0 {
		sc.RawScore = 0
		sc.Zone = model.ZoneNeedsCare
		sc.InsufficientHistory = true
		return sc
	}

	sc.DecayedSum = DecayedSum(counted, asOf, p.HalfLifeDays)
	sc.SmoothedSum = smoothedSum(counted, asOf, p)
	sc.RawScore = Normalize(sc.SmoothedSum, p)
	sc.Zone = ClassifyZone(sc.RawScore, prev, p)
	return sc
}

// capEvents keeps events at or before asOf, at most limit per (day, type),
// sorted oldest first. limit <= 0 disables the cap.
func capEvents(events []model.EngagementEvent, asOf time.Time, limit int) []model.EngagementEvent {
	sorted := make([]model.EngagementEvent, 0, len(events))
	for _, e := range events {
		if !e.Timestamp.After(asOf) {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if limit <= 0 {
		return sorted
	}

	type key struct {
		day time.Time
		typ model.EventType
	}
	seen := make(map[key]int)
	out := sorted[:0]
	for _, e := range sorted {
		k := key{model.Day(e.Timestamp), e.Type}
		if seen[k] >= limit {
			continue
		}
		seen[k]++
		out = append(out, e)
	}
	return out
}

// DecayedSum sums the decayed weights of events at or before at.
func DecayedSum(events []model.EngagementEvent, at time.Time, halfLifeDays float64) float64 {
	var sum float64
	for _, e := range events {
		if e.Timestamp.After(at) {
			continue
		}
		ageDays := at.Sub(e.Timestamp).Hours() / 24
		sum += e.EffectiveWeight() * math.Pow(2, -ageDays/halfLifeDays)
	}
	return sum
}

func smoothedSum(events []model.EngagementEvent, asOf time.Time, p config.Scoring) float64 {
	n := max(p.SmoothingDays, 1)
	var total float64
	for i := 0; i < n; i++ {
		total += DecayedSum(events, asOf.Add(-time.Duration(i)*day), p.HalfLifeDays)
	}
	return total / float64(n)
}

// Normalize maps a smoothed decayed sum onto [0,100].
func Normalize(x float64, p config.Scoring) float64 {
	lo, hi := p.CalibrationLow, p.CalibrationHigh
	if hi <= lo {
		hi = lo + 1
	}
	x0 := (lo + hi) / 2
	k := 2 * math.Log(9) / (hi - lo)
	return clamp(100/(1+math.Exp(-k*(x-x0))), 0, 100)
}

// ClassifyZone applies the thresholds with hysteresis. Leaving the previous
// zone requires crossing its boundary by the margin; entering a zone from
// outside requires exceeding its entry boundary by the margin.
func ClassifyZone(score float64, prev model.Zone, p config.Scoring) model.Zone {
	rising, steady := p.RisingThreshold, p.NeedsCareThreshold
	m := p.HysteresisMargin

	switch prev {
	case model.ZoneRising:
		rising -= m
		steady -= m
	case model.ZoneSteady:
		rising += m
		steady -= m
	case model.ZoneNeedsCare:
		rising += m
		steady += m
	}

	switch {
	case score >= rising:
		return model.ZoneRising
	case score >= steady:
		return model.ZoneSteady
	default:
		return model.ZoneNeedsCare
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
