// Package model holds the data shared by the momentum engines, the store
// and the HTTP layer.
//
// Flow: engagement events → daily score + zone → intervention records →
// notifications → deep-link actions → effectiveness samples.
package model

import (
	"fmt"
	"slices"
	"time"
)

// --------------------------------------------------------------------------
// Zones
// --------------------------------------------------------------------------

// Zone is the three-state momentum classification.
type Zone string

const (
	ZoneRising    Zone = "Rising"
	ZoneSteady    Zone = "Steady"
	ZoneNeedsCare Zone = "NeedsCare"
)

// ParseZone validates a stored or user-supplied zone name.
func ParseZone(s string) (Zone, error) {
	switch z := Zone(s); z {
	case ZoneRising, ZoneSteady, ZoneNeedsCare:
		return z, nil
	}
	return "", fmt.Errorf("%w: unknown zone %q", ErrInvalidInput, s)
}

// --------------------------------------------------------------------------
// Engagement events
// --------------------------------------------------------------------------

// EventType is the closed set of engagement event kinds.
type EventType string

const (
	EventLessonCompletion     EventType = "lesson_completion"
	EventLessonStart          EventType = "lesson_start"
	EventJournalEntry         EventType = "journal_entry"
	EventCoachInteraction     EventType = "coach_interaction"
	EventGoalSetting          EventType = "goal_setting"
	EventGoalCompletion       EventType = "goal_completion"
	EventAppSession           EventType = "app_session"
	EventStreakMilestone      EventType = "streak_milestone"
	EventAssessmentCompletion EventType = "assessment_completion"
	EventResourceAccess       EventType = "resource_access"
	EventPeerInteraction      EventType = "peer_interaction"
	EventReminderResponse     EventType = "reminder_response"
)

// DefaultWeights is the contribution of an event whose weight was not set
// by the producer.
var DefaultWeights = map[EventType]float64{
	EventLessonCompletion:     3,
	EventLessonStart:          1,
	EventJournalEntry:         2,
	EventCoachInteraction:     4,
	EventGoalSetting:          2.4,
	EventGoalCompletion:       3.6,
	EventAppSession:           0.6,
	EventStreakMilestone:      5,
	EventAssessmentCompletion: 3,
	EventResourceAccess:       1,
	EventPeerInteraction:      1.6,
	EventReminderResponse:     1.4,
}

// ParseEventType validates an event type name.
func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if _, ok := DefaultWeights[t]; !ok {
		return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, s)
	}
	return t, nil
}

// EngagementEvent is an immutable, append-only engagement fact.
type EngagementEvent struct {
	ID        string
	UserID    string
	Type      EventType
	Timestamp time.Time
	Weight    float64
}

// EffectiveWeight returns the event weight, falling back to the type default.
func (e EngagementEvent) EffectiveWeight() float64 {
	if e.Weight > 0 {
		return e.Weight
	}
	return DefaultWeights[e.Type]
}

// --------------------------------------------------------------------------
// Daily scores
// --------------------------------------------------------------------------

// DailyScore is one user's momentum for one UTC day.
type DailyScore struct {
	UserID              string
	Date                time.Time // UTC midnight
	RawScore            float64   // [0,100]
	Zone                Zone
	InsufficientHistory bool

	// Breakdown
	EventsCount      int
	CountedByType    map[EventType]int
	DecayedSum       float64
	SmoothedSum      float64
	AlgorithmVersion string
	ComputedAt       time.Time
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateString formats a day as YYYY-MM-DD.
func DateString(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// ParseDate parses YYYY-MM-DD into a UTC day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", ErrInvalidInput, s, err)
	}
	return t, nil
}

// --------------------------------------------------------------------------
// Preferences
// --------------------------------------------------------------------------

// UserPreference holds per-user delivery limits. Only the frequency
// optimizer and explicit user overrides write it.
type UserPreference struct {
	UserID                 string
	MaxInterventionsPerDay int
	PreferredHours         []int // UTC hours; empty means any hour
	MinHoursBetween        int
	AutoOptimized          bool
	UpdatedAt              time.Time
}

// AllowsHour reports whether a notification may fire during hour h.
func (p UserPreference) AllowsHour(h int) bool {
	return len(p.PreferredHours) == 0 || slices.Contains(p.PreferredHours, h)
}

// --------------------------------------------------------------------------
// Intervention records
// --------------------------------------------------------------------------

// Outcome is the terminal result of one intervention request.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

// InterventionRecord is the append-only audit row for one rule firing.
type InterventionRecord struct {
	ID             string
	UserID         string
	RuleID         string
	FiredAt        time.Time
	NotificationID string
	Outcome        Outcome
	TestName       string
	VariantID      string
	Reason         string
}

// --------------------------------------------------------------------------
// Effectiveness
// --------------------------------------------------------------------------

// FeedbackEvent is a notification lifecycle signal.
type FeedbackEvent string

const (
	FeedbackSent    FeedbackEvent = "sent"
	FeedbackOpened  FeedbackEvent = "opened"
	FeedbackClicked FeedbackEvent = "clicked"
	FeedbackIgnored FeedbackEvent = "ignored"
)

// ParseFeedbackEvent validates a feedback event name.
func ParseFeedbackEvent(s string) (FeedbackEvent, error) {
	switch e := FeedbackEvent(s); e {
	case FeedbackSent, FeedbackOpened, FeedbackClicked, FeedbackIgnored:
		return e, nil
	}
	return "", fmt.Errorf("%w: unknown feedback event %q", ErrInvalidInput, s)
}

// EffectivenessSample is an append-only feedback row.
type EffectivenessSample struct {
	UserID    string
	TestName  string
	VariantID string
	Event     FeedbackEvent
	Timestamp time.Time
}

// FeedbackCounts aggregates samples by event.
type FeedbackCounts struct {
	Sent    int
	Opened  int
	Clicked int
	Ignored int
}

// --------------------------------------------------------------------------
// A/B variants
// --------------------------------------------------------------------------

// ABVariant is one arm of a named content test. BaseWeight is the configured
// weight; Weight is the current weight after effectiveness rebalancing.
type ABVariant struct {
	TestName   string
	VariantID  string
	Weight     float64
	BaseWeight float64
	UpdatedAt  time.Time
}

// EndOfDay returns the last millisecond of t's UTC day.
func EndOfDay(t time.Time) time.Time {
	return Day(t).Add(24*time.Hour - time.Millisecond)
}

// --------------------------------------------------------------------------
// Intervention requests
// --------------------------------------------------------------------------

// InterventionRequest is an eligible, rate-limit-cleared rule firing handed
// to the dispatcher.
type InterventionRequest struct {
	UserID   string
	RuleID   string
	Priority int
	TestName string
	Zone     Zone
	Score    float64
	Reason   string
	FiredAt  time.Time
}
