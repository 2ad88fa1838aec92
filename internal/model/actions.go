package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType is the closed set of deep-link actions. Each type has exactly
// one payload struct.
type ActionType string

const (
	ActionRefreshMomentum ActionType = "refresh_momentum"
	ActionViewMomentum    ActionType = "view_momentum"
	ActionCompleteLesson  ActionType = "complete_lesson"
	ActionJournalEntry    ActionType = "journal_entry"
	ActionScheduleCall    ActionType = "schedule_call"
	ActionShowCompletion  ActionType = "show_completion"
)

// RequiresUI reports whether executing the action renders something.
// Data-only actions run regardless of UI availability.
func (t ActionType) RequiresUI() bool {
	return t != ActionRefreshMomentum
}

// ActionState is the deep-link lifecycle state.
type ActionState string

const (
	ActionPending         ActionState = "pending"
	ActionRequiresContext ActionState = "requires_context"
	ActionDispatched      ActionState = "dispatched"
	ActionFailed          ActionState = "failed"
	ActionSuperseded      ActionState = "superseded"
)

// Terminal reports whether the action is retained for audit only.
func (s ActionState) Terminal() bool {
	return s == ActionDispatched || s == ActionFailed || s == ActionSuperseded
}

// Payload is implemented by the per-type payload structs below.
type Payload interface {
	ActionType() ActionType
}

type RefreshMomentumPayload struct{}

type ViewMomentumPayload struct {
	Zone Zone `json:"zone,omitempty"`
}

type CompleteLessonPayload struct {
	LessonID string `json:"lesson_id,omitempty"`
}

type JournalEntryPayload struct {
	Prompt string `json:"prompt,omitempty"`
}

type ScheduleCallPayload struct {
	CoachID string `json:"coach_id,omitempty"`
	Reason  string `json:"reason"`
}

type ShowCompletionPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (RefreshMomentumPayload) ActionType() ActionType { return ActionRefreshMomentum }
func (ViewMomentumPayload) ActionType() ActionType    { return ActionViewMomentum }
func (CompleteLessonPayload) ActionType() ActionType  { return ActionCompleteLesson }
func (JournalEntryPayload) ActionType() ActionType    { return ActionJournalEntry }
func (ScheduleCallPayload) ActionType() ActionType    { return ActionScheduleCall }
func (ShowCompletionPayload) ActionType() ActionType  { return ActionShowCompletion }

// DecodePayload decodes raw JSON into the payload struct for t. Empty raw
// input yields the zero payload.
func DecodePayload(t ActionType, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case ActionRefreshMomentum:
		p = &RefreshMomentumPayload{}
	case ActionViewMomentum:
		p = &ViewMomentumPayload{}
	case ActionCompleteLesson:
		p = &CompleteLessonPayload{}
	case ActionJournalEntry:
		p = &JournalEntryPayload{}
	case ActionScheduleCall:
		p = &ScheduleCallPayload{}
	case ActionShowCompletion:
		p = &ShowCompletionPayload{}
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidInput, t)
	}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidInput, t, err)
		}
	}
	return deref(p), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *RefreshMomentumPayload:
		return *v
	case *ViewMomentumPayload:
		return *v
	case *CompleteLessonPayload:
		return *v
	case *JournalEntryPayload:
		return *v
	case *ScheduleCallPayload:
		return *v
	case *ShowCompletionPayload:
		return *v
	}
	return p
}

// DeepLinkAction is a notification tap or background action awaiting
// execution.
type DeepLinkAction struct {
	ID             string
	UserID         string
	Payload        Payload
	NotificationID string
	State          ActionState
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Type returns the action type carried by the payload.
func (a DeepLinkAction) Type() ActionType {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.ActionType()
}
