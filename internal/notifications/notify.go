// Package notifications turns intervention requests into push notifications.
//
// Pipeline: assign A/B variant → render (rule, variant) template → send via
// the push transport with retries → append the sent/failed audit record →
// record a "sent" feedback sample. A failed send is surfaced to the caller
// after the audit record is written; nothing is dropped silently.
package notifications

import (
	"time"

	"github.com/albapepper/momentum/internal/model"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// DefaultRetryDelays is the wait before each retry of a failed send.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 4 * time.Second}

// Push data keys read by the app's deep-link handler.
const (
	DataNotificationID = "notification_id"
	DataActionType     = "action_type"
	DataPayload        = "payload"
	DataRuleID         = "rule_id"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Content is a rendered notification plus the deep-link action it opens.
type Content struct {
	Title   string
	Body    string
	Action  model.Payload
	Variant string // empty when the rule default template was used
}

// Message is what a Transport delivers to a user's devices.
type Message struct {
	UserID string
	Title  string
	Body   string
	Data   map[string]string
}

// DispatchResult reports one dispatch.
type DispatchResult struct {
	NotificationID string
	RecordID       string
	Outcome        model.Outcome
	TestName       string
	VariantID      string
	Content        Content
	Attempts       int
}
