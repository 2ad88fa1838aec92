package notifications

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/albapepper/momentum/internal/model"
)

// Template is the copy and deep-link action for one (rule, variant) pair.
type Template struct {
	RuleID  string
	Variant string // empty for the rule default
	Title   string
	Body    string
	// Action builds the deep-link payload from the request.
	Action func(req model.InterventionRequest) model.Payload

	title *template.Template
	body  *template.Template
}

type templateKey struct {
	rule    string
	variant string
}

// Templates selects copy by (rule, variant), falling back to the rule
// default.
type Templates struct {
	byKey map[templateKey]*Template
}

// templateData is what title and body templates can reference.
type templateData struct {
	UserID string
	Zone   model.Zone
	Score  int
	Reason string
}

// NewTemplates parses every template. Exactly one default (Variant "") per
// rule is expected; variant templates without a default are rejected.
func NewTemplates(defs []Template) (*Templates, error) {
	t := &Templates{byKey: make(map[templateKey]*Template, len(defs))}
	for i := range defs {
		d := defs[i]
		var err error
		if d.title, err = template.New(d.RuleID + "/title").Parse(d.Title); err != nil {
			return nil, fmt.Errorf("template %s/%s title: %w", d.RuleID, d.Variant, err)
		}
		if d.body, err = template.New(d.RuleID + "/body").Parse(d.Body); err != nil {
			return nil, fmt.Errorf("template %s/%s body: %w", d.RuleID, d.Variant, err)
		}
		if d.Action == nil {
			return nil, fmt.Errorf("template %s/%s: no action", d.RuleID, d.Variant)
		}
		t.byKey[templateKey{d.RuleID, d.Variant}] = &d
	}
	for k := range t.byKey {
		if _, ok := t.byKey[templateKey{k.rule, ""}]; !ok {
			return nil, fmt.Errorf("template %s: no rule default", k.rule)
		}
	}
	return t, nil
}

// Render produces the content for req using variant's template when one
// exists.
func (t *Templates) Render(req model.InterventionRequest, variant string) (Content, error) {
	tpl, ok := t.byKey[templateKey{req.RuleID, variant}]
	used := variant
	if !ok {
		tpl, ok = t.byKey[templateKey{req.RuleID, ""}]
		used = ""
	}
	if !ok {
		return Content{}, fmt.Errorf("%w: no template for rule %q", model.ErrInvalidInput, req.RuleID)
	}

	data := templateData{UserID: req.UserID, Zone: req.Zone, Score: int(req.Score + 0.5), Reason: req.Reason}
	var title, body bytes.Buffer
	if err := tpl.title.Execute(&title, data); err != nil {
		return Content{}, fmt.Errorf("render %s title: %w", req.RuleID, err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Content{}, fmt.Errorf("render %s body: %w", req.RuleID, err)
	}
	return Content{Title: title.String(), Body: body.String(), Action: tpl.Action(req), Variant: used}, nil
}

// --------------------------------------------------------------------------
// Built-in copy
// --------------------------------------------------------------------------

func completeLesson(model.InterventionRequest) model.Payload {
	return model.CompleteLessonPayload{}
}

func scheduleCall(req model.InterventionRequest) model.Payload {
	return model.ScheduleCallPayload{Reason: req.Reason}
}

func viewMomentum(req model.InterventionRequest) model.Payload {
	return model.ViewMomentumPayload{Zone: req.Zone}
}

func journalEntry(model.InterventionRequest) model.Payload {
	return model.JournalEntryPayload{Prompt: "What helped you show up this week?"}
}

// DefaultTemplates is the built-in copy for the default rule ids. Variant
// "b" templates are the alternative arm of each rule's content test.
func DefaultTemplates() []Template {
	return []Template{
		{RuleID: "drop_alert", Title: "You've got this!",
			Body:   "Your momentum dipped a little. A short lesson today gets you moving again.",
			Action: completeLesson},
		{RuleID: "drop_alert", Variant: "b", Title: "Small steps count",
			Body:   "Pick up where you left off with one quick lesson.",
			Action: completeLesson},

		{RuleID: "care_escalation", Title: "Let's grow together!",
			Body:   "Your coach would love to catch up. Schedule a quick call?",
			Action: scheduleCall},
		{RuleID: "care_escalation", Variant: "b", Title: "We're here for you",
			Body:   "A few minutes with your coach can make a big difference. Book a call.",
			Action: scheduleCall},

		{RuleID: "celebration", Title: "Amazing momentum!",
			Body:   "You've been consistent all week. Your momentum score is {{.Score}}.",
			Action: viewMomentum},
		{RuleID: "celebration", Variant: "b", Title: "You're on a roll!",
			Body:   "Five strong days in a row. Take a look at how far you've come.",
			Action: viewMomentum},

		{RuleID: "consistency_reminder", Title: "Consistency is key",
			Body:   "A quick journal entry helps you find your rhythm.",
			Action: journalEntry},
		{RuleID: "consistency_reminder", Variant: "b", Title: "Find your rhythm",
			Body:   "Take two minutes to reflect on what's working.",
			Action: journalEntry},
	}
}

// DefaultTests returns an evenly weighted a/b test for each test name.
// Variant "a" renders the rule default template.
func DefaultTests(testNames ...string) []model.ABVariant {
	out := make([]model.ABVariant, 0, 2*len(testNames))
	for _, name := range testNames {
		out = append(out,
			model.ABVariant{TestName: name, VariantID: "a", Weight: 1, BaseWeight: 1},
			model.ABVariant{TestName: name, VariantID: "b", Weight: 1, BaseWeight: 1},
		)
	}
	return out
}
