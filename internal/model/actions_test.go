package model

import (
	"errors"
	"testing"
)

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(ActionScheduleCall, []byte(`{"coach_id":"c-1","reason":"two low days"}`))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	call, ok := p.(ScheduleCallPayload)
	if !ok {
		t.Fatalf("payload type = %T, want ScheduleCallPayload", p)
	}
	if call.CoachID != "c-1" || call.Reason != "two low days" {
		t.Errorf("payload = %+v", call)
	}
	if p.ActionType() != ActionScheduleCall {
		t.Errorf("ActionType = %q", p.ActionType())
	}
}

func TestDecodePayloadEmpty(t *testing.T) {
	p, err := DecodePayload(ActionRefreshMomentum, nil)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if _, ok := p.(RefreshMomentumPayload); !ok {
		t.Errorf("payload type = %T, want RefreshMomentumPayload", p)
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	_, err := DecodePayload("open_settings", nil)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestRequiresUI(t *testing.T) {
	if ActionRefreshMomentum.RequiresUI() {
		t.Error("refresh_momentum should be data-only")
	}
	for _, at := range []ActionType{ActionViewMomentum, ActionCompleteLesson, ActionJournalEntry, ActionScheduleCall, ActionShowCompletion} {
		if !at.RequiresUI() {
			t.Errorf("%s should require UI", at)
		}
	}
}

func TestPreferenceAllowsHour(t *testing.T) {
	p := UserPreference{PreferredHours: []int{9, 10}}
	if !p.AllowsHour(9) || p.AllowsHour(3) {
		t.Errorf("AllowsHour mismatch for %v", p.PreferredHours)
	}
	if !(UserPreference{}).AllowsHour(3) {
		t.Error("empty preferred hours should allow any hour")
	}
}
