package models

import (
	"strings"
	"testing"
	"time"
)

func TestDeriveOnboardingState(t *testing.T) {
	male := GenderMale
	tests := []struct {
		name    string
		profile *Profile
		want    OnboardingState
	}{
		{"nil profile", nil, StateNew},
		{"blank profile", &Profile{UserID: "U1", Plan: PlanFree}, StateNeedGender},
		{"gender only", &Profile{UserID: "U1", Gender: male}, StateNeedStatus},
		{"missing feeling", &Profile{UserID: "U1", Gender: male, RelationshipStatus: StatusCrush}, StateNeedFeeling},
		{"complete", &Profile{UserID: "U1", Gender: male, RelationshipStatus: StatusCrush, Feeling: "不安"}, StateActive},
		{"feeling without gender", &Profile{UserID: "U1", Feeling: "不安"}, StateNeedGender},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveOnboardingState(tt.profile); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestProfileUpdateApplyKeepsUnsetFields(t *testing.T) {
	p := Profile{UserID: "U1", Gender: GenderMale, Plan: PlanFree}
	status := StatusDating
	got := ProfileUpdate{RelationshipStatus: &status}.Apply(p)

	if got.Gender != GenderMale {
		t.Errorf("expected gender to stay male, got %q", got.Gender)
	}
	if got.RelationshipStatus != StatusDating {
		t.Errorf("expected status dating, got %q", got.RelationshipStatus)
	}
	if got.Feeling != "" {
		t.Errorf("expected feeling to stay unset, got %q", got.Feeling)
	}
	if got.Plan != PlanFree {
		t.Errorf("expected plan free, got %q", got.Plan)
	}
}

func TestProfileUpdateValidate(t *testing.T) {
	bad := Gender("robot")
	if err := (ProfileUpdate{Gender: &bad}).Validate(); err != ErrInvalidGender {
		t.Errorf("expected ErrInvalidGender, got %v", err)
	}
	plan := Plan("gold")
	if err := (ProfileUpdate{Plan: &plan}).Validate(); err != ErrInvalidPlan {
		t.Errorf("expected ErrInvalidPlan, got %v", err)
	}
	now := time.Now()
	if err := (ProfileUpdate{LastActiveAt: &now}).Validate(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	s := strings.Repeat("あ", 130)
	got := Truncate(s, MaxFeelingLength)
	if n := len([]rune(got)); n != MaxFeelingLength {
		t.Errorf("expected %d runes, got %d", MaxFeelingLength, n)
	}
	if Truncate("ちょっと不安", MaxFeelingLength) != "ちょっと不安" {
		t.Error("short text should be returned unchanged")
	}
}

func TestLogEntryValidate(t *testing.T) {
	e := LogEntry{Message: "hi", Type: LogTypeUser}
	if err := e.Validate(); err != ErrEmptyUserID {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	e.UserID = "U1"
	if err := e.Validate(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
