// Package models defines the onboarding state derived from a profile.
package models

// OnboardingState is the position of a user in the onboarding sequence.
// It is never stored; it is recomputed from the profile on every message.
type OnboardingState int

const (
	StateNew OnboardingState = iota
	StateNeedGender
	StateNeedStatus
	StateNeedFeeling
	StateActive
)

func (s OnboardingState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateNeedGender:
		return "NEED_GENDER"
	case StateNeedStatus:
		return "NEED_STATUS"
	case StateNeedFeeling:
		return "NEED_FEELING"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// DeriveOnboardingState maps a profile to its onboarding state. A nil profile
// is NEW; otherwise the first unset field among gender, relationship status
// and feeling decides the state.
func DeriveOnboardingState(p *Profile) OnboardingState {
	switch {
	case p == nil:
		return StateNew
	case p.Gender == "":
		return StateNeedGender
	case p.RelationshipStatus == "":
		return StateNeedStatus
	case p.Feeling == "":
		return StateNeedFeeling
	default:
		return StateActive
	}
}
