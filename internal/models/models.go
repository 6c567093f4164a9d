// Package models defines the core data structures for KakeruBot.
//
// It includes the persisted user profile collected during onboarding and the
// append-only conversation log, which are shared across modules.
package models

import (
	"errors"
	"time"
	"unicode/utf8"
)

// Gender is the normalized gender category collected during onboarding.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

// RelationshipStatus is the normalized relationship category collected during onboarding.
type RelationshipStatus string

const (
	StatusCrush      RelationshipStatus = "crush"
	StatusDating     RelationshipStatus = "dating"
	StatusHeartbreak RelationshipStatus = "heartbreak"
	StatusOther      RelationshipStatus = "other"
)

// Plan is the subscription plan of a profile.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// LogType tags a conversation log row. Broadcast rows use the broadcast name.
type LogType string

const (
	LogTypeUser   LogType = "user"
	LogTypeAI     LogType = "ai"
	LogTypeSystem LogType = "system"
)

// Validation constants for stored and inbound text
const (
	// MaxFeelingLength is the maximum number of characters kept from a feeling answer
	MaxFeelingLength = 120
	// MaxLogMessageLength caps the message column of a log row
	MaxLogMessageLength = 2000
	// MaxInboundTextLength is the longest user message accepted by the router
	MaxInboundTextLength = 1000
)

var (
	ErrEmptyUserID    = errors.New("user id cannot be empty")
	ErrEmptyText      = errors.New("message text is empty")
	ErrTextTooLong    = errors.New("message text exceeds maximum length")
	ErrInvalidGender  = errors.New("invalid gender")
	ErrInvalidStatus  = errors.New("invalid relationship status")
	ErrInvalidPlan    = errors.New("invalid plan")
	ErrInvalidLogType = errors.New("log type cannot be empty")
)

// Profile is one per end-user identity. Empty Gender, RelationshipStatus and
// Feeling mean the field has not been collected yet.
type Profile struct {
	UserID             string             `json:"user_id"`
	Gender             Gender             `json:"gender,omitempty"`
	RelationshipStatus RelationshipStatus `json:"relationship_status,omitempty"`
	Feeling            string             `json:"feeling,omitempty"`
	Plan               Plan               `json:"plan"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	LastActiveAt       *time.Time         `json:"last_active_at,omitempty"`
}

// IsPremium reports whether the profile is on the premium plan.
func (p *Profile) IsPremium() bool {
	return p != nil && p.Plan == PlanPremium
}

// ProfileUpdate is a partial profile write. Nil fields keep the stored value.
type ProfileUpdate struct {
	Gender             *Gender
	RelationshipStatus *RelationshipStatus
	Feeling            *string
	Plan               *Plan
	LastActiveAt       *time.Time
}

// Validate checks that every field present in the update holds a known value.
func (u ProfileUpdate) Validate() error {
	if u.Gender != nil && !IsValidGender(*u.Gender) {
		return ErrInvalidGender
	}
	if u.RelationshipStatus != nil && !IsValidRelationshipStatus(*u.RelationshipStatus) {
		return ErrInvalidStatus
	}
	if u.Plan != nil && !IsValidPlan(*u.Plan) {
		return ErrInvalidPlan
	}
	return nil
}

// Apply merges the update into p and returns the result. Used by stores that
// cannot express the merge in a single statement.
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.Gender != nil {
		p.Gender = *u.Gender
	}
	if u.RelationshipStatus != nil {
		p.RelationshipStatus = *u.RelationshipStatus
	}
	if u.Feeling != nil {
		p.Feeling = *u.Feeling
	}
	if u.Plan != nil {
		p.Plan = *u.Plan
	}
	if u.LastActiveAt != nil {
		t := *u.LastActiveAt
		p.LastActiveAt = &t
	}
	return p
}

// IsValidGender checks if the given gender is a known category.
func IsValidGender(g Gender) bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	default:
		return false
	}
}

// IsValidRelationshipStatus checks if the given status is a known category.
func IsValidRelationshipStatus(s RelationshipStatus) bool {
	switch s {
	case StatusCrush, StatusDating, StatusHeartbreak, StatusOther:
		return true
	default:
		return false
	}
}

// IsValidPlan checks if the given plan is supported.
func IsValidPlan(p Plan) bool {
	return p == PlanFree || p == PlanPremium
}

// LogEntry is one append-only row of the conversation log.
type LogEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Type      LogType   `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate performs basic validation on a log entry before it is stored.
func (e *LogEntry) Validate() error {
	if e.UserID == "" {
		return ErrEmptyUserID
	}
	if e.Type == "" {
		return ErrInvalidLogType
	}
	return nil
}

// Truncate returns s cut to at most max characters (runes, not bytes).
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
