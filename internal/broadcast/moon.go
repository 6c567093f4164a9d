package broadcast

import (
	"math"
	"time"
)

// Moon phase constants
const (
	// SynodicMonth is the mean length of a lunation in days.
	SynodicMonth = 29.530588853
	// NewMoonMaxAge is the upper bound (exclusive) of the new-moon window in days.
	NewMoonMaxAge = 1.5
	// FullMoonMinAge and FullMoonMaxAge bound the full-moon window in days.
	FullMoonMinAge = 14.0
	FullMoonMaxAge = 15.5
)

// referenceNewMoon is a known new moon (2000-01-06 18:14 UTC).
var referenceNewMoon = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

// MoonAge returns the days elapsed since the last new moon at t, in [0, SynodicMonth).
func MoonAge(t time.Time) float64 {
	days := t.Sub(referenceNewMoon).Hours() / 24
	age := math.Mod(days, SynodicMonth)
	if age < 0 {
		age += SynodicMonth
	}
	return age
}

// moonMessage returns the message for the moon age, or "" on ordinary days.
func moonMessage(age float64) string {
	switch {
	case age < NewMoonMaxAge:
		return newMoonMessage
	case age >= FullMoonMinAge && age <= FullMoonMaxAge:
		return fullMoonMessage
	default:
		return ""
	}
}
