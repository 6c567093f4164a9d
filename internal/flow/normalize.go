package flow

import (
	"strings"

	"github.com/BTreeMap/KakeruBot/internal/models"
)

// Markers are matched as substrings of the trimmed, lower-cased answer.
var (
	maleMarkers   = []string{"男", "♂"}
	femaleMarkers = []string{"女", "♀"}
	otherMarkers  = []string{"その他", "どちらでも", "答えたくない", "ノンバイナリー", "other", "non-binary", "nonbinary"}

	heartbreakMarkers = []string{"失恋", "別れ", "振られ", "フラれ", "ふられ", "broke up", "breakup", "heartbreak"}
	crushMarkers      = []string{"片思い", "片想い", "好きな人", "気になる人", "crush"}
	datingMarkers     = []string{"付き合", "つきあ", "交際", "恋人", "彼氏", "彼女", "dating"}
)

// englishGenders are matched as whole words. "female" contains "male", so
// English words are compared per token instead of by containment.
var englishGenders = map[string]models.Gender{
	"male":   models.GenderMale,
	"man":    models.GenderMale,
	"female": models.GenderFemale,
	"woman":  models.GenderFemale,
}

func normalizeAnswer(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// englishGender scans the runs of latin letters in s for a gender word. A male word
// anywhere wins over a female word, matching the marker order.
func englishGender(s string) (models.Gender, bool) {
	var found models.Gender
	for _, word := range strings.FieldsFunc(s, func(r rune) bool { return r < 'a' || r > 'z' }) {
		switch englishGenders[word] {
		case models.GenderMale:
			return models.GenderMale, true
		case models.GenderFemale:
			found = models.GenderFemale
		}
	}
	return found, found != ""
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// NormalizeGender maps a free-text answer to a gender category. The male
// marker is checked before the female marker, so an answer containing both
// resolves to male. It reports false when no rule matches.
func NormalizeGender(text string) (models.Gender, bool) {
	s := normalizeAnswer(text)
	if s == "" {
		return "", false
	}
	word, wordOK := englishGender(s)
	switch {
	case containsAny(s, maleMarkers) || (wordOK && word == models.GenderMale):
		return models.GenderMale, true
	case containsAny(s, femaleMarkers) || (wordOK && word == models.GenderFemale):
		return models.GenderFemale, true
	case containsAny(s, otherMarkers):
		return models.GenderOther, true
	}
	return "", false
}

// NormalizeRelationshipStatus maps a free-text answer to a relationship
// category. It never fails: unmatched answers are StatusOther. Heartbreak is
// checked first so "彼女と別れた" is heartbreak, not dating.
func NormalizeRelationshipStatus(text string) models.RelationshipStatus {
	s := normalizeAnswer(text)
	switch {
	case containsAny(s, heartbreakMarkers):
		return models.StatusHeartbreak
	case containsAny(s, crushMarkers):
		return models.StatusCrush
	case containsAny(s, datingMarkers):
		return models.StatusDating
	default:
		return models.StatusOther
	}
}
