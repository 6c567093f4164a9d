package flow

import (
	"testing"

	"github.com/BTreeMap/KakeruBot/internal/models"
)

func TestNormalizeGender(t *testing.T) {
	tests := []struct {
		in     string
		want   models.Gender
		wantOK bool
	}{
		{"男性です", models.GenderMale, true},
		{"  男  ", models.GenderMale, true},
		{"女性", models.GenderFemale, true},
		{"女の子です", models.GenderFemale, true},
		{"Male", models.GenderMale, true},
		{"female", models.GenderFemale, true},
		{"WOMAN", models.GenderFemale, true},
		{"その他", models.GenderOther, true},
		{"答えたくないです", models.GenderOther, true},
		{"Other", models.GenderOther, true},
		{"Male.", models.GenderMale, true},
		{"I'm male", models.GenderMale, true},
		{"man!", models.GenderMale, true},
		{"I am a woman", models.GenderFemale, true},
		{"Female!!", models.GenderFemale, true},
		{"女性 (female)", models.GenderFemale, true},
		{"maleです", models.GenderMale, true},
		{"human", "", false},
		{"manga", "", false},
		{"うーん", "", false},
		{"", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeGender(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("NormalizeGender(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNormalizeGenderMaleWinsTieBreak(t *testing.T) {
	for _, in := range []string{"男女", "女男", "女性だけど男っぽい", "男でも女でもない", "male or female", "female, male"} {
		if got, ok := NormalizeGender(in); !ok || got != models.GenderMale {
			t.Errorf("NormalizeGender(%q) = %q, %v; want male", in, got, ok)
		}
	}
}

func TestNormalizeRelationshipStatus(t *testing.T) {
	tests := []struct {
		in   string
		want models.RelationshipStatus
	}{
		{"片思い中です", models.StatusCrush},
		{"好きな人がいます", models.StatusCrush},
		{"彼女と付き合っています", models.StatusDating},
		{"交際中", models.StatusDating},
		{"Dating", models.StatusDating},
		{"失恋しました", models.StatusHeartbreak},
		{"彼女と別れた", models.StatusHeartbreak},
		{"振られました", models.StatusHeartbreak},
		{"特になし", models.StatusOther},
		{"🙂", models.StatusOther},
		{"", models.StatusOther},
	}
	for _, tt := range tests {
		if got := NormalizeRelationshipStatus(tt.in); got != tt.want {
			t.Errorf("NormalizeRelationshipStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
