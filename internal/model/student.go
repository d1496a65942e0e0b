package model

import "strings"

// Level is the degree level a student is enrolled in.
type Level string

const (
	LevelBachelor Level = "Bachelor"
	LevelMaster   Level = "Master"
	LevelUnknown  Level = ""
)

// ParseLevel normalizes a free-text degree level.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bachelor", "ba", "b.sc.", "b.a.", "bsc":
		return LevelBachelor
	case "master", "ma", "m.sc.", "m.a.", "msc":
		return LevelMaster
	default:
		return LevelUnknown
	}
}

// Semester is the exchange semester a student asked for.
type Semester string

const (
	SemesterWinter  Semester = "WiSe"
	SemesterSummer  Semester = "SoSe"
	SemesterNeutral Semester = "Egal"
)

// ParseSemester normalizes a semester choice. Anything that is neither a
// winter nor a summer term counts as neutral.
func ParseSemester(raw string) Semester {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "wise", "ws", "winter", "wintersemester":
		return SemesterWinter
	case "sose", "ss", "sommer", "summer", "sommersemester":
		return SemesterSummer
	default:
		return SemesterNeutral
	}
}

// MaxPreferences is the number of preference slots a student can fill.
const MaxPreferences = 5

// Student is one applicant as delivered by the data-loading layer. All
// fields are already coerced; see the ingest package for the rules.
type Student struct {
	ID             string   `json:"id" binding:"required,max=64"`
	Grade          float64  `json:"grade" binding:"gte=0,lte=6"`
	Motivation     float64  `json:"motivation" binding:"gte=0,lte=5"`
	Language       string   `json:"language" binding:"omitempty,cefr"`
	CV             float64  `json:"cv" binding:"gte=0,lte=5"`
	Formalities    float64  `json:"formalities" binding:"gte=0,lte=5"`
	Level          Level    `json:"level" binding:"omitempty,studylevel"`
	Credits        float64  `json:"credits" binding:"gte=0"`
	Disability     bool     `json:"disability"`
	DependentChild bool     `json:"dependent_child"`
	Preferences    []string `json:"preferences" binding:"max=5,dive,max=255"`
	Program        string   `json:"program" binding:"max=16"`
	Semester       Semester `json:"semester" binding:"omitempty,semester"`
}

// HasSpecialCircumstances reports whether any hardship flag is set.
func (s Student) HasSpecialCircumstances() bool {
	return s.Disability || s.DependentChild
}

// PreferenceSlot returns the 1-based slot in which universityID appears,
// or 0 when the student did not list it.
func (s Student) PreferenceSlot(universityID string) int {
	for i, p := range s.Preferences {
		if i >= MaxPreferences {
			break
		}
		if strings.TrimSpace(p) == universityID && universityID != "" {
			return i + 1
		}
	}
	return 0
}

// ScoredStudent pairs a student with the merit score computed for them.
// The score is computed once before model building and never changes.
type ScoredStudent struct {
	Student
	Score float64 `json:"score"`
}
