package model

// EligiblePair is a (student, university) combination allowed to carry a
// decision variable. Slot is the 1-based preference slot the pair came
// from, or 0 when eligibility did not come from a stated preference.
type EligiblePair struct {
	StudentID    string `json:"student_id"`
	UniversityID string `json:"university_id"`
	Slot         int    `json:"slot"`
}

// ExclusionReason classifies why a candidate pair was dropped.
type ExclusionReason string

const (
	ReasonUnknownUniversity   ExclusionReason = "unknown_university"
	ReasonDuplicatePreference ExclusionReason = "duplicate_preference"
	ReasonUniversityPaused    ExclusionReason = "university_paused"
	ReasonProgramNotOffered   ExclusionReason = "program_not_offered"
	ReasonUnknownProgram      ExclusionReason = "unknown_program"
	ReasonNoCapacityData      ExclusionReason = "no_capacity_data"
	ReasonNoCapacityForLevel  ExclusionReason = "no_capacity_for_level"
)

// Exclusion records a candidate pair that did not become eligible.
type Exclusion struct {
	StudentID    string          `json:"student_id"`
	UniversityID string          `json:"university_id"`
	Slot         int             `json:"slot,omitempty"`
	Reason       ExclusionReason `json:"reason"`
	Detail       string          `json:"detail,omitempty"`
}

// Assignment is one placement decided by the optimizer.
type Assignment struct {
	StudentID     string  `json:"student_id"`
	UniversityID  string  `json:"university_id"`
	Slot          int     `json:"slot"`
	Score         float64 `json:"score"`
	WeightedScore float64 `json:"weighted_score"`
}
