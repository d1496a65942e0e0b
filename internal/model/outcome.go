package model

import (
	"errors"
	"time"
)

// OutcomeState is the caller-facing classification of a finished run.
type OutcomeState string

const (
	// OutcomeOptimal means the solver proved optimality; assignments are trusted.
	OutcomeOptimal OutcomeState = "optimal"
	// OutcomeInfeasible means no assignment satisfies the constraints.
	OutcomeInfeasible OutcomeState = "infeasible"
	// OutcomeNotOptimal means the solver stopped early (time limit, error, ...).
	OutcomeNotOptimal OutcomeState = "not_optimal"
)

var (
	ErrInfeasibleModel = errors.New("allocation model is infeasible")
	ErrNotOptimal      = errors.New("solver stopped without proving optimality")
)

// ExtractionIssue records a pair whose value was missing on an otherwise
// optimal solve. Such pairs are treated as unassigned.
type ExtractionIssue struct {
	StudentID    string `json:"student_id"`
	UniversityID string `json:"university_id"`
	Detail       string `json:"detail"`
}

// Outcome is the full result of one allocation run.
type Outcome struct {
	State         OutcomeState      `json:"state"`
	SolverStatus  string            `json:"solver_status"`
	Termination   string            `json:"termination"`
	Objective     float64           `json:"objective"`
	Assignments   []Assignment      `json:"assignments"`
	Exclusions    []Exclusion       `json:"exclusions"`
	Unplaceable   []string          `json:"unplaceable"`
	Issues        []ExtractionIssue `json:"issues,omitempty"`
	Students      int               `json:"students"`
	Universities  int               `json:"universities"`
	EligiblePairs int               `json:"eligible_pairs"`
	SolveDuration time.Duration     `json:"solve_duration"`
	Options       RunOptions        `json:"options"`

	// ScoredStudents is only set on the Outcome returned by the allocator.
	// It is neither cached nor persisted.
	ScoredStudents []ScoredStudent `json:"-"`
}

// Optimal reports whether assignments can be trusted.
func (o *Outcome) Optimal() bool {
	return o.State == OutcomeOptimal
}

// Err returns nil for an optimal outcome, ErrInfeasibleModel when the
// constraints cannot be met and ErrNotOptimal otherwise.
func (o *Outcome) Err() error {
	switch o.State {
	case OutcomeOptimal:
		return nil
	case OutcomeInfeasible:
		return ErrInfeasibleModel
	default:
		return ErrNotOptimal
	}
}
