package model

// PlacementMode selects the per-student assignment constraint.
type PlacementMode string

const (
	// PlacementBestEffort allows a student to stay unassigned (Σx ≤ 1).
	PlacementBestEffort PlacementMode = "best-effort"
	// PlacementStrict requires exactly one placement per student (Σx = 1).
	PlacementStrict PlacementMode = "strict"
)

// Variant selects eligibility and objective strategies together.
type Variant string

const (
	// VariantPreferences derives pairs from preference slots and weights
	// the objective by slot.
	VariantPreferences Variant = "preferences"
	// VariantOpen makes every active, program-compatible university
	// eligible and uses the plain score as objective coefficient.
	VariantOpen Variant = "open"
)

// ScoringStrategy selects how merit scores are computed.
type ScoringStrategy string

const (
	ScoringWeighted ScoringStrategy = "weighted"
	ScoringSimple   ScoringStrategy = "simple"
)

// SolverBackend selects the optimization engine.
type SolverBackend string

const (
	SolverBranchAndBound SolverBackend = "bnb"
	SolverHiGHS          SolverBackend = "highs"
)

// RunOptions are the strategy switches of one allocation run.
type RunOptions struct {
	Mode    PlacementMode   `json:"mode" form:"mode" binding:"omitempty,oneof=best-effort strict"`
	Variant Variant         `json:"variant" form:"variant" binding:"omitempty,oneof=preferences open"`
	Scoring ScoringStrategy `json:"scoring" form:"scoring" binding:"omitempty,oneof=weighted simple"`
	Solver  SolverBackend   `json:"solver" form:"solver" binding:"omitempty,oneof=bnb highs"`
}

// WithDefaults fills empty switches from defaults.
func (o RunOptions) WithDefaults(defaults RunOptions) RunOptions {
	if o.Mode == "" {
		o.Mode = defaults.Mode
	}
	if o.Variant == "" {
		o.Variant = defaults.Variant
	}
	if o.Scoring == "" {
		o.Scoring = defaults.Scoring
	}
	if o.Solver == "" {
		o.Solver = defaults.Solver
	}
	return o
}
