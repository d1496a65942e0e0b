// Package allocation runs the whole pipeline: score, resolve
// eligibility, build the model, solve and extract assignments.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/eligibility"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/optimize"
	"github.com/stemsi/exchange-allocator/internal/scoring"
	"github.com/stemsi/exchange-allocator/internal/solver"
)

// assignedThreshold is the value above which a decision counts as 1.
const assignedThreshold = 0.5

var (
	ErrInfeasibleModel     = model.ErrInfeasibleModel
	ErrNotOptimal          = model.ErrNotOptimal
	ErrDuplicateStudent    = errors.New("duplicate student id")
	ErrDuplicateUniversity = errors.New("duplicate university id")
)

// Config holds the run switches and engine settings.
type Config struct {
	Options   model.RunOptions
	Objective optimize.ObjectiveStrategy
	Profile   scoring.Profile
	Solver    solver.Options
	Timeout   time.Duration

	// Engine overrides the engine selected by Options.Solver.
	Engine solver.Solver
}

// DefaultOptions are used for every switch a caller leaves empty.
var DefaultOptions = model.RunOptions{
	Mode:    model.PlacementBestEffort,
	Variant: model.VariantPreferences,
	Scoring: model.ScoringWeighted,
	Solver:  model.SolverBranchAndBound,
}

// Allocator is configured once and may run many times. It holds no
// per-run state.
type Allocator struct {
	opts     model.RunOptions
	scorer   scoring.Scorer
	resolver *eligibility.Resolver
	builder  *optimize.Builder
	engine   solver.Solver
	timeout  time.Duration
	log      zerolog.Logger
}

// New validates cfg and wires the pipeline stages. Every configuration
// error surfaces here, before any data is read.
func New(cfg Config, log zerolog.Logger) (*Allocator, error) {
	opts := cfg.Options.WithDefaults(DefaultOptions)

	profile := cfg.Profile
	if profile.Weights == (scoring.Weights{}) {
		profile = scoring.DefaultProfile()
	}
	scorer, err := scoring.New(opts.Scoring, profile)
	if err != nil {
		return nil, err
	}

	objective, err := optimize.NewObjective(cfg.Objective, opts.Variant, profile)
	if err != nil {
		return nil, err
	}

	engine := cfg.Engine
	if engine == nil {
		engine, err = solver.New(opts.Solver, cfg.Solver, log)
		if err != nil {
			return nil, err
		}
	}

	switch opts.Mode {
	case model.PlacementBestEffort, model.PlacementStrict:
	default:
		return nil, fmt.Errorf("unknown placement mode %q", opts.Mode)
	}
	switch opts.Variant {
	case model.VariantPreferences, model.VariantOpen:
	default:
		return nil, fmt.Errorf("unknown variant %q", opts.Variant)
	}

	return &Allocator{
		opts:     opts,
		scorer:   scorer,
		resolver: eligibility.NewResolver(opts.Variant, log),
		builder:  optimize.NewBuilder(opts.Mode, objective, log),
		engine:   engine,
		timeout:  cfg.Timeout,
		log:      log.With().Str("component", "allocator").Logger(),
	}, nil
}

// Options returns the effective run switches.
func (a *Allocator) Options() model.RunOptions { return a.opts }

// Scorer exposes the configured scorer, e.g. for score previews.
func (a *Allocator) Scorer() scoring.Scorer { return a.scorer }

// Run executes one allocation. Infeasible and non-optimal solves are
// reported through the Outcome state, not as errors; the returned error
// is reserved for bad input and engine failures.
func (a *Allocator) Run(ctx context.Context, students []model.Student, universities []model.University) (*model.Outcome, error) {
	if err := CheckUnique(students, universities); err != nil {
		return nil, err
	}

	scored := scoring.ScoreAll(a.scorer, students)
	res := a.resolver.Resolve(students, universities)

	out := &model.Outcome{
		Exclusions:     res.Exclusions,
		Unplaceable:    res.Unplaceable,
		Students:       len(students),
		Universities:   len(universities),
		EligiblePairs:  len(res.Pairs),
		Options:        a.opts,
		ScoredStudents: scored,
		Assignments:    []model.Assignment{},
	}

	m, err := a.builder.Build(scored, universities, res.Pairs)
	if err != nil {
		if errors.Is(err, optimize.ErrInfeasibleByConstruction) {
			a.log.Warn().Err(err).Msg("Strict placement cannot be met, skipping solve")
			out.State = model.OutcomeInfeasible
			out.SolverStatus = string(solver.StatusWarning)
			out.Termination = string(solver.TerminationInfeasible)
			return out, nil
		}
		return nil, fmt.Errorf("build model: %w", err)
	}

	if len(m.Problem.Variables) == 0 {
		a.log.Info().Msg("No eligible pairs, nothing to solve")
		out.State = model.OutcomeOptimal
		out.SolverStatus = string(solver.StatusOK)
		out.Termination = string(solver.TerminationOptimal)
		return out, nil
	}

	solveCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	sol, err := a.engine.Solve(solveCtx, m.Problem)
	if err != nil {
		return nil, fmt.Errorf("solve with %s: %w", a.engine.Name(), err)
	}

	out.SolverStatus = string(sol.Status)
	out.Termination = string(sol.Termination)
	out.SolveDuration = sol.Duration

	a.extract(out, m, sol)

	a.log.Info().
		Str("state", string(out.State)).
		Str("engine", a.engine.Name()).
		Str("termination", out.Termination).
		Float64("objective", out.Objective).
		Int("assigned", len(out.Assignments)).
		Int("students", out.Students).
		Dur("duration", out.SolveDuration).
		Msg("Allocation finished")

	return out, nil
}

// extract reads decisions back in pair order (students in input order,
// then their pairs). Nothing is trusted unless optimality was proved.
func (a *Allocator) extract(out *model.Outcome, m *optimize.Model, sol *solver.Solution) {
	if !sol.Optimal() {
		if sol.Termination == solver.TerminationInfeasible {
			out.State = model.OutcomeInfeasible
		} else {
			out.State = model.OutcomeNotOptimal
		}
		a.log.Warn().
			Str("status", string(sol.Status)).
			Str("termination", string(sol.Termination)).
			Msg("Solver did not report an optimal solution, discarding values")
		return
	}

	out.State = model.OutcomeOptimal
	out.Objective = sol.Objective
	for i, p := range m.Pairs {
		v, ok := sol.Value(i)
		if !ok {
			issue := model.ExtractionIssue{
				StudentID:    p.StudentID,
				UniversityID: p.UniversityID,
				Detail:       "solver reported no value",
			}
			out.Issues = append(out.Issues, issue)
			a.log.Error().
				Str("student_id", p.StudentID).
				Str("university_id", p.UniversityID).
				Msg("Missing decision value, treating pair as unassigned")
			continue
		}
		if v <= assignedThreshold {
			continue
		}
		out.Assignments = append(out.Assignments, model.Assignment{
			StudentID:     p.StudentID,
			UniversityID:  p.UniversityID,
			Slot:          p.Slot,
			Score:         m.Scores[p.StudentID],
			WeightedScore: m.Weighted[i],
		})
	}
}

// CheckUnique rejects repeated student or university IDs.
func CheckUnique(students []model.Student, universities []model.University) error {
	seen := make(map[string]struct{}, len(students))
	for _, s := range students {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateStudent, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	seen = make(map[string]struct{}, len(universities))
	for _, u := range universities {
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateUniversity, u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}
