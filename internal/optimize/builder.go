// Package optimize turns scored students, universities and eligible
// pairs into a 0/1 program: one variable per pair, placement, capacity
// and semester-balance constraints, and a maximized weighted-score
// objective.
package optimize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/solver"
)

var (
	ErrInfeasibleByConstruction = errors.New("model is infeasible by construction")
	ErrUnknownReference         = errors.New("pair references an unknown student or university")
	ErrUncappedPair             = errors.New("no capacity of the university counts the student")
)

// InfeasibleError lists the students that make a strict model
// infeasible before any solve.
type InfeasibleError struct {
	Students []string
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("%s: no eligible university for %s", ErrInfeasibleByConstruction, strings.Join(e.Students, ", "))
}

func (e *InfeasibleError) Is(target error) bool {
	return target == ErrInfeasibleByConstruction
}

// Model is a built program plus the mapping back to pairs. Variable i
// of Problem belongs to Pairs[i].
type Model struct {
	Problem  *solver.Problem
	Pairs    []model.EligiblePair
	Scores   map[string]float64
	Weighted []float64
}

// Builder assembles Models for one placement mode and objective.
type Builder struct {
	mode      model.PlacementMode
	objective *Objective
	log       zerolog.Logger
}

// NewBuilder creates a Builder. An empty mode means best-effort.
func NewBuilder(mode model.PlacementMode, objective *Objective, log zerolog.Logger) *Builder {
	if mode == "" {
		mode = model.PlacementBestEffort
	}
	return &Builder{
		mode:      mode,
		objective: objective,
		log:       log.With().Str("component", "model_builder").Logger(),
	}
}

// Build creates one binary variable per pair and only the constraints
// that reference at least one of them.
func (b *Builder) Build(students []model.ScoredStudent, universities []model.University, pairs []model.EligiblePair) (*Model, error) {
	scores := make(map[string]float64, len(students))
	levels := make(map[string]model.Level, len(students))
	semesters := make(map[string]model.Semester, len(students))
	for _, s := range students {
		scores[s.ID] = s.Score
		levels[s.ID] = s.Level
		semesters[s.ID] = s.Semester
	}
	known := make(map[string]model.University, len(universities))
	for _, u := range universities {
		known[u.ID] = u
	}

	m := &Model{
		Problem:  &solver.Problem{Sense: solver.Maximize},
		Pairs:    pairs,
		Scores:   scores,
		Weighted: make([]float64, len(pairs)),
	}

	byStudent := make(map[string][]solver.Term)
	byUniversity := make(map[string][]int)
	for i, p := range pairs {
		score, ok := scores[p.StudentID]
		if !ok {
			return nil, fmt.Errorf("%w: student %q", ErrUnknownReference, p.StudentID)
		}
		u, ok := known[p.UniversityID]
		if !ok {
			return nil, fmt.Errorf("%w: university %q", ErrUnknownReference, p.UniversityID)
		}
		if !u.CountsLevel(levels[p.StudentID]) {
			return nil, fmt.Errorf("%w: %s at %s", ErrUncappedPair, p.StudentID, p.UniversityID)
		}
		coef := b.objective.Coefficient(score, p)
		m.Weighted[i] = coef
		v := m.Problem.AddVariable(fmt.Sprintf("x[%s,%s]", p.StudentID, p.UniversityID), coef)
		byStudent[p.StudentID] = append(byStudent[p.StudentID], solver.Term{Var: v, Coef: 1})
		byUniversity[p.UniversityID] = append(byUniversity[p.UniversityID], v)
	}

	var unplaceable []string
	for _, s := range students {
		terms := byStudent[s.ID]
		if len(terms) == 0 {
			unplaceable = append(unplaceable, s.ID)
			continue
		}
		name := "place[" + s.ID + "]"
		if b.mode == model.PlacementStrict {
			m.Problem.AddConstraint(solver.Equal(name, terms, 1))
		} else {
			m.Problem.AddConstraint(solver.LessEq(name, terms, 1))
		}
	}
	if b.mode == model.PlacementStrict && len(unplaceable) > 0 {
		return nil, &InfeasibleError{Students: unplaceable}
	}

	for _, u := range universities {
		vars := byUniversity[u.ID]
		if len(vars) == 0 {
			continue
		}
		var bachelor, master, all, diff []solver.Term
		for _, v := range vars {
			sid := pairs[v].StudentID
			all = append(all, solver.Term{Var: v, Coef: 1})
			switch levels[sid] {
			case model.LevelBachelor:
				bachelor = append(bachelor, solver.Term{Var: v, Coef: 1})
			case model.LevelMaster:
				master = append(master, solver.Term{Var: v, Coef: 1})
			}
			switch semesters[sid] {
			case model.SemesterWinter:
				diff = append(diff, solver.Term{Var: v, Coef: 1})
			case model.SemesterSummer:
				diff = append(diff, solver.Term{Var: v, Coef: -1})
			}
		}
		if u.MaxBachelor != nil {
			m.Problem.AddConstraint(solver.LessEq("bachelor["+u.ID+"]", bachelor, float64(*u.MaxBachelor)))
		}
		if u.MaxMaster != nil {
			m.Problem.AddConstraint(solver.LessEq("master["+u.ID+"]", master, float64(*u.MaxMaster)))
		}
		if u.MaxCombined != nil {
			m.Problem.AddConstraint(solver.LessEq("combined["+u.ID+"]", all, float64(*u.MaxCombined)))
		}
		if u.BalanceSemesters {
			m.Problem.AddConstraint(solver.Range("balance["+u.ID+"]", diff, -1, 1))
		}
	}

	b.log.Info().
		Str("mode", string(b.mode)).
		Str("objective", string(b.objective.Strategy())).
		Int("variables", len(m.Problem.Variables)).
		Int("constraints", len(m.Problem.Constraints)).
		Msg("Model built")

	return m, nil
}
