package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/model"
)

// Status is the overall solver status.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
	StatusUnknown Status = "unknown"
)

// Termination is the solver-reported outcome classification.
type Termination string

const (
	TerminationOptimal       Termination = "optimal"
	TerminationInfeasible    Termination = "infeasible"
	TerminationUnbounded     Termination = "unbounded"
	TerminationTimeLimit     Termination = "maxTimeLimit"
	TerminationMaxIterations Termination = "maxIterations"
	TerminationOther         Termination = "other"
)

// Solution is what an engine returns. Values holds an entry only for
// variables the engine reported; an absent index is a missing value.
type Solution struct {
	Status      Status
	Termination Termination
	Objective   float64
	Values      map[int]float64
	Duration    time.Duration
}

// Value returns the reported value of variable i.
func (s *Solution) Value(i int) (float64, bool) {
	v, ok := s.Values[i]
	return v, ok
}

// Optimal reports whether the engine proved optimality.
func (s *Solution) Optimal() bool {
	return s.Termination == TerminationOptimal
}

// Solver solves a 0/1 linear program. Implementations honour ctx for
// cancellation and deadlines.
type Solver interface {
	Solve(ctx context.Context, p *Problem) (*Solution, error)
	Name() string
}

// Options configure engine construction.
type Options struct {
	HighsPath string
	NodeLimit int
}

// New returns the engine for backend.
func New(backend model.SolverBackend, opts Options, log zerolog.Logger) (Solver, error) {
	switch backend {
	case model.SolverBranchAndBound, "":
		return NewBranchAndBound(opts.NodeLimit, log), nil
	case model.SolverHiGHS:
		return NewHiGHS(opts.HighsPath, log), nil
	default:
		return nil, fmt.Errorf("unknown solver backend %q", backend)
	}
}
