// Package solver is the boundary to the integer-programming engine. A
// Problem is a linear 0/1 program; engines return per-variable values
// plus a status and a termination condition.
package solver

import (
	"errors"
	"fmt"
	"math"
)

// Sense is the optimization direction.
type Sense int

const (
	Maximize Sense = iota
	Minimize
)

func (s Sense) String() string {
	if s == Minimize {
		return "minimize"
	}
	return "maximize"
}

// Variable is a binary decision variable.
type Variable struct {
	Name string
}

// Term is coef * x[Var].
type Term struct {
	Var  int
	Coef float64
}

// Constraint is Lower <= Σ terms <= Upper. Use math.Inf for an open side.
type Constraint struct {
	Name  string
	Terms []Term
	Lower float64
	Upper float64
}

// LessEq builds Σ terms <= upper.
func LessEq(name string, terms []Term, upper float64) Constraint {
	return Constraint{Name: name, Terms: terms, Lower: math.Inf(-1), Upper: upper}
}

// Equal builds Σ terms == rhs.
func Equal(name string, terms []Term, rhs float64) Constraint {
	return Constraint{Name: name, Terms: terms, Lower: rhs, Upper: rhs}
}

// Range builds lower <= Σ terms <= upper.
func Range(name string, terms []Term, lower, upper float64) Constraint {
	return Constraint{Name: name, Terms: terms, Lower: lower, Upper: upper}
}

// Problem is a complete 0/1 linear program.
type Problem struct {
	Variables   []Variable
	Constraints []Constraint
	Objective   []float64
	Sense       Sense
}

// AddVariable appends a variable with its objective coefficient and
// returns its index.
func (p *Problem) AddVariable(name string, objective float64) int {
	p.Variables = append(p.Variables, Variable{Name: name})
	p.Objective = append(p.Objective, objective)
	return len(p.Variables) - 1
}

// AddConstraint appends c unless it has no terms.
func (p *Problem) AddConstraint(c Constraint) {
	if len(c.Terms) == 0 {
		return
	}
	p.Constraints = append(p.Constraints, c)
}

var ErrInvalidProblem = errors.New("invalid problem")

// Validate checks indexes, bounds and duplicate terms.
func (p *Problem) Validate() error {
	if len(p.Objective) != len(p.Variables) {
		return fmt.Errorf("%w: %d objective coefficients for %d variables", ErrInvalidProblem, len(p.Objective), len(p.Variables))
	}
	for ci, c := range p.Constraints {
		if c.Lower > c.Upper {
			return fmt.Errorf("%w: constraint %d (%s) has lower %v > upper %v", ErrInvalidProblem, ci, c.Name, c.Lower, c.Upper)
		}
		seen := make(map[int]struct{}, len(c.Terms))
		for _, t := range c.Terms {
			if t.Var < 0 || t.Var >= len(p.Variables) {
				return fmt.Errorf("%w: constraint %d (%s) references variable %d", ErrInvalidProblem, ci, c.Name, t.Var)
			}
			if _, dup := seen[t.Var]; dup {
				return fmt.Errorf("%w: constraint %d (%s) repeats variable %d", ErrInvalidProblem, ci, c.Name, t.Var)
			}
			seen[t.Var] = struct{}{}
		}
	}
	return nil
}

// Evaluate returns the objective value of a full 0/1 assignment.
func (p *Problem) Evaluate(x []float64) float64 {
	v := 0.0
	for i, c := range p.Objective {
		if i < len(x) {
			v += c * x[i]
		}
	}
	return v
}

// Feasible reports whether x satisfies every constraint within tol.
func (p *Problem) Feasible(x []float64, tol float64) bool {
	for _, c := range p.Constraints {
		act := 0.0
		for _, t := range c.Terms {
			act += t.Coef * x[t.Var]
		}
		if act < c.Lower-tol || act > c.Upper+tol {
			return false
		}
	}
	return true
}
