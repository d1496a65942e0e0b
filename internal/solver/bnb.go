package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultNodeLimit caps the search when no limit is configured.
const DefaultNodeLimit = 5_000_000

const (
	feasTol = 1e-9
	intTol  = 1e-6
	lpTol   = 1e-10
)

// BranchAndBound is an exact, deterministic, in-process 0/1 solver.
//
// It runs a depth-first search. Each constraint tracks its activity plus
// the smallest and largest contribution the unfixed variables can still
// add, so a branch is cut the moment a constraint can no longer be met.
//
// Every node first tries two combinatorial bounds: set-packing rows (all
// coefficients 1, upper bound <= 1) add at most their best remaining
// coefficient, and other unit rows with a finite upper bound add at most
// their best remaining `seats` coefficients. If neither prunes, the LP
// relaxation of the node is solved; an integral LP optimum closes the
// subtree, otherwise the search branches on the most fractional
// variable. When the LP cannot be solved the node falls back to
// branching in objective order.
type BranchAndBound struct {
	nodeLimit int
	log       zerolog.Logger
}

// NewBranchAndBound creates the engine. nodeLimit <= 0 selects the default.
func NewBranchAndBound(nodeLimit int, log zerolog.Logger) *BranchAndBound {
	if nodeLimit <= 0 {
		nodeLimit = DefaultNodeLimit
	}
	return &BranchAndBound{
		nodeLimit: nodeLimit,
		log:       log.With().Str("component", "bnb_solver").Logger(),
	}
}

func (b *BranchAndBound) Name() string { return "branch-and-bound" }

// Solve searches for a provably optimal 0/1 assignment.
func (b *BranchAndBound) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	s := newSearch(ctx, p, b.nodeLimit)
	if s.rootFeasible() {
		s.dfs()
	}

	sol := &Solution{Values: make(map[int]float64)}
	switch s.stop {
	case stopNone:
		if s.found {
			sol.Status, sol.Termination = StatusOK, TerminationOptimal
		} else {
			sol.Status, sol.Termination = StatusWarning, TerminationInfeasible
		}
	case stopDeadline:
		sol.Status, sol.Termination = StatusAborted, TerminationTimeLimit
	case stopCancelled:
		sol.Status, sol.Termination = StatusAborted, TerminationOther
	case stopNodes:
		sol.Status, sol.Termination = StatusAborted, TerminationMaxIterations
	}

	if s.found {
		x := make([]float64, len(s.best))
		for j, v := range s.best {
			x[j] = float64(v)
			sol.Values[j] = x[j]
		}
		sol.Objective = p.Evaluate(x)
	}
	sol.Duration = time.Since(start)

	b.log.Debug().
		Int("variables", len(p.Variables)).
		Int("constraints", len(p.Constraints)).
		Int("nodes", s.nodes).
		Int("lp_failures", s.lpFailures).
		Str("termination", string(sol.Termination)).
		Float64("objective", sol.Objective).
		Dur("duration", sol.Duration).
		Msg("Search finished")

	return sol, nil
}

type stopReason int

const (
	stopNone stopReason = iota
	stopDeadline
	stopCancelled
	stopNodes
)

const unset int8 = -1

type rowRef struct {
	row  int
	coef float64
}

type search struct {
	ctx       context.Context
	nodeLimit int

	obj     []float64
	order   []int
	varRows [][]rowRef
	terms   [][]Term
	packing []bool

	lower, upper        []float64
	act, minRem, maxRem []float64

	value []int8
	cur   float64

	groups    [][]int
	groupOf   []int
	groupOnes []int
	groupRow  []int

	// Unit rows with a finite upper bound, each owning the variables it
	// caps most tightly.
	seats   [][]int
	seatRow []int
	seatOf  []int

	best    []int8
	bestObj float64
	found   bool

	nodes      int
	lpFailures int
	stop       stopReason
}

func newSearch(ctx context.Context, p *Problem, nodeLimit int) *search {
	n, m := len(p.Variables), len(p.Constraints)
	s := &search{
		ctx:       ctx,
		nodeLimit: nodeLimit,
		obj:       make([]float64, n),
		varRows:   make([][]rowRef, n),
		terms:     make([][]Term, m),
		packing:   make([]bool, m),
		lower:     make([]float64, m),
		upper:     make([]float64, m),
		act:       make([]float64, m),
		minRem:    make([]float64, m),
		maxRem:    make([]float64, m),
		value:     make([]int8, n),
		groupOf:   make([]int, n),
		seatOf:    make([]int, n),
	}

	for j, c := range p.Objective {
		if p.Sense == Minimize {
			c = -c
		}
		s.obj[j] = c
		s.value[j] = unset
		s.groupOf[j] = -1
		s.seatOf[j] = -1
	}

	for r, c := range p.Constraints {
		s.lower[r], s.upper[r] = c.Lower, c.Upper
		s.terms[r] = c.Terms
		s.packing[r] = isPacking(c)
		for _, t := range c.Terms {
			s.varRows[t.Var] = append(s.varRows[t.Var], rowRef{row: r, coef: t.Coef})
			if t.Coef > 0 {
				s.maxRem[r] += t.Coef
			} else {
				s.minRem[r] += t.Coef
			}
		}
	}

	byObj := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			if s.obj[idx[a]] != s.obj[idx[b]] {
				return s.obj[idx[a]] > s.obj[idx[b]]
			}
			return idx[a] < idx[b]
		})
	}

	for r, c := range p.Constraints {
		if !s.packing[r] {
			continue
		}
		var g []int
		for _, t := range c.Terms {
			if s.groupOf[t.Var] == -1 {
				g = append(g, t.Var)
			}
		}
		if len(g) == 0 {
			continue
		}
		for _, j := range g {
			s.groupOf[j] = len(s.groups)
		}
		byObj(g)
		s.groups = append(s.groups, g)
		s.groupRow = append(s.groupRow, r)
	}
	for j := range s.groupOf {
		if s.groupOf[j] == -1 {
			s.groupOf[j] = len(s.groups)
			s.groups = append(s.groups, []int{j})
			s.groupRow = append(s.groupRow, -1)
		}
	}
	s.groupOnes = make([]int, len(s.groups))

	// Each variable goes to the tightest unit row other than the one
	// that defines its group.
	partOf := make(map[int]int)
	for j := range s.seatOf {
		tightest := -1
		for _, rr := range s.varRows[j] {
			r := rr.row
			if r == s.groupRow[s.groupOf[j]] || !isUnitCapped(p.Constraints[r]) {
				continue
			}
			if tightest == -1 || s.upper[r] < s.upper[tightest] {
				tightest = r
			}
		}
		if tightest == -1 {
			continue
		}
		part, ok := partOf[tightest]
		if !ok {
			part = len(s.seats)
			partOf[tightest] = part
			s.seats = append(s.seats, nil)
			s.seatRow = append(s.seatRow, tightest)
		}
		s.seatOf[j] = part
		s.seats[part] = append(s.seats[part], j)
	}
	for _, vars := range s.seats {
		byObj(vars)
	}

	s.order = make([]int, n)
	for j := range s.order {
		s.order[j] = j
	}
	byObj(s.order)

	return s
}

// isPacking reports whether at most one variable of c can be 1.
func isPacking(c Constraint) bool {
	if c.Upper > 1+feasTol || math.IsInf(c.Upper, 1) {
		return false
	}
	for _, t := range c.Terms {
		if t.Coef != 1 {
			return false
		}
	}
	return true
}

// isUnitCapped reports whether c is Σ x <= Upper over unit coefficients.
func isUnitCapped(c Constraint) bool {
	if math.IsInf(c.Upper, 1) {
		return false
	}
	for _, t := range c.Terms {
		if t.Coef != 1 {
			return false
		}
	}
	return true
}

func (s *search) rowOK(r int) bool {
	return s.act[r]+s.minRem[r] <= s.upper[r]+feasTol &&
		s.act[r]+s.maxRem[r] >= s.lower[r]-feasTol
}

func (s *search) rootFeasible() bool {
	for r := range s.act {
		if !s.rowOK(r) {
			return false
		}
	}
	return true
}

// fix sets x[j] = v and reports whether every touched row stays
// satisfiable. The caller must undo with unfix regardless of the result.
func (s *search) fix(j, v int) bool {
	s.value[j] = int8(v)
	s.cur += s.obj[j] * float64(v)
	if v == 1 {
		s.groupOnes[s.groupOf[j]]++
	}
	ok := true
	for _, rr := range s.varRows[j] {
		if rr.coef > 0 {
			s.maxRem[rr.row] -= rr.coef
		} else {
			s.minRem[rr.row] -= rr.coef
		}
		s.act[rr.row] += rr.coef * float64(v)
		if !s.rowOK(rr.row) {
			ok = false
		}
	}
	return ok
}

func (s *search) unfix(j, v int) {
	for _, rr := range s.varRows[j] {
		s.act[rr.row] -= rr.coef * float64(v)
		if rr.coef > 0 {
			s.maxRem[rr.row] += rr.coef
		} else {
			s.minRem[rr.row] += rr.coef
		}
	}
	if v == 1 {
		s.groupOnes[s.groupOf[j]]--
	}
	s.cur -= s.obj[j] * float64(v)
	s.value[j] = unset
}

// bound is an upper bound on what the unfixed variables can still add.
func (s *search) bound() float64 {
	return math.Min(s.packingBound(), s.seatBound())
}

func (s *search) packingBound() float64 {
	total := 0.0
	for g, vars := range s.groups {
		if s.groupOnes[g] > 0 {
			continue
		}
		for _, j := range vars {
			if s.value[j] != unset {
				continue
			}
			if s.obj[j] > 0 {
				total += s.obj[j]
			}
			break
		}
	}
	return total
}

func (s *search) seatBound() float64 {
	total := 0.0
	for part, vars := range s.seats {
		r := s.seatRow[part]
		left := math.Floor(s.upper[r] - s.act[r] + feasTol)
		for _, j := range vars {
			if left < 1 || s.obj[j] <= 0 {
				break
			}
			if s.value[j] != unset {
				continue
			}
			total += s.obj[j]
			left--
		}
	}
	for j, part := range s.seatOf {
		if part == -1 && s.value[j] == unset && s.obj[j] > 0 {
			total += s.obj[j]
		}
	}
	return total
}

type relaxStatus int

const (
	relaxSolved relaxStatus = iota
	relaxInfeasible
	relaxFailed
)

type lpRow struct {
	cols  []int
	coefs []float64
	slack float64
	rhs   float64
}

// relax solves the LP relaxation of what is left at this node. It
// returns the LP objective of the unfixed variables and a value for
// every variable.
func (s *search) relax() (float64, []float64, relaxStatus) {
	x := make([]float64, len(s.value))
	col := make([]int, len(s.value))
	var vars []int
	add := 0.0
	for j, v := range s.value {
		col[j] = -1
		switch {
		case v != unset:
			x[j] = float64(v)
		case len(s.varRows[j]) == 0:
			if s.obj[j] > 0 {
				x[j] = 1
				add += s.obj[j]
			}
		default:
			col[j] = len(vars)
			vars = append(vars, j)
		}
	}
	if len(vars) == 0 {
		return add, x, relaxSolved
	}

	var rows []lpRow
	capped := make([]bool, len(vars))
	for r, terms := range s.terms {
		var row lpRow
		for _, t := range terms {
			if col[t.Var] >= 0 && t.Coef != 0 {
				row.cols = append(row.cols, col[t.Var])
				row.coefs = append(row.coefs, t.Coef)
			}
		}
		if len(row.cols) == 0 {
			continue
		}
		hi, lo := s.upper[r]-s.act[r], s.lower[r]-s.act[r]
		needHi := s.maxRem[r] > hi+feasTol
		needLo := s.minRem[r] < lo-feasTol
		if s.lower[r] == s.upper[r] {
			row.rhs = hi
			rows = append(rows, row)
		} else {
			if needHi {
				rows = append(rows, lpRow{cols: row.cols, coefs: row.coefs, slack: 1, rhs: hi})
			}
			if needLo {
				rows = append(rows, lpRow{cols: row.cols, coefs: row.coefs, slack: -1, rhs: lo})
			}
			if !needHi {
				continue
			}
		}
		if s.packing[r] {
			for _, c := range row.cols {
				capped[c] = true
			}
		}
	}
	for c, ok := range capped {
		if !ok {
			rows = append(rows, lpRow{cols: []int{c}, coefs: []float64{1}, slack: 1, rhs: 1})
		}
	}

	m, n := len(rows), len(vars)
	for _, row := range rows {
		if row.slack != 0 {
			n++
		}
	}
	if m > n {
		return 0, nil, relaxFailed
	}

	A := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	c := make([]float64, n)
	for k, j := range vars {
		c[k] = -s.obj[j]
	}
	slackCol := len(vars)
	for i, row := range rows {
		sign := 1.0
		if row.rhs < 0 {
			sign = -1
		}
		for k, cc := range row.cols {
			A.Set(i, cc, sign*row.coefs[k])
		}
		if row.slack != 0 {
			A.Set(i, slackCol, sign*row.slack)
			slackCol++
		}
		b[i] = sign * row.rhs
	}

	optF, optX, err := simplex(c, A, b)
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return 0, nil, relaxInfeasible
	case err != nil:
		return 0, nil, relaxFailed
	}
	for k, j := range vars {
		x[j] = optX[k]
	}
	return add - optF, x, relaxSolved
}

// simplex runs lp.Simplex and turns a panic on a degenerate basis into
// an error.
func simplex(c []float64, A mat.Matrix, b []float64) (f float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simplex: %v", r)
		}
	}()
	return lp.Simplex(c, A, b, lpTol, nil)
}

// fractional returns the unfixed variable whose LP value is furthest
// from integral, or -1 when every one is within intTol.
func (s *search) fractional(x []float64) int {
	pick, worst := -1, intTol
	for _, j := range s.order {
		if s.value[j] != unset {
			continue
		}
		if f := math.Min(x[j], 1-x[j]); f > worst {
			pick, worst = j, f
		}
	}
	return pick
}

func (s *search) nextUnset() int {
	for _, j := range s.order {
		if s.value[j] == unset {
			return j
		}
	}
	return -1
}

func (s *search) record() {
	if !s.found || s.cur > s.bestObj+feasTol {
		s.best = append(s.best[:0], s.value...)
		s.bestObj = s.cur
		s.found = true
	}
}

// recordRounded fixes every open variable to its rounded LP value and
// records the result if every row holds.
func (s *search) recordRounded(x []float64) bool {
	var fixed []int
	ok := true
	for j, v := range s.value {
		if v != unset {
			continue
		}
		fixed = append(fixed, j)
		if !s.fix(j, int(math.Round(x[j]))) {
			ok = false
		}
	}
	if ok {
		s.record()
	}
	for i := len(fixed) - 1; i >= 0; i-- {
		j := fixed[i]
		s.unfix(j, int(s.value[j]))
	}
	return ok
}

func (s *search) dfs() {
	s.nodes++
	if err := s.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.stop = stopDeadline
		} else {
			s.stop = stopCancelled
		}
		return
	}
	if s.nodes > s.nodeLimit {
		s.stop = stopNodes
		return
	}
	if s.found && s.cur+s.bound() <= s.bestObj+feasTol {
		return
	}

	add, x, status := s.relax()
	j := -1
	switch status {
	case relaxInfeasible:
		return
	case relaxSolved:
		if s.found && s.cur+add <= s.bestObj+feasTol {
			return
		}
		if j = s.fractional(x); j == -1 && s.recordRounded(x) {
			return
		}
	case relaxFailed:
		s.lpFailures++
	}
	if j == -1 {
		j = s.nextUnset()
	}
	if j == -1 {
		s.record()
		return
	}

	first := 0
	if (status == relaxSolved && x[j] >= 0.5) || (status != relaxSolved && s.obj[j] > 0) {
		first = 1
	}
	for _, v := range [2]int{first, 1 - first} {
		if s.fix(j, v) {
			s.dfs()
		}
		s.unfix(j, v)
		if s.stop != stopNone {
			return
		}
	}
}
