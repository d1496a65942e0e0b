package solver

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ColumnName is the LP-file name of variable i.
func ColumnName(i int) string { return "x_" + strconv.Itoa(i) }

// RowName is the LP-file name of constraint i.
func RowName(i int) string { return "c_" + strconv.Itoa(i) }

// WriteLP writes p in CPLEX LP format. Ranged rows are split into a
// _lo and a _hi row; rows unbounded on both sides are omitted.
func WriteLP(w io.Writer, p *Problem) error {
	bw := bufio.NewWriter(w)

	if p.Sense == Minimize {
		bw.WriteString("Minimize\n")
	} else {
		bw.WriteString("Maximize\n")
	}
	bw.WriteString(" obj:")
	if len(p.Objective) == 0 {
		bw.WriteString(" 0")
	}
	for i, c := range p.Objective {
		writeTerm(bw, c, i)
	}
	bw.WriteString("\nSubject To\n")

	for i, c := range p.Constraints {
		lo, hi := !math.IsInf(c.Lower, -1), !math.IsInf(c.Upper, 1)
		name := RowName(i)
		switch {
		case lo && hi && c.Lower == c.Upper:
			writeRow(bw, name, c.Terms, "=", c.Upper)
		case lo && hi:
			writeRow(bw, name+"_lo", c.Terms, ">=", c.Lower)
			writeRow(bw, name+"_hi", c.Terms, "<=", c.Upper)
		case hi:
			writeRow(bw, name, c.Terms, "<=", c.Upper)
		case lo:
			writeRow(bw, name, c.Terms, ">=", c.Lower)
		}
	}

	if len(p.Variables) > 0 {
		bw.WriteString("Binary\n")
		for i := range p.Variables {
			bw.WriteString(" ")
			bw.WriteString(ColumnName(i))
			bw.WriteString("\n")
		}
	}
	bw.WriteString("End\n")
	return bw.Flush()
}

func writeRow(bw *bufio.Writer, name string, terms []Term, op string, rhs float64) {
	bw.WriteString(" ")
	bw.WriteString(name)
	bw.WriteString(":")
	for _, t := range terms {
		writeTerm(bw, t.Coef, t.Var)
	}
	fmt.Fprintf(bw, " %s %s\n", op, formatNumber(rhs))
}

func writeTerm(bw *bufio.Writer, coef float64, v int) {
	if coef < 0 {
		fmt.Fprintf(bw, " - %s %s", formatNumber(-coef), ColumnName(v))
		return
	}
	fmt.Fprintf(bw, " + %s %s", formatNumber(coef), ColumnName(v))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseSolution reads a HiGHS solution file. Only columns named by
// ColumnName with an index below n are kept.
func ParseSolution(r io.Reader, n int) (*Solution, error) {
	sol := &Solution{
		Status:      StatusUnknown,
		Termination: TerminationOther,
		Values:      make(map[int]float64),
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		modelStatus   string
		awaitStatus   bool
		columnsLeft   int
		inPrimal      bool
		sawModelState bool
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if columnsLeft > 0 {
			columnsLeft--
			fields := strings.Fields(line)
			if len(fields) < 2 || !strings.HasPrefix(fields[0], "x_") {
				continue
			}
			idx, err := strconv.Atoi(strings.TrimPrefix(fields[0], "x_"))
			if err != nil || idx < 0 || idx >= n {
				continue
			}
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", fields[0], err)
			}
			sol.Values[idx] = v
			continue
		}

		switch {
		case line == "":
			continue
		case awaitStatus:
			modelStatus, awaitStatus, sawModelState = line, false, true
		case strings.HasPrefix(line, "Model status"):
			rest := strings.TrimSpace(strings.TrimPrefix(line, "Model status"))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			if rest == "" {
				awaitStatus = true
			} else {
				modelStatus, sawModelState = rest, true
			}
		case strings.HasPrefix(line, "# Primal solution values"):
			inPrimal = true
		case strings.HasPrefix(line, "# Dual solution values"):
			inPrimal = false
		case inPrimal && strings.HasPrefix(line, "Objective"):
			f := strings.Fields(line)
			if v, err := strconv.ParseFloat(f[len(f)-1], 64); err == nil {
				sol.Objective = v
			}
		case inPrimal && strings.HasPrefix(line, "# Columns"):
			f := strings.Fields(line)
			cnt, err := strconv.Atoi(f[len(f)-1])
			if err != nil {
				return nil, fmt.Errorf("column count: %w", err)
			}
			columnsLeft = cnt
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawModelState {
		return nil, fmt.Errorf("solution file has no model status")
	}

	sol.Status, sol.Termination = classifyModelStatus(modelStatus)
	return sol, nil
}

func classifyModelStatus(s string) (Status, Termination) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "optimal":
		return StatusOK, TerminationOptimal
	case "infeasible":
		return StatusWarning, TerminationInfeasible
	case "unbounded", "primal unbounded":
		return StatusWarning, TerminationUnbounded
	case "time limit reached":
		return StatusAborted, TerminationTimeLimit
	case "iteration limit reached", "solution limit reached":
		return StatusAborted, TerminationMaxIterations
	case "interrupted by user":
		return StatusAborted, TerminationOther
	case "load error", "model error", "presolve error", "solve error", "postsolve error":
		return StatusError, TerminationOther
	default:
		return StatusUnknown, TerminationOther
	}
}
