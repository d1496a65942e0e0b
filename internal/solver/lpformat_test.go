package solver

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestWriteLP(t *testing.T) {
	p := &Problem{Sense: Maximize}
	a := p.AddVariable("a", 0.5)
	b := p.AddVariable("b", -0.2)
	p.AddConstraint(Range("bal", []Term{{a, 1}, {b, -1}}, -1, 1))
	p.AddConstraint(Equal("one", []Term{{a, 1}, {b, 1}}, 1))
	p.AddConstraint(LessEq("cap", []Term{{a, 1}}, 0))
	p.AddConstraint(Range("free", []Term{{b, 1}}, math.Inf(-1), math.Inf(1)))

	var buf bytes.Buffer
	if err := WriteLP(&buf, p); err != nil {
		t.Fatalf("WriteLP: %v", err)
	}
	got := buf.String()

	for _, want := range []string{
		"Maximize\n obj: + 0.5 x_0 - 0.2 x_1\n",
		" c_0_lo: + 1 x_0 - 1 x_1 >= -1\n",
		" c_0_hi: + 1 x_0 - 1 x_1 <= 1\n",
		" c_1: + 1 x_0 + 1 x_1 = 1\n",
		" c_2: + 1 x_0 <= 0\n",
		"Binary\n x_0\n x_1\nEnd\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("LP output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "c_3") {
		t.Errorf("unbounded row written:\n%s", got)
	}
}

const highsSolution = `Model status
Optimal

# Primal solution values
Feasible
Objective 1.65
# Columns 4
x_0 0
x_1 1
x_2 1
x_3 -0
# Rows 2
c_0 1
c_1 1

# Dual solution values
None

# Basis
HiGHS v1
None
`

func TestParseSolution(t *testing.T) {
	sol, err := ParseSolution(strings.NewReader(highsSolution), 4)
	if err != nil {
		t.Fatalf("ParseSolution: %v", err)
	}
	if sol.Status != StatusOK || sol.Termination != TerminationOptimal {
		t.Errorf("status = %s/%s", sol.Status, sol.Termination)
	}
	if sol.Objective != 1.65 {
		t.Errorf("objective = %v", sol.Objective)
	}
	want := []float64{0, 1, 1, 0}
	for i, w := range want {
		v, ok := sol.Value(i)
		if !ok || v != w {
			t.Errorf("x_%d = %v (%v), want %v", i, v, ok, w)
		}
	}
}

func TestParseSolution_InlineStatusAndPartialColumns(t *testing.T) {
	in := "Model status        : Time limit reached\n" +
		"# Primal solution values\nFeasible\nObjective 2\n# Columns 2\nx_0 1\nx_7 1\n"
	sol, err := ParseSolution(strings.NewReader(in), 3)
	if err != nil {
		t.Fatalf("ParseSolution: %v", err)
	}
	if sol.Status != StatusAborted || sol.Termination != TerminationTimeLimit {
		t.Errorf("status = %s/%s, want aborted/maxTimeLimit", sol.Status, sol.Termination)
	}
	if _, ok := sol.Value(1); ok {
		t.Error("x_1 should be missing")
	}
	if len(sol.Values) != 1 {
		t.Errorf("values = %v, want only x_0", sol.Values)
	}
}

func TestParseSolution_Infeasible(t *testing.T) {
	sol, err := ParseSolution(strings.NewReader("Model status\nInfeasible\n\n# Primal solution values\nNone\n"), 2)
	if err != nil {
		t.Fatalf("ParseSolution: %v", err)
	}
	if sol.Termination != TerminationInfeasible || len(sol.Values) != 0 {
		t.Errorf("got %s with %v", sol.Termination, sol.Values)
	}
}

func TestParseSolution_NoStatus(t *testing.T) {
	if _, err := ParseSolution(strings.NewReader("garbage\n"), 1); err == nil {
		t.Error("expected error for file without model status")
	}
}
