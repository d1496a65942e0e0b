package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// ErrEngineUnavailable is returned when the external engine cannot be run.
var ErrEngineUnavailable = errors.New("solver engine unavailable")

// DefaultHighsPath is looked up on PATH when no explicit binary is set.
const DefaultHighsPath = "highs"

// HiGHS drives the HiGHS command-line solver through an LP file.
type HiGHS struct {
	path string
	log  zerolog.Logger
}

// NewHiGHS creates the engine. An empty path selects DefaultHighsPath.
func NewHiGHS(path string, log zerolog.Logger) *HiGHS {
	if path == "" {
		path = DefaultHighsPath
	}
	return &HiGHS{
		path: path,
		log:  log.With().Str("component", "highs_solver").Logger(),
	}
}

func (h *HiGHS) Name() string { return "highs" }

// Available reports whether the binary can be found.
func (h *HiGHS) Available() bool {
	_, err := exec.LookPath(h.path)
	return err == nil
}

// Solve writes p to a temporary directory, runs the binary and parses
// the solution file. The remaining ctx deadline becomes --time_limit.
func (h *HiGHS) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	bin, err := exec.LookPath(h.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	dir, err := os.MkdirTemp("", "allocation-highs-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	modelPath := filepath.Join(dir, "model.lp")
	solPath := filepath.Join(dir, "model.sol")

	f, err := os.Create(modelPath)
	if err != nil {
		return nil, fmt.Errorf("create model file: %w", err)
	}
	if err := WriteLP(f, p); err != nil {
		f.Close()
		return nil, fmt.Errorf("write model file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close model file: %w", err)
	}

	args := []string{"--model_file", modelPath, "--solution_file", solPath}
	if deadline, ok := ctx.Deadline(); ok {
		secs := math.Max(time.Until(deadline).Seconds(), 1)
		args = append(args, "--time_limit", strconv.FormatFloat(secs, 'f', 0, 64))
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)
	out, runErr := cmd.CombinedOutput()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		term := TerminationOther
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			term = TerminationTimeLimit
		}
		h.log.Warn().Err(ctxErr).Dur("duration", elapsed).Msg("HiGHS run interrupted")
		return &Solution{
			Status:      StatusAborted,
			Termination: term,
			Values:      map[int]float64{},
			Duration:    elapsed,
		}, nil
	}
	if runErr != nil {
		h.log.Error().Err(runErr).Bytes("output", tail(out, 2048)).Msg("HiGHS exited with error")
		return nil, fmt.Errorf("run highs: %w", runErr)
	}

	sf, err := os.Open(solPath)
	if err != nil {
		return nil, fmt.Errorf("open solution file: %w", err)
	}
	defer sf.Close()

	sol, err := ParseSolution(sf, len(p.Variables))
	if err != nil {
		return nil, fmt.Errorf("parse solution file: %w", err)
	}
	sol.Duration = elapsed

	h.log.Debug().
		Int("variables", len(p.Variables)).
		Int("constraints", len(p.Constraints)).
		Str("termination", string(sol.Termination)).
		Float64("objective", sol.Objective).
		Dur("duration", elapsed).
		Msg("HiGHS finished")

	return sol, nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
