package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/allocation"
	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/export"
	"github.com/stemsi/exchange-allocator/internal/ingest"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/repository"
	"github.com/stemsi/exchange-allocator/internal/scoring"
	"github.com/stemsi/exchange-allocator/internal/solver"
)

var (
	ErrInvalidRunOptions = errors.New("invalid run options")
	ErrRunNotFinished    = errors.New("run has not finished")
	ErrRunFailed         = errors.New("run failed")
	ErrUnknownFormat     = errors.New("unknown export format")
	ErrQueueUnavailable  = errors.New("allocation queue unavailable")
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	defaultPerPage = 20

	// staleGrace is added to the solver timeout before a running run is
	// considered abandoned.
	staleGrace = 5 * time.Minute
)

// RunStore is the persistence the service needs. RunRepository satisfies it.
type RunStore interface {
	Create(ctx context.Context, run *model.Run) error
	MarkRunning(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	FailStale(ctx context.Context, cutoff time.Time, reason string) ([]uuid.UUID, error)
	SaveOutcome(ctx context.Context, id uuid.UUID, out *model.Outcome) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Run, error)
	List(ctx context.Context, filter model.RunFilter, limit, offset int) ([]model.Run, int, error)
	ListAssignments(ctx context.Context, runID uuid.UUID, universityID string) ([]model.Assignment, error)
	ListExclusions(ctx context.Context, runID uuid.UUID, reason model.ExclusionReason) ([]model.Exclusion, error)
}

// RunQueue carries inputs, jobs, outcomes and events between the API and
// the worker. RedisRunQueue satisfies it.
type RunQueue interface {
	StageInput(ctx context.Context, id uuid.UUID, in *model.RunInput) error
	LoadInput(ctx context.Context, id uuid.UUID) (*model.RunInput, error)
	DropInput(ctx context.Context, id uuid.UUID) error
	Enqueue(ctx context.Context, id uuid.UUID) error
	CacheOutcome(ctx context.Context, id uuid.UUID, out *model.Outcome) error
	LoadOutcome(ctx context.Context, id uuid.UUID) (*model.Outcome, error)
	Publish(ctx context.Context, ev model.RunEvent) error
}

// AllocationService submits runs, executes them on behalf of the worker
// and serves their results.
type AllocationService struct {
	runs       RunStore
	queue      RunQueue
	defaults   model.RunOptions
	profile    scoring.Profile
	solverOpts solver.Options
	timeout    time.Duration
	log        zerolog.Logger

	// engine overrides the configured solver; tests only.
	engine solver.Solver
}

// NewAllocationService creates a new AllocationService.
func NewAllocationService(runs RunStore, queue RunQueue, cfg *config.Config, profile scoring.Profile, log zerolog.Logger) *AllocationService {
	return &AllocationService{
		runs:     runs,
		queue:    queue,
		defaults: cfg.RunDefaults().WithDefaults(allocation.DefaultOptions),
		profile:  profile,
		solverOpts: solver.Options{
			HighsPath: cfg.HighsPath,
			NodeLimit: cfg.SolverNodeLimit,
		},
		timeout: cfg.SolverTimeout,
		log:     log.With().Str("component", "allocation_service").Logger(),
	}
}

// Defaults returns the run switches applied to empty request options.
func (s *AllocationService) Defaults() model.RunOptions { return s.defaults }

// NewAllocator builds an allocator for the given switches, falling back to
// the deployment defaults for empty ones.
func (s *AllocationService) NewAllocator(opts model.RunOptions) (*allocation.Allocator, error) {
	a, err := allocation.New(allocation.Config{
		Options: opts.WithDefaults(s.defaults),
		Profile: s.profile,
		Solver:  s.solverOpts,
		Timeout: s.timeout,
		Engine:  s.engine,
	}, s.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRunOptions, err)
	}
	return a, nil
}

// Submit validates a run, stages its input and queues it for the worker.
func (s *AllocationService) Submit(ctx context.Context, adminID int, in *model.RunInput) (*model.Run, error) {
	alloc, err := s.NewAllocator(in.Options)
	if err != nil {
		return nil, err
	}
	in.Options = alloc.Options()

	if err := allocation.CheckUnique(in.Students, in.Universities); err != nil {
		return nil, err
	}

	run := &model.Run{
		ID:           uuid.New(),
		Status:       model.RunQueued,
		Options:      in.Options,
		Students:     len(in.Students),
		Universities: len(in.Universities),
		CreatedBy:    adminID,
	}

	if err := s.queue.StageInput(ctx, run.ID, in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := s.queue.Enqueue(ctx, run.ID); err != nil {
		_ = s.runs.MarkFailed(ctx, run.ID, "could not enqueue run")
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	s.publish(ctx, model.RunEvent{RunID: run.ID, Type: model.RunEventQueued})
	s.log.Info().
		Str("run_id", run.ID.String()).
		Int("students", run.Students).
		Int("universities", run.Universities).
		Msg("Run queued")

	return run, nil
}

// Record stores an outcome computed outside the worker, e.g. by the batch
// CLI. The run has no submitting admin.
func (s *AllocationService) Record(ctx context.Context, out *model.Outcome) (*model.Run, error) {
	run := &model.Run{
		ID:           uuid.New(),
		Status:       model.RunQueued,
		Options:      out.Options,
		Students:     out.Students,
		Universities: out.Universities,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := s.runs.MarkRunning(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	if err := s.runs.SaveOutcome(ctx, run.ID, out); err != nil {
		return nil, fmt.Errorf("save outcome: %w", err)
	}
	return s.runs.GetByID(ctx, run.ID)
}

// Execute runs a queued job to completion. A job that is no longer queued
// (for example a redelivery) is skipped without error.
func (s *AllocationService) Execute(ctx context.Context, id uuid.UUID) error {
	log := s.log.With().Str("run_id", id.String()).Logger()

	if err := s.runs.MarkRunning(ctx, id); err != nil {
		if errors.Is(err, repository.ErrRunNotQueued) {
			log.Warn().Msg("Run already picked up, skipping")
			return nil
		}
		return fmt.Errorf("mark running: %w", err)
	}
	s.publish(ctx, model.RunEvent{RunID: id, Type: model.RunEventStarted})

	in, err := s.queue.LoadInput(ctx, id)
	if err != nil {
		return s.fail(ctx, id, err)
	}

	alloc, err := s.NewAllocator(in.Options)
	if err != nil {
		return s.fail(ctx, id, err)
	}

	out, err := alloc.Run(ctx, in.Students, in.Universities)
	if err != nil {
		return s.fail(ctx, id, err)
	}

	if err := s.runs.SaveOutcome(ctx, id, out); err != nil {
		return s.fail(ctx, id, fmt.Errorf("save outcome: %w", err))
	}
	if err := s.queue.CacheOutcome(ctx, id, out); err != nil {
		log.Warn().Err(err).Msg("Failed to cache outcome")
	}
	if err := s.queue.DropInput(ctx, id); err != nil {
		log.Warn().Err(err).Msg("Failed to drop staged input")
	}

	s.publish(ctx, model.RunEvent{
		RunID:    id,
		Type:     model.RunEventFinished,
		State:    out.State,
		Assigned: len(out.Assignments),
	})
	log.Info().
		Str("state", string(out.State)).
		Int("assigned", len(out.Assignments)).
		Dur("solve", out.SolveDuration).
		Msg("Run finished")
	return nil
}

// ReapStale fails runs still marked running long after any solve could
// have ended, which only happens when a worker died mid-run. It returns
// how many runs were failed.
func (s *AllocationService) ReapStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-(s.timeout + staleGrace))
	ids, err := s.runs.FailStale(ctx, cutoff, "worker stopped before the run finished")
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	for _, id := range ids {
		s.log.Warn().Str("run_id", id.String()).Msg("Abandoned run marked failed")
		s.publish(ctx, model.RunEvent{RunID: id, Type: model.RunEventFailed, Message: "worker stopped before the run finished"})
	}
	return len(ids), nil
}

func (s *AllocationService) fail(ctx context.Context, id uuid.UUID, cause error) error {
	// Record the failure even when ctx was cancelled by shutdown.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.runs.MarkFailed(ctx, id, cause.Error()); err != nil {
		s.log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to mark run failed")
	}
	s.publish(ctx, model.RunEvent{RunID: id, Type: model.RunEventFailed, Message: cause.Error()})
	return cause
}

func (s *AllocationService) publish(ctx context.Context, ev model.RunEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := s.queue.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("run_id", ev.RunID.String()).Msg("Failed to publish run event")
	}
}

// Get retrieves one run.
func (s *AllocationService) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	return s.runs.GetByID(ctx, id)
}

// List returns a page of runs and the normalized page settings.
func (s *AllocationService) List(ctx context.Context, filter model.RunFilter) ([]model.Run, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = defaultPerPage
	}
	return s.runs.List(ctx, filter, filter.PerPage, (filter.Page-1)*filter.PerPage)
}

// finished loads a run and requires it to have completed successfully.
func (s *AllocationService) finished(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case model.RunFinished:
		return run, nil
	case model.RunFailed:
		return nil, fmt.Errorf("%w: %s", ErrRunFailed, run.Error)
	default:
		return nil, ErrRunNotFinished
	}
}

// Assignments lists a finished run's assignments, optionally for one
// university.
func (s *AllocationService) Assignments(ctx context.Context, id uuid.UUID, universityID string) ([]model.Assignment, error) {
	if _, err := s.finished(ctx, id); err != nil {
		return nil, err
	}
	return s.runs.ListAssignments(ctx, id, universityID)
}

// Exclusions lists a finished run's excluded pairs.
func (s *AllocationService) Exclusions(ctx context.Context, id uuid.UUID, reason model.ExclusionReason) ([]model.Exclusion, error) {
	if _, err := s.finished(ctx, id); err != nil {
		return nil, err
	}
	return s.runs.ListExclusions(ctx, id, reason)
}

// Outcome returns the full outcome of a finished run, from cache when
// possible and rebuilt from the database otherwise.
func (s *AllocationService) Outcome(ctx context.Context, id uuid.UUID) (*model.Outcome, error) {
	run, err := s.finished(ctx, id)
	if err != nil {
		return nil, err
	}

	out, err := s.queue.LoadOutcome(ctx, id)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrOutcomeNotCached) {
		s.log.Warn().Err(err).Str("run_id", id.String()).Msg("Outcome cache unavailable")
	}

	assignments, err := s.runs.ListAssignments(ctx, id, "")
	if err != nil {
		return nil, err
	}
	exclusions, err := s.runs.ListExclusions(ctx, id, "")
	if err != nil {
		return nil, err
	}
	return &model.Outcome{
		State:         run.State,
		SolverStatus:  run.SolverStatus,
		Termination:   run.Termination,
		Objective:     run.Objective,
		Assignments:   assignments,
		Exclusions:    exclusions,
		Unplaceable:   run.Unplaceable,
		Issues:        run.Issues,
		Students:      run.Students,
		Universities:  run.Universities,
		EligiblePairs: run.EligiblePairs,
		SolveDuration: time.Duration(run.SolveMillis) * time.Millisecond,
		Options:       run.Options,
	}, nil
}

// Export writes an optimal run's assignments in the requested format.
func (s *AllocationService) Export(ctx context.Context, id uuid.UUID, format string, w io.Writer) error {
	if format != FormatCSV && format != FormatXLSX {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	out, err := s.Outcome(ctx, id)
	if err != nil {
		return err
	}
	if !out.Optimal() {
		return fmt.Errorf("%w: state %s", export.ErrNotExportable, out.State)
	}
	if format == FormatCSV {
		return export.WriteCSV(w, out.Assignments)
	}
	return export.WriteXLSX(w, out)
}

// PreviewScores scores students without running the optimizer.
func (s *AllocationService) PreviewScores(strategy model.ScoringStrategy, students []model.Student) ([]model.ScorePreview, error) {
	if strategy == "" {
		strategy = s.defaults.Scoring
	}
	scorer, err := scoring.New(strategy, s.profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRunOptions, err)
	}
	scored := scoring.ScoreAll(scorer, students)
	out := make([]model.ScorePreview, len(scored))
	for i, ss := range scored {
		out[i] = model.ScorePreview{StudentID: ss.ID, Score: ss.Score}
	}
	return out, nil
}

// ParseWorkbooks reads the two uploaded workbooks into a run payload.
// Row-level problems are returned as issues; only unreadable workbooks
// fail.
func (s *AllocationService) ParseWorkbooks(students, universities io.Reader) (*model.RunInput, []ingest.Issue, error) {
	ss, studentIssues, err := ingest.ReadStudents(students)
	if err != nil {
		return nil, nil, fmt.Errorf("students workbook: %w", err)
	}
	us, uniIssues, err := ingest.ReadUniversities(universities)
	if err != nil {
		return nil, nil, fmt.Errorf("universities workbook: %w", err)
	}
	return &model.RunInput{Students: ss, Universities: us}, append(studentIssues, uniIssues...), nil
}
