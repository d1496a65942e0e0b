package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exchange-allocator/internal/model"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunNotQueued = errors.New("run is not queued")
)

var runColumns = []string{
	"id", "status", "options", "state", "solver_status", "termination", "objective",
	"students", "universities", "eligible_pairs", "assigned", "unplaceable", "issues", "solve_ms",
	"error", "created_by", "created_at", "started_at", "finished_at",
}

// RunRepository persists allocation runs together with their assignments
// and exclusions.
type RunRepository struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{
		pool: pool,
		sb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a queued run.
func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	opts, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}

	sql, args, err := r.sb.Insert("runs").
		Columns("id", "status", "options", "students", "universities", "created_by").
		Values(run.ID, run.Status, opts, run.Students, run.Universities, nullableInt(run.CreatedBy)).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert run: %w", err)
	}

	return r.pool.QueryRow(ctx, sql, args...).Scan(&run.CreatedAt)
}

// MarkRunning moves a queued run to running. A run that was already
// picked up returns ErrRunNotQueued.
func (r *RunRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE runs SET status = $1, started_at = NOW()
		 WHERE id = $2 AND status = $3`,
		model.RunRunning, id, model.RunQueued,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotQueued
	}
	return nil
}

// MarkFailed records a run that could not produce an outcome.
func (r *RunRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = NOW()
		 WHERE id = $3`,
		model.RunFailed, reason, id,
	)
	return err
}

// FailStale fails every run that has been running since before cutoff
// and returns their ids.
func (r *RunRepository) FailStale(ctx context.Context, cutoff time.Time, reason string) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = NOW()
		 WHERE status = $3 AND started_at < $4
		 RETURNING id`,
		model.RunFailed, reason, model.RunRunning, cutoff,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// SaveOutcome stores the run summary, assignments and exclusions in one
// transaction. Saving twice replaces the earlier rows.
func (r *RunRepository) SaveOutcome(ctx context.Context, id uuid.UUID, out *model.Outcome) error {
	issues, err := json.Marshal(out.Issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE runs
		 SET status = $1, state = $2, solver_status = $3, termination = $4, objective = $5,
		     students = $6, universities = $7, eligible_pairs = $8, assigned = $9,
		     unplaceable = $10, issues = $11, solve_ms = $12, error = NULL,
		     started_at = COALESCE(started_at, NOW()), finished_at = NOW()
		 WHERE id = $13`,
		model.RunFinished, out.State, out.SolverStatus, out.Termination, out.Objective,
		out.Students, out.Universities, out.EligiblePairs, len(out.Assignments),
		out.Unplaceable, issues, out.SolveDuration.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}

	if _, err := tx.Exec(ctx, "DELETE FROM run_assignments WHERE run_id = $1", id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM run_exclusions WHERE run_id = $1", id); err != nil {
		return err
	}

	if len(out.Assignments) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"run_assignments"},
			[]string{"run_id", "student_id", "university_id", "slot", "score", "weighted_score"},
			pgx.CopyFromSlice(len(out.Assignments), func(i int) ([]any, error) {
				a := out.Assignments[i]
				return []any{id, a.StudentID, a.UniversityID, a.Slot, a.Score, a.WeightedScore}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy assignments: %w", err)
		}
	}

	if len(out.Exclusions) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"run_exclusions"},
			[]string{"run_id", "student_id", "university_id", "slot", "reason", "detail"},
			pgx.CopyFromSlice(len(out.Exclusions), func(i int) ([]any, error) {
				e := out.Exclusions[i]
				return []any{id, e.StudentID, e.UniversityID, e.Slot, string(e.Reason), e.Detail}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy exclusions: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves one run.
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	sql, args, err := r.sb.Select(runColumns...).
		From("runs").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get run: %w", err)
	}

	run, err := scanRun(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns runs matching the filter, newest first, plus the total count.
func (r *RunRepository) List(ctx context.Context, filter model.RunFilter, limit, offset int) ([]model.Run, int, error) {
	where := squirrel.And{}
	if filter.Status != "" {
		where = append(where, squirrel.Eq{"status": filter.Status})
	}
	if filter.State != "" {
		where = append(where, squirrel.Eq{"state": filter.State})
	}
	if filter.CreatedBy > 0 {
		where = append(where, squirrel.Eq{"created_by": filter.CreatedBy})
	}

	countSQL, countArgs, err := r.sb.Select("COUNT(*)").From("runs").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count runs: %w", err)
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sql, args, err := r.sb.Select(runColumns...).
		From("runs").
		Where(where).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list runs: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// ListAssignments returns a run's assignments ordered by university and
// student. An empty universityID returns all of them.
func (r *RunRepository) ListAssignments(ctx context.Context, runID uuid.UUID, universityID string) ([]model.Assignment, error) {
	q := r.sb.Select("student_id", "university_id", "slot", "score", "weighted_score").
		From("run_assignments").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("university_id", "student_id")
	if universityID != "" {
		q = q.Where(squirrel.Eq{"university_id": universityID})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list assignments: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Assignment{}
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.StudentID, &a.UniversityID, &a.Slot, &a.Score, &a.WeightedScore); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListExclusions returns a run's exclusions in insertion order, optionally
// narrowed to one reason.
func (r *RunRepository) ListExclusions(ctx context.Context, runID uuid.UUID, reason model.ExclusionReason) ([]model.Exclusion, error) {
	q := r.sb.Select("student_id", "university_id", "slot", "reason", "detail").
		From("run_exclusions").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("id")
	if reason != "" {
		q = q.Where(squirrel.Eq{"reason": string(reason)})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list exclusions: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Exclusion{}
	for rows.Next() {
		var e model.Exclusion
		var reason string
		if err := rows.Scan(&e.StudentID, &e.UniversityID, &e.Slot, &reason, &e.Detail); err != nil {
			return nil, err
		}
		e.Reason = model.ExclusionReason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanRun(row pgx.Row) (*model.Run, error) {
	var (
		run          model.Run
		opts         []byte
		issues       []byte
		state        *string
		solverStatus *string
		termination  *string
		runErr       *string
		createdBy    *int
	)
	err := row.Scan(
		&run.ID, &run.Status, &opts, &state, &solverStatus, &termination, &run.Objective,
		&run.Students, &run.Universities, &run.EligiblePairs, &run.Assigned, &run.Unplaceable, &issues, &run.SolveMillis,
		&runErr, &createdBy, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &run.Options); err != nil {
			return nil, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &run.Issues); err != nil {
			return nil, fmt.Errorf("decode issues: %w", err)
		}
	}
	if state != nil {
		run.State = model.OutcomeState(*state)
	}
	run.SolverStatus = deref(solverStatus)
	run.Termination = deref(termination)
	run.Error = deref(runErr)
	if createdBy != nil {
		run.CreatedBy = *createdBy
	}
	return &run, nil
}

func nullableInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
