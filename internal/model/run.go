package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a queued allocation run.
type RunStatus string

const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// Run is the persisted record of one allocation run.
type Run struct {
	ID            uuid.UUID         `json:"id"`
	Status        RunStatus         `json:"status"`
	Options       RunOptions        `json:"options"`
	State         OutcomeState      `json:"state,omitempty"`
	SolverStatus  string            `json:"solver_status,omitempty"`
	Termination   string            `json:"termination,omitempty"`
	Objective     float64           `json:"objective"`
	Students      int               `json:"students"`
	Universities  int               `json:"universities"`
	EligiblePairs int               `json:"eligible_pairs"`
	Assigned      int               `json:"assigned"`
	Unplaceable   []string          `json:"unplaceable,omitempty"`
	Issues        []ExtractionIssue `json:"issues,omitempty"`
	SolveMillis   int64             `json:"solve_ms"`
	Error         string            `json:"error,omitempty"`
	CreatedBy     int               `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
}

// Done reports whether the worker is finished with the run.
func (r *Run) Done() bool {
	return r.Status == RunFinished || r.Status == RunFailed
}

// RunInput is the payload of a submitted run.
type RunInput struct {
	Students     []Student    `json:"students" binding:"required,min=1,dive"`
	Universities []University `json:"universities" binding:"required,min=1,dive"`
	Options      RunOptions   `json:"options"`
}

// RunFilter narrows a run listing.
type RunFilter struct {
	Status    RunStatus    `form:"status" binding:"omitempty,oneof=queued running finished failed"`
	State     OutcomeState `form:"state" binding:"omitempty,oneof=optimal infeasible not_optimal"`
	CreatedBy int          `form:"created_by" binding:"omitempty,gte=1"`
	Page      int          `form:"page" binding:"omitempty,gte=1"`
	PerPage   int          `form:"per_page" binding:"omitempty,gte=1,lte=100"`
}

// RunEventType classifies progress notifications.
type RunEventType string

const (
	RunEventQueued   RunEventType = "queued"
	RunEventStarted  RunEventType = "started"
	RunEventFinished RunEventType = "finished"
	RunEventFailed   RunEventType = "failed"
)

// RunEvent is published on the run's events channel.
type RunEvent struct {
	RunID     uuid.UUID    `json:"run_id"`
	Type      RunEventType `json:"type"`
	State     OutcomeState `json:"state,omitempty"`
	Assigned  int          `json:"assigned,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// ScorePreviewRequest asks for scores without running the optimizer.
type ScorePreviewRequest struct {
	Scoring  ScoringStrategy `json:"scoring" binding:"omitempty,oneof=weighted simple"`
	Students []Student       `json:"students" binding:"required,min=1,dive"`
}

// ScorePreview is one student's computed score.
type ScorePreview struct {
	StudentID string  `json:"student_id"`
	Score     float64 `json:"score"`
}
