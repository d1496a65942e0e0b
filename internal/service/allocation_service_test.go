package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/allocation"
	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/export"
	"github.com/stemsi/exchange-allocator/internal/model"
	"github.com/stemsi/exchange-allocator/internal/repository"
	"github.com/stemsi/exchange-allocator/internal/scoring"
)

// ─── Fakes ──────────────────────────────────────────────────────────────

type fakeStore struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*model.Run
	outcomes    map[uuid.UUID]*model.Outcome
	listFilter  model.RunFilter
	listLimit   int
	listOffset  int
	failReasons map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:        map[uuid.UUID]*model.Run{},
		outcomes:    map[uuid.UUID]*model.Outcome{},
		failReasons: map[uuid.UUID]string{},
	}
}

func (f *fakeStore) Create(_ context.Context, run *model.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.CreatedAt = time.Now()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok || run.Status != model.RunQueued {
		return repository.ErrRunNotQueued
	}
	run.Status = model.RunRunning
	now := time.Now()
	run.StartedAt = &now
	return nil
}

func (f *fakeStore) FailStale(_ context.Context, cutoff time.Time, reason string) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, run := range f.runs {
		if run.Status == model.RunRunning && run.StartedAt != nil && run.StartedAt.Before(cutoff) {
			run.Status = model.RunFailed
			run.Error = reason
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReasons[id] = reason
	if run, ok := f.runs[id]; ok {
		run.Status = model.RunFailed
		run.Error = reason
	}
	return nil
}

func (f *fakeStore) SaveOutcome(_ context.Context, id uuid.UUID, out *model.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return repository.ErrRunNotFound
	}
	run.Status = model.RunFinished
	run.State = out.State
	run.SolverStatus = out.SolverStatus
	run.Termination = out.Termination
	run.Objective = out.Objective
	run.Assigned = len(out.Assignments)
	run.EligiblePairs = out.EligiblePairs
	run.Unplaceable = out.Unplaceable
	run.Issues = out.Issues
	f.outcomes[id] = out
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, filter model.RunFilter, limit, offset int) ([]model.Run, int, error) {
	f.listFilter, f.listLimit, f.listOffset = filter, limit, offset
	return []model.Run{}, 0, nil
}

func (f *fakeStore) ListAssignments(_ context.Context, id uuid.UUID, universityID string) ([]model.Assignment, error) {
	out := []model.Assignment{}
	if o, ok := f.outcomes[id]; ok {
		for _, a := range o.Assignments {
			if universityID == "" || a.UniversityID == universityID {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListExclusions(_ context.Context, id uuid.UUID, _ model.ExclusionReason) ([]model.Exclusion, error) {
	if o, ok := f.outcomes[id]; ok {
		return o.Exclusions, nil
	}
	return []model.Exclusion{}, nil
}

type fakeQueue struct {
	mu         sync.Mutex
	inputs     map[uuid.UUID]*model.RunInput
	outcomes   map[uuid.UUID]*model.Outcome
	jobs       []uuid.UUID
	events     []model.RunEvent
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		inputs:   map[uuid.UUID]*model.RunInput{},
		outcomes: map[uuid.UUID]*model.Outcome{},
	}
}

func (q *fakeQueue) StageInput(_ context.Context, id uuid.UUID, in *model.RunInput) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inputs[id] = in
	return nil
}

func (q *fakeQueue) LoadInput(_ context.Context, id uuid.UUID) (*model.RunInput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	in, ok := q.inputs[id]
	if !ok {
		return nil, ErrInputExpired
	}
	return in, nil
}

func (q *fakeQueue) DropInput(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inputs, id)
	return nil
}

func (q *fakeQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.jobs = append(q.jobs, id)
	return nil
}

func (q *fakeQueue) CacheOutcome(_ context.Context, id uuid.UUID, out *model.Outcome) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outcomes[id] = out
	return nil
}

func (q *fakeQueue) LoadOutcome(_ context.Context, id uuid.UUID) (*model.Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out, ok := q.outcomes[id]
	if !ok {
		return nil, ErrOutcomeNotCached
	}
	return out, nil
}

func (q *fakeQueue) Publish(_ context.Context, ev model.RunEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

func (q *fakeQueue) eventTypes() []model.RunEventType {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.RunEventType, len(q.events))
	for i, ev := range q.events {
		out[i] = ev.Type
	}
	return out
}

// ─── Fixtures ───────────────────────────────────────────────────────────

func testInput() *model.RunInput {
	return &model.RunInput{
		Students: []model.Student{
			{ID: "s1", Grade: 1.0, Motivation: 1, Language: "C1", CV: 1, Formalities: 1, Level: model.LevelBachelor, Credits: 90, Program: "07", Semester: model.SemesterWinter, Preferences: []string{"Lyon", "Turin"}},
			{ID: "s2", Grade: 1.5, Motivation: 2, Language: "B2", CV: 2, Formalities: 1, Level: model.LevelBachelor, Credits: 120, Program: "7", Semester: model.SemesterWinter, Preferences: []string{"Lyon", "Oslo"}},
			{ID: "s3", Grade: 2.0, Motivation: 1, Language: "C2", CV: 1, Formalities: 2, Level: model.LevelMaster, Credits: 30, Program: "07", Semester: model.SemesterSummer, Preferences: []string{"Lyon"}},
		},
		Universities: []model.University{
			{ID: "Lyon", Status: model.UniversityActive, MaxBachelor: model.IntPtr(1), MaxMaster: model.IntPtr(1), MaxCombined: model.IntPtr(2), Programs: map[string]bool{"07": true}, BalanceSemesters: true},
			{ID: "Oslo", Status: model.UniversityPaused, MaxCombined: model.IntPtr(3), Programs: map[string]bool{"07": true}},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		ScoringStrategy:   string(model.ScoringWeighted),
		PlacementMode:     string(model.PlacementBestEffort),
		AllocationVariant: string(model.VariantPreferences),
		SolverBackend:     string(model.SolverBranchAndBound),
		SolverTimeout:     10 * time.Second,
	}
}

func newTestService() (*AllocationService, *fakeStore, *fakeQueue) {
	store := newFakeStore()
	queue := newFakeQueue()
	svc := NewAllocationService(store, queue, testConfig(), scoring.DefaultProfile(), zerolog.Nop())
	return svc, store, queue
}

// ─── Tests ──────────────────────────────────────────────────────────────

func TestSubmitQueuesRun(t *testing.T) {
	svc, store, queue := newTestService()

	run, err := svc.Submit(context.Background(), 7, testInput())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if run.Status != model.RunQueued {
		t.Errorf("status = %s, want queued", run.Status)
	}
	if run.Options != svc.Defaults() {
		t.Errorf("options = %+v, want defaults %+v", run.Options, svc.Defaults())
	}
	if run.Students != 3 || run.Universities != 2 || run.CreatedBy != 7 {
		t.Errorf("unexpected run counters: %+v", run)
	}
	if _, ok := store.runs[run.ID]; !ok {
		t.Error("run not persisted")
	}
	if _, ok := queue.inputs[run.ID]; !ok {
		t.Error("input not staged")
	}
	if len(queue.jobs) != 1 || queue.jobs[0] != run.ID {
		t.Errorf("jobs = %v", queue.jobs)
	}
	if got := queue.eventTypes(); len(got) != 1 || got[0] != model.RunEventQueued {
		t.Errorf("events = %v", got)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *model.RunInput)
		want   error
	}{
		{
			name:   "unknown mode",
			mutate: func(in *model.RunInput) { in.Options.Mode = "sideways" },
			want:   ErrInvalidRunOptions,
		},
		{
			name:   "unknown scoring",
			mutate: func(in *model.RunInput) { in.Options.Scoring = "astrology" },
			want:   ErrInvalidRunOptions,
		},
		{
			name:   "duplicate student",
			mutate: func(in *model.RunInput) { in.Students = append(in.Students, in.Students[0]) },
			want:   allocation.ErrDuplicateStudent,
		},
		{
			name:   "duplicate university",
			mutate: func(in *model.RunInput) { in.Universities = append(in.Universities, in.Universities[0]) },
			want:   allocation.ErrDuplicateUniversity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, queue := newTestService()
			in := testInput()
			tt.mutate(in)

			_, err := svc.Submit(context.Background(), 1, in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(store.runs) != 0 || len(queue.jobs) != 0 {
				t.Error("rejected run must not be persisted or queued")
			}
		})
	}
}

func TestSubmitEnqueueFailureMarksRunFailed(t *testing.T) {
	svc, store, queue := newTestService()
	queue.enqueueErr = errors.New("connection refused")

	_, err := svc.Submit(context.Background(), 1, testInput())
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("err = %v, want ErrQueueUnavailable", err)
	}
	if len(store.failReasons) != 1 {
		t.Errorf("expected the run to be marked failed, got %v", store.failReasons)
	}
}

func TestExecuteRunsAllocation(t *testing.T) {
	svc, store, queue := newTestService()
	ctx := context.Background()

	run, err := svc.Submit(ctx, 1, testInput())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Execute(ctx, run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := store.GetByID(ctx, run.ID)
	if got.Status != model.RunFinished || got.State != model.OutcomeOptimal {
		t.Fatalf("run = %s/%s, want finished/optimal", got.Status, got.State)
	}

	assignments, err := svc.Assignments(ctx, run.ID, "")
	if err != nil {
		t.Fatalf("Assignments: %v", err)
	}
	placed := map[string]string{}
	for _, a := range assignments {
		placed[a.StudentID] = a.UniversityID
	}
	// Lyon takes one bachelor and one master; s2 is left with a paused
	// second choice and Turin is not offered at all.
	want := map[string]string{"s1": "Lyon", "s3": "Lyon"}
	if len(placed) != len(want) {
		t.Fatalf("assignments = %v, want %v", placed, want)
	}
	for s, u := range want {
		if placed[s] != u {
			t.Errorf("%s placed at %q, want %q", s, placed[s], u)
		}
	}

	if _, ok := queue.inputs[run.ID]; ok {
		t.Error("staged input should be dropped after a successful run")
	}
	if _, ok := queue.outcomes[run.ID]; !ok {
		t.Error("outcome should be cached")
	}
	types := queue.eventTypes()
	wantTypes := []model.RunEventType{model.RunEventQueued, model.RunEventStarted, model.RunEventFinished}
	if len(types) != len(wantTypes) {
		t.Fatalf("events = %v, want %v", types, wantTypes)
	}
	for i := range wantTypes {
		if types[i] != wantTypes[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], wantTypes[i])
		}
	}
}

func TestExecuteSkipsRedelivery(t *testing.T) {
	svc, _, queue := newTestService()
	ctx := context.Background()

	run, _ := svc.Submit(ctx, 1, testInput())
	if err := svc.Execute(ctx, run.ID); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	before := len(queue.events)
	if err := svc.Execute(ctx, run.ID); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if len(queue.events) != before {
		t.Error("redelivered job must not publish events")
	}
}

func TestExecuteMissingInputFailsRun(t *testing.T) {
	svc, store, queue := newTestService()
	ctx := context.Background()

	run, _ := svc.Submit(ctx, 1, testInput())
	delete(queue.inputs, run.ID)

	err := svc.Execute(ctx, run.ID)
	if !errors.Is(err, ErrInputExpired) {
		t.Fatalf("err = %v, want ErrInputExpired", err)
	}
	got, _ := store.GetByID(ctx, run.ID)
	if got.Status != model.RunFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	types := queue.eventTypes()
	if types[len(types)-1] != model.RunEventFailed {
		t.Errorf("last event = %s, want failed", types[len(types)-1])
	}

	if _, err := svc.Assignments(ctx, run.ID, ""); !errors.Is(err, ErrRunFailed) {
		t.Errorf("Assignments on failed run: err = %v, want ErrRunFailed", err)
	}
}

func TestResultsRequireFinishedRun(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	run, _ := svc.Submit(ctx, 1, testInput())
	if _, err := svc.Assignments(ctx, run.ID, ""); !errors.Is(err, ErrRunNotFinished) {
		t.Errorf("err = %v, want ErrRunNotFinished", err)
	}
	if err := svc.Export(ctx, run.ID, FormatCSV, &bytes.Buffer{}); !errors.Is(err, ErrRunNotFinished) {
		t.Errorf("export err = %v, want ErrRunNotFinished", err)
	}
	if _, err := svc.Get(ctx, uuid.New()); !errors.Is(err, repository.ErrRunNotFound) {
		t.Errorf("Get unknown: err = %v, want ErrRunNotFound", err)
	}
}

func TestExportCSV(t *testing.T) {
	svc, _, queue := newTestService()
	ctx := context.Background()

	run, _ := svc.Submit(ctx, 1, testInput())
	if err := svc.Execute(ctx, run.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Force the database path.
	delete(queue.outcomes, run.ID)

	var buf bytes.Buffer
	if err := svc.Export(ctx, run.ID, FormatCSV, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d csv rows, want header + 2", len(records))
	}
	if records[0][0] != "Matrikelnummer" {
		t.Errorf("header = %v", records[0])
	}

	if err := svc.Export(ctx, run.ID, "pdf", &buf); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("err = %v, want ErrUnknownFormat", err)
	}
}

func TestExportRefusesNonOptimal(t *testing.T) {
	svc, store, queue := newTestService()
	ctx := context.Background()

	run, _ := svc.Submit(ctx, 1, testInput())
	_ = store.MarkRunning(ctx, run.ID)
	out := &model.Outcome{State: model.OutcomeInfeasible}
	_ = store.SaveOutcome(ctx, run.ID, out)
	_ = queue.CacheOutcome(ctx, run.ID, out)

	err := svc.Export(ctx, run.ID, FormatXLSX, &bytes.Buffer{})
	if !errors.Is(err, export.ErrNotExportable) {
		t.Fatalf("err = %v, want ErrNotExportable", err)
	}
}

func TestListDefaultsPaging(t *testing.T) {
	svc, store, _ := newTestService()

	if _, _, err := svc.List(context.Background(), model.RunFilter{}); err != nil {
		t.Fatalf("List: %v", err)
	}
	if store.listLimit != defaultPerPage || store.listOffset != 0 {
		t.Errorf("limit/offset = %d/%d", store.listLimit, store.listOffset)
	}

	_, _, _ = svc.List(context.Background(), model.RunFilter{Page: 3, PerPage: 10, Status: model.RunFinished})
	if store.listLimit != 10 || store.listOffset != 20 {
		t.Errorf("limit/offset = %d/%d, want 10/20", store.listLimit, store.listOffset)
	}
	if store.listFilter.Status != model.RunFinished {
		t.Errorf("filter not forwarded: %+v", store.listFilter)
	}
}

func TestPreviewScores(t *testing.T) {
	svc, _, _ := newTestService()
	in := testInput()

	scores, err := svc.PreviewScores("", in.Students)
	if err != nil {
		t.Fatalf("PreviewScores: %v", err)
	}
	if len(scores) != len(in.Students) {
		t.Fatalf("got %d scores", len(scores))
	}
	for i, sc := range scores {
		if sc.StudentID != in.Students[i].ID {
			t.Errorf("order changed at %d: %s", i, sc.StudentID)
		}
		if sc.Score < 0 || sc.Score > 1 {
			t.Errorf("%s: score %v out of range", sc.StudentID, sc.Score)
		}
	}

	if _, err := svc.PreviewScores("astrology", in.Students); !errors.Is(err, ErrInvalidRunOptions) {
		t.Errorf("err = %v, want ErrInvalidRunOptions", err)
	}
}

func TestRecordStoresLocalOutcome(t *testing.T) {
	svc, store, queue := newTestService()
	ctx := context.Background()
	in := testInput()

	alloc, err := svc.NewAllocator(model.RunOptions{})
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	out, err := alloc.Run(ctx, in.Students, in.Universities)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	run, err := svc.Record(ctx, out)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if run.Status != model.RunFinished || run.CreatedBy != 0 {
		t.Errorf("run = %s created_by=%d, want finished with no admin", run.Status, run.CreatedBy)
	}
	if run.Assigned != 2 {
		t.Errorf("assigned = %d, want 2", run.Assigned)
	}
	if _, ok := store.outcomes[run.ID]; !ok {
		t.Error("outcome rows were not saved")
	}
	if len(queue.jobs) != 0 || len(queue.events) != 0 {
		t.Error("recording a local run must not touch the queue")
	}
}

func TestOutcomeRebuiltFromStoreKeepsIssues(t *testing.T) {
	svc, store, queue := newTestService()
	ctx := context.Background()

	run, _ := svc.Submit(ctx, 1, testInput())
	_ = store.MarkRunning(ctx, run.ID)
	saved := &model.Outcome{
		State:       model.OutcomeOptimal,
		Assignments: []model.Assignment{{StudentID: "s1", UniversityID: "Lyon", Slot: 1}},
		Issues:      []model.ExtractionIssue{{StudentID: "s2", UniversityID: "Lyon", Detail: "no value for pair"}},
	}
	if err := store.SaveOutcome(ctx, run.ID, saved); err != nil {
		t.Fatalf("SaveOutcome: %v", err)
	}
	// Nothing cached: the outcome comes from the store.
	delete(queue.outcomes, run.ID)

	out, err := svc.Outcome(ctx, run.ID)
	if err != nil {
		t.Fatalf("Outcome: %v", err)
	}
	if len(out.Issues) != 1 || out.Issues[0].StudentID != "s2" {
		t.Errorf("issues = %+v, want the stored issue", out.Issues)
	}
	if len(out.Assignments) != 1 {
		t.Errorf("assignments = %+v", out.Assignments)
	}
}

func TestReapStaleFailsAbandonedRuns(t *testing.T) {
	svc, store, queue := newTestService()
	ctx := context.Background()

	abandoned, _ := svc.Submit(ctx, 1, testInput())
	live, _ := svc.Submit(ctx, 1, testInput())
	queued, _ := svc.Submit(ctx, 1, testInput())
	_ = store.MarkRunning(ctx, abandoned.ID)
	_ = store.MarkRunning(ctx, live.ID)
	longAgo := time.Now().Add(-time.Hour)
	store.runs[abandoned.ID].StartedAt = &longAgo

	n, err := svc.ReapStale(ctx)
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d runs, want 1", n)
	}

	want := map[uuid.UUID]model.RunStatus{
		abandoned.ID: model.RunFailed,
		live.ID:      model.RunRunning,
		queued.ID:    model.RunQueued,
	}
	for id, status := range want {
		got, _ := store.GetByID(ctx, id)
		if got.Status != status {
			t.Errorf("run %s status = %s, want %s", id, got.Status, status)
		}
	}

	types := queue.eventTypes()
	if last := queue.events[len(queue.events)-1]; types[len(types)-1] != model.RunEventFailed || last.RunID != abandoned.ID {
		t.Errorf("last event = %+v, want failed for the abandoned run", last)
	}
}
