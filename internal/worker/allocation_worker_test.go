package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type recordingExecutor struct {
	ids     []uuid.UUID
	err     error
	panic   bool
	reaped  int
	reapErr error
}

func (r *recordingExecutor) Execute(_ context.Context, id uuid.UUID) error {
	r.ids = append(r.ids, id)
	if r.panic {
		panic("solver exploded")
	}
	return r.err
}

func (r *recordingExecutor) ReapStale(context.Context) (int, error) {
	r.reaped++
	return 2, r.reapErr
}

func TestDecodeJob(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"run_id":"` + id.String() + `"}`, false},
		{"missing id", `{}`, true},
		{"garbage", `not json`, true},
		{"bad uuid", `{"run_id":"nope"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := decodeJob([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && job.RunID != id {
				t.Errorf("run id = %s, want %s", job.RunID, id)
			}
		})
	}
}

func TestHandleExecutesJob(t *testing.T) {
	exec := &recordingExecutor{}
	w := NewAllocationWorker(exec, nil, zerolog.Nop())
	id := uuid.New()

	w.handle(context.Background(), []byte(`{"run_id":"`+id.String()+`"}`))
	if len(exec.ids) != 1 || exec.ids[0] != id {
		t.Fatalf("executed %v, want [%s]", exec.ids, id)
	}

	w.handle(context.Background(), []byte(`{}`))
	if len(exec.ids) != 1 {
		t.Error("invalid payload must not be executed")
	}
}

func TestHandleSurvivesFailures(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("boom")}
	w := NewAllocationWorker(exec, nil, zerolog.Nop())
	w.handle(context.Background(), []byte(`{"run_id":"`+uuid.New().String()+`"}`))

	exec.panic = true
	w.handle(context.Background(), []byte(`{"run_id":"`+uuid.New().String()+`"}`))
	if len(exec.ids) != 2 {
		t.Errorf("executed %d jobs, want 2", len(exec.ids))
	}
}

func TestStartReapsStaleRuns(t *testing.T) {
	tests := []struct {
		name    string
		reapErr error
	}{
		{"swept", nil},
		{"store down", errors.New("conn refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &recordingExecutor{reapErr: tt.reapErr}
			w := NewAllocationWorker(exec, nil, zerolog.Nop())

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			w.Start(ctx)

			if exec.reaped != 1 {
				t.Errorf("ReapStale called %d times, want 1", exec.reaped)
			}
			if len(exec.ids) != 0 {
				t.Errorf("executed %v after shutdown", exec.ids)
			}
		})
	}
}
