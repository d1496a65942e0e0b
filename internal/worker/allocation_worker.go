package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/service"
)

const (
	RunPollTimeout = 1 * time.Second
)

// RunExecutor executes queued runs and fails the ones a dead worker left
// behind. AllocationService satisfies it.
type RunExecutor interface {
	Execute(ctx context.Context, id uuid.UUID) error
	ReapStale(ctx context.Context) (int, error)
}

// AllocationWorker pops run jobs from Redis and executes them one at a
// time, so solves never overlap inside one process.
type AllocationWorker struct {
	exec RunExecutor
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewAllocationWorker(exec RunExecutor, rdb *redis.Client, log zerolog.Logger) *AllocationWorker {
	return &AllocationWorker{
		exec: exec,
		rdb:  rdb,
		log:  log.With().Str("component", "allocation_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop
// ----------------------------------------------------------------

func (w *AllocationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AllocationWorker started")
	w.reap(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested, AllocationWorker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, RunPollTimeout, config.WorkerKey.AllocationRunQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					// Back off so a dead Redis does not spin the loop.
					time.Sleep(RunPollTimeout)
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			w.handle(ctx, []byte(item[1]))
		}
	}
}

// reap fails runs left running by a worker that crashed. Errors are
// logged only; the queue still has to be served.
func (w *AllocationWorker) reap(ctx context.Context) {
	n, err := w.exec.ReapStale(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to reap stale runs")
		return
	}
	if n > 0 {
		w.log.Warn().Int("runs", n).Msg("Stale runs marked failed")
	}
}

// handle decodes and executes one job. A panic inside the solver must not
// take the worker down.
func (w *AllocationWorker) handle(ctx context.Context, raw []byte) {
	job, err := decodeJob(raw)
	if err != nil {
		w.log.Error().Err(err).Msg("Invalid job payload")
		return
	}

	log := w.log.With().Str("run_id", job.RunID.String()).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Run panicked")
		}
	}()

	start := time.Now()
	if err := w.exec.Execute(ctx, job.RunID); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Run failed")
		return
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("Run processed")
}

func decodeJob(raw []byte) (service.RunJob, error) {
	var job service.RunJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return job, err
	}
	if job.RunID == uuid.Nil {
		return job, errors.New("missing run_id")
	}
	return job, nil
}
