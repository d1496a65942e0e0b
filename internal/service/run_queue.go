package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exchange-allocator/internal/config"
	"github.com/stemsi/exchange-allocator/internal/model"
)

var (
	ErrInputExpired     = errors.New("staged run input is missing or expired")
	ErrOutcomeNotCached = errors.New("run outcome is not cached")
)

// RunJob is the payload pushed onto the allocation queue.
type RunJob struct {
	RunID uuid.UUID `json:"run_id"`
}

// RedisRunQueue stages run inputs, queues jobs, caches outcomes and fans
// out progress events through Redis.
type RedisRunQueue struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRunQueue creates a queue whose staged data expires after ttl.
func NewRedisRunQueue(rdb *redis.Client, ttl time.Duration) *RedisRunQueue {
	return &RedisRunQueue{rdb: rdb, ttl: ttl}
}

// StageInput stores the run payload for the worker.
func (q *RedisRunQueue) StageInput(ctx context.Context, id uuid.UUID, in *model.RunInput) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	return q.rdb.Set(ctx, config.CacheKey.RunInputKey(id.String()), raw, q.ttl).Err()
}

// LoadInput fetches a staged run payload.
func (q *RedisRunQueue) LoadInput(ctx context.Context, id uuid.UUID) (*model.RunInput, error) {
	raw, err := q.rdb.Get(ctx, config.CacheKey.RunInputKey(id.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInputExpired
		}
		return nil, err
	}
	var in model.RunInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return &in, nil
}

// DropInput removes a staged payload once the run is persisted.
func (q *RedisRunQueue) DropInput(ctx context.Context, id uuid.UUID) error {
	return q.rdb.Del(ctx, config.CacheKey.RunInputKey(id.String())).Err()
}

// Enqueue pushes a job for the allocation worker.
func (q *RedisRunQueue) Enqueue(ctx context.Context, id uuid.UUID) error {
	raw, _ := json.Marshal(RunJob{RunID: id})
	return q.rdb.RPush(ctx, config.WorkerKey.AllocationRunQueue, raw).Err()
}

// CacheOutcome keeps the full outcome, including fields that are not
// persisted, for the configured TTL.
func (q *RedisRunQueue) CacheOutcome(ctx context.Context, id uuid.UUID, out *model.Outcome) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return q.rdb.Set(ctx, config.CacheKey.RunOutcomeKey(id.String()), raw, q.ttl).Err()
}

// LoadOutcome returns a cached outcome or ErrOutcomeNotCached.
func (q *RedisRunQueue) LoadOutcome(ctx context.Context, id uuid.UUID) (*model.Outcome, error) {
	raw, err := q.rdb.Get(ctx, config.CacheKey.RunOutcomeKey(id.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOutcomeNotCached
		}
		return nil, err
	}
	var out model.Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode outcome: %w", err)
	}
	return &out, nil
}

// Publish sends a progress event to the run's channel.
func (q *RedisRunQueue) Publish(ctx context.Context, ev model.RunEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.rdb.Publish(ctx, config.CacheKey.RunEventsChannel(ev.RunID.String()), raw).Err()
}

// Subscribe streams the run's progress events until ctx is done or the
// returned close func is called. Undecodable messages are dropped.
func (q *RedisRunQueue) Subscribe(ctx context.Context, id uuid.UUID) (<-chan model.RunEvent, func() error, error) {
	pubsub := q.rdb.Subscribe(ctx, config.CacheKey.RunEventsChannel(id.String()))
	// Wait for the subscription confirmation so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe run events: %w", err)
	}

	events := make(chan model.RunEvent, 8)
	go func() {
		defer close(events)
		for msg := range pubsub.Channel() {
			var ev model.RunEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, pubsub.Close, nil
}

// Depth returns the number of jobs waiting on the allocation queue.
func (q *RedisRunQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, config.WorkerKey.AllocationRunQueue).Result()
}
