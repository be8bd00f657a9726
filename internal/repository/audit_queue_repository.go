package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-exam/internal/config"
	"github.com/stemsi/cbt-exam/internal/model"
)

// AuditQueueRepository pushes exam audit events onto the Redis list drained by the audit worker.
type AuditQueueRepository struct {
	rdb *redis.Client
}

// NewAuditQueueRepository creates a new AuditQueueRepository.
func NewAuditQueueRepository(rdb *redis.Client) *AuditQueueRepository {
	return &AuditQueueRepository{rdb: rdb}
}

// Publish enqueues one event.
func (r *AuditQueueRepository) Publish(ctx context.Context, ev model.ExamAuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return r.rdb.RPush(ctx, config.WorkerKey.PersistExamAuditQueue, data).Err()
}

// Len reports the number of events waiting to be persisted.
func (r *AuditQueueRepository) Len(ctx context.Context) (int64, error) {
	return r.rdb.LLen(ctx, config.WorkerKey.PersistExamAuditQueue).Result()
}

// Pop blocks up to timeout for the next raw event. ok is false when the wait timed out.
func (r *AuditQueueRepository) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	result, err := r.rdb.BLPop(ctx, timeout, config.WorkerKey.PersistExamAuditQueue).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if len(result) < 2 {
		return "", false, nil
	}
	return result[1], true, nil
}

// TryPop returns the next raw event without blocking.
func (r *AuditQueueRepository) TryPop(ctx context.Context) (string, bool, error) {
	raw, err := r.rdb.LPop(ctx, config.WorkerKey.PersistExamAuditQueue).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return raw, true, nil
}

// Requeue appends a raw event back to the tail of the queue for a later retry.
func (r *AuditQueueRepository) Requeue(ctx context.Context, raw string) error {
	return r.rdb.RPush(ctx, config.WorkerKey.PersistExamAuditQueue, raw).Err()
}

// DeadLetter parks a raw event the worker will not retry.
func (r *AuditQueueRepository) DeadLetter(ctx context.Context, raw string) error {
	return r.rdb.RPush(ctx, config.WorkerKey.ExamAuditDeadLetter, raw).Err()
}

// DeadLetterLen reports the number of parked events.
func (r *AuditQueueRepository) DeadLetterLen(ctx context.Context) (int64, error) {
	return r.rdb.LLen(ctx, config.WorkerKey.ExamAuditDeadLetter).Result()
}
