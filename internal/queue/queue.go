// Package queue implements the per-cluster admission queues. Each cluster
// has one redis list of job ids; jobs wait there until the supervisor's
// admission tick finds capacity. The list holds ids only: the job record
// itself is hydrated from the database on pop, so a job deleted while
// queued simply vanishes.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/repositories"
)

// Queue is the set of per-cluster FIFO admission queues.
type Queue struct {
	rdb    *redis.Client
	jobs   repositories.JobRepository
	logger *zap.Logger
}

// New builds a Queue over redis and the job store.
func New(rdb *redis.Client, jobs repositories.JobRepository, logger *zap.Logger) *Queue {
	return &Queue{rdb: rdb, jobs: jobs, logger: logger.Named("queue")}
}

func queueKey(hpc string) string {
	return "job_queue:" + hpc
}

// Push appends a job id to its cluster's queue.
func (q *Queue) Push(ctx context.Context, hpc string, jobID uuid.UUID) error {
	if err := q.rdb.RPush(ctx, queueKey(hpc), jobID.String()).Err(); err != nil {
		return fmt.Errorf("queue: push %s: %w", hpc, err)
	}
	return nil
}

// Pop removes and hydrates the oldest queued job for a cluster. Returns
// (nil, nil) when the queue is empty. Ids whose job record no longer exists
// or cannot be parsed are skipped.
func (q *Queue) Pop(ctx context.Context, hpc string) (*db.Job, error) {
	for {
		raw, err := q.rdb.LPop(ctx, queueKey(hpc)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("queue: pop %s: %w", hpc, err)
		}

		jobID, err := uuid.Parse(raw)
		if err != nil {
			q.logger.Warn("discarding malformed queue entry", zap.String("hpc", hpc), zap.String("entry", raw))
			continue
		}

		job, err := q.jobs.GetByID(ctx, jobID)
		if errors.Is(err, repositories.ErrNotFound) {
			q.logger.Info("skipping vanished job", zap.String("hpc", hpc), zap.String("job", raw))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("queue: hydrate %s: %w", raw, err)
		}
		return job, nil
	}
}

// Peek returns the id at the head of a cluster's queue without removing it.
// The second return is false when the queue is empty.
func (q *Queue) Peek(ctx context.Context, hpc string) (uuid.UUID, bool, error) {
	raw, err := q.rdb.LIndex(ctx, queueKey(hpc), 0).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("queue: peek %s: %w", hpc, err)
	}

	jobID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("queue: peek %s: malformed entry %q", hpc, raw)
	}
	return jobID, true, nil
}

// Length reports the number of jobs waiting on a cluster's queue.
func (q *Queue) Length(ctx context.Context, hpc string) (int64, error) {
	n, err := q.rdb.LLen(ctx, queueKey(hpc)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: length %s: %w", hpc, err)
	}
	return n, nil
}

// IsEmpty reports whether a cluster's queue has no waiting jobs.
func (q *Queue) IsEmpty(ctx context.Context, hpc string) (bool, error) {
	n, err := q.Length(ctx, hpc)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
