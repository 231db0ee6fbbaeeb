package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookline/dispatch"
)

// compile-time interface check
var _ dispatch.Queue = (*Queue)(nil)

// Queue implements dispatch.Queue on a Redis sorted set. The member is the
// serialized job, the score is its NotBefore time, so ready jobs are a score
// range query and delayed jobs cost nothing until they mature.
type Queue struct {
	rdb goredis.UniversalClient
}

// NewQueue wraps a Redis client as a dispatch queue.
func NewQueue(rdb goredis.UniversalClient) *Queue {
	return &Queue{rdb: rdb}
}

// Push appends a job, scored by its NotBefore time.
func (q *Queue) Push(ctx context.Context, job *dispatch.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("hookline/redis: marshal job: %w", err)
	}
	return q.rdb.ZAdd(ctx, zDispatchReady, goredis.Z{
		Score:  scoreFromTime(job.NotBefore),
		Member: raw,
	}).Err()
}

// Pop removes and returns the most overdue ready job. ZRem is the claim: a
// competing consumer that grabs the same member first wins, and we move on to
// the next candidate.
func (q *Queue) Pop(ctx context.Context, now time.Time) (*dispatch.Job, error) {
	members, err := q.rdb.ZRangeByScore(ctx, zDispatchReady, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(scoreFromTime(now), 'f', -1, 64),
		Count: 8,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, zDispatchReady, member).Result()
		if err != nil {
			return nil, err
		}
		if removed == 0 {
			continue
		}

		job := new(dispatch.Job)
		if err := json.Unmarshal([]byte(member), job); err != nil {
			return nil, fmt.Errorf("hookline/redis: decode job: %w", err)
		}
		return job, nil
	}
	return nil, dispatch.ErrQueueEmpty
}

// Len returns the number of queued jobs, ready or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, zDispatchReady).Result()
	return int(n), err
}

// Close is a no-op; the Redis client is owned by the caller.
func (q *Queue) Close() error {
	return nil
}

// scoreFromTime converts a time.Time to a sorted set score (unix seconds as float64).
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
