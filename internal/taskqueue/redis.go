package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisQueueKey   = "agora:tasks"
	redisPopTimeout = 5 * time.Second
)

// RedisQueue pushes task envelopes onto a redis list and consumes them
// with a blocking pop loop.
type RedisQueue struct {
	client   *redis.Client
	registry *Registry
	log      *zap.Logger
}

func NewRedisQueue(client *redis.Client, registry *Registry, log *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client:   client,
		registry: registry,
		log:      log.Named("taskqueue.redis"),
	}
}

func (q *RedisQueue) Submit(ctx context.Context, name string, payload map[string]any) error {
	task := Task{
		ID:      ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String(),
		Name:    name,
		Payload: payload,
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, redisQueueKey, raw).Err()
}

// Run consumes tasks until the context is cancelled.
func (q *RedisQueue) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := q.client.BRPop(ctx, redisPopTimeout, redisQueueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			q.log.Warn("pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			q.log.Error("malformed task envelope", zap.Error(err))
			continue
		}

		q.process(ctx, task)
	}
}

func (q *RedisQueue) process(ctx context.Context, task Task) {
	handler, ok := q.registry.Lookup(task.Name)
	if !ok {
		q.log.Error("no handler registered", zap.String("task", task.Name))
		return
	}

	if err := handler(ctx, task); err != nil {
		task.Attempts++
		if task.Attempts >= defaultMaxAttempts {
			q.log.Error("task dropped after retries",
				zap.String("task", task.Name),
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
			return
		}
		raw, merr := json.Marshal(task)
		if merr != nil {
			q.log.Error("requeue marshal failed", zap.Error(merr))
			return
		}
		if perr := q.client.LPush(ctx, redisQueueKey, raw).Err(); perr != nil {
			q.log.Error("requeue failed", zap.String("task_id", task.ID), zap.Error(perr))
		}
	}
}
