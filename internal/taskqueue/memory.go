package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// MemoryQueue is an in-process queue. Tasks are buffered until Drain is
// called, which mirrors the commit-then-execute contract of the redis
// queue without a broker.
type MemoryQueue struct {
	mu       sync.Mutex
	tasks    []Task
	registry *Registry
	log      *zap.Logger
}

func NewMemoryQueue(registry *Registry, log *zap.Logger) *MemoryQueue {
	return &MemoryQueue{
		registry: registry,
		log:      log.Named("taskqueue.memory"),
	}
}

func (q *MemoryQueue) Submit(ctx context.Context, name string, payload map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, Task{
		ID:      ulid.MustNew(ulid.Timestamp(time.Now()), ulid.DefaultEntropy()).String(),
		Name:    name,
		Payload: payload,
	})
	return nil
}

// Drain runs every buffered task to completion, requeueing failures up
// to the attempt budget. New tasks submitted by handlers are also run.
func (q *MemoryQueue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return nil
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		handler, ok := q.registry.Lookup(task.Name)
		if !ok {
			q.log.Error("no handler registered", zap.String("task", task.Name))
			continue
		}

		if err := handler(ctx, task); err != nil {
			task.Attempts++
			if task.Attempts >= defaultMaxAttempts {
				q.log.Error("task dropped after retries",
					zap.String("task", task.Name),
					zap.String("task_id", task.ID),
					zap.Error(err),
				)
				continue
			}
			q.mu.Lock()
			q.tasks = append(q.tasks, task)
			q.mu.Unlock()
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Pending returns the number of buffered tasks.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
